package keygatev1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "keygate.v1.Activation"

// Full method names.
const (
	Activation_KeyExchange_FullMethodName    = "/" + ServiceName + "/KeyExchange"
	Activation_Activate_FullMethodName       = "/" + ServiceName + "/Activate"
	Activation_Reauthenticate_FullMethodName = "/" + ServiceName + "/Reauthenticate"
)

// ActivationClient is the client API for the Activation service.
type ActivationClient interface {
	KeyExchange(ctx context.Context, in *KeyExchangeRequest, opts ...grpc.CallOption) (*KeyExchangeResponse, error)
	Activate(ctx context.Context, in *ActivateRequest, opts ...grpc.CallOption) (*ActivateResponse, error)
	Reauthenticate(ctx context.Context, in *ReauthenticateRequest, opts ...grpc.CallOption) (*ActivateResponse, error)
}

type activationClient struct {
	cc grpc.ClientConnInterface
}

// NewActivationClient returns a client that always negotiates the JSON codec.
func NewActivationClient(cc grpc.ClientConnInterface) ActivationClient {
	return &activationClient{cc: cc}
}

func callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *activationClient) KeyExchange(ctx context.Context, in *KeyExchangeRequest, opts ...grpc.CallOption) (*KeyExchangeResponse, error) {
	out := new(KeyExchangeResponse)
	if err := c.cc.Invoke(ctx, Activation_KeyExchange_FullMethodName, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *activationClient) Activate(ctx context.Context, in *ActivateRequest, opts ...grpc.CallOption) (*ActivateResponse, error) {
	out := new(ActivateResponse)
	if err := c.cc.Invoke(ctx, Activation_Activate_FullMethodName, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *activationClient) Reauthenticate(ctx context.Context, in *ReauthenticateRequest, opts ...grpc.CallOption) (*ActivateResponse, error) {
	out := new(ActivateResponse)
	if err := c.cc.Invoke(ctx, Activation_Reauthenticate_FullMethodName, in, out, callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// ActivationServer is the server API for the Activation service.
type ActivationServer interface {
	KeyExchange(context.Context, *KeyExchangeRequest) (*KeyExchangeResponse, error)
	Activate(context.Context, *ActivateRequest) (*ActivateResponse, error)
	Reauthenticate(context.Context, *ReauthenticateRequest) (*ActivateResponse, error)
}

// UnimplementedActivationServer can be embedded for forward compatibility.
type UnimplementedActivationServer struct{}

func (UnimplementedActivationServer) KeyExchange(context.Context, *KeyExchangeRequest) (*KeyExchangeResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method KeyExchange not implemented")
}
func (UnimplementedActivationServer) Activate(context.Context, *ActivateRequest) (*ActivateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Activate not implemented")
}
func (UnimplementedActivationServer) Reauthenticate(context.Context, *ReauthenticateRequest) (*ActivateResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Reauthenticate not implemented")
}

// RegisterActivationServer registers srv on s.
func RegisterActivationServer(s grpc.ServiceRegistrar, srv ActivationServer) {
	s.RegisterService(&Activation_ServiceDesc, srv)
}

func _Activation_KeyExchange_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(KeyExchangeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ActivationServer).KeyExchange(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Activation_KeyExchange_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ActivationServer).KeyExchange(ctx, req.(*KeyExchangeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Activation_Activate_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ActivateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ActivationServer).Activate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Activation_Activate_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ActivationServer).Activate(ctx, req.(*ActivateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _Activation_Reauthenticate_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ReauthenticateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ActivationServer).Reauthenticate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: Activation_Reauthenticate_FullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ActivationServer).Reauthenticate(ctx, req.(*ReauthenticateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Activation_ServiceDesc is the grpc.ServiceDesc for the Activation service.
var Activation_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ActivationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "KeyExchange", Handler: _Activation_KeyExchange_Handler},
		{MethodName: "Activate", Handler: _Activation_Activate_Handler},
		{MethodName: "Reauthenticate", Handler: _Activation_Reauthenticate_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/keygate/v1",
}
