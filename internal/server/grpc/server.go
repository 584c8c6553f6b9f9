// Package grpcserver exposes the keygate activation API over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	pb "github.com/and161185/keygate/api/keygate/v1"
	"github.com/and161185/keygate/internal/errs"
	"github.com/and161185/keygate/internal/limiter"
	"github.com/and161185/keygate/internal/model"
	"github.com/and161185/keygate/internal/service"
	"github.com/and161185/keygate/internal/session"
)

// Server wires services into gRPC handlers.
type Server struct {
	pb.UnimplementedActivationServer
	auth    service.AuthService
	channel *session.Channel
	lim     limiter.Limiter
	log     *zap.Logger
}

var _ pb.ActivationServer = (*Server)(nil)

// New constructs a gRPC server with injected services. A nil limiter
// disables attempt limiting.
func New(auth service.AuthService, channel *session.Channel, lim limiter.Limiter, log *zap.Logger) *Server {
	if lim == nil {
		lim = limiter.Nop{}
	}
	return &Server{auth: auth, channel: channel, lim: lim, log: log}
}

// KeyExchange registers the client public key and returns the server key.
func (s *Server) KeyExchange(ctx context.Context, req *pb.KeyExchangeRequest) (*pb.KeyExchangeResponse, error) {
	id, serverPEM, err := s.channel.KeyExchange(ctx, req.GetPublicKey())
	if err != nil {
		return nil, s.toStatus("key exchange", err)
	}
	return &pb.KeyExchangeResponse{ClientID: id, ServerPublicKey: serverPEM}, nil
}

// Activate redeems a code and returns the sealed result tuple.
func (s *Server) Activate(ctx context.Context, req *pb.ActivateRequest) (*pb.ActivateResponse, error) {
	clientID, err := s.clientID(ctx, req.GetClientID())
	if err != nil {
		return nil, s.toStatus("activate", err)
	}
	ipHash, err := s.allow(ctx, service.OpActivate)
	if err != nil {
		return nil, s.toStatus("activate", err)
	}

	code, err := s.channel.DecryptField(ctx, "code", req.GetCode())
	if err != nil {
		return nil, s.toStatus("activate", err)
	}
	productID, err := s.channel.DecryptField(ctx, "product_id", req.GetProductID())
	if err != nil {
		return nil, s.toStatus("activate", err)
	}
	binding, err := s.channel.DecryptTimestamped(ctx, "binding", req.GetBinding())
	if err != nil {
		return nil, s.toStatus("activate", err)
	}

	out, err := s.auth.Activate(ctx, code, productID, binding)
	if err != nil {
		return nil, s.toStatus("activate", err)
	}
	s.record(ctx, service.OpActivate, ipHash, out)
	return s.seal(ctx, clientID, out)
}

// Reauthenticate re-checks an activation and returns the sealed result tuple.
func (s *Server) Reauthenticate(ctx context.Context, req *pb.ReauthenticateRequest) (*pb.ActivateResponse, error) {
	clientID, err := s.clientID(ctx, req.GetClientID())
	if err != nil {
		return nil, s.toStatus("reauthenticate", err)
	}
	ipHash, err := s.allow(ctx, service.OpReactivate)
	if err != nil {
		return nil, s.toStatus("reauthenticate", err)
	}

	code, err := s.channel.DecryptField(ctx, "code", req.GetCode())
	if err != nil {
		return nil, s.toStatus("reauthenticate", err)
	}
	activationID, err := s.channel.DecryptField(ctx, "activation_id", req.GetActivationID())
	if err != nil {
		return nil, s.toStatus("reauthenticate", err)
	}
	binding, err := s.channel.DecryptTimestamped(ctx, "binding", req.GetBinding())
	if err != nil {
		return nil, s.toStatus("reauthenticate", err)
	}

	out, err := s.auth.Reactivate(ctx, code, activationID, binding)
	if err != nil {
		return nil, s.toStatus("reauthenticate", err)
	}
	s.record(ctx, service.OpReactivate, ipHash, out)
	return s.seal(ctx, clientID, out)
}

// clientID prefers the request field and falls back to x-client-id metadata.
// The session must still be registered.
func (s *Server) clientID(ctx context.Context, fromReq string) (string, error) {
	id := fromReq
	if id == "" {
		id, _ = ClientIDFromCtx(ctx)
	}
	if err := s.channel.CheckSession(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Server) allow(ctx context.Context, op string) ([]byte, error) {
	ipHash := limiter.HashIP(remoteIP(ctx))
	ok, _, err := s.lim.Allow(ctx, op, ipHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.ErrRateLimited
	}
	return ipHash, nil
}

// record feeds the limiter. Lock contention is not the caller's fault and is
// not counted.
func (s *Server) record(ctx context.Context, op string, ipHash []byte, out model.Outcome) {
	switch {
	case out.Valid:
		if err := s.lim.Success(ctx, op, ipHash); err != nil {
			s.log.Warn("limiter success", zap.Error(err))
		}
	case out.Reason != model.ReasonLockContended:
		if blocked, _, err := s.lim.Failure(ctx, op, ipHash); err != nil {
			s.log.Warn("limiter failure", zap.Error(err))
		} else if blocked {
			s.log.Info("caller blocked", zap.String("operation", op))
		}
	}
}

func (s *Server) seal(ctx context.Context, clientID string, out model.Outcome) (*pb.ActivateResponse, error) {
	payload, err := s.channel.SealResult(ctx, clientID, out.Public())
	if err != nil {
		return nil, s.toStatus("seal response", err)
	}
	return &pb.ActivateResponse{Payload: payload}, nil
}

// toStatus maps sentinels to gRPC codes. Anything unrecognised is logged and
// reported as a bare Internal.
func (s *Server) toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrMissingField):
		return status.Error(codes.InvalidArgument, "missing field")
	case errors.Is(err, errs.ErrInvalidFormat):
		return status.Error(codes.InvalidArgument, "invalid format")
	case errors.Is(err, errs.ErrSessionExpired):
		return status.Error(codes.Unauthenticated, "session expired")
	case errors.Is(err, errs.ErrTimestampExpired):
		return status.Error(codes.DeadlineExceeded, "timestamp expired")
	case errors.Is(err, errs.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "rate limited")
	case errors.Is(err, errs.ErrLockContended):
		return status.Error(codes.Unavailable, "busy, retry later")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	s.log.Error(op, zap.Error(err))
	return status.Error(codes.Internal, "internal")
}

func remoteIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
