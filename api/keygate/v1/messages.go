// Package keygatev1 defines the client-facing activation API: message types,
// a JSON wire codec and the gRPC service descriptor.
//
// Every sensitive request field is base64(RSA-OAEP-SHA256) encrypted with the
// server public key returned by KeyExchange. Response payloads are encrypted
// with the client key registered during KeyExchange.
package keygatev1

// KeyExchangeRequest carries the client RSA public key (SPKI PEM).
type KeyExchangeRequest struct {
	PublicKey string `json:"public_key"`
}

func (x *KeyExchangeRequest) GetPublicKey() string {
	if x == nil {
		return ""
	}
	return x.PublicKey
}

// KeyExchangeResponse returns the session id and the server public key.
type KeyExchangeResponse struct {
	ClientID        string `json:"client_id"`
	ServerPublicKey string `json:"server_public_key"`
}

func (x *KeyExchangeResponse) GetClientID() string {
	if x == nil {
		return ""
	}
	return x.ClientID
}

func (x *KeyExchangeResponse) GetServerPublicKey() string {
	if x == nil {
		return ""
	}
	return x.ServerPublicKey
}

// ActivateRequest redeems a code. Code, ProductID and Binding are encrypted;
// the decrypted Binding is "value:unixMillis".
type ActivateRequest struct {
	ClientID  string `json:"client_id,omitempty"`
	Code      string `json:"code"`
	ProductID string `json:"product_id"`
	Binding   string `json:"binding"`
}

func (x *ActivateRequest) GetClientID() string {
	if x == nil {
		return ""
	}
	return x.ClientID
}

func (x *ActivateRequest) GetCode() string {
	if x == nil {
		return ""
	}
	return x.Code
}

func (x *ActivateRequest) GetProductID() string {
	if x == nil {
		return ""
	}
	return x.ProductID
}

func (x *ActivateRequest) GetBinding() string {
	if x == nil {
		return ""
	}
	return x.Binding
}

// ReauthenticateRequest re-checks an activation. Code, ActivationID and
// Binding are encrypted.
type ReauthenticateRequest struct {
	ClientID     string `json:"client_id,omitempty"`
	Code         string `json:"code"`
	ActivationID string `json:"activation_id"`
	Binding      string `json:"binding"`
}

func (x *ReauthenticateRequest) GetClientID() string {
	if x == nil {
		return ""
	}
	return x.ClientID
}

func (x *ReauthenticateRequest) GetCode() string {
	if x == nil {
		return ""
	}
	return x.Code
}

func (x *ReauthenticateRequest) GetActivationID() string {
	if x == nil {
		return ""
	}
	return x.ActivationID
}

func (x *ReauthenticateRequest) GetBinding() string {
	if x == nil {
		return ""
	}
	return x.Binding
}

// ActivateResponse carries the encrypted "valid:activationId:remaining" tuple.
type ActivateResponse struct {
	Payload string `json:"payload"`
}

func (x *ActivateResponse) GetPayload() string {
	if x == nil {
		return ""
	}
	return x.Payload
}
