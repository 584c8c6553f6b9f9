// Command keygate is a CLI client for the keygate activation service.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/and161185/keygate/internal/crypto"
	"github.com/and161185/keygate/internal/crypto/clientcrypto"
)

// PassphraseEnv holds the passphrase protecting the client key file.
const PassphraseEnv = "KEYGATE_KEY_PASSPHRASE"

// ---- config dir ----

type sessionFile struct {
	ClientID        string    `json:"client_id"`
	ServerPublicKey string    `json:"server_public_key"`
	CreatedAt       time.Time `json:"created_at"`
}

type activationFile struct {
	ActivationID string `json:"activation_id"`
	ProductID    string `json:"product_id,omitempty"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "keygate")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "keygate")
}

func keyPath() string        { return filepath.Join(cfgDir(), "client.key") }
func sessionPath() string    { return filepath.Join(cfgDir(), "session.json") }
func activationPath() string { return filepath.Join(cfgDir(), "activation.json") }

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// loadOrCreateKey returns the client RSA key, generating and storing it on first use.
func loadOrCreateKey() (*rsa.PrivateKey, error) {
	pass := []byte(os.Getenv(PassphraseEnv))
	b, err := os.ReadFile(keyPath())
	if err == nil {
		return clientcrypto.OpenKeyFile(b, pass)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	key, err := crypto.GenerateRSA()
	if err != nil {
		return nil, err
	}
	sealed, err := clientcrypto.SealKeyFile(key, pass)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath(), sealed, 0o600); err != nil {
		return nil, err
	}
	return key, nil
}

func loadSession() (*clientcrypto.Session, error) {
	var sf sessionFile
	if err := readJSON(sessionPath(), &sf); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.New("no session; run handshake first")
		}
		return nil, err
	}
	b, err := os.ReadFile(keyPath())
	if err != nil {
		return nil, fmt.Errorf("read client key: %w", err)
	}
	key, err := clientcrypto.OpenKeyFile(b, []byte(os.Getenv(PassphraseEnv)))
	if err != nil {
		return nil, err
	}
	return clientcrypto.NewSession(key, sf.ClientID, sf.ServerPublicKey)
}

// ---- app ----

type app struct {
	addr      string
	caPath    string
	insecure  bool
	plaintext bool
	timeout   time.Duration

	adminURL    string
	adminSecret string

	out  io.Writer
	now  func() time.Time
	http *http.Client
	// dial overrides the gRPC connection, used by tests.
	dial func(ctx context.Context) (*grpc.ClientConn, error)
}

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // explicit --insecure
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func (a *app) conn(ctx context.Context) (*grpc.ClientConn, error) {
	if a.dial != nil {
		return a.dial(ctx)
	}
	var creds credentials.TransportCredentials
	if a.plaintext {
		creds = insecure.NewCredentials()
	} else {
		c, err := loadTLS(a.caPath, a.insecure)
		if err != nil {
			return nil, err
		}
		creds = c
	}
	return grpc.NewClient(a.addr, grpc.WithTransportCredentials(creds))
}

func (a *app) printJSON(v any) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "keygate",
		Short:         "Client for the keygate activation service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.out)

	pf := root.PersistentFlags()
	pf.StringVar(&a.addr, "addr", "localhost:8443", "gRPC server address")
	pf.StringVar(&a.caPath, "ca", "", "CA certificate (PEM) to verify the server")
	pf.BoolVar(&a.insecure, "insecure", false, "skip TLS verification (dev only)")
	pf.BoolVar(&a.plaintext, "plaintext", false, "connect without TLS (dev only)")
	pf.DurationVar(&a.timeout, "timeout", 15*time.Second, "request timeout")

	root.AddCommand(
		newHandshakeCmd(a),
		newActivateCmd(a),
		newReauthCmd(a),
		newInspectCmd(a),
		newAdminCmd(a),
	)
	return root
}

func main() {
	a := &app{out: os.Stdout, now: time.Now, http: &http.Client{Timeout: 30 * time.Second}}
	if err := newRootCmd(a).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
