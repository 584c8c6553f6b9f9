package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc/status"

	pb "github.com/and161185/keygate/api/keygate/v1"
	"github.com/and161185/keygate/internal/codec"
	"github.com/and161185/keygate/internal/crypto/clientcrypto"
	"github.com/and161185/keygate/internal/model"
)

type resultView struct {
	Valid        bool   `json:"valid"`
	ActivationID string `json:"activation_id,omitempty"`
	Remaining    int64  `json:"remaining"`
}

func viewOf(r model.Result) resultView {
	return resultView{Valid: r.Valid, ActivationID: r.ActivationID, Remaining: r.Remaining}
}

// rpcErr strips the gRPC status wrapping for display.
func rpcErr(err error) error {
	if st, ok := status.FromError(err); ok {
		return fmt.Errorf("%s: %s", st.Code(), st.Message())
	}
	return err
}

func (a *app) client(ctx context.Context) (pb.ActivationClient, func(), error) {
	cc, err := a.conn(ctx)
	if err != nil {
		return nil, nil, err
	}
	return pb.NewActivationClient(cc), func() { _ = cc.Close() }, nil
}

func newHandshakeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "handshake",
		Short: "Exchange public keys and open a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := loadOrCreateKey()
			if err != nil {
				return fmt.Errorf("client key: %w", err)
			}
			pemStr, err := clientcrypto.PublicPEM(key)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
			defer cancel()
			cli, closeFn, err := a.client(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			resp, err := cli.KeyExchange(ctx, &pb.KeyExchangeRequest{PublicKey: pemStr})
			if err != nil {
				return rpcErr(err)
			}
			if _, err := clientcrypto.NewSession(key, resp.GetClientID(), resp.GetServerPublicKey()); err != nil {
				return fmt.Errorf("server key: %w", err)
			}
			sf := sessionFile{ClientID: resp.GetClientID(), ServerPublicKey: resp.GetServerPublicKey(), CreatedAt: a.now()}
			if err := writeJSON(sessionPath(), sf); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "client id:", sf.ClientID)
			return nil
		},
	}
}

func newActivateCmd(a *app) *cobra.Command {
	var code, productID, binding string
	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Redeem an activation code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSession()
			if err != nil {
				return err
			}
			req := &pb.ActivateRequest{ClientID: s.ClientID}
			if req.Code, err = s.SealField(code); err != nil {
				return err
			}
			if req.ProductID, err = s.SealField(productID); err != nil {
				return err
			}
			if req.Binding, err = s.SealBinding(binding, a.now()); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
			defer cancel()
			cli, closeFn, err := a.client(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			resp, err := cli.Activate(ctx, req)
			if err != nil {
				return rpcErr(err)
			}
			res, err := s.OpenResult(resp.GetPayload())
			if err != nil {
				return err
			}
			if res.Valid {
				if err := writeJSON(activationPath(), activationFile{ActivationID: res.ActivationID, ProductID: productID}); err != nil {
					return err
				}
			}
			a.printJSON(viewOf(res))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&code, "code", "", "activation code")
	f.StringVar(&productID, "product-id", "", "product id")
	f.StringVar(&binding, "binding", "", "binding value (for example a machine id)")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("product-id")
	_ = cmd.MarkFlagRequired("binding")
	return cmd
}

func newReauthCmd(a *app) *cobra.Command {
	var code, activationID, binding string
	cmd := &cobra.Command{
		Use:   "reauth",
		Short: "Re-check an existing activation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if activationID == "" {
				var af activationFile
				if err := readJSON(activationPath(), &af); err != nil {
					if errors.Is(err, os.ErrNotExist) {
						return errors.New("no saved activation; pass --activation-id")
					}
					return err
				}
				activationID = af.ActivationID
			}
			s, err := loadSession()
			if err != nil {
				return err
			}
			req := &pb.ReauthenticateRequest{ClientID: s.ClientID}
			if req.Code, err = s.SealField(code); err != nil {
				return err
			}
			if req.ActivationID, err = s.SealField(activationID); err != nil {
				return err
			}
			if req.Binding, err = s.SealBinding(binding, a.now()); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
			defer cancel()
			cli, closeFn, err := a.client(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			resp, err := cli.Reauthenticate(ctx, req)
			if err != nil {
				return rpcErr(err)
			}
			res, err := s.OpenResult(resp.GetPayload())
			if err != nil {
				return err
			}
			a.printJSON(viewOf(res))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&code, "code", "", "activation code")
	f.StringVar(&activationID, "activation-id", "", "activation id (defaults to the last successful activation)")
	f.StringVar(&binding, "binding", "", "binding value used at activation")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("binding")
	return cmd
}

func newInspectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect CODE",
		Short: "Show the public fields of a code without verifying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			info, err := codec.ParseUnverified(args[0])
			if err != nil {
				return err
			}
			a.printJSON(struct {
				ExpiresAt          time.Time `json:"expires_at"`
				ActivationDuration int64     `json:"activation_duration"`
				MaxUses            int64     `json:"max_uses"`
			}{time.Unix(info.ExpiresAt, 0).UTC(), info.ActivationDuration, info.MaxUses})
			return nil
		},
	}
}
