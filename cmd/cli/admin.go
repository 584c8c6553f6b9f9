package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/and161185/keygate/internal/model"
	httpserver "github.com/and161185/keygate/internal/server/http"
)

// AdminSecretEnv is read when --admin-secret is not given.
const AdminSecretEnv = "KEYGATE_ADMIN_SECRET"

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string { return fmt.Sprintf("admin api: %d %s", e.Status, e.Message) }

// adminDo sends one admin request and decodes a JSON response into out.
func (a *app) adminDo(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(a.adminURL, "/")+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	secret := a.adminSecret
	if secret == "" {
		secret = os.Getenv(AdminSecretEnv)
	}
	req.Header.Set(httpserver.AdminSecretHeader, secret)

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (a *app) adminCtx(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), a.timeout)
}

func newAdminCmd(a *app) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Manage products and generate activation codes",
	}
	admin.PersistentFlags().StringVar(&a.adminURL, "admin-url", "http://127.0.0.1:8080", "admin API base URL")
	admin.PersistentFlags().StringVar(&a.adminSecret, "admin-secret", "", "admin secret (default $"+AdminSecretEnv+")")

	product := &cobra.Command{Use: "product", Short: "Product registry"}
	product.AddCommand(
		&cobra.Command{
			Use:   "create NAME",
			Short: "Register a product",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := a.adminCtx(cmd)
				defer cancel()
				var p model.Product
				if err := a.adminDo(ctx, http.MethodPost, "/admin/products", map[string]string{"name": args[0]}, &p); err != nil {
					return err
				}
				a.printJSON(p)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List registered products",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				ctx, cancel := a.adminCtx(cmd)
				defer cancel()
				var list []model.Product
				if err := a.adminDo(ctx, http.MethodGet, "/admin/products", nil, &list); err != nil {
					return err
				}
				a.printJSON(list)
				return nil
			},
		},
		&cobra.Command{
			Use:   "exists NAME",
			Short: "Check whether a product name is registered",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx, cancel := a.adminCtx(cmd)
				defer cancel()
				var res struct {
					Exists bool `json:"exists"`
				}
				if err := a.adminDo(ctx, http.MethodGet, "/admin/products/"+url.PathEscape(args[0])+"/exists", nil, &res); err != nil {
					return err
				}
				fmt.Fprintln(a.out, res.Exists)
				return nil
			},
		},
	)

	admin.AddCommand(product, newCodesCmd(a))
	return admin
}

func newCodesCmd(a *app) *cobra.Command {
	var (
		name, id          string
		expires, duration time.Duration
		maxUses           int64
		amount            int
	)
	cmd := &cobra.Command{
		Use:   "codes",
		Short: "Generate activation codes for a product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if name == "" && id == "" {
				return fmt.Errorf("either --product or --product-id is required")
			}
			req := map[string]any{
				"product":             name,
				"product_id":          id,
				"expiration_period":   int64(expires / time.Second),
				"activation_duration": int64(duration / time.Second),
				"max_uses":            maxUses,
				"amount":              amount,
			}
			ctx, cancel := a.adminCtx(cmd)
			defer cancel()
			var res struct {
				ProductID string   `json:"product_id"`
				Codes     []string `json:"codes"`
			}
			if err := a.adminDo(ctx, http.MethodPost, "/admin/codes", req, &res); err != nil {
				return err
			}
			for _, c := range res.Codes {
				fmt.Fprintln(a.out, c)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "product", "", "product name")
	f.StringVar(&id, "product-id", "", "product id")
	f.DurationVar(&expires, "expires", 30*24*time.Hour, "how long the code stays redeemable")
	f.DurationVar(&duration, "duration", 365*24*time.Hour, "how long each activation lasts")
	f.Int64Var(&maxUses, "max-uses", 1, "number of activations per code")
	f.IntVar(&amount, "amount", 1, "number of codes")
	return cmd
}
