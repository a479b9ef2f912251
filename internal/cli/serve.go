package cli

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/roach88/coinsync/internal/api"
	"github.com/roach88/coinsync/internal/auth"
	"github.com/roach88/coinsync/internal/billing"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the balance HTTP API",
		Long: `Serve balance, pro status, guarded spends and coin-pack checkout over HTTP.

Bearer tokens are verified with COINSYNC_JWT_SECRET (HS256) or
COINSYNC_JWKS_URL. Requests without a token get the signed-out defaults.
Stripe checkout and the webhook are enabled by COINSYNC_STRIPE_SECRET_KEY
and COINSYNC_STRIPE_WEBHOOK_SECRET.

Examples:
  coinsync serve --listen :8080
  COINSYNC_DEV_UID=local-user coinsync serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "address to listen on (default from COINSYNC_LISTEN)")
	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	ctx, cancel := signalContext(cmd)
	defer cancel()

	cfg := opts.Config
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}

	cat, err := opts.catalog()
	if err != nil {
		return err
	}

	e, err := opts.openEnv(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer e.Close()

	serverOpts := []api.Option{
		api.WithCatalog(cat),
		api.WithCORSOrigins(cfg.CORSOrigins),
		api.WithRetryPolicy(opts.retryPolicy()),
		api.WithLogger(e.logger),
	}

	switch {
	case cfg.Auth.JWTSecret != "":
		v, err := auth.NewHMACVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid JWT configuration", err)
		}
		serverOpts = append(serverOpts, api.WithVerifier(v))
	case cfg.Auth.JWKSURL != "":
		v, err := auth.NewJWKSVerifier(cfg.Auth.JWKSURL, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid JWKS configuration", err)
		}
		serverOpts = append(serverOpts, api.WithVerifier(v))
	}
	if cfg.Auth.DevUID != "" {
		e.logger.Warn("dev uid enabled; every request is authenticated", "uid", cfg.Auth.DevUID)
		serverOpts = append(serverOpts, api.WithDevUID(cfg.Auth.DevUID))
	}
	if !cfg.AuthConfigured() && cfg.Auth.DevUID == "" {
		e.logger.Warn("no token verifier configured; all requests are anonymous")
	}

	if cfg.BillingConfigured() {
		billing.SetAPIKey(cfg.Stripe.SecretKey)
		serverOpts = append(serverOpts, api.WithCheckout(billing.NewCheckout(cat, cfg.FrontendURL)))
	}
	if cfg.Stripe.WebhookSecret != "" {
		crediter, ok := e.remote.(billing.Crediter)
		if !ok {
			return NewExitError(ExitCommandError, "users table cannot credit purchases")
		}
		serverOpts = append(serverOpts,
			api.WithWebhook(billing.NewWebhook(cfg.Stripe.WebhookSecret, cat, crediter, e.logger)))
	}

	srv := api.New(e.remote, e.cache, serverOpts...)
	err = srv.ListenAndServe(ctx, cfg.Listen)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitFailure, "server error", err)
	}
	e.logger.Info("server stopped")
	return nil
}
