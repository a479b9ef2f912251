// Package api serves balance, pro status and recharge over HTTP.
//
// Reads always go to the remote users table first and fall back to a
// per-uid cache scope, the same way a single client session does.
// Anonymous requests get safe defaults: zero coins and no pro.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/roach88/coinsync/internal/auth"
	"github.com/roach88/coinsync/internal/billing"
	"github.com/roach88/coinsync/internal/cache"
	"github.com/roach88/coinsync/internal/catalog"
	"github.com/roach88/coinsync/internal/engine"
	"github.com/roach88/coinsync/internal/retry"
)

// Users reads rows and performs the atomic server-side spend.
// *remote.Postgres implements it.
type Users interface {
	engine.UserReader
	SpendCoins(ctx context.Context, uid string, amount int64) (int64, error)
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	users    Users
	cache    cache.Cache
	catalog  *catalog.Catalog
	checkout *billing.Checkout
	webhook  *billing.Webhook
	verifier *auth.Verifier
	devUID   string
	origins  []string
	policy   retry.Policy
	logger   *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCatalog sets the coin-pack catalog. Defaults to catalog.Default().
func WithCatalog(c *catalog.Catalog) Option {
	return func(s *Server) { s.catalog = c }
}

// WithCheckout enables POST /v1/checkout.
func WithCheckout(c *billing.Checkout) Option {
	return func(s *Server) { s.checkout = c }
}

// WithWebhook enables POST /v1/stripe/webhook.
func WithWebhook(w *billing.Webhook) Option {
	return func(s *Server) { s.webhook = w }
}

// WithVerifier enables bearer-token authentication.
func WithVerifier(v *auth.Verifier) Option {
	return func(s *Server) { s.verifier = v }
}

// WithDevUID treats every request as coming from uid.
func WithDevUID(uid string) Option {
	return func(s *Server) { s.devUID = uid }
}

// WithCORSOrigins sets the allowed browser origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.origins = origins }
}

// WithRetryPolicy overrides the remote read retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Server) { s.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a server. c holds one cache scope per uid.
func New(users Users, c cache.Cache, opts ...Option) *Server {
	s := &Server{
		users:   users,
		cache:   c,
		catalog: catalog.Default(),
		policy:  retry.Default,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog())
	if len(s.origins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: s.origins,
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}

	router.GET("/health", s.health)
	router.POST("/v1/stripe/webhook", s.stripeWebhook)

	v1 := router.Group("/v1")
	v1.Use(auth.Middleware(s.verifier, auth.MiddlewareConfig{
		AllowAnonymous: true,
		DevUID:         s.devUID,
		Logger:         s.logger,
	}))
	v1.GET("/balance", s.balance)
	v1.GET("/pro", s.pro)
	v1.GET("/packs", s.packs)
	v1.POST("/spend", s.spend)
	v1.POST("/checkout", s.startCheckout)
	v1.POST("/logout", s.logout)

	return router
}

// ListenAndServe runs the router until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// scope returns the cache view for uid.
func (s *Server) scope(uid string) cache.Cache {
	return cache.WithScope(s.cache, uid)
}
