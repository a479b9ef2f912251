package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/roach88/coinsync/internal/auth"
	"github.com/roach88/coinsync/internal/billing"
	"github.com/roach88/coinsync/internal/cache"
	"github.com/roach88/coinsync/internal/engine"
	"github.com/roach88/coinsync/internal/model"
)

const maxWebhookBytes = int64(65536)

// BalanceResponse is returned by GET /v1/balance.
type BalanceResponse struct {
	Coins     int64 `json:"coins"`
	Confirmed bool  `json:"confirmed"`
}

// ProResponse is returned by GET /v1/pro.
type ProResponse struct {
	Pro       bool `json:"pro"`
	Confirmed bool `json:"confirmed"`
}

// SpendRequest is the body of POST /v1/spend.
type SpendRequest struct {
	Coins int64 `json:"coins"`
}

// SpendResponse is returned for a successful spend.
type SpendResponse struct {
	Coins   int64 `json:"coins"`
	Balance int64 `json:"balance"`
}

// InsufficientResponse is the 402 body. Choices lists what the client may
// offer the user.
type InsufficientResponse struct {
	Error    string          `json:"error"`
	Required int64           `json:"required"`
	Balance  int64           `json:"balance"`
	Verified bool            `json:"verified"`
	Choices  []engine.Choice `json:"choices"`
}

// CheckoutRequest is the body of POST /v1/checkout.
type CheckoutRequest struct {
	PackID string `json:"pack_id"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) balance(c *gin.Context) {
	uid := auth.UID(c.Request.Context())
	if uid == "" {
		c.JSON(http.StatusOK, BalanceResponse{})
		return
	}

	f := engine.NewBalanceFetcher(s.users, s.scope(uid),
		engine.WithFetchPolicy(s.policy),
		engine.WithFetchLogger(s.logger),
	)
	res := f.Load(c.Request.Context(), uid)
	c.JSON(http.StatusOK, BalanceResponse{Coins: res.Coins, Confirmed: res.Confirmed})
}

func (s *Server) pro(c *gin.Context) {
	uid := auth.UID(c.Request.Context())
	if uid == "" {
		c.JSON(http.StatusOK, ProResponse{})
		return
	}

	r := engine.NewProStatusResolver(s.users, s.scope(uid),
		engine.WithResolvePolicy(s.policy),
		engine.WithResolverLogger(s.logger),
	)
	res := r.Load(c.Request.Context(), uid)
	c.JSON(http.StatusOK, ProResponse{Pro: res.Active, Confirmed: res.Confirmed})
}

func (s *Server) packs(c *gin.Context) {
	c.JSON(http.StatusOK, s.catalog)
}

func (s *Server) spend(c *gin.Context) {
	ctx := c.Request.Context()
	uid := auth.UID(ctx)
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sign in to spend coins"})
		return
	}

	var req SpendRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Coins <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coins must be a positive integer"})
		return
	}

	guard := engine.NewGuard(s.users,
		engine.WithGuardPolicy(s.policy),
		engine.WithGuardLogger(s.logger),
	)
	d := guard.Check(ctx, uid, req.Coins)
	switch {
	case !d.Allowed && !d.Verified:
		// no recharge offer when we could not see the balance
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":    "balance could not be verified, try again",
			"required": d.Required,
		})
		return
	case !d.Allowed:
		s.insufficient(c, d.Required, d.Balance, d.Verified)
		return
	}

	balance, err := s.users.SpendCoins(ctx, uid, req.Coins)
	switch {
	case errors.Is(err, model.ErrInsufficientCoins):
		// another spend won the race after the check
		s.insufficient(c, req.Coins, d.Balance, false)
		return
	case errors.Is(err, model.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	case err != nil:
		s.logger.Error("spend failed", "uid", uid, "coins", req.Coins, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "spend failed"})
		return
	}

	cache.SetCoins(ctx, s.scope(uid), balance)
	c.JSON(http.StatusOK, SpendResponse{Coins: req.Coins, Balance: balance})
}

func (s *Server) insufficient(c *gin.Context, required, balance int64, verified bool) {
	c.JSON(http.StatusPaymentRequired, InsufficientResponse{
		Error:    "insufficient coins",
		Required: required,
		Balance:  balance,
		Verified: verified,
		Choices:  []engine.Choice{engine.ChoiceRecharge, engine.ChoiceCancel},
	})
}

func (s *Server) startCheckout(c *gin.Context) {
	if s.checkout == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing not configured"})
		return
	}
	uid := auth.UID(c.Request.Context())
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "sign in to recharge"})
		return
	}

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PackID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "pack_id is required"})
		return
	}

	res, err := s.checkout.Start(c.Request.Context(), uid, req.PackID)
	if errors.Is(err, billing.ErrUnknownPack) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown pack"})
		return
	}
	if err != nil {
		s.logger.Error("checkout failed", "uid", uid, "pack", req.PackID, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to create checkout session"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) stripeWebhook(c *gin.Context) {
	if s.webhook == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "billing not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	ctx := c.Request.Context()
	credit, err := s.webhook.Handle(ctx, body, c.GetHeader("Stripe-Signature"))
	switch {
	case errors.Is(err, billing.ErrSignature), errors.Is(err, billing.ErrPayload):
		s.logger.Warn("stripe webhook rejected", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.logger.Error("stripe webhook failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "credit failed"})
		return
	}

	if credit.Applied {
		cache.SetCoins(ctx, s.scope(credit.UID), credit.Balance)
	}
	c.JSON(http.StatusOK, credit)
}

func (s *Server) logout(c *gin.Context) {
	if uid := auth.UID(c.Request.Context()); uid != "" {
		cache.ClearSession(c.Request.Context(), s.scope(uid))
	}
	c.Status(http.StatusNoContent)
}
