package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/roach88/coinsync/internal/catalog"
)

// EventCheckoutCompleted is the only event that credits coins.
const EventCheckoutCompleted = "checkout.session.completed"

var (
	// ErrSignature means the payload was not signed with the endpoint secret.
	ErrSignature = errors.New("billing: signature verification failed")
	// ErrPayload means the event could not be interpreted.
	ErrPayload = errors.New("billing: invalid payload")
)

// Crediter credits coins exactly once per event. *remote.Postgres
// implements it.
type Crediter interface {
	CreditCoins(ctx context.Context, eventID, uid string, amount int64) (balance int64, applied bool, err error)
}

// Credit describes what a webhook delivery did.
type Credit struct {
	EventID string `json:"event_id"`
	UID     string `json:"uid,omitempty"`
	PackID  string `json:"pack_id,omitempty"`
	Coins   int64  `json:"coins,omitempty"`
	Balance int64  `json:"balance,omitempty"`
	Applied bool   `json:"applied"`
}

// Webhook verifies Stripe deliveries and credits purchased coins.
type Webhook struct {
	secret  string
	catalog *catalog.Catalog
	credit  Crediter
	logger  *slog.Logger
}

// NewWebhook creates a handler for the endpoint secret.
func NewWebhook(secret string, cat *catalog.Catalog, credit Crediter, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{secret: secret, catalog: cat, credit: credit, logger: logger}
}

// Handle verifies payload and applies it. Events other than a paid
// checkout completion are acknowledged without effect.
func (w *Webhook) Handle(ctx context.Context, payload []byte, signature string) (Credit, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, w.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return Credit{}, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	result := Credit{EventID: event.ID}
	if event.Type != EventCheckoutCompleted {
		w.logger.Debug("stripe event ignored", "event_id", event.ID, "type", event.Type)
		return result, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return result, fmt.Errorf("%w: %v", ErrPayload, err)
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		w.logger.Info("checkout completed without payment", "event_id", event.ID, "status", sess.PaymentStatus)
		return result, nil
	}

	uid := sess.Metadata[MetaUID]
	if uid == "" {
		uid = sess.ClientReferenceID
	}
	if uid == "" {
		return result, fmt.Errorf("%w: session %s has no uid", ErrPayload, sess.ID)
	}

	// the catalog decides the amount, not client-visible metadata
	pack, ok := w.catalog.Find(sess.Metadata[MetaPackID])
	if !ok {
		return result, fmt.Errorf("%w: session %s: %w", ErrPayload, sess.ID, ErrUnknownPack)
	}

	balance, applied, err := w.credit.CreditCoins(ctx, event.ID, uid, pack.Coins)
	if err != nil {
		return result, fmt.Errorf("credit %d coins to %s: %w", pack.Coins, uid, err)
	}

	result.UID = uid
	result.PackID = pack.ID
	result.Coins = pack.Coins
	result.Balance = balance
	result.Applied = applied
	w.logger.Info("coins credited",
		"event_id", event.ID, "uid", uid, "pack", pack.ID, "coins", pack.Coins, "balance", balance, "applied", applied)
	return result, nil
}
