package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"

	"github.com/roach88/coinsync/internal/catalog"
)

// Metadata keys attached to every checkout session.
const (
	MetaUID    = "uid"
	MetaPackID = "pack_id"
	MetaCoins  = "coins"
)

var (
	// ErrUnknownPack is returned for a pack id missing from the catalog.
	ErrUnknownPack = errors.New("billing: unknown pack")
	// ErrNoUser is returned when checkout is started without a uid.
	ErrNoUser = errors.New("billing: missing uid")
)

// SessionCreator creates a Stripe Checkout session. session.New in
// production, a fake in tests.
type SessionCreator func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

// CheckoutResult is where to send the user to pay.
type CheckoutResult struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// Checkout starts coin-pack purchases.
type Checkout struct {
	catalog    *catalog.Catalog
	successURL string
	cancelURL  string
	create     SessionCreator
}

// CheckoutOption configures Checkout.
type CheckoutOption func(*Checkout)

// WithSessionCreator replaces session.New.
func WithSessionCreator(fn SessionCreator) CheckoutOption {
	return func(c *Checkout) {
		c.create = fn
	}
}

// SetAPIKey configures the Stripe client globally.
func SetAPIKey(key string) {
	stripe.Key = key
}

// NewCheckout creates a checkout flow returning the user to frontendURL.
func NewCheckout(cat *catalog.Catalog, frontendURL string, opts ...CheckoutOption) *Checkout {
	base := strings.TrimRight(frontendURL, "/")
	c := &Checkout{
		catalog:    cat,
		successURL: base + "/recharge/success",
		cancelURL:  base + "/recharge/cancel",
		create:     session.New,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start creates a one-off payment session for packID on behalf of uid.
func (c *Checkout) Start(ctx context.Context, uid, packID string) (CheckoutResult, error) {
	if uid == "" {
		return CheckoutResult{}, ErrNoUser
	}
	pack, ok := c.catalog.Find(packID)
	if !ok {
		return CheckoutResult{}, fmt.Errorf("%w: %q", ErrUnknownPack, packID)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(uid),
		LineItems:         []*stripe.CheckoutSessionLineItemParams{lineItem(pack)},
		SuccessURL:        stripe.String(c.successURL),
		CancelURL:         stripe.String(c.cancelURL),
		Metadata: map[string]string{
			MetaUID:    uid,
			MetaPackID: pack.ID,
			MetaCoins:  strconv.FormatInt(pack.Coins, 10),
		},
	}
	params.Context = ctx

	sess, err := c.create(params)
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("create checkout session for %s: %w", pack.ID, err)
	}
	return CheckoutResult{SessionID: sess.ID, URL: sess.URL}, nil
}

func lineItem(p catalog.Pack) *stripe.CheckoutSessionLineItemParams {
	if p.StripePrice != "" {
		return &stripe.CheckoutSessionLineItemParams{
			Price:    stripe.String(p.StripePrice),
			Quantity: stripe.Int64(1),
		}
	}
	return &stripe.CheckoutSessionLineItemParams{
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(p.Currency),
			UnitAmount: stripe.Int64(p.PriceCents),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(fmt.Sprintf("%s (%d coins)", p.Name, p.Coins)),
			},
		},
		Quantity: stripe.Int64(1),
	}
}
