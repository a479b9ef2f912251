// Package billing implements the recharge branch of the coin guard: a
// Stripe Checkout session for a catalog pack, and the webhook that credits
// the purchased coins once payment completes.
package billing
