package engine

import (
	"errors"
	"fmt"
)

// ErrNoUser is returned by operations that need an authenticated uid.
var ErrNoUser = errors.New("engine: no authenticated user")

// ErrBalanceUnverified is returned when a guarded check could not read the
// remote balance after retries.
var ErrBalanceUnverified = errors.New("engine: balance could not be verified")

// ErrClosed is returned when subscribing through a closed state.
var ErrClosed = errors.New("engine: balance state closed")

// InsufficientFundsError reports a failed affordability check.
//
// It is a decision point rather than a failure: callers offer recharge or
// cancel instead of surfacing it as an error message.
type InsufficientFundsError struct {
	UID      string
	Required int64
	Balance  int64
}

// Error implements the error interface.
func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient coins for %s: need %d, have %d", e.UID, e.Required, e.Balance)
}

// Shortfall is how many coins are missing.
func (e *InsufficientFundsError) Shortfall() int64 {
	if e.Balance >= e.Required {
		return 0
	}
	return e.Required - e.Balance
}

// IsInsufficientFunds returns true if err is or wraps an
// InsufficientFundsError.
func IsInsufficientFunds(err error) bool {
	var ife *InsufficientFundsError
	return errors.As(err, &ife)
}
