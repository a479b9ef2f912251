package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/coinsync/internal/model"
)

// ErrNetwork is the default scripted transient failure.
var ErrNetwork = errors.New("network unreachable")

// ScriptedUsers is an in-memory users table whose reads can be scripted to
// fail or block.
//
// Each FetchUser call first consumes the next scripted step for the uid
// (if any), then falls back to the stored row.
type ScriptedUsers struct {
	mu    sync.Mutex
	rows  map[string]model.UserRow
	steps map[string][]step
	calls map[string]int

	credited map[string]bool
}

type step struct {
	err  error
	gate <-chan struct{}
}

// NewScriptedUsers returns a table holding rows.
func NewScriptedUsers(rows ...model.UserRow) *ScriptedUsers {
	u := &ScriptedUsers{
		rows:  make(map[string]model.UserRow),
		steps: make(map[string][]step),
		calls: make(map[string]int),
	}
	for _, r := range rows {
		u.rows[r.UID] = r
	}
	return u
}

// Put stores or replaces a row.
func (u *ScriptedUsers) Put(row model.UserRow) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rows[row.UID] = row
}

// Row returns the stored row.
func (u *ScriptedUsers) Row(uid string) (model.UserRow, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	r, ok := u.rows[uid]
	return r, ok
}

// FailNext makes the next n reads for uid fail with err (ErrNetwork if nil).
func (u *ScriptedUsers) FailNext(uid string, n int, err error) {
	if err == nil {
		err = ErrNetwork
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for i := 0; i < n; i++ {
		u.steps[uid] = append(u.steps[uid], step{err: err})
	}
}

// BlockNext makes the next read for uid wait until gate is closed. The row
// is read after the gate opens, so it reflects later Put calls.
func (u *ScriptedUsers) BlockNext(uid string, gate <-chan struct{}) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.steps[uid] = append(u.steps[uid], step{gate: gate})
}

// Calls returns how many reads were made for uid.
func (u *ScriptedUsers) Calls(uid string) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls[uid]
}

// FetchUser implements the engine's UserReader.
func (u *ScriptedUsers) FetchUser(ctx context.Context, uid string) (model.UserRow, error) {
	u.mu.Lock()
	u.calls[uid]++
	var next *step
	if steps := u.steps[uid]; len(steps) > 0 {
		next = &steps[0]
		u.steps[uid] = steps[1:]
	}
	u.mu.Unlock()

	if next != nil {
		if next.err != nil {
			return model.UserRow{}, next.err
		}
		if next.gate != nil {
			select {
			case <-next.gate:
			case <-ctx.Done():
				return model.UserRow{}, ctx.Err()
			}
		}
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	row, ok := u.rows[uid]
	if !ok {
		return model.UserRow{}, model.ErrUserNotFound
	}
	return row, nil
}

// SpendCoins mirrors the server-side conditional decrement.
func (u *ScriptedUsers) SpendCoins(_ context.Context, uid string, amount int64) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	row, ok := u.rows[uid]
	if !ok {
		return 0, model.ErrUserNotFound
	}
	if row.UserCoins < amount {
		return 0, model.ErrInsufficientCoins
	}
	row.UserCoins -= amount
	u.rows[uid] = row
	return row.UserCoins, nil
}

// AddCoins credits amount, creating the row if needed.
func (u *ScriptedUsers) AddCoins(_ context.Context, uid string, amount int64) (int64, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	row := u.rows[uid]
	row.UID = uid
	row.UserCoins += amount
	u.rows[uid] = row
	return row.UserCoins, nil
}

// CreditCoins credits once per eventID.
func (u *ScriptedUsers) CreditCoins(ctx context.Context, eventID, uid string, amount int64) (int64, bool, error) {
	u.mu.Lock()
	if u.credited == nil {
		u.credited = make(map[string]bool)
	}
	if u.credited[eventID] {
		balance := u.rows[uid].UserCoins
		u.mu.Unlock()
		return balance, false, nil
	}
	u.credited[eventID] = true
	u.mu.Unlock()

	balance, err := u.AddCoins(ctx, uid, amount)
	return balance, err == nil, err
}
