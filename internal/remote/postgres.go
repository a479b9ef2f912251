package remote

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/roach88/coinsync/internal/filter"
	"github.com/roach88/coinsync/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Re-exported so callers of this package can match without importing model.
var (
	ErrUserNotFound      = model.ErrUserNotFound
	ErrInsufficientCoins = model.ErrInsufficientCoins
)

// Postgres is the typed users-table client.
type Postgres struct {
	db *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewPostgres(db), nil
}

// NewPostgres wraps an existing connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// DB returns the underlying pool.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Migrate creates the users table and the change-notification trigger.
// Safe to run repeatedly.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate users schema: %w", err)
	}
	return nil
}

// FetchUser reads the single users row for uid.
func (p *Postgres) FetchUser(ctx context.Context, uid string) (model.UserRow, error) {
	where, args, err := filter.Eq(model.ColumnUID, uid).SQL(1)
	if err != nil {
		return model.UserRow{}, err
	}

	var (
		row    model.UserRow
		coins  sql.NullInt64
		active sql.NullBool
	)
	err = p.db.QueryRowContext(ctx,
		"SELECT uid, user_coins, subscription_active FROM users WHERE "+where+" LIMIT 1",
		args...,
	).Scan(&row.UID, &coins, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return model.UserRow{}, fmt.Errorf("fetch user %q: %w", uid, ErrUserNotFound)
	}
	if err != nil {
		return model.UserRow{}, fmt.Errorf("fetch user %q: %w", uid, err)
	}

	row.UserCoins = coins.Int64
	row.SubscriptionActive = active.Valid && active.Bool
	if err := row.Validate(); err != nil {
		return model.UserRow{}, err
	}
	return row, nil
}

// EnsureUser inserts an empty row for uid if none exists.
func (p *Postgres) EnsureUser(ctx context.Context, uid string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (uid, user_coins, subscription_active)
		VALUES ($1, 0, FALSE)
		ON CONFLICT (uid) DO NOTHING
	`, uid)
	if err != nil {
		return fmt.Errorf("ensure user %q: %w", uid, err)
	}
	return nil
}

// SpendCoins deducts amount from uid's balance and returns the new balance.
//
// The check and the decrement are one statement, so two concurrent spends
// can never take the balance below zero. Returns ErrInsufficientCoins when
// the balance is too low and ErrUserNotFound when the row is missing.
func (p *Postgres) SpendCoins(ctx context.Context, uid string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("spend coins: amount must be positive, got %d", amount)
	}

	var balance int64
	err := p.db.QueryRowContext(ctx, `
		UPDATE users
		SET user_coins = user_coins - $2
		WHERE uid = $1 AND user_coins >= $2
		RETURNING user_coins
	`, uid, amount).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		if _, ferr := p.FetchUser(ctx, uid); ferr != nil {
			return 0, fmt.Errorf("spend coins: %w", ferr)
		}
		return 0, fmt.Errorf("spend %d coins for %q: %w", amount, uid, ErrInsufficientCoins)
	}
	if err != nil {
		return 0, fmt.Errorf("spend coins for %q: %w", uid, err)
	}
	return balance, nil
}

// AddCoins credits amount to uid, creating the row if needed, and returns
// the new balance.
func (p *Postgres) AddCoins(ctx context.Context, uid string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("add coins: amount must be positive, got %d", amount)
	}

	var balance int64
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO users (uid, user_coins, subscription_active)
		VALUES ($1, $2, FALSE)
		ON CONFLICT (uid) DO UPDATE SET user_coins = users.user_coins + EXCLUDED.user_coins
		RETURNING user_coins
	`, uid, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("add coins for %q: %w", uid, err)
	}
	return balance, nil
}

// SetSubscriptionActive updates the pro flag for uid.
func (p *Postgres) SetSubscriptionActive(ctx context.Context, uid string, active bool) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE users SET subscription_active = $2 WHERE uid = $1
	`, uid, active)
	if err != nil {
		return fmt.Errorf("set subscription for %q: %w", uid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set subscription for %q: %w", uid, err)
	}
	if n == 0 {
		return fmt.Errorf("set subscription for %q: %w", uid, ErrUserNotFound)
	}
	return nil
}

// CreditCoins credits amount to uid once per eventID. A redelivered event
// returns the current balance with applied=false.
func (p *Postgres) CreditCoins(ctx context.Context, eventID, uid string, amount int64) (balance int64, applied bool, err error) {
	if amount <= 0 {
		return 0, false, fmt.Errorf("credit coins: amount must be positive, got %d", amount)
	}

	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, false, fmt.Errorf("credit coins: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO coin_credits (event_id, uid, coins)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, uid, amount)
	if err != nil {
		return 0, false, fmt.Errorf("credit coins: record %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("credit coins: record %s: %w", eventID, err)
	}

	if n == 0 {
		err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(user_coins, 0) FROM users WHERE uid = $1
		`, uid).Scan(&balance)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return 0, false, fmt.Errorf("credit coins: read balance: %w", err)
		}
		return balance, false, tx.Commit()
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO users (uid, user_coins, subscription_active)
		VALUES ($1, $2, FALSE)
		ON CONFLICT (uid) DO UPDATE SET user_coins = users.user_coins + EXCLUDED.user_coins
		RETURNING user_coins
	`, uid, amount).Scan(&balance)
	if err != nil {
		return 0, false, fmt.Errorf("credit coins for %q: %w", uid, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("credit coins: commit: %w", err)
	}
	return balance, true, nil
}
