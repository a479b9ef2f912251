package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/coinsync/internal/model"
)

// RecordBalance appends an applied balance update to balance_log.
// RecordedAt is stamped by the store when zero.
func (s *Store) RecordBalance(ctx context.Context, rec model.BalanceRecord) error {
	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO balance_log (uid, coins, source, seq, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		rec.UID,
		rec.Coins,
		rec.Source.String(),
		rec.Seq,
		recordedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record balance: %w", err)
	}
	return nil
}

// ReadBalanceLog returns the balance log for uid ordered by seq ASC, id ASC.
// An empty uid returns the log of every user.
// Returns an empty slice (not nil) when nothing was recorded.
func (s *Store) ReadBalanceLog(ctx context.Context, uid string) ([]model.BalanceRecord, error) {
	query := `
		SELECT uid, coins, source, seq, recorded_at
		FROM balance_log
	`
	var args []any
	if uid != "" {
		query += " WHERE uid = ?"
		args = append(args, uid)
	}
	query += " ORDER BY seq ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query balance log: %w", err)
	}
	defer rows.Close()

	records := []model.BalanceRecord{}
	for rows.Next() {
		var (
			rec        model.BalanceRecord
			source     string
			recordedAt int64
		)
		if err := rows.Scan(&rec.UID, &rec.Coins, &source, &rec.Seq, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan balance record: %w", err)
		}
		rec.Source, err = model.ParseSource(source)
		if err != nil {
			return nil, fmt.Errorf("scan balance record: %w", err)
		}
		rec.RecordedAt = time.UnixMilli(recordedAt).UTC()
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balance log: %w", err)
	}
	return records, nil
}

// LastSeq returns the highest seq recorded for uid, or 0.
// Sessions resume their logical clock from this value so the log stays
// monotonic across restarts.
func (s *Store) LastSeq(ctx context.Context, uid string) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM balance_log WHERE uid = ?
	`, uid).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq, nil
}
