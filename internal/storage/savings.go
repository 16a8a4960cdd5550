package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// GetSavings returns the running balance of username, zero when no row exists.
func (r *SQLiteRepository) GetSavings(ctx context.Context, username string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.db.QueryRowContext(ctx, `SELECT balance FROM savings WHERE username = ?`, username).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get savings: %w", err)
	}
	return balance, nil
}

// ApplySavingsDelta adds delta to the balance of username unless dedupeKey
// was already applied. The key and the new balance are written in the same
// transaction. A first touch creates the row holding delta.
func (r *SQLiteRepository) ApplySavingsDelta(ctx context.Context, username string, delta decimal.Decimal, dedupeKey string) (balance decimal.Decimal, applied bool, err error) {
	now := toMillis(r.now())

	err = r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO ledger_applied (dedupe_key, username, applied_at)
			VALUES (?, ?, ?)`, dedupeKey, username, now)
		if err != nil {
			return fmt.Errorf("record ledger key: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("record ledger key rows: %w", err)
		}

		var current decimal.Decimal
		err = tx.QueryRowContext(ctx, `SELECT balance FROM savings WHERE username = ?`, username).Scan(&current)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			current = decimal.Zero
		case err != nil:
			return fmt.Errorf("read savings: %w", err)
		}

		if n == 0 {
			balance = current
			return nil
		}

		balance = current.Add(delta)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO savings (username, balance, updated_at) VALUES (?, ?, ?)
			ON CONFLICT (username) DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at`,
			username, balance.String(), now)
		if err != nil {
			return fmt.Errorf("write savings: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return decimal.Zero, false, err
	}
	return balance, applied, nil
}
