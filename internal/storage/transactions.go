package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"spendly/internal/core"
)

const transactionColumns = `id, username, type, category, amount, occurred_at, note, payment_method, recurring, version, created_at, updated_at`

// SaveTransaction inserts a new transaction at version 1.
func (r *SQLiteRepository) SaveTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	now := r.now().UTC()
	if t.Version == 0 {
		t.Version = 1
	}
	t.CreatedAt, t.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Username, string(t.Type), string(t.Category), t.Amount.String(),
		toMillis(t.OccurredAt), t.Note, t.PaymentMethod, t.Recurring, t.Version,
		toMillis(now), toMillis(now))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("insert transaction: %w", err)
	}

	slog.DebugContext(ctx, "Transaction saved to SQLite",
		"id", t.ID,
		"username", t.Username,
		"type", t.Type,
		"amount", t.Amount.String())

	return t, nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, id string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		return core.Transaction{}, notFound(err, "transaction", id)
	}
	return t, nil
}

// ListTransactionsByUser returns every transaction of username, newest first.
func (r *SQLiteRepository) ListTransactionsByUser(ctx context.Context, username string) ([]core.Transaction, error) {
	return r.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE username = ?
		ORDER BY occurred_at DESC, id`, username)
}

// ListTransactionsBetween returns transactions with from <= occurred_at < to.
func (r *SQLiteRepository) ListTransactionsBetween(ctx context.Context, username string, from, to time.Time) ([]core.Transaction, error) {
	return r.queryTransactions(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE username = ? AND occurred_at >= ? AND occurred_at < ?
		ORDER BY occurred_at DESC, id`, username, toMillis(from), toMillis(to))
}

// UpdateTransaction replaces the mutable fields of t when its stored version
// still matches and returns the row at its new version.
func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	now := r.now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions
		SET type = ?, category = ?, amount = ?, occurred_at = ?, note = ?,
		    payment_method = ?, recurring = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`,
		string(t.Type), string(t.Category), t.Amount.String(), toMillis(t.OccurredAt), t.Note,
		t.PaymentMethod, t.Recurring, toMillis(now), t.ID, t.Version)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction rows: %w", err)
	}
	if n == 0 {
		if _, err := r.GetTransaction(ctx, t.ID); err != nil {
			return core.Transaction{}, err
		}
		return core.Transaction{}, fmt.Errorf("update transaction %s: stale version %d", t.ID, t.Version)
	}

	t.Version++
	t.UpdatedAt = now
	return t, nil
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("transaction", id)
	}
	return nil
}

func (r *SQLiteRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		t                          core.Transaction
		typ, category              string
		occurred, created, updated int64
	)
	err := row.Scan(&t.ID, &t.Username, &typ, &category, &t.Amount, &occurred,
		&t.Note, &t.PaymentMethod, &t.Recurring, &t.Version, &created, &updated)
	if err != nil {
		return core.Transaction{}, err
	}
	t.Type = core.TransactionType(typ)
	t.Category = core.Category(category)
	t.OccurredAt = fromMillis(occurred)
	t.CreatedAt = fromMillis(created)
	t.UpdatedAt = fromMillis(updated)
	return t, nil
}
