package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"spendly/internal/core"
)

const recurringColumns = `id, username, type, category, amount, note, payment_method, next_due, last_run`

func (r *SQLiteRepository) SaveRecurring(ctx context.Context, rt core.RecurringTransaction) (core.RecurringTransaction, error) {
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recurring_transactions (`+recurringColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rt.ID, rt.Username, string(rt.Type), string(rt.Category), rt.Amount.String(),
		rt.Note, rt.PaymentMethod, toMillis(rt.NextDue), toMillis(rt.LastRun))
	if err != nil {
		return core.RecurringTransaction{}, fmt.Errorf("insert recurring transaction: %w", err)
	}
	return rt, nil
}

// ListDueRecurring returns templates whose next due date is at or before now.
func (r *SQLiteRepository) ListDueRecurring(ctx context.Context, now time.Time) ([]core.RecurringTransaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recurringColumns+` FROM recurring_transactions
		WHERE next_due <= ?
		ORDER BY next_due, id`, toMillis(now))
	if err != nil {
		return nil, fmt.Errorf("list due recurring transactions: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringTransaction
	for rows.Next() {
		var (
			rt               core.RecurringTransaction
			typ, category    string
			nextDue, lastRun int64
		)
		if err := rows.Scan(&rt.ID, &rt.Username, &typ, &category, &rt.Amount, &rt.Note,
			&rt.PaymentMethod, &nextDue, &lastRun); err != nil {
			return nil, fmt.Errorf("scan recurring transaction: %w", err)
		}
		rt.Type = core.TransactionType(typ)
		rt.Category = core.Category(category)
		rt.NextDue = fromMillis(nextDue)
		rt.LastRun = fromMillis(lastRun)
		out = append(out, rt)
	}
	return out, rows.Err()
}

// AdvanceRecurring records a run and moves the template to its next due date.
func (r *SQLiteRepository) AdvanceRecurring(ctx context.Context, id string, ran, nextDue time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_transactions SET last_run = ?, next_due = ? WHERE id = ?`,
		toMillis(ran), toMillis(nextDue), id)
	if err != nil {
		return fmt.Errorf("advance recurring transaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("recurring transaction", id)
	}
	return nil
}
