package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"spendly/internal/core"
)

const budgetColumns = `id, username, category, year, month, limit_amount, spent, status, recommended_limit, created_at, updated_at`

func (r *SQLiteRepository) GetBudget(ctx context.Context, username string, category core.Category, p core.Period) (core.Budget, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+budgetColumns+` FROM budgets
		WHERE username = ? AND category = ? AND year = ? AND month = ?`,
		username, string(category), p.Year, int(p.Month))
	b, err := scanBudget(row)
	if err != nil {
		return core.Budget{}, notFound(err, "budget", fmt.Sprintf("%s/%s/%s", username, category, p))
	}
	return b, nil
}

func (r *SQLiteRepository) GetBudgetByID(ctx context.Context, id string) (core.Budget, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id)
	b, err := scanBudget(row)
	if err != nil {
		return core.Budget{}, notFound(err, "budget", id)
	}
	return b, nil
}

// LatestBudgetBefore returns the most recent budget for the category strictly
// before period p.
func (r *SQLiteRepository) LatestBudgetBefore(ctx context.Context, username string, category core.Category, p core.Period) (core.Budget, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+budgetColumns+` FROM budgets
		WHERE username = ? AND category = ? AND (year < ? OR (year = ? AND month < ?))
		ORDER BY year DESC, month DESC
		LIMIT 1`,
		username, string(category), p.Year, p.Year, int(p.Month))
	b, err := scanBudget(row)
	if err != nil {
		return core.Budget{}, notFound(err, "budget", fmt.Sprintf("%s/%s before %s", username, category, p))
	}
	return b, nil
}

// SaveBudget upserts b on its (user, category, month, year) key. The stored
// id and creation time win over those of b.
func (r *SQLiteRepository) SaveBudget(ctx context.Context, b core.Budget) (core.Budget, error) {
	now := r.now().UTC()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now

	var recommended any
	if b.RecommendedLimit.Valid {
		recommended = b.RecommendedLimit.Decimal.String()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO budgets (`+budgetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (username, category, month, year) DO UPDATE SET
			limit_amount = excluded.limit_amount,
			spent = excluded.spent,
			status = excluded.status,
			recommended_limit = excluded.recommended_limit,
			updated_at = excluded.updated_at`,
		b.ID, b.Username, string(b.Category), b.Period.Year, int(b.Period.Month),
		b.Limit.String(), b.Spent.String(), string(b.Status), recommended,
		toMillis(b.CreatedAt), toMillis(b.UpdatedAt))
	if err != nil {
		return core.Budget{}, fmt.Errorf("save budget: %w", err)
	}

	return r.GetBudget(ctx, b.Username, b.Category, b.Period)
}

// ListBudgets returns the budgets of username for period p ordered by category.
func (r *SQLiteRepository) ListBudgets(ctx context.Context, username string, p core.Period) ([]core.Budget, error) {
	return r.queryBudgets(ctx, `
		SELECT `+budgetColumns+` FROM budgets
		WHERE username = ? AND year = ? AND month = ?
		ORDER BY category`, username, p.Year, int(p.Month))
}

// ListBudgetUsers returns the distinct owners of budgets.
func (r *SQLiteRepository) ListBudgetUsers(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT username FROM budgets ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list budget users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan budget user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *SQLiteRepository) queryBudgets(ctx context.Context, query string, args ...any) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query budgets: %w", err)
	}
	defer rows.Close()

	var out []core.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBudget(row rowScanner) (core.Budget, error) {
	var (
		b                core.Budget
		category, status string
		year, month      int
		created, updated int64
	)
	err := row.Scan(&b.ID, &b.Username, &category, &year, &month, &b.Limit, &b.Spent,
		&status, &b.RecommendedLimit, &created, &updated)
	if err != nil {
		return core.Budget{}, err
	}
	b.Category = core.Category(category)
	b.Period = core.Period{Year: year, Month: time.Month(month)}
	b.Status = core.BudgetStatus(status)
	b.CreatedAt = fromMillis(created)
	b.UpdatedAt = fromMillis(updated)
	return b, nil
}
