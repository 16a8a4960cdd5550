package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"spendly/internal/core"
)

const goalColumns = `id, username, name, target, saved, progress, status, target_date, created_at, updated_at`

func (r *SQLiteRepository) SaveGoal(ctx context.Context, g core.Goal) (core.Goal, error) {
	now := r.now().UTC()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	g.CreatedAt, g.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO goals (`+goalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.Username, g.Name, g.Target.String(), g.Saved.String(), g.Progress.String(),
		string(g.Status), toMillis(g.TargetDate), toMillis(now), toMillis(now))
	if err != nil {
		return core.Goal{}, fmt.Errorf("insert goal: %w", err)
	}
	return g, nil
}

func (r *SQLiteRepository) GetGoal(ctx context.Context, id string) (core.Goal, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE id = ?`, id)
	g, err := scanGoal(row)
	if err != nil {
		return core.Goal{}, notFound(err, "goal", id)
	}
	return g, nil
}

func (r *SQLiteRepository) ListGoals(ctx context.Context, username string) ([]core.Goal, error) {
	return r.queryGoals(ctx, `
		SELECT `+goalColumns+` FROM goals WHERE username = ? ORDER BY created_at, id`, username)
}

// ListOpenGoals returns the goals that still receive progress distribution.
func (r *SQLiteRepository) ListOpenGoals(ctx context.Context, username string) ([]core.Goal, error) {
	return r.queryGoals(ctx, `
		SELECT `+goalColumns+` FROM goals
		WHERE username = ? AND status IN (?, ?)
		ORDER BY created_at, id`, username, string(core.GoalActive), string(core.GoalCompleted))
}

func (r *SQLiteRepository) UpdateGoal(ctx context.Context, g core.Goal) (core.Goal, error) {
	var out core.Goal
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		out, err = r.updateGoal(ctx, tx, g)
		return err
	})
	return out, err
}

// SaveGoals updates goals in a single transaction.
func (r *SQLiteRepository) SaveGoals(ctx context.Context, goals []core.Goal) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, g := range goals {
			if _, err := r.updateGoal(ctx, tx, g); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveGoalsForEvent writes goals and records eventKey for consumer in one
// transaction. It returns false without writing when the event was already
// processed.
func (r *SQLiteRepository) SaveGoalsForEvent(ctx context.Context, consumer, eventKey string, goals []core.Goal) (bool, error) {
	applied := false
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		first, err := markProcessed(ctx, tx, consumer, eventKey, toMillis(r.now()))
		if err != nil || !first {
			return err
		}
		for _, g := range goals {
			if _, err := r.updateGoal(ctx, tx, g); err != nil {
				return err
			}
		}
		applied = true
		return nil
	})
	return applied, err
}

// IsEventProcessed reports whether consumer already handled eventKey.
func (r *SQLiteRepository) IsEventProcessed(ctx context.Context, consumer, eventKey string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM processed_events WHERE consumer = ? AND event_key = ?`,
		consumer, eventKey).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return n > 0, nil
}

func (r *SQLiteRepository) DeleteGoal(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM goals WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete goal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.NotFound("goal", id)
	}
	return nil
}

// CountGoals returns the number of goals of username and how many reached
// their target. Completed goals count as achieved.
func (r *SQLiteRepository) CountGoals(ctx context.Context, username string) (core.GoalSummary, error) {
	var s core.GoalSummary
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN status IN (?, ?) THEN 1 ELSE 0 END), 0)
		FROM goals WHERE username = ?`, string(core.GoalAchieved), string(core.GoalCompleted), username).
		Scan(&s.TotalGoals, &s.AchievedGoals)
	if err != nil {
		return core.GoalSummary{}, fmt.Errorf("count goals: %w", err)
	}
	return s, nil
}

func (r *SQLiteRepository) updateGoal(ctx context.Context, tx *sql.Tx, g core.Goal) (core.Goal, error) {
	g.UpdatedAt = r.now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE goals
		SET name = ?, target = ?, saved = ?, progress = ?, status = ?, target_date = ?, updated_at = ?
		WHERE id = ?`,
		g.Name, g.Target.String(), g.Saved.String(), g.Progress.String(), string(g.Status),
		toMillis(g.TargetDate), toMillis(g.UpdatedAt), g.ID)
	if err != nil {
		return core.Goal{}, fmt.Errorf("update goal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Goal{}, core.NotFound("goal", g.ID)
	}
	return g, nil
}

func (r *SQLiteRepository) queryGoals(ctx context.Context, query string, args ...any) ([]core.Goal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query goals: %w", err)
	}
	defer rows.Close()

	var out []core.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGoal(row rowScanner) (core.Goal, error) {
	var (
		g                        core.Goal
		status                   string
		targetDate, created, upd int64
	)
	err := row.Scan(&g.ID, &g.Username, &g.Name, &g.Target, &g.Saved, &g.Progress,
		&status, &targetDate, &created, &upd)
	if err != nil {
		return core.Goal{}, err
	}
	g.Status = core.GoalStatus(status)
	g.TargetDate = fromMillis(targetDate)
	g.CreatedAt = fromMillis(created)
	g.UpdatedAt = fromMillis(upd)
	return g, nil
}

func markProcessed(ctx context.Context, tx *sql.Tx, consumer, key string, at int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO processed_events (consumer, event_key, processed_at)
		VALUES (?, ?, ?)`, consumer, key, at)
	if err != nil {
		return false, fmt.Errorf("record processed event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record processed event rows: %w", err)
	}
	return n > 0, nil
}
