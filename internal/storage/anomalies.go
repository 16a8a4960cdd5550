package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"spendly/internal/core"
)

const anomalyColumns = `id, username, category, current_spend, historical_average, deviation, message, detected_at`

// LatestAnomaly returns the most recently detected anomaly for the category.
func (r *SQLiteRepository) LatestAnomaly(ctx context.Context, username string, category core.Category) (core.Anomaly, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+anomalyColumns+` FROM anomalies
		WHERE username = ? AND category = ?
		ORDER BY detected_at DESC
		LIMIT 1`, username, string(category))
	a, err := scanAnomaly(row)
	if err != nil {
		return core.Anomaly{}, notFound(err, "anomaly", username+"/"+string(category))
	}
	return a, nil
}

// SaveAnomaly inserts a or replaces the row with the same id.
func (r *SQLiteRepository) SaveAnomaly(ctx context.Context, a core.Anomaly) (core.Anomaly, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO anomalies (`+anomalyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			current_spend = excluded.current_spend,
			historical_average = excluded.historical_average,
			deviation = excluded.deviation,
			message = excluded.message,
			detected_at = excluded.detected_at`,
		a.ID, a.Username, string(a.Category), a.CurrentSpend.String(), a.HistoricalAverage.String(),
		a.Deviation.String(), a.Message, toMillis(a.DetectedAt))
	if err != nil {
		return core.Anomaly{}, fmt.Errorf("save anomaly: %w", err)
	}
	return a, nil
}

// ListAnomalies returns the anomalies of username, most recent first.
func (r *SQLiteRepository) ListAnomalies(ctx context.Context, username string) ([]core.Anomaly, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+anomalyColumns+` FROM anomalies
		WHERE username = ?
		ORDER BY detected_at DESC, category`, username)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	defer rows.Close()

	var out []core.Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, fmt.Errorf("scan anomaly: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAnomaliesBefore purges anomalies of username detected before cutoff.
func (r *SQLiteRepository) DeleteAnomaliesBefore(ctx context.Context, username string, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM anomalies WHERE username = ? AND detected_at < ?`,
		username, toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("purge anomalies: %w", err)
	}
	return res.RowsAffected()
}

func scanAnomaly(row rowScanner) (core.Anomaly, error) {
	var (
		a        core.Anomaly
		category string
		detected int64
	)
	err := row.Scan(&a.ID, &a.Username, &category, &a.CurrentSpend, &a.HistoricalAverage,
		&a.Deviation, &a.Message, &detected)
	if err != nil {
		return core.Anomaly{}, err
	}
	a.Category = core.Category(category)
	a.DetectedAt = fromMillis(detected)
	return a, nil
}
