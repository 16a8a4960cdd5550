// Package anomaly flags categories whose current-month spending runs well
// above the user's recent history.
package anomaly

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"spendly/internal/core"
	"spendly/internal/log"
	"spendly/internal/userlock"
)

const (
	// BaselineMonths is the number of completed months averaged as baseline.
	BaselineMonths = 3

	// RetentionMonths bounds how long detected anomalies are kept.
	RetentionMonths = 6
)

var (
	threshold   = decimal.RequireFromString("1.30")
	fullPercent = decimal.NewFromInt(100)
)

type Store interface {
	LatestAnomaly(ctx context.Context, username string, category core.Category) (core.Anomaly, error)
	SaveAnomaly(ctx context.Context, a core.Anomaly) (core.Anomaly, error)
	ListAnomalies(ctx context.Context, username string) ([]core.Anomaly, error)
	DeleteAnomaliesBefore(ctx context.Context, username string, cutoff time.Time) (int64, error)
}

type Analytics interface {
	CurrentMonthExpenseByCategory(ctx context.Context, username string) (map[core.Category]decimal.Decimal, error)
	HistoricalAverageByCategory(ctx context.Context, username string, months int) (map[core.Category]decimal.Decimal, error)
}

// ShouldFlag reports whether current spending is anomalous against avg and
// the deviation to record. A category without history flags at 100%.
func ShouldFlag(current, avg decimal.Decimal) (bool, decimal.Decimal) {
	if !current.IsPositive() {
		return false, decimal.Zero
	}
	if !avg.IsPositive() {
		return true, fullPercent
	}
	if !current.GreaterThan(avg.Mul(threshold)) {
		return false, decimal.Zero
	}
	return true, Deviation(current, avg)
}

// Deviation is how far current lies above avg, in percent of avg.
func Deviation(current, avg decimal.Decimal) decimal.Decimal {
	if avg.IsZero() {
		return fullPercent
	}
	return core.RoundMoney(current.Sub(avg).Div(avg).Mul(fullPercent))
}

// Message renders the text shown to the user for an anomaly.
func Message(category core.Category, deviation decimal.Decimal) string {
	return fmt.Sprintf("Your spending in %s is %s%% higher than usual.", category, deviation.StringFixed(2))
}

type Detector struct {
	store     Store
	analytics Analytics
	locks     *userlock.Locker
	logger    *log.Logger
	now       func() time.Time
}

func NewDetector(store Store, analytics Analytics, logger *log.Logger) *Detector {
	return &Detector{
		store:     store,
		analytics: analytics,
		locks:     userlock.New(),
		logger:    logger.WithComponent(log.ComponentAnomaly),
		now:       time.Now,
	}
}

// Detect evaluates the current month of username and returns the anomalies
// stored by this run. A category keeps one anomaly per calendar month: a
// repeated detection in the same month overwrites it.
func (d *Detector) Detect(ctx context.Context, username string) ([]core.Anomaly, error) {
	if username == "" {
		return nil, core.Validation("username", "username is required")
	}

	unlock := d.locks.Lock(username)
	defer unlock()

	now := d.now().UTC()
	d.purge(ctx, username, now)

	current, err := d.analytics.CurrentMonthExpenseByCategory(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("current month expense: %w", err)
	}
	averages, err := d.analytics.HistoricalAverageByCategory(ctx, username, BaselineMonths)
	if err != nil {
		return nil, fmt.Errorf("historical average: %w", err)
	}

	categories := make([]core.Category, 0, len(current))
	for c := range current {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	var detected []core.Anomaly
	for _, category := range categories {
		spend := current[category]
		avg := averages[category]
		flagged, deviation := ShouldFlag(spend, avg)
		if !flagged {
			continue
		}

		a, err := d.upsert(ctx, core.Anomaly{
			Username:          username,
			Category:          category,
			CurrentSpend:      core.RoundMoney(spend),
			HistoricalAverage: core.RoundMoney(avg),
			Deviation:         deviation,
			Message:           Message(category, deviation),
			DetectedAt:        now,
		})
		if err != nil {
			return detected, err
		}
		detected = append(detected, a)

		d.logger.InfoContext(ctx, "Spending anomaly detected",
			log.FieldUsername, username,
			log.FieldCategory, string(category),
			log.FieldSpent, a.CurrentSpend.String(),
			log.FieldDeviation, deviation.String())
	}
	return detected, nil
}

// HandleChange re-runs detection for the owner of an expense change.
func (d *Detector) HandleChange(ctx context.Context, change core.TransactionChange) error {
	if !change.TouchesExpense() {
		return nil
	}
	_, err := d.Detect(ctx, change.Username())
	return err
}

func (d *Detector) upsert(ctx context.Context, a core.Anomaly) (core.Anomaly, error) {
	latest, err := d.store.LatestAnomaly(ctx, a.Username, a.Category)
	switch {
	case err == nil:
		if core.PeriodOf(latest.DetectedAt) == core.PeriodOf(a.DetectedAt) {
			a.ID = latest.ID
		}
	case !errors.Is(err, core.ErrNotFound):
		return core.Anomaly{}, fmt.Errorf("latest anomaly: %w", err)
	}

	saved, err := d.store.SaveAnomaly(ctx, a)
	if err != nil {
		return core.Anomaly{}, core.PersistenceFailure("save anomaly", err)
	}
	return saved, nil
}

// purge drops anomalies past retention. Failure only delays the cleanup.
func (d *Detector) purge(ctx context.Context, username string, now time.Time) {
	cutoff := now.AddDate(0, -RetentionMonths, 0)
	n, err := d.store.DeleteAnomaliesBefore(ctx, username, cutoff)
	if err != nil {
		d.logger.WarnContext(ctx, "Failed to purge old anomalies",
			log.FieldUsername, username,
			log.FieldError, err)
		return
	}
	if n > 0 {
		d.logger.DebugContext(ctx, "Purged old anomalies",
			log.FieldUsername, username,
			"count", n)
	}
}

// List returns stored anomalies, most recent first, without recomputing.
func (d *Detector) List(ctx context.Context, username string) ([]core.Anomaly, error) {
	anomalies, err := d.store.ListAnomalies(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list anomalies: %w", err)
	}
	return anomalies, nil
}
