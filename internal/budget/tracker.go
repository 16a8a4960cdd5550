// Package budget tracks per-category monthly budgets and derives
// recommendations for the following month.
//
// A budget row exists at most once per (user, category, month). Its status is
// always recomputed from stored transactions, so handling the same change
// twice converges on the same row.
package budget

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"spendly/internal/core"
	"spendly/internal/log"
	"spendly/internal/notify"
	"spendly/internal/userlock"
)

// RecommendationMonths is the trailing window used to average spending.
const RecommendationMonths = 3

// Store persists budget rows keyed by (user, category, month, year).
type Store interface {
	GetBudget(ctx context.Context, username string, category core.Category, p core.Period) (core.Budget, error)
	GetBudgetByID(ctx context.Context, id string) (core.Budget, error)
	LatestBudgetBefore(ctx context.Context, username string, category core.Category, p core.Period) (core.Budget, error)
	SaveBudget(ctx context.Context, b core.Budget) (core.Budget, error)
	ListBudgets(ctx context.Context, username string, p core.Period) ([]core.Budget, error)
}

// Analytics is the part of the aggregator the tracker reads.
type Analytics interface {
	CurrentPeriod() core.Period
	MonthlyCategoryExpense(ctx context.Context, username string, category core.Category, p core.Period) (decimal.Decimal, error)
	AverageExpenseByCategory(ctx context.Context, username string, months int) (map[core.Category]decimal.Decimal, error)
}

var defaultLimits = []struct {
	category core.Category
	limit    decimal.Decimal
}{
	{core.CategoryRent, decimal.NewFromInt(1500)},
	{core.CategoryFood, decimal.NewFromInt(600)},
	{core.CategoryTransport, decimal.NewFromInt(300)},
	{core.CategoryEntertainment, decimal.NewFromInt(250)},
	{core.CategoryUtilities, decimal.NewFromInt(200)},
}

var fallbackLimit = decimal.NewFromInt(300)

// DefaultLimit is the limit a category starts with when the user never had a
// budget for it.
func DefaultLimit(category core.Category) decimal.Decimal {
	for _, d := range defaultLimits {
		if d.category == category {
			return d.limit
		}
	}
	return fallbackLimit
}

// Recommendation suggests a limit for the month after the current one.
type Recommendation struct {
	Category       core.Category   `json:"category"`
	CurrentLimit   decimal.Decimal `json:"currentLimit"`
	SuggestedLimit decimal.Decimal `json:"suggestedLimit"`
	AverageSpend   decimal.Decimal `json:"averageSpend"`
	Month          int             `json:"month"`
	Year           int             `json:"year"`
	Note           string          `json:"recommendationNote"`
}

var (
	raiseFactor   = decimal.RequireFromString("1.10")
	lowerFactor   = decimal.RequireFromString("0.90")
	underuseRatio = decimal.RequireFromString("0.9")
)

// Recommend applies the adjustment rule: spending above the limit raises it
// by 10%, spending under 90% of it lowers it by 10%.
func Recommend(average, limit decimal.Decimal) (decimal.Decimal, string) {
	switch {
	case average.GreaterThan(limit):
		return core.RoundMoney(limit.Mul(raiseFactor)), "Spending trends are above limit. Suggested +10% adjustment."
	case average.LessThan(limit.Mul(underuseRatio)):
		return core.RoundMoney(limit.Mul(lowerFactor)), "Spending trends are below limit. Suggested -10% adjustment."
	default:
		return core.RoundMoney(limit), "No adjustment required"
	}
}

type Tracker struct {
	store     Store
	analytics Analytics
	sink      notify.Sink
	locks     *userlock.Locker
	logger    *log.Logger
}

func NewTracker(store Store, analytics Analytics, sink notify.Sink, logger *log.Logger) *Tracker {
	return &Tracker{
		store:     store,
		analytics: analytics,
		sink:      sink,
		locks:     userlock.New(),
		logger:    logger.WithComponent(log.ComponentBudget),
	}
}

type budgetKey struct {
	username string
	category core.Category
	period   core.Period
}

// HandleChange recomputes every budget an expense change touches: the old
// side and the new side may differ in category or month. Failures of one
// budget do not stop the others.
func (t *Tracker) HandleChange(ctx context.Context, change core.TransactionChange) error {
	var keys []budgetKey
	for _, side := range []*core.Transaction{change.New, change.Old} {
		if side == nil || !side.IsExpense() || side.Username == "" {
			continue
		}
		k := budgetKey{side.Username, side.Category, side.Period()}
		if len(keys) == 1 && keys[0] == k {
			continue
		}
		keys = append(keys, k)
	}

	var errs []error
	for _, k := range keys {
		if _, err := t.Recalculate(ctx, k.username, k.category, k.period); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recalculate refreshes spend and status of one budget, creating the row if
// needed. Crossing into OVERSPENT notifies the user.
func (t *Tracker) Recalculate(ctx context.Context, username string, category core.Category, p core.Period) (core.Budget, error) {
	unlock := t.locks.Lock(username)
	defer unlock()

	b, err := t.resolve(ctx, username, category, p)
	if err != nil {
		return core.Budget{}, err
	}
	return t.refresh(ctx, b)
}

func (t *Tracker) refresh(ctx context.Context, b core.Budget) (core.Budget, error) {
	previous := b.Status

	spent, err := t.analytics.MonthlyCategoryExpense(ctx, b.Username, b.Category, b.Period)
	if err != nil {
		return core.Budget{}, fmt.Errorf("compute spend for %s/%s: %w", b.Username, b.Category, err)
	}

	b.Spent = core.RoundMoney(spent)
	switch {
	case t.analytics.CurrentPeriod().Before(b.Period):
		// Months that have not started stay UPCOMING.
		b.Status = core.BudgetUpcoming
	case b.Spent.GreaterThan(b.Limit):
		b.Status = core.BudgetOverspent
	default:
		b.Status = core.BudgetOnTrack
	}

	saved, err := t.store.SaveBudget(ctx, b)
	if err != nil {
		return core.Budget{}, core.PersistenceFailure("save budget", err)
	}

	t.logger.DebugContext(ctx, "Budget recalculated", log.NewFields().WithBudget(saved).ToSlice()...)

	if saved.Status == core.BudgetOverspent && previous != core.BudgetOverspent {
		t.logger.InfoContext(ctx, "Budget overspent", log.NewFields().WithBudget(saved).ToSlice()...)
		if err := t.sink.NotifyBudgetExceeded(ctx, saved.Username, saved.Category, saved.Spent, saved.Limit); err != nil {
			t.logger.WarnContext(ctx, "Failed to send overspending notification",
				log.FieldUsername, saved.Username,
				log.FieldCategory, string(saved.Category),
				log.FieldError, err)
		}
	}
	return saved, nil
}

// ResolveBudget returns the stored budget for the key, creating it with an
// inherited or default limit when missing.
func (t *Tracker) ResolveBudget(ctx context.Context, username string, category core.Category, p core.Period) (core.Budget, error) {
	unlock := t.locks.Lock(username)
	defer unlock()
	return t.ensure(ctx, username, category, p)
}

func (t *Tracker) ensure(ctx context.Context, username string, category core.Category, p core.Period) (core.Budget, error) {
	b, err := t.resolve(ctx, username, category, p)
	if err != nil {
		return core.Budget{}, err
	}
	if b.ID != "" {
		return b, nil
	}
	saved, err := t.store.SaveBudget(ctx, b)
	if err != nil {
		return core.Budget{}, core.PersistenceFailure("create budget", err)
	}
	return saved, nil
}

// resolve loads the budget or builds an unsaved one. The limit comes from the
// latest earlier budget of the category, else from the default table.
func (t *Tracker) resolve(ctx context.Context, username string, category core.Category, p core.Period) (core.Budget, error) {
	b, err := t.store.GetBudget(ctx, username, category, p)
	if err == nil {
		return b, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.Budget{}, fmt.Errorf("get budget: %w", err)
	}

	limit := DefaultLimit(category)
	prior, err := t.store.LatestBudgetBefore(ctx, username, category, p)
	switch {
	case err == nil:
		limit = prior.Limit
	case !errors.Is(err, core.ErrNotFound):
		return core.Budget{}, fmt.Errorf("get prior budget: %w", err)
	}

	return core.Budget{
		Username: username,
		Category: category,
		Period:   p,
		Limit:    core.RoundMoney(limit),
		Spent:    decimal.Zero,
		Status:   core.BudgetOnTrack,
	}, nil
}

// CreateDefaultBudgets gives a new user one current-month budget per default
// category. Existing rows are kept as they are.
func (t *Tracker) CreateDefaultBudgets(ctx context.Context, username string) ([]core.Budget, error) {
	if username == "" {
		return nil, core.Validation("username", "username is required")
	}

	unlock := t.locks.Lock(username)
	defer unlock()

	p := t.analytics.CurrentPeriod()
	budgets := make([]core.Budget, 0, len(defaultLimits))
	for _, d := range defaultLimits {
		b, err := t.ensure(ctx, username, d.category, p)
		if err != nil {
			return nil, err
		}
		budgets = append(budgets, b)
	}

	t.logger.InfoContext(ctx, "Default budgets created",
		log.FieldUsername, username,
		log.FieldPeriod, p.String(),
		"count", len(budgets))
	return budgets, nil
}

// BudgetsFor lists the budgets of a month. The zero period means the current
// month.
func (t *Tracker) BudgetsFor(ctx context.Context, username string, p core.Period) ([]core.Budget, error) {
	if !p.Valid() {
		p = t.analytics.CurrentPeriod()
	}
	budgets, err := t.store.ListBudgets(ctx, username, p)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	return budgets, nil
}

// UpdateLimit changes the limit of a budget and recomputes its status.
// Upcoming budgets keep their status until their month starts.
func (t *Tracker) UpdateLimit(ctx context.Context, id string, limit decimal.Decimal) (core.Budget, error) {
	if !limit.IsPositive() {
		return core.Budget{}, core.Validation("limit", "limit must be greater than zero")
	}

	b, err := t.store.GetBudgetByID(ctx, id)
	if err != nil {
		return core.Budget{}, err
	}

	unlock := t.locks.Lock(b.Username)
	defer unlock()

	b.Limit = core.RoundMoney(limit)
	if b.Status == core.BudgetUpcoming {
		saved, err := t.store.SaveBudget(ctx, b)
		if err != nil {
			return core.Budget{}, core.PersistenceFailure("save budget", err)
		}
		return saved, nil
	}
	return t.refresh(ctx, b)
}

// GenerateRecommendations compares the 3-month average spend of each category
// with its current limit and stores the suggestion as next month's UPCOMING
// budget.
func (t *Tracker) GenerateRecommendations(ctx context.Context, username string) ([]Recommendation, error) {
	unlock := t.locks.Lock(username)
	defer unlock()

	averages, err := t.analytics.AverageExpenseByCategory(ctx, username, RecommendationMonths)
	if err != nil {
		return nil, fmt.Errorf("average expense: %w", err)
	}

	categories := make([]core.Category, 0, len(averages))
	for c := range averages {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	current := t.analytics.CurrentPeriod()
	next := current.Add(1)

	recs := make([]Recommendation, 0, len(categories))
	for _, category := range categories {
		avg := averages[category]

		cur, err := t.ensure(ctx, username, category, current)
		if err != nil {
			return nil, err
		}
		suggested, note := Recommend(avg, cur.Limit)

		upcoming, err := t.resolve(ctx, username, category, next)
		if err != nil {
			return nil, err
		}
		upcoming.Limit = suggested
		upcoming.Status = core.BudgetUpcoming
		upcoming.RecommendedLimit = decimal.NewNullDecimal(suggested)
		if _, err := t.store.SaveBudget(ctx, upcoming); err != nil {
			return nil, core.PersistenceFailure("save recommendation", err)
		}

		recs = append(recs, Recommendation{
			Category:       category,
			CurrentLimit:   cur.Limit,
			SuggestedLimit: suggested,
			AverageSpend:   core.RoundMoney(avg),
			Month:          int(next.Month),
			Year:           next.Year,
			Note:           note,
		})
	}

	t.logger.InfoContext(ctx, "Budget recommendations generated",
		log.FieldUsername, username,
		log.FieldPeriod, next.String(),
		"count", len(recs))
	return recs, nil
}
