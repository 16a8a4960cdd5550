// Package analytics derives read-only aggregates from a user's transactions.
//
// Every operation scans the full transaction set of one user. Callers cache.
// A user without transactions gets zero aggregates, never an error.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spendly/internal/core"
)

// TransactionLister is the slice of the transaction store the aggregator reads.
type TransactionLister interface {
	ListTransactionsByUser(ctx context.Context, username string) ([]core.Transaction, error)
}

type Aggregator struct {
	store TransactionLister
	now   func() time.Time
}

// NewAggregator returns an aggregator reading from store. A nil clock means
// time.Now.
func NewAggregator(store TransactionLister, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	return &Aggregator{store: store, now: now}
}

// CurrentPeriod is the calendar month the aggregator considers "now".
func (a *Aggregator) CurrentPeriod() core.Period {
	return core.PeriodOf(a.now())
}

func (a *Aggregator) Summary(ctx context.Context, username string) (core.Summary, error) {
	txs, err := a.load(ctx, username)
	if err != nil {
		return core.Summary{}, err
	}
	return Summarize(txs), nil
}

// MonthlyCategoryExpense sums the expenses of one category within period p.
func (a *Aggregator) MonthlyCategoryExpense(ctx context.Context, username string, category core.Category, p core.Period) (decimal.Decimal, error) {
	txs, err := a.load(ctx, username)
	if err != nil {
		return decimal.Zero, err
	}
	return ExpenseByCategory(txs, p)[category], nil
}

func (a *Aggregator) ExpenseByCategory(ctx context.Context, username string, p core.Period) (map[core.Category]decimal.Decimal, error) {
	txs, err := a.load(ctx, username)
	if err != nil {
		return nil, err
	}
	return ExpenseByCategory(txs, p), nil
}

func (a *Aggregator) CurrentMonthExpenseByCategory(ctx context.Context, username string) (map[core.Category]decimal.Decimal, error) {
	return a.ExpenseByCategory(ctx, username, a.CurrentPeriod())
}

// AverageExpenseByCategory averages per-category monthly expense over the
// trailing months, the current one included.
func (a *Aggregator) AverageExpenseByCategory(ctx context.Context, username string, months int) (map[core.Category]decimal.Decimal, error) {
	if months < 1 {
		return nil, core.InvalidArgument("months must be greater than zero, got %d", months)
	}
	txs, err := a.load(ctx, username)
	if err != nil {
		return nil, err
	}
	return AverageByCategory(txs, a.CurrentPeriod(), months), nil
}

// HistoricalAverageByCategory averages over the months strictly before the
// current one.
func (a *Aggregator) HistoricalAverageByCategory(ctx context.Context, username string, months int) (map[core.Category]decimal.Decimal, error) {
	if months < 1 {
		return nil, core.InvalidArgument("months must be greater than zero, got %d", months)
	}
	txs, err := a.load(ctx, username)
	if err != nil {
		return nil, err
	}
	return AverageByCategory(txs, a.CurrentPeriod().Add(-1), months), nil
}

// MonthlyExpenseSeries returns trailing monthly expense totals, oldest first.
func (a *Aggregator) MonthlyExpenseSeries(ctx context.Context, username string, months int) ([]MonthTotal, error) {
	if months < 1 {
		return nil, core.InvalidArgument("months must be greater than zero, got %d", months)
	}
	txs, err := a.load(ctx, username)
	if err != nil {
		return nil, err
	}
	return ExpenseSeries(txs, a.CurrentPeriod(), months), nil
}

// MonthTotals returns income and expense totals within period p.
func (a *Aggregator) MonthTotals(ctx context.Context, username string, p core.Period) (core.Summary, error) {
	txs, err := a.load(ctx, username)
	if err != nil {
		return core.Summary{}, err
	}
	return Summarize(InPeriod(txs, p)), nil
}

func (a *Aggregator) load(ctx context.Context, username string) ([]core.Transaction, error) {
	txs, err := a.store.ListTransactionsByUser(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("load transactions for %s: %w", username, err)
	}
	return txs, nil
}
