package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spendly/internal/core"
)

type staticLister struct {
	txs []core.Transaction
	err error
}

func (s staticLister) ListTransactionsByUser(context.Context, string) ([]core.Transaction, error) {
	return s.txs, s.err
}

var now = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return now }

func expense(category core.Category, amount string, at time.Time) core.Transaction {
	return core.Transaction{Username: "u", Type: core.Expense, Category: category, Amount: decimal.RequireFromString(amount), OccurredAt: at}
}

func income(amount string, at time.Time) core.Transaction {
	return core.Transaction{Username: "u", Type: core.Income, Category: core.CategorySalary, Amount: decimal.RequireFromString(amount), OccurredAt: at}
}

func month(m time.Month, day int) time.Time {
	y := 2025
	if m > time.March {
		y = 2024
	}
	return time.Date(y, m, day, 10, 0, 0, 0, time.UTC)
}

func fixture() []core.Transaction {
	return []core.Transaction{
		income("3000", month(time.March, 1)),
		income("3000", month(time.February, 1)),
		expense(core.CategoryFood, "200", month(time.March, 3)),
		expense(core.CategoryFood, "100", month(time.March, 10)),
		expense(core.CategoryFood, "150", month(time.February, 3)),
		expense(core.CategoryRent, "900", month(time.January, 1)),
		expense(core.CategoryUtilities, "60", month(time.December, 5)),
	}
}

func TestSummary(t *testing.T) {
	a := NewAggregator(staticLister{txs: fixture()}, clock)
	s, err := a.Summary(context.Background(), "u")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if !s.TotalIncome.Equal(decimal.NewFromInt(6000)) || !s.TotalExpense.Equal(decimal.NewFromInt(1410)) || !s.RemainingBalance.Equal(decimal.NewFromInt(4590)) {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestEmptyUserYieldsZeros(t *testing.T) {
	a := NewAggregator(staticLister{}, clock)
	ctx := context.Background()

	s, err := a.Summary(ctx, "ghost")
	if err != nil || !s.TotalIncome.IsZero() || !s.RemainingBalance.IsZero() {
		t.Fatalf("Summary = %+v, %v", s, err)
	}
	cur, err := a.CurrentMonthExpenseByCategory(ctx, "ghost")
	if err != nil || len(cur) != 0 {
		t.Fatalf("CurrentMonthExpenseByCategory = %v, %v", cur, err)
	}
	series, err := a.MonthlyExpenseSeries(ctx, "ghost", 3)
	if err != nil || len(series) != 3 {
		t.Fatalf("MonthlyExpenseSeries = %v, %v", series, err)
	}
	for _, m := range series {
		if !m.Amount.IsZero() {
			t.Fatalf("expected zero month, got %v", m)
		}
	}
}

func TestCurrentMonthAndCategoryExpense(t *testing.T) {
	a := NewAggregator(staticLister{txs: fixture()}, clock)
	ctx := context.Background()

	cur, err := a.CurrentMonthExpenseByCategory(ctx, "u")
	if err != nil {
		t.Fatalf("CurrentMonthExpenseByCategory: %v", err)
	}
	if len(cur) != 1 || !cur[core.CategoryFood].Equal(decimal.NewFromInt(300)) {
		t.Fatalf("unexpected current month %v", cur)
	}

	feb, err := a.MonthlyCategoryExpense(ctx, "u", core.CategoryFood, core.NewPeriod(2025, time.February))
	if err != nil || !feb.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("MonthlyCategoryExpense = %s, %v", feb, err)
	}
}

func TestAverageExpenseByCategory(t *testing.T) {
	a := NewAggregator(staticLister{txs: fixture()}, clock)
	ctx := context.Background()

	avg, err := a.AverageExpenseByCategory(ctx, "u", 3)
	if err != nil {
		t.Fatalf("AverageExpenseByCategory: %v", err)
	}
	// FOOD: March 300, February 150 -> 225 over the two months with data.
	if !avg[core.CategoryFood].Equal(decimal.NewFromInt(225)) {
		t.Errorf("FOOD avg = %s, want 225", avg[core.CategoryFood])
	}
	if !avg[core.CategoryRent].Equal(decimal.NewFromInt(900)) {
		t.Errorf("RENT avg = %s, want 900", avg[core.CategoryRent])
	}
	if _, ok := avg[core.CategoryUtilities]; ok {
		t.Errorf("UTILITIES from December should be outside a 3 month window")
	}

	hist, err := a.HistoricalAverageByCategory(ctx, "u", 3)
	if err != nil {
		t.Fatalf("HistoricalAverageByCategory: %v", err)
	}
	if !hist[core.CategoryFood].Equal(decimal.NewFromInt(150)) {
		t.Errorf("historical FOOD avg = %s, want 150", hist[core.CategoryFood])
	}
	if !hist[core.CategoryUtilities].Equal(decimal.NewFromInt(60)) {
		t.Errorf("historical UTILITIES avg = %s, want 60", hist[core.CategoryUtilities])
	}

	for _, m := range []int{0, -2} {
		if _, err := a.AverageExpenseByCategory(ctx, "u", m); !errors.Is(err, core.ErrInvalidArgument) {
			t.Errorf("months=%d: expected invalid argument, got %v", m, err)
		}
	}
}

func TestAverageIsNotRounded(t *testing.T) {
	txs := []core.Transaction{
		expense(core.CategoryFood, "100", month(time.January, 5)),
		expense(core.CategoryFood, "100", month(time.February, 5)),
		expense(core.CategoryFood, "100.02", month(time.March, 5)),
	}
	a := NewAggregator(staticLister{txs: txs}, clock)

	avg, err := a.AverageExpenseByCategory(context.Background(), "u", 3)
	if err != nil {
		t.Fatalf("AverageExpenseByCategory: %v", err)
	}
	got := avg[core.CategoryFood]
	if got.Equal(decimal.RequireFromString("100.01")) {
		t.Fatalf("average rounded to cents: %s", got)
	}
	want := decimal.RequireFromString("300.02").Div(decimal.NewFromInt(3))
	if !got.Equal(want) {
		t.Fatalf("average = %s, want %s", got, want)
	}
}

func TestMonthlyExpenseSeriesOldestFirst(t *testing.T) {
	a := NewAggregator(staticLister{txs: fixture()}, clock)
	series, err := a.MonthlyExpenseSeries(context.Background(), "u", 4)
	if err != nil {
		t.Fatalf("MonthlyExpenseSeries: %v", err)
	}
	want := []struct {
		month  string
		amount int64
	}{
		{"2024-12", 60},
		{"2025-01", 900},
		{"2025-02", 150},
		{"2025-03", 300},
	}
	for i, w := range want {
		if series[i].Month != w.month || !series[i].Amount.Equal(decimal.NewFromInt(w.amount)) {
			t.Errorf("series[%d] = %s %s, want %s %d", i, series[i].Month, series[i].Amount, w.month, w.amount)
		}
	}
}

func TestAggregatorPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("boom")
	a := NewAggregator(staticLister{err: boom}, clock)
	if _, err := a.Summary(context.Background(), "u"); !errors.Is(err, boom) {
		t.Fatalf("expected store error, got %v", err)
	}
}
