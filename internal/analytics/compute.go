package analytics

import (
	"github.com/shopspring/decimal"

	"spendly/internal/core"
)

// MonthTotal is the expense total of one calendar month.
type MonthTotal struct {
	Period core.Period     `json:"-"`
	Month  string          `json:"month"`
	Amount decimal.Decimal `json:"amount"`
}

// Summarize totals income and expense over txs.
func Summarize(txs []core.Transaction) core.Summary {
	income, expense := decimal.Zero, decimal.Zero
	for _, t := range txs {
		switch t.Type {
		case core.Income:
			income = income.Add(t.Amount)
		case core.Expense:
			expense = expense.Add(t.Amount)
		}
	}
	return core.NewSummary(income, expense)
}

// InPeriod keeps the transactions that occurred within p.
func InPeriod(txs []core.Transaction, p core.Period) []core.Transaction {
	var out []core.Transaction
	for _, t := range txs {
		if p.Contains(t.OccurredAt) {
			out = append(out, t)
		}
	}
	return out
}

// ExpenseByCategory sums expenses per category within p. Categories without
// spend are absent from the map.
func ExpenseByCategory(txs []core.Transaction, p core.Period) map[core.Category]decimal.Decimal {
	out := make(map[core.Category]decimal.Decimal)
	for _, t := range txs {
		if !t.IsExpense() || !p.Contains(t.OccurredAt) {
			continue
		}
		out[t.Category] = out[t.Category].Add(t.Amount)
	}
	return out
}

// AverageByCategory averages per-category monthly expense over the months
// ending at last, inclusive. Only months with spend in a category count
// toward that category's average. Averages are exact; callers round when
// storing or displaying them.
func AverageByCategory(txs []core.Transaction, last core.Period, months int) map[core.Category]decimal.Decimal {
	sums := make(map[core.Category]decimal.Decimal)
	counts := make(map[core.Category]int64)
	for i := 0; i < months; i++ {
		for category, total := range ExpenseByCategory(txs, last.Add(-i)) {
			sums[category] = sums[category].Add(total)
			counts[category]++
		}
	}

	out := make(map[core.Category]decimal.Decimal, len(sums))
	for category, sum := range sums {
		out[category] = sum.Div(decimal.NewFromInt(counts[category]))
	}
	return out
}

// ExpenseSeries returns the expense total of each of the months ending at
// last, oldest first, with zero for months without expenses.
func ExpenseSeries(txs []core.Transaction, last core.Period, months int) []MonthTotal {
	out := make([]MonthTotal, months)
	for i := 0; i < months; i++ {
		p := last.Add(-(months - 1 - i))
		total := decimal.Zero
		for _, t := range txs {
			if t.IsExpense() && p.Contains(t.OccurredAt) {
				total = total.Add(t.Amount)
			}
		}
		out[i] = MonthTotal{Period: p, Month: p.String(), Amount: total}
	}
	return out
}
