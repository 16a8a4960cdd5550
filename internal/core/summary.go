package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Summary is a user's lifetime income and expense totals.
type Summary struct {
	TotalIncome      decimal.Decimal `json:"totalIncome"`
	TotalExpense     decimal.Decimal `json:"totalExpense"`
	RemainingBalance decimal.Decimal `json:"remainingBalance"`
}

// NewSummary derives the remaining balance from the two totals.
func NewSummary(income, expense decimal.Decimal) Summary {
	return Summary{
		TotalIncome:      RoundMoney(income),
		TotalExpense:     RoundMoney(expense),
		RemainingBalance: RoundMoney(income.Sub(expense)),
	}
}

// CategoryAmount is an amount aggregated under one category.
type CategoryAmount struct {
	Category Category        `json:"category"`
	Amount   decimal.Decimal `json:"amount"`
}

// Period identifies a calendar month in UTC.
type Period struct {
	Year  int
	Month time.Month
}

func NewPeriod(year int, month time.Month) Period {
	return PeriodOf(time.Date(year, month, 1, 0, 0, 0, 0, time.UTC))
}

// PeriodOf returns the UTC calendar month containing t.
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: t.Month()}
}

// Add moves the period by n months; n may be negative.
func (p Period) Add(n int) Period {
	return PeriodOf(p.Start().AddDate(0, n, 0))
}

// Start is the first instant of the month.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the first instant of the following month.
func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, 0)
}

func (p Period) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start()) && t.Before(p.End())
}

func (p Period) Before(o Period) bool {
	if p.Year != o.Year {
		return p.Year < o.Year
	}
	return p.Month < o.Month
}

func (p Period) Valid() bool {
	return p.Year > 0 && p.Month >= time.January && p.Month <= time.December
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// ParsePeriod reads a "YYYY-MM" month.
func ParsePeriod(raw string) (Period, error) {
	t, err := time.Parse("2006-01", strings.TrimSpace(raw))
	if err != nil {
		return Period{}, Validation("month", "month must be formatted YYYY-MM, got %q", raw)
	}
	return PeriodOf(t), nil
}
