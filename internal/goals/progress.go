package goals

import (
	"github.com/shopspring/decimal"

	"spendly/internal/core"
)

var hundred = decimal.NewFromInt(100)

// Progress is saved as a percentage of target, rounded to cents.
func Progress(saved, target decimal.Decimal) decimal.Decimal {
	if !target.IsPositive() {
		return decimal.Zero
	}
	return core.RoundMoney(saved.Div(target).Mul(hundred))
}

// Distribute credits the user's net balance max(income-expense, 0) to open
// goals, each weighted by its outstanding amount. Saved amounts never exceed
// their target. It returns the updated goals and the subset that became
// ACHIEVED through this distribution.
func Distribute(goals []core.Goal, income, expense decimal.Decimal) (updated, achieved []core.Goal) {
	distributable := income.Sub(expense)
	if distributable.IsNegative() {
		distributable = decimal.Zero
	}

	total := decimal.Zero
	for _, g := range goals {
		total = total.Add(g.Outstanding())
	}

	updated = make([]core.Goal, 0, len(goals))
	for _, g := range goals {
		previous := g.Status

		allocation := decimal.Zero
		if total.IsPositive() {
			allocation = distributable.Mul(g.Outstanding()).Div(total)
		}
		saved := g.Saved.Add(allocation)
		if saved.GreaterThan(g.Target) {
			saved = g.Target
		}
		g.Saved = core.RoundMoney(saved)
		g.Progress = Progress(g.Saved, g.Target)

		if g.Saved.GreaterThanOrEqual(g.Target) {
			g.Status = core.GoalAchieved
			g.Progress = hundred
			if previous != core.GoalAchieved && previous != core.GoalCompleted {
				achieved = append(achieved, g)
			}
		}
		updated = append(updated, g)
	}
	return updated, achieved
}
