// Package insights scores a user's overall financial health.
package insights

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"spendly/internal/analytics"
	"spendly/internal/core"
	"spendly/internal/log"
)

const (
	// StabilityMonths is the window of the expense stability component.
	StabilityMonths = 6

	savingsWeight   = 40
	stabilityWeight = 30
	goalsWeight     = 30
)

type Analytics interface {
	Summary(ctx context.Context, username string) (core.Summary, error)
	MonthlyExpenseSeries(ctx context.Context, username string, months int) ([]analytics.MonthTotal, error)
}

type Savings interface {
	Balance(ctx context.Context, username string) (decimal.Decimal, error)
}

// GoalSummaries reads goal counts from the goal service. An unreachable
// service must be reported as core.ErrUpstreamUnavailable.
type GoalSummaries interface {
	GoalSummary(ctx context.Context, username string) (core.GoalSummary, error)
}

// HealthScore is a 0-100 composite with its normalized components.
type HealthScore struct {
	Score              int64           `json:"score"`
	SavingsRatio       decimal.Decimal `json:"savingsRatio"`
	ExpenseStability   decimal.Decimal `json:"expenseStability"`
	GoalCompletionRate decimal.Decimal `json:"goalCompletionRate"`
	Feedback           string          `json:"feedback"`
}

type HealthService struct {
	analytics Analytics
	savings   Savings
	goals     GoalSummaries
	logger    *log.Logger
}

func NewHealthService(a Analytics, savings Savings, goals GoalSummaries, logger *log.Logger) *HealthService {
	return &HealthService{
		analytics: a,
		savings:   savings,
		goals:     goals,
		logger:    logger.WithComponent(log.ComponentInsights),
	}
}

// Score combines savings ratio (40 points), expense stability over the last
// six months (30 points) and goal completion (30 points). A goal service
// outage fails the score instead of counting as zero completion.
func (s *HealthService) Score(ctx context.Context, username string) (HealthScore, error) {
	if strings.TrimSpace(username) == "" {
		return HealthScore{}, core.Validation("username", "username is required")
	}

	summary, err := s.analytics.Summary(ctx, username)
	if err != nil {
		return HealthScore{}, fmt.Errorf("summary: %w", err)
	}
	balance, err := s.savings.Balance(ctx, username)
	if err != nil {
		return HealthScore{}, fmt.Errorf("savings balance: %w", err)
	}
	series, err := s.analytics.MonthlyExpenseSeries(ctx, username, StabilityMonths)
	if err != nil {
		return HealthScore{}, fmt.Errorf("expense series: %w", err)
	}
	goals, err := s.goals.GoalSummary(ctx, username)
	if err != nil {
		s.logger.WarnContext(ctx, "Unable to fetch goal summary",
			log.FieldUsername, username,
			log.FieldError, err)
		return HealthScore{}, err
	}

	savingsRatio := SavingsRatio(balance, summary.TotalIncome)
	stability := 1 - Volatility(series)
	completion := CompletionRate(goals)

	score := math.Round(savingsRatio*savingsWeight + stability*stabilityWeight + completion*goalsWeight)

	return HealthScore{
		Score:              int64(score),
		SavingsRatio:       ratio(savingsRatio),
		ExpenseStability:   ratio(stability),
		GoalCompletionRate: ratio(completion),
		Feedback:           Feedback(score, savingsRatio, completion),
	}, nil
}

// SavingsRatio is balance over income clamped to [0, 1]; zero without income.
func SavingsRatio(balance, income decimal.Decimal) float64 {
	if !income.IsPositive() {
		return 0
	}
	return clamp(balance.Div(income).InexactFloat64())
}

// Volatility is the population standard deviation of the monthly expense
// totals divided by their mean, clamped to [0, 1]. No spending is perfectly
// stable.
func Volatility(series []analytics.MonthTotal) float64 {
	if len(series) == 0 {
		return 0
	}
	values := make([]float64, len(series))
	var sum float64
	for i, m := range series {
		values[i] = m.Amount.InexactFloat64()
		sum += values[i]
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))
	return clamp(math.Sqrt(variance) / mean)
}

// CompletionRate is achieved over total goals; zero without goals.
func CompletionRate(g core.GoalSummary) float64 {
	if g.TotalGoals <= 0 {
		return 0
	}
	return clamp(float64(g.AchievedGoals) / float64(g.TotalGoals))
}

// Feedback explains the score band to the user.
func Feedback(score, savingsRatio, completion float64) string {
	switch {
	case score >= 80:
		return fmt.Sprintf("Your financial health is %.0f, excellent! Maintain your habits to keep momentum.", score)
	case score >= 60:
		return fmt.Sprintf("Your financial health is %.0f, good! Try saving %.0f%% more to improve.",
			score, math.Max(10, (1-savingsRatio)*100))
	case score >= 40:
		return fmt.Sprintf("Your financial health is %.0f, fair. Focus on stabilizing monthly expenses; completion rate at %.0f%% can improve.",
			score, completion*100)
	default:
		return fmt.Sprintf("Your financial health is %.0f and needs attention. Increase savings and revisit your goals to get back on track.", score)
	}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func ratio(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}
