package http

import (
	"time"

	"github.com/shopspring/decimal"

	"spendly/internal/core"
	"spendly/internal/goals"
)

type transactionRequest struct {
	Username      string          `json:"username"`
	Type          string          `json:"transactionType"`
	Category      string          `json:"category"`
	Amount        decimal.Decimal `json:"amount"`
	OccurredAt    string          `json:"occurredAt"`
	Note          *string         `json:"note"`
	PaymentMethod string          `json:"paymentMethod"`
	Recurring     bool            `json:"recurring"`
}

func (req transactionRequest) input() (core.TransactionInput, error) {
	occurred, err := parseDate("occurredAt", req.OccurredAt)
	if err != nil {
		return core.TransactionInput{}, err
	}
	if req.Note == nil {
		return core.TransactionInput{}, core.Validation("note", "note is required (may be empty)")
	}
	return core.TransactionInput{
		Username:      req.Username,
		Type:          core.TransactionType(req.Type),
		Category:      core.Category(req.Category),
		Amount:        req.Amount,
		OccurredAt:    occurred,
		Note:          *req.Note,
		PaymentMethod: req.PaymentMethod,
		Recurring:     req.Recurring,
	}, nil
}

type transactionView struct {
	ID            string               `json:"id"`
	Username      string               `json:"username"`
	Type          core.TransactionType `json:"transactionType"`
	Category      core.Category        `json:"category"`
	Amount        decimal.Decimal      `json:"amount"`
	OccurredAt    time.Time            `json:"occurredAt"`
	Note          string               `json:"note"`
	PaymentMethod string               `json:"paymentMethod,omitempty"`
	Recurring     bool                 `json:"recurring"`
	Version       int64                `json:"version"`
	CreatedAt     time.Time            `json:"createdAt"`
	UpdatedAt     time.Time            `json:"updatedAt"`
}

func newTransactionView(t core.Transaction) transactionView {
	return transactionView{
		ID:            t.ID,
		Username:      t.Username,
		Type:          t.Type,
		Category:      t.Category,
		Amount:        t.Amount,
		OccurredAt:    t.OccurredAt,
		Note:          t.Note,
		PaymentMethod: t.PaymentMethod,
		Recurring:     t.Recurring,
		Version:       t.Version,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

func newTransactionViews(txs []core.Transaction) []transactionView {
	out := make([]transactionView, 0, len(txs))
	for _, t := range txs {
		out = append(out, newTransactionView(t))
	}
	return out
}

type pageView struct {
	Items []transactionView `json:"items"`
	Page  int               `json:"page"`
	Size  int               `json:"size"`
	Total int               `json:"total"`
}

type savingsView struct {
	Username string          `json:"username"`
	Balance  decimal.Decimal `json:"balance"`
}

type monthTotalsView struct {
	Month string `json:"month"`
	core.Summary
}

type budgetView struct {
	ID               string              `json:"id"`
	Username         string              `json:"username"`
	Category         core.Category       `json:"category"`
	Month            int                 `json:"month"`
	Year             int                 `json:"year"`
	Limit            decimal.Decimal     `json:"limit"`
	Spent            decimal.Decimal     `json:"spent"`
	Status           core.BudgetStatus   `json:"status"`
	RecommendedLimit decimal.NullDecimal `json:"recommendedLimit"`
}

func newBudgetViews(budgets []core.Budget) []budgetView {
	out := make([]budgetView, 0, len(budgets))
	for _, b := range budgets {
		out = append(out, newBudgetView(b))
	}
	return out
}

func newBudgetView(b core.Budget) budgetView {
	return budgetView{
		ID:               b.ID,
		Username:         b.Username,
		Category:         b.Category,
		Month:            int(b.Period.Month),
		Year:             b.Period.Year,
		Limit:            b.Limit,
		Spent:            b.Spent,
		Status:           b.Status,
		RecommendedLimit: b.RecommendedLimit,
	}
}

type budgetLimitRequest struct {
	Limit decimal.Decimal `json:"limit"`
}

type anomalyView struct {
	ID                string          `json:"id"`
	Username          string          `json:"username"`
	Category          core.Category   `json:"category"`
	CurrentSpend      decimal.Decimal `json:"currentSpend"`
	HistoricalAverage decimal.Decimal `json:"historicalAverage"`
	Deviation         decimal.Decimal `json:"deviationPercentage"`
	Message           string          `json:"message"`
	DetectedAt        time.Time       `json:"detectedAt"`
}

func newAnomalyViews(anomalies []core.Anomaly) []anomalyView {
	out := make([]anomalyView, 0, len(anomalies))
	for _, a := range anomalies {
		out = append(out, anomalyView{
			ID:                a.ID,
			Username:          a.Username,
			Category:          a.Category,
			CurrentSpend:      a.CurrentSpend,
			HistoricalAverage: a.HistoricalAverage,
			Deviation:         a.Deviation,
			Message:           a.Message,
			DetectedAt:        a.DetectedAt,
		})
	}
	return out
}

type reportRequest struct {
	Format string `json:"format"`
	Start  string `json:"startDate"`
	End    string `json:"endDate"`
}

type goalRequest struct {
	Name       string          `json:"name"`
	Target     decimal.Decimal `json:"targetAmount"`
	TargetDate string          `json:"targetDate"`
	Status     string          `json:"status"`
}

func (req goalRequest) input() (goals.Input, error) {
	deadline, err := parseDate("targetDate", req.TargetDate)
	if err != nil {
		return goals.Input{}, err
	}
	return goals.Input{
		Name:       req.Name,
		Target:     req.Target,
		TargetDate: deadline,
		Status:     core.GoalStatus(req.Status),
	}, nil
}

type goalView struct {
	ID         string          `json:"id"`
	Username   string          `json:"username"`
	Name       string          `json:"name"`
	Target     decimal.Decimal `json:"targetAmount"`
	Saved      decimal.Decimal `json:"savedAmount"`
	Progress   decimal.Decimal `json:"progress"`
	Status     core.GoalStatus `json:"status"`
	TargetDate time.Time       `json:"targetDate"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

func newGoalView(g core.Goal) goalView {
	return goalView{
		ID:         g.ID,
		Username:   g.Username,
		Name:       g.Name,
		Target:     g.Target,
		Saved:      g.Saved,
		Progress:   g.Progress,
		Status:     g.Status,
		TargetDate: g.TargetDate,
		CreatedAt:  g.CreatedAt,
		UpdatedAt:  g.UpdatedAt,
	}
}

func newGoalViews(gs []core.Goal) []goalView {
	out := make([]goalView, 0, len(gs))
	for _, g := range gs {
		out = append(out, newGoalView(g))
	}
	return out
}
