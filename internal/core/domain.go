package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  TransactionType = "INCOME"
	Expense TransactionType = "EXPENSE"
)

const (
	EventCreated EventType = "CREATED"
	EventUpdated EventType = "UPDATED"
	EventDeleted EventType = "DELETED"
)

const (
	BudgetOnTrack   BudgetStatus = "ON_TRACK"
	BudgetOverspent BudgetStatus = "OVERSPENT"
	BudgetUpcoming  BudgetStatus = "UPCOMING"
)

const (
	GoalActive    GoalStatus = "ACTIVE"
	GoalCompleted GoalStatus = "COMPLETED"
	GoalAchieved  GoalStatus = "ACHIEVED"
)

// MaxNoteLength bounds the free-text note stored with a transaction.
const MaxNoteLength = 255

type (
	TransactionType string
	EventType       string
	BudgetStatus    string
	GoalStatus      string

	// Transaction is a single income or expense record owned by a user.
	// Version increases on every in-place update.
	Transaction struct {
		ID            string
		Username      string
		Type          TransactionType
		Category      Category
		Amount        decimal.Decimal
		OccurredAt    time.Time
		Note          string
		PaymentMethod string
		Recurring     bool
		Version       int64
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// TransactionInput carries the user-supplied fields of a create or update.
	TransactionInput struct {
		Username      string
		Type          TransactionType
		Category      Category
		Amount        decimal.Decimal
		OccurredAt    time.Time
		Note          string
		PaymentMethod string
		Recurring     bool
	}

	// TransactionChange pairs the state before and after a mutation.
	// Old is nil for creates, New is nil for deletes.
	TransactionChange struct {
		Event EventType
		Old   *Transaction
		New   *Transaction
	}

	// RecurringTransaction is a monthly template materialized into real
	// transactions when NextDue is reached.
	RecurringTransaction struct {
		ID            string
		Username      string
		Type          TransactionType
		Category      Category
		Amount        decimal.Decimal
		Note          string
		PaymentMethod string
		NextDue       time.Time
		LastRun       time.Time
	}

	Budget struct {
		ID               string
		Username         string
		Category         Category
		Period           Period
		Limit            decimal.Decimal
		Spent            decimal.Decimal
		Status           BudgetStatus
		RecommendedLimit decimal.NullDecimal
		CreatedAt        time.Time
		UpdatedAt        time.Time
	}

	Anomaly struct {
		ID                string
		Username          string
		Category          Category
		CurrentSpend      decimal.Decimal
		HistoricalAverage decimal.Decimal
		Deviation         decimal.Decimal
		Message           string
		DetectedAt        time.Time
	}

	Goal struct {
		ID         string
		Username   string
		Name       string
		Target     decimal.Decimal
		Saved      decimal.Decimal
		Progress   decimal.Decimal
		Status     GoalStatus
		TargetDate time.Time
		CreatedAt  time.Time
		UpdatedAt  time.Time
	}

	// GoalSummary counts a user's goals and how many were achieved.
	GoalSummary struct {
		TotalGoals    int `json:"totalGoals"`
		AchievedGoals int `json:"achievedGoals"`
	}
)

// ParseTransactionType accepts the type name in any case.
func ParseTransactionType(raw string) (TransactionType, error) {
	t := TransactionType(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", Validation("type", "transaction type must be INCOME or EXPENSE, got %q", raw)
	}
	return t, nil
}

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

// Sign returns +1 for income and -1 for expense.
func (t TransactionType) Sign() decimal.Decimal {
	if t == Expense {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

func (e EventType) Valid() bool {
	switch e {
	case EventCreated, EventUpdated, EventDeleted:
		return true
	}
	return false
}

func (t Transaction) Period() Period {
	return PeriodOf(t.OccurredAt)
}

// SignedAmount is the amount's contribution to the user's balance.
func (t Transaction) SignedAmount() decimal.Decimal {
	return t.Amount.Mul(t.Type.Sign())
}

func (t Transaction) IsExpense() bool {
	return t.Type == Expense
}

// Apply overwrites the mutable fields of t with those from in.
func (t Transaction) Apply(in TransactionInput) Transaction {
	t.Type = in.Type
	t.Category = in.Category
	t.Amount = in.Amount
	t.OccurredAt = in.OccurredAt.UTC()
	t.Note = in.Note
	t.PaymentMethod = in.PaymentMethod
	t.Recurring = in.Recurring
	return t
}

// Normalize canonicalizes enum casing and validates every field.
// It fails before any state is touched.
func (in *TransactionInput) Normalize() error {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" {
		return Validation("username", "username is required")
	}

	typ, err := ParseTransactionType(string(in.Type))
	if err != nil {
		return err
	}
	in.Type = typ

	cat, err := ParseCategory(typ, string(in.Category))
	if err != nil {
		return err
	}
	in.Category = cat

	if !in.Amount.IsPositive() {
		return Validation("amount", "amount must be greater than zero, got %s", in.Amount.String())
	}
	if in.Amount.Exponent() < -2 {
		in.Amount = RoundMoney(in.Amount)
		if !in.Amount.IsPositive() {
			return Validation("amount", "amount rounds to zero")
		}
	}

	if in.OccurredAt.IsZero() {
		return Validation("occurredAt", "occurrence date is required")
	}
	in.OccurredAt = in.OccurredAt.UTC()

	if len(in.Note) > MaxNoteLength {
		return Validation("note", "note too long (max %d characters)", MaxNoteLength)
	}
	in.PaymentMethod = strings.TrimSpace(in.PaymentMethod)
	return nil
}

// Username returns the owner of whichever side of the change is present.
func (c TransactionChange) Username() string {
	if c.New != nil {
		return c.New.Username
	}
	if c.Old != nil {
		return c.Old.Username
	}
	return ""
}

// Current is the post-mutation state, or the deleted record for deletes.
func (c TransactionChange) Current() Transaction {
	if c.New != nil {
		return *c.New
	}
	if c.Old != nil {
		return *c.Old
	}
	return Transaction{}
}

// TouchesExpense reports whether either side of the change is an expense.
func (c TransactionChange) TouchesExpense() bool {
	return (c.Old != nil && c.Old.IsExpense()) || (c.New != nil && c.New.IsExpense())
}

// IsOpen reports whether the goal still takes part in progress distribution.
func (g Goal) IsOpen() bool {
	return g.Status == GoalActive || g.Status == GoalCompleted
}

// Outstanding is the amount still missing to reach the target, never negative.
func (g Goal) Outstanding() decimal.Decimal {
	rest := g.Target.Sub(g.Saved)
	if rest.IsNegative() {
		return decimal.Zero
	}
	return rest
}
