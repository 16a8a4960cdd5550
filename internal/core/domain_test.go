package core

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTransactionInputNormalize(t *testing.T) {
	when := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	good := TransactionInput{
		Username:   " alice ",
		Type:       "expense",
		Category:   "food",
		Amount:     decimal.RequireFromString("12.345"),
		OccurredAt: when,
		Note:       "groceries",
	}
	if err := good.Normalize(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if good.Username != "alice" || good.Type != Expense || good.Category != CategoryFood {
		t.Fatalf("unexpected normalized input: %+v", good)
	}
	if !good.Amount.Equal(decimal.RequireFromString("12.35")) {
		t.Fatalf("amount = %s, want 12.35", good.Amount)
	}

	bads := []TransactionInput{
		{Username: "", Type: Expense, Category: CategoryFood, Amount: decimal.NewFromInt(1), OccurredAt: when},
		{Username: "a", Type: "TRANSFER", Category: CategoryFood, Amount: decimal.NewFromInt(1), OccurredAt: when},
		{Username: "a", Type: Income, Category: CategoryFood, Amount: decimal.NewFromInt(1), OccurredAt: when},
		{Username: "a", Type: Expense, Category: CategorySalary, Amount: decimal.NewFromInt(1), OccurredAt: when},
		{Username: "a", Type: Expense, Category: CategoryFood, Amount: decimal.Zero, OccurredAt: when},
		{Username: "a", Type: Expense, Category: CategoryFood, Amount: decimal.NewFromInt(-5), OccurredAt: when},
		{Username: "a", Type: Expense, Category: CategoryFood, Amount: decimal.RequireFromString("0.001"), OccurredAt: when},
		{Username: "a", Type: Expense, Category: CategoryFood, Amount: decimal.NewFromInt(1)},
		{Username: "a", Type: Expense, Category: CategoryFood, Amount: decimal.NewFromInt(1), OccurredAt: when, Note: strings.Repeat("x", MaxNoteLength+1)},
	}
	for i, in := range bads {
		err := in.Normalize()
		if err == nil {
			t.Fatalf("case %d expected error", i)
		}
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("case %d expected validation error, got %v", i, err)
		}
	}
}

func TestParseCategorySuggestion(t *testing.T) {
	_, err := ParseCategory(Expense, "fod")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "did you mean FOOD") {
		t.Fatalf("expected suggestion, got %v", err)
	}

	_, err = ParseCategory(Expense, "zzzzzzzzzzzzzz")
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Fatalf("expected plain error, got %v", err)
	}
}

func TestOtherCategoryValidForBothTypes(t *testing.T) {
	if !CategoryOther.ValidFor(Income) || !CategoryOther.ValidFor(Expense) {
		t.Fatal("OTHER should be valid for income and expense")
	}
	if CategoryRent.ValidFor(Income) {
		t.Fatal("RENT should not be an income category")
	}
}

func TestSignedAmount(t *testing.T) {
	in := Transaction{Type: Income, Amount: decimal.NewFromInt(40)}
	out := Transaction{Type: Expense, Amount: decimal.NewFromInt(40)}
	if !in.SignedAmount().Equal(decimal.NewFromInt(40)) {
		t.Fatalf("income signed = %s", in.SignedAmount())
	}
	if !out.SignedAmount().Equal(decimal.NewFromInt(-40)) {
		t.Fatalf("expense signed = %s", out.SignedAmount())
	}
}

func TestTransactionChange(t *testing.T) {
	old := &Transaction{Username: "bob", Type: Expense}
	cur := &Transaction{Username: "bob", Type: Income}

	c := TransactionChange{Event: EventUpdated, Old: old, New: cur}
	if c.Username() != "bob" || c.Current().Type != Income || !c.TouchesExpense() {
		t.Fatalf("unexpected change view: %+v", c)
	}

	del := TransactionChange{Event: EventDeleted, Old: cur}
	if del.Current().Type != Income || del.TouchesExpense() {
		t.Fatalf("unexpected delete view: %+v", del)
	}
}

func TestGoalOutstanding(t *testing.T) {
	g := Goal{Target: decimal.NewFromInt(100), Saved: decimal.NewFromInt(120)}
	if !g.Outstanding().IsZero() {
		t.Fatalf("outstanding = %s, want 0", g.Outstanding())
	}
	g.Saved = decimal.NewFromInt(30)
	if !g.Outstanding().Equal(decimal.NewFromInt(70)) {
		t.Fatalf("outstanding = %s, want 70", g.Outstanding())
	}
}

func TestErrorKinds(t *testing.T) {
	cause := errors.New("disk full")
	err := PersistenceFailure("save budget", cause)
	if !errors.Is(err, ErrPersistence) || !errors.Is(err, cause) {
		t.Fatalf("expected persistence error wrapping cause, got %v", err)
	}
	if IsRetryable(err) {
		t.Fatal("persistence errors are not retryable")
	}
	if !IsRetryable(Unavailable("goal-service", cause)) {
		t.Fatal("upstream errors should be retryable")
	}
}

func TestParsePeriod(t *testing.T) {
	tests := []struct {
		raw     string
		want    Period
		wantErr bool
	}{
		{"2025-03", NewPeriod(2025, time.March), false},
		{" 2024-12 ", NewPeriod(2024, time.December), false},
		{"2025-13", Period{}, true},
		{"03-2025", Period{}, true},
		{"", Period{}, true},
	}
	for _, tt := range tests {
		got, err := ParsePeriod(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParsePeriod(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
		if err != nil {
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("ParsePeriod(%q) error kind = %v", tt.raw, err)
			}
			continue
		}
		if got != tt.want {
			t.Fatalf("ParsePeriod(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
