package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"spendly/internal/core"
	"spendly/internal/log"
)

func TestNextMonthlyDue(t *testing.T) {
	tests := []struct {
		name   string
		from   time.Time
		anchor int
		want   time.Time
	}{
		{"mid month", time.Date(2025, 1, 15, 8, 30, 0, 0, time.UTC), 15, time.Date(2025, 2, 15, 8, 30, 0, 0, time.UTC)},
		{"clamped to february", time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), 31, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC)},
		{"leap year", time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC), 30, time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"anchor restored after short month", time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), 31, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC)},
		{"year rollover", time.Date(2025, 12, 5, 0, 0, 0, 0, time.UTC), 5, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NextMonthlyDue(tt.from, tt.anchor); !got.Equal(tt.want) {
				t.Errorf("NextMonthlyDue = %v, want %v", got, tt.want)
			}
		})
	}
}

type memRecurring struct {
	templates map[string]core.RecurringTransaction
	advanced  int
}

func (m *memRecurring) ListDueRecurring(_ context.Context, now time.Time) ([]core.RecurringTransaction, error) {
	var out []core.RecurringTransaction
	for _, rt := range m.templates {
		if IsDue(rt, now) {
			out = append(out, rt)
		}
	}
	return out, nil
}

func (m *memRecurring) AdvanceRecurring(_ context.Context, id string, ran, next time.Time) error {
	rt, ok := m.templates[id]
	if !ok {
		return core.NotFound("recurring transaction", id)
	}
	rt.LastRun, rt.NextDue = ran, next
	m.templates[id] = rt
	m.advanced++
	return nil
}

type fakeAdder struct {
	created []core.TransactionInput
	failFor string
}

func (a *fakeAdder) Add(_ context.Context, in core.TransactionInput) (core.Transaction, error) {
	if in.Username == a.failFor {
		return core.Transaction{}, errors.New("store unavailable")
	}
	a.created = append(a.created, in)
	return core.Transaction{ID: "t", Username: in.Username, Amount: in.Amount}, nil
}

func TestProcessDueCatchesUpMissedMonths(t *testing.T) {
	store := &memRecurring{templates: map[string]core.RecurringTransaction{
		"rent": {ID: "rent", Username: "alice", Type: core.Expense, Category: core.CategoryRent,
			Amount: dec("900"), NextDue: time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)},
		"future": {ID: "future", Username: "alice", Type: core.Expense, Category: core.CategoryInsurance,
			Amount: dec("40"), NextDue: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)},
		"broken": {ID: "broken", Username: "bob", Type: core.Expense, Category: core.CategoryFood,
			Amount: dec("5"), NextDue: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
	}}
	adder := &fakeAdder{failFor: "bob"}
	p := NewRecurringProcessor(store, adder, time.Hour, log.Discard())

	now := time.Date(2025, 3, 20, 0, 0, 0, 0, time.UTC)
	n, err := p.ProcessDue(context.Background(), now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("created %d transactions, want 3", n)
	}
	if got := adder.created[2].OccurredAt; !got.Equal(time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("last occurrence = %v", got)
	}
	for _, in := range adder.created {
		if in.Recurring {
			t.Error("materialized transactions must not schedule new templates")
		}
	}
	if next := store.templates["rent"].NextDue; !next.Equal(time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("rent next due = %v", next)
	}
	if !store.templates["broken"].LastRun.IsZero() {
		t.Error("failed template must not advance")
	}

	// A second run in the same month creates nothing.
	if n, _ := p.ProcessDue(context.Background(), now); n != 0 {
		t.Errorf("second run created %d", n)
	}
}

func TestRecurringProcessorLifecycle(t *testing.T) {
	p := NewRecurringProcessor(&memRecurring{templates: map[string]core.RecurringTransaction{}}, &fakeAdder{}, 10*time.Millisecond, log.Discard())
	ctx := context.Background()

	if p.IsRunning() {
		t.Fatal("processor should not be running initially")
	}
	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := p.Start(ctx); err == nil {
		t.Error("second Start should fail")
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := p.Stop(stopCtx); err != nil {
		t.Fatal(err)
	}
	if p.IsRunning() {
		t.Error("processor should be stopped")
	}
	if err := p.Stop(stopCtx); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}
