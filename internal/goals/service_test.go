package goals

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spendly/internal/amqp"
	"spendly/internal/cache"
	"spendly/internal/core"
	"spendly/internal/log"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type memStore struct {
	mu        sync.Mutex
	goals     map[string]core.Goal
	processed map[string]bool
	seq       int
	gets      int
}

func newMemStore() *memStore {
	return &memStore{goals: map[string]core.Goal{}, processed: map[string]bool{}}
}

func (m *memStore) SaveGoal(_ context.Context, g core.Goal) (core.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	g.ID = fmt.Sprintf("g-%d", m.seq)
	g.CreatedAt = time.Unix(int64(m.seq), 0)
	m.goals[g.ID] = g
	return g, nil
}

func (m *memStore) GetGoal(_ context.Context, id string) (core.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	g, ok := m.goals[id]
	if !ok {
		return core.Goal{}, core.NotFound("goal", id)
	}
	return g, nil
}

func (m *memStore) list(user string, open bool) []core.Goal {
	var out []core.Goal
	for _, g := range m.goals {
		if g.Username == user && (!open || g.IsOpen()) {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *memStore) ListGoals(_ context.Context, user string) ([]core.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(user, false), nil
}

func (m *memStore) ListOpenGoals(_ context.Context, user string) ([]core.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(user, true), nil
}

func (m *memStore) UpdateGoal(_ context.Context, g core.Goal) (core.Goal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.goals[g.ID]; !ok {
		return core.Goal{}, core.NotFound("goal", g.ID)
	}
	m.goals[g.ID] = g
	return g, nil
}

func (m *memStore) SaveGoals(_ context.Context, goals []core.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, g := range goals {
		m.goals[g.ID] = g
	}
	return nil
}

func (m *memStore) SaveGoalsForEvent(_ context.Context, consumer, key string, goals []core.Goal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed[consumer+"/"+key] {
		return false, nil
	}
	m.processed[consumer+"/"+key] = true
	for _, g := range goals {
		m.goals[g.ID] = g
	}
	return true, nil
}

func (m *memStore) IsEventProcessed(_ context.Context, consumer, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.processed[consumer+"/"+key], nil
}

func (m *memStore) DeleteGoal(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.goals[id]; !ok {
		return core.NotFound("goal", id)
	}
	delete(m.goals, id)
	return nil
}

func (m *memStore) CountGoals(_ context.Context, user string) (core.GoalSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var s core.GoalSummary
	for _, g := range m.list(user, false) {
		s.TotalGoals++
		if g.Status == core.GoalAchieved || g.Status == core.GoalCompleted {
			s.AchievedGoals++
		}
	}
	return s, nil
}

type fakeUpstream struct {
	summary core.Summary
	savings decimal.Decimal
	err     error
}

func (f *fakeUpstream) FetchSummary(context.Context, string) (core.Summary, error) {
	return f.summary, f.err
}

func (f *fakeUpstream) FetchSavings(context.Context, string) (decimal.Decimal, error) {
	return f.savings, f.err
}

type achievedSink struct {
	mu    sync.Mutex
	goals []string
}

func (s *achievedSink) NotifyBudgetExceeded(context.Context, string, core.Category, decimal.Decimal, decimal.Decimal) error {
	return nil
}

func (s *achievedSink) NotifyGoalAchieved(_ context.Context, _ string, name string, _ decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.goals = append(s.goals, name)
	return nil
}

var now = time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

func newService() (*Service, *memStore, *fakeUpstream, *achievedSink) {
	store := newMemStore()
	up := &fakeUpstream{}
	sink := &achievedSink{}
	loader := cache.NewLoader(cache.NewLRUCache[any](100, time.Hour))
	s := NewService(store, up, sink, loader, log.Discard())
	s.now = func() time.Time { return now }
	return s, store, up, sink
}

func input(name, target string) Input {
	return Input{Name: name, Target: dec(target), TargetDate: now.AddDate(1, 0, 0)}
}

func TestDistribute(t *testing.T) {
	goals := []core.Goal{
		{ID: "a", Name: "A", Target: dec("1000"), Saved: dec("200"), Status: core.GoalActive},
		{ID: "b", Name: "B", Target: dec("500"), Saved: dec("100"), Status: core.GoalActive},
		{ID: "c", Name: "C", Target: dec("300"), Saved: dec("300"), Status: core.GoalCompleted},
	}

	updated, achieved := Distribute(goals, dec("2000"), dec("1400"))

	// Net 600 split 800:400 over outstanding amounts.
	want := map[string]string{"a": "600", "b": "300", "c": "300"}
	for _, g := range updated {
		if !g.Saved.Equal(dec(want[g.ID])) {
			t.Errorf("goal %s saved = %s, want %s", g.ID, g.Saved, want[g.ID])
		}
	}
	if !updated[0].Progress.Equal(dec("60")) {
		t.Errorf("progress = %s, want 60", updated[0].Progress)
	}
	if updated[2].Status != core.GoalAchieved {
		t.Errorf("completed goal status = %s", updated[2].Status)
	}
	if len(achieved) != 0 {
		t.Errorf("completed goals must not notify again: %+v", achieved)
	}
}

func TestDistributeClampsAtTarget(t *testing.T) {
	goals := []core.Goal{{ID: "a", Name: "Bike", Target: dec("100"), Saved: dec("90"), Status: core.GoalActive}}

	updated, achieved := Distribute(goals, dec("5000"), dec("0"))
	if !updated[0].Saved.Equal(dec("100")) || !updated[0].Progress.Equal(dec("100")) {
		t.Errorf("goal = %+v", updated[0])
	}
	if len(achieved) != 1 || updated[0].Status != core.GoalAchieved {
		t.Errorf("expected goal to be achieved")
	}
}

func TestDistributeNegativeBalanceAddsNothing(t *testing.T) {
	goals := []core.Goal{{ID: "a", Target: dec("100"), Saved: dec("10"), Status: core.GoalActive}}
	updated, _ := Distribute(goals, dec("100"), dec("500"))
	if !updated[0].Saved.Equal(dec("10")) {
		t.Errorf("saved = %s, want 10", updated[0].Saved)
	}
}

func TestHandleTransactionChangedAppliesOnce(t *testing.T) {
	s, store, _, sink := newService()
	ctx := context.Background()
	store.SaveGoal(ctx, core.Goal{Username: "alice", Name: "Trip", Target: dec("500"), Saved: dec("0"), Status: core.GoalActive})

	msg := amqp.TransactionChanged{
		Username:        "alice",
		TransactionID:   "tx-1",
		Version:         1,
		EventType:       core.EventCreated,
		TransactionType: core.Income,
		Category:        core.CategorySalary,
		Amount:          dec("600"),
		OccurredAtMonth: 3,
		OccurredAtYear:  2025,
		TotalIncome:     dec("600"),
		TotalExpense:    dec("0"),
	}

	for i := 0; i < 3; i++ {
		if err := s.HandleTransactionChanged(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	g := store.goals["g-1"]
	if !g.Saved.Equal(dec("500")) || g.Status != core.GoalAchieved {
		t.Errorf("goal = %+v", g)
	}
	if len(sink.goals) != 1 {
		t.Errorf("notifications = %d, want 1", len(sink.goals))
	}

	if err := s.HandleTransactionChanged(ctx, amqp.TransactionChanged{}); !errors.Is(err, amqp.ErrMalformedMessage) {
		t.Errorf("expected malformed message error, got %v", err)
	}
}

func TestAddFirstGoalStartsFromSavings(t *testing.T) {
	s, _, up, sink := newService()
	ctx := context.Background()
	up.savings = dec("250")

	first, err := s.Add(ctx, "alice", input("Laptop", "1000"))
	if err != nil {
		t.Fatal(err)
	}
	if !first.Saved.Equal(dec("250")) || !first.Progress.Equal(dec("25")) || first.Status != core.GoalActive {
		t.Errorf("first goal = %+v", first)
	}

	second, err := s.Add(ctx, "alice", input("Phone", "100"))
	if err != nil {
		t.Fatal(err)
	}
	if !second.Saved.IsZero() {
		t.Errorf("second goal saved = %s, want 0", second.Saved)
	}

	up.savings = dec("5000")
	third, err := s.Add(ctx, "bob", input("Watch", "300"))
	if err != nil {
		t.Fatal(err)
	}
	if third.Status != core.GoalAchieved || !third.Saved.Equal(dec("300")) || len(sink.goals) != 1 {
		t.Errorf("third goal = %+v, notifications = %d", third, len(sink.goals))
	}
}

func TestAddValidation(t *testing.T) {
	s, _, _, _ := newService()
	ctx := context.Background()

	tests := []struct {
		name string
		user string
		in   Input
	}{
		{"missing user", "", input("A", "10")},
		{"missing name", "alice", input(" ", "10")},
		{"zero target", "alice", input("A", "0")},
		{"past deadline", "alice", Input{Name: "A", Target: dec("10"), TargetDate: now.AddDate(0, 0, -1)}},
		{"bad status", "alice", Input{Name: "A", Target: dec("10"), TargetDate: now.AddDate(0, 1, 0), Status: "DONE"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Add(ctx, tt.user, tt.in); !errors.Is(err, core.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestUpstreamUnavailableIsSurfaced(t *testing.T) {
	s, _, up, _ := newService()
	up.err = core.Unavailable("transaction-service", errors.New("connection refused"))

	if _, err := s.RefreshFromUpstream(context.Background(), "alice"); !core.IsRetryable(err) {
		t.Errorf("expected retryable upstream error, got %v", err)
	}
	if _, err := s.Add(context.Background(), "alice", input("A", "10")); !core.IsRetryable(err) {
		t.Errorf("expected retryable upstream error from Add, got %v", err)
	}
}

func TestRefreshFromUpstream(t *testing.T) {
	s, store, up, _ := newService()
	ctx := context.Background()
	store.SaveGoal(ctx, core.Goal{Username: "alice", Name: "Car", Target: dec("1000"), Saved: dec("0"), Status: core.GoalActive})
	up.summary = core.NewSummary(dec("900"), dec("500"))

	goals, err := s.RefreshFromUpstream(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(goals) != 1 || !goals[0].Saved.Equal(dec("400")) {
		t.Errorf("goals = %+v", goals)
	}
}

func TestGetUsesCacheAndUpdateInvalidates(t *testing.T) {
	s, store, _, _ := newService()
	ctx := context.Background()
	g, _ := store.SaveGoal(ctx, core.Goal{Username: "alice", Name: "Car", Target: dec("1000"), Saved: dec("0"), Status: core.GoalActive})

	for i := 0; i < 3; i++ {
		if _, err := s.Get(ctx, g.ID); err != nil {
			t.Fatal(err)
		}
	}
	if store.gets != 1 {
		t.Errorf("store reads = %d, want 1", store.gets)
	}

	if _, err := s.Update(ctx, g.ID, input("New car", "2000")); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, g.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "New car" {
		t.Errorf("stale goal served from cache: %+v", got)
	}

	if err := s.Delete(ctx, g.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, g.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected not found after delete, got %v", err)
	}
}

func TestSummary(t *testing.T) {
	s, store, _, _ := newService()
	ctx := context.Background()
	store.SaveGoal(ctx, core.Goal{Username: "alice", Status: core.GoalActive})
	store.SaveGoal(ctx, core.Goal{Username: "alice", Status: core.GoalAchieved})

	sum, err := s.Summary(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if sum.TotalGoals != 2 || sum.AchievedGoals != 1 {
		t.Errorf("summary = %+v", sum)
	}
}
