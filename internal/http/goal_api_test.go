package http

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spendly/internal/core"
	"spendly/internal/goals"
)

type fakeGoals struct {
	goals     map[string]core.Goal
	lastInput goals.Input
	refreshed string
}

func (f *fakeGoals) Add(ctx context.Context, username string, in goals.Input) (core.Goal, error) {
	if in.Name == "" {
		return core.Goal{}, core.Validation("name", "goal name cannot be empty")
	}
	f.lastInput = in
	g := core.Goal{ID: "g1", Username: username, Name: in.Name, Target: in.Target, TargetDate: in.TargetDate, Status: core.GoalActive}
	f.goals[g.ID] = g
	return g, nil
}

func (f *fakeGoals) Get(ctx context.Context, id string) (core.Goal, error) {
	g, ok := f.goals[id]
	if !ok {
		return core.Goal{}, core.NotFound("goal", id)
	}
	return g, nil
}

func (f *fakeGoals) List(ctx context.Context, username string) ([]core.Goal, error) {
	var out []core.Goal
	for _, g := range f.goals {
		if g.Username == username {
			out = append(out, g)
		}
	}
	return out, nil
}

func (f *fakeGoals) Update(ctx context.Context, id string, in goals.Input) (core.Goal, error) {
	g, err := f.Get(ctx, id)
	if err != nil {
		return core.Goal{}, err
	}
	g.Name, g.Target = in.Name, in.Target
	f.goals[id] = g
	return g, nil
}

func (f *fakeGoals) Delete(ctx context.Context, id string) error {
	if _, err := f.Get(ctx, id); err != nil {
		return err
	}
	delete(f.goals, id)
	return nil
}

func (f *fakeGoals) Summary(ctx context.Context, username string) (core.GoalSummary, error) {
	gs, _ := f.List(ctx, username)
	return core.GoalSummary{TotalGoals: len(gs)}, nil
}

func (f *fakeGoals) RefreshFromUpstream(ctx context.Context, username string) ([]core.Goal, error) {
	f.refreshed = username
	return f.List(ctx, username)
}

func TestGoalRoutes(t *testing.T) {
	fg := &fakeGoals{goals: map[string]core.Goal{}}
	srv := newTestServer(t, NewGoalAPI(fg), Options{})

	rr := serve(srv, http.MethodPost, "/api/v1/users/alice/goals", `{"name":"Trip","targetAmount":"1500","targetDate":"2026-06-30"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", rr.Code, rr.Body)
	}
	if !fg.lastInput.Target.Equal(decimal.NewFromInt(1500)) || !fg.lastInput.TargetDate.Equal(time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("input = %+v", fg.lastInput)
	}
	if got := decodeBody[goalView](t, rr.Body.Bytes()); got.ID != "g1" || got.Status != core.GoalActive {
		t.Fatalf("goal = %+v", got)
	}

	rr = serve(srv, http.MethodGet, "/api/v1/goals/alice/summary", "")
	if got := decodeBody[core.GoalSummary](t, rr.Body.Bytes()); got.TotalGoals != 1 {
		t.Fatalf("summary = %+v", got)
	}

	rr = serve(srv, http.MethodPut, "/api/v1/goals/g1", `{"name":"Big trip","targetAmount":"2000","targetDate":"2026-06-30"}`)
	if got := decodeBody[goalView](t, rr.Body.Bytes()); rr.Code != http.StatusOK || got.Name != "Big trip" {
		t.Fatalf("update status=%d goal=%+v", rr.Code, got)
	}

	if rr = serve(srv, http.MethodPost, "/api/v1/users/alice/goals/refresh", ""); rr.Code != http.StatusOK || fg.refreshed != "alice" {
		t.Fatalf("refresh status=%d user=%q", rr.Code, fg.refreshed)
	}

	if rr = serve(srv, http.MethodDelete, "/api/v1/goals/g1", ""); rr.Code != http.StatusNoContent {
		t.Fatalf("delete status=%d", rr.Code)
	}
	if rr = serve(srv, http.MethodGet, "/api/v1/goals/g1", ""); rr.Code != http.StatusNotFound {
		t.Fatalf("get after delete status=%d", rr.Code)
	}
}

func TestCreateGoalValidation(t *testing.T) {
	fg := &fakeGoals{goals: map[string]core.Goal{}}
	srv := newTestServer(t, NewGoalAPI(fg), Options{})

	for _, body := range []string{
		`{"name":"","targetAmount":"10","targetDate":"2026-01-01"}`,
		`{"name":"x","targetAmount":"10"}`,
		`{"name":"x","targetAmount":"10","targetDate":"soon"}`,
	} {
		if rr := serve(srv, http.MethodPost, "/api/v1/users/alice/goals", body); rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: status=%d", body, rr.Code)
		}
	}
}
