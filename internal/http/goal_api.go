package http

import (
	"context"
	"net/http"

	"spendly/internal/core"
	"spendly/internal/goals"
)

type Goals interface {
	Add(ctx context.Context, username string, in goals.Input) (core.Goal, error)
	Get(ctx context.Context, id string) (core.Goal, error)
	List(ctx context.Context, username string) ([]core.Goal, error)
	Update(ctx context.Context, id string, in goals.Input) (core.Goal, error)
	Delete(ctx context.Context, id string) error
	Summary(ctx context.Context, username string) (core.GoalSummary, error)
	RefreshFromUpstream(ctx context.Context, username string) ([]core.Goal, error)
}

// GoalAPI serves the goal service.
type GoalAPI struct {
	goals Goals
}

func NewGoalAPI(g Goals) *GoalAPI {
	return &GoalAPI{goals: g}
}

func (api *GoalAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/goals/{user}/summary", api.handleSummary)
	mux.HandleFunc("GET /api/v1/users/{user}/goals", api.handleList)
	mux.HandleFunc("POST /api/v1/users/{user}/goals", api.handleCreate)
	mux.HandleFunc("POST /api/v1/users/{user}/goals/refresh", api.handleRefresh)
	mux.HandleFunc("GET /api/v1/goals/{id}", api.handleGet)
	mux.HandleFunc("PUT /api/v1/goals/{id}", api.handleUpdate)
	mux.HandleFunc("DELETE /api/v1/goals/{id}", api.handleDelete)
}

func (api *GoalAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	user, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := api.goals.Summary(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (api *GoalAPI) handleList(w http.ResponseWriter, r *http.Request) {
	user, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	gs, err := api.goals.List(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGoalViews(gs))
}

func (api *GoalAPI) handleCreate(w http.ResponseWriter, r *http.Request) {
	user, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req goalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	g, err := api.goals.Add(r.Context(), user, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/goals/"+g.ID)
	writeJSON(w, http.StatusCreated, newGoalView(g))
}

// handleRefresh re-reads the user's totals from the transaction service
// and redistributes them over the open goals.
func (api *GoalAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	user, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	gs, err := api.goals.RefreshFromUpstream(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGoalViews(gs))
}

func (api *GoalAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	g, err := api.goals.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGoalView(g))
}

func (api *GoalAPI) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	g, err := api.goals.Update(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newGoalView(g))
}

func (api *GoalAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := api.goals.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
