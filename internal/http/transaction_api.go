package http

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"spendly/internal/budget"
	"spendly/internal/core"
	"spendly/internal/insights"
	"spendly/internal/reports"
	"spendly/internal/services"
)

type Transactions interface {
	Add(ctx context.Context, in core.TransactionInput) (core.Transaction, error)
	Get(ctx context.Context, id string) (core.Transaction, error)
	Update(ctx context.Context, id string, in core.TransactionInput) (core.Transaction, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, username string, page, size int) (services.Page, error)
	ListByMonth(ctx context.Context, username string, p core.Period) ([]core.Transaction, error)
	AmountByCategory(ctx context.Context, username string, p core.Period) ([]core.CategoryAmount, error)
	MonthTotals(ctx context.Context, username string, p core.Period) (core.Summary, error)
	Summary(ctx context.Context, username string) (core.Summary, error)
	Balance(ctx context.Context, username string) (decimal.Decimal, error)
}

type Budgets interface {
	BudgetsFor(ctx context.Context, username string, p core.Period) ([]core.Budget, error)
	CreateDefaultBudgets(ctx context.Context, username string) ([]core.Budget, error)
	UpdateLimit(ctx context.Context, id string, limit decimal.Decimal) (core.Budget, error)
	GenerateRecommendations(ctx context.Context, username string) ([]budget.Recommendation, error)
}

type Anomalies interface {
	Detect(ctx context.Context, username string) ([]core.Anomaly, error)
	List(ctx context.Context, username string) ([]core.Anomaly, error)
}

type HealthScores interface {
	Score(ctx context.Context, username string) (insights.HealthScore, error)
}

type Reports interface {
	Generate(ctx context.Context, username, format string, start, end time.Time) (reports.Result, error)
}

// TransactionAPI serves the transaction service: transaction CRUD, the
// savings ledger, analytics, budgets, anomalies, health score and reports.
type TransactionAPI struct {
	transactions Transactions
	budgets      Budgets
	anomalies    Anomalies
	health       HealthScores
	reports      Reports
	now          func() time.Time
}

func NewTransactionAPI(tx Transactions, b Budgets, a Anomalies, h HealthScores, r Reports) *TransactionAPI {
	return &TransactionAPI{
		transactions: tx,
		budgets:      b,
		anomalies:    a,
		health:       h,
		reports:      r,
		now:          time.Now,
	}
}

func (api *TransactionAPI) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/transactions", api.handleCreate)
	mux.HandleFunc("GET /api/v1/transactions/{id}", api.handleGet)
	mux.HandleFunc("PUT /api/v1/transactions/{id}", api.handleUpdate)
	mux.HandleFunc("DELETE /api/v1/transactions/{id}", api.handleDelete)
	mux.HandleFunc("GET /api/v1/users/{user}/transactions", api.handleList)

	mux.HandleFunc("GET /api/v1/analytics/users/{user}/summary", api.handleSummary)
	mux.HandleFunc("GET /api/v1/analytics/users/{user}/monthly", api.handleMonthTotals)
	mux.HandleFunc("GET /api/v1/analytics/users/{user}/categories", api.handleCategories)
	mux.HandleFunc("GET /api/v1/savings/{user}", api.handleSavings)

	mux.HandleFunc("GET /api/v1/anomalies/{user}", api.handleAnomalies)
	mux.HandleFunc("POST /api/v1/anomalies/{user}/detect", api.handleDetect)

	mux.HandleFunc("GET /api/v1/budgets/{user}", api.handleBudgets)
	mux.HandleFunc("POST /api/v1/budgets/{user}/defaults", api.handleDefaultBudgets)
	mux.HandleFunc("GET /api/v1/budgets/{user}/recommendations", api.handleRecommendations)
	mux.HandleFunc("PUT /api/v1/budgets/{id}/limit", api.handleUpdateLimit)

	mux.HandleFunc("GET /api/v1/users/{user}/health-score", api.handleHealthScore)
	mux.HandleFunc("POST /api/v1/reports/{user}", api.handleReport)
}

func (api *TransactionAPI) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := api.transactions.Add(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/transactions/"+t.ID)
	writeJSON(w, http.StatusCreated, newTransactionView(t))
}

func (api *TransactionAPI) handleGet(w http.ResponseWriter, r *http.Request) {
	t, err := api.transactions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionView(t))
}

func (api *TransactionAPI) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	in, err := req.input()
	if err != nil {
		writeError(w, r, err)
		return
	}
	t, err := api.transactions.Update(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTransactionView(t))
}

func (api *TransactionAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := api.transactions.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleList pages through a user's transactions, or returns one month
// when ?month=YYYY-MM is given.
func (api *TransactionAPI) handleList(w http.ResponseWriter, r *http.Request) {
	user, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if r.URL.Query().Has("month") {
		p, err := queryPeriod(r, api.now())
		if err != nil {
			writeError(w, r, err)
			return
		}
		txs, err := api.transactions.ListByMonth(r.Context(), user, p)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, newTransactionViews(txs))
		return
	}

	page, err := queryInt(r, "page", 1)
	if err != nil {
		writeError(w, r, err)
		return
	}
	size, err := queryInt(r, "size", services.DefaultPageSize)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := api.transactions.List(r.Context(), user, page, size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageView{
		Items: newTransactionViews(result.Items),
		Page:  result.Page,
		Size:  result.Size,
		Total: result.Total,
	})
}

func (api *TransactionAPI) handleSummary(w http.ResponseWriter, r *http.Request) {
	user, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := api.transactions.Summary(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (api *TransactionAPI) handleMonthTotals(w http.ResponseWriter, r *http.Request) {
	user, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := queryPeriod(r, api.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	totals, err := api.transactions.MonthTotals(r.Context(), user, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, monthTotalsView{Month: p.String(), Summary: totals})
}

func (api *TransactionAPI) handleCategories(w http.ResponseWriter, r *http.Request) {
	user, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := queryPeriod(r, api.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	amounts, err := api.transactions.AmountByCategory(r.Context(), user, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, amounts)
}

func (api *TransactionAPI) handleSavings(w http.ResponseWriter, r *http.Request) {
	user, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	balance, err := api.transactions.Balance(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, savingsView{Username: user, Balance: balance})
}

func (api *TransactionAPI) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	user, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	anomalies, err := api.anomalies.List(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAnomalyViews(anomalies))
}

func (api *TransactionAPI) handleDetect(w http.ResponseWriter, r *http.Request) {
	user, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	anomalies, err := api.anomalies.Detect(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAnomalyViews(anomalies))
}

func (api *TransactionAPI) handleBudgets(w http.ResponseWriter, r *http.Request) {
	user, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := queryPeriod(r, api.now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	budgets, err := api.budgets.BudgetsFor(r.Context(), user, p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBudgetViews(budgets))
}

func (api *TransactionAPI) handleDefaultBudgets(w http.ResponseWriter, r *http.Request) {
	user, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	budgets, err := api.budgets.CreateDefaultBudgets(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newBudgetViews(budgets))
}

func (api *TransactionAPI) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	user, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	recs, err := api.budgets.GenerateRecommendations(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (api *TransactionAPI) handleUpdateLimit(w http.ResponseWriter, r *http.Request) {
	var req budgetLimitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := api.budgets.UpdateLimit(r.Context(), r.PathValue("id"), req.Limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBudgetView(b))
}

func (api *TransactionAPI) handleHealthScore(w http.ResponseWriter, r *http.Request) {
	user, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	score, err := api.health.Score(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (api *TransactionAPI) handleReport(w http.ResponseWriter, r *http.Request) {
	user, err := pathUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req reportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	start, err := parseDate("startDate", req.Start)
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := parseDate("endDate", req.End)
	if err != nil {
		writeError(w, r, err)
		return
	}
	result, err := api.reports.Generate(r.Context(), user, req.Format, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}
