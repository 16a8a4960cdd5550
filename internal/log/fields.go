package log

import "spendly/internal/core"

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldError         = "error"
	FieldOperation     = "operation"
	FieldUsername      = "username"
	FieldTransactionID = "transaction_id"
	FieldTxType        = "transaction_type"
	FieldCategory      = "category"
	FieldAmount        = "amount"
	FieldVersion       = "version"
	FieldEvent         = "event"
	FieldPeriod        = "period"
	FieldBalance       = "balance"
	FieldLimit         = "limit"
	FieldSpent         = "spent"
	FieldStatus        = "status"
	FieldDeviation     = "deviation"
	FieldGoalID        = "goal_id"
	FieldQueue         = "queue"
	FieldAttempt       = "attempt"
)

// Components defines standard component names
const (
	ComponentApp         = "app"
	ComponentHTTP        = "http"
	ComponentTransaction = "transaction"
	ComponentLedger      = "ledger"
	ComponentAnalytics   = "analytics"
	ComponentBudget      = "budget"
	ComponentAnomaly     = "anomaly"
	ComponentGoal        = "goal"
	ComponentInsights    = "insights"
	ComponentReport      = "report"
	ComponentNotify      = "notify"
	ComponentStorage     = "storage"
	ComponentAMQP        = "amqp"
	ComponentCache       = "cache"
	ComponentRecurring   = "recurring"
	ComponentScheduler   = "scheduler"
)

// Operations defines standard operation names
const (
	OpCreate    = "create"
	OpRead      = "read"
	OpUpdate    = "update"
	OpDelete    = "delete"
	OpList      = "list"
	OpPublish   = "publish"
	OpConsume   = "consume"
	OpReconcile = "reconcile"
	OpDetect    = "detect"
	OpRecommend = "recommend"
	OpNotify    = "notify"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithTransaction adds the identifying fields of a transaction
func (f LogFields) WithTransaction(t core.Transaction) LogFields {
	f[FieldUsername] = t.Username
	f[FieldTransactionID] = t.ID
	f[FieldTxType] = string(t.Type)
	f[FieldCategory] = string(t.Category)
	f[FieldAmount] = t.Amount.String()
	f[FieldVersion] = t.Version
	return f
}

// WithBudget adds the key and state of a budget row
func (f LogFields) WithBudget(b core.Budget) LogFields {
	f[FieldUsername] = b.Username
	f[FieldCategory] = string(b.Category)
	f[FieldPeriod] = b.Period.String()
	f[FieldLimit] = b.Limit.String()
	f[FieldSpent] = b.Spent.String()
	f[FieldStatus] = string(b.Status)
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
