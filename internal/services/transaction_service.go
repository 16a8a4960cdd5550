package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"spendly/internal/amqp"
	"spendly/internal/cache"
	"spendly/internal/core"
	"spendly/internal/log"
	"spendly/internal/userlock"
)

const (
	// DefaultPageSize applies when List is called without a size.
	DefaultPageSize = 20
	// MaxPageSize caps a single List page.
	MaxPageSize = 100
)

// Store is the transaction store the write path persists to.
type Store interface {
	SaveTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	GetTransaction(ctx context.Context, id string) (core.Transaction, error)
	ListTransactionsByUser(ctx context.Context, username string) ([]core.Transaction, error)
	ListTransactionsBetween(ctx context.Context, username string, from, to time.Time) ([]core.Transaction, error)
	UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error)
	DeleteTransaction(ctx context.Context, id string) error
	SaveRecurring(ctx context.Context, rt core.RecurringTransaction) (core.RecurringTransaction, error)
}

// Ledger folds committed changes into the savings balance.
type Ledger interface {
	Apply(ctx context.Context, change core.TransactionChange) (decimal.Decimal, error)
	Balance(ctx context.Context, username string) (decimal.Decimal, error)
}

// Analytics computes the totals published with every change.
type Analytics interface {
	Summary(ctx context.Context, username string) (core.Summary, error)
	MonthTotals(ctx context.Context, username string, p core.Period) (core.Summary, error)
	ExpenseByCategory(ctx context.Context, username string, p core.Period) (map[core.Category]decimal.Decimal, error)
}

// Publisher emits TransactionChanged events. A nil Publisher disables
// publishing.
type Publisher interface {
	PublishTransactionChanged(ctx context.Context, msg amqp.TransactionChanged) error
}

// ChangeHandler reacts synchronously to a committed change.
type ChangeHandler interface {
	HandleChange(ctx context.Context, change core.TransactionChange) error
}

// NamedHandler labels a ChangeHandler in logs.
type NamedHandler struct {
	Name    string
	Handler ChangeHandler
}

// Page is one slice of a user's transactions, newest first.
type Page struct {
	Items []core.Transaction `json:"items"`
	Page  int                `json:"page"`
	Size  int                `json:"size"`
	Total int                `json:"total"`
}

// TransactionService orchestrates transaction writes across the store, the
// savings ledger, the cache, the event bus and the derived-state handlers.
type TransactionService struct {
	store     Store
	ledger    Ledger
	analytics Analytics
	publisher Publisher
	loader    *cache.Loader
	handlers  []NamedHandler
	locks     *userlock.Locker
	logger    *log.Logger
	cacheTTL  time.Duration
}

func NewTransactionService(
	store Store,
	ledger Ledger,
	analytics Analytics,
	publisher Publisher,
	loader *cache.Loader,
	cacheTTL time.Duration,
	logger *log.Logger,
	handlers ...NamedHandler,
) *TransactionService {
	return &TransactionService{
		store:     store,
		ledger:    ledger,
		analytics: analytics,
		publisher: publisher,
		loader:    loader,
		handlers:  handlers,
		locks:     userlock.New(),
		logger:    logger.WithComponent(log.ComponentTransaction),
		cacheTTL:  cacheTTL,
	}
}

func transactionKey(id string) string { return "transaction:" + id }

// userPrefix groups every cached read derived from one user's transactions.
func userPrefix(username string) string { return username + "-transactions" }

func summaryKey(username string) string { return userPrefix(username) + ":summary" }

func monthKey(username string, p core.Period) string {
	return userPrefix(username) + ":month:" + p.String()
}

// Add validates and stores a new transaction, then propagates the change.
// Once the row is committed the call succeeds; downstream failures are
// logged.
func (s *TransactionService) Add(ctx context.Context, in core.TransactionInput) (core.Transaction, error) {
	if err := in.Normalize(); err != nil {
		return core.Transaction{}, err
	}

	unlock := s.locks.Lock(in.Username)
	defer unlock()

	t := core.Transaction{ID: uuid.NewString(), Username: in.Username}.Apply(in)
	created, err := s.store.SaveTransaction(ctx, t)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "Transaction created", log.NewFields().WithTransaction(created).ToSlice()...)

	if created.Recurring {
		s.scheduleRecurring(ctx, created)
	}

	s.propagate(ctx, core.TransactionChange{Event: core.EventCreated, New: &created})
	return created, nil
}

// Get returns a transaction, served from cache when possible.
func (s *TransactionService) Get(ctx context.Context, id string) (core.Transaction, error) {
	if strings.TrimSpace(id) == "" {
		return core.Transaction{}, core.Validation("id", "transaction id is required")
	}
	return cache.Load(ctx, s.loader, transactionKey(id), s.cacheTTL, func(ctx context.Context) (core.Transaction, error) {
		return s.store.GetTransaction(ctx, id)
	})
}

// Update replaces the mutable fields of a transaction. The owner cannot
// change.
func (s *TransactionService) Update(ctx context.Context, id string, in core.TransactionInput) (core.Transaction, error) {
	if strings.TrimSpace(id) == "" {
		return core.Transaction{}, core.Validation("id", "transaction id is required")
	}
	if err := in.Normalize(); err != nil {
		return core.Transaction{}, err
	}

	unlock := s.locks.Lock(in.Username)
	defer unlock()

	old, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return core.Transaction{}, err
	}
	if old.Username != in.Username {
		return core.Transaction{}, core.InvalidArgument("transaction %s does not belong to %s", id, in.Username)
	}

	updated, err := s.store.UpdateTransaction(ctx, old.Apply(in))
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	s.logger.InfoContext(ctx, "Transaction updated", log.NewFields().WithTransaction(updated).ToSlice()...)

	s.propagate(ctx, core.TransactionChange{Event: core.EventUpdated, Old: &old, New: &updated})
	return updated, nil
}

// Delete removes a transaction and reverses its effect on derived state.
func (s *TransactionService) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return core.Validation("id", "transaction id is required")
	}

	existing, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(existing.Username)
	defer unlock()

	// Re-read under the lock so the reversal matches the committed row.
	old, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTransaction(ctx, id); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Transaction deleted", log.NewFields().WithTransaction(old).ToSlice()...)

	s.propagate(ctx, core.TransactionChange{Event: core.EventDeleted, Old: &old})
	return nil
}

// propagate runs the post-commit steps in order: cache invalidation, ledger,
// event publication and change handlers. None of them fails the write.
func (s *TransactionService) propagate(ctx context.Context, change core.TransactionChange) {
	current := change.Current()
	user := current.Username

	s.loader.Invalidate(transactionKey(current.ID))
	s.loader.InvalidatePrefix(userPrefix(user))

	balance, err := s.ledger.Apply(ctx, change)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to update savings ledger",
			log.FieldUsername, user,
			log.FieldTransactionID, current.ID,
			log.FieldEvent, string(change.Event),
			log.FieldError, err)
		if balance, err = s.ledger.Balance(ctx, user); err != nil {
			balance = decimal.Zero
		}
	}

	s.publish(ctx, change, balance)

	for _, h := range s.handlers {
		if err := h.Handler.HandleChange(ctx, change); err != nil {
			s.logger.ErrorContext(ctx, "Change handler failed",
				"handler", h.Name,
				log.FieldUsername, user,
				log.FieldTransactionID, current.ID,
				log.FieldError, err)
		}
	}
}

func (s *TransactionService) publish(ctx context.Context, change core.TransactionChange, balance decimal.Decimal) {
	current := change.Current()
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP publisher not available, skipping transaction event",
			log.FieldTransactionID, current.ID)
		return
	}

	summary, err := s.Summary(ctx, current.Username)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to compute totals for transaction event",
			log.FieldUsername, current.Username,
			log.FieldError, err)
		return
	}

	msg := amqp.NewTransactionChanged(change, balance, summary)
	if err := s.publisher.PublishTransactionChanged(ctx, msg); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish transaction event",
			log.FieldUsername, current.Username,
			log.FieldTransactionID, current.ID,
			log.FieldEvent, string(change.Event),
			log.FieldError, err)
	}
}

func (s *TransactionService) scheduleRecurring(ctx context.Context, t core.Transaction) {
	rt, err := s.store.SaveRecurring(ctx, core.RecurringTransaction{
		Username:      t.Username,
		Type:          t.Type,
		Category:      t.Category,
		Amount:        t.Amount,
		Note:          t.Note,
		PaymentMethod: t.PaymentMethod,
		NextDue:       NextMonthlyDue(t.OccurredAt, t.OccurredAt.Day()),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to save recurring template",
			log.FieldUsername, t.Username,
			log.FieldTransactionID, t.ID,
			log.FieldError, err)
		return
	}
	s.logger.InfoContext(ctx, "Recurring template scheduled",
		log.FieldUsername, t.Username,
		"recurring_id", rt.ID,
		"next_due", rt.NextDue.Format(time.DateOnly))
}

func (s *TransactionService) userTransactions(ctx context.Context, username string) ([]core.Transaction, error) {
	if strings.TrimSpace(username) == "" {
		return nil, core.Validation("username", "username is required")
	}
	return cache.Load(ctx, s.loader, userPrefix(username), s.cacheTTL, func(ctx context.Context) ([]core.Transaction, error) {
		return s.store.ListTransactionsByUser(ctx, username)
	})
}

// List pages through a user's transactions, newest first. Pages start at 1.
func (s *TransactionService) List(ctx context.Context, username string, page, size int) (Page, error) {
	if page < 1 {
		page = 1
	}
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}

	all, err := s.userTransactions(ctx, username)
	if err != nil {
		return Page{}, err
	}

	p := Page{Page: page, Size: size, Total: len(all), Items: []core.Transaction{}}
	start := (page - 1) * size
	if start >= len(all) {
		return p, nil
	}
	end := min(start+size, len(all))
	p.Items = append(p.Items, all[start:end]...)
	return p, nil
}

func (s *TransactionService) ListByMonth(ctx context.Context, username string, p core.Period) ([]core.Transaction, error) {
	if !p.Valid() {
		return nil, core.Validation("period", "invalid period %d-%d", p.Year, p.Month)
	}
	all, err := s.userTransactions(ctx, username)
	if err != nil {
		return nil, err
	}
	out := []core.Transaction{}
	for _, t := range all {
		if p.Contains(t.OccurredAt) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *TransactionService) ListByCategory(ctx context.Context, username string, category core.Category) ([]core.Transaction, error) {
	all, err := s.userTransactions(ctx, username)
	if err != nil {
		return nil, err
	}
	out := []core.Transaction{}
	for _, t := range all {
		if t.Category == category {
			out = append(out, t)
		}
	}
	return out, nil
}

// ListInRange returns transactions with from <= occurredAt < to.
func (s *TransactionService) ListInRange(ctx context.Context, username string, from, to time.Time) ([]core.Transaction, error) {
	if strings.TrimSpace(username) == "" {
		return nil, core.Validation("username", "username is required")
	}
	if !from.Before(to) {
		return nil, core.InvalidArgument("range start %s must be before end %s",
			from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	txs, err := s.store.ListTransactionsBetween(ctx, username, from, to)
	if err != nil {
		return nil, fmt.Errorf("list transactions in range: %w", err)
	}
	return txs, nil
}

// AmountByCategory returns the month's expense per category, largest first.
func (s *TransactionService) AmountByCategory(ctx context.Context, username string, p core.Period) ([]core.CategoryAmount, error) {
	if strings.TrimSpace(username) == "" {
		return nil, core.Validation("username", "username is required")
	}
	byCategory, err := s.analytics.ExpenseByCategory(ctx, username, p)
	if err != nil {
		return nil, err
	}
	out := make([]core.CategoryAmount, 0, len(byCategory))
	for c, amount := range byCategory {
		out = append(out, core.CategoryAmount{Category: c, Amount: core.RoundMoney(amount)})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Amount.Equal(out[j].Amount) {
			return out[i].Amount.GreaterThan(out[j].Amount)
		}
		return out[i].Category < out[j].Category
	})
	return out, nil
}

// MonthTotals returns income and expense totals of one month.
func (s *TransactionService) MonthTotals(ctx context.Context, username string, p core.Period) (core.Summary, error) {
	if strings.TrimSpace(username) == "" {
		return core.Summary{}, core.Validation("username", "username is required")
	}
	return cache.Load(ctx, s.loader, monthKey(username, p), s.cacheTTL, func(ctx context.Context) (core.Summary, error) {
		return s.analytics.MonthTotals(ctx, username, p)
	})
}

// Summary returns lifetime totals, cached until the user's next write.
func (s *TransactionService) Summary(ctx context.Context, username string) (core.Summary, error) {
	if strings.TrimSpace(username) == "" {
		return core.Summary{}, core.Validation("username", "username is required")
	}
	return cache.Load(ctx, s.loader, summaryKey(username), s.cacheTTL, func(ctx context.Context) (core.Summary, error) {
		return s.analytics.Summary(ctx, username)
	})
}

// Balance returns the savings ledger balance.
func (s *TransactionService) Balance(ctx context.Context, username string) (decimal.Decimal, error) {
	if strings.TrimSpace(username) == "" {
		return decimal.Zero, core.Validation("username", "username is required")
	}
	return s.ledger.Balance(ctx, username)
}
