package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"spendly/internal/core"
	"spendly/internal/log"
)

// maxCatchUp bounds how many missed months one template materializes per run.
const maxCatchUp = 12

// RecurringStore lists and advances recurring templates.
type RecurringStore interface {
	ListDueRecurring(ctx context.Context, now time.Time) ([]core.RecurringTransaction, error)
	AdvanceRecurring(ctx context.Context, id string, ran, nextDue time.Time) error
}

// TransactionAdder creates transactions through the full write path.
type TransactionAdder interface {
	Add(ctx context.Context, in core.TransactionInput) (core.Transaction, error)
}

// RecurringProcessor handles the automatic creation of transactions from
// recurring templates.
type RecurringProcessor struct {
	store    RecurringStore
	adder    TransactionAdder
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewRecurringProcessor(store RecurringStore, adder TransactionAdder, interval time.Duration, logger *log.Logger) *RecurringProcessor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RecurringProcessor{
		store:    store,
		adder:    adder,
		interval: interval,
		logger:   logger.WithComponent(log.ComponentRecurring),
		now:      time.Now,
	}
}

// ProcessDue materializes every template due at now and returns how many
// transactions were created. A failing template is skipped and retried on
// the next run.
func (p *RecurringProcessor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	due, err := p.store.ListDueRecurring(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list due recurring transactions: %w", err)
	}

	p.logger.InfoContext(ctx, "Processing recurring transactions",
		"due", len(due),
		"processing_date", now.Format(time.DateOnly))

	created := 0
	for _, rt := range due {
		n, err := p.materialize(ctx, rt, now)
		created += n
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to process recurring template",
				"recurring_id", rt.ID,
				log.FieldUsername, rt.Username,
				log.FieldError, err)
		}
	}

	p.logger.InfoContext(ctx, "Recurring transaction processing complete",
		"created", created,
		"total_checked", len(due))

	return created, nil
}

// materialize creates one transaction per missed month and advances the
// template after each, so a crash never duplicates an occurrence that was
// already recorded as run.
func (p *RecurringProcessor) materialize(ctx context.Context, rt core.RecurringTransaction, now time.Time) (int, error) {
	anchor := rt.NextDue.Day()
	created := 0
	for i := 0; i < maxCatchUp && IsDue(rt, now); i++ {
		t, err := p.adder.Add(ctx, core.TransactionInput{
			Username:      rt.Username,
			Type:          rt.Type,
			Category:      rt.Category,
			Amount:        rt.Amount,
			OccurredAt:    rt.NextDue,
			Note:          rt.Note,
			PaymentMethod: rt.PaymentMethod,
		})
		if err != nil {
			return created, fmt.Errorf("create transaction: %w", err)
		}
		created++

		next := NextMonthlyDue(rt.NextDue, anchor)
		if err := p.store.AdvanceRecurring(ctx, rt.ID, now, next); err != nil {
			return created, fmt.Errorf("advance template: %w", err)
		}

		p.logger.InfoContext(ctx, "Created transaction from recurring template",
			"recurring_id", rt.ID,
			log.FieldTransactionID, t.ID,
			log.FieldAmount, t.Amount.String(),
			"next_due", next.Format(time.DateOnly))

		rt.LastRun, rt.NextDue = now, next
	}
	return created, nil
}

// Start begins the processing loop. Returns an error if already running.
func (p *RecurringProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("recurring processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go p.runLoop(ctx, p.stopCh, p.doneCh)

	p.logger.InfoContext(ctx, "Recurring processor started", "interval", p.interval)
	return nil
}

// Stop gracefully stops the processor and waits for the current run.
func (p *RecurringProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stop, done := p.stopCh, p.doneCh
	p.running = false
	p.mu.Unlock()

	close(stop)

	select {
	case <-done:
		p.logger.InfoContext(ctx, "Recurring processor stopped gracefully")
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Recurring processor stop timed out")
		return ctx.Err()
	}
}

func (p *RecurringProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *RecurringProcessor) runLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Process immediately on startup
	p.run(ctx)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.run(ctx)
		}
	}
}

func (p *RecurringProcessor) run(ctx context.Context) {
	if _, err := p.ProcessDue(ctx, p.now()); err != nil {
		p.logger.ErrorContext(ctx, "Recurring processing failed", log.FieldError, err)
	}
}
