package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"spendly/internal/core"
	"spendly/internal/log"
)

// Recommender produces next-month recommendations for one user.
type Recommender interface {
	GenerateRecommendations(ctx context.Context, username string) ([]Recommendation, error)
}

// UserLister lists every user owning at least one budget.
type UserLister interface {
	ListBudgetUsers(ctx context.Context) ([]string, error)
}

// SchedulerConfig holds configuration for the monthly recommendation run
type SchedulerConfig struct {
	// CheckInterval is how often the scheduler checks the calendar (default: 1h)
	CheckInterval time.Duration

	// RunDay is the day of month recommendations are generated on (default: 1)
	RunDay int
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		CheckInterval: time.Hour,
		RunDay:        1,
	}
}

// Scheduler generates recommendations for every budget user once a month.
type Scheduler struct {
	recommender Recommender
	users       UserLister
	config      SchedulerConfig
	logger      *log.Logger
	now         func() time.Time

	// Lifecycle management
	mu      sync.Mutex
	running bool
	lastRun core.Period
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewScheduler(recommender Recommender, users UserLister, config SchedulerConfig, logger *log.Logger) *Scheduler {
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultSchedulerConfig().CheckInterval
	}
	if config.RunDay < 1 || config.RunDay > 28 {
		config.RunDay = 1
	}
	return &Scheduler{
		recommender: recommender,
		users:       users,
		config:      config,
		logger:      logger.WithComponent(log.ComponentScheduler),
		now:         time.Now,
	}
}

// Start begins the scheduling loop. Returns an error if already running.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("budget scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.runLoop(ctx)

	s.logger.InfoContext(ctx, "Budget scheduler started",
		"check_interval", s.config.CheckInterval,
		"run_day", s.config.RunDay)
	return nil
}

// Stop gracefully stops the scheduler and waits for completion.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
		s.logger.InfoContext(ctx, "Budget scheduler stopped gracefully")
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Budget scheduler stop timed out")
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runLoop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	s.tick(ctx, s.now())

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick runs the monthly job when now falls on the run day and the job has not
// run yet this month. It reports whether the job ran.
func (s *Scheduler) tick(ctx context.Context, now time.Time) bool {
	now = now.UTC()
	if now.Day() != s.config.RunDay {
		return false
	}

	p := core.PeriodOf(now)
	s.mu.Lock()
	if s.lastRun == p {
		s.mu.Unlock()
		return false
	}
	s.lastRun = p
	s.mu.Unlock()

	s.RunOnce(ctx)
	return true
}

// RunOnce generates recommendations for every budget user. A failing user is
// logged and skipped.
func (s *Scheduler) RunOnce(ctx context.Context) (processed, failed int) {
	users, err := s.users.ListBudgetUsers(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list budget users", log.FieldError, err)
		return 0, 0
	}

	for _, user := range users {
		if ctx.Err() != nil {
			break
		}
		if _, err := s.recommender.GenerateRecommendations(ctx, user); err != nil {
			failed++
			s.logger.ErrorContext(ctx, "Failed to generate budget recommendations",
				log.FieldUsername, user,
				log.FieldError, err)
			continue
		}
		processed++
	}

	s.logger.InfoContext(ctx, "Monthly budget recommendations completed",
		"processed", processed,
		"failed", failed)
	return processed, failed
}
