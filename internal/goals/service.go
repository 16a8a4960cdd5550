// Package goals implements the goal service: savings goals whose progress
// follows the user's net balance as reported by the transaction service.
package goals

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spendly/internal/amqp"
	"spendly/internal/cache"
	"spendly/internal/core"
	"spendly/internal/log"
	"spendly/internal/notify"
	"spendly/internal/userlock"
)

const (
	// Consumer names this service in the processed-events table.
	Consumer = "goal-service"

	// CacheTTL bounds how long a goal is served from cache.
	CacheTTL = time.Hour
)

type Store interface {
	SaveGoal(ctx context.Context, g core.Goal) (core.Goal, error)
	GetGoal(ctx context.Context, id string) (core.Goal, error)
	ListGoals(ctx context.Context, username string) ([]core.Goal, error)
	ListOpenGoals(ctx context.Context, username string) ([]core.Goal, error)
	UpdateGoal(ctx context.Context, g core.Goal) (core.Goal, error)
	SaveGoals(ctx context.Context, goals []core.Goal) error
	SaveGoalsForEvent(ctx context.Context, consumer, eventKey string, goals []core.Goal) (bool, error)
	IsEventProcessed(ctx context.Context, consumer, eventKey string) (bool, error)
	DeleteGoal(ctx context.Context, id string) error
	CountGoals(ctx context.Context, username string) (core.GoalSummary, error)
}

// Upstream reads the user's financial state from the transaction service.
// Failures are reported as core.ErrUpstreamUnavailable.
type Upstream interface {
	FetchSummary(ctx context.Context, username string) (core.Summary, error)
	FetchSavings(ctx context.Context, username string) (decimal.Decimal, error)
}

// Input carries the user-editable fields of a goal.
type Input struct {
	Name       string
	Target     decimal.Decimal
	TargetDate time.Time
	Status     core.GoalStatus
}

func (in *Input) normalize(now time.Time) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return core.Validation("name", "goal name cannot be empty")
	}
	if !in.Target.IsPositive() {
		return core.Validation("target", "target amount must be greater than zero")
	}
	in.Target = core.RoundMoney(in.Target)
	if in.TargetDate.IsZero() {
		return core.Validation("targetDate", "deadline cannot be empty")
	}
	if !in.TargetDate.After(now) {
		return core.Validation("targetDate", "deadline must be in the future")
	}
	in.TargetDate = in.TargetDate.UTC()

	status := core.GoalStatus(strings.ToUpper(strings.TrimSpace(string(in.Status))))
	switch status {
	case "":
		status = core.GoalActive
	case core.GoalActive, core.GoalCompleted, core.GoalAchieved:
	default:
		return core.Validation("status", "invalid goal status %q", in.Status)
	}
	in.Status = status
	return nil
}

type Service struct {
	store    Store
	upstream Upstream
	sink     notify.Sink
	loader   *cache.Loader
	locks    *userlock.Locker
	logger   *log.Logger
	now      func() time.Time
}

func NewService(store Store, upstream Upstream, sink notify.Sink, loader *cache.Loader, logger *log.Logger) *Service {
	return &Service{
		store:    store,
		upstream: upstream,
		sink:     sink,
		loader:   loader,
		locks:    userlock.New(),
		logger:   logger.WithComponent(log.ComponentGoal),
		now:      time.Now,
	}
}

func goalKey(id string) string { return "goal:" + id }

// Add creates a goal. A user's first goal starts from the current savings
// balance; later goals start empty and grow through distribution.
func (s *Service) Add(ctx context.Context, username string, in Input) (core.Goal, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return core.Goal{}, core.Validation("username", "username cannot be empty")
	}
	if err := in.normalize(s.now()); err != nil {
		return core.Goal{}, err
	}

	unlock := s.locks.Lock(username)
	defer unlock()

	existing, err := s.store.ListGoals(ctx, username)
	if err != nil {
		return core.Goal{}, fmt.Errorf("list goals: %w", err)
	}

	saved := decimal.Zero
	if len(existing) == 0 {
		savings, err := s.upstream.FetchSavings(ctx, username)
		if err != nil {
			return core.Goal{}, err
		}
		if savings.IsPositive() {
			saved = savings
		}
	}
	if saved.GreaterThan(in.Target) {
		saved = in.Target
	}

	g := core.Goal{
		Username:   username,
		Name:       in.Name,
		Target:     in.Target,
		Saved:      core.RoundMoney(saved),
		Status:     in.Status,
		TargetDate: in.TargetDate,
	}
	g.Progress = Progress(g.Saved, g.Target)
	reached := g.Saved.GreaterThanOrEqual(g.Target)
	if reached {
		g.Status = core.GoalAchieved
		g.Progress = hundred
	}

	created, err := s.store.SaveGoal(ctx, g)
	if err != nil {
		return core.Goal{}, core.PersistenceFailure("save goal", err)
	}

	s.logger.InfoContext(ctx, "Goal created",
		log.FieldUsername, username,
		log.FieldGoalID, created.ID,
		"target", created.Target.String(),
		"saved", created.Saved.String())

	if reached {
		s.notifyAchieved(ctx, created)
	}
	return created, nil
}

// Get returns a goal, served from cache when possible.
func (s *Service) Get(ctx context.Context, id string) (core.Goal, error) {
	if id == "" {
		return core.Goal{}, core.Validation("id", "goal id cannot be empty")
	}
	return cache.Load(ctx, s.loader, goalKey(id), CacheTTL, func(ctx context.Context) (core.Goal, error) {
		return s.store.GetGoal(ctx, id)
	})
}

func (s *Service) List(ctx context.Context, username string) ([]core.Goal, error) {
	if strings.TrimSpace(username) == "" {
		return nil, core.Validation("username", "username cannot be empty")
	}
	goals, err := s.store.ListGoals(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	return goals, nil
}

// Update replaces name, target, deadline and status, keeping the saved
// amount.
func (s *Service) Update(ctx context.Context, id string, in Input) (core.Goal, error) {
	if id == "" {
		return core.Goal{}, core.Validation("id", "goal id cannot be empty")
	}
	if err := in.normalize(s.now()); err != nil {
		return core.Goal{}, err
	}

	g, err := s.store.GetGoal(ctx, id)
	if err != nil {
		return core.Goal{}, err
	}

	unlock := s.locks.Lock(g.Username)
	defer unlock()

	g.Name = in.Name
	g.Target = in.Target
	g.TargetDate = in.TargetDate
	g.Status = in.Status
	if g.Saved.GreaterThan(g.Target) {
		g.Saved = g.Target
	}
	g.Progress = Progress(g.Saved, g.Target)
	if g.Saved.GreaterThanOrEqual(g.Target) {
		g.Status = core.GoalAchieved
		g.Progress = hundred
	}

	updated, err := s.store.UpdateGoal(ctx, g)
	s.loader.Invalidate(goalKey(id))
	if err != nil {
		return core.Goal{}, err
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return core.Validation("id", "goal id cannot be empty")
	}
	err := s.store.DeleteGoal(ctx, id)
	s.loader.Invalidate(goalKey(id))
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "Goal deleted", log.FieldGoalID, id)
	return nil
}

// Summary counts the user's goals and those already reached.
func (s *Service) Summary(ctx context.Context, username string) (core.GoalSummary, error) {
	if strings.TrimSpace(username) == "" {
		return core.GoalSummary{}, core.Validation("username", "username cannot be empty")
	}
	return s.store.CountGoals(ctx, username)
}

// Recalculate distributes the net balance over the user's open goals and
// persists the result.
func (s *Service) Recalculate(ctx context.Context, username string, income, expense decimal.Decimal) ([]core.Goal, error) {
	unlock := s.locks.Lock(username)
	defer unlock()

	open, err := s.store.ListOpenGoals(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("list open goals: %w", err)
	}
	if len(open) == 0 {
		return nil, nil
	}

	updated, achieved := Distribute(open, income, expense)
	if err := s.store.SaveGoals(ctx, updated); err != nil {
		return nil, core.PersistenceFailure("save goals", err)
	}
	s.afterDistribution(ctx, username, updated, achieved)
	return updated, nil
}

// HandleTransactionChanged recalculates goal progress from the totals carried
// by the event. Each event is applied at most once.
func (s *Service) HandleTransactionChanged(ctx context.Context, msg amqp.TransactionChanged) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	unlock := s.locks.Lock(msg.Username)
	defer unlock()

	key := msg.EventKey()
	done, err := s.store.IsEventProcessed(ctx, Consumer, key)
	if err != nil {
		return fmt.Errorf("check processed event: %w", err)
	}
	if done {
		s.logger.InfoContext(ctx, "Skipping already processed event",
			log.FieldUsername, msg.Username,
			"event_key", key)
		return nil
	}

	open, err := s.store.ListOpenGoals(ctx, msg.Username)
	if err != nil {
		return fmt.Errorf("list open goals: %w", err)
	}

	updated, achieved := Distribute(open, msg.TotalIncome, msg.TotalExpense)
	applied, err := s.store.SaveGoalsForEvent(ctx, Consumer, key, updated)
	if err != nil {
		return core.PersistenceFailure("save goals", err)
	}
	if !applied {
		return nil
	}

	s.afterDistribution(ctx, msg.Username, updated, achieved)
	return nil
}

// RefreshFromUpstream pulls the current totals from the transaction service
// and recalculates. An unreachable upstream is reported, never read as zero.
func (s *Service) RefreshFromUpstream(ctx context.Context, username string) ([]core.Goal, error) {
	if strings.TrimSpace(username) == "" {
		return nil, core.Validation("username", "username cannot be empty")
	}

	summary, err := s.upstream.FetchSummary(ctx, username)
	if err != nil {
		return nil, err
	}
	if _, err := s.Recalculate(ctx, username, summary.TotalIncome, summary.TotalExpense); err != nil {
		return nil, err
	}
	return s.List(ctx, username)
}

func (s *Service) afterDistribution(ctx context.Context, username string, updated, achieved []core.Goal) {
	for _, g := range updated {
		s.loader.Invalidate(goalKey(g.ID))
	}
	for _, g := range achieved {
		s.notifyAchieved(ctx, g)
	}
	if len(updated) > 0 {
		s.logger.InfoContext(ctx, "Goal progress recalculated",
			log.FieldUsername, username,
			"goals", len(updated),
			"achieved", len(achieved))
	}
}

func (s *Service) notifyAchieved(ctx context.Context, g core.Goal) {
	if err := s.sink.NotifyGoalAchieved(ctx, g.Username, g.Name, g.Target); err != nil {
		s.logger.WarnContext(ctx, "Failed to send goal achieved notification",
			log.FieldUsername, g.Username,
			log.FieldGoalID, g.ID,
			log.FieldError, err)
	}
}
