// Package notify delivers budget and goal alerts to users.
//
// Callers treat delivery as fire-and-forget: a returned error is logged and
// never rolls back the state change that triggered it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"spendly/internal/amqp"
	"spendly/internal/core"
	"spendly/internal/log"
)

// Sink receives alerts produced by the budget tracker and the goal service.
type Sink interface {
	NotifyBudgetExceeded(ctx context.Context, username string, category core.Category, spent, limit decimal.Decimal) error
	NotifyGoalAchieved(ctx context.Context, username, goalName string, target decimal.Decimal) error
}

// Publisher is the subset of the AMQP client the dispatcher needs.
type Publisher interface {
	PublishNotification(ctx context.Context, msg amqp.NotificationMessage) error
	PublishEmail(ctx context.Context, msg amqp.EmailMessage) error
}

const (
	templateOverspending = "overspending-alert"
	templateGoalAchieved = "goal-achieved"
)

// Dispatcher turns alerts into an in-app notification plus an email.
type Dispatcher struct {
	pub    Publisher
	logger *log.Logger
	now    func() time.Time
}

func NewDispatcher(pub Publisher, logger *log.Logger) *Dispatcher {
	return &Dispatcher{
		pub:    pub,
		logger: logger.WithComponent(log.ComponentNotify),
		now:    time.Now,
	}
}

func (d *Dispatcher) NotifyBudgetExceeded(ctx context.Context, username string, category core.Category, spent, limit decimal.Decimal) error {
	exceeded := core.RoundMoney(spent.Sub(limit))
	note := amqp.NotificationMessage{
		Username:  username,
		Title:     "Budget Exceeded",
		Message:   fmt.Sprintf("You've exceeded your %s budget by %s", category, exceeded.StringFixed(2)),
		Type:      amqp.NotificationBudgetExceeded,
		CreatedAt: d.now().UTC(),
	}
	email := amqp.EmailMessage{
		Username: username,
		Subject:  fmt.Sprintf("Overspending alert: %s", category),
		Template: templateOverspending,
		Data: map[string]string{
			"category": string(category),
			"spent":    core.RoundMoney(spent).StringFixed(2),
			"limit":    core.RoundMoney(limit).StringFixed(2),
			"exceeded": exceeded.StringFixed(2),
		},
	}
	return d.send(ctx, username, note, email)
}

func (d *Dispatcher) NotifyGoalAchieved(ctx context.Context, username, goalName string, target decimal.Decimal) error {
	note := amqp.NotificationMessage{
		Username:  username,
		Title:     "Goal Achieved",
		Message:   fmt.Sprintf("Congratulations! You reached your goal %q of %s", goalName, core.RoundMoney(target).StringFixed(2)),
		Type:      amqp.NotificationGoalAchieved,
		CreatedAt: d.now().UTC(),
	}
	email := amqp.EmailMessage{
		Username: username,
		Subject:  fmt.Sprintf("Goal achieved: %s", goalName),
		Template: templateGoalAchieved,
		Data: map[string]string{
			"goal":   goalName,
			"target": core.RoundMoney(target).StringFixed(2),
		},
	}
	return d.send(ctx, username, note, email)
}

// send attempts both deliveries even when the first one fails.
func (d *Dispatcher) send(ctx context.Context, username string, note amqp.NotificationMessage, email amqp.EmailMessage) error {
	var errs []error
	if err := d.pub.PublishNotification(ctx, note); err != nil {
		errs = append(errs, fmt.Errorf("publish notification: %w", err))
	}
	if err := d.pub.PublishEmail(ctx, email); err != nil {
		errs = append(errs, fmt.Errorf("publish email: %w", err))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	d.logger.InfoContext(ctx, "Notification dispatched",
		log.FieldUsername, username,
		"type", note.Type)
	return nil
}

// LogSink only logs alerts. Used when no broker is configured.
type LogSink struct {
	logger *log.Logger
}

func NewLogSink(logger *log.Logger) *LogSink {
	return &LogSink{logger: logger.WithComponent(log.ComponentNotify)}
}

func (s *LogSink) NotifyBudgetExceeded(ctx context.Context, username string, category core.Category, spent, limit decimal.Decimal) error {
	s.logger.WarnContext(ctx, "Budget exceeded",
		log.FieldUsername, username,
		log.FieldCategory, string(category),
		log.FieldSpent, spent.String(),
		log.FieldLimit, limit.String())
	return nil
}

func (s *LogSink) NotifyGoalAchieved(ctx context.Context, username, goalName string, target decimal.Decimal) error {
	s.logger.InfoContext(ctx, "Goal achieved",
		log.FieldUsername, username,
		"goal", goalName,
		"target", target.String())
	return nil
}
