package amqp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spendly/internal/core"
)

// ErrMalformedMessage marks a payload that can never be processed. The
// consumer drops such deliveries instead of requeueing them.
var ErrMalformedMessage = errors.New("malformed message")

// TransactionChanged is published after every committed transaction mutation.
// Amounts travel as JSON strings to keep decimal precision.
type TransactionChanged struct {
	Username                  string               `json:"username"`
	TransactionID             string               `json:"transactionId"`
	Version                   int64                `json:"version"`
	EventType                 core.EventType       `json:"eventType"`
	TransactionType           core.TransactionType `json:"transactionType"`
	Category                  core.Category        `json:"category"`
	Amount                    decimal.Decimal      `json:"amount"`
	OccurredAtMonth           int                  `json:"occurredAtMonth"`
	OccurredAtYear            int                  `json:"occurredAtYear"`
	SavingsBalanceAfterChange decimal.Decimal      `json:"savingsBalanceAfterChange"`
	TotalIncome               decimal.Decimal      `json:"totalIncome"`
	TotalExpense              decimal.Decimal      `json:"totalExpense"`
	RemainingBalance          decimal.Decimal      `json:"remainingBalance"`
	PublishedAt               time.Time            `json:"publishedAt"`
}

// NewTransactionChanged describes change together with the owner's balance
// and lifetime totals right after it was applied.
func NewTransactionChanged(change core.TransactionChange, balance decimal.Decimal, summary core.Summary) TransactionChanged {
	t := change.Current()
	return TransactionChanged{
		Username:                  t.Username,
		TransactionID:             t.ID,
		Version:                   t.Version,
		EventType:                 change.Event,
		TransactionType:           t.Type,
		Category:                  t.Category,
		Amount:                    t.Amount,
		OccurredAtMonth:           int(t.OccurredAt.Month()),
		OccurredAtYear:            t.OccurredAt.Year(),
		SavingsBalanceAfterChange: balance,
		TotalIncome:               summary.TotalIncome,
		TotalExpense:              summary.TotalExpense,
		RemainingBalance:          summary.RemainingBalance,
		PublishedAt:               time.Now().UTC(),
	}
}

// EventKey identifies the logical event across redeliveries.
func (m TransactionChanged) EventKey() string {
	return fmt.Sprintf("%s:%d:%s", m.TransactionID, m.Version, m.EventType)
}

// Summary returns the totals carried by the event.
func (m TransactionChanged) Summary() core.Summary {
	return core.Summary{
		TotalIncome:      m.TotalIncome,
		TotalExpense:     m.TotalExpense,
		RemainingBalance: m.RemainingBalance,
	}
}

// Validate checks the fields every consumer relies on.
func (m TransactionChanged) Validate() error {
	var problems []string
	if strings.TrimSpace(m.Username) == "" {
		problems = append(problems, "username is required")
	}
	if m.TransactionID == "" {
		problems = append(problems, "transactionId is required")
	}
	if !m.EventType.Valid() {
		problems = append(problems, fmt.Sprintf("unknown eventType %q", m.EventType))
	}
	if !m.TransactionType.Valid() {
		problems = append(problems, fmt.Sprintf("unknown transactionType %q", m.TransactionType))
	}
	if m.OccurredAtMonth < 1 || m.OccurredAtMonth > 12 {
		problems = append(problems, fmt.Sprintf("occurredAtMonth out of range: %d", m.OccurredAtMonth))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrMalformedMessage, strings.Join(problems, "; "))
	}
	return nil
}

// ToJSON converts the message to JSON bytes
func (m TransactionChanged) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeTransactionChanged parses the single canonical encoding: a JSON
// object. A JSON string wrapping an object is rejected.
func DecodeTransactionChanged(data []byte) (TransactionChanged, error) {
	var msg TransactionChanged
	if err := decodeObject(data, &msg); err != nil {
		return msg, err
	}
	if err := msg.Validate(); err != nil {
		return msg, err
	}
	return msg, nil
}

func decodeObject(data []byte, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: payload is not a JSON object", ErrMalformedMessage)
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	return nil
}

// Notification types understood by the notification service.
const (
	NotificationBudgetExceeded = "BUDGET_EXCEEDED"
	NotificationGoalAchieved   = "GOAL_ACHIEVED"
)

// NotificationMessage asks the notification service to store and push an
// in-app notification.
type NotificationMessage struct {
	Username  string    `json:"username"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

// EmailMessage asks the mailer to render Template with Data and send it.
type EmailMessage struct {
	Username string            `json:"username"`
	Subject  string            `json:"subject"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data"`
}

// ReportRequest asks the report renderer to produce a document from Rows.
type ReportRequest struct {
	Username    string      `json:"username"`
	Format      string      `json:"format"`
	From        time.Time   `json:"from"`
	To          time.Time   `json:"to"`
	Rows        []ReportRow `json:"rows"`
	RequestedAt time.Time   `json:"requestedAt"`
}

type ReportRow struct {
	Date          string          `json:"date"`
	Type          string          `json:"type"`
	Category      string          `json:"category"`
	Amount        decimal.Decimal `json:"amount"`
	Note          string          `json:"note"`
	PaymentMethod string          `json:"paymentMethod"`
}
