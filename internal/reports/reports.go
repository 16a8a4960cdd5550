// Package reports exports a user's transactions over a date range.
package reports

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"spendly/internal/core"
	"spendly/internal/log"
)

type Format string

const (
	FormatCSV    Format = "CSV"
	FormatPDF    Format = "PDF"
	FormatSheets Format = "SHEETS"
)

// ParseFormat accepts a format name in any case.
func ParseFormat(raw string) (Format, error) {
	f := Format(strings.ToUpper(strings.TrimSpace(raw)))
	switch f {
	case FormatCSV, FormatPDF, FormatSheets:
		return f, nil
	}
	return "", core.Validation("format", "unsupported report format %q", raw)
}

// TransactionSource lists transactions with from <= occurredAt < to.
type TransactionSource interface {
	ListInRange(ctx context.Context, username string, from, to time.Time) ([]core.Transaction, error)
}

// Exporter delivers a built report and returns a reference to it.
type Exporter interface {
	Export(ctx context.Context, r Report) (string, error)
}

type Row struct {
	Date          time.Time
	Type          core.TransactionType
	Category      core.Category
	Amount        decimal.Decimal
	Note          string
	PaymentMethod string
}

// Report is the data handed to an exporter. From and To are inclusive days.
type Report struct {
	Username    string
	Format      Format
	From        time.Time
	To          time.Time
	Rows        []Row
	GeneratedAt time.Time
}

// Totals sums income and expense over the rows.
func (r Report) Totals() core.Summary {
	income, expense := decimal.Zero, decimal.Zero
	for _, row := range r.Rows {
		if row.Type == core.Expense {
			expense = expense.Add(row.Amount)
		} else {
			income = income.Add(row.Amount)
		}
	}
	return core.NewSummary(income, expense)
}

type Result struct {
	Format    Format `json:"format"`
	Reference string `json:"reference"`
	Rows      int    `json:"rows"`
}

type Service struct {
	source    TransactionSource
	exporters map[Format]Exporter
	logger    *log.Logger
	now       func() time.Time
}

func NewService(source TransactionSource, logger *log.Logger) *Service {
	return &Service{
		source:    source,
		exporters: make(map[Format]Exporter),
		logger:    logger.WithComponent(log.ComponentReport),
		now:       time.Now,
	}
}

// Register routes format to exporter, replacing any previous one.
func (s *Service) Register(format Format, exporter Exporter) {
	s.exporters[format] = exporter
}

// Generate builds the report of username between the start and end days,
// both inclusive, and hands it to the exporter of format.
func (s *Service) Generate(ctx context.Context, username, format string, start, end time.Time) (Result, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return Result{}, core.Validation("username", "username is required")
	}
	f, err := ParseFormat(format)
	if err != nil {
		return Result{}, err
	}
	exporter, ok := s.exporters[f]
	if !ok {
		return Result{}, core.Validation("format", "report format %s is not available", f)
	}
	if start.IsZero() || end.IsZero() {
		return Result{}, core.Validation("range", "start and end dates are required")
	}

	from := truncateDay(start)
	to := truncateDay(end)
	if to.Before(from) {
		return Result{}, core.Validation("range", "end date %s is before start date %s",
			to.Format(time.DateOnly), from.Format(time.DateOnly))
	}

	txs, err := s.source.ListInRange(ctx, username, from, to.AddDate(0, 0, 1))
	if err != nil {
		return Result{}, fmt.Errorf("list transactions: %w", err)
	}

	report := Report{
		Username:    username,
		Format:      f,
		From:        from,
		To:          to,
		Rows:        buildRows(txs),
		GeneratedAt: s.now().UTC(),
	}

	ref, err := exporter.Export(ctx, report)
	if err != nil {
		return Result{}, fmt.Errorf("export %s report: %w", f, err)
	}

	totals := report.Totals()
	s.logger.InfoContext(ctx, "Report generated",
		log.FieldUsername, username,
		"format", string(f),
		"rows", len(report.Rows),
		"total_income", totals.TotalIncome.String(),
		"total_expense", totals.TotalExpense.String(),
		"reference", ref)

	return Result{Format: f, Reference: ref, Rows: len(report.Rows)}, nil
}

// buildRows orders transactions oldest first.
func buildRows(txs []core.Transaction) []Row {
	rows := make([]Row, 0, len(txs))
	for _, t := range txs {
		rows = append(rows, Row{
			Date:          t.OccurredAt.UTC(),
			Type:          t.Type,
			Category:      t.Category,
			Amount:        core.RoundMoney(t.Amount),
			Note:          t.Note,
			PaymentMethod: t.PaymentMethod,
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	return rows
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
