package reports

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"spendly/internal/amqp"
	"spendly/internal/core"
	"spendly/internal/log"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fakeSource struct {
	txs      []core.Transaction
	from, to time.Time
}

func (f *fakeSource) ListInRange(_ context.Context, _ string, from, to time.Time) ([]core.Transaction, error) {
	f.from, f.to = from, to
	var out []core.Transaction
	for _, t := range f.txs {
		if !t.OccurredAt.Before(from) && t.OccurredAt.Before(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

type fakeReportPublisher struct {
	msgs []amqp.ReportRequest
	err  error
}

func (p *fakeReportPublisher) PublishReport(_ context.Context, msg amqp.ReportRequest) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func day(m time.Month, d int) time.Time { return time.Date(2025, m, d, 0, 0, 0, 0, time.UTC) }

func newTestService() (*Service, *fakeSource, *fakeReportPublisher) {
	src := &fakeSource{txs: []core.Transaction{
		{ID: "2", Username: "alice", Type: core.Expense, Category: core.CategoryFood, Amount: dec("20"), OccurredAt: day(3, 31).Add(23 * time.Hour)},
		{ID: "1", Username: "alice", Type: core.Income, Category: core.CategorySalary, Amount: dec("1500"), OccurredAt: day(3, 1)},
		{ID: "3", Username: "alice", Type: core.Expense, Category: core.CategoryRent, Amount: dec("700"), OccurredAt: day(4, 1)},
	}}
	pub := &fakeReportPublisher{}
	s := NewService(src, log.Discard())
	q := NewQueueExporter(pub)
	s.Register(FormatCSV, q)
	s.Register(FormatPDF, q)
	return s, src, pub
}

func TestGenerateQueuesReport(t *testing.T) {
	s, src, pub := newTestService()

	res, err := s.Generate(context.Background(), "alice", "csv", day(3, 1), day(3, 31))
	if err != nil {
		t.Fatal(err)
	}
	if res.Format != FormatCSV || res.Rows != 2 {
		t.Errorf("result = %+v", res)
	}
	if !src.to.Equal(day(4, 1)) {
		t.Errorf("end day must be inclusive, queried up to %v", src.to)
	}
	if len(pub.msgs) != 1 {
		t.Fatalf("published %d requests", len(pub.msgs))
	}
	msg := pub.msgs[0]
	if msg.Format != "CSV" || msg.Rows[0].Date != "2025-03-01" || msg.Rows[1].Category != "FOOD" {
		t.Errorf("message = %+v", msg)
	}
}

func TestGenerateValidation(t *testing.T) {
	s, _, _ := newTestService()

	tests := []struct {
		name       string
		user, f    string
		start, end time.Time
	}{
		{"missing user", "", "CSV", day(3, 1), day(3, 2)},
		{"unknown format", "alice", "XLS", day(3, 1), day(3, 2)},
		{"format without exporter", "alice", "SHEETS", day(3, 1), day(3, 2)},
		{"reversed range", "alice", "PDF", day(3, 2), day(3, 1)},
		{"missing start", "alice", "PDF", time.Time{}, day(3, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Generate(context.Background(), tt.user, tt.f, tt.start, tt.end); !errors.Is(err, core.ErrValidation) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestGeneratePropagatesExportFailure(t *testing.T) {
	s, _, pub := newTestService()
	pub.err = errors.New("circuit breaker is open")

	if _, err := s.Generate(context.Background(), "alice", "PDF", day(3, 1), day(3, 31)); err == nil {
		t.Fatal("expected export error")
	}
}

func TestReportTotals(t *testing.T) {
	r := Report{Rows: []Row{
		{Type: core.Income, Amount: dec("100")},
		{Type: core.Expense, Amount: dec("30.25")},
	}}
	got := r.Totals()
	if !got.RemainingBalance.Equal(dec("69.75")) {
		t.Errorf("totals = %+v", got)
	}
}
