package reports

import (
	"context"
	"fmt"
	"time"

	"spendly/internal/amqp"
)

type ReportPublisher interface {
	PublishReport(ctx context.Context, msg amqp.ReportRequest) error
}

// QueueExporter hands the report to the renderer listening on the report
// queue. The renderer produces the CSV or PDF document.
type QueueExporter struct {
	publisher ReportPublisher
}

func NewQueueExporter(publisher ReportPublisher) *QueueExporter {
	return &QueueExporter{publisher: publisher}
}

func (e *QueueExporter) Export(ctx context.Context, r Report) (string, error) {
	msg := amqp.ReportRequest{
		Username:    r.Username,
		Format:      string(r.Format),
		From:        r.From,
		To:          r.To,
		Rows:        make([]amqp.ReportRow, 0, len(r.Rows)),
		RequestedAt: r.GeneratedAt,
	}
	for _, row := range r.Rows {
		msg.Rows = append(msg.Rows, amqp.ReportRow{
			Date:          row.Date.Format(time.DateOnly),
			Type:          string(row.Type),
			Category:      string(row.Category),
			Amount:        row.Amount,
			Note:          row.Note,
			PaymentMethod: row.PaymentMethod,
		})
	}

	if err := e.publisher.PublishReport(ctx, msg); err != nil {
		return "", fmt.Errorf("publish report request: %w", err)
	}
	return fmt.Sprintf("queued:%s:%s:%s", r.Username, r.Format, r.GeneratedAt.Format(time.RFC3339)), nil
}
