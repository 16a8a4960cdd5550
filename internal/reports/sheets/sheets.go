// Package sheets exports reports to a Google Sheets spreadsheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"spendly/internal/reports"
)

var _ reports.Exporter = (*Exporter)(nil)

// header is written once, on the first row of an empty sheet.
var header = []any{"Username", "Date", "Type", "Category", "Amount", "Note", "Payment method"}

// Exporter appends report rows below the last used row of one sheet.
type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string
}

// New wraps an existing Sheets service.
func New(svc *gsheet.Service, spreadsheetID, sheet string) *Exporter {
	if sheet == "" {
		sheet = "Reports"
	}
	return &Exporter{svc: svc, spreadsheetID: spreadsheetID, sheet: sheet}
}

// NewFromEnv creates an exporter authenticated with service account
// credentials from GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE
// or GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context, spreadsheetID, sheet string) (*Exporter, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return New(svc, spreadsheetID, sheet), nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		data, err := os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = data
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// Export writes the report rows and returns the A1 range they occupy.
func (e *Exporter) Export(ctx context.Context, r reports.Report) (string, error) {
	if e.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	// Find the next empty row by reading column A first
	rng := fmt.Sprintf("%s!A:A", e.sheet)
	resp, err := e.svc.Spreadsheets.Values.Get(e.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to get sheet dimensions for %s: %w", e.sheet, err)
	}
	nextRow := len(resp.Values) + 1

	values := make([][]any, 0, len(r.Rows)+1)
	if nextRow == 1 {
		values = append(values, header)
	}
	for _, row := range r.Rows {
		values = append(values, []any{
			r.Username,
			row.Date.Format(time.DateOnly),
			string(row.Type),
			string(row.Category),
			row.Amount.StringFixed(2),
			row.Note,
			row.PaymentMethod,
		})
	}
	if len(values) == 0 {
		return fmt.Sprintf("%s!A%d", e.sheet, nextRow), nil
	}

	lastRow := nextRow + len(values) - 1
	dataRange := fmt.Sprintf("%s!A%d:G%d", e.sheet, nextRow, lastRow)
	_, err = e.svc.Spreadsheets.Values.Update(e.spreadsheetID, dataRange, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to update %s: %w", dataRange, err)
	}

	slog.InfoContext(ctx, "Exported report to Google Sheets",
		"username", r.Username,
		"range", dataRange,
		"rows", len(r.Rows))

	return dataRange, nil
}
