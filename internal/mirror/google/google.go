// Package google reflects committed ledger entries into a Google Sheets
// spreadsheet. The mirror is write-only and keyed by entry id, so replayed
// events land on the same row instead of duplicating it.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"gridbook/internal/ledger"
	applog "gridbook/internal/log"
)

// Mirror rows span A:F: date, category, amount, description, entry id,
// sheet id. Entry id in column E is the upsert key.
const (
	rowRange   = "A:F"
	idColRange = "E:E"
)

type Mirror struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	log           *applog.Logger
}

// NewFromEnv builds a mirror writer from service-account credentials.
// Credentials come from GOOGLE_SERVICE_ACCOUNT_JSON,
// GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context, spreadsheetID, sheetName string, logger *applog.Logger) (*Mirror, error) {
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if strings.TrimSpace(sheetName) == "" {
		sheetName = "Entries"
	}

	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Mirror{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		log:           logger.WithComponent(applog.ComponentMirror),
	}, nil
}

func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error
	switch {
	case serviceAccountJSON != "":
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// Apply reflects one entry event onto the spreadsheet.
func (m *Mirror) Apply(ctx context.Context, ev ledger.EntryEvent) error {
	switch ev.Action {
	case ledger.ActionUpsert:
		return m.upsertRow(ctx, ev)
	case ledger.ActionDelete:
		return m.clearRow(ctx, ev)
	default:
		return fmt.Errorf("unknown entry event action %q", ev.Action)
	}
}

func (m *Mirror) upsertRow(ctx context.Context, ev ledger.EntryEvent) error {
	row, err := m.findRow(ctx, ev.EntryID)
	if err != nil {
		return err
	}

	amount := float64(ev.AmountCents) / 100.0
	values := &gsheet.ValueRange{Values: [][]any{{
		ev.Date, ev.Category, amount, ev.Description, ev.EntryID, ev.SheetID,
	}}}

	if row > 0 {
		rng := fmt.Sprintf("%s!A%d:F%d", m.sheetName, row, row)
		_, err = m.svc.Spreadsheets.Values.Update(m.spreadsheetID, rng, values).
			ValueInputOption("USER_ENTERED").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("update row %d in %s: %w", row, m.sheetName, err)
		}
	} else {
		rng := fmt.Sprintf("%s!%s", m.sheetName, rowRange)
		_, err = m.svc.Spreadsheets.Values.Append(m.spreadsheetID, rng, values).
			ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("append row to %s: %w", m.sheetName, err)
		}
	}

	m.log.InfoContext(ctx, "entry mirrored",
		applog.FieldOperation, applog.OpMirror,
		applog.FieldEntryID, ev.EntryID,
		applog.FieldSheetID, ev.SheetID)
	return nil
}

func (m *Mirror) clearRow(ctx context.Context, ev ledger.EntryEvent) error {
	row, err := m.findRow(ctx, ev.EntryID)
	if err != nil {
		return err
	}
	if row == 0 {
		// Already absent; deletion is idempotent.
		return nil
	}
	rng := fmt.Sprintf("%s!A%d:F%d", m.sheetName, row, row)
	_, err = m.svc.Spreadsheets.Values.Clear(m.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("clear row %d in %s: %w", row, m.sheetName, err)
	}

	m.log.InfoContext(ctx, "mirrored entry cleared",
		applog.FieldOperation, applog.OpMirror,
		applog.FieldEntryID, ev.EntryID)
	return nil
}

// findRow returns the 1-based row currently holding entryID, or 0.
func (m *Mirror) findRow(ctx context.Context, entryID string) (int, error) {
	rng := fmt.Sprintf("%s!%s", m.sheetName, idColRange)
	resp, err := m.svc.Spreadsheets.Values.Get(m.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read id column of %s: %w", m.sheetName, err)
	}
	for i, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == entryID {
			return i + 1, nil
		}
	}
	return 0, nil
}
