package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05"

	// Rows are laid out as Date, Amount, Category, Note, User ID, Created At, Source, ID
	sheetColumns = "A:H"
)

// SheetsStore keeps transactions in a Google Sheets worksheet, one row per
// transaction with expenses stored as negative amounts.
type SheetsStore struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
	limiter       *rate.Limiter
}

// NewSheetsStore creates a SheetsStore for the given spreadsheet and worksheet
func NewSheetsStore(ctx context.Context, spreadsheetID, sheetName string, opts ...option.ClientOption) (*SheetsStore, error) {
	if spreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if sheetName == "" {
		sheetName = "Transactions"
	}

	service, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	return &SheetsStore{
		service:       service,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		// Sheets quota is per minute; pace writes instead of bursting them
		limiter: rate.NewLimiter(rate.Every(300*time.Millisecond), 1),
	}, nil
}

// Link returns the browser URL of the spreadsheet
func (s *SheetsStore) Link() string {
	return "https://docs.google.com/spreadsheets/d/" + s.spreadsheetID
}

func (s *SheetsStore) dataRange() string {
	return s.sheetName + "!" + sheetColumns
}

// Append adds a row for the transaction
func (s *SheetsStore) Append(ctx context.Context, t Transaction) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	row := []interface{}{
		t.Date.Format(dateLayout),
		t.Signed(),
		t.Category,
		t.Note,
		t.UserID,
		t.CreatedAt.Format(timestampLayout),
		string(t.Source),
		t.ID,
	}
	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.dataRange(), &sheets.ValueRange{
		Values: [][]interface{}{row},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("appending row: %w", err)
	}
	return nil
}

// DeleteLast removes the bottom-most row belonging to userID
func (s *SheetsStore) DeleteLast(ctx context.Context, userID int64) (*Transaction, error) {
	rows, err := s.rows(ctx)
	if err != nil {
		return nil, err
	}

	index := -1
	var found Transaction
	for i := len(rows) - 1; i >= 0; i-- {
		t, ok := rowToTransaction(rows[i])
		if ok && t.UserID == userID {
			index, found = i, t
			break
		}
	}
	if index < 0 {
		return nil, ErrNotFound
	}

	sheetID, err := s.sheetID(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	_, err = s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(index),
					EndIndex:   int64(index + 1),
				},
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("deleting row %d: %w", index+1, err)
	}
	return &found, nil
}

// QueryRange returns the user's rows dated within [from, to)
func (s *SheetsStore) QueryRange(ctx context.Context, userID int64, from, to time.Time) ([]Transaction, error) {
	rows, err := s.rows(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]Transaction, 0)
	for _, row := range rows {
		t, ok := rowToTransaction(row)
		if !ok || t.UserID != userID {
			continue
		}
		if inRange(t.Date, from, to) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Ping fetches the spreadsheet title to check credentials and connectivity
func (s *SheetsStore) Ping(ctx context.Context) error {
	if _, err := s.service.Spreadsheets.Get(s.spreadsheetID).Fields("properties.title").Context(ctx).Do(); err != nil {
		return fmt.Errorf("reading spreadsheet: %w", err)
	}
	return nil
}

func (s *SheetsStore) rows(ctx context.Context) ([][]interface{}, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.dataRange()).
		ValueRenderOption("UNFORMATTED_VALUE").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("reading rows: %w", err)
	}
	return resp.Values, nil
}

func (s *SheetsStore) sheetID(ctx context.Context) (int64, error) {
	resp, err := s.service.Spreadsheets.Get(s.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("reading sheet properties: %w", err)
	}
	for _, sh := range resp.Sheets {
		if sh.Properties != nil && sh.Properties.Title == s.sheetName {
			return sh.Properties.SheetId, nil
		}
	}
	return 0, fmt.Errorf("worksheet %q not found", s.sheetName)
}

// rowToTransaction converts a sheet row; header and malformed rows are rejected
func rowToTransaction(row []interface{}) (Transaction, bool) {
	if len(row) < 5 {
		return Transaction{}, false
	}

	date, err := time.ParseInLocation(dateLayout, cellString(row[0]), time.Local)
	if err != nil {
		return Transaction{}, false
	}
	amount, ok := cellInt(row[1])
	if !ok || amount == 0 {
		return Transaction{}, false
	}
	userID, ok := cellInt(row[4])
	if !ok {
		return Transaction{}, false
	}

	t := Transaction{
		UserID:    userID,
		Date:      date,
		Direction: Expense,
		Amount:    amount,
		Category:  NormalizeCategory(cellString(row[2])),
		Note:      cellString(row[3]),
		Source:    SourceManual,
	}
	if amount > 0 {
		t.Direction = Income
	} else {
		t.Amount = -amount
	}
	if len(row) > 5 {
		t.CreatedAt, _ = time.ParseInLocation(timestampLayout, cellString(row[5]), time.Local)
	}
	if len(row) > 6 && cellString(row[6]) != "" {
		t.Source = Source(cellString(row[6]))
	}
	if len(row) > 7 {
		t.ID = cellString(row[7])
	}
	return t, true
}

func cellString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

func cellInt(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
