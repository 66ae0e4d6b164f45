package google

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/digitaldrywood/fitweight/internal/history"
)

// SheetsClient appends weight rows to one tab of a spreadsheet.
type SheetsClient struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
}

// NewSheetsService builds a Sheets API service authenticated through src.
// base and endpoint behave as in NewFitClient.
func NewSheetsService(ctx context.Context, src oauth2.TokenSource, base *http.Client, endpoint string) (*sheets.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(authorizedClient(src, base))}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	srv, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Sheets client: %w", err)
	}
	return srv, nil
}

func NewSheetsClient(service *sheets.Service, spreadsheetID, sheetName string) *SheetsClient {
	return &SheetsClient{
		service:       service,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}
}

// AppendRow adds (date, pounds) after the last row of the tab. Existing rows
// are never overwritten.
func (s *SheetsClient) AppendRow(ctx context.Context, row history.Row) error {
	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{
			{row.Date, row.Pounds},
		},
	}

	_, err := s.service.Spreadsheets.Values.Append(
		s.spreadsheetID,
		s.sheetName+"!A:B",
		valueRange,
	).ValueInputOption("USER_ENTERED").InsertDataOption("INSERT_ROWS").Context(ctx).Do()

	if err != nil {
		return fmt.Errorf("unable to append data to sheet: %w", err)
	}

	return nil
}

// Title returns the spreadsheet title, used to confirm access after authorizing.
func (s *SheetsClient) Title(ctx context.Context) (string, error) {
	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to access spreadsheet: %w", err)
	}
	return spreadsheet.Properties.Title, nil
}
