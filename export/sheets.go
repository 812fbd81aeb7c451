package export

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"github.com/syncdock/syncdock-server/internal/model"
	"github.com/syncdock/syncdock-server/logfield"
)

// SheetsWriter exports batches into a spreadsheet, one sheet per table.
// Rows go out in bounded chunks, strictly sequentially: later chunks depend
// on the grid resize a preceding chunk may have triggered.
type SheetsWriter struct {
	service *sheets.Service
	log     logger.Logger

	config struct {
		chunkSize int
	}
}

func NewSheetsWriter(ctx context.Context, accessToken string, conf *config.Config, log logger.Logger) (*SheetsWriter, error) {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	service, err := sheets.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	w := &SheetsWriter{
		service: service,
		log:     log.Child("sheets"),
	}
	w.config.chunkSize = conf.GetInt("Sheets.chunkSize", 5000)
	return w, nil
}

// Export creates a spreadsheet holding one sheet per non-empty batch and
// fills it. It returns the spreadsheet id.
func (w *SheetsWriter) Export(ctx context.Context, title string, batches []model.RecordBatch) (string, error) {
	sheetDefs := make([]*sheets.Sheet, 0, len(batches))
	for _, batch := range batches {
		sheetDefs = append(sheetDefs, &sheets.Sheet{
			Properties: &sheets.SheetProperties{Title: batch.TableName},
		})
	}

	spreadsheet, err := w.service.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{Title: title},
		Sheets:     sheetDefs,
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("creating spreadsheet: %w", err)
	}

	for i, batch := range batches {
		if len(batch.Records) == 0 {
			continue
		}
		headers := Headers(batch.Records)
		rows := make([][]any, 0, len(batch.Records)+1)
		headerRow := make([]any, len(headers))
		for j, header := range headers {
			headerRow[j] = header
		}
		rows = append(rows, headerRow)
		for _, record := range batch.Records {
			row := make([]any, len(headers))
			for j, header := range headers {
				row[j] = cellValue(record[header])
			}
			rows = append(rows, row)
		}

		if err := w.writeSheet(ctx, spreadsheet.SpreadsheetId, spreadsheet.Sheets[i].Properties, rows); err != nil {
			return "", fmt.Errorf("writing sheet %s: %w", batch.TableName, err)
		}
	}

	if err := w.styleHeaders(ctx, spreadsheet); err != nil {
		w.log.Warnw("styling header rows", logfield.Error, err.Error())
	}

	w.log.Infow("exported spreadsheet",
		logfield.SpreadsheetID, spreadsheet.SpreadsheetId,
		"tables", len(batches),
	)
	return spreadsheet.SpreadsheetId, nil
}

// writeSheet sends rows in chunks; the first chunk starts with the header at
// row 1, later chunks continue at the right offset. The grid is resized
// before a chunk that would exceed it, growing only.
func (w *SheetsWriter) writeSheet(ctx context.Context, spreadsheetID string, props *sheets.SheetProperties, rows [][]any) error {
	maxColumns := 0
	for _, row := range rows {
		if len(row) > maxColumns {
			maxColumns = len(row)
		}
	}

	var gridRows, gridColumns int64
	if props.GridProperties != nil {
		gridRows = props.GridProperties.RowCount
		gridColumns = props.GridProperties.ColumnCount
	}

	for start := 0; start < len(rows); start += w.config.chunkSize {
		end := min(start+w.config.chunkSize, len(rows))
		chunk := rows[start:end]

		startRow := int64(start + 1)
		endRow := int64(end)

		if endRow > gridRows || int64(maxColumns) > gridColumns {
			gridRows = max(gridRows, endRow)
			gridColumns = max(gridColumns, int64(maxColumns))
			if err := w.resize(ctx, spreadsheetID, props.SheetId, gridRows, gridColumns); err != nil {
				return err
			}
		}

		rng := fmt.Sprintf("%s!A%d:%s%d", props.Title, startRow, columnLetter(maxColumns), endRow)
		_, err := w.service.Spreadsheets.Values.
			Update(spreadsheetID, rng, &sheets.ValueRange{Values: chunk}).
			ValueInputOption("RAW").
			Context(ctx).
			Do()
		if err != nil {
			return fmt.Errorf("updating range %s: %w", rng, err)
		}
	}
	return nil
}

func (w *SheetsWriter) resize(ctx context.Context, spreadsheetID string, sheetID, rowCount, columnCount int64) error {
	_, err := w.service.Spreadsheets.BatchUpdate(spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			UpdateSheetProperties: &sheets.UpdateSheetPropertiesRequest{
				Properties: &sheets.SheetProperties{
					SheetId: sheetID,
					GridProperties: &sheets.GridProperties{
						RowCount:    rowCount,
						ColumnCount: columnCount,
					},
				},
				Fields: "gridProperties(rowCount,columnCount)",
			},
		}},
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("resizing grid: %w", err)
	}
	return nil
}

func (w *SheetsWriter) styleHeaders(ctx context.Context, spreadsheet *sheets.Spreadsheet) error {
	requests := make([]*sheets.Request, 0, len(spreadsheet.Sheets))
	for _, sheet := range spreadsheet.Sheets {
		requests = append(requests, &sheets.Request{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:       sheet.Properties.SheetId,
					StartRowIndex: 0,
					EndRowIndex:   1,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat: &sheets.TextFormat{Bold: true},
					},
				},
				Fields: "userEnteredFormat(textFormat)",
			},
		})
	}
	_, err := w.service.Spreadsheets.BatchUpdate(spreadsheet.SpreadsheetId, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: requests,
	}).Context(ctx).Do()
	return err
}

// columnLetter converts a 1-based column number to its A1 letter form.
func columnLetter(column int) string {
	letter := ""
	for column > 0 {
		remainder := (column - 1) % 26
		letter = string(rune('A'+remainder)) + letter
		column = (column - 1) / 26
	}
	return letter
}

// cellValue coerces a record value for a spreadsheet cell: numeric-looking
// strings become numbers, ISO datetime strings are truncated to their date
// part, a leading apostrophe escape is removed. Objects and arrays are
// serialized to JSON strings.
func cellValue(value any) any {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		if strings.HasPrefix(v, "'") {
			return v[1:]
		}
		if strings.Contains(v, "T") {
			if _, err := time.Parse(time.RFC3339, v); err == nil {
				date, _, _ := strings.Cut(v, "T")
				return date
			}
		}
		if v != "" {
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				return n
			}
		}
		return v
	case map[string]any, []any:
		return formatCell(v)
	default:
		return v
	}
}
