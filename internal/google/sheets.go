package google

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"cartbroker/internal/tables"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// SheetsGateway implements the table contract over one Google spreadsheet,
// one sheet per table. Columns are located by header name and rows by the
// table's key column, both re-read on every write.
type SheetsGateway struct {
	service       *sheets.Service
	spreadsheetID string
	titles        map[tables.Table]string

	sheetIDs map[tables.Table]int64
	mu       sync.Mutex
	logger   *zerolog.Logger
}

func NewSheetsGateway(ctx context.Context, credentialsFile, spreadsheetID string, titles map[tables.Table]string, logger *zerolog.Logger) (*SheetsGateway, error) {
	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return NewSheetsGatewayWithService(srv, spreadsheetID, titles, logger), nil
}

// NewSheetsGatewayWithService wraps an already configured client.
func NewSheetsGatewayWithService(srv *sheets.Service, spreadsheetID string, titles map[tables.Table]string, logger *zerolog.Logger) *SheetsGateway {
	resolved := make(map[tables.Table]string, len(tables.All()))
	for _, t := range tables.All() {
		resolved[t] = defaultTitle(t)
		if title, ok := titles[t]; ok && title != "" {
			resolved[t] = title
		}
	}
	l := logger.With().Str("component", "sheets").Logger()
	return &SheetsGateway{
		service:       srv,
		spreadsheetID: spreadsheetID,
		titles:        resolved,
		sheetIDs:      make(map[tables.Table]int64),
		logger:        &l,
	}
}

func defaultTitle(t tables.Table) string {
	switch t {
	case tables.Users:
		return "Users"
	case tables.Reservations:
		return "Reservations"
	default:
		return "Carts"
	}
}

// TestConnection проверяет, что таблица доступна и все листы на месте
func (s *SheetsGateway) TestConnection(ctx context.Context) error {
	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("unable to get spreadsheet: %w", classify(err))
	}

	found := make(map[string]int64, len(spreadsheet.Sheets))
	for _, sheet := range spreadsheet.Sheets {
		found[sheet.Properties.Title] = sheet.Properties.SheetId
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for t, title := range s.titles {
		id, ok := found[title]
		if !ok {
			return tables.Permanent(fmt.Errorf("sheet %q for %s not found", title, t))
		}
		s.sheetIDs[t] = id
	}
	return nil
}

func (s *SheetsGateway) ReadAll(ctx context.Context, t tables.Table) ([]tables.Row, error) {
	g, err := s.readGrid(ctx, t)
	if err != nil {
		return nil, err
	}

	rows := make([]tables.Row, 0, len(g.values))
	for _, raw := range g.values[1:] {
		row := make(tables.Row, len(g.header))
		empty := true
		for col, idx := range g.header {
			if idx < len(raw) {
				v := strings.TrimSpace(fmt.Sprint(raw[idx]))
				row[col] = v
				if v != "" {
					empty = false
				}
			}
		}
		if !empty {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (s *SheetsGateway) AppendRow(ctx context.Context, t tables.Table, row tables.Row) error {
	g, err := s.readGrid(ctx, t)
	if err != nil {
		return err
	}

	values := make([]interface{}, g.width())
	for i := range values {
		values[i] = ""
	}
	for col, v := range row {
		idx, ok := g.header[col]
		if !ok {
			return tables.Permanent(fmt.Errorf("%s.%s: %w", t, col, tables.ErrUnknownColumn))
		}
		values[idx] = v
	}

	vr := &sheets.ValueRange{Values: [][]interface{}{values}}
	_, err = s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.a1(t, "A1"), vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("append to %s: %w", t, classify(err))
	}
	return nil
}

func (s *SheetsGateway) UpdateCell(ctx context.Context, t tables.Table, key, column, value string) error {
	g, err := s.readGrid(ctx, t)
	if err != nil {
		return err
	}
	cell, err := g.cell(t, key, column)
	if err != nil {
		return err
	}

	vr := &sheets.ValueRange{Values: [][]interface{}{{value}}}
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, s.a1(t, cell), vr).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update %s %s: %w", t, cell, classify(err))
	}
	return nil
}

func (s *SheetsGateway) BatchUpdate(ctx context.Context, t tables.Table, updates []tables.CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	g, err := s.readGrid(ctx, t)
	if err != nil {
		return err
	}

	data := make([]*sheets.ValueRange, 0, len(updates))
	for _, u := range updates {
		cell, err := g.cell(t, u.Key, u.Column)
		if err != nil {
			return err
		}
		data = append(data, &sheets.ValueRange{
			Range:  s.a1(t, cell),
			Values: [][]interface{}{{u.Value}},
		})
	}

	req := &sheets.BatchUpdateValuesRequest{ValueInputOption: "RAW", Data: data}
	if _, err := s.service.Spreadsheets.Values.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("batch update %s: %w", t, classify(err))
	}
	return nil
}

func (s *SheetsGateway) DeleteRow(ctx context.Context, t tables.Table, key string) error {
	g, err := s.readGrid(ctx, t)
	if err != nil {
		return err
	}
	rowIdx, err := g.row(t, key)
	if err != nil {
		return err
	}
	sheetID, err := s.sheetID(ctx, t)
	if err != nil {
		return err
	}

	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(rowIdx),
					EndIndex:   int64(rowIdx + 1),
				},
			},
		}},
	}
	if _, err := s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("delete %s row %d: %w", t, rowIdx+1, classify(err))
	}
	return nil
}

func (s *SheetsGateway) sheetID(ctx context.Context, t tables.Table) (int64, error) {
	s.mu.Lock()
	id, ok := s.sheetIDs[t]
	s.mu.Unlock()
	if ok {
		return id, nil
	}
	if err := s.TestConnection(ctx); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sheetIDs[t], nil
}

func (s *SheetsGateway) a1(t tables.Table, cell string) string {
	return fmt.Sprintf("'%s'!%s", strings.ReplaceAll(s.titles[t], "'", "''"), cell)
}

// grid is one consistent read of a sheet: the raw values and the header index.
type grid struct {
	values [][]interface{}
	header map[string]int
}

func (s *SheetsGateway) readGrid(ctx context.Context, t tables.Table) (*grid, error) {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.a1(t, "A:Z")).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", t, classify(err))
	}
	if len(resp.Values) == 0 {
		return nil, tables.Permanent(fmt.Errorf("sheet %q has no header row", s.titles[t]))
	}

	header := make(map[string]int, len(resp.Values[0]))
	for i, cell := range resp.Values[0] {
		name := strings.ToLower(strings.TrimSpace(fmt.Sprint(cell)))
		if name != "" {
			header[name] = i
		}
	}
	if _, ok := header[tables.KeyColumn(t)]; !ok {
		return nil, tables.Permanent(fmt.Errorf("sheet %q: key %w %q", s.titles[t], tables.ErrUnknownColumn, tables.KeyColumn(t)))
	}
	return &grid{values: resp.Values, header: header}, nil
}

func (g *grid) width() int {
	w := 0
	for _, idx := range g.header {
		if idx+1 > w {
			w = idx + 1
		}
	}
	return w
}

// row returns the zero-based sheet row holding key.
func (g *grid) row(t tables.Table, key string) (int, error) {
	keyIdx := g.header[tables.KeyColumn(t)]
	for i := 1; i < len(g.values); i++ {
		r := g.values[i]
		if keyIdx < len(r) && tables.KeyMatches(t, fmt.Sprint(r[keyIdx]), key) {
			return i, nil
		}
	}
	return -1, tables.Permanent(fmt.Errorf("%s %s=%q: %w", t, tables.KeyColumn(t), key, tables.ErrRowNotFound))
}

func (g *grid) cell(t tables.Table, key, column string) (string, error) {
	colIdx, ok := g.header[column]
	if !ok {
		return "", tables.Permanent(fmt.Errorf("%s.%s: %w", t, column, tables.ErrUnknownColumn))
	}
	rowIdx, err := g.row(t, key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d", columnLetter(colIdx), rowIdx+1), nil
}

// columnLetter converts a zero-based index to A1 notation: 0 -> A, 26 -> AA.
func columnLetter(idx int) string {
	var b []byte
	for idx >= 0 {
		b = append([]byte{byte('A' + idx%26)}, b...)
		idx = idx/26 - 1
	}
	return string(b)
}
