package api

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"cartbroker/internal/cache"
	"cartbroker/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const (
	reservationsSheet = "Бронирования"
	cartsSheet        = "Тележки"
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var reservationHeaders = []string{"ID", "Тележка", "Начало", "Конец", "Получена", "Возвращена", "Пользователь", "Статус"}

// handleExport streams the live reservations as a workbook. Optional from and
// to dates (YYYY-MM-DD, inclusive) filter by start.
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	from, to, err := s.exportRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var rs []models.Reservation
	for _, res := range s.snapshot.Reservations() {
		if res.Provisional {
			continue
		}
		if !from.IsZero() && res.Start.Before(from) {
			continue
		}
		if !to.IsZero() && !res.Start.Before(to) {
			continue
		}
		rs = append(rs, res)
	}
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Start.Equal(rs[j].Start) {
			return models.CompareCartNames(rs[i].Cart, rs[j].Cart) < 0
		}
		return rs[i].Start.Before(rs[j].Start)
	})

	f, err := buildWorkbook(rs, s.snapshot.Carts())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to build export")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="reservations_%s.xlsx"`, time.Now().In(s.availability.Location()).Format("2006-01-02")))
	if err := f.Write(w); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to write export")
	}
}

func (s *HTTPServer) exportRange(r *http.Request) (from, to time.Time, err error) {
	loc := s.availability.Location()
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		if from, err = time.ParseInLocation(models.DateLayout, raw, loc); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from; expected YYYY-MM-DD")
		}
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		day, perr := time.ParseInLocation(models.DateLayout, raw, loc)
		if perr != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to; expected YYYY-MM-DD")
		}
		to = day.AddDate(0, 0, 1)
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to must not be before from")
	}
	return from, to, nil
}

func buildWorkbook(rs []models.Reservation, carts []models.Cart) (*excelize.File, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(reservationsSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})

	for i, h := range reservationHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(reservationsSheet, cell, h)
		_ = f.SetCellStyle(reservationsSheet, cell, cell, headerStyle)
	}
	for i, res := range rs {
		row := []any{
			res.ID,
			res.Cart,
			res.Start.Format(models.TimeLayout),
			res.End.Format(models.TimeLayout),
			cache.FormatOptionalTime(res.ActualStart),
			cache.FormatOptionalTime(res.ActualEnd),
			"@" + res.Holder,
			string(res.Status),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(reservationsSheet, cell, &row); err != nil {
			f.Close()
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	_ = f.SetColWidth(reservationsSheet, "A", "A", 18)
	_ = f.SetColWidth(reservationsSheet, "B", "H", 20)

	if _, err := f.NewSheet(cartsSheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("error creating sheet: %w", err)
	}
	_ = f.SetSheetRow(cartsSheet, "A1", &[]any{"Тележка", "Активна"})
	_ = f.SetCellStyle(cartsSheet, "A1", "B1", headerStyle)
	for i, c := range carts {
		active := "нет"
		if c.Active {
			active = "да"
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		_ = f.SetSheetRow(cartsSheet, cell, &[]any{c.Name, active})
	}
	_ = f.SetColWidth(cartsSheet, "A", "A", 25)

	// Удаляем стандартный лист
	_ = f.DeleteSheet("Sheet1")
	return f, nil
}
