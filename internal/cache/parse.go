package cache

import (
	"fmt"
	"strconv"
	"time"

	"cartbroker/internal/models"
	"cartbroker/internal/tables"

	"github.com/rs/zerolog"
)

func parseUsers(rows []tables.Row, logger *zerolog.Logger) (map[string]models.User, int) {
	users := make(map[string]models.User, len(rows))
	skipped := 0
	for _, row := range rows {
		handle := models.NormalizeHandle(row[tables.ColHandle])
		if handle == "" {
			skipped++
			logger.Warn().Msg("users: row without handle skipped")
			continue
		}
		var chatID int64
		if raw := row[tables.ColChatID]; raw != "" {
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				logger.Warn().Err(err).Str("handle", handle).Msg("users: bad chat id ignored")
			}
			chatID = id
		}
		users[handle] = models.User{Handle: handle, ChatID: chatID}
	}
	return users, skipped
}

func parseCarts(rows []tables.Row, logger *zerolog.Logger) (map[string]models.Cart, int) {
	carts := make(map[string]models.Cart, len(rows))
	skipped := 0
	for _, row := range rows {
		name := row[tables.ColName]
		if name == "" {
			skipped++
			logger.Warn().Msg("carts: row without name skipped")
			continue
		}
		carts[name] = models.Cart{
			Name:     name,
			LockCode: row[tables.ColLockCode],
			Active:   models.ParseActive(row[tables.ColActive]),
		}
	}
	return carts, skipped
}

type parsedReservations struct {
	live    map[string]*models.Reservation
	retired map[string]models.Status
	skipped int
}

func parseReservations(rows []tables.Row, loc *time.Location, logger *zerolog.Logger) parsedReservations {
	out := parsedReservations{
		live:    make(map[string]*models.Reservation, len(rows)),
		retired: make(map[string]models.Status),
	}
	for _, row := range rows {
		r, err := parseReservation(row, loc, logger)
		if err != nil {
			out.skipped++
			logger.Warn().Err(err).Str("reservation_id", row[tables.ColID]).Msg("reservations: malformed row skipped")
			continue
		}
		if _, dup := out.live[r.ID]; dup {
			logger.Warn().Str("reservation_id", r.ID).Msg("reservations: duplicate id, last row wins")
		}
		delete(out.live, r.ID)
		delete(out.retired, r.ID)
		if r.Status.IsTerminal() {
			out.retired[r.ID] = r.Status
			continue
		}
		out.live[r.ID] = r
	}
	return out
}

func parseReservation(row tables.Row, loc *time.Location, logger *zerolog.Logger) (*models.Reservation, error) {
	id := row[tables.ColID]
	if id == "" {
		return nil, fmt.Errorf("missing id")
	}
	status, err := models.ParseStatus(row[tables.ColStatus])
	if err != nil {
		return nil, err
	}
	start, err := time.ParseInLocation(models.TimeLayout, row[tables.ColStart], loc)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	end, err := time.ParseInLocation(models.TimeLayout, row[tables.ColEnd], loc)
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	if !end.After(start) {
		return nil, fmt.Errorf("end %s is not after start %s", row[tables.ColEnd], row[tables.ColStart])
	}

	r := &models.Reservation{
		ID:       id,
		Cart:     row[tables.ColCart],
		Start:    start,
		End:      end,
		Holder:   models.NormalizeHandle(row[tables.ColHolder]),
		Status:   status,
		Evidence: row[tables.ColEvidence],
	}
	// The actual times are informational; a garbled one must not free the cart.
	r.ActualStart = parseOptionalTime(row[tables.ColActualStart], loc, id, logger)
	r.ActualEnd = parseOptionalTime(row[tables.ColActualEnd], loc, id, logger)
	if raw := row[tables.ColChatID]; raw != "" {
		if chatID, err := strconv.ParseInt(raw, 10, 64); err == nil {
			r.ChatID = chatID
		}
	}
	return r, nil
}

func parseOptionalTime(raw string, loc *time.Location, id string, logger *zerolog.Logger) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.ParseInLocation(models.TimeLayout, raw, loc)
	if err != nil {
		logger.Warn().Err(err).Str("reservation_id", id).Msg("reservations: bad actual time ignored")
		return nil
	}
	return &t
}

// ReservationRow renders a reservation the way it is stored remotely.
func ReservationRow(r models.Reservation) tables.Row {
	row := tables.Row{
		tables.ColID:          r.ID,
		tables.ColCart:        r.Cart,
		tables.ColStart:       r.Start.Format(models.TimeLayout),
		tables.ColEnd:         r.End.Format(models.TimeLayout),
		tables.ColActualStart: FormatOptionalTime(r.ActualStart),
		tables.ColActualEnd:   FormatOptionalTime(r.ActualEnd),
		tables.ColHolder:      r.Holder,
		tables.ColStatus:      string(r.Status),
		tables.ColEvidence:    r.Evidence,
		tables.ColChatID:      "",
	}
	if r.ChatID != 0 {
		row[tables.ColChatID] = strconv.FormatInt(r.ChatID, 10)
	}
	return row
}

// FormatOptionalTime renders t in the table layout, or "" for nil.
func FormatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(models.TimeLayout)
}

// CartRow renders a cart the way it is stored remotely.
func CartRow(c models.Cart) tables.Row {
	return tables.Row{
		tables.ColName:     c.Name,
		tables.ColLockCode: c.LockCode,
		tables.ColActive:   models.FormatActive(c.Active),
	}
}

// UserRow renders a user the way it is stored remotely.
func UserRow(u models.User) tables.Row {
	row := tables.Row{tables.ColHandle: u.Handle, tables.ColChatID: ""}
	if u.ChatID != 0 {
		row[tables.ColChatID] = strconv.FormatInt(u.ChatID, 10)
	}
	return row
}
