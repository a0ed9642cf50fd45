package api

import (
	"net/http"
	"strings"
	"time"

	"cartbroker/internal/models"
)

// apiTimeLayouts are accepted for interval bounds, in the broker's zone when
// the value carries no offset.
var apiTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04", models.TimeLayout}

func (s *HTTPServer) parseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range apiTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, s.availability.Location()); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.snapshot.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "loading"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	if q.Get("start") == "" || q.Get("end") == "" {
		writeError(w, http.StatusBadRequest, "start and end are required")
		return
	}
	start, ok := s.parseTime(q.Get("start"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid start; expected RFC3339 or YYYY-MM-DDTHH:MM")
		return
	}
	end, ok := s.parseTime(q.Get("end"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid end; expected RFC3339 or YYYY-MM-DDTHH:MM")
		return
	}
	if !end.After(start) {
		writeError(w, http.StatusBadRequest, "end must be after start")
		return
	}

	iv := models.NewInterval(start, end)
	resp := map[string]any{
		"start":     iv.Start.Format(time.RFC3339),
		"end":       iv.End.Format(time.RFC3339),
		"available": s.availability.CountAvailable(iv),
	}
	if cart, ok := s.availability.FindOneAvailable(iv); ok {
		resp["cart"] = cart
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if dateStr == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	date, err := time.ParseInLocation(models.DateLayout, dateStr, s.availability.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	slots := s.availability.StartSlots(date)
	out := make([]map[string]any, 0, len(slots))
	for _, slot := range slots {
		out = append(out, map[string]any{
			"time":      slot.Time.Format("15:04"),
			"available": slot.Available,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": dateStr, "slots": out})
}
