package models

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// legacyStatuses maps the literals the sheet used before statuses were
// normalized.
var legacyStatuses = map[string]Status{
	"ожидает подтверждения": StatusPending,
	"активна":               StatusActive,
	"завершена":             StatusCompleted,
	"отменена":              StatusCancelled,
}

// ParseStatus accepts the stable serialization and the legacy literals.
func ParseStatus(raw string) (Status, error) {
	v := strings.ToLower(strings.TrimSpace(raw))
	switch s := Status(v); s {
	case StatusPending, StatusActive, StatusCompleted, StatusCancelled:
		return s, nil
	}
	if s, ok := legacyStatuses[v]; ok {
		return s, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether s -> next is a legal lifecycle step.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusCancelled
	case StatusActive:
		return next == StatusCompleted || next == StatusCancelled
	default:
		return false
	}
}

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func NewInterval(start, end time.Time) Interval {
	return Interval{Start: start, End: end}
}

// Overlaps uses half-open semantics: touching endpoints do not overlap.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

func (i Interval) Valid() bool {
	return !i.Start.IsZero() && i.Start.Before(i.End)
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Start.Format(TimeLayout), i.End.Format(TimeLayout))
}

// Reservation is one booking of one cart.
type Reservation struct {
	ID          string     `json:"id"`
	Cart        string     `json:"cart"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	ActualStart *time.Time `json:"actual_start,omitempty"`
	ActualEnd   *time.Time `json:"actual_end,omitempty"`
	Holder      string     `json:"holder"`
	Status      Status     `json:"status"`
	Evidence    string     `json:"evidence,omitempty"`
	ChatID      int64      `json:"chat_id"`

	// Provisional is set while the row is not yet known to be persisted.
	Provisional bool `json:"-"`
}

func (r Reservation) Interval() Interval {
	return Interval{Start: r.Start, End: r.End}
}

// Occupies reports whether the reservation blocks its cart.
func (r Reservation) Occupies() bool {
	return !r.Status.IsTerminal()
}

// ReservationPatch lists the fields a single transition changes.
type ReservationPatch struct {
	Status      *Status
	ActualStart *time.Time
	ActualEnd   *time.Time
	Evidence    *string
}

// Apply writes the set fields of p into r.
func (p ReservationPatch) Apply(r *Reservation) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.ActualStart != nil {
		t := *p.ActualStart
		r.ActualStart = &t
	}
	if p.ActualEnd != nil {
		t := *p.ActualEnd
		r.ActualEnd = &t
	}
	if p.Evidence != nil {
		r.Evidence = *p.Evidence
	}
}
