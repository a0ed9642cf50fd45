package models

import "time"

// Step is the dialog step a session is waiting in.
type Step string

const (
	StepSelectDate      Step = "select_date"
	StepSelectStartTime Step = "select_start_time"
	StepSelectEndTime   Step = "select_end_time"
	StepConfirm         Step = "confirm"
	StepTakePhoto       Step = "take_photo"
	StepReturnPhoto     Step = "return_photo"

	StepAdminCartName       Step = "admin_cart_name"
	StepAdminCartCode       Step = "admin_cart_code"
	StepAdminToggleCart     Step = "admin_toggle_cart"
	StepAdminChangeCodeCart Step = "admin_change_code_cart"
	StepAdminChangeCode     Step = "admin_change_code"
	StepAdminAddUser        Step = "admin_add_user"
	StepAdminRemoveUser     Step = "admin_remove_user"
)

// NeverExpires reports whether the sweep must leave a session in this step
// alone. Dropping these would orphan a half-written reservation.
func (s Step) NeverExpires() bool {
	return s == StepConfirm || s == StepSelectEndTime
}

// SessionData is the step-scoped payload of a dialog.
type SessionData struct {
	Date          time.Time `json:"date,omitempty"`
	Start         time.Time `json:"start,omitempty"`
	End           time.Time `json:"end,omitempty"`
	ReservationID string    `json:"reservation_id,omitempty"`
	Cart          string    `json:"cart,omitempty"`
}

// Session is the short-lived interaction state of one actor.
type Session struct {
	ActorID   int64       `json:"actor_id"`
	ChatID    int64       `json:"chat_id"`
	Step      Step        `json:"step"`
	Data      SessionData `json:"data"`
	CreatedAt time.Time   `json:"created_at"`
	TouchedAt time.Time   `json:"touched_at"`
}

// Expired reports whether the session is past its timeout at now.
func (s *Session) Expired(now time.Time, timeout time.Duration) bool {
	if s.Step.NeverExpires() {
		return false
	}
	return now.Sub(s.TouchedAt) > timeout
}

// Slot is one selectable time together with the number of free carts.
type Slot struct {
	Time      time.Time `json:"time"`
	Available int       `json:"available"`
}
