// Package availability answers "which cart is free in [s, e)" over a
// consistent view of carts and live reservations, and enumerates the time
// slots offered to a user.
package availability

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"cartbroker/internal/models"
)

// ErrInvalidInterval reports a requested interval outside the booking rules.
var ErrInvalidInterval = errors.New("invalid interval")

// CountAvailable returns the number of active carts with no live reservation
// overlapping iv.
func CountAvailable(carts []models.Cart, live []models.Reservation, iv models.Interval) int {
	busy := busyCarts(live, iv, "")
	n := 0
	for _, c := range carts {
		if c.Active && !busy[c.Name] {
			n++
		}
	}
	return n
}

// FindOneAvailable returns the first free active cart in natural name order.
func FindOneAvailable(carts []models.Cart, live []models.Reservation, iv models.Interval) (string, bool) {
	busy := busyCarts(live, iv, "")
	ordered := make([]models.Cart, len(carts))
	copy(ordered, carts)
	sort.SliceStable(ordered, func(i, j int) bool {
		return models.CompareCartNames(ordered[i].Name, ordered[j].Name) < 0
	})
	for _, c := range ordered {
		if c.Active && !busy[c.Name] {
			return c.Name, true
		}
	}
	return "", false
}

// IsCartFree reports whether no live reservation other than excludeID holds
// cart during iv.
func IsCartFree(cart string, live []models.Reservation, iv models.Interval, excludeID string) bool {
	return !busyCarts(live, iv, excludeID)[cart]
}

func busyCarts(live []models.Reservation, iv models.Interval, excludeID string) map[string]bool {
	busy := make(map[string]bool)
	for _, r := range live {
		if r.ID == excludeID || !r.Occupies() {
			continue
		}
		if r.Interval().Overlaps(iv) {
			busy[r.Cart] = true
		}
	}
	return busy
}

// Rules are the booking limits applied to requested intervals.
type Rules struct {
	Step  time.Duration
	Min   time.Duration
	Max   time.Duration
	Grace time.Duration
}

// DefaultRules returns the standard 15 minute grid with 30m..5h bookings.
func DefaultRules() Rules {
	return Rules{
		Step:  models.DefaultSlotStep,
		Min:   models.MinReservation,
		Max:   models.MaxReservation,
		Grace: models.PastStartGrace,
	}
}

func (r Rules) withDefaults() Rules {
	d := DefaultRules()
	if r.Step <= 0 {
		r.Step = d.Step
	}
	if r.Min <= 0 {
		r.Min = d.Min
	}
	if r.Max <= 0 {
		r.Max = d.Max
	}
	if r.Grace < 0 {
		r.Grace = 0
	}
	return r
}

// Validate checks iv against the rules at now.
func (r Rules) Validate(iv models.Interval, now time.Time) error {
	if !iv.Valid() {
		return fmt.Errorf("%w: end %s is not after start %s", ErrInvalidInterval,
			iv.End.Format(models.TimeLayout), iv.Start.Format(models.TimeLayout))
	}
	if d := iv.Duration(); d < r.Min || d > r.Max {
		return fmt.Errorf("%w: duration %s outside [%s, %s]", ErrInvalidInterval, d, r.Min, r.Max)
	}
	if iv.Start.Before(now.Add(-r.Grace)) {
		return fmt.Errorf("%w: start %s is in the past", ErrInvalidInterval, iv.Start.Format(models.TimeLayout))
	}
	return nil
}
