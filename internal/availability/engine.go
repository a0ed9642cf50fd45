package availability

import (
	"fmt"
	"iter"
	"time"

	"cartbroker/internal/models"
)

// Source is a consistent view of carts and live reservations.
type Source interface {
	Occupancy() ([]models.Cart, []models.Reservation)
}

// SlotStore caches materialized start slots.
type SlotStore interface {
	Get(key string) ([]models.Slot, bool)
	Put(key string, slots []models.Slot)
}

type Option func(*Engine)

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// Engine binds the pure queries to a live source and a calendar.
type Engine struct {
	src   Source
	slots SlotStore
	loc   *time.Location
	rules Rules
	clock func() time.Time
}

func NewEngine(src Source, slots SlotStore, loc *time.Location, rules Rules, opts ...Option) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	e := &Engine{
		src:   src,
		slots: slots,
		loc:   loc,
		rules: rules.withDefaults(),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Rules() Rules { return e.rules }

func (e *Engine) Location() *time.Location { return e.loc }

func (e *Engine) Now() time.Time { return e.clock().In(e.loc) }

func (e *Engine) CountAvailable(iv models.Interval) int {
	carts, live := e.src.Occupancy()
	return CountAvailable(carts, live, iv)
}

func (e *Engine) FindOneAvailable(iv models.Interval) (string, bool) {
	carts, live := e.src.Occupancy()
	return FindOneAvailable(carts, live, iv)
}

// PickFor returns a pick function choosing the first free cart for iv. It is
// meant to run inside the cache lock.
func (e *Engine) PickFor(iv models.Interval) func([]models.Cart, []models.Reservation) (string, bool) {
	return func(carts []models.Cart, live []models.Reservation) (string, bool) {
		return FindOneAvailable(carts, live, iv)
	}
}

// Validate checks iv against the engine rules at the current time.
func (e *Engine) Validate(iv models.Interval) error {
	return e.rules.Validate(iv, e.Now())
}

func (e *Engine) midnight(date time.Time) time.Time {
	d := date.In(e.loc)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, e.loc)
}

// EnumerateStartSlots yields the start times of date, each step apart, for
// which at least one cart is free for the minimum duration. Today begins at
// the step following now; past dates yield nothing. The sequence reads the
// source once per iteration, so it can be ranged over repeatedly.
func (e *Engine) EnumerateStartSlots(date time.Time, step time.Duration) iter.Seq[models.Slot] {
	if step <= 0 {
		step = e.rules.Step
	}
	minLen := e.rules.Min
	return func(yield func(models.Slot) bool) {
		now := e.Now()
		day := e.midnight(date)
		today := e.midnight(now)

		var first time.Time
		switch {
		case day.Before(today):
			return
		case day.Equal(today):
			// minute resolution: a start exactly on the grid is still offered
			elapsed := now.Truncate(time.Minute).Sub(day)
			first = day.Add((elapsed + step - 1) / step * step)
		default:
			first = day
		}
		last := day.Add(models.LastSlotHour*time.Hour + models.LastSlotMinute*time.Minute)

		carts, live := e.src.Occupancy()
		for t := first; !t.After(last); t = t.Add(step) {
			n := CountAvailable(carts, live, models.NewInterval(t, t.Add(minLen)))
			if n == 0 {
				continue
			}
			if !yield(models.Slot{Time: t, Available: n}) {
				return
			}
		}
	}
}

// EnumerateEndSlots yields end times in [start+minLen, start+maxLen], each step
// apart, for which some cart is free over [start, end).
func (e *Engine) EnumerateEndSlots(start time.Time, step, minLen, maxLen time.Duration) iter.Seq[models.Slot] {
	if step <= 0 {
		step = e.rules.Step
	}
	if minLen <= 0 {
		minLen = e.rules.Min
	}
	if maxLen <= 0 {
		maxLen = e.rules.Max
	}
	return func(yield func(models.Slot) bool) {
		carts, live := e.src.Occupancy()
		for t := start.Add(minLen); !t.After(start.Add(maxLen)); t = t.Add(step) {
			n := CountAvailable(carts, live, models.NewInterval(start, t))
			if n == 0 {
				continue
			}
			if !yield(models.Slot{Time: t, Available: n}) {
				return
			}
		}
	}
}

// StartSlots materializes the start slots of date with the default step,
// cached per date and hour of now.
func (e *Engine) StartSlots(date time.Time) []models.Slot {
	now := e.Now()
	key := fmt.Sprintf("%s/%02d", date.In(e.loc).Format(models.DateLayout), now.Hour())
	if e.slots != nil {
		if cached, ok := e.slots.Get(key); ok {
			return cached
		}
	}
	var out []models.Slot
	for s := range e.EnumerateStartSlots(date, e.rules.Step) {
		out = append(out, s)
	}
	if e.slots != nil {
		e.slots.Put(key, out)
	}
	return out
}

// EndSlots materializes the end slots for start with the engine rules.
func (e *Engine) EndSlots(start time.Time) []models.Slot {
	var out []models.Slot
	for s := range e.EnumerateEndSlots(start, e.rules.Step, e.rules.Min, e.rules.Max) {
		out = append(out, s)
	}
	return out
}
