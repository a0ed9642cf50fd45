package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cartbroker/internal/cache"
	"cartbroker/internal/events"
	"cartbroker/internal/metrics"
	"cartbroker/internal/models"

	"github.com/rs/zerolog"
)

// Job names.
const (
	JobReminders    = "reminders"
	JobPendingSweep = "pending_sweep"
	JobRefresh      = "refresh"
	JobSessionSweep = "session_sweep"
	JobOutbox       = "outbox"
)

type ReservationLister interface {
	Reservations() []models.Reservation
}

type ReminderSender interface {
	RemindStart(ctx context.Context, r models.Reservation) error
	RemindReturn(ctx context.Context, r models.Reservation) error
}

type reminderKind string

const (
	reminderStart  reminderKind = "start"
	reminderReturn reminderKind = "return"
)

type reminderKey struct {
	id   string
	kind reminderKind
}

// Reminders sends the start and return reminders, each at most once per
// reservation.
type Reminders struct {
	source ReservationLister
	sender ReminderSender
	lead   time.Duration
	window time.Duration
	logger *zerolog.Logger

	mu   sync.Mutex
	sent map[reminderKey]struct{}
}

func NewReminders(source ReservationLister, sender ReminderSender, lead, window time.Duration, logger *zerolog.Logger) *Reminders {
	l := logger.With().Str("component", "reminders").Logger()
	return &Reminders{
		source: source,
		sender: sender,
		lead:   lead,
		window: window,
		logger: &l,
		sent:   make(map[reminderKey]struct{}),
	}
}

// Subscribe clears the flags of reservations that reached a terminal state.
func (r *Reminders) Subscribe(bus *events.EventBus) {
	forget := func(p events.ReservationEventPayload) error {
		r.Forget(p.ReservationID)
		return nil
	}
	bus.SubscribeReservation(events.EventReservationCancelled, forget)
	bus.SubscribeReservation(events.EventReservationCompleted, forget)
}

// Forget drops both reminder flags of id.
func (r *Reminders) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sent, reminderKey{id, reminderStart})
	delete(r.sent, reminderKey{id, reminderReturn})
}

// Run is the JobFunc of the reminders job.
func (r *Reminders) Run(ctx context.Context, now time.Time) error {
	var errs []error
	live := make(map[string]struct{})
	for _, res := range r.source.Reservations() {
		live[res.ID] = struct{}{}
		kind, ok := r.dueKind(res, now)
		if !ok || r.wasSent(res.ID, kind) {
			continue
		}

		var err error
		if kind == reminderStart {
			err = r.sender.RemindStart(ctx, res)
		} else {
			err = r.sender.RemindReturn(ctx, res)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s reminder for %s: %w", kind, res.ID, err))
			continue
		}
		r.markSent(res.ID, kind)
		metrics.IncReminder(string(kind))
		r.logger.Info().Str("reservation_id", res.ID).Str("kind", string(kind)).Msg("reminder sent")
	}
	r.prune(live)
	return errors.Join(errs...)
}

func (r *Reminders) dueKind(res models.Reservation, now time.Time) (reminderKind, bool) {
	if res.Provisional {
		return "", false
	}
	switch res.Status {
	case models.StatusPending:
		at := res.Start.Add(-r.lead)
		if !now.Before(at) && now.Before(at.Add(r.window)) {
			return reminderStart, true
		}
	case models.StatusActive:
		if !now.Before(res.End) && now.Before(res.End.Add(r.window)) {
			return reminderReturn, true
		}
	}
	return "", false
}

func (r *Reminders) wasSent(id string, kind reminderKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sent[reminderKey{id, kind}]
	return ok
}

func (r *Reminders) markSent(id string, kind reminderKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent[reminderKey{id, kind}] = struct{}{}
}

// prune drops flags of reservations that left the live set.
func (r *Reminders) prune(live map[string]struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.sent {
		if _, ok := live[key.id]; !ok {
			delete(r.sent, key)
		}
	}
}

func (r *Reminders) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type Expirer interface {
	ExpirePending(ctx context.Context, now time.Time) (int, error)
}

// PendingSweep cancels unconfirmed reservations whose end has passed.
func PendingSweep(expirer Expirer, logger *zerolog.Logger) JobFunc {
	return func(ctx context.Context, now time.Time) error {
		n, err := expirer.ExpirePending(ctx, now)
		if n > 0 {
			logger.Info().Int("expired", n).Msg("pending reservations expired")
		}
		return err
	}
}

type Refresher interface {
	Refresh(ctx context.Context, scope cache.Scope, force bool) (bool, error)
}

// Refresh reloads reservations on each run and forces a reload of every table
// once fullEvery has passed since the last full refresh.
func Refresh(snapshot Refresher, fullEvery time.Duration, logger *zerolog.Logger) JobFunc {
	var (
		mu       sync.Mutex
		lastFull time.Time
	)
	return func(ctx context.Context, now time.Time) error {
		mu.Lock()
		full := lastFull.IsZero() || now.Sub(lastFull) >= fullEvery
		mu.Unlock()

		scope, force := cache.ScopeReservations, false
		if full {
			scope, force = cache.ScopeAll, true
		}
		changed, err := snapshot.Refresh(ctx, scope, force)
		if err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
		if full {
			mu.Lock()
			lastFull = now
			mu.Unlock()
		}
		logger.Debug().Bool("full", full).Bool("changed", changed).Msg("snapshot refreshed")
		return nil
	}
}

type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// SessionSweep evicts timed-out and orphaned sessions.
func SessionSweep(sweeper Sweeper) JobFunc {
	return func(ctx context.Context, now time.Time) error {
		_, err := sweeper.Sweep(ctx, now)
		return err
	}
}

type Replayer interface {
	ProcessDue(ctx context.Context, now time.Time) (int, error)
}

// Outbox replays queued remote writes.
func Outbox(replayer Replayer) JobFunc {
	return func(ctx context.Context, now time.Time) error {
		_, err := replayer.ProcessDue(ctx, now)
		return err
	}
}
