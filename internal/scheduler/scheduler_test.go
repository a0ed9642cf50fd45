package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cartbroker/internal/availability"
	"cartbroker/internal/cache"
	"cartbroker/internal/events"
	"cartbroker/internal/models"
	"cartbroker/internal/service"
	"cartbroker/internal/tables"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var msk = time.FixedZone("MSK", 3*60*60)

func at(h, m int) time.Time {
	return time.Date(2026, 10, 14, h, m, 0, 0, msk)
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

func TestRunDueRespectsIntervals(t *testing.T) {
	s := New(time.Minute, nopLogger())
	var fast, slow int
	s.Add("fast", time.Minute, func(context.Context, time.Time) error { fast++; return nil })
	s.Add("slow", 30*time.Minute, func(context.Context, time.Time) error { slow++; return nil })

	ctx := context.Background()
	assert.Equal(t, 2, s.RunDue(ctx, at(9, 0)))
	assert.Equal(t, 1, s.RunDue(ctx, at(9, 1)))
	for m := 2; m <= 30; m++ {
		s.RunDue(ctx, at(9, m))
	}
	assert.Equal(t, 31, fast)
	assert.Equal(t, 2, slow)
}

func TestRunNow(t *testing.T) {
	s := New(time.Minute, nopLogger(), WithClock(func() time.Time { return at(9, 0) }))
	calls := 0
	s.Add("refresh", time.Hour, func(context.Context, time.Time) error { calls++; return nil })

	require.NoError(t, s.RunNow(context.Background(), "refresh"))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, s.RunDue(context.Background(), at(9, 1)))

	assert.Error(t, s.RunNow(context.Background(), "missing"))
}

func TestJobFaultIsolation(t *testing.T) {
	s := New(time.Minute, nopLogger())
	ran := false
	s.Add("panics", 0, func(context.Context, time.Time) error { panic("boom") })
	s.Add("fails", 0, func(context.Context, time.Time) error { return errors.New("down") })
	s.Add("works", 0, func(context.Context, time.Time) error { ran = true; return nil })

	assert.Equal(t, 3, s.RunDue(context.Background(), at(9, 0)))
	assert.True(t, ran)

	err := s.RunNow(context.Background(), "panics")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestStartStopsOnCancel(t *testing.T) {
	s := New(10*time.Millisecond, nopLogger())
	var mu sync.Mutex
	runs := 0
	s.Add("tick", 0, func(context.Context, time.Time) error {
		mu.Lock()
		runs++
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSlowJobDoesNotHoldBackOthers(t *testing.T) {
	s := New(10*time.Millisecond, nopLogger())
	release := make(chan struct{})
	var mu sync.Mutex
	slowRuns, fastRuns := 0, 0
	s.Add("refresh", 0, func(ctx context.Context, _ time.Time) error {
		mu.Lock()
		slowRuns++
		mu.Unlock()
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	s.Add("reminders", 0, func(context.Context, time.Time) error {
		mu.Lock()
		fastRuns++
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return fastRuns >= 3
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, slowRuns, "a running job is not started again")
	mu.Unlock()

	close(release)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

type staticLister struct {
	mu   sync.Mutex
	list []models.Reservation
}

func (l *staticLister) Reservations() []models.Reservation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Reservation(nil), l.list...)
}

type recordingSender struct {
	starts  []string
	returns []string
	fail    bool
}

func (s *recordingSender) RemindStart(_ context.Context, r models.Reservation) error {
	if s.fail {
		return errors.New("telegram down")
	}
	s.starts = append(s.starts, r.ID)
	return nil
}

func (s *recordingSender) RemindReturn(_ context.Context, r models.Reservation) error {
	if s.fail {
		return errors.New("telegram down")
	}
	s.returns = append(s.returns, r.ID)
	return nil
}

func TestRemindersWindowsAndDedup(t *testing.T) {
	lister := &staticLister{list: []models.Reservation{
		{ID: "p1", Cart: "Cart 1", Start: at(10, 0), End: at(11, 0), Status: models.StatusPending},
		{ID: "a1", Cart: "Cart 2", Start: at(8, 0), End: at(9, 45), Status: models.StatusActive},
		{ID: "prov", Cart: "Cart 3", Start: at(10, 0), End: at(11, 0), Status: models.StatusPending, Provisional: true},
	}}
	sender := &recordingSender{}
	r := NewReminders(lister, sender, models.StartReminderLead, models.ReminderWindow, nopLogger())
	ctx := context.Background()

	require.NoError(t, r.Run(ctx, at(9, 44)))
	assert.Empty(t, sender.starts)
	assert.Empty(t, sender.returns)

	require.NoError(t, r.Run(ctx, at(9, 45)))
	assert.Equal(t, []string{"p1"}, sender.starts)
	assert.Equal(t, []string{"a1"}, sender.returns)

	// повторный прогон в том же окне ничего не отправляет
	require.NoError(t, r.Run(ctx, at(9, 45).Add(30*time.Second)))
	assert.Len(t, sender.starts, 1)
	assert.Len(t, sender.returns, 1)

	require.NoError(t, r.Run(ctx, at(9, 46)))
	assert.Len(t, sender.starts, 1)
	assert.Equal(t, 2, r.pending())
}

func TestRemindersRetryAfterFailure(t *testing.T) {
	lister := &staticLister{list: []models.Reservation{
		{ID: "p1", Start: at(10, 0), End: at(11, 0), Status: models.StatusPending},
	}}
	sender := &recordingSender{fail: true}
	r := NewReminders(lister, sender, models.StartReminderLead, models.ReminderWindow, nopLogger())

	assert.Error(t, r.Run(context.Background(), at(9, 45)))
	sender.fail = false
	require.NoError(t, r.Run(context.Background(), at(9, 45).Add(20*time.Second)))
	assert.Equal(t, []string{"p1"}, sender.starts)
}

func TestRemindersLateRunStillSendsOnce(t *testing.T) {
	lister := &staticLister{list: []models.Reservation{
		{ID: "p1", Start: at(10, 0), End: at(11, 0), Status: models.StatusPending},
		{ID: "a1", Start: at(8, 0), End: at(9, 45), Status: models.StatusActive},
	}}
	sender := &recordingSender{}
	r := NewReminders(lister, sender, models.StartReminderLead, models.ReminderWindow+time.Minute, nopLogger())
	ctx := context.Background()

	// прогон в 9:45 пропущен, следующий опоздал на полторы минуты
	require.NoError(t, r.Run(ctx, at(9, 46).Add(30*time.Second)))
	assert.Equal(t, []string{"p1"}, sender.starts)
	assert.Equal(t, []string{"a1"}, sender.returns)

	require.NoError(t, r.Run(ctx, at(9, 46).Add(50*time.Second)))
	require.NoError(t, r.Run(ctx, at(9, 47)))
	assert.Len(t, sender.starts, 1)
	assert.Len(t, sender.returns, 1)
}

func TestRemindersClearedByEvents(t *testing.T) {
	lister := &staticLister{list: []models.Reservation{
		{ID: "p1", Start: at(10, 0), End: at(11, 0), Status: models.StatusPending},
	}}
	sender := &recordingSender{}
	bus := events.NewEventBus()
	r := NewReminders(lister, sender, models.StartReminderLead, models.ReminderWindow, nopLogger())
	r.Subscribe(bus)

	require.NoError(t, r.Run(context.Background(), at(9, 45)))
	assert.Equal(t, 1, r.pending())

	require.NoError(t, bus.PublishJSON(events.EventReservationCancelled, events.ReservationEventPayload{ReservationID: "p1"}))
	assert.Equal(t, 0, r.pending())

	lister.mu.Lock()
	lister.list = nil
	lister.mu.Unlock()
	require.NoError(t, r.Run(context.Background(), at(9, 45)))
	assert.Equal(t, 0, r.pending())
}

type recordingRefresher struct {
	scopes []cache.Scope
	forced []bool
	err    error
}

func (r *recordingRefresher) Refresh(_ context.Context, scope cache.Scope, force bool) (bool, error) {
	r.scopes = append(r.scopes, scope)
	r.forced = append(r.forced, force)
	return true, r.err
}

func TestRefreshJobForcesPeriodicFullRefresh(t *testing.T) {
	ref := &recordingRefresher{}
	job := Refresh(ref, 4*time.Hour, nopLogger())
	ctx := context.Background()

	require.NoError(t, job(ctx, at(8, 0)))
	require.NoError(t, job(ctx, at(8, 30)))
	require.NoError(t, job(ctx, at(11, 30)))
	require.NoError(t, job(ctx, at(12, 0)))

	assert.Equal(t, []cache.Scope{cache.ScopeAll, cache.ScopeReservations, cache.ScopeReservations, cache.ScopeAll}, ref.scopes)
	assert.Equal(t, []bool{true, false, false, true}, ref.forced)
}

func TestRefreshJobRetriesFullAfterError(t *testing.T) {
	ref := &recordingRefresher{err: tables.ErrTransient}
	job := Refresh(ref, 4*time.Hour, nopLogger())

	assert.ErrorIs(t, job(context.Background(), at(8, 0)), tables.ErrTransient)
	ref.err = nil
	require.NoError(t, job(context.Background(), at(8, 30)))
	assert.Equal(t, cache.ScopeAll, ref.scopes[1])
}

type countingSweeper struct{ now time.Time }

func (s *countingSweeper) Sweep(_ context.Context, now time.Time) (int, error) {
	s.now = now
	return 2, nil
}

type countingReplayer struct{ calls int }

func (r *countingReplayer) ProcessDue(context.Context, time.Time) (int, error) {
	r.calls++
	return 0, nil
}

func TestSweepAndOutboxJobs(t *testing.T) {
	sw := &countingSweeper{}
	rp := &countingReplayer{}
	s := New(time.Minute, nopLogger())
	s.Add(JobSessionSweep, 30*time.Minute, SessionSweep(sw))
	s.Add(JobOutbox, time.Minute, Outbox(rp))

	s.RunDue(context.Background(), at(9, 0))
	s.RunDue(context.Background(), at(9, 1))
	assert.Equal(t, at(9, 0), sw.now)
	assert.Equal(t, 2, rp.calls)
}

type chatRecorder struct {
	mu   sync.Mutex
	sent map[int64][]string
}

func (c *chatRecorder) Send(_ context.Context, chatID int64, text, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sent == nil {
		c.sent = make(map[int64][]string)
	}
	c.sent[chatID] = append(c.sent[chatID], text)
	return nil
}

func (c *chatRecorder) count(chatID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent[chatID])
}

// Unconfirmed reservation expires once its end passes and frees the cart.
func TestAutoExpiryScenario(t *testing.T) {
	gw := tables.NewMemoryGateway()
	gw.Seed(tables.Users, tables.Row{tables.ColHandle: "alice", tables.ColChatID: "101"})
	gw.Seed(tables.Carts, tables.Row{tables.ColName: "Cart 1", tables.ColLockCode: "1234", tables.ColActive: "yes"})
	gw.Seed(tables.Reservations, tables.Row{
		tables.ColID:     "1760425200000",
		tables.ColCart:   "Cart 1",
		tables.ColStart:  "2026-10-14 10:00",
		tables.ColEnd:    "2026-10-14 11:00",
		tables.ColHolder: "alice",
		tables.ColStatus: "pending",
		tables.ColChatID: "101",
	})

	now := at(9, 30)
	clock := func() time.Time { return now }
	logger := nopLogger()

	snapshot := cache.NewSnapshot(gw, msk, logger, cache.WithClock(clock))
	_, err := snapshot.Refresh(context.Background(), cache.ScopeAll, true)
	require.NoError(t, err)
	engine := availability.NewEngine(snapshot, snapshot.Slots(), msk, availability.DefaultRules(), availability.WithClock(clock))
	notifier := &chatRecorder{}
	bus := events.NewEventBus()
	svc := service.NewReservationService(gw, snapshot, engine, notifier, bus, logger)

	reminders := NewReminders(snapshot, svc, models.StartReminderLead, models.ReminderWindow, logger)
	reminders.Subscribe(bus)

	s := New(time.Minute, logger, WithClock(clock))
	s.Add(JobReminders, time.Minute, reminders.Run)
	s.Add(JobPendingSweep, 2*time.Minute, PendingSweep(svc, logger))

	ctx := context.Background()
	iv := models.NewInterval(at(10, 0), at(11, 0))
	for now = at(9, 30); now.Before(at(11, 0)); now = now.Add(time.Minute) {
		s.RunDue(ctx, now)
	}
	assert.Equal(t, 1, notifier.count(101), "only the start reminder before the end")
	assert.Equal(t, 0, engine.CountAvailable(iv))

	now = at(11, 0)
	s.RunDue(ctx, now)
	s.RunDue(ctx, now.Add(time.Minute))

	assert.Equal(t, 1, engine.CountAvailable(iv))
	st, ok := snapshot.Status("1760425200000")
	require.True(t, ok)
	assert.Equal(t, models.StatusCancelled, st)
	assert.Equal(t, "cancelled", gw.Rows(tables.Reservations)[0][tables.ColStatus])
	assert.Equal(t, 2, notifier.count(101))
	assert.Equal(t, 0, reminders.pending())
}
