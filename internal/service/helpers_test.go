package service

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
	"cartbroker/internal/tables"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var msk = time.FixedZone("MSK", 3*60*60)

func at(h, m int) time.Time {
	return time.Date(2026, 10, 14, h, m, 0, 0, msk)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type sentMessage struct {
	ChatID int64
	Text   string
	Photo  string
}

type recordingNotifier struct {
	mu       sync.Mutex
	sent     []sentMessage
	failures int
}

func (n *recordingNotifier) Send(_ context.Context, chatID int64, text, photo string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failures > 0 {
		n.failures--
		return errors.New("telegram unavailable")
	}
	n.sent = append(n.sent, sentMessage{ChatID: chatID, Text: text, Photo: photo})
	return nil
}

func (n *recordingNotifier) FailNext(times int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = times
}

func (n *recordingNotifier) To(chatID int64) []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []sentMessage
	for _, m := range n.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

type queuedBatch struct {
	ReservationID string
	Table         tables.Table
	Updates       []tables.CellUpdate
}

type recordingOutbox struct {
	mu     sync.Mutex
	queued []queuedBatch
}

func (o *recordingOutbox) EnqueueBatch(_ context.Context, id string, t tables.Table, updates []tables.CellUpdate) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.queued = append(o.queued, queuedBatch{ReservationID: id, Table: t, Updates: updates})
	return nil
}

func (o *recordingOutbox) HasQueued(_ context.Context, id string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, b := range o.queued {
		if b.ReservationID == id {
			return true, nil
		}
	}
	return false, nil
}

// Drain forgets the queued batches of id, as a replay would.
func (o *recordingOutbox) Drain(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	kept := o.queued[:0]
	for _, b := range o.queued {
		if b.ReservationID != id {
			kept = append(kept, b)
		}
	}
	o.queued = kept
}

const (
	aliceChat        = int64(101)
	bobChat          = int64(102)
	notificationChat = int64(-500)
)

type harness struct {
	gw       *tables.MemoryGateway
	cache    *cache.Snapshot
	engine   *availability.Engine
	clock    *testClock
	notifier *recordingNotifier
	outbox   *recordingOutbox
	bus      *events.EventBus
	svc      *ReservationService
}

func newHarness(t *testing.T, carts ...string) *harness {
	t.Helper()
	if len(carts) == 0 {
		carts = []string{"Cart 1", "Cart 2"}
	}
	gw := tables.NewMemoryGateway()
	gw.Seed(tables.Users,
		tables.Row{tables.ColHandle: "alice", tables.ColChatID: "101"},
		tables.Row{tables.ColHandle: "@Bob", tables.ColChatID: "102"},
	)
	var cartRows []tables.Row
	for i, name := range carts {
		code := []string{"1111", "2222", "3333", "4444", "5555"}[i%5]
		cartRows = append(cartRows, tables.Row{tables.ColName: name, tables.ColLockCode: code, tables.ColActive: "yes"})
	}
	gw.Seed(tables.Carts, cartRows...)
	gw.Seed(tables.Reservations)

	logger := zerolog.Nop()
	clock := &testClock{now: at(9, 0)}
	snapshot := cache.NewSnapshot(gw, msk, &logger, cache.WithClock(clock.Now))
	_, err := snapshot.Refresh(context.Background(), cache.ScopeAll, true)
	require.NoError(t, err)

	engine := availability.NewEngine(snapshot, snapshot.Slots(), msk, availability.DefaultRules(), availability.WithClock(clock.Now))
	notifier := &recordingNotifier{}
	outbox := &recordingOutbox{}
	bus := events.NewEventBus()
	svc := NewReservationService(gw, snapshot, engine, notifier, bus, &logger,
		WithNotificationChat(notificationChat), WithOutbox(outbox))

	return &harness{
		gw:       gw,
		cache:    snapshot,
		engine:   engine,
		clock:    clock,
		notifier: notifier,
		outbox:   outbox,
		bus:      bus,
		svc:      svc,
	}
}

func (h *harness) create(t *testing.T, holder string, start, end time.Time) models.Reservation {
	t.Helper()
	chat := aliceChat
	if holder == "bob" {
		chat = bobChat
	}
	r, err := h.svc.Create(context.Background(), holder, chat, models.NewInterval(start, end))
	require.NoError(t, err)
	return r
}

func (h *harness) remoteStatus(t *testing.T, id string) models.Status {
	t.Helper()
	for _, row := range h.gw.Rows(tables.Reservations) {
		if row[tables.ColID] == id {
			st, err := models.ParseStatus(row[tables.ColStatus])
			require.NoError(t, err)
			return st
		}
	}
	t.Fatalf("reservation %s not in remote table", id)
	return ""
}

// assertNoDoubleBooking checks that no two occupying reservations share a
// cart and overlap, both in the cache and in the remote rows.
func assertNoDoubleBooking(t *testing.T, h *harness) {
	t.Helper()
	check := func(where string, rs []models.Reservation) {
		for i := range rs {
			for j := i + 1; j < len(rs); j++ {
				a, b := rs[i], rs[j]
				if a.Cart == b.Cart && a.Occupies() && b.Occupies() && a.Interval().Overlaps(b.Interval()) {
					t.Fatalf("%s: %s and %s overlap on %s", where, a.ID, b.ID, a.Cart)
				}
			}
		}
	}
	check("cache", h.cache.Reservations())

	var remote []models.Reservation
	for _, row := range h.gw.Rows(tables.Reservations) {
		st, err := models.ParseStatus(row[tables.ColStatus])
		require.NoError(t, err)
		start, err := time.ParseInLocation(models.TimeLayout, row[tables.ColStart], msk)
		require.NoError(t, err)
		end, err := time.ParseInLocation(models.TimeLayout, row[tables.ColEnd], msk)
		require.NoError(t, err)
		remote = append(remote, models.Reservation{ID: row[tables.ColID], Cart: row[tables.ColCart], Start: start, End: end, Status: st})
	}
	check("remote", remote)
}
