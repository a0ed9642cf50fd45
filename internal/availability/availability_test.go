package availability

import (
	"slices"
	"testing"
	"time"

	"cartbroker/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var msk = time.FixedZone("MSK", 3*60*60)

func at(h, m int) time.Time {
	return time.Date(2026, 10, 14, h, m, 0, 0, msk)
}

type staticSource struct {
	carts []models.Cart
	live  []models.Reservation
}

func (s *staticSource) Occupancy() ([]models.Cart, []models.Reservation) {
	return s.carts, s.live
}

type mapStore struct {
	m    map[string][]models.Slot
	gets int
}

func (s *mapStore) Get(key string) ([]models.Slot, bool) {
	s.gets++
	v, ok := s.m[key]
	return v, ok
}

func (s *mapStore) Put(key string, slots []models.Slot) { s.m[key] = slots }

func booking(id, cart string, start, end time.Time, status models.Status) models.Reservation {
	return models.Reservation{ID: id, Cart: cart, Start: start, End: end, Status: status}
}

func TestCountAvailable(t *testing.T) {
	carts := []models.Cart{
		{Name: "Cart 1", Active: true},
		{Name: "Cart 2", Active: true},
		{Name: "Cart 3", Active: false},
	}
	live := []models.Reservation{
		booking("1", "Cart 1", at(10, 0), at(11, 0), models.StatusPending),
		booking("2", "Cart 2", at(10, 30), at(12, 0), models.StatusCancelled),
	}

	tests := []struct {
		name string
		iv   models.Interval
		want int
	}{
		{"overlapping pending", models.NewInterval(at(10, 15), at(10, 45)), 1},
		{"touching end is free", models.NewInterval(at(11, 0), at(11, 30)), 2},
		{"touching start is free", models.NewInterval(at(9, 30), at(10, 0)), 2},
		{"one minute into the booking", models.NewInterval(at(9, 30), at(10, 1)), 1},
		{"containing", models.NewInterval(at(9, 0), at(12, 0)), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CountAvailable(carts, live, tt.iv))
		})
	}
}

func TestFindOneAvailableNaturalOrder(t *testing.T) {
	carts := []models.Cart{
		{Name: "Cart 10", Active: true},
		{Name: "Cart 2", Active: true},
		{Name: "Cart 1", Active: false},
	}
	iv := models.NewInterval(at(10, 0), at(11, 0))

	got, ok := FindOneAvailable(carts, nil, iv)
	require.True(t, ok)
	assert.Equal(t, "Cart 2", got)

	live := []models.Reservation{booking("1", "Cart 2", at(10, 30), at(11, 30), models.StatusActive)}
	got, ok = FindOneAvailable(carts, live, iv)
	require.True(t, ok)
	assert.Equal(t, "Cart 10", got)

	live = append(live, booking("2", "Cart 10", at(9, 0), at(10, 30), models.StatusPending))
	_, ok = FindOneAvailable(carts, live, iv)
	assert.False(t, ok)
}

func TestIsCartFreeExcludesSelf(t *testing.T) {
	live := []models.Reservation{booking("1", "Cart 1", at(10, 0), at(11, 0), models.StatusPending)}
	iv := live[0].Interval()
	assert.False(t, IsCartFree("Cart 1", live, iv, ""))
	assert.True(t, IsCartFree("Cart 1", live, iv, "1"))
	assert.True(t, IsCartFree("Cart 2", live, iv, ""))
}

func TestRulesValidate(t *testing.T) {
	r := DefaultRules()
	now := at(10, 0)

	assert.NoError(t, r.Validate(models.NewInterval(at(10, 0), at(10, 30)), now))
	assert.NoError(t, r.Validate(models.NewInterval(at(9, 55), at(10, 30)), now))
	assert.ErrorIs(t, r.Validate(models.NewInterval(at(9, 54), at(10, 30)), now), ErrInvalidInterval)
	assert.ErrorIs(t, r.Validate(models.NewInterval(at(11, 0), at(11, 0)), now), ErrInvalidInterval)
	assert.ErrorIs(t, r.Validate(models.NewInterval(at(11, 0), at(11, 15)), now), ErrInvalidInterval)
	assert.ErrorIs(t, r.Validate(models.NewInterval(at(11, 0), at(16, 15)), now), ErrInvalidInterval)
	assert.NoError(t, r.Validate(models.NewInterval(at(11, 0), at(16, 0)), now))
}

func newEngine(src Source, now time.Time) *Engine {
	return NewEngine(src, nil, msk, DefaultRules(), WithClock(func() time.Time { return now }))
}

func slotTimes(seq []models.Slot) []string {
	out := make([]string, 0, len(seq))
	for _, s := range seq {
		out = append(out, s.Time.Format("15:04"))
	}
	return out
}

func TestEnumerateStartSlotsRounding(t *testing.T) {
	src := &staticSource{carts: []models.Cart{{Name: "Cart 1", Active: true}}}

	tests := []struct {
		name  string
		now   time.Time
		first string
	}{
		{"mid step rounds up", at(10, 7), "10:15"},
		{"on boundary keeps current step", at(10, 0), "10:00"},
		{"seconds past boundary", at(10, 0).Add(30 * time.Second), "10:00"},
		{"minute past boundary", at(10, 1), "10:15"},
		{"just before boundary", at(10, 14), "10:15"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEngine(src, tt.now)
			slots := slices.Collect(e.EnumerateStartSlots(at(0, 0), 15*time.Minute))
			require.NotEmpty(t, slots)
			assert.Equal(t, tt.first, slots[0].Time.Format("15:04"))
			assert.Equal(t, "23:45", slots[len(slots)-1].Time.Format("15:04"))
		})
	}
}

func TestEnumerateStartSlotsSkipsBusy(t *testing.T) {
	src := &staticSource{
		carts: []models.Cart{{Name: "Cart 1", Active: true}},
		live:  []models.Reservation{booking("1", "Cart 1", at(10, 0), at(10, 30), models.StatusPending)},
	}
	e := newEngine(src, at(9, 50))

	got := slotTimes(slices.Collect(e.EnumerateStartSlots(at(12, 0), 15*time.Minute)))
	require.GreaterOrEqual(t, len(got), 2)
	assert.Equal(t, "10:30", got[0])
	assert.NotContains(t, got, "10:00")
	assert.NotContains(t, got, "10:15")
	assert.Contains(t, got, "10:45")
}

func TestEnumerateStartSlotsDates(t *testing.T) {
	src := &staticSource{carts: []models.Cart{{Name: "Cart 1", Active: true}, {Name: "Cart 2", Active: true}}}
	e := newEngine(src, at(10, 7))

	past := slices.Collect(e.EnumerateStartSlots(at(10, 0).AddDate(0, 0, -1), 15*time.Minute))
	assert.Empty(t, past)

	tomorrow := slices.Collect(e.EnumerateStartSlots(at(10, 0).AddDate(0, 0, 1), 15*time.Minute))
	require.Len(t, tomorrow, 96)
	assert.Equal(t, "00:00", tomorrow[0].Time.Format("15:04"))
	assert.Equal(t, 2, tomorrow[0].Available)

	// restartable: a second range sees the same sequence
	seq := e.EnumerateStartSlots(at(10, 0).AddDate(0, 0, 1), 15*time.Minute)
	assert.Equal(t, slices.Collect(seq), slices.Collect(seq))

	// early stop
	count := 0
	for range seq {
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
}

func TestEnumerateEndSlots(t *testing.T) {
	src := &staticSource{
		carts: []models.Cart{{Name: "Cart 1", Active: true}},
		live:  []models.Reservation{booking("1", "Cart 1", at(12, 0), at(13, 0), models.StatusActive)},
	}
	e := newEngine(src, at(9, 0))

	got := slotTimes(slices.Collect(e.EnumerateEndSlots(at(10, 0), 15*time.Minute, 30*time.Minute, 5*time.Hour)))
	assert.Equal(t, []string{"10:30", "10:45", "11:00", "11:15", "11:30", "11:45", "12:00"}, got)

	src.live = nil
	all := e.EndSlots(at(10, 0))
	require.NotEmpty(t, all)
	assert.Equal(t, "10:30", all[0].Time.Format("15:04"))
	assert.Equal(t, "15:00", all[len(all)-1].Time.Format("15:04"))
}

func TestStartSlotsUsesStore(t *testing.T) {
	src := &staticSource{carts: []models.Cart{{Name: "Cart 1", Active: true}}}
	store := &mapStore{m: map[string][]models.Slot{}}
	e := NewEngine(src, store, msk, DefaultRules(), WithClock(func() time.Time { return at(10, 7) }))

	first := e.StartSlots(at(0, 0))
	require.NotEmpty(t, first)
	assert.Contains(t, store.m, "2026-10-14/10")

	src.carts = nil
	assert.Equal(t, first, e.StartSlots(at(0, 0)))
	assert.Equal(t, 2, store.gets)
}

func TestPickFor(t *testing.T) {
	e := newEngine(&staticSource{}, at(9, 0))
	iv := models.NewInterval(at(10, 0), at(11, 0))
	pick := e.PickFor(iv)
	got, ok := pick([]models.Cart{{Name: "Cart 3", Active: true}, {Name: "Cart 1", Active: true}}, nil)
	require.True(t, ok)
	assert.Equal(t, "Cart 1", got)
}
