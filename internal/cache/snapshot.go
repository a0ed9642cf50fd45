// Package cache mirrors the remote tables in memory. All three tables and
// their hashes live under one mutex; readers get copies.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cartbroker/internal/domain"
	"cartbroker/internal/metrics"
	"cartbroker/internal/models"
	"cartbroker/internal/tables"

	"github.com/rs/zerolog"
)

// Scope selects the tables a refresh touches.
type Scope uint8

const (
	ScopeUsers Scope = 1 << iota
	ScopeReservations
	ScopeCarts

	ScopeAll = ScopeUsers | ScopeReservations | ScopeCarts
)

func (s Scope) Has(o Scope) bool { return s&o != 0 }

func (s Scope) tables() []tables.Table {
	var out []tables.Table
	if s.Has(ScopeUsers) {
		out = append(out, tables.Users)
	}
	if s.Has(ScopeReservations) {
		out = append(out, tables.Reservations)
	}
	if s.Has(ScopeCarts) {
		out = append(out, tables.Carts)
	}
	return out
}

var (
	ErrNotCached       = errors.New("reservation is not cached")
	ErrDuplicateID     = errors.New("reservation id already cached")
	ErrNoCartAvailable = errors.New("no cart available")
)

// PickFunc chooses the cart for a new reservation. It runs under the snapshot
// lock and must not retain its arguments.
type PickFunc func(carts []models.Cart, live []models.Reservation) (string, bool)

type Option func(*Snapshot)

func WithClock(clock func() time.Time) Option {
	return func(s *Snapshot) { s.clock = clock }
}

// WithTTL sets the freshness window below which an unforced refresh is a no-op.
func WithTTL(ttl time.Duration) Option {
	return func(s *Snapshot) { s.ttl = ttl }
}

func WithSlotTTL(ttl time.Duration) Option {
	return func(s *Snapshot) { s.slotTTL = ttl }
}

type Snapshot struct {
	gateway domain.TableGateway
	loc     *time.Location
	ttl     time.Duration
	slotTTL time.Duration
	clock   func() time.Time
	logger  *zerolog.Logger
	slots   *SlotCache

	// refreshMu keeps two refreshes from reading the same table at once.
	refreshMu sync.Mutex

	mu          sync.Mutex
	users       map[string]models.User
	carts       map[string]models.Cart
	live        map[string]*models.Reservation
	retired     map[string]models.Status
	hashes      map[tables.Table]uint64
	generations map[tables.Table]uint64
	refreshedAt map[tables.Table]time.Time
	// seq numbers local mutations; dirty holds the last one per reservation
	// and localSeq the last one per table, so that a refresh whose read began
	// earlier does not undo them.
	seq      uint64
	dirty    map[string]uint64
	localSeq map[tables.Table]uint64
}

func NewSnapshot(gateway domain.TableGateway, loc *time.Location, logger *zerolog.Logger, opts ...Option) *Snapshot {
	if loc == nil {
		loc = time.UTC
	}
	l := logger.With().Str("component", "cache").Logger()
	s := &Snapshot{
		gateway:     gateway,
		loc:         loc,
		ttl:         models.SnapshotTTL,
		clock:       time.Now,
		logger:      &l,
		users:       make(map[string]models.User),
		carts:       make(map[string]models.Cart),
		live:        make(map[string]*models.Reservation),
		retired:     make(map[string]models.Status),
		hashes:      make(map[tables.Table]uint64),
		generations: make(map[tables.Table]uint64),
		refreshedAt: make(map[tables.Table]time.Time),
		dirty:       make(map[string]uint64),
		localSeq:    make(map[tables.Table]uint64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.slots = NewSlotCache(s.slotTTL, s.clock)
	return s
}

// Location is the zone every cached timestamp lives in.
func (s *Snapshot) Location() *time.Location { return s.loc }

// Slots returns the derived slot cache.
func (s *Snapshot) Slots() *SlotCache { return s.slots }

// Refresh pulls the tables in scope and replaces those whose content changed.
// Unless forced, a table refreshed within the TTL is left alone. A failing
// table does not stop the others; the errors are joined.
func (s *Snapshot) Refresh(ctx context.Context, scope Scope, force bool) (bool, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	changed := false
	var errs []error
	for _, t := range scope.tables() {
		if !force && s.fresh(t) {
			metrics.IncRefresh(string(t), "fresh")
			continue
		}
		c, err := s.refreshTable(ctx, t)
		if err != nil {
			metrics.IncRefresh(string(t), "error")
			s.logger.Error().Err(err).Str("table", string(t)).Msg("refresh failed")
			errs = append(errs, fmt.Errorf("refresh %s: %w", t, err))
			continue
		}
		if c {
			metrics.IncRefresh(string(t), "changed")
		} else {
			metrics.IncRefresh(string(t), "unchanged")
		}
		changed = changed || c
	}
	return changed, errors.Join(errs...)
}

func (s *Snapshot) fresh(t tables.Table) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.refreshedAt[t]
	return ok && s.clock().Sub(at) < s.ttl
}

func (s *Snapshot) refreshTable(ctx context.Context, t tables.Table) (bool, error) {
	s.mu.Lock()
	readSeq := s.seq
	s.mu.Unlock()

	rows, err := s.gateway.ReadAll(ctx, t)
	if err != nil {
		return false, err
	}

	switch t {
	case tables.Users:
		users, skipped := parseUsers(rows, s.logger)
		metrics.AddSkippedRows(string(t), skipped)
		return s.swap(t, readSeq, hashUsers(users), func() { s.users = users }), nil
	case tables.Carts:
		carts, skipped := parseCarts(rows, s.logger)
		metrics.AddSkippedRows(string(t), skipped)
		return s.swap(t, readSeq, hashCarts(carts), func() { s.carts = carts }), nil
	default:
		parsed := parseReservations(rows, s.loc, s.logger)
		metrics.AddSkippedRows(string(t), parsed.skipped)
		return s.swapReservations(readSeq, parsed), nil
	}
}

func (s *Snapshot) swap(t tables.Table, readSeq, hash uint64, replace func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.localSeq[t] > readSeq {
		// A local write landed while the table was being read; the next
		// refresh picks both up.
		return false
	}
	s.refreshedAt[t] = s.clock()
	if s.generations[t] > 0 && s.hashes[t] == hash {
		return false
	}
	replace()
	s.hashes[t] = hash
	s.generations[t]++
	if t == tables.Carts {
		s.slots.Invalidate()
	}
	return true
}

func (s *Snapshot) swapReservations(readSeq uint64, parsed parsedReservations) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, seq := range s.dirty {
		if seq <= readSeq {
			delete(s.dirty, id)
			continue
		}
		delete(parsed.live, id)
		delete(parsed.retired, id)
		if r, ok := s.live[id]; ok {
			parsed.live[id] = r
		} else if st, ok := s.retired[id]; ok {
			parsed.retired[id] = st
		}
	}
	for id, r := range s.live {
		if r.Provisional {
			parsed.live[id] = r
			delete(parsed.retired, id)
		}
	}

	s.refreshedAt[tables.Reservations] = s.clock()
	hash := hashReservations(parsed.live, parsed.retired)
	if s.generations[tables.Reservations] > 0 && s.hashes[tables.Reservations] == hash {
		return false
	}
	s.live = parsed.live
	s.retired = parsed.retired
	s.hashes[tables.Reservations] = hash
	s.generations[tables.Reservations]++
	s.slots.Invalidate()
	return true
}

// Ready reports whether every table has been loaded at least once.
func (s *Snapshot) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tables.All() {
		if _, ok := s.refreshedAt[t]; !ok {
			return false
		}
	}
	return true
}

// Generation counts wholesale replacements of t by Refresh.
func (s *Snapshot) Generation(t tables.Table) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[t]
}

// Hash returns the current content hash of t.
func (s *Snapshot) Hash(t tables.Table) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hashes[t]
}

// Carts returns all carts in natural name order.
func (s *Snapshot) Carts() []models.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartsLocked()
}

func (s *Snapshot) cartsLocked() []models.Cart {
	out := make([]models.Cart, 0, len(s.carts))
	for _, c := range s.carts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return models.CompareCartNames(out[i].Name, out[j].Name) < 0 })
	return out
}

func (s *Snapshot) Cart(name string) (models.Cart, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[name]
	return c, ok
}

func (s *Snapshot) Users() []models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

func (s *Snapshot) User(handle string) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[models.NormalizeHandle(handle)]
	return u, ok
}

func (s *Snapshot) UserByChat(chatID int64) (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ChatID == chatID && chatID != 0 {
			return u, true
		}
	}
	return models.User{}, false
}

// Reservations returns the live (non-retired) reservations ordered by start.
func (s *Snapshot) Reservations() []models.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reservationsLocked()
}

func (s *Snapshot) reservationsLocked() []models.Reservation {
	out := make([]models.Reservation, 0, len(s.live))
	for _, r := range s.live {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return out[i].ID < out[j].ID
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// Occupancy returns carts and live reservations from one consistent read.
func (s *Snapshot) Occupancy() ([]models.Cart, []models.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartsLocked(), s.reservationsLocked()
}

func (s *Snapshot) Reservation(id string) (models.Reservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.live[id]
	if !ok {
		return models.Reservation{}, false
	}
	return *r, true
}

// Status reports the status of a live or retired reservation.
func (s *Snapshot) Status(id string) (models.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.live[id]; ok {
		return r.Status, true
	}
	st, ok := s.retired[id]
	return st, ok
}

func (s *Snapshot) touchLocked(id string) {
	s.seq++
	s.dirty[id] = s.seq
}

func (s *Snapshot) touchTableLocked(t tables.Table) {
	s.seq++
	s.localSeq[t] = s.seq
}

// Reserve inserts res as provisional on the cart chosen by pick, all under
// the lock, so a concurrent Reserve already sees it.
func (s *Snapshot) Reserve(res models.Reservation, pick PickFunc) (models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live[res.ID]; ok {
		return models.Reservation{}, ErrDuplicateID
	}
	if _, ok := s.retired[res.ID]; ok {
		return models.Reservation{}, ErrDuplicateID
	}
	cart, ok := pick(s.cartsLocked(), s.reservationsLocked())
	if !ok {
		return models.Reservation{}, ErrNoCartAvailable
	}

	res.Cart = cart
	res.Provisional = true
	stored := res
	s.live[res.ID] = &stored
	s.hashes[tables.Reservations] += reservationHash(&stored)
	s.touchLocked(res.ID)
	s.slots.Invalidate()
	return stored, nil
}

// Commit marks a provisional reservation as persisted.
func (s *Snapshot) Commit(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.live[id]
	if !ok {
		return ErrNotCached
	}
	r.Provisional = false
	s.touchLocked(id)
	return nil
}

// Rollback drops a reservation that is still provisional and frees its slot.
func (s *Snapshot) Rollback(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.live[id]
	if !ok || !r.Provisional {
		return false
	}
	s.hashes[tables.Reservations] -= reservationHash(r)
	delete(s.live, id)
	s.touchLocked(id)
	s.slots.Invalidate()
	return true
}

// ApplyPatch changes one live reservation after its remote write succeeded.
func (s *Snapshot) ApplyPatch(id string, patch models.ReservationPatch) (models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.live[id]
	if !ok {
		return models.Reservation{}, ErrNotCached
	}
	s.hashes[tables.Reservations] -= reservationHash(r)
	patch.Apply(r)
	s.hashes[tables.Reservations] += reservationHash(r)
	s.touchLocked(id)
	s.slots.Invalidate()
	return *r, nil
}

// RemovePatch takes a reservation out of the live set. Terminal ones are
// remembered so repeated transitions can be answered.
func (s *Snapshot) RemovePatch(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.live[id]
	if !ok {
		return false
	}
	s.hashes[tables.Reservations] -= reservationHash(r)
	delete(s.live, id)
	if r.Status.IsTerminal() {
		s.retired[id] = r.Status
		s.hashes[tables.Reservations] += retiredHash(id, r.Status)
	}
	s.touchLocked(id)
	s.slots.Invalidate()
	return true
}

// PutCart inserts or replaces a cart after its remote write succeeded.
func (s *Snapshot) PutCart(c models.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.carts[c.Name]; ok {
		s.hashes[tables.Carts] -= cartHash(old)
	}
	s.carts[c.Name] = c
	s.hashes[tables.Carts] += cartHash(c)
	s.touchTableLocked(tables.Carts)
	s.slots.Invalidate()
}

// PutUser inserts or replaces a user after its remote write succeeded.
func (s *Snapshot) PutUser(u models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Handle = models.NormalizeHandle(u.Handle)
	if old, ok := s.users[u.Handle]; ok {
		s.hashes[tables.Users] -= userHash(old)
	}
	s.users[u.Handle] = u
	s.hashes[tables.Users] += userHash(u)
	s.touchTableLocked(tables.Users)
}

func (s *Snapshot) RemoveUser(handle string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle = models.NormalizeHandle(handle)
	old, ok := s.users[handle]
	if !ok {
		return false
	}
	s.hashes[tables.Users] -= userHash(old)
	delete(s.users, handle)
	s.touchTableLocked(tables.Users)
	return true
}
