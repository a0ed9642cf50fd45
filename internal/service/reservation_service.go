package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cartbroker/internal/availability"
	"cartbroker/internal/cache"
	"cartbroker/internal/domain"
	"cartbroker/internal/events"
	"cartbroker/internal/metrics"
	"cartbroker/internal/models"
	"cartbroker/internal/tables"

	"github.com/rs/zerolog"
)

// CancelResult tells a fresh cancellation from a repeated one.
type CancelResult int

const (
	Cancelled CancelResult = iota + 1
	AlreadyTerminal
)

func (r CancelResult) String() string {
	switch r {
	case Cancelled:
		return "cancelled"
	case AlreadyTerminal:
		return "already_terminal"
	default:
		return "unknown"
	}
}

const maxIDAttempts = 3

type ReservationService struct {
	gateway          domain.TableGateway
	cache            *cache.Snapshot
	engine           *availability.Engine
	notifier         domain.Notifier
	outbox           domain.Outbox
	eventBus         domain.EventPublisher
	locks            *keyedMutex
	ids              *idGenerator
	notificationChat int64
	logger           *zerolog.Logger
}

type ReservationOption func(*ReservationService)

// WithNotificationChat sets the chat that receives announcements and evidence photos.
func WithNotificationChat(chatID int64) ReservationOption {
	return func(s *ReservationService) { s.notificationChat = chatID }
}

// WithOutbox sets where failed completion writes are queued.
func WithOutbox(outbox domain.Outbox) ReservationOption {
	return func(s *ReservationService) { s.outbox = outbox }
}

func NewReservationService(
	gateway domain.TableGateway,
	snapshot *cache.Snapshot,
	engine *availability.Engine,
	notifier domain.Notifier,
	eventBus domain.EventPublisher,
	logger *zerolog.Logger,
	opts ...ReservationOption,
) *ReservationService {
	l := logger.With().Str("component", "reservations").Logger()
	s := &ReservationService{
		gateway:  gateway,
		cache:    snapshot,
		engine:   engine,
		notifier: notifier,
		eventBus: eventBus,
		locks:    newKeyedMutex(),
		ids:      &idGenerator{},
		logger:   &l,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ReservationService) now() time.Time {
	// Remote timestamps carry minutes only.
	return s.engine.Now().Truncate(time.Minute)
}

// Get returns a live reservation.
func (s *ReservationService) Get(id string) (models.Reservation, error) {
	r, ok := s.cache.Reservation(id)
	if !ok {
		return models.Reservation{}, ErrNotFound
	}
	return r, nil
}

// ForHolder returns the live reservations of handle ordered by start.
func (s *ReservationService) ForHolder(handle string) []models.Reservation {
	handle = models.NormalizeHandle(handle)
	var out []models.Reservation
	for _, r := range s.cache.Reservations() {
		if r.Holder == handle && !r.Provisional {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// Live returns every persisted, unfinished reservation ordered by start, then
// by cart.
func (s *ReservationService) Live() []models.Reservation {
	var out []models.Reservation
	for _, r := range s.cache.Reservations() {
		if !r.Provisional && !r.Status.IsTerminal() {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start.Equal(out[j].Start) {
			return models.CompareCartNames(out[i].Cart, out[j].Cart) < 0
		}
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// Create books the first free cart for iv. The cart is picked inside the
// cache lock, so two concurrent creates never get the same one.
func (s *ReservationService) Create(ctx context.Context, holder string, chatID int64, iv models.Interval) (models.Reservation, error) {
	holder = models.NormalizeHandle(holder)
	loc := s.engine.Location()
	iv = models.NewInterval(iv.Start.In(loc), iv.End.In(loc))

	if err := s.engine.Validate(iv); err != nil {
		metrics.IncTransition("create_rejected")
		return models.Reservation{}, err
	}
	if s.engine.CountAvailable(iv) == 0 {
		metrics.IncTransition("create_conflict")
		return models.Reservation{}, fmt.Errorf("%w: %s", ErrConflict, iv)
	}

	var (
		reserved models.Reservation
		err      error
	)
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		res := models.Reservation{
			ID:     s.ids.Next(s.engine.Now()),
			Start:  iv.Start,
			End:    iv.End,
			Holder: holder,
			Status: models.StatusPending,
			ChatID: chatID,
		}
		reserved, err = s.cache.Reserve(res, s.engine.PickFor(iv))
		if !errors.Is(err, cache.ErrDuplicateID) {
			break
		}
	}
	switch {
	case errors.Is(err, cache.ErrNoCartAvailable):
		metrics.IncTransition("create_conflict")
		return models.Reservation{}, fmt.Errorf("%w: %s", ErrConflict, iv)
	case err != nil:
		return models.Reservation{}, fmt.Errorf("reserve: %w", err)
	}

	if err := s.gateway.AppendRow(ctx, tables.Reservations, cache.ReservationRow(reserved)); err != nil {
		s.cache.Rollback(reserved.ID)
		metrics.IncTransition("create_failed")
		s.logger.Error().Err(err).Str("reservation_id", reserved.ID).Msg("append reservation failed, rolled back")
		return models.Reservation{}, fmt.Errorf("persist reservation: %w", err)
	}
	if err := s.cache.Commit(reserved.ID); err != nil {
		s.logger.Warn().Err(err).Str("reservation_id", reserved.ID).Msg("commit after append")
	}
	reserved.Provisional = false

	metrics.IncTransition("created")
	s.logger.Info().
		Str("reservation_id", reserved.ID).
		Str("cart", reserved.Cart).
		Str("holder", holder).
		Str("interval", iv.String()).
		Msg("reservation created")
	s.publish(events.EventReservationCreated, reserved, "", holder)
	s.notifyBestEffort(ctx, s.chatFor(reserved), msgCreated(reserved), "")
	s.announce(ctx, announceCreated(reserved), "")
	return reserved, nil
}

// Confirm activates a pending reservation once the holder sent a photo of
// the cart. The holder learns the lock code before anything is persisted.
func (s *ReservationService) Confirm(ctx context.Context, id, evidence string) (models.Reservation, error) {
	if evidence == "" {
		return models.Reservation{}, ErrEvidenceRequired
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	r, err := s.transitionSource(id, models.StatusActive)
	if err != nil {
		return models.Reservation{}, err
	}
	_, live := s.cache.Occupancy()
	if !availability.IsCartFree(r.Cart, live, r.Interval(), r.ID) {
		metrics.IncTransition("confirm_conflict")
		return models.Reservation{}, fmt.Errorf("%w: cart %s overlaps another reservation", ErrConflict, r.Cart)
	}

	cart, _ := s.cache.Cart(r.Cart)
	chatID := s.chatFor(r)
	if err := s.notify(ctx, chatID, msgConfirmed(r, cart.LockCode), ""); err != nil {
		metrics.IncTransition("confirm_notify_failed")
		return models.Reservation{}, err
	}

	now := s.now()
	status := models.StatusActive
	if err := s.gateway.BatchUpdate(ctx, tables.Reservations, []tables.CellUpdate{
		{Key: id, Column: tables.ColStatus, Value: string(status)},
		{Key: id, Column: tables.ColActualStart, Value: now.Format(models.TimeLayout)},
		{Key: id, Column: tables.ColEvidence, Value: evidence},
	}); err != nil {
		metrics.IncTransition("confirm_failed")
		s.logger.Error().Err(err).Str("reservation_id", id).Msg("persist confirmation failed")
		s.notifyBestEffort(ctx, chatID, msgConfirmRetry(r), "")
		return models.Reservation{}, fmt.Errorf("persist confirmation: %w", err)
	}

	updated, err := s.cache.ApplyPatch(id, models.ReservationPatch{Status: &status, ActualStart: &now, Evidence: &evidence})
	if err != nil {
		s.logger.Warn().Err(err).Str("reservation_id", id).Msg("patch after confirmation")
		updated = r
		updated.Status, updated.ActualStart, updated.Evidence = status, &now, evidence
	}

	metrics.IncTransition("confirmed")
	s.logger.Info().Str("reservation_id", id).Str("cart", r.Cart).Msg("reservation confirmed")
	s.publish(events.EventReservationConfirmed, updated, "", updated.Holder)
	s.announce(ctx, announceConfirmed(updated), evidence)
	return updated, nil
}

// Return completes an active reservation. A failed write goes to the outbox
// and the cache keeps the reservation active until it is replayed.
func (s *ReservationService) Return(ctx context.Context, id, evidence string) (models.Reservation, error) {
	if evidence == "" {
		return models.Reservation{}, ErrEvidenceRequired
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	r, err := s.transitionSource(id, models.StatusCompleted)
	if err != nil {
		return models.Reservation{}, err
	}
	if err := s.ensureNoQueuedReturn(ctx, r); err != nil {
		return models.Reservation{}, err
	}

	if err := s.notify(ctx, s.chatFor(r), msgReturned(r), ""); err != nil {
		metrics.IncTransition("return_notify_failed")
		return models.Reservation{}, err
	}

	now := s.now()
	status := models.StatusCompleted
	updates := []tables.CellUpdate{
		{Key: id, Column: tables.ColStatus, Value: string(status)},
		{Key: id, Column: tables.ColActualEnd, Value: now.Format(models.TimeLayout)},
		{Key: id, Column: tables.ColEvidence, Value: evidence},
	}
	done := r
	done.Status, done.ActualEnd, done.Evidence = status, &now, evidence

	if err := s.gateway.BatchUpdate(ctx, tables.Reservations, updates); err != nil {
		if s.outbox == nil {
			metrics.IncTransition("return_failed")
			return models.Reservation{}, fmt.Errorf("persist return: %w", err)
		}
		if qerr := s.outbox.EnqueueBatch(ctx, id, tables.Reservations, updates); qerr != nil {
			metrics.IncTransition("return_failed")
			s.logger.Error().Err(qerr).Str("reservation_id", id).Msg("queue return failed")
			return models.Reservation{}, fmt.Errorf("persist return: %w", errors.Join(err, qerr))
		}
		metrics.IncTransition("return_queued")
		s.logger.Warn().Err(err).Str("reservation_id", id).Msg("return queued for replay")
		s.announce(ctx, announceReturned(done), evidence)
		return done, nil
	}

	if _, err := s.cache.ApplyPatch(id, models.ReservationPatch{Status: &status, ActualEnd: &now, Evidence: &evidence}); err != nil {
		s.logger.Warn().Err(err).Str("reservation_id", id).Msg("patch after return")
	}
	s.cache.RemovePatch(id)

	metrics.IncTransition("completed")
	s.logger.Info().Str("reservation_id", id).Str("cart", r.Cart).Msg("reservation completed")
	s.publish(events.EventReservationCompleted, done, "", done.Holder)
	s.announce(ctx, announceReturned(done), evidence)
	return done, nil
}

// ApplyQueued mirrors a replayed outbox write into the cache.
func (s *ReservationService) ApplyQueued(_ context.Context, id string, t tables.Table, updates []tables.CellUpdate) {
	if t != tables.Reservations {
		return
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	patch, err := patchFromUpdates(updates, s.engine.Location())
	if err != nil {
		s.logger.Error().Err(err).Str("reservation_id", id).Msg("replayed write not understood")
		return
	}
	r, ok := s.cache.Reservation(id)
	if !ok {
		return
	}
	if patch.Status != nil && !r.Status.CanTransition(*patch.Status) && r.Status != *patch.Status {
		s.logger.Warn().Str("reservation_id", id).Str("status", string(r.Status)).Msg("replayed write skipped, status moved on")
		return
	}
	updated, err := s.cache.ApplyPatch(id, patch)
	if err != nil {
		return
	}
	if updated.Status.IsTerminal() {
		s.cache.RemovePatch(id)
		if updated.Status == models.StatusCompleted {
			metrics.IncTransition("completed")
			s.publish(events.EventReservationCompleted, updated, "", updated.Holder)
		}
	}
}

func patchFromUpdates(updates []tables.CellUpdate, loc *time.Location) (models.ReservationPatch, error) {
	var patch models.ReservationPatch
	for _, u := range updates {
		switch u.Column {
		case tables.ColStatus:
			st, err := models.ParseStatus(u.Value)
			if err != nil {
				return patch, err
			}
			patch.Status = &st
		case tables.ColActualStart, tables.ColActualEnd:
			at, err := time.ParseInLocation(models.TimeLayout, u.Value, loc)
			if err != nil {
				return patch, fmt.Errorf("%s: %w", u.Column, err)
			}
			if u.Column == tables.ColActualStart {
				patch.ActualStart = &at
			} else {
				patch.ActualEnd = &at
			}
		case tables.ColEvidence:
			v := u.Value
			patch.Evidence = &v
		}
	}
	return patch, nil
}

// Cancel ends a pending or active reservation. Repeated and concurrent calls
// are answered with AlreadyTerminal.
func (s *ReservationService) Cancel(ctx context.Context, id, reason string) (CancelResult, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	r, ok := s.cache.Reservation(id)
	if !ok {
		if st, known := s.cache.Status(id); known && st.IsTerminal() {
			return AlreadyTerminal, nil
		}
		return 0, ErrNotFound
	}
	if r.Status.IsTerminal() {
		return AlreadyTerminal, nil
	}
	if r.Provisional {
		return 0, fmt.Errorf("%w: reservation %s is not persisted yet", ErrInvalidTransition, id)
	}
	if err := s.ensureNoQueuedReturn(ctx, r); err != nil {
		return 0, err
	}

	status := models.StatusCancelled
	if err := s.gateway.BatchUpdate(ctx, tables.Reservations, []tables.CellUpdate{
		{Key: id, Column: tables.ColStatus, Value: string(status)},
	}); err != nil {
		metrics.IncTransition("cancel_failed")
		return 0, fmt.Errorf("persist cancellation: %w", err)
	}

	if _, err := s.cache.ApplyPatch(id, models.ReservationPatch{Status: &status}); err != nil {
		s.logger.Warn().Err(err).Str("reservation_id", id).Msg("patch after cancellation")
	}
	s.cache.RemovePatch(id)
	r.Status = status

	metrics.IncTransition("cancelled")
	s.logger.Info().Str("reservation_id", id).Str("reason", reason).Msg("reservation cancelled")
	s.publish(events.EventReservationCancelled, r, reason, "")
	s.notifyBestEffort(ctx, s.chatFor(r), msgCancelled(r, reason), "")
	s.announce(ctx, announceCancelled(r, reason), "")
	return Cancelled, nil
}

// ExpirePending cancels every pending reservation whose end has passed.
func (s *ReservationService) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	var errs []error
	expired := 0
	for _, r := range s.cache.Reservations() {
		if r.Status != models.StatusPending || r.Provisional || now.Before(r.End) {
			continue
		}
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		res, err := s.Cancel(ctx, r.ID, models.ReasonExpired)
		if err != nil {
			s.logger.Error().Err(err).Str("reservation_id", r.ID).Msg("expire pending failed")
			errs = append(errs, fmt.Errorf("expire %s: %w", r.ID, err))
			continue
		}
		if res == Cancelled {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

// ensureNoQueuedReturn refuses to touch an active reservation whose return
// is still waiting in the outbox. The cache keeps it active until replay.
func (s *ReservationService) ensureNoQueuedReturn(ctx context.Context, r models.Reservation) error {
	if s.outbox == nil || r.Status != models.StatusActive {
		return nil
	}
	queued, err := s.outbox.HasQueued(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("check outbox: %w", err)
	}
	if queued {
		metrics.IncTransition("return_already_queued")
		return fmt.Errorf("%w: %s", ErrReturnQueued, r.ID)
	}
	return nil
}

// transitionSource loads id and checks that it may move to next.
func (s *ReservationService) transitionSource(id string, next models.Status) (models.Reservation, error) {
	r, ok := s.cache.Reservation(id)
	if !ok {
		if st, known := s.cache.Status(id); known {
			return models.Reservation{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, st, next)
		}
		return models.Reservation{}, ErrNotFound
	}
	if r.Provisional || !r.Status.CanTransition(next) {
		metrics.IncTransition("invalid")
		return models.Reservation{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, next)
	}
	return r, nil
}

// chatFor prefers the holder's current chat over the one stored with the row.
func (s *ReservationService) chatFor(r models.Reservation) int64 {
	if u, ok := s.cache.User(r.Holder); ok && u.ChatID != 0 {
		return u.ChatID
	}
	return r.ChatID
}

func (s *ReservationService) notify(ctx context.Context, chatID int64, text, photo string) error {
	if s.notifier == nil {
		return nil
	}
	if chatID == 0 {
		return fmt.Errorf("%w: holder has no chat", ErrNotifyFailed)
	}
	if err := s.notifier.Send(ctx, chatID, text, photo); err != nil {
		return fmt.Errorf("%w: %w", ErrNotifyFailed, err)
	}
	return nil
}

func (s *ReservationService) notifyBestEffort(ctx context.Context, chatID int64, text, photo string) {
	if err := s.notify(ctx, chatID, text, photo); err != nil {
		s.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("notification dropped")
	}
}

func (s *ReservationService) announce(ctx context.Context, text, photo string) {
	if s.notificationChat == 0 {
		return
	}
	s.notifyBestEffort(ctx, s.notificationChat, text, photo)
}

func (s *ReservationService) publish(eventType string, r models.Reservation, reason, changedBy string) {
	if s.eventBus == nil {
		return
	}
	payload := events.ReservationEventPayload{
		ReservationID: r.ID,
		Cart:          r.Cart,
		Holder:        r.Holder,
		ChatID:        r.ChatID,
		Status:        string(r.Status),
		Start:         r.Start,
		End:           r.End,
		Reason:        reason,
		ChangedBy:     changedBy,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event", eventType).Str("reservation_id", r.ID).Msg("failed to publish event")
	}
}
