package service

import (
	"context"
	"errors"
	"time"

	"cartbroker/internal/domain"
	"cartbroker/internal/metrics"
	"cartbroker/internal/models"

	"github.com/rs/zerolog"
)

// StatusSource reports the status of a reservation, live or retired.
type StatusSource interface {
	Status(id string) (models.Status, bool)
}

// StateService keeps per-actor dialog state on top of a StateRepository.
type StateService struct {
	stateRepo domain.StateRepository
	statuses  StatusSource
	notifier  domain.Notifier
	timeout   time.Duration
	clock     func() time.Time
	logger    *zerolog.Logger
}

func NewStateService(stateRepo domain.StateRepository, statuses StatusSource, notifier domain.Notifier, timeout time.Duration, logger *zerolog.Logger) *StateService {
	if timeout <= 0 {
		timeout = models.SessionTimeout
	}
	l := logger.With().Str("component", "sessions").Logger()
	return &StateService{
		stateRepo: stateRepo,
		statuses:  statuses,
		notifier:  notifier,
		timeout:   timeout,
		clock:     time.Now,
		logger:    &l,
	}
}

// Get returns the live session of actorID, or nil. A timed-out session is
// treated as absent.
func (s *StateService) Get(ctx context.Context, actorID int64) (*models.Session, error) {
	session, err := s.stateRepo.GetSession(ctx, actorID)
	if err != nil {
		s.logger.Error().Err(err).Int64("actor_id", actorID).Msg("failed to get session")
		return nil, err
	}
	if session == nil || session.Expired(s.clock(), s.timeout) {
		return nil, nil
	}
	return session, nil
}

// Set moves actorID to step with data, keeping the creation time of an
// existing session.
func (s *StateService) Set(ctx context.Context, actorID, chatID int64, step models.Step, data models.SessionData) error {
	now := s.clock()
	session := &models.Session{
		ActorID:   actorID,
		ChatID:    chatID,
		Step:      step,
		Data:      data,
		CreatedAt: now,
		TouchedAt: now,
	}
	if prev, err := s.stateRepo.GetSession(ctx, actorID); err == nil && prev != nil && !prev.Expired(now, s.timeout) {
		session.CreatedAt = prev.CreatedAt
	}
	return s.stateRepo.SetSession(ctx, session)
}

func (s *StateService) Clear(ctx context.Context, actorID int64) error {
	return s.stateRepo.ClearSession(ctx, actorID)
}

func (s *StateService) CheckRateLimit(ctx context.Context, actorID int64, limit int, window time.Duration) (bool, error) {
	return s.stateRepo.CheckRateLimit(ctx, actorID, limit, window)
}

// Sweep evicts timed-out sessions and those whose reservation has ended.
// Actors caught waiting for a photo are told their session expired.
func (s *StateService) Sweep(ctx context.Context, now time.Time) (int, error) {
	sessions, err := s.stateRepo.ListSessions(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	evicted := 0
	for _, session := range sessions {
		timedOut := session.Expired(now, s.timeout)
		if !timedOut && !s.reservationEnded(session) {
			continue
		}
		if err := s.stateRepo.ClearSession(ctx, session.ActorID); err != nil {
			errs = append(errs, err)
			continue
		}
		evicted++
		if timedOut && (session.Step == models.StepTakePhoto || session.Step == models.StepReturnPhoto) {
			s.tellExpired(ctx, session)
		}
	}
	metrics.AddSessionsEvicted(evicted)
	if evicted > 0 {
		s.logger.Info().Int("evicted", evicted).Msg("sessions swept")
	}
	return evicted, errors.Join(errs...)
}

func (s *StateService) reservationEnded(session *models.Session) bool {
	id := session.Data.ReservationID
	if id == "" || s.statuses == nil {
		return false
	}
	st, ok := s.statuses.Status(id)
	return ok && st.IsTerminal()
}

func (s *StateService) tellExpired(ctx context.Context, session *models.Session) {
	if s.notifier == nil || session.ChatID == 0 {
		return
	}
	if err := s.notifier.Send(ctx, session.ChatID, msgSessionExpired(), ""); err != nil {
		s.logger.Warn().Err(err).Int64("actor_id", session.ActorID).Msg("session expiry notice dropped")
	}
}
