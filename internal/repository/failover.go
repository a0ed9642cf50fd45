package repository

import (
	"context"
	"sync/atomic"
	"time"

	"cartbroker/internal/domain"
	"cartbroker/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverStateRepository serves from primary and switches to fallback on
// the first primary error. The primary is retried once per recoveryInterval.
type FailoverStateRepository struct {
	primary   domain.StateRepository
	fallback  domain.StateRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverStateRepository(primary, fallback domain.StateRepository, logger *zerolog.Logger) *FailoverStateRepository {
	l := logger.With().Str("component", "state_failover").Logger()
	return &FailoverStateRepository{
		primary:  primary,
		fallback: fallback,
		logger:   &l,
	}
}

func (r *FailoverStateRepository) markDown(err error) {
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary state repository failed, falling back to memory")
	}
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverStateRepository) shouldTryPrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	// Try to recover after 1 minute
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func withFailover[T any](r *FailoverStateRepository, primary, fallback func() (T, error)) (T, error) {
	if r.shouldTryPrimary() {
		v, err := primary()
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary state repository recovered")
			}
			return v, nil
		}
		r.markDown(err)
	}
	return fallback()
}

func (r *FailoverStateRepository) GetSession(ctx context.Context, actorID int64) (*models.Session, error) {
	return withFailover(r,
		func() (*models.Session, error) { return r.primary.GetSession(ctx, actorID) },
		func() (*models.Session, error) { return r.fallback.GetSession(ctx, actorID) },
	)
}

func (r *FailoverStateRepository) SetSession(ctx context.Context, session *models.Session) error {
	_, err := withFailover(r,
		func() (struct{}, error) { return struct{}{}, r.primary.SetSession(ctx, session) },
		func() (struct{}, error) { return struct{}{}, r.fallback.SetSession(ctx, session) },
	)
	return err
}

func (r *FailoverStateRepository) ClearSession(ctx context.Context, actorID int64) error {
	_, err := withFailover(r,
		func() (struct{}, error) { return struct{}{}, r.primary.ClearSession(ctx, actorID) },
		func() (struct{}, error) { return struct{}{}, r.fallback.ClearSession(ctx, actorID) },
	)
	return err
}

func (r *FailoverStateRepository) ListSessions(ctx context.Context) ([]*models.Session, error) {
	return withFailover(r,
		func() ([]*models.Session, error) { return r.primary.ListSessions(ctx) },
		func() ([]*models.Session, error) { return r.fallback.ListSessions(ctx) },
	)
}

func (r *FailoverStateRepository) CheckRateLimit(ctx context.Context, actorID int64, limit int, window time.Duration) (bool, error) {
	return withFailover(r,
		func() (bool, error) { return r.primary.CheckRateLimit(ctx, actorID, limit, window) },
		func() (bool, error) { return r.fallback.CheckRateLimit(ctx, actorID, limit, window) },
	)
}
