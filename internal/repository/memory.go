package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"cartbroker/internal/models"
)

// MemoryStateRepository keeps sessions in process. It backs the failover
// wrapper and single-node setups without Redis.
type MemoryStateRepository struct {
	mu         sync.Mutex
	sessions   map[int64]models.Session
	rateLimits map[int64]*rateLimitEntry
	clock      func() time.Time
}

func NewMemoryStateRepository() *MemoryStateRepository {
	return &MemoryStateRepository{
		sessions:   make(map[int64]models.Session),
		rateLimits: make(map[int64]*rateLimitEntry),
		clock:      time.Now,
	}
}

func (r *MemoryStateRepository) GetSession(ctx context.Context, actorID int64) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[actorID]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (r *MemoryStateRepository) SetSession(ctx context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ActorID] = *session
	return nil
}

func (r *MemoryStateRepository) ClearSession(ctx context.Context, actorID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, actorID)
	return nil
}

func (r *MemoryStateRepository) ListSessions(ctx context.Context) ([]*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		session := s
		out = append(out, &session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActorID < out[j].ActorID })
	return out, nil
}

type rateLimitEntry struct {
	count     int
	expiresAt time.Time
}

func (r *MemoryStateRepository) CheckRateLimit(ctx context.Context, actorID int64, limit int, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock()

	entry, ok := r.rateLimits[actorID]
	if !ok || now.After(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		r.rateLimits[actorID] = entry
	}
	entry.count++
	return entry.count <= limit, nil
}
