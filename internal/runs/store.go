package runs

import (
	"context"
	"sync"
	"time"

	"loanflow/internal/domain"
	"loanflow/pkg/cache"
	"loanflow/pkg/errors"
)

// SnapshotStore keeps the latest state of each run for readers that are not
// attached to the live session.
type SnapshotStore interface {
	Save(ctx context.Context, st domain.FlowState) error
	Load(ctx context.Context, runID string) (domain.FlowState, error)
}

// Archive keeps finished runs.
type Archive interface {
	Save(ctx context.Context, st domain.FlowState) error
	Get(ctx context.Context, runID string) (domain.FlowState, error)
	List(ctx context.Context, limit int) ([]domain.RunSummary, error)
}

// EventPublisher forwards progress events outside the process.
type EventPublisher interface {
	Publish(ctx context.Context, e domain.Event) error
}

type MemorySnapshots struct {
	mu     sync.RWMutex
	states map[string]domain.FlowState
}

func NewMemorySnapshots() *MemorySnapshots {
	return &MemorySnapshots{states: map[string]domain.FlowState{}}
}

func (m *MemorySnapshots) Save(ctx context.Context, st domain.FlowState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.RunID] = st.Redacted()
	return nil
}

func (m *MemorySnapshots) Load(ctx context.Context, runID string) (domain.FlowState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[runID]
	if !ok {
		return domain.FlowState{}, errors.ErrRunNotFound
	}
	return st.Clone(), nil
}

// RedisSnapshots stores snapshots as JSON under run:<id>.
type RedisSnapshots struct {
	cache *cache.RedisCache
	ttl   time.Duration
}

func NewRedisSnapshots(c *cache.RedisCache, ttl time.Duration) *RedisSnapshots {
	return &RedisSnapshots{cache: c, ttl: ttl}
}

func (r *RedisSnapshots) Save(ctx context.Context, st domain.FlowState) error {
	return r.cache.Set(ctx, "run:"+st.RunID, st.Redacted(), r.ttl)
}

func (r *RedisSnapshots) Load(ctx context.Context, runID string) (domain.FlowState, error) {
	var st domain.FlowState
	err := r.cache.Get(ctx, "run:"+runID, &st)
	if errors.Is(err, cache.ErrMiss) {
		return st, errors.ErrRunNotFound
	}
	return st, err
}

// NopArchive drops finished runs. List is always empty.
type NopArchive struct{}

func (NopArchive) Save(ctx context.Context, st domain.FlowState) error { return nil }

func (NopArchive) Get(ctx context.Context, runID string) (domain.FlowState, error) {
	return domain.FlowState{}, errors.ErrRunNotFound
}

func (NopArchive) List(ctx context.Context, limit int) ([]domain.RunSummary, error) {
	return []domain.RunSummary{}, nil
}
