package leads

import (
	"context"
	"sync"
	"time"
)

// Repository defines the interface for lead storage
type Repository interface {
	Get(ctx context.Context, chatID int64) (*Lead, error)
	Upsert(ctx context.Context, lead *Lead) error
}

// InMemoryRepository is a map-backed Repository used in tests and funnel-less
// development deployments.
type InMemoryRepository struct {
	mu    sync.RWMutex
	leads map[int64]*Lead
}

// NewInMemoryRepository creates a new in-memory repository
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		leads: make(map[int64]*Lead),
	}
}

// Get retrieves a lead by chat id.
func (r *InMemoryRepository) Get(ctx context.Context, chatID int64) (*Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.leads[chatID]
	if !ok {
		return nil, ErrLeadNotFound
	}
	return lead.Clone(), nil
}

// Upsert stores the full record keyed by chat id.
func (r *InMemoryRepository) Upsert(ctx context.Context, lead *Lead) error {
	if lead == nil || lead.ChatID == 0 {
		return ErrMissingChatID
	}

	now := time.Now().UTC()
	stored := lead.Clone()
	stored.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.leads[lead.ChatID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	r.leads[lead.ChatID] = stored
	return nil
}
