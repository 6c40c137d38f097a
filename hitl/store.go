package hitl

import (
	"context"
	"sync"
	"time"
)

// Store is the backing storage of the suspension registry.
//
// Implementations must make Create and Transition atomic with respect to
// each other: Create never overwrites, Transition is a compare-and-set on
// the status field. Returned requests are copies owned by the caller.
type Store interface {
	// Create stores a new request. Returns ErrDuplicateEvent if the id exists.
	Create(ctx context.Context, req *SuspensionRequest) error

	// Get returns the request or ErrEventNotFound.
	Get(ctx context.Context, eventID string) (*SuspensionRequest, error)

	// Transition moves the request from one status to another and records
	// the decision. Returns ErrEventNotFound or ErrStatusConflict.
	Transition(ctx context.Context, eventID string, from, to Status, decision *Decision) (*SuspensionRequest, error)

	// Delete removes the request. Deleting a missing id is not an error.
	Delete(ctx context.Context, eventID string) error

	// ListByUser returns a user's requests in the given status, oldest first.
	// An empty status matches every status.
	ListByUser(ctx context.Context, userID string, status Status) ([]*SuspensionRequest, error)

	// ListOverdue returns pending requests whose ExpiresAt is not after now.
	ListOverdue(ctx context.Context, now time.Time) ([]*SuspensionRequest, error)

	// ExpireStale marks every pending, decided or resuming request created
	// before cutoff by the given owner as expired and returns the affected
	// ids. An empty owner matches every request.
	ExpireStale(ctx context.Context, cutoff time.Time, owner string) ([]string, error)

	// Count returns the number of stored requests.
	Count(ctx context.Context) (int, error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// MemoryStore is an in-memory Store. Data is lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]*SuspensionRequest
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]*SuspensionRequest)}
}

// Create stores a copy of req.
func (s *MemoryStore) Create(ctx context.Context, req *SuspensionRequest) error {
	if req == nil || req.EventID == "" {
		return ErrInvalidRequest
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, exists := s.items[req.EventID]; exists {
		return ErrDuplicateEvent
	}
	s.items[req.EventID] = req.Clone()
	return nil
}

// Get returns a copy of the stored request.
func (s *MemoryStore) Get(ctx context.Context, eventID string) (*SuspensionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	req, ok := s.items[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	return req.Clone(), nil
}

// Transition performs the compare-and-set under the write lock.
func (s *MemoryStore) Transition(ctx context.Context, eventID string, from, to Status, decision *Decision) (*SuspensionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	req, ok := s.items[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	if req.Status != from {
		return nil, ErrStatusConflict
	}
	ApplyTransition(req, to, decision)
	return req.Clone(), nil
}

// Delete removes the request if present.
func (s *MemoryStore) Delete(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.items, eventID)
	return nil
}

// ListByUser returns the user's requests, oldest first.
func (s *MemoryStore) ListByUser(ctx context.Context, userID string, status Status) ([]*SuspensionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var out []*SuspensionRequest
	for _, req := range s.items {
		if req.UserID != userID {
			continue
		}
		if status != "" && req.Status != status {
			continue
		}
		out = append(out, req.Clone())
	}
	SortByCreatedAt(out)
	return out, nil
}

// ListOverdue returns pending requests past their deadline.
func (s *MemoryStore) ListOverdue(ctx context.Context, now time.Time) ([]*SuspensionRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var out []*SuspensionRequest
	for _, req := range s.items {
		if req.Status == StatusPending && req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
			out = append(out, req.Clone())
		}
	}
	SortByCreatedAt(out)
	return out, nil
}

// ExpireStale marks old live requests of owner as expired.
func (s *MemoryStore) ExpireStale(ctx context.Context, cutoff time.Time, owner string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	var ids []string
	for id, req := range s.items {
		if req.Status == StatusExpired || !req.CreatedAt.Before(cutoff) {
			continue
		}
		if owner != "" && req.Owner != owner {
			continue
		}
		ApplyTransition(req, StatusExpired, nil)
		ids = append(ids, id)
	}
	return ids, nil
}

// Count returns the number of stored requests.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrStoreClosed
	}
	return len(s.items), nil
}

// Ping reports whether the store is open.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ApplyTransition sets the status and decision fields on req.
// Shared by store implementations so they record transitions identically.
func ApplyTransition(req *SuspensionRequest, to Status, decision *Decision) {
	req.Status = to
	if decision != nil {
		d := *decision
		req.Decision = &d
		at := d.DecidedAt
		if at.IsZero() {
			at = time.Now()
		}
		req.DecidedAt = &at
	}
}

var _ Store = (*MemoryStore)(nil)
