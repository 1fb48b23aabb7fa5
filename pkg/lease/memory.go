package lease

import (
	"context"
	"sync"
	"time"
)

type memoryLease struct {
	owner     string
	expiresAt time.Time
}

// MemoryStore is an in-process lease store for single-instance deployments
// and tests.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]memoryLease
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leases: make(map[string]memoryLease),
		now:    time.Now,
	}
}

func (s *MemoryStore) Acquire(ctx context.Context, key, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.leases[key]
	if ok && current.owner != owner && s.now().Before(current.expiresAt) {
		return ErrLeaseConflict
	}

	s.leases[key] = memoryLease{owner: owner, expiresAt: s.now().Add(ttl)}

	return nil
}

func (s *MemoryStore) Renew(ctx context.Context, key, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.leases[key]
	if !ok || current.owner != owner || !s.now().Before(current.expiresAt) {
		return ErrLeaseConflict
	}

	s.leases[key] = memoryLease{owner: owner, expiresAt: s.now().Add(ttl)}

	return nil
}

func (s *MemoryStore) Release(ctx context.Context, key, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.leases[key]
	if ok && current.owner == owner {
		delete(s.leases, key)
	}

	return nil
}
