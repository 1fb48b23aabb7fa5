package cmd

import (
	"fmt"

	"github.com/eduprism/journey/pkg/lease"
)

// NewLeaseStore returns the Redis-backed lease store when a Redis URL is
// configured, otherwise the in-memory store. The in-memory store is only
// safe when a single engine instance runs.
func NewLeaseStore(redisURL string) lease.Store {
	if redisURL == "" {
		return lease.NewMemoryStore()
	}

	store, err := lease.NewRedisStore(redisURL)
	if err != nil {
		panic(fmt.Errorf("failed to create Redis lease store: %w", err))
	}

	return store
}
