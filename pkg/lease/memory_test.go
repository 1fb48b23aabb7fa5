package lease_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduprism/journey/pkg/lease"
)

func TestMemoryStore_AcquireExclusive(t *testing.T) {
	ctx := context.Background()
	store := lease.NewMemoryStore()

	err := store.Acquire(ctx, "enrollment-1", "worker-a", time.Minute)
	require.NoError(t, err)

	err = store.Acquire(ctx, "enrollment-1", "worker-b", time.Minute)
	assert.ErrorIs(t, err, lease.ErrLeaseConflict)

	// A different key is independent.
	err = store.Acquire(ctx, "enrollment-2", "worker-b", time.Minute)
	assert.NoError(t, err)

	// Re-acquiring our own lease refreshes it.
	err = store.Acquire(ctx, "enrollment-1", "worker-a", time.Minute)
	assert.NoError(t, err)
}

func TestMemoryStore_ExpiredLeaseIsFree(t *testing.T) {
	ctx := context.Background()
	store := lease.NewMemoryStore()

	err := store.Acquire(ctx, "enrollment-1", "worker-a", time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	err = store.Acquire(ctx, "enrollment-1", "worker-b", time.Minute)
	assert.NoError(t, err)
}

func TestMemoryStore_Renew(t *testing.T) {
	ctx := context.Background()
	store := lease.NewMemoryStore()

	err := store.Renew(ctx, "enrollment-1", "worker-a", time.Minute)
	assert.ErrorIs(t, err, lease.ErrLeaseConflict, "renewing a lease never taken")

	require.NoError(t, store.Acquire(ctx, "enrollment-1", "worker-a", time.Minute))

	err = store.Renew(ctx, "enrollment-1", "worker-a", time.Minute)
	assert.NoError(t, err)

	err = store.Renew(ctx, "enrollment-1", "worker-b", time.Minute)
	assert.ErrorIs(t, err, lease.ErrLeaseConflict)
}

func TestMemoryStore_Release(t *testing.T) {
	ctx := context.Background()
	store := lease.NewMemoryStore()

	require.NoError(t, store.Acquire(ctx, "enrollment-1", "worker-a", time.Minute))

	// Releasing someone else's lease does nothing.
	require.NoError(t, store.Release(ctx, "enrollment-1", "worker-b"))
	err := store.Acquire(ctx, "enrollment-1", "worker-b", time.Minute)
	assert.ErrorIs(t, err, lease.ErrLeaseConflict)

	require.NoError(t, store.Release(ctx, "enrollment-1", "worker-a"))
	err = store.Acquire(ctx, "enrollment-1", "worker-b", time.Minute)
	assert.NoError(t, err)
}
