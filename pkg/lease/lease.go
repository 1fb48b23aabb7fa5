// Package lease provides short-lived exclusive execution leases. The
// scheduler takes a lease per enrollment before handing it to the executor so
// that concurrent engine instances never run the same enrollment twice.
// Leases are advisory: correctness still rests on the enrollment version
// check, the lease only avoids wasted duplicate work.
package lease

import (
	"context"
	"errors"
	"time"
)

// ErrLeaseConflict indicates the lease is held by another owner.
var ErrLeaseConflict = errors.New("lease held by another owner")

// Store grants and tracks leases keyed by an arbitrary string, typically an
// enrollment id.
type Store interface {
	// Acquire grants the lease to owner for ttl, or returns ErrLeaseConflict
	// when a different owner holds an unexpired lease on the key.
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) error

	// Renew extends a lease the owner already holds. Returns ErrLeaseConflict
	// when the lease expired and was taken by someone else, or no longer exists.
	Renew(ctx context.Context, key, owner string, ttl time.Duration) error

	// Release frees the lease if owner still holds it. Releasing a lease held
	// by another owner is a no-op.
	Release(ctx context.Context, key, owner string) error
}
