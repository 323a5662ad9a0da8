// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package locker

import (
	"context"
	"time"
)

// Service grants and releases leases. Implementations must be safe for
// concurrent use from many nodes.
type Service interface {
	// Acquire grants the lease on clientID to owner for ttl and
	// reports true, unless another owner holds an unexpired lease.
	// Re-acquiring a lease already held by owner extends it.
	Acquire(ctx context.Context, clientID, owner string, ttl time.Duration) (bool, error)

	// Release drops the lease if owner still holds it. Releasing a
	// lease held by someone else, or by nobody, is a no-op.
	Release(ctx context.Context, clientID, owner string) error
}
