// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package locker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/courier/lib/clock"
	"github.com/bureau-foundation/courier/lib/session"
)

// Defaults for Config fields left zero.
const (
	DefaultLease          = 30 * time.Second
	DefaultAcquireTimeout = 5 * time.Second
	DefaultRetryInterval  = 100 * time.Millisecond
)

// Config configures a Locker.
type Config struct {
	// Service grants the leases. Required.
	Service Service

	// Clock drives retry sleeps and the acquire deadline.
	Clock clock.Clock

	// Lease is the TTL requested for each lease. WithLock renews the
	// lease every Lease/3 while its critical section runs.
	Lease time.Duration

	// AcquireTimeout bounds how long Lock retries a contended lock.
	// Negative means a single attempt.
	AcquireTimeout time.Duration

	// RetryInterval is the sleep between attempts.
	RetryInterval time.Duration

	Logger *slog.Logger
}

// Lease identifies one successful acquisition. The zero Lease is the
// bypass lease handed out for an empty client id.
type Lease struct {
	ClientID string
	Owner    string
}

// Locker acquires per-client leases with retry.
type Locker struct {
	service        Service
	clock          clock.Clock
	lease          time.Duration
	acquireTimeout time.Duration
	retryInterval  time.Duration
	logger         *slog.Logger
}

// New creates a Locker, filling zero Config fields with defaults.
func New(config Config) (*Locker, error) {
	if config.Service == nil {
		return nil, fmt.Errorf("locker: Service is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Lease == 0 {
		config.Lease = DefaultLease
	}
	if config.AcquireTimeout == 0 {
		config.AcquireTimeout = DefaultAcquireTimeout
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Locker{
		service:        config.Service,
		clock:          config.Clock,
		lease:          config.Lease,
		acquireTimeout: config.AcquireTimeout,
		retryInterval:  config.RetryInterval,
		logger:         config.Logger,
	}, nil
}

// Lock acquires the lease on clientID, retrying until the acquire
// timeout. It reports false if the lease stayed contended. An empty
// clientID is always granted without contacting the Service.
func (l *Locker) Lock(ctx context.Context, clientID string) (Lease, bool, error) {
	if clientID == "" {
		return Lease{}, true, nil
	}

	lease := Lease{ClientID: clientID, Owner: uuid.NewString()}
	deadline := l.clock.Now().Add(l.acquireTimeout)
	for {
		acquired, err := l.service.Acquire(ctx, clientID, lease.Owner, l.lease)
		if err != nil {
			return Lease{}, false, err
		}
		if acquired {
			return lease, true, nil
		}
		if !l.clock.Now().Before(deadline) {
			l.logger.Debug("session lock contended", "client_id", clientID)
			return Lease{}, false, nil
		}

		select {
		case <-ctx.Done():
			return Lease{}, false, ctx.Err()
		case <-l.clock.After(l.retryInterval):
		}
	}
}

// Unlock releases lease. The zero Lease is a no-op.
func (l *Locker) Unlock(ctx context.Context, lease Lease) error {
	if lease.ClientID == "" {
		return nil
	}
	return l.service.Release(ctx, lease.ClientID, lease.Owner)
}

// renew re-acquires lease every third of the lease TTL until stop is
// closed. It gives up once the lease has been granted to someone else.
func (l *Locker) renew(ctx context.Context, lease Lease, stop <-chan struct{}) {
	interval := l.lease / 3
	if interval <= 0 {
		return
	}
	for {
		select {
		case <-stop:
			return
		case <-l.clock.After(interval):
		}

		acquired, err := l.service.Acquire(ctx, lease.ClientID, lease.Owner, l.lease)
		if err != nil {
			l.logger.Warn("renewing session lock failed",
				"client_id", lease.ClientID,
				"error", err,
			)
			continue
		}
		if !acquired {
			l.logger.Error("session lock lost while held", "client_id", lease.ClientID)
			return
		}
	}
}

// WithLock runs fn while holding the lease on clientID and returns
// fn's result. The lease is renewed while fn runs and released on
// every exit path, including a panic in fn. If the lease cannot be acquired fn does not run and the
// error is session.ErrClientIDUnavailable.
func WithLock[T any](ctx context.Context, locker *Locker, clientID string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	lease, acquired, err := locker.Lock(ctx, clientID)
	if err != nil {
		return zero, fmt.Errorf("locking %q: %w", clientID, err)
	}
	if !acquired {
		return zero, fmt.Errorf("%w: %q is locked by another open", session.ErrClientIDUnavailable, clientID)
	}
	stop := make(chan struct{})
	renewed := make(chan struct{})
	if lease.ClientID != "" {
		go func() {
			defer close(renewed)
			locker.renew(ctx, lease, stop)
		}()
	} else {
		close(renewed)
	}
	defer func() {
		// No renewal may land after the release.
		close(stop)
		<-renewed
		// Release even if the caller's context is already done.
		if err := locker.Unlock(context.WithoutCancel(ctx), lease); err != nil {
			locker.logger.Warn("releasing session lock failed",
				"client_id", clientID,
				"error", err,
			)
		}
	}()

	return fn(ctx)
}
