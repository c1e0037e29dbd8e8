package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crmgate/pkg/logging"

	"github.com/gofrs/flock"
)

const (
	// DefaultLockTimeout bounds how long a refresher waits for the refresh lock.
	DefaultLockTimeout = 10 * time.Second

	// DefaultLockPollInterval is the retry interval while the lock is held elsewhere.
	DefaultLockPollInterval = 100 * time.Millisecond

	lockFileMode = 0o600
)

// RefreshLockPath returns the refresh lock location for a token store path.
// It is distinct from the store's own lock so that readers of the current
// token are not blocked by an in-flight refresh.
func RefreshLockPath(storePath string) string {
	return storePath + ".refresh.lock"
}

// RefreshLock is an exclusive advisory file lock around the refresh
// critical section. It excludes other processes as well as other goroutines,
// since every acquisition opens its own handle.
type RefreshLock struct {
	path         string
	timeout      time.Duration
	pollInterval time.Duration
}

// NewRefreshLock creates a lock on path. Non-positive durations select the defaults.
func NewRefreshLock(path string, timeout, pollInterval time.Duration) *RefreshLock {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	if pollInterval <= 0 {
		pollInterval = DefaultLockPollInterval
	}
	return &RefreshLock{
		path:         path,
		timeout:      timeout,
		pollInterval: pollInterval,
	}
}

// Path returns the lock file location.
func (l *RefreshLock) Path() string {
	return l.path
}

// Timeout returns the maximum acquisition wait.
func (l *RefreshLock) Timeout() time.Duration {
	return l.timeout
}

// Acquire blocks until the lock is held, the timeout elapses (ErrLockTimeout)
// or ctx is done. The returned release function must be called exactly once.
func (l *RefreshLock) Acquire(ctx context.Context) (release func(), err error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	fl := flock.New(l.path, flock.SetPermissions(lockFileMode))

	start := time.Now()
	locked, err := fl.TryLockContext(waitCtx, l.pollInterval)
	if err != nil || !locked {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("failed to acquire refresh lock %s: %w", l.path, err)
		}
		logging.Warn("RefreshLock", "Gave up waiting for %s after %v", l.path, time.Since(start))
		return nil, fmt.Errorf("%w after %v (%s)", ErrLockTimeout, l.timeout, l.path)
	}

	if waited := time.Since(start); waited > l.pollInterval {
		logging.Debug("RefreshLock", "Acquired %s after waiting %v", l.path, waited)
	}

	return func() {
		if err := fl.Unlock(); err != nil {
			logging.Warn("RefreshLock", "Failed to release %s: %v", l.path, err)
		}
	}, nil
}
