package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"crmgate/pkg/logging"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// DefaultStateExpiry is how long an issued state value stays redeemable.
const DefaultStateExpiry = 10 * time.Minute

const (
	stateFileMode      = 0o600
	stateLockWait      = 5 * time.Second
	stateLockRetry     = 50 * time.Millisecond
	stateCleanupPeriod = time.Minute
)

// StateStore provides thread-safe storage for OAuth state parameters, which
// link callbacks to authorization requests and provide CSRF protection.
// States are single use.
//
// With WithStateFile the states live in a JSON file guarded by a file lock,
// so a state issued by one process (for example `crmgate auth url`) can be
// redeemed by another (the gateway's callback).
type StateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
	path   string

	stateExpiry time.Duration
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// StateStoreOption configures a StateStore.
type StateStoreOption func(*StateStore)

// WithStateFile persists states at path instead of process memory.
func WithStateFile(path string) StateStoreOption {
	return func(ss *StateStore) {
		ss.path = path
	}
}

// StateFilePath returns the state file kept next to the token store at storePath.
func StateFilePath(storePath string) string {
	return storePath + ".states"
}

// NewStateStore creates a new state store. A non-positive expiry selects
// DefaultStateExpiry.
func NewStateStore(expiry time.Duration, opts ...StateStoreOption) *StateStore {
	if expiry <= 0 {
		expiry = DefaultStateExpiry
	}
	ss := &StateStore{
		states:      make(map[string]time.Time),
		stateExpiry: expiry,
		stopCleanup: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ss)
	}

	go ss.cleanupLoop()

	return ss
}

// Path returns the state file, or "" for an in-memory store.
func (ss *StateStore) Path() string {
	return ss.path
}

// Generate creates and stores a new state value.
func (ss *StateStore) Generate() string {
	state := uuid.NewString()

	err := ss.update(func(states map[string]time.Time) bool {
		ss.pruneLocked(states)
		states[state] = time.Now()
		return true
	})
	if err != nil {
		logging.Error("OAuth", err, "Failed to persist state %s", logging.Truncate(state, 8))
	}

	logging.Debug("OAuth", "Generated state %s", logging.Truncate(state, 8))
	return state
}

// Validate consumes a state value. It returns false for unknown, reused or
// expired values.
func (ss *StateStore) Validate(state string) bool {
	if state == "" {
		return false
	}

	var createdAt time.Time
	var exists bool
	err := ss.update(func(states map[string]time.Time) bool {
		createdAt, exists = states[state]
		delete(states, state)
		return exists
	})
	if err != nil {
		logging.Error("OAuth", err, "Failed to read states")
		return false
	}

	if !exists {
		logging.Warn("OAuth", "State not found in store: %s", logging.Truncate(state, 8))
		return false
	}
	if age := time.Since(createdAt); age > ss.stateExpiry {
		logging.Warn("OAuth", "State expired: %s age=%v", logging.Truncate(state, 8), age)
		return false
	}
	return true
}

// Len returns the number of outstanding states.
func (ss *StateStore) Len() int {
	n := 0
	if err := ss.update(func(states map[string]time.Time) bool {
		n = len(states)
		return false
	}); err != nil {
		logging.Error("OAuth", err, "Failed to read states")
	}
	return n
}

// Stop stops the background cleanup goroutine. Safe to call more than once.
func (ss *StateStore) Stop() {
	ss.stopOnce.Do(func() { close(ss.stopCleanup) })
}

func (ss *StateStore) cleanupLoop() {
	ticker := time.NewTicker(stateCleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ss.cleanup()
		case <-ss.stopCleanup:
			return
		}
	}
}

// cleanup removes all expired states from the store.
func (ss *StateStore) cleanup() {
	count := 0
	err := ss.update(func(states map[string]time.Time) bool {
		count = ss.pruneLocked(states)
		return count > 0
	})
	if err != nil {
		logging.Warn("OAuth", "State cleanup failed: %v", err)
		return
	}
	if count > 0 {
		logging.Debug("OAuth", "Cleaned up %d expired states", count)
	}
}

func (ss *StateStore) pruneLocked(states map[string]time.Time) int {
	count := 0
	for state, createdAt := range states {
		if time.Since(createdAt) > ss.stateExpiry {
			delete(states, state)
			count++
		}
	}
	return count
}

// update runs fn on the current states. fn returns true when it modified
// them. File-backed stores hold an exclusive file lock for the duration.
func (ss *StateStore) update(fn func(states map[string]time.Time) bool) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.path == "" {
		fn(ss.states)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), stateLockWait)
	defer cancel()

	fl := flock.New(ss.path+".lock", flock.SetPermissions(stateFileMode))
	locked, err := fl.TryLockContext(ctx, stateLockRetry)
	if err != nil || !locked {
		if err == nil {
			err = ctx.Err()
		}
		return fmt.Errorf("failed to lock state file %s: %w", ss.path, err)
	}
	defer func() {
		if unlockErr := fl.Unlock(); unlockErr != nil {
			logging.Warn("OAuth", "Failed to release state lock: %v", unlockErr)
		}
	}()

	states, err := ss.readFile()
	if err != nil {
		return err
	}
	if !fn(states) {
		return nil
	}
	return ss.writeFile(states)
}

func (ss *StateStore) readFile() (map[string]time.Time, error) {
	states := make(map[string]time.Time)

	// #nosec G304 -- path is derived from the configured storage path
	data, err := os.ReadFile(ss.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return states, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		return states, nil
	}
	if err := json.Unmarshal(data, &states); err != nil {
		logging.Warn("OAuth", "State file %s is corrupt, starting empty: %v", ss.path, err)
		return make(map[string]time.Time), nil
	}
	return states, nil
}

func (ss *StateStore) writeFile(states map[string]time.Time) error {
	data, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("failed to encode states: %w", err)
	}
	if err := os.WriteFile(ss.path, data, stateFileMode); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return os.Chmod(ss.path, stateFileMode)
}
