package token

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"crmgate/pkg/logging"

	"github.com/gofrs/flock"
)

const (
	// DefaultLockWait bounds how long Load and Save wait for the store lock.
	DefaultLockWait = 5 * time.Second

	// lockRetryDelay is the poll interval while waiting for a file lock.
	lockRetryDelay = 100 * time.Millisecond

	fileMode = 0o600
	dirMode  = 0o700
)

// Store is durable, lockable storage for the token record.
type Store interface {
	// Load returns the persisted record, or ErrNotFound.
	Load(ctx context.Context) (Record, error)

	// Save atomically replaces the persisted record.
	Save(ctx context.Context, rec Record) error

	// IsExpired loads the record and applies the expiry buffer. A missing or
	// unreadable record counts as expired.
	IsExpired(ctx context.Context) bool
}

// StoreConfig configures a FileStore.
type StoreConfig struct {
	// Path of the JSON token document.
	Path string

	// Buffer is the expiry safety margin. Defaults to DefaultBuffer.
	Buffer time.Duration

	// LockWait bounds lock acquisition for Load and Save. Defaults to DefaultLockWait.
	LockWait time.Duration

	// Validation is applied on Save and on every Load.
	Validation ValidationOptions

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// FileStore is a Store backed by a single JSON file.
type FileStore struct {
	path       string
	lockPath   string
	buffer     time.Duration
	lockWait   time.Duration
	validation ValidationOptions
	now        func() time.Time
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates the storage directory if needed and, on first use,
// an empty record.
func NewFileStore(cfg StoreConfig) (*FileStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("token store path is required")
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = DefaultLockWait
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &FileStore{
		path:       cfg.Path,
		lockPath:   cfg.Path + ".lock",
		buffer:     cfg.Buffer,
		lockWait:   cfg.LockWait,
		validation: cfg.Validation,
		now:        cfg.Now,
	}

	if err := os.MkdirAll(filepath.Dir(s.path), dirMode); err != nil {
		return nil, &StorageError{Op: "init", Path: s.path, Err: err}
	}
	if err := s.ensureExists(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the location of the token document.
func (s *FileStore) Path() string {
	return s.path
}

// Buffer returns the configured expiry margin.
func (s *FileStore) Buffer() time.Duration {
	return s.buffer
}

// ensureExists writes an empty record if no document exists yet. The check
// runs under the exclusive lock so a concurrent first write is never clobbered.
func (s *FileStore) ensureExists(ctx context.Context) error {
	return s.withLock(ctx, true, func() error {
		if _, err := os.Stat(s.path); err == nil {
			return nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return &StorageError{Op: "init", Path: s.path, Err: err}
		}
		logging.Info("TokenStore", "Creating empty token record at %s", s.path)
		return s.writeLocked(Record{})
	})
}

// Load reads the record under a shared lock.
func (s *FileStore) Load(ctx context.Context) (Record, error) {
	var data []byte
	err := s.withLock(ctx, false, func() error {
		var readErr error
		// #nosec G304 -- path comes from configuration, not request input
		data, readErr = os.ReadFile(s.path)
		return readErr
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, ErrNotFound
		}
		return Record{}, &StorageError{Op: "load", Path: s.path, Err: err}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		logging.Warn("TokenStore", "Token record at %s cannot be decoded: %v", s.path, err)
		return Record{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if err := rec.Validate(s.validation); err != nil {
		logging.Warn("TokenStore", "Token record at %s is invalid: %v", s.path, err)
		return Record{}, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return rec, nil
}

// Save validates the record and replaces the document under an exclusive lock.
func (s *FileStore) Save(ctx context.Context, rec Record) error {
	if err := rec.Validate(s.validation); err != nil {
		return fmt.Errorf("refusing to persist token record: %w", err)
	}
	if err := s.withLock(ctx, true, func() error { return s.writeLocked(rec) }); err != nil {
		var storageErr *StorageError
		if errors.As(err, &storageErr) {
			return err
		}
		return &StorageError{Op: "save", Path: s.path, Err: err}
	}

	logging.Debug("TokenStore", "Token record saved (expires %s)", rec.Expiry().Format(time.RFC3339))
	return nil
}

// IsExpired reports whether the persisted access token must be refreshed.
func (s *FileStore) IsExpired(ctx context.Context) bool {
	rec, err := s.Load(ctx)
	if err != nil {
		return true
	}
	return rec.ExpiredAt(s.now(), s.buffer)
}

// writeLocked truncates and rewrites the document. Callers hold the exclusive lock.
func (s *FileStore) writeLocked(rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return &StorageError{Op: "encode", Path: s.path, Err: err}
	}

	f, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fileMode)
	if err != nil {
		return &StorageError{Op: "open", Path: s.path, Err: err}
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return &StorageError{Op: "write", Path: s.path, Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return &StorageError{Op: "sync", Path: s.path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &StorageError{Op: "close", Path: s.path, Err: err}
	}
	// OpenFile only applies the mode on creation.
	if err := os.Chmod(s.path, fileMode); err != nil {
		return &StorageError{Op: "chmod", Path: s.path, Err: err}
	}
	return nil
}

// withLock runs fn while holding the store lock. Each call opens its own lock
// handle, so goroutines in one process exclude each other just like processes do.
func (s *FileStore) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, s.lockWait)
	defer cancel()

	fl := flock.New(s.lockPath, flock.SetPermissions(fileMode))

	var locked bool
	var err error
	if exclusive {
		locked, err = fl.TryLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = fl.TryRLockContext(ctx, lockRetryDelay)
	}
	if err != nil || !locked {
		if err == nil {
			err = ctx.Err()
		}
		return fmt.Errorf("%w (%s): %v", ErrLockWait, s.lockPath, err)
	}
	defer func() {
		if unlockErr := fl.Unlock(); unlockErr != nil {
			logging.Warn("TokenStore", "Failed to release lock %s: %v", s.lockPath, unlockErr)
		}
	}()

	return fn()
}
