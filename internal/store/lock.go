package store

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLocked means another process holds the ingest lock.
var ErrLocked = errors.New("catalog is locked by another ingest")

// IngestLock serialises catalog writers across processes.
type IngestLock struct {
	lock *flock.Flock
}

// LockIngest takes the ingest lock next to the database without waiting.
func (s *Store) LockIngest() (*IngestLock, error) {
	l := flock.New(s.path + ".lock")
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire ingest lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &IngestLock{lock: l}, nil
}

// Path returns the lock file path.
func (l *IngestLock) Path() string {
	return l.lock.Path()
}

// Unlock releases the lock.
func (l *IngestLock) Unlock() error {
	return l.lock.Unlock()
}
