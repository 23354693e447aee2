// Package fsutil provides the advisory external locking fragstore itself
// deliberately omits: the storage engine assumes its caller serializes all
// access to one *fragstore.Engine, and on a single machine that serialization
// is enforced with a sidecar lock file.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultTimeout is how long AcquireDefault (and so WithLock) waits to
// acquire an exclusive lock before giving up.
const DefaultTimeout = 5 * time.Second

var (
	ErrTimeout  = errors.New("fsutil: lock timeout")
	ErrOpenFile = errors.New("fsutil: failed to open lock file")
)

// Lock is an advisory, exclusive lock held via a sidecar "<path>.lock" file
// next to a fragment store. It never touches the store file itself, so a
// crashed holder cannot leave the store mid-write and locked at once.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes an exclusive lock on storePath+".lock", retrying until
// timeout elapses.
func Acquire(storePath string, timeout time.Duration) (*Lock, error) {
	lockPath := storePath + ".lock"

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644) //nolint:gosec // path is from caller
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenFile, err)
	}

	deadline := time.Now().Add(timeout)

	const retryInterval = 10 * time.Millisecond

	for {
		flockErr := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if flockErr == nil {
			return &Lock{path: lockPath, file: file}, nil
		}

		if time.Now().After(deadline) {
			_ = file.Close()

			return nil, fmt.Errorf("%w: %s", ErrTimeout, storePath)
		}

		time.Sleep(retryInterval)
	}
}

// AcquireDefault takes a lock with DefaultTimeout.
func AcquireDefault(storePath string) (*Lock, error) {
	return Acquire(storePath, DefaultTimeout)
}

// Release unlocks and closes the sidecar lock file. Calls after the first,
// and calls on a nil *Lock, are no-ops.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}

	_ = unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}

// WithLock acquires the sidecar lock for storePath, runs fn, and always
// releases before returning.
func WithLock(storePath string, fn func() error) error {
	lock, err := AcquireDefault(storePath)
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}

	defer lock.Release()

	return fn()
}
