package storage

import (
	"sync"

	"github.com/gofrs/flock"
)

// FileLock serializes writers of one file, within the process through a
// mutex and across processes through an flock on a sibling ".lock" file.
type FileLock struct {
	mu    sync.Mutex
	flock *flock.Flock
}

// NewFileLock creates a lock for the file at path.
func NewFileLock(path string) *FileLock {
	return &FileLock{flock: flock.New(path + ".lock")}
}

// Lock acquires an exclusive lock on the file.
func (l *FileLock) Lock() error {
	l.mu.Lock()
	if err := l.flock.Lock(); err != nil {
		l.mu.Unlock()
		return err
	}
	return nil
}

// TryLock attempts to acquire the lock without blocking.
func (l *FileLock) TryLock() bool {
	if !l.mu.TryLock() {
		return false
	}
	ok, err := l.flock.TryLock()
	if err != nil || !ok {
		l.mu.Unlock()
		return false
	}
	return true
}

// Unlock releases the lock. The lock file is left in place; removing it
// would let a waiter lock an unlinked inode.
func (l *FileLock) Unlock() error {
	err := l.flock.Unlock()
	l.mu.Unlock()
	return err
}
