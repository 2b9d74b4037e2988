package lifecycle

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ErrLocked is returned by AcquireLock when another process already holds
// the exclusive lock at Path.
type ErrLocked struct {
	Path string
}

func (e *ErrLocked) Error() string {
	return fmt.Sprintf("lifecycle: %s is locked by another instance", e.Path)
}

// Lock is the held single-instance lock, released by Release.
type Lock struct {
	file *os.File
}

// AcquireLock opens (creating if needed) and exclusively, non-blockingly
// locks path, the sole authority for single-instance enforcement for the
// mapper's lifetime. Returns *ErrLocked if another process holds it.
func AcquireLock(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: open lock file %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, &ErrLocked{Path: path}
		}
		return nil, fmt.Errorf("lifecycle: flock %s: %w", path, err)
	}

	return &Lock{file: f}, nil
}

// Release unlocks and closes the lock file.
func (l *Lock) Release() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		l.file.Close()
		return fmt.Errorf("lifecycle: unlock: %w", err)
	}
	return l.file.Close()
}
