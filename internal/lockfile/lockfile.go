// Package lockfile guards a data directory against being opened by more
// than one engine instance at a time. The store is embedded and has no
// external coordinator, so the lock lives next to the data it protects.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

const fileName = "LOCK"

// ErrHeld is returned by Acquire when the directory is already locked by
// another live instance.
var ErrHeld = errors.New("lockfile: data directory already in use")

// Lock represents an acquired directory lock, backed by an OS-level
// advisory lock on the file rather than the file's mere existence. The
// kernel drops the lock the moment the holding process exits for any
// reason, crash included, so a dead owner never bricks the directory for
// the next Open.
type Lock struct {
	fl   *flock.Flock
	path string
	id   string
}

// Acquire takes an exclusive advisory lock on dir's lock file, creating it
// if necessary, and stamps it with a random instance ID so operators can
// tell which process last held it from the file contents alone. It
// returns ErrHeld if another live process already holds the lock.
func Acquire(dir string) (*Lock, error) {
	path := filepath.Join(dir, fileName)
	fl := flock.New(path)

	held, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lockfile: lock %s: %w", path, err)
	}
	if !held {
		return nil, ErrHeld
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%s\n%d\n", id, os.Getpid())), 0o644); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("lockfile: write %s: %w", path, err)
	}

	return &Lock{fl: fl, path: path, id: id}, nil
}

// Release drops the advisory lock, making the directory available to the
// next Open. It leaves the lock file itself on disk; only the lock it
// holds on that file matters.
func (l *Lock) Release() error {
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("lockfile: unlock %s: %w", l.path, err)
	}
	return nil
}

// ID returns the random instance identifier stamped into the lock file.
func (l *Lock) ID() string { return l.id }
