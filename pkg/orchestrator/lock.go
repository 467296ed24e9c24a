package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ErrFamilyLocked is returned when another run holds a family's lock.
var ErrFamilyLocked = errors.New("orchestrator: family is locked by another run")

// familyLock is a per-family mutual exclusion file under the output
// directory. It closes the membership-check-then-commit race between two
// runs targeting the same family.
//
// The lock is an exclusive-create file rather than a POSIX advisory lock:
// the corpus lives on parallel filesystems (Lustre, GPFS) where O_EXCL
// create is dependable and flock semantics are not.
type familyLock struct {
	path string
}

// acquireFamilyLock takes the lock for family under dir, writing the
// holder's pid and start time for operator diagnosis. Returns
// ErrFamilyLocked when the lock is already held.
func acquireFamilyLock(dir, family string) (*familyLock, error) {
	path := filepath.Join(dir, ".lock-"+family)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFamilyLocked, path)
		}
		return nil, fmt.Errorf("orchestrator: create lock %s: %w", path, err)
	}

	_, werr := fmt.Fprintf(f, "pid=%s started=%s\n",
		strconv.Itoa(os.Getpid()), time.Now().UTC().Format(time.RFC3339))
	cerr := f.Close()
	if werr != nil || cerr != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("orchestrator: write lock %s: %w", path, errors.Join(werr, cerr))
	}

	return &familyLock{path: path}, nil
}

// release removes the lock file. Safe to call once per acquired lock.
func (l *familyLock) release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("orchestrator: release lock %s: %w", l.path, err)
	}
	return nil
}
