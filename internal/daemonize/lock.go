package daemonize

import (
	"fmt"

	"github.com/gofrs/flock"
)

// AcquireSingleton takes an exclusive, non-blocking lock on LockPath. This
// closes the race a bare PID-file check would leave open: two
// `monomux --server` invocations racing to start could both see no PID file
// and both fork a daemon. Only one of them will ever win this lock; the
// loser must treat that as "a daemon is already starting" and exit without
// touching the socket or PID file.
//
// The returned *flock.Flock must be held for the daemon's entire lifetime;
// releasing it (including process exit) frees the slot for the next
// daemon.
func AcquireSingleton(lockPath string) (*flock.Flock, error) {
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("daemonize: acquiring lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("daemonize: %s is already held by another daemon", lockPath)
	}
	return fl, nil
}
