package daemonize

import (
	"path/filepath"
	"testing"
)

func TestAcquireSingleton_SecondAcquireFails(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "monomux.lock")

	first, err := AcquireSingleton(lockPath)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer first.Unlock()

	if _, err := AcquireSingleton(lockPath); err == nil {
		t.Fatalf("expected second acquire on the same lock file to fail")
	}
}

func TestAcquireSingleton_ReleasedLockCanBeReacquired(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "monomux.lock")

	first, err := AcquireSingleton(lockPath)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := first.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	second, err := AcquireSingleton(lockPath)
	if err != nil {
		t.Fatalf("expected reacquire to succeed after release: %v", err)
	}
	defer second.Unlock()
}
