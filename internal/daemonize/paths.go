// Package daemonize implements MonoMux's self-daemonization: finding the
// one socket/lock/pid/log directory a given user's daemon lives in,
// enforcing the "one server per user" singleton (§6), and the
// start/stop/run/status lifecycle a client-facing CLI drives.
//
// Run-directory resolution follows a real-UID-derived XDG fallback chain,
// and the singleton is enforced with a held file lock rather than a bare
// PID-file probe, to avoid a stale-PID-file race.
package daemonize

import (
	"os"
	"os/user"
	"path/filepath"
)

const (
	socketName = "monomux.sock"
	lockName   = "monomux.lock"
	pidName    = "monomux.pid"
	logName    = "monomux.log"
)

// RunDir returns the directory a user's daemon state lives in: the
// explicit $MONOMUX_HOME override if set, otherwise
// $XDG_RUNTIME_DIR/monomux, otherwise ~/.monomux. Resolved against the real
// (not effective) UID, since a setuid or sudo'd invocation must still land
// in the invoking user's own directory.
func RunDir() string {
	if d := os.Getenv("MONOMUX_HOME"); d != "" {
		return d
	}
	if xdg := os.Getenv("XDG_RUNTIME_DIR"); xdg != "" {
		return filepath.Join(xdg, "monomux")
	}
	return filepath.Join(homeDir(), ".monomux")
}

// homeDir resolves the real user's home directory, falling back to
// os.UserHomeDir (which honors $HOME) if the system user database can't be
// consulted — e.g. inside a minimal container.
func homeDir() string {
	if u, err := user.Current(); err == nil && u.HomeDir != "" {
		return u.HomeDir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}

// EnsureRunDir creates RunDir with 0700 permissions if it doesn't already
// exist (§7: no authentication beyond filesystem permissions).
func EnsureRunDir() (string, error) {
	dir := RunDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// SocketPath returns the listening socket's path: $MONOMUX_SOCKET if set
// (the same variable a nested monomux invocation sets for its children,
// §6), otherwise RunDir/monomux.sock.
func SocketPath() string {
	if s := os.Getenv("MONOMUX_SOCKET"); s != "" {
		return s
	}
	return filepath.Join(RunDir(), socketName)
}

// LockPath returns the path of the singleton-enforcing lock file.
func LockPath() string { return filepath.Join(RunDir(), lockName) }

// PidPath returns the path of the daemon's PID file.
func PidPath() string { return filepath.Join(RunDir(), pidName) }

// LogPath returns the path of the daemon's log file.
func LogPath() string { return filepath.Join(RunDir(), logName) }
