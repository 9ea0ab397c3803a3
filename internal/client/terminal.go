// Package client implements the CLI-facing half of the handshake: dialing
// the control and data sockets, running §4.1's two-request handshake, and
// pumping bytes between the user's real terminal and the promoted data
// channel once attached.
//
// §1 calls out the user's terminal as an external collaborator the core
// never touches directly; UserTerminal is that seam, and realTerminal is
// its concrete os.Stdin/os.Stdout-backed implementation.
package client

import (
	"log/slog"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// UserTerminal is the minimal surface this package needs from "the thing
// the user is actually typing into" — narrow enough that a test can supply
// an in-memory fake instead of a real /dev/tty.
type UserTerminal interface {
	// EnterRawMode disables line buffering and echo for the life of an
	// attached session, returning a restore function idempotent on repeat
	// calls (so both a normal detach and a signal handler can call it).
	EnterRawMode() (restore func(), err error)
	Reader() *os.File
	Writer() *os.File
}

// realTerminal wraps the process's actual stdio.
type realTerminal struct{}

// NewRealTerminal returns the UserTerminal backed by os.Stdin/os.Stdout.
func NewRealTerminal() UserTerminal { return realTerminal{} }

func (realTerminal) Reader() *os.File { return os.Stdin }
func (realTerminal) Writer() *os.File { return os.Stdout }

func (realTerminal) EnterRawMode() (func(), error) {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return func() {}, err
	}
	restored := false
	return func() {
		if restored {
			return
		}
		restored = true
		_ = term.Restore(fd, oldState)
	}, nil
}

// watchWindowResize logs the user's terminal being resized for the life of
// an attached session. §4.5's closed message set carries no resize
// request, so a SIGWINCH is never forwarded to the server — the session's
// PTY keeps the fixed geometry it was opened with (§4.7) — but swallowing
// the signal silently would leave an operator with no record that a resize
// happened at all. Returns a stop function that must be called once the
// session ends.
func watchWindowResize(log *slog.Logger) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGWINCH)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-sigCh:
				log.Debug("terminal resized, not forwarded to server")
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}
