package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"monomux/internal/server"
	"monomux/internal/wire"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "monomux.sock")
	listener, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := server.New(listener, sockPath, log)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		srv.Shutdown()
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
			t.Fatalf("server did not shut down in time")
		}
	})
	return sockPath
}

func TestConnection_DialPerformsFullHandshake(t *testing.T) {
	sockPath := startTestServer(t)

	conn, err := Dial(sockPath, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if conn.id == 0 {
		t.Fatalf("expected a non-zero client ID")
	}
}

func TestConnection_MakeSessionAttachAndList(t *testing.T) {
	sockPath := startTestServer(t)

	conn, err := Dial(sockPath, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	mkRsp, err := conn.MakeSession("work", wire.SpawnOptions{Program: "/bin/cat"})
	if err != nil {
		t.Fatalf("make session: %v", err)
	}
	if !mkRsp.Success {
		t.Fatalf("expected MakeSession to succeed")
	}

	attachRsp, err := conn.Attach(mkRsp.Name)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !attachRsp.Success {
		t.Fatalf("expected Attach to succeed")
	}

	sessions, err := conn.ListSessions()
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	found := false
	for _, s := range sessions {
		if s.Name == mkRsp.Name {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %q in session list, got %+v", mkRsp.Name, sessions)
	}
}

// fakeTerminal feeds fixed input and captures output through pipes, so
// PumpData can be exercised without a real tty.
type fakeTerminal struct {
	reader *os.File
	writer *os.File
}

func (f *fakeTerminal) EnterRawMode() (func(), error) { return func() {}, nil }
func (f *fakeTerminal) Reader() *os.File              { return f.reader }
func (f *fakeTerminal) Writer() *os.File              { return f.writer }

func TestConnection_PumpDataEchoesThroughSession(t *testing.T) {
	sockPath := startTestServer(t)

	conn, err := Dial(sockPath, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	mkRsp, err := conn.MakeSession("echo", wire.SpawnOptions{Program: "/bin/cat"})
	if err != nil || !mkRsp.Success {
		t.Fatalf("make session: rsp=%+v err=%v", mkRsp, err)
	}
	if _, err := conn.Attach(mkRsp.Name); err != nil {
		t.Fatalf("attach: %v", err)
	}

	stdinR, stdinW, _ := os.Pipe()
	stdoutR, stdoutW, _ := os.Pipe()
	term := &fakeTerminal{reader: stdinR, writer: stdoutW}

	done := make(chan error, 1)
	go func() { done <- conn.PumpData(term) }()

	if _, err := stdinW.Write([]byte("hello\n")); err != nil {
		t.Fatalf("write stdin: %v", err)
	}

	// The session's PTY is in default cooked mode, so the exact bytes that
	// come back (local echo plus cat's own copy, both through ONLCR) aren't
	// a fixed string — only that "hello" round-trips at all.
	buf := make([]byte, 64)
	stdoutR.SetReadDeadline(time.Now().Add(3 * time.Second))
	n, err := stdoutR.Read(buf)
	if err != nil {
		t.Fatalf("read echoed output: %v", err)
	}
	if !bytes.Contains(buf[:n], []byte("hello")) {
		t.Fatalf("expected echoed output to contain %q, got %q", "hello", buf[:n])
	}

	stdinW.Close()
	conn.Close()
	<-done
}
