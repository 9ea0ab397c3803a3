package channel

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

// fakeEndpoint is an in-memory endpoint whose Write can be told to accept
// only a fixed number of bytes per call, to exercise the partial-write
// path (§8 scenario 5).
type fakeEndpoint struct {
	readData []byte
	readPos  int
	readErr  error

	writeCap int // 0 means unlimited
	written  []byte
	writeErr error
	closed   bool
}

func (f *fakeEndpoint) Read(p []byte) (int, error) {
	if f.readPos >= len(f.readData) {
		if f.readErr != nil {
			return 0, f.readErr
		}
		return 0, io.EOF
	}
	n := copy(p, f.readData[f.readPos:])
	f.readPos += n
	return n, nil
}

func (f *fakeEndpoint) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	n := len(p)
	if f.writeCap > 0 && n > f.writeCap {
		n = f.writeCap
	}
	f.written = append(f.written, p[:n]...)
	return n, nil
}

func (f *fakeEndpoint) Close() error {
	f.closed = true
	return nil
}

func TestChannel_ReadDrainsBufferFirst(t *testing.T) {
	ep := &fakeEndpoint{readData: []byte("world")}
	ch := New(ep, true)
	ch.readBuffer = []byte("hello")

	got, err := ch.Read(5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("expected 'hello', got %q", got)
	}
	if ep.readPos != 0 {
		t.Fatalf("expected no underlying read while buffer satisfied request")
	}
}

func TestChannel_ReadFallsThroughToUnderlying(t *testing.T) {
	ep := &fakeEndpoint{readData: []byte("abcdef")}
	ch := New(ep, true)

	got, err := ch.Read(4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "abcd" {
		t.Fatalf("expected 'abcd', got %q", got)
	}
}

func TestChannel_ReadEOFAfterPartialBytes(t *testing.T) {
	ep := &fakeEndpoint{readData: []byte("xy")}
	ch := New(ep, true)

	got, err := ch.Read(10)
	if err != nil {
		t.Fatalf("expected nil error on EOF with bytes available, got %v", err)
	}
	if string(got) != "xy" {
		t.Fatalf("expected 'xy', got %q", got)
	}

	got2, err2 := ch.Read(10)
	if !errors.Is(err2, io.EOF) {
		t.Fatalf("expected io.EOF on second read, got %v", err2)
	}
	if len(got2) != 0 {
		t.Fatalf("expected no bytes on EOF read, got %q", got2)
	}
}

func TestChannel_ReadFailsFastAfterFailure(t *testing.T) {
	ep := &fakeEndpoint{readErr: errors.New("boom")}
	ch := New(ep, true)

	if _, err := ch.Read(4); err == nil {
		t.Fatalf("expected underlying error to propagate")
	}
	if _, err := ch.Read(4); !errors.Is(err, ErrChannelFailed) {
		t.Fatalf("expected ErrChannelFailed on subsequent read, got %v", err)
	}
}

func TestChannel_WritePartialThenDrain(t *testing.T) {
	ep := &fakeEndpoint{writeCap: 10}
	ch := New(ep, true)

	n, err := ch.Write(bytes.Repeat([]byte("a"), 20))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 bytes accepted by the OS, got %d", n)
	}
	if len(ch.writeBuffer) != 10 {
		t.Fatalf("expected 10 bytes queued, got %d", len(ch.writeBuffer))
	}

	// Next Write (even of nothing) drains the remainder now that the
	// backend accepts everything offered.
	ep.writeCap = 0
	n2, err := ch.Write(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n2 != 10 {
		t.Fatalf("expected remaining 10 bytes drained, got %d", n2)
	}
	if len(ch.writeBuffer) != 0 {
		t.Fatalf("expected write buffer empty after drain, got %d bytes", len(ch.writeBuffer))
	}
	if len(ep.written) != 20 {
		t.Fatalf("expected all 20 bytes eventually delivered, got %d", len(ep.written))
	}
}

func TestChannel_WriteNoSilentLoss(t *testing.T) {
	ep := &fakeEndpoint{writeCap: 3}
	ch := New(ep, true)

	total := []byte("the quick brown fox")
	for len(total) > 0 {
		chunk := total
		if len(chunk) > 5 {
			chunk = chunk[:5]
		}
		if _, err := ch.Write(chunk); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		total = total[len(chunk):]
	}
	// Drain whatever is left queued.
	ep.writeCap = 0
	if _, err := ch.Write(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if string(ep.written) != "the quick brown fox" {
		t.Fatalf("expected no bytes lost or reordered, got %q", ep.written)
	}
}

func TestChannel_CloseHonoursOwnership(t *testing.T) {
	ep := &fakeEndpoint{}
	owned := New(ep, true)
	if err := owned.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ep.closed {
		t.Fatalf("expected owning Channel to close its endpoint")
	}

	ep2 := &fakeEndpoint{}
	borrowed := New(ep2, false)
	if err := borrowed.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep2.closed {
		t.Fatalf("expected non-owning Channel to leave its endpoint open")
	}
}
