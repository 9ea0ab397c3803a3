package server

import (
	"testing"

	"monomux/internal/channel"
)

type discardEndpoint struct{}

func (discardEndpoint) Read([]byte) (int, error)    { return 0, nil }
func (discardEndpoint) Write(p []byte) (int, error) { return len(p), nil }
func (discardEndpoint) Close() error                { return nil }

func newTestClientData(id ClientID) *ClientData {
	return newClientData(id, channel.New(discardEndpoint{}, false))
}

func TestClientData_NonceConsumedOnce(t *testing.T) {
	c := newTestClientData(1)
	nonce := c.MakeNewNonce()

	got, ok := c.ConsumeNonce()
	if !ok || got != nonce {
		t.Fatalf("expected nonce %d, got %d (ok=%v)", nonce, got, ok)
	}

	if _, ok := c.ConsumeNonce(); ok {
		t.Fatalf("nonce should not be consumable twice")
	}
}

func TestClientData_MakeNewNonceOverwritesPending(t *testing.T) {
	c := newTestClientData(1)
	first := c.MakeNewNonce()
	second := c.MakeNewNonce()
	if first == second {
		// Astronomically unlikely, but not itself the invariant under test.
		t.Skip("random nonces collided")
	}

	got, ok := c.ConsumeNonce()
	if !ok || got != second {
		t.Fatalf("expected the most recent nonce %d, got %d (ok=%v)", second, got, ok)
	}
}

func TestClientData_AttachedSessionRoundTrip(t *testing.T) {
	c := newTestClientData(1)
	if _, ok := c.AttachedSession(); ok {
		t.Fatalf("fresh client should not report an attached session")
	}

	c.setAttached("alpha")
	name, ok := c.AttachedSession()
	if !ok || name != "alpha" {
		t.Fatalf("expected attached to alpha, got %q (ok=%v)", name, ok)
	}

	c.clearAttached()
	if _, ok := c.AttachedSession(); ok {
		t.Fatalf("expected no attached session after clearAttached")
	}
}

func TestClientData_DataChannelPromotion(t *testing.T) {
	c := newTestClientData(1)
	if c.hasDataChannel() {
		t.Fatalf("fresh client should have no data channel")
	}

	dc := channel.New(discardEndpoint{}, false)
	c.promoteDataChannel(dc)
	if !c.hasDataChannel() {
		t.Fatalf("expected hasDataChannel after promotion")
	}
	if c.DataChannel() != dc {
		t.Fatalf("DataChannel should return the promoted channel")
	}
}

func TestClientData_SendDetachReasonUnwiredIsNoop(t *testing.T) {
	c := newTestClientData(1)
	// Must not panic when no sender is wired (the unit-test construction
	// path, as opposed to acceptClient's wiring).
	c.SendDetachReason(DetachedByRequest)
}
