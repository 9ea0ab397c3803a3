package server

import (
	"crypto/rand"
	"encoding/binary"
	"sync"

	"monomux/internal/channel"
)

// ClientID is the opaque unique integer the server assigns a client at
// first contact (§3). Stable for the client record's lifetime.
type ClientID uint64

// Nonce is the one-shot token §3 describes: valid until its first
// consumption, which either binds a second connection as the client's data
// channel or invalidates it.
type Nonce uint64

// ClientData is per-connected-client state (§4.2). A ClientData lives in
// the server's client table from acceptance until it is removed on
// disconnect.
type ClientData struct {
	mu sync.Mutex

	id   ClientID
	ctrl *channel.Channel
	data *channel.Channel // nil until the data-socket handshake promotes one

	pendingNonce *Nonce
	attached     SessionName // "" when not attached

	// sendDetached, if set, receives a pushed notification::Detached
	// before the ClientData is torn down; the server wires this to a
	// function that frames and writes to ctrl. It is a field rather than a
	// direct Channel write so tests can construct a ClientData without a
	// live connection.
	sendDetached func(DetachedReason)
}

// DetachedReason mirrors wire.DetachedReason without importing wire into
// this lower-level type; server.go translates at the edge.
type DetachedReason uint8

const (
	DetachedByRequest DetachedReason = iota
	DetachedByExit
	DetachedByServerShutdown
)

// newClientData registers ctrl as a brand new client's control channel.
func newClientData(id ClientID, ctrl *channel.Channel) *ClientData {
	return &ClientData{id: id, ctrl: ctrl}
}

// ID returns the client's assigned identity.
func (c *ClientData) ID() ClientID { return c.id }

// ControlChannel returns the client's control channel. Always non-nil.
func (c *ClientData) ControlChannel() *channel.Channel { return c.ctrl }

// DataChannel returns the client's data channel, or nil if the data-socket
// handshake hasn't happened yet.
func (c *ClientData) DataChannel() *channel.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data
}

// MakeNewNonce generates a fresh nonce for this client, overwriting any
// prior pending one (§4.2). Any uniformly distributed non-zero 64-bit
// integer is sufficient; collision across clients is acceptable since
// a nonce is only ever checked against the specific client it names.
func (c *ClientData) MakeNewNonce() Nonce {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := randomNonzeroUint64()
	nonce := Nonce(n)
	c.pendingNonce = &nonce
	return nonce
}

// ConsumeNonce returns and clears the pending nonce, so a second
// consumption always reports absent (§8 invariant 3).
func (c *ClientData) ConsumeNonce() (Nonce, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingNonce == nil {
		return 0, false
	}
	n := *c.pendingNonce
	c.pendingNonce = nil
	return n, true
}

// AttachedSession returns the name of the session this client is attached
// to, if any.
func (c *ClientData) AttachedSession() (SessionName, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attached == "" {
		return "", false
	}
	return c.attached, true
}

func (c *ClientData) setAttached(name SessionName) {
	c.mu.Lock()
	c.attached = name
	c.mu.Unlock()
}

func (c *ClientData) clearAttached() {
	c.mu.Lock()
	c.attached = ""
	c.mu.Unlock()
}

// hasDataChannel reports whether the data-socket handshake has completed.
// A client without a data channel cannot appear in any session's
// attachments (§3 invariant 4) — callers check this before attaching.
func (c *ClientData) hasDataChannel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data != nil
}

// promoteDataChannel installs ch as this client's data channel. Called
// exactly once, by the server's turnClientIntoDataOf.
func (c *ClientData) promoteDataChannel(ch *channel.Channel) {
	c.mu.Lock()
	c.data = ch
	c.mu.Unlock()
}

// SendDetachReason pushes notification::Detached to the client, if a
// sender was wired (it always is outside of unit tests that construct a
// bare ClientData).
func (c *ClientData) SendDetachReason(reason DetachedReason) {
	if c.sendDetached != nil {
		c.sendDetached(reason)
	}
}

func randomNonzeroUint64() uint64 {
	for {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			// crypto/rand reading from the OS CSPRNG failing is not a
			// condition this server can meaningfully recover from.
			panic("server: crypto/rand unavailable: " + err.Error())
		}
		v := binary.BigEndian.Uint64(buf[:])
		if v != 0 {
			return v
		}
	}
}
