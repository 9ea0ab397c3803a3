package client

import (
	"fmt"
	"io"
	"log/slog"
	"net"

	"monomux/internal/channel"
	"monomux/internal/wire"
)

// Connection is the client side of one logical MonoMux client: a control
// channel (always present) and, once the handshake completes, a promoted
// data channel (§4.1). Every exported method that sends a request blocks
// until the matching response frame arrives; notification::Detached can
// arrive at any other time and is delivered separately via Detached().
type Connection struct {
	sockPath string
	log      *slog.Logger

	ctrl *channel.Channel
	data *channel.Channel

	id    uint64
	nonce uint64

	responses chan ctrlFrame
	detached  chan wire.DetachedReason
}

type ctrlFrame struct {
	kind wire.Kind
	body []byte
}

// Dial opens the control connection, runs request::ClientID, opens a
// second connection and runs request::DataSocket against the ID/nonce the
// first returned, and returns a fully handshaken Connection.
func Dial(sockPath string, log *slog.Logger) (*Connection, error) {
	if log == nil {
		log = slog.Default()
	}
	c := &Connection{
		sockPath:  sockPath,
		log:       log,
		responses: make(chan ctrlFrame),
		detached:  make(chan wire.DetachedReason, 1),
	}

	ctrlConn, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("client: dialing control socket: %w", err)
	}
	c.ctrl = channel.New(ctrlConn, true)

	if err := c.expectConnectionAccepted(c.ctrl); err != nil {
		c.ctrl.Close()
		return nil, err
	}

	idRsp, err := c.requestClientID()
	if err != nil {
		c.ctrl.Close()
		return nil, err
	}
	c.id, c.nonce = idRsp.ID, idRsp.Nonce

	go c.readCtrlLoop()

	dataConn, err := net.Dial("unix", sockPath)
	if err != nil {
		return nil, fmt.Errorf("client: dialing data socket: %w", err)
	}
	dataCh := channel.New(dataConn, true)
	if err := c.expectConnectionAccepted(dataCh); err != nil {
		dataCh.Close()
		return nil, err
	}

	frame, err := wire.Encode(wire.ReqDataSocket, wire.DataSocketRequest{ID: c.id, Nonce: c.nonce})
	if err != nil {
		dataCh.Close()
		return nil, fmt.Errorf("client: encoding DataSocket request: %w", err)
	}
	if _, err := dataCh.Write(frame); err != nil {
		dataCh.Close()
		return nil, fmt.Errorf("client: sending DataSocket request: %w", err)
	}
	kind, body, err := wire.ReadFrame(dataCh)
	if err != nil {
		dataCh.Close()
		return nil, fmt.Errorf("client: reading DataSocket response: %w", err)
	}
	if kind != wire.RspDataSocket {
		dataCh.Close()
		return nil, fmt.Errorf("client: unexpected response kind %s to DataSocket request", kind)
	}
	rsp, ok := wire.Decode[wire.DataSocketResponse](body)
	if !ok || !rsp.Success {
		dataCh.Close()
		return nil, fmt.Errorf("client: server rejected data socket handshake")
	}

	c.data = dataCh
	return c, nil
}

// expectConnectionAccepted reads the server's immediate
// notification::Connection and returns an error if the server rejected the
// connection outright (§7 Resource errors, E4 supplemented feature).
func (c *Connection) expectConnectionAccepted(ch *channel.Channel) error {
	kind, body, err := wire.ReadFrame(ch)
	if err != nil {
		return fmt.Errorf("client: reading connection notification: %w", err)
	}
	if kind != wire.NotifyConnection {
		return fmt.Errorf("client: expected connection notification, got %s", kind)
	}
	note, ok := wire.Decode[wire.ConnectionNotification](body)
	if !ok {
		return fmt.Errorf("client: malformed connection notification")
	}
	if !note.Accepted {
		return fmt.Errorf("client: server rejected connection: %s", note.Reason)
	}
	return nil
}

func (c *Connection) requestClientID() (wire.ClientIDResponse, error) {
	frame, err := wire.Encode(wire.ReqClientID, wire.ClientIDRequest{})
	if err != nil {
		return wire.ClientIDResponse{}, err
	}
	if _, err := c.ctrl.Write(frame); err != nil {
		return wire.ClientIDResponse{}, fmt.Errorf("client: sending ClientID request: %w", err)
	}
	kind, body, err := wire.ReadFrame(c.ctrl)
	if err != nil {
		return wire.ClientIDResponse{}, fmt.Errorf("client: reading ClientID response: %w", err)
	}
	if kind != wire.RspClientID {
		return wire.ClientIDResponse{}, fmt.Errorf("client: unexpected response kind %s to ClientID request", kind)
	}
	rsp, ok := wire.Decode[wire.ClientIDResponse](body)
	if !ok {
		return wire.ClientIDResponse{}, fmt.Errorf("client: malformed ClientID response")
	}
	return rsp, nil
}

// readCtrlLoop is the control channel's single reader, started once
// request::ClientID has been answered. It routes notification::Detached to Detached() and
// everything else to whichever exported method is currently waiting on a
// response — safe because this client only ever has one request in flight
// on the control channel at a time.
func (c *Connection) readCtrlLoop() {
	defer close(c.responses)
	for {
		kind, body, err := wire.ReadFrame(c.ctrl)
		if err != nil {
			if err != io.EOF {
				c.log.Debug("control channel read failed", "error", err)
			}
			return
		}
		if kind == wire.NotifyDetached {
			note, ok := wire.Decode[wire.DetachedNotification](body)
			if ok {
				select {
				case c.detached <- note.Mode:
				default:
				}
			}
			continue
		}
		c.responses <- ctrlFrame{kind, body}
	}
}

// Detached delivers notification::Detached pushes (buffered one deep —
// sufficient since a detached client has nothing further to do but exit).
func (c *Connection) Detached() <-chan wire.DetachedReason { return c.detached }

func (c *Connection) request(kind wire.Kind, body any, wantKind wire.Kind) ([]byte, error) {
	frame, err := wire.Encode(kind, body)
	if err != nil {
		return nil, fmt.Errorf("client: encoding %s: %w", kind, err)
	}
	if _, err := c.ctrl.Write(frame); err != nil {
		return nil, fmt.Errorf("client: sending %s: %w", kind, err)
	}
	f, ok := <-c.responses
	if !ok {
		return nil, fmt.Errorf("client: control channel closed while awaiting %s", wantKind)
	}
	if f.kind != wantKind {
		return nil, fmt.Errorf("client: expected %s, got %s", wantKind, f.kind)
	}
	return f.body, nil
}

// ListSessions runs request::SessionList.
func (c *Connection) ListSessions() ([]wire.SessionSummary, error) {
	body, err := c.request(wire.ReqSessionList, wire.SessionListRequest{}, wire.RspSessionList)
	if err != nil {
		return nil, err
	}
	rsp, ok := wire.Decode[wire.SessionListResponse](body)
	if !ok {
		return nil, fmt.Errorf("client: malformed SessionList response")
	}
	return rsp.Sessions, nil
}

// MakeSession runs request::MakeSession.
func (c *Connection) MakeSession(name string, opts wire.SpawnOptions) (wire.MakeSessionResponse, error) {
	body, err := c.request(wire.ReqMakeSession, wire.MakeSessionRequest{Name: name, SpawnOpts: opts}, wire.RspMakeSession)
	if err != nil {
		return wire.MakeSessionResponse{}, err
	}
	rsp, ok := wire.Decode[wire.MakeSessionResponse](body)
	if !ok {
		return wire.MakeSessionResponse{}, fmt.Errorf("client: malformed MakeSession response")
	}
	return rsp, nil
}

// Attach runs request::Attach.
func (c *Connection) Attach(name string) (wire.AttachResponse, error) {
	body, err := c.request(wire.ReqAttach, wire.AttachRequest{Name: name}, wire.RspAttach)
	if err != nil {
		return wire.AttachResponse{}, err
	}
	rsp, ok := wire.Decode[wire.AttachResponse](body)
	if !ok {
		return wire.AttachResponse{}, fmt.Errorf("client: malformed Attach response")
	}
	return rsp, nil
}

// Detach runs request::Detach.
func (c *Connection) Detach(mode wire.DetachMode) error {
	_, err := c.request(wire.ReqDetach, wire.DetachRequest{Mode: mode}, wire.RspDetach)
	return err
}

// Close tears down both connections.
func (c *Connection) Close() error {
	if c.data != nil {
		c.data.Close()
	}
	return c.ctrl.Close()
}

// chanReader adapts a *channel.Channel's chunk-bounded Read(n) into the
// io.Reader shape io.Copy needs for PumpData.
type chanReader struct{ ch *channel.Channel }

func (r *chanReader) Read(p []byte) (int, error) {
	data, err := r.ch.Read(len(p))
	copy(p, data)
	return len(data), err
}

// PumpData relays raw bytes between term and the data channel until either
// direction hits EOF or fails — the client-side half of an attached
// session's lifetime, run after a successful Attach. It restores the
// terminal's original mode before returning regardless of which direction
// ended first.
func (c *Connection) PumpData(term UserTerminal) error {
	restore, err := term.EnterRawMode()
	if err != nil {
		return fmt.Errorf("client: entering raw mode: %w", err)
	}
	defer restore()

	stopResizeWatch := watchWindowResize(c.log)
	defer stopResizeWatch()

	errCh := make(chan error, 2)
	go func() {
		_, err := io.Copy(c.data, term.Reader())
		errCh <- err
	}()
	go func() {
		_, err := io.Copy(term.Writer(), &chanReader{ch: c.data})
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case reason := <-c.detached:
		c.log.Info("detached by server", "reason", reason)
		return nil
	}
}
