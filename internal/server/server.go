// Package server implements MonoMux's server core (§4.1–§4.7): the
// listening-socket accept path, the client and session tables, attach/detach
// mediation, and the byte-relay between a session's PTY and its attached
// clients' data channels.
//
// The original design is a single-threaded cooperative event loop over a
// descriptor-readiness primitive; this rework instead runs one goroutine per
// connection and one per session's PTY reader, with the client and session
// tables guarded by a single mutex — idiomatic Go's answer to "no shared
// mutable state crosses threads uncontrolled" is a lock, not a poller. The
// ordering guarantees in §5 (per-channel message order, PTY reads delivered
// to all attached clients before the next PTY read) fall out naturally: each
// connection's goroutine processes its own channel serially, and the
// session's single PTY-reading goroutine broadcasts before looping.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"syscall"

	"monomux/internal/channel"
	"monomux/internal/wire"
)

// Server owns the accept loop, client table, session table, and dispatch
// table (§3 "Server state").
type Server struct {
	log *slog.Logger

	listener net.Listener

	mu       sync.Mutex
	clients  map[ClientID]*ClientData
	sessions map[SessionName]*SessionData
	nextID   ClientID

	dispatch map[wire.Kind]handlerFunc

	socketPath string

	shutdownOnce sync.Once
	done         chan struct{}
	wg           sync.WaitGroup
}

// handlerFunc is the dispatch table's entry shape (§4.6): a handler bound
// to the Server, given the requesting client and the still-encoded message
// body.
type handlerFunc func(s *Server, client *ClientData, body []byte)

// New constructs a Server around an already-listening socket. socketPath is
// the absolute filesystem path of that socket, injected into spawned
// sessions' environment (§6).
func New(listener net.Listener, socketPath string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		log:        log,
		listener:   listener,
		clients:    make(map[ClientID]*ClientData),
		sessions:   make(map[SessionName]*SessionData),
		socketPath: socketPath,
		done:       make(chan struct{}),
	}
	s.setUpDispatch()
	return s
}

// setUpDispatch builds the kind→handler map once, at construction, per
// §4.6 and §9's "registered once, looked up many" requirement.
func (s *Server) setUpDispatch() {
	s.dispatch = map[wire.Kind]handlerFunc{
		wire.ReqClientID:    (*Server).handleClientID,
		wire.ReqDataSocket:  (*Server).handleDataSocket,
		wire.ReqSessionList: (*Server).handleSessionList,
		wire.ReqMakeSession: (*Server).handleMakeSession,
		wire.ReqAttach:      (*Server).handleAttach,
		wire.ReqDetach:      (*Server).handleDetach,
	}
}

// Run blocks, accepting connections until Shutdown is called or the
// listener fails.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				s.wg.Wait()
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Shutdown is idempotent: it closes the listening socket, notifies every
// connected client of the impending shutdown, closes every client's
// channels and hangs up every session's process group, so that the
// connection and PTY goroutines end and Run returns once they have drained
// (§4.1, §7 Fatal row). Shutdown itself does not wait.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.done)
		s.listener.Close()

		s.mu.Lock()
		clients := make([]*ClientData, 0, len(s.clients))
		for _, c := range s.clients {
			clients = append(clients, c)
		}
		sessions := make([]*SessionData, 0, len(s.sessions))
		for _, sess := range s.sessions {
			sessions = append(sessions, sess)
		}
		s.mu.Unlock()

		for _, c := range clients {
			c.SendDetachReason(DetachedByServerShutdown)
			if dc := c.DataChannel(); dc != nil {
				dc.Close()
			}
			c.ControlChannel().Close()
		}
		for _, sess := range sessions {
			_ = signalProcessGroup(sess.Pid(), syscall.SIGHUP)
		}
	})
}

// handleConnection drives one accepted connection for as long as it is a
// standalone ClientData: reading framed control messages and dispatching
// them, until either the connection is promoted into another client's data
// channel (and this goroutine returns, leaving the channel to the
// relayClientData goroutine that turnClientIntoDataOf starts) or it
// fails/EOFs (and this goroutine tears the ClientData down).
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	ch := channel.New(conn, true)
	client := s.acceptClient(ch)
	s.sendConnectionNotification(client, true, "")

	for {
		kind, body, err := wire.ReadFrame(ch)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("control channel read failed", "client", client.ID(), "error", err)
			}
			s.exitClient(client)
			return
		}

		handler, ok := s.dispatch[kind]
		if !ok {
			s.log.Debug("unknown message kind", "client", client.ID(), "kind", kind)
			continue
		}
		handler(s, client, body)

		// A successful request::DataSocket deletes this very ClientData
		// (it was the "candidate") and moves its channel under the main
		// client. Detect that by checking whether we're still registered.
		if !s.clientExists(client.ID()) {
			return
		}
	}
}

// relayClientData is spawned once a client's data channel is promoted. It
// reads raw opaque bytes (never framed, never interpreted, §1) and forwards
// them to whatever session the client is attached to at the time each chunk
// arrives.
func (s *Server) relayClientData(client *ClientData) {
	defer s.wg.Done()

	ch := client.DataChannel()
	for {
		buf, err := ch.Read(channel.ChunkSize)
		if len(buf) > 0 {
			if name, ok := client.AttachedSession(); ok {
				if sess := s.getSession(name); sess != nil {
					if _, werr := sess.PTYMaster().Write(buf); werr != nil {
						s.log.Debug("write to pty failed", "session", name, "error", werr)
					}
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("data channel read failed", "client", client.ID(), "error", err)
			}
			s.exitClient(client)
			return
		}
	}
}

// acceptClient assigns the next ClientID and registers a new ClientData
// whose control channel is ch.
func (s *Server) acceptClient(ch *channel.Channel) *ClientData {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	client := newClientData(id, ch)
	client.sendDetached = func(reason DetachedReason) {
		s.sendDetachedNotification(client, reason)
	}
	s.clients[id] = client
	s.mu.Unlock()

	s.log.Info("client connected", "client", id)
	return client
}

func (s *Server) clientExists(id ClientID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.clients[id]
	return ok
}

func (s *Server) getClient(id ClientID) *ClientData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[id]
}

func (s *Server) getSession(name SessionName) *SessionData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[name]
}

// exitClient tears a ClientData down: detaches it from any session and
// removes it from the client table. Implicit detachment on destruction is
// the invariant §3 names for ClientData's lifecycle.
func (s *Server) exitClient(client *ClientData) {
	s.mu.Lock()
	_, existed := s.clients[client.ID()]
	delete(s.clients, client.ID())
	s.mu.Unlock()
	if !existed {
		return
	}

	if name, ok := client.AttachedSession(); ok {
		if sess := s.getSession(name); sess != nil {
			s.clientDetached(client, sess)
		}
	}
	if dc := client.DataChannel(); dc != nil {
		dc.Close()
	}
	client.ControlChannel().Close()
	s.log.Info("client disconnected", "client", client.ID())
}

// turnClientIntoDataOf transfers candidate's channel into main.data and
// removes candidate from the client table without firing its exit handler
// (§4.1 "Turnover").
func (s *Server) turnClientIntoDataOf(main, candidate *ClientData) {
	main.promoteDataChannel(candidate.ControlChannel())

	s.mu.Lock()
	delete(s.clients, candidate.ID())
	s.mu.Unlock()

	s.wg.Add(1)
	go s.relayClientData(main)
}

// clientAttached binds client to session in both directions (§4.1
// callback).
func (s *Server) clientAttached(client *ClientData, session *SessionData) {
	client.setAttached(session.Name())
	session.Attach(client)
	s.log.Debug("client attached", "client", client.ID(), "session", session.Name())
}

// clientDetached unbinds client from session in both directions, but only
// if client is actually attached to that specific session (mirrors the
// original's defensive check in clientDetachedCallback).
func (s *Server) clientDetached(client *ClientData, session *SessionData) {
	if name, ok := client.AttachedSession(); !ok || name != session.Name() {
		return
	}
	client.clearAttached()
	session.Detach(client)
	s.log.Debug("client detached", "client", client.ID(), "session", session.Name())
}

// createSession registers a freshly spawned session and starts its PTY
// reader goroutine.
func (s *Server) createSession(session *SessionData) {
	s.mu.Lock()
	s.sessions[session.Name()] = session
	s.mu.Unlock()

	s.wg.Add(1)
	go s.pumpSessionOutput(session)
	s.log.Info("session created", "session", session.Name(), "pid", session.Pid())
}

// pumpSessionOutput reads a session's PTY master and broadcasts each chunk
// to every currently attached client before attempting the next read (§5
// ordering guarantee). It exits, and destroys the session, when the PTY
// read fails — which happens once the child has exited and closed its
// slave end. This stands in for SIGCHLD-driven teardown with a simpler
// "the read told us" signal, which is equivalent for a PTY whose only
// reader-side peer is the child itself.
func (s *Server) pumpSessionOutput(session *SessionData) {
	defer s.wg.Done()

	buf := make([]byte, channel.ChunkSize)
	for {
		n, err := session.PTYMaster().Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			for _, c := range session.AttachedClients() {
				if dc := c.DataChannel(); dc != nil {
					if _, werr := dc.Write(chunk); werr != nil {
						s.log.Debug("write to client data channel failed", "client", c.ID(), "error", werr)
					}
				}
			}
		}
		if err != nil {
			s.destroySession(session)
			return
		}
	}
}

// destroySession notifies every attached client (reason Exit), clears their
// attachment, and removes the session from the table (§3 SessionData
// lifecycle).
func (s *Server) destroySession(session *SessionData) {
	for _, c := range session.AttachedClients() {
		c.SendDetachReason(DetachedByExit)
		s.clientDetached(c, session)
	}

	s.mu.Lock()
	delete(s.sessions, session.Name())
	s.mu.Unlock()

	if session.cmd != nil && session.cmd.Process != nil {
		session.cmd.Wait() //nolint: reap; exit status isn't surfaced over the wire by this protocol
	}
	_ = signalProcessGroup(session.Pid(), syscall.SIGHUP)
	session.PTYMaster().Close()

	s.log.Info("session destroyed", "session", session.Name())
}

// generateSessionName returns the smallest positive integer name not
// currently taken, for MakeSession requests with an empty name (§3).
func (s *Server) generateSessionName() SessionName {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 1
	for {
		candidate := SessionName(fmt.Sprintf("%d", n))
		if _, taken := s.sessions[candidate]; !taken {
			return candidate
		}
		n++
	}
}

func (s *Server) sessionExists(name SessionName) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[name]
	return ok
}

// SocketPath returns the absolute path of the listening socket, injected
// into spawned sessions' environment.
func (s *Server) SocketPath() string { return s.socketPath }

// send frames body as kind and writes it to ch, logging (never panicking)
// on encode or write failure — a response that can't be delivered means the
// peer's channel has already failed, which its own read loop will discover
// and tear down independently.
func (s *Server) send(ch *channel.Channel, kind wire.Kind, body any) {
	frame, err := wire.Encode(kind, body)
	if err != nil {
		s.log.Error("encoding response failed", "kind", kind, "error", err)
		return
	}
	if _, err := ch.Write(frame); err != nil {
		s.log.Debug("writing response failed", "kind", kind, "error", err)
	}
}

func (s *Server) sendConnectionNotification(client *ClientData, accepted bool, reason string) {
	s.send(client.ControlChannel(), wire.NotifyConnection, wire.ConnectionNotification{
		Accepted: accepted,
		Reason:   reason,
	})
}

func (s *Server) sendDetachedNotification(client *ClientData, reason DetachedReason) {
	s.send(client.ControlChannel(), wire.NotifyDetached, wire.DetachedNotification{
		Mode: translateDetachedReason(reason),
	})
}

func translateDetachedReason(r DetachedReason) wire.DetachedReason {
	switch r {
	case DetachedByExit:
		return wire.DetachedByExit
	case DetachedByServerShutdown:
		return wire.DetachedByServerShutdown
	default:
		return wire.DetachedByRequest
	}
}
