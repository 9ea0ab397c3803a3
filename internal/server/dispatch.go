package server

import (
	"monomux/internal/wire"
)

// handleClientID answers request::ClientID with the client's assigned ID
// and a freshly generated nonce (§4.5, §4.2).
func (s *Server) handleClientID(client *ClientData, body []byte) {
	if _, ok := wire.Decode[wire.ClientIDRequest](body); !ok {
		return
	}
	nonce := client.MakeNewNonce()
	s.send(client.ControlChannel(), wire.RspClientID, wire.ClientIDResponse{
		ID:    uint64(client.ID()),
		Nonce: uint64(nonce),
	})
}

// handleDataSocket implements the two-socket handshake's second half
// (§4.1 "Turnover"). client here is the candidate connection sending the
// request; req.ID/req.Nonce name the main client it wants to become the
// data channel of.
func (s *Server) handleDataSocket(client *ClientData, body []byte) {
	req, ok := wire.Decode[wire.DataSocketRequest](body)
	if !ok {
		return
	}

	fail := func() {
		s.send(client.ControlChannel(), wire.RspDataSocket, wire.DataSocketResponse{Success: false})
	}

	main := s.getClient(ClientID(req.ID))
	if main == nil {
		fail()
		return
	}
	if main.hasDataChannel() {
		fail()
		return
	}
	nonce, ok := main.ConsumeNonce()
	if !ok || nonce != Nonce(req.Nonce) {
		fail()
		return
	}

	s.turnClientIntoDataOf(main, client)
	// Success response goes out on the now-promoted channel, i.e. main's
	// data channel, per §4.5.
	s.send(main.DataChannel(), wire.RspDataSocket, wire.DataSocketResponse{Success: true})
}

// handleSessionList answers request::SessionList with every known session's
// name and creation time (§4.5, supplemented per E4).
func (s *Server) handleSessionList(client *ClientData, body []byte) {
	if _, ok := wire.Decode[wire.SessionListRequest](body); !ok {
		return
	}

	s.mu.Lock()
	summaries := make([]wire.SessionSummary, 0, len(s.sessions))
	for _, sess := range s.sessions {
		summaries = append(summaries, wire.SessionSummary{
			Name:        string(sess.Name()),
			CreatedUnix: sess.WhenCreated().Unix(),
		})
	}
	s.mu.Unlock()

	s.send(client.ControlChannel(), wire.RspSessionList, wire.SessionListResponse{Sessions: summaries})
}

// handleMakeSession spawns a new session under a PTY (§4.7) and registers
// it, or reports failure on a name collision or spawn error (§7 Semantic /
// Resource rows).
func (s *Server) handleMakeSession(client *ClientData, body []byte) {
	req, ok := wire.Decode[wire.MakeSessionRequest](body)
	if !ok {
		return
	}

	name := SessionName(req.Name)
	if name != "" && s.sessionExists(name) {
		s.send(client.ControlChannel(), wire.RspMakeSession, wire.MakeSessionResponse{
			Name: req.Name, Success: false,
		})
		return
	}
	if name == "" {
		name = s.generateSessionName()
	}

	opts := SpawnOptions{
		Program:   req.SpawnOpts.Program,
		Arguments: req.SpawnOpts.Args,
		SetEnv:    req.SpawnOpts.SetEnv,
		UnsetEnv:  req.SpawnOpts.UnsetEnv,
	}

	result, err := launchProcess(opts, string(name), s.SocketPath())
	if err != nil {
		s.log.Info("session spawn failed", "name", name, "error", err)
		s.send(client.ControlChannel(), wire.RspMakeSession, wire.MakeSessionResponse{
			Name: string(name), Success: false,
		})
		return
	}

	session := newSessionData(name, result.cmd, result.ptyMaster)
	s.createSession(session)

	s.send(client.ControlChannel(), wire.RspMakeSession, wire.MakeSessionResponse{
		Name: string(name), Success: true,
	})
}

// handleAttach attaches client to the named session (§4.1, §4.3).
func (s *Server) handleAttach(client *ClientData, body []byte) {
	req, ok := wire.Decode[wire.AttachRequest](body)
	if !ok {
		return
	}

	session := s.getSession(SessionName(req.Name))
	if session == nil || !client.hasDataChannel() {
		s.send(client.ControlChannel(), wire.RspAttach, wire.AttachResponse{Success: false})
		return
	}

	s.clientAttached(client, session)
	s.send(client.ControlChannel(), wire.RspAttach, wire.AttachResponse{
		Success: true,
		Session: &wire.SessionSummary{
			Name:        string(session.Name()),
			CreatedUnix: session.WhenCreated().Unix(),
		},
	})
}

// handleDetach implements request::Detach's two modes (§4.5, §9
// "Ambiguity" — Latest targets the session's latest-attached client
// unconditionally, even when that isn't the requester).
func (s *Server) handleDetach(client *ClientData, body []byte) {
	req, ok := wire.Decode[wire.DetachRequest](body)
	if !ok {
		return
	}

	name, attached := client.AttachedSession()
	if !attached {
		return
	}
	session := s.getSession(name)
	if session == nil {
		return
	}

	var toDetach []*ClientData
	switch req.Mode {
	case wire.DetachLatest:
		if latest, ok := session.LatestClient(); ok {
			toDetach = []*ClientData{latest}
		}
	case wire.DetachAll:
		toDetach = session.AttachedClients()
	}

	for _, c := range toDetach {
		c.SendDetachReason(DetachedByRequest)
		s.clientDetached(c, session)
	}

	s.send(client.ControlChannel(), wire.RspDetach, wire.DetachResponse{})
}
