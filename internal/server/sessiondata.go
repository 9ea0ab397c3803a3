package server

import (
	"os"
	"os/exec"
	"sync"
	"time"
)

// SessionName is a non-empty string naming a session (§3). An empty name
// passed to MakeSession causes the server to assign the smallest positive
// integer name not currently taken.
type SessionName string

// SessionData is per-running-session state (§4.3). It is created in
// response to a successful MakeSession request and destroyed only when its
// child process exits — never when its last client detaches. That asymmetry
// is the system's defining property (§3).
type SessionData struct {
	mu sync.Mutex

	name      SessionName
	createdAt time.Time

	cmd       *exec.Cmd
	ptyMaster *os.File

	// attachments is insertion-ordered with no duplicates (§3 invariant).
	// LatestClient() reads its tail.
	attachments []ClientID
	byID        map[ClientID]*ClientData
}

func newSessionData(name SessionName, cmd *exec.Cmd, ptyMaster *os.File) *SessionData {
	return &SessionData{
		name:      name,
		createdAt: time.Now(),
		cmd:       cmd,
		ptyMaster: ptyMaster,
		byID:      make(map[ClientID]*ClientData),
	}
}

// Name returns the session's name.
func (s *SessionData) Name() SessionName { return s.name }

// WhenCreated returns the session's creation timestamp.
func (s *SessionData) WhenCreated() time.Time { return s.createdAt }

// PTYMaster returns the PTY master end the session's child is attached to.
// Owned by the SessionData for the session's lifetime.
func (s *SessionData) PTYMaster() *os.File { return s.ptyMaster }

// Pid returns the child process's PID.
func (s *SessionData) Pid() int {
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// AttachedClients returns the currently attached clients, in attachment
// order.
func (s *SessionData) AttachedClients() []*ClientData {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ClientData, 0, len(s.attachments))
	for _, id := range s.attachments {
		out = append(out, s.byID[id])
	}
	return out
}

// LatestClient returns the most recently attached client still present, or
// false if none are attached. When that client detaches, the next-most-
// recent becomes latest automatically, since it is simply the new tail.
func (s *SessionData) LatestClient() (*ClientData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.attachments) == 0 {
		return nil, false
	}
	last := s.attachments[len(s.attachments)-1]
	return s.byID[last], true
}

// Attach adds client to the attachment list, if not already present.
func (s *SessionData) Attach(client *ClientData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[client.ID()]; ok {
		return
	}
	s.attachments = append(s.attachments, client.ID())
	s.byID[client.ID()] = client
}

// Detach removes client from the attachment list.
func (s *SessionData) Detach(client *ClientData) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[client.ID()]; !ok {
		return
	}
	delete(s.byID, client.ID())
	for i, id := range s.attachments {
		if id == client.ID() {
			s.attachments = append(s.attachments[:i], s.attachments[i+1:]...)
			break
		}
	}
}
