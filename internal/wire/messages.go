package wire

// DetachMode selects which attached clients a request::Detach targets.
type DetachMode uint8

const (
	// DetachLatest detaches only the session's most-recently-attached
	// client still present — which may or may not be the requester.
	DetachLatest DetachMode = iota
	DetachAll
)

// DetachedReason explains why notification::Detached was pushed to a
// client.
type DetachedReason uint8

const (
	DetachedByRequest DetachedReason = iota
	DetachedByExit
	DetachedByServerShutdown
)

// ClientIDRequest is request::ClientID. Carries no fields; its presence on
// the wire is the entire message.
type ClientIDRequest struct{}

// ClientIDResponse is response::ClientID.
type ClientIDResponse struct {
	ID    uint64 `cbor:"id"`
	Nonce uint64 `cbor:"nonce"`
}

// DataSocketRequest is request::DataSocket, sent as the first message on a
// client's second connection to bind it as that client's data channel.
type DataSocketRequest struct {
	ID    uint64 `cbor:"id"`
	Nonce uint64 `cbor:"nonce"`
}

// DataSocketResponse is response::DataSocket. Per §4.5 it is sent on the
// promoted channel on success, and on the requester's own (stillborn)
// channel on failure.
type DataSocketResponse struct {
	Success bool `cbor:"success"`
}

// SessionListRequest is request::SessionList. Empty.
type SessionListRequest struct{}

// SessionSummary is the wire shape of one entry of response::SessionList,
// and also backs the embedded session info of response::Attach.
type SessionSummary struct {
	Name        string `cbor:"name"`
	CreatedUnix int64  `cbor:"created_unix_time"`
}

// SessionListResponse is response::SessionList.
type SessionListResponse struct {
	Sessions []SessionSummary `cbor:"sessions"`
}

// SpawnOptions is the wire shape of spawn_opts, carried inside
// request::MakeSession.
type SpawnOptions struct {
	Program  string            `cbor:"program"`
	Args     []string          `cbor:"args"`
	SetEnv   map[string]string `cbor:"set_env"`
	UnsetEnv []string          `cbor:"unset_env"`
}

// MakeSessionRequest is request::MakeSession.
type MakeSessionRequest struct {
	Name      string       `cbor:"name"`
	SpawnOpts SpawnOptions `cbor:"spawn_opts"`
}

// MakeSessionResponse is response::MakeSession.
type MakeSessionResponse struct {
	Name    string `cbor:"name"`
	Success bool   `cbor:"success"`
}

// AttachRequest is request::Attach.
type AttachRequest struct {
	Name string `cbor:"name"`
}

// AttachResponse is response::Attach.
type AttachResponse struct {
	Success bool            `cbor:"success"`
	Session *SessionSummary `cbor:"session,omitempty"`
}

// DetachRequest is request::Detach.
type DetachRequest struct {
	Mode DetachMode `cbor:"mode"`
}

// DetachResponse is response::Detach. An empty ack.
type DetachResponse struct{}

// ConnectionNotification is notification::Connection, pushed once by the
// server right after a control channel is accepted.
type ConnectionNotification struct {
	Accepted bool   `cbor:"accepted"`
	Reason   string `cbor:"reason,omitempty"`
}

// DetachedNotification is notification::Detached, pushed to a client being
// forcibly detached from a session.
type DetachedNotification struct {
	Mode DetachedReason `cbor:"mode"`
}
