package wire

import "testing"

func TestKind_StringCoversEveryDefinedKind(t *testing.T) {
	kinds := []Kind{
		ReqClientID, RspClientID,
		ReqDataSocket, RspDataSocket,
		ReqSessionList, RspSessionList,
		ReqMakeSession, RspMakeSession,
		ReqAttach, RspAttach,
		ReqDetach, RspDetach,
		NotifyConnection, NotifyDetached,
	}
	for _, k := range kinds {
		if k.String() == "unknown" {
			t.Fatalf("kind %d has no String() case", k)
		}
	}
}

func TestKind_StringUnknownValue(t *testing.T) {
	if got := Kind(9999).String(); got != "unknown" {
		t.Fatalf("expected \"unknown\", got %q", got)
	}
}
