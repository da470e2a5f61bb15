package websocket

import (
	"encoding/json"
	"testing"

	"github.com/wricardo/lens-relay/relay/protocol"
	"github.com/wricardo/lens-relay/relay/session"
)

// newTestHub builds a hub whose connections are never upgraded; dispatch is
// driven directly and replies are read from each Conn's send queue.
func newTestHub(t *testing.T, opts ...session.Option) *Hub {
	t.Helper()
	return NewHub(session.NewManager(opts...), nil, nil, Options{})
}

func newTestConn(h *Hub) *Conn {
	return newConn(h, nil, 16)
}

func drain(t *testing.T, c *Conn) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return out
			}
			var m map[string]any
			if err := json.Unmarshal(data, &m); err != nil {
				t.Fatalf("Invalid frame %s: %v", data, err)
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func mustDispatch(h *Hub, c *Conn, msg any) {
	data, _ := json.Marshal(msg)
	h.dispatch(c, data)
}

func TestHandlersCoverInboundKinds(t *testing.T) {
	for _, k := range protocol.Inbound {
		if _, ok := handlers[k]; !ok {
			t.Errorf("No handler for %s", k)
		}
	}
	if len(handlers) != len(protocol.Inbound) {
		t.Errorf("Expected %d handlers, got %d", len(protocol.Inbound), len(handlers))
	}
}

func TestDispatch_MalformedAndUnknownIgnored(t *testing.T) {
	h := newTestHub(t)
	c := newTestConn(h)

	h.dispatch(c, []byte("not json"))
	h.dispatch(c, []byte(`{"type":"bogus"}`))
	h.dispatch(c, []byte(`{"noType":true}`))

	if msgs := drain(t, c); len(msgs) != 0 {
		t.Errorf("Expected no replies, got %v", msgs)
	}
	if c.role.Kind != Unclassified {
		t.Errorf("Expected connection to stay unclassified, got %s", c.role.Kind)
	}
}

func TestDispatch_SessionRequest(t *testing.T) {
	h := newTestHub(t)
	c := newTestConn(h)

	mustDispatch(h, c, map[string]any{"type": "session-request", "sessionKey": "abc", "hostConnectionId": "h1"})

	msgs := drain(t, c)
	if len(msgs) != 1 {
		t.Fatalf("Expected 1 reply, got %d", len(msgs))
	}
	if msgs[0]["type"] != "session-response" || msgs[0]["success"] != true {
		t.Errorf("Unexpected reply %v", msgs[0])
	}
	if code, _ := msgs[0]["displayCode"].(string); len(code) != 6 {
		t.Errorf("Expected 6-char display code, got %v", msgs[0]["displayCode"])
	}
	if c.role.Kind != HostRole || c.role.SessionKey != "abc" || c.role.HostConnID != "h1" {
		t.Errorf("Unexpected role %+v", c.role)
	}

	t.Run("second handshake rejected", func(t *testing.T) {
		mustDispatch(h, c, map[string]any{"type": "session-request", "sessionKey": "xyz", "hostConnectionId": "h1"})
		msgs := drain(t, c)
		if len(msgs) != 1 || msgs[0]["code"] != protocol.CodeWrongRole {
			t.Errorf("Expected wrong-role error, got %v", msgs)
		}
	})

	t.Run("duplicate key", func(t *testing.T) {
		other := newTestConn(h)
		mustDispatch(h, other, map[string]any{"type": "session-request", "sessionKey": "abc", "hostConnectionId": "h2"})
		msgs := drain(t, other)
		if len(msgs) != 1 || msgs[0]["code"] != protocol.CodeDuplicateSession {
			t.Errorf("Expected duplicate-session error, got %v", msgs)
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		other := newTestConn(h)
		mustDispatch(h, other, map[string]any{"type": "session-request", "sessionKey": "abc"})
		msgs := drain(t, other)
		if len(msgs) != 1 || msgs[0]["code"] != protocol.CodeBadRequest {
			t.Errorf("Expected bad-request error, got %v", msgs)
		}
	})
}

func TestDispatch_JoinRequestUnknownSession(t *testing.T) {
	h := newTestHub(t)
	c := newTestConn(h)

	mustDispatch(h, c, map[string]any{"type": "join-request", "sessionKey": "nope", "hostConnectionId": "h1"})

	msgs := drain(t, c)
	if len(msgs) != 1 || msgs[0]["type"] != "error" || msgs[0]["code"] != protocol.CodeSessionNotFound {
		t.Errorf("Expected session-not-found error, got %v", msgs)
	}
	if c.closed {
		t.Error("Host connection should stay open after a failed join")
	}
}

func TestDispatch_CodeAssignmentRequiresHost(t *testing.T) {
	h := newTestHub(t)
	c := newTestConn(h)

	mustDispatch(h, c, map[string]any{"type": "code-assignment", "sessionKey": "abc", "suffixChar": "A"})

	if msgs := drain(t, c); len(msgs) != 0 {
		t.Errorf("code-assignment never replies, got %v", msgs)
	}
	if h.sessions.Stats().Codes != 0 {
		t.Error("Non-host assignment must not register a code")
	}
}

func TestDispatch_CodeAssignmentFromFullCode(t *testing.T) {
	h := newTestHub(t)
	host := newTestConn(h)
	mustDispatch(h, host, map[string]any{"type": "session-request", "sessionKey": "abc", "hostConnectionId": "h1"})
	display := drain(t, host)[0]["displayCode"].(string)

	mustDispatch(h, host, map[string]any{
		"type":       "code-assignment",
		"sessionKey": "abc",
		"assignment": map[string]any{"hostConnectionId": "h1", "displayName": "Ana", "fullCode": display + "Q"},
	})

	info, err := h.sessions.Get(display)
	if err != nil {
		t.Fatalf("Session lookup failed: %v", err)
	}
	if _, ok := info.Code(display + "Q"); !ok {
		t.Errorf("Expected %sQ to be registered, got %+v", display, info.Codes)
	}
}

func TestDispatch_ConnectRequestInvalidClosesConnection(t *testing.T) {
	h := newTestHub(t)
	c := newTestConn(h)

	mustDispatch(h, c, map[string]any{"type": "connect-request", "fullCode": "ZZZZZZA"})

	msgs := drain(t, c)
	if len(msgs) != 1 || msgs[0]["code"] != protocol.CodeInvalidCode {
		t.Errorf("Expected invalid-code error, got %v", msgs)
	}
	if !c.closed {
		t.Error("Web connection should be closed after a failed connect-request")
	}
}

func TestDispatch_ConnectRequestAfterClassification(t *testing.T) {
	h := newTestHub(t)
	host := newTestConn(h)
	mustDispatch(h, host, map[string]any{"type": "session-request", "sessionKey": "abc", "hostConnectionId": "h1"})
	display := drain(t, host)[0]["displayCode"].(string)
	mustDispatch(h, host, map[string]any{"type": "code-assignment", "suffixChar": "A"})
	mustDispatch(h, host, map[string]any{"type": "code-assignment", "suffixChar": "B"})

	web := newTestConn(h)
	mustDispatch(h, web, map[string]any{"type": "connect-request", "fullCode": display + "A"})
	drain(t, web)
	drain(t, host)

	t.Run("web asks again", func(t *testing.T) {
		mustDispatch(h, web, map[string]any{"type": "connect-request", "fullCode": display + "B"})

		msgs := drain(t, web)
		if len(msgs) != 1 || msgs[0]["code"] != protocol.CodeAlreadyClaimed {
			t.Errorf("Expected already-claimed error, got %v", msgs)
		}
		if web.closed {
			t.Error("A web connection holding a code must stay open")
		}
		if web.role.FullCode != display+"A" {
			t.Errorf("Expected claim on %sA to be kept, got %s", display, web.role.FullCode)
		}
		if msgs := drain(t, host); len(msgs) != 0 {
			t.Errorf("Host should not be notified, got %v", msgs)
		}
	})

	t.Run("host asks", func(t *testing.T) {
		mustDispatch(h, host, map[string]any{"type": "connect-request", "fullCode": display + "B"})

		msgs := drain(t, host)
		if len(msgs) != 1 || msgs[0]["code"] != protocol.CodeWrongRole {
			t.Errorf("Expected wrong-role error, got %v", msgs)
		}
		if host.closed {
			t.Error("Host connection must stay open")
		}
	})
}

func TestDispatch_TelemetryFromUnclassifiedDropped(t *testing.T) {
	h := newTestHub(t)
	host := newTestConn(h)
	mustDispatch(h, host, map[string]any{"type": "session-request", "sessionKey": "abc", "hostConnectionId": "h1"})
	display := drain(t, host)[0]["displayCode"].(string)
	mustDispatch(h, host, map[string]any{"type": "code-assignment", "suffixChar": "A"})

	stranger := newTestConn(h)
	mustDispatch(h, stranger, map[string]any{"type": "telemetry", "fullCode": display + "A", "opennessValue": 0.5})

	if msgs := drain(t, host); len(msgs) != 0 {
		t.Errorf("Host should not receive telemetry from an unclassified connection, got %v", msgs)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	h := newTestHub(t)
	c := newTestConn(h)

	// Unclassified
	h.reconcile(c)

	mustDispatch(h, c, map[string]any{"type": "session-request", "sessionKey": "abc", "hostConnectionId": "h1"})
	drain(t, c)

	h.reconcile(c)
	h.reconcile(c)

	if h.sessions.Count() != 0 {
		t.Errorf("Expected session torn down, got %d", h.sessions.Count())
	}
}
