package protocol

import (
	"encoding/json"
	"testing"
)

func rawArgs(t *testing.T, args ...string) []json.RawMessage {
	t.Helper()
	out := make([]json.RawMessage, len(args))
	for i, a := range args {
		out[i] = json.RawMessage(a)
	}
	return out
}

func TestParseEvent_SessionWithUser(t *testing.T) {
	ev := ParseEvent(EventSession, rawArgs(t, `{"sessionId":"s1","userId":"u1"}`))
	se, ok := ev.(SessionEvent)
	if !ok {
		t.Fatalf("got %T, want SessionEvent", ev)
	}
	if se.UserID != "u1" || se.SessionID != "s1" {
		t.Errorf("session event = %+v", se)
	}
}

func TestParseEvent_SessionGuest(t *testing.T) {
	ev := ParseEvent(EventSession, rawArgs(t, `{"sessionId":"s1"}`))
	se, ok := ev.(SessionEvent)
	if !ok {
		t.Fatalf("got %T, want SessionEvent", ev)
	}
	if se.UserID != "" {
		t.Errorf("guest session should have empty user id, got %q", se.UserID)
	}
}

func TestParseEvent_UserActivity(t *testing.T) {
	ev := ParseEvent(EventUserActivity, rawArgs(t, `"u1"`, `{"active":false}`))
	ua, ok := ev.(UserActivityEvent)
	if !ok {
		t.Fatalf("got %T, want UserActivityEvent", ev)
	}
	if ua.UserID != "u1" || ua.Active {
		t.Errorf("activity = %+v", ua)
	}

	// No activity data defaults to active.
	ev = ParseEvent(EventUserActivity, rawArgs(t, `"u2"`))
	if ua := ev.(UserActivityEvent); !ua.Active {
		t.Error("activity without data should default active")
	}
}

func TestParseEvent_UserDisconnectedShapes(t *testing.T) {
	for _, arg := range []string{`"u1"`, `{"userId":"u1"}`} {
		ev := ParseEvent(EventUserDisconnected, rawArgs(t, arg))
		ud, ok := ev.(UserDisconnectedEvent)
		if !ok {
			t.Fatalf("arg %s: got %T", arg, ev)
		}
		if ud.UserID != "u1" {
			t.Errorf("arg %s: user id = %q", arg, ud.UserID)
		}
	}
}

func TestParseEvent_Progress(t *testing.T) {
	ev := ParseEvent(EventProgress, rawArgs(t, `{"action":"launchWorld","step":"complete","pct":100,"id":"w1"}`))
	pe, ok := ev.(ProgressEvent)
	if !ok {
		t.Fatalf("got %T, want ProgressEvent", ev)
	}
	if pe.Action != ProgressLaunchWorld || pe.Pct != 100 || pe.ID != "w1" {
		t.Errorf("progress = %+v", pe)
	}
}

func TestParseEvent_InitAliasesReady(t *testing.T) {
	payload := `{"users":[{"_id":"u1","name":"Gamemaster"}],"activeUsers":["u1"]}`
	for _, name := range []string{EventReady, EventInit} {
		ev := ParseEvent(name, rawArgs(t, payload))
		re, ok := ev.(ReadyEvent)
		if !ok {
			t.Fatalf("%s: got %T, want ReadyEvent", name, ev)
		}
		if len(re.Users) != 1 || re.Users[0].ID != "u1" {
			t.Errorf("%s: users = %+v", name, re.Users)
		}
	}
}

func TestParseEvent_TransportEvents(t *testing.T) {
	if _, ok := ParseEvent(EventConnect, nil).(ConnectedEvent); !ok {
		t.Errorf("connect: got %T, want ConnectedEvent", ParseEvent(EventConnect, nil))
	}

	if de, ok := ParseEvent(EventDisconnect, nil).(DisconnectedEvent); !ok || de.Reason != "" {
		t.Errorf("bare disconnect: got %T %+v", de, de)
	}
	if de, ok := ParseEvent(EventDisconnect, rawArgs(t, `"transport close"`)).(DisconnectedEvent); !ok || de.Reason != "transport close" {
		t.Errorf("disconnect with reason: got %+v ok=%v", de, ok)
	}

	// connect_error arrives as a bare string or a {message} object depending
	// on where in the connect it failed.
	if ce, ok := ParseEvent(EventConnectError, rawArgs(t, `"session invalid"`)).(ConnectErrorEvent); !ok || ce.Message != "session invalid" {
		t.Errorf("string connect_error: got %+v ok=%v", ce, ok)
	}
	if ce, ok := ParseEvent(EventConnectError, rawArgs(t, `{"message":"session invalid"}`)).(ConnectErrorEvent); !ok || ce.Message != "session invalid" {
		t.Errorf("object connect_error: got %+v ok=%v", ce, ok)
	}

	if ra, ok := ParseEvent(EventReconnectAttempt, rawArgs(t, `3`)).(ReconnectAttemptEvent); !ok || ra.Attempt != 3 {
		t.Errorf("reconnect_attempt: got %+v ok=%v", ra, ok)
	}
}

func TestParseEvent_Unknown(t *testing.T) {
	ev := ParseEvent("modifyEmbeddedDocument", rawArgs(t, `{}`))
	ue, ok := ev.(UnknownEvent)
	if !ok {
		t.Fatalf("got %T, want UnknownEvent", ev)
	}
	if ue.Name != "modifyEmbeddedDocument" {
		t.Errorf("name = %q", ue.Name)
	}
}

func TestParseEvent_MalformedPayloadFallsBack(t *testing.T) {
	ev := ParseEvent(EventProgress, rawArgs(t, `"not an object"`))
	if _, ok := ev.(UnknownEvent); !ok {
		t.Errorf("malformed progress should fall back to UnknownEvent, got %T", ev)
	}
}

func TestParentRefUUID(t *testing.T) {
	ref := ParentRef{Type: DocActor, ID: "abc123"}
	if got := ref.UUID(); got != "Actor.abc123" {
		t.Errorf("uuid = %q, want Actor.abc123", got)
	}
}

func TestResponseError(t *testing.T) {
	if got := ResponseError(json.RawMessage(`{"error":"boom"}`)); got != "boom" {
		t.Errorf("error = %q, want boom", got)
	}
	if got := ResponseError(json.RawMessage(`{"result":[]}`)); got != "" {
		t.Errorf("error = %q, want empty", got)
	}
	if got := ResponseError(nil); got != "" {
		t.Errorf("error on nil = %q, want empty", got)
	}
}
