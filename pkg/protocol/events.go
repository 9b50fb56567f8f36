package protocol

import "encoding/json"

// Server-pushed event names. The upstream has no canonical "state" event;
// session state is inferred from the union of these.
const (
	EventSession          = "session"
	EventUserActivity     = "userActivity"
	EventUserConnected    = "userConnected"
	EventUserDisconnected = "userDisconnected"
	EventProgress         = "progress"
	EventReady            = "ready"
	EventInit             = "init"
	EventShutdown         = "shutdown"
	EventSetup            = "setup"
)

// Transport-level pseudo-events, synthesized by the socket layer so every
// state change flows through one dispatch path.
const (
	EventConnect          = "connect"
	EventDisconnect       = "disconnect"
	EventConnectError     = "connect_error"
	EventReconnectAttempt = "reconnect_attempt"
)

// Progress actions observed on the "progress" event stream.
const (
	ProgressLaunchWorld = "launchWorld"
	ProgressComplete    = "complete"
)

// Event is one parsed inbound server event. Exactly one well-known variant,
// or Unknown for names the bridge does not handle, so unhandled server
// traffic stays observable instead of being silently dropped.
type Event interface {
	eventName() string
}

// SessionEvent announces the server's view of the socket's session. A
// missing UserID means the session is (or has been demoted to) a guest.
type SessionEvent struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// UserActivityEvent is the periodic per-user activity broadcast.
type UserActivityEvent struct {
	UserID string
	Active bool
}

// UserConnectedEvent announces another user joining the world.
type UserConnectedEvent struct {
	User UserPayload
}

// UserDisconnectedEvent announces a user leaving. When it names the local
// user it is the server confirming a kick.
type UserDisconnectedEvent struct {
	UserID string
}

// ProgressEvent reports world-launch progress.
type ProgressEvent struct {
	Action string `json:"action"`
	Step   string `json:"step"`
	Pct    int    `json:"pct"`
	ID     string `json:"id"`
}

// ReadyEvent is the world-ready payload (sent as "ready" or "init"
// depending on server version). Carries the authoritative user list.
type ReadyEvent struct {
	Users       []UserPayload `json:"users"`
	ActiveUsers []string      `json:"activeUsers"`
	World       struct {
		Title string `json:"title"`
	} `json:"world"`
	System struct {
		ID      string `json:"id"`
		Title   string `json:"title"`
		Version string `json:"version"`
	} `json:"system"`
}

// ShutdownEvent announces the world going away.
type ShutdownEvent struct{}

// SetupEvent arriving on a game connection means the client landed on the
// wrong endpoint (a setup screen, not a world).
type SetupEvent struct{}

// UnknownEvent preserves events the bridge has no reducer for.
type UnknownEvent struct {
	Name string
	Raw  []json.RawMessage
}

// ConnectedEvent is synthesized by the socket layer when the transport opens.
type ConnectedEvent struct{}

// DisconnectedEvent is synthesized when the transport drops. It never implies
// anything about the logical session.
type DisconnectedEvent struct {
	Reason string
}

// ConnectErrorEvent is synthesized when the Socket.IO connect is refused.
type ConnectErrorEvent struct {
	Message string
}

// ReconnectAttemptEvent is synthesized before each automatic reconnect
// attempt. Attempt counts from 1.
type ReconnectAttemptEvent struct {
	Attempt int
}

// UserPayload is the wire shape of a user record.
type UserPayload struct {
	ID          string `json:"_id"`
	Name        string `json:"name"`
	Role        int    `json:"role"`
	Active      bool   `json:"active"`
	Color       string `json:"color"`
	CharacterID string `json:"character"`
}

func (SessionEvent) eventName() string          { return EventSession }
func (UserActivityEvent) eventName() string     { return EventUserActivity }
func (UserConnectedEvent) eventName() string    { return EventUserConnected }
func (UserDisconnectedEvent) eventName() string { return EventUserDisconnected }
func (ProgressEvent) eventName() string         { return EventProgress }
func (ReadyEvent) eventName() string            { return EventReady }
func (ShutdownEvent) eventName() string         { return EventShutdown }
func (SetupEvent) eventName() string            { return EventSetup }
func (e UnknownEvent) eventName() string        { return e.Name }
func (ConnectedEvent) eventName() string        { return EventConnect }
func (DisconnectedEvent) eventName() string     { return EventDisconnect }
func (ConnectErrorEvent) eventName() string     { return EventConnectError }
func (ReconnectAttemptEvent) eventName() string { return EventReconnectAttempt }

// EventName returns the wire name of a parsed event.
func EventName(ev Event) string { return ev.eventName() }

// ParseEvent maps a decoded wire event onto its typed variant. Payloads that
// fail to decode fall back to UnknownEvent rather than erroring: the server's
// payload shapes have drifted across versions and a malformed argument must
// not take down the dispatch loop.
func ParseEvent(name string, args []json.RawMessage) Event {
	first := func() json.RawMessage {
		if len(args) > 0 {
			return args[0]
		}
		return nil
	}

	switch name {
	case EventSession:
		var ev SessionEvent
		if raw := first(); raw != nil && json.Unmarshal(raw, &ev) == nil {
			return ev
		}
	case EventUserActivity:
		// Wire shape: ["userActivity", userId, {...activityData}]
		var ev UserActivityEvent
		if raw := first(); raw != nil && json.Unmarshal(raw, &ev.UserID) == nil {
			ev.Active = true
			if len(args) > 1 {
				var data struct {
					Active *bool `json:"active"`
				}
				if json.Unmarshal(args[1], &data) == nil && data.Active != nil {
					ev.Active = *data.Active
				}
			}
			return ev
		}
	case EventUserConnected:
		var ev UserConnectedEvent
		if raw := first(); raw != nil && json.Unmarshal(raw, &ev.User) == nil && ev.User.ID != "" {
			return ev
		}
	case EventUserDisconnected:
		var ev UserDisconnectedEvent
		if raw := first(); raw != nil && json.Unmarshal(raw, &ev.UserID) == nil && ev.UserID != "" {
			return ev
		}
		// Some server versions send {userId: "..."} instead of a bare id.
		var obj struct {
			UserID string `json:"userId"`
		}
		if raw := first(); raw != nil && json.Unmarshal(raw, &obj) == nil && obj.UserID != "" {
			return UserDisconnectedEvent{UserID: obj.UserID}
		}
	case EventProgress:
		var ev ProgressEvent
		if raw := first(); raw != nil && json.Unmarshal(raw, &ev) == nil {
			return ev
		}
	case EventReady, EventInit:
		var ev ReadyEvent
		if raw := first(); raw == nil || json.Unmarshal(raw, &ev) == nil {
			return ev
		}
	case EventShutdown:
		return ShutdownEvent{}
	case EventSetup:
		return SetupEvent{}
	case EventConnect:
		return ConnectedEvent{}
	case EventDisconnect:
		var ev DisconnectedEvent
		if raw := first(); raw != nil {
			json.Unmarshal(raw, &ev.Reason)
		}
		return ev
	case EventConnectError:
		// The payload is either a bare string or {message: "..."}.
		var ev ConnectErrorEvent
		if raw := first(); raw != nil {
			if json.Unmarshal(raw, &ev.Message) != nil {
				var obj struct {
					Message string `json:"message"`
				}
				if json.Unmarshal(raw, &obj) == nil {
					ev.Message = obj.Message
				}
			}
		}
		return ev
	case EventReconnectAttempt:
		var ev ReconnectAttemptEvent
		if raw := first(); raw != nil {
			json.Unmarshal(raw, &ev.Attempt)
		}
		return ev
	}

	return UnknownEvent{Name: name, Raw: args}
}
