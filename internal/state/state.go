// Package state holds the bridge's session state machine: the connection
// flags, the event reducer that is their single writer, and the projection
// of those flags onto the user-visible status enum.
//
// The reducer is deliberately free of I/O. Side effects it wants performed
// (resolving the connect wait, forcing a logout, refreshing the world title)
// are returned as Effect values and executed by the facade, so the whole
// machine can be driven by synthetic event sequences in tests.
package state

import (
	"time"

	"github.com/nextlevelbuilder/foundrybridge/pkg/protocol"
)

// StartupGrace is how long after observed world-launch activity the bridge
// treats the world as booting: the status projector reports "startup" and
// RPC timeouts are not counted against the failure budget.
const StartupGrace = 30 * time.Second

// Status is the user-visible connection state.
type Status string

const (
	StatusDisconnected   Status = "disconnected"
	StatusConnected      Status = "connected"
	StatusAuthenticating Status = "authenticating"
	StatusSetup          Status = "setup"
	StatusStartup        Status = "startup"
	StatusLoggedIn       Status = "loggedIn"
)

// Flags are the inferred connection facts. They are mutated only by
// Machine.Apply; everything else reads them.
type Flags struct {
	SocketConnected    bool
	Authenticating     bool
	SetupMode          bool
	WorldReady         bool
	LastLaunchActivity time.Time
}

// Session is the logical session, distinct from transient socket
// connectivity. Explicit is set only by a completed login and cleared only
// by logout or a confirmed server-side kick — never by a socket drop.
type Session struct {
	CookieHeader     string
	DiscoveredUserID string
	CurrentUserID    string
	Explicit         bool
}

// UserRecord is the cached shadow of an upstream user. Best effort; always
// reconcilable by re-fetching.
type UserRecord struct {
	ID          string
	Name        string
	Role        int
	Active      bool
	Color       string
	CharacterID string
}

// Effect is a side effect the reducer asks the facade to perform.
type Effect int

const (
	EffectResolveConnect Effect = iota
	EffectRejectConnect
	EffectForceLogout
	EffectForceDisconnect
	EffectRefreshWorldTitle
	EffectClearWorldCache
)

// Machine owns Flags, Session and the user cache. All mutation goes through
// Apply, which runs on the socket's single delivery goroutine; readers take
// the snapshot accessors on the facade.
type Machine struct {
	Flags   Flags
	Session Session
	Users   map[string]UserRecord

	launchSeen bool
}

func NewMachine() *Machine {
	return &Machine{Users: make(map[string]UserRecord)}
}

// Apply folds one inbound event into the machine and returns the side
// effects the facade should execute. Idempotent per event.
func (m *Machine) Apply(ev protocol.Event, now time.Time) []Effect {
	switch e := ev.(type) {

	case protocol.SessionEvent:
		if e.UserID != "" {
			m.Flags.SocketConnected = true
			m.Session.DiscoveredUserID = e.UserID
			m.Session.CurrentUserID = e.UserID
			return []Effect{EffectResolveConnect}
		}
		if m.Session.Explicit {
			// The server silently demoted an explicit session, e.g. another
			// device claimed the user. Treated as a kick; see DESIGN.md for
			// the ambiguity around slow reconnect races.
			return []Effect{EffectForceLogout}
		}
		m.Session.CurrentUserID = ""
		m.Flags.SocketConnected = true
		return nil

	case protocol.UserActivityEvent:
		if u, ok := m.Users[e.UserID]; ok {
			u.Active = e.Active
			m.Users[e.UserID] = u
		}
		// Liveness fallback for server variants that never send a session
		// or ready event carrying our user id.
		if e.UserID != "" && e.UserID == m.Session.CurrentUserID && !m.Flags.SocketConnected {
			m.Flags.SocketConnected = true
			return []Effect{EffectResolveConnect}
		}
		return nil

	case protocol.ProgressEvent:
		if e.Action != protocol.ProgressLaunchWorld {
			return nil
		}
		var effects []Effect
		if !m.launchSeen {
			m.launchSeen = true
			m.Flags.SetupMode = false
			effects = append(effects, EffectClearWorldCache)
		}
		m.Flags.LastLaunchActivity = now
		if e.Step == protocol.ProgressComplete || e.Pct >= 100 {
			m.Flags.WorldReady = true
			m.launchSeen = false
			if m.Session.CurrentUserID == "" && e.ID != "" {
				// Guests cannot discover the world title over document RPCs
				// after launch; re-scrape the authenticated page instead.
				effects = append(effects, EffectRefreshWorldTitle)
			}
		}
		return effects

	case protocol.ReadyEvent:
		m.Flags.SetupMode = false
		m.Flags.WorldReady = true
		m.Flags.LastLaunchActivity = time.Time{}
		m.launchSeen = false
		if len(e.Users) > 0 {
			active := make(map[string]bool, len(e.ActiveUsers))
			for _, id := range e.ActiveUsers {
				active[id] = true
			}
			m.Users = make(map[string]UserRecord, len(e.Users))
			for _, u := range e.Users {
				m.Users[u.ID] = userFromPayload(u, active[u.ID] || u.Active)
			}
		}
		if !m.Flags.SocketConnected {
			m.Flags.SocketConnected = true
		}
		return []Effect{EffectResolveConnect}

	case protocol.ShutdownEvent:
		m.Flags.SetupMode = true
		m.Flags.WorldReady = false
		m.Flags.LastLaunchActivity = time.Time{}
		m.launchSeen = false
		return []Effect{EffectClearWorldCache}

	case protocol.SetupEvent:
		// A setup event on a game connection means we dialed the wrong
		// endpoint entirely.
		return []Effect{EffectRejectConnect, EffectForceDisconnect}

	case protocol.UserConnectedEvent:
		m.Users[e.User.ID] = userFromPayload(e.User, true)
		return nil

	case protocol.UserDisconnectedEvent:
		if e.UserID != "" && e.UserID == m.Session.CurrentUserID {
			// Server-confirmed kick of the local user.
			m.Flags.SocketConnected = false
			m.Session.CurrentUserID = ""
			return []Effect{EffectForceLogout}
		}
		if u, ok := m.Users[e.UserID]; ok {
			u.Active = false
			m.Users[e.UserID] = u
		}
		return nil

	case protocol.ConnectedEvent:
		m.Flags.SocketConnected = true
		return nil

	case protocol.DisconnectedEvent:
		// Transport drop only. Session.Explicit is untouched by design.
		m.Flags.SocketConnected = false
		return nil

	case protocol.ConnectErrorEvent:
		m.Flags.SocketConnected = false
		return []Effect{EffectRejectConnect}

	default:
		// Unknown events are observable via the facade's event hook but
		// never change state.
		return nil
	}
}

func userFromPayload(u protocol.UserPayload, active bool) UserRecord {
	return UserRecord{
		ID:          u.ID,
		Name:        u.Name,
		Role:        u.Role,
		Active:      active,
		Color:       u.Color,
		CharacterID: u.CharacterID,
	}
}

// Project derives the status enum from flags and session. Pure; recomputed
// on every read so it can never drift from the flags.
//
// The priority order matters: several flags are simultaneously true during
// transitions. loggedIn wins over everything once established so brief
// reconnects do not flicker the UI, and startup is checked before setup
// because a launch in progress often leaves a stale setup flag behind.
func Project(f Flags, s Session, now time.Time) Status {
	switch {
	case s.Explicit && f.WorldReady:
		return StatusLoggedIn
	case !f.WorldReady && !f.LastLaunchActivity.IsZero() && now.Sub(f.LastLaunchActivity) < StartupGrace:
		return StatusStartup
	case f.SetupMode:
		return StatusSetup
	case f.Authenticating:
		return StatusAuthenticating
	case f.SocketConnected:
		return StatusConnected
	default:
		return StatusDisconnected
	}
}

// InLaunchWindow reports whether now falls inside the launch-transition
// grace period, during which RPC timeouts are expected and not penalized.
func InLaunchWindow(f Flags, now time.Time) bool {
	return !f.LastLaunchActivity.IsZero() && now.Sub(f.LastLaunchActivity) < StartupGrace
}
