package state

import (
	"testing"
	"time"

	"github.com/nextlevelbuilder/foundrybridge/pkg/protocol"
)

func hasEffect(effects []Effect, want Effect) bool {
	for _, e := range effects {
		if e == want {
			return true
		}
	}
	return false
}

func TestApply_SessionWithUserID(t *testing.T) {
	m := NewMachine()
	effects := m.Apply(protocol.SessionEvent{SessionID: "s1", UserID: "u1"}, time.Now())

	if !m.Flags.SocketConnected {
		t.Error("session with user id should mark connected")
	}
	if m.Session.CurrentUserID != "u1" || m.Session.DiscoveredUserID != "u1" {
		t.Errorf("user ids = %q/%q, want u1/u1", m.Session.CurrentUserID, m.Session.DiscoveredUserID)
	}
	if !hasEffect(effects, EffectResolveConnect) {
		t.Error("should resolve connect")
	}
}

func TestApply_GuestSessionDemotesExplicit(t *testing.T) {
	m := NewMachine()
	m.Session.Explicit = true
	m.Session.CurrentUserID = "u1"

	effects := m.Apply(protocol.SessionEvent{SessionID: "s1"}, time.Now())
	if !hasEffect(effects, EffectForceLogout) {
		t.Error("guest session over an explicit one must force a full logout")
	}
}

func TestApply_GuestSessionWithoutExplicit(t *testing.T) {
	m := NewMachine()
	m.Session.CurrentUserID = "stale"

	effects := m.Apply(protocol.SessionEvent{SessionID: "s1"}, time.Now())
	if hasEffect(effects, EffectForceLogout) {
		t.Error("plain guest connect must not force logout")
	}
	if m.Session.CurrentUserID != "" {
		t.Errorf("current user id = %q, want cleared", m.Session.CurrentUserID)
	}
	if !m.Flags.SocketConnected {
		t.Error("guest connect should mark connected")
	}
}

func TestApply_UserActivityResolvesConnectFallback(t *testing.T) {
	m := NewMachine()
	m.Session.CurrentUserID = "u1"

	effects := m.Apply(protocol.UserActivityEvent{UserID: "u1", Active: true}, time.Now())
	if !m.Flags.SocketConnected {
		t.Error("tracked-user activity should confirm liveness")
	}
	if !hasEffect(effects, EffectResolveConnect) {
		t.Error("should resolve connect")
	}

	// Other users' activity never resolves the connect wait.
	m2 := NewMachine()
	m2.Session.CurrentUserID = "u1"
	if effects := m2.Apply(protocol.UserActivityEvent{UserID: "u2"}, time.Now()); len(effects) != 0 {
		t.Errorf("foreign activity produced effects %v", effects)
	}
}

func TestApply_ProgressLaunch(t *testing.T) {
	m := NewMachine()
	m.Flags.SetupMode = true
	now := time.Now()

	effects := m.Apply(protocol.ProgressEvent{Action: protocol.ProgressLaunchWorld, Step: "start", Pct: 0}, now)
	if m.Flags.SetupMode {
		t.Error("launch should clear setup mode")
	}
	if m.Flags.LastLaunchActivity != now {
		t.Error("launch should record activity timestamp")
	}
	if !hasEffect(effects, EffectClearWorldCache) {
		t.Error("first launch observation must invalidate the world cache")
	}
	if m.Flags.WorldReady {
		t.Error("world not ready before terminal step")
	}

	// Second non-terminal progress must not clear the cache again.
	effects = m.Apply(protocol.ProgressEvent{Action: protocol.ProgressLaunchWorld, Step: "mid", Pct: 50}, now)
	if hasEffect(effects, EffectClearWorldCache) {
		t.Error("cache clear must happen once per launch")
	}
}

func TestApply_ProgressCompleteGuestRefreshesTitle(t *testing.T) {
	m := NewMachine()
	now := time.Now()
	m.Apply(protocol.ProgressEvent{Action: protocol.ProgressLaunchWorld, Step: "start"}, now)

	effects := m.Apply(protocol.ProgressEvent{
		Action: protocol.ProgressLaunchWorld, Step: "complete", Pct: 100, ID: "w1",
	}, now)

	if !m.Flags.WorldReady {
		t.Error("terminal progress should mark world ready")
	}
	if !hasEffect(effects, EffectRefreshWorldTitle) {
		t.Error("guest session with a world id must trigger a title refresh")
	}

	// With a tracked user, no refresh is needed.
	m2 := NewMachine()
	m2.Session.CurrentUserID = "u1"
	m2.Apply(protocol.ProgressEvent{Action: protocol.ProgressLaunchWorld, Step: "start"}, now)
	effects = m2.Apply(protocol.ProgressEvent{
		Action: protocol.ProgressLaunchWorld, Step: "complete", Pct: 100, ID: "w1",
	}, now)
	if hasEffect(effects, EffectRefreshWorldTitle) {
		t.Error("authenticated session should not refresh the title over HTTP")
	}
}

func TestApply_ReadyPopulatesUsers(t *testing.T) {
	m := NewMachine()
	m.Flags.SetupMode = true
	m.Flags.LastLaunchActivity = time.Now()

	ev := protocol.ReadyEvent{}
	ev.Users = []protocol.UserPayload{
		{ID: "u1", Name: "Gamemaster", Role: 4},
		{ID: "u2", Name: "Player", Role: 1},
	}
	ev.ActiveUsers = []string{"u1"}

	effects := m.Apply(ev, time.Now())
	if !m.Flags.WorldReady || m.Flags.SetupMode {
		t.Error("ready should mark world ready and clear setup")
	}
	if !m.Flags.LastLaunchActivity.IsZero() {
		t.Error("ready should clear the startup grace timestamp")
	}
	if !hasEffect(effects, EffectResolveConnect) {
		t.Error("ready should resolve connect")
	}
	if u := m.Users["u1"]; !u.Active || u.Name != "Gamemaster" {
		t.Errorf("u1 = %+v", u)
	}
	if u := m.Users["u2"]; u.Active {
		t.Error("u2 should be inactive")
	}
}

func TestApply_ShutdownLeavesExplicitUntouched(t *testing.T) {
	m := NewMachine()
	m.Session.Explicit = true
	m.Flags.WorldReady = true

	effects := m.Apply(protocol.ShutdownEvent{}, time.Now())
	if m.Flags.WorldReady {
		t.Error("shutdown should clear world ready")
	}
	if !m.Flags.SetupMode {
		t.Error("shutdown should set setup mode")
	}
	if !hasEffect(effects, EffectClearWorldCache) {
		t.Error("shutdown should invalidate the world cache")
	}
	if !m.Session.Explicit {
		t.Error("shutdown must not touch the explicit session flag")
	}
}

func TestApply_SetupEventRejectsAndDisconnects(t *testing.T) {
	m := NewMachine()
	effects := m.Apply(protocol.SetupEvent{}, time.Now())
	if !hasEffect(effects, EffectRejectConnect) || !hasEffect(effects, EffectForceDisconnect) {
		t.Errorf("effects = %v, want reject+disconnect", effects)
	}
}

func TestApply_UserDisconnectedKick(t *testing.T) {
	m := NewMachine()
	m.Session.CurrentUserID = "u1"
	m.Flags.SocketConnected = true

	effects := m.Apply(protocol.UserDisconnectedEvent{UserID: "u1"}, time.Now())
	if m.Flags.SocketConnected {
		t.Error("kick should clear connected")
	}
	if m.Session.CurrentUserID != "" {
		t.Error("kick should clear the current user id")
	}
	if !hasEffect(effects, EffectForceLogout) {
		t.Error("kick should force logout")
	}
}

func TestApply_UserDisconnectedOther(t *testing.T) {
	m := NewMachine()
	m.Session.CurrentUserID = "u1"
	m.Users["u2"] = UserRecord{ID: "u2", Active: true}

	effects := m.Apply(protocol.UserDisconnectedEvent{UserID: "u2"}, time.Now())
	if len(effects) != 0 {
		t.Errorf("effects = %v, want none", effects)
	}
	if m.Users["u2"].Active {
		t.Error("other user should be marked inactive")
	}
}

func TestApply_TransportDropKeepsExplicit(t *testing.T) {
	m := NewMachine()
	m.Session.Explicit = true
	m.Flags.SocketConnected = true

	m.Apply(protocol.DisconnectedEvent{Reason: "io error"}, time.Now())
	if m.Flags.SocketConnected {
		t.Error("disconnect should clear socket flag")
	}
	if !m.Session.Explicit {
		t.Error("a transport drop must never clear the explicit session")
	}

	// Reconnect cycle: still explicit.
	m.Apply(protocol.ConnectedEvent{}, time.Now())
	if !m.Session.Explicit || !m.Flags.SocketConnected {
		t.Error("reconnect should restore connectivity without touching the session")
	}
}

// Same drop, but through ParseEvent the way the socket layer delivers it.
func TestApply_WireDisconnectClearsSocket(t *testing.T) {
	m := NewMachine()
	m.Session.Explicit = true
	m.Flags.SocketConnected = true

	m.Apply(protocol.ParseEvent(protocol.EventDisconnect, nil), time.Now())
	if m.Flags.SocketConnected {
		t.Error("wire-path disconnect left the socket flag set")
	}
	if !m.Session.Explicit {
		t.Error("wire-path disconnect cleared the explicit session")
	}

	m.Apply(protocol.ParseEvent(protocol.EventConnect, nil), time.Now())
	if !m.Flags.SocketConnected {
		t.Error("wire-path connect left the socket flag clear")
	}
}

func TestProject_Priority(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name  string
		flags Flags
		sess  Session
		want  Status
	}{
		{"default", Flags{}, Session{}, StatusDisconnected},
		{"connected", Flags{SocketConnected: true}, Session{}, StatusConnected},
		{"authenticating", Flags{SocketConnected: true, Authenticating: true}, Session{}, StatusAuthenticating},
		{"setup", Flags{SetupMode: true, Authenticating: true}, Session{}, StatusSetup},
		{"startup beats stale setup", Flags{SetupMode: true, LastLaunchActivity: now.Add(-5 * time.Second)}, Session{}, StatusStartup},
		{"startup expires", Flags{LastLaunchActivity: now.Add(-45 * time.Second)}, Session{}, StatusDisconnected},
		{"loggedIn beats everything", Flags{WorldReady: true, SetupMode: true, Authenticating: true}, Session{Explicit: true}, StatusLoggedIn},
		{"explicit without world is not loggedIn", Flags{SocketConnected: true}, Session{Explicit: true}, StatusConnected},
		{"worldReady without explicit is not loggedIn", Flags{SocketConnected: true, WorldReady: true}, Session{}, StatusConnected},
	}

	for _, tc := range cases {
		if got := Project(tc.flags, tc.sess, now); got != tc.want {
			t.Errorf("%s: status = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestProject_AlwaysOneOfSix(t *testing.T) {
	valid := map[Status]bool{
		StatusDisconnected: true, StatusConnected: true, StatusAuthenticating: true,
		StatusSetup: true, StatusStartup: true, StatusLoggedIn: true,
	}

	m := NewMachine()
	now := time.Now()
	events := []protocol.Event{
		protocol.ConnectedEvent{},
		protocol.SessionEvent{SessionID: "s", UserID: "u1"},
		protocol.ProgressEvent{Action: protocol.ProgressLaunchWorld, Step: "start"},
		protocol.ProgressEvent{Action: protocol.ProgressLaunchWorld, Step: "complete", Pct: 100},
		protocol.ReadyEvent{},
		protocol.ShutdownEvent{},
		protocol.DisconnectedEvent{},
		protocol.ConnectedEvent{},
		protocol.UserDisconnectedEvent{UserID: "u1"},
	}
	for i, ev := range events {
		m.Apply(ev, now)
		if got := Project(m.Flags, m.Session, now); !valid[got] {
			t.Fatalf("after event %d (%T): status %q not in enum", i, ev, got)
		}
	}
}

func TestInLaunchWindow(t *testing.T) {
	now := time.Now()
	if InLaunchWindow(Flags{}, now) {
		t.Error("zero timestamp is never in the window")
	}
	if !InLaunchWindow(Flags{LastLaunchActivity: now.Add(-10 * time.Second)}, now) {
		t.Error("10s after launch activity should be inside the window")
	}
	if InLaunchWindow(Flags{LastLaunchActivity: now.Add(-31 * time.Second)}, now) {
		t.Error("31s after launch activity should be outside the window")
	}
}
