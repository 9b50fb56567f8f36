// Package bridge is the public facade over the handshake, the socket
// transport and the session state machine. One Client maintains one logical
// session against one server and exposes the typed document operations the
// rest of an application consumes.
package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/foundrybridge/internal/handshake"
	"github.com/nextlevelbuilder/foundrybridge/internal/namecache"
	"github.com/nextlevelbuilder/foundrybridge/internal/retry"
	"github.com/nextlevelbuilder/foundrybridge/internal/socketio"
	"github.com/nextlevelbuilder/foundrybridge/internal/state"
	"github.com/nextlevelbuilder/foundrybridge/internal/worldcache"
	"github.com/nextlevelbuilder/foundrybridge/pkg/protocol"
)

const (
	// ConnectTimeout bounds the whole of Connect: handshake, dial and the
	// wait for in-world evidence.
	ConnectTimeout = 60 * time.Second

	// loginConfirmWait caps the post-connect confirmation poll. Deliberately
	// short; the session validator reinforces correctness later instead of
	// blocking the caller here.
	loginConfirmWait = 5 * time.Second

	loginPollInterval = 250 * time.Millisecond

	// refetchInterval throttles validator-triggered user refetches.
	refetchInterval = 10 * time.Second
)

// transport is what the facade needs from a live socket connection.
// socketio.Conn satisfies it; tests substitute fakes.
type transport interface {
	Emit(ctx context.Context, event string, args ...any) (json.RawMessage, error)
	Connected() bool
	Close() error
}

type dialFunc func(ctx context.Context, baseURL, sessionID string, opts socketio.Options) (transport, error)

// Options configures a Client. Worlds and Names are injected so a process
// can share (or tests can isolate) the caches.
type Options struct {
	URL      string
	Username string
	Password string
	// FallbackUserID joins as this id when the join page does not reveal
	// one for the username.
	FallbackUserID string
	// SystemID forces adapter resolution, overriding what the server
	// reports.
	SystemID string

	Worlds *worldcache.Cache
	Names  *namecache.Store

	// Tracer records spans around document dispatch. No-op when nil.
	Tracer trace.Tracer
	// HTTPClient overrides the handshake HTTP client (tests).
	HTTPClient *http.Client
	// WSDialer overrides the websocket dialer (tests).
	WSDialer *websocket.Dialer
	// OnEvent observes every inbound event, including Unknown ones. Called
	// on the transport's delivery goroutine; must not block.
	OnEvent func(protocol.Event)
}

// Client is the facade. All methods are safe for concurrent use; inbound
// events are folded into the state machine on the transport's single
// delivery goroutine.
type Client struct {
	baseURL  string
	username string
	password string
	fallback string
	systemID string

	worlds   *worldcache.Cache
	names    *namecache.Store
	acquirer *handshake.Acquirer
	tracer   trace.Tracer
	dial     dialFunc
	onEvent  func(protocol.Event)

	refreshGroup singleflight.Group
	refetch      *rate.Limiter

	mu               sync.Mutex
	machine          *state.Machine
	conn             transport
	connectCh        chan error
	failures         int
	validationMisses int
	// manual suppresses auto-reconnect after an intentional disconnect,
	// a logout or a confirmed kick.
	manual       bool
	reconnecting bool
}

// New builds a Client. Nothing touches the network until Connect or Login.
func New(opts Options) *Client {
	worlds := opts.Worlds
	if worlds == nil {
		worlds = worldcache.New()
	}
	names := opts.Names
	if names == nil {
		names = namecache.New()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("foundrybridge")
	}

	c := &Client{
		baseURL:  trimBase(opts.URL),
		username: opts.Username,
		password: opts.Password,
		fallback: opts.FallbackUserID,
		systemID: opts.SystemID,
		worlds:   worlds,
		names:    names,
		tracer:   tracer,
		onEvent:  opts.OnEvent,
		refetch:  rate.NewLimiter(rate.Every(refetchInterval), 1),
		machine:  state.NewMachine(),
	}
	c.acquirer = handshake.NewAcquirer(worlds, handshake.Options{Client: opts.HTTPClient})
	wsDialer := opts.WSDialer
	c.dial = func(ctx context.Context, baseURL, sessionID string, o socketio.Options) (transport, error) {
		o.Dialer = wsDialer
		return socketio.Dial(ctx, baseURL, sessionID, o)
	}
	return c
}

func trimBase(u string) string {
	for len(u) > 0 && u[len(u)-1] == '/' {
		u = u[:len(u)-1]
	}
	return u
}

// Connect performs the HTTP handshake, opens the socket and waits for the
// first sufficient evidence of being in-world: a session event carrying our
// user id, a ready payload, or activity from the tracked user. Bounded by
// ConnectTimeout overall.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil && c.conn.Connected() {
		c.mu.Unlock()
		return nil
	}
	c.manual = false
	c.machine.Flags.Authenticating = true
	username, password := c.username, c.password
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.machine.Flags.Authenticating = false
		c.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, ConnectTimeout)
	defer cancel()

	res, err := c.acquirer.Acquire(ctx, c.baseURL, username, password, handshake.Options{FallbackUserID: c.fallback})
	if err != nil {
		return wrapHandshakeError(err)
	}

	c.mu.Lock()
	c.machine.Session.CookieHeader = res.CookieHeader
	if res.UserID != "" {
		c.machine.Session.DiscoveredUserID = res.UserID
		c.machine.Session.CurrentUserID = res.UserID
	}
	if res.SetupMode {
		c.machine.Flags.SetupMode = true
		c.mu.Unlock()
		return newError(protocol.ErrCodeSetupRedirect, "server is in setup mode; no world to join")
	}
	ch := make(chan error, 1)
	c.connectCh = ch
	c.mu.Unlock()

	conn, err := c.dial(ctx, c.baseURL, res.Cookies.SessionID(), socketio.Options{
		CookieHeader: res.CookieHeader,
		Handler:      c.handleInbound,
	})
	if err != nil {
		c.dropConnectWait()
		return newError(protocol.ErrCodeNotConnected, "socket dial failed").wrap(err)
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	select {
	case err := <-ch:
		if err != nil {
			conn.Close()
			return err
		}
		slog.Info("connected", "url", c.baseURL, "user", res.UserID)
		return nil
	case <-ctx.Done():
		c.dropConnectWait()
		conn.Close()
		return newError(protocol.ErrCodeTimeout, "no in-world confirmation within %v", ConnectTimeout)
	}
}

func wrapHandshakeError(err error) error {
	switch err.(type) {
	case *handshake.AuthenticationError:
		return &Error{Code: protocol.ErrCodeAuthentication, Message: "handshake rejected", Err: err}
	case *handshake.SetupRedirectError:
		return &Error{Code: protocol.ErrCodeSetupRedirect, Message: "verification landed on setup", Err: err}
	default:
		return err
	}
}

// Login establishes an explicit session: connect, poll briefly for world
// readiness, then proceed optimistically. Only Login, Logout and a confirmed
// kick ever change the explicit-session flag.
func (c *Client) Login(ctx context.Context, username, password string) error {
	c.mu.Lock()
	if username != "" {
		c.username = username
	}
	if password != "" {
		c.password = password
	}
	c.mu.Unlock()

	if err := c.Connect(ctx); err != nil {
		return err
	}

	confirmed := retry.Poll(ctx, loginConfirmWait, loginPollInterval, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.machine.Flags.WorldReady
	})
	if !confirmed {
		slog.Debug("login proceeding without world-ready confirmation")
	}

	c.mu.Lock()
	c.machine.Session.Explicit = true
	c.validationMisses = 0
	c.mu.Unlock()
	return nil
}

// Logout ends the explicit session and tears the transport down.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.machine.Session.Explicit = false
	c.machine.Session.CurrentUserID = ""
	c.validationMisses = 0
	c.mu.Unlock()
	c.Disconnect("logout")
	return nil
}

// Disconnect closes the transport. Idempotent and safe from any state. It
// does not touch the explicit-session flag; that is Logout's job.
func (c *Client) Disconnect(reason string) {
	c.mu.Lock()
	c.manual = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		slog.Info("disconnecting", "reason", reason)
		conn.Close()
		// Close suppresses the transport's own disconnect dispatch, so keep
		// the flags truthful ourselves.
		c.handleInbound(protocol.EventDisconnect, nil)
	}
	// A Connect waiting in another goroutine must fail now, not at its
	// deadline.
	c.resolveConnect(newError(protocol.ErrCodeNotConnected, "disconnected: %s", reason))
}

// forceDisconnect is the failure-budget teardown: close the transport (which
// fails all in-flight requests immediately) and let auto-reconnect take over.
func (c *Client) forceDisconnect(reason string, reconnect bool) {
	c.mu.Lock()
	c.manual = !reconnect
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		slog.Warn("forced disconnect", "reason", reason)
		conn.Close()
		c.handleInbound(protocol.EventDisconnect, nil)
	}
}

// forceLogout handles a confirmed kick or a sustained validation failure:
// the explicit session is over, whatever the transport thinks.
func (c *Client) forceLogout(reason string) {
	slog.Warn("forcing logout", "reason", reason)
	c.mu.Lock()
	c.machine.Session.Explicit = false
	c.machine.Session.CurrentUserID = ""
	c.validationMisses = 0
	c.manual = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.resolveConnect(newError(protocol.ErrCodeSessionDemoted, "session demoted: %s", reason))
}

// handleInbound runs on the transport's delivery goroutine: parse, reduce,
// then execute whatever effects the reducer asked for.
func (c *Client) handleInbound(name string, args []json.RawMessage) {
	ev := protocol.ParseEvent(name, args)

	c.mu.Lock()
	wasReady := c.machine.Flags.WorldReady
	effects := c.machine.Apply(ev, time.Now())
	nowReady := c.machine.Flags.WorldReady
	c.mu.Unlock()

	if c.onEvent != nil {
		c.onEvent(ev)
	}

	for _, eff := range effects {
		c.runEffect(eff, ev)
	}

	if re, ok := ev.(protocol.ReadyEvent); ok {
		// The ready payload names the world and system directly; cache them
		// so GetSystem can answer without a setting round trip.
		c.worlds.Put(c.baseURL, worldcache.Entry{
			WorldTitle: re.World.Title,
			SystemID:   re.System.ID,
			Title:      re.System.Title,
			Version:    re.System.Version,
		})
	}

	if !wasReady && nowReady {
		// First world-ready since the cache was last cleared: cached world
		// info becomes servable. After the effects so a launch-triggered
		// cache clear does not wipe the confirmation it belongs to.
		c.worlds.Confirm(c.baseURL)
	}

	if _, ok := ev.(protocol.DisconnectedEvent); ok {
		c.maybeReconnect()
	}
}

func (c *Client) runEffect(eff state.Effect, ev protocol.Event) {
	switch eff {
	case state.EffectResolveConnect:
		c.resolveConnect(nil)
	case state.EffectRejectConnect:
		if _, ok := ev.(protocol.SetupEvent); ok {
			c.resolveConnect(newError(protocol.ErrCodeMisconnection, "setup event on a game connection"))
		} else {
			c.resolveConnect(newError(protocol.ErrCodeNotConnected, "connection refused"))
		}
	case state.EffectForceLogout:
		c.forceLogout(protocol.EventName(ev))
	case state.EffectForceDisconnect:
		// A misconnected endpoint is not worth reconnecting to.
		c.forceDisconnect("protocol misconnection", false)
	case state.EffectClearWorldCache:
		c.worlds.Invalidate(c.baseURL)
	case state.EffectRefreshWorldTitle:
		go c.refreshWorldTitle()
	}
}

// refreshWorldTitle re-scrapes the authenticated game page; guest sessions
// cannot discover the title over document RPCs after a launch. Deduplicated
// so a burst of progress events produces one fetch.
func (c *Client) refreshWorldTitle() {
	c.mu.Lock()
	cookie := c.machine.Session.CookieHeader
	c.mu.Unlock()

	_, _, _ = c.refreshGroup.Do("title", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		title, err := c.acquirer.RefreshWorldTitle(ctx, c.baseURL, cookie)
		if err != nil {
			slog.Debug("world title refresh failed", "error", err)
			return nil, err
		}
		slog.Debug("world title refreshed", "title", title)
		return title, nil
	})
}

func (c *Client) resolveConnect(err error) {
	c.mu.Lock()
	ch := c.connectCh
	c.connectCh = nil
	c.mu.Unlock()
	if ch != nil {
		ch <- err
	}
}

func (c *Client) dropConnectWait() {
	c.mu.Lock()
	c.connectCh = nil
	c.mu.Unlock()
}

// maybeReconnect starts the background reconnect loop after an unrequested
// transport drop, but only while an explicit session is live.
func (c *Client) maybeReconnect() {
	c.mu.Lock()
	stale := c.conn == nil || !c.conn.Connected()
	start := !c.manual && !c.reconnecting && c.machine.Session.Explicit && stale
	if start {
		c.reconnecting = true
	}
	c.mu.Unlock()
	if start {
		go c.reconnectLoop()
	}
}

func (c *Client) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	cfg := retry.DefaultConfig()
	for attempt := 0; ; attempt++ {
		time.Sleep(retry.Backoff(cfg, attempt))

		c.mu.Lock()
		stop := c.manual || !c.machine.Session.Explicit
		c.mu.Unlock()
		if stop {
			return
		}

		c.handleInbound(protocol.EventReconnectAttempt,
			[]json.RawMessage{json.RawMessage(strconv.Itoa(attempt + 1))})

		err := c.Connect(context.Background())
		if err == nil {
			slog.Info("reconnected", "attempt", attempt+1)
			return
		}
		slog.Warn("reconnect failed", "attempt", attempt+1, "error", err)
	}
}

// Status projects the user-visible connection state. Recomputed on every
// call; this is the only thing the application should render connectivity
// from.
func (c *Client) Status() state.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return state.Project(c.machine.Flags, c.machine.Session, time.Now())
}

// IsLoggedIn reports the explicit-session flag. Socket connect/disconnect
// cycles never change it.
func (c *Client) IsLoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Session.Explicit
}

// IsConnected reports transport liveness.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && c.conn.Connected()
}

// URL returns the server base URL.
func (c *Client) URL() string { return c.baseURL }
