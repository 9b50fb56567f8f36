// Package socketio is a minimal Socket.IO client over a single WebSocket
// transport, just enough for the upstream server: no long-polling fallback,
// no upgrades, default namespace only. It carries the session id in the
// query string and correlates emits to acknowledgments through Socket.IO
// ack ids, with a fixed per-request timeout.
package socketio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/foundrybridge/pkg/protocol"
)

// AckTimeout bounds every emit, regardless of any transport-level timeout.
const AckTimeout = 5 * time.Second

const maxMessageSize = 4 * 1024 * 1024

// ErrNotConnected is returned for emits while the transport is down. Never
// retried automatically.
var ErrNotConnected = fmt.Errorf("socket not connected")

// TimeoutError marks a request whose acknowledgment never arrived.
type TimeoutError struct {
	Event string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no acknowledgment for %q within %v", e.Event, AckTimeout)
}

// ServerError carries the server-supplied error message from an otherwise
// well-formed acknowledgment.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// Handler receives every inbound event on the connection's single delivery
// goroutine. Handlers never run concurrently with each other.
type Handler func(name string, args []json.RawMessage)

type pendingAck struct {
	ch chan ackResult
}

type ackResult struct {
	data json.RawMessage
	err  error
}

// Conn is one live Socket.IO connection.
type Conn struct {
	ws      *websocket.Conn
	sid     string
	handler Handler

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]*pendingAck
	nextAck   int64

	mu        sync.Mutex
	connected bool
	closed    bool
	done      chan struct{}

	readTimeout time.Duration
}

// Options tunes Dial.
type Options struct {
	// CookieHeader is sent with the WebSocket upgrade request.
	CookieHeader string
	// Handler receives inbound events, including the synthesized
	// transport-level connect/disconnect/connect_error events.
	Handler Handler
	// Dialer overrides the WebSocket dialer (tests).
	Dialer *websocket.Dialer
}

// Dial opens the transport against {base}/socket.io carrying the session id,
// completes the Engine.IO and Socket.IO handshakes, and starts the read
// loop. The websocket transport is forced; there is no polling fallback.
func Dial(ctx context.Context, baseURL, sessionID string, opts Options) (*Conn, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket.io/"
	q := u.Query()
	q.Set("EIO", fmt.Sprint(protocol.EngineIOVersion))
	q.Set("transport", "websocket")
	if sessionID != "" {
		q.Set("session", sessionID)
	}
	u.RawQuery = q.Encode()

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	header := http.Header{}
	if opts.CookieHeader != "" {
		header.Set("Cookie", opts.CookieHeader)
	}

	ws, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u.Host, err)
	}
	ws.SetReadLimit(maxMessageSize)

	c := &Conn{
		ws:      ws,
		handler: opts.Handler,
		pending: make(map[int64]*pendingAck),
		done:    make(chan struct{}),
	}

	if err := c.handshake(ctx, sessionID); err != nil {
		ws.Close()
		return nil, err
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	// Deliver the synthesized connect before the read loop can deliver
	// anything else, so the handler sees events strictly in order.
	c.dispatch(protocol.EventConnect, nil)
	go c.readLoop()

	return c, nil
}

// handshake consumes the Engine.IO open packet and completes the Socket.IO
// namespace connect before the read loop starts.
func (c *Conn) handshake(ctx context.Context, sessionID string) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.ws.SetReadDeadline(deadline)
	} else {
		c.ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	}

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("read open packet: %w", err)
	}
	pkt, err := protocol.Decode(data)
	if err != nil {
		return fmt.Errorf("decode open packet: %w", err)
	}
	open, err := pkt.Open()
	if err != nil {
		return err
	}

	// The server pings on pingInterval and allows pingTimeout for the pong;
	// silence past their sum means the link is dead.
	c.readTimeout = time.Duration(open.PingInterval+open.PingTimeout) * time.Millisecond
	if c.readTimeout <= 0 {
		c.readTimeout = 45 * time.Second
	}

	// The session also rides the connect auth payload: server versions have
	// read it from either place.
	var auth any
	if sessionID != "" {
		auth = map[string]string{"session": sessionID}
	}
	connectFrame, err := protocol.EncodeConnect(auth)
	if err != nil {
		return err
	}
	if err := c.write(connectFrame); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	_, data, err = c.ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("read connect ack: %w", err)
	}
	pkt, err = protocol.Decode(data)
	if err != nil {
		return fmt.Errorf("decode connect ack: %w", err)
	}
	switch {
	case pkt.Engine == protocol.EngineMessage && pkt.Socket == protocol.SocketConnect:
		var cd protocol.ConnectData
		if len(pkt.Data) > 0 {
			json.Unmarshal(pkt.Data, &cd)
		}
		c.sid = cd.SID
		return nil
	case pkt.Engine == protocol.EngineMessage && pkt.Socket == protocol.SocketConnectError:
		msg := string(pkt.Data)
		c.dispatch(protocol.EventConnectError, []json.RawMessage{pkt.Data})
		return fmt.Errorf("socket.io connect refused: %s", msg)
	default:
		return fmt.Errorf("unexpected packet during connect: %q", data)
	}
}

// Connected reports transport liveness.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// SID returns the Socket.IO session id assigned by the server.
func (c *Conn) SID() string { return c.sid }

// Emit sends a named event and waits for its acknowledgment, racing it
// against AckTimeout. The correlation id in the logs is local only; the
// wire correlation is the Socket.IO ack id. A late ack after timeout is
// dropped silently.
func (c *Conn) Emit(ctx context.Context, event string, args ...any) (json.RawMessage, error) {
	if !c.Connected() {
		return nil, ErrNotConnected
	}

	corrID := uuid.NewString()[:8]

	c.pendingMu.Lock()
	c.nextAck++
	ackID := c.nextAck
	pend := &pendingAck{ch: make(chan ackResult, 1)}
	c.pending[ackID] = pend
	c.pendingMu.Unlock()

	frame, err := protocol.EncodeEvent(event, args, ackID)
	if err != nil {
		c.removePending(ackID)
		return nil, err
	}

	slog.Debug("emit", "event", event, "ack", ackID, "req", corrID)
	if err := c.write(frame); err != nil {
		c.removePending(ackID)
		return nil, fmt.Errorf("write %q: %w", event, err)
	}

	timer := time.NewTimer(AckTimeout)
	defer timer.Stop()

	select {
	case res := <-pend.ch:
		if res.err != nil {
			slog.Debug("emit failed", "event", event, "req", corrID, "error", res.err)
			return nil, res.err
		}
		return res.data, nil
	case <-timer.C:
		c.removePending(ackID)
		slog.Debug("emit timeout", "event", event, "req", corrID)
		return nil, &TimeoutError{Event: event}
	case <-ctx.Done():
		c.removePending(ackID)
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrNotConnected
	}
}

// Close tears the transport down. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	close(c.done)
	err := c.ws.Close()
	c.failPending(ErrNotConnected)
	return err
}

func (c *Conn) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// readLoop is the single delivery goroutine: every inbound event and every
// ack resolution happens here, in transport order.
func (c *Conn) readLoop() {
	defer func() {
		c.mu.Lock()
		wasConnected := c.connected
		c.connected = false
		c.mu.Unlock()

		c.failPending(ErrNotConnected)
		if wasConnected {
			c.dispatch(protocol.EventDisconnect, nil)
		}
	}()

	for {
		c.ws.SetReadDeadline(time.Now().Add(c.readTimeout))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				slog.Warn("socket read error", "error", err)
			}
			return
		}

		pkt, err := protocol.Decode(data)
		if err != nil {
			slog.Debug("undecodable frame", "error", err, "frame", truncate(data))
			continue
		}

		switch pkt.Engine {
		case protocol.EnginePing:
			if err := c.write(protocol.EncodePong()); err != nil {
				slog.Debug("pong failed", "error", err)
			}
		case protocol.EngineClose:
			return
		case protocol.EngineMessage:
			c.handleMessage(pkt, data)
		}
	}
}

func (c *Conn) handleMessage(pkt protocol.Packet, raw []byte) {
	switch pkt.Socket {
	case protocol.SocketEvent:
		name, args, err := pkt.Event()
		if err != nil {
			slog.Debug("malformed event frame", "error", err, "frame", truncate(raw))
			return
		}
		c.dispatch(name, args)

	case protocol.SocketAck:
		args, err := pkt.AckArgs()
		if err != nil || pkt.AckID < 0 {
			slog.Debug("malformed ack frame", "error", err, "frame", truncate(raw))
			return
		}
		c.resolveAck(pkt.AckID, args)

	case protocol.SocketDisconnect:
		c.dispatch(protocol.EventDisconnect, nil)

	case protocol.SocketConnectError:
		c.dispatch(protocol.EventConnectError, []json.RawMessage{pkt.Data})
	}
}

func (c *Conn) resolveAck(ackID int64, args []json.RawMessage) {
	c.pendingMu.Lock()
	pend, ok := c.pending[ackID]
	delete(c.pending, ackID)
	c.pendingMu.Unlock()
	if !ok {
		// Late ack for a request that already timed out.
		slog.Debug("dropping late ack", "ack", ackID)
		return
	}

	var first json.RawMessage
	if len(args) > 0 {
		first = args[0]
	}
	if msg := protocol.ResponseError(first); msg != "" {
		pend.ch <- ackResult{err: &ServerError{Message: msg}}
		return
	}
	pend.ch <- ackResult{data: first}
}

func (c *Conn) removePending(ackID int64) {
	c.pendingMu.Lock()
	delete(c.pending, ackID)
	c.pendingMu.Unlock()
}

func (c *Conn) failPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[int64]*pendingAck)
	c.pendingMu.Unlock()

	for _, pend := range pending {
		pend.ch <- ackResult{err: err}
	}
}

func (c *Conn) dispatch(name string, args []json.RawMessage) {
	if c.handler != nil {
		c.handler(name, args)
	}
}

func truncate(data []byte) string {
	if len(data) > 120 {
		return string(data[:120]) + "..."
	}
	return string(data)
}
