// Package protocol defines the wire format the bridge speaks to a
// Foundry-style virtual-tabletop server: Engine.IO v4 text framing, the
// Socket.IO sub-protocol carried inside it, and the shapes of the generic
// document-mutation RPC. This package is importable by other clients.
//
// Only the parts of the protocol the upstream server actually exercises are
// implemented: text frames, the default namespace, no binary attachments and
// no transport upgrades. The framing must match the server byte-for-byte, so
// it is encoded and decoded by hand rather than through a general library.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// EngineIOVersion is the EIO query parameter value the server expects.
const EngineIOVersion = 4

// Engine.IO packet types (first byte of every text frame).
const (
	EngineOpen    = '0'
	EngineClose   = '1'
	EnginePing    = '2'
	EnginePong    = '3'
	EngineMessage = '4'
)

// Socket.IO packet types (second byte, inside an Engine.IO message).
const (
	SocketConnect      = '0'
	SocketDisconnect   = '1'
	SocketEvent        = '2'
	SocketAck          = '3'
	SocketConnectError = '4'
)

// Packet is one decoded inbound frame.
type Packet struct {
	Engine byte
	Socket byte            // valid only when Engine == EngineMessage
	AckID  int64           // -1 when the frame carries no ack id
	Data   json.RawMessage // JSON payload, nil when absent
}

// OpenData is the handshake payload of an Engine.IO open packet.
type OpenData struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"` // milliseconds
	PingTimeout  int    `json:"pingTimeout"`  // milliseconds
	MaxPayload   int    `json:"maxPayload"`
}

// ConnectData is the payload of a Socket.IO connect acknowledgment.
type ConnectData struct {
	SID string `json:"sid"`
}

// Decode parses a raw text frame into a Packet.
func Decode(data []byte) (Packet, error) {
	p := Packet{AckID: -1}
	if len(data) == 0 {
		return p, fmt.Errorf("empty frame")
	}

	p.Engine = data[0]
	rest := data[1:]

	switch p.Engine {
	case EngineOpen, EngineClose, EnginePing, EnginePong:
		if len(rest) > 0 {
			p.Data = json.RawMessage(rest)
		}
		return p, nil
	case EngineMessage:
		// fall through to Socket.IO parsing below
	default:
		return p, fmt.Errorf("unknown engine.io packet type %q", p.Engine)
	}

	if len(rest) == 0 {
		return p, fmt.Errorf("message frame without socket.io packet")
	}
	p.Socket = rest[0]
	rest = rest[1:]

	switch p.Socket {
	case SocketConnect, SocketDisconnect, SocketEvent, SocketAck, SocketConnectError:
	default:
		return p, fmt.Errorf("unknown socket.io packet type %q", p.Socket)
	}

	// Namespace prefix ("/nsp,"). The upstream only uses the default
	// namespace; a non-default one is skipped, not rejected.
	if len(rest) > 0 && rest[0] == '/' {
		i := bytes.IndexByte(rest, ',')
		if i < 0 {
			return p, fmt.Errorf("unterminated namespace in frame")
		}
		rest = rest[i+1:]
	}

	// Ack id: a run of leading digits before the JSON payload.
	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	if digits > 0 {
		id, err := strconv.ParseInt(string(rest[:digits]), 10, 64)
		if err != nil {
			return p, fmt.Errorf("parse ack id: %w", err)
		}
		p.AckID = id
		rest = rest[digits:]
	}

	if len(rest) > 0 {
		p.Data = json.RawMessage(rest)
	}
	return p, nil
}

// Event splits an event packet's payload into the event name and its
// argument list.
func (p Packet) Event() (string, []json.RawMessage, error) {
	if p.Engine != EngineMessage || p.Socket != SocketEvent {
		return "", nil, fmt.Errorf("not an event packet")
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(p.Data, &arr); err != nil {
		return "", nil, fmt.Errorf("decode event array: %w", err)
	}
	if len(arr) == 0 {
		return "", nil, fmt.Errorf("empty event array")
	}
	var name string
	if err := json.Unmarshal(arr[0], &name); err != nil {
		return "", nil, fmt.Errorf("decode event name: %w", err)
	}
	return name, arr[1:], nil
}

// AckArgs decodes an ack packet's payload into its argument list.
func (p Packet) AckArgs() ([]json.RawMessage, error) {
	if p.Engine != EngineMessage || p.Socket != SocketAck {
		return nil, fmt.Errorf("not an ack packet")
	}
	if len(p.Data) == 0 {
		return nil, nil
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(p.Data, &arr); err != nil {
		return nil, fmt.Errorf("decode ack array: %w", err)
	}
	return arr, nil
}

// Open decodes the Engine.IO handshake payload.
func (p Packet) Open() (OpenData, error) {
	var od OpenData
	if p.Engine != EngineOpen {
		return od, fmt.Errorf("not an open packet")
	}
	if err := json.Unmarshal(p.Data, &od); err != nil {
		return od, fmt.Errorf("decode open payload: %w", err)
	}
	return od, nil
}

// EncodeEvent builds an outbound event frame. ackID < 0 omits the ack id.
func EncodeEvent(name string, args []any, ackID int64) ([]byte, error) {
	arr := make([]any, 0, len(args)+1)
	arr = append(arr, name)
	arr = append(arr, args...)
	payload, err := json.Marshal(arr)
	if err != nil {
		return nil, fmt.Errorf("encode event %q: %w", name, err)
	}

	var buf bytes.Buffer
	buf.WriteByte(EngineMessage)
	buf.WriteByte(SocketEvent)
	if ackID >= 0 {
		buf.WriteString(strconv.FormatInt(ackID, 10))
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

// EncodeConnect builds the Socket.IO connect frame for the default
// namespace. auth may be nil.
func EncodeConnect(auth any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(EngineMessage)
	buf.WriteByte(SocketConnect)
	if auth != nil {
		payload, err := json.Marshal(auth)
		if err != nil {
			return nil, fmt.Errorf("encode connect auth: %w", err)
		}
		buf.Write(payload)
	}
	return buf.Bytes(), nil
}

// EncodePong is the reply to a server-initiated Engine.IO ping.
func EncodePong() []byte { return []byte{EnginePong} }
