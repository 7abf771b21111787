// Package transport provides the bidirectional connection layer: a
// WebSocket-backed connection with send/receive pumps and per-kind
// flood pacing, a typed attribute store, observer delivery of decoded
// packets, and the hub indexing live connections by id and host behind
// an admission turnstile.
package transport

import (
	"errors"

	"github.com/google/uuid"

	"github.com/jgneff/volano-sub000/internal/protocol"
)

// Close status codes reported to the peer.
const (
	StatusNormal        = 1000
	StatusBadRequest    = 4400
	StatusForbidden     = 4403
	StatusNotAcceptable = 4406
	StatusTimeout       = 4408
)

// Fixed attribute keys for connection-session state owned by the core.
const (
	AttrMemberName   = "member.name"
	AttrIsAdmin      = "flag.admin"
	AttrIsMonitor    = "flag.monitor"
	AttrOnStage      = "flag.stage"
	AttrNonce        = "auth.nonce"
	AttrCreatedRooms = "rooms.created"
	AttrJoinedRooms  = "rooms.joined"
	AttrPrivateIDs   = "private.ids"
)

// ErrClosed is returned by Send on a closed connection.
var ErrClosed = errors.New("connection closed")

// Observer receives inbound traffic from a connection's receive pump.
// A nil packet is the close sentinel, delivered exactly once. OnIdle
// fires when no packet has arrived within the idle timeout.
type Observer interface {
	OnPacket(c Conn, p *protocol.Packet)
	OnIdle(c Conn)
}

// Conn is the boundary contract the core holds with one client
// connection.
type Conn interface {
	// ID returns the stable per-connection identifier.
	ID() uuid.UUID
	// Host returns the source host address in dotted-octet form.
	Host() string
	// HostName returns the reverse name of the source address, or the
	// address itself when unresolvable.
	HostName() string
	// Send delivers one packet, returning ErrClosed after Close.
	Send(p *protocol.Packet) error
	// Close tears the connection down with a status code and optional
	// reason. Idempotent.
	Close(status int, reason string)
	// Get and Set access the typed attribute store.
	Get(key string) (any, bool)
	Set(key string, value any)
	// AddObserver and RemoveObserver manage packet listeners.
	AddObserver(o Observer)
	RemoveObserver(o Observer)
}

// BoolAttr reads a boolean attribute, false when absent.
func BoolAttr(c Conn, key string) bool {
	v, ok := c.Get(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// StringAttr reads a string attribute, empty when absent.
func StringAttr(c Conn, key string) string {
	v, ok := c.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// StringsAttr reads a string-slice attribute, nil when absent.
func StringsAttr(c Conn, key string) []string {
	v, ok := c.Get(key)
	if !ok {
		return nil
	}
	s, _ := v.([]string)
	return s
}

// AppendStringAttr appends one element to a string-slice attribute.
func AppendStringAttr(c Conn, key, value string) {
	c.Set(key, append(StringsAttr(c, key), value))
}

// Int64sAttr reads an int64-slice attribute, nil when absent.
func Int64sAttr(c Conn, key string) []int64 {
	v, ok := c.Get(key)
	if !ok {
		return nil
	}
	s, _ := v.([]int64)
	return s
}

// AppendInt64Attr appends one element to an int64-slice attribute.
func AppendInt64Attr(c Conn, key string, value int64) {
	c.Set(key, append(Int64sAttr(c, key), value))
}
