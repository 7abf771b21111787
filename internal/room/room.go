package room

import (
	"github.com/jgneff/volano-sub000/internal/protocol"
	"github.com/jgneff/volano-sub000/internal/transport"
)

// Kind tags the room variant.
type Kind string

const (
	Public     Kind = "public"
	Personal   Kind = "personal"
	Auditorium Kind = "auditorium"
	Private    Kind = "private"
)

// Room is the common contract of the named room variants held by the
// Registry. Private sessions live in their own registry and are not
// Rooms.
type Room interface {
	// Key is the registry key (the room name).
	Key() string
	Kind() Kind
	// Size is the occupant count the sweeper consults.
	Size() int
	// Pinned rooms are immune to the sweeper even when empty.
	Pinned() bool
	// Pin and Unpin adjust the guest reference count.
	Pin()
	Unpin()
	// Listed rooms appear in the public directory.
	Listed() bool
	// Handle processes one inbound packet from a connection.
	Handle(c transport.Conn, p *protocol.Packet)
	// ConnClosed removes any occupant owned by the connection. Safe to
	// call when the connection was never present.
	ConnClosed(c transport.Conn)
	// Snapshot returns the roster, with host addresses only when
	// withHost is set.
	Snapshot(withHost bool) []protocol.UserInfo
	// ResolveName returns the true occupant name behind a connection,
	// or "" when the connection is not present.
	ResolveName(c transport.Conn) string
	// FindConn returns the connection of the named occupant, or nil.
	FindConn(name string) transport.Conn
	// Subscribe and Unsubscribe manage event subscribers.
	Subscribe(s Subscriber)
	Unsubscribe(s Subscriber)
}

// Limits carries the validation bounds rooms enforce on client input.
type Limits struct {
	Capacity   int
	UserName   int
	RoomName   int
	ChatText   int
	Profile    int
	IgnoreCase bool
}
