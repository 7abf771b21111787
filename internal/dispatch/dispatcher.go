// Package dispatch implements the per-connection protocol state
// machine: admission, packet-kind gating, room routing, and
// moderation.
package dispatch

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jgneff/volano-sub000/internal/protocol"
	"github.com/jgneff/volano-sub000/internal/room"
	"github.com/jgneff/volano-sub000/internal/server"
	"github.com/jgneff/volano-sub000/internal/transport"
)

// state is the expected-next-packet-kind set.
type state int

const (
	// stateUnauthenticated expects one of the access kinds.
	stateUnauthenticated state = iota
	// statePendingAuth expects exactly one authenticate packet.
	statePendingAuth
	// stateFree accepts every remaining packet kind.
	stateFree
)

// Dispatcher reacts to one connection's inbound packets. The
// transport's receive pump is the scheduling unit; the mutex only
// guards against the idle watchdog goroutine.
type Dispatcher struct {
	ctx    *server.Context
	conn   transport.Conn
	logger zerolog.Logger

	mu         sync.Mutex
	state      state
	accessSeen bool
	nonce      string
	pings      int
}

// Attach creates a dispatcher for the connection and registers it as
// the packet observer.
func Attach(ctx *server.Context, conn transport.Conn) *Dispatcher {
	d := &Dispatcher{
		ctx:    ctx,
		conn:   conn,
		logger: ctx.Logger.With().Str("conn", conn.ID().String()).Logger(),
	}
	conn.AddObserver(d)
	return d
}

// OnPacket handles one inbound packet; a nil packet is the connection
// close sentinel. An internal fault terminates this connection only.
func (d *Dispatcher) OnPacket(c transport.Conn, p *protocol.Packet) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Interface("panic", r).Msg("dispatch fault")
			c.Close(transport.StatusBadRequest, "internal error")
		}
	}()

	if p == nil {
		d.connClosed()
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.pings = 0

	switch d.state {
	case stateUnauthenticated:
		d.handleUnauthenticated(p)
	case statePendingAuth:
		d.handleAuthenticate(p)
	default:
		d.handleFree(p)
	}
}

// OnIdle runs the bounded liveness-ping sequence before forcing a
// close.
func (d *Dispatcher) OnIdle(c transport.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pings++
	if d.pings > d.ctx.Cfg.MaxLivenessPings {
		c.Close(transport.StatusTimeout, "ping timeout")
		return
	}
	_ = c.Send(&protocol.Packet{Kind: protocol.KindPing})
}

func (d *Dispatcher) handleUnauthenticated(p *protocol.Packet) {
	switch p.Kind {
	case protocol.KindLegacyAccess, protocol.KindAccess, protocol.KindPasswordAccess:
		if d.accessSeen {
			// Exactly-once admission guard: a repeated access packet is
			// a violation, never a re-authentication.
			d.conn.Close(transport.StatusBadRequest, "duplicate access request")
			return
		}
		d.accessSeen = true
		p.MarkHandled()
		d.admit(p)
	default:
		d.conn.Close(transport.StatusBadRequest, "access required")
	}
}

func (d *Dispatcher) handleFree(p *protocol.Packet) {
	switch p.Kind {
	case protocol.KindLegacyAccess, protocol.KindAccess, protocol.KindPasswordAccess,
		protocol.KindAuthenticate:
		d.conn.Close(transport.StatusBadRequest, "duplicate access request")

	case protocol.KindRoomList:
		p.MarkHandled()
		_ = d.conn.Send(&protocol.Packet{
			Kind:   protocol.KindRoomList,
			Rooms:  d.ctx.Rooms.List(p.Filter),
			Result: protocol.ResultOK,
		})

	case protocol.KindEnterRoom:
		d.enterRoom(p)

	case protocol.KindEnterPrivate:
		d.enterPrivate(p)

	case protocol.KindKick:
		d.kick(p)

	case protocol.KindCreateRooms:
		d.createRooms(p)

	case protocol.KindPing:
		p.MarkHandled()
		_ = d.conn.Send(&protocol.Packet{Kind: protocol.KindPing, Result: protocol.ResultOK})

	case protocol.KindChat, protocol.KindWhisper, protocol.KindBeep,
		protocol.KindExitRoom, protocol.KindExitPrivate, protocol.KindUserList:
		if p.RoomID != 0 {
			d.routePrivate(p)
			return
		}
		d.routeRoom(p)
	}
}

// routeRoom forwards a packet to the named room; no such room is a
// normal outcome reported only to the requester.
func (d *Dispatcher) routeRoom(p *protocol.Packet) {
	r := d.ctx.Rooms.Get(p.RoomName)
	if r == nil {
		_ = d.conn.Send(protocol.Confirm(p, protocol.ResultNoSuchRoom))
		return
	}
	defer r.Unpin()
	r.Handle(d.conn, p)
}

func (d *Dispatcher) routePrivate(p *protocol.Packet) {
	s := d.ctx.Privates.Get(p.RoomID)
	if s == nil {
		_ = d.conn.Send(protocol.Confirm(p, protocol.ResultNoSuchRoom))
		return
	}
	s.Handle(d.conn, p)
}

func (d *Dispatcher) enterRoom(p *protocol.Packet) {
	if p.RoomName == "" || len(p.RoomName) > d.ctx.Cfg.RoomNameLimit {
		d.conn.Close(transport.StatusBadRequest, "bad room name")
		return
	}
	r, _ := d.ctx.Rooms.GetOrCreate(p.RoomName, func() room.Room {
		return d.newRoom(p.RoomName)
	})
	defer r.Unpin()
	if r.Kind() == room.Auditorium && transport.BoolAttr(d.conn, transport.AttrIsMonitor) {
		// Monitors join an event on stage; everyone else is audience.
		d.conn.Set(transport.AttrOnStage, true)
	}
	r.Handle(d.conn, p)
}

// newRoom builds a room for the given name. Names carrying the
// entrance prefix are auditorium events.
func (d *Dispatcher) newRoom(name string) room.Room {
	if prefix := d.ctx.Cfg.EntrancePrefix; prefix != "" && strings.HasPrefix(name, prefix) {
		return d.ctx.NewAuditoriumRoom(name, false)
	}
	return d.ctx.NewOpenRoom(name, room.Public, "", false)
}

// enterPrivate starts a one-on-one session from inside a room. The
// sender's name comes from the room's registry, never from the
// client.
func (d *Dispatcher) enterPrivate(p *protocol.Packet) {
	if !p.MarkHandled() {
		return
	}
	r := d.ctx.Rooms.Get(p.RoomName)
	if r == nil {
		_ = d.conn.Send(protocol.Confirm(p, protocol.ResultNoSuchRoom))
		return
	}
	defer r.Unpin()

	fromName := r.ResolveName(d.conn)
	if fromName == "" {
		d.conn.Close(transport.StatusBadRequest, "not in room")
		return
	}
	toConn := r.FindConn(p.ToName)
	if toConn == nil || toConn.ID() == d.conn.ID() {
		_ = d.conn.Send(protocol.Confirm(p, protocol.ResultNoSuchRoom))
		return
	}

	s := d.ctx.NewPrivateSession(d.conn, fromName, toConn, p.ToName)

	confirm := protocol.Confirm(p, protocol.ResultOK)
	confirm.RoomID = s.ID()
	confirm.ToName = p.ToName
	_ = d.conn.Send(confirm)

	// Invitation to the responder; it attaches as a listener only when
	// it first writes to this session id.
	_ = toConn.Send(&protocol.Packet{
		Kind:     protocol.KindEnterPrivate,
		RoomID:   s.ID(),
		FromName: fromName,
	})
}

// createRooms is the administrator batch-create operation. Each
// created room stays pinned by this connection's guest reference until
// it disconnects.
func (d *Dispatcher) createRooms(p *protocol.Packet) {
	if !p.MarkHandled() {
		return
	}
	if !transport.BoolAttr(d.conn, transport.AttrIsAdmin) {
		d.conn.Close(transport.StatusBadRequest, "not an administrator")
		return
	}
	created := 0
	for _, name := range p.Rooms {
		if name == "" || len(name) > d.ctx.Cfg.RoomNameLimit {
			continue
		}
		r, _ := d.ctx.Rooms.GetOrCreate(name, func() room.Room {
			return d.newRoom(name)
		})
		// Keep the GetOrCreate pin as this connection's guest
		// reference; released in connClosed.
		transport.AppendStringAttr(d.conn, transport.AttrCreatedRooms, r.Key())
		created++
	}
	confirm := protocol.Confirm(p, protocol.ResultOK)
	confirm.Count = created
	_ = d.conn.Send(confirm)
}

// connClosed is the null-object close delivery: every membership and
// reference this connection held is released, idempotently.
func (d *Dispatcher) connClosed() {
	for _, name := range transport.StringsAttr(d.conn, transport.AttrJoinedRooms) {
		if r := d.ctx.Rooms.Get(name); r != nil {
			r.ConnClosed(d.conn)
			r.Unpin()
		}
	}
	for _, id := range transport.Int64sAttr(d.conn, transport.AttrPrivateIDs) {
		if s := d.ctx.Privates.Get(id); s != nil {
			s.ConnClosed(d.conn)
		}
	}
	for _, name := range transport.StringsAttr(d.conn, transport.AttrCreatedRooms) {
		if r := d.ctx.Rooms.Get(name); r != nil {
			r.Unpin() // the Get pin
			r.Unpin() // the guest reference taken at creation
		}
	}
	d.conn.RemoveObserver(d)
}
