package room

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/jgneff/volano-sub000/internal/metrics"
	"github.com/jgneff/volano-sub000/internal/protocol"
	"github.com/jgneff/volano-sub000/internal/transport"
)

// OpenRoom is a public or personal chat room: every occupant sees
// every broadcast.
type OpenRoom struct {
	key       string
	kind      Kind
	docBase   string
	limits    Limits
	logger    zerolog.Logger
	users     *UserRegistry
	pub       publisher
	guests    atomic.Int32
	permanent bool
	listed    bool
}

// NewOpenRoom creates an empty open room.
func NewOpenRoom(key string, kind Kind, docBase string, limits Limits, logger zerolog.Logger, permanent bool) *OpenRoom {
	return &OpenRoom{
		key:       key,
		kind:      kind,
		docBase:   docBase,
		limits:    limits,
		logger:    logger.With().Str("room", key).Logger(),
		users:     NewUserRegistry(limits.Capacity, limits.IgnoreCase),
		permanent: permanent,
		listed:    true,
	}
}

// Key returns the registry key.
func (r *OpenRoom) Key() string { return r.key }

// Kind returns Public or Personal.
func (r *OpenRoom) Kind() Kind { return r.kind }

// DocumentBase returns the document this room is bound to, if any.
func (r *OpenRoom) DocumentBase() string { return r.docBase }

// Size returns the occupant count.
func (r *OpenRoom) Size() int { return r.users.Size() }

// Pinned reports whether the room is immune to sweeping.
func (r *OpenRoom) Pinned() bool { return r.permanent || r.guests.Load() > 0 }

// Pin adds one guest reference.
func (r *OpenRoom) Pin() { r.guests.Add(1) }

// Unpin drops one guest reference.
func (r *OpenRoom) Unpin() { r.guests.Add(-1) }

// Listed reports directory visibility.
func (r *OpenRoom) Listed() bool { return r.listed }

// Subscribe registers an event subscriber.
func (r *OpenRoom) Subscribe(s Subscriber) { r.pub.Subscribe(s) }

// Unsubscribe removes an event subscriber.
func (r *OpenRoom) Unsubscribe(s Subscriber) { r.pub.Unsubscribe(s) }

// Snapshot returns the roster for directory and user-list replies.
func (r *OpenRoom) Snapshot(withHost bool) []protocol.UserInfo {
	users := r.users.Snapshot()
	out := make([]protocol.UserInfo, len(users))
	for i, u := range users {
		out[i] = u.Info(withHost)
	}
	return out
}

// ResolveName returns the true occupant name behind a connection.
func (r *OpenRoom) ResolveName(c transport.Conn) string {
	if u := r.users.GetByConn(c.ID()); u != nil {
		return u.Name
	}
	return ""
}

// FindConn returns the connection of the named occupant, or nil.
func (r *OpenRoom) FindConn(name string) transport.Conn {
	if u := r.users.GetByName(name); u != nil {
		return u.Conn
	}
	return nil
}

// Handle routes one inbound packet.
func (r *OpenRoom) Handle(c transport.Conn, p *protocol.Packet) {
	switch p.Kind {
	case protocol.KindEnterRoom:
		r.enter(c, p)
	case protocol.KindExitRoom:
		p.MarkHandled()
		r.exit(c)
	case protocol.KindChat:
		r.chat(c, p)
	case protocol.KindWhisper:
		r.whisper(c, p)
	case protocol.KindBeep:
		r.beep(c, p)
	case protocol.KindKick:
		r.kick(c, p)
	case protocol.KindUserList:
		p.MarkHandled()
		monitor := transport.BoolAttr(c, transport.AttrIsMonitor)
		_ = c.Send(&protocol.Packet{
			Kind:     protocol.KindUserList,
			RoomName: r.key,
			Users:    r.Snapshot(monitor),
			Result:   protocol.ResultOK,
		})
	}
}

// ConnClosed is the null-object close delivery: remove the occupant if
// present, otherwise a no-op.
func (r *OpenRoom) ConnClosed(c transport.Conn) {
	r.exit(c)
}

func (r *OpenRoom) enter(c transport.Conn, p *protocol.Packet) {
	if !p.MarkHandled() {
		return
	}
	if p.UserName == "" || len(p.UserName) > r.limits.UserName || len(p.Profile) > r.limits.Profile {
		c.Close(transport.StatusBadRequest, "bad enter request")
		return
	}
	if r.users.GetByConn(c.ID()) != nil {
		c.Close(transport.StatusBadRequest, "already in room")
		return
	}

	u := &User{
		Conn:     c,
		Name:     p.UserName,
		Profile:  p.Profile,
		IsMember: transport.StringAttr(c, transport.AttrMemberName) != "",
		ShowLink: transport.BoolAttr(c, transport.AttrIsMonitor),
		JoinTime: time.Now(),
	}
	monitor := transport.BoolAttr(c, transport.AttrIsMonitor)
	result, others := r.users.Put(u, monitor)
	if result != protocol.ResultOK {
		_ = c.Send(protocol.Confirm(p, result))
		return
	}

	transport.AppendStringAttr(c, transport.AttrJoinedRooms, r.key)

	// Entered indication to the occupants that were present before the
	// insert; each recipient gets a fresh copy with the host address
	// included only for monitors.
	r.fanOut(others, func(recipient *User) *protocol.Packet {
		out := &protocol.Packet{
			Kind:     protocol.KindEnterRoom,
			RoomName: r.key,
			UserName: u.Name,
			Profile:  u.Profile,
		}
		if transport.BoolAttr(recipient.Conn, transport.AttrIsMonitor) {
			out.Host = c.Host()
		}
		return out
	})

	confirm := protocol.Confirm(p, protocol.ResultOK)
	confirm.Users = r.Snapshot(monitor)
	_ = c.Send(confirm)

	r.pub.notify(Event{
		Kind: EventEnter, RoomKind: r.kind, Room: r.key,
		User: u.Name, Host: c.Host(), At: u.JoinTime,
	})
	r.logger.Debug().Str("user", u.Name).Int("size", r.users.Size()).Msg("entered")
}

func (r *OpenRoom) exit(c transport.Conn) {
	u := r.users.Remove(c.ID())
	if u == nil {
		return
	}
	duration := time.Since(u.JoinTime)

	r.fanOut(r.users.Snapshot(), func(*User) *protocol.Packet {
		return &protocol.Packet{
			Kind:     protocol.KindExitRoom,
			RoomName: r.key,
			UserName: u.Name,
		}
	})

	r.pub.notify(Event{
		Kind: EventExit, RoomKind: r.kind, Room: r.key,
		User: u.Name, Host: c.Host(), Duration: duration, At: time.Now(),
	})
	r.logger.Debug().Str("user", u.Name).Dur("session", duration).Msg("exited")
}

func (r *OpenRoom) chat(c transport.Conn, p *protocol.Packet) {
	if !p.MarkHandled() {
		return
	}
	sender, ok := r.resolveSender(c, p.Text)
	if !ok {
		return
	}
	r.fanOut(r.users.Snapshot(), func(*User) *protocol.Packet {
		return &protocol.Packet{
			Kind:     protocol.KindChat,
			RoomName: r.key,
			FromName: sender.Name,
			Text:     p.Text,
		}
	})
	r.pub.notify(Event{
		Kind: EventChat, RoomKind: r.kind, Room: r.key,
		User: sender.Name, Text: p.Text, At: time.Now(),
	})
}

func (r *OpenRoom) whisper(c transport.Conn, p *protocol.Packet) {
	if !p.MarkHandled() {
		return
	}
	sender, ok := r.resolveSender(c, p.Text)
	if !ok {
		return
	}
	// Target already gone is a normal race, not an error.
	target := r.users.GetByName(p.ToName)
	if target == nil {
		return
	}
	r.sendTo(target, &protocol.Packet{
		Kind:     protocol.KindWhisper,
		RoomName: r.key,
		FromName: sender.Name,
		ToName:   target.Name,
		Text:     p.Text,
	})
}

func (r *OpenRoom) beep(c transport.Conn, p *protocol.Packet) {
	if !p.MarkHandled() {
		return
	}
	sender, ok := r.resolveSender(c, "")
	if !ok {
		return
	}
	target := r.users.GetByName(p.ToName)
	if target == nil {
		return
	}
	r.sendTo(target, &protocol.Packet{
		Kind:     protocol.KindBeep,
		RoomName: r.key,
		FromName: sender.Name,
		ToName:   target.Name,
	})
}

// kick removes or disconnects a named occupant. The dispatcher has
// already verified the sender's monitor flag and handles the
// address-wide ban variant itself.
func (r *OpenRoom) kick(c transport.Conn, p *protocol.Packet) {
	if !p.MarkHandled() {
		return
	}
	target := r.users.GetByName(p.UserName)
	if target == nil {
		return
	}
	// Monitors and administrators are never kickable.
	if transport.BoolAttr(target.Conn, transport.AttrIsMonitor) ||
		transport.BoolAttr(target.Conn, transport.AttrIsAdmin) {
		return
	}
	requester := r.users.GetByConn(c.ID())
	monitorName := ""
	if requester != nil {
		monitorName = requester.Name
	}

	metrics.Kicks.WithLabelValues(string(p.Method)).Inc()
	r.pub.notify(Event{
		Kind: EventKick, RoomKind: r.kind, Room: r.key,
		User: target.Name, Host: target.Conn.Host(), Text: monitorName, At: time.Now(),
	})

	switch p.Method {
	case protocol.KickDisconnect:
		// Closing the connection runs its exit path in every room.
		target.Conn.Close(transport.StatusForbidden, "kicked")
	default:
		r.exit(target.Conn)
	}
}

// resolveSender returns the true occupant behind a connection, never
// trusting the client-declared name, after validating text length. A
// sender unknown to the room is a protocol violation.
func (r *OpenRoom) resolveSender(c transport.Conn, text string) (*User, bool) {
	if len(text) > r.limits.ChatText {
		c.Close(transport.StatusBadRequest, "text too long")
		return nil, false
	}
	sender := r.users.GetByConn(c.ID())
	if sender == nil {
		c.Close(transport.StatusBadRequest, "not in room")
		return nil, false
	}
	return sender, true
}

// fanOut delivers one freshly built packet per recipient. A failed
// send never aborts delivery to the rest.
func (r *OpenRoom) fanOut(recipients []*User, build func(recipient *User) *protocol.Packet) {
	metrics.BroadcastsSent.WithLabelValues(string(r.kind)).Inc()
	for _, u := range recipients {
		r.sendTo(u, build(u))
	}
}

func (r *OpenRoom) sendTo(u *User, p *protocol.Packet) {
	if err := u.Conn.Send(p); err != nil {
		metrics.SendFailures.Inc()
	}
}
