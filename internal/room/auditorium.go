package room

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/jgneff/volano-sub000/internal/protocol"
	"github.com/jgneff/volano-sub000/internal/transport"
)

// AuditoriumRoom is a moderated stage/audience room. On-stage
// connections get the full open-room behavior by delegation; audience
// connections may only enter, exit, and ask questions. Audience chat
// is never echoed to the audience: it is re-tagged as a question and
// delivered only to on-stage administrators.
type AuditoriumRoom struct {
	stage    *OpenRoom
	audience *UserRegistry
	logger   zerolog.Logger
}

// NewAuditoriumRoom creates an empty auditorium. The audience is
// unbounded; the stage uses the normal room capacity.
func NewAuditoriumRoom(key string, limits Limits, logger zerolog.Logger, permanent bool) *AuditoriumRoom {
	stage := NewOpenRoom(key, Auditorium, "", limits, logger, permanent)
	stage.listed = false
	return &AuditoriumRoom{
		stage:    stage,
		audience: NewUserRegistry(0, limits.IgnoreCase),
		logger:   logger.With().Str("room", key).Logger(),
	}
}

// Key returns the registry key.
func (r *AuditoriumRoom) Key() string { return r.stage.key }

// Kind returns Auditorium.
func (r *AuditoriumRoom) Kind() Kind { return Auditorium }

// Size counts stage and audience together; the sweeper removes the
// room only when both are empty.
func (r *AuditoriumRoom) Size() int { return r.stage.Size() + r.audience.Size() }

// Pinned defers to the stage room's guest count.
func (r *AuditoriumRoom) Pinned() bool { return r.stage.Pinned() }

// Pin adds one guest reference.
func (r *AuditoriumRoom) Pin() { r.stage.Pin() }

// Unpin drops one guest reference.
func (r *AuditoriumRoom) Unpin() { r.stage.Unpin() }

// Listed auditorium rooms are kept out of the public directory.
func (r *AuditoriumRoom) Listed() bool { return false }

// Subscribe registers an event subscriber on the stage publisher.
func (r *AuditoriumRoom) Subscribe(s Subscriber) { r.stage.Subscribe(s) }

// Unsubscribe removes an event subscriber.
func (r *AuditoriumRoom) Unsubscribe(s Subscriber) { r.stage.Unsubscribe(s) }

// Snapshot lists the stage roster; the audience is never enumerated to
// clients.
func (r *AuditoriumRoom) Snapshot(withHost bool) []protocol.UserInfo {
	return r.stage.Snapshot(withHost)
}

// AudienceSize returns the audience headcount for status reporting.
func (r *AuditoriumRoom) AudienceSize() int { return r.audience.Size() }

// ResolveName checks the stage first, then the audience.
func (r *AuditoriumRoom) ResolveName(c transport.Conn) string {
	if name := r.stage.ResolveName(c); name != "" {
		return name
	}
	if u := r.audience.GetByConn(c.ID()); u != nil {
		return u.Name
	}
	return ""
}

// FindConn checks the stage first, then the audience.
func (r *AuditoriumRoom) FindConn(name string) transport.Conn {
	if c := r.stage.FindConn(name); c != nil {
		return c
	}
	if u := r.audience.GetByName(name); u != nil {
		return u.Conn
	}
	return nil
}

// Handle routes one inbound packet by the sender's stage flag.
func (r *AuditoriumRoom) Handle(c transport.Conn, p *protocol.Packet) {
	if transport.BoolAttr(c, transport.AttrOnStage) {
		r.handleStage(c, p)
		return
	}
	r.handleAudience(c, p)
}

func (r *AuditoriumRoom) handleStage(c transport.Conn, p *protocol.Packet) {
	switch p.Kind {
	case protocol.KindChat:
		if !p.MarkHandled() {
			return
		}
		sender, ok := r.stage.resolveSender(c, p.Text)
		if !ok {
			return
		}
		// Everyone hears the stage: open-room fan-out to the stage set
		// plus a direct send to each audience member, failures ignored
		// identically.
		out := &protocol.Packet{
			Kind:     protocol.KindChat,
			RoomName: r.stage.key,
			FromName: sender.Name,
			Text:     p.Text,
		}
		r.stage.fanOut(r.stage.users.Snapshot(), func(*User) *protocol.Packet { return out.Clone() })
		for _, u := range r.audience.Snapshot() {
			r.stage.sendTo(u, out.Clone())
		}
		r.stage.pub.notify(Event{
			Kind: EventChat, RoomKind: Auditorium, Room: r.stage.key,
			User: sender.Name, Text: p.Text, At: time.Now(),
		})
	case protocol.KindEnterRoom:
		r.stage.enter(c, p)
		if u := r.stage.users.GetByConn(c.ID()); u != nil {
			// The audience sees stage arrivals too.
			for _, a := range r.audience.Snapshot() {
				r.stage.sendTo(a, &protocol.Packet{
					Kind:     protocol.KindEnterRoom,
					RoomName: r.stage.key,
					UserName: u.Name,
					Profile:  u.Profile,
				})
			}
		}
	default:
		r.stage.Handle(c, p)
	}
}

func (r *AuditoriumRoom) handleAudience(c transport.Conn, p *protocol.Packet) {
	switch p.Kind {
	case protocol.KindEnterRoom:
		r.enterAudience(c, p)
	case protocol.KindExitRoom:
		p.MarkHandled()
		r.audience.Remove(c.ID())
	case protocol.KindChat:
		r.question(c, p)
	}
	// Anything else from the audience is silently ignored.
}

func (r *AuditoriumRoom) enterAudience(c transport.Conn, p *protocol.Packet) {
	if !p.MarkHandled() {
		return
	}
	if p.UserName == "" || len(p.UserName) > r.stage.limits.UserName {
		c.Close(transport.StatusBadRequest, "bad enter request")
		return
	}
	if r.audience.GetByConn(c.ID()) != nil {
		c.Close(transport.StatusBadRequest, "already in room")
		return
	}
	u := &User{Conn: c, Name: p.UserName, JoinTime: time.Now()}
	if result, _ := r.audience.Put(u, false); result != protocol.ResultOK {
		_ = c.Send(protocol.Confirm(p, result))
		return
	}
	transport.AppendStringAttr(c, transport.AttrJoinedRooms, r.stage.key)

	// Audience entries are invisible: no broadcast, just the stage
	// roster back to the entrant.
	confirm := protocol.Confirm(p, protocol.ResultOK)
	confirm.Users = r.stage.Snapshot(false)
	_ = c.Send(confirm)
}

// question re-tags audience chat and delivers it only to occupants
// that are simultaneously on stage and administrators.
func (r *AuditoriumRoom) question(c transport.Conn, p *protocol.Packet) {
	if !p.MarkHandled() {
		return
	}
	if len(p.Text) > r.stage.limits.ChatText {
		c.Close(transport.StatusBadRequest, "text too long")
		return
	}
	sender := r.audience.GetByConn(c.ID())
	if sender == nil {
		c.Close(transport.StatusBadRequest, "not in room")
		return
	}
	for _, u := range r.stage.users.Snapshot() {
		if !transport.BoolAttr(u.Conn, transport.AttrIsAdmin) {
			continue
		}
		r.stage.sendTo(u, &protocol.Packet{
			Kind:     protocol.KindChat,
			RoomName: r.stage.key,
			FromName: sender.Name,
			Text:     p.Text,
			Question: true,
		})
	}
	r.stage.pub.notify(Event{
		Kind: EventQuestion, RoomKind: Auditorium, Room: r.stage.key,
		User: sender.Name, Text: p.Text, At: time.Now(),
	})
}

// ConnClosed removes the connection from whichever set holds it.
func (r *AuditoriumRoom) ConnClosed(c transport.Conn) {
	if r.audience.Remove(c.ID()) != nil {
		return
	}
	r.stage.ConnClosed(c)
}
