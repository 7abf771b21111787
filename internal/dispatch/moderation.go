package dispatch

import (
	"github.com/jgneff/volano-sub000/internal/metrics"
	"github.com/jgneff/volano-sub000/internal/protocol"
	"github.com/jgneff/volano-sub000/internal/transport"
)

// kick handles the moderation packet. Remove and disconnect are
// delegated to the room; the ban variant is address-wide and handled
// here: every connection bound to the target address is closed, not
// just the named user, and the ban is recorded only when no monitor
// shares that address.
func (d *Dispatcher) kick(p *protocol.Packet) {
	if !transport.BoolAttr(d.conn, transport.AttrIsMonitor) {
		d.conn.Close(transport.StatusBadRequest, "not a monitor")
		return
	}

	r := d.ctx.Rooms.Get(p.RoomName)
	if r == nil {
		_ = d.conn.Send(protocol.Confirm(p, protocol.ResultNoSuchRoom))
		return
	}
	defer r.Unpin()

	if p.Method != protocol.KickBan {
		r.Handle(d.conn, p)
		return
	}
	if !p.MarkHandled() {
		return
	}

	target := r.FindConn(p.UserName)
	if target == nil {
		return
	}
	if transport.BoolAttr(target, transport.AttrIsMonitor) ||
		transport.BoolAttr(target, transport.AttrIsAdmin) {
		// Monitors and administrators are never banned.
		return
	}

	addr := target.Host()
	peers := d.ctx.Hub.ByHost(addr)

	// A monitor sharing the target address protects it: the ban is
	// not recorded, and monitor connections stay up.
	protected := false
	for _, c := range peers {
		if transport.BoolAttr(c, transport.AttrIsMonitor) {
			protected = true
			break
		}
	}

	if !protected {
		d.ctx.Access.Bans().Add(addr, target.HostName(), p.RoomName, p.UserName,
			r.ResolveName(d.conn))
	}

	for _, c := range peers {
		if transport.BoolAttr(c, transport.AttrIsMonitor) ||
			transport.BoolAttr(c, transport.AttrIsAdmin) {
			continue
		}
		c.Close(transport.StatusForbidden, "banned")
	}

	metrics.Kicks.WithLabelValues(string(protocol.KickBan)).Inc()
	d.logger.Info().
		Str("address", addr).
		Str("user", p.UserName).
		Str("room", p.RoomName).
		Bool("recorded", !protected).
		Msg("kick with ban")
}
