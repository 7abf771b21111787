package dispatch

import (
	"context"
	"strings"

	"github.com/jgneff/volano-sub000/internal/crypto"
	"github.com/jgneff/volano-sub000/internal/metrics"
	"github.com/jgneff/volano-sub000/internal/protocol"
	"github.com/jgneff/volano-sub000/internal/room"
	"github.com/jgneff/volano-sub000/internal/transport"
)

// admit runs the ordered admission checks. The first failing check
// wins: one confirmation echoing the reason, then close — never a
// silent drop.
func (d *Dispatcher) admit(p *protocol.Packet) {
	cfg := d.ctx.Cfg
	host := d.conn.Host()

	if !cfg.AllowDuplicateAddrs && len(d.ctx.Hub.ByHost(host)) > 1 {
		d.deny(p, protocol.ResultHostDuplicate)
		return
	}
	if !d.ctx.Access.IsHostAllowed(host) {
		d.deny(p, protocol.ResultHostDenied)
		return
	}
	if p.Referrer != "" && !d.ctx.Access.IsReferrerAllowed(p.Referrer) {
		d.deny(p, protocol.ResultDocDenied)
		return
	}
	if !versionCompatible(p.Version, cfg.Version) {
		d.deny(p, protocol.ResultVersionDenied)
		return
	}
	if p.Kind == protocol.KindPasswordAccess {
		if !d.memberAccess(p) {
			return
		}
	}

	// Dynamic room: attach to the room named by the client, falling
	// back to the document base. Creation is exactly-once under the
	// registry lock; the pin taken here is this connection's guest
	// reference, released on disconnect.
	if name := dynamicRoomName(p); name != "" && len(name) <= cfg.RoomNameLimit {
		r, _ := d.ctx.Rooms.GetOrCreate(name, func() room.Room {
			return d.ctx.NewOpenRoom(name, room.Personal, p.DocumentBase, false)
		})
		transport.AppendStringAttr(d.conn, transport.AttrCreatedRooms, r.Key())
	}

	metrics.ConnectionsAccepted.Inc()

	if cfg.ClientAuthEnabled && d.ctx.AuthKey != nil {
		nonce, err := crypto.NewChallenge()
		if err != nil {
			d.conn.Close(transport.StatusNotAcceptable, "challenge failed")
			return
		}
		d.nonce = nonce
		d.conn.Set(transport.AttrNonce, nonce)
		d.state = statePendingAuth
		_ = d.conn.Send(&protocol.Packet{Kind: protocol.KindAuthenticate, Nonce: nonce})
		return
	}

	d.confirmAdmission(p)
}

// handleAuthenticate verifies the signature over the server-issued
// challenge bytes with the fixed public key.
func (d *Dispatcher) handleAuthenticate(p *protocol.Packet) {
	if p.Kind != protocol.KindAuthenticate {
		d.conn.Close(transport.StatusBadRequest, "authenticate required")
		return
	}
	if !p.MarkHandled() {
		return
	}
	if p.Signature == "" {
		d.conn.Close(transport.StatusBadRequest, "missing signature")
		return
	}
	if err := crypto.VerifyChallenge(d.ctx.AuthKey, d.nonce, p.Signature); err != nil {
		d.logger.Warn().Err(err).Msg("client authentication failed")
		d.conn.Close(transport.StatusNotAcceptable, "bad signature")
		return
	}
	d.confirmAdmission(p)
}

// confirmAdmission moves the connection to the free state and sends
// the room directory.
func (d *Dispatcher) confirmAdmission(p *protocol.Packet) {
	d.state = stateFree
	confirm := protocol.Confirm(p, protocol.ResultOK)
	confirm.Rooms = d.ctx.Rooms.List("")
	_ = d.conn.Send(confirm)
	d.logger.Info().Str("host", d.conn.Host()).Msg("connection admitted")
}

// memberAccess validates password access against the member directory
// and claims the member name process-wide.
func (d *Dispatcher) memberAccess(p *protocol.Packet) bool {
	if d.ctx.Members == nil || p.MemberName == "" {
		d.deny(p, protocol.ResultBadPassword)
		return false
	}
	m, err := d.ctx.Members.Authenticate(context.Background(), p.MemberName, p.Password)
	if err != nil {
		d.logger.Error().Err(err).Msg("member directory lookup failed")
		d.deny(p, protocol.ResultBadPassword)
		return false
	}
	if m == nil {
		d.deny(p, protocol.ResultBadPassword)
		return false
	}
	// A member name may be online once.
	if d.ctx.Hub.MemberOnline(p.MemberName, d.conn.ID()) {
		d.deny(p, protocol.ResultMemberTaken)
		return false
	}
	d.conn.Set(transport.AttrMemberName, m.Name)
	if m.Monitor {
		d.conn.Set(transport.AttrIsMonitor, true)
		d.conn.Set(transport.AttrIsAdmin, true)
	}
	return true
}

// deny reports the single documented denial reason and closes.
func (d *Dispatcher) deny(p *protocol.Packet, result protocol.Result) {
	metrics.ConnectionsDenied.WithLabelValues(string(result)).Inc()
	_ = d.conn.Send(protocol.Confirm(p, result))
	d.conn.Close(transport.StatusForbidden, string(result))
}

// versionCompatible accepts clients whose major protocol version
// matches the server's. An empty client version is a legacy client and
// accepted.
func versionCompatible(client, server string) bool {
	if client == "" {
		return true
	}
	return major(client) == major(server)
}

func major(v string) string {
	if i := strings.IndexByte(v, '.'); i >= 0 {
		return v[:i]
	}
	return v
}

// dynamicRoomName picks the room a connection is bound to at
// admission: the explicit room name, else the last path element of the
// document base.
func dynamicRoomName(p *protocol.Packet) string {
	if p.RoomName != "" {
		return p.RoomName
	}
	if p.DocumentBase == "" {
		return ""
	}
	base := strings.TrimRight(p.DocumentBase, "/")
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	return base
}
