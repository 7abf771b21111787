package room

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jgneff/volano-sub000/internal/metrics"
	"github.com/jgneff/volano-sub000/internal/protocol"
	"github.com/jgneff/volano-sub000/internal/transport"
)

// PrivateSession is a one-on-one chat between exactly two connections,
// identified by a globally unique integer id. Close is single-shot: it
// runs its cleanup and writes its transcript event exactly once no
// matter how many disconnect and exit paths race to trigger it.
type PrivateSession struct {
	id       int64
	from     transport.Conn
	fromName string
	to       transport.Conn
	toName   string
	start    time.Time
	limits   Limits
	logger   zerolog.Logger
	registry *PrivateRegistry
	pub      publisher

	mu         sync.Mutex
	open       bool
	toAttached bool
}

// ID returns the session id.
func (s *PrivateSession) ID() int64 { return s.id }

// Open reports whether the session is still live.
func (s *PrivateSession) Open() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// Subscribe registers an event subscriber.
func (s *PrivateSession) Subscribe(sub Subscriber) { s.pub.Subscribe(sub) }

// Handle routes one inbound packet addressed to this session. The
// responding connection becomes a listener on its first packet here;
// attaching both sides at creation would let two dispatch loops grab
// each other's locks.
func (s *PrivateSession) Handle(c transport.Conn, p *protocol.Packet) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	if !s.toAttached && c.ID() == s.to.ID() {
		s.toAttached = true
		transport.AppendInt64Attr(c, transport.AttrPrivateIDs, s.id)
	}
	s.mu.Unlock()

	switch p.Kind {
	case protocol.KindChat:
		if !p.MarkHandled() {
			return
		}
		if len(p.Text) > s.limits.ChatText {
			c.Close(transport.StatusBadRequest, "text too long")
			return
		}
		other, _ := s.other(c)
		if other == nil {
			return
		}
		if err := other.Send(&protocol.Packet{
			Kind:     protocol.KindChat,
			RoomID:   s.id,
			FromName: s.nameOf(c),
			Text:     p.Text,
		}); err != nil {
			metrics.SendFailures.Inc()
		}
	case protocol.KindExitPrivate:
		if !p.MarkHandled() {
			return
		}
		if other, _ := s.other(c); other != nil {
			_ = other.Send(&protocol.Packet{
				Kind:     protocol.KindExitPrivate,
				RoomID:   s.id,
				FromName: s.nameOf(c),
			})
		}
		s.Close()
	}
}

// other returns the participant opposite c, or nil when c is neither
// side (a stale or spoofed packet).
func (s *PrivateSession) other(c transport.Conn) (transport.Conn, string) {
	switch c.ID() {
	case s.from.ID():
		return s.to, s.toName
	case s.to.ID():
		return s.from, s.fromName
	}
	return nil, ""
}

// nameOf returns the session-recorded name of the participant, never
// the client-declared one.
func (s *PrivateSession) nameOf(c transport.Conn) string {
	if c.ID() == s.from.ID() {
		return s.fromName
	}
	return s.toName
}

// ConnClosed is invoked from either participant's disconnect path.
func (s *PrivateSession) ConnClosed(c transport.Conn) {
	if other, _ := s.other(c); other != nil {
		_ = other.Send(&protocol.Packet{
			Kind:     protocol.KindExitPrivate,
			RoomID:   s.id,
			FromName: s.nameOf(c),
		})
	}
	s.Close()
}

// Close tears the session down exactly once: it flips the open flag,
// unregisters the session, and notifies subscribers a single time even
// when both participants' paths race here.
func (s *PrivateSession) Close() {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return
	}
	s.open = false
	s.mu.Unlock()

	s.registry.remove(s.id)
	metrics.PrivateSessions.Dec()
	s.pub.notify(Event{
		Kind: EventClosed, RoomKind: Private, Room: s.fromName + "/" + s.toName,
		User: s.fromName, Duration: time.Since(s.start), At: time.Now(),
	})
	s.logger.Debug().Int64("session", s.id).Msg("private session closed")
}

// PrivateRegistry owns the live private sessions, keyed by a
// monotonically increasing id.
type PrivateRegistry struct {
	mu       sync.Mutex
	sessions map[int64]*PrivateSession
	nextID   int64
	limits   Limits
	logger   zerolog.Logger
}

// NewPrivateRegistry creates an empty session registry.
func NewPrivateRegistry(limits Limits, logger zerolog.Logger) *PrivateRegistry {
	return &PrivateRegistry{
		sessions: make(map[int64]*PrivateSession),
		limits:   limits,
		logger:   logger,
	}
}

// Create allocates a new session id, registers the session, and
// attaches the initiating connection as a listener. The responder is
// attached lazily by Handle.
func (r *PrivateRegistry) Create(from transport.Conn, fromName string, to transport.Conn, toName string) *PrivateSession {
	r.mu.Lock()
	r.nextID++
	s := &PrivateSession{
		id:       r.nextID,
		from:     from,
		fromName: fromName,
		to:       to,
		toName:   toName,
		start:    time.Now(),
		limits:   r.limits,
		logger:   r.logger,
		registry: r,
		open:     true,
	}
	r.sessions[s.id] = s
	r.mu.Unlock()

	transport.AppendInt64Attr(from, transport.AttrPrivateIDs, s.id)
	metrics.PrivateSessions.Inc()
	metrics.RoomsCreated.WithLabelValues(string(Private)).Inc()
	return s
}

// Get returns the session with the given id, or nil.
func (r *PrivateRegistry) Get(id int64) *PrivateSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// Count returns the number of open sessions.
func (r *PrivateRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *PrivateRegistry) remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}
