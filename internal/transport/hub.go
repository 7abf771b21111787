package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jgneff/volano-sub000/internal/metrics"
)

// Hub tracks every live connection, indexed by id and by host address,
// and owns the admission turnstile bounding concurrent connections.
type Hub struct {
	logger     zerolog.Logger
	upgrader   websocket.Upgrader
	turnstile  *Turnstile
	floodDelay map[string]time.Duration
	idle       time.Duration
	readLimit  int64

	// OnConnect is invoked for each accepted connection before its
	// pumps start, letting the caller attach a dispatcher observer.
	OnConnect func(c Conn)

	mu     sync.Mutex
	byID   map[uuid.UUID]*WSConn
	byHost map[string]map[uuid.UUID]*WSConn
}

// NewHub creates a hub with the given turnstile capacity, pacing, and
// inbound frame size limit.
func NewHub(logger zerolog.Logger, maxConns int, flood map[string]time.Duration, idle time.Duration, readLimit int64) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		turnstile:  NewTurnstile(maxConns),
		floodDelay: flood,
		idle:       idle,
		readLimit:  readLimit,
		byID:       make(map[uuid.UUID]*WSConn),
		byHost:     make(map[string]map[uuid.UUID]*WSConn),
	}
}

// Turnstile exposes the admission gate.
func (h *Hub) Turnstile() *Turnstile { return h.turnstile }

// ServeWS upgrades an HTTP request to a chat connection. The turnstile
// is acquired before the upgrade and released when the connection
// closes.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.turnstile.Acquire()

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.turnstile.Release()
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newWSConn(ws, h, h.logger, h.floodDelay, h.idle, h.readLimit)
	h.add(c)
	metrics.ConnectionsOpen.Inc()

	if h.OnConnect != nil {
		h.OnConnect(c)
	}
	c.run()
}

func (h *Hub) add(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byID[c.id] = c
	hosts := h.byHost[c.host]
	if hosts == nil {
		hosts = make(map[uuid.UUID]*WSConn)
		h.byHost[c.host] = hosts
	}
	hosts[c.id] = c
}

func (h *Hub) remove(c *WSConn) {
	h.mu.Lock()
	if _, ok := h.byID[c.id]; ok {
		delete(h.byID, c.id)
		if hosts := h.byHost[c.host]; hosts != nil {
			delete(hosts, c.id)
			if len(hosts) == 0 {
				delete(h.byHost, c.host)
			}
		}
		h.mu.Unlock()
		h.turnstile.Release()
		return
	}
	h.mu.Unlock()
}

// Get returns the connection with the given id, or nil.
func (h *Hub) Get(id uuid.UUID) Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.byID[id]; ok {
		return c
	}
	return nil
}

// ByHost returns every live connection sharing a host address. Used for
// address-wide kick and ban.
func (h *Hub) ByHost(host string) []Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.byHost[host]
	out := make([]Conn, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// MemberOnline reports whether any live connection other than
// excluding has claimed the member name.
func (h *Hub) MemberOnline(name string, excluding uuid.UUID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.byID {
		if id == excluding {
			continue
		}
		if StringAttr(c, AttrMemberName) == name {
			return true
		}
	}
	return false
}

// HasHost reports whether any live connection is bound to the host.
func (h *Hub) HasHost(host string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byHost[host]) > 0
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.byID)
}

// CloseAll force-closes every connection, used at shutdown.
func (h *Hub) CloseAll(status int, reason string) {
	h.mu.Lock()
	conns := make([]*WSConn, 0, len(h.byID))
	for _, c := range h.byID {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.Close(status, reason)
	}
}
