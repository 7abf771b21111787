package transport

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/jgneff/volano-sub000/internal/metrics"
	"github.com/jgneff/volano-sub000/internal/protocol"
)

const (
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
)

// WSConn is the WebSocket implementation of Conn. One goroutine runs
// the receive pump, one the send pump; the send pump applies the
// per-kind flood delay before each write.
type WSConn struct {
	id       uuid.UUID
	ws       *websocket.Conn
	host     string
	hostName string
	hub      *Hub
	logger   zerolog.Logger

	send       chan outbound
	floodDelay map[string]time.Duration
	idle       time.Duration
	readLimit  int64

	// writeMu serializes data-frame writes between the send pump and
	// the closing flush.
	writeMu sync.Mutex

	attrMu sync.RWMutex
	attrs  map[string]any

	obsMu     sync.Mutex
	observers []Observer

	closeOnce sync.Once
	closed    chan struct{}
}

type outbound struct {
	kind string
	data []byte
}

func newWSConn(ws *websocket.Conn, hub *Hub, logger zerolog.Logger, flood map[string]time.Duration, idle time.Duration, readLimit int64) *WSConn {
	host, _, err := net.SplitHostPort(ws.RemoteAddr().String())
	if err != nil {
		host = ws.RemoteAddr().String()
	}
	hostName := host
	if names, err := net.LookupAddr(host); err == nil && len(names) > 0 {
		hostName = names[0]
	}
	id := uuid.New()
	return &WSConn{
		id:         id,
		ws:         ws,
		host:       host,
		hostName:   hostName,
		hub:        hub,
		logger:     logger.With().Str("conn", id.String()).Str("host", host).Logger(),
		send:       make(chan outbound, sendBuffer),
		floodDelay: flood,
		idle:       idle,
		readLimit:  readLimit,
		attrs:      make(map[string]any),
		closed:     make(chan struct{}),
	}
}

// ID returns the stable per-connection identifier.
func (c *WSConn) ID() uuid.UUID { return c.id }

// Host returns the source host address.
func (c *WSConn) Host() string { return c.host }

// HostName returns the reverse name of the source address.
func (c *WSConn) HostName() string { return c.hostName }

// Get reads one attribute.
func (c *WSConn) Get(key string) (any, bool) {
	c.attrMu.RLock()
	defer c.attrMu.RUnlock()
	v, ok := c.attrs[key]
	return v, ok
}

// Set writes one attribute.
func (c *WSConn) Set(key string, value any) {
	c.attrMu.Lock()
	defer c.attrMu.Unlock()
	c.attrs[key] = value
}

// AddObserver registers a packet listener.
func (c *WSConn) AddObserver(o Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	c.observers = append(c.observers, o)
}

// RemoveObserver drops a packet listener. Safe to call from within a
// notification.
func (c *WSConn) RemoveObserver(o Observer) {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	for i, cur := range c.observers {
		if cur == o {
			c.observers = append(c.observers[:i:i], c.observers[i+1:]...)
			return
		}
	}
}

func (c *WSConn) snapshotObservers() []Observer {
	c.obsMu.Lock()
	defer c.obsMu.Unlock()
	out := make([]Observer, len(c.observers))
	copy(out, c.observers)
	return out
}

// Send queues one packet for the send pump. It fails fast once the
// connection is closed or the outbound buffer is full.
func (c *WSConn) Send(p *protocol.Packet) error {
	data, err := protocol.Encode(p)
	if err != nil {
		return err
	}
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	select {
	case c.send <- outbound{kind: string(p.Kind), data: data}:
		return nil
	case <-c.closed:
		return ErrClosed
	default:
		// Slow consumer: drop the connection rather than block the
		// sender's dispatch loop.
		c.Close(StatusTimeout, "send buffer full")
		return ErrClosed
	}
}

// Close tears down the connection once, delivering the nil close
// sentinel to each observer. Queued outbound packets are flushed
// before the close frame, so a denial confirmation always precedes the
// close the peer sees.
func (c *WSConn) Close(status int, reason string) {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		c.flushLocked()
		msg := websocket.FormatCloseMessage(status, reason)
		deadline := time.Now().Add(writeTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.ws.Close()
		c.writeMu.Unlock()
		if c.hub != nil {
			c.hub.remove(c)
		}
		for _, o := range c.snapshotObservers() {
			o.OnPacket(c, nil)
		}
		metrics.ConnectionsOpen.Dec()
		c.logger.Info().Int("status", status).Str("reason", reason).Msg("connection closed")
	})
}

// run starts both pumps and blocks until the receive pump exits.
func (c *WSConn) run() {
	go c.sendPump()
	c.receivePump()
}

// flushLocked writes every queued outbound packet. Callers hold
// writeMu.
func (c *WSConn) flushLocked() {
	for {
		select {
		case out := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			_ = c.ws.WriteMessage(websocket.TextMessage, out.data)
		default:
			return
		}
	}
}

func (c *WSConn) sendPump() {
	for {
		select {
		case out := <-c.send:
			if delay := c.floodDelay[out.kind]; delay > 0 {
				time.Sleep(delay)
			}
			c.writeMu.Lock()
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := c.ws.WriteMessage(websocket.TextMessage, out.data)
			c.writeMu.Unlock()
			if err != nil {
				c.Close(StatusNormal, "write failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *WSConn) receivePump() {
	defer c.Close(StatusNormal, "receive pump done")

	if c.readLimit > 0 {
		// Oversized frames fail the read before they are buffered,
		// ahead of any per-field length check.
		c.ws.SetReadLimit(c.readLimit)
	}

	// Idle watchdog: surfaces inactivity to observers so the core can
	// run its liveness pings before the hard deadline below fires.
	activity := make(chan struct{}, 1)
	if c.idle > 0 {
		go c.idleWatch(activity)
	}

	for {
		if c.idle > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.idle * 4))
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		select {
		case activity <- struct{}{}:
		default:
		}
		p, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("undecodable packet")
			c.Close(StatusBadRequest, "bad packet")
			return
		}
		metrics.PacketsReceived.WithLabelValues(string(p.Kind)).Inc()
		for _, o := range c.snapshotObservers() {
			o.OnPacket(c, p)
		}
	}
}

func (c *WSConn) idleWatch(activity <-chan struct{}) {
	timer := time.NewTimer(c.idle)
	defer timer.Stop()
	for {
		select {
		case <-activity:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(c.idle)
		case <-timer.C:
			for _, o := range c.snapshotObservers() {
				o.OnIdle(c)
			}
			timer.Reset(c.idle)
		case <-c.closed:
			return
		}
	}
}
