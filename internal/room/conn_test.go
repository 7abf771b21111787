package room

import (
	"sync"

	"github.com/google/uuid"

	"github.com/jgneff/volano-sub000/internal/protocol"
	"github.com/jgneff/volano-sub000/internal/transport"
)

// fakeConn records sent packets and close calls for assertions.
type fakeConn struct {
	id   uuid.UUID
	host string

	mu     sync.Mutex
	sent   []*protocol.Packet
	closed bool
	status int
	attrs  map[string]any
}

func newFakeConn(host string) *fakeConn {
	return &fakeConn{id: uuid.New(), host: host, attrs: make(map[string]any)}
}

func (c *fakeConn) ID() uuid.UUID    { return c.id }
func (c *fakeConn) Host() string     { return c.host }
func (c *fakeConn) HostName() string { return c.host }

func (c *fakeConn) Send(p *protocol.Packet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return transport.ErrClosed
	}
	c.sent = append(c.sent, p)
	return nil
}

func (c *fakeConn) Close(status int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.status = status
	}
}

func (c *fakeConn) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.attrs[key]
	return v, ok
}

func (c *fakeConn) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attrs[key] = value
}

func (c *fakeConn) AddObserver(o transport.Observer)    {}
func (c *fakeConn) RemoveObserver(o transport.Observer) {}

func (c *fakeConn) sentPackets() []*protocol.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*protocol.Packet, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) lastSent() *protocol.Packet {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// sentOfKind returns the packets of one kind, in order.
func (c *fakeConn) sentOfKind(kind protocol.Kind) []*protocol.Packet {
	var out []*protocol.Packet
	for _, p := range c.sentPackets() {
		if p.Kind == kind {
			out = append(out, p)
		}
	}
	return out
}

var testLimits = Limits{
	Capacity: 4,
	UserName: 20,
	RoomName: 50,
	ChatText: 100,
	Profile:  100,
}
