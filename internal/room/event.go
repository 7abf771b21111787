package room

import (
	"sync"
	"time"
)

// EventKind labels a room lifecycle event.
type EventKind string

const (
	EventEnter    EventKind = "enter"
	EventExit     EventKind = "exit"
	EventKick     EventKind = "kick"
	EventChat     EventKind = "chat"
	EventQuestion EventKind = "question"
	EventClosed   EventKind = "closed" // private session ended
)

// Event is the canonical record handed to room subscribers.
type Event struct {
	Kind     EventKind
	RoomKind Kind
	Room     string
	User     string
	Host     string
	Text     string
	Duration time.Duration
	At       time.Time
}

// Subscriber receives room events synchronously in registration order.
type Subscriber interface {
	Notify(e Event)
}

// publisher holds an ordered subscriber list. Notification iterates a
// snapshot, so Unsubscribe is safe to call from within Notify.
type publisher struct {
	mu   sync.Mutex
	subs []Subscriber
}

func (p *publisher) Subscribe(s Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = append(p.subs, s)
}

func (p *publisher) Unsubscribe(s Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.subs {
		if cur == s {
			p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
			return
		}
	}
}

func (p *publisher) notify(e Event) {
	p.mu.Lock()
	subs := make([]Subscriber, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()
	for _, s := range subs {
		s.Notify(e)
	}
}
