// Package room implements the chat room variants and their occupant
// bookkeeping: open rooms, moderated auditorium rooms, two-party
// private sessions, and the registries that own them.
package room

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jgneff/volano-sub000/internal/protocol"
	"github.com/jgneff/volano-sub000/internal/transport"
)

// User is one occupant of one room. A connection owns at most one User
// per room; the same connection may own Users in several rooms.
type User struct {
	Conn     transport.Conn
	Name     string
	Profile  string
	IsMember bool
	ShowLink bool
	JoinTime time.Time
}

// Info builds the roster entry for this user, including the host
// address only when the recipient is entitled to see it.
func (u *User) Info(withHost bool) protocol.UserInfo {
	info := protocol.UserInfo{
		Name:     u.Name,
		Profile:  u.Profile,
		IsMember: u.IsMember,
		ShowLink: u.ShowLink,
	}
	if withHost {
		info.Host = u.Conn.Host()
	}
	return info
}

// UserRegistry is the ordered, bounded occupant collection of a single
// room. Lookups are linear; room capacities are small.
type UserRegistry struct {
	mu         sync.Mutex
	users      []*User
	capacity   int // 0 or less means unbounded
	ignoreCase bool
}

// NewUserRegistry creates an empty registry with the given capacity
// and name-matching case policy.
func NewUserRegistry(capacity int, ignoreCase bool) *UserRegistry {
	return &UserRegistry{capacity: capacity, ignoreCase: ignoreCase}
}

func (r *UserRegistry) nameEqual(a, b string) bool {
	if r.ignoreCase {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// Put inserts a user, enforcing capacity unless the caller is
// privileged and always enforcing name uniqueness. On success it
// returns the occupants present before the insert, captured inside the
// same critical section so the entered indication reaches exactly the
// set that preceded the entrant.
func (r *UserRegistry) Put(u *User, privileged bool) (protocol.Result, []*User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cur := range r.users {
		if r.nameEqual(cur.Name, u.Name) {
			return protocol.ResultNameTaken, nil
		}
	}
	if !privileged && r.capacity > 0 && len(r.users) >= r.capacity {
		return protocol.ResultRoomFull, nil
	}
	prior := make([]*User, len(r.users))
	copy(prior, r.users)
	r.users = append(r.users, u)
	return protocol.ResultOK, prior
}

// GetByName returns the occupant with the given name, or nil.
func (r *UserRegistry) GetByName(name string) *User {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if r.nameEqual(u.Name, name) {
			return u
		}
	}
	return nil
}

// GetByConn returns the occupant owned by the given connection, or nil.
func (r *UserRegistry) GetByConn(id uuid.UUID) *User {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Conn.ID() == id {
			return u
		}
	}
	return nil
}

// Remove discards the occupant owned by the given connection,
// returning it, or nil when absent.
func (r *UserRegistry) Remove(id uuid.UUID) *User {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, u := range r.users {
		if u.Conn.ID() == id {
			r.users = append(r.users[:i], r.users[i+1:]...)
			return u
		}
	}
	return nil
}

// Snapshot returns a point-in-time copy of the occupant list for
// fan-out; membership changes during iteration cannot corrupt it.
func (r *UserRegistry) Snapshot() []*User {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*User, len(r.users))
	copy(out, r.users)
	return out
}

// Size returns the current occupant count.
func (r *UserRegistry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}
