package room

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jgneff/volano-sub000/internal/metrics"
)

// Registry is the concurrency-safe directory of named rooms. Creation
// and removal are serialized on the registry lock, so create-if-absent
// is exactly-once under concurrent first access and a room found here
// cannot be swept before the caller releases the pin GetOrCreate and
// Get take on it.
type Registry struct {
	mu         sync.Mutex
	rooms      map[string]Room
	names      []string // insertion order, for directory listing
	ignoreCase bool
	logger     zerolog.Logger
	done       chan struct{}
	stopOnce   sync.Once
}

// NewRegistry creates an empty room registry.
func NewRegistry(ignoreCase bool, logger zerolog.Logger) *Registry {
	return &Registry{
		rooms:      make(map[string]Room),
		ignoreCase: ignoreCase,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

func (r *Registry) normalize(key string) string {
	if r.ignoreCase {
		return strings.ToLower(key)
	}
	return key
}

// GetOrCreate returns the room under key, creating it with create when
// absent. Exactly one room object ever exists per key. The returned
// room is pinned; the caller must Unpin after using it.
func (r *Registry) GetOrCreate(key string, create func() Room) (Room, bool) {
	norm := r.normalize(key)
	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[norm]; ok {
		room.Pin()
		return room, false
	}
	room := create()
	r.rooms[norm] = room
	r.names = append(r.names, key)
	room.Pin()
	metrics.RoomsCreated.WithLabelValues(string(room.Kind())).Inc()
	r.logger.Info().Str("room", key).Str("kind", string(room.Kind())).Msg("room created")
	return room, true
}

// Get returns the room under key pinned against sweeping, or nil. The
// caller must Unpin after use.
func (r *Registry) Get(key string) Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[r.normalize(key)]
	if !ok {
		return nil
	}
	room.Pin()
	return room
}

// Remove deletes the room under key.
func (r *Registry) Remove(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(r.normalize(key))
}

func (r *Registry) removeLocked(norm string) {
	if _, ok := r.rooms[norm]; !ok {
		return
	}
	delete(r.rooms, norm)
	for i, name := range r.names {
		if r.normalize(name) == norm {
			r.names = append(r.names[:i], r.names[i+1:]...)
			break
		}
	}
}

// List returns the names of listed rooms, in creation order, filtered
// by case-insensitive substring when filter is non-empty.
func (r *Registry) List(filter string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	filter = strings.ToLower(filter)
	var out []string
	for _, name := range r.names {
		room := r.rooms[r.normalize(name)]
		if room == nil || !room.Listed() {
			continue
		}
		if filter != "" && !strings.Contains(strings.ToLower(name), filter) {
			continue
		}
		out = append(out, name)
	}
	return out
}

// Snapshot returns every registered room for status reporting.
func (r *Registry) Snapshot() []Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Room, 0, len(r.rooms))
	for _, name := range r.names {
		if room := r.rooms[r.normalize(name)]; room != nil {
			out = append(out, room)
		}
	}
	return out
}

// Count returns the number of registered rooms.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// sweep removes every empty, unpinned room.
func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for norm, room := range r.rooms {
		if room.Size() == 0 && !room.Pinned() {
			r.removeLocked(norm)
			metrics.RoomsSwept.Inc()
			r.logger.Debug().Str("room", room.Key()).Msg("empty room swept")
		}
	}
}

// StartSweeper removes empty, unpinned rooms every interval until
// Stop.
func (r *Registry) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep()
			case <-r.done:
				return
			}
		}
	}()
}

// Stop terminates the sweeper. Safe to call more than once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}
