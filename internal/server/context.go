// Package server defines the process-wide context handed to every
// component that needs registries, configuration, stores, or logging.
// Nothing in the core reaches for ambient global state.
package server

import (
	"crypto/ed25519"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jgneff/volano-sub000/internal/access"
	"github.com/jgneff/volano-sub000/internal/config"
	"github.com/jgneff/volano-sub000/internal/room"
	"github.com/jgneff/volano-sub000/internal/store"
	"github.com/jgneff/volano-sub000/internal/transport"
)

// ConnIndex is the global connection lookup the core needs from the
// transport: address-wide kick/ban and member-name uniqueness.
type ConnIndex interface {
	ByHost(host string) []transport.Conn
	MemberOnline(name string, excluding uuid.UUID) bool
}

// Context is constructed once in main and passed by reference.
type Context struct {
	Cfg    *config.Config
	Logger zerolog.Logger
	Limits room.Limits

	Rooms    *room.Registry
	Privates *room.PrivateRegistry
	Access   *access.Control
	Hub      ConnIndex

	// Members is nil when no member directory is configured; password
	// access is then always denied.
	Members store.MemberDirectory
	// Transcript is nil when transcript logging is disabled.
	Transcript *store.TranscriptStore

	// AuthKey is the fixed public key for the client-authentication
	// challenge; nil when client auth is disabled.
	AuthKey ed25519.PublicKey
}

// NewOpenRoom builds an open room with the shared limits and attaches
// the transcript subscriber when enabled.
func (c *Context) NewOpenRoom(key string, kind room.Kind, docBase string, permanent bool) room.Room {
	r := room.NewOpenRoom(key, kind, docBase, c.Limits, c.Logger, permanent)
	if c.Transcript != nil {
		r.Subscribe(c.Transcript)
	}
	return r
}

// NewAuditoriumRoom builds an auditorium room with the shared limits
// and attaches the transcript subscriber when enabled.
func (c *Context) NewAuditoriumRoom(key string, permanent bool) room.Room {
	r := room.NewAuditoriumRoom(key, c.Limits, c.Logger, permanent)
	if c.Transcript != nil {
		r.Subscribe(c.Transcript)
	}
	return r
}

// NewPrivateSession registers a new session and attaches the
// transcript subscriber when enabled.
func (c *Context) NewPrivateSession(from transport.Conn, fromName string, to transport.Conn, toName string) *room.PrivateSession {
	s := c.Privates.Create(from, fromName, to, toName)
	if c.Transcript != nil {
		s.Subscribe(c.Transcript)
	}
	return s
}
