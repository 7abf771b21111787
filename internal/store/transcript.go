package store

import (
	"context"
	"database/sql"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/jgneff/volano-sub000/internal/room"
)

// TranscriptStore appends one row per room event to SQLite. It
// implements room.Subscriber so rooms can publish to it directly; a
// per-room-kind toggle decides what gets written.
type TranscriptStore struct {
	db      *sql.DB
	logger  zerolog.Logger
	enabled map[room.Kind]bool

	mu      sync.Mutex // guards entropy
	entropy *ulid.MonotonicEntropy
}

// NewTranscriptStore opens (or creates) the transcript database. The
// enabled map gates writing per room kind.
func NewTranscriptStore(ctx context.Context, dbPath string, enabled map[room.Kind]bool, logger zerolog.Logger) (*TranscriptStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS transcript (
		id TEXT PRIMARY KEY,
		room_kind TEXT NOT NULL,
		room TEXT NOT NULL,
		event TEXT NOT NULL,
		user TEXT NOT NULL,
		host TEXT DEFAULT '',
		text TEXT DEFAULT '',
		duration_ms INTEGER DEFAULT 0,
		at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transcript_room ON transcript(room, at);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, err
	}

	return &TranscriptStore{
		db:      db,
		logger:  logger,
		enabled: enabled,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

// Close closes the database.
func (s *TranscriptStore) Close() error {
	return s.db.Close()
}

// Notify implements room.Subscriber. Write failures are logged, never
// propagated back into the room's dispatch path.
func (s *TranscriptStore) Notify(e room.Event) {
	if s == nil || !s.enabled[e.RoomKind] {
		return
	}
	s.mu.Lock()
	id := ulid.MustNew(ulid.Timestamp(e.At), s.entropy).String()
	s.mu.Unlock()
	_, err := s.db.Exec(`
		INSERT INTO transcript (id, room_kind, room, event, user, host, text, duration_ms, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, string(e.RoomKind), e.Room, string(e.Kind), e.User, e.Host, e.Text, e.Duration.Milliseconds(), e.At)
	if err != nil {
		s.logger.Error().Err(err).Str("room", e.Room).Msg("transcript write failed")
	}
}
