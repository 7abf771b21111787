// Package config reads server configuration from environment variables,
// loading a .env file first when present.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the chat server.
type Config struct {
	Port    string
	Env     string
	Version string // protocol version the server accepts

	// Admission
	MaxConnections      int   // turnstile bound on concurrent connections
	MaxPacketBytes      int64 // inbound frame size limit on the wire
	AllowDuplicateAddrs bool  // permit two live connections from one host
	ClientAuthEnabled   bool
	ClientAuthPublicKey string // base64 Ed25519 public key

	// Access-control table files (host and referrer allow/deny)
	HostsAllowFile     string
	HostsDenyFile      string
	ReferrersAllowFile string
	ReferrersDenyFile  string

	// Limits
	RoomCapacity     int
	UserNameLimit    int
	RoomNameLimit    int
	ChatTextLimit    int
	ProfileLimit     int
	CaseInsensitive  bool // name-uniqueness case policy
	RoomSweepEvery   time.Duration
	BanSweepEvery    time.Duration
	IdleTimeout      time.Duration
	MaxLivenessPings int

	// Ban durations in minutes: -1 = forever, 0 = disabled.
	BanStaticMinutes   int
	BanDynamicMinutes  int
	BanNetblockMinutes int
	BanNetblockMask    string   // dotted octets, e.g. 255.255.255.0
	BanDynamicHosts    []string // hostname suffixes treated as dynamic pools

	// Member directory (Postgres); empty disables password access.
	MemberDirectoryURL string

	// Transcript logging (SQLite); empty path disables all transcripts.
	TranscriptPath     string
	TranscriptPublic   bool
	TranscriptPersonal bool
	TranscriptPrivate  bool
	TranscriptEvent    bool

	// Per-packet-kind flood delay applied by the transport write pump.
	FloodDelay map[string]time.Duration

	// Auditorium
	EntrancePrefix string
}

// Load reads configuration from environment variables. In development,
// it loads from a .env file if present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port:    getEnv("PORT", "8000"),
		Env:     getEnv("ENV", "development"),
		Version: getEnv("PROTOCOL_VERSION", "2.0"),

		MaxConnections:      getInt("MAX_CONNECTIONS", 1000),
		MaxPacketBytes:      int64(getInt("MAX_PACKET_BYTES", 8192)),
		AllowDuplicateAddrs: getBool("ALLOW_DUPLICATE_ADDRESSES", true),
		ClientAuthEnabled:   getBool("CLIENT_AUTH_ENABLED", false),
		ClientAuthPublicKey: os.Getenv("CLIENT_AUTH_PUBLIC_KEY"),

		HostsAllowFile:     os.Getenv("HOSTS_ALLOW_FILE"),
		HostsDenyFile:      os.Getenv("HOSTS_DENY_FILE"),
		ReferrersAllowFile: os.Getenv("REFERRERS_ALLOW_FILE"),
		ReferrersDenyFile:  os.Getenv("REFERRERS_DENY_FILE"),

		RoomCapacity:     getInt("ROOM_CAPACITY", 25),
		UserNameLimit:    getInt("USERNAME_LIMIT", 20),
		RoomNameLimit:    getInt("ROOMNAME_LIMIT", 100),
		ChatTextLimit:    getInt("CHATTEXT_LIMIT", 1000),
		ProfileLimit:     getInt("PROFILE_LIMIT", 1000),
		CaseInsensitive:  getBool("NAME_MATCH_IGNORE_CASE", false),
		RoomSweepEvery:   getDuration("ROOM_SWEEP_INTERVAL", 3*time.Minute),
		BanSweepEvery:    getDuration("BAN_SWEEP_INTERVAL", time.Minute),
		IdleTimeout:      getDuration("IDLE_TIMEOUT", 5*time.Minute),
		MaxLivenessPings: getInt("MAX_LIVENESS_PINGS", 2),

		BanStaticMinutes:   getInt("BAN_STATIC_MINUTES", -1),
		BanDynamicMinutes:  getInt("BAN_DYNAMIC_MINUTES", 1440),
		BanNetblockMinutes: getInt("BAN_NETBLOCK_MINUTES", 60),
		BanNetblockMask:    getEnv("BAN_NETBLOCK_MASK", "255.255.255.0"),
		BanDynamicHosts:    getList("BAN_DYNAMIC_HOSTS"),

		MemberDirectoryURL: os.Getenv("MEMBER_DIRECTORY_URL"),

		TranscriptPath:     os.Getenv("TRANSCRIPT_PATH"),
		TranscriptPublic:   getBool("TRANSCRIPT_PUBLIC", true),
		TranscriptPersonal: getBool("TRANSCRIPT_PERSONAL", true),
		TranscriptPrivate:  getBool("TRANSCRIPT_PRIVATE", false),
		TranscriptEvent:    getBool("TRANSCRIPT_EVENT", true),

		EntrancePrefix: getEnv("EVENT_ENTRANCE_PREFIX", "Event:"),
	}

	cfg.FloodDelay = map[string]time.Duration{
		"chat":    getDuration("FLOOD_DELAY_CHAT", 0),
		"whisper": getDuration("FLOOD_DELAY_WHISPER", 0),
		"beep":    getDuration("FLOOD_DELAY_BEEP", time.Second),
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getList(key string) []string {
	var out []string
	for _, entry := range strings.Split(os.Getenv(key), ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
