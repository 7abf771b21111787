package access

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jgneff/volano-sub000/internal/metrics"
)

// BanType classifies a ban entry for expiry purposes.
type BanType string

const (
	BanStatic   BanType = "static"
	BanDynamic  BanType = "dynamic"
	BanNetblock BanType = "netblock"
)

// Ban is one banned address with the context of the kick that created
// it.
type Ban struct {
	Address     string
	Type        BanType
	Date        time.Time
	RoomName    string
	UserName    string
	MonitorName string
}

// Durations gives the lifetime in minutes for each ban type:
// -1 = forever, 0 = disabled.
type Durations struct {
	Static   int
	Dynamic  int
	Netblock int
}

func (d Durations) minutes(t BanType) int {
	switch t {
	case BanDynamic:
		return d.Dynamic
	case BanNetblock:
		return d.Netblock
	default:
		return d.Static
	}
}

// BanTable holds the mutable set of banned addresses. Insertion
// classifies the address as dynamic or static by its host name;
// dynamic addresses additionally ban the derived netblock. A sweeper
// removes entries once their type's duration elapses.
type BanTable struct {
	mu        sync.Mutex
	bans      map[string]*Ban
	durations Durations
	mask      string
	dynHosts  []string // hostname suffixes of known dynamic pools
	logger    zerolog.Logger
	done      chan struct{}
	stopOnce  sync.Once
}

// NewBanTable creates an empty ban table.
func NewBanTable(durations Durations, mask string, dynHosts []string, logger zerolog.Logger) *BanTable {
	return &BanTable{
		bans:      make(map[string]*Ban),
		durations: durations,
		mask:      mask,
		dynHosts:  dynHosts,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// isDynamic reports whether the host name belongs to a configured
// dynamic-address pool.
func (t *BanTable) isDynamic(hostName string) bool {
	name := strings.ToLower(hostName)
	for _, suffix := range t.dynHosts {
		if strings.HasSuffix(name, strings.ToLower(suffix)) {
			return true
		}
	}
	return false
}

// Add records a ban on addr. hostName is the reverse name of the
// address when known (the address itself otherwise); room, user, and
// monitor record who was banned where and by whom. A type whose
// duration is 0 is disabled and records nothing.
func (t *BanTable) Add(addr, hostName, room, user, monitor string) {
	banType := BanStatic
	if t.isDynamic(hostName) {
		banType = BanDynamic
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if t.durations.minutes(banType) != 0 {
		t.bans[addr] = &Ban{
			Address:     addr,
			Type:        banType,
			Date:        now,
			RoomName:    room,
			UserName:    user,
			MonitorName: monitor,
		}
		metrics.BansAdded.WithLabelValues(string(banType)).Inc()
	}

	if banType == BanDynamic && t.durations.Netblock != 0 {
		block := Netblock(addr, t.mask)
		t.bans[block] = &Ban{
			Address:     block,
			Type:        BanNetblock,
			Date:        now,
			RoomName:    room,
			UserName:    user,
			MonitorName: monitor,
		}
		metrics.BansAdded.WithLabelValues(string(BanNetblock)).Inc()
	}

	t.logger.Info().
		Str("address", addr).
		Str("type", string(banType)).
		Str("room", room).
		Str("user", user).
		Str("monitor", monitor).
		Msg("ban recorded")
}

// Load inserts a ban entry directly, used when restoring bans at
// startup.
func (t *BanTable) Load(b *Ban) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bans[b.Address] = b
}

// Score scores addr against the banned addresses the same way a host
// table scores its entries: full addresses score four, netblock
// entries score their significant prefix, no match scores -1.
func (t *BanTable) Score(addr string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	best := -1
	for banned := range t.bans {
		if s := hostScore(banned, addr); s > best {
			best = s
		}
	}
	return best
}

// Size returns the number of ban entries.
func (t *BanTable) Size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bans)
}

// sweep removes entries whose type-specific duration has elapsed.
// A duration of -1 means forever.
func (t *BanTable) sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr, ban := range t.bans {
		minutes := t.durations.minutes(ban.Type)
		if minutes < 0 {
			continue
		}
		if now.Sub(ban.Date) >= time.Duration(minutes)*time.Minute {
			delete(t.bans, addr)
			metrics.BansExpired.Inc()
			t.logger.Debug().
				Str("address", addr).
				Str("type", string(ban.Type)).
				Msg("ban expired")
		}
	}
}

// StartSweeper runs the expiry sweep every interval until Stop.
func (t *BanTable) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				t.sweep(now)
			case <-t.done:
				return
			}
		}
	}()
}

// Stop terminates the sweeper. Safe to call more than once.
func (t *BanTable) Stop() {
	t.stopOnce.Do(func() { close(t.done) })
}
