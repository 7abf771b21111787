package access

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func writeTable(t *testing.T, lines string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table")
	if err := os.WriteFile(path, []byte(lines), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newControl(t *testing.T, tables Tables, bans *BanTable) *Control {
	t.Helper()
	c, err := NewControl(tables, bans)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestHostScore(t *testing.T) {
	tests := []struct {
		entry, addr string
		want        int
	}{
		{"10.0.0.0", "10.0.1.5", 1},
		{"10.0.1.0", "10.0.1.5", 3},
		{"10.0.1.5", "10.0.1.5", 4},
		{"0.0.0.0", "198.51.100.7", 0},
		{"10.0.1.0", "10.0.2.5", -1},
		{"192.168.0.0", "10.0.1.5", -1},
	}
	for _, tt := range tests {
		if got := hostScore(tt.entry, tt.addr); got != tt.want {
			t.Errorf("hostScore(%q, %q) = %d, want %d", tt.entry, tt.addr, got, tt.want)
		}
	}
}

func TestHostScoreMonotonic(t *testing.T) {
	// A longer matching prefix always scores strictly higher.
	addr := "10.20.30.40"
	prev := -1
	for _, entry := range []string{"0.0.0.0", "10.0.0.0", "10.20.0.0", "10.20.30.0", "10.20.30.40"} {
		score := hostScore(entry, addr)
		if score <= prev {
			t.Fatalf("score for %q = %d, want > %d", entry, score, prev)
		}
		prev = score
	}
}

func TestDenyOutscoresAllow(t *testing.T) {
	// hostsAllowed "10.0.0.0" scores 1, hostsDenied "10.0.1.0" scores 3.
	allow := writeTable(t, "10.0.0.0\n")
	deny := writeTable(t, "10.0.1.0\n")
	c := newControl(t, Tables{HostsAllow: allow, HostsDeny: deny}, nil)

	if c.IsHostAllowed("10.0.1.5") {
		t.Fatal("expected 10.0.1.5 denied: deny score 3 beats allow score 1")
	}
	if !c.IsHostAllowed("10.0.2.5") {
		t.Fatal("expected 10.0.2.5 allowed: allow score 1, no deny match")
	}
}

func TestAllowWinsTies(t *testing.T) {
	allow := writeTable(t, "10.0.1.0\n")
	deny := writeTable(t, "10.0.1.0\n")
	c := newControl(t, Tables{HostsAllow: allow, HostsDeny: deny}, nil)

	if !c.IsHostAllowed("10.0.1.5") {
		t.Fatal("equal scores must admit: allow wins ties")
	}
}

func TestEmptyTablesAdmit(t *testing.T) {
	c := newControl(t, Tables{}, nil)
	if !c.IsHostAllowed("203.0.113.9") {
		t.Fatal("no entries anywhere scores -1 >= -1 and must admit")
	}
}

func TestCommentsAndBlanksSkipped(t *testing.T) {
	deny := writeTable(t, "# banned ranges\n\n10.0.0.0\n")
	c := newControl(t, Tables{HostsDeny: deny}, nil)
	if c.IsHostAllowed("10.9.9.9") {
		t.Fatal("expected deny entry after comment to apply")
	}
}

func TestReferrerScore(t *testing.T) {
	tests := []struct {
		entry, ref string
		want       int
	}{
		{"http:", "http://example.com/chat/room.html", 1},
		{"http://example.com", "http://example.com/chat/room.html", 2},
		{"http://example.com/chat", "http://example.com/chat/room.html", 3},
		{"http://other.com", "http://example.com/chat", -1},
		{"https:", "http://example.com/", -1},
	}
	for _, tt := range tests {
		if got := referrerScore(tt.entry, tt.ref); got != tt.want {
			t.Errorf("referrerScore(%q, %q) = %d, want %d", tt.entry, tt.ref, got, tt.want)
		}
	}
}

func TestReferrerAllowDeny(t *testing.T) {
	allow := writeTable(t, "http://example.com\n")
	deny := writeTable(t, "http://example.com/private\n")
	c := newControl(t, Tables{ReferrersAllow: allow, ReferrersDeny: deny}, nil)

	if !c.IsReferrerAllowed("http://example.com/chat/index.html") {
		t.Fatal("expected public page allowed")
	}
	if c.IsReferrerAllowed("http://example.com/private/index.html") {
		t.Fatal("expected private page denied by longer prefix")
	}
}

func TestNetblock(t *testing.T) {
	tests := []struct {
		addr, mask, want string
	}{
		{"203.0.113.9", "255.255.255.0", "203.0.113.0"},
		{"203.0.113.9", "255.255.0.0", "203.0.0.0"},
		{"203.0.113.9", "255.255", "203.0.0.0"},
		{"10.20.30.40", "255.255.255.255", "10.20.30.40"},
	}
	for _, tt := range tests {
		if got := Netblock(tt.addr, tt.mask); got != tt.want {
			t.Errorf("Netblock(%q, %q) = %q, want %q", tt.addr, tt.mask, got, tt.want)
		}
	}
}

func testBanTable(t *testing.T, d Durations) *BanTable {
	t.Helper()
	return NewBanTable(d, "255.255.255.0", []string{".dialup.example.net"}, zerolog.Nop())
}

func TestBanClassification(t *testing.T) {
	bans := testBanTable(t, Durations{Static: -1, Dynamic: 60, Netblock: 60})

	bans.Add("198.51.100.7", "host7.static.example.org", "lobby", "mallory", "mod")
	if bans.Size() != 1 {
		t.Fatalf("static ban: size = %d, want 1", bans.Size())
	}

	bans.Add("203.0.113.9", "pool-9.dialup.example.net", "lobby", "trudy", "mod")
	// Dynamic address also inserts the derived netblock ban.
	if bans.Size() != 3 {
		t.Fatalf("dynamic ban: size = %d, want 3", bans.Size())
	}
	if bans.Score("203.0.113.77") != 3 {
		t.Fatalf("netblock entry should match sibling address with score 3, got %d", bans.Score("203.0.113.77"))
	}
}

func TestBanBlocksHost(t *testing.T) {
	bans := testBanTable(t, Durations{Static: -1, Dynamic: 60, Netblock: 60})
	c := newControl(t, Tables{}, bans)

	if !c.IsHostAllowed("203.0.113.9") {
		t.Fatal("expected host allowed before ban")
	}
	bans.Add("203.0.113.9", "203.0.113.9", "lobby", "trudy", "mod")
	if c.IsHostAllowed("203.0.113.9") {
		t.Fatal("expected host denied after ban")
	}
}

func TestBanExpiry(t *testing.T) {
	bans := testBanTable(t, Durations{Static: -1, Dynamic: 60, Netblock: 60})
	c := newControl(t, Tables{}, bans)

	bans.Add("203.0.113.9", "pool-9.dialup.example.net", "lobby", "trudy", "mod")
	if c.IsHostAllowed("203.0.113.9") {
		t.Fatal("expected host denied immediately after ban")
	}

	// One minute short of the duration: still banned.
	bans.sweep(time.Now().Add(59 * time.Minute))
	if c.IsHostAllowed("203.0.113.9") {
		t.Fatal("expected ban still active before its duration elapses")
	}

	bans.sweep(time.Now().Add(61 * time.Minute))
	if !c.IsHostAllowed("203.0.113.9") {
		t.Fatal("expected host allowed after both bans expire")
	}
	if bans.Size() != 0 {
		t.Fatalf("size after expiry = %d, want 0", bans.Size())
	}
}

func TestBanForeverNeverExpires(t *testing.T) {
	bans := testBanTable(t, Durations{Static: -1, Dynamic: 60, Netblock: 60})
	bans.Add("198.51.100.7", "198.51.100.7", "lobby", "mallory", "mod")

	bans.sweep(time.Now().Add(24 * 365 * time.Hour))
	if bans.Size() != 1 {
		t.Fatal("static ban with duration -1 must never expire")
	}
}

func TestBanDisabledRecordsNothing(t *testing.T) {
	bans := testBanTable(t, Durations{Static: 0, Dynamic: 0, Netblock: 0})
	bans.Add("198.51.100.7", "198.51.100.7", "lobby", "mallory", "mod")
	if bans.Size() != 0 {
		t.Fatal("duration 0 disables recording")
	}
}
