// Package access implements host and referrer admission scoring, ban
// bookkeeping with per-type expiry, and netblock derivation.
package access

import (
	"bufio"
	"os"
	"strings"
)

// hostScore scores one table entry against a dotted-octet address. An
// entry's significant prefix is its octets with trailing ".0" octets
// stripped; it matches an address beginning with those octets and
// scores their count. "0.0.0.0" matches everything with score 0. No
// match scores -1.
func hostScore(entry, addr string) int {
	sig := strings.Split(entry, ".")
	for len(sig) > 0 && sig[len(sig)-1] == "0" {
		sig = sig[:len(sig)-1]
	}
	octets := strings.Split(addr, ".")
	if len(sig) > len(octets) {
		return -1
	}
	for i, s := range sig {
		if octets[i] != s {
			return -1
		}
	}
	return len(sig)
}

// referrerSegments splits a referrer URL into scheme, host, and path
// elements for prefix scoring.
func referrerSegments(ref string) []string {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return nil
	}
	var segs []string
	rest := ref
	if i := strings.Index(ref, "://"); i >= 0 {
		segs = append(segs, ref[:i+1]) // "http:"
		rest = ref[i+3:]
	} else if i := strings.Index(ref, ":"); i >= 0 && !strings.Contains(ref[:i], "/") {
		// Protocol-only entry such as "http:".
		segs = append(segs, ref[:i+1])
		rest = strings.TrimPrefix(ref[i+1:], "//")
	}
	for _, part := range strings.Split(rest, "/") {
		if part != "" {
			segs = append(segs, part)
		}
	}
	return segs
}

// referrerScore scores one table entry against a referrer. The entry
// matches when its segments are a prefix of the referrer's segments,
// scoring the segment count; a bare protocol entry matches any
// referrer with that scheme.
func referrerScore(entry, ref string) int {
	es := referrerSegments(entry)
	rs := referrerSegments(ref)
	if len(es) == 0 || len(es) > len(rs) {
		return -1
	}
	for i, s := range es {
		if rs[i] != s {
			return -1
		}
	}
	return len(es)
}

// scoreTable is an ordered list of allow or deny entries sharing one
// scoring function.
type scoreTable struct {
	entries []string
	score   func(entry, candidate string) int
}

// Score returns the best (longest-prefix) score of any entry against
// the candidate, or -1 when nothing matches.
func (t *scoreTable) Score(candidate string) int {
	best := -1
	for _, e := range t.entries {
		if s := t.score(e, candidate); s > best {
			best = s
		}
	}
	return best
}

// loadTable reads one entry per line from path, skipping blanks and
// "#" comments. A missing path yields an empty table.
func loadTable(path string, score func(entry, candidate string) int) (*scoreTable, error) {
	t := &scoreTable{score: score}
	if path == "" {
		return t, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return nil, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		t.entries = append(t.entries, line)
	}
	return t, sc.Err()
}

// Control resolves host and referrer admission against the four
// allow/deny tables plus the mutable ban table. The file-backed tables
// are read-only after Load.
type Control struct {
	hostsAllowed     *scoreTable
	hostsDenied      *scoreTable
	referrersAllowed *scoreTable
	referrersDenied  *scoreTable
	bans             *BanTable
}

// Tables names the four table files loaded at startup.
type Tables struct {
	HostsAllow     string
	HostsDeny      string
	ReferrersAllow string
	ReferrersDeny  string
}

// NewControl loads the allow/deny tables and attaches the ban table.
func NewControl(tables Tables, bans *BanTable) (*Control, error) {
	ha, err := loadTable(tables.HostsAllow, hostScore)
	if err != nil {
		return nil, err
	}
	hd, err := loadTable(tables.HostsDeny, hostScore)
	if err != nil {
		return nil, err
	}
	ra, err := loadTable(tables.ReferrersAllow, referrerScore)
	if err != nil {
		return nil, err
	}
	rd, err := loadTable(tables.ReferrersDeny, referrerScore)
	if err != nil {
		return nil, err
	}
	return &Control{
		hostsAllowed:     ha,
		hostsDenied:      hd,
		referrersAllowed: ra,
		referrersDenied:  rd,
		bans:             bans,
	}, nil
}

// IsHostAllowed reports whether addr may connect. Allow wins ties:
// with no entries anywhere all scores are -1 and the host is admitted.
func (c *Control) IsHostAllowed(addr string) bool {
	allow := c.hostsAllowed.Score(addr)
	deny := c.hostsDenied.Score(addr)
	ban := -1
	if c.bans != nil {
		ban = c.bans.Score(addr)
	}
	if deny < ban {
		deny = ban
	}
	return allow >= deny
}

// IsReferrerAllowed reports whether the document referrer may connect.
func (c *Control) IsReferrerAllowed(ref string) bool {
	return c.referrersAllowed.Score(ref) >= c.referrersDenied.Score(ref)
}

// Bans exposes the mutable ban table for moderation.
func (c *Control) Bans() *BanTable {
	return c.bans
}
