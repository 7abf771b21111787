package room

import (
	"testing"
	"time"

	"github.com/jgneff/volano-sub000/internal/protocol"
)

func testUser(name string) *User {
	return &User{Conn: newFakeConn("10.0.0.1"), Name: name, JoinTime: time.Now()}
}

func TestPutEnforcesNameUniqueness(t *testing.T) {
	r := NewUserRegistry(10, false)
	if got, _ := r.Put(testUser("Alice"), false); got != protocol.ResultOK {
		t.Fatalf("first put = %v", got)
	}
	if got, _ := r.Put(testUser("Alice"), false); got == protocol.ResultOK {
		t.Fatal("duplicate name must be rejected")
	}
	// Case-sensitive policy: different case is a different name.
	if got, _ := r.Put(testUser("alice"), false); got != protocol.ResultOK {
		t.Fatalf("case-sensitive registry rejected distinct name: %v", got)
	}
}

func TestPutCaseInsensitive(t *testing.T) {
	r := NewUserRegistry(10, true)
	if got, _ := r.Put(testUser("Alice"), false); got != protocol.ResultOK {
		t.Fatalf("first put = %v", got)
	}
	if got, _ := r.Put(testUser("alice"), false); got == protocol.ResultOK {
		t.Fatal("case-insensitive registry must reject colliding name")
	}
	if r.Size() != 1 {
		t.Fatalf("size = %d, want 1 after rejected entrant", r.Size())
	}
}

func TestPutEnforcesCapacity(t *testing.T) {
	r := NewUserRegistry(2, false)
	r.Put(testUser("a"), false)
	r.Put(testUser("b"), false)
	if got, _ := r.Put(testUser("c"), false); got == protocol.ResultOK {
		t.Fatal("capacity must reject third entrant")
	}
	// Privileged callers bypass capacity but never uniqueness.
	if got, _ := r.Put(testUser("c"), true); got != protocol.ResultOK {
		t.Fatalf("privileged put = %v", got)
	}
	if got, _ := r.Put(testUser("c"), true); got == protocol.ResultOK {
		t.Fatal("privileged put must still enforce uniqueness")
	}
}

func TestPutReturnsPriorOccupants(t *testing.T) {
	r := NewUserRegistry(10, false)
	a := testUser("Alice")
	b := testUser("Bob")

	if _, prior := r.Put(a, false); len(prior) != 0 {
		t.Fatalf("first insert prior = %d occupants, want 0", len(prior))
	}
	_, prior := r.Put(b, false)
	if len(prior) != 1 || prior[0] != a {
		t.Fatalf("second insert prior = %v, want just Alice", prior)
	}
	// The prior list is a copy, immune to later membership changes.
	r.Remove(a.Conn.ID())
	if len(prior) != 1 || prior[0] != a {
		t.Fatal("prior list must be unaffected by later removal")
	}
	if got, prior := r.Put(testUser("Bob"), false); got != protocol.ResultNameTaken || prior != nil {
		t.Fatalf("rejected insert = %v, %v; want NameTaken with no prior list", got, prior)
	}
}

func TestRemoveAndLookup(t *testing.T) {
	r := NewUserRegistry(10, false)
	u := testUser("Alice")
	r.Put(u, false)

	if got := r.GetByName("Alice"); got != u {
		t.Fatal("GetByName missed occupant")
	}
	if got := r.GetByConn(u.Conn.ID()); got != u {
		t.Fatal("GetByConn missed occupant")
	}
	if got := r.Remove(u.Conn.ID()); got != u {
		t.Fatal("Remove should return the occupant")
	}
	if got := r.Remove(u.Conn.ID()); got != nil {
		t.Fatal("second Remove must be a no-op")
	}
	if r.Size() != 0 {
		t.Fatalf("size = %d, want 0", r.Size())
	}
}

func TestSnapshotIsolatedFromMutation(t *testing.T) {
	r := NewUserRegistry(10, false)
	u := testUser("Alice")
	r.Put(u, false)
	snap := r.Snapshot()
	r.Remove(u.Conn.ID())
	if len(snap) != 1 || snap[0] != u {
		t.Fatal("snapshot must be unaffected by later removal")
	}
}
