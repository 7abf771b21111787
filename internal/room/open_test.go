package room

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/jgneff/volano-sub000/internal/protocol"
	"github.com/jgneff/volano-sub000/internal/transport"
)

func enterPacket(room, user string) *protocol.Packet {
	return &protocol.Packet{Kind: protocol.KindEnterRoom, RoomName: room, UserName: user}
}

func chatPacket(room, from, text string) *protocol.Packet {
	return &protocol.Packet{Kind: protocol.KindChat, RoomName: room, FromName: from, Text: text}
}

func enter(t *testing.T, r Room, c *fakeConn, name string) {
	t.Helper()
	r.Handle(c, enterPacket(r.Key(), name))
	last := c.lastSent()
	if last == nil || last.Result != protocol.ResultOK {
		t.Fatalf("enter %s failed: %+v", name, last)
	}
}

func TestEnterConfirmsRoster(t *testing.T) {
	r := openRoom("lobby")
	alice := newFakeConn("10.0.0.1")
	bob := newFakeConn("10.0.0.2")

	enter(t, r, alice, "Alice")
	enter(t, r, bob, "Bob")

	confirm := bob.lastSent()
	if len(confirm.Users) != 2 {
		t.Fatalf("roster size = %d, want 2", len(confirm.Users))
	}

	// Alice saw Bob arrive.
	entered := alice.sentOfKind(protocol.KindEnterRoom)
	if len(entered) != 2 { // own confirmation plus Bob's indication
		t.Fatalf("alice enter packets = %d, want 2", len(entered))
	}
	if entered[1].UserName != "Bob" {
		t.Fatalf("entered indication user = %q, want Bob", entered[1].UserName)
	}
}

func TestEnterHostRedactionPerRecipient(t *testing.T) {
	r := openRoom("lobby")
	mon := newFakeConn("10.0.0.9")
	mon.Set(transport.AttrIsMonitor, true)
	plain := newFakeConn("10.0.0.2")

	enter(t, r, mon, "Mod")
	enter(t, r, plain, "Alice")

	newcomer := newFakeConn("203.0.113.7")
	enter(t, r, newcomer, "Bob")

	monSaw := mon.sentOfKind(protocol.KindEnterRoom)
	if monSaw[len(monSaw)-1].Host != "203.0.113.7" {
		t.Fatal("monitor recipient must see the entrant's host")
	}
	plainSaw := plain.sentOfKind(protocol.KindEnterRoom)
	if plainSaw[len(plainSaw)-1].Host != "" {
		t.Fatal("non-monitor recipient must not see the entrant's host")
	}
}

func TestConcurrentEntersExchangeIndications(t *testing.T) {
	limits := testLimits
	limits.Capacity = 16
	r := NewOpenRoom("lobby", Public, "", limits, zerolog.Nop(), false)

	// For every pair of simultaneous entrants, exactly one of the two
	// is in the other's pre-insert roster, so exactly one entered
	// indication passes between them.
	const n = 8
	conns := make([]*fakeConn, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		conns[i] = newFakeConn(fmt.Sprintf("10.0.0.%d", i+1))
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Handle(conns[i], enterPacket("lobby", fmt.Sprintf("user-%d", i)))
		}(i)
	}
	wg.Wait()

	if r.Size() != n {
		t.Fatalf("size = %d, want %d", r.Size(), n)
	}
	indications := 0
	for _, c := range conns {
		// One enter packet per connection is its own confirmation.
		indications += len(c.sentOfKind(protocol.KindEnterRoom)) - 1
	}
	if want := n * (n - 1) / 2; indications != want {
		t.Fatalf("entered indications = %d, want %d", indications, want)
	}
}

func TestEnterNameTakenLeavesSizeUnchanged(t *testing.T) {
	limits := testLimits
	limits.IgnoreCase = true
	r := NewOpenRoom("lobby", Public, "", limits, zerolog.Nop(), false)

	alice := newFakeConn("10.0.0.1")
	enter(t, r, alice, "Alice")

	impostor := newFakeConn("10.0.0.2")
	r.Handle(impostor, enterPacket("lobby", "alice"))
	if got := impostor.lastSent().Result; got != protocol.ResultNameTaken {
		t.Fatalf("result = %q, want %q", got, protocol.ResultNameTaken)
	}
	if r.Size() != 1 {
		t.Fatalf("size = %d, want 1", r.Size())
	}
}

func TestEnterRoomFull(t *testing.T) {
	limits := testLimits
	limits.Capacity = 1
	r := NewOpenRoom("tiny", Public, "", limits, zerolog.Nop(), false)

	enter(t, r, newFakeConn("10.0.0.1"), "Alice")

	late := newFakeConn("10.0.0.2")
	r.Handle(late, enterPacket("tiny", "Bob"))
	if got := late.lastSent().Result; got != protocol.ResultRoomFull {
		t.Fatalf("result = %q, want %q", got, protocol.ResultRoomFull)
	}

	// Monitors bypass capacity.
	mon := newFakeConn("10.0.0.3")
	mon.Set(transport.AttrIsMonitor, true)
	enter(t, r, mon, "Mod")
}

func TestEnterBlankNameClosesConnection(t *testing.T) {
	r := openRoom("lobby")
	c := newFakeConn("10.0.0.1")
	r.Handle(c, enterPacket("lobby", ""))
	if !c.isClosed() {
		t.Fatal("blank name is a protocol violation")
	}
}

func TestEnterTwiceClosesConnection(t *testing.T) {
	r := openRoom("lobby")
	c := newFakeConn("10.0.0.1")
	enter(t, r, c, "Alice")
	r.Handle(c, enterPacket("lobby", "Alice2"))
	if !c.isClosed() {
		t.Fatal("double enter by one connection is a protocol violation")
	}
}

func TestChatUsesTrueSenderName(t *testing.T) {
	r := openRoom("lobby")
	alice := newFakeConn("10.0.0.1")
	bob := newFakeConn("10.0.0.2")
	enter(t, r, alice, "Alice")
	enter(t, r, bob, "Bob")

	// Alice claims to be Bob; fan-out must carry her registered name.
	r.Handle(alice, chatPacket("lobby", "Bob", "hi all"))

	got := bob.sentOfKind(protocol.KindChat)
	if len(got) != 1 {
		t.Fatalf("bob chat packets = %d, want 1", len(got))
	}
	if got[0].FromName != "Alice" {
		t.Fatalf("chat sender = %q, spoofing must not work", got[0].FromName)
	}
}

func TestChatFromOutsiderClosesConnection(t *testing.T) {
	r := openRoom("lobby")
	outsider := newFakeConn("10.0.0.5")
	r.Handle(outsider, chatPacket("lobby", "Ghost", "boo"))
	if !outsider.isClosed() {
		t.Fatal("chat from a connection not in the room is a violation")
	}
}

func TestChatTooLongClosesConnection(t *testing.T) {
	r := openRoom("lobby")
	alice := newFakeConn("10.0.0.1")
	enter(t, r, alice, "Alice")
	r.Handle(alice, chatPacket("lobby", "Alice", strings.Repeat("x", testLimits.ChatText+1)))
	if !alice.isClosed() {
		t.Fatal("oversized chat text is a violation")
	}
}

func TestWhisperReachesOnlyTarget(t *testing.T) {
	r := openRoom("lobby")
	alice := newFakeConn("10.0.0.1")
	bob := newFakeConn("10.0.0.2")
	carol := newFakeConn("10.0.0.3")
	enter(t, r, alice, "Alice")
	enter(t, r, bob, "Bob")
	enter(t, r, carol, "Carol")

	r.Handle(alice, &protocol.Packet{Kind: protocol.KindWhisper, RoomName: "lobby", ToName: "Bob", Text: "psst"})

	if got := bob.sentOfKind(protocol.KindWhisper); len(got) != 1 || got[0].FromName != "Alice" {
		t.Fatalf("bob whispers = %+v", got)
	}
	if got := carol.sentOfKind(protocol.KindWhisper); len(got) != 0 {
		t.Fatal("whisper must not reach third parties")
	}
	// Whisper to a departed user is a silent no-op.
	r.Handle(alice, &protocol.Packet{Kind: protocol.KindWhisper, RoomName: "lobby", ToName: "Nobody", Text: "psst"})
	if alice.isClosed() {
		t.Fatal("whisper to missing target must not close the sender")
	}
}

func TestBroadcastSurvivesSendFailure(t *testing.T) {
	r := openRoom("lobby")
	alice := newFakeConn("10.0.0.1")
	dead := newFakeConn("10.0.0.2")
	carol := newFakeConn("10.0.0.3")
	enter(t, r, alice, "Alice")
	enter(t, r, dead, "Dead")
	enter(t, r, carol, "Carol")

	// Close the transport underneath the room; sends to it now fail.
	dead.Close(transport.StatusNormal, "gone")

	r.Handle(alice, chatPacket("lobby", "Alice", "hello"))
	if got := carol.sentOfKind(protocol.KindChat); len(got) != 1 {
		t.Fatal("send failure to one recipient must not abort fan-out")
	}
}

func TestKickRemovesOccupant(t *testing.T) {
	r := openRoom("lobby")
	mod := newFakeConn("10.0.0.9")
	mod.Set(transport.AttrIsMonitor, true)
	target := newFakeConn("10.0.0.2")
	enter(t, r, mod, "Mod")
	enter(t, r, target, "Trudy")

	r.Handle(mod, &protocol.Packet{Kind: protocol.KindKick, RoomName: "lobby", UserName: "Trudy", Method: protocol.KickRemove})
	if r.Size() != 1 {
		t.Fatalf("size = %d after kick, want 1", r.Size())
	}
	if target.isClosed() {
		t.Fatal("remove method must not close the connection")
	}

	enter(t, r, target, "Trudy")
	r.Handle(mod, &protocol.Packet{Kind: protocol.KindKick, RoomName: "lobby", UserName: "Trudy", Method: protocol.KickDisconnect})
	if !target.isClosed() {
		t.Fatal("disconnect method must close the connection")
	}
}

func TestKickNeverHitsMonitors(t *testing.T) {
	r := openRoom("lobby")
	mod := newFakeConn("10.0.0.9")
	mod.Set(transport.AttrIsMonitor, true)
	other := newFakeConn("10.0.0.8")
	other.Set(transport.AttrIsMonitor, true)
	enter(t, r, mod, "Mod")
	enter(t, r, other, "OtherMod")

	r.Handle(mod, &protocol.Packet{Kind: protocol.KindKick, RoomName: "lobby", UserName: "OtherMod", Method: protocol.KickDisconnect})
	if other.isClosed() || r.Size() != 2 {
		t.Fatal("a monitor can never be kicked")
	}
}

func TestExitBroadcastsAndLogsDuration(t *testing.T) {
	r := openRoom("lobby")
	var events []Event
	r.Subscribe(&recordingSub{fn: func(e Event) { events = append(events, e) }})

	alice := newFakeConn("10.0.0.1")
	bob := newFakeConn("10.0.0.2")
	enter(t, r, alice, "Alice")
	enter(t, r, bob, "Bob")

	r.Handle(alice, &protocol.Packet{Kind: protocol.KindExitRoom, RoomName: "lobby"})
	if r.Size() != 1 {
		t.Fatalf("size = %d after exit, want 1", r.Size())
	}
	if got := bob.sentOfKind(protocol.KindExitRoom); len(got) != 1 || got[0].UserName != "Alice" {
		t.Fatalf("exit indication = %+v", got)
	}

	var exits int
	for _, e := range events {
		if e.Kind == EventExit && e.User == "Alice" {
			exits++
		}
	}
	if exits != 1 {
		t.Fatalf("exit events = %d, want 1", exits)
	}

	// Close after exit is a safe no-op.
	r.ConnClosed(alice)
	if r.Size() != 1 {
		t.Fatal("redundant close must not disturb the room")
	}
}

// recordingSub is a comparable Subscriber for tests.
type recordingSub struct{ fn func(Event) }

func (s *recordingSub) Notify(e Event) { s.fn(e) }

func TestUnsubscribeDuringNotify(t *testing.T) {
	r := openRoom("lobby")
	sub := &recordingSub{}
	fired := 0
	sub.fn = func(e Event) {
		fired++
		r.Unsubscribe(sub)
	}
	r.Subscribe(sub)

	enter(t, r, newFakeConn("10.0.0.1"), "Alice")
	enter(t, r, newFakeConn("10.0.0.2"), "Bob")
	if fired != 1 {
		t.Fatalf("subscriber fired %d times, want 1 (unsubscribed from within Notify)", fired)
	}
}
