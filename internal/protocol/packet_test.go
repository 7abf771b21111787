package protocol

import (
	"sync"
	"testing"
)

func TestDecodeRejectsUnknownKind(t *testing.T) {
	if _, err := Decode([]byte(`{"kind":"shutdown"}`)); err == nil {
		t.Fatal("expected error for unknown kind")
	}
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	in := &Packet{Kind: KindChat, RoomName: "lobby", FromName: "alice", Text: "hello"}
	data, err := Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if out.Kind != KindChat || out.RoomName != "lobby" || out.FromName != "alice" || out.Text != "hello" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestMarkHandledOneShot(t *testing.T) {
	p := &Packet{Kind: KindChat}
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.MarkHandled() {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("MarkHandled won %d times, want exactly 1", wins)
	}
	if !p.Handled() {
		t.Fatal("packet should report handled")
	}
}

func TestCloneResetsHandledFlag(t *testing.T) {
	p := &Packet{Kind: KindChat, Text: "hi"}
	p.MarkHandled()
	c := p.Clone()
	if c.Handled() {
		t.Fatal("clone must carry a fresh handled flag")
	}
	if !c.MarkHandled() {
		t.Fatal("clone should be independently claimable")
	}
	if c.Text != "hi" {
		t.Fatal("clone must copy payload fields")
	}
}

func TestConfirmEchoesAddressing(t *testing.T) {
	req := &Packet{Kind: KindEnterRoom, RoomName: "lobby", UserName: "alice"}
	c := Confirm(req, ResultNameTaken)
	if c.Kind != KindEnterRoom || c.RoomName != "lobby" || c.UserName != "alice" {
		t.Fatalf("confirm lost addressing: %+v", c)
	}
	if c.Result != ResultNameTaken {
		t.Fatalf("result = %q, want %q", c.Result, ResultNameTaken)
	}
}
