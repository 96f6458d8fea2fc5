package snapshot

import (
	"testing"

	"pvpserver/internal/session"
)

func playerState(id string, x, y, facing float64, health int, alive bool) session.PlayerState {
	return session.PlayerState{ID: id, X: x, Y: y, FacingRadians: facing, Health: health, MaxHealth: 100, Alive: alive}
}

func TestSnapshotSequencingStrictlyIncreasing(t *testing.T) {
	m := NewManager()
	var lastSeq uint32
	for i := 0; i < 10; i++ {
		s := m.CreateSnapshot(uint64(i*10), nil, nil)
		if s.Sequence <= lastSeq {
			t.Fatalf("sequence did not increase: %d after %d", s.Sequence, lastSeq)
		}
		lastSeq = s.Sequence
		m.SaveSnapshot(s)
	}
}

func TestBufferCapacityBound(t *testing.T) {
	m := NewManager()
	for i := 0; i < BufferCapacity+20; i++ {
		s := m.CreateSnapshot(uint64(i), nil, nil)
		m.SaveSnapshot(s)
	}
	latest, ok := m.GetLatestSnapshot()
	if !ok {
		t.Fatal("expected a latest snapshot")
	}
	if latest.Sequence != uint32(BufferCapacity+20) {
		t.Fatalf("latest sequence = %d, want %d", latest.Sequence, BufferCapacity+20)
	}
	oldestSeq := latest.Sequence - BufferCapacity + 1
	if _, ok := m.GetSnapshot(oldestSeq - 1); ok {
		t.Fatal("expected evicted snapshot to be absent")
	}
	if _, ok := m.GetSnapshot(oldestSeq); !ok {
		t.Fatal("expected oldest retained snapshot to be present")
	}
}

func TestDeltaRoundTrip(t *testing.T) {
	m := NewManager()
	a := m.CreateSnapshot(0, []session.PlayerState{playerState("P", 10, 20, 0, 100, true)}, nil)
	m.SaveSnapshot(a)
	b := m.CreateSnapshot(16, []session.PlayerState{playerState("P", 15, 20, 0, 100, true)}, nil)
	m.SaveSnapshot(b)

	delta, err := m.CalculateDelta(a.Sequence, b.Sequence)
	if err != nil {
		t.Fatalf("CalculateDelta: %v", err)
	}
	if len(delta.Changes) == 0 {
		t.Fatal("expected non-empty delta changes")
	}

	rebuilt, err := ApplyDelta(a, delta)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if len(rebuilt.Players) != 1 {
		t.Fatalf("expected 1 player, got %d", len(rebuilt.Players))
	}
	got := rebuilt.Players[0]
	if got.X != 15 || got.Y != 20 || got.Health != 100 || !got.Alive {
		t.Fatalf("round-tripped player mismatch: %+v", got)
	}
}

func TestDeltaNewPlayer(t *testing.T) {
	m := NewManager()
	a := m.CreateSnapshot(0, nil, nil)
	m.SaveSnapshot(a)
	b := m.CreateSnapshot(16, []session.PlayerState{playerState("Q", 1, 2, 0.5, 80, true)}, nil)
	m.SaveSnapshot(b)

	delta, err := m.CalculateDelta(a.Sequence, b.Sequence)
	if err != nil {
		t.Fatalf("CalculateDelta: %v", err)
	}
	rebuilt, err := ApplyDelta(a, delta)
	if err != nil {
		t.Fatalf("ApplyDelta: %v", err)
	}
	if len(rebuilt.Players) != 1 || rebuilt.Players[0].ID != "Q" {
		t.Fatalf("expected new player Q to appear, got %+v", rebuilt.Players)
	}
}

func TestGetSnapshotAtInterpolates(t *testing.T) {
	m := NewManager()
	before := m.CreateSnapshot(0, []session.PlayerState{playerState("V", 0, 0, 0, 100, true)}, nil)
	m.SaveSnapshot(before)
	after := m.CreateSnapshot(100, []session.PlayerState{playerState("V", 10, 0, 0, 100, true)}, nil)
	m.SaveSnapshot(after)

	mid, ok := m.GetSnapshotAt(50)
	if !ok {
		t.Fatal("expected interpolated snapshot")
	}
	v, found := mid.findPlayer("V")
	if !found {
		t.Fatal("expected player V in interpolated snapshot")
	}
	if v.X < 4.9 || v.X > 5.1 {
		t.Fatalf("interpolated X = %v, want ~5", v.X)
	}
}

func TestGetSnapshotAtDropsBeforeOnlyPlayers(t *testing.T) {
	m := NewManager()
	before := m.CreateSnapshot(0, []session.PlayerState{
		playerState("Leaver", 0, 0, 0, 100, true),
		playerState("Stayer", 1, 1, 0, 100, true),
	}, nil)
	m.SaveSnapshot(before)
	after := m.CreateSnapshot(100, []session.PlayerState{
		playerState("Stayer", 2, 2, 0, 100, true),
		playerState("Joiner", 5, 5, 0, 100, true),
	}, nil)
	m.SaveSnapshot(after)

	mid, ok := m.GetSnapshotAt(50)
	if !ok {
		t.Fatal("expected interpolated snapshot")
	}
	if _, found := mid.findPlayer("Leaver"); found {
		t.Fatal("before-only player must be dropped from interpolation")
	}
	joiner, found := mid.findPlayer("Joiner")
	if !found {
		t.Fatal("after-only player must appear uninterpolated")
	}
	if joiner.X != 5 {
		t.Fatalf("after-only player must use after's raw value, got %v", joiner.X)
	}
}

func TestGetSnapshotAtClampsOutOfRange(t *testing.T) {
	m := NewManager()
	s1 := m.CreateSnapshot(100, nil, nil)
	m.SaveSnapshot(s1)
	s2 := m.CreateSnapshot(200, nil, nil)
	m.SaveSnapshot(s2)

	early, ok := m.GetSnapshotAt(0)
	if !ok || early.Sequence != s1.Sequence {
		t.Fatalf("expected clamp to oldest snapshot, got %+v ok=%v", early, ok)
	}
	late, ok := m.GetSnapshotAt(9999)
	if !ok || late.Sequence != s2.Sequence {
		t.Fatalf("expected clamp to newest snapshot, got %+v ok=%v", late, ok)
	}
}
