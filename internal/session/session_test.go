package session

import (
	"math"
	"testing"
)

func TestBasicHitToDeath(t *testing.T) {
	s := New(nil)
	s.UpsertPlayer("A")
	s.UpsertPlayer("B")

	s.ApplyInput("B", Input{Sequence: 1, MoveX: 1, AimRadians: 0}, 0.08)

	a, _ := s.GetPlayer("A")
	b, _ := s.GetPlayer("B")

	// Aim A directly at B's post-move position.
	aimAngle := math.Atan2(b.Y-a.Y, b.X-a.X)

	seq := uint32(2)
	for shots := 0; shots < 5; shots++ {
		s.ApplyInput("A", Input{Sequence: seq, AimRadians: aimAngle, Fire: true}, 1.0/60)
		seq++
		for i := 0; i < 10; i++ {
			s.Tick(uint64(shots*10+i), 1.0/60)
		}
	}
	// Let the last projectile cross the remaining distance.
	for i := 0; i < 30; i++ {
		s.Tick(uint64(50+i), 1.0/60)
	}

	deaths := s.ConsumeDeathEvents()
	if len(deaths) != 1 {
		t.Fatalf("expected exactly one death event, got %d", len(deaths))
	}
	if deaths[0].ShooterID != "A" || deaths[0].TargetID != "B" {
		t.Fatalf("unexpected death event: %+v", deaths[0])
	}

	bFinal, _ := s.GetPlayer("B")
	aFinal, _ := s.GetPlayer("A")
	if bFinal.Deaths != 1 {
		t.Errorf("B.Deaths = %d, want 1", bFinal.Deaths)
	}
	if aFinal.ShotsFired < 5 {
		t.Errorf("A.ShotsFired = %d, want >= 5", aFinal.ShotsFired)
	}
	if aFinal.HitsLanded != 5 {
		t.Errorf("A.HitsLanded = %d, want 5", aFinal.HitsLanded)
	}
	if aFinal.Accuracy() != 1.0 {
		t.Errorf("A.Accuracy() = %v, want 1.0", aFinal.Accuracy())
	}
}

func TestInputMonotonicity(t *testing.T) {
	s := New(nil)
	s.UpsertPlayer("A")

	s.ApplyInput("A", Input{Sequence: 5, MoveX: 1}, 1.0)
	after5, _ := s.GetPlayer("A")

	// Stale input must not mutate position or sequence.
	s.ApplyInput("A", Input{Sequence: 3, MoveX: 1}, 1.0)
	afterStale, _ := s.GetPlayer("A")

	if afterStale.LastInputSequence != 5 {
		t.Fatalf("LastInputSequence regressed to %d", afterStale.LastInputSequence)
	}
	if afterStale.X != after5.X || afterStale.Y != after5.Y {
		t.Fatalf("stale input mutated position: %+v vs %+v", afterStale, after5)
	}

	s.ApplyInput("A", Input{Sequence: 6, MoveX: 1}, 1.0)
	after6, _ := s.GetPlayer("A")
	if after6.LastInputSequence != 6 {
		t.Fatalf("LastInputSequence = %d, want 6", after6.LastInputSequence)
	}
}

func TestFireCooldown(t *testing.T) {
	s := New(nil)
	s.UpsertPlayer("A")
	s.UpsertPlayer("B")

	s.ApplyInput("A", Input{Sequence: 1, Fire: true}, 0)
	s.Tick(0, 0.01) // 10ms elapsed, below the 100ms cooldown
	s.ApplyInput("A", Input{Sequence: 2, Fire: true}, 0)

	if s.ActiveProjectileCount() != 1 {
		t.Fatalf("expected second fire within cooldown to be dropped, got %d active projectiles", s.ActiveProjectileCount())
	}

	s.Tick(1, 0.2) // advance past cooldown
	s.ApplyInput("A", Input{Sequence: 3, Fire: true}, 0)
	if s.ActiveProjectileCount() != 2 {
		t.Fatalf("expected fire after cooldown to succeed, got %d active projectiles", s.ActiveProjectileCount())
	}
}

func TestHealthInvariant(t *testing.T) {
	s := New(nil)
	s.UpsertPlayer("A")
	s.UpsertPlayer("B")
	for i := 0; i < 20; i++ {
		s.ApplyInput("A", Input{Sequence: uint32(i + 1), Fire: true}, 0)
		for j := 0; j < 10; j++ {
			s.Tick(uint64(i*10+j), 1.0/60)
		}
		p, _ := s.GetPlayer("B")
		if p.Health < 0 || p.Health > p.MaxHealth {
			t.Fatalf("health out of range: %+v", p)
		}
		if p.Alive != (p.Health > 0) {
			t.Fatalf("alive/health mismatch: %+v", p)
		}
	}
}

func TestProjectileDirectionRejectsZeroMagnitude(t *testing.T) {
	_, err := newProjectile("p1", "owner", 0, 0, 0, 0, 0)
	if err == nil {
		t.Fatal("expected error constructing projectile with zero direction")
	}
}

func TestUnknownPlayerInputDropped(t *testing.T) {
	s := New(nil)
	s.ApplyInput("ghost", Input{Sequence: 1, Fire: true}, 1.0)
	if s.ActiveProjectileCount() != 0 {
		t.Fatal("input for unknown player must not mutate session state")
	}
}

func TestUpsertPlayerIdempotent(t *testing.T) {
	s := New(nil)
	s.UpsertPlayer("A")
	s.ApplyInput("A", Input{Sequence: 1, MoveX: 1}, 1.0)
	moved, _ := s.GetPlayer("A")

	s.UpsertPlayer("A") // must not reset position/health
	again, _ := s.GetPlayer("A")
	if again.X != moved.X || again.Y != moved.Y {
		t.Fatalf("re-upsert mutated existing player: %+v vs %+v", again, moved)
	}
}
