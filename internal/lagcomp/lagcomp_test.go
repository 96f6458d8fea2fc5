package lagcomp

import (
	"testing"

	"pvpserver/internal/session"
)

func worldAt(tMs uint64, x float64) WorldState {
	return WorldState{
		TimestampMs: tMs,
		Players: []session.PlayerState{
			{ID: "V", X: x, Y: 0, Alive: true, Health: 100, MaxHealth: 100},
		},
	}
}

func TestLagCompensationRewind(t *testing.T) {
	c := New()
	c.SaveWorldState(worldAt(0, 0.0))
	c.SaveWorldState(worldAt(100, 0.1))
	c.SaveWorldState(worldAt(200, 0.2))
	c.SaveWorldState(worldAt(300, 0.3))

	result := c.ValidateHitWithCompensation(HitRequest{
		ShooterID:       "S",
		ClientTimestamp: 150,
		OriginX:         -5,
		OriginY:         0.15,
		DirX:            1,
		DirY:            0,
	}, 300)

	if !result.Valid {
		t.Fatalf("expected accepted hit, got reject reason %q", result.RejectReason)
	}
	if result.HitPlayerID != "V" {
		t.Fatalf("expected hit target V, got %q", result.HitPlayerID)
	}
	if result.HitX < -5 || result.HitX > 0 {
		t.Fatalf("hit x = %v, expected within ray bounds", result.HitX)
	}
}

func TestLagCompensationRejectsExcessiveRewind(t *testing.T) {
	c := New()
	c.SaveWorldState(worldAt(0, 0.0))
	c.SaveWorldState(worldAt(300, 0.3))

	result := c.ValidateHitWithCompensation(HitRequest{
		ShooterID: "S", ClientTimestamp: 150, OriginX: -5, OriginY: 0.15, DirX: 1, DirY: 0,
	}, 600)

	if result.Valid {
		t.Fatal("expected rejection for rewind exceeding maximum")
	}
	if result.RejectReason != "Rewind exceeds maximum" {
		t.Fatalf("reject reason = %q", result.RejectReason)
	}
}

func TestLagCompensationRejectsFutureTimestamp(t *testing.T) {
	c := New()
	c.SaveWorldState(worldAt(0, 0))
	result := c.ValidateHitWithCompensation(HitRequest{ShooterID: "S", ClientTimestamp: 500}, 100)
	if result.Valid || result.RejectReason != "Client timestamp in future" {
		t.Fatalf("got %+v", result)
	}
}

func TestLagCompensationRejectsEmptyHistory(t *testing.T) {
	c := New()
	result := c.ValidateHitWithCompensation(HitRequest{ShooterID: "S", ClientTimestamp: 0}, 10)
	if result.Valid || result.RejectReason != "No historical state available" {
		t.Fatalf("got %+v", result)
	}
}

func TestLagCompensationSelfExclusion(t *testing.T) {
	c := New()
	c.SaveWorldState(WorldState{
		TimestampMs: 0,
		Players: []session.PlayerState{
			{ID: "S", X: 0, Y: 0, Alive: true, Health: 100},
		},
	})
	result := c.ValidateHitWithCompensation(HitRequest{
		ShooterID: "S", ClientTimestamp: 0, OriginX: -1, OriginY: 0, DirX: 1, DirY: 0,
	}, 10)
	if result.Valid {
		t.Fatal("shooter must never be reported as their own hit target")
	}
}

func TestRayCircleIntersectMissesWhenNoPlayersAlive(t *testing.T) {
	c := New()
	c.SaveWorldState(WorldState{
		TimestampMs: 0,
		Players: []session.PlayerState{
			{ID: "V", X: 5, Y: 0, Alive: false, Health: 0},
		},
	})
	result := c.ValidateHitWithCompensation(HitRequest{
		ShooterID: "S", ClientTimestamp: 0, OriginX: 0, OriginY: 0, DirX: 1, DirY: 0,
	}, 5)
	if result.Valid || result.RejectReason != "No hit detected" {
		t.Fatalf("got %+v", result)
	}
}
