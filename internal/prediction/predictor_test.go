package prediction

import (
	"testing"

	"pvpserver/internal/session"
)

func TestReconcileAcceptsCloseLocalPrediction(t *testing.T) {
	p := New(session.PlayerState{X: 0, Y: 0})
	p.ApplyLocal(AppliedInput{Sequence: 1, MoveX: 1, DT: 0.1})

	server := session.PlayerState{LastInputSequence: 1, X: 0.5, Y: 0, Health: 100, MaxHealth: 100, Alive: true}
	result := p.Reconcile(server, 1.0)
	if result.X < 0.4 || result.X > 0.6 {
		t.Fatalf("expected reconciled X near 0.5, got %v", result.X)
	}
}

func TestReconcileResimulatesOnLargeError(t *testing.T) {
	p := New(session.PlayerState{X: 0, Y: 0})
	p.ApplyLocal(AppliedInput{Sequence: 1, MoveX: 1, DT: 0.1})
	p.ApplyLocal(AppliedInput{Sequence: 2, MoveX: 1, DT: 0.1})

	// Server disagrees wildly with the local prediction for seq 1.
	server := session.PlayerState{LastInputSequence: 1, X: 50, Y: 50, Health: 100, MaxHealth: 100, Alive: true}
	result := p.Reconcile(server, 1.0)

	// Resimulation re-applies input 2 (MoveX=1, dt=0.1, speed=5) from the
	// server's authoritative X=50.
	want := 50 + session.MoveSpeed*0.1
	if result.X < want-0.01 || result.X > want+0.01 {
		t.Fatalf("expected resimulated X near %v, got %v", want, result.X)
	}
}

func TestReconcileBlendFactor(t *testing.T) {
	p := New(session.PlayerState{X: 0, Y: 0})
	p.ApplyLocal(AppliedInput{Sequence: 1, MoveX: 1, DT: 1})

	server := session.PlayerState{LastInputSequence: 1, X: 50, Y: 0, Health: 100, MaxHealth: 100, Alive: true}
	result := p.Reconcile(server, 0.5)
	// current was 5 (1*5*1), target (resimulated, no pending left) is 50;
	// blended halfway should land between the two.
	if result.X <= 5 || result.X >= 50 {
		t.Fatalf("expected blended X strictly between 5 and 50, got %v", result.X)
	}
}
