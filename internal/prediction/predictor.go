// Package prediction provides a reference client-side predictor for the
// server's reconciliation contract: it never talks to the server directly,
// only to the fields guaranteed present on every broadcast
// (last_input_sequence, position, health, alive). It exists to prove those
// fields are sufficient to reconcile.
package prediction

import (
	"math"

	"pvpserver/internal/session"
)

// PositionThreshold is the Euclidean error, in meters, above which the
// predictor resimulates instead of trusting its own prediction.
const PositionThreshold = 0.1

// PredictedState is one entry in the ring of recent local predictions,
// keyed by the input sequence that produced it.
type PredictedState struct {
	Sequence uint32
	X, Y     float64
}

// AppliedInput is a single input the predictor has applied locally and must
// be able to re-apply during resimulation.
type AppliedInput struct {
	Sequence uint32
	MoveX    float64
	MoveY    float64
	DT       float64
}

// Predictor tracks a ring of predictions and reconciles against server
// broadcasts.
type Predictor struct {
	predictions []PredictedState
	pending     []AppliedInput
	current     PredictedState
}

func New(initial session.PlayerState) *Predictor {
	return &Predictor{current: PredictedState{Sequence: initial.LastInputSequence, X: initial.X, Y: initial.Y}}
}

// ApplyLocal predicts the effect of one input immediately, before server
// acknowledgement, and records it for later reconciliation.
func (p *Predictor) ApplyLocal(in AppliedInput) PredictedState {
	p.current.X += in.MoveX * session.MoveSpeed * in.DT
	p.current.Y += in.MoveY * session.MoveSpeed * in.DT
	p.current.Sequence = in.Sequence
	p.predictions = append(p.predictions, p.current)
	p.pending = append(p.pending, in)
	return p.current
}

// Reconcile looks up the prediction matching the server's acknowledged
// sequence, computes the position error, and if it exceeds
// PositionThreshold, resimulates from the server's authoritative position
// by re-applying every input with a higher sequence. Returns the
// reconciled (possibly blended) state.
func (p *Predictor) Reconcile(server session.PlayerState, blend float64) PredictedState {
	ackSeq := server.LastInputSequence
	predicted, found := p.findPrediction(ackSeq)

	target := PredictedState{Sequence: ackSeq, X: server.X, Y: server.Y}
	if found {
		errDist := math.Hypot(predicted.X-server.X, predicted.Y-server.Y)
		if errDist > PositionThreshold {
			target = p.resimulateFrom(server)
		} else {
			target = p.current
		}
	} else {
		target = p.resimulateFrom(server)
	}

	if blend < 0 {
		blend = 0
	}
	if blend > 1 {
		blend = 1
	}
	p.current = PredictedState{
		Sequence: ackSeq,
		X:        p.current.X + blend*(target.X-p.current.X),
		Y:        p.current.Y + blend*(target.Y-p.current.Y),
	}
	p.pruneAcknowledged(ackSeq)
	return p.current
}

func (p *Predictor) findPrediction(seq uint32) (PredictedState, bool) {
	for _, pred := range p.predictions {
		if pred.Sequence == seq {
			return pred, true
		}
	}
	return PredictedState{}, false
}

// resimulateFrom re-applies every pending input with sequence greater than
// the server's acknowledged sequence, starting from the server's position.
func (p *Predictor) resimulateFrom(server session.PlayerState) PredictedState {
	state := PredictedState{Sequence: server.LastInputSequence, X: server.X, Y: server.Y}
	for _, in := range p.pending {
		if in.Sequence <= server.LastInputSequence {
			continue
		}
		state.X += in.MoveX * session.MoveSpeed * in.DT
		state.Y += in.MoveY * session.MoveSpeed * in.DT
		state.Sequence = in.Sequence
	}
	return state
}

func (p *Predictor) pruneAcknowledged(ackSeq uint32) {
	n := 0
	for _, pred := range p.predictions {
		if pred.Sequence > ackSeq {
			p.predictions[n] = pred
			n++
		}
	}
	p.predictions = p.predictions[:n]

	m := 0
	for _, in := range p.pending {
		if in.Sequence > ackSeq {
			p.pending[m] = in
			m++
		}
	}
	p.pending = p.pending[:m]
}
