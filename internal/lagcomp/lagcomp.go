// Package lagcomp implements authoritative hit validation rewound to the
// shooter's observed world: a short FIFO history of world states plus a
// ray-circle intersection test run against the interpolated past state.
package lagcomp

import (
	"math"
	"sync"

	"pvpserver/internal/session"
)

const (
	// HistorySize holds ~2s of history at 60 snapshots/second.
	HistorySize = 128
	// MaxRewindMs is the maximum permitted rewind in the hit validation path.
	MaxRewindMs = 200
	// defaultDamage is applied to every accepted lag-compensated hit.
	defaultDamage = 20
)

// WorldState is one saved instant of the world, keyed by TimestampMs.
type WorldState struct {
	TimestampMs uint64
	Players     []session.PlayerState
}

func (w WorldState) findPlayer(id string) (session.PlayerState, bool) {
	for _, p := range w.Players {
		if p.ID == id {
			return p, true
		}
	}
	return session.PlayerState{}, false
}

// HitRequest is a client's claim of a hit, to be validated against history.
type HitRequest struct {
	ShooterID        string
	ClientTimestamp  uint64 // ms
	OriginX, OriginY float64
	DirX, DirY       float64
}

// HitResult is the outcome of ValidateHitWithCompensation. RejectReason is
// empty iff Valid is true; no exceptions are surfaced by this component.
type HitResult struct {
	Valid        bool    `json:"valid"`
	HitPlayerID  string  `json:"hitPlayerId,omitempty"`
	HitX         float64 `json:"hitX"`
	HitY         float64 `json:"hitY"`
	Damage       int     `json:"damage"`
	RejectReason string  `json:"rejectReason,omitempty"`
}

type stats struct {
	hitsValidated uint64
	hitsAccepted  uint64
	hitsRejected  uint64
	avgRewindMs   float64
}

// Compensator maintains its own history, separate from the broadcast-side
// Snapshot Manager, and never mutates session state.
type Compensator struct {
	mu      sync.Mutex
	history []WorldState // FIFO, oldest first
	stats   stats
}

func New() *Compensator {
	return &Compensator{}
}

// SaveWorldState appends to the history deque; oldest is evicted past HistorySize.
func (c *Compensator) SaveWorldState(state WorldState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, state)
	if len(c.history) > HistorySize {
		c.history = c.history[len(c.history)-HistorySize:]
	}
}

// GetWorldStateAt returns the state at timestampMs, interpolating between
// bracketing entries. Out-of-range requests clamp to oldest/newest. Follows
// the same "after"-list-driven interpolation rule as the Snapshot Manager:
// before-only players are dropped.
func (c *Compensator) GetWorldStateAt(timestampMs uint64) (WorldState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.history) == 0 {
		return WorldState{}, false
	}
	if timestampMs <= c.history[0].TimestampMs {
		return c.history[0], true
	}
	last := c.history[len(c.history)-1]
	if timestampMs >= last.TimestampMs {
		return last, true
	}
	for i := 1; i < len(c.history); i++ {
		if c.history[i].TimestampMs >= timestampMs {
			return interpolate(c.history[i-1], c.history[i], timestampMs), true
		}
	}
	return last, true
}

func interpolate(before, after WorldState, timestampMs uint64) WorldState {
	span := after.TimestampMs - before.TimestampMs
	var t float64
	if span > 0 {
		t = float64(timestampMs-before.TimestampMs) / float64(span)
	}
	result := WorldState{TimestampMs: timestampMs}
	result.Players = make([]session.PlayerState, 0, len(after.Players))
	for _, ap := range after.Players {
		interp := ap
		if bp, ok := before.findPlayer(ap.ID); ok {
			interp.X = bp.X + t*(ap.X-bp.X)
			interp.Y = bp.Y + t*(ap.Y-bp.Y)
			interp.FacingRadians = bp.FacingRadians + t*(ap.FacingRadians-bp.FacingRadians)
		}
		result.Players = append(result.Players, interp)
	}
	return result
}

// ValidateHitWithCompensation rejects claims stamped in the future, claims
// rewinding past MaxRewindMs, and claims with no history to rewind into,
// then raycasts the shooter's ray through the interpolated past state.
func (c *Compensator) ValidateHitWithCompensation(req HitRequest, serverTimeMs uint64) HitResult {
	c.mu.Lock()
	c.stats.hitsValidated++
	c.mu.Unlock()

	if serverTimeMs < req.ClientTimestamp {
		return c.reject("Client timestamp in future")
	}
	rewind := serverTimeMs - req.ClientTimestamp
	if rewind > MaxRewindMs {
		return c.reject("Rewind exceeds maximum")
	}

	past, ok := c.GetWorldStateAt(req.ClientTimestamp)
	if !ok {
		return c.reject("No historical state available")
	}

	hitID, hitX, hitY, found := raycastPlayers(past, req.ShooterID, req.OriginX, req.OriginY, req.DirX, req.DirY)
	if !found {
		return c.reject("No hit detected")
	}

	c.mu.Lock()
	c.stats.hitsAccepted++
	n := c.stats.hitsAccepted
	c.stats.avgRewindMs = (c.stats.avgRewindMs*float64(n-1) + float64(rewind)) / float64(n)
	c.mu.Unlock()

	return HitResult{Valid: true, HitPlayerID: hitID, HitX: hitX, HitY: hitY, Damage: defaultDamage}
}

func (c *Compensator) reject(reason string) HitResult {
	c.mu.Lock()
	c.stats.hitsRejected++
	c.mu.Unlock()
	return HitResult{RejectReason: reason}
}

// CalculateRewindTime estimates the RTT-adjusted rewind, floored at zero.
// Diagnostic helper, not on the hot validation path.
func (c *Compensator) CalculateRewindTime(clientTimestampMs, serverTimeMs uint64, clientRTTMs uint32) uint64 {
	halfRTT := uint64(clientRTTMs) / 2
	if clientTimestampMs+halfRTT <= serverTimeMs {
		return serverTimeMs - (clientTimestampMs + halfRTT)
	}
	return 0
}

// raycastPlayers intersects the ray against every alive non-shooter player
// and returns the closest hit, if any.
func raycastPlayers(state WorldState, shooterID string, originX, originY, dirX, dirY float64) (id string, hitX, hitY float64, found bool) {
	closestT := math.MaxFloat64
	for _, p := range state.Players {
		if p.ID == shooterID || !p.Alive {
			continue
		}
		if t, ok := rayCircleIntersect(originX, originY, dirX, dirY, p.X, p.Y, session.PlayerRadius); ok {
			if t < closestT {
				closestT = t
				id = p.ID
				hitX = originX + t*dirX
				hitY = originY + t*dirY
				found = true
			}
		}
	}
	return id, hitX, hitY, found
}

// rayCircleIntersect solves a*t^2 + b*t + c = 0 for the ray-circle hit
// parameter, choosing the smaller non-negative root.
func rayCircleIntersect(originX, originY, dirX, dirY, cx, cy, radius float64) (float64, bool) {
	fx := originX - cx
	fy := originY - cy

	a := dirX*dirX + dirY*dirY
	b := 2 * (fx*dirX + fy*dirY)
	cc := fx*fx + fy*fy - radius*radius

	discriminant := b*b - 4*a*cc
	if discriminant < 0 {
		return 0, false
	}
	sqrtDisc := math.Sqrt(discriminant)
	t1 := (-b - sqrtDisc) / (2 * a)
	t2 := (-b + sqrtDisc) / (2 * a)

	if t1 >= 0 {
		return t1, true
	}
	if t2 >= 0 {
		return t2, true
	}
	return 0, false
}

// Stats returns a copy of the validation counters.
type Stats struct {
	HitsValidated uint64
	HitsAccepted  uint64
	HitsRejected  uint64
	AvgRewindMs   float64
}

func (c *Compensator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		HitsValidated: c.stats.hitsValidated,
		HitsAccepted:  c.stats.hitsAccepted,
		HitsRejected:  c.stats.hitsRejected,
		AvgRewindMs:   c.stats.avgRewindMs,
	}
}
