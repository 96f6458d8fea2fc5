// Package session implements the authoritative game session: player
// upserts, input application, and the fixed-step combat simulation that
// produces hit and death events for a single match.
package session

import (
	"fmt"
	"log"
	"math"
	"sync"
)

// Input is the semantic payload of one client input command, decoupled
// from whatever transport framing carries it across the wire.
type Input struct {
	Sequence        uint32  `json:"sequence"`
	ClientTimestamp uint64  `json:"clientTimestamp"` // ms
	MoveX           float64 `json:"moveX"`
	MoveY           float64 `json:"moveY"`
	AimRadians      float64 `json:"aimRadians"`
	Fire            bool    `json:"fire"`
}

// Session owns all player and projectile state for one match. All mutation
// goes through its mutex; apply_input and tick are safely interleavable.
type Session struct {
	mu  sync.Mutex
	log *log.Logger

	players     map[string]*playerRuntime
	playerOrder []string

	projectiles   []*projectile
	projectileSeq uint64
	deathEvents   []CombatEvent
	combatLog     *combatLog
	sessionTime   float64

	projectilesSpawnedTotal uint64
	projectilesHitsTotal    uint64
	playersDeadTotal        uint64
	collisionsCheckedTotal  uint64
}

// New creates an empty session. logOut may be nil to discard diagnostics.
func New(logOut *log.Logger) *Session {
	if logOut == nil {
		logOut = log.New(logWriterDiscard{}, "", 0)
	}
	return &Session{
		log:       logOut,
		players:   make(map[string]*playerRuntime),
		combatLog: newCombatLog(32),
	}
}

type logWriterDiscard struct{}

func (logWriterDiscard) Write(p []byte) (int, error) { return len(p), nil }

// UpsertPlayer creates a player with full health at a deterministic spawn
// position, or is a no-op if the id already exists.
func (s *Session) UpsertPlayer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[id]; ok {
		return
	}
	x, y := spawnPosition(len(s.playerOrder))
	s.players[id] = newPlayerRuntime(id, x, y)
	s.playerOrder = append(s.playerOrder, id)
}

// RemovePlayer deletes the player; combat events already recorded that
// reference the id remain valid.
func (s *Session) RemovePlayer(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.players[id]; !ok {
		return
	}
	delete(s.players, id)
	for i, pid := range s.playerOrder {
		if pid == id {
			s.playerOrder = append(s.playerOrder[:i], s.playerOrder[i+1:]...)
			break
		}
	}
}

// GetPlayer returns a copy of the player's current state, false if unknown.
func (s *Session) GetPlayer(id string) (PlayerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[id]
	if !ok {
		return PlayerState{}, false
	}
	return p.snapshot(), true
}

// ApplyInput applies movement/aim and an optional fire attempt. Inputs with
// sequence <= last_sequence are dropped without mutating state, as are
// inputs for unknown player ids.
func (s *Session) ApplyInput(id string, in Input, dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.players[id]
	if !ok {
		return
	}
	if in.Sequence <= p.lastSequence {
		return
	}
	p.lastSequence = in.Sequence
	p.x += in.MoveX * MoveSpeed * dt
	p.y += in.MoveY * MoveSpeed * dt
	p.facingRadians = in.AimRadians

	if in.Fire && p.alive {
		s.tryFire(p)
	}
}

// tryFire spawns a projectile if the per-player cooldown has elapsed.
// Fire is recorded (cooldown timer reset) even when the projectile fails to
// construct, matching "fire is recorded even if movement alone does not
// advance position" — a fire attempt is a distinct event from movement.
func (s *Session) tryFire(p *playerRuntime) {
	if p.lastFireSessionAt >= 0 && s.sessionTime-p.lastFireSessionAt < FireCooldownSec {
		return
	}
	p.lastFireSessionAt = s.sessionTime

	dirX, dirY := cosSin(p.facingRadians)
	s.projectileSeq++
	id := fmt.Sprintf("proj-%d", s.projectileSeq)
	proj, err := newProjectile(id, p.id, p.x, p.y, dirX, dirY, s.sessionTime)
	if err != nil {
		s.log.Printf("fire dropped: %v", err)
		return
	}
	s.projectiles = append(s.projectiles, proj)
	p.shotsFired++
	s.projectilesSpawnedTotal++
}

// Tick advances all active projectiles and resolves collisions in insertion
// order: for each projectile, players are checked in insertion order and the
// first hit wins. Expired projectiles are pruned in place (no allocation).
func (s *Session) Tick(tick uint64, dt float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionTime += dt

	n := 0
	for _, proj := range s.projectiles {
		if !proj.active {
			continue
		}
		proj.advance(dt)
		s.resolveCollision(proj, tick)
		if proj.active && !proj.expired(s.sessionTime) {
			s.projectiles[n] = proj
			n++
		}
	}
	s.projectiles = s.projectiles[:n]
}

func (s *Session) resolveCollision(proj *projectile, tick uint64) {
	for _, pid := range s.playerOrder {
		if pid == proj.ownerID {
			continue
		}
		target := s.players[pid]
		if target == nil || !target.alive {
			continue
		}
		s.collisionsCheckedTotal++
		if !proj.collidesWith(target.x, target.y) {
			continue
		}
		proj.active = false
		s.projectilesHitsTotal++

		killedNow := target.applyDamage(DefaultHitDamage)
		shooter := s.players[proj.ownerID]
		if shooter != nil {
			shooter.hitsLanded++
		}

		s.combatLog.append(CombatEvent{
			Type:         EventHit,
			ShooterID:    proj.ownerID,
			TargetID:     pid,
			ProjectileID: proj.id,
			Damage:       DefaultHitDamage,
			Tick:         tick,
		})

		if killedNow {
			target.deaths++
			s.playersDeadTotal++
			event := CombatEvent{
				Type:      EventDeath,
				ShooterID: proj.ownerID,
				TargetID:  pid,
				Tick:      tick,
			}
			s.combatLog.append(event)
			s.deathEvents = append(s.deathEvents, event)
		}
		return // first hit wins
	}
}

// Snapshot returns copies of all current player states, in insertion order.
func (s *Session) Snapshot() []PlayerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayerState, 0, len(s.playerOrder))
	for _, id := range s.playerOrder {
		out = append(out, s.players[id].snapshot())
	}
	return out
}

// ProjectileSnapshot returns copies of all currently active projectiles.
func (s *Session) ProjectileSnapshot() []ProjectileState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ProjectileState, 0, len(s.projectiles))
	for _, p := range s.projectiles {
		if p.active {
			out = append(out, p.snapshot())
		}
	}
	return out
}

// ConsumeDeathEvents returns and clears the queue of death events generated
// since the last call. At-most-once delivery per consumer.
func (s *Session) ConsumeDeathEvents() []CombatEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.deathEvents) == 0 {
		return nil
	}
	out := s.deathEvents
	s.deathEvents = nil
	return out
}

// CombatLogSnapshot returns a copy of the bounded recent-events ring buffer.
func (s *Session) CombatLogSnapshot() []CombatEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.combatLog.snapshot()
}

// ActiveProjectileCount is the count of currently active projectiles.
func (s *Session) ActiveProjectileCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.projectiles {
		if p.active {
			n++
		}
	}
	return n
}

// SessionTime is the session's monotonic simulation clock, in seconds,
// advanced only by Tick. Exposed for lag compensation rewind bookkeeping.
func (s *Session) SessionTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionTime
}

// MetricsSnapshot renders internal counters as Prometheus-style text lines.
func (s *Session) MetricsSnapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf(
		"# TYPE session_projectiles_spawned_total counter\nsession_projectiles_spawned_total %d\n"+
			"# TYPE session_projectiles_hits_total counter\nsession_projectiles_hits_total %d\n"+
			"# TYPE session_players_dead_total counter\nsession_players_dead_total %d\n"+
			"# TYPE session_collisions_checked_total counter\nsession_collisions_checked_total %d\n",
		s.projectilesSpawnedTotal, s.projectilesHitsTotal, s.playersDeadTotal, s.collisionsCheckedTotal,
	)
}

func cosSin(radians float64) (float64, float64) {
	return math.Cos(radians), math.Sin(radians)
}
