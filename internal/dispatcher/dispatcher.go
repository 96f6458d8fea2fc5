// Package dispatcher wires external transport events (connect, disconnect,
// input) to a Game Session, and the session's per-tick output (snapshots,
// completed matches) back out to whatever is listening.
package dispatcher

import (
	"log"
	"sync"

	"pvpserver/internal/lagcomp"
	"pvpserver/internal/session"
	"pvpserver/internal/snapshot"
	"pvpserver/internal/stats"
)

type JoinFunc func(playerID string)
type LeaveFunc func(playerID string)

// BroadcastFunc receives every tick's snapshot. delta is non-nil when the
// snapshot can be encoded relative to the previously broadcast one;
// keyframe ticks and the first broadcast carry only the full snapshot.
type BroadcastFunc func(snap snapshot.Snapshot, delta *snapshot.Delta)

type MatchCompletedFunc func(result stats.MatchResult)

// keyframeInterval forces a full-state broadcast every this many sequences,
// so a client that missed a delta resyncs without a round trip.
const keyframeInterval = 60

// Dispatcher binds one transport's connection handles to session player
// ids. Reconnecting under the same id reclaims the mapping without
// disturbing the player's in-session state.
type Dispatcher struct {
	mu  sync.Mutex
	log *log.Logger

	session     *session.Session
	snapshots   *snapshot.Manager
	compensator *lagcomp.Compensator

	endpointToPlayer map[string]string
	lastBroadcastSeq uint32 // touched only from Tick, which runs on the driver's single worker

	onJoin           JoinFunc
	onLeave          LeaveFunc
	onBroadcast      BroadcastFunc
	onMatchCompleted MatchCompletedFunc
}

func New(sess *session.Session, snapshots *snapshot.Manager, compensator *lagcomp.Compensator, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		log:              logger,
		session:          sess,
		snapshots:        snapshots,
		compensator:      compensator,
		endpointToPlayer: make(map[string]string),
	}
}

func (d *Dispatcher) SetJoinHook(f JoinFunc)           { d.mu.Lock(); d.onJoin = f; d.mu.Unlock() }
func (d *Dispatcher) SetLeaveHook(f LeaveFunc)         { d.mu.Lock(); d.onLeave = f; d.mu.Unlock() }
func (d *Dispatcher) SetBroadcastHook(f BroadcastFunc) { d.mu.Lock(); d.onBroadcast = f; d.mu.Unlock() }

func (d *Dispatcher) SetMatchCompletedHook(f MatchCompletedFunc) {
	d.mu.Lock()
	d.onMatchCompleted = f
	d.mu.Unlock()
}

// OnClientConnect upserts the player into the session and records the
// endpoint-to-player mapping, reclaiming it if the id reconnects under a
// new endpoint.
func (d *Dispatcher) OnClientConnect(playerID, endpointHandle string) {
	d.session.UpsertPlayer(playerID)

	d.mu.Lock()
	for ep, id := range d.endpointToPlayer {
		if id == playerID && ep != endpointHandle {
			delete(d.endpointToPlayer, ep)
		}
	}
	d.endpointToPlayer[endpointHandle] = playerID
	join := d.onJoin
	d.mu.Unlock()

	d.log.Printf("dispatcher connect player=%s endpoint=%s", playerID, endpointHandle)
	if join != nil {
		join(playerID)
	}
}

// OnClientDisconnect resolves the endpoint to its player id, removes the
// player from the session, and forgets the mapping.
func (d *Dispatcher) OnClientDisconnect(endpointHandle string) {
	d.mu.Lock()
	playerID, ok := d.endpointToPlayer[endpointHandle]
	if ok {
		delete(d.endpointToPlayer, endpointHandle)
	}
	leave := d.onLeave
	d.mu.Unlock()

	if !ok {
		return
	}
	d.session.RemovePlayer(playerID)
	d.log.Printf("dispatcher disconnect player=%s endpoint=%s", playerID, endpointHandle)
	if leave != nil {
		leave(playerID)
	}
}

// OnClientInput forwards one input to the session.
func (d *Dispatcher) OnClientInput(playerID string, in session.Input, dt float64) {
	d.session.ApplyInput(playerID, in, dt)
}

// OnShotClaim validates a client's claimed hit against the compensator's
// rewound history and returns the authoritative result. The shooter id is
// taken from the resolved connection, never from the claim payload.
func (d *Dispatcher) OnShotClaim(playerID string, req lagcomp.HitRequest, serverTimeMs uint64) lagcomp.HitResult {
	if d.compensator == nil {
		return lagcomp.HitResult{RejectReason: "No historical state available"}
	}
	req.ShooterID = playerID
	result := d.compensator.ValidateHitWithCompensation(req, serverTimeMs)
	if result.Valid {
		d.log.Printf("dispatcher hit accepted shooter=%s target=%s damage=%d", playerID, result.HitPlayerID, result.Damage)
	}
	return result
}

// Tick advances the session, publishes the resulting snapshot, and drains
// any death events into completed-match records. Called once per tick from
// the Tick Driver's update callback.
func (d *Dispatcher) Tick(tick uint64, dt float64, nowMs uint64) {
	d.session.Tick(tick, dt)

	players := d.session.Snapshot()
	projectiles := d.session.ProjectileSnapshot()

	snap := d.snapshots.CreateSnapshot(nowMs, players, projectiles)
	d.snapshots.SaveSnapshot(snap)
	if d.compensator != nil {
		d.compensator.SaveWorldState(lagcomp.WorldState{TimestampMs: nowMs, Players: players})
	}

	var delta *snapshot.Delta
	if d.lastBroadcastSeq != 0 && snap.Sequence%keyframeInterval != 0 {
		if dlt, err := d.snapshots.CalculateDelta(d.lastBroadcastSeq, snap.Sequence); err == nil {
			delta = &dlt
		}
	}
	d.lastBroadcastSeq = snap.Sequence

	d.mu.Lock()
	broadcast := d.onBroadcast
	matchCompleted := d.onMatchCompleted
	d.mu.Unlock()

	if broadcast != nil {
		broadcast(snap, delta)
	}

	deaths := d.session.ConsumeDeathEvents()
	if len(deaths) == 0 || matchCompleted == nil {
		return
	}
	combatLog := d.session.CombatLogSnapshot()
	for _, death := range deaths {
		result := stats.CollectMatch(death, players, combatLog)
		matchCompleted(result)
	}
}
