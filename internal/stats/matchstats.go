package stats

import (
	"fmt"
	"sort"

	"pvpserver/internal/session"
)

// PlayerMatchStats is one player's contribution to a completed match.
type PlayerMatchStats struct {
	PlayerID    string
	ShotsFired  uint32
	HitsLanded  uint32
	DamageDealt int
	DamageTaken int
	Kills       int
	Deaths      int
}

// MatchResult is the outcome of collecting a death event into a completed
// match record.
type MatchResult struct {
	MatchID  string
	Tick     uint64
	WinnerID string
	LoserID  string
	Players  []PlayerMatchStats
}

// CollectMatch combines each player's final session counters (shots fired,
// hits landed, deaths) with a walk of the combat log up to and including the
// triggering death event (per-player damage dealt/taken and kills). It
// floors the winner's kill count at 1 and the loser's death count at 1 even
// if the log walk somehow misses the terminal event, so a recorded match
// always has a decisive result.
func CollectMatch(death session.CombatEvent, players []session.PlayerState, log []session.CombatEvent) MatchResult {
	totals := make(map[string]*PlayerMatchStats)
	ensure := func(id string) *PlayerMatchStats {
		if s, ok := totals[id]; ok {
			return s
		}
		s := &PlayerMatchStats{PlayerID: id}
		totals[id] = s
		return s
	}
	for _, p := range players {
		s := ensure(p.ID)
		s.ShotsFired = p.ShotsFired
		s.HitsLanded = p.HitsLanded
		s.Deaths = int(p.Deaths)
	}

	for _, e := range log {
		if e.Tick > death.Tick {
			break
		}
		switch e.Type {
		case session.EventHit:
			ensure(e.ShooterID).DamageDealt += e.Damage
			ensure(e.TargetID).DamageTaken += e.Damage
		case session.EventDeath:
			ensure(e.ShooterID).Kills++
			if s := ensure(e.TargetID); s.Deaths == 0 {
				s.Deaths = 1
			}
		}
	}

	if s := ensure(death.ShooterID); s.Kills == 0 {
		s.Kills = 1
	}
	if s := ensure(death.TargetID); s.Deaths == 0 {
		s.Deaths = 1
	}

	out := make([]PlayerMatchStats, 0, len(totals))
	for _, s := range totals {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })

	return MatchResult{
		MatchID:  fmt.Sprintf("match-%d-%s-vs-%s", death.Tick, death.ShooterID, death.TargetID),
		Tick:     death.Tick,
		WinnerID: death.ShooterID,
		LoserID:  death.TargetID,
		Players:  out,
	}
}
