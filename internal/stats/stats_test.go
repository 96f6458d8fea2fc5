package stats

import (
	"testing"

	"pvpserver/internal/session"
)

func TestUpdateEloBaseRatings(t *testing.T) {
	newWinner, newLoser := UpdateElo(1200, 1200)
	if newWinner != 1213 {
		t.Fatalf("winner rating = %d, want 1213", newWinner)
	}
	if newLoser != 1187 {
		t.Fatalf("loser rating = %d, want 1187", newLoser)
	}
}

func TestUpdateEloConservesZeroSumApprox(t *testing.T) {
	newWinner, newLoser := UpdateElo(1500, 1400)
	winnerGain := newWinner - 1500
	loserLoss := 1400 - newLoser
	if winnerGain <= 0 {
		t.Fatalf("winner should gain rating, got %d", winnerGain)
	}
	if loserLoss <= 0 {
		t.Fatalf("loser should lose rating, got %d", loserLoss)
	}
}

func TestUpdateEloUnderdogGainsMore(t *testing.T) {
	// Underdog (1000) beating a favorite (1500) should gain far more than
	// the favorite would for the symmetric win.
	underdogGain, _ := UpdateElo(1000, 1500)
	favoriteGain, _ := UpdateElo(1500, 1000)
	if underdogGain-1000 <= favoriteGain-1500 {
		t.Fatalf("expected underdog win to earn a larger rating swing")
	}
}

func TestCollectMatchFloorsWinnerAndLoser(t *testing.T) {
	players := []session.PlayerState{
		{ID: "A"}, {ID: "B"},
	}
	log := []session.CombatEvent{
		{Type: session.EventHit, ShooterID: "A", TargetID: "B", Damage: 20, Tick: 1},
		{Type: session.EventHit, ShooterID: "A", TargetID: "B", Damage: 20, Tick: 2},
	}
	death := session.CombatEvent{Type: session.EventDeath, ShooterID: "A", TargetID: "B", Damage: 20, Tick: 3}

	result := CollectMatch(death, players, log)
	if result.MatchID != "match-3-A-vs-B" {
		t.Fatalf("match id = %q", result.MatchID)
	}
	var a, b PlayerMatchStats
	for _, p := range result.Players {
		switch p.PlayerID {
		case "A":
			a = p
		case "B":
			b = p
		}
	}
	if a.Kills != 1 {
		t.Fatalf("winner kills = %d, want 1", a.Kills)
	}
	if b.Deaths != 1 {
		t.Fatalf("loser deaths = %d, want 1", b.Deaths)
	}
	if a.DamageDealt != 40 || b.DamageTaken != 40 {
		t.Fatalf("damage totals = %d/%d, want 40/40", a.DamageDealt, b.DamageTaken)
	}
}

func TestProfileServiceRecordMatchUpdatesLeaderboard(t *testing.T) {
	svc := NewProfileService()
	result := MatchResult{
		MatchID: "match-1-A-vs-B",
		Tick:    1,
		Players: []PlayerMatchStats{
			{PlayerID: "A", Kills: 1},
			{PlayerID: "B", Deaths: 1},
		},
	}
	svc.RecordMatch(result, "A", "B")

	winner, ok := svc.GetProfile("A")
	if !ok || winner.Rating != 1213 {
		t.Fatalf("winner profile = %+v, ok=%v", winner, ok)
	}
	loser, ok := svc.GetProfile("B")
	if !ok || loser.Rating != 1187 {
		t.Fatalf("loser profile = %+v, ok=%v", loser, ok)
	}

	top := svc.TopProfiles(2)
	if len(top) != 2 || top[0].PlayerID != "A" {
		t.Fatalf("expected A ranked first, got %+v", top)
	}
}
