package stats

import (
	"pvpserver/internal/spatial"
)

// Leaderboard ranks players by rating using a skip list index. Upsert is a
// remove-then-reinsert into the score-descending ordering; GetRank and TopN
// are O(log n) and O(log n + k) respectively.
type Leaderboard struct {
	index *spatial.SkipList
}

// LeaderboardEntry is one ranked row.
type LeaderboardEntry struct {
	PlayerID string
	Rating   float64
	Rank     int
}

func NewLeaderboard() *Leaderboard {
	return &Leaderboard{index: spatial.NewSkipList()}
}

// Upsert inserts or repositions a player at the given rating.
func (lb *Leaderboard) Upsert(playerID string, rating float64) {
	lb.index.Insert(playerID, rating)
}

// Remove drops a player from the leaderboard entirely.
func (lb *Leaderboard) Remove(playerID string) {
	lb.index.Remove(playerID)
}

// GetRank returns a player's 1-indexed rank, 0 if absent.
func (lb *Leaderboard) GetRank(playerID string) int {
	return lb.index.GetRank(playerID)
}

// TopN returns the top n entries by rating, descending.
func (lb *Leaderboard) TopN(n int) []LeaderboardEntry {
	raw := lb.index.GetRange(1, n)
	out := make([]LeaderboardEntry, len(raw))
	for i, e := range raw {
		out[i] = LeaderboardEntry{PlayerID: e.Key, Rating: e.Score, Rank: i + 1}
	}
	return out
}

// Size returns the number of ranked players.
func (lb *Leaderboard) Size() int {
	return lb.index.Length()
}
