package stats

import (
	"fmt"
	"math"
	"sync"
)

// EloK is the K-factor applied to every rating update.
const EloK = 25.0

// expectedScore is the standard logistic expected-score formula.
func expectedScore(a, b float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (b-a)/400.0))
}

// roundHalfAwayFromZero matches std::lround: ties round away from zero.
func roundHalfAwayFromZero(x float64) int {
	if x >= 0 {
		return int(math.Floor(x + 0.5))
	}
	return int(math.Ceil(x - 0.5))
}

// UpdateElo returns the new (winner, loser) ratings after one match. The
// loser's actual score is 1 - winner's actual score (1.0), so only the
// winner's expected score needs computing.
func UpdateElo(winnerRating, loserRating int) (newWinner, newLoser int) {
	expectedWin := expectedScore(float64(winnerRating), float64(loserRating))
	expectedLose := 1.0 - expectedWin

	newWinner = winnerRating + roundHalfAwayFromZero(EloK*(1.0-expectedWin))
	newLoser = loserRating + roundHalfAwayFromZero(EloK*(0.0-expectedLose))
	return newWinner, newLoser
}

// Profile is a player's persistent record: running sums of every per-match
// stat the collector produces, plus the current rating.
type Profile struct {
	PlayerID    string
	Rating      int
	Wins        int
	Losses      int
	Kills       int
	Deaths      int
	ShotsFired  uint32
	HitsLanded  uint32
	DamageDealt int
	DamageTaken int
}

// ProfileService owns every player profile and the rating leaderboard built
// over it. One mutex guards both; they are always updated together.
type ProfileService struct {
	mu          sync.Mutex
	profiles    map[string]*Profile
	leaderboard *Leaderboard

	matchesRecorded uint64
	ratingUpdates   uint64
}

const defaultRating = 1200

func NewProfileService() *ProfileService {
	return &ProfileService{
		profiles:    make(map[string]*Profile),
		leaderboard: NewLeaderboard(),
	}
}

func (s *ProfileService) getOrCreateLocked(id string) *Profile {
	p, ok := s.profiles[id]
	if !ok {
		p = &Profile{PlayerID: id, Rating: defaultRating}
		s.profiles[id] = p
		s.leaderboard.Upsert(id, float64(p.Rating))
	}
	return p
}

// RecordMatch applies a completed match's outcome to both players' profiles:
// win/loss and kill/death totals from the collected stats, then one ELO
// rating update keyed on the winner/loser pair.
func (s *ProfileService) RecordMatch(result MatchResult, winnerID, loserID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ps := range result.Players {
		p := s.getOrCreateLocked(ps.PlayerID)
		p.Kills += ps.Kills
		p.Deaths += ps.Deaths
		p.ShotsFired += ps.ShotsFired
		p.HitsLanded += ps.HitsLanded
		p.DamageDealt += ps.DamageDealt
		p.DamageTaken += ps.DamageTaken
	}

	winner := s.getOrCreateLocked(winnerID)
	loser := s.getOrCreateLocked(loserID)
	winner.Wins++
	loser.Losses++

	newWinner, newLoser := UpdateElo(winner.Rating, loser.Rating)
	winner.Rating = newWinner
	loser.Rating = newLoser
	s.leaderboard.Upsert(winnerID, float64(newWinner))
	s.leaderboard.Upsert(loserID, float64(newLoser))

	s.matchesRecorded++
	s.ratingUpdates += 2
}

// GetProfile returns a copy of the named profile, if it exists.
func (s *ProfileService) GetProfile(id string) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, false
	}
	return *p, true
}

// TopProfiles returns the top n profiles ranked by rating.
func (s *ProfileService) TopProfiles(n int) []LeaderboardEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderboard.TopN(n)
}

// ProfileCount is the number of tracked player profiles.
func (s *ProfileService) ProfileCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.profiles)
}

// LeaderboardSize is the number of ranked leaderboard entries.
func (s *ProfileService) LeaderboardSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.leaderboard.Size()
}

// MetricsSnapshot renders Prometheus-style counters for the profile store.
func (s *ProfileService) MetricsSnapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf(
		"player_profiles_total %d\nleaderboard_entries_total %d\nmatches_recorded_total %d\nrating_updates_total %d\n",
		len(s.profiles), s.leaderboard.Size(), s.matchesRecorded, s.ratingUpdates,
	)
}
