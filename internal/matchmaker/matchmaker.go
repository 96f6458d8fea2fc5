// Package matchmaker pairs queued players by rating within an expanding
// tolerance window, favoring fairness while a request is fresh and wait
// time once it grows stale.
package matchmaker

import (
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

const (
	baseTolerance = 100
	toleranceStep = 25
	stepSeconds   = 5
)

// waitBuckets are the histogram bucket boundaries, in seconds, for
// matchmaking_wait_seconds.
var waitBuckets = []float64{0, 5, 10, 20, 40, 80}

// Request is one player's queued match request.
type Request struct {
	PlayerID        string
	Rating          int
	PreferredRegion string
	EnqueuedAt      time.Time
	order           uint64
}

// WaitSeconds returns how long the request has been queued as of now.
func (r Request) WaitSeconds(now time.Time) float64 {
	return now.Sub(r.EnqueuedAt).Seconds()
}

// CurrentTolerance returns the rating-difference tolerance for this request
// at now: it starts at the default base tolerance and widens by
// toleranceStep every stepSeconds of wait.
func (r Request) CurrentTolerance(now time.Time) int {
	return r.toleranceAt(now, baseTolerance)
}

func (r Request) toleranceAt(now time.Time, base int) int {
	waited := r.WaitSeconds(now)
	if waited < 0 {
		waited = 0
	}
	steps := int(waited) / stepSeconds
	return base + toleranceStep*steps
}

func regionsCompatible(a, b Request) bool {
	if a.PreferredRegion == b.PreferredRegion {
		return true
	}
	return a.PreferredRegion == "any" || b.PreferredRegion == "any"
}

func resolveRegion(a, b Request) string {
	if a.PreferredRegion == b.PreferredRegion {
		return a.PreferredRegion
	}
	if a.PreferredRegion == "any" {
		return b.PreferredRegion
	}
	if b.PreferredRegion == "any" {
		return a.PreferredRegion
	}
	return a.PreferredRegion
}

// Match is a paired result from RunMatching.
type Match struct {
	MatchID       string
	Players       [2]string
	AverageRating int
	CreatedAt     time.Time
	Region        string
	WaitSeconds   [2]float64 // each player's queued time, parallel to Players
}

// MatchCallback is invoked for every match produced by a RunMatching call,
// outside the matchmaker's lock.
type MatchCallback func(Match)

// notifyBuffer bounds the notification channel. When a subscriber falls
// behind, the oldest pending notification is evicted rather than stalling
// the matching pass.
const notifyBuffer = 64

// Matchmaker owns the wait queue and the histogram of match wait times.
type Matchmaker struct {
	mu            sync.Mutex
	queue         map[string]*Request
	orderCounter  uint64
	matchCounter  uint64
	baseTolerance int
	callback      MatchCallback
	notify        chan Match
	log           *log.Logger

	lastQueueSize int
	matchesTotal  uint64
	waitSum       float64
	waitCount     uint64
	waitBucketHit []uint64
	waitOverflow  uint64
}

func New(logger *log.Logger) *Matchmaker {
	if logger == nil {
		logger = log.Default()
	}
	return &Matchmaker{
		queue:         make(map[string]*Request),
		notify:        make(chan Match, notifyBuffer),
		baseTolerance: baseTolerance,
		log:           logger,
		waitBucketHit: make([]uint64, len(waitBuckets)),
	}
}

// SetBaseTolerance overrides the starting rating-difference tolerance.
// Non-positive values are ignored.
func (m *Matchmaker) SetBaseTolerance(t int) {
	if t <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baseTolerance = t
}

// Notifications is the channel matches are published to as they form.
func (m *Matchmaker) Notifications() <-chan Match {
	return m.notify
}

// SetMatchCreatedCallback registers the callback fired after each successful
// pairing produced by RunMatching.
func (m *Matchmaker) SetMatchCreatedCallback(cb MatchCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = cb
}

// Enqueue adds or updates a player's match request. Re-enqueuing the same
// player resets their wait clock and rating.
func (m *Matchmaker) Enqueue(playerID string, rating int, region string, now time.Time) {
	m.mu.Lock()
	m.orderCounter++
	req := &Request{
		PlayerID:        playerID,
		Rating:          rating,
		PreferredRegion: region,
		EnqueuedAt:      now,
		order:           m.orderCounter,
	}
	m.queue[playerID] = req
	m.lastQueueSize = len(m.queue)
	size := m.lastQueueSize
	m.mu.Unlock()
	m.log.Printf("matchmaking enqueue %s rating=%d size=%d", playerID, rating, size)
}

// Cancel removes a player from the queue. Returns false if they were not queued.
func (m *Matchmaker) Cancel(playerID string) bool {
	m.mu.Lock()
	_, ok := m.queue[playerID]
	if ok {
		delete(m.queue, playerID)
	}
	m.lastQueueSize = len(m.queue)
	size := m.lastQueueSize
	m.mu.Unlock()
	if ok {
		m.log.Printf("matchmaking cancel %s size=%d", playerID, size)
	}
	return ok
}

// RunMatching scans the queue once, sorted by rating ascending (ties in
// enqueue order), pairing each
// not-yet-used candidate with the first compatible partner found ahead of
// it: same-or-compatible region, and rating difference within both sides'
// current tolerance. The inner scan stops early once a candidate's rating
// exceeds what candidate i's tolerance could ever admit.
func (m *Matchmaker) RunMatching(now time.Time) []Match {
	var matches []Match
	var callback MatchCallback

	m.mu.Lock()
	ordered := make([]*Request, 0, len(m.queue))
	for _, r := range m.queue {
		ordered = append(ordered, r)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Rating == ordered[j].Rating {
			return ordered[i].order < ordered[j].order
		}
		return ordered[i].Rating < ordered[j].Rating
	})

	used := make(map[string]bool, len(ordered))
	for i, candidate := range ordered {
		if used[candidate.PlayerID] {
			continue
		}
		toleranceA := candidate.toleranceAt(now, m.baseTolerance)
		partnerIdx := -1
		for j := i + 1; j < len(ordered); j++ {
			other := ordered[j]
			if used[other.PlayerID] {
				continue
			}
			if !regionsCompatible(*candidate, *other) {
				continue
			}
			diff := candidate.Rating - other.Rating
			if diff < 0 {
				diff = -diff
			}
			toleranceB := other.toleranceAt(now, m.baseTolerance)
			if diff <= toleranceA && diff <= toleranceB {
				partnerIdx = j
				break
			}
			if other.Rating-candidate.Rating > toleranceA {
				break
			}
		}
		if partnerIdx < 0 {
			continue
		}
		partner := ordered[partnerIdx]

		delete(m.queue, candidate.PlayerID)
		delete(m.queue, partner.PlayerID)
		used[candidate.PlayerID] = true
		used[partner.PlayerID] = true

		candidateWait := candidate.WaitSeconds(now)
		partnerWait := partner.WaitSeconds(now)

		m.matchCounter++
		match := Match{
			MatchID:       fmt.Sprintf("match-%d", m.matchCounter),
			Players:       [2]string{candidate.PlayerID, partner.PlayerID},
			AverageRating: (candidate.Rating + partner.Rating) / 2,
			CreatedAt:     now,
			Region:        resolveRegion(*candidate, *partner),
			WaitSeconds:   [2]float64{candidateWait, partnerWait},
		}
		matches = append(matches, match)
		m.matchesTotal++
		m.observeWaitLocked(candidateWait)
		m.observeWaitLocked(partnerWait)
	}
	m.lastQueueSize = len(m.queue)
	callback = m.callback
	m.mu.Unlock()

	for _, match := range matches {
		m.log.Printf("matchmaking match %s players=%s,%s rating=%d", match.MatchID, match.Players[0], match.Players[1], match.AverageRating)
		m.publish(match)
		if callback != nil {
			callback(match)
		}
	}
	return matches
}

// publish sends the match to the notification channel, evicting the oldest
// pending notification if the buffer is full.
func (m *Matchmaker) publish(match Match) {
	select {
	case m.notify <- match:
		return
	default:
	}
	select {
	case <-m.notify:
	default:
	}
	select {
	case m.notify <- match:
	default:
	}
}

func (m *Matchmaker) observeWaitLocked(seconds float64) {
	m.waitSum += seconds
	m.waitCount++
	for i, bound := range waitBuckets {
		if seconds <= bound {
			m.waitBucketHit[i]++
			return
		}
	}
	m.waitOverflow++
}

// MetricsSnapshot renders the matchmaking metrics in Prometheus text form.
func (m *Matchmaker) MetricsSnapshot() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := fmt.Sprintf("matchmaking_queue_size %d\nmatchmaking_matches_total %d\n", m.lastQueueSize, m.matchesTotal)
	var cumulative uint64
	for i, bound := range waitBuckets {
		cumulative += m.waitBucketHit[i]
		out += fmt.Sprintf("matchmaking_wait_seconds_bucket{le=\"%g\"} %d\n", bound, cumulative)
	}
	cumulative += m.waitOverflow
	out += fmt.Sprintf("matchmaking_wait_seconds_bucket{le=\"+Inf\"} %d\n", cumulative)
	out += fmt.Sprintf("matchmaking_wait_seconds_sum %g\n", m.waitSum)
	out += fmt.Sprintf("matchmaking_wait_seconds_count %d\n", m.waitCount)
	return out
}

// QueueSize returns the current number of queued requests.
func (m *Matchmaker) QueueSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}
