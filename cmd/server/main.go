package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pvpserver/internal/anticheat"
	"pvpserver/internal/api"
	"pvpserver/internal/config"
	"pvpserver/internal/dispatcher"
	"pvpserver/internal/eventlog"
	"pvpserver/internal/lagcomp"
	"pvpserver/internal/matchmaker"
	"pvpserver/internal/metrics"
	"pvpserver/internal/session"
	"pvpserver/internal/snapshot"
	"pvpserver/internal/stats"
	"pvpserver/internal/tickloop"
)

func main() {
	// Load .env file if present; absence is not an error.
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables only")
	}

	log.Println("================================")
	log.Println(" PVP SERVER - GAME ENGINE")
	log.Println("================================")

	appConfig := config.Load()

	log.Printf("config: %d TPS, port=%d, metricsPort=%d", int(appConfig.Game.TickRate), appConfig.Server.Port, appConfig.Server.MetricsPort)

	sessionLogger := log.New(os.Stdout, "[session] ", log.LstdFlags)
	dispatcherLogger := log.New(os.Stdout, "[dispatcher] ", log.LstdFlags)
	tickLogger := log.New(os.Stdout, "[tick] ", log.LstdFlags)
	matchmakerLogger := log.New(os.Stdout, "[matchmaker] ", log.LstdFlags)

	sess := session.New(sessionLogger)
	snapshots := snapshot.NewManager()
	compensator := lagcomp.New()

	disp := dispatcher.New(sess, snapshots, compensator, dispatcherLogger)

	profiles := stats.NewProfileService()
	detector := anticheat.NewDetector()
	detector.SetZScoreThreshold(appConfig.Tuning.AnticheatZScoreThreshold)
	detector.UpdateGlobalStats(anticheat.DefaultGlobalStats())
	suspicion := anticheat.NewSuspicionStore()
	combatStats := newCombatStatsTracker()

	events := eventlog.New()
	eventLogPath := getEnvWithDefault("EVENT_LOG_PATH", "events.jsonl")
	if err := events.Start(eventLogPath); err != nil {
		log.Printf("event log disabled: %v", err)
	} else {
		log.Printf("event log: %s", eventLogPath)
	}

	disp.SetJoinHook(func(playerID string) {
		log.Printf("player joined: %s", playerID)
		events.EmitSimple(eventlog.EventTypePlayerJoin, 0, playerID, nil)
	})
	disp.SetLeaveHook(func(playerID string) {
		log.Printf("player left: %s", playerID)
		events.EmitSimple(eventlog.EventTypePlayerLeave, 0, playerID, nil)
		suspicion.RemovePlayer(playerID)
		combatStats.remove(playerID)
	})
	disp.SetMatchCompletedHook(func(result stats.MatchResult) {
		profiles.RecordMatch(result, result.WinnerID, result.LoserID)
		events.EmitSimple(eventlog.EventTypeMatchCompleted, result.Tick, result.WinnerID, result)
		metrics.MatchesRecordedTotal.Add(1)
		metrics.RatingUpdatesTotal.Add(2)
		scoreAndFlag(detector, suspicion, combatStats, result)
	})

	mm := matchmaker.New(matchmakerLogger)
	mm.SetBaseTolerance(appConfig.Tuning.MatchmakerBaseTolerance)
	mm.SetMatchCreatedCallback(func(m matchmaker.Match) {
		log.Printf("match created: %s players=%v region=%s", m.MatchID, m.Players, m.Region)
		metrics.MatchmakingMatchesTotal.Add(1)
		metrics.MatchmakingWaitSeconds.Observe(m.WaitSeconds[0])
		metrics.MatchmakingWaitSeconds.Observe(m.WaitSeconds[1])
	})

	driver := tickloop.New(appConfig.Game.TickRate, tickLogger)
	driver.SetUpdateCallback(func(tick uint64, deltaSeconds float64, frameStart time.Time) {
		tickStart := time.Now()
		nowMs := uint64(frameStart.UnixMilli())
		disp.Tick(tick, deltaSeconds, nowMs)
		metrics.TickRate.Set(driver.CurrentTickRate())
		metrics.TickDuration.Observe(time.Since(tickStart).Seconds())
	})

	if err := driver.Start(); err != nil {
		log.Fatalf("failed to start tick driver: %v", err)
	}

	matchmakingDone := make(chan struct{})
	go func() {
		for {
			select {
			case match := <-mm.Notifications():
				events.EmitSimple(eventlog.EventTypeMatchCreated, 0, match.Players[0], match)
			case <-matchmakingDone:
				return
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		lc := &lagCompReporter{}
		for {
			select {
			case <-ticker.C:
				mm.RunMatching(time.Now())
				metrics.MatchmakingQueueSize.Set(float64(mm.QueueSize()))
				reportGauges(profiles, compensator, lc)
			case <-matchmakingDone:
				return
			}
		}
	}()

	services := &gameServices{profiles: profiles, mm: mm}
	wsHub := api.NewWebSocketHub(disp)
	router := api.NewRouter(api.RouterConfig{
		Services: services,
		Hub:      wsHub,
	})

	addr := ":" + strconv.Itoa(appConfig.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: router}
	go func() {
		log.Printf("http server listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	metricsAddr := ":" + strconv.Itoa(appConfig.Server.MetricsPort)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.HandleFunc("/metrics/components", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.Write([]byte(driver.PrometheusSnapshot()))
		w.Write([]byte(sess.MetricsSnapshot()))
		w.Write([]byte(mm.MetricsSnapshot()))
		w.Write([]byte(profiles.MetricsSnapshot()))
	})
	metricsServer := &http.Server{Addr: metricsAddr, Handler: metricsMux}
	go func() {
		log.Printf("metrics server listening on %s", metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	log.Println("server ready, press Ctrl+C to stop")
	<-quit

	log.Println("shutting down...")
	close(matchmakingDone)
	driver.Stop()
	driver.Join()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
	_ = metricsServer.Shutdown(ctx)
	events.Stop()

	log.Println("goodbye")
}

// gameServices adapts the profile service and matchmaker to the api.Services
// contract consumed by the HTTP router.
type gameServices struct {
	profiles *stats.ProfileService
	mm       *matchmaker.Matchmaker
}

func (g *gameServices) TopLeaderboard(n int) []stats.LeaderboardEntry {
	return g.profiles.TopProfiles(n)
}

func (g *gameServices) GetProfile(id string) (stats.Profile, bool) {
	return g.profiles.GetProfile(id)
}

func (g *gameServices) Enqueue(playerID string, rating int, region string) {
	g.mm.Enqueue(playerID, rating, region, time.Now())
}

func (g *gameServices) CancelMatchmaking(playerID string) bool {
	return g.mm.Cancel(playerID)
}

func (g *gameServices) QueueSize() int {
	return g.mm.QueueSize()
}

// combatStatsTracker owns one anticheat.CombatStats accumulator per player,
// fed from completed-match totals. Match results carry the session's running
// counters, so the tracker remembers the last-seen totals per player and
// records only the delta since the previous match. The core does not track
// headshots or reaction times, so those metrics stay at zero and contribute
// no anomaly weight until a transport layer supplies them.
type combatStatsTracker struct {
	byPlayer map[string]*trackedCombat
}

type trackedCombat struct {
	stats     anticheat.CombatStats
	lastShots uint32
	lastHits  uint32
}

func newCombatStatsTracker() *combatStatsTracker {
	return &combatStatsTracker{byPlayer: make(map[string]*trackedCombat)}
}

func (t *combatStatsTracker) get(id string) *trackedCombat {
	tc, ok := t.byPlayer[id]
	if !ok {
		tc = &trackedCombat{}
		t.byPlayer[id] = tc
	}
	return tc
}

func (t *combatStatsTracker) remove(id string) {
	delete(t.byPlayer, id)
}

// accumulate folds one match's running totals into the player's combat stats,
// recording only what is new since the last match seen for this player.
func (tc *trackedCombat) accumulate(ps stats.PlayerMatchStats) {
	newShots := ps.ShotsFired - tc.lastShots
	newHits := ps.HitsLanded - tc.lastHits
	if ps.ShotsFired < tc.lastShots { // session restarted under the same id
		newShots, newHits = ps.ShotsFired, ps.HitsLanded
	}
	var i uint32
	for ; i < newHits; i++ {
		tc.stats.RecordShot(true, false)
	}
	for ; i < newShots; i++ {
		tc.stats.RecordShot(false, false)
	}
	tc.lastShots, tc.lastHits = ps.ShotsFired, ps.HitsLanded
}

// scoreAndFlag folds one completed match's per-player totals into the
// combat-stats tracker, runs anomaly analysis, and records the resulting
// score against the player's accumulated suspicion.
func scoreAndFlag(detector *anticheat.Detector, suspicion *anticheat.SuspicionStore, tracker *combatStatsTracker, result stats.MatchResult) {
	// Each completed match corresponds to exactly one death.
	tracker.get(result.WinnerID).stats.RecordKill()
	tracker.get(result.LoserID).stats.RecordDeath()

	for _, ps := range result.Players {
		tc := tracker.get(ps.PlayerID)
		tc.accumulate(ps)
		score := detector.Analyze(tc.stats)
		suspicion.UpdateAnomalyScore(ps.PlayerID, score)
		metrics.AnticheatSuspicionLevelTotal.WithLabelValues(suspicion.GetLevel(ps.PlayerID).String()).Inc()
	}
}

// lagCompReporter tracks the lag compensator's last-observed cumulative
// counters so repeated snapshots can be translated into counter deltas
// (Compensator.Stats returns running totals, not per-period counts).
type lagCompReporter struct {
	lastValidated uint64
	lastAccepted  uint64
	lastRejected  uint64
}

func (r *lagCompReporter) report(compensator *lagcomp.Compensator) {
	s := compensator.Stats()
	metrics.LagCompensationHitsValidatedTotal.Add(float64(s.HitsValidated - r.lastValidated))
	metrics.LagCompensationHitsAcceptedTotal.Add(float64(s.HitsAccepted - r.lastAccepted))
	metrics.LagCompensationHitsRejectedTotal.Add(float64(s.HitsRejected - r.lastRejected))
	metrics.LagCompensationAvgRewindMs.Set(s.AvgRewindMs)
	r.lastValidated, r.lastAccepted, r.lastRejected = s.HitsValidated, s.HitsAccepted, s.HitsRejected
}

// reportGauges copies point-in-time component state into the registered
// Prometheus gauges. Called on the same cadence as matchmaking, since none
// of these values need per-tick freshness.
func reportGauges(profiles *stats.ProfileService, compensator *lagcomp.Compensator, lc *lagCompReporter) {
	metrics.PlayerProfilesTotal.Set(float64(profiles.ProfileCount()))
	metrics.LeaderboardEntriesTotal.Set(float64(profiles.LeaderboardSize()))
	lc.report(compensator)
}

func getEnvWithDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
