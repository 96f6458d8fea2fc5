package anticheat

import "testing"

func TestAnalyzeRequiresMinimumSampleSize(t *testing.T) {
	d := NewDetector()
	stats := CombatStats{TotalShots: 5, Hits: 5}
	score := d.Analyze(stats)
	if score.Combined() != 0 {
		t.Fatalf("expected zero score below sample threshold, got %v", score.Combined())
	}
}

func TestAnalyzeFlagsSuspiciousAccuracy(t *testing.T) {
	d := NewDetector()
	stats := CombatStats{TotalShots: 20, Hits: 19} // accuracy 0.95, far above baseline 0.25
	score := d.Analyze(stats)
	if score.Accuracy <= 0.5 {
		t.Fatalf("expected high accuracy anomaly, got %v", score.Accuracy)
	}
}

func TestCalculateZScoreGuardsZeroStddev(t *testing.T) {
	if z := calculateZScore(5, 5, 0); z != 0 {
		t.Fatalf("expected 0 z-score with zero stddev, got %v", z)
	}
}

func TestZScoreToAnomalyClampsAtThreshold(t *testing.T) {
	d := NewDetector()
	d.SetZScoreThreshold(3.0)
	if v := d.zscoreToAnomaly(10); v != 1.0 {
		t.Fatalf("expected clamp to 1.0, got %v", v)
	}
	if v := d.zscoreToAnomaly(0); v != 0.0 {
		t.Fatalf("expected 0 at z=0, got %v", v)
	}
}

func TestSuspicionLevelEscalatesWithViolations(t *testing.T) {
	s := NewSuspicionStore()
	s.RecordViolation("p1", Violation{Type: "speed_hack", Severity: 0.4})
	if s.GetLevel("p1") != LevelLow {
		t.Fatalf("expected low level at 0.4, got %v", s.GetLevel("p1"))
	}
	s.RecordViolation("p1", Violation{Type: "speed_hack", Severity: 0.6})
	if s.GetLevel("p1") != LevelCritical {
		t.Fatalf("expected critical level at 1.0 cumulative, got %v", s.GetLevel("p1"))
	}
}

func TestUpdateAnomalyScoreTakesMax(t *testing.T) {
	s := NewSuspicionStore()
	s.UpdateAnomalyScore("p1", AnomalyScore{Accuracy: 1.0, Headshot: 1.0, Reaction: 1.0, Consistency: 1.0})
	first := s.GetTotalScore("p1")
	s.UpdateAnomalyScore("p1", AnomalyScore{})
	if s.GetTotalScore("p1") != first {
		t.Fatalf("expected score to not decrease, got %v then %v", first, s.GetTotalScore("p1"))
	}
}

func TestPlayersAtLevelFiltersByMinimum(t *testing.T) {
	s := NewSuspicionStore()
	s.RecordViolation("low", Violation{Severity: 0.35})
	s.RecordViolation("high", Violation{Severity: 0.75})

	atHigh := s.PlayersAtLevel(LevelHigh)
	if len(atHigh) != 1 || atHigh[0] != "high" {
		t.Fatalf("expected only 'high' at LevelHigh, got %+v", atHigh)
	}
}
