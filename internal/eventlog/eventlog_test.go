package eventlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEmitRequiresRunning(t *testing.T) {
	l := New()
	if l.Emit(NewEvent(EventTypeHit, 1, "p1", nil)) {
		t.Fatal("expected emit to fail before Start")
	}
}

func TestEmitAndFlushToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.log")

	l := New()
	if err := l.Start(path); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop()

	for i := 0; i < 5; i++ {
		if !l.EmitSimple(EventTypeHit, uint64(i), "p1", map[string]int{"damage": 20}) {
			t.Fatalf("expected emit %d to succeed", i)
		}
	}

	l.Stop()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected flushed events in file")
	}
}

func TestPlayerRateLimitSheds(t *testing.T) {
	l := New()
	if err := l.Start(""); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer l.Stop()

	accepted := 0
	for i := 0; i < MaxEventsPerPlayer*2; i++ {
		if l.Emit(NewEvent(EventTypeHit, 0, "spammer", nil)) {
			accepted++
		}
	}
	if accepted >= MaxEventsPerPlayer*2 {
		t.Fatalf("expected per-player rate limiting to shed some events, accepted all %d", accepted)
	}
	if l.Stats().Dropped == 0 {
		t.Fatal("expected dropped counter to reflect shed events")
	}
}

func TestEventTypeString(t *testing.T) {
	if EventTypeDeath.String() != "death" {
		t.Fatalf("got %q", EventTypeDeath.String())
	}
	if EventType(250).String() != "unknown" {
		t.Fatalf("expected unknown for out-of-range type")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	l := New()
	l.Start("")
	l.Stop()
	l.Stop()
	time.Sleep(time.Millisecond)
}
