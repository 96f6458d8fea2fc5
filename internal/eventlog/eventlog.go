// Package eventlog provides a bounded, rate-limited audit trail of combat
// and matchmaking events, flushed asynchronously to disk as newline-
// delimited JSON. Adapted for the PvP domain's event set; the buffering,
// rate-limiting, and async-writer shape follow the ambient logging
// conventions used throughout this codebase.
package eventlog

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	BufferSize           = 1024
	MaxEventsPerSec      = 10000
	MaxEventsPerPlayer   = 100
	BatchFlushSize       = 64
	BatchFlushInterval   = 100 * time.Millisecond
	PlayerLimiterCleanup = 5 * time.Minute
)

// EventType classifies one recorded event.
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypePlayerJoin
	EventTypePlayerLeave
	EventTypeHit
	EventTypeDeath
	EventTypeMatchCreated
	EventTypeMatchCompleted
	EventTypeSuspicionFlagged
)

func (t EventType) String() string {
	switch t {
	case EventTypePlayerJoin:
		return "player_join"
	case EventTypePlayerLeave:
		return "player_leave"
	case EventTypeHit:
		return "hit"
	case EventTypeDeath:
		return "death"
	case EventTypeMatchCreated:
		return "match_created"
	case EventTypeMatchCompleted:
		return "match_completed"
	case EventTypeSuspicionFlagged:
		return "suspicion_flagged"
	default:
		return "unknown"
	}
}

// Event is one entry in the log.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp int64     `json:"timestamp"` // unix nano
	Sequence  uint64    `json:"sequence"`  // assigned on write
	Tick      uint64    `json:"tick"`
	PlayerID  string    `json:"playerId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an Event with the payload JSON-encoded; a marshal
// failure yields a nil payload rather than a dropped event.
func NewEvent(eventType EventType, tick uint64, playerID string, payload interface{}) Event {
	e := Event{Type: eventType, Timestamp: time.Now().UnixNano(), Tick: tick, PlayerID: playerID}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			e.Payload = data
		}
	}
	return e
}

type playerLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// Log is a bounded, rate-limited, rate-shedding event buffer with an
// asynchronous file writer.
type Log struct {
	buffer    [BufferSize]Event
	writeHead uint64 // atomic
	readHead  uint64 // atomic

	globalLimiter  *rate.Limiter
	playerLimiters sync.Map // map[string]*playerLimiterEntry

	writerWg sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
	running  atomic.Bool

	filePath string
	file     *os.File
	fileMu   sync.Mutex

	droppedCount uint64 // atomic
	totalCount   uint64 // atomic
}

func New() *Log {
	return &Log{
		globalLimiter: rate.NewLimiter(MaxEventsPerSec, MaxEventsPerSec/10),
		stopChan:      make(chan struct{}),
	}
}

// Start opens filePath (if non-empty) for append and launches the async
// writer and limiter-cleanup goroutines. Idempotent.
func (l *Log) Start(filePath string) error {
	if l.running.Load() {
		return nil
	}
	l.filePath = filePath
	if filePath != "" {
		file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return errors.Wrap(err, "eventlog: open file")
		}
		l.file = file
	}
	l.running.Store(true)
	l.writerWg.Add(2)
	go l.writerLoop()
	go l.cleanupLoop()
	return nil
}

// Stop flushes any remaining events and closes the output file.
func (l *Log) Stop() {
	l.stopOnce.Do(func() {
		l.running.Store(false)
		close(l.stopChan)
		l.writerWg.Wait()

		l.fileMu.Lock()
		if l.file != nil {
			l.file.Close()
		}
		l.fileMu.Unlock()
	})
}

// Emit appends an event under global and per-player rate limits. Returns
// false if the log is stopped or the event was rate-limited. When the
// buffer is full the event is still accepted (true) and the oldest
// unflushed entry is dropped; both cases count toward Stats().Dropped.
func (l *Log) Emit(event Event) bool {
	if !l.running.Load() {
		return false
	}
	if !l.globalLimiter.Allow() {
		atomic.AddUint64(&l.droppedCount, 1)
		return false
	}
	if event.PlayerID != "" {
		if !l.getPlayerLimiter(event.PlayerID).Allow() {
			atomic.AddUint64(&l.droppedCount, 1)
			return false
		}
	}

	head := atomic.AddUint64(&l.writeHead, 1)
	tail := atomic.LoadUint64(&l.readHead)
	if head-tail >= BufferSize {
		atomic.AddUint64(&l.readHead, 1)
		atomic.AddUint64(&l.droppedCount, 1)
	}

	event.Sequence = head
	l.buffer[(head-1)%BufferSize] = event
	atomic.AddUint64(&l.totalCount, 1)
	return true
}

// EmitSimple builds and emits an event in one call.
func (l *Log) EmitSimple(eventType EventType, tick uint64, playerID string, payload interface{}) bool {
	return l.Emit(NewEvent(eventType, tick, playerID, payload))
}

func (l *Log) getPlayerLimiter(playerID string) *rate.Limiter {
	if entry, ok := l.playerLimiters.Load(playerID); ok {
		e := entry.(*playerLimiterEntry)
		e.lastUsed = time.Now()
		return e.limiter
	}
	entry := &playerLimiterEntry{
		limiter:  rate.NewLimiter(MaxEventsPerPlayer, MaxEventsPerPlayer/10),
		lastUsed: time.Now(),
	}
	actual, _ := l.playerLimiters.LoadOrStore(playerID, entry)
	return actual.(*playerLimiterEntry).limiter
}

func (l *Log) writerLoop() {
	defer l.writerWg.Done()
	ticker := time.NewTicker(BatchFlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, BatchFlushSize)
	for {
		select {
		case <-l.stopChan:
			for {
				batch = l.collectBatch(batch[:0])
				if len(batch) == 0 {
					return
				}
				l.flushBatch(batch)
			}
		case <-ticker.C:
			batch = l.collectBatch(batch[:0])
			if len(batch) > 0 {
				l.flushBatch(batch)
			}
		}
	}
}

func (l *Log) cleanupLoop() {
	defer l.writerWg.Done()
	ticker := time.NewTicker(PlayerLimiterCleanup)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopChan:
			return
		case <-ticker.C:
			l.cleanupPlayerLimiters()
		}
	}
}

func (l *Log) cleanupPlayerLimiters() {
	cutoff := time.Now().Add(-PlayerLimiterCleanup)
	l.playerLimiters.Range(func(key, value interface{}) bool {
		entry := value.(*playerLimiterEntry)
		if entry.lastUsed.Before(cutoff) {
			l.playerLimiters.Delete(key)
		}
		return true
	})
}

func (l *Log) collectBatch(batch []Event) []Event {
	head := atomic.LoadUint64(&l.writeHead)
	tail := atomic.LoadUint64(&l.readHead)
	for i := tail; i < head && len(batch) < BatchFlushSize; i++ {
		batch = append(batch, l.buffer[i%BufferSize])
	}
	if len(batch) > 0 {
		atomic.AddUint64(&l.readHead, uint64(len(batch)))
	}
	return batch
}

func (l *Log) flushBatch(batch []Event) {
	l.fileMu.Lock()
	defer l.fileMu.Unlock()
	if l.file == nil {
		return
	}
	for _, event := range batch {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		l.file.Write(data)
		l.file.Write([]byte("\n"))
	}
}

// Stats reports counters useful for monitoring shed/dropped load.
type Stats struct {
	Total   uint64
	Dropped uint64
}

func (l *Log) Stats() Stats {
	return Stats{
		Total:   atomic.LoadUint64(&l.totalCount),
		Dropped: atomic.LoadUint64(&l.droppedCount),
	}
}
