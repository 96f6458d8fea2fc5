// Package tickloop implements the fixed-rate tick driver: a single
// dedicated worker goroutine that invokes an update callback at a
// configured target rate, resetting its schedule instead of accumulating
// missed frames when a tick overruns its budget.
package tickloop

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const maxTrackedDurations = 240

// UpdateFunc is invoked once per tick with the tick index, the measured
// delta since the previous tick, and the frame's start time.
type UpdateFunc func(tick uint64, deltaSeconds float64, frameStart time.Time)

// Driver schedules ticks at a fixed target rate on its own goroutine.
// Exactly one tick's callback runs at a time; suspension only happens
// between ticks, never during one.
type Driver struct {
	targetRate float64

	mu       sync.Mutex
	callback UpdateFunc

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	durMu     sync.Mutex
	durations []time.Duration

	logger *log.Logger
}

// New constructs a driver targeting rate ticks/second. rate must be > 0;
// callers should check Start's error rather than relying on panics.
func New(rate float64, logger *log.Logger) *Driver {
	if logger == nil {
		logger = log.Default()
	}
	return &Driver{targetRate: rate, logger: logger}
}

// SetUpdateCallback installs the single sink invoked once per tick. A nil
// callback silently discards ticks. Safe to call before or after Start.
func (d *Driver) SetUpdateCallback(f UpdateFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = f
}

// Start launches the scheduling goroutine. Idempotent: calling Start again
// while already running is a no-op. Returns an error if target_rate <= 0.
func (d *Driver) Start() error {
	if d.targetRate <= 0 {
		return fmt.Errorf("tickloop: target rate must be > 0, got %v", d.targetRate)
	}
	if !d.running.CompareAndSwap(false, true) {
		return nil
	}
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	go d.run()
	return nil
}

// Stop signals the worker to exit. It returns immediately; call Join to
// wait until the scheduler is quiescent.
func (d *Driver) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	close(d.stopCh)
}

// Join blocks until the worker goroutine has exited.
func (d *Driver) Join() {
	if d.doneCh != nil {
		<-d.doneCh
	}
}

// run is the scheduling loop. It maintains a monotonic next_frame target;
// when a tick overruns, next_frame resets to now instead of sleeping
// negative time and trying to catch up.
func (d *Driver) run() {
	defer close(d.doneCh)

	period := time.Duration(float64(time.Second) / d.targetRate)
	nextFrame := time.Now()
	var lastFrameStart time.Time
	var tick uint64

	for {
		select {
		case <-d.stopCh:
			return
		default:
		}

		now := time.Now()
		sleep := nextFrame.Sub(now)
		if sleep > 0 {
			timer := time.NewTimer(sleep)
			select {
			case <-d.stopCh:
				timer.Stop()
				return
			case <-timer.C:
			}
			nextFrame = nextFrame.Add(period)
		} else {
			// Overran the budget: no catch-up storm, reset to now.
			nextFrame = time.Now().Add(period)
		}

		frameStart := time.Now()
		delta := 1 / d.targetRate
		if !lastFrameStart.IsZero() {
			if measured := frameStart.Sub(lastFrameStart).Seconds(); measured > 0 {
				delta = measured
			}
		}
		lastFrameStart = frameStart

		d.dispatch(tick, delta, frameStart)
		tick++
	}
}

// dispatch invokes the callback, recovering any panic so a misbehaving
// callback cannot terminate the driver, and records the tick's duration.
func (d *Driver) dispatch(tick uint64, delta float64, frameStart time.Time) {
	d.mu.Lock()
	cb := d.callback
	d.mu.Unlock()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Printf("tickloop: update callback panicked: %v", r)
		}
		d.recordDuration(time.Since(start))
	}()

	if cb != nil {
		cb(tick, delta, frameStart)
	}
}

func (d *Driver) recordDuration(dur time.Duration) {
	d.durMu.Lock()
	defer d.durMu.Unlock()
	d.durations = append(d.durations, dur)
	if len(d.durations) > maxTrackedDurations {
		d.durations = d.durations[len(d.durations)-maxTrackedDurations:]
	}
}

// CurrentTickRate is 1/last measured duration, or the configured target rate
// if no ticks have run yet.
func (d *Driver) CurrentTickRate() float64 {
	d.durMu.Lock()
	defer d.durMu.Unlock()
	if len(d.durations) == 0 {
		return d.targetRate
	}
	last := d.durations[len(d.durations)-1]
	if last <= 0 {
		return d.targetRate
	}
	return float64(time.Second) / float64(last)
}

// LastDurations returns up to the last 240 tick durations.
func (d *Driver) LastDurations() []time.Duration {
	d.durMu.Lock()
	defer d.durMu.Unlock()
	out := make([]time.Duration, len(d.durations))
	copy(out, d.durations)
	return out
}

// PrometheusSnapshot renders game_tick_rate and game_tick_duration_seconds.
func (d *Driver) PrometheusSnapshot() string {
	rate := d.CurrentTickRate()
	durs := d.LastDurations()
	var avgSeconds float64
	if len(durs) > 0 {
		var sum time.Duration
		for _, dd := range durs {
			sum += dd
		}
		avgSeconds = (sum.Seconds()) / float64(len(durs))
	}
	return fmt.Sprintf(
		"# TYPE game_tick_rate gauge\ngame_tick_rate %f\n"+
			"# TYPE game_tick_duration_seconds gauge\ngame_tick_duration_seconds %f\n",
		rate, avgSeconds,
	)
}
