// Package scheduler provides the periodic job triggers and the user update
// scheduler. Each job family (history import, catalog match, feature
// enrichment) runs on its own Trigger: cooperatively single-threaded per
// tick, concurrent with the other families, and pausable as a whole. The
// pause-and-restart of the trigger is the backoff mechanism for rate limits
// and empty-queue idling, never a blocking sleep inside a tick.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TickFunc performs one unit of work. A returned pause > 0 keeps the
// trigger idle for that long before the next tick (rate-limit backoff or
// idle delay); zero resumes the regular interval. Errors are logged by the
// trigger and never stop it.
type TickFunc func(ctx context.Context) (pause time.Duration, err error)

// Trigger invokes a TickFunc on a fixed wall-clock interval. Stop takes
// effect between ticks; an in-flight tick is never aborted.
type Trigger struct {
	name     string
	interval time.Duration
	tick     TickFunc
	log      zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewTrigger constructs a named trigger. The name only appears in logs.
func NewTrigger(name string, interval time.Duration, tick TickFunc, log zerolog.Logger) *Trigger {
	return &Trigger{
		name:     name,
		interval: interval,
		tick:     tick,
		log:      log.With().Str("trigger", name).Logger(),
	}
}

// Start launches the trigger loop. Starting a running trigger is a no-op.
func (t *Trigger) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	t.running = true
	go t.loop(ctx)
}

// Stop halts the trigger after the current tick, if any, and waits for the
// loop to exit. Stopping a stopped trigger is a no-op.
func (t *Trigger) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	cancel, done := t.cancel, t.done
	t.running = false
	t.mu.Unlock()

	cancel()
	<-done
}

// loop is the trigger body: wait, tick, honor any requested pause, repeat.
func (t *Trigger) loop(ctx context.Context) {
	defer close(t.done)

	wait := t.interval
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		pause, err := t.tick(ctx)
		if err != nil {
			t.log.Error().Err(err).Msg("tick failed")
		}

		wait = t.interval
		if pause > 0 {
			t.log.Info().Dur("pause", pause).Msg("trigger paused")
			wait = pause
		}
		timer.Reset(wait)
	}
}
