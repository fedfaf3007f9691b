// Package watchdog implements the max-delay timer: an over-running upload
// or download is never killed, but a user-supplied callback fires once
// the configured delay has elapsed. Per-stage timing lives on
// VolumeOutcome; the watchdog is a standalone timer owned by the driver.
package watchdog

import (
	"sync"
	"time"
)

// Callback is invoked once, with the elapsed duration, if the watchdog's
// delay expires before Stop is called. It typically sends a warning
// notification; a failing callback must not affect the run it is watching.
type Callback func(elapsed time.Duration)

// Watchdog arms a single timer for the duration of one operation.
type Watchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// Start arms a watchdog that invokes cb after delay unless Stop is called
// first. A non-positive delay disables the watchdog (Start returns a
// Watchdog whose Stop is a no-op).
func Start(delay time.Duration, cb Callback) *Watchdog {
	w := &Watchdog{}
	if delay <= 0 || cb == nil {
		w.stopped = true
		return w
	}
	start := time.Now()
	w.timer = time.AfterFunc(delay, func() {
		cb(time.Since(start))
	})
	return w
}

// Stop disarms the watchdog. Safe to call multiple times and safe to call
// after the callback has already fired.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	if w.timer != nil {
		w.timer.Stop()
	}
}
