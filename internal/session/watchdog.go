package session

import (
	"sync"
	"time"
)

// Watchdog fires fn if Reset is not called again within the timeout. The
// egress session uses it for the upstream read-idle timeout (§4.1).
type Watchdog struct {
	mu      sync.Mutex
	timer   *time.Timer
	timeout time.Duration
	fn      func()
	stopped bool
}

// NewWatchdog creates and arms a Watchdog with the given timeout, calling
// fn if the timeout elapses without a Reset.
func NewWatchdog(timeout time.Duration, fn func()) *Watchdog {
	w := &Watchdog{timeout: timeout, fn: fn}
	w.timer = time.AfterFunc(timeout, fn)
	return w
}

// Reset restarts the countdown. A no-op after Stop.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.timer.Reset(w.timeout)
}

// Stop disarms the watchdog; fn will not fire afterward.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	w.timer.Stop()
}
