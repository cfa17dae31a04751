package session

import (
	"context"
	"time"
)

// backoffStart, backoffMax, and backoffFactor implement the 8ms -> 12ms ->
// 18ms -> ... -> 200ms poll schedule from §4.1.
const (
	backoffStart  = 8 * time.Millisecond
	backoffMax    = 200 * time.Millisecond
	backoffFactor = 1.5
)

// Backoff produces the capped exponential poll delays used while waiting
// for WebSocket backpressure to drain.
type Backoff struct {
	next time.Duration
}

// NewBackoff returns a Backoff ready to produce its first delay.
func NewBackoff() *Backoff {
	return &Backoff{next: backoffStart}
}

// Next returns the next delay in the schedule and advances it.
func (b *Backoff) Next() time.Duration {
	d := b.next
	b.next = time.Duration(float64(b.next) * backoffFactor)
	if b.next > backoffMax {
		b.next = backoffMax
	}
	return d
}

// WaitForDrain blocks, polling w.Buffered() with an exponential backoff,
// until the writer's queued bytes drop below HighWaterMark or ctx is
// cancelled.
func WaitForDrain(ctx context.Context, w *Writer) error {
	if w.Buffered() < HighWaterMark {
		return nil
	}
	b := NewBackoff()
	for w.Buffered() >= HighWaterMark {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.Next()):
		}
	}
	return nil
}
