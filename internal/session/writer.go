// Package session provides building blocks shared by the egress and
// ingress session engines: a lock-guarded WebSocket writer with
// backpressure accounting, an exponential-backoff waiter, and a read-idle
// watchdog. See SPEC_FULL.md §4.1 and §5.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// HighWaterMark is the buffered-outbound-bytes threshold above which the
// upstream reader pauses (§4.1).
const HighWaterMark = 1 << 20 // 1 MiB

// Writer serializes all writes to a WebSocket connection so that keepalive
// pings and relayed data frames never interleave at the frame level, and
// tracks how many data bytes are currently queued for write so callers can
// implement backpressure.
type Writer struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	queued int64 // atomic
}

// NewWriter wraps conn for serialized, backpressure-tracked writes.
func NewWriter(conn *websocket.Conn) *Writer {
	return &Writer{conn: conn}
}

// Buffered returns the number of data bytes currently queued for write.
func (w *Writer) Buffered() int64 {
	return atomic.LoadInt64(&w.queued)
}

// WriteBinary sends a binary data frame, counting it against the
// backpressure high-water mark for the duration of the write.
func (w *Writer) WriteBinary(data []byte) error {
	atomic.AddInt64(&w.queued, int64(len(data)))
	defer atomic.AddInt64(&w.queued, -int64(len(data)))

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

// WriteText sends a text control frame. Control frames are small and not
// counted toward the backpressure high-water mark.
func (w *Writer) WriteText(s string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, []byte(s))
}

// WritePing sends a protocol-level WebSocket ping frame.
func (w *Writer) WritePing() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.PingMessage, nil)
}
