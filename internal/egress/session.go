package egress

import (
	"context"
	"fmt"
	"log"
	"net"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ayanrajpoot10/echtun/internal/addr"
	"github.com/ayanrajpoot10/echtun/internal/classify"
	"github.com/ayanrajpoot10/echtun/internal/session"
	"github.com/ayanrajpoot10/echtun/internal/wireproto"
)

// state is the session's position in the INIT -> CONNECTING -> CONNECTED
// -> CLOSED state machine (§4.1).
type state int32

const (
	stateInit state = iota
	stateConnecting
	stateConnected
	stateClosed
)

// Session is one tunneled TCP connection carried over one WebSocket, on
// the egress side.
type Session struct {
	server   *Server
	conn     *websocket.Conn
	writer   *session.Writer
	fallback addr.FallbackList // per-connection override from §6; nil uses server.cfg.FallbackIPs

	mu       sync.Mutex
	st       state
	upstream net.Conn

	watchdog *session.Watchdog
	counters session.ByteCounters
}

func newSession(s *Server, conn *websocket.Conn, fallback addr.FallbackList) *Session {
	return &Session{
		server:   s,
		conn:     conn,
		writer:   session.NewWriter(conn),
		fallback: fallback,
		st:       stateInit,
	}
}

func (s *Session) getState() state {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

func (s *Session) setState(st state) {
	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
}

// run drives the session to completion: it waits for the initial CONNECT
// frame, dials upstream, and then pumps bytes until either side closes.
func (s *Session) run() {
	defer s.close()

	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		return
	}

	frame, err := wireproto.ParseTextFrame(string(msg))
	if err != nil || frame.Kind != wireproto.KindConnect {
		s.writer.WriteText(wireproto.EncodeError("expected CONNECT"))
		return
	}

	s.setState(stateConnecting)
	target, err := addr.ParseEndpoint(frame.Target)
	if err != nil {
		s.writer.WriteText(wireproto.EncodeError(fmt.Sprintf("invalid target: %v", err)))
		return
	}
	if !s.server.allowedHost(target.Host) {
		s.writer.WriteText(wireproto.EncodeError("host not allowed"))
		return
	}

	upstream, err := s.dialCascade(target)
	if err != nil {
		s.writer.WriteText(wireproto.EncodeError(err.Error()))
		return
	}
	s.upstream = upstream

	if len(frame.Payload) > 0 {
		if _, err := upstream.Write(frame.Payload); err != nil {
			s.writer.WriteText(wireproto.EncodeError("first-payload write failed"))
			upstream.Close()
			return
		}
		s.counters.AddToUpstream(len(frame.Payload))
	}

	if err := s.writer.WriteText(wireproto.EncodeConnected()); err != nil {
		return
	}
	s.setState(stateConnected)

	s.watchdog = session.NewWatchdog(s.server.cfg.ReadTimeout, func() {
		s.writer.WriteText(wireproto.EncodeClose())
		s.close()
	})
	defer s.watchdog.Stop()

	var wg sync.WaitGroup
	wg.Add(2)
	// Whichever pump ends first closes the session, which unblocks the other.
	go func() { defer wg.Done(); s.pumpUpstreamToWS(); s.close() }()
	go func() { defer wg.Done(); s.pumpWSToUpstream(); s.close() }()
	wg.Wait()
}

// dialCascade tries each attempt in attemptList(target, fallbacks) in
// order, advancing past transient-classified failures (§4.2 step 5). Each
// attempt's timeout comes from the configured CONNECT_TIMEOUT_MS (§6).
func (s *Session) dialCascade(target addr.Endpoint) (net.Conn, error) {
	fallback := s.fallback
	if fallback == nil {
		fallback = s.server.cfg.FallbackIPs
	}
	attempts := attemptList(target, fallback)
	var lastErr error
	for _, ep := range attempts {
		ctx, cancel := context.WithTimeout(context.Background(), s.server.cfg.ConnectTimeout)
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port)))
		cancel()
		if err == nil {
			return conn, nil
		}
		s.server.debugf("dial attempt %s:%d failed: %v", ep.Host, ep.Port, err)
		lastErr = err
		if !classify.IsTransientDial(err) {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("egress: all dial attempts failed: %w", lastErr)
}

// pumpUpstreamToWS reads from the upstream socket and forwards each chunk
// as a binary WebSocket frame, honoring backpressure (§4.2 pump 1).
func (s *Session) pumpUpstreamToWS() {
	buf := make([]byte, 32*1024)
	for {
		n, err := s.upstream.Read(buf)
		if n > 0 {
			if werr := session.WaitForDrain(context.Background(), s.writer); werr != nil {
				return
			}
			if werr := s.writer.WriteBinary(buf[:n]); werr != nil {
				return
			}
			s.counters.AddFromUpstream(n)
			if s.watchdog != nil {
				s.watchdog.Reset()
			}
		}
		if err != nil {
			if !classify.IsNormalClose(err) {
				log.Printf("egress: upstream read error: %v", err)
			}
			return
		}
	}
}

// pumpWSToUpstream reads WebSocket frames and serializes their bytes onto
// the upstream writer (§4.2 pump 2).
func (s *Session) pumpWSToUpstream() {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if s.getState() == stateClosed {
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := s.writeUpstream(data); err != nil {
				return
			}
		case websocket.TextMessage:
			frame, err := wireproto.ParseTextFrame(string(data))
			if err != nil {
				continue
			}
			switch frame.Kind {
			case wireproto.KindData:
				if err := s.writeUpstream(frame.Payload); err != nil {
					return
				}
			case wireproto.KindClose:
				return
			case wireproto.KindPing:
				s.writer.WriteText(wireproto.EncodePong())
			case wireproto.KindPong:
				// no-op, heartbeat acknowledged
			case wireproto.KindError:
				// advisory; session continues per §4.1
			}
		}
	}
}

func (s *Session) writeUpstream(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if _, err := s.upstream.Write(data); err != nil {
		return err
	}
	s.counters.AddToUpstream(len(data))
	if s.watchdog != nil {
		s.watchdog.Reset()
	}
	return nil
}

func (s *Session) close() {
	s.setState(stateClosed)
	if s.upstream != nil {
		s.upstream.Close()
	}
	s.conn.Close()
}
