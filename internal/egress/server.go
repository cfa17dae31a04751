// Package egress implements the worker side of the tunnel: it accepts
// authenticated WebSocket upgrades, reads the framed CONNECT protocol, and
// relays bytes to and from a dialed destination socket. See SPEC_FULL.md
// §4.2.
package egress

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayanrajpoot10/echtun/internal/addr"
	"github.com/ayanrajpoot10/echtun/internal/config"
	"github.com/ayanrajpoot10/echtun/internal/session"
)

// Server is the egress HTTP/WebSocket front end. It tracks active sessions
// in a sync.Map for lifecycle bookkeeping, the way the retrieved ssh-ify
// tunnel.Server tracks its Handlers.
type Server struct {
	cfg  *config.Egress
	pool *session.Pool

	sessions    sync.Map // map[*Session]struct{}
	activeCount int32    // atomic, mirrors pool.Active() for logging

	upgrader websocket.Upgrader
}

// NewServer builds a Server from cfg.
func NewServer(cfg *config.Egress) *Server {
	return &Server{
		cfg:  cfg,
		pool: session.NewPool(cfg.MaxSessions),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Mux builds the HTTP surface described in SPEC_FULL.md §6: /ping,
// /, /index.html, /healthz, and the WebSocket upgrade endpoint.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ping", s.handlePing)
	mux.HandleFunc("/", s.handleIndexOrUpgrade)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/healthz", s.handlePing)
	return mux
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"ts":     time.Now().UnixMilli(),
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("Hello World!"))
}

// handleIndexOrUpgrade serves the plain index page at the literal "/" path,
// and treats any path as a candidate tunnel endpoint when the request
// carries a WebSocket Upgrade header -- the path beyond "/" is where a
// client-supplied fallback-IP override (§6) travels.
func (s *Server) handleIndexOrUpgrade(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		s.handleUpgrade(w, r)
		return
	}
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.handleIndex(w, r)
}

// pathFallbackSegment extracts the last "/"-separated segment of the
// upgrade request's URL path, the form the path-derived fallback override
// (§6) is encoded in.
func pathFallbackSegment(urlPath string) string {
	if i := strings.LastIndex(urlPath, "/"); i >= 0 {
		return urlPath[i+1:]
	}
	return urlPath
}

// handleUpgrade performs the auth/admission checks from §4.2 and, on
// success, upgrades the connection and runs the session to completion.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	offered := r.Header.Get("Sec-WebSocket-Protocol")
	if s.cfg.Token != "" && offered != s.cfg.Token {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if !s.pool.Acquire() {
		http.Error(w, "Too many concurrent sessions", http.StatusServiceUnavailable)
		return
	}

	fallback, err := config.ParsePathFallback(pathFallbackSegment(r.URL.Path))
	if err != nil {
		log.Printf("egress: ignoring bad path-derived fallback %q: %v", r.URL.Path, err)
		fallback = nil
	}

	var respHeader http.Header
	if offered != "" {
		respHeader = http.Header{"Sec-WebSocket-Protocol": []string{offered}}
	}
	w.Header().Set("Access-Control-Allow-Origin", s.cfg.AllowOrigin)

	conn, err := s.upgrader.Upgrade(w, r, respHeader)
	if err != nil {
		s.pool.Release()
		log.Printf("egress: upgrade failed: %v", err)
		return
	}

	sess := newSession(s, conn, fallback)
	s.sessions.Store(sess, struct{}{})
	atomic.AddInt32(&s.activeCount, 1)
	log.Printf("egress: session opened, active=%d", atomic.LoadInt32(&s.activeCount))

	go func() {
		sess.run()
		s.sessions.Delete(sess)
		s.pool.Release()
		atomic.AddInt32(&s.activeCount, -1)
		log.Printf("egress: session closed, active=%d", atomic.LoadInt32(&s.activeCount))
	}()
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, listenAddr string) error {
	srv := &http.Server{
		Addr:    listenAddr,
		Handler: s.Mux(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("egress: listening on %s", listenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// debugf logs a per-attempt/per-frame diagnostic line when LOG_LEVEL=debug
// (§6); at the default "info" level these are suppressed to keep steady
// operation quiet.
func (s *Server) debugf(format string, args ...any) {
	if s.cfg.LogLevel != "debug" {
		return
	}
	log.Printf("egress: "+format, args...)
}

// allowedHost reports whether host is permitted to be dialed, given the
// server's allowlist (a nil/empty allowlist permits everything).
func (s *Server) allowedHost(host string) bool {
	if len(s.cfg.AllowedHosts) == 0 {
		return true
	}
	_, ok := s.cfg.AllowedHosts[host]
	return ok
}

// attemptList builds the dial attempt list for target per §4.2 step 3: the
// target alone if it is an IP literal, otherwise the target followed by
// the configured fallback IPs, each inheriting the target's port when it
// specifies none of its own.
func attemptList(target addr.Endpoint, fallbacks addr.FallbackList) []addr.Endpoint {
	if target.IsIPLiteral() {
		return []addr.Endpoint{target}
	}
	list := make([]addr.Endpoint, 0, 1+len(fallbacks))
	list = append(list, target)
	for _, fb := range fallbacks {
		list = append(list, fb.Resolve(target.Port))
	}
	return list
}
