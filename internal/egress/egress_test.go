package egress

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayanrajpoot10/echtun/internal/addr"
	"github.com/ayanrajpoot10/echtun/internal/config"
)

func newTestServer(t *testing.T, cfg *config.Egress) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(cfg)
	hs := httptest.NewServer(s.Mux())
	t.Cleanup(hs.Close)
	return s, hs
}

func TestHandlePingReturnsOK(t *testing.T) {
	_, hs := newTestServer(t, &config.Egress{MaxSessions: 10, AllowOrigin: "*"})
	resp, err := http.Get(hs.URL + "/ping")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("got %v", body)
	}
}

func TestHandleIndexReturnsHelloWorld(t *testing.T) {
	_, hs := newTestServer(t, &config.Egress{MaxSessions: 10, AllowOrigin: "*"})
	resp, err := http.Get(hs.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if string(body) != "Hello World!" {
		t.Errorf("body: got %q", body)
	}
}

func TestUnknownPathReturns404(t *testing.T) {
	_, hs := newTestServer(t, &config.Egress{MaxSessions: 10, AllowOrigin: "*"})
	resp, err := http.Get(hs.URL + "/nope")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestUpgradeRejectsWrongToken(t *testing.T) {
	_, hs := newTestServer(t, &config.Egress{Token: "correct", MaxSessions: 10, AllowOrigin: "*"})
	wsURL := "ws" + hs.URL[len("http"):] + "/"

	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", "wrong")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected dial error for wrong token")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		status := -1
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("status: %d", status)
	}
}

func TestUpgradeAcceptsCorrectToken(t *testing.T) {
	_, hs := newTestServer(t, &config.Egress{Token: "correct", MaxSessions: 10, AllowOrigin: "*"})
	wsURL := "ws" + hs.URL[len("http"):] + "/"

	header := http.Header{}
	header.Set("Sec-WebSocket-Protocol", "correct")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("dial: %v (status %v)", err, resp)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Sec-WebSocket-Protocol"); got != "correct" {
		t.Errorf("echoed subprotocol: got %q", got)
	}
}

func TestUpgradeRejectsOverCapacity(t *testing.T) {
	_, hs := newTestServer(t, &config.Egress{MaxSessions: 0, AllowOrigin: "*"})
	wsURL := "ws" + hs.URL[len("http"):] + "/"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial error over capacity")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		status := -1
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("status: %d", status)
	}
}

func TestAttemptListIPLiteralSkipsFallbacks(t *testing.T) {
	target := addr.Endpoint{Host: "1.2.3.4", Port: 443}
	fallbacks, _ := addr.ParseFallbackList("5.6.7.8:21415")
	list := attemptList(target, fallbacks)
	if len(list) != 1 {
		t.Fatalf("got %d attempts, want 1", len(list))
	}
}

func TestPathFallbackSegment(t *testing.T) {
	cases := map[string]string{
		"/":                     "",
		"/1.2.3.4-21415":        "1.2.3.4-21415",
		"/tunnel/1.2.3.4-21415": "1.2.3.4-21415",
	}
	for path, want := range cases {
		if got := pathFallbackSegment(path); got != want {
			t.Errorf("pathFallbackSegment(%q): got %q, want %q", path, got, want)
		}
	}
}

func TestUpgradePathDerivedFallbackIsPerConnection(t *testing.T) {
	s, hs := newTestServer(t, &config.Egress{MaxSessions: 10, AllowOrigin: "*"})

	conn, resp, err := websocket.DefaultDialer.Dial("ws"+hs.URL[len("http"):]+"/1.2.3.4-21415", nil)
	if err != nil {
		t.Fatalf("dial: %v (status %v)", err, resp)
	}
	defer conn.Close()

	var sess *Session
	for i := 0; i < 100 && sess == nil; i++ {
		s.sessions.Range(func(k, _ any) bool {
			sess = k.(*Session)
			return false
		})
		if sess == nil {
			time.Sleep(5 * time.Millisecond)
		}
	}
	if sess == nil {
		t.Fatal("no session registered after upgrade")
	}
	if len(sess.fallback) != 1 || sess.fallback[0].Port != 21415 {
		t.Errorf("got fallback %+v", sess.fallback)
	}

	// cfg.FallbackIPs (the server-wide default) must stay untouched -- the
	// override is per-connection, not a mutation of shared config.
	if s.cfg.FallbackIPs != nil {
		t.Errorf("server cfg mutated: %+v", s.cfg.FallbackIPs)
	}
}

func TestAttemptListNameIncludesFallbacksWithInheritedPort(t *testing.T) {
	target := addr.Endpoint{Host: "cloudflare.com", Port: 443}
	fallbacks, _ := addr.ParseFallbackList("1.2.3.4:21415,proxy.example.net")
	list := attemptList(target, fallbacks)
	if len(list) != 3 {
		t.Fatalf("got %d attempts, want 3", len(list))
	}
	if list[2].Port != 443 {
		t.Errorf("expected inherited port 443, got %d", list[2].Port)
	}
}
