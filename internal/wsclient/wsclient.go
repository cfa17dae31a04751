// Package wsclient dials the egress server: ECH-TLS to the server address,
// then a WebSocket upgrade over that connection, offering the shared token
// as the negotiated subprotocol. See SPEC_FULL.md §4.7.
package wsclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayanrajpoot10/echtun/internal/echtls"
)

// ECHRetryDelay is the pause between the first failed dial and the
// ECH-refreshed retry (§4.7 step 6).
const ECHRetryDelay = 1 * time.Second

// MaxAttempts caps the number of dial attempts (initial + one ECH-refresh
// retry).
const MaxAttempts = 2

// echErrorPattern is case-sensitive so that the "echtls:" prefix carried by
// every echtls.Dial error does not count as naming ECH.
var echErrorPattern = regexp.MustCompile(`ECH|encrypted client hello`)

// Target describes the egress endpoint to dial.
type Target struct {
	Host string
	Port int
	Path string // optional trailing path preserved from serverAddr
}

// Dialer dials the egress server over ECH-TLS + WebSocket, with the
// ECH-refresh retry cascade.
type Dialer struct {
	Target           Target
	Token            string
	ServerIPOverride string
	ECH              *ECHCache
	// AllowNonECH permits a dial with no ECH ConfigList when the cache
	// cannot produce one, per the configurable open question in §9.
	AllowNonECH bool
}

// Dial performs the full ECH-TLS + WebSocket dial, retrying once with a
// refreshed ECH ConfigList if the first attempt fails with an
// ECH-naming error.
func (d *Dialer) Dial(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(ECHRetryDelay):
			}
			if _, err := d.ECH.Refresh(ctx); err != nil && !d.AllowNonECH {
				lastErr = err
				continue
			}
		}

		echList, err := d.ECH.Get(ctx)
		if err != nil {
			if !d.AllowNonECH {
				return nil, fmt.Errorf("wsclient: ech config unavailable and ECH is required: %w", err)
			}
			echList = nil
		}

		conn, dialErr := d.dialOnce(ctx, echList)
		if dialErr == nil {
			return conn, nil
		}
		lastErr = dialErr
		if !echErrorPattern.MatchString(dialErr.Error()) {
			return nil, dialErr
		}
	}
	return nil, fmt.Errorf("wsclient: dial failed after %d attempts: %w", MaxAttempts, lastErr)
}

func (d *Dialer) dialOnce(ctx context.Context, echList []byte) (*websocket.Conn, error) {
	tlsConn, err := echtls.Dial(ctx, echtls.Config{
		ServerName:    d.Target.Host,
		Port:          d.Target.Port,
		ECHConfigList: echList,
		IPOverride:    d.ServerIPOverride,
	})
	if err != nil {
		return nil, err
	}

	path := d.Target.Path
	if path == "" {
		path = "/"
	}
	u := &url.URL{
		Scheme: "wss",
		Host:   net.JoinHostPort(d.Target.Host, strconv.Itoa(d.Target.Port)),
		Path:   path,
	}

	header := http.Header{}
	if d.Token != "" {
		header.Set("Sec-WebSocket-Protocol", d.Token)
	}

	conn, resp, err := websocket.NewClient(tlsConn, u, header, 4096, 4096)
	if err != nil {
		tlsConn.Close()
		if resp != nil {
			return nil, fmt.Errorf("wsclient: upgrade to %s failed with status %s: %w", u, resp.Status, err)
		}
		return nil, fmt.Errorf("wsclient: upgrade to %s: %w", u, err)
	}
	return conn, nil
}
