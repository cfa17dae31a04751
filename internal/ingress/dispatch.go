// Package ingress implements the local SOCKS5/HTTP(S)-CONNECT proxy: a
// single TCP listener that sniffs the first byte of each connection to
// pick a protocol handler, a routing policy deciding direct vs. tunneled
// delivery, and the tunneled/direct relay loops. See SPEC_FULL.md §4.3.
package ingress

import (
	"bufio"
	"context"
	"log"
	"net"
	"time"

	"github.com/ayanrajpoot10/echtun/internal/config"
	"github.com/ayanrajpoot10/echtun/internal/doh"
	"github.com/ayanrajpoot10/echtun/internal/ipranges"
	"github.com/ayanrajpoot10/echtun/internal/routing"
	"github.com/ayanrajpoot10/echtun/internal/wsclient"
)

// connectDeadline is the per-connection deadline renewed on keepalive
// pings during the tunneled phase (§4.3).
const connectDeadline = 300 * time.Second

// Dispatcher owns the shared state every accepted connection needs: the
// resolved config, the routing policy, and the ECH-cached WS dialer
// factory.
type Dispatcher struct {
	Cfg        *config.Ingress
	Policy     *routing.Policy
	ECH        *wsclient.ECHCache
	EgressHost string
	EgressPort int
}

// NewDispatcher wires a Dispatcher from the resolved ingress config and a
// loaded IP-range table (nil/empty table is fine for global/none modes).
func NewDispatcher(cfg *config.Ingress, ranges *ipranges.Table) *Dispatcher {
	ech := wsclient.NewECHCache(doh.NewClient(), cfg.DoHURL, cfg.ECHDomain)
	return &Dispatcher{
		Cfg:        cfg,
		Policy:     routing.NewPolicy(cfg.RoutingMode, ranges),
		ECH:        ech,
		EgressHost: cfg.ServerAddr.Host,
		EgressPort: cfg.ServerAddr.Port,
	}
}

// newDialer builds a fresh wsclient.Dialer for one tunneled session,
// sharing the cached ECHCache across dials.
func (d *Dispatcher) newDialer() *wsclient.Dialer {
	return &wsclient.Dialer{
		Target: wsclient.Target{
			Host: d.Cfg.ServerAddr.Host,
			Port: d.Cfg.ServerAddr.Port,
			Path: d.Cfg.ServerPath,
		},
		Token:            d.Cfg.Token,
		ServerIPOverride: d.Cfg.ServerIPOverride,
		ECH:              d.ECH,
		AllowNonECH:      d.Cfg.AllowNonECH,
	}
}

// Serve accepts connections on ln until ctx is cancelled, dispatching each
// to the SOCKS5 or HTTP handler based on its first byte.
func (d *Dispatcher) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go d.handleConn(ctx, conn)
	}
}

func (d *Dispatcher) handleConn(ctx context.Context, conn net.Conn) {
	conn.SetDeadline(time.Now().Add(connectDeadline))
	br := bufio.NewReader(conn)

	first, err := br.Peek(1)
	if err != nil {
		conn.Close()
		return
	}

	switch {
	case first[0] == 0x05:
		d.handleSOCKS5(ctx, conn, br)
	case isHTTPMethodStart(first[0]):
		d.handleHTTP(ctx, conn, br)
	default:
		log.Printf("ingress: unrecognized protocol byte %#x, dropping", first[0])
		conn.Close()
	}
}

// isHTTPMethodStart reports whether b could begin an HTTP request line
// (§4.3: "C G P H D O T" cover CONNECT/GET/POST/HEAD/DELETE/OPTIONS/
// TRACE/PUT/PATCH).
func isHTTPMethodStart(b byte) bool {
	switch b {
	case 'C', 'G', 'P', 'H', 'D', 'O', 'T':
		return true
	}
	return false
}
