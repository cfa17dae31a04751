package ingress

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ayanrajpoot10/echtun/internal/classify"
	"github.com/ayanrajpoot10/echtun/internal/session"
	"github.com/ayanrajpoot10/echtun/internal/wireproto"
	"github.com/ayanrajpoot10/echtun/internal/wsclient"
)

// directDialTimeout is the dial timeout for the direct (non-tunneled) path
// (§4.9).
const directDialTimeout = 10 * time.Second

// keepaliveInterval is the ping/deadline-renewal interval on the tunneled
// path (§4.10 step 4).
const keepaliveInterval = 10 * time.Second

// keepaliveDeadlineExtension is how far the local TCP deadline is pushed
// out on each keepalive tick (§4.10 step 4).
const keepaliveDeadlineExtension = 5 * time.Minute

// runDirect opens a plain TCP connection to target, writes firstPayload if
// any, and copies bytes in both directions until either side closes
// (§4.9). Normal-close errors are swallowed; anything else is logged.
func runDirect(client net.Conn, targetAddr string, firstPayload []byte) error {
	d := net.Dialer{Timeout: directDialTimeout}
	upstream, err := d.Dial("tcp", targetAddr)
	if err != nil {
		return fmt.Errorf("ingress: direct dial %s: %w", targetAddr, err)
	}
	defer upstream.Close()

	if len(firstPayload) > 0 {
		if _, err := upstream.Write(firstPayload); err != nil {
			return fmt.Errorf("ingress: direct first-payload write: %w", err)
		}
	}

	copyBoth(client, upstream)
	return nil
}

// copyBoth pipes bytes between a and b in both directions until either
// side's copy ends, logging only faults that are not ordinary teardown.
func copyBoth(a, b net.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := io.Copy(b, a)
		if err != nil && !classify.IsNormalClose(err) {
			log.Printf("ingress: relay a->b: %v", err)
		}
		b.Close()
	}()
	go func() {
		defer wg.Done()
		_, err := io.Copy(a, b)
		if err != nil && !classify.IsNormalClose(err) {
			log.Printf("ingress: relay b->a: %v", err)
		}
		a.Close()
	}()
	wg.Wait()
}

// runTunnel dials the egress via ECH-TLS+WebSocket, performs the CONNECT
// handshake, and relays client bytes over it (§4.10). onSuccess is called
// once CONNECTED is received and before the relay loops start, giving the
// caller a chance to write its protocol-specific success response.
//
// All writes to conn after the handshake go through a shared session.Writer
// so the keepalive pings, the relayed data frames, and the terminal CLOSE
// frame never interleave at the frame level (§5) -- gorilla/websocket does
// not allow concurrent writers on one connection.
func runTunnel(ctx context.Context, dialer *wsclient.Dialer, targetAddr string, firstPayload []byte, client net.Conn, onSuccess func() error) error {
	conn, err := dialer.Dial(ctx)
	if err != nil {
		return fmt.Errorf("ingress: tunnel dial: %w", err)
	}
	defer conn.Close()

	w := session.NewWriter(conn)

	if err := w.WriteText(wireproto.EncodeConnect(targetAddr, firstPayload)); err != nil {
		return fmt.Errorf("ingress: sending CONNECT: %w", err)
	}

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("ingress: reading CONNECT response: %w", err)
	}
	frame, err := wireproto.ParseTextFrame(string(msg))
	if err != nil || frame.Kind != wireproto.KindConnected {
		return fmt.Errorf("ingress: tunnel rejected CONNECT: %s", string(msg))
	}

	if onSuccess != nil {
		if err := onSuccess(); err != nil {
			return err
		}
	}

	tunnelCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go runKeepalive(tunnelCtx, w, client)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); pumpClientToWS(w, client) }()
	go func() { defer wg.Done(); pumpWSToClient(conn, client) }()
	wg.Wait()

	w.WriteText(wireproto.EncodeClose())
	client.Close()
	return nil
}

// sendConnectAndAwait sends a CONNECT frame with no first payload and
// blocks for the CONNECTED response, used by callers that need a bare
// tunneled byte pipe (e.g. the UDP-ASSOCIATE DNS relay) rather than the
// full client-facing relay loops in runTunnel.
func sendConnectAndAwait(conn *websocket.Conn, targetAddr string) error {
	if err := conn.WriteMessage(websocket.TextMessage, []byte(wireproto.EncodeConnect(targetAddr, nil))); err != nil {
		return fmt.Errorf("ingress: sending CONNECT: %w", err)
	}
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("ingress: reading CONNECT response: %w", err)
	}
	frame, err := wireproto.ParseTextFrame(string(msg))
	if err != nil || frame.Kind != wireproto.KindConnected {
		return fmt.Errorf("ingress: tunnel rejected CONNECT: %s", string(msg))
	}
	return nil
}

func runKeepalive(ctx context.Context, w *session.Writer, client net.Conn) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.WriteText(wireproto.EncodePing())
			client.SetDeadline(time.Now().Add(keepaliveDeadlineExtension))
		}
	}
}

func pumpClientToWS(w *session.Writer, client net.Conn) {
	buf := make([]byte, 32*1024)
	for {
		n, err := client.Read(buf)
		if n > 0 {
			if werr := w.WriteBinary(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func pumpWSToClient(conn *websocket.Conn, client net.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			if _, err := client.Write(data); err != nil {
				return
			}
		case websocket.TextMessage:
			frame, err := wireproto.ParseTextFrame(string(data))
			if err != nil {
				continue
			}
			switch frame.Kind {
			case wireproto.KindClose:
				return
			case wireproto.KindData:
				if _, err := client.Write(frame.Payload); err != nil {
					return
				}
			case wireproto.KindPing:
				// the egress only answers PINGs and never sends one, so
				// there is nothing to reply to here.
			}
		}
	}
}
