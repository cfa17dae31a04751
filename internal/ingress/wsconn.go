package ingress

import (
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts an established tunnel (post-CONNECTED, raw-byte-relay
// WebSocket) to the net.Conn interface, so it can carry an inner protocol
// like TLS directly on top of the outer tunnel. Used by the UDP-ASSOCIATE
// DNS relay (§4.4) to reach cloudflare-dns.com's real certificate inside
// the tunneled byte stream.
type wsConn struct {
	conn    *websocket.Conn
	leftover []byte
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for len(c.leftover) == 0 {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		c.leftover = data
	}
	n := copy(p, c.leftover)
	c.leftover = c.leftover[n:]
	return n, nil
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error                       { return c.conn.Close() }
func (c *wsConn) LocalAddr() net.Addr                { return c.conn.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr               { return c.conn.RemoteAddr() }
func (c *wsConn) SetDeadline(t time.Time) error      { return c.conn.SetReadDeadline(t) }
func (c *wsConn) SetReadDeadline(t time.Time) error  { return c.conn.SetReadDeadline(t) }
func (c *wsConn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }
