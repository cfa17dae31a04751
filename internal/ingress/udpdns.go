package ingress

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/ayanrajpoot10/echtun/internal/addr"
	"github.com/ayanrajpoot10/echtun/internal/doh"
)

func encodeDNSQuery(raw []byte) string {
	return doh.EncodeQuery(raw)
}

// dnsPort is the only destination port the UDP ASSOCIATE relay forwards
// (§4.4): everything else is logged and dropped.
const dnsPort = 53

// cloudflareDoHHost is the DNS-over-HTTPS host the tunnel dials for every
// forwarded UDP datagram.
const cloudflareDoHHost = "cloudflare-dns.com"

func (d *Dispatcher) socks5UDPAssociate(ctx context.Context, control net.Conn, _ string) {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		control.Write(socks5Reply(replyGeneralFail))
		return
	}
	defer udpConn.Close()

	boundAddr := udpConn.LocalAddr().(*net.UDPAddr)
	control.Write(socks5ReplyWithAddr(replySuccess, boundAddr.IP, boundAddr.Port))

	// The TCP control socket's liveness is the association's lifetime
	// (§4.4): when it closes, the relay stops.
	done := make(chan struct{})
	go func() {
		defer close(done)
		io.Copy(io.Discard, control)
	}()

	relayCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	buf := make([]byte, 64*1024)
	for {
		select {
		case <-done:
			return
		case <-relayCtx.Done():
			return
		default:
		}

		udpConn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, clientAddr, err := udpConn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		go d.handleUDPDatagram(relayCtx, udpConn, clientAddr, append([]byte(nil), buf[:n]...))
	}
}

func (d *Dispatcher) handleUDPDatagram(ctx context.Context, udpConn *net.UDPConn, clientAddr *net.UDPAddr, datagram []byte) {
	header, payload, targetHost, targetPort, err := parseSOCKSUDPHeader(datagram)
	if err != nil {
		log.Printf("ingress: malformed UDP datagram: %v", err)
		return
	}
	if targetPort != dnsPort {
		log.Printf("ingress: dropping non-DNS UDP datagram to %s:%d", targetHost, targetPort)
		return
	}

	reply, err := d.forwardDNSOverTunnel(ctx, payload)
	if err != nil {
		log.Printf("ingress: DoH-over-tunnel forward failed: %v", err)
		return
	}

	out := append(append([]byte(nil), header...), reply...)
	udpConn.WriteToUDP(out, clientAddr)
}

// parseSOCKSUDPHeader parses the SOCKS5 UDP request header (RFC 1928
// §7): RSV(2) FRAG(1) ATYP DST.ADDR DST.PORT DATA. A non-zero FRAG is
// rejected since fragmentation is not supported (§4.4).
func parseSOCKSUDPHeader(datagram []byte) (header, payload []byte, host string, port int, err error) {
	if len(datagram) < 4 {
		return nil, nil, "", 0, fmt.Errorf("short datagram")
	}
	if datagram[2] != 0 {
		return nil, nil, "", 0, fmt.Errorf("fragmented datagram (FRAG=%d) not supported", datagram[2])
	}
	atyp := datagram[3]
	rest := datagram[4:]

	var addrLen int
	switch atyp {
	case atypIPv4:
		addrLen = 4
		if len(rest) < addrLen+2 {
			return nil, nil, "", 0, fmt.Errorf("short ipv4 datagram")
		}
		host = net.IP(rest[:4]).String()
	case atypIPv6:
		addrLen = 16
		if len(rest) < addrLen+2 {
			return nil, nil, "", 0, fmt.Errorf("short ipv6 datagram")
		}
		host = net.IP(rest[:16]).String()
	case atypDomain:
		if len(rest) < 1 {
			return nil, nil, "", 0, fmt.Errorf("short domain datagram")
		}
		l := int(rest[0])
		addrLen = 1 + l
		if len(rest) < addrLen+2 {
			return nil, nil, "", 0, fmt.Errorf("short domain datagram")
		}
		host = string(rest[1 : 1+l])
	default:
		return nil, nil, "", 0, fmt.Errorf("unsupported ATYP %#x", atyp)
	}

	port = int(binary.BigEndian.Uint16(rest[addrLen : addrLen+2]))
	headerLen := 4 + addrLen + 2
	return datagram[:headerLen], datagram[headerLen:], host, port, nil
}

// forwardDNSOverTunnel opens a fresh tunneled session to
// cloudflare-dns.com:443 through the egress, performs an inner TLS
// handshake over that relayed byte stream to reach cloudflare-dns.com's
// real certificate, and issues the DoH GET query inside it (§4.4).
func (d *Dispatcher) forwardDNSOverTunnel(ctx context.Context, rawQuery []byte) ([]byte, error) {
	dialer := d.newDialer()
	wsConnRaw, err := dialer.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingress: udpdns tunnel dial: %w", err)
	}
	defer wsConnRaw.Close()

	target := addr.Endpoint{Host: cloudflareDoHHost, Port: 443}
	connectFrame := target.String()

	if err := sendConnectAndAwait(wsConnRaw, connectFrame); err != nil {
		return nil, err
	}

	raw := newWSConn(wsConnRaw)
	tlsConn := tls.Client(raw, &tls.Config{ServerName: cloudflareDoHHost, MinVersion: tls.VersionTLS13})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("ingress: udpdns inner TLS handshake: %w", err)
	}
	defer tlsConn.Close()

	client := &http.Client{
		Transport: &http.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return tlsConn, nil
			},
		},
		Timeout: 10 * time.Second,
	}

	url := fmt.Sprintf("https://%s/dns-query?dns=%s", cloudflareDoHHost, encodeDNSQuery(rawQuery))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/dns-message")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ingress: udpdns query: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(io.LimitReader(resp.Body, 64*1024))
}
