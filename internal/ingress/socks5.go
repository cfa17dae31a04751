package ingress

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"time"

	"github.com/ayanrajpoot10/echtun/internal/routing"
)

// SOCKS5 command and address-type constants (RFC 1928).
const (
	socksVersion       = 0x05
	cmdConnect         = 0x01
	cmdUDPAssociate    = 0x03
	atypIPv4           = 0x01
	atypDomain         = 0x03
	atypIPv6           = 0x04
	replySuccess       = 0x00
	replyGeneralFail   = 0x01
	replyCmdNotSupport = 0x07
	replyHostUnreach   = 0x04
)

// earlyDataWindow is how long the SOCKS5 CONNECT handler waits to bundle
// early client bytes (e.g. a TLS ClientHello) into the tunnel's first
// payload, reducing round trips (§4.10 step 1).
const earlyDataWindow = 100 * time.Millisecond

func (d *Dispatcher) handleSOCKS5(ctx context.Context, conn net.Conn, br *bufio.Reader) {
	defer conn.Close()

	if err := socks5Greeting(br, conn); err != nil {
		log.Printf("ingress: socks5 greeting: %v", err)
		return
	}

	cmd, targetAddr, err := socks5ReadRequest(br)
	if err != nil {
		log.Printf("ingress: socks5 request: %v", err)
		conn.Write(socks5Reply(replyGeneralFail))
		return
	}

	switch cmd {
	case cmdConnect:
		d.socks5Connect(ctx, conn, br, targetAddr)
	case cmdUDPAssociate:
		d.socks5UDPAssociate(ctx, conn, targetAddr)
	default:
		conn.Write(socks5Reply(replyCmdNotSupport))
	}
}

func socks5Greeting(br *bufio.Reader, w io.Writer) error {
	ver, err := br.ReadByte()
	if err != nil || ver != socksVersion {
		return fmt.Errorf("bad version byte")
	}
	nmethods, err := br.ReadByte()
	if err != nil {
		return err
	}
	if _, err := io.CopyN(io.Discard, br, int64(nmethods)); err != nil {
		return err
	}
	_, err = w.Write([]byte{socksVersion, 0x00})
	return err
}

func socks5ReadRequest(br *bufio.Reader) (cmd byte, targetAddr string, err error) {
	header := make([]byte, 4)
	if _, err = io.ReadFull(br, header); err != nil {
		return
	}
	if header[0] != socksVersion {
		return 0, "", fmt.Errorf("bad version in request")
	}
	cmd = header[1]
	atyp := header[3]

	host, err := readSOCKSAddr(br, atyp)
	if err != nil {
		return
	}
	portBuf := make([]byte, 2)
	if _, err = io.ReadFull(br, portBuf); err != nil {
		return
	}
	port := binary.BigEndian.Uint16(portBuf)

	targetAddr = net.JoinHostPort(host, strconv.Itoa(int(port)))
	return cmd, targetAddr, nil
}

func readSOCKSAddr(br *bufio.Reader, atyp byte) (string, error) {
	switch atyp {
	case atypIPv4:
		buf := make([]byte, 4)
		if _, err := io.ReadFull(br, buf); err != nil {
			return "", err
		}
		return net.IP(buf).String(), nil
	case atypIPv6:
		buf := make([]byte, 16)
		if _, err := io.ReadFull(br, buf); err != nil {
			return "", err
		}
		return net.IP(buf).String(), nil
	case atypDomain:
		lenByte, err := br.ReadByte()
		if err != nil {
			return "", err
		}
		buf := make([]byte, lenByte)
		if _, err := io.ReadFull(br, buf); err != nil {
			return "", err
		}
		return string(buf), nil
	}
	return "", fmt.Errorf("unsupported ATYP %#x", atyp)
}

// socks5Reply builds a "BND.ADDR=0.0.0.0 BND.PORT=0" reply with the given
// reply code, sufficient for a CONNECT/UDP-ASSOCIATE response where the
// client does not depend on the bound address.
func socks5Reply(code byte) []byte {
	return []byte{socksVersion, code, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0}
}

// socks5ReplyWithAddr builds a reply carrying a concrete bound IPv4
// address and port, used for the UDP ASSOCIATE response.
func socks5ReplyWithAddr(code byte, ip net.IP, port int) []byte {
	buf := []byte{socksVersion, code, 0x00, atypIPv4}
	buf = append(buf, ip.To4()...)
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, uint16(port))
	return append(buf, portBuf...)
}

func (d *Dispatcher) socks5Connect(ctx context.Context, conn net.Conn, br *bufio.Reader, targetAddr string) {
	host, _, err := net.SplitHostPort(targetAddr)
	if err != nil {
		conn.Write(socks5Reply(replyGeneralFail))
		return
	}

	firstPayload := peekEarlyData(conn, br)

	if d.Policy.Decide(host) == routing.Direct {
		conn.Write(socks5Reply(replySuccess))
		if err := runDirect(conn, targetAddr, firstPayload); err != nil {
			log.Printf("ingress: socks5 direct: %v", err)
		}
		return
	}

	dialer := d.newDialer()
	err = runTunnel(ctx, dialer, targetAddr, firstPayload, conn, func() error {
		_, err := conn.Write(socks5Reply(replySuccess))
		return err
	})
	if err != nil {
		log.Printf("ingress: socks5 tunnel: %v", err)
		conn.Write(socks5Reply(replyHostUnreach))
	}
}

// peekEarlyData waits up to earlyDataWindow for client bytes (e.g. a TLS
// ClientHello sent immediately after the SOCKS5 handshake) so they can ride
// along in the CONNECT frame's first payload.
func peekEarlyData(conn net.Conn, br *bufio.Reader) []byte {
	if br.Buffered() == 0 {
		conn.SetReadDeadline(time.Now().Add(earlyDataWindow))
		br.Peek(1)
		conn.SetReadDeadline(time.Now().Add(connectDeadline))
	}
	n := br.Buffered()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	io.ReadFull(br, buf)
	return buf
}
