package ingress

import (
	"bufio"
	"bytes"
	"net"
	"testing"
)

func TestSOCKS5GreetingRepliesNoAuth(t *testing.T) {
	in := bytes.NewReader([]byte{0x05, 0x01, 0x00})
	var out bytes.Buffer
	br := bufio.NewReader(in)
	if err := socks5Greeting(br, &out); err != nil {
		t.Fatalf("socks5Greeting: %v", err)
	}
	if !bytes.Equal(out.Bytes(), []byte{0x05, 0x00}) {
		t.Errorf("got %v", out.Bytes())
	}
}

func TestSOCKS5ReadRequestDomain(t *testing.T) {
	req := []byte{0x05, cmdConnect, 0x00, atypDomain, 11}
	req = append(req, []byte("example.com")...)
	req = append(req, 0x01, 0xBB) // port 443
	br := bufio.NewReader(bytes.NewReader(req))

	cmd, targetAddr, err := socks5ReadRequest(br)
	if err != nil {
		t.Fatalf("socks5ReadRequest: %v", err)
	}
	if cmd != cmdConnect {
		t.Errorf("cmd: got %d", cmd)
	}
	if targetAddr != "example.com:443" {
		t.Errorf("target: got %q", targetAddr)
	}
}

func TestSOCKS5ReadRequestIPv4(t *testing.T) {
	req := []byte{0x05, cmdConnect, 0x00, atypIPv4, 1, 0, 1, 1, 0x01, 0xBB}
	br := bufio.NewReader(bytes.NewReader(req))
	_, targetAddr, err := socks5ReadRequest(br)
	if err != nil {
		t.Fatalf("socks5ReadRequest: %v", err)
	}
	if targetAddr != "1.0.1.1:443" {
		t.Errorf("target: got %q", targetAddr)
	}
}

func TestSocks5ReplyEncoding(t *testing.T) {
	r := socks5Reply(replySuccess)
	want := []byte{0x05, 0x00, 0x00, atypIPv4, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(r, want) {
		t.Errorf("got %v, want %v", r, want)
	}
}

func TestSocks5ReplyWithAddr(t *testing.T) {
	r := socks5ReplyWithAddr(replySuccess, net.IPv4(127, 0, 0, 1), 40000)
	if len(r) != 10 {
		t.Fatalf("got length %d", len(r))
	}
	if r[4] != 127 || r[7] != 1 {
		t.Errorf("ip bytes wrong: %v", r[4:8])
	}
}

func TestParseSOCKSUDPHeaderDomain(t *testing.T) {
	datagram := []byte{0, 0, 0, atypDomain, 3, 'f', 'o', 'o', 0, 53, 0xDE, 0xAD}
	header, payload, host, port, err := parseSOCKSUDPHeader(datagram)
	if err != nil {
		t.Fatalf("parseSOCKSUDPHeader: %v", err)
	}
	if host != "foo" || port != 53 {
		t.Errorf("got host=%q port=%d", host, port)
	}
	if !bytes.Equal(payload, []byte{0xDE, 0xAD}) {
		t.Errorf("got payload %v", payload)
	}
	if len(header) != len(datagram)-len(payload) {
		t.Errorf("header length mismatch")
	}
}

func TestParseSOCKSUDPHeaderRejectsFragment(t *testing.T) {
	datagram := []byte{0, 0, 1, atypIPv4, 1, 2, 3, 4, 0, 53}
	if _, _, _, _, err := parseSOCKSUDPHeader(datagram); err == nil {
		t.Fatal("expected error for non-zero FRAG")
	}
}

func TestIsHTTPMethodStart(t *testing.T) {
	for _, b := range []byte("CGPHDOT") {
		if !isHTTPMethodStart(b) {
			t.Errorf("%c should start an HTTP method", b)
		}
	}
	if isHTTPMethodStart(0x05) {
		t.Error("0x05 should not be treated as HTTP")
	}
}
