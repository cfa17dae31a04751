package ingress

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayanrajpoot10/echtun/internal/routing"
)

// maxForwardBodyBytes is the hard cap on forward-proxy request bodies
// (§4.5 step 4 / §9): bodies beyond this are rejected with 413, not
// silently truncated.
const maxForwardBodyBytes = 10 * 1024 * 1024

var supportedMethods = map[string]bool{
	http.MethodGet: true, http.MethodPost: true, http.MethodPut: true,
	http.MethodDelete: true, http.MethodHead: true, http.MethodOptions: true,
	http.MethodPatch: true, http.MethodTrace: true, http.MethodConnect: true,
}

func (d *Dispatcher) handleHTTP(ctx context.Context, conn net.Conn, br *bufio.Reader) {
	defer conn.Close()

	req, err := http.ReadRequest(br)
	if err != nil {
		log.Printf("ingress: http read request: %v", err)
		return
	}

	if !supportedMethods[req.Method] {
		conn.Write([]byte("HTTP/1.1 405 Method Not Allowed\r\n\r\n"))
		return
	}

	if req.Method == http.MethodConnect {
		d.httpConnect(ctx, conn, req)
		return
	}
	d.httpForward(ctx, conn, req)
}

func (d *Dispatcher) httpConnect(ctx context.Context, conn net.Conn, req *http.Request) {
	host, port, err := splitHostPortDefault(req.Host, 443)
	if err != nil {
		conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		return
	}
	targetAddr := net.JoinHostPort(host, strconv.Itoa(port))

	if d.Policy.Decide(host) == routing.Direct {
		if err := runDirect(conn, targetAddr, nil); err != nil {
			log.Printf("ingress: http connect direct: %v", err)
			return
		}
		return
	}

	dialer := d.newDialer()
	err = runTunnel(ctx, dialer, targetAddr, nil, conn, func() error {
		_, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
		return err
	})
	if err != nil {
		log.Printf("ingress: http connect tunnel: %v", err)
		conn.Write([]byte("HTTP/1.1 502 Bad Gateway\r\n\r\n"))
	}
}

// httpForward implements the absolute-URI forward-proxy path (§4.5).
func (d *Dispatcher) httpForward(ctx context.Context, conn net.Conn, req *http.Request) {
	targetHost, targetPort, relativeURI, err := resolveForwardTarget(req)
	if err != nil {
		conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		return
	}
	targetAddr := net.JoinHostPort(targetHost, strconv.Itoa(targetPort))

	req.Header.Del("Proxy-Connection")
	req.Header.Del("Proxy-Authorization")

	var body []byte
	if req.ContentLength > 0 {
		if req.ContentLength > maxForwardBodyBytes {
			conn.Write([]byte("HTTP/1.1 413 Payload Too Large\r\n\r\n"))
			return
		}
		body = make([]byte, req.ContentLength)
		if _, err := io.ReadFull(req.Body, body); err != nil {
			conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
			return
		}
	}

	serialized := serializeForwardRequest(req, relativeURI, body)

	if d.Policy.Decide(targetHost) == routing.Direct {
		if err := runDirect(conn, targetAddr, serialized); err != nil {
			log.Printf("ingress: http forward direct: %v", err)
		}
		return
	}

	dialer := d.newDialer()
	if err := runTunnel(ctx, dialer, targetAddr, serialized, conn, nil); err != nil {
		log.Printf("ingress: http forward tunnel: %v", err)
	}
}

// resolveForwardTarget derives the destination host/port and the
// relative-path request line per §4.5 step 1: from an absolute-URI
// request line, or from the Host header with default port 80.
func resolveForwardTarget(req *http.Request) (host string, port int, relativeURI string, err error) {
	if req.URL.IsAbs() {
		h, p, err := splitHostPortDefault(req.URL.Host, 80)
		if err != nil {
			return "", 0, "", err
		}
		rel := req.URL.RequestURI()
		return h, p, rel, nil
	}
	if req.Host == "" {
		return "", 0, "", fmt.Errorf("ingress: no Host header and no absolute URI")
	}
	h, p, err := splitHostPortDefault(req.Host, 80)
	if err != nil {
		return "", 0, "", err
	}
	return h, p, req.URL.RequestURI(), nil
}

func splitHostPortDefault(hostport string, defaultPort int) (string, int, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport, defaultPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("bad port %q", portStr)
	}
	return host, port, nil
}

// serializeForwardRequest rebuilds the request line and headers verbatim
// (minus the dropped proxy headers), appending body if present (§4.5
// steps 2-3).
func serializeForwardRequest(req *http.Request, relativeURI string, body []byte) []byte {
	req.Header.Del("Proxy-Connection")
	req.Header.Del("Proxy-Authorization")

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", req.Method, relativeURI)
	if req.Host != "" {
		// http.ReadRequest promotes the Host header into req.Host and
		// removes it from req.Header, so it must be re-emitted explicitly.
		fmt.Fprintf(&b, "Host: %s\r\n", req.Host)
	}
	for name, values := range req.Header {
		for _, v := range values {
			fmt.Fprintf(&b, "%s: %s\r\n", name, v)
		}
	}
	b.WriteString("\r\n")
	out := []byte(b.String())
	if len(body) > 0 {
		out = append(out, body...)
	}
	return out
}
