// Package echtls dials a TLS connection with Encrypted Client Hello using
// the Go standard library's native ECH support, optionally resolving the
// server name to an overridden IP. See SPEC_FULL.md §4.7 and §9 (idiomatic
// ECH API, no reflection).
package echtls

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// DialTimeout is the dial timeout specified in §4.7.
const DialTimeout = 10 * time.Second

// Config carries the parameters needed to dial one ECH-TLS connection.
type Config struct {
	// ServerName is both the dial hostname (unless IPOverride is set) and
	// the TLS SNI / ECH public name.
	ServerName string
	Port       int

	// ECHConfigList is the opaque ECH ConfigList fetched via DoH. A nil or
	// empty list dials plain TLS 1.3 with no ECH extension, which callers
	// should only do when ECH is not required (see Ingress.AllowNonECH in
	// internal/config).
	ECHConfigList []byte

	// IPOverride, if non-empty, is dialed instead of resolving ServerName
	// via system DNS. The TLS SNI still uses ServerName.
	IPOverride string
}

// Dial opens a TCP connection (to IPOverride if set, otherwise to
// ServerName via system DNS) and performs a TLS 1.3 handshake with ECH, SNI
// set to ServerName, and the system root store. An ECH rejection or any
// other handshake failure is returned as a hard error; the caller never
// gets back a connection whose outer certificate could not be validated.
func Dial(ctx context.Context, cfg Config) (*tls.Conn, error) {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("echtls: invalid port %d", cfg.Port)
	}

	dialHost := cfg.ServerName
	if cfg.IPOverride != "" {
		dialHost = cfg.IPOverride
	}
	dialAddr := net.JoinHostPort(dialHost, fmt.Sprintf("%d", cfg.Port))

	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	var d net.Dialer
	raw, err := d.DialContext(dialCtx, "tcp", dialAddr)
	if err != nil {
		return nil, fmt.Errorf("echtls: dial %s: %w", dialAddr, err)
	}

	tlsCfg := &tls.Config{
		ServerName: cfg.ServerName,
		MinVersion: tls.VersionTLS13,
	}
	if len(cfg.ECHConfigList) > 0 {
		tlsCfg.EncryptedClientHelloConfigList = cfg.ECHConfigList
	}

	conn := tls.Client(raw, tlsCfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("echtls: handshake with %s: %w", cfg.ServerName, err)
	}
	return conn, nil
}
