// Command ingress runs the local SOCKS5/HTTP(S)-CONNECT proxy that dials
// the egress server over ECH-TLS+WebSocket and performs split routing. See
// SPEC_FULL.md §4.3.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ayanrajpoot10/echtun/internal/config"
	"github.com/ayanrajpoot10/echtun/internal/ingress"
	"github.com/ayanrajpoot10/echtun/internal/ipranges"
)

// Well-known range-list URLs used to populate chn_ip.txt / chn_ip_v6.txt
// on first run when bypass_cn routing is configured (§4.6).
const (
	ipv4RangesURL = "https://raw.githubusercontent.com/gaoyifan/china-operator-ip/ip-lists/china.txt"
	ipv6RangesURL = "https://raw.githubusercontent.com/gaoyifan/china-operator-ip/ip-lists/china6.txt"

	rangesDownloadTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.ParseIngressFlags("ingress", os.Args[1:])
	if err != nil {
		log.Fatalf("ingress: %v", err)
	}

	ranges := ipranges.New()
	if cfg.RoutingMode == "bypass_cn" {
		if err := loadRanges(ranges); err != nil {
			log.Printf("ingress: bypass_cn range tables unavailable: %v", err)
		}
	}

	disp := ingress.NewDispatcher(cfg, ranges)

	ln, err := net.Listen("tcp", cfg.ListenAddr.String())
	if err != nil {
		log.Fatalf("ingress: listen %s: %v", cfg.ListenAddr, err)
	}
	log.Printf("ingress: listening on %s", cfg.ListenAddr)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Println("ingress: shutting down...")
		cancel()
	}()

	if err := disp.Serve(ctx, ln); err != nil {
		log.Fatalf("ingress: %v", err)
	}
}

func loadRanges(ranges *ipranges.Table) error {
	v4Path, err := config.GetIPRangesPath("chn_ip.txt")
	if err != nil {
		return err
	}
	if err := ipranges.EnsureFile(v4Path, ipv4RangesURL, rangesDownloadTimeout); err != nil {
		return err
	}
	if _, err := ranges.LoadV4File(v4Path); err != nil {
		return err
	}

	v6Path, err := config.GetIPRangesPath("chn_ip_v6.txt")
	if err != nil {
		return err
	}
	// IPv6 download failure is non-fatal per §4.6.
	if err := ipranges.EnsureFile(v6Path, ipv6RangesURL, rangesDownloadTimeout); err != nil {
		log.Printf("ingress: chn_ip_v6.txt download failed (non-fatal): %v", err)
		return nil
	}
	_, err = ranges.LoadV6File(v6Path)
	return err
}
