package config

import (
	"flag"
	"fmt"

	"github.com/ayanrajpoot10/echtun/internal/addr"
	"github.com/ayanrajpoot10/echtun/internal/routing"
)

// Default values for the ingress command line surface, per SPEC_FULL.md §6.
const (
	DefaultListenAddr = "127.0.0.1:30000"
	DefaultDoHURL     = "https://dns.alidns.com/dns-query"
	DefaultECHDomain  = "cloudflare-ech.com"
	DefaultRouting    = routing.ModeBypassCN
)

// Ingress holds the ingress command's resolved configuration. It is
// immutable once ParseIngressFlags returns.
type Ingress struct {
	ListenAddr       addr.Endpoint
	ServerAddr       addr.Endpoint
	ServerPath       string
	ServerIPOverride string
	Token            string
	DoHURL           string
	ECHDomain        string
	RoutingMode      routing.Mode
	AllowNonECH      bool
}

// ParseIngressFlags parses args (normally os.Args[1:]) into an Ingress
// config, following the retrieved trustydns proxy's flag.FlagSet pattern
// rather than a global flag.CommandLine so tests can call this
// repeatedly.
func ParseIngressFlags(progName string, args []string) (*Ingress, error) {
	fs := flag.NewFlagSet(progName, flag.ContinueOnError)

	listen := fs.String("listen", DefaultListenAddr, "local SOCKS5/HTTP proxy listen address")
	server := fs.String("server", "", "egress server address (host:port[/path]) (required)")
	serverIP := fs.String("server-ip", "", "override IP to dial instead of resolving the server hostname")
	token := fs.String("token", "", "shared token offered as Sec-WebSocket-Protocol")
	dohURL := fs.String("doh-url", DefaultDoHURL, "DNS-over-HTTPS resolver URL used to fetch the ECH ConfigList")
	echDomain := fs.String("ech-domain", DefaultECHDomain, "domain whose HTTPS record publishes the ECH ConfigList")
	routingMode := fs.String("routing", string(DefaultRouting), "routing mode: global, bypass_cn, or none")
	allowNonECH := fs.Bool("allow-non-ech", false, "permit a dial with no ECH ConfigList if one cannot be fetched")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if *server == "" {
		return nil, fmt.Errorf("config: -server is required")
	}

	listenEP, err := addr.ParseEndpoint(*listen)
	if err != nil {
		return nil, fmt.Errorf("config: -listen: %w", err)
	}
	serverEP, path, err := addr.SplitHostPortPath(*server)
	if err != nil {
		return nil, fmt.Errorf("config: -server: %w", err)
	}

	mode := routing.Mode(*routingMode)
	switch mode {
	case routing.ModeGlobal, routing.ModeBypassCN, routing.ModeNone:
	default:
		return nil, fmt.Errorf("config: -routing: unknown mode %q", *routingMode)
	}

	return &Ingress{
		ListenAddr:       listenEP,
		ServerAddr:       serverEP,
		ServerPath:       path,
		ServerIPOverride: *serverIP,
		Token:            *token,
		DoHURL:           *dohURL,
		ECHDomain:        *echDomain,
		RoutingMode:      mode,
		AllowNonECH:      *allowNonECH,
	}, nil
}
