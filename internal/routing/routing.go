// Package routing implements the ingress split-routing decision: direct
// vs. tunnel, based on the configured mode and, for bypass_cn, the
// IP-range table. See SPEC_FULL.md §4.6.
package routing

import (
	"net"

	"github.com/ayanrajpoot10/echtun/internal/ipranges"
)

// Mode is the configured routing policy.
type Mode string

const (
	ModeGlobal   Mode = "global"
	ModeBypassCN Mode = "bypass_cn"
	ModeNone     Mode = "none"
)

// Decision is the routing outcome for one target host.
type Decision int

const (
	Tunnel Decision = iota
	Direct
)

func (d Decision) String() string {
	if d == Direct {
		return "direct"
	}
	return "tunnel"
}

// Resolver resolves a DNS name to its addresses; swapped out in tests.
type Resolver func(host string) ([]net.IP, error)

// Policy decides direct-vs-tunnel for a target host.
type Policy struct {
	Mode     Mode
	Ranges   *ipranges.Table
	Resolver Resolver
}

// NewPolicy returns a Policy using net.LookupIP as the default resolver.
func NewPolicy(mode Mode, ranges *ipranges.Table) *Policy {
	return &Policy{
		Mode:   mode,
		Ranges: ranges,
		Resolver: func(host string) ([]net.IP, error) {
			return net.LookupIP(host)
		},
	}
}

// Decide returns the routing decision for host.
func (p *Policy) Decide(host string) Decision {
	switch p.Mode {
	case ModeNone:
		return Direct
	case ModeGlobal:
		return Tunnel
	case ModeBypassCN:
		return p.decideBypassCN(host)
	default:
		return Tunnel
	}
}

func (p *Policy) decideBypassCN(host string) Decision {
	if ip := net.ParseIP(host); ip != nil {
		if p.Ranges.Contains(ip) {
			return Direct
		}
		return Tunnel
	}

	addrs, err := p.Resolver(host)
	if err != nil || len(addrs) == 0 {
		// Resolver failure defaults to tunnel per §4.6.
		return Tunnel
	}
	for _, a := range addrs {
		if p.Ranges.Contains(a) {
			return Direct
		}
	}
	return Tunnel
}
