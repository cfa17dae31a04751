package routing

import (
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/ayanrajpoot10/echtun/internal/ipranges"
)

func rangeTable(t *testing.T) *ipranges.Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ranges.txt")
	if err := os.WriteFile(path, []byte("1.2.3.0 1.2.3.255\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tbl := ipranges.New()
	if _, err := tbl.LoadV4File(path); err != nil {
		t.Fatal(err)
	}
	return tbl
}

func TestDecideModeNone(t *testing.T) {
	p := &Policy{Mode: ModeNone}
	if d := p.Decide("anything.example"); d != Direct {
		t.Fatalf("none mode: got %v, want direct", d)
	}
}

func TestDecideModeGlobal(t *testing.T) {
	p := &Policy{Mode: ModeGlobal}
	if d := p.Decide("anything.example"); d != Tunnel {
		t.Fatalf("global mode: got %v, want tunnel", d)
	}
}

func TestDecideBypassCNIPLiteral(t *testing.T) {
	p := &Policy{Mode: ModeBypassCN, Ranges: rangeTable(t)}
	if d := p.Decide("1.2.3.4"); d != Direct {
		t.Fatalf("in-range literal: got %v, want direct", d)
	}
	if d := p.Decide("8.8.8.8"); d != Tunnel {
		t.Fatalf("out-of-range literal: got %v, want tunnel", d)
	}
}

func TestDecideBypassCNResolvedHost(t *testing.T) {
	p := &Policy{
		Mode:   ModeBypassCN,
		Ranges: rangeTable(t),
		Resolver: func(host string) ([]net.IP, error) {
			return []net.IP{net.ParseIP("1.2.3.9")}, nil
		},
	}
	if d := p.Decide("cn.example"); d != Direct {
		t.Fatalf("got %v, want direct", d)
	}
}

func TestDecideBypassCNResolverFailureDefaultsToTunnel(t *testing.T) {
	p := &Policy{
		Mode:   ModeBypassCN,
		Ranges: rangeTable(t),
		Resolver: func(host string) ([]net.IP, error) {
			return nil, errors.New("no such host")
		},
	}
	if d := p.Decide("broken.example"); d != Tunnel {
		t.Fatalf("resolver failure: got %v, want tunnel", d)
	}
}

func TestDecisionString(t *testing.T) {
	if Direct.String() != "direct" || Tunnel.String() != "tunnel" {
		t.Fatal("unexpected Decision.String() output")
	}
}
