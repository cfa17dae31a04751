package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ayanrajpoot10/echtun/internal/addr"
)

// Default values for the egress environment surface, per SPEC_FULL.md §6,
// matching the retrieved ssh-ify project's env-driven default-user setup.
const (
	DefaultConnectTimeoutMs = 5000
	DefaultReadTimeoutMs    = 180000
	DefaultMaxSessions      = 100
	DefaultAllowOrigin      = "*"
)

// Egress holds the egress command's resolved configuration.
type Egress struct {
	Token           string
	FallbackIPs     addr.FallbackList
	ConnectTimeout  time.Duration
	ReadTimeout     time.Duration
	MaxSessions     int
	LogLevel        string
	AllowedHosts    map[string]struct{} // nil means "no allowlist"
	AllowOrigin     string
	ListenAddr      string
}

// LoadEgressEnv builds an Egress config from environment variables,
// following ssh-ify's SSH_IFY_DEFAULT_USER-style os.Getenv convention.
func LoadEgressEnv() (*Egress, error) {
	cfg := &Egress{
		Token:          os.Getenv("TOKEN"),
		ConnectTimeout: durationMsEnv("CONNECT_TIMEOUT_MS", DefaultConnectTimeoutMs),
		ReadTimeout:    durationMsEnv("READ_TIMEOUT_MS", DefaultReadTimeoutMs),
		MaxSessions:    intEnv("MAX_SESSIONS", DefaultMaxSessions),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		AllowOrigin:    envOr("ALLOW_ORIGIN", DefaultAllowOrigin),
		ListenAddr:     envOr("LISTEN_ADDR", ":8080"),
	}

	if fb := os.Getenv("FALLBACK_IPS"); fb != "" {
		list, err := addr.ParseFallbackList(fb)
		if err != nil {
			return nil, err
		}
		cfg.FallbackIPs = list
	}

	if hosts := os.Getenv("ALLOWED_HOSTS"); hosts != "" {
		set := make(map[string]struct{})
		for _, h := range strings.Split(hosts, ",") {
			h = strings.TrimSpace(h)
			if h != "" {
				set[h] = struct{}{}
			}
		}
		cfg.AllowedHosts = set
	}

	return cfg, nil
}

// ParsePathFallback parses the path-derived fallback list per §6: the last
// URL path segment of the invoking WebSocket upgrade request,
// comma-separated, with '-' replaced by ':' per item. An empty segment (or
// one with no usable items) yields a nil list and no error, meaning "no
// override, use the configured default."
func ParsePathFallback(lastSegment string) (addr.FallbackList, error) {
	if lastSegment == "" {
		return nil, nil
	}
	items := strings.Split(lastSegment, ",")
	rewritten := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		rewritten = append(rewritten, strings.Replace(item, "-", ":", 1))
	}
	if len(rewritten) == 0 {
		return nil, nil
	}
	return addr.ParseFallbackList(strings.Join(rewritten, ","))
}

// ApplyPathFallback overrides cfg.FallbackIPs with the path-derived
// fallback list per §6 (see ParsePathFallback).
func (cfg *Egress) ApplyPathFallback(lastSegment string) error {
	list, err := ParsePathFallback(lastSegment)
	if err != nil {
		return err
	}
	if list == nil {
		return nil
	}
	cfg.FallbackIPs = list
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durationMsEnv(key string, defMs int) time.Duration {
	return time.Duration(intEnv(key, defMs)) * time.Millisecond
}
