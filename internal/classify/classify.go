// Package classify isolates the string-matching error classification the
// spec calls out as fragile (§9 of SPEC_FULL.md) behind two predicates, so
// the rest of the codebase never inspects an error string directly.
package classify

import (
	"errors"
	"io"
	"net"
	"regexp"
	"strings"
)

var transientDialPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)proxy request`),
	regexp.MustCompile(`(?i)cannot connect`),
	regexp.MustCompile(`(?i)cloudflare`),
}

// IsTransientDial reports whether err looks like a transient, Cloudflare-like
// dial failure that warrants trying the next fallback endpoint rather than
// giving up immediately. This is a bridge until the dial path's libraries
// expose a typed error for the condition; see SPEC_FULL.md §9.
func IsTransientDial(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pat := range transientDialPatterns {
		if pat.MatchString(msg) {
			return true
		}
	}
	return false
}

// IsNormalClose reports whether err represents an ordinary, expected
// connection teardown (EOF, reset, broken pipe, use-of-closed-network) that
// should be swallowed rather than logged as a fault.
func IsNormalClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "use of closed network connection"),
		strings.Contains(msg, "connection reset by peer"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "forcibly closed"):
		return true
	}
	return false
}
