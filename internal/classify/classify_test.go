package classify

import (
	"errors"
	"io"
	"testing"
)

func TestIsTransientDial(t *testing.T) {
	cases := map[string]bool{
		"cannot connect to cloudflare":     true,
		"Proxy request failed: 502":        true,
		"dial tcp: i/o timeout":             false,
		"connection refused":                false,
	}
	for msg, want := range cases {
		got := IsTransientDial(errors.New(msg))
		if got != want {
			t.Errorf("IsTransientDial(%q) = %v, want %v", msg, got, want)
		}
	}
	if IsTransientDial(nil) {
		t.Error("nil should not be transient")
	}
}

func TestIsNormalClose(t *testing.T) {
	if !IsNormalClose(io.EOF) {
		t.Error("EOF should be normal close")
	}
	if !IsNormalClose(errors.New("use of closed network connection")) {
		t.Error("closed network connection should be normal close")
	}
	if IsNormalClose(errors.New("disk full")) {
		t.Error("unrelated error should not be normal close")
	}
	if IsNormalClose(nil) {
		t.Error("nil should not be normal close")
	}
}
