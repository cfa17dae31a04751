package echtls

import (
	"context"
	"net"
	"testing"
)

func TestDialRejectsInvalidPort(t *testing.T) {
	_, err := Dial(context.Background(), Config{ServerName: "example.com", Port: 0})
	if err == nil {
		t.Fatal("expected error for port 0")
	}
	_, err = Dial(context.Background(), Config{ServerName: "example.com", Port: 70000})
	if err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestDialFailsOnConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close() // nothing listening now

	_, err = Dial(context.Background(), Config{
		ServerName: "example.com",
		Port:       addr.Port,
		IPOverride: "127.0.0.1",
	})
	if err == nil {
		t.Fatal("expected dial error when nothing is listening")
	}
}
