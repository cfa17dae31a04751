package wireproto

import "testing"

func TestParseConnectWithPipe(t *testing.T) {
	f, err := ParseTextFrame("CONNECT:example.com:443|hello")
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != KindConnect || f.Target != "example.com:443" || string(f.Payload) != "hello" {
		t.Errorf("got %+v", f)
	}
}

func TestParseConnectNoPipe(t *testing.T) {
	f, err := ParseTextFrame("CONNECT:example.com:443")
	if err != nil {
		t.Fatal(err)
	}
	if f.Target != "example.com:443" || len(f.Payload) != 0 {
		t.Errorf("expected empty payload, got %+v", f)
	}
}

func TestParseDataEmptyPayload(t *testing.T) {
	f, err := ParseTextFrame("DATA:")
	if err != nil {
		t.Fatal(err)
	}
	if f.Kind != KindData || len(f.Payload) != 0 {
		t.Errorf("got %+v", f)
	}
}

func TestParseUnrecognized(t *testing.T) {
	if _, err := ParseTextFrame("BOGUS"); err == nil {
		t.Error("expected error for unrecognized frame")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	enc := EncodeConnect("example.com:443", []byte("GET / HTTP/1.1\r\n\r\n"))
	f, err := ParseTextFrame(enc)
	if err != nil {
		t.Fatal(err)
	}
	if f.Target != "example.com:443" || string(f.Payload) != "GET / HTTP/1.1\r\n\r\n" {
		t.Errorf("got %+v", f)
	}
}

func TestCloseAndPingPong(t *testing.T) {
	for _, s := range []string{"CLOSE", "PING", "PONG", "CONNECTED"} {
		f, err := ParseTextFrame(s)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if string(f.Kind) != s {
			t.Errorf("%s: got kind %v", s, f.Kind)
		}
	}
}
