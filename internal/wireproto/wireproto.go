// Package wireproto implements the framed session protocol that rides on
// top of a single WebSocket: one text control channel (CONNECT, CONNECTED,
// DATA, CLOSE, ERROR, PING, PONG) plus raw BINARY data frames. See
// SPEC_FULL.md §4.1.
package wireproto

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies a text control frame's verb.
type Kind string

const (
	KindConnect   Kind = "CONNECT"
	KindConnected Kind = "CONNECTED"
	KindData      Kind = "DATA"
	KindClose     Kind = "CLOSE"
	KindError     Kind = "ERROR"
	KindPing      Kind = "PING"
	KindPong      Kind = "PONG"
)

// TextFrame is a parsed text control frame. Target and Payload are only
// meaningful for the Kinds that carry them (Connect: both; Data: Payload;
// Error: Payload as the advisory message).
type TextFrame struct {
	Kind    Kind
	Target  string
	Payload []byte
}

// ErrorBody is the optional JSON body an ERROR frame's payload may carry.
type ErrorBody struct {
	Msg  string `json:"msg"`
	Name string `json:"name"`
}

// ParseTextFrame parses a text WebSocket message into a TextFrame. An
// unrecognized verb is reported as an error; callers should respond with
// their own ERROR frame and close per the state machine in §4.1.
func ParseTextFrame(s string) (TextFrame, error) {
	switch {
	case strings.HasPrefix(s, "CONNECT:"):
		rest := s[len("CONNECT:"):]
		target, payload, _ := strings.Cut(rest, "|")
		return TextFrame{Kind: KindConnect, Target: target, Payload: []byte(payload)}, nil

	case s == "CONNECTED":
		return TextFrame{Kind: KindConnected}, nil

	case strings.HasPrefix(s, "DATA:"):
		return TextFrame{Kind: KindData, Payload: []byte(s[len("DATA:"):])}, nil

	case s == "CLOSE":
		return TextFrame{Kind: KindClose}, nil

	case strings.HasPrefix(s, "ERROR:"):
		return TextFrame{Kind: KindError, Payload: []byte(s[len("ERROR:"):])}, nil

	case s == "PING":
		return TextFrame{Kind: KindPing}, nil

	case s == "PONG":
		return TextFrame{Kind: KindPong}, nil
	}
	return TextFrame{}, fmt.Errorf("wireproto: unrecognized frame %q", s)
}

// EncodeConnect builds a "CONNECT:<target>|<first-payload>" text frame.
func EncodeConnect(target string, firstPayload []byte) string {
	return "CONNECT:" + target + "|" + string(firstPayload)
}

// EncodeConnected builds the "CONNECTED" text frame.
func EncodeConnected() string { return "CONNECTED" }

// EncodeData builds a "DATA:<bytes>" text frame. Implementations SHOULD
// prefer raw BINARY frames; this exists for backward compatibility.
func EncodeData(payload []byte) string { return "DATA:" + string(payload) }

// EncodeClose builds the "CLOSE" text frame.
func EncodeClose() string { return "CLOSE" }

// EncodeError builds an "ERROR:<message>" text frame with a plain-text
// reason.
func EncodeError(reason string) string { return "ERROR:" + reason }

// EncodeErrorJSON builds an "ERROR:<json>" text frame carrying a structured
// ErrorBody.
func EncodeErrorJSON(msg, name string) string {
	body, _ := json.Marshal(ErrorBody{Msg: msg, Name: name})
	return "ERROR:" + string(body)
}

// EncodePing builds the "PING" text frame.
func EncodePing() string { return "PING" }

// EncodePong builds the "PONG" text frame.
func EncodePong() string { return "PONG" }
