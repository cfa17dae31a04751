// Package doh issues DNS-over-HTTPS queries and extracts the ECH
// ConfigList from a domain's HTTPS (type 65) resource record. See
// SPEC_FULL.md §4.8. Message construction and parsing are delegated to
// github.com/miekg/dns, which already speaks HTTPS/SVCB records, matching
// the retrieved markdingo/trustydns DoH resolver's choice of library.
package doh

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/http2"
)

// DefaultTimeout is the DoH request timeout specified in §4.8.
const DefaultTimeout = 10 * time.Second

// Client issues DoH queries over HTTP/2, matching the transport the
// retrieved trustydns proxy configures for its outbound DoH client.
type Client struct {
	httpClient *http.Client
}

// NewClient returns a Client with an HTTP/2-enabled transport and the
// default DoH timeout.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: &http2.Transport{},
		},
	}
}

// FetchECHConfigList queries dohURL for domain's HTTPS record and returns
// the raw ECH ConfigList bytes from the first SvcParamKey=5 ("ech") value
// found, or an error if the record has no such parameter.
func (c *Client) FetchECHConfigList(ctx context.Context, dohURL, domain string) ([]byte, error) {
	msg := new(dns.Msg)
	msg.Id = 1
	msg.RecursionDesired = true
	msg.SetQuestion(dns.Fqdn(domain), dns.TypeHTTPS)

	packed, err := msg.Pack()
	if err != nil {
		return nil, fmt.Errorf("doh: packing query for %s: %w", domain, err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(packed)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dohURL+"?dns="+encoded, nil)
	if err != nil {
		return nil, fmt.Errorf("doh: building request: %w", err)
	}
	req.Header.Set("Accept", "application/dns-message")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doh: query %s: %w", dohURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh: %s returned status %d", dohURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("doh: reading response: %w", err)
	}

	reply := new(dns.Msg)
	if err := reply.Unpack(body); err != nil {
		return nil, fmt.Errorf("doh: unpacking response: %w", err)
	}

	return echFromAnswers(reply.Answer, domain)
}

// EncodeQuery base64url-encodes (no padding) a raw DNS wire-format message
// for use as a DoH GET request's "dns" query parameter.
func EncodeQuery(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}

// echFromAnswers walks the answer section for an HTTPS record carrying an
// "ech" SvcParam (key 5) and returns its raw ConfigList bytes.
func echFromAnswers(answers []dns.RR, domain string) ([]byte, error) {
	for _, rr := range answers {
		https, ok := rr.(*dns.HTTPS)
		if !ok {
			continue
		}
		for _, kv := range https.Value {
			if kv.Key() != dns.SVCB_ECHCONFIG {
				continue
			}
			echKV, ok := kv.(*dns.SVCBECHConfig)
			if !ok || len(echKV.ECH) == 0 {
				continue
			}
			return echKV.ECH, nil
		}
	}
	return nil, fmt.Errorf("doh: no ech SvcParam found for %s", domain)
}
