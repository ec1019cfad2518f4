// Package dnstxt performs the TXT lookups shared by the key directory and the
// DNS transport.
package dnstxt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned for NXDOMAIN or an answer without TXT records.
var ErrNotFound = errors.New("txt record not found")

// EDNS0Size is the UDP payload size advertised on every query. Public keys
// published as TXT do not fit the classic 512-byte limit.
const EDNS0Size = 4096

// MaxStringSize is the limit of one TXT character-string.
const MaxStringSize = 255

// Client queries one DNS server for TXT records.
type Client struct {
	Server     string        // host:port
	Timeout    time.Duration // per exchange
	MaxRetries int           // extra attempts after a failed exchange
	Backoff    time.Duration // multiplied by the attempt number
}

// NewClient returns a client with a 5s timeout and 3 retries at 1s linear
// back-off.
func NewClient(server string) *Client {
	return &Client{
		Server:     server,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		Backoff:    time.Second,
	}
}

// Lookup returns the character-strings of the first TXT answer for name.
func (c *Client) Lookup(ctx context.Context, name string) ([]string, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	m.SetEdns0(EDNS0Size, false)

	var resp *dns.Msg
	var err error
	for attempt := 0; attempt <= c.MaxRetries; attempt++ {
		if attempt > 0 {
			logrus.WithFields(logrus.Fields{
				"function": "dnstxt.Lookup",
				"name":     name,
				"attempt":  attempt,
				"error":    err,
			}).Debug("Retrying TXT query")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * c.Backoff):
			}
		}

		resp, err = c.exchange(ctx, m)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, fmt.Errorf("txt query %s failed: %w", name, err)
	}

	if resp.Rcode == dns.RcodeNameError {
		return nil, ErrNotFound
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("txt query %s: server returned %s", name, dns.RcodeToString[resp.Rcode])
	}

	for _, ans := range resp.Answer {
		if txt, ok := ans.(*dns.TXT); ok {
			return txt.Txt, nil
		}
	}
	return nil, ErrNotFound
}

// LookupJoined returns the strings of the first TXT answer concatenated.
func (c *Client) LookupJoined(ctx context.Context, name string) (string, error) {
	parts, err := c.Lookup(ctx, name)
	if err != nil {
		return "", err
	}
	return strings.Join(parts, ""), nil
}

func (c *Client) exchange(ctx context.Context, m *dns.Msg) (*dns.Msg, error) {
	udp := &dns.Client{Timeout: c.Timeout, UDPSize: EDNS0Size}
	resp, _, err := udp.ExchangeContext(ctx, m, c.Server)
	if err != nil {
		return nil, err
	}
	if !resp.Truncated {
		return resp, nil
	}

	tcp := &dns.Client{Net: "tcp", Timeout: c.Timeout}
	resp, _, err = tcp.ExchangeContext(ctx, m, c.Server)
	return resp, err
}

// Split cuts value into character-strings of at most MaxStringSize bytes.
func Split(value string) []string {
	if value == "" {
		return []string{""}
	}

	parts := make([]string, 0, len(value)/MaxStringSize+1)
	for len(value) > MaxStringSize {
		parts = append(parts, value[:MaxStringSize])
		value = value[MaxStringSize:]
	}
	return append(parts, value)
}
