package dnstxt

import (
	"context"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServer runs handler on a local UDP socket and returns its address.
func startServer(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	started := make(chan struct{})
	server := &dns.Server{PacketConn: pc, Handler: handler, NotifyStartedFunc: func() { close(started) }}
	go server.ActivateAndServe()
	<-started

	t.Cleanup(func() { server.Shutdown() })
	return pc.LocalAddr().String()
}

func txtAnswer(r *dns.Msg, values ...string) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(r)
	m.Answer = append(m.Answer, &dns.TXT{
		Hdr: dns.RR_Header{Name: r.Question[0].Name, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 0},
		Txt: values,
	})
	return m
}

func TestLookupJoinsStrings(t *testing.T) {
	long := strings.Repeat("k", 1600)
	addr := startServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		w.WriteMsg(txtAnswer(r, Split(long)...))
	})

	client := NewClient(addr)
	value, err := client.LookupJoined(context.Background(), "alice._hermkey.example.com")
	require.NoError(t, err)
	assert.Equal(t, long, value)
}

func TestLookupNotFound(t *testing.T) {
	addr := startServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		if strings.HasPrefix(r.Question[0].Name, "missing.") {
			m.SetRcode(r, dns.RcodeNameError)
		} else {
			m.SetReply(r)
		}
		w.WriteMsg(m)
	})

	client := NewClient(addr)
	_, err := client.Lookup(context.Background(), "missing.example.com")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = client.Lookup(context.Background(), "empty.example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookupServerFailure(t *testing.T) {
	addr := startServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeServerFailure)
		w.WriteMsg(m)
	})

	_, err := NewClient(addr).Lookup(context.Background(), "x.example.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestLookupRetries(t *testing.T) {
	var calls atomic.Int32
	addr := startServer(t, func(w dns.ResponseWriter, r *dns.Msg) {
		if calls.Add(1) == 1 {
			return // drop the first query
		}
		w.WriteMsg(txtAnswer(r, "ok"))
	})

	client := NewClient(addr)
	client.Timeout = 200 * time.Millisecond
	client.Backoff = 10 * time.Millisecond

	value, err := client.LookupJoined(context.Background(), "retry.example.com")
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLookupHonorsContext(t *testing.T) {
	addr := startServer(t, func(w dns.ResponseWriter, r *dns.Msg) {})

	client := NewClient(addr)
	client.Timeout = 50 * time.Millisecond
	client.Backoff = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := client.Lookup(ctx, "slow.example.com")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{""}, Split(""))
	assert.Equal(t, []string{"abc"}, Split("abc"))

	parts := Split(strings.Repeat("x", 600))
	require.Len(t, parts, 3)
	assert.Len(t, parts[0], 255)
	assert.Len(t, parts[1], 255)
	assert.Len(t, parts[2], 90)
}
