package transport

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faanross/hermnet/internal/api"
	"github.com/faanross/hermnet/internal/chunker"
	"github.com/faanross/hermnet/internal/dnstxt"
)

const testDomain = "covert.example.com"

// fakeRelay accepts uploads over HTTP and serves them back over DNS.
type fakeRelay struct {
	mu      sync.Mutex
	order   map[string][]string // recipient -> message ids
	records map[string]string   // fqdn -> txt value
	acked   []string
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{order: map[string][]string{}, records: map[string]string{}}
}

func (f *fakeRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req api.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.order[req.Recipient] = append(f.order[req.Recipient], req.MessageID)
	f.records[dns.Fqdn(chunker.ManifestName(req.MessageID, testDomain))] = req.Manifest
	for name, value := range req.Chunks {
		f.records[dns.Fqdn(name)] = value
	}
	json.NewEncoder(w).Encode(api.UploadResponse{Status: "success", MessageID: req.MessageID, Chunks: len(req.Chunks)})
}

func (f *fakeRelay) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	f.mu.Lock()
	defer f.mu.Unlock()

	m := new(dns.Msg)
	name := r.Question[0].Name
	value, ok := f.records[name]

	q := chunker.ParseQueryName(name, testDomain)
	switch q.Kind {
	case chunker.QueryConsume:
		value, ok = strings.Join(f.order[q.Handle], ","), true
	case chunker.QueryAck:
		f.acked = append(f.acked, q.MessageID)
		f.order[q.Handle] = removeID(f.order[q.Handle], q.MessageID)
		value, ok = "ok", true
	}

	if !ok {
		m.SetRcode(r, dns.RcodeNameError)
		w.WriteMsg(m)
		return
	}
	m.SetReply(r)
	m.Answer = append(m.Answer, &dns.TXT{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeTXT, Class: dns.ClassINET},
		Txt: dnstxt.Split(value),
	})
	w.WriteMsg(m)
}

func removeID(ids []string, id string) []string {
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return out
}

func startFakeRelay(t *testing.T) (*fakeRelay, *DNS) {
	t.Helper()
	relay := newFakeRelay()

	httpServer := httptest.NewServer(relay)
	t.Cleanup(httpServer.Close)

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	started := make(chan struct{})
	dnsServer := &dns.Server{PacketConn: pc, Handler: relay, NotifyStartedFunc: func() { close(started) }}
	go dnsServer.ActivateAndServe()
	<-started
	t.Cleanup(func() { dnsServer.Shutdown() })

	resolver := dnstxt.NewClient(pc.LocalAddr().String())
	resolver.Timeout = time.Second
	return relay, NewDNS(resolver, testDomain, httpServer.URL, WithChunkDelay(time.Millisecond))
}

func TestDNSTransportRoundTrip(t *testing.T) {
	ctx := context.Background()
	relay, tr := startFakeRelay(t)

	first := make([]byte, 700)
	for i := range first {
		first[i] = byte(i)
	}
	second := []byte("second packet")

	require.NoError(t, tr.Send(ctx, "bob", first))
	require.NoError(t, tr.Send(ctx, "bob", second))

	packets, err := tr.Fetch(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Equal(t, first, packets[0])
	assert.Equal(t, second, packets[1])

	relay.mu.Lock()
	assert.Len(t, relay.acked, 2)
	relay.mu.Unlock()
}

func TestDNSTransportEmptyMailbox(t *testing.T) {
	_, tr := startFakeRelay(t)

	packets, err := tr.Fetch(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, packets)
}

func TestDNSTransportDetectsForeignChunk(t *testing.T) {
	ctx := context.Background()
	relay, tr := startFakeRelay(t)

	payload := []byte(strings.Repeat("payload", 50))
	require.NoError(t, tr.Send(ctx, "bob", payload))

	// same payload chunked under a different message id
	foreign, err := chunker.NewChunker(chunker.Config{}).ChunkMessage(payload)
	require.NoError(t, err)

	relay.mu.Lock()
	for name := range relay.records {
		if strings.HasPrefix(name, "c-0-") {
			relay.records[name] = foreign.Chunks[0].Encoded
		}
	}
	relay.mu.Unlock()

	_, err = tr.Fetch(ctx, "bob")
	assert.ErrorIs(t, err, chunker.ErrMixedMessages)
}

func TestDNSTransportFailedFetchAcknowledgesNothing(t *testing.T) {
	ctx := context.Background()
	relay, tr := startFakeRelay(t)

	require.NoError(t, tr.Send(ctx, "bob", []byte("first packet")))
	require.NoError(t, tr.Send(ctx, "bob", []byte("second packet")))

	relay.mu.Lock()
	firstID, secondID := relay.order["bob"][0], relay.order["bob"][1]
	delete(relay.records, dns.Fqdn(chunker.ChunkName(0, secondID, testDomain)))
	relay.mu.Unlock()

	_, err := tr.Fetch(ctx, "bob")
	require.Error(t, err)
	assert.ErrorIs(t, err, dnstxt.ErrNotFound)

	relay.mu.Lock()
	assert.Empty(t, relay.acked)
	assert.Equal(t, []string{firstID, secondID}, relay.order["bob"])
	relay.mu.Unlock()
}
