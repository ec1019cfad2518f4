package mailbox_test

import (
	"bytes"
	"context"
	"net"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faanross/hermnet/internal/directory"
	"github.com/faanross/hermnet/internal/dnstxt"
	"github.com/faanross/hermnet/internal/mailbox"
	"github.com/faanross/hermnet/internal/transport"
)

const relayDomain = "covert.example.com"

type relay struct {
	httpURL  string
	resolver *dnstxt.Client
}

func startRelay(t *testing.T, keys map[string][]byte) relay {
	t.Helper()
	srv := mailbox.NewServer(mailbox.Config{Domain: relayDomain, Keys: keys}, mailbox.NewQueue(mailbox.NewMemoryStorage()))

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	started := make(chan struct{})
	dnsServer := &dns.Server{PacketConn: pc, Handler: srv, NotifyStartedFunc: func() { close(started) }}
	go dnsServer.ActivateAndServe()
	<-started
	t.Cleanup(func() { dnsServer.Shutdown() })

	resolver := dnstxt.NewClient(pc.LocalAddr().String())
	resolver.Timeout = time.Second
	return relay{httpURL: ts.URL, resolver: resolver}
}

func TestRelayOverHTTP(t *testing.T) {
	ctx := context.Background()
	r := startRelay(t, nil)
	tr := transport.NewHTTP(r.httpURL)

	require.NoError(t, tr.Send(ctx, "bob", []byte("first")))
	require.NoError(t, tr.Send(ctx, "bob", []byte("second")))

	packets, err := tr.Fetch(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("first"), []byte("second")}, packets)

	packets, err = tr.Fetch(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, packets)
}

func TestRelayOverDNS(t *testing.T) {
	ctx := context.Background()
	r := startRelay(t, nil)
	tr := transport.NewDNS(r.resolver, relayDomain, r.httpURL, transport.WithChunkDelay(0))

	big := bytes.Repeat([]byte{0, 1, 2, 3, 4, 5, 6, 7}, 400)
	require.NoError(t, tr.Send(ctx, "bob", big))
	require.NoError(t, tr.Send(ctx, "bob", []byte("small")))

	packets, err := tr.Fetch(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Equal(t, big, packets[0])
	assert.Equal(t, []byte("small"), packets[1])

	// acknowledged messages are gone
	packets, err = tr.Fetch(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, packets)
}

func TestRelayMixedTransports(t *testing.T) {
	ctx := context.Background()
	r := startRelay(t, nil)
	httpTr := transport.NewHTTP(r.httpURL)
	dnsTr := transport.NewDNS(r.resolver, relayDomain, r.httpURL, transport.WithChunkDelay(0))

	require.NoError(t, httpTr.Send(ctx, "bob", []byte("via http")))
	require.NoError(t, dnsTr.Send(ctx, "bob", []byte("via dns")))

	packets, err := dnsTr.Fetch(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("via http"), []byte("via dns")}, packets)

	packets, err = httpTr.Fetch(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, packets)
}

func TestRelayPublishesKeys(t *testing.T) {
	ctx := context.Background()
	key := bytes.Repeat([]byte{0x5a}, 1184)
	r := startRelay(t, map[string][]byte{"bob": key})
	dir := directory.NewDNS(r.resolver, relayDomain)

	got, found, err := dir.LookupPublicKey(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, key, got)

	_, found, err = dir.LookupPublicKey(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, found)
}
