package mailbox

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
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

func newTestServer(keys map[string][]byte) *Server {
	return NewServer(Config{Domain: testDomain, Keys: keys}, NewQueue(NewMemoryStorage()))
}

func startDNS(t *testing.T, handler dns.Handler) string {
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

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServerSendAndFetch(t *testing.T) {
	srv := newTestServer(nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := postJSON(t, ts.URL+api.MessagesPath, api.SendRequest{RecipientID: "bob", StegoImage: api.Packet{1, 2, 3}})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sent api.SendResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sent))
	assert.Equal(t, "success", sent.Status)
	assert.Len(t, sent.MessageID, 32)

	fetch, err := http.Get(ts.URL + api.MessagesPath + "?myId=bob")
	require.NoError(t, err)
	defer fetch.Body.Close()
	require.Equal(t, http.StatusOK, fetch.StatusCode)

	var raw []json.RawMessage
	require.NoError(t, json.NewDecoder(fetch.Body).Decode(&raw))
	require.Len(t, raw, 1)
	assert.JSONEq(t, "[1,2,3]", string(raw[0]))

	again, err := http.Get(ts.URL + api.MessagesPath + "?myId=bob")
	require.NoError(t, err)
	defer again.Body.Close()
	var empty []api.Packet
	require.NoError(t, json.NewDecoder(again.Body).Decode(&empty))
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestServerRejectsBadRequests(t *testing.T) {
	srv := newTestServer(nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"bad json", http.MethodPost, api.MessagesPath, "{", http.StatusBadRequest},
		{"bad handle", http.MethodPost, api.MessagesPath, `{"recipientId":"bob smith","stegoImage":[1]}`, http.StatusBadRequest},
		{"empty image", http.MethodPost, api.MessagesPath, `{"recipientId":"bob","stegoImage":[]}`, http.StatusBadRequest},
		{"fetch without id", http.MethodGet, api.MessagesPath, "", http.StatusBadRequest},
		{"wrong method", http.MethodDelete, api.MessagesPath, "", http.StatusMethodNotAllowed},
		{"upload get", http.MethodGet, api.UploadPath, "", http.StatusMethodNotAllowed},
		{"invalid upload", http.MethodPost, api.UploadPath, `{"recipient":"bob","chunks":{},"manifest":"1:00000000:0"}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			var errResp api.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
			assert.NotEmpty(t, errResp.Error)
		})
	}
}

func TestServerUploadAndStatus(t *testing.T) {
	srv := newTestServer(nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	upload := buildUpload(t, "bob", bytes.Repeat([]byte("z"), 300))
	resp := postJSON(t, ts.URL+api.UploadPath, upload)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var uploaded api.UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&uploaded))
	assert.Equal(t, upload.MessageID, uploaded.MessageID)
	assert.Equal(t, len(upload.Chunks), uploaded.Chunks)

	dup := postJSON(t, ts.URL+api.UploadPath, upload)
	assert.Equal(t, http.StatusConflict, dup.StatusCode)

	status, err := http.Get(ts.URL + api.StatusPath)
	require.NoError(t, err)
	defer status.Body.Close()

	var body struct {
		Domain string       `json:"domain"`
		Stats  StorageStats `json:"stats"`
	}
	require.NoError(t, json.NewDecoder(status.Body).Decode(&body))
	assert.Equal(t, testDomain, body.Domain)
	assert.Equal(t, 1, body.Stats.TotalMessages)
	assert.Equal(t, len(upload.Chunks), body.Stats.TotalChunks)
}

func TestServerDNSRetrieval(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(nil)
	resolver := dnstxt.NewClient(startDNS(t, srv))
	resolver.Timeout = time.Second

	packet := bytes.Repeat([]byte{0x42}, 500)
	id, err := srv.queue.Publish("Bob", packet)
	require.NoError(t, err)

	listing, err := resolver.LookupJoined(ctx, chunker.ConsumeName("Bob", testDomain))
	require.NoError(t, err)
	assert.Equal(t, id, listing)

	value, err := resolver.LookupJoined(ctx, strings.ToUpper(chunker.ManifestName(id, testDomain)))
	require.NoError(t, err)
	manifest, err := chunker.ParseManifest(value)
	require.NoError(t, err)

	encoded := make([]string, manifest.TotalChunks)
	for seq := range encoded {
		encoded[seq], err = resolver.LookupJoined(ctx, chunker.ChunkName(seq, id, testDomain))
		require.NoError(t, err)
	}
	got, err := chunker.NewChunker(chunker.Config{Encoding: chunker.ENCODE_BASE32}).DecodeAll(encoded)
	require.NoError(t, err)
	assert.Equal(t, packet, got)

	_, err = resolver.Lookup(ctx, chunker.ChunkName(manifest.TotalChunks, id, testDomain))
	assert.ErrorIs(t, err, dnstxt.ErrNotFound)

	_, err = resolver.Lookup(ctx, chunker.AckName(id, "mallory", testDomain))
	assert.ErrorIs(t, err, dnstxt.ErrNotFound)

	ack, err := resolver.LookupJoined(ctx, chunker.AckName(id, "Bob", testDomain))
	require.NoError(t, err)
	assert.Equal(t, "ok", ack)

	_, err = resolver.Lookup(ctx, chunker.ConsumeName("Bob", testDomain))
	assert.ErrorIs(t, err, dnstxt.ErrNotFound, "empty mailbox has no answer")

	_, err = resolver.Lookup(ctx, "unrelated."+testDomain)
	assert.ErrorIs(t, err, dnstxt.ErrNotFound)
}

func TestServerDNSKeyRecords(t *testing.T) {
	ctx := context.Background()
	key := bytes.Repeat([]byte{7}, 1184)
	srv := newTestServer(map[string][]byte{"bob": key})
	resolver := dnstxt.NewClient(startDNS(t, srv))
	resolver.Timeout = time.Second

	value, err := resolver.LookupJoined(ctx, "bob._hermkey."+testDomain)
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(value)
	require.NoError(t, err)
	assert.Equal(t, key, decoded)

	_, err = resolver.Lookup(ctx, "carol._hermkey."+testDomain)
	assert.ErrorIs(t, err, dnstxt.ErrNotFound)
}

func TestServerDNSTruncatesWithoutEDNS0(t *testing.T) {
	srv := newTestServer(map[string][]byte{"bob": bytes.Repeat([]byte{7}, 1184)})
	addr := startDNS(t, srv)

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn("bob._hermkey."+testDomain), dns.TypeTXT)
	resp, _, err := (&dns.Client{Net: "udp", Timeout: time.Second}).Exchange(m, addr)
	require.NoError(t, err)
	assert.True(t, resp.Truncated)
	assert.True(t, resp.Authoritative)
}

func TestServerCleanExpired(t *testing.T) {
	storage := NewMemoryStorage()
	now := time.Now()
	storage.now = func() time.Time { return now }
	srv := NewServer(Config{Domain: testDomain, Retention: time.Hour}, NewQueue(storage))

	_, err := srv.queue.Publish("bob", []byte("old"))
	require.NoError(t, err)
	storage.now = func() time.Time { return now.Add(2 * time.Hour) }

	assert.Equal(t, 1, srv.CleanExpired())
	assert.Zero(t, storage.GetStats().TotalMessages)
}

func TestServerBackgroundLoopsStop(t *testing.T) {
	srv := NewServer(Config{CleanInterval: time.Millisecond, ReportEvery: time.Millisecond}, NewQueue(NewMemoryStorage()))

	for name, loop := range map[string]func(context.Context){
		"retention": srv.RunRetention,
		"status":    srv.RunStatusReporter,
	} {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				loop(ctx)
				close(done)
			}()

			time.Sleep(5 * time.Millisecond)
			cancel()
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatalf("%s loop did not stop", name)
			}
		})
	}
}
