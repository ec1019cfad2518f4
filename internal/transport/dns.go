package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/faanross/hermnet/internal/api"
	"github.com/faanross/hermnet/internal/chunker"
	"github.com/faanross/hermnet/internal/dnstxt"
)

// DNS retrieves packets through TXT queries against the relay's
// authoritative server and uploads them over the relay's HTTP /upload
// endpoint.
//
// Retrieval: consume.<handle>.<domain> lists message IDs, m-<id>.<domain>
// returns the manifest, c-<seq>-<id>.<domain> returns each chunk and
// ack.<id>.<handle>.<domain> acknowledges the message.
type DNS struct {
	resolver   *dnstxt.Client
	domain     string
	uploadURL  string
	httpClient *http.Client
	chunker    *chunker.Chunker
	chunkDelay time.Duration
}

// DNSOption configures a DNS transport.
type DNSOption func(*DNS)

// WithChunkDelay spaces out chunk queries.
func WithChunkDelay(d time.Duration) DNSOption {
	return func(t *DNS) { t.chunkDelay = d }
}

// WithUploadClient replaces the HTTP client used by Send.
func WithUploadClient(client *http.Client) DNSOption {
	return func(t *DNS) { t.httpClient = client }
}

// NewDNS creates a DNS transport. relayURL is the relay's HTTP base URL.
func NewDNS(resolver *dnstxt.Client, domain, relayURL string, opts ...DNSOption) *DNS {
	t := &DNS{
		resolver:   resolver,
		domain:     strings.TrimSuffix(domain, "."),
		uploadURL:  strings.TrimSuffix(relayURL, "/") + api.UploadPath,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		chunker:    chunker.NewChunker(chunker.Config{Encoding: chunker.ENCODE_BASE32}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send chunks packet and uploads it for recipient.
func (t *DNS) Send(ctx context.Context, recipient string, packet []byte) error {
	msg, err := t.chunker.ChunkMessage(packet)
	if err != nil {
		return err
	}

	msgID := msg.IDString()
	upload := api.UploadRequest{
		MessageID: msgID,
		Recipient: recipient,
		Chunks:    make(map[string]string, len(msg.Chunks)),
		Manifest:  chunker.NewManifest(msg).String(),
	}
	for i, chunk := range msg.Chunks {
		upload.Chunks[chunker.ChunkName(i, msgID, t.domain)] = chunk.Encoded
	}

	body, err := json.Marshal(upload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.uploadURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP upload failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "transport.DNS.Send",
			"message_id": msgID,
			"error":      err,
		}).Debug("Failed to drain upload response")
	}

	logrus.WithFields(logrus.Fields{
		"function":   "transport.DNS.Send",
		"recipient":  recipient,
		"message_id": msgID,
		"chunks":     len(msg.Chunks),
	}).Debug("Packet uploaded")

	return nil
}

// Fetch retrieves every message announced for handle, in announcement
// order. Messages are acknowledged only once the whole batch has been
// retrieved, so a failed fetch leaves every message pending on the relay.
func (t *DNS) Fetch(ctx context.Context, handle string) ([][]byte, error) {
	listing, err := t.resolver.LookupJoined(ctx, chunker.ConsumeName(handle, t.domain))
	if errors.Is(err, dnstxt.ErrNotFound) {
		return [][]byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("consume query failed: %w", err)
	}

	var ids []string
	for _, id := range strings.Split(listing, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}

	packets := make([][]byte, 0, len(ids))
	for _, id := range ids {
		packet, err := t.retrieve(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", id, err)
		}
		packets = append(packets, packet)
	}

	for _, id := range ids {
		t.acknowledge(ctx, id, handle)
	}

	logrus.WithFields(logrus.Fields{
		"function": "transport.DNS.Fetch",
		"handle":   handle,
		"packets":  len(packets),
	}).Debug("Mailbox fetched over DNS")

	return packets, nil
}

func (t *DNS) retrieve(ctx context.Context, msgID string) ([]byte, error) {
	value, err := t.resolver.LookupJoined(ctx, chunker.ManifestName(msgID, t.domain))
	if err != nil {
		return nil, fmt.Errorf("manifest fetch failed: %w", err)
	}

	manifest, err := chunker.ParseManifest(value)
	if err != nil {
		return nil, err
	}

	encoded := make([]string, 0, manifest.TotalChunks)
	for seq := 0; seq < manifest.TotalChunks; seq++ {
		if seq > 0 && t.chunkDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(t.chunkDelay):
			}
		}

		chunk, err := t.resolver.LookupJoined(ctx, chunker.ChunkName(seq, msgID, t.domain))
		if err != nil {
			return nil, fmt.Errorf("chunk %d fetch failed: %w", seq, err)
		}
		encoded = append(encoded, chunk)
	}

	packet, err := t.chunker.DecodeAll(encoded)
	if err != nil {
		return nil, fmt.Errorf("reassembly failed: %w", err)
	}
	if err := manifest.Verify(packet); err != nil {
		return nil, err
	}
	return packet, nil
}

// acknowledge is best effort: an unacknowledged message stays delivered on
// the relay and expires with retention.
func (t *DNS) acknowledge(ctx context.Context, msgID, handle string) {
	if _, err := t.resolver.Lookup(ctx, chunker.AckName(msgID, handle, t.domain)); err != nil && !errors.Is(err, dnstxt.ErrNotFound) {
		logrus.WithFields(logrus.Fields{
			"function":   "transport.DNS.acknowledge",
			"message_id": msgID,
			"error":      err,
		}).Warn("Acknowledgement failed")
	}
}
