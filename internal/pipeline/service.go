// Package pipeline runs the outbox and inbox flows: it looks up keys,
// encrypts, hides ciphertext in a carrier, hands packets to a transport and
// records each event in the history store.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/faanross/hermnet/internal/history"
	"github.com/faanross/hermnet/internal/stego"
)

// KeyDirectory resolves a handle to its public key.
type KeyDirectory interface {
	LookupPublicKey(ctx context.Context, handle string) ([]byte, bool, error)
}

// CryptoProvider encrypts for a public key and decrypts with the matching
// private key.
type CryptoProvider interface {
	Encrypt(plaintext, publicKey []byte) ([]byte, error)
	Decrypt(ciphertext, privateKey []byte) ([]byte, error)
}

// Transport moves packets. Fetch returns packets in delivery order.
type Transport interface {
	Send(ctx context.Context, recipient string, packet []byte) error
	Fetch(ctx context.Context, handle string) ([][]byte, error)
}

// HistoryStore records send and receive events.
type HistoryStore interface {
	Save(ctx context.Context, content []byte, status history.Status) error
}

// InboxPolicy decides what SyncInbox does with a packet that fails to decode.
type InboxPolicy int

const (
	// AbortOnError stops at the first bad packet.
	AbortOnError InboxPolicy = iota
	// SkipFailed skips bad packets and reports them in an *InboxError.
	SkipFailed
)

func (p InboxPolicy) String() string {
	if p == SkipFailed {
		return "skip"
	}
	return "abort"
}

// ParseInboxPolicy accepts "abort" and "skip".
func ParseInboxPolicy(name string) (InboxPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "abort":
		return AbortOnError, nil
	case "skip":
		return SkipFailed, nil
	}
	return AbortOnError, fmt.Errorf("unknown inbox policy %q", name)
}

// SendRequest is one outgoing message. A nil Cover selects the service's
// cover source.
type SendRequest struct {
	RecipientHandle string
	Plaintext       []byte
	Cover           []byte
}

// Service runs the message flows. It holds no mutable state; concurrent
// calls are safe when the collaborators are.
type Service struct {
	keys      KeyDirectory
	crypto    CryptoProvider
	transport Transport
	history   HistoryStore

	cover  func() []byte
	policy InboxPolicy
	embed  stego.EmbedOptions
}

// Option configures a Service.
type Option func(*Service)

// WithCoverSource sets the carrier used when a request has no Cover.
func WithCoverSource(cover func() []byte) Option {
	return func(s *Service) { s.cover = cover }
}

// WithInboxPolicy sets the SyncInbox failure policy.
func WithInboxPolicy(policy InboxPolicy) Option {
	return func(s *Service) { s.policy = policy }
}

// WithSentinel overrides the frame sentinel on both sides.
func WithSentinel(sentinel []byte) Option {
	return func(s *Service) { s.embed.Sentinel = sentinel }
}

// WithNoiseSource sets the reader for noise padding bits.
func WithNoiseSource(r io.Reader) Option {
	return func(s *Service) { s.embed.NoiseSource = r }
}

// NewService wires a Service to its collaborators.
func NewService(keys KeyDirectory, crypto CryptoProvider, tr Transport, hist HistoryStore, opts ...Option) *Service {
	s := &Service{
		keys:      keys,
		crypto:    crypto,
		transport: tr,
		history:   hist,
		cover:     stego.DefaultCarrier,
		policy:    AbortOnError,
		embed:     stego.EmbedOptions{AddNoisePadding: true},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SendMessage encrypts req.Plaintext for the recipient, embeds it in the
// cover and sends the packet. History gets the ciphertext with StatusSent
// only after the transport accepted the packet. The packet is returned.
func (s *Service) SendMessage(ctx context.Context, req SendRequest) ([]byte, error) {
	fields := logrus.Fields{
		"function":  "pipeline.SendMessage",
		"recipient": req.RecipientHandle,
	}

	publicKey, found, err := s.keys.LookupPublicKey(ctx, req.RecipientHandle)
	if err != nil {
		return nil, fmt.Errorf("key lookup failed: %w", err)
	}
	if !found {
		logrus.WithFields(fields).Warn("No public key for recipient")
		return nil, fmt.Errorf("%w: %s", ErrRecipientKeyNotFound, req.RecipientHandle)
	}

	ciphertext, err := s.crypto.Encrypt(req.Plaintext, publicKey)
	if err != nil {
		return nil, fmt.Errorf("encryption failed: %w", err)
	}

	carrier := req.Cover
	if carrier == nil {
		carrier = s.cover()
	}

	packet, err := stego.Embed(carrier, ciphertext, s.embed)
	if err != nil {
		return nil, err
	}

	fields["packet_size"] = len(packet)
	if err := s.transport.Send(ctx, req.RecipientHandle, packet); err != nil {
		return nil, fmt.Errorf("send failed: %w", err)
	}

	if err := s.history.Save(ctx, ciphertext, history.StatusSent); err != nil {
		return nil, fmt.Errorf("history save failed: %w", err)
	}

	logrus.WithFields(fields).Info("Message sent")
	return packet, nil
}

// SyncInbox fetches myHandle's packets and returns their plaintexts in fetch
// order, recording each one with StatusDelivered. Decode failures follow the
// inbox policy; a history failure always aborts.
func (s *Service) SyncInbox(ctx context.Context, myHandle string, privateKey []byte) ([]string, error) {
	fields := logrus.Fields{
		"function": "pipeline.SyncInbox",
		"handle":   myHandle,
	}

	packets, err := s.transport.Fetch(ctx, myHandle)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	fields["packets"] = len(packets)
	logrus.WithFields(fields).Debug("Inbox fetched")

	plaintexts := make([]string, 0, len(packets))
	var failures []*PacketError

	for i, packet := range packets {
		plaintext, err := s.open(packet, privateKey)
		if err != nil {
			perr := &PacketError{Index: i, Err: err}
			if s.policy == AbortOnError {
				return nil, perr
			}
			logrus.WithFields(fields).WithFields(logrus.Fields{
				"index": i,
				"error": err,
			}).Warn("Skipping undecodable packet")
			failures = append(failures, perr)
			continue
		}

		if err := s.history.Save(ctx, plaintext, history.StatusDelivered); err != nil {
			return nil, fmt.Errorf("history save failed for packet %d: %w", i, err)
		}
		plaintexts = append(plaintexts, string(plaintext))
	}

	fields["delivered"] = len(plaintexts)
	logrus.WithFields(fields).Info("Inbox synced")

	if len(failures) > 0 {
		return plaintexts, &InboxError{Failures: failures}
	}
	return plaintexts, nil
}

func (s *Service) open(packet, privateKey []byte) ([]byte, error) {
	ciphertext, err := stego.Extract(packet, s.embed.Sentinel)
	if err != nil {
		return nil, err
	}

	plaintext, err := s.crypto.Decrypt(ciphertext, privateKey)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}
