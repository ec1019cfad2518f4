// Package transport moves stego packets between clients through a mailbox
// relay.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/faanross/hermnet/internal/api"
)

// ErrInvalidResponse is returned when the relay answers with a body that is
// not the documented shape.
var ErrInvalidResponse = errors.New("invalid response from mailbox")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("mailbox returned %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("mailbox returned %s", e.Status)
}

// TokenSource supplies the bearer token attached to every request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token returns the token unchanged.
func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// HTTP talks to the relay's JSON message API.
type HTTP struct {
	baseURL string
	client  *http.Client
	tokens  TokenSource
}

// HTTPOption configures an HTTP transport.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(h *HTTP) { h.client = client }
}

// WithTokenSource adds an Authorization: Bearer header to every request.
func WithTokenSource(tokens TokenSource) HTTPOption {
	return func(h *HTTP) { h.tokens = tokens }
}

// NewHTTP creates a transport for the relay at baseURL.
func NewHTTP(baseURL string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Send posts packet for recipient.
func (h *HTTP) Send(ctx context.Context, recipient string, packet []byte) error {
	body, err := json.Marshal(api.SendRequest{RecipientID: recipient, StegoImage: packet})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := h.newRequest(ctx, http.MethodPost, h.baseURL+api.MessagesPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("send failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	io.Copy(io.Discard, resp.Body)

	logrus.WithFields(logrus.Fields{
		"function":    "transport.HTTP.Send",
		"recipient":   recipient,
		"packet_size": len(packet),
	}).Debug("Packet posted")

	return nil
}

// Fetch returns the packets waiting for handle, oldest first.
func (h *HTTP) Fetch(ctx context.Context, handle string) ([][]byte, error) {
	endpoint := h.baseURL + api.MessagesPath + "?" + url.Values{"myId": {handle}}.Encode()

	req, err := h.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return nil, err
	}

	var items []api.Packet
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	packets := make([][]byte, 0, len(items))
	for i, item := range items {
		if item == nil {
			return nil, fmt.Errorf("%w: item %d is null", ErrInvalidResponse, i)
		}
		packets = append(packets, item)
	}

	logrus.WithFields(logrus.Fields{
		"function": "transport.HTTP.Fetch",
		"handle":   handle,
		"packets":  len(packets),
	}).Debug("Mailbox fetched")

	return packets, nil
}

func (h *HTTP) newRequest(ctx context.Context, method, endpoint string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if h.tokens != nil {
		token, err := h.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("token unavailable: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	var body api.ErrorResponse
	if raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
		if json.Unmarshal(raw, &body) == nil && body.Error != "" {
			statusErr.Message = body.Error
		} else {
			statusErr.Message = strings.TrimSpace(string(raw))
		}
	}
	return statusErr
}
