// Package api holds the JSON shapes exchanged between clients and the
// mailbox relay.
package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// Endpoint paths served by the relay.
const (
	MessagesPath = "/api/messages"
	UploadPath   = "/upload"
	StatusPath   = "/status"
)

// Packet is a stego packet on the wire. It marshals as a JSON array of
// byte values and unmarshals from either such an array or a base64 string.
type Packet []byte

// MarshalJSON writes the packet as [n,n,...].
func (p Packet) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("[]"), nil
	}

	buf := make([]byte, 0, len(p)*4+2)
	buf = append(buf, '[')
	for i, b := range p {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendUint(buf, uint64(b), 10)
	}
	return append(buf, ']'), nil
}

// UnmarshalJSON accepts a number array or a base64 string.
func (p *Packet) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case bytes.Equal(data, []byte("null")):
		*p = nil
		return nil

	case len(data) >= 2 && data[0] == '"':
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			if decoded, err = base64.RawStdEncoding.DecodeString(encoded); err != nil {
				return fmt.Errorf("packet string is not base64: %w", err)
			}
		}
		*p = decoded
		return nil

	case len(data) >= 2 && data[0] == '[':
		var values []int
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("packet array: %w", err)
		}
		out := make([]byte, len(values))
		for i, v := range values {
			if v < 0 || v > 255 {
				return fmt.Errorf("packet array: value %d at index %d out of byte range", v, i)
			}
			out[i] = byte(v)
		}
		*p = out
		return nil

	default:
		return fmt.Errorf("packet must be an array or a base64 string")
	}
}

// SendRequest is the body of POST /api/messages.
type SendRequest struct {
	RecipientID string `json:"recipientId"`
	StegoImage  Packet `json:"stegoImage"`
}

// SendResponse acknowledges a stored packet.
type SendResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
}

// UploadRequest is the body of POST /upload: a packet already split into
// DNS chunks. Chunks maps record name to encoded chunk.
type UploadRequest struct {
	MessageID string            `json:"message_id"`
	Recipient string            `json:"recipient"`
	Chunks    map[string]string `json:"chunks"`
	Manifest  string            `json:"manifest"`
}

// UploadResponse acknowledges an upload.
type UploadResponse struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Chunks    int    `json:"chunks"`
}

// ErrorResponse is returned with every non-2xx status.
type ErrorResponse struct {
	Error string `json:"error"`
}
