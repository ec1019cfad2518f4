package mailbox

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/faanross/hermnet/internal/api"
	"github.com/faanross/hermnet/internal/chunker"
)

// ErrInvalidUpload is returned for uploads whose chunks do not reassemble
// into a packet matching the manifest.
var ErrInvalidUpload = errors.New("invalid upload")

// Queue adds per-recipient queue semantics on top of Storage.
type Queue struct {
	storage Storage
	chunker *chunker.Chunker
}

// NewQueue creates a queue over storage.
func NewQueue(storage Storage) *Queue {
	return &Queue{
		storage: storage,
		chunker: chunker.NewChunker(chunker.Config{Encoding: chunker.ENCODE_BASE32}),
	}
}

// Storage returns the backing store.
func (q *Queue) Storage() Storage {
	return q.storage
}

// Publish stores packet for recipient, chunking it for DNS retrieval.
func (q *Queue) Publish(recipient string, packet []byte) (string, error) {
	msg, err := q.chunker.ChunkMessage(packet)
	if err != nil {
		return "", err
	}

	entry := &Entry{
		ID:        msg.IDString(),
		Recipient: recipient,
		Packet:    packet,
		Chunks:    msg.EncodedChunks(),
		Manifest:  chunker.NewManifest(msg).String(),
		CreatedAt: msg.CreatedAt,
	}
	if err := q.storage.StoreMessage(entry); err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"function":    "mailbox.Queue.Publish",
		"message_id":  entry.ID,
		"recipient":   recipient,
		"packet_size": len(packet),
		"chunks":      len(entry.Chunks),
	}).Info("Message queued")

	return entry.ID, nil
}

// PublishChunks stores a packet uploaded as pre-built DNS chunks. The chunks
// must reassemble, carry upload.MessageID and match the manifest checksum.
func (q *Queue) PublishChunks(upload api.UploadRequest) (string, error) {
	chunks := make([]chunker.Chunk, 0, len(upload.Chunks))
	for _, encoded := range upload.Chunks {
		chunk, err := q.chunker.DecodeChunk(encoded)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidUpload, err)
		}
		chunks = append(chunks, *chunk)
	}

	packet, err := q.chunker.Reassemble(chunks)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}

	msgID := fmt.Sprintf("%x", chunks[0].Metadata.MessageID)
	if upload.MessageID != "" && upload.MessageID != msgID {
		return "", fmt.Errorf("%w: message id %s does not match chunks (%s)", ErrInvalidUpload, upload.MessageID, msgID)
	}

	manifest, err := chunker.ParseManifest(upload.Manifest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}
	if err := manifest.Verify(packet); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidUpload, err)
	}

	ordered := make([]string, len(chunks))
	for _, chunk := range chunks {
		ordered[chunk.Metadata.Sequence] = chunk.Encoded
	}

	entry := &Entry{
		ID:        msgID,
		Recipient: upload.Recipient,
		Packet:    packet,
		Chunks:    ordered,
		Manifest:  upload.Manifest,
	}
	if err := q.storage.StoreMessage(entry); err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "mailbox.Queue.PublishChunks",
		"message_id": msgID,
		"recipient":  upload.Recipient,
		"chunks":     len(ordered),
	}).Info("Chunked message queued")

	return msgID, nil
}

// Drain returns recipient's open packets oldest first and marks them
// consumed.
func (q *Queue) Drain(recipient string) ([][]byte, error) {
	entries, err := q.storage.GetOpenMessages(recipient)
	if err != nil {
		return nil, err
	}

	packets := make([][]byte, 0, len(entries))
	for _, entry := range entries {
		if err := q.storage.MarkAsConsumed(entry.ID, recipient); err != nil {
			return nil, err
		}
		packets = append(packets, entry.Packet)
	}
	return packets, nil
}

// Pending returns the IDs of recipient's open messages oldest first and
// marks them delivered. Delivered messages stay listed until acknowledged.
func (q *Queue) Pending(recipient, client string) ([]string, error) {
	entries, err := q.storage.GetOpenMessages(recipient)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := q.storage.MarkAsDelivered(entry.ID, client); err != nil {
			return nil, err
		}
		ids = append(ids, entry.ID)
	}
	return ids, nil
}

// Acknowledge marks msgID consumed. Only its recipient may acknowledge it.
func (q *Queue) Acknowledge(msgID, recipient string) error {
	entry, err := q.storage.GetMessage(msgID)
	if err != nil {
		return err
	}
	if entry.Recipient != recipient {
		return fmt.Errorf("%w: %s", ErrNotFound, msgID)
	}
	return q.storage.MarkAsConsumed(msgID, recipient)
}

// Manifest returns the manifest record of msgID.
func (q *Queue) Manifest(msgID string) (string, error) {
	entry, err := q.storage.GetMessage(msgID)
	if err != nil {
		return "", err
	}
	return entry.Manifest, nil
}

// Chunk returns chunk seq of msgID.
func (q *Queue) Chunk(msgID string, seq int) (string, error) {
	return q.storage.GetChunk(msgID, seq)
}

// Status describes msgID's lifecycle state.
func (q *Queue) Status(msgID string) (string, error) {
	entry, err := q.storage.GetMessage(msgID)
	if err != nil {
		return "", err
	}

	if entry.State == StateDelivered {
		return fmt.Sprintf("delivered to %d clients", len(entry.Consumers)), nil
	}
	return entry.State.String(), nil
}
