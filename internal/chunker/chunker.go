// Package chunker splits packets into self-describing fragments small enough
// for a single DNS TXT string, and puts them back together.
package chunker

import (
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// MAX_DNS_STRING_SIZE is the protocol limit for one TXT character-string
	MAX_DNS_STRING_SIZE = 255

	// SAFE_CHUNK_SIZE leaves headroom below the protocol limit
	SAFE_CHUNK_SIZE = 250

	// METADATA_OVERHEAD is Magic(4) + MessageID(16) + Sequence(2) + Total(2) + Checksum(4)
	METADATA_OVERHEAD = 28

	ENCODE_HEX    = "hex"
	ENCODE_BASE32 = "base32"

	// CHUNK_MAGIC is "HNCK"
	CHUNK_MAGIC = 0x484E434B
)

var (
	// ErrNoChunks is returned when reassembly is given nothing.
	ErrNoChunks = errors.New("no chunks provided")
	// ErrMixedMessages is returned when chunks carry different message IDs or totals.
	ErrMixedMessages = errors.New("chunks belong to different messages")
	// ErrIncomplete is returned when sequence numbers are missing.
	ErrIncomplete = errors.New("incomplete message")
	// ErrChecksum is returned when a chunk payload fails its CRC32.
	ErrChecksum = errors.New("checksum mismatch")
	// ErrInvalidMagic is returned for fragments that are not ours.
	ErrInvalidMagic = errors.New("invalid chunk magic")
	// ErrTooLarge is returned when a packet needs more than 65535 chunks.
	ErrTooLarge = errors.New("message too large")
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// ChunkMetadata is the fixed header carried by every chunk.
type ChunkMetadata struct {
	Magic       uint32
	MessageID   [16]byte
	Sequence    uint16 // 0-based
	TotalChunks uint16
	Checksum    uint32 // CRC32 (IEEE) of this chunk's payload
}

// Chunk is a single DNS-ready fragment.
type Chunk struct {
	Metadata ChunkMetadata
	Payload  []byte
	Encoded  string
}

// Message is a packet together with its chunks.
type Message struct {
	ID        [16]byte
	Data      []byte
	Chunks    []Chunk
	Encoding  string
	CreatedAt time.Time
}

// IDString returns the message ID as 32 lowercase hex characters, which is
// also its DNS label.
func (m *Message) IDString() string {
	return hex.EncodeToString(m.ID[:])
}

// EncodedChunks returns the encoded chunk strings in sequence order.
func (m *Message) EncodedChunks() []string {
	out := make([]string, len(m.Chunks))
	for i, c := range m.Chunks {
		out[i] = c.Encoded
	}
	return out
}

// Config controls chunk encoding.
type Config struct {
	Encoding     string // hex or base32
	MaxChunkSize int    // encoded characters per chunk, at most MAX_DNS_STRING_SIZE
}

// Chunker fragments and reassembles packets. It holds no mutable state and
// is safe for concurrent use.
type Chunker struct {
	config Config
}

// NewChunker creates a chunker, defaulting to base32 and SAFE_CHUNK_SIZE.
func NewChunker(config Config) *Chunker {
	if config.Encoding == "" {
		config.Encoding = ENCODE_BASE32
	}
	if config.MaxChunkSize <= 0 || config.MaxChunkSize > MAX_DNS_STRING_SIZE {
		config.MaxChunkSize = SAFE_CHUNK_SIZE
	}

	return &Chunker{config: config}
}

// PayloadPerChunk is the number of packet bytes each chunk carries.
func (c *Chunker) PayloadPerChunk() int {
	var raw int
	switch c.config.Encoding {
	case ENCODE_HEX:
		raw = c.config.MaxChunkSize / 2
	default:
		raw = c.config.MaxChunkSize * 5 / 8
	}
	return raw - METADATA_OVERHEAD
}

// ChunkMessage fragments data under a fresh random message ID. Empty data
// still yields one chunk so the message can be announced and acknowledged.
func (c *Chunker) ChunkMessage(data []byte) (*Message, error) {
	payloadSize := c.PayloadPerChunk()
	totalChunks := max(1, int(math.Ceil(float64(len(data))/float64(payloadSize))))

	if totalChunks > math.MaxUint16 {
		return nil, fmt.Errorf("%w: requires %d chunks (max %d)", ErrTooLarge, totalChunks, math.MaxUint16)
	}

	message := &Message{
		ID:        uuid.New(),
		Data:      data,
		Chunks:    make([]Chunk, 0, totalChunks),
		Encoding:  c.config.Encoding,
		CreatedAt: time.Now(),
	}

	for i := 0; i < totalChunks; i++ {
		message.Chunks = append(message.Chunks, c.createChunk(data, message.ID, i, uint16(totalChunks), payloadSize))
	}

	logrus.WithFields(logrus.Fields{
		"function":   "chunker.ChunkMessage",
		"message_id": message.IDString(),
		"size":       len(data),
		"chunks":     totalChunks,
		"encoding":   c.config.Encoding,
	}).Debug("Chunked message")

	return message, nil
}

func (c *Chunker) createChunk(data []byte, messageID [16]byte, sequence int, total uint16, payloadSize int) Chunk {
	start := min(sequence*payloadSize, len(data))
	end := min(start+payloadSize, len(data))
	payload := data[start:end]

	metadata := ChunkMetadata{
		Magic:       CHUNK_MAGIC,
		MessageID:   messageID,
		Sequence:    uint16(sequence),
		TotalChunks: total,
		Checksum:    crc32.ChecksumIEEE(payload),
	}

	return Chunk{
		Metadata: metadata,
		Payload:  payload,
		Encoded:  c.encodeChunk(metadata, payload),
	}
}

// encodeChunk lays out [MAGIC(4)][MSGID(16)][SEQ(2)][TOTAL(2)][CRC32(4)][PAYLOAD]
func (c *Chunker) encodeChunk(metadata ChunkMetadata, payload []byte) string {
	raw := make([]byte, METADATA_OVERHEAD, METADATA_OVERHEAD+len(payload))
	binary.BigEndian.PutUint32(raw[0:4], metadata.Magic)
	copy(raw[4:20], metadata.MessageID[:])
	binary.BigEndian.PutUint16(raw[20:22], metadata.Sequence)
	binary.BigEndian.PutUint16(raw[22:24], metadata.TotalChunks)
	binary.BigEndian.PutUint32(raw[24:28], metadata.Checksum)
	raw = append(raw, payload...)

	if c.config.Encoding == ENCODE_HEX {
		return hex.EncodeToString(raw)
	}
	return b32.EncodeToString(raw)
}

// DecodeChunk parses one encoded chunk. The checksum is not verified here;
// Reassemble and ValidateChunk do that.
func (c *Chunker) DecodeChunk(encoded string) (*Chunk, error) {
	var rawData []byte
	var err error

	switch c.config.Encoding {
	case ENCODE_HEX:
		rawData, err = hex.DecodeString(encoded)
	default:
		rawData, err = b32.DecodeString(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	if len(rawData) < METADATA_OVERHEAD {
		return nil, fmt.Errorf("chunk too small: %d bytes", len(rawData))
	}

	metadata := ChunkMetadata{Magic: binary.BigEndian.Uint32(rawData[0:4])}
	if metadata.Magic != CHUNK_MAGIC {
		return nil, fmt.Errorf("%w: %x", ErrInvalidMagic, metadata.Magic)
	}
	copy(metadata.MessageID[:], rawData[4:20])
	metadata.Sequence = binary.BigEndian.Uint16(rawData[20:22])
	metadata.TotalChunks = binary.BigEndian.Uint16(rawData[22:24])
	metadata.Checksum = binary.BigEndian.Uint32(rawData[24:28])

	return &Chunk{
		Metadata: metadata,
		Payload:  rawData[METADATA_OVERHEAD:],
		Encoded:  encoded,
	}, nil
}

// DecodeAll decodes a set of encoded chunks and reassembles them.
func (c *Chunker) DecodeAll(encoded []string) ([]byte, error) {
	chunks := make([]Chunk, 0, len(encoded))
	for i, e := range encoded {
		chunk, err := c.DecodeChunk(e)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		chunks = append(chunks, *chunk)
	}
	return c.Reassemble(chunks)
}

// Reassemble reconstructs a packet from chunks in any order. The input
// slice is not reordered.
func (c *Chunker) Reassemble(chunks []Chunk) ([]byte, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}

	messageID := chunks[0].Metadata.MessageID
	totalExpected := chunks[0].Metadata.TotalChunks

	for _, chunk := range chunks {
		if chunk.Metadata.MessageID != messageID {
			return nil, fmt.Errorf("%w: %x vs %x", ErrMixedMessages, messageID[:8], chunk.Metadata.MessageID[:8])
		}
		if chunk.Metadata.TotalChunks != totalExpected {
			return nil, fmt.Errorf("%w: total %d vs %d", ErrMixedMessages, totalExpected, chunk.Metadata.TotalChunks)
		}
	}

	if missing := findMissingChunks(chunks, totalExpected); len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing chunks %v", ErrIncomplete, missing)
	}

	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Metadata.Sequence < sorted[j].Metadata.Sequence
	})

	var reassembled []byte
	for i, chunk := range sorted {
		if chunk.Metadata.Sequence != uint16(i) {
			return nil, fmt.Errorf("%w: duplicate or out of range sequence at position %d", ErrIncomplete, i)
		}
		if crc32.ChecksumIEEE(chunk.Payload) != chunk.Metadata.Checksum {
			return nil, fmt.Errorf("%w: chunk %d", ErrChecksum, i)
		}
		reassembled = append(reassembled, chunk.Payload...)
	}

	return reassembled, nil
}

// ValidateChunk checks magic, checksum, sequence bounds and payload size.
func (c *Chunker) ValidateChunk(chunk *Chunk) error {
	if chunk.Metadata.Magic != CHUNK_MAGIC {
		return fmt.Errorf("%w: %x", ErrInvalidMagic, chunk.Metadata.Magic)
	}

	if calculated := crc32.ChecksumIEEE(chunk.Payload); calculated != chunk.Metadata.Checksum {
		return fmt.Errorf("%w: expected %x, got %x", ErrChecksum, chunk.Metadata.Checksum, calculated)
	}

	if chunk.Metadata.Sequence >= chunk.Metadata.TotalChunks {
		return fmt.Errorf("sequence %d out of bounds (total: %d)", chunk.Metadata.Sequence, chunk.Metadata.TotalChunks)
	}

	if maxPayload := c.PayloadPerChunk(); len(chunk.Payload) > maxPayload {
		return fmt.Errorf("payload too large: %d > %d", len(chunk.Payload), maxPayload)
	}

	return nil
}

func findMissingChunks(chunks []Chunk, total uint16) []uint16 {
	present := make(map[uint16]bool, len(chunks))
	for _, chunk := range chunks {
		present[chunk.Metadata.Sequence] = true
	}

	var missing []uint16
	for i := uint16(0); i < total; i++ {
		if !present[i] {
			missing = append(missing, i)
		}
	}
	return missing
}
