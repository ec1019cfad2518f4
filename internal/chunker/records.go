package chunker

import (
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
	"time"
)

// Label prefixes of the DNS retrieval protocol.
const (
	ManifestPrefix = "m-"
	ChunkPrefix    = "c-"
	ConsumeLabel   = "consume"
	AckLabel       = "ack"
)

// Manifest describes a message to a DNS receiver.
// Wire form: TOTAL:CHECKSUM:TIMESTAMP, checksum as 8 hex digits of the
// CRC32 of the whole packet.
type Manifest struct {
	TotalChunks int
	Checksum    uint32
	Timestamp   time.Time
}

// NewManifest builds the manifest for a chunked message.
func NewManifest(msg *Message) Manifest {
	return Manifest{
		TotalChunks: len(msg.Chunks),
		Checksum:    crc32.ChecksumIEEE(msg.Data),
		Timestamp:   msg.CreatedAt,
	}
}

func (m Manifest) String() string {
	return fmt.Sprintf("%d:%08x:%d", m.TotalChunks, m.Checksum, m.Timestamp.Unix())
}

// Verify checks a reassembled packet against the manifest checksum.
func (m Manifest) Verify(data []byte) error {
	if got := crc32.ChecksumIEEE(data); got != m.Checksum {
		return fmt.Errorf("%w: manifest %08x, packet %08x", ErrChecksum, m.Checksum, got)
	}
	return nil
}

// ParseManifest reads the TOTAL:CHECKSUM:TIMESTAMP form.
func ParseManifest(value string) (Manifest, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return Manifest{}, fmt.Errorf("invalid manifest %q", value)
	}

	total, err := strconv.Atoi(parts[0])
	if err != nil || total <= 0 {
		return Manifest{}, fmt.Errorf("invalid manifest total %q", parts[0])
	}

	checksum, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest checksum %q: %w", parts[1], err)
	}

	timestamp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return Manifest{}, fmt.Errorf("invalid manifest timestamp %q: %w", parts[2], err)
	}

	return Manifest{
		TotalChunks: total,
		Checksum:    uint32(checksum),
		Timestamp:   time.Unix(timestamp, 0),
	}, nil
}

// ManifestName is m-<id>.<domain>
func ManifestName(msgID, domain string) string {
	return fmt.Sprintf("%s%s.%s", ManifestPrefix, msgID, domain)
}

// ChunkName is c-<seq>-<id>.<domain>
func ChunkName(seq int, msgID, domain string) string {
	return fmt.Sprintf("%s%d-%s.%s", ChunkPrefix, seq, msgID, domain)
}

// ConsumeName is consume.<handle>.<domain>
func ConsumeName(handle, domain string) string {
	return fmt.Sprintf("%s.%s.%s", ConsumeLabel, handle, domain)
}

// AckName is ack.<id>.<handle>.<domain>
func AckName(msgID, handle, domain string) string {
	return fmt.Sprintf("%s.%s.%s.%s", AckLabel, msgID, handle, domain)
}

// QueryKind classifies a retrieval query name.
type QueryKind int

const (
	QueryUnknown QueryKind = iota
	QueryManifest
	QueryChunk
	QueryConsume
	QueryAck
)

// Query is a parsed retrieval query.
type Query struct {
	Kind      QueryKind
	MessageID string
	Sequence  int
	Handle    string
}

// ParseQueryName classifies name (with or without the trailing dot) under
// domain. Names outside domain or with an unknown shape return QueryUnknown.
func ParseQueryName(name, domain string) Query {
	name = strings.TrimSuffix(name, ".")
	suffix := "." + strings.TrimSuffix(domain, ".")
	if len(name) <= len(suffix) || !strings.EqualFold(name[len(name)-len(suffix):], suffix) {
		return Query{}
	}

	// handles keep their case; message IDs are lowercase hex
	labels := strings.Split(name[:len(name)-len(suffix)], ".")
	first := strings.ToLower(labels[0])
	switch {
	case len(labels) == 2 && first == ConsumeLabel:
		return Query{Kind: QueryConsume, Handle: labels[1]}

	case len(labels) == 3 && first == AckLabel:
		return Query{Kind: QueryAck, MessageID: strings.ToLower(labels[1]), Handle: labels[2]}

	case len(labels) == 1 && strings.HasPrefix(first, ManifestPrefix):
		return Query{Kind: QueryManifest, MessageID: strings.TrimPrefix(first, ManifestPrefix)}

	case len(labels) == 1 && strings.HasPrefix(first, ChunkPrefix):
		seqStr, msgID, ok := strings.Cut(strings.TrimPrefix(first, ChunkPrefix), "-")
		if !ok {
			return Query{}
		}
		seq, err := strconv.Atoi(seqStr)
		if err != nil || seq < 0 {
			return Query{}
		}
		return Query{Kind: QueryChunk, MessageID: msgID, Sequence: seq}
	}

	return Query{}
}
