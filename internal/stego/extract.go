package stego

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/faanross/hermnet/internal/spec"
)

// Extract recovers the payload hidden by Embed. A nil or empty sentinel means
// spec.DefaultSentinel.
func Extract(carrier, sentinel []byte) ([]byte, error) {
	if err := checkCarrier(carrier); err != nil {
		return nil, err
	}
	sentinel = sentinelOrDefault(sentinel)

	bits := readBitStream(carrier)
	if len(bits) < spec.HEADER_BITS {
		return nil, fmt.Errorf("%w: %d bits available, header needs %d", ErrMalformedFrame, len(bits), spec.HEADER_BITS)
	}

	payloadLength := binary.BigEndian.Uint32(bitsToBytes(bits[:spec.HEADER_BITS]))

	// uint64 keeps a hostile header from overflowing the bounds check
	payloadEnd := uint64(spec.HEADER_BITS) + uint64(payloadLength)*spec.BITS_PER_BYTE
	sentinelEnd := payloadEnd + uint64(len(sentinel))*spec.BITS_PER_BYTE
	if sentinelEnd > uint64(len(bits)) {
		return nil, fmt.Errorf("%w: declared payload length %d needs %d bits, carrier has %d",
			ErrMalformedFrame, payloadLength, sentinelEnd, len(bits))
	}

	payload := bitsToBytes(bits[spec.HEADER_BITS:payloadEnd])
	trailer := bitsToBytes(bits[payloadEnd:sentinelEnd])
	if !bytes.Equal(trailer, sentinel) {
		return nil, fmt.Errorf("%w: got %X, expected %X", ErrSentinelMismatch, trailer, sentinel)
	}

	return payload, nil
}

// readBitStream collects the LSB of every non-alpha channel in embed order.
func readBitStream(carrier []byte) []bool {
	bits := make([]bool, 0, UsableChannels(carrier))
	for i, value := range carrier {
		if isAlphaChannel(i) {
			continue
		}
		bits = append(bits, value&1 == 1)
	}
	return bits
}

// bitsToBytes packs bits MSB-first; trailing bits short of a byte are dropped.
func bitsToBytes(bits []bool) []byte {
	out := make([]byte, len(bits)/spec.BITS_PER_BYTE)
	for i := range out {
		var b byte
		for j := 0; j < spec.BITS_PER_BYTE; j++ {
			if bits[i*spec.BITS_PER_BYTE+j] {
				b |= 1 << (7 - j)
			}
		}
		out[i] = b
	}
	return out
}

func sentinelOrDefault(sentinel []byte) []byte {
	if len(sentinel) == 0 {
		return spec.DefaultSentinel
	}
	return sentinel
}
