package stego

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/faanross/hermnet/internal/spec"
	"github.com/sirupsen/logrus"
)

// EmbedOptions controls how a payload is written into a carrier.
type EmbedOptions struct {
	// Sentinel trails the payload. Empty means spec.DefaultSentinel.
	Sentinel []byte

	// AddNoisePadding randomizes every unused channel LSB after the frame so
	// the modified region does not reveal the payload length.
	AddNoisePadding bool

	// NoiseSource supplies padding bits. Defaults to crypto/rand.
	NoiseSource io.Reader
}

func (o EmbedOptions) sentinel() []byte {
	return sentinelOrDefault(o.Sentinel)
}

func (o EmbedOptions) noiseSource() io.Reader {
	if o.NoiseSource == nil {
		return rand.Reader
	}
	return o.NoiseSource
}

// EmbedBit modifies the LSB of a color value to store a bit
func EmbedBit(colorValue uint8, bit bool) uint8 {
	if bit {
		return colorValue | 1
	}
	return colorValue & 0xFE
}

// Embed hides payload in a copy of carrier and returns the copy. Alpha bytes
// are never written and the caller's buffer is never modified.
func Embed(carrier, payload []byte, opts EmbedOptions) ([]byte, error) {
	if err := checkCarrier(carrier); err != nil {
		return nil, err
	}

	sentinel := opts.sentinel()
	capacity := CapacityBytes(carrier, len(sentinel))
	if len(payload) > capacity || uint64(len(payload)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: payload %d bytes, capacity %d bytes", ErrCapacityExceeded, len(payload), capacity)
	}

	frame := buildFrame(payload, sentinel)
	totalBits := len(frame) * spec.BITS_PER_BYTE
	if usable := UsableChannels(carrier); totalBits > usable {
		return nil, fmt.Errorf("%w: frame needs %d bits, carrier has %d", ErrCapacityExceeded, totalBits, usable)
	}

	output := make([]byte, len(carrier))
	copy(output, carrier)

	bitIndex := 0
	index := 0
	for ; index < len(output) && bitIndex < totalBits; index++ {
		if isAlphaChannel(index) {
			continue
		}
		output[index] = EmbedBit(output[index], bitAt(frame, bitIndex))
		bitIndex++
	}

	if opts.AddNoisePadding {
		if err := padWithNoise(output, index, opts.noiseSource()); err != nil {
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":     "stego.Embed",
		"payload_size": len(payload),
		"frame_bits":   totalBits,
		"capacity":     capacity,
		"noise":        opts.AddNoisePadding,
	}).Debug("Embedded frame into carrier")

	return output, nil
}

// buildFrame lays out [Length(4)][Payload][Sentinel]
func buildFrame(payload, sentinel []byte) []byte {
	frame := make([]byte, spec.HEADER_SIZE+len(payload)+len(sentinel))
	binary.BigEndian.PutUint32(frame[:spec.HEADER_SIZE], uint32(len(payload)))
	copy(frame[spec.HEADER_SIZE:], payload)
	copy(frame[spec.HEADER_SIZE+len(payload):], sentinel)
	return frame
}

// bitAt returns bit n of data, most significant bit of each byte first.
func bitAt(data []byte, n int) bool {
	return data[n/spec.BITS_PER_BYTE]&(1<<(7-n%spec.BITS_PER_BYTE)) != 0
}

// padWithNoise overwrites the LSB of every non-alpha channel from start on.
func padWithNoise(output []byte, start int, source io.Reader) error {
	remaining := 0
	for i := start; i < len(output); i++ {
		if !isAlphaChannel(i) {
			remaining++
		}
	}
	if remaining == 0 {
		return nil
	}

	noise := make([]byte, (remaining+spec.BITS_PER_BYTE-1)/spec.BITS_PER_BYTE)
	if _, err := io.ReadFull(source, noise); err != nil {
		return fmt.Errorf("noise generation failed: %w", err)
	}

	n := 0
	for i := start; i < len(output); i++ {
		if isAlphaChannel(i) {
			continue
		}
		output[i] = EmbedBit(output[i], bitAt(noise, n))
		n++
	}
	return nil
}
