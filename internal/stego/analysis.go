package stego

import (
	"math"

	"github.com/faanross/hermnet/internal/spec"
)

// Verdict summarizes how random the LSB plane of a carrier looks.
type Verdict string

const (
	// VerdictRandom means the LSBs are statistically indistinguishable from random.
	VerdictRandom Verdict = "random"
	// VerdictObscured means the LSBs are close to random and hard to flag.
	VerdictObscured Verdict = "obscured"
	// VerdictDetectable means the LSB plane has visible structure.
	VerdictDetectable Verdict = "detectable"
)

const (
	randomEntropy   = 7.9
	obscuredEntropy = 7.5
)

// Analysis holds LSB statistics for a carrier.
type Analysis struct {
	Channels  int     // non-alpha channels inspected
	Entropy   float64 // Shannon entropy of the packed LSB stream, bits per byte (max 8.0)
	ZeroRatio float64 // fraction of LSBs equal to 0
	MeanR     float64
	MeanG     float64
	MeanB     float64
	Verdict   Verdict
}

// Analyze computes LSB entropy, bit balance and mean channel values.
func Analyze(carrier []byte) Analysis {
	bits := readBitStream(carrier)
	analysis := Analysis{Channels: len(bits)}
	if len(bits) == 0 {
		analysis.Verdict = VerdictDetectable
		return analysis
	}

	zeros := 0
	for _, bit := range bits {
		if !bit {
			zeros++
		}
	}
	analysis.ZeroRatio = float64(zeros) / float64(len(bits))

	lsbBytes := bitsToBytes(bits)
	frequency := make(map[byte]int)
	for _, b := range lsbBytes {
		frequency[b]++
	}

	total := float64(len(lsbBytes))
	for _, count := range frequency {
		p := float64(count) / total
		analysis.Entropy -= p * math.Log2(p)
	}

	var rSum, gSum, bSum float64
	pixels := len(carrier) / spec.PIXEL_SIZE
	for i := 0; i < pixels; i++ {
		offset := i * spec.PIXEL_SIZE
		rSum += float64(carrier[offset])
		gSum += float64(carrier[offset+1])
		bSum += float64(carrier[offset+2])
	}
	if pixels > 0 {
		analysis.MeanR = rSum / float64(pixels)
		analysis.MeanG = gSum / float64(pixels)
		analysis.MeanB = bSum / float64(pixels)
	}

	switch {
	case analysis.Entropy > randomEntropy:
		analysis.Verdict = VerdictRandom
	case analysis.Entropy > obscuredEntropy:
		analysis.Verdict = VerdictObscured
	default:
		analysis.Verdict = VerdictDetectable
	}

	return analysis
}
