package stego

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeUniformCover(t *testing.T) {
	analysis := Analyze(createContainer(1000))

	assert.Equal(t, 3000, analysis.Channels)
	assert.Zero(t, analysis.Entropy)
	assert.Equal(t, 1.0, analysis.ZeroRatio)
	assert.Equal(t, 100.0, analysis.MeanR)
	assert.Equal(t, 110.0, analysis.MeanG)
	assert.Equal(t, 120.0, analysis.MeanB)
	assert.Equal(t, VerdictDetectable, analysis.Verdict)
}

func TestAnalyzeNoisePaddedPacket(t *testing.T) {
	cover := createContainer(256 * 256)

	packet, err := Embed(cover, []byte("tiny"), EmbedOptions{AddNoisePadding: true})
	require.NoError(t, err)

	analysis := Analyze(packet)
	assert.Equal(t, VerdictRandom, analysis.Verdict)
	assert.InDelta(t, 0.5, analysis.ZeroRatio, 0.02)
	assert.InDelta(t, 100.0, analysis.MeanR, 1.0)
}

func TestAnalyzeEmpty(t *testing.T) {
	analysis := Analyze(nil)
	assert.Zero(t, analysis.Channels)
	assert.Equal(t, VerdictDetectable, analysis.Verdict)
}
