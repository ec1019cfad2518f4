package stego

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/faanross/hermnet/internal/spec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCarrier(t *testing.T) {
	carrier := DefaultCarrier()
	require.Len(t, carrier, spec.COVER_WIDTH*spec.COVER_HEIGHT*spec.PIXEL_SIZE)

	for i := 0; i < len(carrier); i += spec.PIXEL_SIZE {
		require.Equal(t, []byte{90, 130, 180, 255}, carrier[i:i+spec.PIXEL_SIZE])
	}

	// each call returns a fresh buffer
	carrier[0] = 0
	assert.Equal(t, byte(90), DefaultCarrier()[0])
}

func TestImageRoundTripThroughPNG(t *testing.T) {
	cover := createContainer(32 * 16)
	for i := spec.ALPHA_OFFSET; i < len(cover); i += 8 * spec.PIXEL_SIZE {
		cover[i] = 128
	}

	packet, err := Embed(cover, []byte("over the wire"), EmbedOptions{AddNoisePadding: true})
	require.NoError(t, err)

	img, err := ImageFromCarrier(packet, 32)
	require.NoError(t, err)
	assert.Equal(t, 16, img.Bounds().Dy())

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	decoded, err := png.Decode(&buf)
	require.NoError(t, err)

	restored := CarrierFromImage(decoded)
	assert.Equal(t, packet, restored)

	payload, err := Extract(restored, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("over the wire"), payload)
}

func TestCarrierFromOpaqueRGBAImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{R: 1, G: 2, B: 3, A: 255})
	img.Set(1, 0, color.RGBA{R: 4, G: 5, B: 6, A: 255})

	assert.Equal(t, []byte{1, 2, 3, 255, 4, 5, 6, 255}, CarrierFromImage(img))
}

func TestCarrierFromSubImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = byte(i)
	}

	sub := img.SubImage(image.Rect(1, 1, 3, 3))
	carrier := CarrierFromImage(sub)
	require.Len(t, carrier, 2*2*spec.PIXEL_SIZE)
	assert.Equal(t, img.Pix[img.PixOffset(1, 1):img.PixOffset(1, 1)+8], carrier[:8])
	assert.Equal(t, img.Pix[img.PixOffset(1, 2):img.PixOffset(1, 2)+8], carrier[8:])
}

func TestImageFromCarrierValidation(t *testing.T) {
	_, err := ImageFromCarrier(make([]byte, 6), 1)
	assert.ErrorIs(t, err, ErrInvalidCarrier)

	_, err = ImageFromCarrier(make([]byte, 12), 2)
	assert.ErrorIs(t, err, ErrInvalidCarrier)

	_, err = ImageFromCarrier(make([]byte, 16), 0)
	assert.ErrorIs(t, err, ErrInvalidCarrier)
}
