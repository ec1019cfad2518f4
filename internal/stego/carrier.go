package stego

import (
	"fmt"
	"image"
	"image/draw"

	"github.com/faanross/hermnet/internal/spec"
)

// UsableChannels returns the number of writable channel bytes (R, G, B) in carrier.
func UsableChannels(carrier []byte) int {
	return (len(carrier) / spec.PIXEL_SIZE) * spec.CHANNELS
}

// CapacityBytes returns the largest payload that fits in carrier once the
// length header and a sentinel of sentinelLen bytes are reserved.
func CapacityBytes(carrier []byte, sentinelLen int) int {
	usableBytes := UsableChannels(carrier) / spec.BITS_PER_BYTE
	return max(0, usableBytes-(spec.HEADER_SIZE+sentinelLen))
}

// DefaultCarrier builds the 64x64 placeholder cover used when a sender has none.
func DefaultCarrier() []byte {
	rgba := make([]byte, spec.COVER_WIDTH*spec.COVER_HEIGHT*spec.PIXEL_SIZE)
	for i := 0; i < len(rgba); i += spec.PIXEL_SIZE {
		rgba[i] = spec.COVER_R
		rgba[i+1] = spec.COVER_G
		rgba[i+2] = spec.COVER_B
		rgba[i+3] = spec.COVER_A
	}
	return rgba
}

// CarrierFromImage flattens img into a non-premultiplied RGBA carrier.
func CarrierFromImage(img image.Image) []byte {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	if nrgba, ok := img.(*image.NRGBA); ok {
		out := make([]byte, 0, width*height*spec.PIXEL_SIZE)
		for y := 0; y < height; y++ {
			start := y * nrgba.Stride
			out = append(out, nrgba.Pix[start:start+width*spec.PIXEL_SIZE]...)
		}
		return out
	}

	canvas := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(canvas, canvas.Bounds(), img, bounds.Min, draw.Src)
	return canvas.Pix
}

// ImageFromCarrier wraps a carrier as an image of the given width so it can be
// written out as a lossless PNG.
func ImageFromCarrier(carrier []byte, width int) (*image.NRGBA, error) {
	if err := checkCarrier(carrier); err != nil {
		return nil, err
	}
	if width <= 0 {
		return nil, fmt.Errorf("%w: width must be positive, got %d", ErrInvalidCarrier, width)
	}

	pixels := len(carrier) / spec.PIXEL_SIZE
	if pixels%width != 0 {
		return nil, fmt.Errorf("%w: %d pixels do not form rows of width %d", ErrInvalidCarrier, pixels, width)
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, pixels/width))
	copy(img.Pix, carrier)
	return img, nil
}

func checkCarrier(carrier []byte) error {
	if len(carrier)%spec.PIXEL_SIZE != 0 {
		return fmt.Errorf("%w: length %d is not a multiple of %d", ErrInvalidCarrier, len(carrier), spec.PIXEL_SIZE)
	}
	return nil
}

// isAlphaChannel reports whether index addresses the alpha byte of a pixel.
func isAlphaChannel(index int) bool {
	return index%spec.PIXEL_SIZE == spec.ALPHA_OFFSET
}
