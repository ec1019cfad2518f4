package main

import (
	"fmt"
	"image/png"
	"os"

	"github.com/faanross/hermnet/internal/stego"
)

// readCarrier decodes a PNG into an RGBA carrier and returns its width.
func readCarrier(path string) ([]byte, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	if img.Bounds().Empty() {
		return nil, 0, fmt.Errorf("%s: image has no pixels", path)
	}
	return stego.CarrierFromImage(img), img.Bounds().Dx(), nil
}

func writeCarrier(path string, carrier []byte, width int) error {
	img, err := stego.ImageFromCarrier(carrier, width)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("PNG encoding failed: %w", err)
	}
	return f.Close()
}
