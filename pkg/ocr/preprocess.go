package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

// Threshold is the luminance midpoint used by Binarize. Pixels brighter than it become white.
const Threshold = 128

// Binarize collapses every pixel to its luminance (0.299R + 0.587G + 0.114B) and
// forces it to pure black or pure white. Dimensions and alpha are kept as-is.
func Binarize(img image.Image) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		l := 0.299*float64(c.R) + 0.587*float64(c.G) + 0.114*float64(c.B)
		var v uint8
		if l > Threshold {
			v = 255
		}
		return color.NRGBA{R: v, G: v, B: v, A: c.A}
	})
}

// Preprocess decodes data, binarizes it and re-encodes the result as PNG.
// The returned bytes are always usable for recognition: when the image cannot be
// decoded or re-encoded, the original bytes come back together with the error.
func Preprocess(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return data, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, Binarize(img), imaging.PNG); err != nil {
		return data, fmt.Errorf("encode preprocessed image: %w", err)
	}
	return buf.Bytes(), nil
}
