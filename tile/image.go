// Package tile converts arbitrary-resolution source images into a
// fixed grid of fixed-size square tiles. The grid is chosen by an
// aspect-ratio search over all integer layouts within a tile budget,
// so wide, tall, and square sources all map onto the same tensor
// geometry.
package tile

import (
	"bytes"
	"fmt"
	"image"

	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// ImageDecodeError reports a source image that could not be decoded.
// The assembler recovers from it by marking that one image invalid
// instead of failing the whole sample.
type ImageDecodeError struct {
	Err error
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("tile: cannot decode image: %v", e.Err)
}

func (e *ImageDecodeError) Unwrap() error {
	return e.Err
}

// Decode
// Decodes JPEG, PNG, or WebP bytes into an RGBA image.
func Decode(data []byte) (*image.RGBA, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &ImageDecodeError{Err: err}
	}
	return toRGBA(img), nil
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	return rgba
}

// Resize
// Scales img to width x height with bilinear interpolation.
func Resize(img image.Image, width int, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("tile: invalid resize target %dx%d",
			width, height)
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst, nil
}

// Blank
// Returns a uniform white square, used as the placeholder pixel input
// for pure-text samples so every bundle carries a pixel tensor of the
// same tile geometry.
func Blank(size int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img
}
