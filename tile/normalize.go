package tile

import (
	"fmt"
	"image"
)

// Normalization presets. ImageNet matches the original training
// transform; Standard maps into [-1, 1].
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}

	StandardMean = [3]float32{0.5, 0.5, 0.5}
	StandardStd  = [3]float32{0.5, 0.5, 0.5}
)

// Pixels is a stacked pixel tensor in tiles x channels x height x width
// layout, the shape the collator concatenates across a batch.
type Pixels struct {
	Data     []float32
	Tiles    int
	Channels int
	Height   int
	Width    int
}

func (p *Pixels) Shape() [4]int {
	return [4]int{p.Tiles, p.Channels, p.Height, p.Width}
}

// Normalize
// Converts one RGBA tile into a CHW float32 plane stack, scaling to
// [0, 1] and applying the per-channel mean/std.
func Normalize(img *image.RGBA, mean [3]float32, std [3]float32) []float32 {
	bounds := img.Bounds()
	h := bounds.Dy()
	w := bounds.Dx()
	plane := h * w
	out := make([]float32, plane*3)
	idx := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			off := img.PixOffset(x, y)
			r := float32(img.Pix[off]) / 255.0
			g := float32(img.Pix[off+1]) / 255.0
			b := float32(img.Pix[off+2]) / 255.0
			out[idx] = (r - mean[0]) / std[0]
			out[plane+idx] = (g - mean[1]) / std[1]
			out[2*plane+idx] = (b - mean[2]) / std[2]
			idx += 1
		}
	}
	return out
}

// Stack
// Normalizes a sequence of equal-sized tiles and stacks them into one
// Pixels tensor.
func Stack(tiles []*image.RGBA, mean [3]float32,
	std [3]float32) (*Pixels, error) {
	if len(tiles) == 0 {
		return nil, fmt.Errorf("tile: cannot stack zero tiles")
	}
	h := tiles[0].Bounds().Dy()
	w := tiles[0].Bounds().Dx()
	stacked := &Pixels{
		Data:     make([]float32, 0, len(tiles)*3*h*w),
		Tiles:    len(tiles),
		Channels: 3,
		Height:   h,
		Width:    w,
	}
	for i, t := range tiles {
		if t.Bounds().Dy() != h || t.Bounds().Dx() != w {
			return nil, fmt.Errorf(
				"tile: tile %d is %dx%d, expected %dx%d", i,
				t.Bounds().Dx(), t.Bounds().Dy(), w, h)
		}
		stacked.Data = append(stacked.Data, Normalize(t, mean, std)...)
	}
	return stacked, nil
}

// Append concatenates another Pixels tensor of the same tile geometry,
// used when one sample carries several images.
func (p *Pixels) Append(other *Pixels) error {
	if other.Channels != p.Channels || other.Height != p.Height ||
		other.Width != p.Width {
		return fmt.Errorf("tile: cannot append %v onto %v",
			other.Shape(), p.Shape())
	}
	p.Data = append(p.Data, other.Data...)
	p.Tiles += other.Tiles
	return nil
}
