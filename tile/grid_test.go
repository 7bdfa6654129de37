package tile

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var gridCfg = GridConfig{TileSize: 448, MinTiles: 1, MaxTiles: 6}

type gridCase struct {
	width    int
	height   int
	expected Grid
}

var gridCases = []gridCase{
	// Wide panorama: 3x1 matches aspect 3.0 exactly.
	{2688, 896, Grid{3, 1}},
	// Tall scan: 1x3.
	{600, 1800, Grid{1, 3}},
	// Small square: area under one tile, stays 1x1.
	{224, 224, Grid{1, 1}},
	// Large square: area over one tile, re-decided to 2x2.
	{896, 896, Grid{2, 2}},
	// Aspect 2:3 but area under four tiles: downgraded to 2x2.
	{448, 672, Grid{2, 2}},
	// Aspect 2:3 with generous area keeps 2x3.
	{1400, 2100, Grid{2, 3}},
}

func TestBestGrid(t *testing.T) {
	for _, tc := range gridCases {
		got := BestGrid(tc.width, tc.height, gridCfg)
		assert.Equal(t, tc.expected, got,
			"source %dx%d", tc.width, tc.height)
	}
}

func TestBestGridStaysWithinBudget(t *testing.T) {
	sizes := []int{100, 448, 450, 1000, 3000}
	for _, w := range sizes {
		for _, h := range sizes {
			grid := BestGrid(w, h, gridCfg)
			tiles := grid.Tiles()
			assert.GreaterOrEqual(t, tiles, gridCfg.MinTiles)
			assert.LessOrEqual(t, tiles, gridCfg.MaxTiles)
		}
	}
}

func TestBestGridSquareAreaRule(t *testing.T) {
	// Aspect exactly 1: below one tile area prefer 1x1, else 2x2.
	small := BestGrid(300, 300, gridCfg)
	assert.Equal(t, Grid{1, 1}, small)
	large := BestGrid(1000, 1000, gridCfg)
	assert.Equal(t, Grid{2, 2}, large)
}

func gradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / w),
				G: uint8(y * 255 / h),
				B: 128, A: 255,
			})
		}
	}
	return img
}

func TestSplitProducesGridTiles(t *testing.T) {
	const tileSize = 64
	img := gradientImage(400, 300)
	grid := Grid{Cols: 3, Rows: 2}

	tiles, err := Split(img, grid, tileSize, false)
	require.NoError(t, err)
	require.Len(t, tiles, 6)
	for i, tl := range tiles {
		assert.Equal(t, tileSize, tl.Bounds().Dx(), "tile %d width", i)
		assert.Equal(t, tileSize, tl.Bounds().Dy(), "tile %d height", i)
	}
}

func TestSplitThumbnail(t *testing.T) {
	const tileSize = 64
	img := gradientImage(400, 300)

	withThumb, err := Split(img, Grid{3, 2}, tileSize, true)
	require.NoError(t, err)
	assert.Len(t, withThumb, 7)

	// A 1x1 grid never receives a thumbnail even when requested.
	single, err := Split(img, Grid{1, 1}, tileSize, true)
	require.NoError(t, err)
	assert.Len(t, single, 1)
}

func TestSplitRowMajorOrder(t *testing.T) {
	const tileSize = 8
	// Four solid quadrants; after a 2x2 split each tile must be the
	// quadrant color in row-major order.
	img := image.NewRGBA(image.Rect(0, 0, 2*tileSize, 2*tileSize))
	quads := []color.RGBA{
		{255, 0, 0, 255}, {0, 255, 0, 255},
		{0, 0, 255, 255}, {255, 255, 0, 255},
	}
	for y := 0; y < 2*tileSize; y++ {
		for x := 0; x < 2*tileSize; x++ {
			q := (y/tileSize)*2 + x/tileSize
			img.Set(x, y, quads[q])
		}
	}

	tiles, err := Split(img, Grid{2, 2}, tileSize, false)
	require.NoError(t, err)
	require.Len(t, tiles, 4)
	for i, tl := range tiles {
		center := tl.RGBAAt(tileSize/2, tileSize/2)
		assert.Equal(t, quads[i], center, "tile %d", i)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"))
	require.Error(t, err)
	var decodeErr *ImageDecodeError
	assert.ErrorAs(t, err, &decodeErr)
}

func TestNormalizeAndStackShapes(t *testing.T) {
	tiles, err := Split(gradientImage(200, 100), Grid{2, 1}, 32, true)
	require.NoError(t, err)
	require.Len(t, tiles, 3)

	stacked, err := Stack(tiles, ImageNetMean, ImageNetStd)
	require.NoError(t, err)
	assert.Equal(t, [4]int{3, 3, 32, 32}, stacked.Shape())
	assert.Len(t, stacked.Data, 3*3*32*32)
}

func TestNormalizeValues(t *testing.T) {
	img := Blank(4)
	out := Normalize(img, StandardMean, StandardStd)
	require.Len(t, out, 3*4*4)
	for _, v := range out {
		assert.InDelta(t, 1.0, float64(v), 1e-6,
			"white pixels normalize to +1 under standard mean/std")
	}
}

func TestPixelsAppend(t *testing.T) {
	a, err := Stack([]*image.RGBA{Blank(16)}, ImageNetMean, ImageNetStd)
	require.NoError(t, err)
	b, err := Stack([]*image.RGBA{Blank(16), Blank(16)},
		ImageNetMean, ImageNetStd)
	require.NoError(t, err)
	require.NoError(t, a.Append(b))
	assert.Equal(t, 3, a.Tiles)
	assert.Len(t, a.Data, 3*3*16*16)

	c, err := Stack([]*image.RGBA{Blank(8)}, ImageNetMean, ImageNetStd)
	require.NoError(t, err)
	assert.Error(t, a.Append(c))
}
