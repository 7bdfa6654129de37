package tile

import (
	"fmt"
	"image"
	"math"
)

// Grid is a tiling layout of Cols x Rows fixed-size tiles.
type Grid struct {
	Cols int
	Rows int
}

func (g Grid) Tiles() int {
	return g.Cols * g.Rows
}

func (g Grid) aspect() float64 {
	return float64(g.Cols) / float64(g.Rows)
}

// GridConfig bounds the tile budget for the grid search.
type GridConfig struct {
	TileSize int
	MinTiles int
	MaxTiles int
}

func DefaultGridConfig() GridConfig {
	return GridConfig{TileSize: 448, MinTiles: 1, MaxTiles: 6}
}

// BestGrid
// Selects the integer grid whose aspect ratio is closest to the source
// image's. All grids with MinTiles <= cols*rows <= MaxTiles are
// enumerated in ascending cols, then ascending rows; a candidate
// replaces the incumbent only on a strictly smaller score, so the first
// grid found at a given score wins. That enumeration order is the
// reproducibility contract: changing it changes which of several
// equally-scored grids is selected.
//
// Two overrides apply after the search. A 2x3 or 3x2 winner is
// downgraded to 2x2 when the source area is under four tile areas, and
// a 1x1 or 2x2 winner is re-decided purely by area against one tile
// area.
func BestGrid(width int, height int, cfg GridConfig) Grid {
	if cfg.MinTiles < 1 {
		cfg.MinTiles = 1
	}
	if cfg.MaxTiles < cfg.MinTiles {
		cfg.MaxTiles = cfg.MinTiles
	}
	aspect := float64(width) / float64(height)
	best := Grid{Cols: 1, Rows: 1}
	bestDiff := math.Inf(1)
	for cols := 1; cols <= cfg.MaxTiles; cols++ {
		for rows := 1; rows <= cfg.MaxTiles; rows++ {
			tiles := cols * rows
			if tiles < cfg.MinTiles || tiles > cfg.MaxTiles {
				continue
			}
			candidate := Grid{Cols: cols, Rows: rows}
			diff := math.Abs(aspect - candidate.aspect())
			if diff < bestDiff {
				bestDiff = diff
				best = candidate
			}
		}
	}

	area := width * height
	tileArea := cfg.TileSize * cfg.TileSize
	if (best == Grid{2, 3}) || (best == Grid{3, 2}) {
		if area < 4*tileArea {
			best = Grid{Cols: 2, Rows: 2}
		}
	}
	if (best == Grid{1, 1}) || (best == Grid{2, 2}) {
		if area < tileArea {
			best = Grid{Cols: 1, Rows: 1}
		} else {
			best = Grid{Cols: 2, Rows: 2}
		}
	}
	return best
}

// Split
// Resizes img to (cols*tileSize, rows*tileSize) and crops the grid's
// tiles in row-major order. When addThumbnail is set and the grid has
// more than one tile, one extra tile holding the whole image resized to
// tileSize x tileSize is appended. A 1x1 grid never receives a
// thumbnail: the single tile already is the whole image.
func Split(img image.Image, grid Grid, tileSize int,
	addThumbnail bool) ([]*image.RGBA, error) {
	if grid.Cols < 1 || grid.Rows < 1 {
		return nil, fmt.Errorf("tile: invalid grid %dx%d",
			grid.Cols, grid.Rows)
	}
	resized, err := Resize(img, grid.Cols*tileSize, grid.Rows*tileSize)
	if err != nil {
		return nil, err
	}
	tiles := make([]*image.RGBA, 0, grid.Tiles()+1)
	for row := 0; row < grid.Rows; row++ {
		for col := 0; col < grid.Cols; col++ {
			rect := image.Rect(col*tileSize, row*tileSize,
				(col+1)*tileSize, (row+1)*tileSize)
			tiles = append(tiles, crop(resized, rect))
		}
	}
	if addThumbnail && len(tiles) > 1 {
		thumb, thumbErr := Resize(img, tileSize, tileSize)
		if thumbErr != nil {
			return nil, thumbErr
		}
		tiles = append(tiles, thumb)
	}
	return tiles, nil
}

func crop(img *image.RGBA, rect image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		srcOff := img.PixOffset(rect.Min.X, rect.Min.Y+y)
		dstOff := dst.PixOffset(0, y)
		copy(dst.Pix[dstOff:dstOff+rect.Dx()*4],
			img.Pix[srcOff:srcOff+rect.Dx()*4])
	}
	return dst
}
