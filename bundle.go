package vlpipe

import "github.com/vlpipe/vlpipe/tile"

// Bundle is the per-sample unit handed to the batching collator: token
// ids, loss-masked labels, an attention mask, the stacked pixel tiles,
// and one flag per tile distinguishing real image content from the
// blank placeholder tile carried by pure-text samples.
type Bundle struct {
	InputIDs      Tokens
	Labels        Tokens
	AttentionMask []bool
	PixelValues   *tile.Pixels
	ImageFlags    []int32
}

// SeqLen is the token-sequence length of the bundle.
func (b *Bundle) SeqLen() int {
	return len(b.InputIDs)
}

// TileCount is the leading dimension of the pixel tensor.
func (b *Bundle) TileCount() int {
	if b.PixelValues == nil {
		return 0
	}
	return b.PixelValues.Tiles
}
