package vlpipe

import (
	"fmt"
	"image"
	"log"
	"path"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/vlpipe/vlpipe/fetch"
	"github.com/vlpipe/vlpipe/tile"
)

// Default marker pieces spliced into text in place of each image.
const (
	ImgStartToken   = "<img>"
	ImgEndToken     = "</img>"
	ImgContextToken = "<IMG_CONTEXT>"

	imagePlaceholder = "<image>"
)

const imageCacheSize = 256

// TruncationViolation reports that tokenizer truncation ate into an
// image placeholder region: the surviving context-marker count no
// longer matches the image-token budget. The sample must be failed and
// skipped, never silently trimmed.
type TruncationViolation struct {
	Want int
	Got  int
}

func (e *TruncationViolation) Error() string {
	return fmt.Sprintf(
		"assembler: image tokens truncated: want %d context markers, got %d",
		e.Want, e.Got)
}

// ErrNoValidImages fails an interleaved sample whose every image was
// dropped or failed to load.
var ErrNoValidImages = fmt.Errorf("assembler: no valid images in sample")

// AssemblerConfig fixes the tensor geometry and marker budget for one
// corpus.
type AssemblerConfig struct {
	// ImageRoot prefixes every resolved image locator; local directory
	// or remote prefix.
	ImageRoot string
	// NumImageToken is the context-marker budget per image (per tile
	// when dynamic tiling applies).
	NumImageToken int
	// ImageSize is the square tile side in pixels.
	ImageSize int
	// MaxImages caps the images kept per interleaved sample.
	MaxImages int
	// MaxSeqLen truncates the token sequence.
	MaxSeqLen int
	// DynamicTiling enables aspect-ratio tiling for conversational
	// records; UseThumbnail appends the whole-image tile.
	DynamicTiling bool
	UseThumbnail  bool
	Grid          tile.GridConfig
	Mean          [3]float32
	Std           [3]float32
}

func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		NumImageToken: 256,
		ImageSize:     448,
		MaxImages:     6,
		MaxSeqLen:     2048,
		Grid:          tile.DefaultGridConfig(),
		Mean:          tile.ImageNetMean,
		Std:           tile.ImageNetStd,
	}
}

// Assembler converts raw records into tensor bundles, tiling images and
// splicing placeholder token blocks into the text stream.
type Assembler struct {
	cfg     AssemblerConfig
	tok     Tokenizer
	source  *fetch.Source
	cache   *lru.ARCCache
	startID Token
	endID   Token
	ctxID   Token
}

// NewAssembler
// Resolves the three marker pieces against the tokenizer up front;
// a vocabulary that cannot represent them is a configuration error.
func NewAssembler(cfg AssemblerConfig, tok Tokenizer,
	source *fetch.Source) (*Assembler, error) {
	if cfg.Grid.TileSize == 0 {
		cfg.Grid.TileSize = cfg.ImageSize
	}
	startID, ok := tok.TokenID(ImgStartToken)
	if !ok {
		return nil, fmt.Errorf("assembler: tokenizer lacks %q", ImgStartToken)
	}
	endID, ok := tok.TokenID(ImgEndToken)
	if !ok {
		return nil, fmt.Errorf("assembler: tokenizer lacks %q", ImgEndToken)
	}
	ctxID, ok := tok.TokenID(ImgContextToken)
	if !ok {
		return nil, fmt.Errorf("assembler: tokenizer lacks %q",
			ImgContextToken)
	}
	cache, err := lru.NewARC(imageCacheSize)
	if err != nil {
		return nil, err
	}
	return &Assembler{
		cfg:     cfg,
		tok:     tok,
		source:  source,
		cache:   cache,
		startID: startID,
		endID:   endID,
		ctxID:   ctxID,
	}, nil
}

// resolveImageURI joins the corpus image root with a storage name.
func (a *Assembler) resolveImageURI(name string) string {
	if a.cfg.ImageRoot == "" {
		return name
	}
	if fetch.IsRemote(a.cfg.ImageRoot) || fetch.IsRemote(name) {
		if fetch.IsRemote(name) {
			return name
		}
		return strings.TrimSuffix(a.cfg.ImageRoot, "/") + "/" + name
	}
	return path.Join(a.cfg.ImageRoot, name)
}

// loadImage fetches and decodes one image, consulting the decoded-image
// cache first. A nil return with nil error never happens; callers treat
// any error as "this image is invalid".
func (a *Assembler) loadImage(uri string) (*image.RGBA, error) {
	if cached, ok := a.cache.Get(uri); ok {
		return cached.(*image.RGBA), nil
	}
	data, err := a.source.GetBytes(uri)
	if err != nil {
		return nil, err
	}
	img, err := tile.Decode(data)
	if err != nil {
		return nil, err
	}
	a.cache.Add(uri, img)
	return img, nil
}

// placeholderBlock renders the marker run spliced in place of one image
// occupying tiles tiles.
func (a *Assembler) placeholderBlock(tiles int) string {
	return ImgStartToken +
		strings.Repeat(ImgContextToken, a.cfg.NumImageToken*tiles) +
		ImgEndToken
}

// AssembleInterleaved
// Converts one interleaved record into a bundle: validates the record
// invariant, resolves image storage names by locator hash, caps and
// loads images (failures mark the image invalid rather than failing the
// sample), splices placeholder blocks into the empty text slots, and
// tokenizes with truncation. Labels mask the three marker kinds; a
// context-marker count that disagrees with budget*images means
// truncation reached the image region and fails the sample.
func (a *Assembler) AssembleInterleaved(
	record *InterleavedRecord) (*Bundle, error) {
	if err := record.Normalize(); err != nil {
		return nil, err
	}

	// Resolve the storage name of every non-null image slot, in slot
	// order, so names[i] pairs with ValidImage[i].
	names := make([]string, 0, len(record.ValidImage))
	for i, img := range record.Images {
		if img == nil {
			continue
		}
		name := HashLocator(*img)
		if meta := record.Metadata[i]; meta != nil && meta.Filename != "" {
			name = meta.Filename
		}
		names = append(names, name)
	}

	loaded := make([]*image.RGBA, 0, a.cfg.MaxImages)
	for i, name := range names {
		if !record.ValidImage[i] {
			continue
		}
		if len(loaded) >= a.cfg.MaxImages {
			record.ValidImage[i] = false
			continue
		}
		uri := a.resolveImageURI(name)
		img, err := a.loadImage(uri)
		if err != nil {
			log.Printf("assembler: error loading image %s: %v", uri, err)
			record.ValidImage[i] = false
			continue
		}
		loaded = append(loaded, img)
	}
	if len(loaded) == 0 {
		return nil, ErrNoValidImages
	}

	// Splice placeholders into the text slots of surviving images.
	// Empty text segments are dropped so they cannot leave stray
	// delimiter runs around the placeholders.
	texts := make([]string, 0, len(record.Texts))
	imageIdx := 0
	for i := range record.Texts {
		if record.Texts[i] == nil {
			if record.ValidImage[imageIdx] {
				texts = append(texts, imagePlaceholder)
			}
			imageIdx += 1
			continue
		}
		if *record.Texts[i] == "" {
			continue
		}
		texts = append(texts, *record.Texts[i])
	}
	text := strings.Join(texts, "\n\n")
	text = strings.ReplaceAll(text, imagePlaceholder+"\n\n", imagePlaceholder)
	text = strings.ReplaceAll(text, "\n\n"+imagePlaceholder, imagePlaceholder)
	text = strings.Replace(text, imagePlaceholder, a.placeholderBlock(1),
		len(loaded))

	// Fixed square transform: one tile per image on this path.
	pixels, err := a.stackResized(loaded)
	if err != nil {
		return nil, err
	}
	flags := make([]int32, pixels.Tiles)
	for i := range flags {
		flags[i] = 1
	}
	return a.finalize(text, pixels, flags, len(loaded))
}

// AssembleConversational
// Converts one conversational record. With an image and dynamic tiling
// enabled, the tile grid drives both the pixel tensor's leading
// dimension and the placeholder budget. Without an image the bundle
// carries one blank tile flagged 0 so the collator sees a uniform
// shape.
func (a *Assembler) AssembleConversational(
	record *ConversationalRecord) (*Bundle, error) {
	if len(record.Conversations) == 0 {
		return nil, fmt.Errorf("assembler: record has no conversations")
	}
	if !record.HasImage() {
		return a.assemblePureText(record)
	}

	uri := a.resolveImageURI(record.Image)
	img, err := a.loadImage(uri)
	if err != nil {
		return nil, err
	}

	var tiles []*image.RGBA
	if a.cfg.DynamicTiling {
		grid := tile.BestGrid(img.Bounds().Dx(), img.Bounds().Dy(), a.cfg.Grid)
		tiles, err = tile.Split(img, grid, a.cfg.ImageSize, a.cfg.UseThumbnail)
	} else {
		var resized *image.RGBA
		resized, err = tile.Resize(img, a.cfg.ImageSize, a.cfg.ImageSize)
		tiles = []*image.RGBA{resized}
	}
	if err != nil {
		return nil, err
	}
	pixels, err := tile.Stack(tiles, a.cfg.Mean, a.cfg.Std)
	if err != nil {
		return nil, err
	}

	turns := record.Conversations
	if !strings.Contains(turns[0].Value, imagePlaceholder) {
		turns[0].Value = imagePlaceholder + "\n" + turns[0].Value
	}
	parts := make([]string, len(turns))
	for i, turn := range turns {
		parts[i] = turn.Value
	}
	text := strings.Join(parts, "\n")
	text = strings.Replace(text, imagePlaceholder,
		a.placeholderBlock(pixels.Tiles), 1)

	flags := make([]int32, pixels.Tiles)
	for i := range flags {
		flags[i] = 1
	}
	return a.finalize(text, pixels, flags, pixels.Tiles)
}

func (a *Assembler) assemblePureText(
	record *ConversationalRecord) (*Bundle, error) {
	parts := make([]string, len(record.Conversations))
	for i, turn := range record.Conversations {
		parts[i] = turn.Value
	}
	pixels, err := tile.Stack([]*image.RGBA{tile.Blank(a.cfg.ImageSize)},
		a.cfg.Mean, a.cfg.Std)
	if err != nil {
		return nil, err
	}
	return a.finalize(strings.Join(parts, "\n"), pixels,
		[]int32{0}, 0)
}

// stackResized applies the fixed square transform to each image and
// stacks the results.
func (a *Assembler) stackResized(images []*image.RGBA) (*tile.Pixels, error) {
	tiles := make([]*image.RGBA, len(images))
	for i, img := range images {
		resized, err := tile.Resize(img, a.cfg.ImageSize, a.cfg.ImageSize)
		if err != nil {
			return nil, err
		}
		tiles[i] = resized
	}
	return tile.Stack(tiles, a.cfg.Mean, a.cfg.Std)
}

// finalize tokenizes the assembled text, masks marker positions in the
// labels, and verifies the image-token accounting survived truncation.
// imageTiles is the total tile count whose markers must survive.
func (a *Assembler) finalize(text string, pixels *tile.Pixels,
	flags []int32, imageTiles int) (*Bundle, error) {
	ids := a.tok.Encode(text)
	if a.cfg.MaxSeqLen > 0 && len(ids) > a.cfg.MaxSeqLen {
		ids = ids[:a.cfg.MaxSeqLen]
	}
	labels := make(Tokens, len(ids))
	mask := make([]bool, len(ids))
	pad := a.tok.PadID()
	contextCount := 0
	for i, id := range ids {
		labels[i] = id
		mask[i] = id != pad
		switch id {
		case a.startID, a.endID:
			labels[i] = IgnoreTokenID
		case a.ctxID:
			labels[i] = IgnoreTokenID
			contextCount += 1
		}
	}
	if want := a.cfg.NumImageToken * imageTiles; contextCount != want {
		return nil, &TruncationViolation{Want: want, Got: contextCount}
	}
	return &Bundle{
		InputIDs:      ids,
		Labels:        labels,
		AttentionMask: mask,
		PixelValues:   pixels,
		ImageFlags:    flags,
	}, nil
}
