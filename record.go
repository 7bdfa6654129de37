// Package vlpipe is the dataset-level surface of a sharded, distributed
// sample-loading pipeline for multimodal (image+text) training and
// evaluation. It turns raw interleaved or conversational corpus records
// into fixed-shape tensor bundles, partitions shard ownership across
// worker ranks, and survives flaky storage by skipping forward past
// broken records.
package vlpipe

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ImageMeta carries per-image annotation metadata. Filename, when
// present, overrides the hash-derived storage name.
type ImageMeta struct {
	Filename string `json:"filename,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// MetadataList tolerates the two encodings found in shard files: a
// plain JSON array, or the same array wrapped in a JSON string by an
// older annotation writer.
type MetadataList []*ImageMeta

func (m *MetadataList) UnmarshalJSON(data []byte) error {
	type plain MetadataList
	if err := json.Unmarshal(data, (*plain)(m)); err == nil {
		return nil
	}
	var wrapped string
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return fmt.Errorf("record: metadata is neither array nor string: %s",
			data)
	}
	return json.Unmarshal([]byte(wrapped), (*plain)(m))
}

// InterleavedRecord is one web-document sample: parallel image and text
// slots where exactly one of images[i], texts[i] is set.
type InterleavedRecord struct {
	Images     []*string    `json:"images"`
	Texts      []*string    `json:"texts"`
	Metadata   MetadataList `json:"metadata,omitempty"`
	ValidImage []bool       `json:"valid_image,omitempty"`
}

// Normalize derives the optional fields and checks the record
// invariant: len(images) == len(texts), and the count of non-null
// images equals both the count of null texts and len(valid_image).
// Metadata entries must align null-for-null with images.
func (r *InterleavedRecord) Normalize() error {
	if len(r.Images) != len(r.Texts) {
		return fmt.Errorf(
			"record: %d image slots vs %d text slots",
			len(r.Images), len(r.Texts))
	}
	imageCount := 0
	nullTexts := 0
	for i := range r.Images {
		if r.Images[i] != nil {
			imageCount += 1
		}
		if r.Texts[i] == nil {
			nullTexts += 1
		}
	}
	if imageCount != nullTexts {
		return fmt.Errorf(
			"record: %d images do not fill %d empty text slots",
			imageCount, nullTexts)
	}
	if r.Metadata == nil {
		r.Metadata = make(MetadataList, len(r.Images))
		for i, img := range r.Images {
			if img != nil {
				r.Metadata[i] = &ImageMeta{Filename: HashLocator(*img)}
			}
		}
	}
	if len(r.Metadata) != len(r.Images) {
		return fmt.Errorf("record: %d metadata entries for %d image slots",
			len(r.Metadata), len(r.Images))
	}
	for i := range r.Images {
		if (r.Images[i] == nil) != (r.Metadata[i] == nil) {
			return fmt.Errorf(
				"record: metadata/image null mismatch at slot %d", i)
		}
	}
	if r.ValidImage == nil {
		r.ValidImage = make([]bool, imageCount)
		for i := range r.ValidImage {
			r.ValidImage[i] = true
		}
	}
	if len(r.ValidImage) != imageCount {
		return fmt.Errorf("record: %d validity flags for %d images",
			len(r.ValidImage), imageCount)
	}
	return nil
}

// HashLocator derives the stable storage name for an image from its
// canonical locator, independent of source URL quoting.
func HashLocator(locator string) string {
	sum := sha256.Sum256([]byte(locator))
	return hex.EncodeToString(sum[:])
}

// Turn is one conversational exchange.
type Turn struct {
	From  string `json:"from"`
	Value string `json:"value"`
}

// ConversationalRecord is one supervised-chat sample: an optional image
// plus turns whose text may reference it with image placeholders.
type ConversationalRecord struct {
	Image         string `json:"image,omitempty"`
	Conversations []Turn `json:"conversations"`
}

// HasImage reports whether the record carries a resolvable image.
func (r *ConversationalRecord) HasImage() bool {
	return len(r.Image) != 0
}
