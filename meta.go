package vlpipe

import (
	"fmt"
	"log"
	"sort"

	"github.com/vlpipe/vlpipe/fetch"
	"github.com/vlpipe/vlpipe/partition"
)

// Corpus kinds accepted in a meta file.
const (
	KindInterleaved    = "interleaved"
	KindConversational = "conversational"
)

// CorpusMeta is one corpus entry in a meta file. Root points at the
// image store, Annotation at the shard directory or annotation file
// depending on the kind.
type CorpusMeta struct {
	Kind       string `json:"kind"`
	Root       string `json:"root"`
	Annotation string `json:"annotation"`

	// Tag, ShardCount and ShardCapacity apply to interleaved corpora.
	Tag           string `json:"tag,omitempty"`
	ShardCount    int    `json:"shard_count,omitempty"`
	ShardCapacity int    `json:"shard_capacity,omitempty"`

	// RepeatTime multiplies the corpus weight in the mixture.
	RepeatTime int `json:"repeat_time,omitempty"`

	// Resample shuffles shard order per worker.
	Resample        bool `json:"resample,omitempty"`
	MaxSkipAttempts int  `json:"max_skip_attempts,omitempty"`

	// DynamicTiling overrides the assembler default for this corpus.
	DynamicTiling bool `json:"dynamic_image_size,omitempty"`
}

// MetaFile maps corpus names to their entries.
type MetaFile map[string]CorpusMeta

// LoadMeta reads a corpus meta file from a local path or remote URI.
func LoadMeta(source *fetch.Source, uri string) (MetaFile, error) {
	var meta MetaFile
	if err := source.GetJSON(uri, &meta); err != nil {
		return nil, err
	}
	if len(meta) == 0 {
		return nil, fmt.Errorf("meta: %s names no corpora", uri)
	}
	for name, entry := range meta {
		switch entry.Kind {
		case KindInterleaved:
			if entry.Tag == "" || entry.ShardCount < 1 ||
				entry.ShardCapacity < 1 {
				return nil, fmt.Errorf(
					"meta: corpus %s needs tag, shard_count and shard_capacity",
					name)
			}
		case KindConversational:
			if entry.Annotation == "" {
				return nil, fmt.Errorf("meta: corpus %s needs an annotation file",
					name)
			}
		default:
			return nil, fmt.Errorf("meta: corpus %s has unknown kind %q",
				name, entry.Kind)
		}
	}
	return meta, nil
}

// MixtureConfig configures BuildMixture.
type MixtureConfig struct {
	// FlattenSkew weighs corpora by sqrt(len) instead of len.
	FlattenSkew bool
	// Assembler is the template config; Root and DynamicTiling come
	// from each corpus entry.
	Assembler AssemblerConfig
	Worker    partition.WorkerContext
}

// BuildMixture
// Constructs every corpus named in the meta file and combines them into
// one weighted sampler. Corpora are built in name order so the mixture
// weights line up identically on every rank.
func BuildMixture(meta MetaFile, cfg MixtureConfig, tok Tokenizer,
	source *fetch.Source) (*WeightedCorpusSampler, error) {
	names := make([]string, 0, len(meta))
	for name := range meta {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]WeightedOption, 0, len(names))
	for _, name := range names {
		entry := meta[name]
		acfg := cfg.Assembler
		acfg.ImageRoot = entry.Root
		acfg.DynamicTiling = entry.DynamicTiling
		asm, err := NewAssembler(acfg, tok, source)
		if err != nil {
			return nil, fmt.Errorf("meta: corpus %s: %w", name, err)
		}

		var ds Dataset
		switch entry.Kind {
		case KindInterleaved:
			ds, err = NewInterleavedDataset(CorpusConfig{
				Tag:             entry.Tag,
				ShardCount:      entry.ShardCount,
				ShardCapacity:   entry.ShardCapacity,
				AnnotationDir:   entry.Annotation,
				Resample:        entry.Resample,
				MaxSkipAttempts: entry.MaxSkipAttempts,
				Worker:          cfg.Worker,
			}, asm, source)
		case KindConversational:
			ds, err = NewConversationalDataset(ConversationalConfig{
				Annotation:      entry.Annotation,
				MaxSkipAttempts: entry.MaxSkipAttempts,
				Worker:          cfg.Worker,
			}, asm, source)
		default:
			err = fmt.Errorf("unknown kind %q", entry.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("meta: corpus %s: %w", name, err)
		}
		log.Printf("meta: corpus %s: %d samples (repeat %d)",
			name, ds.Len(), maxInt(entry.RepeatTime, 1))
		entries = append(entries, WeightedOption{
			Corpus:     ds,
			RepeatTime: entry.RepeatTime,
		})
	}
	return NewWeightedCorpusSampler(entries, cfg.FlattenSkew,
		uint64(cfg.Worker.Seed))
}

func maxInt(a int, b int) int {
	if a > b {
		return a
	}
	return b
}
