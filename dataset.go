package vlpipe

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/vlpipe/vlpipe/fetch"
	"github.com/vlpipe/vlpipe/partition"
	"github.com/vlpipe/vlpipe/shard"
)

// DefaultMaxSkipAttempts bounds the skip-forward recovery loop. The
// original pipeline retried forever; a bound keeps a systemically
// broken corpus from spinning a worker silently.
const DefaultMaxSkipAttempts = 100

// Dataset is the interface the trainer consumes: random access to
// tensor bundles by logical index.
type Dataset interface {
	Len() int
	Get(index int) (*Bundle, error)
}

// CorpusConfig describes one shard-partitioned interleaved corpus.
type CorpusConfig struct {
	// Tag names the shard files: "<Tag>_shard_<n>.jsonl".
	Tag string
	// ShardCount and ShardCapacity fix the logical index space:
	// every shard owns ShardCapacity indices even when the file holds
	// a few more records.
	ShardCount    int
	ShardCapacity int
	// AnnotationDir is the local directory or remote prefix holding
	// the shard files.
	AnnotationDir string
	// Resample shuffles this worker's shard order with the worker seed.
	Resample bool
	// MaxSkipAttempts bounds skip-forward recovery; 0 means the
	// default.
	MaxSkipAttempts int
	Worker          partition.WorkerContext
}

// InterleavedDataset serves tensor bundles from a sharded interleaved
// corpus. Each worker rank builds its own instance: shard ownership
// comes from the worker context. Within a rank, Get is safe for
// concurrent loader goroutines; the shard index serializes hot-shard
// swaps.
type InterleavedDataset struct {
	index    *shard.Index
	asm      *Assembler
	maxSkips int
}

func NewInterleavedDataset(cfg CorpusConfig, asm *Assembler,
	source *fetch.Source) (*InterleavedDataset, error) {
	order, err := partition.ShardOrder(cfg.ShardCount, cfg.Worker,
		cfg.Resample)
	if err != nil {
		return nil, err
	}
	table, err := shard.NewTable(cfg.Tag, cfg.ShardCount,
		cfg.ShardCapacity, order)
	if err != nil {
		return nil, err
	}
	maxSkips := cfg.MaxSkipAttempts
	if maxSkips <= 0 {
		maxSkips = DefaultMaxSkipAttempts
	}
	index := shard.NewIndex(table, source, cfg.AnnotationDir, cfg.Worker.Seed)
	return &InterleavedDataset{
		index:    index,
		asm:      asm,
		maxSkips: maxSkips,
	}, nil
}

func (ds *InterleavedDataset) Len() int {
	return ds.index.Len()
}

// Index exposes the underlying shard index for inspection tools.
func (ds *InterleavedDataset) Index() *shard.Index {
	return ds.index
}

// Get
// Serves the bundle at index, applying the best-effort recovery
// policy: any per-record fault (fetch exhaustion, malformed record,
// image decode failure, truncation violation) is logged and answered by
// advancing to (index+1) mod len, up to the configured skip bound. A
// shard-range gap is a partition-math violation and propagates
// immediately; further reads would be unsound.
func (ds *InterleavedDataset) Get(index int) (*Bundle, error) {
	return skipForward(ds, index, ds.maxSkips, ds.assemble)
}

func (ds *InterleavedDataset) assemble(index int) (*Bundle, error) {
	raw, err := ds.index.Get(index)
	if err != nil {
		return nil, err
	}
	var record InterleavedRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, &fetch.MalformedRecord{Line: string(raw), Err: err}
	}
	return ds.asm.AssembleInterleaved(&record)
}

// skipForward runs the shared recovery loop over one attempt function.
func skipForward(ds Dataset, index int, maxSkips int,
	attemptFn func(int) (*Bundle, error)) (*Bundle, error) {
	index = ((index % ds.Len()) + ds.Len()) % ds.Len()
	var lastErr error
	for attempt := 0; attempt <= maxSkips; attempt++ {
		bundle, err := attemptFn(index)
		if err == nil {
			return bundle, nil
		}
		var gap *shard.RangeGapError
		if errors.As(err, &gap) {
			return nil, err
		}
		lastErr = err
		log.Printf("dataset: %v", err)
		index = (index + 1) % ds.Len()
		if attempt < maxSkips {
			log.Printf("dataset: trying next index %d", index)
		}
	}
	return nil, fmt.Errorf(
		"dataset: no loadable sample after %d skips: %w", maxSkips, lastErr)
}

// ConversationalConfig describes one flat-file supervised corpus.
type ConversationalConfig struct {
	// Annotation is a JSON-Lines file of conversational records.
	Annotation string
	// MaxSkipAttempts bounds skip-forward recovery; 0 means the
	// default.
	MaxSkipAttempts int
	Worker          partition.WorkerContext
}

// ConversationalDataset serves supervised-chat samples from one
// annotation file whose lines are split contiguously across ranks.
type ConversationalDataset struct {
	records  []json.RawMessage
	world    int
	asm      *Assembler
	maxSkips int
}

func NewConversationalDataset(cfg ConversationalConfig, asm *Assembler,
	source *fetch.Source) (*ConversationalDataset, error) {
	if err := cfg.Worker.Validate(); err != nil {
		return nil, err
	}
	lines, err := source.GetJSONLines(cfg.Annotation)
	if err != nil {
		return nil, err
	}
	// Contiguous split, remainder to low ranks, so no line is read by
	// two ranks and none is dropped.
	r, err := partition.Contiguous(len(lines), cfg.Worker.WorldSize,
		cfg.Worker.Rank)
	if err != nil {
		return nil, err
	}
	if r.Len() == 0 {
		return nil, fmt.Errorf(
			"dataset: %s has %d lines, rank %d of %d owns none",
			cfg.Annotation, len(lines), cfg.Worker.Rank,
			cfg.Worker.WorldSize)
	}
	maxSkips := cfg.MaxSkipAttempts
	if maxSkips <= 0 {
		maxSkips = DefaultMaxSkipAttempts
	}
	return &ConversationalDataset{
		records:  lines[r.Begin:r.End],
		world:    cfg.Worker.WorldSize,
		asm:      asm,
		maxSkips: maxSkips,
	}, nil
}

// Len reports the global logical length: local lines times world size,
// so every rank's epoch arithmetic agrees.
func (ds *ConversationalDataset) Len() int {
	return len(ds.records) * ds.world
}

func (ds *ConversationalDataset) Get(index int) (*Bundle, error) {
	return skipForward(ds, index, ds.maxSkips, ds.assemble)
}

func (ds *ConversationalDataset) assemble(index int) (*Bundle, error) {
	raw := ds.records[index%len(ds.records)]
	var record ConversationalRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, &fetch.MalformedRecord{Line: string(raw), Err: err}
	}
	return ds.asm.AssembleConversational(&record)
}
