package shard

import (
	"encoding/json"
	"hash/fnv"
	"log"
	"math/rand"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/vlpipe/vlpipe/fetch"
)

// Index provides lazy, cached random access into a corpus too large to
// hold in memory. Exactly one shard is resident at a time; a requested
// index outside the hot shard's range evicts it and loads the owning
// shard through the byte source. Safe for concurrent use: a mutex
// serializes reads against hot-shard swaps, so parallel loader workers
// contend on the lock whenever their indices straddle a shard boundary.
// Workers that need uncontended access build their own Index.
type Index struct {
	table  *Table
	source *fetch.Source
	dir    string
	seed   int64

	mu         sync.Mutex
	hotName    string
	hotSpan    Span
	hotRecords []json.RawMessage
	loads      int
}

// NewIndex
// Creates an index over table, reading shard files from dir (a local
// directory or a remote prefix) via source. seed drives the
// deterministic per-shard record shuffle.
func NewIndex(table *Table, source *fetch.Source, dir string,
	seed int64) *Index {
	return &Index{table: table, source: source, dir: dir, seed: seed}
}

func (ix *Index) Len() int {
	return ix.table.Len()
}

// Table returns the index's shard table.
func (ix *Index) Table() *Table {
	return ix.table
}

// Loads reports how many shard files have been installed as the hot
// shard, the initial load included.
func (ix *Index) Loads() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.loads
}

// HotShard reports the name of the resident shard, empty before the
// first Get.
func (ix *Index) HotShard() string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.hotName
}

// Get
// Resolves a logical index to its record. The index wraps modulo the
// table length. The returned message is a fresh copy, so the assembler
// can mutate its decode without corrupting the cached shard.
func (ix *Index) Get(index int) (json.RawMessage, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	total := ix.table.Len()
	index = ((index % total) + total) % total
	if ix.hotName == "" || index < ix.hotSpan.Start ||
		index >= ix.hotSpan.End {
		span, err := ix.table.Lookup(index)
		if err != nil {
			return nil, err
		}
		if err := ix.install(span); err != nil {
			return nil, err
		}
	}
	offset := index - ix.hotSpan.Start
	if offset >= len(ix.hotRecords) {
		return nil, errors.Errorf(
			"shard: %s holds %d records, logical offset %d out of range",
			ix.hotName, len(ix.hotRecords), offset)
	}
	record := ix.hotRecords[offset]
	owned := make(json.RawMessage, len(record))
	copy(owned, record)
	return owned, nil
}

func (ix *Index) install(span Span) error {
	begin := time.Now()
	records, err := ix.loadShard(span.Name)
	if err != nil {
		return err
	}
	// Shuffle seeded by (seed, shard name) so reloading a shard
	// reproduces the same record order within one run.
	rng := rand.New(rand.NewSource(ix.seed ^ int64(nameHash(span.Name))))
	rng.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})
	ix.hotName = span.Name
	ix.hotSpan = span
	ix.hotRecords = records
	ix.loads += 1
	log.Printf("shard: installed %s (%s records) in %0.2fs",
		span.Name, humanize.Comma(int64(len(records))),
		time.Since(begin).Seconds())
	return nil
}

func (ix *Index) loadShard(name string) ([]json.RawMessage, error) {
	uri := ix.shardURI(name)
	switch {
	case strings.HasSuffix(name, ".jsonl"):
		return ix.source.GetJSONLines(uri)
	case strings.HasSuffix(name, ".json"):
		var records []json.RawMessage
		if err := ix.source.GetJSON(uri, &records); err != nil {
			return nil, err
		}
		return records, nil
	default:
		return nil, errors.Errorf(
			"shard: unsupported annotation file format: %s", name)
	}
}

func (ix *Index) shardURI(name string) string {
	if fetch.IsRemote(ix.dir) {
		return strings.TrimSuffix(ix.dir, "/") + path.Join("/", name)
	}
	return filepath.Join(ix.dir, name)
}

func nameHash(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}
