// Package shard maps global logical sample indices onto numbered,
// fixed-capacity shard files, and serves records from a single resident
// "hot" shard per worker. Sequential-by-shard access is far cheaper
// than random-by-shard access: every index miss evicts the resident
// shard and loads a whole new file, so samplers should walk indices in
// order whenever they can.
package shard

import (
	"fmt"
	"sort"
)

// RangeGapError reports an index that no shard range covers. It means
// the partition math itself is wrong, so callers must treat it as a
// process-fatal misconfiguration rather than a skippable record fault.
type RangeGapError struct {
	Index int
}

func (e *RangeGapError) Error() string {
	return fmt.Sprintf(
		"shard: no shard range covers index %d; shard table is misconfigured",
		e.Index)
}

// Span is one shard's contiguous global index range [Start, End).
type Span struct {
	Start int
	End   int
	Name  string
}

// Table is an immutable, precomputed mapping from logical index to
// shard file, built once per worker and queried by binary search.
type Table struct {
	spans    []Span
	capacity int
}

// ShardName renders the deterministic shard file name for one shard
// number: "<tag>_shard_<n>.jsonl".
func ShardName(tag string, n int) string {
	return fmt.Sprintf("%s_shard_%d.jsonl", tag, n)
}

// NewTable
// Builds the table for one worker from its (possibly shuffled) shard
// order. The i-th shard in the order owns logical indices
// [capacity*i, capacity*(i+1)). The order is produced by
// partition.ShardOrder, so the mapping is reconstructible from
// (tag, shard count, capacity, seed, world size, rank) alone.
func NewTable(tag string, shardCount int, capacity int,
	order []int) (*Table, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("shard: capacity must be >= 1, got %d",
			capacity)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("shard: empty shard order")
	}
	seen := make(map[int]bool, len(order))
	spans := make([]Span, len(order))
	for i, n := range order {
		if n < 0 || n >= shardCount {
			return nil, fmt.Errorf(
				"shard: shard number %d out of range [0, %d)", n, shardCount)
		}
		if seen[n] {
			return nil, fmt.Errorf("shard: shard %d appears twice in order", n)
		}
		seen[n] = true
		spans[i] = Span{
			Start: capacity * i,
			End:   capacity * (i + 1),
			Name:  ShardName(tag, n),
		}
	}
	return &Table{spans: spans, capacity: capacity}, nil
}

// FromSpans builds a table from explicit spans, validating that they
// tile [0, total) contiguously.
func FromSpans(spans []Span) (*Table, error) {
	if len(spans) == 0 {
		return nil, fmt.Errorf("shard: empty span list")
	}
	sorted := make([]Span, len(spans))
	copy(sorted, spans)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})
	cursor := 0
	for _, span := range sorted {
		if span.Start != cursor || span.End <= span.Start {
			return nil, &RangeGapError{Index: cursor}
		}
		cursor = span.End
	}
	return &Table{spans: sorted, capacity: sorted[0].End - sorted[0].Start}, nil
}

// Len is the total logical index space covered by the table.
func (t *Table) Len() int {
	return t.spans[len(t.spans)-1].End
}

// Spans returns a copy of the table's spans in index order.
func (t *Table) Spans() []Span {
	out := make([]Span, len(t.spans))
	copy(out, t.spans)
	return out
}

// Lookup
// Resolves a logical index to its owning span by binary search.
func (t *Table) Lookup(index int) (Span, error) {
	if index < 0 || index >= t.Len() {
		return Span{}, &RangeGapError{Index: index}
	}
	i := sort.Search(len(t.spans), func(i int) bool {
		return t.spans[i].End > index
	})
	if i == len(t.spans) || t.spans[i].Start > index {
		return Span{}, &RangeGapError{Index: index}
	}
	return t.spans[i], nil
}
