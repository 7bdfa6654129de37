package vlpipe

import (
	"github.com/vlpipe/vlpipe/partition"
)

// InferenceSampler yields this rank's contiguous slice of a dataset for
// a parallel evaluation pass. Blocks tile [0, total) across ranks with
// sizes differing by at most one, so merging per-rank outputs in rank
// order reconstructs dataset order.
type InferenceSampler struct {
	span partition.Range
}

func NewInferenceSampler(total int,
	ctx partition.WorkerContext) (*InferenceSampler, error) {
	span, err := partition.Contiguous(total, ctx.WorldSize, ctx.Rank)
	if err != nil {
		return nil, err
	}
	return &InferenceSampler{span: span}, nil
}

func (s *InferenceSampler) Len() int {
	return s.span.Len()
}

// Range returns the rank's index block.
func (s *InferenceSampler) Range() partition.Range {
	return s.span
}

// Indices materializes the rank's index sequence.
func (s *InferenceSampler) Indices() []int {
	out := make([]int, 0, s.span.Len())
	for i := s.span.Begin; i < s.span.End; i++ {
		out = append(out, i)
	}
	return out
}

// AllGatherer is the boundary to the trainer's communication layer: a
// barrier plus all-gather that merges per-rank result payloads after
// one dataset pass. The pipeline only declares the interface; transport
// belongs to the trainer/evaluator.
type AllGatherer interface {
	AllGather(local []byte) ([][]byte, error)
}
