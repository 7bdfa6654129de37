package vlpipe

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// WeightedCorpusSampler combines heterogeneous sub-corpora into one
// logical dataset. Each draw picks a sub-corpus by a multinomial draw
// over fixed normalized weights, then serves that corpus's next sample
// from a per-corpus cursor, so the marginal draw frequency converges to
// the configured weights and stays stable across epochs within one
// seeded run.
type WeightedCorpusSampler struct {
	corpora []Dataset
	weights []float64
	dist    distuv.Categorical
	cursors []int
	total   int
}

// WeightedOption configures one sub-corpus entry.
type WeightedOption struct {
	Corpus Dataset
	// RepeatTime registers the corpus this many times, multiplying its
	// effective weight. 0 means once.
	RepeatTime int
}

// NewWeightedCorpusSampler
// Builds the sampler. Each corpus weighs either its raw length or,
// with flattenSkew set, the square root of its length, which keeps
// giant corpora from drowning small ones. Weights are normalized to
// probabilities over the registered entries.
func NewWeightedCorpusSampler(entries []WeightedOption, flattenSkew bool,
	seed uint64) (*WeightedCorpusSampler, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("sampler: no corpora registered")
	}
	corpora := make([]Dataset, 0, len(entries))
	weights := make([]float64, 0, len(entries))
	total := 0
	for _, entry := range entries {
		if entry.Corpus == nil || entry.Corpus.Len() == 0 {
			return nil, fmt.Errorf("sampler: empty corpus registered")
		}
		repeat := entry.RepeatTime
		if repeat < 1 {
			repeat = 1
		}
		w := float64(entry.Corpus.Len())
		if flattenSkew {
			w = math.Sqrt(w)
		}
		for r := 0; r < repeat; r++ {
			corpora = append(corpora, entry.Corpus)
			weights = append(weights, w)
			total += entry.Corpus.Len()
		}
	}
	sum := 0.0
	for _, w := range weights {
		sum += w
	}
	normalized := make([]float64, len(weights))
	for i, w := range weights {
		normalized[i] = w / sum
	}
	src := rand.NewSource(seed)
	return &WeightedCorpusSampler{
		corpora: corpora,
		weights: normalized,
		dist:    distuv.NewCategorical(normalized, src),
		cursors: make([]int, len(corpora)),
		total:   total,
	}, nil
}

// Len is the summed logical length of the registered corpora, repeats
// included.
func (s *WeightedCorpusSampler) Len() int {
	return s.total
}

// Weights returns the normalized draw probabilities in registration
// order.
func (s *WeightedCorpusSampler) Weights() []float64 {
	out := make([]float64, len(s.weights))
	copy(out, s.weights)
	return out
}

// Next
// Draws the next sample: multinomial corpus choice, then that corpus's
// cursor position. Per-record recovery already happened inside the
// corpus Get, so an error here means the corpus exhausted its skip
// budget.
func (s *WeightedCorpusSampler) Next() (*Bundle, error) {
	k := int(s.dist.Rand())
	corpus := s.corpora[k]
	index := s.cursors[k] % corpus.Len()
	s.cursors[k] += 1
	return corpus.Get(index)
}

// DrawCorpus exposes the bare multinomial draw for tests and tooling.
func (s *WeightedCorpusSampler) DrawCorpus() int {
	return int(s.dist.Rand())
}
