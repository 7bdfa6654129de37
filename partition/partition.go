// Package partition implements the two deterministic work-splitting
// schemes used by the loading pipeline: strided element selection for
// shard ownership, and contiguous near-equal index blocks for
// distributed inference.
package partition

import (
	"fmt"
	"math/rand"
)

// WorkerContext carries the distributed identity of one loading worker.
// Every component that needs rank, world size, or a seed receives one of
// these explicitly; there is no ambient process-wide lookup.
type WorkerContext struct {
	Rank      int
	WorldSize int
	Seed      int64
}

func (ctx WorkerContext) Validate() error {
	if ctx.WorldSize < 1 {
		return fmt.Errorf("partition: world size must be >= 1, got %d",
			ctx.WorldSize)
	}
	if ctx.Rank < 0 || ctx.Rank >= ctx.WorldSize {
		return fmt.Errorf("partition: rank %d out of range [0, %d)",
			ctx.Rank, ctx.WorldSize)
	}
	return nil
}

// Range is a half-open index interval [Begin, End).
type Range struct {
	Begin int
	End   int
}

func (r Range) Len() int {
	return r.End - r.Begin
}

// Strided
// Selects the elements of items at stride world starting at rank. The
// union of all ranks' selections covers items exactly once.
func Strided[T any](items []T, rank int, world int) []T {
	selected := make([]T, 0, (len(items)+world-1)/world)
	for idx := rank; idx < len(items); idx += world {
		selected = append(selected, items[idx])
	}
	return selected
}

// Contiguous
// Computes the contiguous index block owned by rank when total indices
// are split across world workers. The first total%world ranks receive
// one extra element, so all block sizes differ by at most one and the
// blocks tile [0, total) with no gap or overlap.
func Contiguous(total int, world int, rank int) (Range, error) {
	if total < 0 {
		return Range{}, fmt.Errorf(
			"partition: total size must be >= 0, got %d", total)
	}
	if world < 1 {
		return Range{}, fmt.Errorf(
			"partition: world size must be >= 1, got %d", world)
	}
	if rank < 0 || rank >= world {
		return Range{}, fmt.Errorf(
			"partition: rank %d out of range [0, %d)", rank, world)
	}
	base := total / world
	left := total % world
	begin := base*rank + min(rank, left)
	size := base
	if rank < left {
		size += 1
	}
	end := begin + size
	if end > total {
		end = total
	}
	return Range{Begin: begin, End: end}, nil
}

// ContiguousRanges
// Returns the contiguous blocks for every rank, in rank order.
func ContiguousRanges(total int, world int) ([]Range, error) {
	ranges := make([]Range, world)
	for rank := 0; rank < world; rank++ {
		r, err := Contiguous(total, world, rank)
		if err != nil {
			return nil, err
		}
		ranges[rank] = r
	}
	return ranges, nil
}

// ShardOrder
// Produces the shard permutation owned by ctx.Rank: the identity order
// over count shards, strided down to this rank, then optionally
// shuffled with the context seed. The result is reconstructible from
// (count, seed, world size, rank) alone, so every worker's shard
// ownership is deterministic and collision free.
func ShardOrder(count int, ctx WorkerContext, resample bool) ([]int, error) {
	if err := ctx.Validate(); err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, fmt.Errorf(
			"partition: shard count must be >= 1, got %d", count)
	}
	order := make([]int, count)
	for i := range order {
		order[i] = i
	}
	order = Strided(order, ctx.Rank, ctx.WorldSize)
	if resample {
		rng := rand.New(rand.NewSource(ctx.Seed))
		rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}
	return order, nil
}
