package partition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContiguousTilesWithoutGaps(t *testing.T) {
	totals := []int{0, 1, 7, 64, 100, 101, 6144, 34190}
	worlds := []int{1, 2, 3, 7, 8, 64}
	for _, total := range totals {
		for _, world := range worlds {
			ranges, err := ContiguousRanges(total, world)
			require.NoError(t, err)
			cursor := 0
			minSize, maxSize := total, 0
			for rank, r := range ranges {
				assert.Equal(t, cursor, r.Begin,
					"total=%d world=%d rank=%d", total, world, rank)
				cursor = r.End
				if r.Len() < minSize {
					minSize = r.Len()
				}
				if r.Len() > maxSize {
					maxSize = r.Len()
				}
			}
			assert.Equal(t, total, cursor,
				"union must cover [0, total) for total=%d world=%d",
				total, world)
			if total > 0 {
				assert.LessOrEqual(t, maxSize-minSize, 1,
					"per-rank sizes must differ by at most one")
			}
		}
	}
}

func TestContiguousRemainderGoesToLowRanks(t *testing.T) {
	// 10 items over 4 ranks: sizes 3,3,2,2.
	ranges, err := ContiguousRanges(10, 4)
	require.NoError(t, err)
	assert.Equal(t, Range{0, 3}, ranges[0])
	assert.Equal(t, Range{3, 6}, ranges[1])
	assert.Equal(t, Range{6, 8}, ranges[2])
	assert.Equal(t, Range{8, 10}, ranges[3])
}

func TestContiguousRejectsBadArguments(t *testing.T) {
	_, err := Contiguous(10, 0, 0)
	assert.Error(t, err)
	_, err = Contiguous(10, 4, 4)
	assert.Error(t, err)
	_, err = Contiguous(-1, 4, 0)
	assert.Error(t, err)
}

func TestStridedCoversEveryElementOnce(t *testing.T) {
	items := make([]int, 101)
	for i := range items {
		items[i] = i
	}
	world := 8
	seen := make(map[int]int)
	for rank := 0; rank < world; rank++ {
		for _, item := range Strided(items, rank, world) {
			seen[item] += 1
		}
	}
	require.Len(t, seen, len(items))
	for item, count := range seen {
		assert.Equal(t, 1, count, "element %d selected %d times", item, count)
	}
}

func TestStridedSelection(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	assert.Equal(t, []string{"b", "e"}, Strided(items, 1, 3))
	assert.Equal(t, []string{"c"}, Strided(items, 2, 3))
}

func TestShardOrderDeterministic(t *testing.T) {
	ctx := WorkerContext{Rank: 0, WorldSize: 1, Seed: 42}
	first, err := ShardOrder(64, ctx, true)
	require.NoError(t, err)
	second, err := ShardOrder(64, ctx, true)
	require.NoError(t, err)
	assert.Equal(t, first, second,
		"same seed must produce the same permutation")

	unshuffled, err := ShardOrder(64, ctx, false)
	require.NoError(t, err)
	for i, v := range unshuffled {
		assert.Equal(t, i, v)
	}
}

func TestShardOrderDisjointAcrossRanks(t *testing.T) {
	world := 4
	seen := make(map[int]bool)
	for rank := 0; rank < world; rank++ {
		ctx := WorkerContext{Rank: rank, WorldSize: world, Seed: 7}
		order, err := ShardOrder(33, ctx, true)
		require.NoError(t, err)
		for _, shard := range order {
			assert.False(t, seen[shard],
				"shard %d assigned to more than one rank", shard)
			seen[shard] = true
		}
	}
	assert.Len(t, seen, 33)
}
