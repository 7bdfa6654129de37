package vlpipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vlpipe/vlpipe/fetch"
	"github.com/vlpipe/vlpipe/partition"
	"github.com/vlpipe/vlpipe/tile"
)

func writeMetaFile(t *testing.T, dir string, body string) string {
	t.Helper()
	name := filepath.Join(dir, "meta.json")
	require.NoError(t, os.WriteFile(name, []byte(body), 0644))
	return name
}

func TestLoadMetaValidation(t *testing.T) {
	dir := t.TempDir()
	source := fetch.NewSource()

	good := writeMetaFile(t, dir, `{
		"laion": {"kind": "interleaved", "root": "/img", "annotation": "/ann",
			"tag": "laion", "shard_count": 4, "shard_capacity": 1000,
			"repeat_time": 2},
		"chat": {"kind": "conversational", "root": "/img",
			"annotation": "/ann/chat.jsonl"}
	}`)
	meta, err := LoadMeta(source, good)
	require.NoError(t, err)
	require.Len(t, meta, 2)
	assert.Equal(t, 2, meta["laion"].RepeatTime)
	assert.Equal(t, KindConversational, meta["chat"].Kind)

	cases := []struct {
		name string
		body string
	}{
		{"empty", `{}`},
		{"unknown kind", `{"x": {"kind": "video"}}`},
		{"interleaved missing tag",
			`{"x": {"kind": "interleaved", "shard_count": 1, "shard_capacity": 1}}`},
		{"conversational missing annotation",
			`{"x": {"kind": "conversational"}}`},
	}
	for _, c := range cases {
		uri := writeMetaFile(t, t.TempDir(), c.body)
		_, err := LoadMeta(source, uri)
		assert.Error(t, err, c.name)
	}
}

func TestBuildMixtureFromMeta(t *testing.T) {
	imageRoot := t.TempDir()
	url := "http://example.com/shared.png"
	writeTestImage(t, imageRoot, HashLocator(url), 40, 40)

	shardDir := t.TempDir()
	writeInterleavedShards(t, shardDir, "web", 2, 4, url)
	annotation := writeConversationalAnnotation(t, t.TempDir(), 6)

	meta := MetaFile{
		"web": {
			Kind:          KindInterleaved,
			Root:          imageRoot,
			Annotation:    shardDir,
			Tag:           "web",
			ShardCount:    2,
			ShardCapacity: 4,
		},
		"chat": {
			Kind:       KindConversational,
			Annotation: annotation,
		},
	}

	cfg := DefaultAssemblerConfig()
	cfg.NumImageToken = 4
	cfg.ImageSize = 32
	cfg.Grid = tile.GridConfig{TileSize: 32, MinTiles: 1, MaxTiles: 6}
	sampler, err := BuildMixture(meta, MixtureConfig{
		Assembler: cfg,
		Worker:    partition.WorkerContext{Rank: 0, WorldSize: 1, Seed: 3},
	}, testTokenizer(), fetch.NewSource())
	require.NoError(t, err)

	assert.Equal(t, 14, sampler.Len(), "8 interleaved + 6 conversational")
	weights := sampler.Weights()
	require.Len(t, weights, 2)
	// Name order: chat before web.
	assert.InDelta(t, 6.0/14.0, weights[0], 1e-9)
	assert.InDelta(t, 8.0/14.0, weights[1], 1e-9)

	for i := 0; i < 10; i++ {
		bundle, err := sampler.Next()
		require.NoError(t, err)
		assert.NotZero(t, bundle.SeqLen())
	}
}
