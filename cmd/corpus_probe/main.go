package main

import (
	"flag"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/yargevad/filepathx"

	"github.com/vlpipe/vlpipe"
	"github.com/vlpipe/vlpipe/fetch"
	"github.com/vlpipe/vlpipe/partition"
)

// CountShards
// Given a local annotation directory and a corpus tag, recursively
// globs the numbered shard files and returns how many there are.
func CountShards(annotationDir string, tag string) (int, error) {
	pattern := filepath.Join(annotationDir, "**",
		tag+"_shard_*.jsonl")
	matches, err := filepathx.Glob(pattern)
	if err != nil {
		return 0, err
	}
	if len(matches) == 0 {
		// Shards may sit directly in the annotation directory.
		matches, err = filepathx.Glob(filepath.Join(annotationDir,
			tag+"_shard_*.jsonl"))
		if err != nil {
			return 0, err
		}
	}
	if len(matches) == 0 {
		return 0, fmt.Errorf("%s does not contain any %s shard files",
			annotationDir, tag)
	}
	return len(matches), nil
}

func main() {
	annotationDir := flag.String("annotation_dir", "",
		"directory or remote prefix holding the shard files")
	tag := flag.String("tag", "web",
		"corpus tag naming the shard files")
	shardCount := flag.Int("shards", 0,
		"number of shards; 0 globs the annotation directory")
	shardCapacity := flag.Int("capacity", 1000,
		"logical records per shard")
	imageDir := flag.String("image_dir", "",
		"directory or remote prefix holding the images")
	rank := flag.Int("rank", 0, "worker rank")
	worldSize := flag.Int("world_size", 1, "worker count")
	seed := flag.Int64("seed", 0, "worker seed")
	resample := flag.Bool("resample", false,
		"shuffle this rank's shard order with the seed")
	begin := flag.Int("begin", 0, "first logical index to probe")
	count := flag.Int("count", 100, "number of indices to probe")
	workers := flag.Int("workers", 4, "parallel loader workers")
	depth := flag.Int("depth", 2, "per-worker ready-ahead depth")
	imageSize := flag.Int("image_size", 448, "square tile side")
	numImageToken := flag.Int("image_tokens", 256,
		"context-marker budget per tile")
	maxSeqLen := flag.Int("max_seq_len", 2048, "token truncation length")
	maxImages := flag.Int("max_images", 6, "image cap per sample")
	flag.Parse()
	if *annotationDir == "" {
		flag.Usage()
		log.Fatal("you must provide -annotation_dir")
	}

	shards := *shardCount
	if shards == 0 {
		if fetch.IsRemote(*annotationDir) {
			log.Fatal("remote annotation prefixes need an explicit -shards")
		}
		var err error
		if shards, err = CountShards(*annotationDir, *tag); err != nil {
			log.Fatal(err)
		}
	}

	// The probe only checks plumbing and accounting, so a trivial
	// tokenizer with stable marker ids is enough.
	tok := vlpipe.NewWordTokenizer(vlpipe.ImgStartToken,
		vlpipe.ImgEndToken, vlpipe.ImgContextToken)
	source := fetch.NewSource()

	cfg := vlpipe.DefaultAssemblerConfig()
	cfg.ImageRoot = *imageDir
	cfg.ImageSize = *imageSize
	cfg.NumImageToken = *numImageToken
	cfg.MaxSeqLen = *maxSeqLen
	cfg.MaxImages = *maxImages
	asm, err := vlpipe.NewAssembler(cfg, tok, source)
	if err != nil {
		log.Fatal(err)
	}

	ds, err := vlpipe.NewInterleavedDataset(vlpipe.CorpusConfig{
		Tag:           *tag,
		ShardCount:    shards,
		ShardCapacity: *shardCapacity,
		AnnotationDir: *annotationDir,
		Resample:      *resample,
		Worker: partition.WorkerContext{
			Rank:      *rank,
			WorldSize: *worldSize,
			Seed:      *seed,
		},
	}, asm, source)
	if err != nil {
		log.Fatal(err)
	}

	log.Printf("corpus %s: %s shards x %s records, %s logical indices",
		*tag, humanize.Comma(int64(shards)),
		humanize.Comma(int64(*shardCapacity)),
		humanize.Comma(int64(ds.Len())))
	for _, span := range ds.Index().Table().Spans() {
		log.Printf("  [%s, %s) %s",
			humanize.Comma(int64(span.Start)),
			humanize.Comma(int64(span.End)), span.Name)
	}

	indices := make([]int, 0, *count)
	for i := 0; i < *count; i++ {
		indices = append(indices, *begin+i)
	}
	probe := vlpipe.NewPrefetcher(ds, indices, *workers, *depth)

	served, failed, tokens, tiles := 0, 0, int64(0), 0
	start := time.Now()
	for {
		bundle, err := probe.Next()
		if err != nil {
			failed += 1
			log.Printf("probe: %v", err)
			continue
		}
		if bundle == nil {
			break
		}
		served += 1
		tokens += int64(bundle.SeqLen())
		tiles += bundle.TileCount()
		if served == 1 {
			shape := bundle.PixelValues.Shape()
			log.Printf("first bundle: %d tokens, pixels %dx%dx%dx%d, "+
				"flags %v", bundle.SeqLen(), shape[0], shape[1],
				shape[2], shape[3], bundle.ImageFlags)
		}
	}
	if err := probe.Wait(); err != nil {
		log.Fatal(err)
	}

	elapsed := time.Since(start)
	perSec := float64(served) / elapsed.Seconds()
	log.Printf("served %s samples (%s failed) in %s: %.1f samples/s, "+
		"%s tokens, %s tiles, %d shard loads",
		humanize.Comma(int64(served)), humanize.Comma(int64(failed)),
		elapsed.Round(time.Millisecond), perSec,
		humanize.Comma(tokens), humanize.Comma(int64(tiles)),
		ds.Index().Loads())
}
