package vlpipe

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Prefetcher assembles bundles ahead of the consumer with a pool of
// loader workers. Worker w owns indices[w::workers] and writes to its
// own bounded channel; Next drains the channels round-robin, which
// restores the original index order without any reordering buffer.
// Blocking work (remote fetch, image decode) touches only per-call
// state, so workers never contend.
type Prefetcher struct {
	chans  []chan fetched
	group  *errgroup.Group
	done   chan struct{}
	once   sync.Once
	next   int
	remain int
}

type fetched struct {
	bundle *Bundle
	err    error
}

// NewPrefetcher starts workers goroutines serving indices from ds.
// depth bounds each worker's ready-ahead queue.
func NewPrefetcher(ds Dataset, indices []int, workers int,
	depth int) *Prefetcher {
	if workers < 1 {
		workers = 1
	}
	if workers > len(indices) && len(indices) > 0 {
		workers = len(indices)
	}
	if depth < 1 {
		depth = 2
	}
	p := &Prefetcher{
		chans:  make([]chan fetched, workers),
		group:  &errgroup.Group{},
		done:   make(chan struct{}),
		remain: len(indices),
	}
	for w := 0; w < workers; w++ {
		w := w
		ch := make(chan fetched, depth)
		p.chans[w] = ch
		p.group.Go(func() error {
			defer close(ch)
			for i := w; i < len(indices); i += workers {
				bundle, err := ds.Get(indices[i])
				select {
				case ch <- fetched{bundle: bundle, err: err}:
				case <-p.done:
					return nil
				}
			}
			return nil
		})
	}
	return p
}

// Next
// Returns the next bundle in index order, or nil once every index has
// been served. A non-nil error reproduces the dataset's failure for
// that index; iteration continues past it.
func (p *Prefetcher) Next() (*Bundle, error) {
	if p.remain == 0 {
		return nil, nil
	}
	ch := p.chans[p.next]
	p.next = (p.next + 1) % len(p.chans)
	item, ok := <-ch
	if !ok {
		return nil, fmt.Errorf("prefetch: worker channel closed early")
	}
	p.remain -= 1
	return item.bundle, item.err
}

// Close abandons iteration: workers drop any pending send and exit, and
// Close blocks until they have. Next must not be called after Close.
// Safe to call repeatedly and after exhaustion.
func (p *Prefetcher) Close() error {
	p.once.Do(func() { close(p.done) })
	return p.group.Wait()
}

// Wait blocks until every worker has drained, returning the first
// worker error.
func (p *Prefetcher) Wait() error {
	return p.group.Wait()
}
