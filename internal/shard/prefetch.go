package shard

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Prefetcher wraps a Source and loads at most one hinted shard in the
// background. While a prefetched shard is pending, two shards' parameters
// can be resident at once.
type Prefetcher struct {
	src Source

	mu   sync.Mutex
	next *pendingLoad
}

type pendingLoad struct {
	index  int
	g      *errgroup.Group
	cancel context.CancelFunc
	params *Params
}

func NewPrefetcher(src Source) *Prefetcher {
	return &Prefetcher{src: src}
}

func (p *Prefetcher) Total() int { return p.src.Total() }

// Prefetch starts loading shard index in the background, replacing any
// other pending shard. Out of range indices are ignored.
func (p *Prefetcher) Prefetch(ctx context.Context, index int) {
	if index < 1 || index > p.src.Total() {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next != nil {
		if p.next.index == index {
			return
		}
		p.next.cancel()
		p.next = nil
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	pl := &pendingLoad{index: index, g: g, cancel: cancel}
	g.Go(func() error {
		params, err := p.src.Load(gctx, index)
		if err != nil {
			return err
		}
		pl.params = params
		return nil
	})
	p.next = pl
}

// Load returns the pending shard when it matches index, otherwise it loads
// from the wrapped source.
func (p *Prefetcher) Load(ctx context.Context, index int) (*Params, error) {
	p.mu.Lock()
	pl := p.next
	if pl != nil && pl.index == index {
		p.next = nil
	} else {
		pl = nil
	}
	p.mu.Unlock()

	if pl == nil {
		return p.src.Load(ctx, index)
	}
	defer pl.cancel()

	done := make(chan error, 1)
	go func() { done <- pl.g.Wait() }()
	select {
	case err := <-done:
		if err == nil {
			return pl.params, nil
		}
		// A prefetch started under an earlier, since cancelled context.
		if isContextErr(err) && ctx.Err() == nil {
			return p.src.Load(ctx, index)
		}
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close cancels and drops any pending shard.
func (p *Prefetcher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.next != nil {
		p.next.cancel()
		p.next = nil
	}
	return nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
