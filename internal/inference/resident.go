package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samcharles93/shardstream/internal/model"
	"github.com/samcharles93/shardstream/internal/params"
	"github.com/samcharles93/shardstream/internal/stage"
	"github.com/samcharles93/shardstream/internal/tensor"
)

// Resident holds every stage in memory and runs the same math as the
// streaming controller. It is the reference the streaming pass is checked
// against.
type Resident struct {
	cfg model.Config
	dev tensor.Device

	mu      sync.Mutex
	emb     *model.Embedding
	embNorm *model.LayerNorm
	blocks  []*model.Block
	final   *model.LayerNorm
	head    *model.Head
	closed  bool
}

// LoadResident loads every stage once through l.
func LoadResident(ctx context.Context, l *stage.Loader) (*Resident, error) {
	r := &Resident{cfg: l.Config, dev: l.Device}
	var err error
	cleanup := func() {
		_ = r.Close()
	}

	r.emb, r.embNorm, err = l.Embeddings(ctx)
	if err != nil {
		return nil, err
	}
	r.blocks = make([]*model.Block, l.Config.NumLayers)
	for i := range r.blocks {
		b := model.NewBlock(l.Config)
		if err := l.Block(ctx, i, b); err != nil {
			cleanup()
			return nil, err
		}
		r.blocks[i] = b
	}
	if r.final, err = l.FinalNorm(ctx); err != nil {
		cleanup()
		return nil, err
	}
	if r.head, err = l.Head(ctx); err != nil {
		cleanup()
		return nil, err
	}
	return r, nil
}

func (r *Resident) Config() model.Config { return r.cfg }

// Footprint is the total resident parameter size in bytes.
func (r *Resident) Footprint() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, m := range r.modules() {
		n += params.Footprint(m)
	}
	return n
}

func (r *Resident) Forward(ctx context.Context, ids []int) (next int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return -1, errors.New("resident model is closed")
	}

	defer func() {
		if rec := recover(); rec != nil {
			next = -1
			err = fmt.Errorf("panic in resident forward pass: %v", rec)
		}
	}()

	if err := checkIDs(ids, r.cfg.VocabSize); err != nil {
		return -1, err
	}
	ab := model.NewAttentionBias(len(ids), r.cfg.NumHeads, r.dev)
	x, err := embedStep(r.emb, r.embNorm, ids, r.dev)
	if err != nil {
		return -1, fmt.Errorf("%s: %w", stage.Embeddings(), err)
	}
	for i, b := range r.blocks {
		if err := ctx.Err(); err != nil {
			return -1, err
		}
		if x, err = blockStep(b, x, ab, r.dev); err != nil {
			return -1, fmt.Errorf("%s: %w", stage.Block(i), err)
		}
	}
	if x, err = normStep(r.final, x, r.dev); err != nil {
		return -1, fmt.Errorf("%s: %w", stage.FinalNorm(), err)
	}
	next, err = headStep(r.head, x, r.dev)
	if err != nil {
		return -1, fmt.Errorf("%s: %w", stage.Head(), err)
	}
	return next, nil
}

// Close releases every stage. Further passes fail.
func (r *Resident) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.modules() {
		params.Release(m)
	}
	r.closed = true
	return nil
}

func (r *Resident) modules() []params.Module {
	var mods []params.Module
	if r.emb != nil {
		mods = append(mods, r.emb)
	}
	if r.embNorm != nil {
		mods = append(mods, r.embNorm)
	}
	for _, b := range r.blocks {
		if b != nil {
			mods = append(mods, b)
		}
	}
	if r.final != nil {
		mods = append(mods, r.final)
	}
	if r.head != nil {
		mods = append(mods, r.head)
	}
	return mods
}
