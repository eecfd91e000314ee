package inference

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samcharles93/shardstream/internal/logger"
	"github.com/samcharles93/shardstream/internal/model"
	"github.com/samcharles93/shardstream/internal/params"
	"github.com/samcharles93/shardstream/internal/stage"
	"github.com/samcharles93/shardstream/internal/tensor"
)

// State is the position of a streaming pass in its stage sequence.
type State uint8

const (
	StateInit State = iota
	StateEmbedLoaded
	StateBlockLoaded
	StateFinalNormApplied
	StateHeadLoaded
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateEmbedLoaded:
		return "embed_loaded"
	case StateBlockLoaded:
		return "block_loaded"
	case StateFinalNormApplied:
		return "final_norm_applied"
	case StateHeadLoaded:
		return "head_loaded"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Hooks observe stage residency. OnStageLoaded receives the bound tensors of
// a stage right after binding; OnStageReleased fires once they are dropped.
// Hooks must not retain the tensors.
type Hooks struct {
	OnStageLoaded   func(id stage.ID, tensors []*tensor.Tensor)
	OnStageReleased func(id stage.ID)
}

// PassStats describes one forward pass.
type PassStats struct {
	Passes       int
	Load         time.Duration
	Compute      time.Duration
	BytesLoaded  int64
	PeakResident int64
}

// Add accumulates o into s. PeakResident keeps the maximum.
func (s *PassStats) Add(o PassStats) {
	s.Passes += o.Passes
	s.Load += o.Load
	s.Compute += o.Compute
	s.BytesLoaded += o.BytesLoaded
	s.PeakResident = max(s.PeakResident, o.PeakResident)
}

// Forwarder predicts the next token for a full token sequence.
type Forwarder interface {
	Forward(ctx context.Context, ids []int) (int, error)
}

// Controller runs forward passes that keep at most one stage's parameters
// resident. Passes are serialized: the block shell is shared between them.
type Controller struct {
	loader *stage.Loader
	hooks  Hooks

	mu    sync.Mutex
	shell *model.Block
	state State
	last  PassStats
}

func NewController(l *stage.Loader, hooks Hooks) *Controller {
	return &Controller{
		loader: l,
		hooks:  hooks,
		shell:  model.NewBlock(l.Config),
	}
}

// Config returns the model configuration the controller runs.
func (c *Controller) Config() model.Config { return c.loader.Config }

// State returns the state reached by the most recent pass.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastStats returns the statistics of the most recent successful pass.
func (c *Controller) LastStats() PassStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Forward streams every stage over ids and returns the greedy next token.
func (c *Controller) Forward(ctx context.Context, ids []int) (next int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			next = -1
			err = fmt.Errorf("panic in forward pass at %s: %v", c.state, r)
		}
	}()

	cfg := c.loader.Config
	c.state = StateInit
	if err := checkIDs(ids, cfg.VocabSize); err != nil {
		return -1, err
	}

	var st PassStats
	st.Passes = 1
	ab := model.NewAttentionBias(len(ids), cfg.NumHeads, c.loader.Device)

	x, err := c.embed(ctx, ids, &st)
	if err != nil {
		return -1, err
	}
	for i := range cfg.NumLayers {
		if err := ctx.Err(); err != nil {
			return -1, err
		}
		x, err = c.block(ctx, i, x, ab, &st)
		if err != nil {
			return -1, err
		}
	}
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	x, err = c.finalNorm(ctx, x, &st)
	if err != nil {
		return -1, err
	}
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	next, err = c.head(ctx, x, &st)
	if err != nil {
		return -1, err
	}

	c.state = StateDone
	c.last = st
	return next, nil
}

func (c *Controller) embed(ctx context.Context, ids []int, st *PassStats) (*tensor.Tensor, error) {
	id := stage.Embeddings()
	start := time.Now()
	emb, norm, err := c.loader.Embeddings(ctx)
	if err != nil {
		return nil, err
	}
	defer c.release(id, emb, norm)
	c.loaded(ctx, id, st, start, emb, norm)
	c.state = StateEmbedLoaded

	start = time.Now()
	x, err := embedStep(emb, norm, ids, c.loader.Device)
	c.computed(ctx, id, st, start)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	return x, nil
}

func (c *Controller) block(ctx context.Context, i int, x *tensor.Tensor, ab *model.AttentionBias, st *PassStats) (*tensor.Tensor, error) {
	id := stage.Block(i)
	start := time.Now()
	if err := c.loader.Block(ctx, i, c.shell); err != nil {
		params.Release(c.shell)
		return nil, err
	}
	defer c.release(id, c.shell)
	c.loaded(ctx, id, st, start, c.shell)
	c.state = StateBlockLoaded

	start = time.Now()
	out, err := blockStep(c.shell, x, ab, c.loader.Device)
	c.computed(ctx, id, st, start)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	return out, nil
}

func (c *Controller) finalNorm(ctx context.Context, x *tensor.Tensor, st *PassStats) (*tensor.Tensor, error) {
	id := stage.FinalNorm()
	start := time.Now()
	norm, err := c.loader.FinalNorm(ctx)
	if err != nil {
		return nil, err
	}
	defer c.release(id, norm)
	c.loaded(ctx, id, st, start, norm)

	start = time.Now()
	out, err := normStep(norm, x, c.loader.Device)
	c.computed(ctx, id, st, start)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, err)
	}
	c.state = StateFinalNormApplied
	return out, nil
}

func (c *Controller) head(ctx context.Context, x *tensor.Tensor, st *PassStats) (int, error) {
	id := stage.Head()
	start := time.Now()
	head, err := c.loader.Head(ctx)
	if err != nil {
		return -1, err
	}
	defer c.release(id, head)
	c.loaded(ctx, id, st, start, head)
	c.state = StateHeadLoaded

	start = time.Now()
	next, err := headStep(head, x, c.loader.Device)
	c.computed(ctx, id, st, start)
	if err != nil {
		return -1, fmt.Errorf("%s: %w", id, err)
	}
	return next, nil
}

func (c *Controller) loaded(ctx context.Context, id stage.ID, st *PassStats, start time.Time, mods ...params.Module) {
	elapsed := time.Since(start)
	var bytes int64
	var tensors []*tensor.Tensor
	for _, m := range mods {
		bytes += params.Footprint(m)
		tensors = append(tensors, params.Tensors(m)...)
	}
	st.Load += elapsed
	st.BytesLoaded += bytes
	st.PeakResident = max(st.PeakResident, bytes)

	logger.FromContext(ctx).Debug("stage loaded",
		"stage", id.String(),
		"shard", stage.ShardFor(id, c.loader.Source.Total()),
		"bytes", bytes,
		"load", elapsed,
	)
	if c.hooks.OnStageLoaded != nil {
		c.hooks.OnStageLoaded(id, tensors)
	}
}

func (c *Controller) computed(ctx context.Context, id stage.ID, st *PassStats, start time.Time) {
	elapsed := time.Since(start)
	st.Compute += elapsed
	logger.FromContext(ctx).Debug("stage computed", "stage", id.String(), "compute", elapsed)
}

func (c *Controller) release(id stage.ID, mods ...params.Module) {
	for _, m := range mods {
		params.Release(m)
	}
	if c.hooks.OnStageReleased != nil {
		c.hooks.OnStageReleased(id)
	}
}

func checkIDs(ids []int, vocab int) error {
	if len(ids) == 0 {
		return &tensor.ShapeError{Op: "input ids", Want: []int{1, -1}, Got: []int{1, 0}}
	}
	for _, id := range ids {
		if id < 0 || id >= vocab {
			return &tensor.ShapeError{Op: "input token id", Want: []int{0, vocab}, Got: []int{id}}
		}
	}
	return nil
}
