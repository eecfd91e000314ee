package inference

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/samcharles93/shardstream/internal/logger"
	"github.com/samcharles93/shardstream/internal/model"
	"github.com/samcharles93/shardstream/internal/shard"
	"github.com/samcharles93/shardstream/internal/stage"
	"github.com/samcharles93/shardstream/internal/tensor"
	"github.com/samcharles93/shardstream/internal/tokenizer"
)

// Loader opens a model directory holding config.json, tokenizer.json and
// the numbered shards.
type Loader struct {
	DType  tensor.DType
	Format shard.Format
	// Prefetch reads the next stage's shard in the background.
	Prefetch bool
	// Resident loads every stage up front instead of streaming.
	Resident bool
	Hooks    Hooks
}

type LoadResult struct {
	Engine     *EngineImpl
	Config     model.Config
	Layout     shard.Layout
	Tokenizer  *tokenizer.HFTokenizer
	Loader     *stage.Loader
	Controller *Controller
	Resident   *Resident
}

func (l Loader) Load(ctx context.Context, modelDir string) (*LoadResult, error) {
	if strings.TrimSpace(modelDir) == "" {
		return nil, fmt.Errorf("model directory is required")
	}

	cfg, err := model.LoadConfig(modelDir)
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.LoadDir(modelDir)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	if tok.VocabSize() > cfg.VocabSize {
		return nil, fmt.Errorf("tokenizer vocab %d exceeds model vocab %d", tok.VocabSize(), cfg.VocabSize)
	}

	store, err := shard.Open(shard.Layout{Dir: modelDir, Total: cfg.TotalShards(), Format: l.Format})
	if err != nil {
		return nil, err
	}
	layout := store.Layout()
	if err := layout.Validate(); err != nil {
		return nil, err
	}

	var (
		src     shard.Source = store
		closers []io.Closer
	)
	if l.Prefetch && !l.Resident {
		pf := shard.NewPrefetcher(store)
		src = pf
		closers = append(closers, pf)
	}
	cleanup := func(err error) (*LoadResult, error) {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, err
	}

	dev := tensor.CPU(l.DType)
	sl, err := stage.NewLoader(src, cfg, dev)
	if err != nil {
		return cleanup(err)
	}

	res := &LoadResult{
		Config:    cfg,
		Layout:    layout,
		Tokenizer: tok,
		Loader:    sl,
	}
	var fwd Forwarder
	if l.Resident {
		r, err := LoadResident(ctx, sl)
		if err != nil {
			return cleanup(err)
		}
		closers = append(closers, r)
		res.Resident = r
		fwd = r
	} else {
		c := NewController(sl, l.Hooks)
		res.Controller = c
		fwd = c
	}
	res.Engine = NewEngine(fwd, tok, cfg, closers...)

	logger.FromContext(ctx).Info("model opened",
		"dir", modelDir,
		"blocks", cfg.NumLayers,
		"hidden", cfg.HiddenSize,
		"heads", cfg.NumHeads,
		"vocab", cfg.VocabSize,
		"device", dev.String(),
		"resident", l.Resident,
		"prefetch", l.Prefetch && !l.Resident,
	)
	return res, nil
}
