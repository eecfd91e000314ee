package stage

import (
	"context"
	"fmt"

	"github.com/samcharles93/shardstream/internal/model"
	"github.com/samcharles93/shardstream/internal/params"
	"github.com/samcharles93/shardstream/internal/shard"
	"github.com/samcharles93/shardstream/internal/tensor"
)

// embeddingKey is the tied word embedding table in shard 1.
const embeddingKey = "word_embeddings.weight"

// prefetcher is implemented by sources that can load a shard ahead of use.
type prefetcher interface {
	Prefetch(ctx context.Context, index int)
}

// Loader materializes stage modules from a shard source. Every returned
// module is bound and placed at the device precision.
type Loader struct {
	Source shard.Source
	Config model.Config
	Device tensor.Device
}

// NewLoader checks that the source's shard count matches the configuration.
func NewLoader(src shard.Source, cfg model.Config, dev tensor.Device) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if got, want := src.Total(), cfg.TotalShards(); got != want {
		return nil, fmt.Errorf("shard count %d does not match %d layers (want %d shards)", got, cfg.NumLayers, want)
	}
	return &Loader{Source: src, Config: cfg, Device: dev}, nil
}

// Embeddings loads the word embedding table and its layer norm from shard 1.
func (l *Loader) Embeddings(ctx context.Context) (*model.Embedding, *model.LayerNorm, error) {
	id := Embeddings()
	raw, err := l.load(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	emb := model.NewEmbedding(l.Config)
	weight, ok := raw.Pop(embeddingKey)
	if !ok {
		return nil, nil, l.fail(id, &params.BindError{Module: emb.Name(), Missing: []string{embeddingKey}})
	}
	table := shard.NewParams()
	table.Set("weight", weight)
	if err := params.Bind(emb, table, true); err != nil {
		return nil, nil, l.fail(id, err)
	}

	norm := model.NewLayerNorm("word_embeddings_layernorm", l.Config.HiddenSize, l.Config.LayerNormEps)
	if err := l.bind(id, norm, raw, true); err != nil {
		params.Release(emb)
		return nil, nil, err
	}
	l.Device.Place(params.Tensors(emb)...)
	l.Device.Place(params.Tensors(norm)...)
	return emb, norm, nil
}

// Block refills shell with the parameters of block i.
func (l *Loader) Block(ctx context.Context, i int, shell *model.Block) error {
	id := Block(i)
	if i < 0 || i >= l.Config.NumLayers {
		return l.fail(id, fmt.Errorf("block index out of range [0, %d)", l.Config.NumLayers))
	}
	raw, err := l.load(ctx, id)
	if err != nil {
		return err
	}
	shell.SetIndex(i)
	if err := l.bind(id, shell, raw, true); err != nil {
		return err
	}
	l.Device.Place(params.Tensors(shell)...)
	return nil
}

// FinalNorm loads ln_f from the last shard.
func (l *Loader) FinalNorm(ctx context.Context) (*model.LayerNorm, error) {
	id := FinalNorm()
	raw, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	norm := model.NewLayerNorm("ln_f", l.Config.HiddenSize, l.Config.LayerNormEps)
	if err := l.bind(id, norm, raw, true); err != nil {
		return nil, err
	}
	l.Device.Place(params.Tensors(norm)...)
	return norm, nil
}

// Head loads the LM head from the tied embedding table in shard 1. Binding
// is non-strict so other shard 1 entries under the prefix are tolerated.
func (l *Loader) Head(ctx context.Context) (*model.Head, error) {
	id := Head()
	raw, err := l.load(ctx, id)
	if err != nil {
		return nil, err
	}
	head := model.NewHead(l.Config)
	if err := l.bind(id, head, raw, false); err != nil {
		return nil, err
	}
	l.Device.Place(params.Tensors(head)...)
	return head, nil
}

func (l *Loader) load(ctx context.Context, id ID) (*shard.Params, error) {
	index := ShardFor(id, l.Source.Total())
	raw, err := l.Source.Load(ctx, index)
	if err != nil {
		return nil, l.fail(id, err)
	}
	if p, ok := l.Source.(prefetcher); ok {
		if nextID, ok := next(id, l.Config.NumLayers); ok {
			p.Prefetch(ctx, ShardFor(nextID, l.Source.Total()))
		}
	}
	return raw, nil
}

func (l *Loader) bind(id ID, m params.Module, raw *shard.Params, strict bool) error {
	sub, err := params.Extract(raw, id.Prefix())
	if err != nil {
		return l.fail(id, err)
	}
	if err := params.Bind(m, sub, strict); err != nil {
		return l.fail(id, err)
	}
	return nil
}

func (l *Loader) fail(id ID, err error) error {
	return &LoadError{Stage: id, Shard: ShardFor(id, l.Source.Total()), Err: err}
}
