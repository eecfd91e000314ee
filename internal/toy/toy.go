// Package toy writes small deterministic BLOOM model directories. They are
// used by tests and by the toy command for smoke runs without real weights.
package toy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/samcharles93/shardstream/internal/model"
	"github.com/samcharles93/shardstream/internal/safetensors"
	"github.com/samcharles93/shardstream/internal/shard"
	"github.com/samcharles93/shardstream/internal/stage"
	"github.com/samcharles93/shardstream/internal/tensor"
	"github.com/samcharles93/shardstream/internal/tokenizer"
)

// DefaultConfig is a two-block model over the 16-token toy vocabulary.
func DefaultConfig() model.Config {
	return model.Config{
		ModelType:    "bloom",
		HiddenSize:   8,
		VocabSize:    VocabSize,
		NumHeads:     2,
		NumLayers:    2,
		LayerNormEps: 1e-5,
	}
}

// Options controls Write.
type Options struct {
	Config model.Config
	Seed   int64
	// DType is the on-disk precision of the shards.
	DType tensor.DType
}

// Shards returns the entries of every shard in layout order. Element i holds
// shard i+1.
func Shards(cfg model.Config, seed int64) [][]safetensors.Entry {
	h := cfg.HiddenSize
	rnd := func(scale float32, shape ...int) *tensor.Tensor {
		seed++
		t := tensor.New(shape...)
		tensor.FillRand(t, seed, scale)
		return t
	}
	gain := func(n int) *tensor.Tensor {
		t := rnd(0.1, n)
		for i := range t.Data {
			t.Data[i] += 1
		}
		return t
	}

	total := cfg.TotalShards()
	shards := make([][]safetensors.Entry, total)
	shards[0] = []safetensors.Entry{
		{Name: "word_embeddings.weight", Tensor: rnd(1, cfg.VocabSize, h)},
		{Name: "word_embeddings_layernorm.weight", Tensor: gain(h)},
		{Name: "word_embeddings_layernorm.bias", Tensor: rnd(0.1, h)},
	}
	for i := range cfg.NumLayers {
		prefix := stage.Block(i).Prefix()
		shards[stage.ShardFor(stage.Block(i), total)-1] = []safetensors.Entry{
			{Name: prefix + "input_layernorm.weight", Tensor: gain(h)},
			{Name: prefix + "input_layernorm.bias", Tensor: rnd(0.1, h)},
			{Name: prefix + "self_attention.query_key_value.weight", Tensor: rnd(0.4, 3*h, h)},
			{Name: prefix + "self_attention.query_key_value.bias", Tensor: rnd(0.1, 3*h)},
			{Name: prefix + "self_attention.dense.weight", Tensor: rnd(0.4, h, h)},
			{Name: prefix + "self_attention.dense.bias", Tensor: rnd(0.1, h)},
			{Name: prefix + "post_attention_layernorm.weight", Tensor: gain(h)},
			{Name: prefix + "post_attention_layernorm.bias", Tensor: rnd(0.1, h)},
			{Name: prefix + "mlp.dense_h_to_4h.weight", Tensor: rnd(0.4, 4*h, h)},
			{Name: prefix + "mlp.dense_h_to_4h.bias", Tensor: rnd(0.1, 4*h)},
			{Name: prefix + "mlp.dense_4h_to_h.weight", Tensor: rnd(0.2, h, 4*h)},
			{Name: prefix + "mlp.dense_4h_to_h.bias", Tensor: rnd(0.1, h)},
		}
	}
	shards[total-1] = []safetensors.Entry{
		{Name: "ln_f.weight", Tensor: gain(h)},
		{Name: "ln_f.bias", Tensor: rnd(0.1, h)},
	}
	return shards
}

// Write creates a model directory with config.json, tokenizer.json and
// safetensors shards.
func Write(dir string, opts Options) (shard.Layout, error) {
	cfg := opts.Config
	if cfg.HiddenSize == 0 {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return shard.Layout{}, err
	}
	if cfg.VocabSize < VocabSize {
		return shard.Layout{}, fmt.Errorf("toy vocab_size %d smaller than tokenizer vocabulary %d", cfg.VocabSize, VocabSize)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return shard.Layout{}, err
	}

	raw, err := cfg.Marshal()
	if err != nil {
		return shard.Layout{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, model.ConfigFile), raw, 0o644); err != nil {
		return shard.Layout{}, err
	}
	if err := os.WriteFile(filepath.Join(dir, tokenizer.TokenizerFile), TokenizerJSON(), 0o644); err != nil {
		return shard.Layout{}, err
	}

	layout := shard.Layout{Dir: dir, Total: cfg.TotalShards(), Format: shard.FormatSafetensors}
	for i, entries := range Shards(cfg, opts.Seed) {
		if err := safetensors.Write(layout.Path(i+1), entries, opts.DType); err != nil {
			return shard.Layout{}, fmt.Errorf("write shard %d: %w", i+1, err)
		}
	}
	return layout, nil
}
