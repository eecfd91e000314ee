package shard

import (
	"context"
	"fmt"
	"os"

	"github.com/samcharles93/shardstream/internal/logger"
	"github.com/samcharles93/shardstream/internal/safetensors"
	"github.com/samcharles93/shardstream/internal/tensor"
)

// ConvertOptions controls Convert.
type ConvertOptions struct {
	// Cast forces every output shard to one dtype. Nil keeps the dtype of
	// each shard's first tensor.
	Cast *tensor.DType
	// OnShard is called after each shard is written.
	OnShard func(index int, path string)
}

// Convert rewrites every shard of src as a safetensors shard under dir,
// keeping the shard numbering and tensor order.
func Convert(ctx context.Context, src Source, dir string, opts ConvertOptions) (Layout, error) {
	dst := Layout{Dir: dir, Total: src.Total(), Format: FormatSafetensors}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dst, err
	}
	log := logger.FromContext(ctx)
	for i := 1; i <= dst.Total; i++ {
		p, err := src.Load(ctx, i)
		if err != nil {
			return dst, err
		}
		entries := make([]safetensors.Entry, 0, p.Len())
		dtype := tensor.F32
		p.Each(func(name string, t *tensor.Tensor) bool {
			if len(entries) == 0 {
				dtype = t.DType
			}
			entries = append(entries, safetensors.Entry{Name: name, Tensor: t})
			return true
		})
		if opts.Cast != nil {
			dtype = *opts.Cast
		}
		path := dst.Path(i)
		if err := safetensors.Write(path, entries, dtype); err != nil {
			return dst, &StorageError{Shard: i, Path: path, Err: fmt.Errorf("write: %w", err)}
		}
		log.Debug("shard converted", "shard", i, "tensors", len(entries), "dtype", dtype.String())
		if opts.OnShard != nil {
			opts.OnShard(i, path)
		}
	}
	return dst, nil
}

// Count returns the number of tensors in shard index. Safetensors shards are
// counted from their header without decoding.
func (s *Store) Count(ctx context.Context, index int) (int, error) {
	if s.layout.Format != FormatSafetensors {
		p, err := s.Load(ctx, index)
		if err != nil {
			return 0, err
		}
		return p.Len(), nil
	}
	if index < 1 || index > s.layout.Total {
		return 0, &StorageError{Shard: index, Err: fmt.Errorf("index out of range [1, %d]", s.layout.Total)}
	}
	path := s.layout.Path(index)
	f, err := safetensors.Open(path)
	if err != nil {
		return 0, &StorageError{Shard: index, Path: path, Err: err}
	}
	n := len(f.Tensors)
	if err := f.Close(); err != nil {
		return 0, &StorageError{Shard: index, Path: path, Err: err}
	}
	return n, nil
}
