// Package shard loads the parameter shards of a model directory.
package shard

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/samcharles93/shardstream/internal/logger"
	"github.com/samcharles93/shardstream/internal/safetensors"
	"github.com/samcharles93/shardstream/internal/tensor"
	"github.com/samcharles93/shardstream/internal/torchbin"
)

// Source yields the full raw parameter mapping of a shard by index.
type Source interface {
	Load(ctx context.Context, index int) (*Params, error)
	Total() int
}

// Store reads shards from disk. Every Load re-reads the file; nothing is cached.
type Store struct {
	layout Layout
}

// Open resolves the layout format and returns a store over it.
func Open(layout Layout) (*Store, error) {
	resolved, err := layout.Resolve()
	if err != nil {
		return nil, err
	}
	return &Store{layout: resolved}, nil
}

func (s *Store) Layout() Layout { return s.layout }

func (s *Store) Total() int { return s.layout.Total }

// Load deserializes shard index into host tensors. The returned mapping does
// not alias any file mapping.
func (s *Store) Load(ctx context.Context, index int) (*Params, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if index < 1 || index > s.layout.Total {
		return nil, &StorageError{Shard: index, Err: fmt.Errorf("index out of range [1, %d]", s.layout.Total)}
	}
	path := s.layout.Path(index)
	start := time.Now()

	p := NewParams()
	collect := func(name string, t *tensor.Tensor) error {
		if _, dup := p.Get(name); dup {
			return fmt.Errorf("duplicate parameter %s", name)
		}
		p.Set(name, t)
		return nil
	}

	var err error
	switch s.layout.Format {
	case FormatSafetensors:
		err = loadSafetensors(path, collect)
	default:
		err = torchbin.Load(path, collect)
	}
	if err != nil {
		return nil, &StorageError{Shard: index, Path: path, Err: err}
	}

	logger.FromContext(ctx).Debug("shard loaded",
		"shard", index,
		"tensors", p.Len(),
		"bytes", p.Bytes(),
		"elapsed", time.Since(start),
	)
	return p, nil
}

func loadSafetensors(path string, fn func(string, *tensor.Tensor) error) (err error) {
	f, err := safetensors.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return f.Each(fn)
}

// Info describes a shard file without decoding it.
type Info struct {
	Index int
	Path  string
	Size  int64
}

// Stat reports the path and size of shard index.
func (s *Store) Stat(index int) (Info, error) {
	if index < 1 || index > s.layout.Total {
		return Info{}, &StorageError{Shard: index, Err: fmt.Errorf("index out of range [1, %d]", s.layout.Total)}
	}
	path := s.layout.Path(index)
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, &StorageError{Shard: index, Path: path, Err: err}
	}
	return Info{Index: index, Path: path, Size: st.Size()}, nil
}
