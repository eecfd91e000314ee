package shard

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/shardstream/internal/safetensors"
	"github.com/samcharles93/shardstream/internal/tensor"
)

func writeShard(t *testing.T, l Layout, i int, names ...string) {
	t.Helper()
	entries := make([]safetensors.Entry, len(names))
	for n, name := range names {
		x := tensor.New(2)
		x.Data[0] = float32(i)
		x.Data[1] = float32(n)
		entries[n] = safetensors.Entry{Name: name, Tensor: x}
	}
	if err := safetensors.Write(l.Path(i), entries, tensor.F32); err != nil {
		t.Fatalf("write shard %d: %v", i, err)
	}
}

func TestLayoutPath(t *testing.T) {
	t.Parallel()

	bin := Layout{Dir: "/m", Total: 72, Format: FormatBin}
	if got, want := bin.Path(7), "/m/pytorch_model_00007-of-00072.bin"; got != want {
		t.Fatalf("bin path = %q, want %q", got, want)
	}
	st := Layout{Dir: "/m", Total: 72, Format: FormatSafetensors}
	if got, want := st.Path(72), "/m/model-00072-of-00072.safetensors"; got != want {
		t.Fatalf("safetensors path = %q, want %q", got, want)
	}
}

func TestParseFormat(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]Format{"": FormatAuto, "AUTO": FormatAuto, "bin": FormatBin, "safetensors": FormatSafetensors} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("gguf"); err == nil {
		t.Fatal("expected error for gguf")
	}
}

func TestResolveAuto(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	if _, err := (Layout{Dir: dir, Total: 3, Format: FormatAuto}).Resolve(); !errors.Is(err, ErrStorage) || !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected storage not-exist error, got %v", err)
	}

	bin := Layout{Dir: dir, Total: 3, Format: FormatBin}
	if err := os.WriteFile(bin.Path(1), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := Layout{Dir: dir, Total: 3}.Resolve()
	if err != nil || got.Format != FormatBin {
		t.Fatalf("Resolve = %+v, %v; want bin", got, err)
	}

	writeShard(t, Layout{Dir: dir, Total: 3, Format: FormatSafetensors}, 1, "a")
	got, err = Layout{Dir: dir, Total: 3, Format: FormatAuto}.Resolve()
	if err != nil || got.Format != FormatSafetensors {
		t.Fatalf("Resolve = %+v, %v; want safetensors", got, err)
	}
}

func TestValidateReportsEveryMissingShard(t *testing.T) {
	t.Parallel()
	l := Layout{Dir: t.TempDir(), Total: 3, Format: FormatSafetensors}
	writeShard(t, l, 2, "a")

	err := l.Validate()
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("expected StorageError, got %v", err)
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok || len(joined.Unwrap()) != 2 {
		t.Fatalf("expected two errors, got %v", err)
	}
}

func TestStoreLoadPreservesOrder(t *testing.T) {
	t.Parallel()
	l := Layout{Dir: t.TempDir(), Total: 2, Format: FormatSafetensors}
	writeShard(t, l, 1, "word_embeddings.weight", "word_embeddings_layernorm.weight", "word_embeddings_layernorm.bias")
	writeShard(t, l, 2, "ln_f.weight", "ln_f.bias")

	s, err := Open(l)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	p, err := s.Load(context.Background(), 1)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"word_embeddings.weight", "word_embeddings_layernorm.weight", "word_embeddings_layernorm.bias"}
	if diff := cmp.Diff(want, p.Keys()); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	if p.Bytes() != 3*2*4 {
		t.Fatalf("Bytes = %d", p.Bytes())
	}

	again, err := s.Load(context.Background(), 1)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	a, _ := p.Get("word_embeddings.weight")
	b, _ := again.Get("word_embeddings.weight")
	if a == b {
		t.Fatal("expected a fresh tensor on every load")
	}
}

func TestStoreLoadErrors(t *testing.T) {
	t.Parallel()
	l := Layout{Dir: t.TempDir(), Total: 3, Format: FormatSafetensors}
	writeShard(t, l, 1, "a")
	if err := os.WriteFile(l.Path(2), []byte("garbage!garbage!"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(l)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	for _, index := range []int{0, 2, 3, 4} {
		_, err := s.Load(context.Background(), index)
		var se *StorageError
		if !errors.As(err, &se) {
			t.Fatalf("Load(%d): expected StorageError, got %v", index, err)
		}
		if se.Shard != index {
			t.Fatalf("Load(%d): error names shard %d", index, se.Shard)
		}
	}
	if _, err := s.Load(context.Background(), 3); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist for missing shard, got %v", err)
	}
}

func TestStoreLoadCorruptBin(t *testing.T) {
	t.Parallel()
	l := Layout{Dir: t.TempDir(), Total: 1, Format: FormatBin}
	if err := os.WriteFile(l.Path(1), []byte("not a zip or pickle"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(l)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := s.Load(context.Background(), 1); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
}

func TestStat(t *testing.T) {
	t.Parallel()
	l := Layout{Dir: t.TempDir(), Total: 1, Format: FormatSafetensors}
	writeShard(t, l, 1, "a")
	s, err := Open(l)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	info, err := s.Stat(1)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if filepath.Base(info.Path) != "model-00001-of-00001.safetensors" || info.Size <= 8 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestParamsPop(t *testing.T) {
	t.Parallel()
	p := NewParams()
	p.Set("a", tensor.New(1))
	p.Set("b", tensor.New(1))
	p.Set("c", tensor.New(1))

	if _, ok := p.Pop("b"); !ok {
		t.Fatal("expected b")
	}
	if _, ok := p.Pop("b"); ok {
		t.Fatal("b popped twice")
	}
	if diff := cmp.Diff([]string{"a", "c"}, p.Keys()); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
}

type countingSource struct {
	mu    sync.Mutex
	total int
	loads map[int]int
}

func (c *countingSource) Total() int { return c.total }

func (c *countingSource) Load(ctx context.Context, index int) (*Params, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.loads[index]++
	c.mu.Unlock()
	p := NewParams()
	p.Set("index", tensor.New(index))
	return p, nil
}

func TestPrefetcherServesPendingShard(t *testing.T) {
	t.Parallel()
	src := &countingSource{total: 4, loads: map[int]int{}}
	pf := NewPrefetcher(src)
	t.Cleanup(func() { _ = pf.Close() })
	ctx := context.Background()

	pf.Prefetch(ctx, 3)
	p, err := pf.Load(ctx, 3)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if x, _ := p.Get("index"); x.Numel() != 3 {
		t.Fatalf("got shard %d", x.Numel())
	}
	if _, err := pf.Load(ctx, 2); err != nil {
		t.Fatalf("Load: %v", err)
	}
	pf.Prefetch(ctx, 9) // out of range, ignored

	src.mu.Lock()
	defer src.mu.Unlock()
	if diff := cmp.Diff(map[int]int{2: 1, 3: 1}, src.loads); diff != "" {
		t.Fatalf("load counts mismatch (-want +got):\n%s", diff)
	}
}

func TestPrefetcherRecoversFromCancelledPrefetch(t *testing.T) {
	t.Parallel()
	src := &countingSource{total: 4, loads: map[int]int{}}
	pf := NewPrefetcher(src)

	stale, cancel := context.WithCancel(context.Background())
	cancel()
	pf.Prefetch(stale, 2)

	p, err := pf.Load(context.Background(), 2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.Len() != 1 {
		t.Fatalf("unexpected params %v", p.Keys())
	}
}
