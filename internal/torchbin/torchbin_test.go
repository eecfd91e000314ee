package torchbin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/samcharles93/shardstream/internal/tensor"
)

func TestGatherContiguous(t *testing.T) {
	t.Parallel()
	src := []float32{9, 1, 2, 3, 4, 5, 6}
	dst := make([]float32, 6)
	if err := gather(dst, src, 1, []int{2, 3}, []int{3, 1}); err != nil {
		t.Fatalf("gather: %v", err)
	}
	if diff := cmp.Diff([]float32{1, 2, 3, 4, 5, 6}, dst); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestGatherTransposed(t *testing.T) {
	t.Parallel()
	// storage holds a [3,2] matrix; the view is its [2,3] transpose.
	src := []float32{1, 4, 2, 5, 3, 6}
	dst := make([]float32, 6)
	if err := gather(dst, src, 0, []int{2, 3}, []int{1, 2}); err != nil {
		t.Fatalf("gather: %v", err)
	}
	if diff := cmp.Diff([]float32{1, 2, 3, 4, 5, 6}, dst); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestGatherOutOfRange(t *testing.T) {
	t.Parallel()
	dst := make([]float32, 4)
	if err := gather(dst, make([]float32, 3), 0, []int{4}, []int{1}); err == nil {
		t.Fatal("expected out of range error")
	}
}

func TestConvertHalfStorageKeepsDType(t *testing.T) {
	t.Parallel()
	storage := &pytorch.HalfStorage{Data: []float32{0.5, 1.5}}
	got, err := convert(&pytorch.Tensor{Source: storage, Size: []int{2}, Stride: []int{1}})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got.DType != tensor.F16 {
		t.Fatalf("dtype = %s, want f16", got.DType)
	}
	if diff := cmp.Diff([]float32{0.5, 1.5}, got.Data); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestConvertRejectsIntegerStorage(t *testing.T) {
	t.Parallel()
	_, err := convert(&pytorch.Tensor{Source: &pytorch.LongStorage{Data: []int64{1}}, Size: []int{1}, Stride: []int{1}})
	if err == nil {
		t.Fatal("expected unsupported storage error")
	}
}

func TestWalkOrderedDictKeepsOrder(t *testing.T) {
	t.Parallel()
	d := types.NewOrderedDict()
	d.Set("b", 1)
	d.Set("a", 2)

	var keys []any
	if err := walk(d, func(k, _ any) error {
		keys = append(keys, k)
		return nil
	}); err != nil {
		t.Fatalf("walk: %v", err)
	}
	if diff := cmp.Diff([]any{"b", "a"}, keys); diff != "" {
		t.Fatalf("order mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsNonPickle(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "pytorch_model-00001-of-00003.bin")
	if err := os.WriteFile(path, []byte("definitely not a pickle"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Load(path, func(string, *tensor.Tensor) error { return nil }); err == nil {
		t.Fatal("expected unpickle error")
	}
}
