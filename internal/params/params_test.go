package params

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/shardstream/internal/shard"
	"github.com/samcharles93/shardstream/internal/tensor"
)

type norm struct {
	Weight, Bias *tensor.Tensor
	dim          int
}

func (n *norm) Name() string { return "norm" }

func (n *norm) Slots() []Slot {
	return []Slot{
		{Name: "weight", Shape: []int{n.dim}, Dst: &n.Weight},
		{Name: "bias", Shape: []int{n.dim}, Dst: &n.Bias},
	}
}

func mapping(entries map[string][]int, order ...string) *shard.Params {
	p := shard.NewParams()
	for _, name := range order {
		p.Set(name, tensor.New(entries[name]...))
	}
	return p
}

func TestExtractStripsPrefixAndKeepsOrder(t *testing.T) {
	t.Parallel()
	raw := mapping(map[string][]int{
		"h.1.b": {1}, "h.1.a": {1}, "h.10.a": {1}, "ln_f.weight": {1},
	}, "h.1.b", "h.10.a", "h.1.a", "ln_f.weight")

	got, err := Extract(raw, "h.1.")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if diff := cmp.Diff([]string{"b", "a"}, got.Keys()); diff != "" {
		t.Fatalf("keys mismatch (-want +got):\n%s", diff)
	}
	if raw.Len() != 4 {
		t.Fatalf("raw mapping modified: %v", raw.Keys())
	}
	a, _ := raw.Get("h.1.a")
	b, _ := got.Get("a")
	if a != b {
		t.Fatal("extract should share tensors, not copy them")
	}
}

func TestExtractNil(t *testing.T) {
	t.Parallel()
	if _, err := Extract(nil, "x."); err == nil {
		t.Fatal("expected error for nil mapping")
	}
}

func TestBindStrict(t *testing.T) {
	t.Parallel()
	m := &norm{dim: 4}
	p := mapping(map[string][]int{"weight": {4}, "bias": {4}}, "weight", "bias")
	if err := Bind(m, p, true); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	w, _ := p.Get("weight")
	if m.Weight != w {
		t.Fatal("weight not bound")
	}
	if Footprint(m) != 32 {
		t.Fatalf("Footprint = %d, want 32", Footprint(m))
	}

	Release(m)
	if m.Weight != nil || m.Bias != nil || len(Tensors(m)) != 0 {
		t.Fatal("Release left tensors bound")
	}
}

func TestBindStrictRejectsExtraAndMissing(t *testing.T) {
	t.Parallel()
	m := &norm{dim: 4}
	p := mapping(map[string][]int{"weight": {4}, "running_mean": {4}}, "weight", "running_mean")

	err := Bind(m, p, true)
	var be *BindError
	if !errors.As(err, &be) || !errors.Is(err, ErrBind) {
		t.Fatalf("expected BindError, got %v", err)
	}
	if diff := cmp.Diff([]string{"bias"}, be.Missing); diff != "" {
		t.Fatalf("missing mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"running_mean"}, be.Unexpected); diff != "" {
		t.Fatalf("unexpected mismatch (-want +got):\n%s", diff)
	}
	if m.Weight != nil {
		t.Fatal("failed bind must not assign any slot")
	}
}

func TestBindNonStrictIgnoresExtras(t *testing.T) {
	t.Parallel()
	m := &norm{dim: 2}
	p := mapping(map[string][]int{"weight": {2}, "bias": {2}, "extra": {9}}, "extra", "weight", "bias")
	if err := Bind(m, p, false); err != nil {
		t.Fatalf("Bind: %v", err)
	}

	partial := shard.NewParams()
	partial.Set("weight", tensor.New(2))
	if err := Bind(&norm{dim: 2}, partial, false); !errors.Is(err, ErrBind) {
		t.Fatalf("non-strict bind must still reject missing keys, got %v", err)
	}
}

func TestBindRejectsShapeMismatch(t *testing.T) {
	t.Parallel()
	m := &norm{dim: 4}
	p := mapping(map[string][]int{"weight": {4}, "bias": {5}}, "weight", "bias")
	err := Bind(m, p, true)
	var be *BindError
	if !errors.As(err, &be) || len(be.Mismatched) != 1 {
		t.Fatalf("expected one shape mismatch, got %v", err)
	}
}

func TestBindReplacesPreviousTensors(t *testing.T) {
	t.Parallel()
	m := &norm{dim: 1}
	first := mapping(map[string][]int{"weight": {1}, "bias": {1}}, "weight", "bias")
	second := mapping(map[string][]int{"weight": {1}, "bias": {1}}, "weight", "bias")
	if err := Bind(m, first, true); err != nil {
		t.Fatal(err)
	}
	if err := Bind(m, second, true); err != nil {
		t.Fatal(err)
	}
	w, _ := second.Get("weight")
	if m.Weight != w {
		t.Fatal("second bind did not replace the weight")
	}
	if diff := cmp.Diff([]string{"weight", "bias"}, Names(m)); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
}
