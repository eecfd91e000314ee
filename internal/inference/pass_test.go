package inference

import (
	"math"
	"testing"

	"github.com/samcharles93/shardstream/internal/model"
	"github.com/samcharles93/shardstream/internal/tensor"
)

func TestHeadStepSelectsOnPlacedLogits(t *testing.T) {
	t.Parallel()

	cfg := model.Config{HiddenSize: 2, VocabSize: 2, NumHeads: 1, NumLayers: 1, LayerNormEps: 1e-5}
	head := model.NewHead(cfg)
	w, err := tensor.FromData([]int{2, 2}, []float32{1, 0, 1, float32(math.Ldexp(1, -9))})
	if err != nil {
		t.Fatal(err)
	}
	head.Weight = w

	cases := []struct {
		dtype tensor.DType
		want  int
	}{
		// 1 and 1+2^-9 are the same bf16 value, so the lower id wins.
		{tensor.BF16, 0},
		{tensor.F32, 1},
	}
	for _, tc := range cases {
		x, _ := tensor.FromData([]int{1, 1, 2}, []float32{1, 1})
		got, err := headStep(head, x, tensor.CPU(tc.dtype))
		if err != nil {
			t.Fatalf("%s: %v", tc.dtype, err)
		}
		if got != tc.want {
			t.Errorf("%s: next = %d, want %d", tc.dtype, got, tc.want)
		}
	}
}
