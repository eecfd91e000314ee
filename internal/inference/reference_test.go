package inference_test

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/shardstream/internal/inference"
	"github.com/samcharles93/shardstream/internal/model"
	"github.com/samcharles93/shardstream/internal/shard"
	"github.com/samcharles93/shardstream/internal/stage"
	"github.com/samcharles93/shardstream/internal/tensor"
	"github.com/samcharles93/shardstream/internal/toy"
)

// loopModel is a direct loop implementation of the BLOOM forward pass over
// the raw shard tensors. It shares no code with the model package.
type loopModel struct {
	cfg model.Config
	w   map[string][]float32
}

func loadLoopModel(t *testing.T, layout shard.Layout, cfg model.Config) *loopModel {
	t.Helper()
	store, err := shard.Open(layout)
	if err != nil {
		t.Fatalf("shard.Open: %v", err)
	}
	m := &loopModel{cfg: cfg, w: make(map[string][]float32)}
	for i := 1; i <= layout.Total; i++ {
		p, err := store.Load(context.Background(), i)
		if err != nil {
			t.Fatalf("Load(%d): %v", i, err)
		}
		p.Each(func(name string, tt *tensor.Tensor) bool {
			m.w[name] = tt.Data
			return true
		})
	}
	return m
}

func (m *loopModel) get(name string) []float32 {
	w, ok := m.w[name]
	if !ok {
		panic("missing weight " + name)
	}
	return w
}

func (m *loopModel) norm(x []float32, prefix string) []float32 {
	h := m.cfg.HiddenSize
	w, b := m.get(prefix+"weight"), m.get(prefix+"bias")
	out := make([]float32, len(x))
	for r := 0; r < len(x)/h; r++ {
		row := x[r*h : (r+1)*h]
		var mean, vari float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(h)
		for _, v := range row {
			vari += (float64(v) - mean) * (float64(v) - mean)
		}
		vari /= float64(h)
		for i, v := range row {
			out[r*h+i] = float32((float64(v)-mean)/math.Sqrt(vari+float64(m.cfg.LayerNormEps)))*w[i] + b[i]
		}
	}
	return out
}

func (m *loopModel) linear(x []float32, prefix string, inDim int, bias bool) []float32 {
	w := m.get(prefix + "weight")
	outDim := len(w) / inDim
	rows := len(x) / inDim
	out := make([]float32, rows*outDim)
	for r := 0; r < rows; r++ {
		for o := 0; o < outDim; o++ {
			var sum float64
			for k := 0; k < inDim; k++ {
				sum += float64(x[r*inDim+k]) * float64(w[o*inDim+k])
			}
			if bias {
				sum += float64(m.get(prefix + "bias")[o])
			}
			out[r*outDim+o] = float32(sum)
		}
	}
	return out
}

func (m *loopModel) block(x []float32, layer, seq int) []float32 {
	h, heads := m.cfg.HiddenSize, m.cfg.NumHeads
	hd := h / heads
	p := fmt.Sprintf("h.%d.", layer)

	qkv := m.linear(m.norm(x, p+"input_layernorm."), p+"self_attention.query_key_value.", h, true)
	ctx := make([]float32, seq*h)
	for n := 0; n < heads; n++ {
		// Power-of-two head counts: slope_n = 2^(-8(n+1)/heads).
		slope := math.Pow(2, -8*float64(n+1)/float64(heads))
		at := func(r, part, d int) float64 { return float64(qkv[r*3*h+n*3*hd+part*hd+d]) }
		for i := 0; i < seq; i++ {
			scores := make([]float64, i+1)
			maxv := math.Inf(-1)
			for j := 0; j <= i; j++ {
				var dot float64
				for d := 0; d < hd; d++ {
					dot += at(i, 0, d) * at(j, 1, d)
				}
				scores[j] = dot/math.Sqrt(float64(hd)) + slope*float64(j)
				maxv = math.Max(maxv, scores[j])
			}
			var total float64
			for j := range scores {
				scores[j] = math.Exp(scores[j] - maxv)
				total += scores[j]
			}
			for d := 0; d < hd; d++ {
				var sum float64
				for j := range scores {
					sum += scores[j] / total * at(j, 2, d)
				}
				ctx[i*h+n*hd+d] = float32(sum)
			}
		}
	}
	attn := m.linear(ctx, p+"self_attention.dense.", h, true)
	for i := range attn {
		attn[i] += x[i]
	}
	up := m.linear(m.norm(attn, p+"post_attention_layernorm."), p+"mlp.dense_h_to_4h.", h, true)
	for i, v := range up {
		f := float64(v)
		up[i] = float32(0.5 * f * (1 + math.Tanh(math.Sqrt(2/math.Pi)*(f+0.044715*f*f*f))))
	}
	out := m.linear(up, p+"mlp.dense_4h_to_h.", 4*h, true)
	for i := range out {
		out[i] += attn[i]
	}
	return out
}

func (m *loopModel) next(ids []int) int {
	h := m.cfg.HiddenSize
	table := m.get("word_embeddings.weight")
	x := make([]float32, 0, len(ids)*h)
	for _, id := range ids {
		x = append(x, table[id*h:(id+1)*h]...)
	}
	x = m.norm(x, "word_embeddings_layernorm.")
	for layer := 0; layer < m.cfg.NumLayers; layer++ {
		x = m.block(x, layer, len(ids))
	}
	x = m.norm(x, "ln_f.")
	logits := m.linear(x[(len(ids)-1)*h:], "word_embeddings.", h, false)
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return best
}

func TestStreamingMatchesLoopReference(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := toy.DefaultConfig()
	layout, err := toy.Write(t.TempDir(), toy.Options{Config: cfg, Seed: 7, DType: tensor.F32})
	if err != nil {
		t.Fatalf("toy.Write: %v", err)
	}
	store, err := shard.Open(layout)
	if err != nil {
		t.Fatalf("shard.Open: %v", err)
	}
	l, err := stage.NewLoader(store, cfg, tensor.CPU(tensor.F32))
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}

	ref := loadLoopModel(t, layout, cfg)
	want := []int{3, 7}
	for range 2 {
		want = append(want, ref.next(want))
	}

	gen := &inference.Generator{Forwarder: inference.NewController(l, inference.Hooks{})}
	got, _, err := gen.Generate(ctx, []int{3, 7}, 2, nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("streaming output differs from loop reference (-want +got):\n%s", diff)
	}
}
