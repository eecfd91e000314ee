package model

import (
	"fmt"

	"github.com/samcharles93/shardstream/internal/params"
	"github.com/samcharles93/shardstream/internal/tensor"
)

// Embedding maps token ids to rows of the word embedding table.
type Embedding struct {
	Weight *tensor.Tensor

	vocab, hidden int
}

func NewEmbedding(cfg Config) *Embedding {
	return &Embedding{vocab: cfg.VocabSize, hidden: cfg.HiddenSize}
}

func (e *Embedding) Name() string { return "word_embeddings" }

func (e *Embedding) Slots() []params.Slot {
	return []params.Slot{{Name: "weight", Shape: []int{e.vocab, e.hidden}, Dst: &e.Weight}}
}

// Forward looks up ids and returns activations of shape [1, seq, hidden].
func (e *Embedding) Forward(ids []int) (*tensor.Tensor, error) {
	if e.Weight == nil {
		return nil, fmt.Errorf("%s: not bound", e.Name())
	}
	out := tensor.New(1, len(ids), e.hidden)
	for i, id := range ids {
		if id < 0 || id >= e.vocab {
			return nil, &tensor.ShapeError{Op: "embedding token id", Want: []int{0, e.vocab}, Got: []int{id}}
		}
		copy(out.Data[i*e.hidden:(i+1)*e.hidden], e.Weight.Row(id))
	}
	return out, nil
}

// LayerNorm is an affine layer normalization over the hidden dimension.
type LayerNorm struct {
	Weight *tensor.Tensor
	Bias   *tensor.Tensor

	name string
	dim  int
	eps  float32
}

func NewLayerNorm(name string, dim int, eps float32) *LayerNorm {
	return &LayerNorm{name: name, dim: dim, eps: eps}
}

func (n *LayerNorm) Name() string { return n.name }

func (n *LayerNorm) Slots() []params.Slot {
	return []params.Slot{
		{Name: "weight", Shape: []int{n.dim}, Dst: &n.Weight},
		{Name: "bias", Shape: []int{n.dim}, Dst: &n.Bias},
	}
}

func (n *LayerNorm) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if n.Weight == nil {
		return nil, fmt.Errorf("%s: not bound", n.name)
	}
	return tensor.LayerNorm(x, n.Weight, n.Bias, n.eps)
}

// Head is the bias-free LM head projection. Its weight is the tied word
// embedding table.
type Head struct {
	Weight *tensor.Tensor

	vocab, hidden int
}

func NewHead(cfg Config) *Head {
	return &Head{vocab: cfg.VocabSize, hidden: cfg.HiddenSize}
}

func (h *Head) Name() string { return "lm_head" }

func (h *Head) Slots() []params.Slot {
	return []params.Slot{{Name: "weight", Shape: []int{h.vocab, h.hidden}, Dst: &h.Weight}}
}

// Forward projects the last sequence position of x to vocabulary logits.
func (h *Head) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if h.Weight == nil {
		return nil, fmt.Errorf("%s: not bound", h.Name())
	}
	rows, cols := x.Rows()
	if rows == 0 || cols != h.hidden {
		return nil, &tensor.ShapeError{Op: "lm_head input", Want: []int{1, -1, h.hidden}, Got: x.Shape}
	}
	last, err := tensor.FromData([]int{1, cols}, x.Row(rows-1))
	if err != nil {
		return nil, err
	}
	return tensor.Linear(last, h.Weight, nil)
}
