package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/samcharles93/shardstream/internal/params"
	"github.com/samcharles93/shardstream/internal/tensor"
)

// Block is one BLOOM decoder layer: pre-norm fused-QKV self-attention with
// ALiBi, then a pre-norm GELU MLP, each with a residual connection.
//
// A Block is a reusable shell. Binding a new layer's parameters replaces the
// previous layer's tensors in place.
type Block struct {
	InputNormWeight *tensor.Tensor
	InputNormBias   *tensor.Tensor
	QKVWeight       *tensor.Tensor
	QKVBias         *tensor.Tensor
	DenseWeight     *tensor.Tensor
	DenseBias       *tensor.Tensor
	PostNormWeight  *tensor.Tensor
	PostNormBias    *tensor.Tensor
	UpWeight        *tensor.Tensor
	UpBias          *tensor.Tensor
	DownWeight      *tensor.Tensor
	DownBias        *tensor.Tensor

	cfg   Config
	index int
}

func NewBlock(cfg Config) *Block {
	return &Block{cfg: cfg}
}

// SetIndex names the layer the shell is about to hold.
func (b *Block) SetIndex(i int) { b.index = i }

func (b *Block) Index() int { return b.index }

func (b *Block) Name() string { return fmt.Sprintf("h.%d", b.index) }

func (b *Block) Slots() []params.Slot {
	h := b.cfg.HiddenSize
	return []params.Slot{
		{Name: "input_layernorm.weight", Shape: []int{h}, Dst: &b.InputNormWeight},
		{Name: "input_layernorm.bias", Shape: []int{h}, Dst: &b.InputNormBias},
		{Name: "self_attention.query_key_value.weight", Shape: []int{3 * h, h}, Dst: &b.QKVWeight},
		{Name: "self_attention.query_key_value.bias", Shape: []int{3 * h}, Dst: &b.QKVBias},
		{Name: "self_attention.dense.weight", Shape: []int{h, h}, Dst: &b.DenseWeight},
		{Name: "self_attention.dense.bias", Shape: []int{h}, Dst: &b.DenseBias},
		{Name: "post_attention_layernorm.weight", Shape: []int{h}, Dst: &b.PostNormWeight},
		{Name: "post_attention_layernorm.bias", Shape: []int{h}, Dst: &b.PostNormBias},
		{Name: "mlp.dense_h_to_4h.weight", Shape: []int{4 * h, h}, Dst: &b.UpWeight},
		{Name: "mlp.dense_h_to_4h.bias", Shape: []int{4 * h}, Dst: &b.UpBias},
		{Name: "mlp.dense_4h_to_h.weight", Shape: []int{h, 4 * h}, Dst: &b.DownWeight},
		{Name: "mlp.dense_4h_to_h.bias", Shape: []int{h}, Dst: &b.DownBias},
	}
}

// Forward runs the layer on x of shape [1, seq, hidden] and returns a new
// activation of the same shape.
func (b *Block) Forward(x *tensor.Tensor, ab *AttentionBias) (*tensor.Tensor, error) {
	for _, s := range b.Slots() {
		if *s.Dst == nil {
			return nil, fmt.Errorf("%s: %s not bound", b.Name(), s.Name)
		}
	}
	seq, hidden := x.Rows()
	if hidden != b.cfg.HiddenSize {
		return nil, &tensor.ShapeError{Op: b.Name() + " input", Want: []int{1, seq, b.cfg.HiddenSize}, Got: x.Shape}
	}
	if ab == nil || !ab.Alibi.HasShape(b.cfg.NumHeads, 1, seq) || !ab.Mask.HasShape(1, seq) {
		var got []int
		if ab != nil && ab.Alibi != nil {
			got = ab.Alibi.Shape
		}
		return nil, &tensor.ShapeError{Op: b.Name() + " alibi", Want: []int{b.cfg.NumHeads, 1, seq}, Got: got}
	}

	normed, err := tensor.LayerNorm(x, b.InputNormWeight, b.InputNormBias, b.cfg.LayerNormEps)
	if err != nil {
		return nil, err
	}
	qkv, err := tensor.Linear(normed, b.QKVWeight, b.QKVBias)
	if err != nil {
		return nil, err
	}
	attnCtx := b.attention(qkv, seq, ab)
	attn, err := tensor.Linear(attnCtx, b.DenseWeight, b.DenseBias)
	if err != nil {
		return nil, err
	}
	tensor.Add(attn.Data, x.Data)

	normed, err = tensor.LayerNorm(attn, b.PostNormWeight, b.PostNormBias, b.cfg.LayerNormEps)
	if err != nil {
		return nil, err
	}
	up, err := tensor.Linear(normed, b.UpWeight, b.UpBias)
	if err != nil {
		return nil, err
	}
	tensor.GELU(up.Data)
	out, err := tensor.Linear(up, b.DownWeight, b.DownBias)
	if err != nil {
		return nil, err
	}
	tensor.Add(out.Data, attn.Data)
	return out, nil
}

// attention computes causal multi-head attention over the fused projection.
// qkv rows are laid out per head as [q | k | v], each headDim wide.
func (b *Block) attention(qkv *tensor.Tensor, seq int, ab *AttentionBias) *tensor.Tensor {
	h := b.cfg.HiddenSize
	heads := b.cfg.NumHeads
	hd := b.cfg.HeadDim()
	stride := 3 * h
	scale := float32(1 / math.Sqrt(float64(hd)))
	negInf := float32(math.Inf(-1))

	out := tensor.New(1, seq, h)
	scores := make([]float32, seq*seq)
	for n := range heads {
		base := n * 3 * hd
		q := blas32.General{Rows: seq, Cols: hd, Stride: stride, Data: qkv.Data[base:]}
		k := blas32.General{Rows: seq, Cols: hd, Stride: stride, Data: qkv.Data[base+hd:]}
		v := blas32.General{Rows: seq, Cols: hd, Stride: stride, Data: qkv.Data[base+2*hd:]}
		s := blas32.General{Rows: seq, Cols: seq, Stride: seq, Data: scores}
		blas32.Gemm(blas.NoTrans, blas.Trans, scale, q, k, 0, s)

		alibi := ab.Alibi.Data[n*seq : (n+1)*seq]
		for i := range seq {
			row := scores[i*seq : (i+1)*seq]
			for j := range row {
				if j > i || ab.Mask.Data[j] == 0 {
					row[j] = negInf
					continue
				}
				row[j] += alibi[j]
			}
			tensor.Softmax(row)
		}

		c := blas32.General{Rows: seq, Cols: hd, Stride: h, Data: out.Data[n*hd:]}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, s, v, 0, c)
	}
	return out
}
