package tensor

import (
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Add adds src to dst element-wise.
func Add(dst, src []float32) {
	for i := range dst {
		dst[i] += src[i]
	}
}

// LayerNorm normalizes x over its last dimension and applies the affine
// weight and bias. The result is a new tensor with x's shape.
func LayerNorm(x, weight, bias *Tensor, eps float32) (*Tensor, error) {
	rows, cols := x.Rows()
	if weight == nil || len(weight.Data) != cols {
		return nil, &ShapeError{Op: "layer_norm weight", Want: []int{cols}, Got: shapeOf(weight)}
	}
	if bias != nil && len(bias.Data) != cols {
		return nil, &ShapeError{Op: "layer_norm bias", Want: []int{cols}, Got: shapeOf(bias)}
	}
	out := New(x.Shape...)
	for r := range rows {
		src := x.Data[r*cols : (r+1)*cols]
		dst := out.Data[r*cols : (r+1)*cols]
		var mean float64
		for _, v := range src {
			mean += float64(v)
		}
		mean /= float64(cols)
		var variance float64
		for _, v := range src {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(cols)
		inv := 1 / math.Sqrt(variance+float64(eps))
		for i, v := range src {
			y := float32((float64(v) - mean) * inv)
			y *= weight.Data[i]
			if bias != nil {
				y += bias.Data[i]
			}
			dst[i] = y
		}
	}
	return out, nil
}

// Linear computes y = x·Wᵀ + b over the last dimension of x.
// w has shape [out, in]; bias may be nil.
func Linear(x, w, bias *Tensor) (*Tensor, error) {
	if w == nil || w.Rank() != 2 {
		return nil, &ShapeError{Op: "linear weight", Want: []int{-1, -1}, Got: shapeOf(w)}
	}
	outDim, inDim := w.Shape[0], w.Shape[1]
	rows, cols := x.Rows()
	if cols != inDim {
		return nil, &ShapeError{Op: "linear input", Want: []int{rows, inDim}, Got: x.Shape}
	}
	if bias != nil && len(bias.Data) != outDim {
		return nil, &ShapeError{Op: "linear bias", Want: []int{outDim}, Got: shapeOf(bias)}
	}
	shape := append(append([]int(nil), x.Shape[:len(x.Shape)-1]...), outDim)
	out := New(shape...)
	if rows == 0 {
		return out, nil
	}
	blas32.Gemm(blas.NoTrans, blas.Trans, 1,
		blas32.General{Rows: rows, Cols: inDim, Stride: inDim, Data: x.Data},
		blas32.General{Rows: outDim, Cols: inDim, Stride: inDim, Data: w.Data},
		0,
		blas32.General{Rows: rows, Cols: outDim, Stride: outDim, Data: out.Data},
	)
	if bias != nil {
		for r := range rows {
			Add(out.Data[r*outDim:(r+1)*outDim], bias.Data)
		}
	}
	return out, nil
}

// GELU applies the tanh approximation of GELU in place.
func GELU(x []float32) {
	for i, v := range x {
		f := float64(v)
		x[i] = float32(f * 0.5 * (1 + math.Tanh(0.79788456*f*(1+0.044715*f*f))))
	}
}

// Softmax applies the softmax function to x.
func Softmax(x []float32) {
	if len(x) == 0 {
		return
	}
	maxv := x[0]
	for i := 1; i < len(x); i++ {
		if x[i] > maxv {
			maxv = x[i]
		}
	}
	var sum float64
	for i := range x {
		v := math.Exp(float64(x[i] - maxv))
		x[i] = float32(v)
		sum += v
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / sum)
	for i := range x {
		x[i] *= inv
	}
}

func shapeOf(t *Tensor) []int {
	if t == nil {
		return nil
	}
	return t.Shape
}
