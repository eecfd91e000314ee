package tensor

import (
	"fmt"
	"slices"
)

// Tensor is a dense row-major float32 tensor.
//
// Values are always held as float32 on the host. DType records the precision
// the values are representable in: a tensor placed on a bf16 device holds
// float32 values that are exactly representable as bf16.
type Tensor struct {
	Shape []int
	DType DType
	Data  []float32
}

// New allocates a zeroed f32 tensor with the given shape.
func New(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic("negative dimension for tensor")
		}
		n *= d
	}
	return &Tensor{
		Shape: slices.Clone(shape),
		DType: F32,
		Data:  make([]float32, n),
	}
}

// FromData wraps data with the given shape. The element count must match.
func FromData(shape []int, data []float32) (*Tensor, error) {
	n, err := NumElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, &ShapeError{Op: "from_data", Want: shape, Got: []int{len(data)}}
	}
	return &Tensor{Shape: slices.Clone(shape), DType: F32, Data: data}, nil
}

// NumElements returns the product of dims, rejecting negative dims and overflow.
func NumElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("invalid dim %d", d)
		}
		if d != 0 && n > (int(^uint(0)>>1))/d {
			return 0, fmt.Errorf("tensor too large")
		}
		n *= d
	}
	return n, nil
}

// Numel returns the number of elements.
func (t *Tensor) Numel() int { return len(t.Data) }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Bytes is the resident host size of the tensor's values.
func (t *Tensor) Bytes() int64 {
	if t == nil {
		return 0
	}
	return int64(len(t.Data)) * 4
}

// Rows views the tensor as a matrix of [numel/last, last].
func (t *Tensor) Rows() (rows, cols int) {
	if len(t.Shape) == 0 {
		return 1, 1
	}
	cols = t.Shape[len(t.Shape)-1]
	if cols == 0 {
		return 0, 0
	}
	return len(t.Data) / cols, cols
}

// Row returns a view of row i of the [Rows, last] matrix.
func (t *Tensor) Row(i int) []float32 {
	_, cols := t.Rows()
	return t.Data[i*cols : (i+1)*cols]
}

// HasShape reports whether the tensor's shape equals shape.
func (t *Tensor) HasShape(shape ...int) bool {
	return slices.Equal(t.Shape, shape)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("tensor(%v, %s)", t.Shape, t.DType)
}
