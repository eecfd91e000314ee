// Package torchbin reads PyTorch pickled state dicts (pytorch_model-*.bin).
package torchbin

import (
	"fmt"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"

	"github.com/samcharles93/shardstream/internal/tensor"
)

// Load unpickles a state dict and hands each tensor to fn in file order.
// Values are copied out of the pickle storages into contiguous host tensors.
func Load(path string, fn func(name string, t *tensor.Tensor) error) error {
	obj, err := pytorch.Load(path)
	if err != nil {
		return fmt.Errorf("%s: unpickle: %w", path, err)
	}
	return walk(obj, func(key any, val any) error {
		name, ok := key.(string)
		if !ok {
			return fmt.Errorf("%s: non-string state dict key %v", path, key)
		}
		pt, ok := val.(*pytorch.Tensor)
		if !ok {
			return fmt.Errorf("%s: entry %s is %T, not a tensor", path, name, val)
		}
		t, err := convert(pt)
		if err != nil {
			return fmt.Errorf("%s: entry %s: %w", path, name, err)
		}
		return fn(name, t)
	})
}

func walk(obj any, fn func(key, val any) error) error {
	switch d := obj.(type) {
	case *types.OrderedDict:
		for e := d.List.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*types.OrderedDictEntry)
			if err := fn(entry.Key, entry.Value); err != nil {
				return err
			}
		}
		return nil
	case *types.Dict:
		for _, k := range d.Keys() {
			if err := fn(k, d.MustGet(k)); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unexpected state dict type %T", obj)
	}
}

func convert(pt *pytorch.Tensor) (*tensor.Tensor, error) {
	var (
		src   []float32
		dtype tensor.DType
	)
	switch s := pt.Source.(type) {
	case *pytorch.FloatStorage:
		src, dtype = s.Data, tensor.F32
	case *pytorch.HalfStorage:
		src, dtype = s.Data, tensor.F16
	case *pytorch.BFloat16Storage:
		src, dtype = s.Data, tensor.BF16
	case *pytorch.DoubleStorage:
		src = make([]float32, len(s.Data))
		for i, v := range s.Data {
			src[i] = float32(v)
		}
		dtype = tensor.F32
	default:
		return nil, fmt.Errorf("unsupported storage %T", pt.Source)
	}

	out := tensor.New(pt.Size...)
	out.DType = dtype
	if out.Numel() == 0 {
		return out, nil
	}
	if err := gather(out.Data, src, pt.StorageOffset, pt.Size, pt.Stride); err != nil {
		return nil, err
	}
	return out, nil
}

// gather copies a strided view of src into dst in row-major order.
func gather(dst, src []float32, offset int, size, stride []int) error {
	if len(stride) != len(size) {
		return fmt.Errorf("stride rank %d does not match size rank %d", len(stride), len(size))
	}
	last := offset
	for i, d := range size {
		last += (d - 1) * stride[i]
	}
	if offset < 0 || last >= len(src) {
		return fmt.Errorf("view [%d, %d] outside storage of %d elements", offset, last, len(src))
	}

	contiguous := true
	expect := 1
	for i := len(size) - 1; i >= 0; i-- {
		if size[i] != 1 && stride[i] != expect {
			contiguous = false
			break
		}
		expect *= size[i]
	}
	if contiguous {
		copy(dst, src[offset:offset+len(dst)])
		return nil
	}

	idx := make([]int, len(size))
	for n := range dst {
		pos := offset
		for i, v := range idx {
			pos += v * stride[i]
		}
		dst[n] = src[pos]
		for i := len(idx) - 1; i >= 0; i-- {
			idx[i]++
			if idx[i] < size[i] {
				break
			}
			idx[i] = 0
		}
	}
	return nil
}
