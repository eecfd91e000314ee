package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

// DType is the numeric precision of a tensor.
type DType uint8

const (
	F32 DType = iota
	F16
	BF16
)

func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case F16:
		return "f16"
	case BF16:
		return "bf16"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// Size is the on-disk element size in bytes.
func (d DType) Size() int {
	switch d {
	case F16, BF16:
		return 2
	default:
		return 4
	}
}

// SafetensorsName is the dtype tag used in safetensors headers.
func (d DType) SafetensorsName() string {
	return strings.ToUpper(d.String())
}

// ParseDType accepts f32/f16/bf16 and the safetensors spellings (F32, BF16, ...).
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f32", "float32", "fp32":
		return F32, nil
	case "f16", "float16", "fp16", "half":
		return F16, nil
	case "bf16", "bfloat16":
		return BF16, nil
	default:
		return 0, fmt.Errorf("unsupported dtype %q", s)
	}
}

// Decode converts little-endian raw element bytes of dtype d to float32.
func Decode(d DType, raw []byte) ([]float32, error) {
	if len(raw)%d.Size() != 0 {
		return nil, fmt.Errorf("%s: raw length %d not a multiple of %d", d, len(raw), d.Size())
	}
	switch d {
	case F32:
		out := make([]float32, len(raw)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
		}
		return out, nil
	case F16:
		out := make([]float32, len(raw)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(raw[i*2:])).Float32()
		}
		return out, nil
	case BF16:
		out := make([]float32, len(raw)/2)
		for i := range out {
			out[i] = bfloat16.ToFloat32(bfloat16.FromBytes(raw[i*2:]))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported dtype %s", d)
	}
}

// Encode converts float32 values to little-endian raw bytes of dtype d.
func Encode(d DType, data []float32) ([]byte, error) {
	switch d {
	case F32:
		out := make([]byte, len(data)*4)
		for i, v := range data {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
		}
		return out, nil
	case F16:
		out := make([]byte, len(data)*2)
		for i, v := range data {
			binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(v).Bits())
		}
		return out, nil
	case BF16:
		out := make([]byte, len(data)*2)
		for i, v := range data {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(toBF16(v)))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported dtype %s", d)
	}
}

// Round rewrites data in place so every value is representable in dtype d.
func Round(d DType, data []float32) {
	switch d {
	case F16:
		for i, v := range data {
			data[i] = float16.Fromfloat32(v).Float32()
		}
	case BF16:
		for i, v := range data {
			data[i] = bfloat16.ToFloat32(toBF16(v))
		}
	}
}

// toBF16 rounds v to the nearest bfloat16, ties to even. NaN keeps its sign
// and stays quiet.
func toBF16(v float32) bfloat16.BF16 {
	b := math.Float32bits(v)
	if math.IsNaN(float64(v)) {
		return bfloat16.BF16(b>>16 | 0x0040)
	}
	return bfloat16.BF16((b + 0x7FFF + ((b >> 16) & 1)) >> 16)
}

// Device is the compute placement for stage parameters and activations.
// Only host execution exists; the device fixes the numeric precision.
type Device struct {
	Name  string
	DType DType
}

// CPU returns a host device computing at dtype d.
func CPU(d DType) Device {
	return Device{Name: "cpu", DType: d}
}

// Place converts each tensor in place to the device precision.
// Nil tensors are skipped so optional slots can be passed through.
func (dev Device) Place(ts ...*Tensor) {
	for _, t := range ts {
		if t == nil {
			continue
		}
		if t.DType != dev.DType {
			Round(dev.DType, t.Data)
			t.DType = dev.DType
		}
	}
}

func (dev Device) String() string {
	return dev.Name + ":" + dev.DType.String()
}
