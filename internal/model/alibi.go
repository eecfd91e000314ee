package model

import (
	"math"

	"github.com/samcharles93/shardstream/internal/tensor"
)

// AttentionBias is the per-pass positional state shared read-only by every block.
type AttentionBias struct {
	Alibi *tensor.Tensor // [heads, 1, seq]
	Mask  *tensor.Tensor // [1, seq], 1 attends, 0 is masked
}

// NewAttentionBias builds the ALiBi bias and an all-ones mask for a sequence
// of length seq, placed at the device precision.
func NewAttentionBias(seq, heads int, dev tensor.Device) *AttentionBias {
	mask := tensor.New(1, seq)
	for i := range mask.Data {
		mask.Data[i] = 1
	}
	ab := &AttentionBias{Alibi: Alibi(seq, heads), Mask: mask}
	dev.Place(ab.Alibi, ab.Mask)
	return ab
}

// Alibi returns slope_h * j for every head h and key position j.
func Alibi(seq, heads int) *tensor.Tensor {
	slopes := AlibiSlopes(heads)
	out := tensor.New(heads, 1, seq)
	for h, s := range slopes {
		row := out.Data[h*seq : (h+1)*seq]
		for j := range row {
			row[j] = s * float32(j)
		}
	}
	return out
}

// AlibiSlopes returns the per-head geometric slopes. Head counts that are not
// a power of two interleave slopes from the next power of two.
func AlibiSlopes(heads int) []float32 {
	closest := 1 << int(math.Floor(math.Log2(float64(heads))))
	base := math.Pow(2, -math.Pow(2, -(math.Log2(float64(closest)) - 3)))
	slopes := make([]float32, 0, heads)
	for i := 1; i <= closest; i++ {
		slopes = append(slopes, float32(math.Pow(base, float64(i))))
	}
	if closest != heads {
		extraBase := math.Pow(2, -math.Pow(2, -(math.Log2(float64(2*closest)) - 3)))
		extra := min(closest, heads-closest)
		for i := 0; i < extra; i++ {
			slopes = append(slopes, float32(math.Pow(extraBase, float64(1+2*i))))
		}
	}
	return slopes
}
