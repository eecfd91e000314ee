package tensor

import "math/rand"

// FillRand fills t with reproducible pseudo-random values. A small range
// around zero keeps accumulations well inside bf16 range. The same seed
// always produces the same tensor.
func FillRand(t *Tensor, seed int64, scale float32) {
	rng := rand.New(rand.NewSource(seed))
	for i := range t.Data {
		t.Data[i] = (rng.Float32()*2 - 1) * scale
	}
}
