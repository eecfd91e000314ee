// Package logits turns vocabulary logits into the next token id.
package logits

import (
	"errors"
	"math"

	"github.com/samcharles93/shardstream/internal/tensor"
)

// ErrEmpty is returned when there is nothing to select from.
var ErrEmpty = errors.New("logits: empty vector")

// Greedy returns the id of the largest logit. Ties resolve to the lowest id.
// NaN logits never win.
func Greedy(logits []float32) (int, error) {
	if len(logits) == 0 {
		return -1, ErrEmpty
	}
	best := -1
	for i, v := range logits {
		if math.IsNaN(float64(v)) {
			continue
		}
		if best < 0 || v > logits[best] {
			best = i
		}
	}
	if best < 0 {
		return -1, errors.New("logits: every value is NaN")
	}
	return best, nil
}

// Last returns the logits of the last sequence position of a [.., seq, vocab]
// tensor.
func Last(t *tensor.Tensor) []float32 {
	rows, _ := t.Rows()
	if rows == 0 {
		return nil
	}
	return t.Row(rows - 1)
}
