package tensor

import (
	"errors"
	"fmt"
)

// ErrShape matches every ShapeError via errors.Is.
var ErrShape = errors.New("shape mismatch")

// ShapeError reports a tensor or sequence dimension mismatch.
type ShapeError struct {
	Op   string
	Want []int
	Got  []int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape: %s: want %v, got %v", e.Op, e.Want, e.Got)
}

func (e *ShapeError) Unwrap() error { return ErrShape }
