// Package params binds raw shard mappings onto stage modules by name.
package params

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/samcharles93/shardstream/internal/shard"
	"github.com/samcharles93/shardstream/internal/tensor"
)

// Slot is one named parameter of a module. Dst points at the module field
// that receives the tensor.
type Slot struct {
	Name  string
	Shape []int
	Dst   **tensor.Tensor
}

// Module is a stage computation unit with a fixed set of named parameters.
type Module interface {
	Name() string
	Slots() []Slot
}

// ErrBind matches every BindError via errors.Is.
var ErrBind = errors.New("bind")

// BindError reports a mapping whose keys or shapes do not fit a module.
type BindError struct {
	Module     string
	Missing    []string
	Unexpected []string
	Mismatched []string // "name: want [..], got [..]"
}

func (e *BindError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected "+strings.Join(e.Unexpected, ", "))
	}
	if len(e.Mismatched) > 0 {
		parts = append(parts, "shape "+strings.Join(e.Mismatched, "; "))
	}
	return fmt.Sprintf("bind %s: %s", e.Module, strings.Join(parts, "; "))
}

func (e *BindError) Unwrap() error { return ErrBind }

// Extract returns the entries of raw whose key starts with prefix, with the
// prefix stripped and order preserved. raw is not modified.
func Extract(raw *shard.Params, prefix string) (*shard.Params, error) {
	if raw == nil {
		return nil, errors.New("extract: nil mapping")
	}
	out := shard.NewParams()
	var err error
	raw.Each(func(name string, t *tensor.Tensor) bool {
		if !strings.HasPrefix(name, prefix) {
			return true
		}
		if t == nil {
			err = fmt.Errorf("extract: %s has no tensor", name)
			return false
		}
		out.Set(strings.TrimPrefix(name, prefix), t)
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Bind assigns the tensors in p to m's slots by exact name. In strict mode
// keys without a slot are an error; missing keys and shape mismatches are an
// error in both modes. Nothing is assigned unless the whole mapping fits.
func Bind(m Module, p *shard.Params, strict bool) error {
	slots := m.Slots()
	bindErr := &BindError{Module: m.Name()}
	known := make(map[string]struct{}, len(slots))
	for _, s := range slots {
		known[s.Name] = struct{}{}
		t, ok := p.Get(s.Name)
		switch {
		case !ok || t == nil:
			bindErr.Missing = append(bindErr.Missing, s.Name)
		case s.Shape != nil && !t.HasShape(s.Shape...):
			bindErr.Mismatched = append(bindErr.Mismatched,
				fmt.Sprintf("%s: want %v, got %v", s.Name, s.Shape, t.Shape))
		}
	}
	if strict {
		p.Each(func(name string, _ *tensor.Tensor) bool {
			if _, ok := known[name]; !ok {
				bindErr.Unexpected = append(bindErr.Unexpected, name)
			}
			return true
		})
	}
	if len(bindErr.Missing)+len(bindErr.Unexpected)+len(bindErr.Mismatched) > 0 {
		slices.Sort(bindErr.Missing)
		slices.Sort(bindErr.Unexpected)
		return bindErr
	}

	for _, s := range slots {
		t, _ := p.Get(s.Name)
		*s.Dst = t
	}
	return nil
}

// Release drops every bound tensor of m.
func Release(m Module) {
	for _, s := range m.Slots() {
		*s.Dst = nil
	}
}

// Tensors returns the currently bound tensors of m in slot order.
func Tensors(m Module) []*tensor.Tensor {
	var out []*tensor.Tensor
	for _, s := range m.Slots() {
		if *s.Dst != nil {
			out = append(out, *s.Dst)
		}
	}
	return out
}

// Footprint is the resident size in bytes of m's bound tensors.
func Footprint(m Module) int64 {
	var n int64
	for _, t := range Tensors(m) {
		n += t.Bytes()
	}
	return n
}

// Names returns m's slot names in declaration order.
func Names(m Module) []string {
	slots := m.Slots()
	names := make([]string, len(slots))
	for i, s := range slots {
		names[i] = s.Name
	}
	return names
}
