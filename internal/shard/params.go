package shard

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/samcharles93/shardstream/internal/tensor"
)

// Params is a flat mapping from fully qualified parameter name to tensor.
// Iteration follows insertion order, which for a loaded shard is on-disk order.
type Params struct {
	m *orderedmap.OrderedMap[string, *tensor.Tensor]
}

// NewParams returns an empty mapping.
func NewParams() *Params {
	return &Params{m: orderedmap.New[string, *tensor.Tensor]()}
}

// Set stores t under name, replacing any previous value in place.
func (p *Params) Set(name string, t *tensor.Tensor) {
	p.m.Set(name, t)
}

func (p *Params) Get(name string) (*tensor.Tensor, bool) {
	return p.m.Get(name)
}

// Pop removes and returns the tensor stored under name.
func (p *Params) Pop(name string) (*tensor.Tensor, bool) {
	return p.m.Delete(name)
}

func (p *Params) Len() int {
	if p == nil || p.m == nil {
		return 0
	}
	return p.m.Len()
}

// Keys returns the names in order.
func (p *Params) Keys() []string {
	keys := make([]string, 0, p.Len())
	p.Each(func(name string, _ *tensor.Tensor) bool {
		keys = append(keys, name)
		return true
	})
	return keys
}

// Each calls fn for every entry in order until fn returns false.
func (p *Params) Each(fn func(name string, t *tensor.Tensor) bool) {
	if p == nil || p.m == nil {
		return
	}
	for pair := p.m.Oldest(); pair != nil; pair = pair.Next() {
		if !fn(pair.Key, pair.Value) {
			return
		}
	}
}

// Bytes is the resident host size of every tensor in the mapping.
func (p *Params) Bytes() int64 {
	var n int64
	p.Each(func(_ string, t *tensor.Tensor) bool {
		n += t.Bytes()
		return true
	})
	return n
}
