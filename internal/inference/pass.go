package inference

import (
	"github.com/samcharles93/shardstream/internal/logits"
	"github.com/samcharles93/shardstream/internal/model"
	"github.com/samcharles93/shardstream/internal/tensor"
)

// The step functions are shared by the streaming and resident passes so both
// run identical math. Every activation leaves a step placed on dev.

func embedStep(emb *model.Embedding, norm *model.LayerNorm, ids []int, dev tensor.Device) (*tensor.Tensor, error) {
	x, err := emb.Forward(ids)
	if err != nil {
		return nil, err
	}
	dev.Place(x)
	return normStep(norm, x, dev)
}

func blockStep(b *model.Block, x *tensor.Tensor, ab *model.AttentionBias, dev tensor.Device) (*tensor.Tensor, error) {
	out, err := b.Forward(x, ab)
	if err != nil {
		return nil, err
	}
	dev.Place(out)
	return out, nil
}

func normStep(norm *model.LayerNorm, x *tensor.Tensor, dev tensor.Device) (*tensor.Tensor, error) {
	out, err := norm.Forward(x)
	if err != nil {
		return nil, err
	}
	dev.Place(out)
	return out, nil
}

// headStep rounds the logits to the device precision before selection, so
// values that collapse to the same bf16 number tie and the lowest id wins.
func headStep(head *model.Head, x *tensor.Tensor, dev tensor.Device) (int, error) {
	out, err := head.Forward(x)
	if err != nil {
		return -1, err
	}
	dev.Place(out)
	return logits.Greedy(logits.Last(out))
}
