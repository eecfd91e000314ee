// Package stage identifies the stages of a streamed forward pass and loads
// each stage's parameters from its shard.
package stage

import (
	"errors"
	"fmt"
)

// Kind is the type of a stage.
type Kind uint8

const (
	KindEmbeddings Kind = iota
	KindBlock
	KindFinalNorm
	KindHead
)

// ID identifies a stage. Block is only meaningful for KindBlock.
type ID struct {
	Kind  Kind
	Block int
}

func Embeddings() ID { return ID{Kind: KindEmbeddings} }

func Block(i int) ID { return ID{Kind: KindBlock, Block: i} }

func FinalNorm() ID { return ID{Kind: KindFinalNorm} }

func Head() ID { return ID{Kind: KindHead} }

func (id ID) String() string {
	switch id.Kind {
	case KindEmbeddings:
		return "embeddings"
	case KindBlock:
		return fmt.Sprintf("block %d", id.Block)
	case KindFinalNorm:
		return "final norm"
	case KindHead:
		return "lm head"
	default:
		return fmt.Sprintf("stage(%d)", id.Kind)
	}
}

// Prefix is the parameter name prefix owned by the stage.
func (id ID) Prefix() string {
	switch id.Kind {
	case KindEmbeddings:
		return "word_embeddings_layernorm."
	case KindBlock:
		return fmt.Sprintf("h.%d.", id.Block)
	case KindFinalNorm:
		return "ln_f."
	default:
		return "word_embeddings."
	}
}

// ShardFor returns the shard holding a stage's parameters in a layout of
// total shards: embeddings and head share shard 1, block i is shard i+2 and
// the final norm is the last shard.
func ShardFor(id ID, total int) int {
	switch id.Kind {
	case KindBlock:
		return id.Block + 2
	case KindFinalNorm:
		return total
	default:
		return 1
	}
}

// Order lists every stage of a model with numLayers blocks in execution order.
func Order(numLayers int) []ID {
	ids := make([]ID, 0, numLayers+3)
	ids = append(ids, Embeddings())
	for i := range numLayers {
		ids = append(ids, Block(i))
	}
	return append(ids, FinalNorm(), Head())
}

// next returns the stage after id, or false after the head.
func next(id ID, numLayers int) (ID, bool) {
	switch id.Kind {
	case KindEmbeddings:
		return Block(0), true
	case KindBlock:
		if id.Block+1 < numLayers {
			return Block(id.Block + 1), true
		}
		return FinalNorm(), true
	case KindFinalNorm:
		return Head(), true
	default:
		return ID{}, false
	}
}

// ErrStageLoad matches every LoadError via errors.Is.
var ErrStageLoad = errors.New("stage load")

// LoadError reports a stage whose parameters could not be loaded or bound.
// errors.Is and errors.As also reach the underlying storage or bind error.
type LoadError struct {
	Stage ID
	Shard int
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("stage %s (shard %d): %v", e.Stage, e.Shard, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrStageLoad, e.Err} }
