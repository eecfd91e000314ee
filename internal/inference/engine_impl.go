package inference

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/samcharles93/shardstream/internal/model"
	"github.com/samcharles93/shardstream/internal/tokenizer"
)

// specialSkipper is implemented by tokenizers that can drop special tokens
// before decoding.
type specialSkipper interface {
	SkipSpecial(ids []int) []int
}

type EngineImpl struct {
	forwarder Forwarder
	tokenizer tokenizer.Tokenizer
	config    model.Config
	closers   []io.Closer
}

// NewEngine builds an engine over an already loaded forwarder. closers are
// closed, in order, by Close.
func NewEngine(f Forwarder, tok tokenizer.Tokenizer, cfg model.Config, closers ...io.Closer) *EngineImpl {
	return &EngineImpl{forwarder: f, tokenizer: tok, config: cfg, closers: closers}
}

func (e *EngineImpl) Config() model.Config { return e.config }

func (e *EngineImpl) Close() error {
	if e == nil {
		return nil
	}
	var errs []error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

func (e *EngineImpl) Generate(ctx context.Context, req *Request, stream StreamFunc) (*Result, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	promptIDs, err := e.safeEncode(req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}

	var onToken func(step, id int)
	if stream != nil {
		onToken = func(step, id int) {
			text, _ := e.tokenizer.Decode([]int{id})
			stream(Token{Step: step, ID: id, Text: text})
		}
	}

	gen := &Generator{Forwarder: e.forwarder}
	seq, stats, err := gen.Generate(ctx, promptIDs, req.MaxNewTokens, onToken)
	if err != nil {
		return nil, err
	}

	res := &Result{
		PromptTokens: promptIDs,
		Tokens:       seq[len(promptIDs):],
		Stats:        stats,
	}
	if res.Text, err = e.decode(seq); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	if res.Completion, err = e.decode(res.Tokens); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	return res, nil
}

func (e *EngineImpl) decode(ids []int) (string, error) {
	if s, ok := e.tokenizer.(specialSkipper); ok {
		ids = s.SkipSpecial(ids)
	}
	return e.tokenizer.Decode(ids)
}

func (e *EngineImpl) safeEncode(text string) (ids []int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in tokenizer encode: %v", r)
		}
	}()
	return e.tokenizer.Encode(text)
}
