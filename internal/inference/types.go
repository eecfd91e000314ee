package inference

import (
	"context"
)

// Token is one generated token as delivered to a stream.
type Token struct {
	Step int
	ID   int
	Text string
}

type StreamFunc func(tok Token)

type Engine interface {
	Generate(ctx context.Context, req *Request, stream StreamFunc) (*Result, error)
	Close() error
}

type Request struct {
	Prompt       string
	MaxNewTokens int
}

type Result struct {
	PromptTokens []int
	Tokens       []int
	// Text is the decoded prompt and completion with special tokens removed.
	Text       string
	Completion string
	Stats      Stats
}
