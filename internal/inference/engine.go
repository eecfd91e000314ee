package inference

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/samcharles93/shardstream/internal/logger"
)

// Stats summarizes a generation run.
type Stats struct {
	PromptTokens    int
	TokensGenerated int
	Duration        time.Duration
	TPS             float64
	Pass            PassStats
}

// statsReporter is implemented by forwarders that record per-pass stats.
type statsReporter interface {
	LastStats() PassStats
}

// Generator runs greedy decoding by re-running a full forward pass over the
// accumulated sequence for every new token.
type Generator struct {
	Forwarder Forwarder
}

// Generate appends exactly maxNew tokens to prompt. onToken, if set, sees
// each token as it is produced. On failure the sequence is nil: callers never
// see partial output.
func (g *Generator) Generate(ctx context.Context, prompt []int, maxNew int, onToken func(step, id int)) ([]int, Stats, error) {
	stats := Stats{PromptTokens: len(prompt)}
	if g.Forwarder == nil {
		return nil, stats, errors.New("generator has no forwarder")
	}
	if maxNew < 0 {
		return nil, stats, fmt.Errorf("max new tokens must be >= 0, got %d", maxNew)
	}

	log := logger.FromContext(ctx)
	reporter, _ := g.Forwarder.(statsReporter)
	seq := slices.Clone(prompt)
	start := time.Now()

	for step := range maxNew {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		next, err := g.safeForward(ctx, seq)
		if err != nil {
			return nil, stats, fmt.Errorf("generation step %d: %w", step, err)
		}
		seq = append(seq, next)
		stats.TokensGenerated++

		var pass PassStats
		if reporter != nil {
			pass = reporter.LastStats()
			stats.Pass.Add(pass)
		}
		log.Info("token generated",
			"step", step,
			"id", next,
			"seq_len", len(seq),
			"load", pass.Load,
			"compute", pass.Compute,
		)
		if onToken != nil {
			onToken(step, next)
		}
	}

	stats.Duration = time.Since(start)
	if stats.Duration.Seconds() > 0 {
		stats.TPS = float64(stats.TokensGenerated) / stats.Duration.Seconds()
	}
	return seq, stats, nil
}

func (g *Generator) safeForward(ctx context.Context, seq []int) (next int, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = -1
			err = fmt.Errorf("panic in forward: %v", r)
		}
	}()
	return g.Forwarder.Forward(ctx, seq)
}
