package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shardstream/internal/inference"
	"github.com/samcharles93/shardstream/internal/logger"
)

func verifyCmd() *cli.Command {
	var (
		prompt string
		maxNew int64
	)

	return &cli.Command{
		Name:  "verify",
		Usage: "Check that streaming generation matches a fully resident model",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "prompt text",
				Value:       "Hello",
				Destination: &prompt,
			},
			&cli.Int64Flag{
				Name:        "max-new-tokens",
				Aliases:     []string{"n"},
				Usage:       "number of tokens to compare",
				Value:       4,
				Destination: &maxNew,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyRunConfig(cmd, fileConfig, &maxNew)
			dir, err := resolveModelDir(modelDir)
			if err != nil {
				return err
			}

			streamed, err := generateWith(ctx, dir, false, prompt, int(maxNew))
			if err != nil {
				return fmt.Errorf("streaming: %w", err)
			}
			resident, err := generateWith(ctx, dir, true, prompt, int(maxNew))
			if err != nil {
				return fmt.Errorf("resident: %w", err)
			}

			if i := firstDivergence(streamed.Tokens, resident.Tokens); i >= 0 {
				return fmt.Errorf("streaming output diverges at new token %d: streaming %v, resident %v",
					i, streamed.Tokens, resident.Tokens)
			}
			log.Info("streaming matches resident",
				"tokens", streamed.Tokens,
				"streaming_peak_bytes", streamed.Stats.Pass.PeakResident,
			)
			fmt.Println(streamed.Text)
			return nil
		},
	}
}

func generateWith(ctx context.Context, dir string, resident bool, prompt string, maxNew int) (*inference.Result, error) {
	loader, err := modelLoader(resident, inference.Hooks{})
	if err != nil {
		return nil, err
	}
	lr, err := loader.Load(ctx, dir)
	if err != nil {
		return nil, err
	}
	defer lr.Engine.Close()
	return lr.Engine.Generate(ctx, &inference.Request{Prompt: prompt, MaxNewTokens: maxNew}, nil)
}

// firstDivergence returns the first index where a and b differ, or -1.
func firstDivergence(a, b []int) int {
	n := min(len(a), len(b))
	for i := range n {
		if a[i] != b[i] {
			return i
		}
	}
	if len(a) != len(b) {
		return n
	}
	return -1
}
