package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shardstream/internal/inference"
	"github.com/samcharles93/shardstream/internal/logger"
)

func runCmd() *cli.Command {
	var (
		prompt     string
		maxNew     int64
		resident   bool
		showTokens bool
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Generate text by streaming the model one stage at a time",
		Flags: append(commonModelFlags(),
			&cli.StringFlag{
				Name:        "prompt",
				Aliases:     []string{"p"},
				Usage:       "prompt text",
				Required:    true,
				Destination: &prompt,
			},
			&cli.Int64Flag{
				Name:        "max-new-tokens",
				Aliases:     []string{"n"},
				Usage:       "number of tokens to generate",
				Value:       10,
				Destination: &maxNew,
			},
			&cli.BoolFlag{
				Name:        "resident",
				Usage:       "load the whole model up front instead of streaming",
				Destination: &resident,
			},
			&cli.BoolFlag{
				Name:        "show-tokens",
				Usage:       "print prompt and generated token ids",
				Destination: &showTokens,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			applyRunConfig(cmd, fileConfig, &maxNew)

			dir, err := resolveModelDir(modelDir)
			if err != nil {
				return err
			}
			prog := newProgress(os.Stderr)
			loader, err := modelLoader(resident, prog.hooks())
			if err != nil {
				return err
			}
			lr, err := loader.Load(ctx, dir)
			if err != nil {
				return err
			}
			defer func() {
				if err := lr.Engine.Close(); err != nil {
					log.Warn("close engine", "error", err)
				}
			}()

			fmt.Println(prompt)
			result, err := lr.Engine.Generate(ctx, &inference.Request{
				Prompt:       prompt,
				MaxNewTokens: int(maxNew),
			}, func(tok inference.Token) {
				fmt.Print(tok.Text)
			})
			if err != nil {
				return err
			}
			fmt.Println()
			fmt.Println(result.Text)

			if showTokens {
				fmt.Printf("prompt tokens: %v\n", result.PromptTokens)
				fmt.Printf("new tokens:    %v\n", result.Tokens)
			}
			st := result.Stats
			log.Info("generation complete",
				"tokens", st.TokensGenerated,
				"duration", st.Duration,
				"tps", fmt.Sprintf("%.2f", st.TPS),
				"load", st.Pass.Load,
				"compute", st.Pass.Compute,
				"bytes_loaded", st.Pass.BytesLoaded,
				"peak_resident", st.Pass.PeakResident,
			)
			return nil
		},
	}
}
