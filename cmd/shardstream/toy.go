package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shardstream/internal/logger"
	"github.com/samcharles93/shardstream/internal/tensor"
	"github.com/samcharles93/shardstream/internal/toy"
)

func toyCmd() *cli.Command {
	var (
		out    string
		layers int64
		seed   int64
		dtype  string
	)

	return &cli.Command{
		Name:  "toy",
		Usage: "Write a small deterministic model directory for smoke tests",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output directory",
				Required:    true,
				Destination: &out,
			},
			&cli.Int64Flag{
				Name:        "layers",
				Usage:       "number of blocks",
				Value:       int64(toy.DefaultConfig().NumLayers),
				Destination: &layers,
			},
			&cli.Int64Flag{
				Name:        "seed",
				Usage:       "weight seed",
				Value:       1,
				Destination: &seed,
			},
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "on-disk precision (f32, f16, bf16)",
				Value:       "f32",
				Destination: &dtype,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dt, err := tensor.ParseDType(dtype)
			if err != nil {
				return fmt.Errorf("--dtype: %w", err)
			}
			cfg := toy.DefaultConfig()
			cfg.NumLayers = int(layers)
			layout, err := toy.Write(out, toy.Options{Config: cfg, Seed: seed, DType: dt})
			if err != nil {
				return err
			}
			logger.FromContext(ctx).Info("toy model written", "dir", layout.Dir, "shards", layout.Total, "dtype", dt.String())
			return nil
		},
	}
}
