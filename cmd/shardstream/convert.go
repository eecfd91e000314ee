package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shardstream/internal/logger"
	"github.com/samcharles93/shardstream/internal/model"
	"github.com/samcharles93/shardstream/internal/shard"
	"github.com/samcharles93/shardstream/internal/tensor"
	"github.com/samcharles93/shardstream/internal/tokenizer"
)

// sideFiles are copied next to converted shards when present.
var sideFiles = []string{model.ConfigFile, tokenizer.TokenizerFile, tokenizer.TokenizerConfigFile}

func convertCmd() *cli.Command {
	var (
		out  string
		cast string
	)

	return &cli.Command{
		Name:  "convert",
		Usage: "Rewrite pytorch .bin shards as .safetensors shards",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "model-dir",
				Aliases:     []string{"m"},
				Usage:       "directory with .bin shards",
				Sources:     cli.EnvVars(envModelDir),
				Destination: &modelDir,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output directory (default <model-dir>-safetensors)",
				Destination: &out,
			},
			&cli.StringFlag{
				Name:        "cast",
				Usage:       "output dtype (keep, f32, f16, bf16)",
				Value:       "keep",
				Destination: &cast,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if fileConfig.ModelDir != "" && !cmd.IsSet("model-dir") {
				modelDir = fileConfig.ModelDir
			}
			in, err := resolveModelDir(modelDir)
			if err != nil {
				return err
			}
			outDir, err := resolveOutDir(in, out)
			if err != nil {
				return err
			}
			if filepath.Clean(outDir) == filepath.Clean(in) {
				return errors.New("--out must differ from --model-dir")
			}

			var opts shard.ConvertOptions
			if c := strings.ToLower(strings.TrimSpace(cast)); c != "" && c != "keep" {
				dt, err := tensor.ParseDType(c)
				if err != nil {
					return fmt.Errorf("--cast: %w", err)
				}
				opts.Cast = &dt
			}
			opts.OnShard = func(i int, path string) {
				log.Info("shard written", "shard", i, "path", path)
			}

			cfg, err := model.LoadConfig(in)
			if err != nil {
				return err
			}
			store, err := shard.Open(shard.Layout{Dir: in, Total: cfg.TotalShards(), Format: shard.FormatBin})
			if err != nil {
				return err
			}
			if err := store.Layout().Validate(); err != nil {
				return err
			}
			if _, err := shard.Convert(ctx, store, outDir, opts); err != nil {
				return err
			}
			for _, name := range sideFiles {
				if err := copyFile(filepath.Join(in, name), filepath.Join(outDir, name)); err != nil {
					return err
				}
			}
			log.Info("conversion complete", "out", outDir, "shards", store.Total())
			return nil
		},
	}
}

// copyFile copies src to dst, skipping a missing src.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer in.Close()
	outF, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := outF.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(outF, in)
	return err
}
