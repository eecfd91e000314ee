package main

import (
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/shardstream/internal/inference"
	"github.com/samcharles93/shardstream/internal/shard"
	"github.com/samcharles93/shardstream/internal/tensor"
)

var (
	modelDir    string
	dtypeName   string
	shardFormat string
	prefetch    bool
	logLevel    string
	logFormat   string
	debug       bool
	configFile  string

	// fileConfig is the config file loaded by the root Before hook.
	fileConfig Config
)

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "config",
		Usage:       "path to config.yaml",
		Value:       configPath(),
		Destination: &configFile,
	}
}

func commonModelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model-dir",
			Aliases:     []string{"m"},
			Usage:       "directory with config.json, tokenizer.json and the numbered shards",
			Sources:     cli.EnvVars(envModelDir),
			Destination: &modelDir,
		},
		&cli.StringFlag{
			Name:        "dtype",
			Usage:       "compute precision (bf16, f16, f32)",
			Value:       "bf16",
			Destination: &dtypeName,
		},
		&cli.StringFlag{
			Name:        "shard-format",
			Usage:       "shard file format (auto, bin, safetensors)",
			Value:       string(shard.FormatAuto),
			Destination: &shardFormat,
		},
		&cli.BoolFlag{
			Name:        "prefetch",
			Usage:       "read the next stage's shard in the background",
			Destination: &prefetch,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// modelLoader builds the inference loader from the common model flags.
func modelLoader(resident bool, hooks inference.Hooks) (inference.Loader, error) {
	dt, err := tensor.ParseDType(dtypeName)
	if err != nil {
		return inference.Loader{}, fmt.Errorf("--dtype: %w", err)
	}
	format, err := shard.ParseFormat(shardFormat)
	if err != nil {
		return inference.Loader{}, fmt.Errorf("--shard-format: %w", err)
	}
	return inference.Loader{
		DType:    dt,
		Format:   format,
		Prefetch: prefetch,
		Resident: resident,
		Hooks:    hooks,
	}, nil
}
