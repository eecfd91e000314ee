package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const envModelDir = "SHARDSTREAM_MODEL_DIR"

// Config is the optional shardstream configuration file
// (~/.config/shardstream/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	ModelDir     string `yaml:"model_dir"`
	DType        string `yaml:"dtype"`
	ShardFormat  string `yaml:"shard_format"`
	Prefetch     *bool  `yaml:"prefetch"`
	MaxNewTokens *int64 `yaml:"max_new_tokens"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "shardstream", "config.yaml")
}

// LoadConfig reads path. A missing file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// isSet is the subset of *cli.Command the apply helpers need.
type isSet interface {
	IsSet(name string) bool
}

var _ isSet = (*cli.Command)(nil)

func applyLoggingConfig(c isSet, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyModelConfig applies config file defaults to the common model flags
// that were not set on the command line.
func applyModelConfig(c isSet, cfg Config) {
	if cfg.ModelDir != "" && !c.IsSet("model-dir") {
		modelDir = cfg.ModelDir
	}
	if cfg.DType != "" && !c.IsSet("dtype") {
		dtypeName = cfg.DType
	}
	if cfg.ShardFormat != "" && !c.IsSet("shard-format") {
		shardFormat = cfg.ShardFormat
	}
	if cfg.Prefetch != nil && !c.IsSet("prefetch") {
		prefetch = *cfg.Prefetch
	}
}

func applyRunConfig(c isSet, cfg Config, maxNew *int64) {
	applyModelConfig(c, cfg)
	if cfg.MaxNewTokens != nil && !c.IsSet("max-new-tokens") {
		*maxNew = *cfg.MaxNewTokens
	}
}

func applyServeConfig(c isSet, cfg Config, addr *string) {
	applyModelConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
