package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"
)

// ConfigFile is the model configuration file name inside a model directory.
const ConfigFile = "config.json"

// Config is the immutable model configuration shared by every stage.
type Config struct {
	ModelType    string
	HiddenSize   int
	VocabSize    int
	NumHeads     int
	NumLayers    int
	LayerNormEps float32
}

type hfConfig struct {
	ModelType         string   `json:"model_type"`
	HiddenSize        int      `json:"hidden_size"`
	NEmbed            int      `json:"n_embed"`
	VocabSize         int      `json:"vocab_size"`
	NHead             int      `json:"n_head"`
	NumAttentionHeads int      `json:"num_attention_heads"`
	NLayer            int      `json:"n_layer"`
	NumHiddenLayers   int      `json:"num_hidden_layers"`
	LayerNormEpsilon  *float64 `json:"layer_norm_epsilon"`
}

// ParseConfig reads an HF BLOOM config.json. Both the BLOOM key names
// (n_embed, n_head, n_layer) and the generic HF aliases are accepted.
func ParseConfig(raw []byte) (Config, error) {
	var hc hfConfig
	if err := json.Unmarshal(raw, &hc); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg := Config{
		ModelType:    hc.ModelType,
		HiddenSize:   firstNonZero(hc.HiddenSize, hc.NEmbed),
		VocabSize:    hc.VocabSize,
		NumHeads:     firstNonZero(hc.NHead, hc.NumAttentionHeads),
		NumLayers:    firstNonZero(hc.NLayer, hc.NumHiddenLayers),
		LayerNormEps: 1e-5,
	}
	if hc.LayerNormEpsilon != nil {
		cfg.LayerNormEps = float32(*hc.LayerNormEpsilon)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads config.json from a model directory.
func LoadConfig(dir string) (Config, error) {
	raw, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(raw)
}

// Validate checks the dimensions the stages depend on.
func (c Config) Validate() error {
	if c.ModelType != "" && c.ModelType != "bloom" {
		return fmt.Errorf("config: unsupported model_type %q (want bloom)", c.ModelType)
	}
	switch {
	case c.HiddenSize <= 0:
		return fmt.Errorf("config: hidden_size must be positive, got %d", c.HiddenSize)
	case c.VocabSize <= 0:
		return fmt.Errorf("config: vocab_size must be positive, got %d", c.VocabSize)
	case c.NumHeads <= 0:
		return fmt.Errorf("config: n_head must be positive, got %d", c.NumHeads)
	case c.NumLayers <= 0:
		return fmt.Errorf("config: n_layer must be positive, got %d", c.NumLayers)
	case c.HiddenSize%c.NumHeads != 0:
		return fmt.Errorf("config: hidden_size %d not divisible by n_head %d", c.HiddenSize, c.NumHeads)
	case c.LayerNormEps < 0:
		return fmt.Errorf("config: layer_norm_epsilon must not be negative, got %g", c.LayerNormEps)
	}
	return nil
}

func (c Config) HeadDim() int { return c.HiddenSize / c.NumHeads }

// TotalShards is the shard count of the layer-per-shard layout: embeddings
// and head, one shard per block, final norm.
func (c Config) TotalShards() int { return c.NumLayers + 2 }

// Marshal renders the configuration as a BLOOM config.json.
func (c Config) Marshal() ([]byte, error) {
	return json.MarshalIndent(map[string]any{
		"model_type":         "bloom",
		"architectures":      []string{"BloomForCausalLM"},
		"hidden_size":        c.HiddenSize,
		"n_head":             c.NumHeads,
		"n_layer":            c.NumLayers,
		"vocab_size":         c.VocabSize,
		"layer_norm_epsilon": c.LayerNormEps,
	}, "", "  ")
}

func firstNonZero(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}
