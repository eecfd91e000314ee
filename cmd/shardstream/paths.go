package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samcharles93/shardstream/internal/model"
)

// resolveModelDir checks that dir looks like a model directory.
func resolveModelDir(dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return "", fmt.Errorf("--model-dir is required unless %s or model_dir in the config file is set", envModelDir)
	}
	dir = filepath.Clean(dir)
	st, err := os.Stat(dir)
	if err != nil {
		return "", err
	}
	if !st.IsDir() {
		return "", fmt.Errorf("model path is not a directory: %s", dir)
	}
	if _, err := os.Stat(filepath.Join(dir, model.ConfigFile)); err != nil {
		return "", fmt.Errorf("%s has no %s: %w", dir, model.ConfigFile, err)
	}
	return dir, nil
}

// resolveOutDir picks the output directory for convert, defaulting to a
// sibling of in named <base>-safetensors.
func resolveOutDir(in, out string) (string, error) {
	out = strings.TrimSpace(out)
	if out != "" {
		return filepath.Clean(out), nil
	}
	base := filepath.Base(filepath.Clean(in))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "", fmt.Errorf("invalid input directory: %q", in)
	}
	return filepath.Join(filepath.Dir(filepath.Clean(in)), base+"-safetensors"), nil
}
