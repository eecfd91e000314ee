package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/shardstream/internal/model"
	"github.com/samcharles93/shardstream/internal/shard"
)

// The commands share package-level flag destinations, so these tests do not
// run in parallel.

func runApp(t *testing.T, args ...string) error {
	t.Helper()
	return newApp().Run(context.Background(), append([]string{"shardstream", "--config", "", "--log-format", "text", "--log-level", "error"}, args...))
}

func TestToyRunVerifyInspect(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "toy")
	if err := runApp(t, "toy", "--out", dir, "--layers", "3"); err != nil {
		t.Fatalf("toy: %v", err)
	}
	cfg, err := model.LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.NumLayers != 3 {
		t.Fatalf("layers = %d, want 3", cfg.NumLayers)
	}
	if _, err := os.Stat(shard.Layout{Dir: dir, Total: 5, Format: shard.FormatSafetensors}.Path(5)); err != nil {
		t.Fatalf("last shard missing: %v", err)
	}

	if err := runApp(t, "run", "--model-dir", dir, "--prompt", "hello world", "-n", "2"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := runApp(t, "run", "--model-dir", dir, "--prompt", "hello", "-n", "1", "--resident", "--prefetch"); err != nil {
		t.Fatalf("run --resident: %v", err)
	}
	if err := runApp(t, "verify", "--model-dir", dir, "--prompt", "hello", "-n", "2"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := runApp(t, "inspect", "--model-dir", dir, "--verify"); err != nil {
		t.Fatalf("inspect: %v", err)
	}
}

func TestRunFailsOnCorruptShard(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "toy")
	if err := runApp(t, "toy", "--out", dir); err != nil {
		t.Fatalf("toy: %v", err)
	}
	layout := shard.Layout{Dir: dir, Total: 4, Format: shard.FormatSafetensors}
	if err := os.WriteFile(layout.Path(3), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := runApp(t, "run", "--model-dir", dir, "--prompt", "hello", "-n", "1")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := err.Error(); !strings.Contains(got, "stage block 1 (shard 3)") {
		t.Fatalf("error %q does not name the failing stage", got)
	}
}

func TestRunRequiresModelDir(t *testing.T) {
	t.Setenv(envModelDir, "")
	if err := runApp(t, "run", "--prompt", "x"); err == nil {
		t.Fatal("expected error without --model-dir")
	}
}
