package inference_test

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/shardstream/internal/inference"
	"github.com/samcharles93/shardstream/internal/shard"
	"github.com/samcharles93/shardstream/internal/tensor"
	"github.com/samcharles93/shardstream/internal/toy"
)

func writeToyDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if _, err := toy.Write(dir, toy.Options{Seed: 3, DType: tensor.BF16}); err != nil {
		t.Fatalf("toy.Write: %v", err)
	}
	return dir
}

func TestEngineGenerate(t *testing.T) {
	t.Parallel()
	dir := writeToyDir(t)
	ctx := context.Background()

	run := func(l inference.Loader) (*inference.Result, []inference.Token) {
		t.Helper()
		lr, err := l.Load(ctx, dir)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		defer lr.Engine.Close()
		if lr.Layout.Format != shard.FormatSafetensors {
			t.Fatalf("format = %s, want safetensors", lr.Layout.Format)
		}
		var streamed []inference.Token
		res, err := lr.Engine.Generate(ctx, &inference.Request{Prompt: "hello world", MaxNewTokens: 3}, func(tok inference.Token) {
			streamed = append(streamed, tok)
		})
		if err != nil {
			t.Fatalf("Generate: %v", err)
		}
		return res, streamed
	}

	streaming, tokens := run(inference.Loader{DType: tensor.BF16, Prefetch: true})
	if len(streaming.Tokens) != 3 || len(tokens) != 3 {
		t.Fatalf("generated %d tokens, streamed %d, want 3", len(streaming.Tokens), len(tokens))
	}
	for i, tok := range tokens {
		if tok.Step != i || tok.ID != streaming.Tokens[i] {
			t.Fatalf("stream[%d] = %+v, want step %d id %d", i, tok, i, streaming.Tokens[i])
		}
	}
	if !strings.HasPrefix(streaming.Text, "hello world") {
		t.Fatalf("text %q does not start with the prompt", streaming.Text)
	}
	if streaming.Stats.TokensGenerated != 3 || streaming.Stats.Pass.BytesLoaded == 0 {
		t.Fatalf("stats = %+v", streaming.Stats)
	}

	resident, _ := run(inference.Loader{DType: tensor.BF16, Resident: true})
	if diff := cmp.Diff(resident.Tokens, streaming.Tokens); diff != "" {
		t.Fatalf("resident and streaming disagree (-resident +streaming):\n%s", diff)
	}
}

func TestEngineRejectsMissingDir(t *testing.T) {
	t.Parallel()
	if _, err := (inference.Loader{}).Load(context.Background(), t.TempDir()); err == nil {
		t.Fatal("expected error for empty model directory")
	}
	if _, err := (inference.Loader{}).Load(context.Background(), " "); err == nil {
		t.Fatal("expected error for blank model directory")
	}
}

func TestEngineNilRequest(t *testing.T) {
	t.Parallel()
	lr, err := inference.Loader{DType: tensor.F32}.Load(context.Background(), writeToyDir(t))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer lr.Engine.Close()
	if _, err := lr.Engine.Generate(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for nil request")
	}
	if err := lr.Engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}
