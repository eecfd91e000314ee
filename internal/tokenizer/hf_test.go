package tokenizer_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/shardstream/internal/tokenizer"
	"github.com/samcharles93/shardstream/internal/toy"
)

func loadToy(t *testing.T) *tokenizer.HFTokenizer {
	t.Helper()
	tok, err := tokenizer.LoadHFTokenizerBytes(toy.TokenizerJSON(), nil)
	if err != nil {
		t.Fatalf("load tokenizer: %v", err)
	}
	return tok
}

func TestEncodeAppliesMergesAndKeepsGaps(t *testing.T) {
	t.Parallel()
	tok := loadToy(t)

	ids, err := tok.Encode("hello world.")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// "." is not in the vocabulary and falls back to <unk>.
	want := []int{14, 15, 11, 4, 13, 11, 12, 10, 7, 0}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	t.Parallel()
	tok := loadToy(t)

	ids, err := tok.Encode("hello world")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	text, err := tok.Decode(ids)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if text != "hello world" {
		t.Fatalf("Decode = %q", text)
	}
	if _, err := tok.Decode([]int{toy.VocabSize}); err == nil {
		t.Fatal("expected error for out of range id")
	}
}

func TestSpecialTokens(t *testing.T) {
	t.Parallel()
	tok := loadToy(t)

	ids, err := tok.Encode("<s>he</s>")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if diff := cmp.Diff([]int{1, 14, 2}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{14}, tok.SkipSpecial(ids)); diff != "" {
		t.Fatalf("SkipSpecial mismatch (-want +got):\n%s", diff)
	}
	text, _ := tok.Decode(ids)
	if text != "<s>he</s>" {
		t.Fatalf("Decode = %q", text)
	}
	if tok.VocabSize() != toy.VocabSize {
		t.Fatalf("VocabSize = %d", tok.VocabSize())
	}
}

func TestTemplateProcessingSetsBOS(t *testing.T) {
	t.Parallel()
	raw := []byte(`{
		"model":{"type":"BPE","vocab":{"<s>":1,"</s>":2,"<unk>":3,"a":4},"merges":[],"unk_token":"<unk>"},
		"post_processor":{"processors":[{"type":"TemplateProcessing","special_tokens":{"bos":{"ids":[1]}}}]}
	}`)
	tok, err := tokenizer.LoadHFTokenizerBytes(raw, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	ids, err := tok.Encode("a")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if diff := cmp.Diff([]int{1, 4}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
}

func TestRejectsUnsupportedModel(t *testing.T) {
	t.Parallel()
	if _, err := tokenizer.LoadHFTokenizerBytes([]byte(`{"model":{"type":"WordPiece","vocab":{}}}`), nil); err == nil {
		t.Fatal("expected unsupported tokenizer model error")
	}
}
