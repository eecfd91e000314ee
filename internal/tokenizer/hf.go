package tokenizer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// File names looked up by LoadDir.
const (
	TokenizerFile       = "tokenizer.json"
	TokenizerConfigFile = "tokenizer_config.json"
)

// HFTokenizer is a byte-level BPE tokenizer loaded from a Hugging Face
// tokenizer.json.
type HFTokenizer struct {
	encoder      map[string]int
	decoder      []string
	bpeRanks     map[Pair]int
	byteEncoder  map[byte]string
	byteDecoder  map[string]byte
	pattern      *regexp.Regexp
	addBOS       bool
	addEOS       bool
	bosID        int
	eosID        int
	unkID        int
	ignoreMerges bool
	special      []string
	specialIDs   map[int]struct{}

	mu    sync.Mutex
	cache map[string][]string
}

type hfPreTokenizer struct {
	Type          string    `json:"type"`
	Pattern       hfPattern `json:"pattern"`
	Pretokenizers []struct {
		Type    string    `json:"type"`
		Pattern hfPattern `json:"pattern"`
	} `json:"pretokenizers"`
}

type hfPattern struct {
	Regex string `json:"Regex"`
}

type hfTokenizerJSON struct {
	Model struct {
		Type         string         `json:"type"`
		Vocab        map[string]int `json:"vocab"`
		Merges       []any          `json:"merges"`
		IgnoreMerges bool           `json:"ignore_merges"`
		UnkToken     string         `json:"unk_token"`
	} `json:"model"`
	PreTokenizer  hfPreTokenizer `json:"pre_tokenizer"`
	PostProcessor struct {
		Type       string `json:"type"`
		Processors []struct {
			Type          string `json:"type"`
			SpecialTokens map[string]struct {
				IDs []int `json:"ids"`
			} `json:"special_tokens"`
		} `json:"processors"`
	} `json:"post_processor"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

type hfTokenizerConfig struct {
	AddBOS bool   `json:"add_bos_token"`
	AddEOS bool   `json:"add_eos_token"`
	BOS    string `json:"bos_token"`
	EOS    string `json:"eos_token"`
}

// LoadDir loads tokenizer.json and, when present, tokenizer_config.json
// from a model directory.
func LoadDir(dir string) (*HFTokenizer, error) {
	return LoadHFTokenizer(filepath.Join(dir, TokenizerFile), filepath.Join(dir, TokenizerConfigFile))
}

func LoadHFTokenizer(tokJSON, tokConfig string) (*HFTokenizer, error) {
	data, err := os.ReadFile(tokJSON)
	if err != nil {
		return nil, err
	}
	var cfg []byte
	if tokConfig != "" {
		if raw, err := os.ReadFile(tokConfig); err == nil {
			cfg = raw
		}
	}
	return LoadHFTokenizerBytes(data, cfg)
}

func LoadHFTokenizerBytes(tokJSON []byte, tokConfig []byte) (*HFTokenizer, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return nil, fmt.Errorf("parse tokenizer: %w", err)
	}
	if strings.ToUpper(tj.Model.Type) != "BPE" {
		return nil, fmt.Errorf("unsupported tokenizer model: %s", tj.Model.Type)
	}

	encoder := make(map[string]int, len(tj.Model.Vocab)+len(tj.AddedTokens))
	maxID := -1
	for tok, id := range tj.Model.Vocab {
		encoder[tok] = id
		maxID = max(maxID, id)
	}
	for _, at := range tj.AddedTokens {
		encoder[at.Content] = at.ID
		maxID = max(maxID, at.ID)
	}
	decoder := make([]string, maxID+1)
	for tok, id := range tj.Model.Vocab {
		decoder[id] = tok
	}
	var specials []string
	specialIDs := make(map[int]struct{})
	for _, at := range tj.AddedTokens {
		decoder[at.ID] = at.Content
		if at.Special {
			specials = append(specials, at.Content)
			specialIDs[at.ID] = struct{}{}
		}
	}
	for id, tok := range decoder {
		if isSpecialToken(tok) {
			if _, seen := specialIDs[id]; !seen {
				specials = append(specials, tok)
				specialIDs[id] = struct{}{}
			}
		}
	}

	pat, err := buildHFPattern(tj.PreTokenizer)
	if err != nil {
		return nil, err
	}

	var cfg hfTokenizerConfig
	if len(tokConfig) > 0 {
		_ = json.Unmarshal(tokConfig, &cfg)
	}

	tok := &HFTokenizer{
		encoder:      encoder,
		decoder:      decoder,
		bpeRanks:     parseMerges(tj.Model.Merges),
		pattern:      pat,
		addBOS:       cfg.AddBOS,
		addEOS:       cfg.AddEOS,
		bosID:        lookup(encoder, cfg.BOS),
		eosID:        lookup(encoder, cfg.EOS),
		unkID:        lookup(encoder, tj.Model.UnkToken),
		ignoreMerges: tj.Model.IgnoreMerges,
		special:      sortSpecials(specials),
		specialIDs:   specialIDs,
		cache:        make(map[string][]string),
	}
	tok.byteEncoder, tok.byteDecoder = bytesToUnicode()
	// If TemplateProcessing defines a BOS token, use it.
	for _, proc := range tj.PostProcessor.Processors {
		if proc.Type != "TemplateProcessing" {
			continue
		}
		for _, spec := range proc.SpecialTokens {
			if len(spec.IDs) > 0 {
				tok.bosID = spec.IDs[0]
				tok.addBOS = true
				break
			}
		}
	}
	return tok, nil
}

func parseMerges(merges []any) map[Pair]int {
	ranks := make(map[Pair]int, len(merges))
	rank := 0
	for _, raw := range merges {
		line := ""
		switch v := raw.(type) {
		case string:
			line = v
		case []any:
			if len(v) == 2 {
				a, aok := v[0].(string)
				b, bok := v[1].(string)
				if aok && bok {
					line = a + " " + b
				}
			}
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, " ")
		if len(parts) != 2 {
			continue
		}
		p := Pair{A: parts[0], B: parts[1]}
		if _, ok := ranks[p]; !ok {
			ranks[p] = rank
			rank++
		}
	}
	return ranks
}

func lookup(encoder map[string]int, tok string) int {
	if tok == "" {
		return -1
	}
	if id, ok := encoder[tok]; ok {
		return id
	}
	return -1
}

func (t *HFTokenizer) Encode(text string) ([]int, error) {
	var ids []int
	if t.addBOS && t.bosID >= 0 {
		ids = append(ids, t.bosID)
	}
	for _, part := range splitSpecials(text, t.special) {
		if part.isSpecial {
			ids = append(ids, t.encoder[part.text])
			continue
		}
		for _, token := range t.split(part.text) {
			for _, bpeTok := range t.bpe(t.byteEncode(token)) {
				id, ok := t.encoder[bpeTok]
				if !ok {
					if t.unkID >= 0 {
						ids = append(ids, t.unkID)
						continue
					}
					return nil, fmt.Errorf("unknown token: %q", bpeTok)
				}
				ids = append(ids, id)
			}
		}
	}
	if t.addEOS && t.eosID >= 0 {
		ids = append(ids, t.eosID)
	}
	return ids, nil
}

func (t *HFTokenizer) Decode(ids []int) (string, error) {
	var b []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", fmt.Errorf("token id out of range: %d", id)
		}
		token := t.decoder[id]
		if _, special := t.specialIDs[id]; special {
			b = append(b, token...)
			continue
		}
		for _, r := range token {
			if by, ok := t.byteDecoder[string(r)]; ok {
				b = append(b, by)
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	return string(b), nil
}

// SkipSpecial returns ids without special tokens.
func (t *HFTokenizer) SkipSpecial(ids []int) []int {
	return slices.DeleteFunc(slices.Clone(ids), func(id int) bool {
		_, special := t.specialIDs[id]
		return special
	})
}

func (t *HFTokenizer) VocabSize() int { return len(t.decoder) }
func (t *HFTokenizer) BOSID() int     { return t.bosID }
func (t *HFTokenizer) EOSID() int     { return t.eosID }

func (t *HFTokenizer) TokenString(id int) string {
	if id < 0 || id >= len(t.decoder) {
		return ""
	}
	return t.decoder[id]
}

// split pre-tokenizes text with isolated behavior: both the regex matches
// and the text between them become pieces.
func (t *HFTokenizer) split(text string) []string {
	var pieces []string
	last := 0
	for _, loc := range t.pattern.FindAllStringIndex(text, -1) {
		if loc[0] > last {
			pieces = append(pieces, text[last:loc[0]])
		}
		if loc[1] > loc[0] {
			pieces = append(pieces, text[loc[0]:loc[1]])
		}
		last = loc[1]
	}
	if last < len(text) {
		pieces = append(pieces, text[last:])
	}
	return pieces
}

func (t *HFTokenizer) byteEncode(s string) string {
	var b strings.Builder
	for _, by := range []byte(s) {
		b.WriteString(t.byteEncoder[by])
	}
	return b.String()
}

func (t *HFTokenizer) bpe(token string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.cache[token]; ok {
		return v
	}
	if t.ignoreMerges {
		if _, ok := t.encoder[token]; ok {
			out := []string{token}
			t.cache[token] = out
			return out
		}
	}
	word := splitRunes(token)
	pairs := getPairs(word)
	for len(pairs) > 0 {
		bestRank := int(^uint(0) >> 1)
		bestPair := Pair{}
		found := false
		for p := range pairs {
			if rank, ok := t.bpeRanks[p]; ok && rank < bestRank {
				bestRank = rank
				bestPair = p
				found = true
			}
		}
		if !found {
			break
		}
		word = mergePair(word, bestPair)
		if len(word) == 1 {
			break
		}
		pairs = getPairs(word)
	}
	t.cache[token] = word
	return word
}

// defaultPattern is the GPT-2 pre-tokenizer split.
const defaultPattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`

func buildHFPattern(pre hfPreTokenizer) (*regexp.Regexp, error) {
	pat := defaultPattern
	switch pre.Type {
	case "Split":
		if pre.Pattern.Regex != "" {
			pat = pre.Pattern.Regex
		}
	case "Sequence":
		for _, p := range pre.Pretokenizers {
			if p.Type == "Split" && p.Pattern.Regex != "" {
				pat = p.Pattern.Regex
				break
			}
		}
	}
	re, err := regexp.Compile(pat)
	if err == nil {
		return re, nil
	}
	// BLOOM's split regex nests a bracket class inside a negated class,
	// which RE2 does not support. Flattening keeps the same character set.
	re, ferr := regexp.Compile(flattenNestedClasses(pat))
	if ferr != nil {
		return nil, fmt.Errorf("pre-tokenizer regex %q: %w", pat, err)
	}
	return re, nil
}

// flattenNestedClasses drops brackets nested inside a character class, so
// [^(\s|[.,!?])]+ becomes [^(\s|.,!?)]+.
func flattenNestedClasses(pat string) string {
	var b strings.Builder
	depth := 0
	escaped := false
	for _, r := range pat {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == '[':
			depth++
			if depth > 1 {
				continue
			}
		case r == ']' && depth > 0:
			depth--
			if depth > 0 {
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}
