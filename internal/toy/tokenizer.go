package toy

// VocabSize is the size of the toy tokenizer vocabulary.
const VocabSize = 16

const tokenizerJSON = `{
  "version": "1.0",
  "added_tokens": [
    {"id": 0, "content": "<unk>", "special": true},
    {"id": 1, "content": "<s>", "special": true},
    {"id": 2, "content": "</s>", "special": true},
    {"id": 3, "content": "<pad>", "special": true}
  ],
  "pre_tokenizer": {
    "type": "Sequence",
    "pretokenizers": [
      {"type": "Split", "pattern": {"Regex": " ?[^(\\s|[.,!?…。，、।۔،])]+"}, "behavior": "Isolated", "invert": false},
      {"type": "ByteLevel", "add_prefix_space": false, "trim_offsets": true, "use_regex": false}
    ]
  },
  "model": {
    "type": "BPE",
    "unk_token": "<unk>",
    "vocab": {
      "<unk>": 0, "<s>": 1, "</s>": 2, "<pad>": 3,
      "Ġ": 4, "a": 5, "b": 6, "d": 7, "e": 8, "h": 9, "l": 10, "o": 11,
      "r": 12, "w": 13, "he": 14, "ll": 15
    },
    "merges": ["h e", "l l"]
  }
}`

// TokenizerJSON returns a byte-level BPE tokenizer.json over VocabSize tokens.
func TokenizerJSON() []byte { return []byte(tokenizerJSON) }
