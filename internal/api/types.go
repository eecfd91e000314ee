package api

import (
	"github.com/samcharles93/shardstream/internal/inference"
)

// GenerateRequest is the body of POST /v1/generate.
type GenerateRequest struct {
	Prompt       string `json:"prompt"`
	MaxNewTokens *int   `json:"max_new_tokens,omitempty"`
	Stream       bool   `json:"stream,omitempty"`
}

type GenerateResponse struct {
	ID           string        `json:"id"`
	PromptTokens []int         `json:"prompt_tokens"`
	Tokens       []int         `json:"tokens"`
	Text         string        `json:"text"`
	Completion   string        `json:"completion"`
	Stats        GenerateStats `json:"stats"`
}

type GenerateStats struct {
	TokensGenerated int     `json:"tokens_generated"`
	DurationMS      float64 `json:"duration_ms"`
	TokensPerSecond float64 `json:"tokens_per_second"`
	LoadMS          float64 `json:"load_ms"`
	ComputeMS       float64 `json:"compute_ms"`
	BytesLoaded     int64   `json:"bytes_loaded"`
	PeakResident    int64   `json:"peak_resident_bytes"`
}

func statsFrom(s inference.Stats) GenerateStats {
	return GenerateStats{
		TokensGenerated: s.TokensGenerated,
		DurationMS:      float64(s.Duration.Microseconds()) / 1000,
		TokensPerSecond: s.TPS,
		LoadMS:          float64(s.Pass.Load.Microseconds()) / 1000,
		ComputeMS:       float64(s.Pass.Compute.Microseconds()) / 1000,
		BytesLoaded:     s.Pass.BytesLoaded,
		PeakResident:    s.Pass.PeakResident,
	}
}

// TokenEvent is the payload of a streamed "token" event.
type TokenEvent struct {
	Step int    `json:"step"`
	ID   int    `json:"id"`
	Text string `json:"text"`
}

// ModelInfo is served by GET /v1/model.
type ModelInfo struct {
	Blocks      int    `json:"blocks"`
	Hidden      int    `json:"hidden"`
	Heads       int    `json:"heads"`
	Vocab       int    `json:"vocab"`
	DType       string `json:"dtype"`
	Shards      int    `json:"shards"`
	ShardFormat string `json:"shard_format"`
	Resident    bool   `json:"resident"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Stage   string `json:"stage,omitempty"`
	Shard   int    `json:"shard,omitempty"`
}
