package config

import "time"

// Tier names. Each tier maps to one model on one backend; tiers may share
// a backend (common with a single Ollama instance serving all sizes).
const (
	TierTrigger = "trigger"
	TierReview  = "review"
	TierMeta    = "meta"
)

// LLMTier is the resolved call profile for one reasoner tier: where to
// send the request, which model to name, and how patient to be.
type LLMTier struct {
	Name          string
	Model         string
	BackendURL    string
	ContextTokens int
	MaxTokens     int
	Timeout       time.Duration
	Retries       int
}
