package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateCost_KnownModel(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000, OutputTokens: 1_000_000}
	cost := u.EstimateCost("claude-sonnet-4-5-20250929")
	assert.InDelta(t, 18.00, cost, 0.001)
}

func TestEstimateCost_CacheTokens(t *testing.T) {
	u := TokenUsage{
		CacheCreationInputTokens: 1_000_000,
		CacheReadInputTokens:     1_000_000,
	}
	// Write at 1.25x input, read at 0.1x input.
	cost := u.EstimateCost("claude-haiku-4-5-20251001")
	assert.InDelta(t, 0.80*1.25+0.80*0.1, cost, 0.001)
}

func TestEstimateCost_UnknownModel(t *testing.T) {
	u := TokenUsage{InputTokens: 1_000_000}
	assert.Zero(t, u.EstimateCost("some-other-model"))
}

func TestLogCost_NoPanic(t *testing.T) {
	TokenUsage{InputTokens: 100, OutputTokens: 50}.LogCost("claude-sonnet-4-5-20250929", "extract")
}
