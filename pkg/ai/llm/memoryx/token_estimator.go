package memoryx

import (
	"math"
	"unicode"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm"
)

// TokenEstimator estimates token counts for text and messages.
// The default implementation uses a chars-per-token heuristic.
// Provide a custom implementation for more accurate counting (e.g. tiktoken).
type TokenEstimator interface {
	EstimateText(text string) int
	EstimateTokens(messages []llm.Message) int
}

// CharBasedEstimator estimates tokens from character counts. Text carrying
// non-ASCII letters (accented Spanish, for instance) tokenizes denser, so it
// gets a smaller chars-per-token divisor. A rough approximation, good
// enough for window trimming, not for billing.
type CharBasedEstimator struct{}

const (
	asciiCharsPerToken    = 4.0
	nonASCIICharsPerToken = 3.5

	// Rough per-message overhead for role markers and separators.
	messageOverheadTokens = 4
)

// EstimateText returns the estimated token count of a text blob. Empty text
// is zero tokens; the estimate grows monotonically with length.
func (e *CharBasedEstimator) EstimateText(text string) int {
	if text == "" {
		return 0
	}
	divisor := asciiCharsPerToken
	for _, r := range text {
		if r > unicode.MaxASCII {
			divisor = nonASCIICharsPerToken
			break
		}
	}
	return int(math.Ceil(float64(len([]rune(text))) / divisor))
}

// EstimateTokens sums the estimated cost of a message list, including tool
// call payloads and a fixed per-message overhead.
func (e *CharBasedEstimator) EstimateTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += messageOverheadTokens
		total += e.EstimateText(m.Content)
		if m.Name != "" {
			total += e.EstimateText(m.Name)
		}
		for _, tc := range m.ToolCalls {
			total += e.EstimateText(tc.Function.Name)
			total += e.EstimateText(tc.Function.Arguments)
		}
	}
	return total
}
