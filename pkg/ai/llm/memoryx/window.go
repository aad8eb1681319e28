package memoryx

import (
	"strings"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm"
)

const (
	// DefaultReservedTokens is held back from the context limit so the
	// model has room to generate its response.
	DefaultReservedTokens = 2000

	// fullFidelityCharCap bounds tool results kept at full fidelity instead
	// of being collapsed to their summary.
	fullFidelityCharCap = 4000

	// pairOverrunRatio is how far past the budget the window may stretch to
	// keep a user/assistant pair together at the truncation boundary.
	pairOverrunRatio = 0.05
)

// CalcDynamicContext picks a context budget in tokens from the machine's
// free memory in MB. Callers without a resource monitor pass 0 and get the
// smallest tier.
func CalcDynamicContext(freeMB int) int {
	switch {
	case freeMB < 1000:
		return 1000
	case freeMB < 2000:
		return 2000
	case freeMB < 4000:
		return 4000
	case freeMB < 8000:
		return 6000
	default:
		return 8000
	}
}

// ContextWindowManager owns one conversation's history and produces
// token-budgeted message windows for provider calls. Tool observations are
// compressed to their stored summary before estimation unless the tool is on
// the full-fidelity list.
type ContextWindowManager struct {
	memory            Memory
	estimator         TokenEstimator
	contextLimit      int
	reservedTokens    int
	fullFidelityTools map[string]struct{}
}

// WindowOption configures a ContextWindowManager.
type WindowOption func(*ContextWindowManager)

// WithReservedTokens overrides the slice held back for the response.
func WithReservedTokens(n int) WindowOption {
	return func(w *ContextWindowManager) {
		if n > 0 {
			w.reservedTokens = n
		}
	}
}

// WithEstimator replaces the default token estimator.
func WithEstimator(e TokenEstimator) WindowOption {
	return func(w *ContextWindowManager) {
		w.estimator = e
	}
}

// WithFullFidelityTools names tools whose raw output the model must be able
// to quote. Their observations are kept at full text, capped in size,
// instead of being replaced by the summary.
func WithFullFidelityTools(tools ...string) WindowOption {
	return func(w *ContextWindowManager) {
		for _, t := range tools {
			w.fullFidelityTools[t] = struct{}{}
		}
	}
}

// NewContextWindowManager wraps a Memory with a token budget.
func NewContextWindowManager(memory Memory, contextLimit int, opts ...WindowOption) *ContextWindowManager {
	w := &ContextWindowManager{
		memory:            memory,
		estimator:         &CharBasedEstimator{},
		contextLimit:      contextLimit,
		reservedTokens:    DefaultReservedTokens,
		fullFidelityTools: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Append adds a message to the underlying history.
func (w *ContextWindowManager) Append(message llm.Message) error {
	return w.memory.Add(message)
}

// Clear resets the conversation history.
func (w *ContextWindowManager) Clear() error {
	return w.memory.Clear()
}

// History returns the raw, untrimmed history.
func (w *ContextWindowManager) History() ([]llm.Message, error) {
	return w.memory.Messages()
}

// TrimmedHistory returns the window for the manager's configured context
// limit minus the response reserve.
func (w *ContextWindowManager) TrimmedHistory() ([]llm.Message, error) {
	budget := w.contextLimit - w.reservedTokens
	if budget < 1 {
		budget = 1
	}
	return w.TrimmedHistoryWithBudget(budget)
}

// TrimmedHistoryWithBudget walks the history newest to oldest, accumulating
// estimated token cost, and stops including older messages once the budget
// would be exceeded. A leading system message is always kept. When the
// oldest retained message is an assistant reply, the preceding user message
// is pulled in too, allowing up to 5% budget overrun, so the window never
// opens on an orphaned reply. The result is never empty for a non-empty
// conversation.
func (w *ContextWindowManager) TrimmedHistoryWithBudget(budget int) ([]llm.Message, error) {
	history, err := w.memory.Messages()
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, nil
	}

	var system *llm.Message
	if history[0].Role == llm.RoleSystem {
		s := w.compress(history[0])
		system = &s
		history = history[1:]
	}
	if len(history) == 0 {
		if system != nil {
			return []llm.Message{*system}, nil
		}
		return nil, nil
	}

	compressed := make([]llm.Message, len(history))
	for i, m := range history {
		compressed[i] = w.compress(m)
	}

	remaining := budget
	if system != nil {
		remaining -= w.estimator.EstimateTokens([]llm.Message{*system})
	}

	cut := len(compressed)
	used := 0
	for i := len(compressed) - 1; i >= 0; i-- {
		cost := w.estimator.EstimateTokens(compressed[i : i+1])
		if used+cost > remaining && cut < len(compressed) {
			break
		}
		used += cost
		cut = i
	}

	// Keep the user half of a user/assistant pair at the boundary.
	if cut > 0 && cut < len(compressed) &&
		compressed[cut].Role == llm.RoleAssistant &&
		compressed[cut-1].Role == llm.RoleUser {
		pairCost := w.estimator.EstimateTokens(compressed[cut-1 : cut])
		overrun := int(float64(budget) * pairOverrunRatio)
		if used+pairCost <= remaining+overrun {
			cut--
		}
	}

	window := compressed[cut:]
	if system != nil {
		out := make([]llm.Message, 0, len(window)+1)
		out = append(out, *system)
		out = append(out, window...)
		return out, nil
	}
	out := make([]llm.Message, len(window))
	copy(out, window)
	return out, nil
}

// compress replaces a tool observation's content with its stored summary.
// Tools on the full-fidelity list keep their raw result text instead, capped
// at fullFidelityCharCap. Other messages pass through unchanged. The stored
// history entry is never mutated.
func (w *ContextWindowManager) compress(m llm.Message) llm.Message {
	if !m.MetaBool(llm.MetaIsToolObservation) && !m.MetaBool(llm.MetaIsToolResult) {
		return m
	}

	toolName := m.MetaString(llm.MetaToolName)
	if _, full := w.fullFidelityTools[toolName]; full {
		if raw := m.MetaString(llm.MetaToolResultText); raw != "" {
			m.Content = raw
		}
		m.Content = truncateAtBoundary(m.Content, fullFidelityCharCap)
		return m
	}

	if summary := m.MetaString(llm.MetaToolResultSummary); summary != "" {
		m.Content = summary
	} else {
		m.Content = truncateAtBoundary(m.Content, fullFidelityCharCap)
	}
	return m
}

// truncateAtBoundary cuts s down to at most limit runes, snapping the cut
// back to the nearest newline or sentence end so it lands between thoughts
// rather than mid-word. Strings within the limit come back untouched.
func truncateAtBoundary(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	cut := limit
	for i := limit; i > limit/2; i-- {
		r := runes[i-1]
		if r == '\n' {
			cut = i - 1
			break
		}
		if r == '.' || r == '!' || r == '?' {
			cut = i
			break
		}
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}
