package toolx

import (
	"fmt"
	"sort"
	"strings"
)

// Summarizer defaults.
const (
	DefaultMaxResultChars = 280
	DefaultMaxArgs        = 4
)

// bulkArgKeys carry payloads large enough to re-explode the context if
// echoed back in a summary.
var bulkArgKeys = map[string]struct{}{
	"content": {},
	"text":    {},
	"edits":   {},
	"data":    {},
	"body":    {},
}

// SummarizeInput describes one finished tool call.
type SummarizeInput struct {
	ToolName       string
	Args           map[string]any
	ResultText     string
	IsError        bool
	MaxResultChars int
	MaxArgs        int
}

// Summarize builds a deterministic one-line digest of a tool result: status
// glyph, tool name, up to MaxArgs scalar arguments, then the result text
// collapsed to a single line and truncated to MaxResultChars. Summarizing an
// already-summarized string again yields the same structural shape, so
// summaries are safe to re-feed.
func Summarize(in SummarizeInput) string {
	maxChars := in.MaxResultChars
	if maxChars <= 0 {
		maxChars = DefaultMaxResultChars
	}
	maxArgs := in.MaxArgs
	if maxArgs <= 0 {
		maxArgs = DefaultMaxArgs
	}

	glyph := "✅"
	if in.IsError {
		glyph = "❌"
	}

	var b strings.Builder
	b.WriteString(glyph)
	b.WriteString(" ")
	b.WriteString(in.ToolName)

	if argsPart := renderArgs(in.Args, maxArgs); argsPart != "" {
		b.WriteString(" (")
		b.WriteString(argsPart)
		b.WriteString(")")
	}

	result := collapseWhitespace(in.ResultText)
	if result != "" {
		b.WriteString(": ")
		b.WriteString(truncate(result, maxChars))
	}
	return b.String()
}

// renderArgs picks up to maxArgs scalar arguments in sorted key order.
// Object-valued, array-valued and bulk-content arguments are skipped.
func renderArgs(args map[string]any, maxArgs int) string {
	if len(args) == 0 {
		return ""
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, maxArgs)
	for _, k := range keys {
		if len(parts) >= maxArgs {
			break
		}
		if _, bulk := bulkArgKeys[k]; bulk {
			continue
		}
		switch args[k].(type) {
		case map[string]any, []any:
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return strings.Join(parts, ", ")
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
