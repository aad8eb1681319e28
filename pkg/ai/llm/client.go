package llm

import "context"

// Response is a single completed model turn.
type Response struct {
	Message Message `json:"message"`
	Usage   Usage   `json:"usage"`
}

// Stream delivers a model response incrementally. Next returns io.EOF when
// the stream is exhausted. Each returned Message carries the text delta in
// Content and the full accumulated tool-call snapshot in ToolCalls.
type Stream interface {
	Next() (Message, error)
	Close() error
}

// Client is the provider-agnostic chat surface. Every provider adapter
// (aiopenai, aianthropic, aigemini, aibedrock, aiollama) implements it.
type Client interface {
	Chat(ctx context.Context, messages []Message, opts ...Option) (Response, error)
	ChatStream(ctx context.Context, messages []Message, opts ...Option) (Stream, error)
}

// Capabilities describes what a provider backend can do natively. The
// orchestrator uses it to decide whether tool definitions go out as typed
// function declarations or as prompt text parsed back out of the response.
type Capabilities struct {
	// NativeToolCalls is true when the backend returns structured tool_calls.
	NativeToolCalls bool
	// Streaming is true when ChatStream is implemented.
	Streaming bool
}

// CapabilityReporter is optionally implemented by providers. Backends that
// do not implement it are assumed to support native tool calls and streaming.
type CapabilityReporter interface {
	Capabilities() Capabilities
}

// ClientCapabilities returns the capabilities of c, applying the default for
// providers that do not report their own.
func ClientCapabilities(c Client) Capabilities {
	if r, ok := c.(CapabilityReporter); ok {
		return r.Capabilities()
	}
	return Capabilities{NativeToolCalls: true, Streaming: true}
}
