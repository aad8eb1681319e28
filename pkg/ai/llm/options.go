package llm

// ChatOptions holds the knobs a provider call can take. Providers read the
// subset their API supports and ignore the rest.
type ChatOptions struct {
	Model       string
	Temperature float32
	TopP        float32
	MaxTokens   int
	Stop        []string

	Tools []Tool
}

// DefaultOptions returns a ChatOptions with sane defaults. Providers set
// their own default model on top of this.
func DefaultOptions() *ChatOptions {
	return &ChatOptions{}
}

// Option mutates a ChatOptions
type Option func(*ChatOptions)

// WithModel sets the model to use
func WithModel(model string) Option {
	return func(o *ChatOptions) { o.Model = model }
}

// WithTemperature sets the sampling temperature
func WithTemperature(t float32) Option {
	return func(o *ChatOptions) { o.Temperature = t }
}

// WithTopP sets nucleus sampling probability mass
func WithTopP(p float32) Option {
	return func(o *ChatOptions) { o.TopP = p }
}

// WithMaxTokens sets the maximum number of tokens to generate
func WithMaxTokens(n int) Option {
	return func(o *ChatOptions) { o.MaxTokens = n }
}

// WithStop sets stop sequences
func WithStop(stop ...string) Option {
	return func(o *ChatOptions) { o.Stop = stop }
}

// WithTools adds tools the model may call
func WithTools(tools []Tool) Option {
	return func(o *ChatOptions) { o.Tools = tools }
}
