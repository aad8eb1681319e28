// Package aiollama talks to a local Ollama server over its /api/chat
// endpoint. Ollama models generally lack native function calling, so the
// provider reports that capability as absent and the runtime falls back to
// the free-text tool protocol.
package aiollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultTimeout = 30 * time.Second

	// maxResponseBytes caps how much of a response body is read before
	// JSON parsing, so a pathological server cannot exhaust memory.
	maxResponseBytes = 10 << 20
)

// OllamaProvider implements the LLM interface for a local Ollama server
type OllamaProvider struct {
	client  *http.Client
	baseURL string
	numCtx  int
}

// ProviderOption configures the provider
type ProviderOption func(*OllamaProvider)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(p *OllamaProvider) {
		p.client = client
	}
}

// WithNumCtx sets the context window size requested from the model,
// typically derived from memoryx.CalcDynamicContext.
func WithNumCtx(numCtx int) ProviderOption {
	return func(p *OllamaProvider) {
		p.numCtx = numCtx
	}
}

// NewOllamaProvider creates a new Ollama provider
func NewOllamaProvider(baseURL string, opts ...ProviderOption) *OllamaProvider {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	p := &OllamaProvider{
		client:  &http.Client{Timeout: defaultTimeout},
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Capabilities reports that tool intent arrives as free text.
func (p *OllamaProvider) Capabilities() llm.Capabilities {
	return llm.Capabilities{NativeToolCalls: false, Streaming: true}
}

func defaultChatOptions() *llm.ChatOptions {
	options := llm.DefaultOptions()
	options.Model = "llama3.2"
	return options
}

// ============================================================================
// Wire types
// ============================================================================

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
}

type ollamaOptions struct {
	Temperature float32  `json:"temperature,omitempty"`
	TopP        float32  `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	NumCtx      int      `json:"num_ctx,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool   `json:"done"`
	Error           string `json:"error,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// ============================================================================
// Chat Implementation
// ============================================================================

// Chat implements the LLM interface
func (p *OllamaProvider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.Option) (llm.Response, error) {
	if len(messages) == 0 {
		return llm.Response{}, errorRegistry.New(ErrEmptyMessages)
	}

	options := defaultChatOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.Model == "" {
		return llm.Response{}, errorRegistry.New(ErrMissingModel)
	}

	body, err := p.do(ctx, buildRequest(messages, options, false, p.numCtx))
	if err != nil {
		return llm.Response{}, err
	}

	var parsed ollamaChatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return llm.Response{}, errorRegistry.NewWithCause(ErrInvalidResponse, err).
			WithDetail("model", options.Model)
	}
	if parsed.Error != "" {
		return llm.Response{}, ParseOllamaError(fmt.Errorf("%s", parsed.Error)).
			WithDetail("model", options.Model)
	}

	return llm.Response{
		Message: llm.NewAssistantMessage(parsed.Message.Content),
		Usage: llm.Usage{
			PromptTokens:     parsed.PromptEvalCount,
			CompletionTokens: parsed.EvalCount,
			TotalTokens:      parsed.PromptEvalCount + parsed.EvalCount,
		},
	}, nil
}

// ============================================================================
// Chat Stream Implementation
// ============================================================================

// ChatStream implements streaming over Ollama's NDJSON chat protocol
func (p *OllamaProvider) ChatStream(ctx context.Context, messages []llm.Message, opts ...llm.Option) (llm.Stream, error) {
	if len(messages) == 0 {
		return nil, errorRegistry.New(ErrEmptyMessages)
	}

	options := defaultChatOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.Model == "" {
		return nil, errorRegistry.New(ErrMissingModel)
	}

	payload, err := json.Marshal(buildRequest(messages, options, true, p.numCtx))
	if err != nil {
		return nil, errorRegistry.NewWithCause(ErrRequestFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, errorRegistry.NewWithCause(ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	// Streaming responses outlive the client timeout, so use a bare
	// transport and rely on ctx for cancellation.
	client := &http.Client{Transport: p.client.Transport}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errorRegistry.NewWithCause(ErrStreamFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, statusError(resp.StatusCode, body)
	}

	return &ollamaStream{
		body:    resp.Body,
		scanner: bufio.NewScanner(io.LimitReader(resp.Body, maxResponseBytes)),
	}, nil
}

type ollamaStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func (s *ollamaStream) Next() (llm.Message, error) {
	if s.done {
		return llm.Message{}, io.EOF
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk ollamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return llm.Message{}, errorRegistry.NewWithCause(ErrInvalidResponse, err)
		}
		if chunk.Error != "" {
			return llm.Message{}, ParseOllamaError(fmt.Errorf("%s", chunk.Error))
		}
		if chunk.Done {
			s.done = true
			if chunk.Message.Content == "" {
				return llm.Message{}, io.EOF
			}
		}
		return llm.Message{Role: llm.RoleAssistant, Content: chunk.Message.Content}, nil
	}

	if err := s.scanner.Err(); err != nil {
		return llm.Message{}, errorRegistry.NewWithCause(ErrStreamFailed, err)
	}
	s.done = true
	return llm.Message{}, io.EOF
}

func (s *ollamaStream) Close() error {
	return s.body.Close()
}

// ============================================================================
// Helper Functions
// ============================================================================

func buildRequest(messages []llm.Message, options *llm.ChatOptions, stream bool, numCtx int) ollamaChatRequest {
	converted := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		if role == llm.RoleTool {
			// Ollama has no tool role; observations travel as user turns.
			role = llm.RoleUser
		}
		converted = append(converted, ollamaMessage{
			Role:    role,
			Content: msg.Content,
		})
	}

	opts := &ollamaOptions{
		Temperature: options.Temperature,
		TopP:        options.TopP,
		NumPredict:  options.MaxTokens,
		NumCtx:      numCtx,
		Stop:        options.Stop,
	}

	return ollamaChatRequest{
		Model:    options.Model,
		Messages: converted,
		Stream:   stream,
		Options:  opts,
	}
}

// do posts a non-streaming request and returns the size-capped body.
func (p *OllamaProvider) do(ctx context.Context, request ollamaChatRequest) ([]byte, error) {
	payload, err := json.Marshal(request)
	if err != nil {
		return nil, errorRegistry.NewWithCause(ErrRequestFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, errorRegistry.NewWithCause(ErrRequestFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, ParseOllamaError(err)
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, maxResponseBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, errorRegistry.NewWithCause(ErrRequestFailed, err)
	}
	if len(body) > maxResponseBytes {
		return nil, errorRegistry.New(ErrResponseTooLarge).
			WithDetail("limit_bytes", maxResponseBytes)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, body)
	}
	return body, nil
}

func statusError(status int, body []byte) error {
	detail := strings.TrimSpace(string(body))
	switch status {
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return errorRegistry.New(ErrServerOverloaded).WithDetail("body", detail)
	case http.StatusNotFound:
		return errorRegistry.New(ErrModelNotFound).WithDetail("body", detail)
	default:
		return errorRegistry.New(ErrRequestFailed).
			WithDetail("status", status).
			WithDetail("body", detail)
	}
}
