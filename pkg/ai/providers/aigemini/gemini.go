package aigemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm"
	"google.golang.org/genai"
)

const defaultModel = "gemini-2.0-flash"

// GeminiProvider implements llm.Client against the Gemini API.
type GeminiProvider struct {
	client *genai.Client
	apiKey string
}

// NewGeminiProvider creates a new Gemini provider. An empty apiKey falls
// back to the GEMINI_API_KEY environment variable.
func NewGeminiProvider(ctx context.Context, apiKey string) (*GeminiProvider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errorRegistry.New(ErrMissingAPIKey)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, errorRegistry.NewWithCause(ErrClientInit, err)
	}

	return &GeminiProvider{client: client, apiKey: apiKey}, nil
}

// Chat implements llm.Client.
func (p *GeminiProvider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.Option) (llm.Response, error) {
	model, contents, config, err := p.buildRequest(messages, opts)
	if err != nil {
		return llm.Response{}, err
	}

	result, err := p.client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return llm.Response{}, apiError(err).
			WithDetail("model", model).
			WithDetail("num_messages", len(messages))
	}

	return fromResponse(result)
}

// ChatStream implements llm.Client. The SDK exposes a push iterator, so the
// stream adapter pumps it through a channel to satisfy the pull interface.
func (p *GeminiProvider) ChatStream(ctx context.Context, messages []llm.Message, opts ...llm.Option) (llm.Stream, error) {
	model, contents, config, err := p.buildRequest(messages, opts)
	if err != nil {
		return nil, err
	}

	iter := p.client.Models.GenerateContentStream(ctx, model, contents, config)

	ch := make(chan chunkResult, 1)
	done := make(chan struct{})
	go func() {
		defer close(ch)
		iter(func(resp *genai.GenerateContentResponse, err error) bool {
			select {
			case ch <- chunkResult{resp: resp, err: err}:
				return true
			case <-done:
				return false
			}
		})
	}()

	return &generateStream{ch: ch, done: done}, nil
}

func (p *GeminiProvider) buildRequest(messages []llm.Message, opts []llm.Option) (string, []*genai.Content, *genai.GenerateContentConfig, error) {
	if len(messages) == 0 {
		return "", nil, nil, errorRegistry.New(ErrEmptyMessages)
	}

	options := llm.DefaultOptions()
	options.Model = defaultModel
	for _, opt := range opts {
		opt(options)
	}

	system, contents := toContents(messages)

	config := &genai.GenerateContentConfig{}
	if system != nil {
		config.SystemInstruction = system
	}
	if options.Temperature != 0 {
		config.Temperature = genai.Ptr(options.Temperature)
	}
	if options.TopP != 0 {
		config.TopP = genai.Ptr(options.TopP)
	}
	if options.MaxTokens > 0 {
		config.MaxOutputTokens = int32(options.MaxTokens)
	}
	if len(options.Stop) > 0 {
		config.StopSequences = options.Stop
	}
	if len(options.Tools) > 0 {
		config.Tools = toTools(options.Tools)
	}

	return options.Model, contents, config, nil
}

// toContents splits out the system instruction and maps the rest onto
// Gemini's user/model turn structure. Tool results travel back as
// FunctionResponse parts on a user turn.
func toContents(messages []llm.Message) (*genai.Content, []*genai.Content) {
	var system *genai.Content
	var contents []*genai.Content

	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			if system == nil {
				system = &genai.Content{}
			}
			system.Parts = append(system.Parts, genai.NewPartFromText(msg.Content))

		case llm.RoleUser:
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
			})

		case llm.RoleAssistant:
			contents = append(contents, &genai.Content{
				Role:  "model",
				Parts: assistantParts(msg),
			})

		case llm.RoleTool:
			contents = append(contents, &genai.Content{
				Role: "user",
				Parts: []*genai.Part{
					genai.NewPartFromFunctionResponse(msg.ToolCallID, map[string]any{
						"output": msg.Content,
					}),
				},
			})
		}
	}

	return system, contents
}

func assistantParts(msg llm.Message) []*genai.Part {
	var parts []*genai.Part

	if msg.Content != "" {
		parts = append(parts, genai.NewPartFromText(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		var args map[string]any
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
		}
		if args == nil {
			args = map[string]any{}
		}
		parts = append(parts, genai.NewPartFromFunctionCall(tc.Function.Name, args))
	}
	return parts
}

func toTools(tools []llm.Tool) []*genai.Tool {
	var declarations []*genai.FunctionDeclaration
	for _, tool := range tools {
		if tool.Type != "function" {
			continue
		}
		decl := &genai.FunctionDeclaration{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
		}
		if tool.Function.Parameters != nil {
			decl.Parameters = toSchema(tool.Function.Parameters)
		}
		declarations = append(declarations, decl)
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

func toSchema(params any) *genai.Schema {
	m, ok := params.(map[string]any)
	if !ok {
		data, err := json.Marshal(params)
		if err != nil {
			return nil
		}
		_ = json.Unmarshal(data, &m)
	}
	return mapToSchema(m)
}

// mapToSchema translates a JSON Schema object into Gemini's typed schema,
// recursing into properties and items.
func mapToSchema(m map[string]any) *genai.Schema {
	if m == nil {
		return nil
	}

	schema := &genai.Schema{}

	if t, ok := m["type"].(string); ok {
		switch t {
		case "object":
			schema.Type = genai.TypeObject
		case "array":
			schema.Type = genai.TypeArray
		case "string":
			schema.Type = genai.TypeString
		case "number":
			schema.Type = genai.TypeNumber
		case "integer":
			schema.Type = genai.TypeInteger
		case "boolean":
			schema.Type = genai.TypeBoolean
		}
	}
	if desc, ok := m["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := m["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for key, val := range props {
			if propMap, ok := val.(map[string]any); ok {
				schema.Properties[key] = mapToSchema(propMap)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		schema.Items = mapToSchema(items)
	}
	if required, ok := m["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}

	return schema
}

// callID returns the function call's ID, synthesizing one when the API
// omits it. The orchestrator needs a stable ID to pair results with calls.
func callID(fc *genai.FunctionCall, ordinal int) string {
	if fc.ID != "" {
		return fc.ID
	}
	return fmt.Sprintf("call_%s_%d", fc.Name, ordinal)
}

func fromResponse(result *genai.GenerateContentResponse) (llm.Response, error) {
	if result == nil || len(result.Candidates) == 0 {
		return llm.Response{}, errorRegistry.New(ErrEmptyCandidates)
	}

	candidate := result.Candidates[0]
	if candidate.Content == nil {
		return llm.Response{Message: llm.Message{Role: llm.RoleAssistant}}, nil
	}

	var content string
	var toolCalls []llm.ToolCall
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			content += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:   callID(part.FunctionCall, len(toolCalls)),
				Type: "function",
				Function: llm.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		}
	}

	usage := llm.Usage{}
	if result.UsageMetadata != nil {
		usage.PromptTokens = int(result.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(result.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(result.UsageMetadata.TotalTokenCount)
	}

	return llm.Response{
		Message: llm.Message{
			Role:      llm.RoleAssistant,
			Content:   content,
			ToolCalls: toolCalls,
		},
		Usage: usage,
	}, nil
}

type chunkResult struct {
	resp *genai.GenerateContentResponse
	err  error
}

type generateStream struct {
	ch      chan chunkResult
	done    chan struct{}
	calls   []llm.ToolCall
	lastErr error
}

func (s *generateStream) Next() (llm.Message, error) {
	if s.lastErr != nil {
		return llm.Message{}, s.lastErr
	}

	result, ok := <-s.ch
	if !ok {
		s.lastErr = io.EOF
		return llm.Message{}, io.EOF
	}
	if result.err != nil {
		s.lastErr = apiError(result.err)
		return llm.Message{}, s.lastErr
	}

	if result.resp == nil || len(result.resp.Candidates) == 0 {
		return llm.Message{Role: llm.RoleAssistant}, nil
	}
	candidate := result.resp.Candidates[0]
	if candidate.Content == nil {
		return llm.Message{Role: llm.RoleAssistant}, nil
	}

	var text string
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			text += part.Text
		}
		if part.FunctionCall != nil {
			args, _ := json.Marshal(part.FunctionCall.Args)
			s.calls = append(s.calls, llm.ToolCall{
				ID:   callID(part.FunctionCall, len(s.calls)),
				Type: "function",
				Function: llm.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(args),
				},
			})
		}
	}

	return llm.Message{
		Role:      llm.RoleAssistant,
		Content:   text,
		ToolCalls: s.calls,
	}, nil
}

func (s *generateStream) Close() error {
	close(s.done)
	return nil
}
