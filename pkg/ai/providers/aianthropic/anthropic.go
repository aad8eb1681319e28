package aianthropic

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultModel = "claude-sonnet-4-20250514"

	// The Messages API requires max_tokens on every request.
	defaultMaxTokens = 4096
)

// AnthropicProvider implements llm.Client against the Messages API.
type AnthropicProvider struct {
	client anthropic.Client
	apiKey string
}

// NewAnthropicProvider creates a new Anthropic provider. An empty apiKey
// falls back to the ANTHROPIC_API_KEY environment variable.
func NewAnthropicProvider(apiKey string, opts ...option.RequestOption) *AnthropicProvider {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}

	options := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicProvider{
		client: anthropic.NewClient(options...),
		apiKey: apiKey,
	}
}

// Chat implements llm.Client.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.Option) (llm.Response, error) {
	params, err := p.buildParams(messages, opts)
	if err != nil {
		return llm.Response{}, err
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return llm.Response{}, apiError(err).
			WithDetail("model", string(params.Model)).
			WithDetail("num_messages", len(messages))
	}

	return fromMessage(message), nil
}

// ChatStream implements llm.Client.
func (p *AnthropicProvider) ChatStream(ctx context.Context, messages []llm.Message, opts ...llm.Option) (llm.Stream, error) {
	params, err := p.buildParams(messages, opts)
	if err != nil {
		return nil, err
	}

	return &messageStream{stream: p.client.Messages.NewStreaming(ctx, params)}, nil
}

// buildParams validates the request and translates it to the SDK's shape.
// System messages move into the dedicated system field; the rest become
// alternating user/assistant turns.
func (p *AnthropicProvider) buildParams(messages []llm.Message, opts []llm.Option) (anthropic.MessageNewParams, error) {
	if p.apiKey == "" {
		return anthropic.MessageNewParams{}, errorRegistry.New(ErrMissingAPIKey)
	}
	if len(messages) == 0 {
		return anthropic.MessageNewParams{}, errorRegistry.New(ErrEmptyMessages)
	}

	options := llm.DefaultOptions()
	options.Model = defaultModel
	for _, opt := range opts {
		opt(options)
	}

	system, rest := splitSystem(messages)
	converted, err := toParams(rest)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := int64(defaultMaxTokens)
	if options.MaxTokens > 0 {
		maxTokens = int64(options.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(options.Model),
		MaxTokens: maxTokens,
		Messages:  converted,
	}
	if len(system) > 0 {
		params.System = system
	}
	if options.Temperature != 0 {
		params.Temperature = anthropic.Float(float64(options.Temperature))
	}
	if options.TopP != 0 {
		params.TopP = anthropic.Float(float64(options.TopP))
	}
	if len(options.Stop) > 0 {
		params.StopSequences = options.Stop
	}
	if len(options.Tools) > 0 {
		params.Tools = toTools(options.Tools)
	}

	return params, nil
}

func splitSystem(messages []llm.Message) ([]anthropic.TextBlockParam, []llm.Message) {
	var system []anthropic.TextBlockParam
	var rest []llm.Message

	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			system = append(system, anthropic.TextBlockParam{Text: msg.Content})
		} else {
			rest = append(rest, msg)
		}
	}
	return system, rest
}

func toParams(messages []llm.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for i := 0; i < len(messages); i++ {
		msg := messages[i]

		switch msg.Role {
		case llm.RoleUser:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case llm.RoleAssistant:
			result = append(result, anthropic.NewAssistantMessage(assistantBlocks(msg)...))

		case llm.RoleTool:
			// Consecutive tool results collapse into one user message,
			// which is how the API expects parallel results back.
			blocks := []anthropic.ContentBlockParamUnion{
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			}
			for i+1 < len(messages) && messages[i+1].Role == llm.RoleTool {
				i++
				blocks = append(blocks, anthropic.NewToolResultBlock(
					messages[i].ToolCallID, messages[i].Content, false,
				))
			}
			result = append(result, anthropic.NewUserMessage(blocks...))

		default:
			return nil, errorRegistry.New(ErrUnsupportedRole).
				WithDetail("role", msg.Role)
		}
	}

	return result, nil
}

func assistantBlocks(msg llm.Message) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion

	if msg.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
	}
	for _, tc := range msg.ToolCalls {
		var input any
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		}
		if input == nil {
			input = map[string]any{}
		}
		blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
	}
	return blocks
}

func toTools(tools []llm.Tool) []anthropic.ToolUnionParam {
	var result []anthropic.ToolUnionParam
	for _, tool := range tools {
		if tool.Type != "function" {
			continue
		}
		t := anthropic.ToolUnionParamOfTool(toSchema(tool.Function.Parameters), tool.Function.Name)
		if tool.Function.Description != "" {
			t.OfTool.Description = anthropic.String(tool.Function.Description)
		}
		result = append(result, t)
	}
	return result
}

// toSchema lifts a JSON Schema object into the input_schema shape, which
// carries properties and required at the top level.
func toSchema(params any) anthropic.ToolInputSchemaParam {
	schema := anthropic.ToolInputSchemaParam{}
	if params == nil {
		return schema
	}

	m, ok := params.(map[string]any)
	if !ok {
		data, err := json.Marshal(params)
		if err != nil {
			return schema
		}
		_ = json.Unmarshal(data, &m)
	}

	if props, ok := m["properties"]; ok {
		schema.Properties = props
	}
	if req, ok := m["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

func fromMessage(msg *anthropic.Message) llm.Response {
	var content string
	var toolCalls []llm.ToolCall

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			content += block.Text
		case "tool_use":
			args := ""
			if block.Input != nil {
				data, _ := json.Marshal(block.Input)
				args = string(data)
			}
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: llm.FunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		}
	}

	return llm.Response{
		Message: llm.Message{
			Role:      llm.RoleAssistant,
			Content:   content,
			ToolCalls: toolCalls,
		},
		Usage: llm.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens) + int(msg.Usage.OutputTokens),
		},
	}
}

type messageStream struct {
	stream interface {
		Next() bool
		Current() anthropic.MessageStreamEventUnion
		Err() error
		Close() error
	}
	calls   []llm.ToolCall
	lastErr error
}

func (s *messageStream) Next() (llm.Message, error) {
	if s.lastErr != nil {
		return llm.Message{}, s.lastErr
	}

	for s.stream.Next() {
		event := s.stream.Current()

		switch event.Type {
		case "content_block_start":
			if event.ContentBlock.Type == "tool_use" {
				s.calls = append(s.calls, llm.ToolCall{
					ID:       event.ContentBlock.ID,
					Type:     "function",
					Function: llm.FunctionCall{Name: event.ContentBlock.Name},
				})
			}

		case "content_block_delta":
			switch event.Delta.Type {
			case "text_delta":
				return llm.Message{
					Role:      llm.RoleAssistant,
					Content:   event.Delta.Text,
					ToolCalls: s.calls,
				}, nil
			case "input_json_delta":
				if len(s.calls) > 0 {
					s.calls[len(s.calls)-1].Function.Arguments += event.Delta.PartialJSON
				}
			}

		case "message_stop":
			s.lastErr = io.EOF
			return llm.Message{}, io.EOF
		}
	}

	if err := s.stream.Err(); err != nil {
		s.lastErr = apiError(err)
		return llm.Message{}, s.lastErr
	}
	s.lastErr = io.EOF
	return llm.Message{}, io.EOF
}

func (s *messageStream) Close() error {
	return s.stream.Close()
}
