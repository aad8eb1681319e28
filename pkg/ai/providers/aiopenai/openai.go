package aiopenai

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared/constant"
)

const defaultModel = "gpt-4o"

// OpenAIProvider implements llm.Client against the Chat Completions API.
type OpenAIProvider struct {
	client openai.Client
	apiKey string
}

// NewOpenAIProvider creates a new OpenAI provider. An empty apiKey falls
// back to the OPENAI_API_KEY environment variable.
func NewOpenAIProvider(apiKey string, opts ...option.RequestOption) *OpenAIProvider {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}

	options := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &OpenAIProvider{
		client: openai.NewClient(options...),
		apiKey: apiKey,
	}
}

// Chat implements llm.Client.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.Option) (llm.Response, error) {
	params, err := p.buildParams(messages, opts)
	if err != nil {
		return llm.Response{}, err
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llm.Response{}, apiError(err).
			WithDetail("model", params.Model).
			WithDetail("num_messages", len(messages))
	}

	return fromCompletion(completion)
}

// ChatStream implements llm.Client.
func (p *OpenAIProvider) ChatStream(ctx context.Context, messages []llm.Message, opts ...llm.Option) (llm.Stream, error) {
	params, err := p.buildParams(messages, opts)
	if err != nil {
		return nil, err
	}

	return &completionStream{stream: p.client.Chat.Completions.NewStreaming(ctx, params)}, nil
}

// buildParams validates the request and translates it to the SDK's shape.
// Chat and ChatStream send the same payload, only the endpoint differs.
func (p *OpenAIProvider) buildParams(messages []llm.Message, opts []llm.Option) (openai.ChatCompletionNewParams, error) {
	if p.apiKey == "" {
		return openai.ChatCompletionNewParams{}, errorRegistry.New(ErrMissingAPIKey)
	}
	if len(messages) == 0 {
		return openai.ChatCompletionNewParams{}, errorRegistry.New(ErrEmptyMessages)
	}

	options := llm.DefaultOptions()
	options.Model = defaultModel
	for _, opt := range opts {
		opt(options)
	}

	converted := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		m, err := toParam(msg)
		if err != nil {
			return openai.ChatCompletionNewParams{}, err
		}
		converted = append(converted, m)
	}

	params := openai.ChatCompletionNewParams{
		Messages: converted,
		Model:    options.Model,
	}
	if options.Temperature != 0 {
		params.Temperature = openai.Float(float64(options.Temperature))
	}
	if options.TopP != 0 {
		params.TopP = openai.Float(float64(options.TopP))
	}
	if options.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(options.MaxTokens))
	}
	if len(options.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{
			OfStringArray: options.Stop,
		}
	}
	if len(options.Tools) > 0 {
		params.Tools = toTools(options.Tools)
	}

	return params, nil
}

func toParam(msg llm.Message) (openai.ChatCompletionMessageParamUnion, error) {
	switch msg.Role {
	case llm.RoleSystem:
		return openai.SystemMessage(msg.Content), nil
	case llm.RoleUser:
		return openai.UserMessage(msg.Content), nil
	case llm.RoleAssistant:
		if len(msg.ToolCalls) == 0 {
			return openai.AssistantMessage(msg.Content), nil
		}
		toolCalls := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
					ID:   tc.ID,
					Type: constant.Function("function"),
					Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				},
			})
		}
		return openai.ChatCompletionMessageParamUnion{
			OfAssistant: &openai.ChatCompletionAssistantMessageParam{
				Role: constant.Assistant("assistant"),
				Content: openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(msg.Content),
				},
				ToolCalls: toolCalls,
			},
		}, nil
	case llm.RoleTool:
		return openai.ToolMessage(msg.Content, msg.ToolCallID), nil
	default:
		return openai.ChatCompletionMessageParamUnion{},
			errorRegistry.New(ErrUnsupportedRole).
				WithDetail("role", msg.Role)
	}
}

func toTools(tools []llm.Tool) []openai.ChatCompletionToolUnionParam {
	result := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		if tool.Type != "function" {
			continue
		}
		result = append(result, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        tool.Function.Name,
			Description: openai.String(tool.Function.Description),
			Parameters:  openai.FunctionParameters(schemaMap(tool.Function.Parameters)),
		}))
	}
	return result
}

// schemaMap coerces a JSON Schema of any underlying type into a plain map.
func schemaMap(schema any) map[string]any {
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

func fromCompletion(completion *openai.ChatCompletion) (llm.Response, error) {
	if len(completion.Choices) == 0 {
		return llm.Response{}, errorRegistry.New(ErrEmptyCompletion)
	}

	choice := completion.Choices[0]
	message := llm.Message{
		Role:    string(choice.Message.Role),
		Content: choice.Message.Content,
	}
	for _, tc := range choice.Message.ToolCalls {
		message.ToolCalls = append(message.ToolCalls, llm.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: llm.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	return llm.Response{
		Message: message,
		Usage: llm.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}

type completionStream struct {
	stream interface {
		Next() bool
		Current() openai.ChatCompletionChunk
		Err() error
	}
	calls   []llm.ToolCall
	lastErr error
}

func (s *completionStream) Next() (llm.Message, error) {
	if s.lastErr != nil {
		return llm.Message{}, s.lastErr
	}

	if !s.stream.Next() {
		if err := s.stream.Err(); err != nil {
			s.lastErr = apiError(err)
			return llm.Message{}, s.lastErr
		}
		s.lastErr = io.EOF
		return llm.Message{}, io.EOF
	}

	chunk := s.stream.Current()
	if len(chunk.Choices) == 0 {
		return llm.Message{Role: llm.RoleAssistant}, nil
	}

	// Tool-call deltas are keyed by index. The ID and name arrive only on
	// the first chunk of each call; argument fragments arrive on all of them.
	delta := chunk.Choices[0].Delta
	for _, tc := range delta.ToolCalls {
		idx := int(tc.Index)
		for len(s.calls) <= idx {
			s.calls = append(s.calls, llm.ToolCall{Type: "function"})
		}
		if tc.ID != "" {
			s.calls[idx].ID = tc.ID
		}
		if tc.Function.Name != "" {
			s.calls[idx].Function.Name += tc.Function.Name
		}
		s.calls[idx].Function.Arguments += tc.Function.Arguments
	}

	return llm.Message{
		Role:      llm.RoleAssistant,
		Content:   delta.Content,
		ToolCalls: s.calls,
	}, nil
}

func (s *completionStream) Close() error {
	return nil
}
