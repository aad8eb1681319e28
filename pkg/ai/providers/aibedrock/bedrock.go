package aibedrock

import (
	"context"
	"encoding/json"
	"io"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const defaultModel = "anthropic.claude-sonnet-4-20250514-v1:0"

// ProviderOption configures the Bedrock provider
type ProviderOption func(*BedrockProvider)

// WithDefaultModel sets the model used when a request names none.
func WithDefaultModel(model string) ProviderOption {
	return func(p *BedrockProvider) {
		p.defaultModel = model
	}
}

// BedrockProvider implements llm.Client against the Converse API.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
}

// NewBedrockProvider creates a new Bedrock provider from an AWS config.
func NewBedrockProvider(cfg aws.Config, opts ...ProviderOption) *BedrockProvider {
	p := &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(cfg),
		defaultModel: defaultModel,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Chat implements llm.Client.
func (p *BedrockProvider) Chat(ctx context.Context, messages []llm.Message, opts ...llm.Option) (llm.Response, error) {
	req, err := p.buildRequest(messages, opts)
	if err != nil {
		return llm.Response{}, err
	}

	output, err := p.client.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         req.modelID,
		Messages:        req.messages,
		System:          req.system,
		InferenceConfig: req.inference,
		ToolConfig:      req.tools,
	})
	if err != nil {
		return llm.Response{}, apiError(err).
			WithDetail("model", aws.ToString(req.modelID)).
			WithDetail("num_messages", len(messages))
	}

	return fromConverseOutput(output)
}

// ChatStream implements llm.Client.
func (p *BedrockProvider) ChatStream(ctx context.Context, messages []llm.Message, opts ...llm.Option) (llm.Stream, error) {
	req, err := p.buildRequest(messages, opts)
	if err != nil {
		return nil, err
	}

	output, err := p.client.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         req.modelID,
		Messages:        req.messages,
		System:          req.system,
		InferenceConfig: req.inference,
		ToolConfig:      req.tools,
	})
	if err != nil {
		return nil, apiError(err).
			WithDetail("model", aws.ToString(req.modelID))
	}

	eventStream := output.GetStream()
	return &converseStream{
		events: eventStream.Events(),
		stream: eventStream,
	}, nil
}

// converseRequest holds the converted pieces shared by Converse and
// ConverseStream, whose inputs are distinct types with the same fields.
type converseRequest struct {
	modelID   *string
	messages  []types.Message
	system    []types.SystemContentBlock
	inference *types.InferenceConfiguration
	tools     *types.ToolConfiguration
}

func (p *BedrockProvider) buildRequest(messages []llm.Message, opts []llm.Option) (converseRequest, error) {
	if len(messages) == 0 {
		return converseRequest{}, errorRegistry.New(ErrEmptyMessages)
	}

	options := llm.DefaultOptions()
	options.Model = p.defaultModel
	for _, opt := range opts {
		opt(options)
	}

	system, rest := splitSystem(messages)
	converted, err := toMessages(rest)
	if err != nil {
		return converseRequest{}, err
	}

	return converseRequest{
		modelID:   aws.String(options.Model),
		messages:  converted,
		system:    system,
		inference: toInferenceConfig(options),
		tools:     toToolConfig(options.Tools),
	}, nil
}

func splitSystem(messages []llm.Message) ([]types.SystemContentBlock, []llm.Message) {
	var system []types.SystemContentBlock
	var rest []llm.Message

	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			system = append(system, &types.SystemContentBlockMemberText{Value: msg.Content})
		} else {
			rest = append(rest, msg)
		}
	}
	return system, rest
}

func toMessages(messages []llm.Message) ([]types.Message, error) {
	var result []types.Message

	for i := 0; i < len(messages); i++ {
		msg := messages[i]

		switch msg.Role {
		case llm.RoleUser:
			result = append(result, types.Message{
				Role:    types.ConversationRoleUser,
				Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: msg.Content}},
			})

		case llm.RoleAssistant:
			result = append(result, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: assistantBlocks(msg),
			})

		case llm.RoleTool:
			// Consecutive tool results collapse into one user message.
			content := []types.ContentBlock{toolResultBlock(msg)}
			for i+1 < len(messages) && messages[i+1].Role == llm.RoleTool {
				i++
				content = append(content, toolResultBlock(messages[i]))
			}
			result = append(result, types.Message{
				Role:    types.ConversationRoleUser,
				Content: content,
			})

		default:
			return nil, errorRegistry.New(ErrUnsupportedRole).
				WithDetail("role", msg.Role)
		}
	}

	return result, nil
}

func assistantBlocks(msg llm.Message) []types.ContentBlock {
	var content []types.ContentBlock

	if msg.Content != "" {
		content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
	}
	for _, tc := range msg.ToolCalls {
		var input any
		if tc.Function.Arguments != "" {
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
		}
		if input == nil {
			input = map[string]any{}
		}
		content = append(content, &types.ContentBlockMemberToolUse{
			Value: types.ToolUseBlock{
				ToolUseId: aws.String(tc.ID),
				Name:      aws.String(tc.Function.Name),
				Input:     document.NewLazyDocument(input),
			},
		})
	}
	return content
}

func toolResultBlock(msg llm.Message) types.ContentBlock {
	return &types.ContentBlockMemberToolResult{
		Value: types.ToolResultBlock{
			ToolUseId: aws.String(msg.ToolCallID),
			Content: []types.ToolResultContentBlock{
				&types.ToolResultContentBlockMemberText{Value: msg.Content},
			},
		},
	}
}

func toInferenceConfig(options *llm.ChatOptions) *types.InferenceConfiguration {
	config := &types.InferenceConfiguration{}
	set := false

	if options.MaxTokens > 0 {
		v := int32(options.MaxTokens)
		config.MaxTokens = &v
		set = true
	}
	if options.Temperature != 0 {
		v := options.Temperature
		config.Temperature = &v
		set = true
	}
	if options.TopP != 0 {
		v := options.TopP
		config.TopP = &v
		set = true
	}
	if len(options.Stop) > 0 {
		config.StopSequences = options.Stop
		set = true
	}

	if !set {
		return nil
	}
	return config
}

func toToolConfig(tools []llm.Tool) *types.ToolConfiguration {
	var specs []types.Tool
	for _, tool := range tools {
		if tool.Type != "function" {
			continue
		}
		specs = append(specs, toolSpec(tool.Function))
	}
	if len(specs) == 0 {
		return nil
	}
	return &types.ToolConfiguration{Tools: specs}
}

func toolSpec(fn llm.Function) types.Tool {
	var inputSchema types.ToolInputSchema

	if fn.Parameters != nil {
		m, ok := fn.Parameters.(map[string]any)
		if !ok {
			if data, err := json.Marshal(fn.Parameters); err == nil {
				_ = json.Unmarshal(data, &m)
			}
		}
		if m != nil {
			inputSchema = &types.ToolInputSchemaMemberJson{
				Value: document.NewLazyDocument(m),
			}
		}
	}
	if inputSchema == nil {
		inputSchema = &types.ToolInputSchemaMemberJson{
			Value: document.NewLazyDocument(map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}),
		}
	}

	spec := types.ToolSpecification{
		Name:        aws.String(fn.Name),
		InputSchema: inputSchema,
	}
	if fn.Description != "" {
		spec.Description = aws.String(fn.Description)
	}
	return &types.ToolMemberToolSpec{Value: spec}
}

func fromConverseOutput(output *bedrockruntime.ConverseOutput) (llm.Response, error) {
	msgOutput, ok := output.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return llm.Response{}, errorRegistry.New(ErrUnexpectedOutput)
	}

	var content string
	var toolCalls []llm.ToolCall
	for _, block := range msgOutput.Value.Content {
		switch v := block.(type) {
		case *types.ContentBlockMemberText:
			content += v.Value
		case *types.ContentBlockMemberToolUse:
			args := ""
			if v.Value.Input != nil {
				data, _ := json.Marshal(v.Value.Input)
				args = string(data)
			}
			toolCalls = append(toolCalls, llm.ToolCall{
				ID:   aws.ToString(v.Value.ToolUseId),
				Type: "function",
				Function: llm.FunctionCall{
					Name:      aws.ToString(v.Value.Name),
					Arguments: args,
				},
			})
		}
	}

	usage := llm.Usage{}
	if output.Usage != nil {
		if output.Usage.InputTokens != nil {
			usage.PromptTokens = int(*output.Usage.InputTokens)
		}
		if output.Usage.OutputTokens != nil {
			usage.CompletionTokens = int(*output.Usage.OutputTokens)
		}
		if output.Usage.TotalTokens != nil {
			usage.TotalTokens = int(*output.Usage.TotalTokens)
		}
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

type converseStream struct {
	events <-chan types.ConverseStreamOutput
	stream interface {
		Err() error
		Close() error
	}
	calls   []llm.ToolCall
	lastErr error
}

func (s *converseStream) Next() (llm.Message, error) {
	if s.lastErr != nil {
		return llm.Message{}, s.lastErr
	}

	for {
		event, ok := <-s.events
		if !ok {
			if err := s.stream.Err(); err != nil {
				s.lastErr = apiError(err)
				return llm.Message{}, s.lastErr
			}
			s.lastErr = io.EOF
			return llm.Message{}, io.EOF
		}

		switch v := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			if toolStart, ok := v.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				s.calls = append(s.calls, llm.ToolCall{
					ID:   aws.ToString(toolStart.Value.ToolUseId),
					Type: "function",
					Function: llm.FunctionCall{
						Name: aws.ToString(toolStart.Value.Name),
					},
				})
			}

		case *types.ConverseStreamOutputMemberContentBlockDelta:
			switch d := v.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				return llm.Message{
					Role:      llm.RoleAssistant,
					Content:   d.Value,
					ToolCalls: s.calls,
				}, nil
			case *types.ContentBlockDeltaMemberToolUse:
				if len(s.calls) > 0 && d.Value.Input != nil {
					s.calls[len(s.calls)-1].Function.Arguments += aws.ToString(d.Value.Input)
				}
			}

		case *types.ConverseStreamOutputMemberMessageStop:
			s.lastErr = io.EOF
			return llm.Message{}, io.EOF
		}
	}
}

func (s *converseStream) Close() error {
	return s.stream.Close()
}
