package aianthropic

import (
	"errors"
	"net/http"
	"testing"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm"
	"github.com/anthropics/anthropic-sdk-go"
)

func TestBuildParamsSplitsSystemPrompt(t *testing.T) {
	p := &AnthropicProvider{apiKey: "sk-test"}
	params, err := p.buildParams([]llm.Message{
		llm.NewSystemMessage("eres un asistente"),
		llm.NewUserMessage("hola"),
	}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(params.System) != 1 || params.System[0].Text != "eres un asistente" {
		t.Errorf("system = %+v", params.System)
	}
	if len(params.Messages) != 1 {
		t.Errorf("messages = %d, want 1", len(params.Messages))
	}
	if params.MaxTokens != defaultMaxTokens {
		t.Errorf("max tokens = %d, want the default", params.MaxTokens)
	}
}

func TestToParamsGroupsConsecutiveToolResults(t *testing.T) {
	msgs, err := toParams([]llm.Message{
		llm.NewUserMessage("lista y busca"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "call_1", Type: "function", Function: llm.FunctionCall{Name: "list_directory", Arguments: `{"path":"/tmp"}`}},
			{ID: "call_2", Type: "function", Function: llm.FunctionCall{Name: "search_x", Arguments: `{"q":"a"}`}},
		}},
		llm.NewToolMessage("call_1", "dos archivos"),
		llm.NewToolMessage("call_2", "tres resultados"),
	})
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	// user, assistant, then ONE user message holding both tool results.
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	last := msgs[2]
	if last.Role != anthropic.MessageParamRoleUser {
		t.Errorf("tool results must come back on a user turn, got %q", last.Role)
	}
	if len(last.Content) != 2 {
		t.Errorf("grouped %d tool results, want 2", len(last.Content))
	}
}

func TestToParamsRejectsUnknownRole(t *testing.T) {
	if _, err := toParams([]llm.Message{{Role: "observer", Content: "x"}}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestToSchemaLiftsPropertiesAndRequired(t *testing.T) {
	schema := toSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string"},
		},
		"required": []any{"path"},
	})
	if schema.Properties == nil {
		t.Error("properties not lifted")
	}
	if len(schema.Required) != 1 || schema.Required[0] != "path" {
		t.Errorf("required = %v", schema.Required)
	}
}

func TestAPIErrorClassification(t *testing.T) {
	cases := []struct {
		msg  string
		want int
	}{
		{"api is overloaded, error 529", http.StatusServiceUnavailable},
		{"rate_limit_error: too fast", http.StatusTooManyRequests},
		{"invalid x-api-key", http.StatusUnauthorized},
		{"context length exceeded", http.StatusBadRequest},
		{"connection refused", http.StatusBadGateway},
	}
	for _, tc := range cases {
		got := apiError(errors.New(tc.msg))
		if got.HTTPStatus != tc.want {
			t.Errorf("%q classified as %d, want %d", tc.msg, got.HTTPStatus, tc.want)
		}
	}
}
