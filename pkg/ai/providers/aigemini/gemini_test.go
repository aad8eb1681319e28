package aigemini

import (
	"errors"
	"net/http"
	"testing"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm"
	"google.golang.org/genai"
)

func TestToContentsSplitsSystemInstruction(t *testing.T) {
	system, contents := toContents([]llm.Message{
		llm.NewSystemMessage("eres un asistente"),
		llm.NewUserMessage("hola"),
		llm.NewAssistantMessage("hola, ¿en qué te ayudo?"),
	})
	if system == nil || len(system.Parts) != 1 {
		t.Fatalf("system instruction not extracted: %+v", system)
	}
	if len(contents) != 2 {
		t.Fatalf("got %d contents, want 2", len(contents))
	}
	if contents[0].Role != "user" || contents[1].Role != "model" {
		t.Errorf("roles = %q, %q", contents[0].Role, contents[1].Role)
	}
}

func TestToContentsToolResultBecomesFunctionResponse(t *testing.T) {
	_, contents := toContents([]llm.Message{
		llm.NewToolMessage("call_1", "dos archivos"),
	})
	if len(contents) != 1 || contents[0].Role != "user" {
		t.Fatalf("contents = %+v", contents)
	}
	part := contents[0].Parts[0]
	if part.FunctionResponse == nil {
		t.Fatal("tool result must travel as a function response")
	}
	if part.FunctionResponse.Response["output"] != "dos archivos" {
		t.Errorf("response = %v", part.FunctionResponse.Response)
	}
}

func TestMapToSchemaRecursesIntoProperties(t *testing.T) {
	schema := mapToSchema(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"lines": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []any{"lines"},
	})
	if schema.Type != genai.TypeObject {
		t.Errorf("type = %v", schema.Type)
	}
	lines := schema.Properties["lines"]
	if lines == nil || lines.Type != genai.TypeArray {
		t.Fatalf("lines schema = %+v", lines)
	}
	if lines.Items == nil || lines.Items.Type != genai.TypeString {
		t.Errorf("items schema = %+v", lines.Items)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "lines" {
		t.Errorf("required = %v", schema.Required)
	}
}

func TestCallIDSynthesizedWhenMissing(t *testing.T) {
	fc := &genai.FunctionCall{Name: "search_x"}
	if got := callID(fc, 0); got != "call_search_x_0" {
		t.Errorf("got %q", got)
	}
	fc.ID = "call_abc"
	if got := callID(fc, 0); got != "call_abc" {
		t.Errorf("got %q", got)
	}
}

func TestAPIErrorClassification(t *testing.T) {
	cases := []struct {
		msg  string
		want int
	}{
		{"quota exceeded for requests", http.StatusTooManyRequests},
		{"the model is overloaded", http.StatusServiceUnavailable},
		{"API key not valid", http.StatusUnauthorized},
		{"stream closed unexpectedly", http.StatusBadGateway},
	}
	for _, tc := range cases {
		got := apiError(errors.New(tc.msg))
		if got.HTTPStatus != tc.want {
			t.Errorf("%q classified as %d, want %d", tc.msg, got.HTTPStatus, tc.want)
		}
	}
}
