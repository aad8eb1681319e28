package aiopenai

import (
	"errors"
	"net/http"
	"testing"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm"
	"github.com/Abraxas-365/copiloto/pkg/errx"
)

func TestBuildParamsRequiresAPIKey(t *testing.T) {
	p := &OpenAIProvider{}
	_, err := p.buildParams([]llm.Message{llm.NewUserMessage("hola")}, nil)
	if err == nil {
		t.Fatal("expected error without an API key")
	}
	var appErr *errx.Error
	if !errors.As(err, &appErr) || appErr.HTTPStatus != http.StatusBadRequest {
		t.Errorf("expected a validation error, got %v", err)
	}
}

func TestBuildParamsRequiresMessages(t *testing.T) {
	p := &OpenAIProvider{apiKey: "sk-test"}
	if _, err := p.buildParams(nil, nil); err == nil {
		t.Fatal("expected error for empty messages")
	}
}

func TestBuildParamsDefaultsModel(t *testing.T) {
	p := &OpenAIProvider{apiKey: "sk-test"}
	params, err := p.buildParams([]llm.Message{llm.NewUserMessage("hola")}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if params.Model != defaultModel {
		t.Errorf("model = %q, want %q", params.Model, defaultModel)
	}
}

func TestBuildParamsRejectsUnknownRole(t *testing.T) {
	p := &OpenAIProvider{apiKey: "sk-test"}
	_, err := p.buildParams([]llm.Message{{Role: "observer", Content: "hola"}}, nil)
	if err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestSchemaMapPassesThroughMaps(t *testing.T) {
	in := map[string]any{"type": "object"}
	got := schemaMap(in)
	if got["type"] != "object" {
		t.Errorf("got %v", got)
	}
}

func TestSchemaMapCoercesTypedSchemas(t *testing.T) {
	type schema struct {
		Type string `json:"type"`
	}
	got := schemaMap(schema{Type: "object"})
	if got["type"] != "object" {
		t.Errorf("typed schema not coerced: %v", got)
	}
}

func TestAPIErrorClassification(t *testing.T) {
	cases := []struct {
		msg  string
		want int
	}{
		{"429 rate limit exceeded", http.StatusTooManyRequests},
		{"the engine is overloaded", http.StatusServiceUnavailable},
		{"invalid api key provided", http.StatusUnauthorized},
		{"maximum context length is 128000 tokens", http.StatusBadRequest},
		{"connection reset by peer", http.StatusBadGateway},
	}
	for _, tc := range cases {
		got := apiError(errors.New(tc.msg))
		if got.HTTPStatus != tc.want {
			t.Errorf("%q classified as %d, want %d", tc.msg, got.HTTPStatus, tc.want)
		}
	}
}
