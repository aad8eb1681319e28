package aibedrock

import (
	"errors"
	"net/http"
	"testing"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

func TestToMessagesGroupsConsecutiveToolResults(t *testing.T) {
	msgs, err := toMessages([]llm.Message{
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
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	last := msgs[2]
	if last.Role != types.ConversationRoleUser {
		t.Errorf("tool results must come back on a user turn, got %q", last.Role)
	}
	if len(last.Content) != 2 {
		t.Errorf("grouped %d tool results, want 2", len(last.Content))
	}
}

func TestToMessagesRejectsUnknownRole(t *testing.T) {
	if _, err := toMessages([]llm.Message{{Role: "observer", Content: "x"}}); err == nil {
		t.Fatal("expected error for unknown role")
	}
}

func TestToInferenceConfigNilWhenUnset(t *testing.T) {
	if got := toInferenceConfig(llm.DefaultOptions()); got != nil {
		t.Errorf("expected nil config for default options, got %+v", got)
	}
}

func TestToInferenceConfigCarriesKnobs(t *testing.T) {
	options := llm.DefaultOptions()
	options.MaxTokens = 512
	options.Temperature = 0.3
	config := toInferenceConfig(options)
	if config == nil {
		t.Fatal("expected a config")
	}
	if config.MaxTokens == nil || *config.MaxTokens != 512 {
		t.Errorf("max tokens = %v", config.MaxTokens)
	}
	if config.Temperature == nil || *config.Temperature != 0.3 {
		t.Errorf("temperature = %v", config.Temperature)
	}
}

func TestToToolConfigNilWithoutFunctions(t *testing.T) {
	if got := toToolConfig([]llm.Tool{{Type: "retrieval"}}); got != nil {
		t.Errorf("non-function tools must be skipped, got %+v", got)
	}
}

func TestAPIErrorClassification(t *testing.T) {
	cases := []struct {
		msg  string
		want int
	}{
		{"ThrottlingException: too many requests", http.StatusTooManyRequests},
		{"ServiceUnavailableException", http.StatusServiceUnavailable},
		{"AccessDeniedException: not authorized", http.StatusUnauthorized},
		{"connection reset", http.StatusBadGateway},
	}
	for _, tc := range cases {
		got := apiError(errors.New(tc.msg))
		if got.HTTPStatus != tc.want {
			t.Errorf("%q classified as %d, want %d", tc.msg, got.HTTPStatus, tc.want)
		}
	}
}
