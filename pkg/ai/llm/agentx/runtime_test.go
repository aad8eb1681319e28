package agentx

import (
	"context"
	"strings"
	"testing"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm"
	"github.com/Abraxas-365/copiloto/pkg/ai/llm/toolx"
	"github.com/Abraxas-365/copiloto/pkg/asyncx"
)

// scriptedClient replays canned responses in order. Once the script runs
// out, it repeats the final response, which lets adversarial loop tests run
// "forever" from the provider's point of view.
type scriptedClient struct {
	responses []llm.Message
	calls     int
	native    bool
}

func (c *scriptedClient) Chat(ctx context.Context, messages []llm.Message, opts ...llm.Option) (llm.Response, error) {
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	return llm.Response{Message: c.responses[idx]}, nil
}

func (c *scriptedClient) ChatStream(ctx context.Context, messages []llm.Message, opts ...llm.Option) (llm.Stream, error) {
	return nil, errorRegistry.New(ErrTurnFailed)
}

func (c *scriptedClient) Capabilities() llm.Capabilities {
	return llm.Capabilities{NativeToolCalls: c.native, Streaming: false}
}

// overloadedClient fails with a capacity error a fixed number of times
// before answering.
type overloadedClient struct {
	failures  int
	calls     int
	answered  []string
}

func (c *overloadedClient) Chat(ctx context.Context, messages []llm.Message, opts ...llm.Option) (llm.Response, error) {
	c.calls++
	if c.calls <= c.failures {
		return llm.Response{}, errorRegistry.New(ErrProviderOverloaded)
	}
	options := llm.DefaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	c.answered = append(c.answered, options.Model)
	return llm.Response{Message: llm.NewAssistantMessage("respuesta final")}, nil
}

func (c *overloadedClient) ChatStream(ctx context.Context, messages []llm.Message, opts ...llm.Option) (llm.Stream, error) {
	return nil, errorRegistry.New(ErrProviderOverloaded)
}

func (c *overloadedClient) Capabilities() llm.Capabilities {
	return llm.Capabilities{NativeToolCalls: false, Streaming: false}
}

type countingServer struct {
	tools []toolx.RegistryEntry
	calls int
}

func (s *countingServer) ListTools(ctx context.Context) ([]toolx.RegistryEntry, error) {
	return s.tools, nil
}

func (s *countingServer) CallTool(ctx context.Context, toolName string, args map[string]any) (toolx.Result, error) {
	s.calls++
	return toolx.Result{Text: "archivo_a.txt\narchivo_b.txt"}, nil
}

func testRegistry(t *testing.T, server *countingServer) *toolx.Registry {
	t.Helper()
	if server.tools == nil {
		server.tools = []toolx.RegistryEntry{
			{Name: "list_directory", Description: "List a directory", InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"path": map[string]any{"type": "string"}},
			}},
			{Name: "search_x", Description: "Search", InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{"q": map[string]any{"type": "string"}},
			}},
		}
	}
	r := toolx.NewRegistry()
	r.AddServer("fs", server)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return r
}

func toolCallText(tool, argsJSON string) string {
	return "```json\n{\"tool\": \"" + tool + "\", \"arguments\": " + argsJSON + "}\n```"
}

func TestSendTurnPlainAnswer(t *testing.T) {
	client := &scriptedClient{responses: []llm.Message{
		llm.NewAssistantMessage("hola, ¿en qué te ayudo?"),
	}}
	rt := NewRuntime(client, RuntimeConfig{Model: "test-model"})

	got, err := rt.SendTurn(context.Background(), "c1", "hola", Callbacks{})
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if got != "hola, ¿en qué te ayudo?" {
		t.Errorf("got %q", got)
	}
}

func TestSendTurnToolRoundTrip(t *testing.T) {
	server := &countingServer{}
	client := &scriptedClient{responses: []llm.Message{
		llm.NewAssistantMessage(toolCallText("list_directory", `{"path": "/tmp"}`)),
		llm.NewAssistantMessage("El directorio /tmp contiene dos archivos."),
	}}
	rt := NewRuntime(client, RuntimeConfig{Model: "test-model"},
		WithRegistry(testRegistry(t, server)))

	var toolResults int
	got, err := rt.SendTurn(context.Background(), "c1", "lista los archivos de /tmp", Callbacks{
		OnToolResult: func(event ToolResultEvent) {
			toolResults++
			if event.ToolName != "list_directory" {
				t.Errorf("tool = %q", event.ToolName)
			}
		},
	})
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if got != "El directorio /tmp contiene dos archivos." {
		t.Errorf("got %q", got)
	}
	if server.calls != 1 {
		t.Errorf("tool executed %d times, want 1", server.calls)
	}
	if toolResults != 1 {
		t.Errorf("OnToolResult fired %d times, want 1", toolResults)
	}

	// The observation was reinjected into history as a tool message.
	history, _ := rt.History("c1")
	var sawObservation bool
	for _, m := range history {
		if m.MetaBool(llm.MetaIsToolObservation) {
			sawObservation = true
			if !strings.Contains(m.MetaString(llm.MetaToolResultSummary), "list_directory") {
				t.Errorf("summary missing tool name: %q", m.Content)
			}
		}
	}
	if !sawObservation {
		t.Error("no tool observation in history")
	}
}

func TestSendTurnAdversarialLoopTerminates(t *testing.T) {
	server := &countingServer{}
	// The provider asks for the identical call forever.
	client := &scriptedClient{responses: []llm.Message{
		llm.NewAssistantMessage(toolCallText("search_x", `{"q": "a"}`)),
	}}
	rt := NewRuntime(client, RuntimeConfig{Model: "test-model"},
		WithRegistry(testRegistry(t, server)))

	var toolResults int
	got, err := rt.SendTurn(context.Background(), "c1", "busca a", Callbacks{
		OnToolResult: func(ToolResultEvent) { toolResults++ },
	})
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if got == "" {
		t.Fatal("must return usable text")
	}
	if server.calls != 1 {
		t.Errorf("tool executed %d times, want 1 (duplicate must short-circuit)", server.calls)
	}
	if toolResults != 1 {
		t.Errorf("OnToolResult fired %d times, want 1", toolResults)
	}
	if client.calls > 3 {
		t.Errorf("provider called %d times, loop did not terminate promptly", client.calls)
	}
}

func TestSendTurnLoopAbortOnThirdRepeat(t *testing.T) {
	server := &countingServer{}
	// Same tool each iteration but different arguments, so the duplicate
	// short-circuit never triggers; the name-repeat detector must.
	client := &scriptedClient{responses: []llm.Message{
		llm.NewAssistantMessage(toolCallText("search_x", `{"q": "a"}`)),
		llm.NewAssistantMessage(toolCallText("search_x", `{"q": "b"}`)),
		llm.NewAssistantMessage(toolCallText("search_x", `{"q": "c"}`)),
		llm.NewAssistantMessage(toolCallText("search_x", `{"q": "d"}`)),
	}}
	rt := NewRuntime(client, RuntimeConfig{Model: "test-model"},
		WithRegistry(testRegistry(t, server)))

	var aborted bool
	got, err := rt.SendTurn(context.Background(), "c1", "busca", Callbacks{
		OnStatus: func(status Status, _ string) {
			if status == StatusLoopAborted {
				aborted = true
			}
		},
	})
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if !aborted {
		t.Error("expected a loop abort status")
	}
	if got == "" {
		t.Error("loop abort must still return text")
	}
	if server.calls > 2 {
		t.Errorf("tool executed %d times before abort", server.calls)
	}
}

func TestSendTurnEmptyResponseFallback(t *testing.T) {
	server := &countingServer{}
	// Tool call, then empty response, then empty again on the retry.
	client := &scriptedClient{responses: []llm.Message{
		llm.NewAssistantMessage(toolCallText("list_directory", `{"path": "/tmp"}`)),
		llm.NewAssistantMessage(""),
		llm.NewAssistantMessage(""),
	}}
	rt := NewRuntime(client, RuntimeConfig{Model: "test-model"},
		WithRegistry(testRegistry(t, server)))

	got, err := rt.SendTurn(context.Background(), "c1", "lista /tmp", Callbacks{})
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if got != DefaultCompletionText {
		t.Errorf("got %q, want the completion fallback", got)
	}
	if client.calls != 3 {
		t.Errorf("provider called %d times, want 3 (turn, empty, retry)", client.calls)
	}
}

func TestSendTurnEmptyResponseRetrySucceeds(t *testing.T) {
	server := &countingServer{}
	client := &scriptedClient{responses: []llm.Message{
		llm.NewAssistantMessage(toolCallText("list_directory", `{"path": "/tmp"}`)),
		llm.NewAssistantMessage(""),
		llm.NewAssistantMessage("Encontré dos archivos."),
	}}
	rt := NewRuntime(client, RuntimeConfig{Model: "test-model"},
		WithRegistry(testRegistry(t, server)))

	got, err := rt.SendTurn(context.Background(), "c1", "lista /tmp", Callbacks{})
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if got != "Encontré dos archivos." {
		t.Errorf("got %q", got)
	}
}

func TestSendTurnDuplicateServedFromCache(t *testing.T) {
	server := &countingServer{}
	client := &scriptedClient{responses: []llm.Message{
		llm.NewAssistantMessage(toolCallText("search_x", `{"q": "a"}`)),
		llm.NewAssistantMessage(toolCallText("search_x", `{"q": "a"}`)),
		llm.NewAssistantMessage("no debería llegar aquí"),
	}}
	rt := NewRuntime(client, RuntimeConfig{Model: "test-model"},
		WithRegistry(testRegistry(t, server)))

	var toolResults int
	got, err := rt.SendTurn(context.Background(), "c1", "busca a", Callbacks{
		OnToolResult: func(ToolResultEvent) { toolResults++ },
	})
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if server.calls != 1 {
		t.Errorf("tool executed %d times, want 1", server.calls)
	}
	if toolResults != 1 {
		t.Errorf("OnToolResult fired %d times, want 1", toolResults)
	}
	if !strings.Contains(got, "duplicada") {
		t.Errorf("expected a duplicate note, got %q", got)
	}
}

func planText(steps ...string) string {
	return "```json\n[" + strings.Join(steps, ", ") + "]\n```"
}

func TestSendTurnExecutesDeclaredPlan(t *testing.T) {
	server := &countingServer{}
	// One response declares both steps; they run back to back without a
	// model round in between.
	client := &scriptedClient{responses: []llm.Message{
		llm.NewAssistantMessage(planText(
			`{"tool": "search_x", "arguments": {"q": "a"}}`,
			`{"tool": "list_directory", "arguments": {"path": "/tmp"}}`,
		)),
		llm.NewAssistantMessage("Busqué y listé el directorio."),
	}}
	rt := NewRuntime(client, RuntimeConfig{Model: "test-model"},
		WithRegistry(testRegistry(t, server)))

	var executed []string
	got, err := rt.SendTurn(context.Background(), "c1", "busca a y lista /tmp", Callbacks{
		OnToolResult: func(event ToolResultEvent) {
			executed = append(executed, event.ToolName)
		},
	})
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if got != "Busqué y listé el directorio." {
		t.Errorf("got %q", got)
	}
	if server.calls != 2 {
		t.Errorf("tool executed %d times, want 2", server.calls)
	}
	if len(executed) != 2 || executed[0] != "search_x" || executed[1] != "list_directory" {
		t.Errorf("steps ran as %v, want [search_x list_directory]", executed)
	}
	if client.calls != 2 {
		t.Errorf("provider called %d times, want 2 (plan, final answer)", client.calls)
	}
}

// erraticServer fails its first call and succeeds afterwards.
type erraticServer struct {
	tools []toolx.RegistryEntry
	calls int
}

func (s *erraticServer) ListTools(ctx context.Context) ([]toolx.RegistryEntry, error) {
	return s.tools, nil
}

func (s *erraticServer) CallTool(ctx context.Context, toolName string, args map[string]any) (toolx.Result, error) {
	s.calls++
	if s.calls == 1 {
		return toolx.Result{Text: "permiso denegado", IsError: true}, nil
	}
	return toolx.Result{Text: "ok"}, nil
}

func TestSendTurnFailedStepAbandonsPlan(t *testing.T) {
	server := &erraticServer{tools: []toolx.RegistryEntry{
		{Name: "search_x", Description: "Search", InputSchema: map[string]any{"type": "object"}},
		{Name: "list_directory", Description: "List", InputSchema: map[string]any{"type": "object"}},
	}}
	registry := toolx.NewRegistry()
	registry.AddServer("fs", server)
	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	client := &scriptedClient{responses: []llm.Message{
		llm.NewAssistantMessage(planText(
			`{"tool": "search_x", "arguments": {"q": "a"}}`,
			`{"tool": "list_directory", "arguments": {"path": "/tmp"}}`,
		)),
		llm.NewAssistantMessage("La búsqueda falló, no seguí con el listado."),
	}}
	rt := NewRuntime(client, RuntimeConfig{Model: "test-model"},
		WithRegistry(registry))

	got, err := rt.SendTurn(context.Background(), "c1", "busca y lista", Callbacks{})
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if got != "La búsqueda falló, no seguí con el listado." {
		t.Errorf("got %q", got)
	}
	// The failed first step must cancel the remaining step so the model can
	// re-plan with the error in context.
	if server.calls != 1 {
		t.Errorf("tool executed %d times, want 1", server.calls)
	}
}

// verboseServer returns output long enough that summarization matters.
type verboseServer struct {
	tools  []toolx.RegistryEntry
	output string
}

func (s *verboseServer) ListTools(ctx context.Context) ([]toolx.RegistryEntry, error) {
	return s.tools, nil
}

func (s *verboseServer) CallTool(ctx context.Context, toolName string, args map[string]any) (toolx.Result, error) {
	return toolx.Result{Text: s.output}, nil
}

func TestSendTurnObservationKeepsRawTextForWindow(t *testing.T) {
	raw := strings.Repeat("contenido del archivo de configuración.\n", 60)
	server := &verboseServer{
		tools: []toolx.RegistryEntry{
			{Name: "read_file", Description: "Read a file", InputSchema: map[string]any{"type": "object"}},
		},
		output: raw,
	}
	registry := toolx.NewRegistry()
	registry.AddServer("fs", server)
	if err := registry.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	client := &scriptedClient{responses: []llm.Message{
		llm.NewAssistantMessage(toolCallText("read_file", `{"path": "/etc/app.conf"}`)),
		llm.NewAssistantMessage("El archivo está leído."),
	}}
	rt := NewRuntime(client, RuntimeConfig{
		Model:             "test-model",
		FullFidelityTools: []string{"read_file"},
	}, WithRegistry(registry))

	if _, err := rt.SendTurn(context.Background(), "c1", "lee la config", Callbacks{}); err != nil {
		t.Fatalf("send turn: %v", err)
	}

	history, _ := rt.History("c1")
	var obs *llm.Message
	for i := range history {
		if history[i].MetaBool(llm.MetaIsToolObservation) {
			obs = &history[i]
		}
	}
	if obs == nil {
		t.Fatal("no tool observation in history")
	}
	// The stored content stays summary-sized; the raw text rides along in
	// metadata for the window manager to re-expand.
	if obs.Content == raw {
		t.Error("observation stored the raw text as content")
	}
	if got := obs.MetaString(llm.MetaToolResultText); got != raw {
		t.Errorf("raw text not preserved in metadata: %d chars, want %d", len(got), len(raw))
	}
}

func TestSendTurnMaxIterations(t *testing.T) {
	server := &countingServer{}
	// Alternate between two tools so neither safety check fires before the
	// iteration ceiling does.
	client := &scriptedClient{responses: []llm.Message{
		llm.NewAssistantMessage(toolCallText("search_x", `{"q": "a"}`)),
		llm.NewAssistantMessage(toolCallText("list_directory", `{"path": "/a"}`)),
		llm.NewAssistantMessage(toolCallText("search_x", `{"q": "b"}`)),
		llm.NewAssistantMessage(toolCallText("list_directory", `{"path": "/b"}`)),
		llm.NewAssistantMessage(toolCallText("search_x", `{"q": "c"}`)),
		llm.NewAssistantMessage(toolCallText("list_directory", `{"path": "/c"}`)),
	}}
	rt := NewRuntime(client, RuntimeConfig{Model: "test-model", MaxIterations: 4},
		WithRegistry(testRegistry(t, server)))

	got, err := rt.SendTurn(context.Background(), "c1", "haz cosas", Callbacks{})
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if got == "" {
		t.Error("hitting the ceiling must still return text")
	}
	if client.calls > 4 {
		t.Errorf("provider called %d times, ceiling is 4", client.calls)
	}
}

func TestSendTurnUnresolvableToolEndsTurn(t *testing.T) {
	server := &countingServer{}
	client := &scriptedClient{responses: []llm.Message{
		llm.NewAssistantMessage(toolCallText("tool_que_no_existe", `{}`)),
	}}
	rt := NewRuntime(client, RuntimeConfig{Model: "test-model"},
		WithRegistry(testRegistry(t, server)))

	got, err := rt.SendTurn(context.Background(), "c1", "haz algo", Callbacks{})
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if got == "" {
		t.Fatal("must return a textual report")
	}
	if server.calls != 0 {
		t.Errorf("no tool should have executed, got %d calls", server.calls)
	}
	if client.calls != 1 {
		t.Errorf("provider called %d times, want 1", client.calls)
	}
}

func TestSendTurnOverloadRetries(t *testing.T) {
	client := &overloadedClient{failures: 2}
	rt := NewRuntime(client, RuntimeConfig{Model: "test-model"},
		WithRetryPolicy(retryImmediate()))

	got, err := rt.SendTurn(context.Background(), "c1", "hola", Callbacks{})
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if got != "respuesta final" {
		t.Errorf("got %q", got)
	}
	if client.calls != 3 {
		t.Errorf("provider called %d times, want 3", client.calls)
	}
}

func TestSendTurnOverloadFallbackModel(t *testing.T) {
	client := &overloadedClient{failures: 3}
	rt := NewRuntime(client, RuntimeConfig{Model: "primary", FallbackModel: "secondary"},
		WithRetryPolicy(retryImmediate()))

	got, err := rt.SendTurn(context.Background(), "c1", "hola", Callbacks{})
	if err != nil {
		t.Fatalf("send turn: %v", err)
	}
	if got != "respuesta final" {
		t.Errorf("got %q", got)
	}
	if len(client.answered) != 1 || client.answered[0] != "secondary" {
		t.Errorf("expected the answer to come from the fallback model, got %v", client.answered)
	}
}

func TestSendTurnCancellationLeavesHistoryIntact(t *testing.T) {
	client := &scriptedClient{responses: []llm.Message{
		llm.NewAssistantMessage("no importa"),
	}}
	rt := NewRuntime(client, RuntimeConfig{Model: "test-model"})

	rt.SendTurn(context.Background(), "c1", "primer turno", Callbacks{})
	before, _ := rt.History("c1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := rt.SendTurn(ctx, "c1", "segundo turno", Callbacks{})
	if err == nil {
		t.Fatal("expected a cancellation error")
	}

	after, _ := rt.History("c1")
	// The user message of the cancelled turn is committed, but no partial
	// assistant output or observation may follow it.
	if len(after) > len(before)+1 {
		t.Errorf("cancelled turn appended %d extra messages", len(after)-len(before))
	}
}

func TestClearConversationKeepsSystemPrompt(t *testing.T) {
	client := &scriptedClient{responses: []llm.Message{
		llm.NewAssistantMessage("hola"),
	}}
	rt := NewRuntime(client, RuntimeConfig{Model: "test-model", SystemPrompt: "eres un asistente"})

	rt.SendTurn(context.Background(), "c1", "hola", Callbacks{})
	if err := rt.ClearConversation(context.Background(), "c1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	history, _ := rt.History("c1")
	if len(history) != 1 || history[0].Role != llm.RoleSystem {
		t.Errorf("expected only the system prompt, got %+v", history)
	}
}

func retryImmediate() asyncx.RetryPolicy {
	return asyncx.RetryPolicy{MaxAttempts: 3, Retryable: IsOverloaded}
}
