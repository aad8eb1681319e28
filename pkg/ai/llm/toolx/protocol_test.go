package toolx

import (
	"context"
	"strings"
	"testing"
)

type fakeServer struct {
	tools  []RegistryEntry
	calls  int
	result Result
	err    error
}

func (f *fakeServer) ListTools(ctx context.Context) ([]RegistryEntry, error) {
	return f.tools, nil
}

func (f *fakeServer) CallTool(ctx context.Context, toolName string, args map[string]any) (Result, error) {
	f.calls++
	if f.err != nil {
		return Result{}, f.err
	}
	return f.result, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	fs := &fakeServer{tools: []RegistryEntry{
		{Name: "read_file", Description: "Read a file", InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
		}},
		{Name: "list_directory", Description: "List a directory", InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
		}},
	}}
	web := &fakeServer{tools: []RegistryEntry{
		{Name: "search", Description: "Web search", InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"q": map[string]any{"type": "string"}},
		}},
		{Name: "read_file", Description: "Read a remote file", InputSchema: map[string]any{
			"type": "object",
		}},
	}}

	r := NewRegistry()
	r.AddServer("fs", fs)
	r.AddServer("web", web)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return r
}

func TestDetectToolCallFencedBlock(t *testing.T) {
	text := "I will read that file.\n```json\n{\"tool\": \"read_file\", \"arguments\": {\"path\": \"/tmp/a\"}}\n```"
	intent := DetectToolCall(text)
	if intent == nil {
		t.Fatal("expected intent, got nil")
	}
	if intent.ToolName != "read_file" {
		t.Errorf("tool = %q, want read_file", intent.ToolName)
	}
	if intent.Arguments["path"] != "/tmp/a" {
		t.Errorf("path = %v, want /tmp/a", intent.Arguments["path"])
	}
}

func TestDetectToolCallBareJSON(t *testing.T) {
	text := `Sure. {"tool": "list_directory", "arguments": {"path": "/tmp"}} and then done.`
	intent := DetectToolCall(text)
	if intent == nil {
		t.Fatal("expected intent, got nil")
	}
	if intent.ToolName != "list_directory" {
		t.Errorf("tool = %q, want list_directory", intent.ToolName)
	}
}

func TestDetectToolCallUseToolAlias(t *testing.T) {
	intent := DetectToolCall(`{"use_tool": "search", "args": {"q": "golang"}}`)
	if intent == nil {
		t.Fatal("expected intent, got nil")
	}
	if intent.ToolName != "search" || intent.Arguments["q"] != "golang" {
		t.Errorf("unexpected intent: %+v", intent)
	}
}

func TestDetectToolCallSkipsInvalidCandidates(t *testing.T) {
	// The first object has no tool field, the second is malformed, the third
	// is valid. Detection must skip past the bad ones.
	text := `{"note": "not a call"} {"tool": broken} {"tool": "search", "arguments": {"q": "a"}}`
	intent := DetectToolCall(text)
	if intent == nil {
		t.Fatal("expected intent, got nil")
	}
	if intent.ToolName != "search" {
		t.Errorf("tool = %q, want search", intent.ToolName)
	}
}

func TestDetectToolCallNoCandidate(t *testing.T) {
	if intent := DetectToolCall("just a plain answer with no JSON"); intent != nil {
		t.Errorf("expected nil, got %+v", intent)
	}
	if intent := DetectToolCall(`{"tool": 42}`); intent != nil {
		t.Errorf("non-string tool field should not qualify, got %+v", intent)
	}
}

func TestDetectToolPlan(t *testing.T) {
	text := "```json\n{\"plan\": [{\"tool\": \"read_file\", \"arguments\": {\"path\": \"/a\"}}, {\"tool\": \"search\", \"arguments\": {\"q\": \"x\"}}]}\n```"
	plan := DetectToolPlan(text)
	if plan == nil {
		t.Fatal("expected plan, got nil")
	}
	if len(plan.Tools) != 2 {
		t.Fatalf("len(tools) = %d, want 2", len(plan.Tools))
	}
	if plan.Tools[0].ToolName != "read_file" || plan.Tools[1].ToolName != "search" {
		t.Errorf("unexpected plan order: %+v", plan.Tools)
	}
}

func TestDetectToolPlanBareArray(t *testing.T) {
	text := "```json\n[{\"tool\": \"read_file\", \"arguments\": {\"path\": \"/a\"}}]\n```"
	plan := DetectToolPlan(text)
	if plan == nil {
		t.Fatal("expected plan, got nil")
	}
	if len(plan.Tools) != 1 {
		t.Fatalf("len(tools) = %d, want 1", len(plan.Tools))
	}
}

func TestNormalizeNamespacedName(t *testing.T) {
	r := newTestRegistry(t)
	intent, err := NormalizeFunctionCall("fs__read_file", map[string]any{"path": "/a"}, r, NormalizeOptions{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if intent.ServerID != "fs" || intent.ToolName != "read_file" {
		t.Errorf("got %s/%s, want fs/read_file", intent.ServerID, intent.ToolName)
	}
	if intent.Arguments["path"] != "/a" {
		t.Errorf("path = %v, want /a", intent.Arguments["path"])
	}
}

func TestNormalizeSingleUnderscoreFallback(t *testing.T) {
	r := newTestRegistry(t)
	// "web_search" splits on the first underscore because "web" is a known
	// server carrying a "search" tool.
	intent, err := NormalizeFunctionCall("web_search", map[string]any{"q": "a"}, r, NormalizeOptions{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if intent.ServerID != "web" || intent.ToolName != "search" {
		t.Errorf("got %s/%s, want web/search", intent.ServerID, intent.ToolName)
	}
}

func TestNormalizeBareNameUnique(t *testing.T) {
	r := newTestRegistry(t)
	intent, err := NormalizeFunctionCall("search", map[string]any{"q": "a"}, r, NormalizeOptions{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if intent.ServerID != "web" {
		t.Errorf("server = %q, want web", intent.ServerID)
	}
}

func TestNormalizeBareNameAmbiguousPicksFirst(t *testing.T) {
	r := newTestRegistry(t)
	// read_file exists on both fs and web; resolution must still succeed.
	intent, err := NormalizeFunctionCall("read_file", nil, r, NormalizeOptions{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if intent.ServerID == "" {
		t.Error("ambiguous name must still resolve to some server")
	}
}

func TestNormalizeUnknownTool(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := NormalizeFunctionCall("no_such_tool_anywhere", nil, r, NormalizeOptions{}); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestNormalizeFlattensWrappersAndStripsControlKeys(t *testing.T) {
	r := newTestRegistry(t)
	raw := map[string]any{
		"tool":   "search",
		"server": "web",
		"arguments": map[string]any{
			"q":    "golang",
			"tool": "smuggled",
		},
	}
	intent, err := NormalizeFunctionCall("web__search", raw, r, NormalizeOptions{})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if intent.Arguments["q"] != "golang" {
		t.Errorf("q = %v, want golang", intent.Arguments["q"])
	}
	for _, k := range []string{"tool", "server", "arguments"} {
		if _, present := intent.Arguments[k]; present {
			t.Errorf("control key %q leaked into arguments", k)
		}
	}
}

func TestNormalizeInjectsDefaultPath(t *testing.T) {
	r := newTestRegistry(t)
	intent, err := NormalizeFunctionCall("fs__list_directory", map[string]any{}, r, NormalizeOptions{DefaultPath: "/workspace"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if intent.Arguments["path"] != "/workspace" {
		t.Errorf("path = %v, want /workspace", intent.Arguments["path"])
	}
}

func TestNormalizeDoesNotOverrideExplicitPath(t *testing.T) {
	r := newTestRegistry(t)
	intent, err := NormalizeFunctionCall("fs__read_file", map[string]any{"path": "/a"}, r, NormalizeOptions{DefaultPath: "/workspace"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if intent.Arguments["path"] != "/a" {
		t.Errorf("path = %v, want /a", intent.Arguments["path"])
	}
}

func TestConvertToolsNamespaced(t *testing.T) {
	r := newTestRegistry(t)
	tools := ConvertTools(r.Entries(), ConvertOptions{Namespace: true})
	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.Function.Name] = true
	}
	for _, want := range []string{"fs__read_file", "fs__list_directory", "web__search", "web__read_file"} {
		if !names[want] {
			t.Errorf("missing namespaced tool %q (have %v)", want, names)
		}
	}
}

func TestConvertToolsUppercaseTypes(t *testing.T) {
	entries := []RegistryEntry{{
		ServerID: "fs",
		Name:     "read_file",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"lines": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			},
		},
	}}
	tools := ConvertTools(entries, ConvertOptions{UppercaseTypes: true})
	schema, ok := tools[0].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("parameters have type %T, want map[string]any", tools[0].Function.Parameters)
	}
	if schema["type"] != "OBJECT" {
		t.Errorf("root type = %v, want OBJECT", schema["type"])
	}
	lines := schema["properties"].(map[string]any)["lines"].(map[string]any)
	if lines["type"] != "ARRAY" {
		t.Errorf("array type = %v, want ARRAY", lines["type"])
	}
	if lines["items"].(map[string]any)["type"] != "STRING" {
		t.Errorf("items type = %v, want STRING", lines["items"])
	}
	// Original schema must stay untouched.
	if entries[0].InputSchema["type"] != "object" {
		t.Error("input schema was mutated")
	}
}

func TestRegistryCallWrapsTransportError(t *testing.T) {
	failing := &fakeServer{err: context.DeadlineExceeded}
	r := NewRegistry()
	r.AddServer("slow", failing)

	result, err := r.Call(context.Background(), "slow", "anything", nil)
	if err != nil {
		t.Fatalf("transport error must fold into the result, got %v", err)
	}
	if !result.IsError {
		t.Error("expected IsError result")
	}
}

func TestStripToolJSONKeepsProse(t *testing.T) {
	text := "Voy a revisar el archivo.\n```json\n{\"tool\": \"read_file\", \"arguments\": {\"path\": \"a.txt\"}}\n```\nUn momento."
	got := StripToolJSON(text)
	if strings.Contains(got, "read_file") || strings.Contains(got, "```") {
		t.Errorf("tool JSON left behind: %q", got)
	}
	if !strings.Contains(got, "Voy a revisar el archivo.") || !strings.Contains(got, "Un momento.") {
		t.Errorf("prose lost: %q", got)
	}
}

func TestStripToolJSONLeavesOrdinaryJSON(t *testing.T) {
	text := "La respuesta fue {\"status\": \"ok\", \"count\": 3} según el servidor."
	if got := StripToolJSON(text); got != text {
		t.Errorf("non-tool JSON should survive, got %q", got)
	}
}

func TestStripToolJSONBareObject(t *testing.T) {
	text := "Claro.\n{\"tool\": \"search\", \"args\": {\"query\": \"go\"}}"
	if got := StripToolJSON(text); got != "Claro." {
		t.Errorf("got %q, want %q", got, "Claro.")
	}
}
