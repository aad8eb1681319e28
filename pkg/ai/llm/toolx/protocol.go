package toolx

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm"
	"github.com/Abraxas-365/copiloto/pkg/logx"
)

// ============================================================================
// Tool call intents
// ============================================================================

// Intent is a fully resolved request to call one tool on one server.
type Intent struct {
	ServerID  string         `json:"server_id"`
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

// Plan is an ordered multi-step tool request emitted in a single response.
type Plan struct {
	Tools []Intent `json:"tools"`
}

// ============================================================================
// Provider tool conversion
// ============================================================================

// ConvertOptions controls how registry entries are rendered for a provider.
type ConvertOptions struct {
	// Namespace prefixes each callable name with its server ID so tools with
	// the same name on different servers stay distinguishable.
	Namespace bool
	// UppercaseTypes rewrites JSON-schema type names to upper case for
	// providers that expect OBJECT/ARRAY/STRING style schemas.
	UppercaseTypes bool
}

// ConvertTools maps registry entries into the generic llm.Tool shape the
// provider adapters consume.
func ConvertTools(entries []RegistryEntry, opts ConvertOptions) []llm.Tool {
	tools := make([]llm.Tool, 0, len(entries))
	for _, e := range entries {
		schema := e.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		if opts.UppercaseTypes {
			schema = uppercaseSchemaTypes(schema)
		}
		tools = append(tools, llm.Tool{
			Type: "function",
			Function: llm.Function{
				Name:        e.CallableName(opts.Namespace),
				Description: e.Description,
				Parameters:  schema,
			},
		})
	}
	return tools
}

// uppercaseSchemaTypes returns a deep copy of the schema with every "type"
// value upper-cased. The input schema is never mutated.
func uppercaseSchemaTypes(schema map[string]any) map[string]any {
	out := make(map[string]any, len(schema))
	for k, v := range schema {
		out[k] = uppercaseSchemaValue(k, v)
	}
	return out
}

func uppercaseSchemaValue(key string, v any) any {
	switch val := v.(type) {
	case string:
		if key == "type" {
			return strings.ToUpper(val)
		}
		return val
	case map[string]any:
		return uppercaseSchemaTypes(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = uppercaseSchemaValue("", item)
		}
		return out
	default:
		return v
	}
}

// ============================================================================
// Free-text tool call detection
// ============================================================================

var (
	fencedBlockRe = regexp.MustCompile("(?s)```(?:json|tool_call|tool)?\\s*(\\{.*?\\})\\s*```")
	fencedArrayRe = regexp.MustCompile("(?s)```(?:json|tool_call|tool)?\\s*(\\[.*?\\])\\s*```")
)

// DetectToolCall scans free-form model output for an embedded tool request.
// Fenced code blocks are tried first, then bare JSON objects anywhere in the
// text. Candidates that do not parse, or that lack a string "tool" or
// "use_tool" field, are skipped and scanning continues. Returns nil when
// nothing qualifies.
func DetectToolCall(responseText string) *Intent {
	for _, m := range fencedBlockRe.FindAllStringSubmatch(responseText, -1) {
		if intent := parseIntentCandidate(m[1]); intent != nil {
			return intent
		}
	}
	for _, candidate := range scanJSONObjects(responseText) {
		if intent := parseIntentCandidate(candidate); intent != nil {
			return intent
		}
	}
	return nil
}

// DetectToolPlan scans for an ordered multi-tool plan: either an object with
// a "plan" or "tools" array, or a bare array of tool-call objects. Returns
// nil unless at least one valid step is found.
func DetectToolPlan(responseText string) *Plan {
	candidates := make([]string, 0, 4)
	for _, m := range fencedArrayRe.FindAllStringSubmatch(responseText, -1) {
		candidates = append(candidates, m[1])
	}
	for _, m := range fencedBlockRe.FindAllStringSubmatch(responseText, -1) {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, scanJSONObjects(responseText)...)

	for _, candidate := range candidates {
		var raw any
		if err := json.Unmarshal([]byte(candidate), &raw); err != nil {
			continue
		}

		var steps []any
		switch v := raw.(type) {
		case []any:
			steps = v
		case map[string]any:
			if arr, ok := v["plan"].([]any); ok {
				steps = arr
			} else if arr, ok := v["tools"].([]any); ok {
				steps = arr
			}
		}
		if len(steps) == 0 {
			continue
		}

		plan := &Plan{}
		for _, step := range steps {
			obj, ok := step.(map[string]any)
			if !ok {
				continue
			}
			if intent := intentFromObject(obj); intent != nil {
				plan.Tools = append(plan.Tools, *intent)
			}
		}
		if len(plan.Tools) > 0 {
			return plan
		}
	}
	return nil
}

// StripToolJSON removes tool-call JSON (fenced blocks and bare objects)
// from free-form model output, leaving the human-readable text.
func StripToolJSON(text string) string {
	out := fencedBlockRe.ReplaceAllStringFunc(text, func(match string) string {
		sub := fencedBlockRe.FindStringSubmatch(match)
		if len(sub) > 1 && parseIntentCandidate(sub[1]) != nil {
			return ""
		}
		return match
	})
	for _, candidate := range scanJSONObjects(out) {
		if parseIntentCandidate(candidate) != nil {
			out = strings.Replace(out, candidate, "", 1)
		}
	}
	return strings.TrimSpace(out)
}

func parseIntentCandidate(candidate string) *Intent {
	var obj map[string]any
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		return nil
	}
	return intentFromObject(obj)
}

func intentFromObject(obj map[string]any) *Intent {
	name, ok := obj["tool"].(string)
	if !ok {
		name, ok = obj["use_tool"].(string)
	}
	if !ok || name == "" {
		return nil
	}

	args := map[string]any{}
	for _, wrapper := range argumentWrapperKeys {
		if nested, ok := obj[wrapper].(map[string]any); ok {
			for k, v := range nested {
				args[k] = v
			}
		}
	}
	// Loose models sometimes put arguments at the top level next to "tool".
	for k, v := range obj {
		if isControlKey(k) || isArgumentWrapper(k) {
			continue
		}
		if _, exists := args[k]; !exists {
			args[k] = v
		}
	}

	serverID, _ := obj["server"].(string)
	if serverID == "" {
		serverID, _ = obj["server_id"].(string)
	}
	if serverID == "" {
		serverID, _ = obj["serverId"].(string)
	}

	return &Intent{ServerID: serverID, ToolName: name, Arguments: args}
}

// scanJSONObjects extracts balanced top-level {...} spans from free text.
// Brace counting ignores braces inside JSON string literals.
func scanJSONObjects(text string) []string {
	var spans []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					spans = append(spans, text[start:i+1])
					start = -1
				}
			}
		}
	}
	return spans
}

// ============================================================================
// Function call normalization
// ============================================================================

// controlKeys are protocol fields that must never reach the tool as
// arguments.
var controlKeys = map[string]struct{}{
	"tool":      {},
	"use_tool":  {},
	"server":    {},
	"server_id": {},
	"serverId":  {},
	"tool_name": {},
	"name":      {},
}

var argumentWrapperKeys = []string{"arguments", "args", "parameters"}

func isControlKey(k string) bool {
	_, ok := controlKeys[k]
	return ok
}

func isArgumentWrapper(k string) bool {
	for _, w := range argumentWrapperKeys {
		if k == w {
			return true
		}
	}
	return false
}

// NormalizeOptions tunes name resolution and argument repair.
type NormalizeOptions struct {
	// DefaultPath, when non-empty, is injected as the "path" argument for
	// tools that declare a path parameter the model omitted.
	DefaultPath string
}

// NormalizeFunctionCall resolves a raw callable name and argument payload
// into a concrete Intent against the registry.
//
// Name resolution order: the "__" namespace separator is authoritative; a
// single "_" split is accepted only when the prefix is a registered server
// ID; otherwise the bare name is matched against the registry and its server
// adopted when the match is unique. An ambiguous bare name resolves to the
// first match with a warning rather than failing the turn.
func NormalizeFunctionCall(rawName string, rawArgs map[string]any, registry *Registry, opts NormalizeOptions) (Intent, error) {
	name := strings.TrimSpace(rawName)
	if name == "" {
		return Intent{}, errorRegistry.New(ErrEmptyToolName)
	}

	args := flattenArguments(rawArgs)

	serverID, toolName, ok := SplitNamespaced(name)
	if ok && !registry.HasServer(serverID) {
		// A "__" prefix that is not a known server is part of the tool name.
		serverID, toolName, ok = "", name, false
	}
	if !ok {
		if idx := strings.Index(name, "_"); idx > 0 {
			if prefix := name[:idx]; registry.HasServer(prefix) {
				if _, found := registry.Lookup(prefix, name[idx+1:]); found {
					serverID, toolName = prefix, name[idx+1:]
				}
			}
		}
	}

	if serverID == "" {
		matches := registry.FindByName(toolName)
		switch len(matches) {
		case 0:
			return Intent{}, errorRegistry.New(ErrUnresolvableTool).
				WithDetail("tool", toolName)
		case 1:
			serverID = matches[0].ServerID
		default:
			serverID = matches[0].ServerID
			logx.WithFields(logx.Fields{
				"tool":    toolName,
				"servers": len(matches),
				"chosen":  serverID,
			}).Warn("tool name ambiguous across servers, using first match")
		}
	} else if _, found := registry.Lookup(serverID, toolName); !found {
		return Intent{}, errorRegistry.New(ErrUnresolvableTool).
			WithDetail("server_id", serverID).
			WithDetail("tool", toolName)
	}

	if opts.DefaultPath != "" {
		if _, has := args["path"]; !has && toolWantsPath(registry, serverID, toolName) {
			args["path"] = opts.DefaultPath
		}
	}

	return Intent{ServerID: serverID, ToolName: toolName, Arguments: args}, nil
}

// flattenArguments collapses nested arguments/args/parameters wrappers into
// one flat map and drops protocol-control keys. The input map is not
// mutated.
func flattenArguments(raw map[string]any) map[string]any {
	out := make(map[string]any)
	if raw == nil {
		return out
	}
	for _, wrapper := range argumentWrapperKeys {
		if nested, ok := raw[wrapper].(map[string]any); ok {
			for k, v := range nested {
				if !isControlKey(k) {
					out[k] = v
				}
			}
		}
	}
	for k, v := range raw {
		if isControlKey(k) || isArgumentWrapper(k) {
			continue
		}
		if _, exists := out[k]; !exists {
			out[k] = v
		}
	}
	return out
}

// toolWantsPath reports whether the tool's input schema declares a "path"
// property.
func toolWantsPath(registry *Registry, serverID, toolName string) bool {
	entry, ok := registry.Lookup(serverID, toolName)
	if !ok {
		return false
	}
	props, ok := entry.InputSchema["properties"].(map[string]any)
	if !ok {
		return false
	}
	_, has := props["path"]
	return has
}
