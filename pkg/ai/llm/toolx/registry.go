package toolx

import (
	"context"
	"strings"
	"sync"

	"github.com/Abraxas-365/copiloto/pkg/logx"
)

// RegistryEntry describes one callable tool as advertised by a tool server.
// Entries are read-only to the runtime; the server owns the schema.
type RegistryEntry struct {
	ServerID    string         `json:"server_id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Result is the flattened outcome of a tool invocation. Transport failures
// are folded into IsError with a textual explanation; they never surface as
// Go errors past the registry boundary.
type Result struct {
	Text    string `json:"text"`
	IsError bool   `json:"is_error"`
}

// ToolServer is the external tool-server boundary. The runtime treats it as
// opaque RPC: enumerate tools, call one by name.
type ToolServer interface {
	ListTools(ctx context.Context) ([]RegistryEntry, error)
	CallTool(ctx context.Context, toolName string, args map[string]any) (Result, error)
}

// Registry aggregates the tool servers available to a runtime and caches
// their advertised tools. Refresh before first use and whenever the server
// set changes.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]ToolServer
	entries []RegistryEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{servers: make(map[string]ToolServer)}
}

// AddServer registers a tool server under the given ID, replacing any
// previous server with the same ID.
func (r *Registry) AddServer(serverID string, server ToolServer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[serverID] = server
}

// Refresh re-enumerates every server's tools. A server that fails to list is
// logged and skipped so one dead server does not blank the whole registry.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.servers) == 0 {
		return errorRegistry.New(ErrNoToolServers)
	}

	var entries []RegistryEntry
	for id, server := range r.servers {
		tools, err := server.ListTools(ctx)
		if err != nil {
			logx.WithFields(logx.Fields{"server": id}).
				Warnf("tool server listTools failed: %v", err)
			continue
		}
		for _, t := range tools {
			t.ServerID = id
			entries = append(entries, t)
		}
	}
	r.entries = entries
	return nil
}

// Entries returns a copy of the cached tool list.
func (r *Registry) Entries() []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegistryEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// HasServer reports whether a server is registered under the ID.
func (r *Registry) HasServer(serverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.servers[serverID]
	return ok
}

// FindByName returns every cached entry whose bare tool name matches.
func (r *Registry) FindByName(name string) []RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []RegistryEntry
	for _, e := range r.entries {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Lookup returns the entry for an exact (serverID, name) pair.
func (r *Registry) Lookup(serverID, name string) (RegistryEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.entries {
		if e.ServerID == serverID && e.Name == name {
			return e, true
		}
	}
	return RegistryEntry{}, false
}

// Call invokes a tool on its server. Transport errors come back as an
// error-flagged Result, not as a Go error, so the orchestrator can feed them to
// the model as observations.
func (r *Registry) Call(ctx context.Context, serverID, toolName string, args map[string]any) (Result, error) {
	r.mu.RLock()
	server, ok := r.servers[serverID]
	r.mu.RUnlock()

	if !ok {
		return Result{}, errorRegistry.New(ErrUnknownServer).
			WithDetail("server_id", serverID).
			WithDetail("tool", toolName)
	}

	result, err := server.CallTool(ctx, toolName, args)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation must propagate so the orchestrator can unwind
			// without appending a partial observation.
			return Result{}, ctx.Err()
		}
		return Result{Text: "Tool call failed: " + err.Error(), IsError: true}, nil
	}
	return result, nil
}

// CallableName returns the namespaced callable name for an entry.
func (e RegistryEntry) CallableName(namespaced bool) string {
	if !namespaced || e.ServerID == "" {
		return e.Name
	}
	return e.ServerID + NamespaceSeparator + e.Name
}

// NamespaceSeparator joins serverID and tool name in a callable name.
const NamespaceSeparator = "__"

// SplitNamespaced splits a callable name of the form server__tool. The
// second return is false when the name carries no namespace.
func SplitNamespaced(name string) (serverID, toolName string, ok bool) {
	idx := strings.Index(name, NamespaceSeparator)
	if idx <= 0 || idx+len(NamespaceSeparator) >= len(name) {
		return "", name, false
	}
	return name[:idx], name[idx+len(NamespaceSeparator):], true
}
