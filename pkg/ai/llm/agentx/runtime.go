// Package agentx runs the tool-use loop of a conversation: it calls the
// active provider with a token-trimmed history, detects tool intent in the
// response, executes tools through the registry, reinjects summarized
// observations, and repeats until the model produces a final answer or a
// safety bound stops it.
package agentx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Abraxas-365/copiloto/pkg/ai/llm"
	"github.com/Abraxas-365/copiloto/pkg/ai/llm/cachex"
	"github.com/Abraxas-365/copiloto/pkg/ai/llm/memoryx"
	"github.com/Abraxas-365/copiloto/pkg/ai/llm/toolx"
	"github.com/Abraxas-365/copiloto/pkg/asyncx"
	"github.com/Abraxas-365/copiloto/pkg/logx"
)

const (
	// DefaultMaxIterations bounds the tool loop per turn.
	DefaultMaxIterations = 10

	// UnboundedIterations disables the iteration ceiling.
	UnboundedIterations = -1

	// DefaultCompletionText is returned when the model goes silent after a
	// successful tool call and the retry stays empty too.
	DefaultCompletionText = "✅ Operación completada correctamente."

	// consecutiveRepeatLimit aborts the loop when the same tool is asked
	// for on this many iterations in a row.
	consecutiveRepeatLimit = 3

	recoveryTemperature = 0.2
	recoveryMaxTokens   = 1024
)

// RuntimeConfig carries the per-runtime knobs. It is passed in explicitly at
// construction, never read from globals.
type RuntimeConfig struct {
	Model         string
	FallbackModel string
	Temperature   float32
	MaxTokens     int

	// MaxIterations bounds tool round-trips per turn. Zero means
	// DefaultMaxIterations; UnboundedIterations disables the ceiling.
	MaxIterations int

	// ContextLimit is the provider context size in tokens. Zero derives a
	// tier from FreeMemoryMB.
	ContextLimit   int
	FreeMemoryMB   int
	ReservedTokens int

	SystemPrompt      string
	DefaultPath       string
	FullFidelityTools []string
}

// Runtime orchestrates turns across conversations. Conversations are
// independent: each has its own window and cache bucket, so turns for
// different conversations may run concurrently.
type Runtime struct {
	client   llm.Client
	registry *toolx.Registry
	cache    cachex.Cache
	config   RuntimeConfig
	retry    asyncx.RetryPolicy

	memoryFactory func(conversationID string) memoryx.Memory

	mu            sync.Mutex
	conversations map[string]*memoryx.ContextWindowManager
}

// RuntimeOption configures a Runtime
type RuntimeOption func(*Runtime)

// WithRegistry attaches the tool registry.
func WithRegistry(registry *toolx.Registry) RuntimeOption {
	return func(r *Runtime) {
		r.registry = registry
	}
}

// WithCache replaces the default in-memory tool result cache.
func WithCache(cache cachex.Cache) RuntimeOption {
	return func(r *Runtime) {
		r.cache = cache
	}
}

// WithMemoryFactory replaces the per-conversation history backend, e.g. with
// Postgres-backed memories.
func WithMemoryFactory(factory func(conversationID string) memoryx.Memory) RuntimeOption {
	return func(r *Runtime) {
		r.memoryFactory = factory
	}
}

// WithRetryPolicy overrides the overload retry policy shared by every
// provider call.
func WithRetryPolicy(policy asyncx.RetryPolicy) RuntimeOption {
	return func(r *Runtime) {
		r.retry = policy
	}
}

// NewRuntime creates a runtime for a provider client.
func NewRuntime(client llm.Client, config RuntimeConfig, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		client: client,
		config: config,
		cache:  cachex.NewMemoryCache(),
		retry: asyncx.RetryPolicy{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			Retryable:   IsOverloaded,
		},
		conversations: make(map[string]*memoryx.ContextWindowManager),
	}
	r.memoryFactory = func(string) memoryx.Memory {
		return memoryx.NewInMemoryMemory(config.SystemPrompt)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Runtime) maxIterations() int {
	switch {
	case r.config.MaxIterations == UnboundedIterations:
		return int(^uint(0) >> 1)
	case r.config.MaxIterations <= 0:
		return DefaultMaxIterations
	default:
		return r.config.MaxIterations
	}
}

func (r *Runtime) contextLimit() int {
	if r.config.ContextLimit > 0 {
		return r.config.ContextLimit
	}
	return memoryx.CalcDynamicContext(r.config.FreeMemoryMB)
}

// window returns (creating on first use) the conversation's context window.
func (r *Runtime) window(conversationID string) *memoryx.ContextWindowManager {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.conversations[conversationID]; ok {
		return w
	}
	opts := []memoryx.WindowOption{
		memoryx.WithFullFidelityTools(r.config.FullFidelityTools...),
	}
	if r.config.ReservedTokens > 0 {
		opts = append(opts, memoryx.WithReservedTokens(r.config.ReservedTokens))
	}
	w := memoryx.NewContextWindowManager(r.memoryFactory(conversationID), r.contextLimit(), opts...)
	r.conversations[conversationID] = w
	return w
}

// ClearConversation resets a conversation's history and cache bucket.
func (r *Runtime) ClearConversation(ctx context.Context, conversationID string) error {
	if err := r.cache.Clear(ctx, conversationID); err != nil {
		logx.WithFields(logx.Fields{"conversation": conversationID}).
			Warnf("cache clear failed: %v", err)
	}
	return r.window(conversationID).Clear()
}

// History returns the conversation's full stored history.
func (r *Runtime) History(conversationID string) ([]llm.Message, error) {
	return r.window(conversationID).History()
}

// turnState tracks loop detection and recovery bookkeeping for one turn.
type turnState struct {
	plan               []toolx.Intent
	lastToolName       string
	consecutiveRepeats int
	lastCallKey        string
	lastText           string
	toolContextActive  bool
	recoveryPending    bool
	recoveryUsed       bool
	emptyRetryUsed     bool
}

// SendTurn runs one full user-message-to-final-answer cycle. It always
// returns usable text: provider and tool failures degrade to apologetic or
// diagnostic messages instead of surfacing as errors. The returned error is
// non-nil only for context cancellation and history storage failures, and
// even then the string is safe to show.
func (r *Runtime) SendTurn(ctx context.Context, conversationID, userText string, cb Callbacks) (string, error) {
	w := r.window(conversationID)
	if err := w.Append(llm.NewUserMessage(userText)); err != nil {
		return "Lo siento, no pude guardar tu mensaje. Intenta de nuevo.", err
	}

	caps := llm.ClientCapabilities(r.client)
	state := &turnState{}
	maxIter := r.maxIterations()

	for iteration := 0; iteration < maxIter; iteration++ {
		var intent *toolx.Intent
		var callID string

		if len(state.plan) > 0 {
			// Next step of a declared plan; no model round between steps.
			step := state.plan[0]
			state.plan = state.plan[1:]
			intent = &step
			callID = "call_" + uuid.New().String()
		} else {
			cb.status(StatusThinking, "consultando al modelo")

			messages, err := w.TrimmedHistory()
			if err != nil {
				logx.WithFields(logx.Fields{"conversation": conversationID}).
					Errorf("history read failed: %v", err)
				return r.degradedText(state), err
			}
			if !caps.NativeToolCalls {
				messages = r.withToolGuidance(messages)
			}

			response, err := r.chat(ctx, messages, r.chatOptions(caps, state), cb)
			if err != nil {
				if ctx.Err() != nil {
					return state.lastText, ctx.Err()
				}
				logx.WithFields(logx.Fields{"conversation": conversationID}).
					Errorf("provider call failed: %v", err)
				cb.status(StatusError, "el proveedor no respondió")
				return r.degradedText(state), nil
			}
			state.recoveryPending = false

			text := response.Message.Content
			intents, intentErr := r.extractIntents(response.Message, caps)
			if intentErr != nil {
				// Unresolvable tool name: fatal for this iteration only; the
				// turn ends with a textual report instead of an exception.
				logx.WithFields(logx.Fields{"conversation": conversationID}).
					Warnf("tool intent could not be resolved: %v", intentErr)
				final := strings.TrimSpace(text)
				if final == "" {
					final = "No pude identificar la herramienta solicitada."
				} else {
					final += "\n\n(No pude identificar la herramienta solicitada.)"
				}
				if err := w.Append(llm.NewAssistantMessage(final)); err != nil {
					return final, err
				}
				cb.status(StatusDone, "turno finalizado")
				return final, nil
			}

			if len(intents) == 0 {
				return r.finishTurn(ctx, w, state, text, cb)
			}

			if spoken := toolx.StripToolJSON(text); spoken != "" {
				state.lastText = spoken
			}
			callID = toolCallID(response.Message)
			intent = &intents[0]
			state.plan = intents[1:]
			if err := r.appendToolRequest(w, response.Message, text, intent); err != nil {
				return r.degradedText(state), err
			}
		}

		// Same tool three iterations in a row is an infinite loop.
		if intent.ToolName == state.lastToolName {
			state.consecutiveRepeats++
		} else {
			state.lastToolName = intent.ToolName
			state.consecutiveRepeats = 1
		}
		if state.consecutiveRepeats >= consecutiveRepeatLimit {
			cb.status(StatusLoopAborted, "bucle de herramientas detectado")
			return r.loopAbortText(state, intent.ToolName), nil
		}

		callKey := cachex.CacheKey(qualifiedToolName(intent), intent.Arguments)
		if callKey == state.lastCallKey {
			// Identical tool and arguments back to back: answer from cache
			// without re-executing and close the turn.
			entry, _ := r.cache.Recall(ctx, conversationID, qualifiedToolName(intent), intent.Arguments)
			note := "(Llamada duplicada ignorada.)"
			if entry != nil {
				r.appendObservation(w, callID, intent, entry.Summary, entry.RawText)
			}
			cb.status(StatusDone, "llamada duplicada ignorada")
			if state.lastText != "" {
				return state.lastText + "\n\n" + note, nil
			}
			return note, nil
		}
		state.lastCallKey = callKey
		state.toolContextActive = true

		entry, err := r.cache.Recall(ctx, conversationID, qualifiedToolName(intent), intent.Arguments)
		if err != nil {
			logx.WithFields(logx.Fields{"conversation": conversationID}).
				Warnf("cache recall failed: %v", err)
		}
		if entry != nil {
			r.appendObservation(w, callID, intent, entry.Summary, entry.RawText)
			cb.status(StatusObserving, "resultado recuperado de caché")
			continue
		}

		cb.status(StatusExecutingTool, intent.ToolName)
		result, err := r.registry.Call(ctx, intent.ServerID, intent.ToolName, intent.Arguments)
		if err != nil {
			if ctx.Err() != nil {
				// Cancelled mid-call: history keeps no partial observation.
				return state.lastText, ctx.Err()
			}
			logx.WithFields(logx.Fields{
				"conversation": conversationID,
				"tool":         intent.ToolName,
			}).Errorf("tool call failed: %v", err)
			cb.status(StatusError, "la herramienta no está disponible")
			return r.degradedText(state), nil
		}

		summary := toolx.Summarize(toolx.SummarizeInput{
			ToolName:   intent.ToolName,
			Args:       intent.Arguments,
			ResultText: result.Text,
			IsError:    result.IsError,
		})
		if err := r.cache.Remember(ctx, conversationID, qualifiedToolName(intent), intent.Arguments, cachex.Entry{
			Summary: summary,
			RawText: result.Text,
			IsError: result.IsError,
		}); err != nil {
			logx.WithFields(logx.Fields{"conversation": conversationID}).
				Warnf("cache remember failed: %v", err)
		}
		cb.toolResult(ToolResultEvent{
			ToolName: intent.ToolName,
			ServerID: intent.ServerID,
			Args:     intent.Arguments,
			Result:   result.Text,
			IsError:  result.IsError,
		})

		r.appendObservation(w, callID, intent, summary, result.Text)
		cb.status(StatusObserving, summary)

		if result.IsError {
			// A failed step invalidates whatever plan remained.
			state.plan = nil
			if state.recoveryUsed {
				cb.status(StatusError, "la herramienta siguió fallando")
				return r.degradedText(state), nil
			}
			// One recovery attempt with a tighter budget and colder
			// sampling before giving up on this tool.
			state.recoveryUsed = true
			state.recoveryPending = true
		}
	}

	cb.status(StatusDone, "límite de iteraciones alcanzado")
	return r.degradedText(state), nil
}

// finishTurn handles a model response with no tool intent, including the
// empty-response retry while a tool context is active.
func (r *Runtime) finishTurn(ctx context.Context, w *memoryx.ContextWindowManager, state *turnState, text string, cb Callbacks) (string, error) {
	if strings.TrimSpace(text) == "" && state.toolContextActive {
		if !state.emptyRetryUsed {
			state.emptyRetryUsed = true
			if retried := r.retryEmptyResponse(ctx, w, cb); strings.TrimSpace(retried) != "" {
				if err := w.Append(llm.NewAssistantMessage(retried)); err != nil {
					return retried, err
				}
				cb.status(StatusDone, "turno finalizado")
				return retried, nil
			}
		}
		if err := w.Append(llm.NewAssistantMessage(DefaultCompletionText)); err != nil {
			return DefaultCompletionText, err
		}
		cb.status(StatusDone, "turno finalizado")
		return DefaultCompletionText, nil
	}

	if strings.TrimSpace(text) == "" {
		text = DefaultCompletionText
	}
	if err := w.Append(llm.NewAssistantMessage(text)); err != nil {
		return text, err
	}
	cb.status(StatusDone, "turno finalizado")
	return text, nil
}

// retryEmptyResponse asks once more with a simplified instruction and
// relaxed parameters. The instruction is ephemeral and never persisted.
func (r *Runtime) retryEmptyResponse(ctx context.Context, w *memoryx.ContextWindowManager, cb Callbacks) string {
	messages, err := w.TrimmedHistory()
	if err != nil {
		return ""
	}
	messages = append(messages, llm.NewUserMessage(
		"Resume brevemente el resultado de la herramienta para el usuario."))

	opts := []llm.Option{
		llm.WithTemperature(recoveryTemperature),
		llm.WithMaxTokens(recoveryMaxTokens),
	}
	if r.config.Model != "" {
		opts = append(opts, llm.WithModel(r.config.Model))
	}

	response, err := r.chat(ctx, messages, opts, cb)
	if err != nil {
		return ""
	}
	return response.Message.Content
}

// chat calls the provider under the overload retry policy, then once more on
// the fallback model if every attempt was a capacity failure.
func (r *Runtime) chat(ctx context.Context, messages []llm.Message, opts []llm.Option, cb Callbacks) (llm.Response, error) {
	response, err := asyncx.ExecutePolicy(ctx, r.retry, func(ctx context.Context) (llm.Response, error) {
		return r.chatOnce(ctx, messages, opts, cb)
	})
	if err == nil || !IsOverloaded(err) || r.config.FallbackModel == "" {
		return response, err
	}

	logx.WithFields(logx.Fields{"fallback_model": r.config.FallbackModel}).
		Warn("provider overloaded, switching to fallback model")
	fallbackOpts := append(append([]llm.Option{}, opts...), llm.WithModel(r.config.FallbackModel))
	return r.chatOnce(ctx, messages, fallbackOpts, cb)
}

// chatOnce performs a single provider call, streaming when the caller wants
// chunks and the provider supports it.
func (r *Runtime) chatOnce(ctx context.Context, messages []llm.Message, opts []llm.Option, cb Callbacks) (llm.Response, error) {
	caps := llm.ClientCapabilities(r.client)
	if cb.OnStream == nil || !caps.Streaming {
		return r.client.Chat(ctx, messages, opts...)
	}

	stream, err := r.client.ChatStream(ctx, messages, opts...)
	if err != nil {
		return llm.Response{}, err
	}
	defer stream.Close()

	var (
		content   strings.Builder
		toolCalls []llm.ToolCall
	)
	for {
		chunk, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return llm.Response{}, err
		}
		if chunk.Content != "" {
			content.WriteString(chunk.Content)
			cb.stream(chunk.Content)
		}
		if len(chunk.ToolCalls) > 0 {
			toolCalls = chunk.ToolCalls
		}
	}
	return llm.Response{Message: llm.Message{
		Role:      llm.RoleAssistant,
		Content:   content.String(),
		ToolCalls: toolCalls,
	}}, nil
}

// chatOptions assembles provider options for a loop iteration.
func (r *Runtime) chatOptions(caps llm.Capabilities, state *turnState) []llm.Option {
	var opts []llm.Option
	if r.config.Model != "" {
		opts = append(opts, llm.WithModel(r.config.Model))
	}

	temperature := r.config.Temperature
	maxTokens := r.config.MaxTokens
	if state.recoveryPending {
		temperature = recoveryTemperature
		if maxTokens == 0 || maxTokens > recoveryMaxTokens {
			maxTokens = recoveryMaxTokens
		}
	}
	if temperature > 0 {
		opts = append(opts, llm.WithTemperature(temperature))
	}
	if maxTokens > 0 {
		opts = append(opts, llm.WithMaxTokens(maxTokens))
	}

	if caps.NativeToolCalls && r.registry != nil {
		entries := r.registry.Entries()
		if len(entries) > 0 {
			opts = append(opts, llm.WithTools(toolx.ConvertTools(entries, toolx.ConvertOptions{Namespace: true})))
		}
	}
	return opts
}

// withToolGuidance appends an ephemeral system message describing the
// available tools and the JSON calling convention for providers without
// native function calling. Never persisted to history.
func (r *Runtime) withToolGuidance(messages []llm.Message) []llm.Message {
	if r.registry == nil {
		return messages
	}
	entries := r.registry.Entries()
	if len(entries) == 0 {
		return messages
	}

	var b strings.Builder
	b.WriteString("Tienes estas herramientas disponibles:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "- %s: %s\n", e.CallableName(true), e.Description)
	}
	b.WriteString("\nPara usar una herramienta responde únicamente con un bloque JSON:\n")
	b.WriteString("```json\n{\"tool\": \"nombre\", \"arguments\": {}}\n```\n")
	b.WriteString("Si no necesitas herramientas, responde normalmente.")

	out := make([]llm.Message, 0, len(messages)+1)
	out = append(out, messages...)
	return append(out, llm.NewSystemMessage(b.String()))
}

// extractIntents pulls the requested tool steps out of a provider response,
// from typed tool_calls fields or from embedded free-text JSON. A single
// call yields one step; a declared plan yields them in order. Empty with nil
// error means the response is a plain answer.
func (r *Runtime) extractIntents(message llm.Message, caps llm.Capabilities) ([]toolx.Intent, error) {
	if r.registry == nil {
		return nil, nil
	}

	if caps.NativeToolCalls && len(message.ToolCalls) > 0 {
		tc := message.ToolCalls[0]
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				logx.Warnf("tool call arguments are not valid JSON: %v", err)
				args = map[string]any{}
			}
		}
		intent, err := toolx.NormalizeFunctionCall(tc.Function.Name, args, r.registry, toolx.NormalizeOptions{
			DefaultPath: r.config.DefaultPath,
		})
		if err != nil {
			return nil, err
		}
		return []toolx.Intent{intent}, nil
	}

	// The plan goes first: a single call scanned out of a plan's array would
	// otherwise shadow the remaining steps. A lone tool object carries no
	// plan array and falls through.
	if plan := toolx.DetectToolPlan(message.Content); plan != nil && len(plan.Tools) > 1 {
		steps := make([]toolx.Intent, 0, len(plan.Tools))
		for _, step := range plan.Tools {
			intent, err := r.normalizeDetected(step)
			if err != nil {
				return nil, err
			}
			steps = append(steps, intent)
		}
		return steps, nil
	}

	if detected := toolx.DetectToolCall(message.Content); detected != nil {
		intent, err := r.normalizeDetected(*detected)
		if err != nil {
			return nil, err
		}
		return []toolx.Intent{intent}, nil
	}
	return nil, nil
}

func (r *Runtime) normalizeDetected(detected toolx.Intent) (toolx.Intent, error) {
	rawName := detected.ToolName
	if detected.ServerID != "" {
		rawName = detected.ServerID + toolx.NamespaceSeparator + detected.ToolName
	}
	return toolx.NormalizeFunctionCall(rawName, detected.Arguments, r.registry, toolx.NormalizeOptions{
		DefaultPath: r.config.DefaultPath,
	})
}

// appendToolRequest persists the assistant message that asked for a tool.
func (r *Runtime) appendToolRequest(w *memoryx.ContextWindowManager, message llm.Message, text string, intent *toolx.Intent) error {
	args, _ := json.Marshal(intent.Arguments)
	stored := llm.Message{
		Role:      llm.RoleAssistant,
		Content:   text,
		ToolCalls: message.ToolCalls,
	}.
		WithMeta(llm.MetaIsToolCall, true).
		WithMeta(llm.MetaToolName, intent.ToolName).
		WithMeta(llm.MetaToolArgs, string(args))
	return w.Append(stored)
}

// appendObservation persists a tool observation. Failures are logged, not
// fatal: the loop can continue with the in-flight summary.
func (r *Runtime) appendObservation(w *memoryx.ContextWindowManager, callID string, intent *toolx.Intent, summary, raw string) {
	observation := llm.NewToolMessage(callID, summary).
		WithMeta(llm.MetaIsToolObservation, true).
		WithMeta(llm.MetaToolName, intent.ToolName).
		WithMeta(llm.MetaToolResultSummary, summary)
	if raw != "" && raw != summary {
		observation = observation.WithMeta(llm.MetaToolResultText, raw)
	}
	if err := w.Append(observation); err != nil {
		logx.Warnf("observation append failed: %v", err)
	}
}

// toolCallID returns the provider's tool call ID, or a synthesized one for
// providers that express tool intent as free text.
func toolCallID(message llm.Message) string {
	if len(message.ToolCalls) > 0 && message.ToolCalls[0].ID != "" {
		return message.ToolCalls[0].ID
	}
	return "call_" + uuid.New().String()
}

// degradedText is the best partial answer available when the loop could not
// finish cleanly.
func (r *Runtime) degradedText(state *turnState) string {
	if state.lastText != "" {
		return state.lastText
	}
	return "Lo siento, no pude completar la operación. Intenta de nuevo."
}

func (r *Runtime) loopAbortText(state *turnState, toolName string) string {
	diagnostic := fmt.Sprintf("(Detuve la ejecución: la herramienta %q se repitió demasiadas veces.)", toolName)
	if state.lastText != "" {
		return state.lastText + "\n\n" + diagnostic
	}
	return diagnostic
}

func qualifiedToolName(intent *toolx.Intent) string {
	return intent.ServerID + toolx.NamespaceSeparator + intent.ToolName
}
