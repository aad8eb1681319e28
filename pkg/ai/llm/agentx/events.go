package agentx

// Status identifies what the runtime is doing while a turn progresses
type Status string

const (
	// StatusThinking fires before each provider call
	StatusThinking Status = "thinking"

	// StatusExecutingTool fires before a tool runs
	StatusExecutingTool Status = "executing_tool"

	// StatusObserving fires after a tool result has been appended to history
	StatusObserving Status = "observing"

	// StatusDone fires when the turn has produced its final text
	StatusDone Status = "done"

	// StatusLoopAborted fires when repeat detection stopped the tool loop
	StatusLoopAborted Status = "loop_aborted"

	// StatusError fires when a step failed and the runtime is degrading
	StatusError Status = "error"
)

// ToolResultEvent is delivered after every actual tool execution
type ToolResultEvent struct {
	ToolName string
	ServerID string
	Args     map[string]any
	Result   string
	IsError  bool
}

// Callbacks lets the caller observe a turn as it progresses. Every field is
// optional; nil callbacks are skipped.
type Callbacks struct {
	// OnStatus receives state transitions with a human-readable message
	OnStatus func(status Status, message string)

	// OnToolResult fires once per tool execution (cache hits and duplicate
	// short-circuits do not re-fire it)
	OnToolResult func(event ToolResultEvent)

	// OnStream receives incremental text chunks when the provider streams
	OnStream func(chunk string)
}

func (c Callbacks) status(status Status, message string) {
	if c.OnStatus != nil {
		c.OnStatus(status, message)
	}
}

func (c Callbacks) toolResult(event ToolResultEvent) {
	if c.OnToolResult != nil {
		c.OnToolResult(event)
	}
}

func (c Callbacks) stream(chunk string) {
	if c.OnStream != nil {
		c.OnStream(chunk)
	}
}
