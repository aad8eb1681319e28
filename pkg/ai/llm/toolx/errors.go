package toolx

import (
	"net/http"

	"github.com/Abraxas-365/copiloto/pkg/errx"
)

var (
	// Error registry for the tool-call protocol
	errorRegistry = errx.NewRegistry("TOOLX")

	ErrUnresolvableTool = errorRegistry.Register(
		"UNRESOLVABLE_TOOL",
		errx.TypeNotFound,
		http.StatusNotFound,
		"Tool name cannot be mapped to a registered server/tool",
	)

	ErrUnknownServer = errorRegistry.Register(
		"UNKNOWN_SERVER",
		errx.TypeNotFound,
		http.StatusNotFound,
		"No tool server registered under that ID",
	)

	ErrNoToolServers = errorRegistry.Register(
		"NO_TOOL_SERVERS",
		errx.TypeValidation,
		http.StatusBadRequest,
		"No tool servers registered",
	)

	ErrToolCallFailed = errorRegistry.Register(
		"TOOL_CALL_FAILED",
		errx.TypeExternal,
		http.StatusBadGateway,
		"Tool server call failed",
	)

	ErrEmptyToolName = errorRegistry.Register(
		"EMPTY_TOOL_NAME",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Tool name cannot be empty",
	)
)
