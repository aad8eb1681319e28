package aiollama

import (
	"net/http"
	"strings"

	"github.com/Abraxas-365/copiloto/pkg/errx"
)

var (
	// Error registry for Ollama provider
	errorRegistry = errx.NewRegistry("OLLAMA")

	ErrEmptyMessages = errorRegistry.Register(
		"EMPTY_MESSAGES",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Messages cannot be empty",
	)

	ErrMissingModel = errorRegistry.Register(
		"MISSING_MODEL",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Model is required",
	)

	ErrRequestFailed = errorRegistry.Register(
		"REQUEST_FAILED",
		errx.TypeExternal,
		http.StatusBadGateway,
		"Ollama request failed",
	)

	ErrServerOverloaded = errorRegistry.Register(
		"SERVER_OVERLOADED",
		errx.TypeExternal,
		http.StatusServiceUnavailable,
		"Ollama server is overloaded",
	)

	ErrModelNotFound = errorRegistry.Register(
		"MODEL_NOT_FOUND",
		errx.TypeNotFound,
		http.StatusNotFound,
		"Model not found on the Ollama server",
	)

	ErrResponseTooLarge = errorRegistry.Register(
		"RESPONSE_TOO_LARGE",
		errx.TypeExternal,
		http.StatusBadGateway,
		"Ollama response exceeded the size ceiling",
	)

	ErrInvalidResponse = errorRegistry.Register(
		"INVALID_RESPONSE",
		errx.TypeExternal,
		http.StatusBadGateway,
		"Ollama returned an unparseable response",
	)

	ErrStreamFailed = errorRegistry.Register(
		"STREAM_FAILED",
		errx.TypeExternal,
		http.StatusInternalServerError,
		"Streaming request failed",
	)
)

// ParseOllamaError maps a transport or server error to a registry error.
func ParseOllamaError(err error) *errx.Error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "model") && strings.Contains(msg, "not found"):
		return errorRegistry.NewWithCause(ErrModelNotFound, err)
	case strings.Contains(msg, "overloaded") || strings.Contains(msg, "503"):
		return errorRegistry.NewWithCause(ErrServerOverloaded, err)
	default:
		return errorRegistry.NewWithCause(ErrRequestFailed, err)
	}
}
