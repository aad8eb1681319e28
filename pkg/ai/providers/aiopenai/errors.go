package aiopenai

import (
	"net/http"
	"strings"

	"github.com/Abraxas-365/copiloto/pkg/errx"
)

var (
	errorRegistry = errx.NewRegistry("OPENAI")

	ErrMissingAPIKey = errorRegistry.Register(
		"MISSING_API_KEY",
		errx.TypeValidation,
		http.StatusBadRequest,
		"OpenAI API key not provided",
	)

	ErrEmptyMessages = errorRegistry.Register(
		"EMPTY_MESSAGES",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Conversation cannot be empty",
	)

	ErrUnsupportedRole = errorRegistry.Register(
		"UNSUPPORTED_ROLE",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Unsupported message role",
	)

	ErrAPIRequest = errorRegistry.Register(
		"API_REQUEST_FAILED",
		errx.TypeExternal,
		http.StatusBadGateway,
		"OpenAI request failed",
	)

	ErrAPIUnauthorized = errorRegistry.Register(
		"API_UNAUTHORIZED",
		errx.TypeAuthorization,
		http.StatusUnauthorized,
		"Invalid or missing OpenAI API key",
	)

	ErrRateLimited = errorRegistry.Register(
		"RATE_LIMITED",
		errx.TypeExternal,
		http.StatusTooManyRequests,
		"OpenAI rate limit exceeded",
	)

	ErrOverloaded = errorRegistry.Register(
		"OVERLOADED",
		errx.TypeExternal,
		http.StatusServiceUnavailable,
		"OpenAI is temporarily overloaded",
	)

	ErrContextTooLong = errorRegistry.Register(
		"CONTEXT_TOO_LONG",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Conversation exceeds the model context window",
	)

	ErrEmptyCompletion = errorRegistry.Register(
		"EMPTY_COMPLETION",
		errx.TypeExternal,
		http.StatusBadGateway,
		"OpenAI returned no choices",
	)
)

// apiError folds an SDK error into the registry by inspecting its message.
func apiError(err error) *errx.Error {
	var appErr *errx.Error
	if errx.As(err, &appErr) {
		return appErr
	}

	msg := strings.ToLower(err.Error())
	code := ErrAPIRequest
	switch {
	case strings.Contains(msg, "api key") || strings.Contains(msg, "unauthorized"):
		code = ErrAPIUnauthorized
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		code = ErrRateLimited
	case strings.Contains(msg, "overloaded") || strings.Contains(msg, "503"):
		code = ErrOverloaded
	case strings.Contains(msg, "context length") || strings.Contains(msg, "maximum context"):
		code = ErrContextTooLong
	}
	return errorRegistry.NewWithCause(code, err)
}
