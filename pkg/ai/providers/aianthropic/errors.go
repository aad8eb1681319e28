package aianthropic

import (
	"net/http"
	"strings"

	"github.com/Abraxas-365/copiloto/pkg/errx"
)

var (
	errorRegistry = errx.NewRegistry("ANTHROPIC")

	ErrMissingAPIKey = errorRegistry.Register(
		"MISSING_API_KEY",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Anthropic API key not provided",
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
		"Anthropic request failed",
	)

	ErrAPIUnauthorized = errorRegistry.Register(
		"API_UNAUTHORIZED",
		errx.TypeAuthorization,
		http.StatusUnauthorized,
		"Invalid or missing Anthropic API key",
	)

	ErrRateLimited = errorRegistry.Register(
		"RATE_LIMITED",
		errx.TypeExternal,
		http.StatusTooManyRequests,
		"Anthropic rate limit exceeded",
	)

	ErrOverloaded = errorRegistry.Register(
		"OVERLOADED",
		errx.TypeExternal,
		http.StatusServiceUnavailable,
		"Anthropic is temporarily overloaded",
	)

	ErrContextTooLong = errorRegistry.Register(
		"CONTEXT_TOO_LONG",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Conversation exceeds the model context window",
	)
)

// apiError folds an SDK error into the registry by inspecting its message.
// Overload and rate-limit cases keep their HTTP status so callers can
// distinguish retryable pressure from hard failures.
func apiError(err error) *errx.Error {
	var appErr *errx.Error
	if errx.As(err, &appErr) {
		return appErr
	}

	msg := strings.ToLower(err.Error())
	code := ErrAPIRequest
	switch {
	case strings.Contains(msg, "invalid x-api-key") ||
		strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "unauthorized"):
		code = ErrAPIUnauthorized
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "rate_limit"):
		code = ErrRateLimited
	case strings.Contains(msg, "overloaded") || strings.Contains(msg, "529") || strings.Contains(msg, "503"):
		code = ErrOverloaded
	case strings.Contains(msg, "context length") || strings.Contains(msg, "too many tokens"):
		code = ErrContextTooLong
	}
	return errorRegistry.NewWithCause(code, err)
}
