package aigemini

import (
	"net/http"
	"strings"

	"github.com/Abraxas-365/copiloto/pkg/errx"
)

var (
	errorRegistry = errx.NewRegistry("GEMINI")

	ErrMissingAPIKey = errorRegistry.Register(
		"MISSING_API_KEY",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Gemini API key not provided",
	)

	ErrClientInit = errorRegistry.Register(
		"CLIENT_INIT_FAILED",
		errx.TypeInternal,
		http.StatusInternalServerError,
		"Failed to create Gemini client",
	)

	ErrEmptyMessages = errorRegistry.Register(
		"EMPTY_MESSAGES",
		errx.TypeValidation,
		http.StatusBadRequest,
		"Conversation cannot be empty",
	)

	ErrAPIRequest = errorRegistry.Register(
		"API_REQUEST_FAILED",
		errx.TypeExternal,
		http.StatusBadGateway,
		"Gemini request failed",
	)

	ErrAPIUnauthorized = errorRegistry.Register(
		"API_UNAUTHORIZED",
		errx.TypeAuthorization,
		http.StatusUnauthorized,
		"Invalid or missing Gemini API key",
	)

	ErrRateLimited = errorRegistry.Register(
		"RATE_LIMITED",
		errx.TypeExternal,
		http.StatusTooManyRequests,
		"Gemini rate limit exceeded",
	)

	ErrOverloaded = errorRegistry.Register(
		"OVERLOADED",
		errx.TypeExternal,
		http.StatusServiceUnavailable,
		"Gemini is temporarily overloaded",
	)

	ErrEmptyCandidates = errorRegistry.Register(
		"EMPTY_CANDIDATES",
		errx.TypeExternal,
		http.StatusBadGateway,
		"Gemini returned no candidates",
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
	case strings.Contains(msg, "api key") ||
		strings.Contains(msg, "permission") ||
		strings.Contains(msg, "unauthenticated"):
		code = ErrAPIUnauthorized
	case strings.Contains(msg, "quota") || strings.Contains(msg, "429"):
		code = ErrRateLimited
	case strings.Contains(msg, "overloaded") ||
		strings.Contains(msg, "unavailable") ||
		strings.Contains(msg, "503"):
		code = ErrOverloaded
	}
	return errorRegistry.NewWithCause(code, err)
}
