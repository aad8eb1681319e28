package aibedrock

import (
	"net/http"
	"strings"

	"github.com/Abraxas-365/copiloto/pkg/errx"
)

var (
	errorRegistry = errx.NewRegistry("BEDROCK")

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
		"Bedrock request failed",
	)

	ErrAPIUnauthorized = errorRegistry.Register(
		"API_UNAUTHORIZED",
		errx.TypeAuthorization,
		http.StatusUnauthorized,
		"AWS credentials missing or not allowed to invoke the model",
	)

	ErrRateLimited = errorRegistry.Register(
		"RATE_LIMITED",
		errx.TypeExternal,
		http.StatusTooManyRequests,
		"Bedrock throttled the request",
	)

	ErrOverloaded = errorRegistry.Register(
		"OVERLOADED",
		errx.TypeExternal,
		http.StatusServiceUnavailable,
		"Bedrock model is temporarily unavailable",
	)

	ErrUnexpectedOutput = errorRegistry.Register(
		"UNEXPECTED_OUTPUT",
		errx.TypeExternal,
		http.StatusBadGateway,
		"Bedrock returned an unexpected output shape",
	)
)

// apiError folds an SDK error into the registry by inspecting its message.
// Throttling maps onto 429 and model pressure onto 503.
func apiError(err error) *errx.Error {
	var appErr *errx.Error
	if errx.As(err, &appErr) {
		return appErr
	}

	msg := strings.ToLower(err.Error())
	code := ErrAPIRequest
	switch {
	case strings.Contains(msg, "accessdenied") ||
		strings.Contains(msg, "unrecognizedclient") ||
		strings.Contains(msg, "credentials"):
		code = ErrAPIUnauthorized
	case strings.Contains(msg, "throttling") || strings.Contains(msg, "too many requests"):
		code = ErrRateLimited
	case strings.Contains(msg, "serviceunavailable") ||
		strings.Contains(msg, "modelnotready") ||
		strings.Contains(msg, "overloaded"):
		code = ErrOverloaded
	}
	return errorRegistry.NewWithCause(code, err)
}
