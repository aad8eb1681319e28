package agentx

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Abraxas-365/copiloto/pkg/errx"
)

var (
	// Error registry for the orchestration runtime
	errorRegistry = errx.NewRegistry("AGENTX")

	ErrProviderOverloaded = errorRegistry.Register(
		"PROVIDER_OVERLOADED",
		errx.TypeExternal,
		http.StatusServiceUnavailable,
		"Provider is overloaded",
	)

	ErrTurnFailed = errorRegistry.Register(
		"TURN_FAILED",
		errx.TypeInternal,
		http.StatusInternalServerError,
		"Turn could not be completed",
	)
)

// IsOverloaded reports whether an error is a provider capacity failure worth
// retrying with backoff.
func IsOverloaded(err error) bool {
	if err == nil {
		return false
	}
	var appErr *errx.Error
	if errors.As(err, &appErr) {
		if appErr.HTTPStatus == http.StatusServiceUnavailable ||
			appErr.HTTPStatus == http.StatusTooManyRequests {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overloaded") || strings.Contains(msg, "503")
}
