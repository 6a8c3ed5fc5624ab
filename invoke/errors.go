package invoke

import (
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-connectors/core"
)

// RequestFailedError reports an upstream response we gave up on after
// exhausting retries. StatusCode and a truncated body snippet travel in
// metadata so callers can surface the upstream complaint.
func RequestFailedError(service, method, rawURL string, statusCode int, body []byte) *goerrors.Error {
	return goerrors.New(
		fmt.Sprintf("invoke: %s %s for service %s failed with status %d", method, rawURL, strings.TrimSpace(service), statusCode),
		goerrors.CategoryExternal,
	).
		WithTextCode(core.APIErrorRequestFailed).
		WithCode(http.StatusBadGateway).
		WithMetadata(map[string]any{
			"status_code": statusCode,
			"body":        truncateBody(body),
		})
}

func TimeoutError(service, method, rawURL string, cause error) *goerrors.Error {
	return goerrors.Wrap(
		cause,
		goerrors.CategoryExternal,
		fmt.Sprintf("invoke: %s %s for service %s timed out", method, rawURL, strings.TrimSpace(service)),
	).
		WithTextCode(core.APIErrorTimeout).
		WithCode(http.StatusGatewayTimeout)
}

func TransportError(service, method, rawURL string, cause error) *goerrors.Error {
	return goerrors.Wrap(
		cause,
		goerrors.CategoryExternal,
		fmt.Sprintf("invoke: %s %s for service %s failed in transport", method, rawURL, strings.TrimSpace(service)),
	).
		WithTextCode(core.APIErrorTransport).
		WithCode(http.StatusBadGateway)
}

func IsRequestFailed(err error) bool { return hasTextCode(err, core.APIErrorRequestFailed) }
func IsTimeout(err error) bool       { return hasTextCode(err, core.APIErrorTimeout) }
func IsTransport(err error) bool     { return hasTextCode(err, core.APIErrorTransport) }

func hasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || richErr == nil {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(richErr.TextCode), textCode)
}

const maxErrorBodyBytes = 2048

func truncateBody(body []byte) string {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBodyBytes {
		text = text[:maxErrorBodyBytes]
	}
	return text
}
