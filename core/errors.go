package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	AuthErrorNotAuthenticated    = "AUTH_NOT_AUTHENTICATED"
	AuthErrorInsufficientScope   = "AUTH_INSUFFICIENT_SCOPE"
	AuthErrorTokenExchangeFailed = "AUTH_TOKEN_EXCHANGE_FAILED"
	AuthErrorRefreshFailed       = "AUTH_REFRESH_FAILED"
	APIErrorRequestFailed        = "API_REQUEST_FAILED"
	APIErrorTimeout              = "API_TIMEOUT"
	APIErrorTransport            = "API_TRANSPORT_ERROR"
	BrokerErrorBadInput          = "BROKER_BAD_INPUT"
	BrokerErrorRateLimited       = "BROKER_RATE_LIMITED"
	BrokerErrorProviderNotFound  = "BROKER_PROVIDER_NOT_FOUND"
	BrokerErrorInternal          = "BROKER_INTERNAL_ERROR"
)

var ErrCredentialNotFound = errors.New("core: credential not found")

// NotAuthenticatedError is returned when no usable credential exists for a
// (service, user) pair. The message tells the caller how to remediate.
func NotAuthenticatedError(service, user string) *goerrors.Error {
	return ensureBrokerErrorEnvelope(
		goerrors.New(
			"core: no credential for service "+strings.TrimSpace(service)+" and user "+strings.TrimSpace(user)+"; run interactive authorization first",
			goerrors.CategoryAuth,
		).WithTextCode(AuthErrorNotAuthenticated),
	)
}

func InsufficientScopeError(service string, missing []string) *goerrors.Error {
	return ensureBrokerErrorEnvelope(
		goerrors.New(
			"core: stored credential for service "+strings.TrimSpace(service)+" is missing scopes: "+strings.Join(missing, " "),
			goerrors.CategoryAuthz,
		).WithTextCode(AuthErrorInsufficientScope).
			WithMetadata(map[string]any{"missing_scopes": append([]string(nil), missing...)}),
	)
}

func TokenExchangeFailedError(service string, cause error) *goerrors.Error {
	return ensureBrokerErrorEnvelope(
		goerrors.Wrap(cause, goerrors.CategoryAuth, "core: token exchange failed for service "+strings.TrimSpace(service)).
			WithTextCode(AuthErrorTokenExchangeFailed),
	)
}

func RefreshFailedError(service, user string, cause error) *goerrors.Error {
	return ensureBrokerErrorEnvelope(
		goerrors.Wrap(cause, goerrors.CategoryAuth, "core: refresh failed for service "+strings.TrimSpace(service)+" and user "+strings.TrimSpace(user)+"; re-authorization required").
			WithTextCode(AuthErrorRefreshFailed),
	)
}

func IsNotAuthenticated(err error) bool  { return hasTextCode(err, AuthErrorNotAuthenticated) }
func IsInsufficientScope(err error) bool { return hasTextCode(err, AuthErrorInsufficientScope) }
func IsRefreshFailed(err error) bool     { return hasTextCode(err, AuthErrorRefreshFailed) }

// IsAuthError reports whether the caller must re-authenticate or request
// broader scopes, as opposed to the upstream service failing.
func IsAuthError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	switch strings.TrimSpace(strings.ToUpper(richErr.TextCode)) {
	case AuthErrorNotAuthenticated, AuthErrorInsufficientScope, AuthErrorTokenExchangeFailed, AuthErrorRefreshFailed:
		return true
	}
	return false
}

func hasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(richErr.TextCode), textCode)
}

func brokerErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureBrokerErrorEnvelope(richErr)
	}

	if errors.Is(err, ErrCredentialNotFound) {
		return newBrokerError(err.Error(), goerrors.CategoryAuth, AuthErrorNotAuthenticated)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "provider") && strings.Contains(msg, "not registered"):
		return newBrokerError(err.Error(), goerrors.CategoryNotFound, BrokerErrorProviderNotFound)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newBrokerError(err.Error(), goerrors.CategoryRateLimit, BrokerErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newBrokerError(err.Error(), goerrors.CategoryBadInput, BrokerErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureBrokerErrorEnvelope(mapped)
}

func newBrokerError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureBrokerErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureBrokerErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = brokerHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultBrokerTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultBrokerTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return BrokerErrorBadInput
	case goerrors.CategoryNotFound:
		return BrokerErrorProviderNotFound
	case goerrors.CategoryAuth:
		return AuthErrorNotAuthenticated
	case goerrors.CategoryAuthz:
		return AuthErrorInsufficientScope
	case goerrors.CategoryRateLimit:
		return BrokerErrorRateLimited
	case goerrors.CategoryExternal:
		return APIErrorRequestFailed
	default:
		return BrokerErrorInternal
	}
}

func brokerHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
