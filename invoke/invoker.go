package invoke

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-connectors/core"
)

// TokenSource is the credential capability the invoker needs. *core.Broker
// satisfies it.
type TokenSource interface {
	GetAccessToken(ctx context.Context, req core.TokenRequest) (string, error)
	GetAPIKey(ctx context.Context, service, user, override string) (string, error)
	ForceRefresh(ctx context.Context, service, user string) (string, error)
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Request describes one upstream call. Body is a byte slice, not a reader, so
// retries can replay it.
type Request struct {
	Service string
	User    string
	Method  string
	URL     string
	Header  http.Header
	Query   url.Values
	Body    []byte

	Kind           core.CredentialKind
	OverrideAPIKey string
	RequiredScopes []string
	APIKeyHeader   string
	APIKeyScheme   string

	// Idempotent marks the request safe to retry after a transport failure
	// where the upstream may have partially processed it. GET and HEAD are
	// treated as idempotent regardless.
	Idempotent bool

	Policy          *RetryPolicy
	RateLimitBucket string
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type Invoker struct {
	tokens          TokenSource
	httpClient      HTTPDoer
	policy          RetryPolicy
	rateLimit       core.RateLimitPolicy
	logger          core.Logger
	metricsRecorder core.MetricsRecorder
	bearerSigner    core.Signer
}

type InvokerOption func(*Invoker)

func WithHTTPClient(client HTTPDoer) InvokerOption {
	return func(inv *Invoker) {
		if client != nil {
			inv.httpClient = client
		}
	}
}

func WithRetryPolicy(policy RetryPolicy) InvokerOption {
	return func(inv *Invoker) {
		inv.policy = policy
	}
}

func WithRateLimitPolicy(policy core.RateLimitPolicy) InvokerOption {
	return func(inv *Invoker) {
		inv.rateLimit = policy
	}
}

func WithLogger(logger core.Logger) InvokerOption {
	return func(inv *Invoker) {
		if logger != nil {
			inv.logger = logger
		}
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) InvokerOption {
	return func(inv *Invoker) {
		if recorder != nil {
			inv.metricsRecorder = recorder
		}
	}
}

func NewInvoker(tokens TokenSource, options ...InvokerOption) (*Invoker, error) {
	if tokens == nil {
		return nil, fmt.Errorf("invoke: token source is required")
	}
	inv := &Invoker{
		tokens:          tokens,
		httpClient:      &http.Client{},
		policy:          DefaultRetryPolicy(),
		metricsRecorder: core.NopMetricsRecorder{},
		bearerSigner:    core.BearerTokenSigner{},
	}
	for _, option := range options {
		if option != nil {
			option(inv)
		}
	}
	inv.logger = glog.Ensure(inv.logger)
	inv.policy = inv.policy.normalized()
	return inv, nil
}

// Do performs the request with retries. Retryable responses and transport
// failures are retried with exponential backoff up to the policy's attempt
// budget; a 401 or 403 on an OAuth2-backed request triggers exactly one
// forced refresh and one extra attempt that does not consume the budget.
func (inv *Invoker) Do(ctx context.Context, req Request) (res *Response, err error) {
	if inv == nil {
		return nil, fmt.Errorf("invoke: invoker is not initialized")
	}

	startedAt := time.Now()
	fields := map[string]any{
		"service": strings.TrimSpace(strings.ToLower(req.Service)),
		"user_id": strings.TrimSpace(req.User),
		"method":  strings.ToUpper(strings.TrimSpace(req.Method)),
		"url":     req.URL,
	}
	defer func() {
		inv.observeInvoke(ctx, startedAt, err, fields)
	}()

	if err = validateRequest(req); err != nil {
		return nil, err
	}

	policy := inv.policy
	if req.Policy != nil {
		policy = req.Policy.normalized()
	}
	kind := req.Kind
	if kind == "" {
		kind = core.CredentialKindOAuth2
	}

	rateKey := core.RateLimitKey{
		Service:   req.Service,
		UserID:    req.User,
		BucketKey: req.RateLimitBucket,
	}

	refreshed := false
	attempt := 0
	for {
		if err = inv.beforeCall(ctx, rateKey); err != nil {
			return nil, err
		}

		var token string
		token, err = inv.resolveToken(ctx, req, kind)
		if err != nil {
			return nil, err
		}

		var httpReq *http.Request
		httpReq, err = inv.buildHTTPRequest(ctx, req, kind, token)
		if err != nil {
			return nil, err
		}

		var httpRes *http.Response
		httpRes, err = inv.httpClient.Do(httpReq)
		if err != nil {
			if isTimeoutError(ctx, err) {
				err = TimeoutError(req.Service, req.Method, req.URL, err)
				return nil, err
			}
			if requestIsIdempotent(req) && attempt+1 < policy.MaxAttempts {
				if waitErr := core.WaitWithContext(ctx, policy.Delay(attempt)); waitErr != nil {
					err = backoffWaitError(req, waitErr)
					return nil, err
				}
				attempt++
				continue
			}
			err = TransportError(req.Service, req.Method, req.URL, err)
			return nil, err
		}

		var body []byte
		body, err = readResponseBody(httpRes)
		if err != nil {
			err = TransportError(req.Service, req.Method, req.URL, err)
			return nil, err
		}

		inv.afterCall(ctx, rateKey, httpRes, fields)
		fields["status_code"] = httpRes.StatusCode
		fields["attempts"] = attempt + 1

		if httpRes.StatusCode >= 200 && httpRes.StatusCode < 300 {
			return &Response{
				StatusCode: httpRes.StatusCode,
				Header:     httpRes.Header.Clone(),
				Body:       body,
			}, nil
		}

		if isAuthStatus(httpRes.StatusCode) && kind == core.CredentialKindOAuth2 && !refreshed && req.OverrideAPIKey == "" {
			if _, refreshErr := inv.tokens.ForceRefresh(ctx, req.Service, req.User); refreshErr != nil {
				err = refreshErr
				return nil, err
			}
			refreshed = true
			continue
		}

		if policy.retryableStatus(httpRes.StatusCode) && attempt+1 < policy.MaxAttempts {
			if waitErr := core.WaitWithContext(ctx, policy.Delay(attempt)); waitErr != nil {
				err = backoffWaitError(req, waitErr)
				return nil, err
			}
			attempt++
			continue
		}

		err = RequestFailedError(req.Service, req.Method, req.URL, httpRes.StatusCode, body)
		return nil, err
	}
}

func (inv *Invoker) resolveToken(ctx context.Context, req Request, kind core.CredentialKind) (string, error) {
	if kind == core.CredentialKindAPIKey {
		return inv.tokens.GetAPIKey(ctx, req.Service, req.User, req.OverrideAPIKey)
	}
	return inv.tokens.GetAccessToken(ctx, core.TokenRequest{
		Service:        req.Service,
		User:           req.User,
		RequiredScopes: req.RequiredScopes,
	})
}

func (inv *Invoker) buildHTTPRequest(ctx context.Context, req Request, kind core.CredentialKind, token string) (*http.Request, error) {
	target := req.URL
	if len(req.Query) > 0 {
		parsed, err := url.Parse(req.URL)
		if err != nil {
			return nil, fmt.Errorf("invoke: invalid request url: %w", err)
		}
		query := parsed.Query()
		for key, values := range req.Query {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		parsed.RawQuery = query.Encode()
		target = parsed.String()
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, strings.ToUpper(strings.TrimSpace(req.Method)), target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("invoke: building request failed: %w", err)
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}

	if kind == core.CredentialKindAPIKey {
		signer := core.APIKeySigner{Header: req.APIKeyHeader, Scheme: req.APIKeyScheme}
		return httpReq, signer.Sign(ctx, httpReq, core.Credential{APIKey: token})
	}
	return httpReq, inv.bearerSigner.Sign(ctx, httpReq, core.Credential{AccessToken: token})
}

func (inv *Invoker) beforeCall(ctx context.Context, key core.RateLimitKey) error {
	if inv.rateLimit == nil {
		return nil
	}
	return inv.rateLimit.BeforeCall(ctx, key)
}

func (inv *Invoker) afterCall(ctx context.Context, key core.RateLimitKey, res *http.Response, fields map[string]any) {
	if inv.rateLimit == nil || res == nil {
		return
	}
	meta := core.ResponseMeta{
		StatusCode: res.StatusCode,
		Headers:    flattenHeader(res.Header),
	}
	if err := inv.rateLimit.AfterCall(ctx, key, meta); err != nil {
		inv.logWithLevel(ctx, "error", "rate limit state update failed", map[string]any{
			"service": key.Service,
			"user_id": key.UserID,
			"error":   err.Error(),
		})
	}
}

func (inv *Invoker) observeInvoke(ctx context.Context, startedAt time.Time, err error, fields map[string]any) {
	status := "success"
	if err != nil {
		status = "failure"
	}

	contextFields := make(map[string]any, len(fields)+4)
	for key, value := range fields {
		contextFields[key] = value
	}
	contextFields["event_type"] = "invoke"
	contextFields["status"] = status
	contextFields["duration_ms"] = time.Since(startedAt).Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
	}

	tags := map[string]string{
		"operation": "invoke",
		"status":    status,
	}
	for _, key := range []string{"service", "user_id"} {
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	if inv.metricsRecorder != nil {
		inv.metricsRecorder.IncCounter(ctx, "connectors.invoke.total", 1, tags)
		inv.metricsRecorder.ObserveHistogram(ctx, "connectors.invoke.duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)
	}

	if err != nil {
		inv.logWithLevel(ctx, "error", "invoke failed", contextFields)
		return
	}
	inv.logWithLevel(ctx, "info", "invoke succeeded", contextFields)
}

func (inv *Invoker) logWithLevel(ctx context.Context, level string, message string, fields map[string]any) {
	if inv.logger == nil {
		return
	}
	logger := inv.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(core.FieldsLogger); ok {
		logger = fieldsLogger.WithFields(fields)
	}
	args := flattenLogFields(fields)
	switch level {
	case "error":
		logger.Error(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.Service) == "" {
		return fmt.Errorf("invoke: service is required")
	}
	if strings.TrimSpace(req.User) == "" {
		return fmt.Errorf("invoke: user is required")
	}
	if strings.TrimSpace(req.Method) == "" {
		return fmt.Errorf("invoke: method is required")
	}
	if strings.TrimSpace(req.URL) == "" {
		return fmt.Errorf("invoke: url is required")
	}
	return nil
}

func requestIsIdempotent(req Request) bool {
	if req.Idempotent {
		return true
	}
	switch strings.ToUpper(strings.TrimSpace(req.Method)) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isAuthStatus(statusCode int) bool {
	return statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden
}

// backoffWaitError classifies a context error raised during a backoff wait.
// Only a deadline is a timeout; plain cancellation propagates as-is so the
// caller sees context.Canceled instead of a fabricated upstream timeout.
func backoffWaitError(req Request, waitErr error) error {
	if errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	return TimeoutError(req.Service, req.Method, req.URL, waitErr)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout()
	}
	return false
}

func readResponseBody(res *http.Response) ([]byte, error) {
	if res == nil || res.Body == nil {
		return nil, nil
	}
	defer res.Body.Close()
	return io.ReadAll(res.Body)
}

func flattenHeader(header http.Header) map[string]string {
	if len(header) == 0 {
		return nil
	}
	flat := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		flat[key] = values[0]
	}
	return flat
}

func flattenLogFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}
