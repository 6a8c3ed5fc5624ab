package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
)

const (
	defaultTokenRequestTimeout = 30 * time.Second
	defaultTokenTTL            = time.Hour
	maxTokenResponseBodyBytes  = 1 << 20 // 1 MiB
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Hooks let a service definition bend the generic flow without a bespoke
// provider type. All hooks are optional.
type Hooks struct {
	// AuthParams contributes extra authorization-URL query parameters
	// (audience, prompt, PKCE challenge material).
	AuthParams func(cfg core.OAuthConfig, redirectURI string, scopes []string, state string) url.Values
	// TokenBody rewrites the token-endpoint form before it is sent.
	TokenBody func(cfg core.OAuthConfig, form url.Values) url.Values
	// NormalizeToken adjusts the parsed token response (non-standard field
	// names, implied TTLs).
	NormalizeToken func(payload core.TokenPayload) core.TokenPayload
}

// Engine runs the OAuth2 wire exchanges. It is stateless per call and safe
// for concurrent use; per-service behavior arrives via config and hooks.
type Engine struct {
	httpClient HTTPDoer
	timeout    time.Duration
	now        func() time.Time
}

type EngineOption func(*Engine)

func WithHTTPClient(client HTTPDoer) EngineOption {
	return func(e *Engine) {
		e.httpClient = client
	}
}

func WithTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) {
		e.timeout = timeout
	}
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

func NewEngine(options ...EngineOption) *Engine {
	engine := &Engine{
		timeout: defaultTokenRequestTimeout,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(engine)
	}
	if engine.httpClient == nil {
		engine.httpClient = &http.Client{Timeout: engine.timeout}
	}
	return engine
}

// AuthorizationURL builds the user-facing consent URL. Pure string work, no
// network. Hook params and extra params are merged on top of the standard
// response_type/client_id/scope/redirect_uri/state set.
func (e *Engine) AuthorizationURL(cfg core.OAuthConfig, scopes []string, state string, hooks Hooks, extra url.Values) (string, error) {
	if e == nil {
		return "", fmt.Errorf("oauth: engine is nil")
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	state = strings.TrimSpace(state)
	if state == "" {
		return "", fmt.Errorf("oauth: state is required")
	}
	requested := core.NormalizeScopes(scopes)
	if len(requested) == 0 {
		requested = core.NormalizeScopes(cfg.DefaultScopes)
	}

	values := url.Values{}
	values.Set("response_type", "code")
	values.Set("client_id", cfg.ClientID)
	if redirectURI := strings.TrimSpace(cfg.RedirectURI); redirectURI != "" {
		values.Set("redirect_uri", redirectURI)
	}
	if len(requested) > 0 {
		values.Set("scope", strings.Join(requested, " "))
	}
	values.Set("state", state)

	if hooks.AuthParams != nil {
		for key, items := range hooks.AuthParams(cfg, cfg.RedirectURI, requested, state) {
			for _, item := range items {
				values.Set(key, item)
			}
		}
	}
	for key, items := range extra {
		for _, item := range items {
			values.Set(key, item)
		}
	}

	authURL := strings.TrimSpace(cfg.AuthorizeURL)
	if strings.Contains(authURL, "?") {
		return authURL + "&" + values.Encode(), nil
	}
	return authURL + "?" + values.Encode(), nil
}

// ExchangeCode trades an authorization code for the initial token payload.
// verifier carries the PKCE code_verifier when the flow used one.
func (e *Engine) ExchangeCode(ctx context.Context, cfg core.OAuthConfig, code, redirectURI, verifier string, hooks Hooks) (core.TokenPayload, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return core.TokenPayload{}, fmt.Errorf("oauth: authorization code is required")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if redirectURI = strings.TrimSpace(redirectURI); redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}
	if verifier = strings.TrimSpace(verifier); verifier != "" {
		form.Set("code_verifier", verifier)
	}
	return e.fetchToken(ctx, cfg, form, hooks)
}

// Refresh trades a refresh token for a new token payload.
func (e *Engine) Refresh(ctx context.Context, cfg core.OAuthConfig, refreshToken string, scopes []string, hooks Hooks) (core.TokenPayload, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return core.TokenPayload{}, fmt.Errorf("oauth: refresh token is required")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	if requested := core.NormalizeScopes(scopes); len(requested) > 0 {
		form.Set("scope", strings.Join(requested, " "))
	}
	return e.fetchToken(ctx, cfg, form, hooks)
}

// ClientCredentials runs the client_credentials grant for services that issue
// app-level tokens without a user consent step.
func (e *Engine) ClientCredentials(ctx context.Context, cfg core.OAuthConfig, scopes []string, hooks Hooks) (core.TokenPayload, error) {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	if requested := core.NormalizeScopes(scopes); len(requested) > 0 {
		form.Set("scope", strings.Join(requested, " "))
	}
	return e.fetchToken(ctx, cfg, form, hooks)
}

func (e *Engine) fetchToken(ctx context.Context, cfg core.OAuthConfig, form url.Values, hooks Hooks) (core.TokenPayload, error) {
	if e == nil {
		return core.TokenPayload{}, fmt.Errorf("oauth: engine is nil")
	}
	if e.httpClient == nil {
		return core.TokenPayload{}, fmt.Errorf("oauth: http client is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(cfg.TokenURL) == "" {
		return core.TokenPayload{}, fmt.Errorf("oauth: token url is required")
	}

	values := url.Values{}
	for key, items := range form {
		if strings.TrimSpace(key) == "" {
			continue
		}
		for _, item := range items {
			values.Add(key, strings.TrimSpace(item))
		}
	}
	values.Set("client_id", cfg.ClientID)
	if cfg.ClientSecretInBody && strings.TrimSpace(cfg.ClientSecret) != "" {
		values.Set("client_secret", strings.TrimSpace(cfg.ClientSecret))
	}
	if hooks.TokenBody != nil {
		values = hooks.TokenBody(cfg, values)
	}

	requestCtx := ctx
	cancel := func() {}
	if e.timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	defer cancel()

	httpReq, err := http.NewRequestWithContext(
		requestCtx,
		http.MethodPost,
		strings.TrimSpace(cfg.TokenURL),
		strings.NewReader(values.Encode()),
	)
	if err != nil {
		return core.TokenPayload{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")
	if !cfg.ClientSecretInBody && strings.TrimSpace(cfg.ClientSecret) != "" {
		httpReq.SetBasicAuth(cfg.ClientID, strings.TrimSpace(cfg.ClientSecret))
	}

	response, err := e.httpClient.Do(httpReq)
	if err != nil {
		return core.TokenPayload{}, fmt.Errorf("oauth: token request failed: %w", err)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxTokenResponseBodyBytes+1))
	if readErr != nil {
		return core.TokenPayload{}, fmt.Errorf("oauth: read token response: %w", readErr)
	}
	if int64(len(body)) > maxTokenResponseBodyBytes {
		return core.TokenPayload{}, fmt.Errorf("oauth: token response exceeds %d bytes", maxTokenResponseBodyBytes)
	}

	payload, parseErr := parseTokenPayload(body, response.Header.Get("Content-Type"))
	if parseErr != nil {
		return core.TokenPayload{}, fmt.Errorf("oauth: decode token response: %w", parseErr)
	}
	if hooks.NormalizeToken != nil {
		payload = hooks.NormalizeToken(payload)
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return core.TokenPayload{}, fmt.Errorf(
			"oauth: token endpoint error (%d): %s",
			response.StatusCode,
			describeTokenError(payload),
		)
	}
	if payload.ErrorCode != "" {
		return core.TokenPayload{}, fmt.Errorf("oauth: token endpoint error: %s", describeTokenError(payload))
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		return core.TokenPayload{}, fmt.Errorf("oauth: token endpoint response missing access token")
	}
	return payload, nil
}

func describeTokenError(payload core.TokenPayload) string {
	if strings.TrimSpace(payload.ErrorDescription) != "" {
		return strings.TrimSpace(payload.ErrorDescription)
	}
	if strings.TrimSpace(payload.ErrorCode) != "" {
		return strings.TrimSpace(payload.ErrorCode)
	}
	return "unknown error"
}

func parseTokenPayload(body []byte, contentType string) (core.TokenPayload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if strings.Contains(contentType, "json") {
		return parseTokenPayloadJSON(body)
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") || strings.Contains(contentType, "text/plain") {
		return parseTokenPayloadForm(body)
	}
	if payload, err := parseTokenPayloadJSON(body); err == nil {
		return payload, nil
	}
	return parseTokenPayloadForm(body)
}

func parseTokenPayloadJSON(body []byte) (core.TokenPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return core.TokenPayload{}, fmt.Errorf("empty payload")
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		return core.TokenPayload{}, err
	}
	raw := make(map[string]any, len(decoded))
	for key, value := range decoded {
		raw[key] = value
	}
	return core.TokenPayload{
		AccessToken:      readAnyString(decoded["access_token"]),
		TokenType:        readAnyString(decoded["token_type"]),
		RefreshToken:     readAnyString(decoded["refresh_token"]),
		Scope:            readAnyString(decoded["scope"]),
		ExpiresIn:        readAnyInt64(decoded["expires_in"]),
		ErrorCode:        readAnyString(decoded["error"]),
		ErrorDescription: readAnyString(decoded["error_description"]),
		Raw:              raw,
	}, nil
}

func parseTokenPayloadForm(body []byte) (core.TokenPayload, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return core.TokenPayload{}, fmt.Errorf("empty payload")
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return core.TokenPayload{}, err
	}
	raw := make(map[string]any, len(values))
	for key := range values {
		raw[key] = values.Get(key)
	}
	expiresIn, _ := strconv.ParseInt(strings.TrimSpace(values.Get("expires_in")), 10, 64)
	return core.TokenPayload{
		AccessToken:      strings.TrimSpace(values.Get("access_token")),
		TokenType:        strings.TrimSpace(values.Get("token_type")),
		RefreshToken:     strings.TrimSpace(values.Get("refresh_token")),
		Scope:            strings.TrimSpace(values.Get("scope")),
		ExpiresIn:        expiresIn,
		ErrorCode:        strings.TrimSpace(values.Get("error")),
		ErrorDescription: strings.TrimSpace(values.Get("error_description")),
		Raw:              raw,
	}, nil
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return strings.TrimSpace(typed.String())
	case fmt.Stringer:
		return strings.TrimSpace(typed.String())
	default:
		if value == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(value))
	}
}

func readAnyInt64(value any) int64 {
	switch typed := value.(type) {
	case int:
		return int64(typed)
	case int64:
		return typed
	case float64:
		return int64(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err == nil {
			return parsed
		}
		floatParsed, floatErr := typed.Float64()
		if floatErr == nil {
			return int64(floatParsed)
		}
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64)
		if err == nil {
			return parsed
		}
	}
	return 0
}

func normalizeTokenType(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "bearer"
	}
	return normalized
}
