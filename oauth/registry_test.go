package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/goliatone/go-connectors/core"
)

func testDefinition(service, tokenURL string) Definition {
	return Definition{
		Service: service,
		Kind:    core.CredentialKindOAuth2,
		OAuth:   testOAuthConfig(tokenURL),
	}
}

func TestServiceRefreshBuildsCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-2",
			"token_type":   "Bearer",
			"expires_in":   120,
			"scope":        "read",
			"instance_url": "https://na1.example.com",
		})
	}))
	defer server.Close()

	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	engine := NewEngine(WithClock(func() time.Time { return now }))
	service, err := NewService(testDefinition("Salesforce", server.URL), engine)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	refreshed, err := service.Refresh(context.Background(), core.Credential{
		Service:      "salesforce",
		UserID:       "u1",
		Kind:         core.CredentialKindOAuth2,
		RefreshToken: "refresh-1",
		Scopes:       []string{"read"},
	})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.Service != "salesforce" || refreshed.UserID != "u1" {
		t.Fatalf("identity mismatch: %+v", refreshed)
	}
	if refreshed.AccessToken != "access-2" {
		t.Fatalf("unexpected access token %q", refreshed.AccessToken)
	}
	if refreshed.TokenType != "bearer" {
		t.Fatalf("expected normalized token type, got %q", refreshed.TokenType)
	}
	if refreshed.ExpiresAt == nil || !refreshed.ExpiresAt.Equal(now.Add(2*time.Minute)) {
		t.Fatalf("expected expiry from expires_in, got %v", refreshed.ExpiresAt)
	}
	if refreshed.Raw["instance_url"] != "https://na1.example.com" {
		t.Fatalf("expected nonstandard field in raw, got %v", refreshed.Raw)
	}
	if _, standard := refreshed.Raw["access_token"]; standard {
		t.Fatal("standard fields must not leak into raw")
	}
}

func TestServiceExchangeCodeDefaultTTL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
		})
	}))
	defer server.Close()

	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	engine := NewEngine(WithClock(func() time.Time { return now }))
	service, err := NewService(testDefinition("github", server.URL), engine)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	cred, err := service.ExchangeCode(context.Background(), "u1", "code-1", "", []string{"repo"})
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if cred.ExpiresAt == nil || !cred.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected default one hour ttl, got %v", cred.ExpiresAt)
	}
	if len(cred.Scopes) != 1 || cred.Scopes[0] != "repo" {
		t.Fatalf("expected requested scopes fallback, got %v", cred.Scopes)
	}
}

func TestServiceExchangeCodeWrapsErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant"})
	}))
	defer server.Close()

	service, err := NewService(testDefinition("github", server.URL), NewEngine())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	_, err = service.ExchangeCode(context.Background(), "u1", "code-1", "", nil)
	if err == nil {
		t.Fatal("expected exchange error")
	}
	if !core.IsAuthError(err) {
		t.Fatalf("expected token-exchange auth error, got %v", err)
	}
}

func TestServiceAuthorizationURLWithPKCE(t *testing.T) {
	def := testDefinition("klaviyo", "https://example.com/token")
	def.UsePKCE = true
	service, err := NewService(def, NewEngine())
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if _, err := service.AuthorizationURL(nil, "state-1", ""); err == nil {
		t.Fatal("expected error when verifier is missing")
	}

	authURL, err := service.AuthorizationURL(nil, "state-1", "verifier-1")
	if err != nil {
		t.Fatalf("AuthorizationURL: %v", err)
	}
	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	if parsed.Query().Get("code_challenge") != PKCEChallenge("verifier-1") {
		t.Fatal("expected S256 challenge in auth url")
	}
	if strings.Contains(authURL, "verifier-1") {
		t.Fatal("verifier must never appear in the auth url")
	}
}

func TestRegistry(t *testing.T) {
	engine := NewEngine()
	registry, err := NewRegistry(engine,
		testDefinition("github", "https://example.com/token"),
		Definition{Service: "sendgrid", Kind: core.CredentialKindAPIKey, APIKeyHeader: "Authorization"},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	if _, ok := registry.Get("GITHUB"); !ok {
		t.Fatal("lookup should be case-insensitive")
	}
	if _, ok := registry.Get("missing"); ok {
		t.Fatal("unexpected hit")
	}
	if got := len(registry.List()); got != 2 {
		t.Fatalf("expected 2 services, got %d", got)
	}

	target := core.NewProviderRegistry()
	if err := registry.Apply(target); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := target.Get("github"); !ok {
		t.Fatal("expected provider registered with core registry")
	}

	if _, err := NewRegistry(engine,
		testDefinition("github", "https://example.com/token"),
		testDefinition("github", "https://example.com/token"),
	); err == nil {
		t.Fatal("expected duplicate definition error")
	}
}

func TestDefinitionValidate(t *testing.T) {
	cases := []struct {
		name    string
		def     Definition
		wantErr bool
	}{
		{name: "valid_oauth", def: testDefinition("github", "https://example.com/token")},
		{name: "valid_api_key", def: Definition{Service: "sendgrid", Kind: core.CredentialKindAPIKey}},
		{name: "missing_service", def: Definition{Kind: core.CredentialKindAPIKey}, wantErr: true},
		{name: "bad_kind", def: Definition{Service: "x", Kind: "basic"}, wantErr: true},
		{name: "oauth_missing_token_url", def: Definition{Service: "x", Kind: core.CredentialKindOAuth2, OAuth: core.OAuthConfig{ClientID: "c", AuthorizeURL: "https://a"}}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.def.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
