package core

import (
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestAuthErrorConstructors(t *testing.T) {
	notAuth := NotAuthenticatedError("github", "u1")
	if notAuth.TextCode != AuthErrorNotAuthenticated {
		t.Fatalf("unexpected text code %q", notAuth.TextCode)
	}
	if notAuth.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected http code %d", notAuth.Code)
	}
	if !IsNotAuthenticated(notAuth) {
		t.Fatal("expected IsNotAuthenticated to match")
	}

	scope := InsufficientScopeError("github", []string{"admin"})
	if scope.TextCode != AuthErrorInsufficientScope || scope.Code != http.StatusForbidden {
		t.Fatalf("unexpected scope error: code=%d text=%q", scope.Code, scope.TextCode)
	}
	if !IsInsufficientScope(scope) {
		t.Fatal("expected IsInsufficientScope to match")
	}

	refresh := RefreshFailedError("github", "u1", fmt.Errorf("invalid_grant"))
	if !IsRefreshFailed(refresh) {
		t.Fatal("expected IsRefreshFailed to match")
	}

	exchange := TokenExchangeFailedError("github", fmt.Errorf("bad code"))
	if exchange.TextCode != AuthErrorTokenExchangeFailed {
		t.Fatalf("unexpected text code %q", exchange.TextCode)
	}

	for _, err := range []error{notAuth, scope, refresh, exchange} {
		if !IsAuthError(err) {
			t.Fatalf("expected auth error classification for %v", err)
		}
	}
	if IsAuthError(fmt.Errorf("plain")) {
		t.Fatal("plain errors are not auth errors")
	}
}

func TestBrokerErrorMapper(t *testing.T) {
	cases := []struct {
		name         string
		err          error
		wantCategory goerrors.Category
		wantTextCode string
	}{
		{
			name:         "credential_not_found",
			err:          fmt.Errorf("lookup: %w", ErrCredentialNotFound),
			wantCategory: goerrors.CategoryAuth,
			wantTextCode: AuthErrorNotAuthenticated,
		},
		{
			name:         "provider_not_registered",
			err:          fmt.Errorf("core: provider github not registered"),
			wantCategory: goerrors.CategoryNotFound,
			wantTextCode: BrokerErrorProviderNotFound,
		},
		{
			name:         "rate_limited",
			err:          fmt.Errorf("request throttled by provider"),
			wantCategory: goerrors.CategoryRateLimit,
			wantTextCode: BrokerErrorRateLimited,
		},
		{
			name:         "bad_input",
			err:          fmt.Errorf("core: service is required"),
			wantCategory: goerrors.CategoryBadInput,
			wantTextCode: BrokerErrorBadInput,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mapped := brokerErrorMapper(tc.err)
			if mapped == nil {
				t.Fatal("expected mapped error")
			}
			if mapped.Category != tc.wantCategory {
				t.Fatalf("expected category %s, got %s", tc.wantCategory, mapped.Category)
			}
			if mapped.TextCode != tc.wantTextCode {
				t.Fatalf("expected text code %q, got %q", tc.wantTextCode, mapped.TextCode)
			}
			if mapped.Code == 0 {
				t.Fatal("expected http code to be filled in")
			}
		})
	}
}

func TestBrokerErrorMapperPreservesRichErrors(t *testing.T) {
	original := goerrors.New("upstream exploded", goerrors.CategoryExternal)
	mapped := brokerErrorMapper(original)
	if mapped.Category != goerrors.CategoryExternal {
		t.Fatalf("expected category preserved, got %s", mapped.Category)
	}
	if mapped.TextCode != APIErrorRequestFailed {
		t.Fatalf("expected external default text code, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 envelope, got %d", mapped.Code)
	}
}

func TestBrokerErrorMapperNil(t *testing.T) {
	if brokerErrorMapper(nil) != nil {
		t.Fatal("nil input maps to nil")
	}
}
