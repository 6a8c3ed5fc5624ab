package core

import (
	"context"
	"net/http"
	"testing"
)

func TestBearerTokenSigner(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/v1/items", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}

	signer := BearerTokenSigner{}
	if err := signer.Sign(context.Background(), req, Credential{AccessToken: "tok-1"}); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer tok-1" {
		t.Fatalf("unexpected header %q", got)
	}

	if err := signer.Sign(context.Background(), req, Credential{}); err == nil {
		t.Fatal("expected error for empty token")
	}
	if err := signer.Sign(context.Background(), nil, Credential{AccessToken: "tok"}); err == nil {
		t.Fatal("expected error for nil request")
	}
}

func TestAPIKeySigner(t *testing.T) {
	cases := []struct {
		name       string
		signer     APIKeySigner
		wantHeader string
		wantValue  string
	}{
		{
			name:       "defaults_to_authorization_bare_key",
			signer:     APIKeySigner{},
			wantHeader: "Authorization",
			wantValue:  "key-1",
		},
		{
			name:       "custom_header_and_scheme",
			signer:     APIKeySigner{Header: "X-Api-Key", Scheme: "Token"},
			wantHeader: "X-Api-Key",
			wantValue:  "Token key-1",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, "https://api.example.com", nil)
			if err != nil {
				t.Fatalf("new request: %v", err)
			}
			if err := tc.signer.Sign(context.Background(), req, Credential{APIKey: "key-1"}); err != nil {
				t.Fatalf("Sign: %v", err)
			}
			if got := req.Header.Get(tc.wantHeader); got != tc.wantValue {
				t.Fatalf("expected %q, got %q", tc.wantValue, got)
			}
		})
	}

	if err := (APIKeySigner{}).Sign(context.Background(), nil, Credential{APIKey: "key"}); err == nil {
		t.Fatal("expected error for nil request")
	}
	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com", nil)
	if err := (APIKeySigner{}).Sign(context.Background(), req, Credential{}); err == nil {
		t.Fatal("expected error for missing key")
	}
}
