package command

import (
	"context"
	"fmt"
	"testing"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/invoke"
)

type stubMutatingService struct {
	authorizeFn func(ctx context.Context, req core.AuthorizeRequest) (core.Credential, error)
	refreshFn   func(ctx context.Context, service, user string) (string, error)
	revokeFn    func(ctx context.Context, service, user string) error
	invokeFn    func(ctx context.Context, req invoke.Request) (invoke.Response, error)
}

func (s stubMutatingService) Authorize(ctx context.Context, req core.AuthorizeRequest) (core.Credential, error) {
	if s.authorizeFn == nil {
		return core.Credential{}, fmt.Errorf("authorize not stubbed")
	}
	return s.authorizeFn(ctx, req)
}

func (s stubMutatingService) Refresh(ctx context.Context, service, user string) (string, error) {
	if s.refreshFn == nil {
		return "", fmt.Errorf("refresh not stubbed")
	}
	return s.refreshFn(ctx, service, user)
}

func (s stubMutatingService) Revoke(ctx context.Context, service, user string) error {
	if s.revokeFn == nil {
		return fmt.Errorf("revoke not stubbed")
	}
	return s.revokeFn(ctx, service, user)
}

func (s stubMutatingService) Invoke(ctx context.Context, req invoke.Request) (invoke.Response, error) {
	if s.invokeFn == nil {
		return invoke.Response{}, fmt.Errorf("invoke not stubbed")
	}
	return s.invokeFn(ctx, req)
}

func TestAuthorizeCommand_ExecuteDelegatesAndStoresResult(t *testing.T) {
	expected := core.Credential{
		Service:     "github",
		UserID:      "u1",
		Kind:        core.CredentialKindOAuth2,
		AccessToken: "tok",
	}
	called := false

	svc := stubMutatingService{
		authorizeFn: func(_ context.Context, req core.AuthorizeRequest) (core.Credential, error) {
			called = true
			if req.Service != "github" || req.User != "u1" {
				t.Fatalf("unexpected authorize request: %#v", req)
			}
			return expected, nil
		},
	}

	cmd := NewAuthorizeCommand(svc)
	collector := gocmd.NewResult[core.Credential]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, AuthorizeMessage{Request: core.AuthorizeRequest{
		Service:   "github",
		User:      "u1",
		OnAuthURL: func(string) error { return nil },
	}})
	if err != nil {
		t.Fatalf("execute authorize: %v", err)
	}
	if !called {
		t.Fatalf("expected authorize service invocation")
	}
	result, ok := collector.Load()
	if !ok {
		t.Fatalf("expected result to be stored")
	}
	if result.AccessToken != expected.AccessToken {
		t.Fatalf("unexpected result: %#v", result)
	}
}

func TestRefreshCommand_ExecuteStoresToken(t *testing.T) {
	svc := stubMutatingService{
		refreshFn: func(_ context.Context, service, user string) (string, error) {
			if service != "github" || user != "u1" {
				t.Fatalf("unexpected refresh payload: %q %q", service, user)
			}
			return "new-token", nil
		},
	}

	cmd := NewRefreshCommand(svc)
	collector := gocmd.NewResult[string]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	if err := cmd.Execute(ctx, RefreshMessage{Service: "github", User: "u1"}); err != nil {
		t.Fatalf("execute refresh: %v", err)
	}
	token, ok := collector.Load()
	if !ok {
		t.Fatalf("expected refresh result")
	}
	if token != "new-token" {
		t.Fatalf("unexpected token: %q", token)
	}
}

func TestRevokeCommand_ExecuteDelegates(t *testing.T) {
	called := false
	svc := stubMutatingService{
		revokeFn: func(_ context.Context, service, user string) error {
			called = true
			if service != "slack" || user != "u2" {
				t.Fatalf("unexpected revoke payload: %q %q", service, user)
			}
			return nil
		},
	}
	cmd := NewRevokeCommand(svc)
	if err := cmd.Execute(context.Background(), RevokeMessage{Service: "slack", User: "u2"}); err != nil {
		t.Fatalf("execute revoke: %v", err)
	}
	if !called {
		t.Fatalf("expected revoke invocation")
	}
}

func TestInvokeCommand_ExecuteStoresResponse(t *testing.T) {
	expected := invoke.Response{StatusCode: 200, Body: []byte(`{"ok":true}`)}
	svc := stubMutatingService{
		invokeFn: func(_ context.Context, req invoke.Request) (invoke.Response, error) {
			if req.Method != "GET" {
				t.Fatalf("unexpected method %q", req.Method)
			}
			return expected, nil
		},
	}

	cmd := NewInvokeCommand(svc)
	collector := gocmd.NewResult[invoke.Response]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)

	err := cmd.Execute(ctx, InvokeMessage{Request: invoke.Request{
		Service: "github",
		User:    "u1",
		Method:  "GET",
		URL:     "https://api.example.com/user",
	}})
	if err != nil {
		t.Fatalf("execute invoke: %v", err)
	}
	stored, ok := collector.Load()
	if !ok {
		t.Fatalf("expected invoke result")
	}
	if stored.StatusCode != expected.StatusCode {
		t.Fatalf("unexpected response: %#v", stored)
	}
}

func TestCommands_RequireService(t *testing.T) {
	if err := (&AuthorizeCommand{}).Execute(context.Background(), AuthorizeMessage{}); err == nil {
		t.Fatalf("expected dependency error for authorize")
	}
	if err := (&RefreshCommand{}).Execute(context.Background(), RefreshMessage{}); err == nil {
		t.Fatalf("expected dependency error for refresh")
	}
	if err := (&RevokeCommand{}).Execute(context.Background(), RevokeMessage{}); err == nil {
		t.Fatalf("expected dependency error for revoke")
	}
	if err := (&InvokeCommand{}).Execute(context.Background(), InvokeMessage{}); err == nil {
		t.Fatalf("expected dependency error for invoke")
	}
}

func TestMessages_Validate(t *testing.T) {
	cases := []struct {
		name    string
		message interface{ Validate() error }
		wantErr bool
	}{
		{"authorize ok", AuthorizeMessage{Request: core.AuthorizeRequest{Service: "github", User: "u1", OnAuthURL: func(string) error { return nil }}}, false},
		{"authorize missing service", AuthorizeMessage{Request: core.AuthorizeRequest{User: "u1", OnAuthURL: func(string) error { return nil }}}, true},
		{"authorize missing callback", AuthorizeMessage{Request: core.AuthorizeRequest{Service: "github", User: "u1"}}, true},
		{"refresh ok", RefreshMessage{Service: "github", User: "u1"}, false},
		{"refresh missing user", RefreshMessage{Service: "github"}, true},
		{"revoke missing service", RevokeMessage{User: "u1"}, true},
		{"invoke ok", InvokeMessage{Request: invoke.Request{Service: "github", User: "u1", Method: "GET", URL: "https://api.example.com"}}, false},
		{"invoke missing url", InvokeMessage{Request: invoke.Request{Service: "github", User: "u1", Method: "GET"}}, true},
		{"invoke missing method", InvokeMessage{Request: invoke.Request{Service: "github", User: "u1", URL: "https://api.example.com"}}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.message.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}
