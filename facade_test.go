package connectors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	glog "github.com/goliatone/go-logger/glog"

	connectorscommand "github.com/goliatone/go-connectors/command"
	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/invoke"
	memorystore "github.com/goliatone/go-connectors/store/memory"
)

func newTestFacade(t *testing.T, store core.CredentialStore) *Facade {
	t.Helper()

	broker, err := core.NewBroker(core.Config{},
		core.WithCredentialStore(store),
		core.WithLogger(glog.Nop()),
	)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	invoker, err := invoke.NewInvoker(broker, invoke.WithLogger(glog.Nop()))
	if err != nil {
		t.Fatalf("new invoker: %v", err)
	}
	facade, err := NewFacade(broker, invoker, nil)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	return facade
}

func TestNewFacade_WiresCommands(t *testing.T) {
	facade := newTestFacade(t, memorystore.New())

	commands := facade.Commands()
	if commands.Authorize == nil || commands.Refresh == nil || commands.Revoke == nil || commands.Invoke == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	if facade.Broker() == nil {
		t.Fatalf("expected broker accessor")
	}
}

func TestNewFacade_RequiresBrokerAndInvoker(t *testing.T) {
	if _, err := NewFacade(nil, nil, nil); err == nil {
		t.Fatalf("expected error for missing broker")
	}

	store := memorystore.New()
	broker, err := core.NewBroker(core.Config{},
		core.WithCredentialStore(store),
		core.WithLogger(glog.Nop()),
	)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	if _, err := NewFacade(broker, nil, nil); err == nil {
		t.Fatalf("expected error for missing invoker")
	}
}

func TestFacade_APIKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	store := memorystore.New()
	facade := newTestFacade(t, store)

	if err := store.Put(ctx, core.Credential{
		Service: "slack",
		UserID:  "u1",
		Kind:    core.CredentialKindAPIKey,
		APIKey:  "xoxb-stored",
	}); err != nil {
		t.Fatalf("seed credential: %v", err)
	}

	key, err := facade.GetAPIKey(ctx, "slack", "u1", "")
	if err != nil {
		t.Fatalf("get api key: %v", err)
	}
	if key != "xoxb-stored" {
		t.Fatalf("unexpected api key %q", key)
	}

	if key, err = facade.GetAPIKey(ctx, "slack", "u1", "xoxb-override"); err != nil || key != "xoxb-override" {
		t.Fatalf("expected override to win, got %q err %v", key, err)
	}

	if err := facade.Revoke(ctx, "slack", "u1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := facade.GetAPIKey(ctx, "slack", "u1", ""); !core.IsNotAuthenticated(err) {
		t.Fatalf("expected not-authenticated after revoke, got %v", err)
	}
	// revoking again stays a no-op
	if err := facade.Revoke(ctx, "slack", "u1"); err != nil {
		t.Fatalf("repeat revoke: %v", err)
	}
}

func TestFacade_InvokeSignsWithStoredToken(t *testing.T) {
	ctx := context.Background()
	store := memorystore.New()
	facade := newTestFacade(t, store)

	expiresAt := time.Now().Add(time.Hour).UTC()
	if err := store.Put(ctx, core.Credential{
		Service:     "github",
		UserID:      "u1",
		Kind:        core.CredentialKindOAuth2,
		TokenType:   "Bearer",
		AccessToken: "stored-token",
		ExpiresAt:   &expiresAt,
	}); err != nil {
		t.Fatalf("seed credential: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer stored-token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	res, err := facade.Invoke(ctx, invoke.Request{
		Service: "github",
		User:    "u1",
		Method:  http.MethodGet,
		URL:     server.URL,
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", res.StatusCode)
	}
	if string(res.Body) != `{"ok":true}` {
		t.Fatalf("unexpected body %q", string(res.Body))
	}
}

func TestFacade_InvokeErrorReturnsZeroResponse(t *testing.T) {
	ctx := context.Background()
	facade := newTestFacade(t, memorystore.New())

	res, err := facade.Invoke(ctx, invoke.Request{
		Service: "github",
		User:    "missing",
		Method:  http.MethodGet,
		URL:     "http://127.0.0.1:0/never",
	})
	if err == nil {
		t.Fatal("expected error for missing credential")
	}
	if !core.IsNotAuthenticated(err) {
		t.Fatalf("unexpected error %v", err)
	}
	if res.StatusCode != 0 || res.Body != nil {
		t.Fatalf("expected zero response, got %+v", res)
	}
}

func TestFacade_CommandDelegation(t *testing.T) {
	ctx := context.Background()
	store := memorystore.New()
	facade := newTestFacade(t, store)

	if err := store.Put(ctx, core.Credential{
		Service: "slack",
		UserID:  "u1",
		Kind:    core.CredentialKindAPIKey,
		APIKey:  "xoxb-stored",
	}); err != nil {
		t.Fatalf("seed credential: %v", err)
	}

	if err := facade.Commands().Revoke.Execute(ctx, connectorscommand.RevokeMessage{
		Service: "slack",
		User:    "u1",
	}); err != nil {
		t.Fatalf("execute revoke command: %v", err)
	}
	if _, err := facade.GetAPIKey(ctx, "slack", "u1", ""); !core.IsNotAuthenticated(err) {
		t.Fatalf("expected revoked credential, got %v", err)
	}
}

func TestFacade_AuthorizeRequiresRegistry(t *testing.T) {
	facade := newTestFacade(t, memorystore.New())

	_, err := facade.Authorize(context.Background(), core.AuthorizeRequest{
		Service:   "github",
		User:      "u1",
		OnAuthURL: func(string) error { return nil },
	})
	if err == nil {
		t.Fatalf("expected error when no oauth registry is configured")
	}
}
