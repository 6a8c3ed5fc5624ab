package memorystore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-connectors/core"
)

func sampleCredential(service, user string) core.Credential {
	expiresAt := time.Now().UTC().Add(time.Hour)
	return core.Credential{
		Service:      service,
		UserID:       user,
		Kind:         core.CredentialKindOAuth2,
		TokenType:    "bearer",
		AccessToken:  "access-" + user,
		RefreshToken: "refresh-" + user,
		Scopes:       []string{"read"},
		ExpiresAt:    &expiresAt,
	}
}

func TestStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := New()

	if _, err := store.Get(ctx, "github", "user-1"); !errors.Is(err, core.ErrCredentialNotFound) {
		t.Fatalf("Get() on empty store error = %v, want ErrCredentialNotFound", err)
	}

	if err := store.Put(ctx, sampleCredential("github", "user-1")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, "GitHub", "user-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.AccessToken != "access-user-1" {
		t.Fatalf("AccessToken = %q, want access-user-1", got.AccessToken)
	}

	if err := store.Delete(ctx, "github", "user-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if err := store.Delete(ctx, "github", "user-1"); !errors.Is(err, core.ErrCredentialNotFound) {
		t.Fatalf("Delete() on missing error = %v, want ErrCredentialNotFound", err)
	}
}

func TestStoreGetReturnsClone(t *testing.T) {
	ctx := context.Background()
	store := New()
	credential := sampleCredential("github", "user-1")
	credential.Raw = map[string]any{"instance_url": "https://a.example"}
	if err := store.Put(ctx, credential); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	first, err := store.Get(ctx, "github", "user-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	first.Raw["instance_url"] = "mutated"
	first.Scopes[0] = "mutated"

	second, err := store.Get(ctx, "github", "user-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if second.Raw["instance_url"] != "https://a.example" {
		t.Fatalf("stored raw mutated through returned copy: %v", second.Raw)
	}
	if second.Scopes[0] != "read" {
		t.Fatalf("stored scopes mutated through returned copy: %v", second.Scopes)
	}
}

func TestStorePutValidates(t *testing.T) {
	if err := New().Put(context.Background(), core.Credential{Service: "github"}); err == nil {
		t.Fatal("expected validation error for credential without user")
	}
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	store := New()
	for _, user := range []string{"user-b", "user-a"} {
		if err := store.Put(ctx, sampleCredential("github", user)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	listed, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("List() returned %d credentials, want 2", len(listed))
	}
	if listed[0].UserID != "user-a" || listed[1].UserID != "user-b" {
		t.Fatalf("List() order = %q, %q", listed[0].UserID, listed[1].UserID)
	}
}
