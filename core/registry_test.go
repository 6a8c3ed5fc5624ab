package core

import "testing"

func TestProviderRegistry(t *testing.T) {
	registry := NewProviderRegistry()
	github := &countingProvider{service: "GitHub"}
	klaviyo := &countingProvider{service: "klaviyo"}

	if err := registry.Register(github); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := registry.Register(klaviyo); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := registry.Register(&countingProvider{service: "github"}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := registry.Register(nil); err == nil {
		t.Fatal("expected nil provider to fail")
	}
	if err := registry.Register(&countingProvider{service: "  "}); err == nil {
		t.Fatal("expected empty service to fail")
	}

	if _, ok := registry.Get("GITHUB"); !ok {
		t.Fatal("lookup should be case-insensitive")
	}
	if _, ok := registry.Get("missing"); ok {
		t.Fatal("expected miss for unregistered provider")
	}

	listed := registry.List()
	if len(listed) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(listed))
	}
	if listed[0].Service() != "GitHub" || listed[1].Service() != "klaviyo" {
		t.Fatalf("expected sorted listing, got %q then %q", listed[0].Service(), listed[1].Service())
	}
}
