package core

import (
	"strings"
	"testing"
	"time"
)

func TestJSONCredentialCodecRoundTrip(t *testing.T) {
	codec := JSONCredentialCodec{}
	expiresAt := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	original := Credential{
		Service:      "github",
		UserID:       "u1",
		Kind:         CredentialKindOAuth2,
		TokenType:    "Bearer",
		AccessToken:  "access",
		RefreshToken: "refresh",
		Scopes:       []string{"repo:read"},
		ExpiresAt:    &expiresAt,
		Raw:          map[string]any{"instance_url": "https://us.example.com"},
	}

	encoded, err := codec.Encode(original)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(string(encoded), "access_token") {
		t.Fatalf("unexpected payload shape: %s", encoded)
	}

	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Service != original.Service || decoded.UserID != original.UserID {
		t.Fatalf("identity mismatch: %+v", decoded)
	}
	if decoded.AccessToken != "access" || decoded.RefreshToken != "refresh" {
		t.Fatalf("token mismatch: %+v", decoded)
	}
	if decoded.ExpiresAt == nil || !decoded.ExpiresAt.Equal(expiresAt) {
		t.Fatalf("expiry mismatch: %v", decoded.ExpiresAt)
	}
	if decoded.Raw["instance_url"] != "https://us.example.com" {
		t.Fatalf("raw mismatch: %v", decoded.Raw)
	}
}

func TestJSONCredentialCodecDecodeErrors(t *testing.T) {
	codec := JSONCredentialCodec{}
	if _, err := codec.Decode(nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
	if _, err := codec.Decode([]byte("{not json")); err == nil {
		t.Fatal("expected error for malformed payload")
	}
}

func TestJSONCredentialCodecMetadata(t *testing.T) {
	codec := JSONCredentialCodec{}
	if codec.Format() != CredentialPayloadFormatJSONV1 {
		t.Fatalf("unexpected format %q", codec.Format())
	}
	if codec.Version() != CredentialPayloadVersionV1 {
		t.Fatalf("unexpected version %d", codec.Version())
	}
}
