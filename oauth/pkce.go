package oauth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"

	"github.com/goliatone/go-connectors/core"
)

const pkceVerifierBytes = 32

// GeneratePKCEVerifier returns a fresh code_verifier suitable for the S256
// challenge method.
func GeneratePKCEVerifier() (string, error) {
	raw := make([]byte, pkceVerifierBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("oauth: generate pkce verifier: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// PKCEChallenge derives the S256 code_challenge for a verifier.
func PKCEChallenge(verifier string) string {
	digest := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}

// PKCEAuthParams is an AuthParams hook that pins the S256 challenge derived
// from verifier onto the authorization URL.
func PKCEAuthParams(verifier string) func(core.OAuthConfig, string, []string, string) url.Values {
	return func(core.OAuthConfig, string, []string, string) url.Values {
		values := url.Values{}
		values.Set("code_challenge", PKCEChallenge(verifier))
		values.Set("code_challenge_method", "S256")
		return values
	}
}

// GenerateState returns an unguessable state parameter.
func GenerateState() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("oauth: generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
