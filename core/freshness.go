package core

import (
	"strings"
	"time"
)

// DefaultExpirySkew is the safety window applied to expiry comparisons: a
// token within the skew of its expires_at is treated as already expired so it
// is never handed out if it might expire mid-call.
const DefaultExpirySkew = 5 * time.Minute

// TokenState captures access/refresh lifecycle state derived from a credential.
type TokenState struct {
	ExpiresAt       *time.Time
	HasAccessToken  bool
	HasRefreshToken bool
	IsExpired       bool
}

// ResolveTokenState evaluates expiry flags for a credential at a point in
// time. A credential without expires_at never expires on its own.
func ResolveTokenState(now time.Time, credential Credential, skew time.Duration) TokenState {
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}
	if skew < 0 {
		skew = DefaultExpirySkew
	}

	state := TokenState{
		HasAccessToken:  strings.TrimSpace(credential.AccessToken) != "",
		HasRefreshToken: strings.TrimSpace(credential.RefreshToken) != "",
	}
	if credential.ExpiresAt == nil {
		return state
	}
	expiresAt := credential.ExpiresAt.UTC()
	state.ExpiresAt = &expiresAt
	state.IsExpired = !expiresAt.After(now.Add(skew))
	return state
}

// ShouldRefresh reports whether a refresh must happen before the credential
// can be handed out.
func ShouldRefresh(state TokenState) bool {
	if !state.HasAccessToken {
		return true
	}
	return state.IsExpired
}
