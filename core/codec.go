package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	CredentialPayloadFormatJSONV1 = "credential_json"
	CredentialPayloadVersionV1    = 1
)

// CredentialCodec encodes credential secret material for persistence. Stores
// encrypt the encoded payload through a SecretProvider before writing it.
type CredentialCodec interface {
	Format() string
	Version() int
	Encode(credential Credential) ([]byte, error)
	Decode(payload []byte) (Credential, error)
}

type JSONCredentialCodec struct{}

func (JSONCredentialCodec) Format() string {
	return CredentialPayloadFormatJSONV1
}

func (JSONCredentialCodec) Version() int {
	return CredentialPayloadVersionV1
}

type jsonCredentialPayload struct {
	Service      string         `json:"service,omitempty"`
	UserID       string         `json:"user_id,omitempty"`
	Kind         string         `json:"kind,omitempty"`
	TokenType    string         `json:"token_type,omitempty"`
	AccessToken  string         `json:"access_token,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	APIKey       string         `json:"api_key,omitempty"`
	Scopes       []string       `json:"scopes,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
	Raw          map[string]any `json:"raw,omitempty"`
	CreatedAt    time.Time      `json:"created_at,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at,omitempty"`
}

func (JSONCredentialCodec) Encode(credential Credential) ([]byte, error) {
	payload := jsonCredentialPayload{
		Service:      strings.TrimSpace(credential.Service),
		UserID:       strings.TrimSpace(credential.UserID),
		Kind:         string(credential.Kind),
		TokenType:    strings.TrimSpace(credential.TokenType),
		AccessToken:  strings.TrimSpace(credential.AccessToken),
		RefreshToken: strings.TrimSpace(credential.RefreshToken),
		APIKey:       strings.TrimSpace(credential.APIKey),
		Scopes:       append([]string(nil), credential.Scopes...),
		ExpiresAt:    cloneTimePointer(credential.ExpiresAt),
		Raw:          copyAnyMap(credential.Raw),
		CreatedAt:    credential.CreatedAt,
		UpdatedAt:    credential.UpdatedAt,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode credential payload: %w", err)
	}
	return encoded, nil
}

func (JSONCredentialCodec) Decode(payload []byte) (Credential, error) {
	if len(payload) == 0 {
		return Credential{}, fmt.Errorf("core: credential payload is empty")
	}
	decoded := jsonCredentialPayload{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Credential{}, fmt.Errorf("core: decode credential payload: %w", err)
	}
	return Credential{
		Service:      strings.TrimSpace(decoded.Service),
		UserID:       strings.TrimSpace(decoded.UserID),
		Kind:         CredentialKind(strings.TrimSpace(decoded.Kind)),
		TokenType:    strings.TrimSpace(decoded.TokenType),
		AccessToken:  strings.TrimSpace(decoded.AccessToken),
		RefreshToken: strings.TrimSpace(decoded.RefreshToken),
		APIKey:       strings.TrimSpace(decoded.APIKey),
		Scopes:       append([]string(nil), decoded.Scopes...),
		ExpiresAt:    cloneTimePointer(decoded.ExpiresAt),
		Raw:          copyAnyMap(decoded.Raw),
		CreatedAt:    decoded.CreatedAt,
		UpdatedAt:    decoded.UpdatedAt,
	}, nil
}

var _ CredentialCodec = JSONCredentialCodec{}
