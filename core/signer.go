package core

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type BearerTokenSigner struct{}

func (BearerTokenSigner) Sign(_ context.Context, req *http.Request, cred Credential) error {
	if req == nil {
		return fmt.Errorf("core: http request is required")
	}
	token := strings.TrimSpace(cred.AccessToken)
	if token == "" {
		return fmt.Errorf("core: access token is required for bearer signing")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// APIKeySigner writes the credential's API key into Header. Scheme prefixes
// the value when set ("Bearer", "Basic", service-specific schemes); an empty
// scheme sends the bare key.
type APIKeySigner struct {
	Header string
	Scheme string
}

func (s APIKeySigner) Sign(_ context.Context, req *http.Request, cred Credential) error {
	if req == nil {
		return fmt.Errorf("core: http request is required")
	}
	key := strings.TrimSpace(cred.APIKey)
	if key == "" {
		return fmt.Errorf("core: api key is required for api key signing")
	}
	header := strings.TrimSpace(s.Header)
	if header == "" {
		header = "Authorization"
	}
	value := key
	if scheme := strings.TrimSpace(s.Scheme); scheme != "" {
		value = scheme + " " + key
	}
	req.Header.Set(header, value)
	return nil
}

var (
	_ Signer = BearerTokenSigner{}
	_ Signer = APIKeySigner{}
)
