package core

import (
	"fmt"
	"strings"
	"time"
)

type CredentialKind string

const (
	CredentialKindOAuth2 CredentialKind = "oauth2"
	CredentialKindAPIKey CredentialKind = "api_key"
)

func (k CredentialKind) Validate() error {
	switch k {
	case CredentialKindOAuth2, CredentialKindAPIKey:
		return nil
	default:
		return fmt.Errorf("core: invalid credential kind %q", string(k))
	}
}

// Credential is the stored secret material for one user against one service.
// Refreshes replace it wholesale; nothing mutates a stored credential in place.
type Credential struct {
	Service      string
	UserID       string
	Kind         CredentialKind
	TokenType    string
	AccessToken  string
	RefreshToken string
	APIKey       string
	Scopes       []string
	ExpiresAt    *time.Time
	Raw          map[string]any
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (c Credential) Validate() error {
	if strings.TrimSpace(c.Service) == "" {
		return fmt.Errorf("core: credential service is required")
	}
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("core: credential user id is required")
	}
	if err := c.Kind.Validate(); err != nil {
		return err
	}
	switch c.Kind {
	case CredentialKindOAuth2:
		if strings.TrimSpace(c.AccessToken) == "" && strings.TrimSpace(c.RefreshToken) == "" {
			return fmt.Errorf("core: oauth2 credential requires token material")
		}
	case CredentialKindAPIKey:
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("core: api key credential requires a key")
		}
	}
	return nil
}

// Key returns the store/lock key for the credential's (service, user) pair.
func (c Credential) Key() string {
	return CredentialKey(c.Service, c.UserID)
}

func CredentialKey(service, user string) string {
	return strings.TrimSpace(strings.ToLower(service)) + "|" + strings.TrimSpace(user)
}

// HasScopes reports whether the granted scope set is a superset of required.
// Comparison is case-insensitive and never mutates either set.
func (c Credential) HasScopes(required []string) bool {
	if len(required) == 0 {
		return true
	}
	granted := map[string]struct{}{}
	for _, scope := range c.Scopes {
		normalized := strings.TrimSpace(strings.ToLower(scope))
		if normalized != "" {
			granted[normalized] = struct{}{}
		}
	}
	for _, scope := range required {
		normalized := strings.TrimSpace(strings.ToLower(scope))
		if normalized == "" {
			continue
		}
		if _, ok := granted[normalized]; !ok {
			return false
		}
	}
	return true
}

// MissingScopes returns required scopes absent from the granted set.
func (c Credential) MissingScopes(required []string) []string {
	missing := []string{}
	for _, scope := range NormalizeScopes(required) {
		if !c.HasScopes([]string{scope}) {
			missing = append(missing, scope)
		}
	}
	return missing
}

func (c Credential) Clone() Credential {
	clone := c
	clone.Scopes = append([]string(nil), c.Scopes...)
	clone.ExpiresAt = cloneTimePointer(c.ExpiresAt)
	clone.Raw = copyAnyMap(c.Raw)
	return clone
}

// AuthorizeRequest describes a one-shot interactive authorization run for
// (service, user). OnAuthURL delivers the consent URL to the human driving
// the flow.
type AuthorizeRequest struct {
	Service    string
	User       string
	Scopes     []string
	ListenAddr string
	Timeout    time.Duration
	OnAuthURL  func(authURL string) error
}

func (r AuthorizeRequest) Validate() error {
	if strings.TrimSpace(r.Service) == "" {
		return fmt.Errorf("core: service is required")
	}
	if strings.TrimSpace(r.User) == "" {
		return fmt.Errorf("core: user is required")
	}
	if r.OnAuthURL == nil {
		return fmt.Errorf("core: authorization url callback is required")
	}
	return nil
}

// OAuthConfig holds the per-service OAuth2 client settings. Loaded once per
// service and read-only thereafter.
type OAuthConfig struct {
	ClientID           string
	ClientSecret       string
	AuthorizeURL       string
	TokenURL           string
	RedirectURI        string
	DefaultScopes      []string
	ClientSecretInBody bool
}

func (c OAuthConfig) Validate() error {
	if strings.TrimSpace(c.ClientID) == "" {
		return fmt.Errorf("core: oauth client id is required")
	}
	if strings.TrimSpace(c.AuthorizeURL) == "" {
		return fmt.Errorf("core: oauth authorize url is required")
	}
	if strings.TrimSpace(c.TokenURL) == "" {
		return fmt.Errorf("core: oauth token url is required")
	}
	return nil
}

// TokenPayload is the normalized body of a token endpoint response.
type TokenPayload struct {
	AccessToken      string
	TokenType        string
	RefreshToken     string
	Scope            string
	ExpiresIn        int64
	ErrorCode        string
	ErrorDescription string
	Raw              map[string]any
}

func (p TokenPayload) Scopes() []string {
	return ParseScopeList(p.Scope)
}

func NormalizeScopes(input []string) []string {
	if len(input) == 0 {
		return []string{}
	}
	values := make([]string, 0, len(input))
	seen := map[string]struct{}{}
	for _, value := range input {
		normalized := strings.TrimSpace(strings.ToLower(value))
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		values = append(values, normalized)
	}
	return values
}

func ParseScopeList(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return []string{}
	}
	return strings.Fields(strings.ReplaceAll(trimmed, ",", " "))
}

func cloneTimePointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := value.UTC()
	return &clone
}

func copyAnyMap(input map[string]any) map[string]any {
	if len(input) == 0 {
		return map[string]any{}
	}
	output := make(map[string]any, len(input))
	for key, value := range input {
		output[key] = value
	}
	return output
}
