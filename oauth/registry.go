package oauth

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
)

// Definition declares how one external service authenticates. Definitions are
// loaded once at startup and read-only afterwards.
type Definition struct {
	Service      string
	Kind         core.CredentialKind
	OAuth        core.OAuthConfig
	Hooks        Hooks
	UsePKCE      bool
	APIKeyHeader string
	DefaultTTL   time.Duration
}

func (d Definition) Validate() error {
	if strings.TrimSpace(d.Service) == "" {
		return fmt.Errorf("oauth: definition service is required")
	}
	if err := d.Kind.Validate(); err != nil {
		return err
	}
	if d.Kind == core.CredentialKindOAuth2 {
		return d.OAuth.Validate()
	}
	return nil
}

// Service binds a definition to the flow engine and satisfies core.Provider
// so the broker can refresh its credentials.
type Service struct {
	def    Definition
	engine *Engine
}

func NewService(def Definition, engine *Engine) (*Service, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		engine = NewEngine()
	}
	def.Service = strings.TrimSpace(strings.ToLower(def.Service))
	if def.DefaultTTL <= 0 {
		def.DefaultTTL = defaultTokenTTL
	}
	return &Service{def: def, engine: engine}, nil
}

func (s *Service) Service() string {
	if s == nil {
		return ""
	}
	return s.def.Service
}

func (s *Service) Kind() core.CredentialKind {
	if s == nil {
		return ""
	}
	return s.def.Kind
}

func (s *Service) Definition() Definition {
	if s == nil {
		return Definition{}
	}
	return s.def
}

// AuthorizationURL builds the consent URL for this service. verifier is the
// PKCE code_verifier when the definition requires one; it contributes only the
// derived challenge, never the verifier itself.
func (s *Service) AuthorizationURL(scopes []string, state, verifier string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("oauth: service is nil")
	}
	extra := url.Values{}
	if s.def.UsePKCE {
		if strings.TrimSpace(verifier) == "" {
			return "", fmt.Errorf("oauth: pkce verifier is required for service %q", s.def.Service)
		}
		extra.Set("code_challenge", PKCEChallenge(verifier))
		extra.Set("code_challenge_method", "S256")
	}
	return s.engine.AuthorizationURL(s.def.OAuth, scopes, state, s.def.Hooks, extra)
}

// ExchangeCode completes the authorization-code flow and returns a storable
// credential for user.
func (s *Service) ExchangeCode(ctx context.Context, user, code, verifier string, scopes []string) (core.Credential, error) {
	if s == nil {
		return core.Credential{}, fmt.Errorf("oauth: service is nil")
	}
	payload, err := s.engine.ExchangeCode(ctx, s.def.OAuth, code, s.def.OAuth.RedirectURI, verifier, s.def.Hooks)
	if err != nil {
		return core.Credential{}, core.TokenExchangeFailedError(s.def.Service, err)
	}
	return s.credentialFromPayload(user, payload, scopes), nil
}

// ClientCredentials issues an app-level token for services whose original
// integration used the client_credentials grant.
func (s *Service) ClientCredentials(ctx context.Context, user string, scopes []string) (core.Credential, error) {
	if s == nil {
		return core.Credential{}, fmt.Errorf("oauth: service is nil")
	}
	payload, err := s.engine.ClientCredentials(ctx, s.def.OAuth, scopes, s.def.Hooks)
	if err != nil {
		return core.Credential{}, core.TokenExchangeFailedError(s.def.Service, err)
	}
	return s.credentialFromPayload(user, payload, scopes), nil
}

// Refresh implements core.Provider. The broker merges the result with the
// prior credential, so this returns exactly what the token endpoint granted.
func (s *Service) Refresh(ctx context.Context, cred core.Credential) (core.Credential, error) {
	if s == nil {
		return core.Credential{}, fmt.Errorf("oauth: service is nil")
	}
	if s.def.Kind != core.CredentialKindOAuth2 {
		return core.Credential{}, fmt.Errorf("oauth: service %q does not refresh credentials", s.def.Service)
	}
	payload, err := s.engine.Refresh(ctx, s.def.OAuth, cred.RefreshToken, cred.Scopes, s.def.Hooks)
	if err != nil {
		return core.Credential{}, err
	}
	refreshed := s.credentialFromPayload(cred.UserID, payload, cred.Scopes)
	return refreshed, nil
}

func (s *Service) credentialFromPayload(user string, payload core.TokenPayload, requestedScopes []string) core.Credential {
	now := s.engine.now().UTC()
	scopes := payload.Scopes()
	if len(scopes) == 0 {
		scopes = core.NormalizeScopes(requestedScopes)
	}
	if len(scopes) == 0 {
		scopes = core.NormalizeScopes(s.def.OAuth.DefaultScopes)
	}

	ttl := s.def.DefaultTTL
	if payload.ExpiresIn > 0 {
		ttl = time.Duration(payload.ExpiresIn) * time.Second
	}
	var expiresAt *time.Time
	if ttl > 0 {
		at := now.Add(ttl)
		expiresAt = &at
	}

	return core.Credential{
		Service:      s.def.Service,
		UserID:       strings.TrimSpace(user),
		Kind:         core.CredentialKindOAuth2,
		TokenType:    normalizeTokenType(payload.TokenType),
		AccessToken:  strings.TrimSpace(payload.AccessToken),
		RefreshToken: strings.TrimSpace(payload.RefreshToken),
		Scopes:       scopes,
		ExpiresAt:    expiresAt,
		Raw:          extraPayloadKeys(payload.Raw),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// extraPayloadKeys keeps non-standard token response fields (instance URLs,
// account ids) so they survive in Credential.Raw.
func extraPayloadKeys(raw map[string]any) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	standard := map[string]struct{}{
		"access_token":      {},
		"token_type":        {},
		"refresh_token":     {},
		"scope":             {},
		"expires_in":        {},
		"error":             {},
		"error_description": {},
	}
	extra := map[string]any{}
	for key, value := range raw {
		if _, ok := standard[strings.ToLower(strings.TrimSpace(key))]; ok {
			continue
		}
		extra[key] = value
	}
	return extra
}

// Registry holds the loaded service definitions.
type Registry struct {
	services map[string]*Service
}

func NewRegistry(engine *Engine, defs ...Definition) (*Registry, error) {
	registry := &Registry{services: map[string]*Service{}}
	for _, def := range defs {
		service, err := NewService(def, engine)
		if err != nil {
			return nil, err
		}
		key := service.Service()
		if _, exists := registry.services[key]; exists {
			return nil, fmt.Errorf("oauth: duplicate service definition: %s", key)
		}
		registry.services[key] = service
	}
	return registry, nil
}

func (r *Registry) Get(service string) (*Service, bool) {
	if r == nil {
		return nil, false
	}
	svc, ok := r.services[strings.TrimSpace(strings.ToLower(service))]
	return svc, ok
}

func (r *Registry) List() []*Service {
	if r == nil {
		return nil
	}
	keys := make([]string, 0, len(r.services))
	for key := range r.services {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	services := make([]*Service, 0, len(keys))
	for _, key := range keys {
		services = append(services, r.services[key])
	}
	return services
}

// Apply registers every service with a broker-facing provider registry.
func (r *Registry) Apply(target core.Registry) error {
	if r == nil || target == nil {
		return fmt.Errorf("oauth: registry and target are required")
	}
	for _, service := range r.List() {
		if err := target.Register(service); err != nil {
			return err
		}
	}
	return nil
}

var _ core.Provider = (*Service)(nil)
