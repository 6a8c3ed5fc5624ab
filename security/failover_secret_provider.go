package security

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/goliatone/go-connectors/core"
)

type SecretProviderFailurePolicy string

const (
	SecretProviderFailurePolicyStrict   SecretProviderFailurePolicy = "strict_fail"
	SecretProviderFailurePolicyFallback SecretProviderFailurePolicy = "fallback_allowed"
)

type SecretProviderDiagnostic struct {
	OccurredAt time.Time
	Operation  string
	Policy     SecretProviderFailurePolicy
	Outcome    string
	Primary    string
	Fallback   string
	Error      string
}

type SecretProviderDiagnosticHook func(event SecretProviderDiagnostic)

type FailoverOption func(*FailoverSecretProvider)

// FailoverSecretProvider wraps a primary provider with an optional fallback.
// Under the strict policy a primary failure is terminal; under the fallback
// policy the fallback provider gets one shot at the same operation.
type FailoverSecretProvider struct {
	primary        core.SecretProvider
	fallback       core.SecretProvider
	policy         SecretProviderFailurePolicy
	diagnosticHook SecretProviderDiagnosticHook
	now            func() time.Time
}

func NewFailoverSecretProvider(primary core.SecretProvider, opts ...FailoverOption) (*FailoverSecretProvider, error) {
	if primary == nil {
		return nil, fmt.Errorf("security: primary secret provider is required")
	}
	provider := &FailoverSecretProvider{
		primary: primary,
		policy:  SecretProviderFailurePolicyStrict,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	provider.policy = normalizeFailurePolicy(provider.policy)
	if provider.policy == SecretProviderFailurePolicyFallback && provider.fallback == nil {
		return nil, fmt.Errorf("security: fallback policy requires a configured fallback secret provider")
	}
	return provider, nil
}

func WithFallbackSecretProvider(provider core.SecretProvider) FailoverOption {
	return func(f *FailoverSecretProvider) {
		f.fallback = provider
	}
}

func WithSecretProviderFailurePolicy(policy SecretProviderFailurePolicy) FailoverOption {
	return func(f *FailoverSecretProvider) {
		f.policy = normalizeFailurePolicy(policy)
	}
}

func WithSecretProviderDiagnostics(hook SecretProviderDiagnosticHook) FailoverOption {
	return func(f *FailoverSecretProvider) {
		f.diagnosticHook = hook
	}
}

func (p *FailoverSecretProvider) Encrypt(ctx context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	ciphertext, err := p.primary.Encrypt(ctx, plaintext)
	if err == nil {
		return ciphertext, nil
	}
	p.emit("encrypt", "primary_failed", err)
	if p.policy == SecretProviderFailurePolicyStrict || p.fallback == nil {
		return nil, fmt.Errorf("security: primary encrypt failed with %s policy: %w", p.policy, err)
	}
	fallbackCiphertext, fallbackErr := p.fallback.Encrypt(ctx, plaintext)
	if fallbackErr != nil {
		p.emit("encrypt", "fallback_failed", fallbackErr)
		return nil, fmt.Errorf("security: primary encrypt failed: %v; fallback encrypt failed: %w", err, fallbackErr)
	}
	p.emit("encrypt", "fallback_succeeded", err)
	return fallbackCiphertext, nil
}

func (p *FailoverSecretProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("security: ciphertext is required")
	}
	plaintext, err := p.primary.Decrypt(ctx, ciphertext)
	if err == nil {
		return plaintext, nil
	}
	p.emit("decrypt", "primary_failed", err)
	if p.policy == SecretProviderFailurePolicyStrict || p.fallback == nil {
		return nil, fmt.Errorf("security: primary decrypt failed with %s policy: %w", p.policy, err)
	}
	fallbackPlaintext, fallbackErr := p.fallback.Decrypt(ctx, ciphertext)
	if fallbackErr != nil {
		p.emit("decrypt", "fallback_failed", fallbackErr)
		return nil, fmt.Errorf("security: primary decrypt failed: %v; fallback decrypt failed: %w", err, fallbackErr)
	}
	p.emit("decrypt", "fallback_succeeded", err)
	return fallbackPlaintext, nil
}

func (p *FailoverSecretProvider) emit(operation string, outcome string, err error) {
	if p == nil || p.diagnosticHook == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	p.diagnosticHook(SecretProviderDiagnostic{
		OccurredAt: p.now().UTC(),
		Operation:  operation,
		Policy:     p.policy,
		Outcome:    outcome,
		Primary:    describeSecretProvider(p.primary),
		Fallback:   describeSecretProvider(p.fallback),
		Error:      msg,
	})
}

func normalizeFailurePolicy(policy SecretProviderFailurePolicy) SecretProviderFailurePolicy {
	normalized := SecretProviderFailurePolicy(strings.ToLower(strings.TrimSpace(string(policy))))
	switch normalized {
	case SecretProviderFailurePolicyFallback:
		return SecretProviderFailurePolicyFallback
	default:
		return SecretProviderFailurePolicyStrict
	}
}

func describeSecretProvider(provider core.SecretProvider) string {
	if provider == nil {
		return ""
	}
	label := reflect.TypeOf(provider).String()
	if metadataProvider, ok := provider.(interface{ Metadata() (string, int) }); ok {
		keyID, version := metadataProvider.Metadata()
		if strings.TrimSpace(keyID) != "" && version > 0 {
			return fmt.Sprintf("%s(%s:%d)", label, keyID, version)
		}
	}
	return label
}

var _ core.SecretProvider = (*FailoverSecretProvider)(nil)
