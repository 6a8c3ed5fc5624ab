package core

import (
	"context"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// CredentialStore is the pluggable persistence capability behind the broker.
// Writes to distinct keys never interfere; writes to the same key are only
// issued by the broker holding that key's refresh lock, so implementations
// need no locking beyond their own internal consistency.
type CredentialStore interface {
	Get(ctx context.Context, service, user string) (Credential, error)
	Put(ctx context.Context, credential Credential) error
	Delete(ctx context.Context, service, user string) error
}

// StoreProvider is implemented by persistence factories that can hand out the
// credential store backing a broker.
type StoreProvider interface {
	CredentialStore() CredentialStore
}

type LockHandle interface {
	Unlock(ctx context.Context) error
}

// KeyLocker serializes refresh decisions per (service, user) key. Acquire
// blocks until the lock is free or ctx is done; distinct keys are fully
// concurrent.
type KeyLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (LockHandle, error)
}

type BackoffScheduler interface {
	NextDelay(attempt int) time.Duration
}

// Provider refreshes credentials for one service. OAuth2 services are backed
// by the oauth flow engine; API-key services are not refreshable.
type Provider interface {
	Service() string
	Kind() CredentialKind
	Refresh(ctx context.Context, cred Credential) (Credential, error)
}

type Registry interface {
	Register(provider Provider) error
	Get(service string) (Provider, bool)
	List() []Provider
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type Signer interface {
	Sign(ctx context.Context, req *http.Request, cred Credential) error
}

// ProviderSigner lets a provider override how its requests are signed.
type ProviderSigner interface {
	Signer() Signer
}

type RateLimitKey struct {
	Service   string
	UserID    string
	BucketKey string
}

type ResponseMeta struct {
	StatusCode int
	Headers    map[string]string
	RetryAfter *time.Duration
	Metadata   map[string]any
}

type RateLimitPolicy interface {
	BeforeCall(ctx context.Context, key RateLimitKey) error
	AfterCall(ctx context.Context, key RateLimitKey, res ResponseMeta) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
