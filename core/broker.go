package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// TokenRequest identifies the credential the caller wants a usable access
// token for. OverrideAPIKey short-circuits everything else.
type TokenRequest struct {
	Service        string
	User           string
	OverrideAPIKey string
	RequiredScopes []string
}

func (r TokenRequest) Validate() error {
	if strings.TrimSpace(r.Service) == "" {
		return fmt.Errorf("core: service is required")
	}
	if strings.TrimSpace(r.User) == "" {
		return fmt.Errorf("core: user is required")
	}
	return nil
}

// Broker owns credential freshness. Every token read goes through it so a
// single refresh happens per (service, user) key no matter how many callers
// race for the same expired credential.
type Broker struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	store           CredentialStore
	locker          KeyLocker
	registry        Registry
	scheduler       BackoffScheduler
	now             func() time.Time
}

type refreshLockContextKey struct{}

func isRefreshLockHeld(ctx context.Context, key string) bool {
	if ctx == nil {
		return false
	}
	held, _ := ctx.Value(refreshLockContextKey{}).(string)
	return held != "" && held == key
}

func NewBroker(cfg Config, options ...Option) (*Broker, error) {
	builder := defaultBrokerBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("connectors", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("connectors"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.registry == nil {
		builder.registry = NewProviderRegistry()
	}
	if builder.locker == nil {
		builder.locker = NewMemoryKeyLocker()
	}
	if builder.scheduler == nil {
		builder.scheduler = ExponentialBackoffScheduler{}
	}
	if builder.now == nil {
		builder.now = time.Now
	}
	if builder.store == nil {
		return nil, mapBuildError(builder.errorMapper, fmt.Errorf("core: credential store is required"))
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &Broker{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		store:           builder.store,
		locker:          builder.locker,
		registry:        builder.registry,
		scheduler:       builder.scheduler,
		now:             builder.now,
	}, nil
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return brokerErrorMapper(err)
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}

func (b *Broker) Config() Config {
	if b == nil {
		return Config{}
	}
	return b.config
}

func (b *Broker) Registry() Registry {
	if b == nil {
		return nil
	}
	return b.registry
}

func (b *Broker) Store() CredentialStore {
	if b == nil {
		return nil
	}
	return b.store
}

// GetAccessToken returns a usable access token for (service, user), refreshing
// the stored credential first when it is missing an access token or expires
// within the configured skew. Concurrent callers for the same key serialize on
// the key lock and observe the refreshed credential instead of refreshing again.
func (b *Broker) GetAccessToken(ctx context.Context, req TokenRequest) (token string, err error) {
	startedAt := b.now().UTC()
	fields := map[string]any{
		"service": req.Service,
		"user_id": req.User,
	}
	defer func() {
		b.observeOperation(ctx, startedAt, "get_access_token", err, fields)
	}()

	if override := strings.TrimSpace(req.OverrideAPIKey); override != "" {
		fields["source"] = "override"
		return override, nil
	}
	if err = req.Validate(); err != nil {
		err = b.mapError(err)
		return "", err
	}
	service := strings.TrimSpace(req.Service)
	user := strings.TrimSpace(req.User)

	ctx, unlock, err := b.acquireKeyLock(ctx, service, user)
	if err != nil {
		err = b.mapError(err)
		return "", err
	}
	defer unlock()

	cred, err := b.loadCredential(ctx, service, user)
	if err != nil {
		return "", err
	}

	if len(req.RequiredScopes) > 0 && !cred.HasScopes(req.RequiredScopes) {
		err = InsufficientScopeError(service, cred.MissingScopes(req.RequiredScopes))
		return "", err
	}

	if cred.Kind == CredentialKindAPIKey {
		if strings.TrimSpace(cred.APIKey) == "" {
			err = NotAuthenticatedError(service, user)
			return "", err
		}
		fields["source"] = "api_key"
		return cred.APIKey, nil
	}

	state := ResolveTokenState(b.now().UTC(), cred, b.config.ExpirySkew())
	if ShouldRefresh(state) {
		refreshed, refreshErr := b.refreshLocked(ctx, cred)
		if refreshErr != nil {
			err = refreshErr
			return "", err
		}
		fields["source"] = "refresh"
		return refreshed.AccessToken, nil
	}

	fields["source"] = "cache"
	return cred.AccessToken, nil
}

// ForceRefresh refreshes the stored oauth2 credential regardless of expiry.
// The invoker uses it after an unexpected 401/403.
func (b *Broker) ForceRefresh(ctx context.Context, service, user string) (token string, err error) {
	startedAt := b.now().UTC()
	fields := map[string]any{
		"service": service,
		"user_id": user,
	}
	defer func() {
		b.observeOperation(ctx, startedAt, "force_refresh", err, fields)
	}()

	service = strings.TrimSpace(service)
	user = strings.TrimSpace(user)
	if service == "" || user == "" {
		err = b.mapError(fmt.Errorf("core: service and user are required"))
		return "", err
	}

	ctx, unlock, err := b.acquireKeyLock(ctx, service, user)
	if err != nil {
		err = b.mapError(err)
		return "", err
	}
	defer unlock()

	cred, err := b.loadCredential(ctx, service, user)
	if err != nil {
		return "", err
	}
	if cred.Kind != CredentialKindOAuth2 {
		err = b.mapError(fmt.Errorf("core: credential for service %s is not refreshable", service))
		return "", err
	}

	refreshed, err := b.refreshLocked(ctx, cred)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// GetAPIKey resolves the API key for (service, user). An override wins without
// touching the store or the key lock.
func (b *Broker) GetAPIKey(ctx context.Context, service, user, override string) (key string, err error) {
	startedAt := b.now().UTC()
	fields := map[string]any{
		"service": service,
		"user_id": user,
	}
	defer func() {
		b.observeOperation(ctx, startedAt, "get_api_key", err, fields)
	}()

	if trimmed := strings.TrimSpace(override); trimmed != "" {
		fields["source"] = "override"
		return trimmed, nil
	}
	service = strings.TrimSpace(service)
	user = strings.TrimSpace(user)
	if service == "" || user == "" {
		err = b.mapError(fmt.Errorf("core: service and user are required"))
		return "", err
	}

	cred, err := b.loadCredential(ctx, service, user)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(cred.APIKey) == "" {
		err = NotAuthenticatedError(service, user)
		return "", err
	}
	fields["source"] = "store"
	return cred.APIKey, nil
}

// Revoke deletes the stored credential. Revoking an absent credential is a
// no-op so callers can retry safely.
func (b *Broker) Revoke(ctx context.Context, service, user string) (err error) {
	startedAt := b.now().UTC()
	fields := map[string]any{
		"service": service,
		"user_id": user,
	}
	defer func() {
		b.observeOperation(ctx, startedAt, "revoke", err, fields)
	}()

	service = strings.TrimSpace(service)
	user = strings.TrimSpace(user)
	if service == "" || user == "" {
		err = b.mapError(fmt.Errorf("core: service and user are required"))
		return err
	}

	ctx, unlock, err := b.acquireKeyLock(ctx, service, user)
	if err != nil {
		err = b.mapError(err)
		return err
	}
	defer unlock()

	if deleteErr := b.store.Delete(ctx, service, user); deleteErr != nil && !errors.Is(deleteErr, ErrCredentialNotFound) {
		err = b.mapError(deleteErr)
		return err
	}
	return nil
}

func (b *Broker) acquireKeyLock(ctx context.Context, service, user string) (context.Context, func(), error) {
	key := CredentialKey(service, user)
	if b.locker == nil || isRefreshLockHeld(ctx, key) {
		return ctx, func() {}, nil
	}
	handle, err := b.locker.Acquire(ctx, key, b.config.LockTTL())
	if err != nil {
		return ctx, nil, err
	}
	lockedCtx := context.WithValue(ctx, refreshLockContextKey{}, key)
	return lockedCtx, func() {
		_ = handle.Unlock(lockedCtx)
	}, nil
}

func (b *Broker) loadCredential(ctx context.Context, service, user string) (Credential, error) {
	cred, err := b.store.Get(ctx, service, user)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return Credential{}, NotAuthenticatedError(service, user)
		}
		return Credential{}, b.mapError(err)
	}
	return cred, nil
}

// refreshLocked runs the provider refresh for an oauth2 credential. Callers
// must hold the key lock. Transient failures (attempt timeouts, network
// timeouts) are retried with scheduler pacing up to the configured attempt
// budget; a provider rejection deletes the stale credential so subsequent
// reads fail fast with a re-auth error instead of retrying a dead refresh
// token.
func (b *Broker) refreshLocked(ctx context.Context, cred Credential) (Credential, error) {
	provider, ok := b.registry.Get(cred.Service)
	if !ok {
		return Credential{}, b.mapError(fmt.Errorf("core: provider %s not registered", cred.Service))
	}

	attempts := b.config.Retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var refreshed Credential
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if waitErr := WaitWithContext(ctx, b.scheduler.NextDelay(attempt-1)); waitErr != nil {
				return Credential{}, RefreshFailedError(cred.Service, cred.UserID, waitErr)
			}
		}
		refreshed, err = b.refreshOnce(ctx, provider, cred)
		if err == nil || !isTransientRefreshError(err) {
			break
		}
		b.logError(ctx, "credential refresh attempt failed", map[string]any{
			"service": cred.Service,
			"user_id": cred.UserID,
			"attempt": attempt + 1,
			"error":   err.Error(),
		})
	}
	if err != nil {
		if !isTransientRefreshError(err) {
			if deleteErr := b.store.Delete(ctx, cred.Service, cred.UserID); deleteErr != nil && !errors.Is(deleteErr, ErrCredentialNotFound) {
				b.logError(ctx, "stale credential cleanup failed", map[string]any{
					"service": cred.Service,
					"user_id": cred.UserID,
					"error":   deleteErr.Error(),
				})
			}
		}
		return Credential{}, RefreshFailedError(cred.Service, cred.UserID, err)
	}

	merged := mergeRefreshedCredential(cred, refreshed, b.now().UTC())
	if err := b.store.Put(ctx, merged); err != nil {
		return Credential{}, b.mapError(err)
	}
	return merged, nil
}

func (b *Broker) refreshOnce(ctx context.Context, provider Provider, cred Credential) (Credential, error) {
	refreshCtx := ctx
	if timeout := b.config.RefreshTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		refreshCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return provider.Refresh(refreshCtx, cred.Clone())
}

// isTransientRefreshError reports whether a refresh failure is worth another
// attempt under the same lock. Caller cancellation is terminal; attempt
// deadlines and network timeouts are not a provider rejection.
func isTransientRefreshError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// mergeRefreshedCredential folds a refresh response into the prior credential.
// Providers that omit refresh_token on rotation keep the previous one, and Raw
// keys granted only on the initial exchange survive every refresh.
func mergeRefreshedCredential(prev, next Credential, now time.Time) Credential {
	merged := next.Clone()
	merged.Service = prev.Service
	merged.UserID = prev.UserID
	merged.Kind = prev.Kind
	if strings.TrimSpace(merged.RefreshToken) == "" {
		merged.RefreshToken = prev.RefreshToken
	}
	if strings.TrimSpace(merged.TokenType) == "" {
		merged.TokenType = prev.TokenType
	}
	if len(merged.Scopes) == 0 {
		merged.Scopes = append([]string(nil), prev.Scopes...)
	}
	if len(prev.Raw) > 0 {
		if merged.Raw == nil {
			merged.Raw = map[string]any{}
		}
		for key, value := range prev.Raw {
			if _, exists := merged.Raw[key]; !exists {
				merged.Raw[key] = value
			}
		}
	}
	merged.CreatedAt = prev.CreatedAt
	merged.UpdatedAt = now
	return merged
}

func (b *Broker) mapError(err error) error {
	if err == nil {
		return nil
	}
	if b == nil || b.errorMapper == nil {
		return brokerErrorMapper(err)
	}
	if mapped := b.errorMapper(err); mapped != nil {
		return mapped
	}
	return err
}
