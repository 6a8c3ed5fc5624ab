package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type brokerBuilder struct {
	runtimeConfig   Config
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

type Option func(*brokerBuilder)

func WithLogger(logger Logger) Option {
	return func(b *brokerBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *brokerBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *brokerBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *brokerBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *brokerBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *brokerBuilder) {
		b.optionsResolver = resolver
	}
}

func WithCredentialStore(store CredentialStore) Option {
	return func(b *brokerBuilder) {
		b.store = store
	}
}

func WithKeyLocker(locker KeyLocker) Option {
	return func(b *brokerBuilder) {
		b.locker = locker
	}
}

func WithRegistry(registry Registry) Option {
	return func(b *brokerBuilder) {
		b.registry = registry
	}
}

// WithBackoffScheduler overrides the pacing between transient refresh
// attempts.
func WithBackoffScheduler(scheduler BackoffScheduler) Option {
	return func(b *brokerBuilder) {
		b.scheduler = scheduler
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *brokerBuilder) {
		b.now = now
	}
}

func defaultBrokerBuilder(runtime Config) brokerBuilder {
	loggerProvider, logger := glog.Resolve("connectors", nil, nil)
	return brokerBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		registry:        NewProviderRegistry(),
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return brokerErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Name) != "" {
		layer["name"] = cfg.Name
	}
	if includeZero || cfg.ExpirySkewMS > 0 {
		layer["expiry_skew_ms"] = cfg.ExpirySkewMS
	}
	if includeZero || cfg.RefreshTimeoutMS > 0 {
		layer["refresh_timeout_ms"] = cfg.RefreshTimeoutMS
	}
	if includeZero || cfg.LockTTLMS > 0 {
		layer["lock_ttl_ms"] = cfg.LockTTLMS
	}

	retry := map[string]any{}
	if includeZero || cfg.Retry.MaxAttempts > 0 {
		retry["max_attempts"] = cfg.Retry.MaxAttempts
	}
	if includeZero || cfg.Retry.BaseDelayMS > 0 {
		retry["base_delay_ms"] = cfg.Retry.BaseDelayMS
	}
	if includeZero || cfg.Retry.MaxDelayMS > 0 {
		retry["max_delay_ms"] = cfg.Retry.MaxDelayMS
	}
	if includeZero || len(cfg.Retry.RetryableStatusCodes) > 0 {
		retry["retryable_status_codes"] = append([]int(nil), cfg.Retry.RetryableStatusCodes...)
	}
	if len(retry) > 0 {
		layer["retry"] = retry
	}
	return layer
}
