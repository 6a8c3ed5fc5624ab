package connectors

import "github.com/goliatone/go-connectors/core"

type Config = core.Config

type Option = core.Option

type Broker = core.Broker

type Credential = core.Credential

type TokenRequest = core.TokenRequest

type AuthorizeRequest = core.AuthorizeRequest

type CredentialStore = core.CredentialStore

type SecretProvider = core.SecretProvider

type Signer = core.Signer

var (
	WithLogger           = core.WithLogger
	WithLoggerProvider   = core.WithLoggerProvider
	WithMetricsRecorder  = core.WithMetricsRecorder
	WithErrorMapper      = core.WithErrorMapper
	WithConfigProvider   = core.WithConfigProvider
	WithOptionsResolver  = core.WithOptionsResolver
	WithCredentialStore  = core.WithCredentialStore
	WithKeyLocker        = core.WithKeyLocker
	WithRegistry         = core.WithRegistry
	WithBackoffScheduler = core.WithBackoffScheduler
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewBroker(cfg Config, opts ...Option) (*Broker, error) {
	return core.NewBroker(cfg, opts...)
}
