package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/ratelimit"
)

type RepositoryFactory struct {
	db      *bun.DB
	codec   core.CredentialCodec
	secrets core.SecretProvider

	credentialStore     *CredentialStore
	rateLimitStateStore *RateLimitStateStore
}

type FactoryOption func(*RepositoryFactory)

// WithCredentialCodec overrides the payload codec used for credential rows.
func WithCredentialCodec(codec core.CredentialCodec) FactoryOption {
	return func(f *RepositoryFactory) {
		if codec != nil {
			f.codec = codec
		}
	}
}

// WithSecretProvider encrypts credential payloads at rest.
func WithSecretProvider(secrets core.SecretProvider) FactoryOption {
	return func(f *RepositoryFactory) {
		f.secrets = secrets
	}
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{
		codec: core.JSONCredentialCodec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.credentialStore != nil && f.rateLimitStateStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) CredentialStore() core.CredentialStore {
	if f == nil {
		return nil
	}
	return f.credentialStore
}

func (f *RepositoryFactory) RateLimitStateStore() ratelimit.StateStore {
	if f == nil {
		return nil
	}
	return f.rateLimitStateStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	credentialRepo := repository.NewRepository[*credentialRecord](f.db, credentialHandlers())
	if validator, ok := credentialRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return fmt.Errorf("sqlstore: invalid credential repository wiring: %w", err)
		}
	}

	f.credentialStore = &CredentialStore{
		db:      f.db,
		repo:    credentialRepo,
		codec:   f.codec,
		secrets: f.secrets,
	}

	rateLimitStateStore, err := NewRateLimitStateStore(f.db)
	if err != nil {
		return err
	}
	f.rateLimitStateStore = rateLimitStateStore

	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
