package connectors

import (
	"context"
	"fmt"

	connectorscommand "github.com/goliatone/go-connectors/command"
	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/invoke"
	"github.com/goliatone/go-connectors/oauth"
)

// Commands bundles the go-command handlers bound to one facade so hosts can
// register them with their dispatcher in one pass.
type Commands struct {
	Authorize *connectorscommand.AuthorizeCommand
	Refresh   *connectorscommand.RefreshCommand
	Revoke    *connectorscommand.RevokeCommand
	Invoke    *connectorscommand.InvokeCommand
}

// Facade is the connector-facing boundary: token reads, resilient invocation,
// and the interactive authorization flow behind one explicitly constructed
// value. It owns no global state.
type Facade struct {
	broker   *core.Broker
	invoker  *invoke.Invoker
	services *oauth.Registry
	logger   core.Logger
	commands Commands
}

type FacadeOption func(*facadeOptions)

type facadeOptions struct {
	logger core.Logger
}

func WithFacadeLogger(logger core.Logger) FacadeOption {
	return func(options *facadeOptions) {
		options.logger = logger
	}
}

func NewFacade(broker *core.Broker, invoker *invoke.Invoker, services *oauth.Registry, opts ...FacadeOption) (*Facade, error) {
	if broker == nil {
		return nil, fmt.Errorf("connectors: broker is required")
	}
	if invoker == nil {
		return nil, fmt.Errorf("connectors: invoker is required")
	}
	cfg := facadeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&cfg)
	}

	facade := &Facade{
		broker:   broker,
		invoker:  invoker,
		services: services,
		logger:   cfg.logger,
	}
	facade.commands = Commands{
		Authorize: connectorscommand.NewAuthorizeCommand(facade),
		Refresh:   connectorscommand.NewRefreshCommand(facade),
		Revoke:    connectorscommand.NewRevokeCommand(facade),
		Invoke:    connectorscommand.NewInvokeCommand(facade),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Broker() *core.Broker {
	if f == nil {
		return nil
	}
	return f.broker
}

// GetAccessToken returns a usable access token for the request, refreshing
// through the broker when the stored credential is stale.
func (f *Facade) GetAccessToken(ctx context.Context, req core.TokenRequest) (string, error) {
	if f == nil || f.broker == nil {
		return "", fmt.Errorf("connectors: facade broker is required")
	}
	return f.broker.GetAccessToken(ctx, req)
}

func (f *Facade) GetAPIKey(ctx context.Context, service, user, override string) (string, error) {
	if f == nil || f.broker == nil {
		return "", fmt.Errorf("connectors: facade broker is required")
	}
	return f.broker.GetAPIKey(ctx, service, user, override)
}

// Invoke performs one resilient upstream call: token resolution, signing,
// retries, and the single post-401 refresh all happen inside the invoker.
func (f *Facade) Invoke(ctx context.Context, req invoke.Request) (invoke.Response, error) {
	if f == nil || f.invoker == nil {
		return invoke.Response{}, fmt.Errorf("connectors: facade invoker is required")
	}
	res, err := f.invoker.Do(ctx, req)
	if err != nil {
		return invoke.Response{}, err
	}
	if res == nil {
		return invoke.Response{}, fmt.Errorf("connectors: invoker returned no response")
	}
	return *res, nil
}

// Refresh forces a credential refresh regardless of expiry and returns the
// new access token.
func (f *Facade) Refresh(ctx context.Context, service, user string) (string, error) {
	if f == nil || f.broker == nil {
		return "", fmt.Errorf("connectors: facade broker is required")
	}
	return f.broker.ForceRefresh(ctx, service, user)
}

// Revoke deletes the stored credential for (service, user). Revoking an
// absent credential succeeds.
func (f *Facade) Revoke(ctx context.Context, service, user string) error {
	if f == nil || f.broker == nil {
		return fmt.Errorf("connectors: facade broker is required")
	}
	return f.broker.Revoke(ctx, service, user)
}

// Authorize runs the one-shot interactive authorization-code flow for the
// named service and persists the resulting credential through the broker's
// store. It serves the external "auth" command.
func (f *Facade) Authorize(ctx context.Context, req core.AuthorizeRequest) (core.Credential, error) {
	if f == nil || f.broker == nil {
		return core.Credential{}, fmt.Errorf("connectors: facade broker is required")
	}
	if f.services == nil {
		return core.Credential{}, fmt.Errorf("connectors: oauth service registry is required for authorization")
	}
	if err := req.Validate(); err != nil {
		return core.Credential{}, err
	}
	service, ok := f.services.Get(req.Service)
	if !ok {
		return core.Credential{}, fmt.Errorf("connectors: oauth service %q is not registered", req.Service)
	}

	return oauth.RunInteractiveAuthorization(ctx, oauth.Authorizer{
		Service:    service,
		Store:      f.broker.Store(),
		User:       req.User,
		Scopes:     req.Scopes,
		ListenAddr: req.ListenAddr,
		OnAuthURL:  req.OnAuthURL,
		Timeout:    req.Timeout,
		Logger:     f.logger,
	})
}

var _ connectorscommand.MutatingService = (*Facade)(nil)
