package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/invoke"
)

// MutatingService is the connector-facing boundary the command handlers
// delegate to. The root facade implements it.
type MutatingService interface {
	Authorize(ctx context.Context, req core.AuthorizeRequest) (core.Credential, error)
	Refresh(ctx context.Context, service, user string) (string, error)
	Revoke(ctx context.Context, service, user string) error
	Invoke(ctx context.Context, req invoke.Request) (invoke.Response, error)
}

type AuthorizeCommand struct {
	service MutatingService
}

func NewAuthorizeCommand(service MutatingService) *AuthorizeCommand {
	return &AuthorizeCommand{service: service}
}

func (c *AuthorizeCommand) Execute(ctx context.Context, msg AuthorizeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: authorize service is required")
	}
	out, err := c.service.Authorize(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshCommand struct {
	service MutatingService
}

func NewRefreshCommand(service MutatingService) *RefreshCommand {
	return &RefreshCommand{service: service}
}

func (c *RefreshCommand) Execute(ctx context.Context, msg RefreshMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: refresh service is required")
	}
	out, err := c.service.Refresh(ctx, msg.Service, msg.User)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RevokeCommand struct {
	service MutatingService
}

func NewRevokeCommand(service MutatingService) *RevokeCommand {
	return &RevokeCommand{service: service}
}

func (c *RevokeCommand) Execute(ctx context.Context, msg RevokeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: revoke service is required")
	}
	return c.service.Revoke(ctx, msg.Service, msg.User)
}

type InvokeCommand struct {
	service MutatingService
}

func NewInvokeCommand(service MutatingService) *InvokeCommand {
	return &InvokeCommand{service: service}
}

func (c *InvokeCommand) Execute(ctx context.Context, msg InvokeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: invoke service is required")
	}
	out, err := c.service.Invoke(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
