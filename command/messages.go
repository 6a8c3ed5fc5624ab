package command

import (
	"fmt"
	"strings"

	"github.com/goliatone/go-connectors/core"
	"github.com/goliatone/go-connectors/invoke"
)

const (
	TypeAuthorize = "connectors.command.authorize"
	TypeRefresh   = "connectors.command.refresh"
	TypeRevoke    = "connectors.command.revoke"
	TypeInvoke    = "connectors.command.invoke"
)

type AuthorizeMessage struct {
	Request core.AuthorizeRequest
}

func (AuthorizeMessage) Type() string { return TypeAuthorize }

func (m AuthorizeMessage) Validate() error {
	if strings.TrimSpace(m.Request.Service) == "" {
		return fmt.Errorf("command: service is required")
	}
	if strings.TrimSpace(m.Request.User) == "" {
		return fmt.Errorf("command: user is required")
	}
	if m.Request.OnAuthURL == nil {
		return fmt.Errorf("command: authorization url callback is required")
	}
	return nil
}

type RefreshMessage struct {
	Service string
	User    string
}

func (RefreshMessage) Type() string { return TypeRefresh }

func (m RefreshMessage) Validate() error {
	if strings.TrimSpace(m.Service) == "" {
		return fmt.Errorf("command: service is required")
	}
	if strings.TrimSpace(m.User) == "" {
		return fmt.Errorf("command: user is required")
	}
	return nil
}

type RevokeMessage struct {
	Service string
	User    string
}

func (RevokeMessage) Type() string { return TypeRevoke }

func (m RevokeMessage) Validate() error {
	if strings.TrimSpace(m.Service) == "" {
		return fmt.Errorf("command: service is required")
	}
	if strings.TrimSpace(m.User) == "" {
		return fmt.Errorf("command: user is required")
	}
	return nil
}

type InvokeMessage struct {
	Request invoke.Request
}

func (InvokeMessage) Type() string { return TypeInvoke }

func (m InvokeMessage) Validate() error {
	if strings.TrimSpace(m.Request.Service) == "" {
		return fmt.Errorf("command: service is required")
	}
	if strings.TrimSpace(m.Request.User) == "" {
		return fmt.Errorf("command: user is required")
	}
	if strings.TrimSpace(m.Request.Method) == "" {
		return fmt.Errorf("command: http method is required")
	}
	if strings.TrimSpace(m.Request.URL) == "" {
		return fmt.Errorf("command: url is required")
	}
	return nil
}
