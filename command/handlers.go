package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-ocpi/core"
)

// PartyService is the mutating side of core.Service the commands drive.
type PartyService interface {
	AddParty(ctx context.Context, in core.AddPartyInput) (core.RemoteParty, error)
	Register(ctx context.Context, id core.PartyID) (core.RemoteAccessInfo, error)
	Renew(ctx context.Context, id core.PartyID) (core.RemoteAccessInfo, error)
	Unregister(ctx context.Context, id core.PartyID) error
	SetLocalAccessStatus(ctx context.Context, id core.PartyID, token string, status core.LocalAccessStatus) (core.RemoteParty, error)
	SetPartyStatus(ctx context.Context, id core.PartyID, status core.PartyStatus) (core.RemoteParty, error)
}

type AddPartyCommand struct {
	service PartyService
}

func NewAddPartyCommand(service PartyService) *AddPartyCommand {
	return &AddPartyCommand{service: service}
}

func (c *AddPartyCommand) Execute(ctx context.Context, msg AddPartyMessage) error {
	if c == nil || c.service == nil {
		return notConfigured(msg.Type(), "party service")
	}
	out, err := c.service.AddParty(ctx, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RegisterPartyCommand struct {
	service PartyService
}

func NewRegisterPartyCommand(service PartyService) *RegisterPartyCommand {
	return &RegisterPartyCommand{service: service}
}

func (c *RegisterPartyCommand) Execute(ctx context.Context, msg RegisterPartyMessage) error {
	if c == nil || c.service == nil {
		return notConfigured(msg.Type(), "register service")
	}
	out, err := c.service.Register(ctx, msg.Party)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RenewCredentialsCommand struct {
	service PartyService
}

func NewRenewCredentialsCommand(service PartyService) *RenewCredentialsCommand {
	return &RenewCredentialsCommand{service: service}
}

func (c *RenewCredentialsCommand) Execute(ctx context.Context, msg RenewCredentialsMessage) error {
	if c == nil || c.service == nil {
		return notConfigured(msg.Type(), "renew service")
	}
	out, err := c.service.Renew(ctx, msg.Party)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UnregisterPartyCommand struct {
	service PartyService
}

func NewUnregisterPartyCommand(service PartyService) *UnregisterPartyCommand {
	return &UnregisterPartyCommand{service: service}
}

func (c *UnregisterPartyCommand) Execute(ctx context.Context, msg UnregisterPartyMessage) error {
	if c == nil || c.service == nil {
		return notConfigured(msg.Type(), "unregister service")
	}
	return c.service.Unregister(ctx, msg.Party)
}

type SetLocalAccessStatusCommand struct {
	service PartyService
}

func NewSetLocalAccessStatusCommand(service PartyService) *SetLocalAccessStatusCommand {
	return &SetLocalAccessStatusCommand{service: service}
}

func (c *SetLocalAccessStatusCommand) Execute(ctx context.Context, msg SetLocalAccessStatusMessage) error {
	if c == nil || c.service == nil {
		return notConfigured(msg.Type(), "local access service")
	}
	out, err := c.service.SetLocalAccessStatus(ctx, msg.Party, msg.Token, msg.Status)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type SetPartyStatusCommand struct {
	service PartyService
}

func NewSetPartyStatusCommand(service PartyService) *SetPartyStatusCommand {
	return &SetPartyStatusCommand{service: service}
}

func (c *SetPartyStatusCommand) Execute(ctx context.Context, msg SetPartyStatusMessage) error {
	if c == nil || c.service == nil {
		return notConfigured(msg.Type(), "party status service")
	}
	out, err := c.service.SetPartyStatus(ctx, msg.Party, msg.Status)
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
