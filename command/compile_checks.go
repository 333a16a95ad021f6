package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-ocpi/core"
)

var (
	_ gocmd.Commander[AddPartyMessage]             = (*AddPartyCommand)(nil)
	_ gocmd.Commander[RegisterPartyMessage]        = (*RegisterPartyCommand)(nil)
	_ gocmd.Commander[RenewCredentialsMessage]     = (*RenewCredentialsCommand)(nil)
	_ gocmd.Commander[UnregisterPartyMessage]      = (*UnregisterPartyCommand)(nil)
	_ gocmd.Commander[SetLocalAccessStatusMessage] = (*SetLocalAccessStatusCommand)(nil)
	_ gocmd.Commander[SetPartyStatusMessage]       = (*SetPartyStatusCommand)(nil)

	_ PartyService = (*core.Service)(nil)
)
