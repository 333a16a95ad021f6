package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-ocpi/core"
)

var (
	_ gocmd.Querier[GetPartyMessage, core.RemoteParty]           = (*GetPartyQuery)(nil)
	_ gocmd.Querier[ListPartiesMessage, []core.RemoteParty]      = (*ListPartiesQuery)(nil)
	_ gocmd.Querier[AuthorizeTokenMessage, core.AuthorizedParty] = (*AuthorizeTokenQuery)(nil)

	_ PartyReader     = (*core.Service)(nil)
	_ TokenAuthorizer = (*core.Service)(nil)
)
