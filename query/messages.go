package query

import (
	"strings"

	"github.com/goliatone/go-ocpi/core"
)

const (
	TypeGetParty       = "ocpi.query.party.get"
	TypeListParties    = "ocpi.query.party.list"
	TypeAuthorizeToken = "ocpi.query.token.authorize"
)

type GetPartyMessage struct {
	Party core.PartyID
}

func (GetPartyMessage) Type() string { return TypeGetParty }

func (m GetPartyMessage) Validate() error {
	id := core.NewPartyID(m.Party.CountryCode, m.Party.PartyID, m.Party.Role)
	if err := id.Validate(); err != nil {
		return rejectQuery(m.Type(), "party", "invalid party id", err)
	}
	return nil
}

// ListPartiesMessage narrows the listing. Zero values match every party.
type ListPartiesMessage struct {
	Status      core.PartyStatus
	CountryCode string
}

func (ListPartiesMessage) Type() string { return TypeListParties }

func (ListPartiesMessage) Validate() error { return nil }

type AuthorizeTokenMessage struct {
	Token string
}

func (AuthorizeTokenMessage) Type() string { return TypeAuthorizeToken }

func (m AuthorizeTokenMessage) Validate() error {
	if strings.TrimSpace(m.Token) == "" {
		return rejectQuery(m.Type(), "token", "token is required", nil)
	}
	return nil
}
