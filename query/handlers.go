package query

import (
	"context"
	"strings"

	"github.com/goliatone/go-ocpi/core"
)

type PartyReader interface {
	GetParty(ctx context.Context, id core.PartyID) (core.RemoteParty, error)
	ListParties(ctx context.Context) ([]core.RemoteParty, error)
}

type TokenAuthorizer interface {
	Authorize(ctx context.Context, presented string) (core.AuthorizedParty, error)
}

type GetPartyQuery struct {
	reader PartyReader
}

func NewGetPartyQuery(reader PartyReader) *GetPartyQuery {
	return &GetPartyQuery{reader: reader}
}

func (q *GetPartyQuery) Query(ctx context.Context, msg GetPartyMessage) (core.RemoteParty, error) {
	if q == nil || q.reader == nil {
		return core.RemoteParty{}, readerMissing(msg.Type(), "party reader")
	}
	return q.reader.GetParty(ctx, msg.Party)
}

type ListPartiesQuery struct {
	reader PartyReader
}

func NewListPartiesQuery(reader PartyReader) *ListPartiesQuery {
	return &ListPartiesQuery{reader: reader}
}

func (q *ListPartiesQuery) Query(ctx context.Context, msg ListPartiesMessage) ([]core.RemoteParty, error) {
	if q == nil || q.reader == nil {
		return nil, readerMissing(msg.Type(), "party reader")
	}
	parties, err := q.reader.ListParties(ctx)
	if err != nil {
		return nil, err
	}
	countryCode := strings.ToUpper(strings.TrimSpace(msg.CountryCode))
	out := make([]core.RemoteParty, 0, len(parties))
	for _, party := range parties {
		if msg.Status != "" && party.Status != msg.Status {
			continue
		}
		if countryCode != "" && party.ID.CountryCode != countryCode {
			continue
		}
		out = append(out, party)
	}
	return out, nil
}

// AuthorizeTokenQuery resolves the party a presented token belongs to, the
// same way the inbound router does.
type AuthorizeTokenQuery struct {
	authorizer TokenAuthorizer
}

func NewAuthorizeTokenQuery(authorizer TokenAuthorizer) *AuthorizeTokenQuery {
	return &AuthorizeTokenQuery{authorizer: authorizer}
}

func (q *AuthorizeTokenQuery) Query(ctx context.Context, msg AuthorizeTokenMessage) (core.AuthorizedParty, error) {
	if q == nil || q.authorizer == nil {
		return core.AuthorizedParty{}, readerMissing(msg.Type(), "token authorizer")
	}
	return q.authorizer.Authorize(ctx, msg.Token)
}
