package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// row is implemented by the stored models. Both methods accept a nil
// receiver.
type row interface {
	primaryKey() *string
	lookupKey() string
}

func (r *partyRecord) primaryKey() *string {
	if r == nil {
		return nil
	}
	return &r.ID
}

// Parties are looked up by their country/party/role key.
func (r *partyRecord) lookupKey() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.PartyKey)
}

func (r *resourceRecord) primaryKey() *string {
	if r == nil {
		return nil
	}
	return &r.ID
}

// Resource ids are only unique per module and owner, so the surrogate id is
// the lookup key.
func (r *resourceRecord) lookupKey() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.ID)
}

func modelHandlers[R row](newRecord func() R, identifier string) repository.ModelHandlers[R] {
	return repository.ModelHandlers[R]{
		NewRecord: newRecord,
		GetID: func(record R) uuid.UUID {
			if key := record.primaryKey(); key != nil {
				if id, err := uuid.Parse(strings.TrimSpace(*key)); err == nil {
					return id
				}
			}
			return uuid.Nil
		},
		SetID: func(record R, id uuid.UUID) {
			if key := record.primaryKey(); key != nil {
				*key = id.String()
			}
		},
		GetIdentifier:      func() string { return identifier },
		GetIdentifierValue: func(record R) string { return record.lookupKey() },
	}
}

func partyHandlers() repository.ModelHandlers[*partyRecord] {
	return modelHandlers(func() *partyRecord { return &partyRecord{} }, "party_key")
}

func resourceHandlers() repository.ModelHandlers[*resourceRecord] {
	return modelHandlers(func() *resourceRecord { return &resourceRecord{} }, "id")
}
