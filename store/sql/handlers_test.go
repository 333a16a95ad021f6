package sqlstore

import (
	"testing"

	"github.com/google/uuid"
)

func TestModelHandlers(t *testing.T) {
	parties := partyHandlers()
	record := parties.NewRecord()
	id := uuid.New()
	parties.SetID(record, id)
	record.PartyKey = " NL:ABC:CPO "
	if parties.GetID(record) != id || record.ID != id.String() {
		t.Fatalf("expected id round trip, got %q", record.ID)
	}
	if parties.GetIdentifier() != "party_key" || parties.GetIdentifierValue(record) != "NL:ABC:CPO" {
		t.Fatalf("unexpected party identifier %q", parties.GetIdentifierValue(record))
	}

	resources := resourceHandlers()
	if resources.GetID(nil) != uuid.Nil || resources.GetIdentifierValue(nil) != "" {
		t.Fatalf("expected nil record to be tolerated")
	}
	resources.SetID(nil, id)
	if got := resources.GetID(&resourceRecord{ID: "not-a-uuid"}); got != uuid.Nil {
		t.Fatalf("expected malformed id to map to uuid.Nil, got %s", got)
	}
}
