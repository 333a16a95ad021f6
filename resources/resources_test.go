package resources

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/goliatone/go-ocpi/canonical"
	"github.com/goliatone/go-ocpi/core"
	"github.com/goliatone/go-ocpi/sync"
	"pgregory.net/rapid"
)

var (
	testOwner = core.NewPartyID("NL", "ABC", core.RoleCPO)
	baseTime  = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
)

func testSession(lastUpdated time.Time) Session {
	return Session{
		CountryCode:   "NL",
		PartyID:       "ABC",
		ID:            "SES-42",
		StartDateTime: NewTimestamp(baseTime),
		KWh:           11.5,
		CDRToken:      CDRToken{CountryCode: "DE", PartyID: "XYZ", UID: "TOK-1", Type: "RFID", ContractID: "DE-XYZ-C1"},
		AuthMethod:    "WHITELIST",
		LocationID:    "LOC-1",
		EVSEUID:       "EVSE-1",
		ConnectorID:   "1",
		Currency:      "EUR",
		Status:        "ACTIVE",
		LastUpdated:   NewTimestamp(lastUpdated),
	}
}

func testCDR() CDR {
	return CDR{
		CountryCode:   "NL",
		PartyID:       "ABC",
		ID:            "CDR-1",
		StartDateTime: NewTimestamp(baseTime),
		EndDateTime:   NewTimestamp(baseTime.Add(time.Hour)),
		CDRToken:      CDRToken{CountryCode: "DE", PartyID: "XYZ", UID: "TOK-1", Type: "RFID", ContractID: "DE-XYZ-C1"},
		AuthMethod:    "WHITELIST",
		CDRLocation:   CDRLocation{ID: "LOC-1", Address: "Main 1", City: "Utrecht", Country: "NLD", EVSEUID: "EVSE-1", EVSEID: "NL*ABC*E1", ConnectorID: "1", ConnectorStandard: "IEC_62196_T2", ConnectorFormat: "SOCKET", ConnectorPowerType: "AC_3_PHASE"},
		Currency:      "EUR",
		TotalCost:     Price{ExclVAT: 4.2},
		TotalEnergy:   11.5,
		TotalTime:     1,
		LastUpdated:   NewTimestamp(baseTime.Add(time.Hour)),
	}
}

func newOrchestrator() *sync.Orchestrator {
	return sync.NewOrchestrator(core.NewPartyRegistry(nil, nil), Register(nil))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestRegister_BindsEveryModule(t *testing.T) {
	catalog := Register(nil)
	if got := catalog.Modules(); !reflect.DeepEqual(got, Modules()) {
		t.Fatalf("expected %v, got %v", Modules(), got)
	}
}

func TestSession_PutAndPatchThroughOrchestrator(t *testing.T) {
	o := newOrchestrator()
	ctx := context.Background()

	session := testSession(baseTime)
	stored, err := o.Put(ctx, testOwner, ModuleSessions, session.ID, mustJSON(t, session))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if want := canonical.MustHash(session, ""); stored.ETag != want {
		t.Fatalf("expected etag %q, got %q", want, stored.ETag)
	}

	patched, err := o.Patch(ctx, testOwner, ModuleSessions, session.ID, []byte(`{"kwh":20,"status":"COMPLETED","last_updated":"2024-06-01T09:00:00Z"}`))
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	decoded, err := o.Catalog().Decode(ModuleSessions, patched.Document)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := decoded.(Session)
	if got.KWh != 20 || got.Status != "COMPLETED" || got.CDRToken.UID != "TOK-1" {
		t.Fatalf("unexpected patched session %+v", got)
	}

	if _, err := o.Patch(ctx, testOwner, ModuleSessions, session.ID, []byte(`{"party_id":"OTH"}`)); !errors.Is(err, sync.ErrImmutableField) {
		t.Fatalf("expected party_id to be immutable, got %v", err)
	}
	if _, err := o.Patch(ctx, testOwner, ModuleSessions, session.ID, []byte(`{"currency":"EURO"}`)); !errors.Is(err, sync.ErrMalformedPatch) {
		t.Fatalf("expected invalid currency to fail validation, got %v", err)
	}
}

func TestCDR_IsFinalOnceStored(t *testing.T) {
	o := newOrchestrator()
	ctx := context.Background()
	cdr := testCDR()
	if _, err := o.Put(ctx, testOwner, ModuleCDRs, cdr.ID, mustJSON(t, cdr)); err != nil {
		t.Fatalf("put: %v", err)
	}
	for _, patch := range []string{`{"total_cost":{"excl_vat":1}}`, `{"cdr_token":{"uid":"X"}}`, `{"total_energy":1}`} {
		if _, err := o.Patch(ctx, testOwner, ModuleCDRs, cdr.ID, []byte(patch)); !errors.Is(err, sync.ErrImmutableField) {
			t.Fatalf("expected %s to be refused, got %v", patch, err)
		}
	}

	backwards := testCDR()
	backwards.ID = "CDR-2"
	backwards.EndDateTime = NewTimestamp(baseTime.Add(-time.Hour))
	if _, err := o.Put(ctx, testOwner, ModuleCDRs, backwards.ID, mustJSON(t, backwards)); !errors.Is(err, sync.ErrMalformedPatch) {
		t.Fatalf("expected reversed times to fail validation, got %v", err)
	}
}

func TestToken_UsesUIDAsIdentifier(t *testing.T) {
	o := newOrchestrator()
	ctx := context.Background()
	token := Token{
		CountryCode: "NL", PartyID: "ABC", UID: "012345678", Type: "RFID",
		ContractID: "NL-ABC-C1", Issuer: "ABC", Valid: true, Whitelist: "ALWAYS",
		LastUpdated: NewTimestamp(baseTime),
	}
	if _, err := o.Put(ctx, testOwner, ModuleTokens, token.UID, mustJSON(t, token)); err != nil {
		t.Fatalf("put: %v", err)
	}
	patched, err := o.Patch(ctx, testOwner, ModuleTokens, token.UID, []byte(`{"valid":false,"last_updated":"2024-06-01T08:30:00Z"}`))
	if err != nil {
		t.Fatalf("patch: %v", err)
	}
	decoded, _ := o.Catalog().Decode(ModuleTokens, patched.Document)
	if decoded.(Token).Valid {
		t.Fatalf("expected token to be invalidated")
	}
	if _, err := o.Patch(ctx, testOwner, ModuleTokens, token.UID, []byte(`{"uid":"other"}`)); !errors.Is(err, sync.ErrImmutableField) {
		t.Fatalf("expected uid to be immutable, got %v", err)
	}
}

func TestTariff_RequiresPriceComponents(t *testing.T) {
	tariff := Tariff{
		CountryCode: "NL", PartyID: "ABC", ID: "T-1", Currency: "EUR",
		Elements:    []TariffElement{{PriceComponents: []PriceComponent{{Type: "ENERGY", Price: 0.25, StepSize: 1}}}},
		LastUpdated: NewTimestamp(baseTime),
	}
	if err := tariff.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	tariff.Elements[0].PriceComponents = nil
	if err := tariff.Validate(); err == nil {
		t.Fatalf("expected empty element to be refused")
	}
}

func TestConnector_ValidatesRequiredFields(t *testing.T) {
	connector := Connector{ID: "1", Standard: "IEC_62196_T2", Format: "SOCKET", PowerType: "AC_3_PHASE", LastUpdated: NewTimestamp(baseTime)}
	if err := connector.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	connector.Format = ""
	if err := connector.Validate(); err == nil {
		t.Fatalf("expected missing format to be refused")
	}
}

func TestDecimal_SerializesFourFractionDigits(t *testing.T) {
	cases := map[Decimal]string{
		1:        "1",
		0.25:     "0.25",
		1.23456:  "1.2346",
		10.10000: "10.1",
	}
	for value, want := range cases {
		raw, err := json.Marshal(value)
		if err != nil {
			t.Fatalf("marshal %v: %v", value, err)
		}
		if string(raw) != want {
			t.Fatalf("expected %s, got %s", want, raw)
		}
	}
	var parsed Decimal
	if err := json.Unmarshal([]byte(`2.500049`), &parsed); err != nil || parsed != 2.5 {
		t.Fatalf("expected rounding on decode, got %v %v", parsed, err)
	}
}

func TestTimestamp_RejectsNonRFC3339(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte(`"2024-06-01 08:00"`), &ts); err == nil {
		t.Fatalf("expected invalid timestamp to fail")
	}
	if err := json.Unmarshal([]byte(`"2024-06-01T10:00:00+02:00"`), &ts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !ts.Time().Equal(baseTime) || ts.Time().Location() != time.UTC {
		t.Fatalf("expected UTC normalization, got %s", ts.Time())
	}
}

func TestSession_HashIsStableAcrossRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		session := testSession(baseTime.Add(time.Duration(rapid.IntRange(0, 86400).Draw(t, "offset")) * time.Second))
		session.KWh = float64(rapid.IntRange(0, 100000).Draw(t, "wh")) / 1000
		session.Status = rapid.SampledFrom([]string{"ACTIVE", "COMPLETED", "INVALID", "PENDING"}).Draw(t, "status")
		if rapid.Bool().Draw(t, "ended") {
			end := NewTimestamp(baseTime.Add(2 * time.Hour))
			session.EndDateTime = &end
		}

		raw, err := json.Marshal(session)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded Session
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if canonical.MustHash(session, "") != canonical.MustHash(decoded, "") {
			t.Fatalf("hash changed across round trip for %s", raw)
		}
		if !canonical.Equal(session, decoded) {
			t.Fatalf("canonical form changed for %s", raw)
		}
	})
}
