package sync

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"pgregory.net/rapid"
)

type patchTarget struct {
	CountryCode string            `json:"country_code"`
	PartyID     string            `json:"party_id"`
	ID          string            `json:"id"`
	Status      string            `json:"status"`
	Meter       string            `json:"meter_id,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Address     *patchAddress     `json:"address,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	LastUpdated time.Time         `json:"last_updated"`
}

type patchAddress struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

func (p patchTarget) ResourceID() string       { return p.ID }
func (p patchTarget) LastUpdatedAt() time.Time { return p.LastUpdated }
func (patchTarget) ImmutableFields() []string {
	return []string{"country_code", "party_id", "id", "address.country"}
}

func (p patchTarget) Validate() error {
	if p.Status == "INVALID" {
		return errors.New("status INVALID is not allowed")
	}
	return nil
}

var patchBase = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newPatchTarget() patchTarget {
	return patchTarget{
		CountryCode: "DE",
		PartyID:     "GEF",
		ID:          "SES-1",
		Status:      "ACTIVE",
		Meter:       "M-1",
		Tags:        []string{"a", "b"},
		Address:     &patchAddress{City: "Berlin", Country: "DEU"},
		LastUpdated: patchBase,
	}
}

func TestApplyPatch_UpdatesFieldsAndRehashes(t *testing.T) {
	current := newPatchTarget()
	before, err := finalize(current)
	if err != nil {
		t.Fatalf("finalize current: %v", err)
	}

	result, err := ApplyPatch(current, []byte(`{"status":"COMPLETED","last_updated":"2024-05-01T12:05:00Z"}`), false, patchBase.Add(time.Hour))
	if err != nil {
		t.Fatalf("apply patch: %v", err)
	}
	if result.Value.Status != "COMPLETED" {
		t.Fatalf("expected status COMPLETED, got %q", result.Value.Status)
	}
	if !result.Value.LastUpdated.Equal(patchBase.Add(5 * time.Minute)) {
		t.Fatalf("expected last_updated from patch, got %s", result.Value.LastUpdated)
	}
	if result.ETag == "" || result.ETag == before.ETag {
		t.Fatalf("expected a new etag, got %q (before %q)", result.ETag, before.ETag)
	}
	if current.Status != "ACTIVE" {
		t.Fatalf("expected current value to stay untouched")
	}
}

func TestApplyPatch_StampsMissingLastUpdated(t *testing.T) {
	now := patchBase.Add(90 * time.Second)
	result, err := ApplyPatch(newPatchTarget(), []byte(`{"status":"COMPLETED"}`), false, now)
	if err != nil {
		t.Fatalf("apply patch: %v", err)
	}
	if !result.Value.LastUpdated.Equal(now) {
		t.Fatalf("expected stamped last_updated %s, got %s", now, result.Value.LastUpdated)
	}

	nullStamp, err := ApplyPatch(newPatchTarget(), []byte(`{"last_updated":null}`), false, now)
	if err != nil {
		t.Fatalf("apply null last_updated: %v", err)
	}
	if !nullStamp.Value.LastUpdated.Equal(now) {
		t.Fatalf("expected null last_updated to be stamped")
	}
}

func TestApplyPatch_NullRemovesAndArraysReplace(t *testing.T) {
	result, err := ApplyPatch(
		newPatchTarget(),
		[]byte(`{"meter_id":null,"tags":["z"],"address":{"city":"Hamburg"},"last_updated":"2024-05-02T00:00:00Z"}`),
		false,
		patchBase,
	)
	if err != nil {
		t.Fatalf("apply patch: %v", err)
	}
	if result.Value.Meter != "" {
		t.Fatalf("expected meter_id removed, got %q", result.Value.Meter)
	}
	if len(result.Value.Tags) != 1 || result.Value.Tags[0] != "z" {
		t.Fatalf("expected tags replaced wholesale, got %v", result.Value.Tags)
	}
	if result.Value.Address == nil || result.Value.Address.City != "Hamburg" || result.Value.Address.Country != "DEU" {
		t.Fatalf("expected nested merge to keep country, got %+v", result.Value.Address)
	}
	if bytes.Contains(result.Document, []byte("meter_id")) {
		t.Fatalf("expected canonical document without meter_id: %s", result.Document)
	}
}

func TestApplyPatch_RejectsImmutableFields(t *testing.T) {
	cases := map[string]string{
		"top level":        `{"id":"SES-2","status":"COMPLETED"}`,
		"same value":       `{"country_code":"DE"}`,
		"nested path":      `{"address":{"country":"NLD"}}`,
		"with other field": `{"status":"COMPLETED","party_id":"XYZ","last_updated":"2030-01-01T00:00:00Z"}`,
	}
	for name, patch := range cases {
		t.Run(name, func(t *testing.T) {
			current := newPatchTarget()
			_, err := ApplyPatch(current, []byte(patch), false, patchBase.Add(time.Hour))
			if !errors.Is(err, ErrImmutableField) {
				t.Fatalf("expected ErrImmutableField, got %v", err)
			}
			if current.Status != "ACTIVE" || current.ID != "SES-1" {
				t.Fatalf("expected no partial application")
			}
		})
	}
}

func TestApplyPatch_RejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"not json":           `{"status":`,
		"array":              `["status"]`,
		"null":               `null`,
		"numeric timestamp":  `{"last_updated":12345}`,
		"bad timestamp":      `{"last_updated":"yesterday"}`,
		"type mismatch":      `{"status":42,"last_updated":"2030-01-01T00:00:00Z"}`,
		"fails validation":   `{"status":"INVALID","last_updated":"2030-01-01T00:00:00Z"}`,
		"trailing documents": `{"status":"A"} {"status":"B"}`,
	}
	for name, patch := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ApplyPatch(newPatchTarget(), []byte(patch), false, patchBase)
			if !errors.Is(err, ErrMalformedPatch) {
				t.Fatalf("expected ErrMalformedPatch, got %v", err)
			}
		})
	}
}

func TestApplyPatch_AllowDowngradesOverride(t *testing.T) {
	patch := []byte(`{"status":"COMPLETED","last_updated":"2020-01-01T00:00:00Z"}`)
	if _, err := ApplyPatch(newPatchTarget(), patch, false, patchBase); !errors.Is(err, ErrDowngradeRejected) {
		t.Fatalf("expected downgrade rejection, got %v", err)
	}
	result, err := ApplyPatch(newPatchTarget(), patch, true, patchBase)
	if err != nil {
		t.Fatalf("apply with allowDowngrades: %v", err)
	}
	if result.Value.LastUpdated.Year() != 2020 {
		t.Fatalf("expected downgraded last_updated to be accepted")
	}
}

func TestApplyPatch_LastUpdatedOnlyPatchChangesOnlyTimestamp(t *testing.T) {
	current := newPatchTarget()
	before, err := finalize(current)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	newer := patchBase.Add(time.Minute)

	result, err := ApplyPatch(current, []byte(`{"last_updated":"`+newer.Format(time.RFC3339Nano)+`"}`), false, patchBase)
	if err != nil {
		t.Fatalf("apply patch: %v", err)
	}
	if !result.Value.LastUpdated.Equal(newer) {
		t.Fatalf("expected last_updated %s, got %s", newer, result.Value.LastUpdated)
	}
	if result.ETag == before.ETag {
		t.Fatalf("expected a new etag after last_updated moved")
	}

	var beforeDoc, afterDoc map[string]any
	if err := json.Unmarshal(before.Document, &beforeDoc); err != nil {
		t.Fatalf("decode before: %v", err)
	}
	if err := json.Unmarshal(result.Document, &afterDoc); err != nil {
		t.Fatalf("decode after: %v", err)
	}
	delete(beforeDoc, LastUpdatedField)
	delete(afterDoc, LastUpdatedField)
	if !reflect.DeepEqual(beforeDoc, afterDoc) {
		t.Fatalf("expected only last_updated to change\nbefore: %v\nafter:  %v", beforeDoc, afterDoc)
	}

	aligned := result.Value
	aligned.LastUpdated = current.LastUpdated
	again, err := finalize(aligned)
	if err != nil {
		t.Fatalf("finalize aligned: %v", err)
	}
	if again.ETag != before.ETag {
		t.Fatalf("expected etag to match once timestamps are aligned")
	}
}

func TestApplyPatch_DowngradeLeavesCurrentUnchanged(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		current := newPatchTarget()
		snapshot, err := json.Marshal(current)
		if err != nil {
			t.Fatalf("marshal current: %v", err)
		}
		back := time.Duration(rapid.Int64Range(0, int64(365*24*time.Hour)).Draw(t, "back"))
		status := rapid.StringMatching(`[A-Z]{1,12}`).Draw(t, "status")
		stamp := current.LastUpdated.Add(-back).Format(time.RFC3339Nano)
		patch := []byte(`{"status":"` + status + `","last_updated":"` + stamp + `"}`)

		_, err = ApplyPatch(current, patch, false, patchBase.Add(time.Hour))
		if !errors.Is(err, ErrDowngradeRejected) {
			t.Fatalf("expected ErrDowngradeRejected for %s, got %v", stamp, err)
		}
		after, err := json.Marshal(current)
		if err != nil {
			t.Fatalf("marshal after: %v", err)
		}
		if !bytes.Equal(snapshot, after) {
			t.Fatalf("expected byte-identical current after rejection")
		}
	})
}

func TestMergeJSON_DoesNotMutateInputs(t *testing.T) {
	current := []byte(`{"a":{"b":1,"c":2},"last_updated":"2024-01-01T00:00:00Z"}`)
	patch := []byte(`{"a":{"b":null}}`)
	currentCopy := append([]byte(nil), current...)
	patchCopy := append([]byte(nil), patch...)

	merged, err := MergeJSON(current, patch, PatchRules{Now: func() time.Time { return patchBase }})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !bytes.Equal(current, currentCopy) || !bytes.Equal(patch, patchCopy) {
		t.Fatalf("expected inputs untouched")
	}
	if strings.Contains(string(merged), `"b"`) {
		t.Fatalf("expected b removed, got %s", merged)
	}
	if !strings.Contains(string(merged), `"c":2`) {
		t.Fatalf("expected c kept, got %s", merged)
	}
}

func TestApplyReplace_Guards(t *testing.T) {
	current := newPatchTarget()
	next := newPatchTarget()
	next.Status = "COMPLETED"

	if _, err := ApplyReplace(&current, next, false); !errors.Is(err, ErrDowngradeRejected) {
		t.Fatalf("expected equal timestamp to be rejected, got %v", err)
	}

	next.LastUpdated = patchBase.Add(time.Second)
	result, err := ApplyReplace(&current, next, false)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if result.Value.Status != "COMPLETED" {
		t.Fatalf("expected replaced value")
	}

	created, err := ApplyReplace[patchTarget](nil, next, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ETag != result.ETag {
		t.Fatalf("expected same etag for same document")
	}

	missing := next
	missing.LastUpdated = time.Time{}
	if _, err := ApplyReplace[patchTarget](nil, missing, false); !errors.Is(err, ErrMalformedPatch) {
		t.Fatalf("expected missing last_updated to be malformed, got %v", err)
	}

	other := next
	other.ID = "SES-9"
	if _, err := ApplyReplace(&current, other, false); !errors.Is(err, ErrImmutableField) {
		t.Fatalf("expected id change to be rejected, got %v", err)
	}
}
