package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-ocpi/canonical"
)

const LastUpdatedField = "last_updated"

// Resource is the shape every synchronized OCPI object shares.
type Resource interface {
	ResourceID() string
	LastUpdatedAt() time.Time
	// ImmutableFields lists dotted JSON paths a patch may never carry.
	ImmutableFields() []string
}

type Validator interface {
	Validate() error
}

type PatchRules struct {
	ImmutableFields []string
	AllowDowngrades bool
	Now             func() time.Time
}

type PatchResult[T any] struct {
	Value    T
	ETag     string
	Document []byte
}

// MergeJSON applies patch onto current as a JSON merge patch guarded by the
// immutable field list and the last_updated watermark. Neither input is
// modified; on error no merged document is returned.
func MergeJSON(current []byte, patch []byte, rules PatchRules) ([]byte, error) {
	currentDoc, err := decodeObject(current)
	if err != nil {
		return nil, malformedError(err, "sync: current document is not a JSON object")
	}
	patchDoc, err := decodeObject(patch)
	if err != nil {
		return nil, malformedError(err, "sync: patch is not a JSON object")
	}

	immutable := make(map[string]struct{}, len(rules.ImmutableFields))
	for _, field := range rules.ImmutableFields {
		if field = strings.TrimSpace(field); field != "" {
			immutable[field] = struct{}{}
		}
	}
	if err := checkImmutable(patchDoc, immutable, ""); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if rules.Now != nil {
		now = rules.Now().UTC()
	}
	if err := guardLastUpdated(currentDoc, patchDoc, rules.AllowDowngrades, now); err != nil {
		return nil, err
	}

	merged := mergeObjects(currentDoc, patchDoc)
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, malformedError(err, "sync: encode merged document")
	}
	return out, nil
}

// ApplyPatch merges patch into current and re-parses the result into T,
// returning the validated value together with its recomputed ETag.
func ApplyPatch[T Resource](current T, patch []byte, allowDowngrades bool, now time.Time) (PatchResult[T], error) {
	currentJSON, err := canonical.Marshal(current)
	if err != nil {
		return PatchResult[T]{}, malformedError(err, "sync: encode current resource")
	}
	merged, err := MergeJSON(currentJSON, patch, PatchRules{
		ImmutableFields: current.ImmutableFields(),
		AllowDowngrades: allowDowngrades,
		Now:             func() time.Time { return now },
	})
	if err != nil {
		return PatchResult[T]{}, err
	}

	var next T
	if err := json.Unmarshal(merged, &next); err != nil {
		return PatchResult[T]{}, malformedError(err, "sync: patched document does not fit the resource type")
	}
	if next.ResourceID() != current.ResourceID() {
		return PatchResult[T]{}, immutableFieldError("id")
	}
	return finalize(next)
}

// ApplyReplace validates a full replacement of current (nil when the resource
// does not exist yet) with next.
func ApplyReplace[T Resource](current *T, next T, allowDowngrades bool) (PatchResult[T], error) {
	if strings.TrimSpace(next.ResourceID()) == "" {
		return PatchResult[T]{}, malformedError(nil, "sync: resource id is required")
	}
	if next.LastUpdatedAt().IsZero() {
		return PatchResult[T]{}, malformedError(nil, "sync: "+LastUpdatedField+" is required")
	}
	if current != nil {
		existing := *current
		if existing.ResourceID() != next.ResourceID() {
			return PatchResult[T]{}, immutableFieldError("id")
		}
		if !allowDowngrades && !next.LastUpdatedAt().After(existing.LastUpdatedAt()) {
			return PatchResult[T]{}, downgradeError(
				LastUpdatedField,
				existing.LastUpdatedAt().UTC().Format(time.RFC3339Nano),
				next.LastUpdatedAt().UTC().Format(time.RFC3339Nano),
			)
		}
	}
	return finalize(next)
}

func finalize[T Resource](value T) (PatchResult[T], error) {
	if validator, ok := any(value).(Validator); ok {
		if err := validator.Validate(); err != nil {
			return PatchResult[T]{}, malformedError(err, "sync: "+err.Error())
		}
	}
	document, err := canonical.Marshal(value)
	if err != nil {
		return PatchResult[T]{}, malformedError(err, "sync: encode resource")
	}
	etag, err := canonical.Sum(document, canonical.EncodingOf(value))
	if err != nil {
		return PatchResult[T]{}, malformedError(err, "sync: hash resource")
	}
	return PatchResult[T]{Value: value, ETag: etag, Document: document}, nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("document is null")
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after document")
	}
	return out, nil
}

func checkImmutable(patch map[string]any, immutable map[string]struct{}, prefix string) error {
	for key, value := range patch {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if _, locked := immutable[path]; locked {
			return immutableFieldError(path)
		}
		if nested, ok := value.(map[string]any); ok {
			if err := checkImmutable(nested, immutable, path); err != nil {
				return err
			}
		}
	}
	return nil
}

// guardLastUpdated stamps a missing last_updated and rejects regressions.
// It writes into patch, which is always a freshly decoded document.
func guardLastUpdated(current map[string]any, patch map[string]any, allowDowngrades bool, now time.Time) error {
	raw, present := patch[LastUpdatedField]
	if !present || raw == nil {
		patch[LastUpdatedField] = now.Format(time.RFC3339Nano)
		return nil
	}
	proposedText, ok := raw.(string)
	if !ok {
		return malformedError(nil, "sync: "+LastUpdatedField+" must be a timestamp string")
	}
	proposed, err := time.Parse(time.RFC3339Nano, proposedText)
	if err != nil {
		return malformedError(err, "sync: "+LastUpdatedField+" "+proposedText+" is not RFC 3339")
	}
	if allowDowngrades {
		return nil
	}
	currentText, ok := current[LastUpdatedField].(string)
	if !ok || strings.TrimSpace(currentText) == "" {
		return nil
	}
	existing, err := time.Parse(time.RFC3339Nano, currentText)
	if err != nil {
		return nil
	}
	if !proposed.After(existing) {
		return downgradeError(LastUpdatedField, currentText, proposedText)
	}
	return nil
}

func mergeObjects(current map[string]any, patch map[string]any) map[string]any {
	out := make(map[string]any, len(current)+len(patch))
	for key, value := range current {
		out[key] = value
	}
	for key, value := range patch {
		if value == nil {
			delete(out, key)
			continue
		}
		patchObject, patchIsObject := value.(map[string]any)
		currentObject, currentIsObject := out[key].(map[string]any)
		if patchIsObject && currentIsObject {
			out[key] = mergeObjects(currentObject, patchObject)
			continue
		}
		if patchIsObject {
			out[key] = mergeObjects(map[string]any{}, patchObject)
			continue
		}
		out[key] = value
	}
	return out
}
