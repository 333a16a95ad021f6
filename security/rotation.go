package security

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// KeyRotationWindow bounds when a retired key may still decrypt. A zero bound
// is open.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

// GracePeriod keeps a key retired at retiredAt usable for grace more. A
// non-positive grace leaves the window open.
func GracePeriod(retiredAt time.Time, grace time.Duration) KeyRotationWindow {
	if grace <= 0 {
		return KeyRotationWindow{}
	}
	return KeyRotationWindow{NotAfter: retiredAt.UTC().Add(grace)}
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	return !w.notYet(at) && !w.Expired(at)
}

// Expired reports whether the window closed before at.
func (w KeyRotationWindow) Expired(at time.Time) bool {
	return !w.NotAfter.IsZero() && at.UTC().After(w.NotAfter.UTC())
}

func (w KeyRotationWindow) notYet(at time.Time) bool {
	return !w.NotBefore.IsZero() && at.UTC().Before(w.NotBefore.UTC())
}

// RetiredKeys parses a comma separated list of id@version=material entries,
// the form used by deployments that rotate the application key through
// configuration. Every parsed key shares window.
func RetiredKeys(list string, window KeyRotationWindow) ([]Option, error) {
	var opts []Option
	for entry := range strings.SplitSeq(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		ref, material, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(material) == "" {
			return nil, fmt.Errorf("security: retired key %q has no material", ref)
		}
		id, rawVersion, ok := strings.Cut(strings.TrimSpace(ref), "@")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("security: retired key %q must be id@version", ref)
		}
		version, err := strconv.Atoi(rawVersion)
		if err != nil || version < 1 {
			return nil, fmt.Errorf("security: retired key %q has invalid version", ref)
		}
		opts = append(opts, WithRetiredKey(id, version, []byte(material), window))
	}
	return opts, nil
}
