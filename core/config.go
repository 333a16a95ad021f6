package core

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultRequestTimeout     = 30 * time.Second
	defaultMaxNumberOfRetries = 3
	defaultBackoffInitial     = 500 * time.Millisecond
	defaultBackoffMax         = 10 * time.Second
	defaultBackoffJitter      = 0.2
)

// LocalPartyConfig describes the party this process runs as.
type LocalPartyConfig struct {
	CountryCode string `koanf:"country_code" mapstructure:"country_code"`
	PartyID     string `koanf:"party_id" mapstructure:"party_id"`
	Role        string `koanf:"role" mapstructure:"role"`
	Name        string `koanf:"name" mapstructure:"name"`
	Website     string `koanf:"website" mapstructure:"website"`
}

func (c LocalPartyConfig) ID() PartyID {
	return NewPartyID(c.CountryCode, c.PartyID, Role(c.Role))
}

func (c LocalPartyConfig) CredentialsRole() CredentialsRole {
	return CredentialsRole{
		Role:        Role(strings.ToUpper(strings.TrimSpace(c.Role))),
		CountryCode: strings.ToUpper(strings.TrimSpace(c.CountryCode)),
		PartyID:     strings.ToUpper(strings.TrimSpace(c.PartyID)),
		BusinessDetails: BusinessDetails{
			Name:    strings.TrimSpace(c.Name),
			Website: strings.TrimSpace(c.Website),
		},
	}
}

type TransportConfig struct {
	RequestTimeout     time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
	MaxNumberOfRetries int           `koanf:"max_number_of_retries" mapstructure:"max_number_of_retries"`
	BackoffInitial     time.Duration `koanf:"backoff_initial" mapstructure:"backoff_initial"`
	BackoffMax         time.Duration `koanf:"backoff_max" mapstructure:"backoff_max"`
	BackoffJitter      float64       `koanf:"backoff_jitter" mapstructure:"backoff_jitter"`
}

type PatchConfig struct {
	AllowDowngrades bool `koanf:"allow_downgrades" mapstructure:"allow_downgrades"`
}

type Config struct {
	ServiceName      string           `koanf:"service_name" mapstructure:"service_name"`
	VersionsURL      string           `koanf:"versions_url" mapstructure:"versions_url"`
	Versions         []string         `koanf:"versions" mapstructure:"versions"`
	PreferredVersion string           `koanf:"preferred_version" mapstructure:"preferred_version"`
	LocalParty       LocalPartyConfig `koanf:"local_party" mapstructure:"local_party"`
	Transport        TransportConfig  `koanf:"transport" mapstructure:"transport"`
	Patch            PatchConfig      `koanf:"patch" mapstructure:"patch"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:      "ocpi",
		Versions:         []string{"2.1.1", "2.2", "2.2.1"},
		PreferredVersion: "2.2.1",
		Transport: TransportConfig{
			RequestTimeout:     defaultRequestTimeout,
			MaxNumberOfRetries: defaultMaxNumberOfRetries,
			BackoffInitial:     defaultBackoffInitial,
			BackoffMax:         defaultBackoffMax,
			BackoffJitter:      defaultBackoffJitter,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if len(c.Versions) == 0 {
		return fmt.Errorf("core: at least one supported version is required")
	}
	for _, version := range c.Versions {
		if !VersionID(version).Valid() {
			return fmt.Errorf("core: invalid version %q", version)
		}
	}
	if preferred := strings.TrimSpace(c.PreferredVersion); preferred != "" && !VersionID(preferred).Valid() {
		return fmt.Errorf("core: invalid preferred_version %q", preferred)
	}
	if c.Transport.MaxNumberOfRetries < 0 {
		return fmt.Errorf("core: transport.max_number_of_retries must not be negative")
	}
	if c.Transport.BackoffJitter < 0 || c.Transport.BackoffJitter > 1 {
		return fmt.Errorf("core: transport.backoff_jitter must be within [0,1]")
	}
	return nil
}

// SupportedVersions returns the configured versions as typed identifiers.
func (c Config) SupportedVersions() []VersionID {
	out := make([]VersionID, 0, len(c.Versions))
	for _, version := range c.Versions {
		if trimmed := strings.TrimSpace(version); trimmed != "" {
			out = append(out, VersionID(trimmed))
		}
	}
	return out
}

// DefaultConnectionConfig is the connection policy applied to parties that
// do not carry their own.
func (c Config) DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		RequestTimeout:     c.Transport.RequestTimeout,
		MaxNumberOfRetries: c.Transport.MaxNumberOfRetries,
		Backoff: ExponentialBackoff{
			Initial: c.Transport.BackoffInitial,
			Max:     c.Transport.BackoffMax,
			Jitter:  c.Transport.BackoffJitter,
		},
		Pipelining: true,
	}
}
