// Package resources holds the synchronized OCPI object shapes. Field order
// follows the OCPI documents since the ETag depends on it.
package resources

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-ocpi/canonical"
)

const (
	ModuleConnectors = "connectors"
	ModuleSessions   = "sessions"
	ModuleTariffs    = "tariffs"
	ModuleTokens     = "tokens"
	ModuleCDRs       = "cdrs"
)

const decimalScale = 1e4

// Decimal is a monetary amount serialized with at most four fractional
// digits and no trailing zeros.
type Decimal float64

func (d Decimal) MarshalJSON() ([]byte, error) {
	value := math.Round(float64(d)*decimalScale) / decimalScale
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, fmt.Errorf("resources: decimal %v is not finite", float64(d))
	}
	return []byte(strconv.FormatFloat(value, 'f', -1, 64)), nil
}

func (d *Decimal) UnmarshalJSON(raw []byte) error {
	text := strings.TrimSpace(string(raw))
	if text == "null" {
		return nil
	}
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("resources: invalid decimal %s: %w", text, err)
	}
	*d = Decimal(math.Round(value*decimalScale) / decimalScale)
	return nil
}

type Price struct {
	ExclVAT Decimal  `json:"excl_vat"`
	InclVAT *Decimal `json:"incl_vat,omitempty"`
}

type DisplayText struct {
	Language string `json:"language"`
	Text     string `json:"text"`
}

type CDRToken struct {
	CountryCode string `json:"country_code"`
	PartyID     string `json:"party_id"`
	UID         string `json:"uid"`
	Type        string `json:"type"`
	ContractID  string `json:"contract_id"`
}

type Connector struct {
	ID                 string    `json:"id"`
	Standard           string    `json:"standard"`
	Format             string    `json:"format"`
	PowerType          string    `json:"power_type"`
	MaxVoltage         int       `json:"max_voltage"`
	MaxAmperage        int       `json:"max_amperage"`
	MaxElectricPower   int       `json:"max_electric_power,omitempty"`
	TariffIDs          []string  `json:"tariff_ids,omitempty"`
	TermsAndConditions string    `json:"terms_and_conditions,omitempty"`
	LastUpdated        Timestamp `json:"last_updated"`
}

func (c Connector) ResourceID() string             { return c.ID }
func (c Connector) LastUpdatedAt() time.Time       { return c.LastUpdated.Time() }
func (Connector) ImmutableFields() []string        { return []string{"id"} }
func (Connector) HashEncoding() canonical.Encoding { return canonical.EncodingBase64 }

func (c Connector) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("connector id is required")
	}
	if strings.TrimSpace(c.Standard) == "" || strings.TrimSpace(c.Format) == "" || strings.TrimSpace(c.PowerType) == "" {
		return fmt.Errorf("connector %s requires standard, format and power_type", c.ID)
	}
	return nil
}

type Session struct {
	CountryCode            string     `json:"country_code"`
	PartyID                string     `json:"party_id"`
	ID                     string     `json:"id"`
	StartDateTime          Timestamp  `json:"start_date_time"`
	EndDateTime            *Timestamp `json:"end_date_time,omitempty"`
	KWh                    float64    `json:"kwh"`
	CDRToken               CDRToken   `json:"cdr_token"`
	AuthMethod             string     `json:"auth_method"`
	AuthorizationReference string     `json:"authorization_reference,omitempty"`
	LocationID             string     `json:"location_id"`
	EVSEUID                string     `json:"evse_uid"`
	ConnectorID            string     `json:"connector_id"`
	MeterID                string     `json:"meter_id,omitempty"`
	Currency               string     `json:"currency"`
	TotalCost              *Price     `json:"total_cost,omitempty"`
	Status                 string     `json:"status"`
	LastUpdated            Timestamp  `json:"last_updated"`
}

func (s Session) ResourceID() string       { return s.ID }
func (s Session) LastUpdatedAt() time.Time { return s.LastUpdated.Time() }
func (Session) ImmutableFields() []string {
	return []string{"country_code", "party_id", "id"}
}
func (Session) HashEncoding() canonical.Encoding { return canonical.EncodingBase64 }

func (s Session) Validate() error {
	if err := validateOwner(s.CountryCode, s.PartyID); err != nil {
		return err
	}
	if strings.TrimSpace(s.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if len(strings.TrimSpace(s.Currency)) != 3 {
		return fmt.Errorf("session %s currency must be an ISO 4217 code", s.ID)
	}
	if s.KWh < 0 {
		return fmt.Errorf("session %s kwh must not be negative", s.ID)
	}
	return nil
}

type PriceComponent struct {
	Type     string   `json:"type"`
	Price    Decimal  `json:"price"`
	VAT      *float64 `json:"vat,omitempty"`
	StepSize int      `json:"step_size"`
}

type TariffRestrictions struct {
	StartTime string   `json:"start_time,omitempty"`
	EndTime   string   `json:"end_time,omitempty"`
	MinKWh    *float64 `json:"min_kwh,omitempty"`
	MaxKWh    *float64 `json:"max_kwh,omitempty"`
	DayOfWeek []string `json:"day_of_week,omitempty"`
}

type TariffElement struct {
	PriceComponents []PriceComponent    `json:"price_components"`
	Restrictions    *TariffRestrictions `json:"restrictions,omitempty"`
}

type Tariff struct {
	CountryCode   string          `json:"country_code"`
	PartyID       string          `json:"party_id"`
	ID            string          `json:"id"`
	Currency      string          `json:"currency"`
	Type          string          `json:"type,omitempty"`
	TariffAltText []DisplayText   `json:"tariff_alt_text,omitempty"`
	TariffAltURL  string          `json:"tariff_alt_url,omitempty"`
	MinPrice      *Price          `json:"min_price,omitempty"`
	MaxPrice      *Price          `json:"max_price,omitempty"`
	Elements      []TariffElement `json:"elements"`
	StartDateTime *Timestamp      `json:"start_date_time,omitempty"`
	EndDateTime   *Timestamp      `json:"end_date_time,omitempty"`
	LastUpdated   Timestamp       `json:"last_updated"`
}

func (t Tariff) ResourceID() string       { return t.ID }
func (t Tariff) LastUpdatedAt() time.Time { return t.LastUpdated.Time() }
func (Tariff) ImmutableFields() []string {
	return []string{"country_code", "party_id", "id"}
}
func (Tariff) HashEncoding() canonical.Encoding { return canonical.EncodingBase64 }

func (t Tariff) Validate() error {
	if err := validateOwner(t.CountryCode, t.PartyID); err != nil {
		return err
	}
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("tariff id is required")
	}
	if len(t.Elements) == 0 {
		return fmt.Errorf("tariff %s requires at least one element", t.ID)
	}
	for i, element := range t.Elements {
		if len(element.PriceComponents) == 0 {
			return fmt.Errorf("tariff %s element %d has no price components", t.ID, i)
		}
	}
	return nil
}

type Token struct {
	CountryCode        string    `json:"country_code"`
	PartyID            string    `json:"party_id"`
	UID                string    `json:"uid"`
	Type               string    `json:"type"`
	ContractID         string    `json:"contract_id"`
	VisualNumber       string    `json:"visual_number,omitempty"`
	Issuer             string    `json:"issuer"`
	GroupID            string    `json:"group_id,omitempty"`
	Valid              bool      `json:"valid"`
	Whitelist          string    `json:"whitelist"`
	Language           string    `json:"language,omitempty"`
	DefaultProfileType string    `json:"default_profile_type,omitempty"`
	LastUpdated        Timestamp `json:"last_updated"`
}

func (t Token) ResourceID() string       { return t.UID }
func (t Token) LastUpdatedAt() time.Time { return t.LastUpdated.Time() }
func (Token) ImmutableFields() []string {
	return []string{"country_code", "party_id", "uid"}
}
func (Token) HashEncoding() canonical.Encoding { return canonical.EncodingBase64 }

func (t Token) Validate() error {
	if err := validateOwner(t.CountryCode, t.PartyID); err != nil {
		return err
	}
	if strings.TrimSpace(t.UID) == "" {
		return fmt.Errorf("token uid is required")
	}
	if strings.TrimSpace(t.ContractID) == "" {
		return fmt.Errorf("token %s contract_id is required", t.UID)
	}
	return nil
}

type CDRLocation struct {
	ID                 string `json:"id"`
	Name               string `json:"name,omitempty"`
	Address            string `json:"address"`
	City               string `json:"city"`
	PostalCode         string `json:"postal_code,omitempty"`
	Country            string `json:"country"`
	EVSEUID            string `json:"evse_uid"`
	EVSEID             string `json:"evse_id"`
	ConnectorID        string `json:"connector_id"`
	ConnectorStandard  string `json:"connector_standard"`
	ConnectorFormat    string `json:"connector_format"`
	ConnectorPowerType string `json:"connector_power_type"`
}

type CDR struct {
	CountryCode   string      `json:"country_code"`
	PartyID       string      `json:"party_id"`
	ID            string      `json:"id"`
	StartDateTime Timestamp   `json:"start_date_time"`
	EndDateTime   Timestamp   `json:"end_date_time"`
	SessionID     string      `json:"session_id,omitempty"`
	CDRToken      CDRToken    `json:"cdr_token"`
	AuthMethod    string      `json:"auth_method"`
	CDRLocation   CDRLocation `json:"cdr_location"`
	Currency      string      `json:"currency"`
	TotalCost     Price       `json:"total_cost"`
	TotalEnergy   float64     `json:"total_energy"`
	TotalTime     float64     `json:"total_time"`
	LastUpdated   Timestamp   `json:"last_updated"`
}

func (c CDR) ResourceID() string       { return c.ID }
func (c CDR) LastUpdatedAt() time.Time { return c.LastUpdated.Time() }

// CDRs are final once issued; only last_updated may move.
func (CDR) ImmutableFields() []string {
	return []string{
		"country_code", "party_id", "id",
		"start_date_time", "end_date_time", "cdr_token",
		"currency", "total_cost", "total_energy", "total_time",
	}
}
func (CDR) HashEncoding() canonical.Encoding { return canonical.EncodingBase64 }

func (c CDR) Validate() error {
	if err := validateOwner(c.CountryCode, c.PartyID); err != nil {
		return err
	}
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("cdr id is required")
	}
	if c.EndDateTime.Time().Before(c.StartDateTime.Time()) {
		return fmt.Errorf("cdr %s ends before it starts", c.ID)
	}
	return nil
}

func validateOwner(countryCode string, partyID string) error {
	if len(strings.TrimSpace(countryCode)) != 2 {
		return fmt.Errorf("country_code %q must have two letters", countryCode)
	}
	if len(strings.TrimSpace(partyID)) != 3 {
		return fmt.Errorf("party_id %q must have three characters", partyID)
	}
	return nil
}

// Timestamp is an OCPI DateTime: RFC 3339 in UTC.
type Timestamp time.Time

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp(t.UTC())
}

func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Time(t).UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(raw []byte) error {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return fmt.Errorf("resources: timestamp must be a string: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(text))
	if err != nil {
		return fmt.Errorf("resources: invalid timestamp %q: %w", text, err)
	}
	*t = Timestamp(parsed.UTC())
	return nil
}
