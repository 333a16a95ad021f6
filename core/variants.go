package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Credentials is the version independent form of the credentials object
// exchanged during registration.
type Credentials struct {
	Token string
	URL   string
	Roles []CredentialsRole
}

func (c Credentials) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return fmt.Errorf("credentials token is required")
	}
	if strings.TrimSpace(c.URL) == "" {
		return fmt.Errorf("credentials url is required")
	}
	if len(c.Roles) == 0 {
		return fmt.Errorf("credentials must declare at least one role")
	}
	for _, role := range c.Roles {
		if err := NewPartyID(role.CountryCode, role.PartyID, role.Role).Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ProtocolVariant captures what differs between OCPI version families for
// the credentials exchange.
type ProtocolVariant interface {
	Family() string
	Supports(version VersionID) bool
	TokensAreBase64() bool
	EncodeCredentials(creds Credentials) ([]byte, error)
	DecodeCredentials(data []byte) (Credentials, error)
}

func DefaultProtocolVariants() []ProtocolVariant {
	return []ProtocolVariant{V211Variant{}, V22Variant{}}
}

// V211Variant speaks the flat 2.0/2.1.x credentials object with a single
// role and plain text tokens.
type V211Variant struct{}

type v211Credentials struct {
	Token           string          `json:"token"`
	URL             string          `json:"url"`
	BusinessDetails BusinessDetails `json:"business_details"`
	PartyID         string          `json:"party_id"`
	CountryCode     string          `json:"country_code"`
}

func (V211Variant) Family() string { return "2.1" }

func (V211Variant) Supports(version VersionID) bool {
	return version.Major() == 2 && version.Minor() < 2
}

func (V211Variant) TokensAreBase64() bool { return false }

func (V211Variant) EncodeCredentials(creds Credentials) ([]byte, error) {
	payload := v211Credentials{Token: creds.Token, URL: creds.URL}
	if len(creds.Roles) > 0 {
		role := creds.Roles[0]
		payload.BusinessDetails = role.BusinessDetails
		payload.PartyID = role.PartyID
		payload.CountryCode = role.CountryCode
	}
	return json.Marshal(payload)
}

func (V211Variant) DecodeCredentials(data []byte) (Credentials, error) {
	var payload v211Credentials
	if err := decodeStrict(data, &payload); err != nil {
		return Credentials{}, err
	}
	creds := Credentials{
		Token: strings.TrimSpace(payload.Token),
		URL:   strings.TrimSpace(payload.URL),
		Roles: []CredentialsRole{{
			// 2.1.1 has no role in the credentials object; the party plays
			// whatever role we registered it under.
			BusinessDetails: payload.BusinessDetails,
			PartyID:         strings.ToUpper(strings.TrimSpace(payload.PartyID)),
			CountryCode:     strings.ToUpper(strings.TrimSpace(payload.CountryCode)),
		}},
	}
	if creds.Token == "" || creds.URL == "" {
		return Credentials{}, fmt.Errorf("credentials token and url are required")
	}
	return creds, nil
}

// V22Variant speaks the roles based object used from 2.2 onwards, with base64
// encoded tokens in the Authorization header.
type V22Variant struct{}

type v22Credentials struct {
	Token string            `json:"token"`
	URL   string            `json:"url"`
	Roles []CredentialsRole `json:"roles"`
}

func (V22Variant) Family() string { return "2.2" }

func (V22Variant) Supports(version VersionID) bool {
	return version.Major() > 2 || (version.Major() == 2 && version.Minor() >= 2)
}

func (V22Variant) TokensAreBase64() bool { return true }

func (V22Variant) EncodeCredentials(creds Credentials) ([]byte, error) {
	roles := creds.Roles
	if roles == nil {
		roles = []CredentialsRole{}
	}
	return json.Marshal(v22Credentials{Token: creds.Token, URL: creds.URL, Roles: roles})
}

func (V22Variant) DecodeCredentials(data []byte) (Credentials, error) {
	var payload v22Credentials
	if err := decodeStrict(data, &payload); err != nil {
		return Credentials{}, err
	}
	creds := Credentials{
		Token: strings.TrimSpace(payload.Token),
		URL:   strings.TrimSpace(payload.URL),
	}
	for _, role := range payload.Roles {
		role.Role = Role(strings.ToUpper(strings.TrimSpace(string(role.Role))))
		role.PartyID = strings.ToUpper(strings.TrimSpace(role.PartyID))
		role.CountryCode = strings.ToUpper(strings.TrimSpace(role.CountryCode))
		creds.Roles = append(creds.Roles, role)
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

func decodeStrict(data []byte, target any) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return fmt.Errorf("credentials payload must be a JSON object")
	}
	return json.Unmarshal(data, target)
}
