package core

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleCPO   Role = "CPO"
	RoleEMSP  Role = "EMSP"
	RoleHUB   Role = "HUB"
	RoleNAP   Role = "NAP"
	RoleNSP   Role = "NSP"
	RoleSCSP  Role = "SCSP"
	RoleOther Role = "OTHER"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCPO, RoleEMSP, RoleHUB, RoleNAP, RoleNSP, RoleSCSP, RoleOther:
		return true
	default:
		return false
	}
}

// PartyID identifies a counter-party. It never changes once a party exists.
type PartyID struct {
	CountryCode string `json:"country_code"`
	PartyID     string `json:"party_id"`
	Role        Role   `json:"role"`
}

func NewPartyID(countryCode string, partyID string, role Role) PartyID {
	return PartyID{
		CountryCode: strings.ToUpper(strings.TrimSpace(countryCode)),
		PartyID:     strings.ToUpper(strings.TrimSpace(partyID)),
		Role:        Role(strings.ToUpper(strings.TrimSpace(string(role)))),
	}
}

func (id PartyID) Key() string {
	return strings.ToUpper(id.CountryCode) + "*" + strings.ToUpper(id.PartyID) + "*" + strings.ToUpper(string(id.Role))
}

func (id PartyID) String() string {
	return id.Key()
}

func (id PartyID) Validate() error {
	if len(strings.TrimSpace(id.CountryCode)) != 2 {
		return fmt.Errorf("core: country_code %q must have two letters", id.CountryCode)
	}
	if len(strings.TrimSpace(id.PartyID)) != 3 {
		return fmt.Errorf("core: party_id %q must have three characters", id.PartyID)
	}
	if !Role(strings.ToUpper(string(id.Role))).Valid() {
		return fmt.Errorf("core: invalid role %q", id.Role)
	}
	return nil
}

// ParsePartyKey is the inverse of PartyID.Key.
func ParsePartyKey(key string) (PartyID, error) {
	parts := strings.Split(strings.TrimSpace(key), "*")
	if len(parts) != 3 {
		return PartyID{}, fmt.Errorf("core: invalid party key %q", key)
	}
	id := NewPartyID(parts[0], parts[1], Role(parts[2]))
	if err := id.Validate(); err != nil {
		return PartyID{}, err
	}
	return id, nil
}

type PartyStatus string

const (
	PartyStatusEnabled   PartyStatus = "ENABLED"
	PartyStatusDisabled  PartyStatus = "DISABLED"
	PartyStatusSuspended PartyStatus = "SUSPENDED"
	PartyStatusDeleted   PartyStatus = "DELETED"
)

func (s PartyStatus) Valid() bool {
	switch s {
	case PartyStatusEnabled, PartyStatusDisabled, PartyStatusSuspended, PartyStatusDeleted:
		return true
	default:
		return false
	}
}

type LocalAccessStatus string

const (
	LocalAccessAllowed LocalAccessStatus = "ALLOWED"
	LocalAccessBlocked LocalAccessStatus = "BLOCKED"
)

type RemoteAccessStatus string

const (
	RemoteAccessPreRegistration RemoteAccessStatus = "PRE_REGISTRATION"
	RemoteAccessOnline          RemoteAccessStatus = "ONLINE"
	RemoteAccessOffline         RemoteAccessStatus = "OFFLINE"
	RemoteAccessUnregistered    RemoteAccessStatus = "UNREGISTERED"
)

var remoteAccessTransitions = map[RemoteAccessStatus]map[RemoteAccessStatus]bool{
	RemoteAccessPreRegistration: {
		RemoteAccessOnline:       true,
		RemoteAccessUnregistered: true,
	},
	RemoteAccessOnline: {
		RemoteAccessOffline:         true,
		RemoteAccessPreRegistration: true,
		RemoteAccessUnregistered:    true,
	},
	RemoteAccessOffline: {
		RemoteAccessOnline:          true,
		RemoteAccessPreRegistration: true,
		RemoteAccessUnregistered:    true,
	},
}

type BusinessDetails struct {
	Name    string `json:"name"`
	Website string `json:"website,omitempty"`
}

// CredentialsRole is one role a party declared during a credentials exchange.
type CredentialsRole struct {
	Role            Role            `json:"role"`
	BusinessDetails BusinessDetails `json:"business_details"`
	PartyID         string          `json:"party_id"`
	CountryCode     string          `json:"country_code"`
}

// LocalAccessInfo is a credential we issued to the counter-party.
type LocalAccessInfo struct {
	AccessToken     string            `json:"access_token"`
	TokenIsBase64   bool              `json:"token_is_base64"`
	Status          LocalAccessStatus `json:"status"`
	NotBefore       time.Time         `json:"not_before"`
	NotAfter        *time.Time        `json:"not_after,omitempty"`
	AllowDowngrades bool              `json:"allow_downgrades"`
	Created         time.Time         `json:"created"`
}

func (l LocalAccessInfo) Usable(now time.Time) bool {
	if l.Status != LocalAccessAllowed {
		return false
	}
	if !l.NotBefore.IsZero() && now.Before(l.NotBefore) {
		return false
	}
	if l.NotAfter != nil && !now.Before(*l.NotAfter) {
		return false
	}
	return true
}

// Matches reports whether presented is this credential, either verbatim or
// in the base64 header form OCPI 2.2 uses.
func (l LocalAccessInfo) Matches(presented string) bool {
	presented = strings.TrimSpace(presented)
	if presented == "" || l.AccessToken == "" {
		return false
	}
	if presented == l.AccessToken {
		return true
	}
	if !l.TokenIsBase64 {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(presented)
	if err != nil {
		return false
	}
	return string(decoded) == l.AccessToken
}

// RemoteAccessInfo is a credential the counter-party issued to us, together
// with what we learned about its API.
type RemoteAccessInfo struct {
	VersionsURL         string             `json:"versions_url"`
	AccessToken         string             `json:"access_token,omitempty"`
	TokenIsBase64       bool               `json:"token_is_base64"`
	Status              RemoteAccessStatus `json:"status"`
	VersionIDs          []VersionID        `json:"version_ids,omitempty"`
	SelectedVersionID   VersionID          `json:"selected_version_id,omitempty"`
	Endpoints           []Endpoint         `json:"endpoints,omitempty"`
	NotBefore           time.Time          `json:"not_before"`
	NotAfter            *time.Time         `json:"not_after,omitempty"`
	AllowDowngrades     bool               `json:"allow_downgrades"`
	ConsecutiveFailures int                `json:"consecutive_failures"`
	LastError           string             `json:"last_error,omitempty"`
}

func (r *RemoteAccessInfo) TransitionTo(next RemoteAccessStatus) error {
	if r == nil {
		return fmt.Errorf("core: remote access info is nil")
	}
	if r.Status == next {
		return nil
	}
	if !remoteAccessTransitions[r.Status][next] {
		return transitionError(ErrInvalidRemoteAccessTransition, string(r.Status), string(next))
	}
	r.Status = next
	return nil
}

// Active reports whether the record may be used for outbound calls.
func (r RemoteAccessInfo) Active(now time.Time) bool {
	if r.Status != RemoteAccessOnline && r.Status != RemoteAccessOffline {
		return false
	}
	if !r.NotBefore.IsZero() && now.Before(r.NotBefore) {
		return false
	}
	return r.NotAfter == nil || now.Before(*r.NotAfter)
}

// Endpoint returns the URL of module in the selected version's catalogue.
// A receiver interface wins over a sender one when both are listed.
func (r RemoteAccessInfo) Endpoint(module string) (Endpoint, bool) {
	module = strings.TrimSpace(module)
	var fallback *Endpoint
	for i := range r.Endpoints {
		endpoint := r.Endpoints[i]
		if !strings.EqualFold(endpoint.Identifier, module) {
			continue
		}
		if endpoint.Role == "" || endpoint.Role == InterfaceRoleReceiver {
			return endpoint, true
		}
		if fallback == nil {
			fallback = &endpoint
		}
	}
	if fallback != nil {
		return *fallback, true
	}
	return Endpoint{}, false
}

// RemoteParty is the aggregate root for everything we know about one
// counter-party.
type RemoteParty struct {
	ID                PartyID            `json:"id"`
	Status            PartyStatus        `json:"status"`
	Roles             []CredentialsRole  `json:"roles,omitempty"`
	Created           time.Time          `json:"created"`
	LastUpdated       time.Time          `json:"last_updated"`
	LocalAccessInfos  []LocalAccessInfo  `json:"local_access_infos"`
	RemoteAccessInfos []RemoteAccessInfo `json:"remote_access_infos"`
	Config            ConnectionConfig   `json:"-"`

	etag string
}

// ETag is the content hash computed by the registry when the party was last
// committed.
func (p RemoteParty) ETag() string {
	return p.etag
}

func (p RemoteParty) Clone() RemoteParty {
	out := p
	if p.Roles != nil {
		out.Roles = append([]CredentialsRole(nil), p.Roles...)
	}
	if p.LocalAccessInfos != nil {
		out.LocalAccessInfos = make([]LocalAccessInfo, len(p.LocalAccessInfos))
		for i, info := range p.LocalAccessInfos {
			info.NotAfter = cloneTime(info.NotAfter)
			out.LocalAccessInfos[i] = info
		}
	}
	if p.RemoteAccessInfos != nil {
		out.RemoteAccessInfos = make([]RemoteAccessInfo, len(p.RemoteAccessInfos))
		for i, info := range p.RemoteAccessInfos {
			info.NotAfter = cloneTime(info.NotAfter)
			if info.VersionIDs != nil {
				info.VersionIDs = append([]VersionID(nil), info.VersionIDs...)
			}
			if info.Endpoints != nil {
				info.Endpoints = append([]Endpoint(nil), info.Endpoints...)
			}
			out.RemoteAccessInfos[i] = info
		}
	}
	return out
}

// RemoteAccess returns the index of the first record that is not
// UNREGISTERED, or -1.
func (p RemoteParty) RemoteAccess() int {
	for i, info := range p.RemoteAccessInfos {
		if info.Status != RemoteAccessUnregistered {
			return i
		}
	}
	return -1
}

func (p RemoteParty) remoteAccessByURL(versionsURL string) int {
	for i, info := range p.RemoteAccessInfos {
		if info.Status != RemoteAccessUnregistered && info.VersionsURL == versionsURL {
			return i
		}
	}
	return -1
}

// LocalAccess returns the first credential matching presented.
func (p RemoteParty) LocalAccess(presented string) (LocalAccessInfo, bool) {
	for _, info := range p.LocalAccessInfos {
		if info.Matches(presented) {
			return info, true
		}
	}
	return LocalAccessInfo{}, false
}

// SetStatus moves the party through its lifecycle. DELETED is terminal and
// drops every remote access record.
func (p *RemoteParty) SetStatus(next PartyStatus) error {
	if !next.Valid() {
		return invalidInputError("core: invalid party status "+string(next), map[string]any{"status": next})
	}
	if p.Status == next {
		return nil
	}
	if p.Status == PartyStatusDeleted {
		return transitionError(ErrInvalidPartyTransition, string(p.Status), string(next))
	}
	p.Status = next
	if next == PartyStatusDeleted {
		p.RemoteAccessInfos = nil
		for i := range p.LocalAccessInfos {
			p.LocalAccessInfos[i].Status = LocalAccessBlocked
		}
	}
	return nil
}

func (p *RemoteParty) removeLocalTokens(keep func(LocalAccessInfo) bool) {
	filtered := p.LocalAccessInfos[:0:0]
	for _, info := range p.LocalAccessInfos {
		if keep(info) {
			filtered = append(filtered, info)
		}
	}
	p.LocalAccessInfos = filtered
}

func cloneTime(in *time.Time) *time.Time {
	if in == nil {
		return nil
	}
	out := *in
	return &out
}
