package command

import (
	"strings"

	"github.com/goliatone/go-ocpi/core"
)

const (
	TypeAddParty             = "ocpi.command.party.add"
	TypeRegisterParty        = "ocpi.command.party.register"
	TypeRenewCredentials     = "ocpi.command.credentials.renew"
	TypeUnregisterParty      = "ocpi.command.party.unregister"
	TypeSetLocalAccessStatus = "ocpi.command.local_access.set_status"
	TypeSetPartyStatus       = "ocpi.command.party.set_status"
)

type AddPartyMessage struct {
	Input core.AddPartyInput
}

func (AddPartyMessage) Type() string { return TypeAddParty }

func (m AddPartyMessage) Validate() error {
	if err := validateParty(m.Type(), m.Input.ID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Input.VersionsURL) == "" {
		return invalidField(m.Type(), "versions_url", "versions url is required")
	}
	return nil
}

// RegisterPartyMessage runs the credentials handshake with a party that is
// still in PRE_REGISTRATION.
type RegisterPartyMessage struct {
	Party core.PartyID
}

func (RegisterPartyMessage) Type() string { return TypeRegisterParty }

func (m RegisterPartyMessage) Validate() error {
	return validateParty(m.Type(), m.Party)
}

type RenewCredentialsMessage struct {
	Party core.PartyID
}

func (RenewCredentialsMessage) Type() string { return TypeRenewCredentials }

func (m RenewCredentialsMessage) Validate() error {
	return validateParty(m.Type(), m.Party)
}

type UnregisterPartyMessage struct {
	Party core.PartyID
}

func (UnregisterPartyMessage) Type() string { return TypeUnregisterParty }

func (m UnregisterPartyMessage) Validate() error {
	return validateParty(m.Type(), m.Party)
}

type SetLocalAccessStatusMessage struct {
	Party  core.PartyID
	Token  string
	Status core.LocalAccessStatus
}

func (SetLocalAccessStatusMessage) Type() string { return TypeSetLocalAccessStatus }

func (m SetLocalAccessStatusMessage) Validate() error {
	if err := validateParty(m.Type(), m.Party); err != nil {
		return err
	}
	if strings.TrimSpace(m.Token) == "" {
		return invalidField(m.Type(), "token", "token is required")
	}
	switch m.Status {
	case core.LocalAccessAllowed, core.LocalAccessBlocked:
		return nil
	default:
		return invalidField(m.Type(), "status", "unknown local access status "+string(m.Status))
	}
}

type SetPartyStatusMessage struct {
	Party  core.PartyID
	Status core.PartyStatus
}

func (SetPartyStatusMessage) Type() string { return TypeSetPartyStatus }

func (m SetPartyStatusMessage) Validate() error {
	if err := validateParty(m.Type(), m.Party); err != nil {
		return err
	}
	switch m.Status {
	case core.PartyStatusEnabled, core.PartyStatusDisabled, core.PartyStatusSuspended, core.PartyStatusDeleted:
		return nil
	default:
		return invalidField(m.Type(), "status", "unknown party status "+string(m.Status))
	}
}

func validateParty(msgType string, id core.PartyID) error {
	id = core.NewPartyID(id.CountryCode, id.PartyID, id.Role)
	if err := id.Validate(); err != nil {
		return invalidParty(msgType, id, err)
	}
	return nil
}
