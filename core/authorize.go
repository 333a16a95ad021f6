package core

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// AuthorizedParty is the result of matching an inbound token.
type AuthorizedParty struct {
	Party  RemoteParty
	Access LocalAccessInfo
}

// Authorize resolves the party owning presented. A token held by more than
// one party is refused rather than guessed.
func (s *Service) Authorize(ctx context.Context, presented string) (auth AuthorizedParty, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		if auth.Party.ID.CountryCode != "" {
			fields["party"] = auth.Party.ID.Key()
		}
		s.observeOperation(ctx, startedAt, "authorize", err, fields)
	}()

	auth, err = s.authorize(presented)
	if err != nil {
		err = s.mapError(err)
		return AuthorizedParty{}, err
	}
	return auth, nil
}

func (s *Service) authorize(presented string) (AuthorizedParty, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return AuthorizedParty{}, unauthorizedError("missing token")
	}
	matches := s.registry.FindByToken(presented)
	switch len(matches) {
	case 0:
		return AuthorizedParty{}, unauthorizedError("unknown token")
	case 1:
	default:
		return AuthorizedParty{}, unauthorizedError("token is shared by several parties")
	}
	party := matches[0]
	if party.Status != PartyStatusEnabled {
		return AuthorizedParty{}, unauthorizedError("party is " + string(party.Status))
	}
	access, ok := party.LocalAccess(presented)
	if !ok || !access.Usable(s.now()) {
		return AuthorizedParty{}, unauthorizedError("token is blocked or outside its validity window")
	}
	return AuthorizedParty{Party: party, Access: access}, nil
}

// AcceptCredentialsRequest is an inbound call on our credentials module.
type AcceptCredentialsRequest struct {
	Version VersionID
	Token   string
	Method  string
	Body    []byte
}

// AcceptCredentials serves the receiving side of the handshake. POST
// registers, PUT rotates and DELETE unregisters. The answer to POST and PUT
// carries the token the party must use from now on.
func (s *Service) AcceptCredentials(ctx context.Context, req AcceptCredentialsRequest) (creds Credentials, err error) {
	startedAt := time.Now().UTC()
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	fields := map[string]any{"method": method, "version": string(req.Version)}
	defer func() {
		s.observeOperation(ctx, startedAt, "accept_credentials", err, fields)
	}()

	auth, err := s.authorize(req.Token)
	if err != nil {
		err = s.mapError(err)
		return Credentials{}, err
	}
	id := auth.Party.ID
	fields["party"] = id.Key()

	switch method {
	case http.MethodPost, http.MethodPut:
		creds, err = s.acceptRegistration(ctx, auth.Party, req, method)
	case http.MethodDelete:
		err = s.acceptUnregistration(ctx, id)
	default:
		err = invalidInputError("core: credentials module does not support "+method, map[string]any{"method": method})
	}
	if err != nil {
		err = s.mapError(err)
		return Credentials{}, err
	}
	return creds, nil
}

// acceptRegistration negotiates against the offered credentials without the
// party lock and commits them in a single update once negotiation succeeded.
// Any failure leaves the party as it was.
func (s *Service) acceptRegistration(ctx context.Context, party RemoteParty, req AcceptCredentialsRequest, method string) (Credentials, error) {
	id := party.ID
	if !s.supportsVersion(req.Version) {
		return Credentials{}, invalidInputError(
			"core: version "+string(req.Version)+" is not served here",
			map[string]any{"version": string(req.Version)},
		)
	}
	if err := checkRegistrationState(party, method); err != nil {
		return Credentials{}, err
	}

	variant := s.variantFor(req.Version)
	offered, err := variant.DecodeCredentials(req.Body)
	if err != nil {
		return Credentials{}, invalidInputError("core: "+err.Error(), map[string]any{"party": id.Key()})
	}
	if !declaresParty(offered.Roles, id) {
		return Credentials{}, invalidInputError(
			"core: credentials do not declare party "+id.Key(),
			map[string]any{"party": id.Key()},
		)
	}

	candidate := RemoteAccessInfo{Status: RemoteAccessPreRegistration, NotBefore: s.now()}
	if idx := party.RemoteAccess(); idx >= 0 {
		candidate = party.RemoteAccessInfos[idx]
	}
	candidate.VersionsURL = offered.URL
	candidate.AccessToken = offered.Token
	candidate.TokenIsBase64 = variant.TokensAreBase64()

	negotiation, err := s.discover(ctx, party, candidate, s.sendDetached)
	if err != nil {
		return Credentials{}, err
	}
	variant = s.variantFor(negotiation.Selected.Version)
	negotiation.applyTo(&candidate, variant)
	if err := candidate.TransitionTo(RemoteAccessOnline); err != nil {
		return Credentials{}, err
	}
	candidate.ConsecutiveFailures = 0
	candidate.LastError = ""

	issued := s.newToken()
	presented := req.Token
	_, err = s.registry.Update(ctx, id, func(p *RemoteParty) error {
		if err := checkRegistrationState(*p, method); err != nil {
			return err
		}
		if _, ok := p.LocalAccess(presented); !ok {
			return unauthorizedError("token was retired during the handshake")
		}
		if i := p.RemoteAccess(); i >= 0 {
			p.RemoteAccessInfos[i] = candidate
		} else {
			p.RemoteAccessInfos = append(p.RemoteAccessInfos, candidate)
		}
		p.Roles = rolesFor(p.ID, offered.Roles)

		allow := candidate.AllowDowngrades
		for _, local := range p.LocalAccessInfos {
			if local.Matches(presented) {
				allow = allow || local.AllowDowngrades
			}
		}
		p.removeLocalTokens(func(local LocalAccessInfo) bool {
			if method == http.MethodPut {
				return false
			}
			return !local.Matches(presented)
		})
		p.LocalAccessInfos = append(p.LocalAccessInfos, s.newLocalAccess(issued, variant, allow))
		return nil
	})
	if err != nil {
		return Credentials{}, err
	}
	return s.localCredentials(issued), nil
}

// checkRegistrationState refuses a POST from a registered party and a PUT
// from one that is not.
func checkRegistrationState(party RemoteParty, method string) error {
	idx := party.RemoteAccess()
	registered := idx >= 0 && (party.RemoteAccessInfos[idx].Status == RemoteAccessOnline ||
		party.RemoteAccessInfos[idx].Status == RemoteAccessOffline)
	if method == http.MethodPost && registered {
		return alreadyRegisteredError(party.ID)
	}
	if method == http.MethodPut && !registered {
		return notRegisteredError(party.ID)
	}
	return nil
}

func (s *Service) acceptUnregistration(ctx context.Context, id PartyID) error {
	_, err := s.registry.Update(ctx, id, func(p *RemoteParty) error {
		if _, ok := s.activeRemote(*p); !ok {
			return notRegisteredError(id)
		}
		retireConnection(p, s.now())
		return nil
	})
	return err
}

// CredentialsFor answers GET on our credentials module with the credential
// the caller authenticated with.
func (s *Service) CredentialsFor(ctx context.Context, presented string) (Credentials, error) {
	auth, err := s.Authorize(ctx, presented)
	if err != nil {
		return Credentials{}, err
	}
	return s.localCredentials(auth.Access.AccessToken), nil
}

// LocalVersions lists the versions we serve, each under the versions URL
// prefix.
func (s *Service) LocalVersions() []VersionInformation {
	base := strings.TrimRight(strings.TrimSpace(s.config.VersionsURL), "/")
	versions := s.config.SupportedVersions()
	out := make([]VersionInformation, 0, len(versions))
	for _, version := range versions {
		out = append(out, VersionInformation{Version: version, URL: base + "/" + string(version)})
	}
	return out
}

func (s *Service) supportsVersion(version VersionID) bool {
	for _, supported := range s.config.SupportedVersions() {
		if strings.TrimSpace(string(supported)) == strings.TrimSpace(string(version)) {
			return true
		}
	}
	return false
}

func declaresParty(roles []CredentialsRole, id PartyID) bool {
	for _, role := range roles {
		if role.CountryCode == id.CountryCode && role.PartyID == id.PartyID {
			return true
		}
	}
	return false
}
