package core

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	ModuleCredentials = "credentials"

	handshakeRegister = "register"
	handshakeRenew    = "renew"
)

// Register performs the outbound credentials handshake: versions discovery,
// then a POST of a freshly issued local token. The remote record goes ONLINE
// only once the party has answered with its own token.
func (s *Service) Register(ctx context.Context, id PartyID) (remote RemoteAccessInfo, err error) {
	return s.handshake(ctx, id, handshakeRegister)
}

// Renew rotates both tokens of an established connection with a PUT. The
// previous local tokens stop working once the party accepts the new one.
func (s *Service) Renew(ctx context.Context, id PartyID) (remote RemoteAccessInfo, err error) {
	return s.handshake(ctx, id, handshakeRenew)
}

func (s *Service) handshake(ctx context.Context, id PartyID, operation string) (remote RemoteAccessInfo, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"party": id.Key()}
	defer func() {
		if remote.SelectedVersionID != "" {
			fields["version"] = string(remote.SelectedVersionID)
		}
		s.observeOperation(ctx, startedAt, operation, err, fields)
	}()

	remote, err = s.runHandshake(ctx, id, operation)
	if err != nil {
		err = s.mapError(err)
		return RemoteAccessInfo{}, err
	}
	return remote, nil
}

func (s *Service) runHandshake(ctx context.Context, id PartyID, operation string) (RemoteAccessInfo, error) {
	party, ok := s.registry.Get(id)
	if !ok {
		return RemoteAccessInfo{}, partyNotFoundError(id)
	}
	if party.Status != PartyStatusEnabled {
		return RemoteAccessInfo{}, partyUnavailableError(id, "party is "+string(party.Status))
	}
	idx := party.RemoteAccess()
	if idx < 0 {
		return RemoteAccessInfo{}, partyUnavailableError(id, "no remote credential to register with")
	}
	remote := party.RemoteAccessInfos[idx]
	registered := remote.Status == RemoteAccessOnline || remote.Status == RemoteAccessOffline
	method := http.MethodPost
	switch operation {
	case handshakeRegister:
		if registered {
			return RemoteAccessInfo{}, alreadyRegisteredError(id)
		}
	case handshakeRenew:
		if !registered {
			return RemoteAccessInfo{}, partyUnavailableError(id, "party is not registered")
		}
		method = http.MethodPut
	}

	// Discovery stays off the record until the party accepted our
	// credentials, so a failed handshake leaves the record as it was.
	negotiation, err := s.discover(ctx, party, remote, s.send)
	if err != nil {
		if errors.Is(err, ErrNoCompatibleVersion) {
			s.resetNegotiation(ctx, id, remote.VersionsURL, negotiation.VersionIDs())
		}
		return RemoteAccessInfo{}, err
	}
	variant := s.variantFor(negotiation.Selected.Version)
	candidate := remote
	negotiation.applyTo(&candidate, variant)
	endpoint, ok := candidate.Endpoint(ModuleCredentials)
	if !ok {
		return RemoteAccessInfo{}, discoveryError(
			"core: party "+id.Key()+" exposes no credentials endpoint",
			map[string]any{"party": id.Key(), "version": string(negotiation.Selected.Version)},
		)
	}

	issued := s.newToken()
	if _, err := s.registry.Update(ctx, id, func(p *RemoteParty) error {
		p.LocalAccessInfos = append(p.LocalAccessInfos, s.newLocalAccess(issued, variant, remote.AllowDowngrades))
		return nil
	}); err != nil {
		return RemoteAccessInfo{}, err
	}

	creds, err := s.postCredentials(ctx, party, candidate, variant, method, endpoint.URL, issued)
	if err != nil {
		s.revokeLocalToken(ctx, id, issued)
		return RemoteAccessInfo{}, err
	}

	committed, err := s.registry.Update(context.WithoutCancel(ctx), id, func(p *RemoteParty) error {
		i := p.remoteAccessByURL(remote.VersionsURL)
		if i < 0 {
			return partyUnavailableError(id, "remote credential was removed during the handshake")
		}
		info := &p.RemoteAccessInfos[i]
		if err := info.TransitionTo(RemoteAccessOnline); err != nil {
			return err
		}
		negotiation.applyTo(info, variant)
		info.AccessToken = creds.Token
		info.TokenIsBase64 = variant.TokensAreBase64()
		if creds.URL != "" {
			info.VersionsURL = creds.URL
		}
		info.ConsecutiveFailures = 0
		info.LastError = ""
		p.Roles = rolesFor(p.ID, creds.Roles)
		p.removeLocalTokens(func(local LocalAccessInfo) bool {
			return local.AccessToken == issued
		})
		return nil
	})
	if err != nil {
		s.revokeLocalToken(ctx, id, issued)
		return RemoteAccessInfo{}, err
	}
	i := committed.RemoteAccess()
	if i < 0 {
		return RemoteAccessInfo{}, partyUnavailableError(id, "remote credential was removed during the handshake")
	}
	return committed.RemoteAccessInfos[i], nil
}

func (s *Service) postCredentials(
	ctx context.Context,
	party RemoteParty,
	remote RemoteAccessInfo,
	variant ProtocolVariant,
	method string,
	url string,
	issued string,
) (Credentials, error) {
	meta := map[string]any{"party": party.ID.Key(), "url": url, "method": method}
	body, err := variant.EncodeCredentials(s.localCredentials(issued))
	if err != nil {
		return Credentials{}, err
	}
	resp, err := s.send(ctx, party, remote, TransportRequest{
		Method:  method,
		URL:     url,
		Headers: map[string]string{"Content-Type": "application/json"},
		Body:    body,
	})
	if err != nil {
		if errors.Is(err, ErrRemoteRejected) {
			return Credentials{}, handshakeRejectedError("core: party rejected our credentials", meta)
		}
		return Credentials{}, err
	}
	envelope, err := DecodeResponse(resp.Body)
	if err != nil {
		return Credentials{}, handshakeRejectedError("core: credentials response is not an OCPI envelope", meta)
	}
	if envelope.StatusCode != StatusSuccess {
		meta["status_code"] = envelope.StatusCode
		meta["status_message"] = envelope.StatusMessage
		return Credentials{}, handshakeRejectedError("core: party rejected our credentials", meta)
	}
	creds, err := variant.DecodeCredentials(envelope.Data)
	if err != nil {
		meta["cause"] = err.Error()
		return Credentials{}, handshakeRejectedError("core: party answered with unusable credentials", meta)
	}
	return creds, nil
}

// Unregister tells the party we are leaving with a DELETE on its credentials
// module. Local tokens are blocked and the remote records retired only when
// the party acknowledged.
func (s *Service) Unregister(ctx context.Context, id PartyID) (err error) {
	startedAt := time.Now().UTC()
	defer func() {
		s.observeOperation(ctx, startedAt, "unregister", err, map[string]any{"party": id.Key()})
	}()

	party, ok := s.registry.Get(id)
	if !ok {
		err = s.mapError(partyNotFoundError(id))
		return err
	}
	remote, ok := s.activeRemote(party)
	if !ok {
		err = s.mapError(partyUnavailableError(id, "party is not registered"))
		return err
	}
	endpoint, ok := remote.Endpoint(ModuleCredentials)
	if !ok {
		err = s.mapError(discoveryError("core: party "+id.Key()+" exposes no credentials endpoint", map[string]any{"party": id.Key()}))
		return err
	}
	if _, err = s.send(ctx, party, remote, TransportRequest{Method: http.MethodDelete, URL: endpoint.URL}); err != nil {
		if errors.Is(err, ErrRemoteRejected) {
			err = handshakeRejectedError("core: party rejected unregistration", map[string]any{"party": id.Key()})
		}
		err = s.mapError(err)
		return err
	}

	_, err = s.registry.Update(context.WithoutCancel(ctx), id, func(p *RemoteParty) error {
		retireConnection(p, s.now())
		return nil
	})
	if err != nil {
		err = s.mapError(err)
	}
	return err
}

// retireConnection blocks every local token and marks every remote record
// UNREGISTERED.
func retireConnection(p *RemoteParty, now time.Time) {
	for i := range p.LocalAccessInfos {
		p.LocalAccessInfos[i].Status = LocalAccessBlocked
		if p.LocalAccessInfos[i].NotAfter == nil || p.LocalAccessInfos[i].NotAfter.After(now) {
			until := now
			p.LocalAccessInfos[i].NotAfter = &until
		}
	}
	for i := range p.RemoteAccessInfos {
		_ = p.RemoteAccessInfos[i].TransitionTo(RemoteAccessUnregistered)
	}
}

func (s *Service) revokeLocalToken(ctx context.Context, id PartyID, token string) {
	_, err := s.registry.Update(context.WithoutCancel(ctx), id, func(p *RemoteParty) error {
		p.removeLocalTokens(func(local LocalAccessInfo) bool {
			return local.AccessToken != token
		})
		return nil
	})
	if err != nil {
		s.logWithLevel(ctx, "warn", "revoke issued token failed", map[string]any{"party": id.Key(), "error": err.Error()})
	}
}

func (s *Service) newLocalAccess(token string, variant ProtocolVariant, allowDowngrades bool) LocalAccessInfo {
	now := s.now()
	return LocalAccessInfo{
		AccessToken:     token,
		TokenIsBase64:   variant.TokensAreBase64(),
		Status:          LocalAccessAllowed,
		NotBefore:       now,
		AllowDowngrades: allowDowngrades,
		Created:         now,
	}
}

func (s *Service) localCredentials(token string) Credentials {
	return Credentials{
		Token: token,
		URL:   strings.TrimSpace(s.config.VersionsURL),
		Roles: []CredentialsRole{s.config.LocalParty.CredentialsRole()},
	}
}

// rolesFor fills the role of single role 2.1.1 answers from the id the party
// was registered under.
func rolesFor(id PartyID, roles []CredentialsRole) []CredentialsRole {
	out := make([]CredentialsRole, 0, len(roles))
	for _, role := range roles {
		if role.Role == "" {
			role.Role = id.Role
		}
		if role.CountryCode == "" {
			role.CountryCode = id.CountryCode
		}
		if role.PartyID == "" {
			role.PartyID = id.PartyID
		}
		out = append(out, role)
	}
	return out
}
