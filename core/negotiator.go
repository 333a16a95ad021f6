package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

type Negotiation struct {
	Versions []VersionInformation
	Selected VersionInformation
	Detail   VersionDetail
}

func (n Negotiation) VersionIDs() []VersionID {
	out := make([]VersionID, 0, len(n.Versions))
	for _, info := range n.Versions {
		out = append(out, info.Version)
	}
	return out
}

// Negotiate discovers the party's versions at versionsURL, selects the
// highest common one and stores its endpoint catalogue on the matching
// remote credential.
func (s *Service) Negotiate(ctx context.Context, id PartyID, versionsURL string) (result Negotiation, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"party": id.Key()}
	defer func() {
		if result.Selected.Version != "" {
			fields["version"] = string(result.Selected.Version)
		}
		s.observeOperation(ctx, startedAt, "negotiate", err, fields)
	}()

	party, ok := s.registry.Get(id)
	if !ok {
		err = s.mapError(partyNotFoundError(id))
		return Negotiation{}, err
	}
	if party.Status != PartyStatusEnabled {
		err = s.mapError(partyUnavailableError(id, "party is "+string(party.Status)))
		return Negotiation{}, err
	}
	idx := party.remoteAccessByURL(strings.TrimSpace(versionsURL))
	if idx < 0 {
		err = s.mapError(invalidInputError(
			"core: party "+id.Key()+" has no remote credential for "+versionsURL,
			map[string]any{"party": id.Key(), "versions_url": versionsURL},
		))
		return Negotiation{}, err
	}

	result, err = s.negotiate(ctx, party, party.RemoteAccessInfos[idx])
	if err != nil {
		err = s.mapError(err)
	}
	return result, err
}

// negotiate runs discovery and persists the outcome on the remote record
// identified by its versions URL.
func (s *Service) negotiate(ctx context.Context, party RemoteParty, remote RemoteAccessInfo) (Negotiation, error) {
	result, err := s.discover(ctx, party, remote, s.send)
	if err != nil {
		if errors.Is(err, ErrNoCompatibleVersion) {
			s.resetNegotiation(ctx, party.ID, remote.VersionsURL, result.VersionIDs())
		}
		return Negotiation{}, err
	}

	variant := s.variantFor(result.Selected.Version)
	_, err = s.registry.Update(ctx, party.ID, func(p *RemoteParty) error {
		idx := p.remoteAccessByURL(remote.VersionsURL)
		if idx < 0 {
			return partyUnavailableError(party.ID, "remote credential was removed during negotiation")
		}
		result.applyTo(&p.RemoteAccessInfos[idx], variant)
		return nil
	})
	if err != nil {
		return Negotiation{}, err
	}
	return result, nil
}

// applyTo records the negotiated versions and endpoint catalogue on info.
func (n Negotiation) applyTo(info *RemoteAccessInfo, variant ProtocolVariant) {
	info.VersionIDs = n.VersionIDs()
	info.SelectedVersionID = n.Selected.Version
	info.Endpoints = append([]Endpoint(nil), n.Detail.Endpoints...)
	info.TokenIsBase64 = variant.TokensAreBase64()
}

func (s *Service) resetNegotiation(ctx context.Context, id PartyID, versionsURL string, remoteVersions []VersionID) {
	_, err := s.registry.Update(context.WithoutCancel(ctx), id, func(p *RemoteParty) error {
		idx := p.remoteAccessByURL(versionsURL)
		if idx < 0 {
			return nil
		}
		info := &p.RemoteAccessInfos[idx]
		info.VersionIDs = remoteVersions
		info.SelectedVersionID = ""
		info.Endpoints = nil
		return info.TransitionTo(RemoteAccessPreRegistration)
	})
	if err != nil {
		s.logWithLevel(ctx, "warn", "reset negotiation failed", map[string]any{"party": id.Key(), "error": err.Error()})
	}
}

// discover fetches the versions list and the selected version detail over
// send. It does not touch the registry.
func (s *Service) discover(ctx context.Context, party RemoteParty, remote RemoteAccessInfo, send sendFunc) (Negotiation, error) {
	versionsURL := strings.TrimSpace(remote.VersionsURL)
	meta := map[string]any{"party": party.ID.Key(), "url": versionsURL}

	resp, err := send(ctx, party, remote, TransportRequest{Method: http.MethodGet, URL: versionsURL})
	if err != nil {
		return Negotiation{}, classifyDiscoveryFailure(err, "core: fetch versions", meta)
	}
	envelope, err := DecodeResponse(resp.Body)
	if err != nil {
		return Negotiation{}, malformedVersionsError("core: versions response is not an OCPI envelope", meta)
	}
	if envelope.StatusCode != StatusSuccess {
		meta["status_code"] = envelope.StatusCode
		return Negotiation{}, malformedVersionsError("core: versions response reports failure", meta)
	}
	var versions []VersionInformation
	if err := json.Unmarshal(envelope.Data, &versions); err != nil || len(versions) == 0 {
		return Negotiation{}, malformedVersionsError("core: versions list is empty or unparsable", meta)
	}
	for _, info := range versions {
		if !info.Version.Valid() || strings.TrimSpace(info.URL) == "" {
			return Negotiation{}, malformedVersionsError("core: versions list has an incomplete entry", meta)
		}
	}

	result := Negotiation{Versions: versions}
	selected, err := SelectVersion(s.config.SupportedVersions(), VersionID(s.config.PreferredVersion), versions)
	if err != nil {
		return result, err
	}
	result.Selected = selected

	detailURL := strings.TrimSpace(selected.URL)
	meta["url"] = detailURL
	resp, err = send(ctx, party, remote, TransportRequest{Method: http.MethodGet, URL: detailURL})
	if err != nil {
		return Negotiation{}, classifyDiscoveryFailure(err, "core: fetch version detail", meta)
	}
	envelope, err = DecodeResponse(resp.Body)
	if err != nil || envelope.StatusCode != StatusSuccess {
		return Negotiation{}, discoveryError("core: version detail response is not a successful OCPI envelope", meta)
	}
	var detail VersionDetail
	if err := json.Unmarshal(envelope.Data, &detail); err != nil || len(detail.Endpoints) == 0 {
		return Negotiation{}, discoveryError("core: version detail lists no endpoints", meta)
	}
	if detail.Version != "" && detail.Version.Compare(selected.Version) != 0 {
		meta["detail_version"] = string(detail.Version)
		return Negotiation{}, discoveryError("core: version detail does not match the selected version", meta)
	}
	for _, endpoint := range detail.Endpoints {
		if strings.TrimSpace(endpoint.Identifier) == "" || strings.TrimSpace(endpoint.URL) == "" {
			return Negotiation{}, discoveryError("core: version detail has an incomplete endpoint", meta)
		}
	}
	detail.Version = selected.Version
	result.Detail = detail
	return result, nil
}

func classifyDiscoveryFailure(err error, message string, meta map[string]any) error {
	switch {
	case errors.Is(err, ErrRemoteRejected):
		return handshakeRejectedError(message+": remote rejected our credential", meta)
	case errors.Is(err, ErrTransport):
		meta["cause"] = err.Error()
		return discoveryError(message+": transport failed", meta)
	default:
		return err
	}
}
