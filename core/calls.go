package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const HeaderAuthorization = "Authorization"

// Call sends req to an ENABLED party over its active remote credential.
// Transport failures and 5xx answers are retried within the party's attempt
// budget; an exhausted budget takes an ONLINE credential OFFLINE.
func (s *Service) Call(ctx context.Context, id PartyID, req TransportRequest) (resp TransportResponse, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"party": id.Key(), "method": strings.ToUpper(req.Method)}
	defer func() {
		s.observeOperation(ctx, startedAt, "call", err, fields)
	}()

	party, ok := s.registry.Get(id)
	if !ok {
		err = s.mapError(partyNotFoundError(id))
		return TransportResponse{}, err
	}
	if party.Status != PartyStatusEnabled {
		err = s.mapError(partyUnavailableError(id, "party is "+string(party.Status)))
		return TransportResponse{}, err
	}
	remote, ok := s.activeRemote(party)
	if !ok {
		err = s.mapError(partyUnavailableError(id, "no active remote credential"))
		return TransportResponse{}, err
	}

	resp, err = s.send(ctx, party, remote, req)
	if err != nil {
		err = s.mapError(err)
	}
	return resp, err
}

// Endpoint returns the URL of module in the party's negotiated catalogue.
func (s *Service) Endpoint(id PartyID, module string) (Endpoint, error) {
	party, ok := s.registry.Get(id)
	if !ok {
		return Endpoint{}, s.mapError(partyNotFoundError(id))
	}
	remote, ok := s.activeRemote(party)
	if !ok {
		return Endpoint{}, s.mapError(partyUnavailableError(id, "no active remote credential"))
	}
	endpoint, ok := remote.Endpoint(module)
	if !ok {
		return Endpoint{}, s.mapError(discoveryError(
			"core: party "+id.Key()+" exposes no "+module+" endpoint",
			map[string]any{"party": id.Key(), "module": module},
		))
	}
	return endpoint, nil
}

func (s *Service) activeRemote(party RemoteParty) (RemoteAccessInfo, bool) {
	now := s.now()
	for _, info := range party.RemoteAccessInfos {
		if info.Active(now) {
			return info, true
		}
	}
	return RemoteAccessInfo{}, false
}

type sendFunc func(ctx context.Context, party RemoteParty, remote RemoteAccessInfo, req TransportRequest) (TransportResponse, error)

type sendOutcome struct {
	reached   bool
	exhausted bool
	attempts  int
	cause     error
}

// send performs the attempt loop without holding the party lock. State
// changes caused by the outcome are committed afterwards through the
// registry.
func (s *Service) send(ctx context.Context, party RemoteParty, remote RemoteAccessInfo, req TransportRequest) (TransportResponse, error) {
	resp, outcome, err := s.attempt(ctx, party, remote, req)
	switch {
	case outcome.reached:
		s.recordReachable(ctx, party.ID, remote)
	case outcome.exhausted:
		s.recordExhausted(ctx, party.ID, remote, outcome.attempts, outcome.cause)
	}
	return resp, err
}

// sendDetached is send for credentials that are not committed yet. The
// outcome leaves every stored remote record as it was.
func (s *Service) sendDetached(ctx context.Context, party RemoteParty, remote RemoteAccessInfo, req TransportRequest) (TransportResponse, error) {
	resp, _, err := s.attempt(ctx, party, remote, req)
	return resp, err
}

func (s *Service) attempt(ctx context.Context, party RemoteParty, remote RemoteAccessInfo, req TransportRequest) (TransportResponse, sendOutcome, error) {
	if s.transportResolver == nil {
		return TransportResponse{}, sendOutcome{}, transportFailure(fmt.Errorf("transport resolver is not configured"), 0, req.URL)
	}
	cfg := s.connectionFor(party)
	adapter, err := s.transportResolver.Resolve(ctx, party.ID, cfg)
	if err != nil {
		return TransportResponse{}, sendOutcome{}, transportFailure(err, 0, req.URL)
	}

	req.Headers = copyHeaders(req.Headers)
	if token := strings.TrimSpace(remote.AccessToken); token != "" {
		req.Headers[HeaderAuthorization] = "Token " + encodeToken(token, remote.TokenIsBase64)
	}
	if req.Timeout <= 0 {
		req.Timeout = cfg.RequestTimeout
	}

	budget := cfg.MaxNumberOfRetries
	if budget < 1 {
		budget = 1
	}
	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= budget; attempt++ {
		attempts = attempt
		resp, doErr := adapter.Do(ctx, req)
		if doErr == nil && resp.StatusCode < http.StatusInternalServerError {
			outcome := sendOutcome{reached: true, attempts: attempts}
			if resp.StatusCode >= http.StatusBadRequest {
				return resp, outcome, remoteRejectedError(resp.StatusCode, req.URL)
			}
			return resp, outcome, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return TransportResponse{}, sendOutcome{attempts: attempts}, ctxErr
		}
		if doErr != nil && !isRetryableTransportError(doErr) {
			return TransportResponse{}, sendOutcome{attempts: attempts}, doErr
		}
		lastErr = doErr
		if lastErr == nil {
			lastErr = fmt.Errorf("remote answered with status %d", resp.StatusCode)
		}
		if attempt == budget {
			break
		}
		if waitErr := waitWithContext(ctx, cfg.Backoff.NextDelay(attempt)); waitErr != nil {
			return TransportResponse{}, sendOutcome{attempts: attempts}, waitErr
		}
	}

	outcome := sendOutcome{exhausted: true, attempts: attempts, cause: lastErr}
	return TransportResponse{}, outcome, transportFailure(lastErr, attempts, req.URL)
}

func (s *Service) recordReachable(ctx context.Context, id PartyID, remote RemoteAccessInfo) {
	if remote.Status != RemoteAccessOffline && remote.ConsecutiveFailures == 0 && remote.LastError == "" {
		return
	}
	_, err := s.registry.Update(context.WithoutCancel(ctx), id, func(p *RemoteParty) error {
		idx := p.remoteAccessByURL(remote.VersionsURL)
		if idx < 0 {
			return nil
		}
		info := &p.RemoteAccessInfos[idx]
		if info.Status == RemoteAccessOffline {
			if err := info.TransitionTo(RemoteAccessOnline); err != nil {
				return err
			}
		}
		info.ConsecutiveFailures = 0
		info.LastError = ""
		return nil
	})
	if err != nil {
		s.logWithLevel(ctx, "warn", "record reachable party failed", map[string]any{"party": id.Key(), "error": err.Error()})
	}
}

func (s *Service) recordExhausted(ctx context.Context, id PartyID, remote RemoteAccessInfo, attempts int, cause error) {
	_, err := s.registry.Update(context.WithoutCancel(ctx), id, func(p *RemoteParty) error {
		idx := p.remoteAccessByURL(remote.VersionsURL)
		if idx < 0 {
			return nil
		}
		info := &p.RemoteAccessInfos[idx]
		info.ConsecutiveFailures += attempts
		if cause != nil {
			info.LastError = cause.Error()
		}
		if info.Status == RemoteAccessOnline {
			return info.TransitionTo(RemoteAccessOffline)
		}
		return nil
	})
	if err != nil {
		s.logWithLevel(ctx, "warn", "record exhausted retries failed", map[string]any{"party": id.Key(), "error": err.Error()})
	}
}

// isRetryableTransportError keeps request construction and validation
// failures out of the retry loop. An adapter's own "retryable" flag wins.
func isRetryableTransportError(err error) bool {
	if err == nil {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if retryable, ok := richErr.Metadata["retryable"].(bool); ok {
			return retryable
		}
		switch richErr.Category {
		case goerrors.CategoryBadInput, goerrors.CategoryValidation, goerrors.CategoryInternal, goerrors.CategoryAuth:
			return false
		}
	}
	return true
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func encodeToken(token string, asBase64 bool) string {
	if !asBase64 {
		return token
	}
	return base64.StdEncoding.EncodeToString([]byte(token))
}

// TokenFromHeader extracts the credential from an "Authorization: Token x"
// header value.
func TokenFromHeader(value string) (string, bool) {
	value = strings.TrimSpace(value)
	scheme, token, found := strings.Cut(value, " ")
	if !found || !strings.EqualFold(scheme, "Token") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func copyHeaders(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for key, value := range in {
		out[key] = value
	}
	return out
}
