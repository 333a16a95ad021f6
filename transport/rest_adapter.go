package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-ocpi/core"
	"github.com/google/uuid"
)

const KindREST = "rest"

// OCPI request and routing headers.
const (
	HeaderRequestID       = "X-Request-ID"
	HeaderCorrelationID   = "X-Correlation-ID"
	HeaderFromCountryCode = "OCPI-from-country-code"
	HeaderFromPartyID     = "OCPI-from-party-id"
	HeaderToCountryCode   = "OCPI-to-country-code"
	HeaderToPartyID       = "OCPI-to-party-id"
	HeaderLink            = "Link"
	HeaderTotalCount      = "X-Total-Count"
	HeaderLimit           = "X-Limit"
)

const (
	defaultRESTResponseBody int64 = 10 << 20
	defaultRESTTimeout            = 30 * time.Second
)

// Response metadata keys filled from the reply.
const (
	MetaOCPIStatusCode = "ocpi_status_code"
	MetaNextURL        = "next_url"
	MetaTotalCount     = "total_count"
	MetaLimit          = "limit"
	MetaRequestID      = "request_id"
	MetaDurationMS     = "duration_ms"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTAdapter sends OCPI requests to one counter-party. Every request gets a
// fresh X-Request-ID; X-Correlation-ID is kept when the caller set one. When
// From and To are set the OCPI routing headers are added.
type RESTAdapter struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
	RequestID            func() string
	From                 core.PartyID
	To                   core.PartyID
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultRESTTimeout}
	}
	return &RESTAdapter{
		Client:               client,
		DefaultHeaders:       map[string]string{"Accept": "application/json"},
		MaxResponseBodyBytes: defaultRESTResponseBody,
		RequestID:            uuid.NewString,
	}
}

func (*RESTAdapter) Kind() string {
	return KindREST
}

func (a *RESTAdapter) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil || a.Client == nil {
		return core.TransportResponse{}, fail(failNotConfigured, nil, "transport: rest adapter requires an http client", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := a.newRequest(ctx, req)
	if err != nil {
		return core.TransportResponse{}, err
	}
	meta := map[string]any{"method": httpReq.Method, "url": httpReq.URL.String()}

	startedAt := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return core.TransportResponse{}, fail(failUnreachable, err, "transport: execute http request", meta)
	}
	defer httpRes.Body.Close()

	payload, err := a.readBody(httpRes, req.MaxResponseBodyBytes)
	if err != nil {
		return core.TransportResponse{}, err
	}

	resp := core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       payload,
		Metadata: map[string]any{
			MetaDurationMS: time.Since(startedAt).Milliseconds(),
			MetaRequestID:  httpReq.Header.Get(HeaderRequestID),
		},
	}
	describeReply(resp.Metadata, httpRes.Header, payload)
	return resp, nil
}

func (a *RESTAdapter) newRequest(ctx context.Context, req core.TransportRequest) (*http.Request, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	target, err := buildURL(req.URL, req.Query)
	if err != nil {
		return nil, err
	}
	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fail(failBadRequest, err, "transport: create http request", map[string]any{"method": method, "url": target})
	}

	setHeaders(httpReq.Header, a.DefaultHeaders)
	setHeaders(httpReq.Header, req.Headers)
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if httpReq.Header.Get(HeaderRequestID) == "" && a.RequestID != nil {
		httpReq.Header.Set(HeaderRequestID, a.RequestID())
	}
	if httpReq.Header.Get(HeaderCorrelationID) == "" {
		httpReq.Header.Set(HeaderCorrelationID, httpReq.Header.Get(HeaderRequestID))
	}
	if a.From.CountryCode != "" && a.To.CountryCode != "" {
		httpReq.Header.Set(HeaderFromCountryCode, a.From.CountryCode)
		httpReq.Header.Set(HeaderFromPartyID, a.From.PartyID)
		httpReq.Header.Set(HeaderToCountryCode, a.To.CountryCode)
		httpReq.Header.Set(HeaderToPartyID, a.To.PartyID)
	}
	return httpReq, nil
}

func (a *RESTAdapter) readBody(res *http.Response, requestLimit int64) ([]byte, error) {
	limit := requestLimit
	if limit <= 0 {
		limit = a.MaxResponseBodyBytes
	}
	if limit <= 0 {
		limit = defaultRESTResponseBody
	}
	payload, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return nil, fail(failUnreachable, err, "transport: read response body", map[string]any{"status_code": res.StatusCode})
	}
	if int64(len(payload)) > limit {
		return nil, fail(failBadReply, nil, fmt.Sprintf("transport: response body exceeds limit of %d bytes", limit),
			map[string]any{"status_code": res.StatusCode, "response_limit_b": limit})
	}
	return payload, nil
}

// describeReply records the envelope status code and the OCPI pagination
// headers of a reply. Bodies that are not an envelope are left alone.
func describeReply(meta map[string]any, headers http.Header, payload []byte) {
	if len(bytes.TrimSpace(payload)) > 0 {
		if envelope, err := core.DecodeResponse(payload); err == nil && envelope.StatusCode != 0 {
			meta[MetaOCPIStatusCode] = envelope.StatusCode
		}
	}
	if next := nextLink(headers.Values(HeaderLink)); next != "" {
		meta[MetaNextURL] = next
	}
	if total, err := strconv.Atoi(strings.TrimSpace(headers.Get(HeaderTotalCount))); err == nil {
		meta[MetaTotalCount] = total
	}
	if limit, err := strconv.Atoi(strings.TrimSpace(headers.Get(HeaderLimit))); err == nil {
		meta[MetaLimit] = limit
	}
}

// nextLink extracts the rel="next" target of RFC 8288 Link values.
func nextLink(values []string) string {
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			target, params, ok := strings.Cut(strings.TrimSpace(part), ";")
			if !ok {
				continue
			}
			for _, param := range strings.Split(params, ";") {
				key, val, _ := strings.Cut(strings.TrimSpace(param), "=")
				if strings.EqualFold(key, "rel") && strings.EqualFold(strings.Trim(val, `"`), "next") {
					return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(target), "<"), ">")
				}
			}
		}
	}
	return ""
}

func setHeaders(dst http.Header, headers map[string]string) {
	for key, value := range headers {
		if key = strings.TrimSpace(key); key != "" {
			dst.Set(key, strings.TrimSpace(value))
		}
	}
}

func buildURL(raw string, params map[string]string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fail(failBadRequest, nil, "transport: request url is required", nil)
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fail(failBadRequest, err, "transport: invalid request url", map[string]any{"url": raw})
	}
	if len(params) > 0 {
		query := parsed.Query()
		for key, value := range params {
			if key = strings.TrimSpace(key); key != "" {
				query.Set(key, strings.TrimSpace(value))
			}
		}
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}
