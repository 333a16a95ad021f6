package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-ocpi/core"
)

func TestRESTAdapter_ResponseLimitReturnsRichError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())
	adapter.MaxResponseBodyBytes = 4

	_, err := adapter.Do(context.Background(), core.TransportRequest{Method: http.MethodGet, URL: server.URL})
	if err == nil {
		t.Fatalf("expected response body limit error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got %q", rich.Category)
	}
	if rich.TextCode != core.ServiceErrorTransport {
		t.Fatalf("expected %q text code, got %q", core.ServiceErrorTransport, rich.TextCode)
	}
	if rich.Code != http.StatusBadGateway {
		t.Fatalf("expected %d code, got %d", http.StatusBadGateway, rich.Code)
	}
}

func TestRESTAdapter_NilClientReturnsRichError(t *testing.T) {
	adapter := &RESTAdapter{}
	_, err := adapter.Do(context.Background(), core.TransportRequest{URL: "https://peer.example"})

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal || rich.TextCode != core.ServiceErrorInternal {
		t.Fatalf("unexpected envelope %+v", rich)
	}
	if rich.Code != http.StatusInternalServerError {
		t.Fatalf("expected %d code, got %d", http.StatusInternalServerError, rich.Code)
	}
}

func TestRESTAdapter_InvalidURLIsBadInput(t *testing.T) {
	adapter := NewRESTAdapter(nil)
	for _, raw := range []string{"", "not a url", "/relative/path"} {
		_, err := adapter.Do(context.Background(), core.TransportRequest{URL: raw})
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("%q: expected go-errors envelope, got %T", raw, err)
		}
		if rich.Category != goerrors.CategoryBadInput || rich.TextCode != core.ServiceErrorBadInput {
			t.Fatalf("%q: unexpected envelope %+v", raw, rich)
		}
	}
}

func TestAdapterErrorsCarryRetryHint(t *testing.T) {
	adapter := NewRESTAdapter(nil)
	_, err := adapter.Do(context.Background(), core.TransportRequest{URL: "/relative/path"})
	if IsRetryable(err) {
		t.Fatalf("expected a malformed request to be final, got %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := server.URL
	server.Close()
	_, err = NewRESTAdapter(nil).Do(context.Background(), core.TransportRequest{URL: target})
	if err == nil || !IsRetryable(err) {
		t.Fatalf("expected an unreachable peer to be retryable, got %v", err)
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Metadata["adapter"] != KindREST {
		t.Fatalf("expected adapter metadata, got %v", err)
	}
	if IsRetryable(nil) {
		t.Fatalf("nil error is not retryable")
	}
}
