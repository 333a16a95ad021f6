package transport

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/goliatone/go-ocpi/core"
)

const (
	defaultDialTimeout         = 10 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	defaultIdleConnTimeout     = 90 * time.Second
)

// TLSConfig builds the client TLS configuration for one party. When a
// validator holder is set, chains that fail standard verification are handed
// to the validator loaded at handshake time.
func TLSConfig(cfg core.ConnectionConfig) *tls.Config {
	out := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    cfg.RootCAs,
	}
	if cfg.ClientCertificate != nil {
		out.GetClientCertificate = cfg.ClientCertificate.SelectClientCertificate
	}
	if cfg.Validator != nil {
		holder := cfg.Validator
		roots := cfg.RootCAs
		// Verification moves into VerifyConnection.
		out.InsecureSkipVerify = true
		out.VerifyConnection = func(state tls.ConnectionState) error {
			return verifyServerChain(state, roots, holder)
		}
	}
	return out
}

func verifyServerChain(state tls.ConnectionState, roots *x509.CertPool, holder *core.ValidatorHolder) error {
	if len(state.PeerCertificates) == 0 {
		return holder.Load().Validate(state.ServerName, nil, errors.New("transport: server presented no certificate"))
	}
	opts := x509.VerifyOptions{
		DNSName:       state.ServerName,
		Roots:         roots,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range state.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}
	if _, err := state.PeerCertificates[0].Verify(opts); err != nil {
		return holder.Load().Validate(state.ServerName, state.PeerCertificates, err)
	}
	return nil
}

// NewHTTPClient builds the client used to reach one party. Pipelining off
// means one connection per request.
func NewHTTPClient(cfg core.ConnectionConfig) *http.Client {
	dialer := &net.Dialer{Timeout: defaultDialTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSClientConfig:       TLSConfig(cfg),
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		IdleConnTimeout:       defaultIdleConnTimeout,
		DisableKeepAlives:     !cfg.Pipelining,
		ForceAttemptHTTP2:     cfg.Pipelining,
		ExpectContinueTimeout: time.Second,
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRESTTimeout
	}
	return &http.Client{Transport: transport, Timeout: timeout}
}
