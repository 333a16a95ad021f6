package core

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

// ClientCertificateSelector chooses the TLS client identity presented to a
// counter-party.
type ClientCertificateSelector interface {
	SelectClientCertificate(info *tls.CertificateRequestInfo) (*tls.Certificate, error)
}

type ClientCertificateSelectorFunc func(info *tls.CertificateRequestInfo) (*tls.Certificate, error)

func (f ClientCertificateSelectorFunc) SelectClientCertificate(info *tls.CertificateRequestInfo) (*tls.Certificate, error) {
	return f(info)
}

type StaticClientCertificate struct {
	Certificate tls.Certificate
}

func (s StaticClientCertificate) SelectClientCertificate(*tls.CertificateRequestInfo) (*tls.Certificate, error) {
	cert := s.Certificate
	return &cert, nil
}

// CertificateValidator decides whether a server chain that failed standard
// verification is acceptable anyway.
type CertificateValidator interface {
	Validate(serverName string, chain []*x509.Certificate, verifyErr error) error
}

type CertificateValidatorFunc func(serverName string, chain []*x509.Certificate, verifyErr error) error

func (f CertificateValidatorFunc) Validate(serverName string, chain []*x509.Certificate, verifyErr error) error {
	return f(serverName, chain, verifyErr)
}

type RejectAllValidator struct{}

func (RejectAllValidator) Validate(serverName string, _ []*x509.Certificate, verifyErr error) error {
	if verifyErr == nil {
		verifyErr = fmt.Errorf("no verification error reported")
	}
	return fmt.Errorf("core: certificate for %q rejected: %w", serverName, verifyErr)
}

// ValidatorHolder lets the certificate validator be swapped while requests
// using the previous one are in flight.
type ValidatorHolder struct {
	current atomic.Pointer[validatorBox]
}

type validatorBox struct {
	validator CertificateValidator
}

func NewValidatorHolder(validator CertificateValidator) *ValidatorHolder {
	holder := &ValidatorHolder{}
	holder.Store(validator)
	return holder
}

func (h *ValidatorHolder) Load() CertificateValidator {
	if h == nil {
		return RejectAllValidator{}
	}
	box := h.current.Load()
	if box == nil || box.validator == nil {
		return RejectAllValidator{}
	}
	return box.validator
}

func (h *ValidatorHolder) Store(validator CertificateValidator) {
	if h == nil {
		return
	}
	if validator == nil {
		validator = RejectAllValidator{}
	}
	h.current.Store(&validatorBox{validator: validator})
}

type BackoffPolicy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff doubles Initial per attempt up to Max. Jitter spreads
// each delay by up to that fraction in either direction.
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64
	Rand    func() float64
}

func (b ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := b.Initial
	if initial <= 0 {
		initial = defaultBackoffInitial
	}
	max := b.Max
	if max <= 0 {
		max = defaultBackoffMax
	}

	delay := initial
	for i := 1; i < attempt && delay < max; i++ {
		delay *= 2
	}
	if delay > max {
		delay = max
	}
	if b.Jitter <= 0 {
		return delay
	}
	random := b.Rand
	if random == nil {
		random = rand.Float64
	}
	jitter := b.Jitter
	if jitter > 1 {
		jitter = 1
	}
	spread := (random()*2 - 1) * jitter * float64(delay)
	jittered := time.Duration(float64(delay) + spread)
	if jittered < 0 {
		return 0
	}
	return jittered
}

// ConnectionConfig is the per-party outbound connection policy. It is not
// part of the party's persisted or hashed form.
type ConnectionConfig struct {
	ClientCertificate ClientCertificateSelector
	Validator         *ValidatorHolder
	RootCAs           *x509.CertPool
	RequestTimeout    time.Duration
	// MaxNumberOfRetries is the total number of attempts for one call.
	MaxNumberOfRetries int
	Backoff            BackoffPolicy
	Pipelining         bool
}

// WithDefaults fills unset fields from fallback.
func (c ConnectionConfig) WithDefaults(fallback ConnectionConfig) ConnectionConfig {
	out := c
	if out.ClientCertificate == nil {
		out.ClientCertificate = fallback.ClientCertificate
	}
	if out.Validator == nil {
		out.Validator = fallback.Validator
	}
	if out.RootCAs == nil {
		out.RootCAs = fallback.RootCAs
	}
	if out.RequestTimeout <= 0 {
		out.RequestTimeout = fallback.RequestTimeout
	}
	if out.MaxNumberOfRetries <= 0 {
		out.MaxNumberOfRetries = fallback.MaxNumberOfRetries
	}
	if out.MaxNumberOfRetries <= 0 {
		out.MaxNumberOfRetries = defaultMaxNumberOfRetries
	}
	if out.Backoff == nil {
		out.Backoff = fallback.Backoff
	}
	if out.Backoff == nil {
		out.Backoff = ExponentialBackoff{}
	}
	if !out.Pipelining {
		out.Pipelining = fallback.Pipelining
	}
	return out
}
