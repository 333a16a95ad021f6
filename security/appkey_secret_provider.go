package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-ocpi/core"
)

type Option func(*AppKeySecretProvider)

// AppKeySecretProvider seals party documents with AES-GCM under an
// application key. Retired keys stay usable for decryption inside their
// rotation window.
type AppKeySecretProvider struct {
	current appKey
	retired map[string]appKey
	now     func() time.Time
}

type appKey struct {
	id      string
	version int
	aead    cipher.AEAD
	window  KeyRotationWindow
}

func WithKeyID(id string) Option {
	return func(provider *AppKeySecretProvider) {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			provider.current.id = trimmed
		}
	}
}

func WithVersion(version int) Option {
	return func(provider *AppKeySecretProvider) {
		if version > 0 {
			provider.current.version = version
		}
	}
}

// WithRetiredKey keeps an older key available to Decrypt while window allows.
func WithRetiredKey(id string, version int, material []byte, window KeyRotationWindow) Option {
	return func(provider *AppKeySecretProvider) {
		aead, err := newAEAD(material)
		if err != nil || strings.TrimSpace(id) == "" {
			return
		}
		key := appKey{id: strings.TrimSpace(id), version: version, aead: aead, window: window}
		provider.retired[key.ref()] = key
	}
}

func WithClock(now func() time.Time) Option {
	return func(provider *AppKeySecretProvider) {
		if now != nil {
			provider.now = now
		}
	}
}

func NewAppKeySecretProvider(keyMaterial []byte, opts ...Option) (*AppKeySecretProvider, error) {
	aead, err := newAEAD(keyMaterial)
	if err != nil {
		return nil, err
	}
	provider := &AppKeySecretProvider{
		current: appKey{id: "app-key", version: 1, aead: aead},
		retired: map[string]appKey{},
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	delete(provider.retired, provider.current.ref())
	return provider, nil
}

func NewAppKeySecretProviderFromString(key string, opts ...Option) (*AppKeySecretProvider, error) {
	return NewAppKeySecretProvider([]byte(key), opts...)
}

func (p *AppKeySecretProvider) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("security: plaintext is required")
	}
	nonce := make([]byte, p.current.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("security: nonce generation failed: %w", err)
	}
	sealed := p.current.aead.Seal(nil, nonce, plaintext, p.current.associatedData())
	return encodeEnvelope(envelope{
		KeyID:      p.current.id,
		Version:    p.current.version,
		Algorithm:  envelopeAlgorithm,
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
	})
}

func (p *AppKeySecretProvider) Decrypt(_ context.Context, ciphertext []byte) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: secret provider is nil")
	}
	parsed, err := decodeEnvelope(ciphertext)
	if err != nil {
		return nil, err
	}
	key, err := p.keyFor(parsed.KeyID, parsed.Version)
	if err != nil {
		return nil, err
	}
	nonce, err := decodeField("nonce", parsed.Nonce)
	if err != nil {
		return nil, err
	}
	sealed, err := decodeField("ciphertext", parsed.Ciphertext)
	if err != nil {
		return nil, err
	}
	if len(nonce) != key.aead.NonceSize() {
		return nil, fmt.Errorf("security: nonce has %d bytes, want %d", len(nonce), key.aead.NonceSize())
	}
	plaintext, err := key.aead.Open(nil, nonce, sealed, key.associatedData())
	if err != nil {
		return nil, fmt.Errorf("security: decrypt payload: %w", err)
	}
	return plaintext, nil
}

// NeedsReseal reports whether ciphertext was sealed by a key other than the
// current one.
func (p *AppKeySecretProvider) NeedsReseal(ciphertext []byte) bool {
	meta, err := ParseEnvelopeMetadata(ciphertext)
	if err != nil {
		return false
	}
	return meta.KeyID != p.current.id || meta.Version != p.current.version
}

func (p *AppKeySecretProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.current.id
}

func (p *AppKeySecretProvider) Version() int {
	if p == nil {
		return 0
	}
	return p.current.version
}

func (p *AppKeySecretProvider) keyFor(id string, version int) (appKey, error) {
	if id == p.current.id && version == p.current.version {
		return p.current, nil
	}
	lookup := appKey{id: id, version: version}
	key, ok := p.retired[lookup.ref()]
	if !ok {
		return appKey{}, fmt.Errorf("security: key %s is not known", lookup.ref())
	}
	switch now := p.now(); {
	case key.window.Expired(now):
		return appKey{}, fmt.Errorf("security: key %s was retired on %s", lookup.ref(), key.window.NotAfter.UTC().Format(time.RFC3339))
	case !key.window.Allows(now):
		return appKey{}, fmt.Errorf("security: key %s is not active yet", lookup.ref())
	}
	return key, nil
}

func (k appKey) ref() string {
	return k.id + "@" + strconv.Itoa(k.version)
}

// associatedData binds the ciphertext to the key reference in the envelope.
func (k appKey) associatedData() []byte {
	return []byte(envelopePrefix + k.ref())
}

func newAEAD(material []byte) (cipher.AEAD, error) {
	key := bytes.TrimSpace(material)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	block, err := aes.NewCipher(normalizeKey(key))
	if err != nil {
		return nil, fmt.Errorf("security: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("security: create gcm: %w", err)
	}
	return aead, nil
}

// normalizeKey uses 32 byte material as is and derives a key otherwise.
func normalizeKey(value []byte) []byte {
	if len(value) == 32 {
		return append([]byte(nil), value...)
	}
	sum := sha256.Sum256(value)
	return sum[:]
}

var _ core.SecretProvider = (*AppKeySecretProvider)(nil)
