// Package canonical produces the content hash (ETag) shared by every OCPI
// object this module synchronizes.
//
// The canonical form is the JSON encoding of the typed value: object keys in
// declared struct field order, omitempty fields dropped, no HTML escaping and
// no trailing newline. The hash is SHA-256 over the UTF-8 bytes of that form.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

type Encoding string

const (
	// EncodingHex renders "0x" followed by lowercase hex digits.
	EncodingHex Encoding = "hex"
	// EncodingBase64 renders standard padded base64.
	EncodingBase64 Encoding = "base64"
)

// Encoded lets a type declare the hash encoding of its resource family.
type Encoded interface {
	HashEncoding() Encoding
}

// Marshal returns the canonical JSON form of v.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonical: marshal %T: %w", v, err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Hash computes the content hash of v using the given encoding. An empty
// encoding falls back to the type's declared encoding, then base64.
func Hash(v any, encoding Encoding) (string, error) {
	raw, err := Marshal(v)
	if err != nil {
		return "", err
	}
	if encoding == "" {
		encoding = EncodingOf(v)
	}
	return Sum(raw, encoding)
}

// MustHash is Hash for values whose serialization cannot fail. A failure is a
// programmer error and panics.
func MustHash(v any, encoding Encoding) string {
	out, err := Hash(v, encoding)
	if err != nil {
		panic(err)
	}
	return out
}

// Sum hashes already canonical bytes.
func Sum(raw []byte, encoding Encoding) (string, error) {
	digest := sha256.Sum256(raw)
	switch encoding {
	case EncodingHex:
		return "0x" + hex.EncodeToString(digest[:]), nil
	case EncodingBase64, "":
		return base64.StdEncoding.EncodeToString(digest[:]), nil
	default:
		return "", fmt.Errorf("canonical: unsupported encoding %q", encoding)
	}
}

func EncodingOf(v any) Encoding {
	if typed, ok := v.(Encoded); ok {
		if encoding := typed.HashEncoding(); encoding != "" {
			return encoding
		}
	}
	return EncodingBase64
}

// Equal reports whether two values share the same canonical form.
func Equal(a, b any) bool {
	left, err := Marshal(a)
	if err != nil {
		return false
	}
	right, err := Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(left, right)
}
