package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DigestSize is the byte length of a content fingerprint.
const DigestSize = sha256.Size

// Digest is a SHA-256 content fingerprint.
type Digest [DigestSize]byte

// ParseDigest decodes the 64-char lowercase hex form of a digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	if len(s) != hex.EncodedLen(DigestSize) {
		return d, fmt.Errorf("%w: length %d", ErrInvalidDigest, len(s))
	}
	if _, err := hex.Decode(d[:], []byte(s)); err != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	return d, nil
}

// String returns the hex form.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// Short returns the first 12 hex chars, for logs.
func (d Digest) Short() string {
	return d.String()[:12]
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
