package token

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// MinSecretBytes is the smallest accepted secret size (256 bits).
	MinSecretBytes = 32

	// MinDigestKeyBytes is the minimum size of configured digest key material.
	MinDigestKeyBytes = 32

	// hkdfInfo binds the derived key to its single use.
	hkdfInfo = "marketplace/refresh-token-digest/v1"
)

// GenerateSecret returns a new opaque secret of nBytes random bytes,
// encoded as URL-safe base64 without padding.
func GenerateSecret(nBytes int) (string, error) {
	if nBytes < MinSecretBytes {
		return "", ErrSecretTooShort
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Digester computes the one-way digest of presented secrets.
// The zero value is valid and digests with plain SHA-256.
type Digester struct {
	key []byte
}

// NewDigester builds a Digester. Empty key material yields SHA-256 mode.
// Non-empty key material shorter than MinDigestKeyBytes is rejected.
func NewDigester(keyMaterial string) (Digester, error) {
	raw := strings.TrimSpace(keyMaterial)
	if raw == "" {
		return Digester{}, nil
	}
	if len(raw) < MinDigestKeyBytes {
		return Digester{}, ErrDigestKeyTooShort
	}

	key := make([]byte, sha256.Size)
	kdf := hkdf.New(sha256.New, []byte(raw), nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return Digester{}, err
	}
	return Digester{key: key}, nil
}

// RequireKeyed is NewDigester in enforced mode: missing key material is an error.
func RequireKeyed(keyMaterial string) (Digester, error) {
	if strings.TrimSpace(keyMaterial) == "" {
		return Digester{}, ErrDigestKeyMissing
	}
	return NewDigester(keyMaterial)
}

// Keyed reports whether digests are HMAC-based.
func (d Digester) Keyed() bool { return len(d.key) > 0 }

// Digest returns the 64-char hex digest of secret.
func (d Digester) Digest(secret string) string {
	if len(d.key) == 0 {
		sum := sha256.Sum256([]byte(secret))
		return hex.EncodeToString(sum[:])
	}
	m := hmac.New(sha256.New, d.key)
	_, _ = m.Write([]byte(secret))
	return hex.EncodeToString(m.Sum(nil))
}
