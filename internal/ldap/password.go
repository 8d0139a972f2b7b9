package ldap

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// SSHA256Prefix marks a salted SHA-256 password value.
	SSHA256Prefix = "{SSHA256}"

	saltLength = 8
)

// HashPassword returns "{SSHA256}" + base64(sha256(password || salt) || salt)
// with a fresh 8-byte salt.
func HashPassword(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return hashWithSalt(password, salt), nil
}

func hashWithSalt(password string, salt []byte) string {
	digest := sha256.Sum256(append([]byte(password), salt...))

	var buf bytes.Buffer
	buf.Write(digest[:])
	buf.Write(salt)
	return SSHA256Prefix + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// IsHashedPassword reports whether stored carries the SSHA256 marker.
func IsHashedPassword(stored string) bool {
	return strings.HasPrefix(stored, SSHA256Prefix)
}

// VerifyPassword checks input against a stored value. Values without the
// SSHA256 marker are legacy plaintext and compared byte for byte.
func VerifyPassword(stored, input string) bool {
	if !IsHashedPassword(stored) {
		return subtle.ConstantTimeCompare([]byte(stored), []byte(input)) == 1
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, SSHA256Prefix))
	if err != nil || len(raw) <= saltLength {
		return false
	}

	digest, salt := raw[:len(raw)-saltLength], raw[len(raw)-saltLength:]
	computed := sha256.Sum256(append([]byte(input), salt...))
	return subtle.ConstantTimeCompare(digest, computed[:]) == 1
}
