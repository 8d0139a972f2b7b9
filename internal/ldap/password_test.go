package ldap

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPassword_RoundTrip(t *testing.T) {
	seen := make(map[string]bool)

	for i := range 100 {
		password := strings.Repeat("p", i) + "Secret!"

		hashed, err := HashPassword(password)
		require.NoError(t, err)
		require.True(t, IsHashedPassword(hashed))

		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(hashed, SSHA256Prefix))
		require.NoError(t, err)
		assert.Len(t, raw, 32+saltLength)

		assert.True(t, VerifyPassword(hashed, password))
		assert.False(t, VerifyPassword(hashed, password+"x"))
		assert.False(t, VerifyPassword(hashed, ""))

		assert.False(t, seen[hashed], "salts must differ")
		seen[hashed] = true
	}
}

func TestHashWithSalt_KnownValue(t *testing.T) {
	salt := []byte("12345678")
	hashed := hashWithSalt("secret", salt)

	assert.True(t, strings.HasPrefix(hashed, "{SSHA256}"))
	assert.True(t, VerifyPassword(hashed, "secret"))
	assert.Equal(t, hashed, hashWithSalt("secret", salt), "deterministic for a fixed salt")
}

func TestVerifyPassword(t *testing.T) {
	tests := []struct {
		name   string
		stored string
		input  string
		want   bool
	}{
		{name: "plaintext match", stored: "userPass", input: "userPass", want: true},
		{name: "plaintext mismatch", stored: "userPass", input: "userpass", want: false},
		{name: "empty stored and input", stored: "", input: "", want: true},
		{name: "corrupt base64", stored: SSHA256Prefix + "!!!", input: "x", want: false},
		{name: "too short", stored: SSHA256Prefix + base64.StdEncoding.EncodeToString([]byte("short")), input: "x", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyPassword(tt.stored, tt.input))
		})
	}
}
