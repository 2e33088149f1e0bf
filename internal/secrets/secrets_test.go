package secrets_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crestline/oauth-service/internal/secrets"
)

func TestGeneratedCredentialsAreDistinct(t *testing.T) {
	a, err := secrets.GenerateToken()
	require.NoError(t, err)
	b, err := secrets.GenerateToken()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.GreaterOrEqual(t, len(a), 43)
}

func TestCredentialPrefixes(t *testing.T) {
	id, err := secrets.GenerateClientID()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "cl_"))

	secret, err := secrets.GenerateClientSecret()
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(secret, "cs_"))
}

func TestHashTokenIsStableAndOpaque(t *testing.T) {
	h := secrets.HashToken("some-token")
	require.Equal(t, h, secrets.HashToken("some-token"))
	require.NotEqual(t, h, secrets.HashToken("some-token2"))
	require.Len(t, h, 64)
	require.NotContains(t, h, "some-token")
}

func TestEncryptorRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	copy(key, "0123456789abcdef0123456789abcdef")
	enc, err := secrets.NewEncryptor(key)
	require.NoError(t, err)

	ct, err := enc.Encrypt("cs_super_secret")
	require.NoError(t, err)
	require.NotContains(t, string(ct), "cs_super_secret")

	pt, err := enc.Decrypt(ct)
	require.NoError(t, err)
	require.Equal(t, "cs_super_secret", pt)

	// Same plaintext seals differently each time.
	ct2, err := enc.Encrypt("cs_super_secret")
	require.NoError(t, err)
	require.NotEqual(t, ct, ct2)
}

func TestEncryptorRejectsBadInput(t *testing.T) {
	_, err := secrets.NewEncryptor([]byte("short"))
	require.Error(t, err)

	key := make([]byte, 32)
	enc, err := secrets.NewEncryptor(key)
	require.NoError(t, err)

	_, err = enc.Decrypt([]byte("tiny"))
	require.Error(t, err)

	ct, err := enc.Encrypt("value")
	require.NoError(t, err)
	ct[len(ct)-1] ^= 0xff
	_, err = enc.Decrypt(ct)
	require.Error(t, err)
}
