package oauth_test

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crestline/oauth-service/internal/oauth"
)

func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestVerifyPKCES256(t *testing.T) {
	verifier := strings.Repeat("a", 43)
	challenge := s256Challenge(verifier)

	require.NoError(t, oauth.VerifyPKCE(challenge, oauth.PKCEMethodS256, verifier))
	require.Error(t, oauth.VerifyPKCE(challenge, oauth.PKCEMethodS256, strings.Repeat("b", 43)))
}

func TestVerifyPKCEPlain(t *testing.T) {
	verifier := strings.Repeat("p", 50)

	require.NoError(t, oauth.VerifyPKCE(verifier, oauth.PKCEMethodPlain, verifier))
	// Absent method defaults to plain.
	require.NoError(t, oauth.VerifyPKCE(verifier, "", verifier))
	require.Error(t, oauth.VerifyPKCE(verifier, oauth.PKCEMethodPlain, strings.Repeat("q", 50)))
}

func TestVerifyPKCEMissingVerifier(t *testing.T) {
	challenge := s256Challenge(strings.Repeat("a", 43))
	require.Error(t, oauth.VerifyPKCE(challenge, oauth.PKCEMethodS256, ""))
}

func TestVerifyPKCENoChallengeSkips(t *testing.T) {
	require.NoError(t, oauth.VerifyPKCE("", "", ""))
	// A verifier sent without a stored challenge is ignored.
	require.NoError(t, oauth.VerifyPKCE("", "", strings.Repeat("a", 43)))
}

func TestVerifyPKCEVerifierLengthBounds(t *testing.T) {
	short := strings.Repeat("a", 42)
	long := strings.Repeat("a", 129)

	require.Error(t, oauth.VerifyPKCE(s256Challenge(short), oauth.PKCEMethodS256, short))
	require.Error(t, oauth.VerifyPKCE(s256Challenge(long), oauth.PKCEMethodS256, long))

	exact := strings.Repeat("a", 128)
	require.NoError(t, oauth.VerifyPKCE(s256Challenge(exact), oauth.PKCEMethodS256, exact))
}

func TestValidChallengeMethod(t *testing.T) {
	require.True(t, oauth.ValidChallengeMethod(""))
	require.True(t, oauth.ValidChallengeMethod(oauth.PKCEMethodPlain))
	require.True(t, oauth.ValidChallengeMethod(oauth.PKCEMethodS256))
	require.False(t, oauth.ValidChallengeMethod("s256"))
	require.False(t, oauth.ValidChallengeMethod("S512"))
}
