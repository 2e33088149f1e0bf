package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// PKCE constants per RFC 7636.
const (
	PKCEMethodPlain = "plain"
	PKCEMethodS256  = "S256"

	MinCodeVerifierLength = 43
	MaxCodeVerifierLength = 128
)

// ValidChallengeMethod reports whether method is acceptable on an
// authorization request. Absent PKCE is allowed for confidential clients.
func ValidChallengeMethod(method string) bool {
	return method == "" || method == PKCEMethodPlain || method == PKCEMethodS256
}

// VerifyPKCE checks a client-supplied verifier against the stored challenge.
// A stored challenge with a missing verifier always fails. Comparisons are
// constant-time.
func VerifyPKCE(challenge, method, verifier string) error {
	if challenge == "" {
		return nil
	}
	if verifier == "" {
		return fmt.Errorf("code_verifier is required")
	}
	if len(verifier) < MinCodeVerifierLength || len(verifier) > MaxCodeVerifierLength {
		return fmt.Errorf("code_verifier length must be between %d and %d", MinCodeVerifierLength, MaxCodeVerifierLength)
	}

	switch method {
	case PKCEMethodS256:
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		if subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) != 1 {
			return fmt.Errorf("code_verifier does not match challenge")
		}
	case PKCEMethodPlain, "":
		// RFC 7636 defaults an absent method to plain.
		if subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) != 1 {
			return fmt.Errorf("code_verifier does not match challenge")
		}
	default:
		return fmt.Errorf("unsupported code_challenge_method %q", method)
	}
	return nil
}
