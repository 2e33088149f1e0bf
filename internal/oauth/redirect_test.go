package oauth_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crestline/oauth-service/internal/oauth"
)

func TestValidateRedirectURI(t *testing.T) {
	require.NoError(t, oauth.ValidateRedirectURI("https://app.example.com/callback"))
	require.NoError(t, oauth.ValidateRedirectURI("http://localhost:3000/cb"))

	require.Error(t, oauth.ValidateRedirectURI(""))
	require.Error(t, oauth.ValidateRedirectURI("/relative/path"))
	require.Error(t, oauth.ValidateRedirectURI("ftp://example.com/cb"))
	require.Error(t, oauth.ValidateRedirectURI("https:///no-host"))
	require.Error(t, oauth.ValidateRedirectURI("https://example.com/cb#fragment"))
}

func TestMatchRedirectURIExactOnly(t *testing.T) {
	registered := []string{"https://a.example.com/cb", "https://b.example.com/cb"}

	require.True(t, oauth.MatchRedirectURI(registered, "https://b.example.com/cb"))

	// No prefix, suffix, or scheme leniency.
	require.False(t, oauth.MatchRedirectURI(registered, "https://a.example.com/cb/"))
	require.False(t, oauth.MatchRedirectURI(registered, "https://a.example.com/cb/extra"))
	require.False(t, oauth.MatchRedirectURI(registered, "http://a.example.com/cb"))
	require.False(t, oauth.MatchRedirectURI(registered, ""))
	require.False(t, oauth.MatchRedirectURI(nil, "https://a.example.com/cb"))
}
