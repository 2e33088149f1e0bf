package oauth_test

import (
	"fmt"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/crestline/oauth-service/internal/oauth"
)

func TestErrorHTTPStatus(t *testing.T) {
	require.Equal(t, http.StatusUnauthorized, oauth.InvalidClient("x").HTTPStatus())
	require.Equal(t, http.StatusInternalServerError, oauth.ServerError().HTTPStatus())
	require.Equal(t, http.StatusBadRequest, oauth.InvalidGrant().HTTPStatus())
	require.Equal(t, http.StatusBadRequest, oauth.InvalidRequest("x").HTTPStatus())
}

func TestInvalidGrantCarriesNoDetail(t *testing.T) {
	// Every redemption failure shares one description so responses cannot
	// reveal which check rejected the grant.
	oe := oauth.InvalidGrant()
	require.Equal(t, "invalid_grant", oe.Code)
	require.Equal(t, "grant is invalid, expired, or already used", oe.Description)
}

func TestRedirectErrorLocation(t *testing.T) {
	re := &oauth.RedirectError{
		RedirectURI: "https://app.example.com/cb?keep=1",
		State:       "xyz",
		Err:         oauth.AccessDenied(),
	}

	u, err := url.Parse(re.Location())
	require.NoError(t, err)
	q := u.Query()
	require.Equal(t, "access_denied", q.Get("error"))
	require.Equal(t, "xyz", q.Get("state"))
	require.Equal(t, "1", q.Get("keep"))
}

func TestSuccessRedirect(t *testing.T) {
	loc := oauth.SuccessRedirect("https://app.example.com/cb", "abc123", "st")
	u, err := url.Parse(loc)
	require.NoError(t, err)
	require.Equal(t, "abc123", u.Query().Get("code"))
	require.Equal(t, "st", u.Query().Get("state"))

	// State is echoed only when present.
	loc = oauth.SuccessRedirect("https://app.example.com/cb", "abc123", "")
	u, err = url.Parse(loc)
	require.NoError(t, err)
	require.False(t, u.Query().Has("state"))
}

func TestAsErrorUnwrapsChains(t *testing.T) {
	wrapped := fmt.Errorf("handling request: %w", oauth.InvalidScope("bad"))
	oe, ok := oauth.AsError(wrapped)
	require.True(t, ok)
	require.Equal(t, "invalid_scope", oe.Code)

	_, ok = oauth.AsError(fmt.Errorf("plain"))
	require.False(t, ok)

	re := &oauth.RedirectError{RedirectURI: "https://a/cb", Err: oauth.AccessDenied()}
	oe, ok = oauth.AsError(re)
	require.True(t, ok)
	require.Equal(t, "access_denied", oe.Code)
}
