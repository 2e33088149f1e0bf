package tokens_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/crestline/oauth-service/internal/audit"
	"github.com/crestline/oauth-service/internal/authorize"
	"github.com/crestline/oauth-service/internal/clients"
	"github.com/crestline/oauth-service/internal/config"
	"github.com/crestline/oauth-service/internal/oauth"
	"github.com/crestline/oauth-service/internal/revocation"
	"github.com/crestline/oauth-service/internal/secrets"
	"github.com/crestline/oauth-service/internal/storage/memory"
	"github.com/crestline/oauth-service/internal/tokens"
)

const callback = "https://app.example.com/cb"

type fakeMinter struct{ minted int }

func (m *fakeMinter) MintIDToken(userID, clientID string, scopes []string) (string, time.Time, error) {
	m.minted++
	return "idtoken-" + userID + "-" + clientID, time.Now().Add(time.Hour), nil
}

// fixture owns the full issuance pipeline so tests can drive real flows:
// register a client, approve consent, then hit the token endpoint.
type fixture struct {
	store     *memory.Store
	clientSvc *clients.Service
	authSvc   *authorize.Service
	tokenSvc  *tokens.Service
	minter    *fakeMinter
}

func newFixture(t *testing.T, mutateCfg func(*config.TokenConfig)) *fixture {
	t.Helper()
	store := memory.New()
	enc, err := secrets.NewEncryptor(make([]byte, 32))
	require.NoError(t, err)

	cfg := config.TokenConfig{
		AuthCodeTTL:         5 * time.Minute,
		AccessTokenTTL:      time.Hour,
		RefreshTokenTTL:     24 * time.Hour,
		RotateRefreshTokens: true,
		ClockSkewGrace:      2 * time.Second,
	}
	if mutateCfg != nil {
		mutateCfg(&cfg)
	}

	auditor := audit.New(zap.NewNop())
	minter := &fakeMinter{}

	return &fixture{
		store: store,
		clientSvc: clients.New(clients.Dependencies{
			Store:     store,
			Tokens:    store,
			Encryptor: enc,
			Auditor:   auditor,
			Logger:    zap.NewNop(),
		}),
		authSvc: authorize.New(authorize.Dependencies{
			Clients: store,
			Codes:   store,
			Config:  cfg,
			Auditor: auditor,
			Logger:  zap.NewNop(),
		}),
		tokenSvc: tokens.New(tokens.Dependencies{
			Clients:   store,
			Codes:     store,
			Store:     store,
			IDTokens:  minter,
			Encryptor: enc,
			Revoker:   revocation.New(nil, "test"),
			Config:    cfg,
			Auditor:   auditor,
			Logger:    zap.NewNop(),
		}),
		minter: minter,
	}
}

func (f *fixture) registerClient(t *testing.T, scopes []string, public bool) *clients.Client {
	t.Helper()
	c, err := f.clientSvc.Register(context.Background(), clients.RegisterInput{
		OwnerID:      "owner-1",
		Name:         "Example App",
		RedirectURIs: []string{callback},
		Scopes:       scopes,
		Public:       public,
	})
	require.NoError(t, err)
	return c
}

func (f *fixture) issueCode(t *testing.T, c *clients.Client, scope, challenge, method string) string {
	t.Helper()
	location, err := f.authSvc.Approve(context.Background(), authorize.Request{
		ClientID:            c.ClientID,
		RedirectURI:         callback,
		ResponseType:        "code",
		Scope:               scope,
		State:               "st",
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		UserID:              "user-1",
	})
	require.NoError(t, err)
	u, err := url.Parse(location)
	require.NoError(t, err)
	code := u.Query().Get("code")
	require.NotEmpty(t, code)
	return code
}

func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func requireOAuthError(t *testing.T, err error, code string) {
	t.Helper()
	oe, ok := oauth.AsError(err)
	require.True(t, ok, "expected protocol error, got %v", err)
	require.Equal(t, code, oe.Code)
}

func TestExchangeAuthorizationCode(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, []string{"openid", "email", "offline_access"}, false)
	code := f.issueCode(t, c, "openid email offline_access", "", "")

	resp, err := f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:    "authorization_code",
		ClientID:     c.ClientID,
		ClientSecret: c.Secret,
		Code:         code,
		RedirectURI:  callback,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.Equal(t, "Bearer", resp.TokenType)
	require.Equal(t, int64(3600), resp.ExpiresIn)
	require.Equal(t, "openid email offline_access", resp.Scope)
	require.NotEmpty(t, resp.RefreshToken, "offline_access grants a refresh token")
	require.NotEmpty(t, resp.IDToken, "openid grants an id token")
	require.Equal(t, 1, f.minter.minted)

	// Raw credentials are never persisted.
	_, err = f.store.GetAccessTokenByHash(context.Background(), resp.AccessToken)
	require.Error(t, err)
	at, err := f.store.GetAccessTokenByHash(context.Background(), secrets.HashToken(resp.AccessToken))
	require.NoError(t, err)
	require.Equal(t, "user-1", at.UserID)
}

func TestExchangeWithoutOptionalScopes(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, []string{"email", "profile"}, false)
	code := f.issueCode(t, c, "email", "", "")

	resp, err := f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:    "authorization_code",
		ClientID:     c.ClientID,
		ClientSecret: c.Secret,
		Code:         code,
		RedirectURI:  callback,
	})
	require.NoError(t, err)
	require.Empty(t, resp.RefreshToken)
	require.Empty(t, resp.IDToken)
}

func TestExchangeRejectsCodeReuse(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, nil, false)
	code := f.issueCode(t, c, "openid", "", "")

	in := tokens.ExchangeInput{
		GrantType:    "authorization_code",
		ClientID:     c.ClientID,
		ClientSecret: c.Secret,
		Code:         code,
		RedirectURI:  callback,
	}
	_, err := f.tokenSvc.Exchange(context.Background(), in)
	require.NoError(t, err)

	_, err = f.tokenSvc.Exchange(context.Background(), in)
	requireOAuthError(t, err, "invalid_grant")
}

func TestExchangeExpiredCodeLeavesUsedFalse(t *testing.T) {
	f := newFixture(t, func(cfg *config.TokenConfig) {
		cfg.AuthCodeTTL = time.Nanosecond
		cfg.ClockSkewGrace = 0
	})
	c := f.registerClient(t, nil, false)
	code := f.issueCode(t, c, "openid", "", "")

	time.Sleep(10 * time.Millisecond)

	_, err := f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:    "authorization_code",
		ClientID:     c.ClientID,
		ClientSecret: c.Secret,
		Code:         code,
		RedirectURI:  callback,
	})
	requireOAuthError(t, err, "invalid_grant")

	record, err := f.store.GetCodeByHash(context.Background(), secrets.HashToken(code))
	require.NoError(t, err)
	require.False(t, record.Used)
}

func TestExchangeRedirectMismatch(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, nil, false)
	code := f.issueCode(t, c, "openid", "", "")

	_, err := f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:    "authorization_code",
		ClientID:     c.ClientID,
		ClientSecret: c.Secret,
		Code:         code,
		RedirectURI:  callback + "/other",
	})
	requireOAuthError(t, err, "invalid_grant")
}

func TestExchangeWrongClient(t *testing.T) {
	f := newFixture(t, nil)
	owner := f.registerClient(t, nil, false)
	code := f.issueCode(t, owner, "openid", "", "")

	other, err := f.clientSvc.Register(context.Background(), clients.RegisterInput{
		OwnerID:      "owner-2",
		Name:         "Other App",
		RedirectURIs: []string{callback},
	})
	require.NoError(t, err)

	_, err = f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:    "authorization_code",
		ClientID:     other.ClientID,
		ClientSecret: other.Secret,
		Code:         code,
		RedirectURI:  callback,
	})
	requireOAuthError(t, err, "invalid_grant")
}

func TestExchangeClientAuthentication(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, nil, false)
	code := f.issueCode(t, c, "openid", "", "")

	_, err := f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:    "authorization_code",
		ClientID:     c.ClientID,
		ClientSecret: "cs_wrong",
		Code:         code,
		RedirectURI:  callback,
	})
	requireOAuthError(t, err, "invalid_client")

	_, err = f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:   "authorization_code",
		ClientID:    c.ClientID,
		Code:        code,
		RedirectURI: callback,
	})
	requireOAuthError(t, err, "invalid_client")

	_, err = f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:    "authorization_code",
		ClientID:     "cl_unknown",
		ClientSecret: "cs_x",
		Code:         code,
		RedirectURI:  callback,
	})
	requireOAuthError(t, err, "invalid_client")
}

func TestExchangePKCES256(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, nil, true)
	verifier := strings.Repeat("v", 64)
	code := f.issueCode(t, c, "openid", s256Challenge(verifier), "S256")

	in := tokens.ExchangeInput{
		GrantType:    "authorization_code",
		ClientID:     c.ClientID,
		Code:         code,
		RedirectURI:  callback,
		CodeVerifier: verifier,
	}
	resp, err := f.tokenSvc.Exchange(context.Background(), in)
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
}

func TestExchangePKCEMismatch(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, nil, true)
	code := f.issueCode(t, c, "openid", s256Challenge(strings.Repeat("v", 64)), "S256")

	_, err := f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:    "authorization_code",
		ClientID:     c.ClientID,
		Code:         code,
		RedirectURI:  callback,
		CodeVerifier: strings.Repeat("w", 64),
	})
	requireOAuthError(t, err, "invalid_grant")
}

func TestExchangePKCEMissingVerifier(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, nil, true)
	code := f.issueCode(t, c, "openid", s256Challenge(strings.Repeat("v", 64)), "S256")

	_, err := f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:   "authorization_code",
		ClientID:    c.ClientID,
		Code:        code,
		RedirectURI: callback,
	})
	requireOAuthError(t, err, "invalid_grant")
}

func TestExchangePublicClientRequiresPKCE(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, nil, true)
	code := f.issueCode(t, c, "openid", "", "")

	_, err := f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:   "authorization_code",
		ClientID:    c.ClientID,
		Code:        code,
		RedirectURI: callback,
	})
	requireOAuthError(t, err, "invalid_grant")
}

func TestExchangeUnsupportedGrantType(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{GrantType: "password"})
	requireOAuthError(t, err, "unsupported_grant_type")
}

func redeem(t *testing.T, f *fixture, c *clients.Client, scope string) *tokens.Response {
	t.Helper()
	code := f.issueCode(t, c, scope, "", "")
	resp, err := f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:    "authorization_code",
		ClientID:     c.ClientID,
		ClientSecret: c.Secret,
		Code:         code,
		RedirectURI:  callback,
	})
	require.NoError(t, err)
	return resp
}

func TestRefreshRotatesToken(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, []string{"openid", "offline_access"}, false)
	first := redeem(t, f, c, "openid offline_access")

	resp, err := f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:    "refresh_token",
		ClientID:     c.ClientID,
		ClientSecret: c.Secret,
		RefreshToken: first.RefreshToken,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.AccessToken)
	require.NotEqual(t, first.AccessToken, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)
	require.NotEqual(t, first.RefreshToken, resp.RefreshToken)

	// The pre-rotation token no longer works.
	_, err = f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:    "refresh_token",
		ClientID:     c.ClientID,
		ClientSecret: c.Secret,
		RefreshToken: first.RefreshToken,
	})
	requireOAuthError(t, err, "invalid_grant")

	// The rotated token does.
	_, err = f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:    "refresh_token",
		ClientID:     c.ClientID,
		ClientSecret: c.Secret,
		RefreshToken: resp.RefreshToken,
	})
	require.NoError(t, err)
}

func TestRefreshWithoutRotation(t *testing.T) {
	f := newFixture(t, func(cfg *config.TokenConfig) { cfg.RotateRefreshTokens = false })
	c := f.registerClient(t, []string{"openid", "offline_access"}, false)
	first := redeem(t, f, c, "openid offline_access")

	resp, err := f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:    "refresh_token",
		ClientID:     c.ClientID,
		ClientSecret: c.Secret,
		RefreshToken: first.RefreshToken,
	})
	require.NoError(t, err)
	require.Empty(t, resp.RefreshToken)

	// Same refresh token keeps working.
	_, err = f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:    "refresh_token",
		ClientID:     c.ClientID,
		ClientSecret: c.Secret,
		RefreshToken: first.RefreshToken,
	})
	require.NoError(t, err)
}

func TestRefreshScopeNarrowing(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, []string{"openid", "email", "offline_access"}, false)
	first := redeem(t, f, c, "openid email offline_access")

	resp, err := f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:    "refresh_token",
		ClientID:     c.ClientID,
		ClientSecret: c.Secret,
		RefreshToken: first.RefreshToken,
		Scope:        "email",
	})
	require.NoError(t, err)
	require.Equal(t, "email", resp.Scope)
	require.Empty(t, resp.IDToken, "narrowed grant dropped openid")

	_, err = f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:    "refresh_token",
		ClientID:     c.ClientID,
		ClientSecret: c.Secret,
		RefreshToken: resp.RefreshToken,
		Scope:        "email profile",
	})
	requireOAuthError(t, err, "invalid_scope")
}

func TestRefreshForeignClientRejected(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, []string{"openid", "offline_access"}, false)
	first := redeem(t, f, c, "openid offline_access")

	other, err := f.clientSvc.Register(context.Background(), clients.RegisterInput{
		OwnerID:      "owner-2",
		Name:         "Other",
		RedirectURIs: []string{callback},
	})
	require.NoError(t, err)

	_, err = f.tokenSvc.Exchange(context.Background(), tokens.ExchangeInput{
		GrantType:    "refresh_token",
		ClientID:     other.ClientID,
		ClientSecret: other.Secret,
		RefreshToken: first.RefreshToken,
	})
	requireOAuthError(t, err, "invalid_grant")
}

func TestRevokeRefreshCascadesToAccess(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, []string{"openid", "offline_access"}, false)
	issued := redeem(t, f, c, "openid offline_access")
	ctx := context.Background()

	// Sanity: both credentials validate first.
	_, err := f.tokenSvc.Validate(ctx, issued.AccessToken)
	require.NoError(t, err)

	require.NoError(t, f.tokenSvc.Revoke(ctx, tokens.RevokeInput{
		ClientID:      c.ClientID,
		ClientSecret:  c.Secret,
		Token:         issued.RefreshToken,
		TokenTypeHint: "refresh_token",
	}))

	_, err = f.tokenSvc.Validate(ctx, issued.AccessToken)
	require.ErrorIs(t, err, tokens.ErrInvalidToken)

	_, err = f.tokenSvc.Exchange(ctx, tokens.ExchangeInput{
		GrantType:    "refresh_token",
		ClientID:     c.ClientID,
		ClientSecret: c.Secret,
		RefreshToken: issued.RefreshToken,
	})
	requireOAuthError(t, err, "invalid_grant")
}

func TestRevokeAccessLeavesRefreshAlive(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, []string{"openid", "offline_access"}, false)
	issued := redeem(t, f, c, "openid offline_access")
	ctx := context.Background()

	require.NoError(t, f.tokenSvc.Revoke(ctx, tokens.RevokeInput{
		ClientID:     c.ClientID,
		ClientSecret: c.Secret,
		Token:        issued.AccessToken,
	}))

	_, err := f.tokenSvc.Validate(ctx, issued.AccessToken)
	require.ErrorIs(t, err, tokens.ErrInvalidToken)

	_, err = f.tokenSvc.Exchange(ctx, tokens.ExchangeInput{
		GrantType:    "refresh_token",
		ClientID:     c.ClientID,
		ClientSecret: c.Secret,
		RefreshToken: issued.RefreshToken,
	})
	require.NoError(t, err)
}

func TestRevokeHonorsWrongHint(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, []string{"openid", "offline_access"}, false)
	issued := redeem(t, f, c, "openid offline_access")
	ctx := context.Background()

	// The hint says refresh_token but the value is an access token; the
	// endpoint falls through and still revokes it.
	require.NoError(t, f.tokenSvc.Revoke(ctx, tokens.RevokeInput{
		ClientID:      c.ClientID,
		ClientSecret:  c.Secret,
		Token:         issued.AccessToken,
		TokenTypeHint: "refresh_token",
	}))

	_, err := f.tokenSvc.Validate(ctx, issued.AccessToken)
	require.ErrorIs(t, err, tokens.ErrInvalidToken)
}

func TestRevokeForeignTokenSilentlyIgnored(t *testing.T) {
	f := newFixture(t, nil)
	owner := f.registerClient(t, []string{"openid"}, false)
	issued := redeem(t, f, owner, "openid")
	ctx := context.Background()

	other, err := f.clientSvc.Register(context.Background(), clients.RegisterInput{
		OwnerID:      "owner-2",
		Name:         "Other",
		RedirectURIs: []string{callback},
	})
	require.NoError(t, err)

	require.NoError(t, f.tokenSvc.Revoke(ctx, tokens.RevokeInput{
		ClientID:     other.ClientID,
		ClientSecret: other.Secret,
		Token:        issued.AccessToken,
	}))

	// Still valid: another client cannot revoke it.
	_, err = f.tokenSvc.Validate(ctx, issued.AccessToken)
	require.NoError(t, err)
}

func TestRevokeUnknownTokenSucceeds(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, nil, false)

	require.NoError(t, f.tokenSvc.Revoke(context.Background(), tokens.RevokeInput{
		ClientID:     c.ClientID,
		ClientSecret: c.Secret,
		Token:        "never-issued",
	}))
}

func TestRevokeRequiresClientAuth(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, nil, false)

	err := f.tokenSvc.Revoke(context.Background(), tokens.RevokeInput{
		ClientID:     c.ClientID,
		ClientSecret: "cs_wrong",
		Token:        "whatever",
	})
	requireOAuthError(t, err, "invalid_client")
}

func TestValidateCollapsesRevokedExpiredUnknown(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.tokenSvc.Validate(ctx, "")
	require.ErrorIs(t, err, tokens.ErrInvalidToken)

	_, err = f.tokenSvc.Validate(ctx, "unknown-token")
	require.ErrorIs(t, err, tokens.ErrInvalidToken)
}

func TestListGrantsAndDisconnect(t *testing.T) {
	f := newFixture(t, nil)
	c := f.registerClient(t, []string{"openid", "email"}, false)
	redeem(t, f, c, "openid email")
	ctx := context.Background()

	grants, err := f.tokenSvc.ListGrants(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, grants, 1)
	require.Equal(t, c.ClientID, grants[0].ClientID)
	require.ElementsMatch(t, []string{"openid", "email"}, grants[0].Scope)

	require.NoError(t, f.tokenSvc.RevokeClientGrants(ctx, c.ClientID, "user-1"))

	grants, err = f.tokenSvc.ListGrants(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, grants)
}
