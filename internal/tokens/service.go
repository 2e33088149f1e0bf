// Package tokens implements the token endpoint (authorization_code and
// refresh_token grants), revocation, resource-side validation, and the
// consented-apps read model.
package tokens

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crestline/oauth-service/internal/audit"
	"github.com/crestline/oauth-service/internal/config"
	"github.com/crestline/oauth-service/internal/metrics"
	"github.com/crestline/oauth-service/internal/oauth"
	"github.com/crestline/oauth-service/internal/revocation"
	"github.com/crestline/oauth-service/internal/secrets"
	"github.com/crestline/oauth-service/internal/storage"
)

// ErrInvalidToken is returned by Validate for revoked, expired, and unknown
// tokens alike; callers must not learn which.
var ErrInvalidToken = errors.New("invalid_token")

// IDTokenMinter mints OpenID Connect ID tokens.
type IDTokenMinter interface {
	MintIDToken(userID, clientID string, scopes []string) (string, time.Time, error)
}

// Service handles token issuance and revocation.
type Service struct {
	clients   storage.ClientStore
	codes     storage.CodeStore
	store     storage.TokenStore
	idTokens  IDTokenMinter
	encryptor *secrets.Encryptor
	revoker   *revocation.Store
	cfg       config.TokenConfig
	auditor   *audit.Logger
	logger    *zap.Logger
}

// Dependencies aggregates constructor inputs.
type Dependencies struct {
	Clients   storage.ClientStore
	Codes     storage.CodeStore
	Store     storage.TokenStore
	IDTokens  IDTokenMinter
	Encryptor *secrets.Encryptor
	Revoker   *revocation.Store
	Config    config.TokenConfig
	Auditor   *audit.Logger
	Logger    *zap.Logger
}

// New initialises the token service.
func New(deps Dependencies) *Service {
	return &Service{
		clients:   deps.Clients,
		codes:     deps.Codes,
		store:     deps.Store,
		idTokens:  deps.IDTokens,
		encryptor: deps.Encryptor,
		revoker:   deps.Revoker,
		cfg:       deps.Config,
		auditor:   deps.Auditor,
		logger:    deps.Logger,
	}
}

// ExchangeInput carries the form parameters of a token request.
type ExchangeInput struct {
	GrantType    string
	ClientID     string
	ClientSecret string
	Code         string
	RedirectURI  string
	CodeVerifier string
	RefreshToken string
	Scope        string
	IPAddress    string
	UserAgent    string
}

// Response is the token endpoint's success payload.
type Response struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope"`
}

// Exchange dispatches on grant_type.
func (s *Service) Exchange(ctx context.Context, in ExchangeInput) (*Response, error) {
	var (
		resp *Response
		err  error
	)
	switch in.GrantType {
	case "authorization_code":
		resp, err = s.exchangeCode(ctx, in)
	case "refresh_token":
		resp, err = s.refreshGrant(ctx, in)
	default:
		err = oauth.UnsupportedGrantType(in.GrantType)
	}
	if err != nil {
		if oe, ok := oauth.AsError(err); ok {
			metrics.GrantFailures.WithLabelValues(oe.Code).Inc()
		}
		return nil, err
	}
	metrics.TokensIssued.WithLabelValues(in.GrantType).Inc()
	return resp, nil
}

// exchangeCode redeems an authorization code. Missing, expired, reused, and
// PKCE-mismatched codes all collapse to invalid_grant so the response leaks
// nothing about which check failed.
func (s *Service) exchangeCode(ctx context.Context, in ExchangeInput) (*Response, error) {
	client, err := s.authenticateClient(ctx, in.ClientID, in.ClientSecret)
	if err != nil {
		return nil, err
	}
	if in.Code == "" {
		return nil, oauth.InvalidRequest("code is required")
	}

	codeHash := secrets.HashToken(in.Code)
	code, err := s.codes.GetCodeByHash(ctx, codeHash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oauth.InvalidGrant()
		}
		s.logger.Error("code lookup failed", zap.Error(err))
		return nil, oauth.ServerError()
	}

	now := time.Now().UTC()
	if code.ClientID != client.ClientID || code.Used || s.expired(code.ExpiresAt, now) {
		return nil, oauth.InvalidGrant()
	}
	if in.RedirectURI != code.RedirectURI {
		return nil, oauth.InvalidGrant()
	}
	if code.CodeChallenge == "" && client.Public {
		// Public clients have no secret; PKCE is their only proof of
		// possession.
		return nil, oauth.InvalidGrant()
	}
	if err := oauth.VerifyPKCE(code.CodeChallenge, code.CodeChallengeMethod, in.CodeVerifier); err != nil {
		return nil, oauth.InvalidGrant()
	}

	// The single-use invariant: one conditional update decides the winner
	// among concurrent redemptions.
	if _, err := s.codes.ConsumeCode(ctx, codeHash, now); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oauth.InvalidGrant()
		}
		s.logger.Error("code consume failed", zap.Error(err))
		return nil, oauth.ServerError()
	}

	resp, err := s.mint(ctx, client.ClientID, code.UserID, code.Scope)
	if err != nil {
		return nil, err
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:     code.UserID,
		ClientID:   client.ClientID,
		Action:     "oauth.token.code_exchanged",
		Resource:   "access_token",
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
		Context:    map[string]any{"scope": resp.Scope},
	})
	return resp, nil
}

func (s *Service) refreshGrant(ctx context.Context, in ExchangeInput) (*Response, error) {
	client, err := s.authenticateClient(ctx, in.ClientID, in.ClientSecret)
	if err != nil {
		return nil, err
	}
	if in.RefreshToken == "" {
		return nil, oauth.InvalidRequest("refresh_token is required")
	}

	rt, err := s.store.GetRefreshTokenByHash(ctx, secrets.HashToken(in.RefreshToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oauth.InvalidGrant()
		}
		s.logger.Error("refresh token lookup failed", zap.Error(err))
		return nil, oauth.ServerError()
	}

	now := time.Now().UTC()
	if rt.Revoked || s.expired(rt.ExpiresAt, now) || rt.ClientID != client.ClientID {
		return nil, oauth.InvalidGrant()
	}

	// The new grant may narrow but never widen the original scope.
	scope := rt.Scope
	if requested := oauth.ParseScope(in.Scope); len(requested) > 0 {
		if !oauth.IsScopeSubset(requested, rt.Scope) {
			return nil, oauth.InvalidScope("requested scope exceeds the original grant")
		}
		scope = requested
	}

	access, accessPlain, err := s.mintAccessToken(ctx, client.ClientID, rt.UserID, scope)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		AccessToken: accessPlain,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.AccessTokenTTL.Seconds()),
		Scope:       oauth.FormatScope(scope),
	}

	if s.cfg.RotateRefreshTokens {
		newPlain, err := secrets.GenerateToken()
		if err != nil {
			s.logger.Error("refresh token generation failed", zap.Error(err))
			return nil, oauth.ServerError()
		}
		err = s.store.RotateRefreshToken(ctx, rt.ID, secrets.HashToken(newPlain), now.Add(s.cfg.RefreshTokenTTL), access.ID)
		if err != nil {
			// A concurrent revocation may have won; the caller keeps
			// nothing either way.
			if errors.Is(err, storage.ErrNotFound) {
				return nil, oauth.InvalidGrant()
			}
			s.logger.Error("refresh token rotation failed", zap.Error(err))
			return nil, oauth.ServerError()
		}
		resp.RefreshToken = newPlain
	} else {
		if err := s.store.SetRefreshAccessLink(ctx, rt.ID, access.ID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return nil, oauth.InvalidGrant()
			}
			s.logger.Error("refresh token relink failed", zap.Error(err))
			return nil, oauth.ServerError()
		}
	}

	if oauth.HasScope(scope, oauth.ScopeOpenID) {
		idToken, _, err := s.idTokens.MintIDToken(rt.UserID, client.ClientID, scope)
		if err != nil {
			s.logger.Error("id token mint failed", zap.Error(err))
			return nil, oauth.ServerError()
		}
		resp.IDToken = idToken
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:     rt.UserID,
		ClientID:   client.ClientID,
		Action:     "oauth.token.refreshed",
		Resource:   "access_token",
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
		Context:    map[string]any{"scope": resp.Scope, "rotated": s.cfg.RotateRefreshTokens},
	})
	return resp, nil
}

// RevokeInput carries the parameters of a revocation request.
type RevokeInput struct {
	ClientID      string
	ClientSecret  string
	Token         string
	TokenTypeHint string
	IPAddress     string
	UserAgent     string
}

// Revoke marks the matching token revoked. Revoking a refresh token also
// revokes its linked access token; revoking an access token leaves the
// refresh token alone. Unknown tokens and tokens owned by another client are
// silently ignored so the endpoint cannot be used as an existence oracle.
func (s *Service) Revoke(ctx context.Context, in RevokeInput) error {
	client, err := s.authenticateClient(ctx, in.ClientID, in.ClientSecret)
	if err != nil {
		return err
	}
	if in.Token == "" {
		return nil
	}

	hash := secrets.HashToken(in.Token)
	order := []string{"access_token", "refresh_token"}
	if in.TokenTypeHint == "refresh_token" {
		order = []string{"refresh_token", "access_token"}
	}
	for _, kind := range order {
		var done bool
		var err error
		if kind == "access_token" {
			done, err = s.revokeAccessByHash(ctx, client.ClientID, hash, in)
		} else {
			done, err = s.revokeRefreshByHash(ctx, client.ClientID, hash, in)
		}
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return nil
}

func (s *Service) revokeAccessByHash(ctx context.Context, clientID, hash string, in RevokeInput) (bool, error) {
	at, err := s.store.GetAccessTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		s.logger.Error("access token lookup failed", zap.Error(err))
		return false, oauth.ServerError()
	}
	if at.ClientID != clientID {
		return false, nil
	}
	if err := s.store.RevokeAccessToken(ctx, at.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("access token revoke failed", zap.Error(err))
		return false, oauth.ServerError()
	}
	s.denylist(ctx, at.TokenHash, at.ExpiresAt)
	metrics.TokensRevoked.WithLabelValues("access_token").Inc()
	s.auditor.Record(ctx, audit.Entry{
		UserID:     at.UserID,
		ClientID:   clientID,
		Action:     "oauth.token.revoked",
		Resource:   "access_token",
		ResourceID: at.ID.String(),
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
	})
	return true, nil
}

func (s *Service) revokeRefreshByHash(ctx context.Context, clientID, hash string, in RevokeInput) (bool, error) {
	rt, err := s.store.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return false, nil
		}
		s.logger.Error("refresh token lookup failed", zap.Error(err))
		return false, oauth.ServerError()
	}
	if rt.ClientID != clientID {
		return false, nil
	}
	if err := s.store.RevokeRefreshToken(ctx, rt.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		s.logger.Error("refresh token revoke failed", zap.Error(err))
		return false, oauth.ServerError()
	}
	if rt.AccessTokenID != nil {
		if at, err := s.store.GetAccessTokenByID(ctx, *rt.AccessTokenID); err == nil {
			s.denylist(ctx, at.TokenHash, at.ExpiresAt)
		}
	}
	metrics.TokensRevoked.WithLabelValues("refresh_token").Inc()
	s.auditor.Record(ctx, audit.Entry{
		UserID:     rt.UserID,
		ClientID:   clientID,
		Action:     "oauth.token.revoked",
		Resource:   "refresh_token",
		ResourceID: rt.ID.String(),
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
	})
	return true, nil
}

// RevokeClientGrants is the dashboard "disconnect app" action: it revokes
// every access and refresh token for the (client, user) pair.
func (s *Service) RevokeClientGrants(ctx context.Context, clientID, userID string) error {
	if err := s.store.RevokeClientGrants(ctx, clientID, userID); err != nil {
		return fmt.Errorf("revoke client grants: %w", err)
	}
	metrics.TokensRevoked.WithLabelValues("grant").Inc()
	s.auditor.Record(ctx, audit.Entry{
		UserID:     userID,
		ClientID:   clientID,
		Action:     "oauth.grants.disconnected",
		Resource:   "oauth_client",
		ResourceID: clientID,
	})
	return nil
}

// Validate performs the resource-side bearer check. Revoked and expired
// tokens are indistinguishable to the caller.
func (s *Service) Validate(ctx context.Context, tokenStr string) (*storage.AccessToken, error) {
	if tokenStr == "" {
		return nil, ErrInvalidToken
	}
	hash := secrets.HashToken(tokenStr)
	if s.revoker.IsRevoked(ctx, hash) {
		return nil, ErrInvalidToken
	}
	at, err := s.store.GetAccessTokenByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, fmt.Errorf("access token lookup: %w", err)
	}
	if at.Revoked || s.expired(at.ExpiresAt, time.Now().UTC()) {
		return nil, ErrInvalidToken
	}
	return at, nil
}

// ListGrants returns the consented-apps view for a user.
func (s *Service) ListGrants(ctx context.Context, userID string) ([]storage.Grant, error) {
	grants, err := s.store.ListGrants(ctx, userID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	return grants, nil
}

// authenticateClient resolves and authenticates the caller. Confidential
// clients must present their secret; public clients are admitted without one
// and prove possession via PKCE at the code check.
func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret string) (*storage.Client, error) {
	if clientID == "" {
		return nil, oauth.InvalidClient("client authentication required")
	}
	client, err := s.clients.GetClientByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oauth.InvalidClient("unknown client")
		}
		s.logger.Error("client lookup failed", zap.Error(err))
		return nil, oauth.ServerError()
	}
	if !client.Active {
		return nil, oauth.InvalidClient("client is inactive")
	}
	if len(client.SecretCiphertext) == 0 {
		return client, nil
	}
	if clientSecret == "" {
		return nil, oauth.InvalidClient("client secret required")
	}
	stored, err := s.encryptor.Decrypt(client.SecretCiphertext)
	if err != nil {
		s.logger.Error("client secret decrypt failed", zap.Error(err))
		return nil, oauth.ServerError()
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(clientSecret)) != 1 {
		return nil, oauth.InvalidClient("client authentication failed")
	}
	return client, nil
}

// mint creates the access token and, when the scope asks for them, the
// refresh and ID tokens.
func (s *Service) mint(ctx context.Context, clientID, userID string, scope []string) (*Response, error) {
	access, accessPlain, err := s.mintAccessToken(ctx, clientID, userID, scope)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		AccessToken: accessPlain,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.cfg.AccessTokenTTL.Seconds()),
		Scope:       oauth.FormatScope(scope),
	}

	if oauth.HasScope(scope, oauth.ScopeOfflineAccess) {
		refreshPlain, err := secrets.GenerateToken()
		if err != nil {
			s.logger.Error("refresh token generation failed", zap.Error(err))
			return nil, oauth.ServerError()
		}
		now := time.Now().UTC()
		accessID := access.ID
		rt := &storage.RefreshToken{
			ID:            uuid.New(),
			TokenHash:     secrets.HashToken(refreshPlain),
			AccessTokenID: &accessID,
			ClientID:      clientID,
			UserID:        userID,
			Scope:         scope,
			ExpiresAt:     now.Add(s.cfg.RefreshTokenTTL),
			CreatedAt:     now,
		}
		if err := s.store.CreateRefreshToken(ctx, rt); err != nil {
			s.logger.Error("persist refresh token failed", zap.Error(err))
			return nil, oauth.ServerError()
		}
		resp.RefreshToken = refreshPlain
	}

	if oauth.HasScope(scope, oauth.ScopeOpenID) {
		idToken, _, err := s.idTokens.MintIDToken(userID, clientID, scope)
		if err != nil {
			s.logger.Error("id token mint failed", zap.Error(err))
			return nil, oauth.ServerError()
		}
		resp.IDToken = idToken
	}

	return resp, nil
}

func (s *Service) mintAccessToken(ctx context.Context, clientID, userID string, scope []string) (*storage.AccessToken, string, error) {
	plain, err := secrets.GenerateToken()
	if err != nil {
		s.logger.Error("access token generation failed", zap.Error(err))
		return nil, "", oauth.ServerError()
	}
	now := time.Now().UTC()
	at := &storage.AccessToken{
		ID:        uuid.New(),
		TokenHash: secrets.HashToken(plain),
		ClientID:  clientID,
		UserID:    userID,
		Scope:     scope,
		ExpiresAt: now.Add(s.cfg.AccessTokenTTL),
		CreatedAt: now,
	}
	if err := s.store.CreateAccessToken(ctx, at); err != nil {
		s.logger.Error("persist access token failed", zap.Error(err))
		return nil, "", oauth.ServerError()
	}
	return at, plain, nil
}

// expired applies the configured clock-skew grace. The grace is a few
// seconds at most and never extends a credential by more than that.
func (s *Service) expired(expiresAt, now time.Time) bool {
	return !expiresAt.Add(s.cfg.ClockSkewGrace).After(now)
}

func (s *Service) denylist(ctx context.Context, tokenHash string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if err := s.revoker.Revoke(ctx, tokenHash, ttl); err != nil {
		s.logger.Warn("denylist update failed", zap.Error(err))
	}
}
