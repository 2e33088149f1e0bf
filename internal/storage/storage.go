// Package storage defines the persisted records of the authorization server
// and the ports its services depend on. Implementations live in subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the requested row does not exist, or a
	// conditional update matched no row.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate indicates a uniqueness violation.
	ErrDuplicate = errors.New("storage: duplicate")
)

// Client is a registered third-party application.
type Client struct {
	ID               uuid.UUID
	ClientID         string
	SecretCiphertext []byte // empty for public clients
	OwnerID          string
	Name             string
	Description      string
	LogoURL          string
	RedirectURIs     []string
	AllowedScopes    []string
	Public           bool
	Active           bool
	Verified         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AuthorizationCode is a single-use exchange voucher. The code itself is
// stored only as a sha256-hex digest.
type AuthorizationCode struct {
	ID                  uuid.UUID
	CodeHash            string
	ClientID            string
	UserID              string
	RedirectURI         string
	Scope               []string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	ExpiresAt           time.Time
	Used                bool
	CreatedAt           time.Time
}

// AccessToken is a bearer credential, stored hashed.
type AccessToken struct {
	ID        uuid.UUID
	TokenHash string
	ClientID  string
	UserID    string
	Scope     []string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// RefreshToken is a long-lived renewal credential, stored hashed.
// AccessTokenID points at the access token it most recently minted.
type RefreshToken struct {
	ID            uuid.UUID
	TokenHash     string
	AccessTokenID *uuid.UUID
	ClientID      string
	UserID        string
	Scope         []string
	ExpiresAt     time.Time
	Revoked       bool
	CreatedAt     time.Time
}

// Grant is one row of the consented-apps read model: a client the user still
// has live credentials for.
type Grant struct {
	ClientID     string
	ClientName   string
	LogoURL      string
	Scope        []string
	LastIssuedAt time.Time
}

// ClientStore owns oauth_clients rows.
type ClientStore interface {
	CreateClient(ctx context.Context, c *Client) error
	GetClientByClientID(ctx context.Context, clientID string) (*Client, error)
	ListClientsByOwner(ctx context.Context, ownerID string) ([]*Client, error)
	UpdateClient(ctx context.Context, c *Client) error
	DeleteClient(ctx context.Context, clientID string) error
}

// CodeStore owns authorization_codes rows.
type CodeStore interface {
	CreateCode(ctx context.Context, c *AuthorizationCode) error
	GetCodeByHash(ctx context.Context, codeHash string) (*AuthorizationCode, error)
	// ConsumeCode atomically flips used from false to true, but only while
	// the code is unexpired at now. It returns ErrNotFound when no row
	// matched: missing, already used, or expired. Expired codes keep
	// used = false. This must be a single conditional update, never a
	// read-then-write pair.
	ConsumeCode(ctx context.Context, codeHash string, now time.Time) (*AuthorizationCode, error)
}

// TokenStore owns access_tokens and refresh_tokens rows.
type TokenStore interface {
	CreateAccessToken(ctx context.Context, t *AccessToken) error
	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	GetAccessTokenByHash(ctx context.Context, tokenHash string) (*AccessToken, error)
	GetAccessTokenByID(ctx context.Context, id uuid.UUID) (*AccessToken, error)
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	RevokeAccessToken(ctx context.Context, id uuid.UUID) error
	// RevokeRefreshToken revokes the refresh token and, in the same
	// transaction, its currently linked access token.
	RevokeRefreshToken(ctx context.Context, id uuid.UUID) error
	// RotateRefreshToken replaces the token hash and expiry in place and
	// relinks the row to the freshly minted access token. The old token
	// string is unusable as soon as this commits.
	RotateRefreshToken(ctx context.Context, id uuid.UUID, newHash string, newExpiresAt time.Time, accessTokenID uuid.UUID) error
	// SetRefreshAccessLink repoints the row at a new access token without
	// rotating the credential.
	SetRefreshAccessLink(ctx context.Context, id uuid.UUID, accessTokenID uuid.UUID) error
	// RevokeClientGrants revokes every access and refresh token for the
	// (client, user) pair.
	RevokeClientGrants(ctx context.Context, clientID, userID string) error
	// RevokeAllForClient revokes every token ever issued for the client.
	RevokeAllForClient(ctx context.Context, clientID string) error
	ListGrants(ctx context.Context, userID string, now time.Time) ([]Grant, error)
}

// Store aggregates all ports for implementations that back every component.
type Store interface {
	ClientStore
	CodeStore
	TokenStore
}
