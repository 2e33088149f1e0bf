// Package postgres implements the storage ports on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crestline/oauth-service/internal/storage"
)

// Compile-time interface assertion.
var _ storage.Store = (*Store)(nil)

// Store is the pgx-backed implementation of every storage port.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps a connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the schema.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

const clientColumns = `id, client_id, secret_ciphertext, owner_id, name, description, logo_url,
	redirect_uris, allowed_scopes, public, active, verified, created_at, updated_at`

func (s *Store) CreateClient(ctx context.Context, c *storage.Client) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO oauth_clients (`+clientColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.ClientID, c.SecretCiphertext, c.OwnerID, c.Name, c.Description, c.LogoURL,
		c.RedirectURIs, c.AllowedScopes, c.Public, c.Active, c.Verified, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return wrapErr("insert client", err)
	}
	return nil
}

func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (*storage.Client, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+clientColumns+` FROM oauth_clients WHERE client_id = $1`, clientID)
	return scanClient(row)
}

func (s *Store) ListClientsByOwner(ctx context.Context, ownerID string) ([]*storage.Client, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+clientColumns+` FROM oauth_clients WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	var out []*storage.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) UpdateClient(ctx context.Context, c *storage.Client) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE oauth_clients
		SET secret_ciphertext = $2, name = $3, description = $4, logo_url = $5,
		    redirect_uris = $6, allowed_scopes = $7, active = $8, verified = $9, updated_at = $10
		WHERE client_id = $1`,
		c.ClientID, c.SecretCiphertext, c.Name, c.Description, c.LogoURL,
		c.RedirectURIs, c.AllowedScopes, c.Active, c.Verified, c.UpdatedAt,
	)
	if err != nil {
		return wrapErr("update client", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM oauth_clients WHERE client_id = $1`, clientID)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const codeColumns = `id, code_hash, client_id, user_id, redirect_uri, scope,
	code_challenge, code_challenge_method, state, expires_at, used, created_at`

func (s *Store) CreateCode(ctx context.Context, c *storage.AuthorizationCode) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO authorization_codes (`+codeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		c.ID, c.CodeHash, c.ClientID, c.UserID, c.RedirectURI, c.Scope,
		c.CodeChallenge, c.CodeChallengeMethod, c.State, c.ExpiresAt, c.Used, c.CreatedAt,
	)
	if err != nil {
		return wrapErr("insert authorization code", err)
	}
	return nil
}

func (s *Store) GetCodeByHash(ctx context.Context, codeHash string) (*storage.AuthorizationCode, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+codeColumns+` FROM authorization_codes WHERE code_hash = $1`, codeHash)
	return scanCode(row)
}

// ConsumeCode is the single-use guarantee: one conditional UPDATE, so two
// concurrent redemptions cannot both observe used = false. Expired codes are
// excluded from the predicate and keep used = false.
func (s *Store) ConsumeCode(ctx context.Context, codeHash string, now time.Time) (*storage.AuthorizationCode, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE authorization_codes
		SET used = TRUE
		WHERE code_hash = $1 AND used = FALSE AND expires_at > $2
		RETURNING `+codeColumns, codeHash, now)
	return scanCode(row)
}

const accessColumns = `id, token_hash, client_id, user_id, scope, expires_at, revoked, created_at`

func (s *Store) CreateAccessToken(ctx context.Context, t *storage.AccessToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO access_tokens (`+accessColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.TokenHash, t.ClientID, t.UserID, t.Scope, t.ExpiresAt, t.Revoked, t.CreatedAt,
	)
	if err != nil {
		return wrapErr("insert access token", err)
	}
	return nil
}

const refreshColumns = `id, token_hash, access_token_id, client_id, user_id, scope, expires_at, revoked, created_at`

func (s *Store) CreateRefreshToken(ctx context.Context, t *storage.RefreshToken) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO refresh_tokens (`+refreshColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.TokenHash, t.AccessTokenID, t.ClientID, t.UserID, t.Scope, t.ExpiresAt, t.Revoked, t.CreatedAt,
	)
	if err != nil {
		return wrapErr("insert refresh token", err)
	}
	return nil
}

func (s *Store) GetAccessTokenByHash(ctx context.Context, tokenHash string) (*storage.AccessToken, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accessColumns+` FROM access_tokens WHERE token_hash = $1`, tokenHash)
	return scanAccess(row)
}

func (s *Store) GetAccessTokenByID(ctx context.Context, id uuid.UUID) (*storage.AccessToken, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+accessColumns+` FROM access_tokens WHERE id = $1`, id)
	return scanAccess(row)
}

func (s *Store) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*storage.RefreshToken, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+refreshColumns+` FROM refresh_tokens WHERE token_hash = $1`, tokenHash)
	return scanRefresh(row)
}

func (s *Store) RevokeAccessToken(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE access_tokens SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id uuid.UUID) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var accessTokenID *uuid.UUID
		err := tx.QueryRow(ctx, `
			UPDATE refresh_tokens SET revoked = TRUE WHERE id = $1
			RETURNING access_token_id`, id).Scan(&accessTokenID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("revoke refresh token: %w", err)
		}
		if accessTokenID == nil {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE access_tokens SET revoked = TRUE WHERE id = $1`, *accessTokenID); err != nil {
			return fmt.Errorf("revoke linked access token: %w", err)
		}
		return nil
	})
}

func (s *Store) RotateRefreshToken(ctx context.Context, id uuid.UUID, newHash string, newExpiresAt time.Time, accessTokenID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET token_hash = $2, expires_at = $3, access_token_id = $4
		WHERE id = $1 AND revoked = FALSE`,
		id, newHash, newExpiresAt, accessTokenID,
	)
	if err != nil {
		return fmt.Errorf("rotate refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) SetRefreshAccessLink(ctx context.Context, id uuid.UUID, accessTokenID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens SET access_token_id = $2 WHERE id = $1 AND revoked = FALSE`,
		id, accessTokenID,
	)
	if err != nil {
		return fmt.Errorf("link refresh token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) RevokeClientGrants(ctx context.Context, clientID, userID string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE access_tokens SET revoked = TRUE WHERE client_id = $1 AND user_id = $2`, clientID, userID); err != nil {
			return fmt.Errorf("revoke access tokens: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE refresh_tokens SET revoked = TRUE WHERE client_id = $1 AND user_id = $2`, clientID, userID); err != nil {
			return fmt.Errorf("revoke refresh tokens: %w", err)
		}
		return nil
	})
}

func (s *Store) RevokeAllForClient(ctx context.Context, clientID string) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE access_tokens SET revoked = TRUE WHERE client_id = $1`, clientID); err != nil {
			return fmt.Errorf("revoke access tokens: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE refresh_tokens SET revoked = TRUE WHERE client_id = $1`, clientID); err != nil {
			return fmt.Errorf("revoke refresh tokens: %w", err)
		}
		return nil
	})
}

func (s *Store) ListGrants(ctx context.Context, userID string, now time.Time) ([]storage.Grant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT t.client_id, c.name, c.logo_url, t.scope, t.created_at
		FROM (
			SELECT client_id, user_id, scope, created_at FROM access_tokens
			WHERE revoked = FALSE AND expires_at > $2
			UNION ALL
			SELECT client_id, user_id, scope, created_at FROM refresh_tokens
			WHERE revoked = FALSE AND expires_at > $2
		) t
		JOIN oauth_clients c ON c.client_id = t.client_id
		WHERE t.user_id = $1
		ORDER BY t.created_at`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	byClient := make(map[string]*storage.Grant)
	var order []string
	for rows.Next() {
		var (
			clientID, name, logo string
			scope                []string
			issuedAt             time.Time
		)
		if err := rows.Scan(&clientID, &name, &logo, &scope, &issuedAt); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		g, ok := byClient[clientID]
		if !ok {
			g = &storage.Grant{ClientID: clientID, ClientName: name, LogoURL: logo}
			byClient[clientID] = g
			order = append(order, clientID)
		}
		for _, sc := range scope {
			if !containsScope(g.Scope, sc) {
				g.Scope = append(g.Scope, sc)
			}
		}
		if issuedAt.After(g.LastIssuedAt) {
			g.LastIssuedAt = issuedAt
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}

	out := make([]storage.Grant, 0, len(order))
	for _, id := range order {
		out = append(out, *byClient[id])
	}
	return out, nil
}

func (s *Store) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClient(row rowScanner) (*storage.Client, error) {
	c := &storage.Client{}
	err := row.Scan(
		&c.ID, &c.ClientID, &c.SecretCiphertext, &c.OwnerID, &c.Name, &c.Description, &c.LogoURL,
		&c.RedirectURIs, &c.AllowedScopes, &c.Public, &c.Active, &c.Verified, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan client: %w", err)
	}
	return c, nil
}

func scanCode(row rowScanner) (*storage.AuthorizationCode, error) {
	c := &storage.AuthorizationCode{}
	err := row.Scan(
		&c.ID, &c.CodeHash, &c.ClientID, &c.UserID, &c.RedirectURI, &c.Scope,
		&c.CodeChallenge, &c.CodeChallengeMethod, &c.State, &c.ExpiresAt, &c.Used, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan authorization code: %w", err)
	}
	return c, nil
}

func scanAccess(row rowScanner) (*storage.AccessToken, error) {
	t := &storage.AccessToken{}
	err := row.Scan(&t.ID, &t.TokenHash, &t.ClientID, &t.UserID, &t.Scope, &t.ExpiresAt, &t.Revoked, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan access token: %w", err)
	}
	return t, nil
}

func scanRefresh(row rowScanner) (*storage.RefreshToken, error) {
	t := &storage.RefreshToken{}
	err := row.Scan(&t.ID, &t.TokenHash, &t.AccessTokenID, &t.ClientID, &t.UserID, &t.Scope, &t.ExpiresAt, &t.Revoked, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	return t, nil
}

func wrapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return storage.ErrDuplicate
	}
	return fmt.Errorf("%s: %w", op, err)
}

func containsScope(scopes []string, s string) bool {
	for _, sc := range scopes {
		if sc == s {
			return true
		}
	}
	return false
}
