// Package memory provides an in-memory implementation of the storage ports.
// It is suitable for tests and single-instance development; semantics match
// the Postgres implementation, including single-use code consumption.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crestline/oauth-service/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store keeps every record in mutex-guarded maps.
type Store struct {
	mu sync.RWMutex

	clients       map[string]*storage.Client            // client_id -> client
	codes         map[string]*storage.AuthorizationCode // code_hash -> code
	accessTokens  map[uuid.UUID]*storage.AccessToken
	refreshTokens map[uuid.UUID]*storage.RefreshToken
	accessByHash  map[string]uuid.UUID
	refreshByHash map[string]uuid.UUID
}

// New returns an empty store.
func New() *Store {
	return &Store{
		clients:       make(map[string]*storage.Client),
		codes:         make(map[string]*storage.AuthorizationCode),
		accessTokens:  make(map[uuid.UUID]*storage.AccessToken),
		refreshTokens: make(map[uuid.UUID]*storage.RefreshToken),
		accessByHash:  make(map[string]uuid.UUID),
		refreshByHash: make(map[string]uuid.UUID),
	}
}

func (s *Store) CreateClient(_ context.Context, c *storage.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.ClientID]; ok {
		return storage.ErrDuplicate
	}
	s.clients[c.ClientID] = copyClient(c)
	return nil
}

func (s *Store) GetClientByClientID(_ context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyClient(c), nil
}

func (s *Store) ListClientsByOwner(_ context.Context, ownerID string) ([]*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*storage.Client
	for _, c := range s.clients {
		if c.OwnerID == ownerID {
			out = append(out, copyClient(c))
		}
	}
	return out, nil
}

func (s *Store) UpdateClient(_ context.Context, c *storage.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.ClientID]; !ok {
		return storage.ErrNotFound
	}
	s.clients[c.ClientID] = copyClient(c)
	return nil
}

func (s *Store) DeleteClient(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[clientID]; !ok {
		return storage.ErrNotFound
	}
	delete(s.clients, clientID)
	return nil
}

func (s *Store) CreateCode(_ context.Context, c *storage.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.codes[c.CodeHash]; ok {
		return storage.ErrDuplicate
	}
	s.codes[c.CodeHash] = copyCode(c)
	return nil
}

func (s *Store) GetCodeByHash(_ context.Context, codeHash string) (*storage.AuthorizationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.codes[codeHash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyCode(c), nil
}

// ConsumeCode flips used under the write lock, mirroring the conditional
// UPDATE the Postgres store issues. Expired codes keep used = false.
func (s *Store) ConsumeCode(_ context.Context, codeHash string, now time.Time) (*storage.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[codeHash]
	if !ok || c.Used || !c.ExpiresAt.After(now) {
		return nil, storage.ErrNotFound
	}
	c.Used = true
	return copyCode(c), nil
}

func (s *Store) CreateAccessToken(_ context.Context, t *storage.AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accessByHash[t.TokenHash]; ok {
		return storage.ErrDuplicate
	}
	s.accessTokens[t.ID] = copyAccess(t)
	s.accessByHash[t.TokenHash] = t.ID
	return nil
}

func (s *Store) CreateRefreshToken(_ context.Context, t *storage.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refreshByHash[t.TokenHash]; ok {
		return storage.ErrDuplicate
	}
	s.refreshTokens[t.ID] = copyRefresh(t)
	s.refreshByHash[t.TokenHash] = t.ID
	return nil
}

func (s *Store) GetAccessTokenByHash(_ context.Context, tokenHash string) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.accessByHash[tokenHash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyAccess(s.accessTokens[id]), nil
}

func (s *Store) GetAccessTokenByID(_ context.Context, id uuid.UUID) (*storage.AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.accessTokens[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyAccess(t), nil
}

func (s *Store) GetRefreshTokenByHash(_ context.Context, tokenHash string) (*storage.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.refreshByHash[tokenHash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyRefresh(s.refreshTokens[id]), nil
}

func (s *Store) RevokeAccessToken(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.accessTokens[id]
	if !ok {
		return storage.ErrNotFound
	}
	t.Revoked = true
	return nil
}

func (s *Store) RevokeRefreshToken(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.refreshTokens[id]
	if !ok {
		return storage.ErrNotFound
	}
	t.Revoked = true
	if t.AccessTokenID != nil {
		if at, ok := s.accessTokens[*t.AccessTokenID]; ok {
			at.Revoked = true
		}
	}
	return nil
}

func (s *Store) RotateRefreshToken(_ context.Context, id uuid.UUID, newHash string, newExpiresAt time.Time, accessTokenID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.refreshTokens[id]
	if !ok || t.Revoked {
		return storage.ErrNotFound
	}
	delete(s.refreshByHash, t.TokenHash)
	t.TokenHash = newHash
	t.ExpiresAt = newExpiresAt
	atID := accessTokenID
	t.AccessTokenID = &atID
	s.refreshByHash[newHash] = id
	return nil
}

func (s *Store) SetRefreshAccessLink(_ context.Context, id uuid.UUID, accessTokenID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.refreshTokens[id]
	if !ok || t.Revoked {
		return storage.ErrNotFound
	}
	atID := accessTokenID
	t.AccessTokenID = &atID
	return nil
}

func (s *Store) RevokeClientGrants(_ context.Context, clientID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.accessTokens {
		if t.ClientID == clientID && t.UserID == userID {
			t.Revoked = true
		}
	}
	for _, t := range s.refreshTokens {
		if t.ClientID == clientID && t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (s *Store) RevokeAllForClient(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.accessTokens {
		if t.ClientID == clientID {
			t.Revoked = true
		}
	}
	for _, t := range s.refreshTokens {
		if t.ClientID == clientID {
			t.Revoked = true
		}
	}
	return nil
}

func (s *Store) ListGrants(_ context.Context, userID string, now time.Time) ([]storage.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byClient := make(map[string]*storage.Grant)
	var order []string
	add := func(clientID string, scope []string, issuedAt time.Time) {
		client, ok := s.clients[clientID]
		if !ok {
			return
		}
		g, ok := byClient[clientID]
		if !ok {
			g = &storage.Grant{ClientID: clientID, ClientName: client.Name, LogoURL: client.LogoURL}
			byClient[clientID] = g
			order = append(order, clientID)
		}
		for _, sc := range scope {
			found := false
			for _, have := range g.Scope {
				if have == sc {
					found = true
					break
				}
			}
			if !found {
				g.Scope = append(g.Scope, sc)
			}
		}
		if issuedAt.After(g.LastIssuedAt) {
			g.LastIssuedAt = issuedAt
		}
	}

	for _, t := range s.accessTokens {
		if t.UserID == userID && !t.Revoked && t.ExpiresAt.After(now) {
			add(t.ClientID, t.Scope, t.CreatedAt)
		}
	}
	for _, t := range s.refreshTokens {
		if t.UserID == userID && !t.Revoked && t.ExpiresAt.After(now) {
			add(t.ClientID, t.Scope, t.CreatedAt)
		}
	}

	out := make([]storage.Grant, 0, len(order))
	for _, id := range order {
		out = append(out, *byClient[id])
	}
	return out, nil
}

func copyClient(c *storage.Client) *storage.Client {
	cp := *c
	cp.SecretCiphertext = append([]byte(nil), c.SecretCiphertext...)
	cp.RedirectURIs = append([]string(nil), c.RedirectURIs...)
	cp.AllowedScopes = append([]string(nil), c.AllowedScopes...)
	return &cp
}

func copyCode(c *storage.AuthorizationCode) *storage.AuthorizationCode {
	cp := *c
	cp.Scope = append([]string(nil), c.Scope...)
	return &cp
}

func copyAccess(t *storage.AccessToken) *storage.AccessToken {
	cp := *t
	cp.Scope = append([]string(nil), t.Scope...)
	return &cp
}

func copyRefresh(t *storage.RefreshToken) *storage.RefreshToken {
	cp := *t
	cp.Scope = append([]string(nil), t.Scope...)
	if t.AccessTokenID != nil {
		id := *t.AccessTokenID
		cp.AccessTokenID = &id
	}
	return &cp
}
