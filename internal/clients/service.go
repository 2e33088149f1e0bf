// Package clients implements the client registry: registration, redacted and
// owner views, partial updates, secret rotation, deactivation and cascading
// deletion of registered applications.
package clients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crestline/oauth-service/internal/audit"
	"github.com/crestline/oauth-service/internal/oauth"
	"github.com/crestline/oauth-service/internal/secrets"
	"github.com/crestline/oauth-service/internal/storage"
)

var (
	// ErrClientNotFound is returned when no client matches the id.
	ErrClientNotFound = errors.New("client not found")
	// ErrForbidden is returned when the caller does not own the client.
	ErrForbidden = errors.New("caller does not own this client")
	// ErrRedirectURIInvalid is returned when registration or update carries
	// a missing, relative, or otherwise unusable redirect URI.
	ErrRedirectURIInvalid = errors.New("redirect URIs must be non-empty absolute http(s) URIs")
	// ErrUnknownScope is returned when an allowed-scope entry is outside
	// the controlled vocabulary.
	ErrUnknownScope = errors.New("unknown scope")
	// ErrNameRequired is returned when registration omits the name.
	ErrNameRequired = errors.New("client name is required")
)

// Service encapsulates the registry. Ownership checks live here, not in the
// storage layer, so the invariant holds for every backend.
type Service struct {
	store     storage.ClientStore
	tokens    storage.TokenStore
	encryptor *secrets.Encryptor
	auditor   *audit.Logger
	logger    *zap.Logger
}

// Dependencies aggregates constructor inputs.
type Dependencies struct {
	Store     storage.ClientStore
	Tokens    storage.TokenStore
	Encryptor *secrets.Encryptor
	Auditor   *audit.Logger
	Logger    *zap.Logger
}

// New initialises the registry service.
func New(deps Dependencies) *Service {
	return &Service{
		store:     deps.Store,
		tokens:    deps.Tokens,
		encryptor: deps.Encryptor,
		auditor:   deps.Auditor,
		logger:    deps.Logger,
	}
}

// RegisterInput captures a registration request.
type RegisterInput struct {
	OwnerID      string
	Name         string
	Description  string
	LogoURL      string
	RedirectURIs []string
	Scopes       []string
	Public       bool
}

// Client is the owner view of a registered application. Secret is populated
// only on register, rotate, and owner-authenticated single fetch.
type Client struct {
	ClientID      string    `json:"client_id"`
	Secret        string    `json:"client_secret,omitempty"`
	OwnerID       string    `json:"owner_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description,omitempty"`
	LogoURL       string    `json:"logo_url,omitempty"`
	RedirectURIs  []string  `json:"redirect_uris"`
	AllowedScopes []string  `json:"allowed_scopes"`
	Public        bool      `json:"public"`
	Active        bool      `json:"is_active"`
	Verified      bool      `json:"is_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// PublicView is the redacted shape shown on consent screens: no secret, no
// owner.
type PublicView struct {
	ClientID    string `json:"client_id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	LogoURL     string `json:"logo_url,omitempty"`
	Verified    bool   `json:"is_verified"`
}

// Register validates and persists a new client, generating its credentials.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Client, error) {
	if in.Name == "" {
		return nil, ErrNameRequired
	}
	if err := validateRedirectURIs(in.RedirectURIs); err != nil {
		return nil, err
	}
	scopes := in.Scopes
	if len(scopes) == 0 {
		scopes = oauth.DefaultClientScopes()
	}
	if err := validateScopes(scopes); err != nil {
		return nil, err
	}

	clientID, err := secrets.GenerateClientID()
	if err != nil {
		return nil, fmt.Errorf("generate client id: %w", err)
	}

	var secret string
	var ciphertext []byte
	if !in.Public {
		secret, err = secrets.GenerateClientSecret()
		if err != nil {
			return nil, fmt.Errorf("generate client secret: %w", err)
		}
		ciphertext, err = s.encryptor.Encrypt(secret)
		if err != nil {
			return nil, fmt.Errorf("encrypt client secret: %w", err)
		}
	}

	now := time.Now().UTC()
	record := &storage.Client{
		ID:               uuid.New(),
		ClientID:         clientID,
		SecretCiphertext: ciphertext,
		OwnerID:          in.OwnerID,
		Name:             in.Name,
		Description:      in.Description,
		LogoURL:          in.LogoURL,
		RedirectURIs:     in.RedirectURIs,
		AllowedScopes:    scopes,
		Public:           in.Public,
		Active:           true,
		Verified:         false,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateClient(ctx, record); err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:     in.OwnerID,
		ClientID:   clientID,
		Action:     "oauth.client.registered",
		Resource:   "oauth_client",
		ResourceID: clientID,
	})

	view := s.toOwnerView(record)
	view.Secret = secret
	return view, nil
}

// GetPublic returns the redacted client view shown to consent-flow callers.
// This is the only registry operation callable without owner credentials.
func (s *Service) GetPublic(ctx context.Context, clientID string) (*PublicView, error) {
	record, err := s.store.GetClientByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	return &PublicView{
		ClientID:    record.ClientID,
		Name:        record.Name,
		Description: record.Description,
		LogoURL:     record.LogoURL,
		Verified:    record.Verified,
	}, nil
}

// GetOwned returns the full view, secret included, to the owning account.
func (s *Service) GetOwned(ctx context.Context, clientID, ownerID string) (*Client, error) {
	record, err := s.loadOwned(ctx, clientID, ownerID)
	if err != nil {
		return nil, err
	}
	view := s.toOwnerView(record)
	if len(record.SecretCiphertext) > 0 {
		secret, err := s.encryptor.Decrypt(record.SecretCiphertext)
		if err != nil {
			return nil, fmt.Errorf("decrypt client secret: %w", err)
		}
		view.Secret = secret
	}
	return view, nil
}

// List returns every client the account owns. Secrets are never included in
// list responses.
func (s *Service) List(ctx context.Context, ownerID string) ([]*Client, error) {
	records, err := s.store.ListClientsByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	out := make([]*Client, 0, len(records))
	for _, record := range records {
		out = append(out, s.toOwnerView(record))
	}
	return out, nil
}

// UpdateInput carries a partial patch: nil fields are left unchanged.
type UpdateInput struct {
	Name         *string
	Description  *string
	LogoURL      *string
	RedirectURIs *[]string
	Scopes       *[]string
}

// Update applies a partial patch to an owned client.
func (s *Service) Update(ctx context.Context, clientID, ownerID string, patch UpdateInput) (*Client, error) {
	record, err := s.loadOwned(ctx, clientID, ownerID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		if *patch.Name == "" {
			return nil, ErrNameRequired
		}
		record.Name = *patch.Name
	}
	if patch.Description != nil {
		record.Description = *patch.Description
	}
	if patch.LogoURL != nil {
		record.LogoURL = *patch.LogoURL
	}
	if patch.RedirectURIs != nil {
		if err := validateRedirectURIs(*patch.RedirectURIs); err != nil {
			return nil, err
		}
		record.RedirectURIs = *patch.RedirectURIs
	}
	if patch.Scopes != nil {
		if err := validateScopes(*patch.Scopes); err != nil {
			return nil, err
		}
		record.AllowedScopes = *patch.Scopes
	}
	record.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateClient(ctx, record); err != nil {
		return nil, fmt.Errorf("update client: %w", err)
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:     ownerID,
		ClientID:   clientID,
		Action:     "oauth.client.updated",
		Resource:   "oauth_client",
		ResourceID: clientID,
	})
	return s.toOwnerView(record), nil
}

// RotateSecret replaces the client secret immediately. Already-issued tokens
// are unaffected.
func (s *Service) RotateSecret(ctx context.Context, clientID, ownerID string) (string, error) {
	record, err := s.loadOwned(ctx, clientID, ownerID)
	if err != nil {
		return "", err
	}
	if record.Public {
		return "", fmt.Errorf("public clients have no secret to rotate")
	}

	secret, err := secrets.GenerateClientSecret()
	if err != nil {
		return "", fmt.Errorf("generate client secret: %w", err)
	}
	ciphertext, err := s.encryptor.Encrypt(secret)
	if err != nil {
		return "", fmt.Errorf("encrypt client secret: %w", err)
	}
	record.SecretCiphertext = ciphertext
	record.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateClient(ctx, record); err != nil {
		return "", fmt.Errorf("update client: %w", err)
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:     ownerID,
		ClientID:   clientID,
		Action:     "oauth.client.secret_rotated",
		Resource:   "oauth_client",
		ResourceID: clientID,
	})
	return secret, nil
}

// Deactivate flips is_active off; the authorization endpoint rejects
// inactive clients.
func (s *Service) Deactivate(ctx context.Context, clientID, ownerID string) error {
	record, err := s.loadOwned(ctx, clientID, ownerID)
	if err != nil {
		return err
	}
	record.Active = false
	record.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateClient(ctx, record); err != nil {
		return fmt.Errorf("update client: %w", err)
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:     ownerID,
		ClientID:   clientID,
		Action:     "oauth.client.deactivated",
		Resource:   "oauth_client",
		ResourceID: clientID,
	})
	return nil
}

// Delete revokes every token issued for the client, then removes the row. A
// client row never outlives revocation of its credentials.
func (s *Service) Delete(ctx context.Context, clientID, ownerID string) error {
	if _, err := s.loadOwned(ctx, clientID, ownerID); err != nil {
		return err
	}
	if err := s.tokens.RevokeAllForClient(ctx, clientID); err != nil {
		return fmt.Errorf("revoke client tokens: %w", err)
	}
	if err := s.store.DeleteClient(ctx, clientID); err != nil {
		return fmt.Errorf("delete client: %w", err)
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:     ownerID,
		ClientID:   clientID,
		Action:     "oauth.client.deleted",
		Resource:   "oauth_client",
		ResourceID: clientID,
	})
	return nil
}

func (s *Service) loadOwned(ctx context.Context, clientID, ownerID string) (*storage.Client, error) {
	record, err := s.store.GetClientByClientID(ctx, clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, fmt.Errorf("get client: %w", err)
	}
	if record.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return record, nil
}

func (s *Service) toOwnerView(record *storage.Client) *Client {
	return &Client{
		ClientID:      record.ClientID,
		OwnerID:       record.OwnerID,
		Name:          record.Name,
		Description:   record.Description,
		LogoURL:       record.LogoURL,
		RedirectURIs:  record.RedirectURIs,
		AllowedScopes: record.AllowedScopes,
		Public:        record.Public,
		Active:        record.Active,
		Verified:      record.Verified,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
	}
}

func validateRedirectURIs(uris []string) error {
	if len(uris) == 0 {
		return ErrRedirectURIInvalid
	}
	for _, u := range uris {
		if err := oauth.ValidateRedirectURI(u); err != nil {
			return fmt.Errorf("%w: %v", ErrRedirectURIInvalid, err)
		}
	}
	return nil
}

func validateScopes(scopes []string) error {
	for _, sc := range scopes {
		if !oauth.IsKnownScope(sc) {
			return fmt.Errorf("%w: %q", ErrUnknownScope, sc)
		}
	}
	return nil
}
