// Package authorize implements the authorization endpoint: request
// validation, scope resolution, and single-use code issuance on consent.
package authorize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crestline/oauth-service/internal/audit"
	"github.com/crestline/oauth-service/internal/config"
	"github.com/crestline/oauth-service/internal/metrics"
	"github.com/crestline/oauth-service/internal/oauth"
	"github.com/crestline/oauth-service/internal/secrets"
	"github.com/crestline/oauth-service/internal/storage"
)

// Service orchestrates the consent step.
type Service struct {
	clients storage.ClientStore
	codes   storage.CodeStore
	cfg     config.TokenConfig
	auditor *audit.Logger
	logger  *zap.Logger
}

// Dependencies aggregates constructor inputs.
type Dependencies struct {
	Clients storage.ClientStore
	Codes   storage.CodeStore
	Config  config.TokenConfig
	Auditor *audit.Logger
	Logger  *zap.Logger
}

// New initialises the service.
func New(deps Dependencies) *Service {
	return &Service{
		clients: deps.Clients,
		codes:   deps.Codes,
		cfg:     deps.Config,
		auditor: deps.Auditor,
		logger:  deps.Logger,
	}
}

// Request carries the parameters of an authorization request plus the
// externally authenticated user.
type Request struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	UserID              string
	IPAddress           string
	UserAgent           string
}

// Consent is the pending-authorization view handed to the consent UI once a
// request validates: redacted client metadata and the scope that will be
// granted on approval.
type Consent struct {
	ClientID          string   `json:"client_id"`
	ClientName        string   `json:"client_name"`
	ClientDescription string   `json:"client_description,omitempty"`
	ClientLogoURL     string   `json:"client_logo_url,omitempty"`
	ClientVerified    bool     `json:"client_verified"`
	Scope             []string `json:"scope"`
	RedirectURI       string   `json:"redirect_uri"`
	State             string   `json:"state,omitempty"`
}

// Validate runs the pre-consent checks. Errors returned before the redirect
// URI is validated are plain *oauth.Error values and must never cause a
// redirect; later failures come back as *oauth.RedirectError for delivery
// via the now-trusted callback.
func (s *Service) Validate(ctx context.Context, in Request) (*Consent, error) {
	client, err := s.clients.GetClientByClientID(ctx, in.ClientID)
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

	if !oauth.MatchRedirectURI(client.RedirectURIs, in.RedirectURI) {
		// An unvalidated URI must never receive an error callback.
		return nil, oauth.InvalidRequest("redirect_uri is not registered for this client")
	}

	redirectErr := func(e *oauth.Error) error {
		return &oauth.RedirectError{RedirectURI: in.RedirectURI, State: in.State, Err: e}
	}

	if in.ResponseType != "code" {
		return nil, redirectErr(oauth.UnsupportedResponseType(in.ResponseType))
	}
	if !oauth.ValidChallengeMethod(in.CodeChallengeMethod) {
		return nil, redirectErr(oauth.InvalidRequest(fmt.Sprintf("code_challenge_method %q is not supported", in.CodeChallengeMethod)))
	}
	if in.CodeChallengeMethod != "" && in.CodeChallenge == "" {
		return nil, redirectErr(oauth.InvalidRequest("code_challenge is required when code_challenge_method is set"))
	}

	// Requested scopes outside the client's allowed set are narrowed away
	// silently; only an empty result is an error.
	granted := oauth.ParseScope(in.Scope)
	if len(granted) == 0 {
		granted = append([]string(nil), client.AllowedScopes...)
	} else {
		granted = oauth.IntersectScope(granted, client.AllowedScopes)
	}
	if len(granted) == 0 {
		return nil, redirectErr(oauth.InvalidScope("no requested scope is allowed for this client"))
	}

	return &Consent{
		ClientID:          client.ClientID,
		ClientName:        client.Name,
		ClientDescription: client.Description,
		ClientLogoURL:     client.LogoURL,
		ClientVerified:    client.Verified,
		Scope:             granted,
		RedirectURI:       in.RedirectURI,
		State:             in.State,
	}, nil
}

// Approve finalises user consent: it re-validates the request, persists a
// single-use authorization code, and returns the callback URL carrying the
// code and echoed state. Exactly one code row is created per approval.
func (s *Service) Approve(ctx context.Context, in Request) (string, error) {
	consent, err := s.Validate(ctx, in)
	if err != nil {
		return "", err
	}

	code, err := secrets.GenerateToken()
	if err != nil {
		s.logger.Error("code generation failed", zap.Error(err))
		return "", &oauth.RedirectError{RedirectURI: consent.RedirectURI, State: in.State, Err: oauth.ServerError()}
	}

	ttl := s.cfg.AuthCodeTTL
	if ttl <= 0 || ttl > config.MaxAuthCodeTTL {
		ttl = config.MaxAuthCodeTTL
	}
	now := time.Now().UTC()
	record := &storage.AuthorizationCode{
		ID:                  uuid.New(),
		CodeHash:            secrets.HashToken(code),
		ClientID:            consent.ClientID,
		UserID:              in.UserID,
		RedirectURI:         consent.RedirectURI,
		Scope:               consent.Scope,
		CodeChallenge:       in.CodeChallenge,
		CodeChallengeMethod: in.CodeChallengeMethod,
		State:               in.State,
		ExpiresAt:           now.Add(ttl),
		Used:                false,
		CreatedAt:           now,
	}
	if err := s.codes.CreateCode(ctx, record); err != nil {
		s.logger.Error("persist authorization code failed", zap.Error(err))
		return "", &oauth.RedirectError{RedirectURI: consent.RedirectURI, State: in.State, Err: oauth.ServerError()}
	}

	metrics.AuthorizationCodesIssued.Inc()
	s.auditor.Record(ctx, audit.Entry{
		UserID:     in.UserID,
		ClientID:   consent.ClientID,
		Action:     "oauth.consent.approved",
		Resource:   "authorization_code",
		ResourceID: record.ID.String(),
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
		Context: map[string]any{
			"scope": oauth.FormatScope(consent.Scope),
		},
	})

	return oauth.SuccessRedirect(consent.RedirectURI, code, in.State), nil
}

// Deny records the user's refusal and returns the callback URL carrying
// access_denied. No code row is created.
func (s *Service) Deny(ctx context.Context, in Request) (string, error) {
	consent, err := s.Validate(ctx, in)
	if err != nil {
		return "", err
	}

	s.auditor.Record(ctx, audit.Entry{
		UserID:     in.UserID,
		ClientID:   consent.ClientID,
		Action:     "oauth.consent.denied",
		Resource:   "oauth_client",
		ResourceID: consent.ClientID,
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
	})

	denied := &oauth.RedirectError{RedirectURI: consent.RedirectURI, State: in.State, Err: oauth.AccessDenied()}
	return denied.Location(), nil
}
