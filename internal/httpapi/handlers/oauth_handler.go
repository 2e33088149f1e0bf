package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/crestline/oauth-service/internal/authorize"
	authmiddleware "github.com/crestline/oauth-service/internal/httpapi/middleware"
	"github.com/crestline/oauth-service/internal/oauth"
	"github.com/crestline/oauth-service/internal/tokens"
)

// AuthorizeService describes the authorization-endpoint capabilities used by
// HTTP handlers.
type AuthorizeService interface {
	Validate(ctx context.Context, in authorize.Request) (*authorize.Consent, error)
	Approve(ctx context.Context, in authorize.Request) (string, error)
	Deny(ctx context.Context, in authorize.Request) (string, error)
}

// TokenService describes the token-endpoint capabilities used by HTTP
// handlers.
type TokenService interface {
	Exchange(ctx context.Context, in tokens.ExchangeInput) (*tokens.Response, error)
	Revoke(ctx context.Context, in tokens.RevokeInput) error
}

// OAuthHandler exposes the protocol endpoints: authorize, consent decision,
// token, and revocation.
type OAuthHandler struct {
	authorizer AuthorizeService
	tokens     TokenService
	logger     *zap.Logger
}

// NewOAuthHandler constructs a handler.
func NewOAuthHandler(authorizer AuthorizeService, tokens TokenService, logger *zap.Logger) *OAuthHandler {
	return &OAuthHandler{
		authorizer: authorizer,
		tokens:     tokens,
		logger:     logger,
	}
}

// Authorize validates an authorization request and returns the consent view
// the UI renders before the user decides.
func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	userID, ok := authmiddleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return
	}

	q := r.URL.Query()
	consent, err := h.authorizer.Validate(r.Context(), authorize.Request{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		Scope:               q.Get("scope"),
		State:               q.Get("state"),
		CodeChallenge:       q.Get("code_challenge"),
		CodeChallengeMethod: q.Get("code_challenge_method"),
		UserID:              userID,
		IPAddress:           clientIP(r),
		UserAgent:           userAgent(r),
	})
	if err != nil {
		h.handleAuthorizeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, consent)
}

// Decision records the user's consent choice and redirects back to the
// client with either a code or access_denied.
func (h *OAuthHandler) Decision(w http.ResponseWriter, r *http.Request) {
	userID, ok := authmiddleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed form body", nil)
		return
	}

	req := authorize.Request{
		ClientID:            r.PostFormValue("client_id"),
		RedirectURI:         r.PostFormValue("redirect_uri"),
		ResponseType:        r.PostFormValue("response_type"),
		Scope:               r.PostFormValue("scope"),
		State:               r.PostFormValue("state"),
		CodeChallenge:       r.PostFormValue("code_challenge"),
		CodeChallengeMethod: r.PostFormValue("code_challenge_method"),
		UserID:              userID,
		IPAddress:           clientIP(r),
		UserAgent:           userAgent(r),
	}

	var (
		location string
		err      error
	)
	if r.PostFormValue("decision") == "approve" {
		location, err = h.authorizer.Approve(r.Context(), req)
	} else {
		location, err = h.authorizer.Deny(r.Context(), req)
	}
	if err != nil {
		h.handleAuthorizeError(w, r, err)
		return
	}
	http.Redirect(w, r, location, http.StatusFound)
}

// Token implements the token endpoint for the authorization_code and
// refresh_token grants.
func (h *OAuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, oauth.InvalidRequest("malformed form body"))
		return
	}

	clientID, clientSecret := clientCredentials(r)
	resp, err := h.tokens.Exchange(r.Context(), tokens.ExchangeInput{
		GrantType:    r.PostFormValue("grant_type"),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Code:         r.PostFormValue("code"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RefreshToken: r.PostFormValue("refresh_token"),
		Scope:        r.PostFormValue("scope"),
		IPAddress:    clientIP(r),
		UserAgent:    userAgent(r),
	})
	if err != nil {
		h.writeTokenError(w, r, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, resp)
}

// Revoke implements the revocation endpoint. Per RFC 7009 the response is
// 200 even when the token was unknown.
func (h *OAuthHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.writeOAuthError(w, oauth.InvalidRequest("malformed form body"))
		return
	}

	clientID, clientSecret := clientCredentials(r)
	err := h.tokens.Revoke(r.Context(), tokens.RevokeInput{
		ClientID:      clientID,
		ClientSecret:  clientSecret,
		Token:         r.PostFormValue("token"),
		TokenTypeHint: r.PostFormValue("token_type_hint"),
		IPAddress:     clientIP(r),
		UserAgent:     userAgent(r),
	})
	if err != nil {
		h.writeTokenError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleAuthorizeError distinguishes errors that may be relayed to the
// client's redirect URI from those that must stay with the caller.
func (h *OAuthHandler) handleAuthorizeError(w http.ResponseWriter, r *http.Request, err error) {
	if re, ok := oauth.AsRedirectError(err); ok {
		http.Redirect(w, r, re.Location(), http.StatusFound)
		return
	}
	if oe, ok := oauth.AsError(err); ok {
		h.writeOAuthError(w, oe)
		return
	}
	h.logger.Error("authorize request failed", zap.Error(err))
	h.writeOAuthError(w, oauth.ServerError())
}

func (h *OAuthHandler) writeTokenError(w http.ResponseWriter, r *http.Request, err error) {
	if oe, ok := oauth.AsError(err); ok {
		if oe.Code == "invalid_client" {
			w.Header().Set("WWW-Authenticate", `Basic realm="oauth"`)
		}
		h.writeOAuthError(w, oe)
		return
	}
	h.logger.Error("token request failed", zap.Error(err))
	h.writeOAuthError(w, oauth.ServerError())
}

func (h *OAuthHandler) writeOAuthError(w http.ResponseWriter, oe *oauth.Error) {
	writeJSON(w, oe.HTTPStatus(), map[string]any{
		"error":             oe.Code,
		"error_description": oe.Description,
	})
}

// clientCredentials extracts client authentication from HTTP Basic auth,
// falling back to the form body.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}
