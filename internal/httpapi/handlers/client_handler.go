package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/crestline/oauth-service/internal/clients"
	authmiddleware "github.com/crestline/oauth-service/internal/httpapi/middleware"
)

// ClientService describes the registry capabilities used by HTTP handlers.
type ClientService interface {
	Register(ctx context.Context, in clients.RegisterInput) (*clients.Client, error)
	GetPublic(ctx context.Context, clientID string) (*clients.PublicView, error)
	GetOwned(ctx context.Context, clientID, ownerID string) (*clients.Client, error)
	List(ctx context.Context, ownerID string) ([]*clients.Client, error)
	Update(ctx context.Context, clientID, ownerID string, patch clients.UpdateInput) (*clients.Client, error)
	RotateSecret(ctx context.Context, clientID, ownerID string) (string, error)
	Deactivate(ctx context.Context, clientID, ownerID string) error
	Delete(ctx context.Context, clientID, ownerID string) error
}

// ClientHandler exposes the owner-facing client registry plus the public
// client lookup used by the consent UI.
type ClientHandler struct {
	service ClientService
	logger  *zap.Logger
}

// NewClientHandler constructs a handler.
func NewClientHandler(service ClientService, logger *zap.Logger) *ClientHandler {
	return &ClientHandler{service: service, logger: logger}
}

type registerClientRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	LogoURL      string   `json:"logo_url"`
	RedirectURIs []string `json:"redirect_uris"`
	Scopes       []string `json:"scopes"`
	Public       bool     `json:"public"`
}

// Register creates a client application for the authenticated owner.
func (h *ClientHandler) Register(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authmiddleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return
	}

	var req registerClientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON payload", nil)
		return
	}

	client, err := h.service.Register(r.Context(), clients.RegisterInput{
		OwnerID:      ownerID,
		Name:         req.Name,
		Description:  req.Description,
		LogoURL:      req.LogoURL,
		RedirectURIs: req.RedirectURIs,
		Scopes:       req.Scopes,
		Public:       req.Public,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, client)
}

// GetPublic returns the redacted client view shown on consent screens.
func (h *ClientHandler) GetPublic(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetPublic(r.Context(), chi.URLParam(r, "clientID"))
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// Get returns the owner view, secret included.
func (h *ClientHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authmiddleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return
	}
	client, err := h.service.GetOwned(r.Context(), chi.URLParam(r, "clientID"), ownerID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

// List returns every client owned by the caller, secrets omitted.
func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authmiddleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return
	}
	list, err := h.service.List(r.Context(), ownerID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clients": list})
}

type updateClientRequest struct {
	Name         *string   `json:"name"`
	Description  *string   `json:"description"`
	LogoURL      *string   `json:"logo_url"`
	RedirectURIs *[]string `json:"redirect_uris"`
	Scopes       *[]string `json:"scopes"`
}

// Update applies a partial patch to an owned client.
func (h *ClientHandler) Update(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authmiddleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return
	}

	var req updateClientRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON payload", nil)
		return
	}

	client, err := h.service.Update(r.Context(), chi.URLParam(r, "clientID"), ownerID, clients.UpdateInput{
		Name:         req.Name,
		Description:  req.Description,
		LogoURL:      req.LogoURL,
		RedirectURIs: req.RedirectURIs,
		Scopes:       req.Scopes,
	})
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, client)
}

// RotateSecret replaces the client secret and returns the new one once.
func (h *ClientHandler) RotateSecret(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authmiddleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return
	}
	secret, err := h.service.RotateSecret(r.Context(), chi.URLParam(r, "clientID"), ownerID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"client_secret": secret})
}

// Deactivate disables a client without deleting its records.
func (h *ClientHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authmiddleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return
	}
	if err := h.service.Deactivate(r.Context(), chi.URLParam(r, "clientID"), ownerID); err != nil {
		h.handleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deactivated"})
}

// Delete removes a client and revokes everything it issued.
func (h *ClientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := authmiddleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return
	}
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "clientID"), ownerID); err != nil {
		h.handleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ClientHandler) handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, clients.ErrClientNotFound):
		writeError(w, http.StatusNotFound, "not_found", "client not found", nil)
	case errors.Is(err, clients.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "you do not own this client", nil)
	case errors.Is(err, clients.ErrNameRequired),
		errors.Is(err, clients.ErrRedirectURIInvalid),
		errors.Is(err, clients.ErrUnknownScope):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	default:
		h.logger.Error("client registry request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error", nil)
	}
}
