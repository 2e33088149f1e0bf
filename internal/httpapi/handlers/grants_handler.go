package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	authmiddleware "github.com/crestline/oauth-service/internal/httpapi/middleware"
	"github.com/crestline/oauth-service/internal/storage"
)

// GrantService describes the consented-apps capabilities used by HTTP
// handlers.
type GrantService interface {
	ListGrants(ctx context.Context, userID string) ([]storage.Grant, error)
	RevokeClientGrants(ctx context.Context, clientID, userID string) error
}

// GrantsHandler exposes the consented-apps dashboard endpoints.
type GrantsHandler struct {
	service GrantService
	logger  *zap.Logger
}

// NewGrantsHandler constructs a handler.
func NewGrantsHandler(service GrantService, logger *zap.Logger) *GrantsHandler {
	return &GrantsHandler{service: service, logger: logger}
}

type grantView struct {
	ClientID     string    `json:"client_id"`
	ClientName   string    `json:"client_name"`
	LogoURL      string    `json:"logo_url,omitempty"`
	Scope        []string  `json:"scope"`
	LastIssuedAt time.Time `json:"last_issued_at"`
}

// List returns the applications holding live grants for the caller.
func (h *GrantsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := authmiddleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return
	}
	grants, err := h.service.ListGrants(r.Context(), userID)
	if err != nil {
		h.logger.Error("list grants failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error", nil)
		return
	}
	views := make([]grantView, 0, len(grants))
	for _, g := range grants {
		views = append(views, grantView{
			ClientID:     g.ClientID,
			ClientName:   g.ClientName,
			LogoURL:      g.LogoURL,
			Scope:        g.Scope,
			LastIssuedAt: g.LastIssuedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"grants": views})
}

// Disconnect revokes every token the named application holds for the caller.
func (h *GrantsHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := authmiddleware.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		return
	}
	clientID := chi.URLParam(r, "clientID")
	if err := h.service.RevokeClientGrants(r.Context(), clientID, userID); err != nil {
		h.logger.Error("disconnect grants failed", zap.Error(err), zap.String("client_id", clientID))
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected error", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
