// Package app wires configuration, storage, services, and transport into a
// runnable server.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/crestline/oauth-service/internal/audit"
	"github.com/crestline/oauth-service/internal/authorize"
	"github.com/crestline/oauth-service/internal/cache"
	"github.com/crestline/oauth-service/internal/clients"
	"github.com/crestline/oauth-service/internal/config"
	"github.com/crestline/oauth-service/internal/database"
	"github.com/crestline/oauth-service/internal/httpapi"
	"github.com/crestline/oauth-service/internal/httpapi/handlers"
	httpmiddleware "github.com/crestline/oauth-service/internal/httpapi/middleware"
	"github.com/crestline/oauth-service/internal/revocation"
	"github.com/crestline/oauth-service/internal/secrets"
	"github.com/crestline/oauth-service/internal/storage/postgres"
	"github.com/crestline/oauth-service/internal/token"
	"github.com/crestline/oauth-service/internal/tokens"
)

// App wires core dependencies and exposes server lifecycle controls.
type App struct {
	cfg        *config.Config
	logger     *zap.Logger
	pool       *pgxpool.Pool
	redis      *redis.Client
	httpServer *http.Server
}

// New constructs the application.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	pool, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	store := postgres.New(pool)
	if cfg.Database.RunMigrations {
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
	}

	redisClient, err := cache.New(cfg.Redis)
	if err != nil {
		return nil, err
	}

	tokenSvc, err := token.NewService(cfg.Token)
	if err != nil {
		return nil, err
	}

	secretKey, err := cfg.SecretKey()
	if err != nil {
		return nil, err
	}
	encryptor, err := secrets.NewEncryptor(secretKey)
	if err != nil {
		return nil, err
	}

	auditor := audit.New(logger)
	revocationStore := revocation.New(redisClient, cfg.Redis.Namespace)

	clientSvc := clients.New(clients.Dependencies{
		Store:     store,
		Tokens:    store,
		Encryptor: encryptor,
		Auditor:   auditor,
		Logger:    logger,
	})
	authorizeSvc := authorize.New(authorize.Dependencies{
		Clients: store,
		Codes:   store,
		Config:  cfg.Token,
		Auditor: auditor,
		Logger:  logger,
	})
	tokenEndpoint := tokens.New(tokens.Dependencies{
		Clients:   store,
		Codes:     store,
		Store:     store,
		IDTokens:  tokenSvc,
		Encryptor: encryptor,
		Revoker:   revocationStore,
		Config:    cfg.Token,
		Auditor:   auditor,
		Logger:    logger,
	})

	oauthHandler := handlers.NewOAuthHandler(authorizeSvc, tokenEndpoint, logger)
	clientHandler := handlers.NewClientHandler(clientSvc, logger)
	grantsHandler := handlers.NewGrantsHandler(tokenEndpoint, logger)
	authMiddleware := httpmiddleware.NewAuth(tokenSvc)

	router := httpapi.NewRouter(httpapi.RouterDeps{
		HealthHandler:  handlers.Health,
		MetricsHandler: promhttp.Handler(),
		OAuthHandlers: httpapi.OAuthHandlers{
			Authorize: oauthHandler.Authorize,
			Decision:  oauthHandler.Decision,
			Token:     oauthHandler.Token,
			Revoke:    oauthHandler.Revoke,
		},
		ClientHandlers: httpapi.ClientHandlers{
			Register:     clientHandler.Register,
			List:         clientHandler.List,
			Get:          clientHandler.Get,
			GetPublic:    clientHandler.GetPublic,
			Update:       clientHandler.Update,
			RotateSecret: clientHandler.RotateSecret,
			Deactivate:   clientHandler.Deactivate,
			Delete:       clientHandler.Delete,
		},
		GrantHandlers: httpapi.GrantHandlers{
			List:       grantsHandler.List,
			Disconnect: grantsHandler.Disconnect,
		},
		RequireAuthHandler: authMiddleware.RequireAuth,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:           router,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		redis:      redisClient,
		httpServer: server,
	}, nil
}

// Run starts the HTTP server.
func (a *App) Run() error {
	a.logger.Info("starting HTTP server", zap.String("addr", a.httpServer.Addr))
	return a.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and closes resources.
func (a *App) Shutdown(ctx context.Context) error {
	shutdownErr := a.httpServer.Shutdown(ctx)

	a.pool.Close()
	if err := a.redis.Close(); err != nil {
		a.logger.Warn("failed to close redis client", zap.Error(err))
		if shutdownErr == nil {
			shutdownErr = err
		}
	}
	return shutdownErr
}
