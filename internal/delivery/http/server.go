// Package http wires the REST surface: admin and client routers, health
// and metrics endpoints.
package http

import (
	"context"
	"fmt"
	"time"

	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/eyeconlabs/bump-service/internal/broadcast"
	"github.com/eyeconlabs/bump-service/internal/domain"
	"github.com/eyeconlabs/bump-service/internal/infrastructure/metrics"
	"github.com/eyeconlabs/bump-service/internal/tasks"
	pkgerrors "github.com/eyeconlabs/bump-service/pkg/errors"
	"github.com/eyeconlabs/bump-service/pkg/httputil"
)

// ServerConfig carries the server dependencies.
type ServerConfig struct {
	Port       string
	Name       string
	AdminToken string

	Store    domain.Store
	Sessions domain.SessionProvider
	Producer domain.EventProducer
	Runner   *broadcast.Runner
	Orch     *tasks.Orchestrator
	Logger   zerolog.Logger
}

// Server is the fasthttp front of the service.
type Server struct {
	server *fasthttp.Server
	router *router.Router
	addr   string
	logger zerolog.Logger
}

// NewServer builds the router and registers every route.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger.With().Str("component", "http_server").Logger()
	r := router.New()

	srv := &fasthttp.Server{
		Handler:      r.Handler,
		Name:         cfg.Name,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 90 * time.Second, // dialog listing and join-chat are slow
		IdleTimeout:  120 * time.Second,
	}

	s := &Server{
		server: srv,
		router: r,
		addr:   fmt.Sprintf(":%s", cfg.Port),
		logger: logger,
	}
	s.registerRoutes(cfg, logger)
	return s
}

func (s *Server) registerRoutes(cfg ServerConfig, logger zerolog.Logger) {
	mapper := pkgerrors.NewMapper(logger)

	clients := NewClientHandler(cfg.Store, mapper, logger)
	accounts := NewAccountHandler(cfg.Store, cfg.Sessions, cfg.Orch, mapper, metrics.GetDefaultMetrics(), logger)
	campaigns := NewCampaignHandler(cfg.Store, cfg.Runner, mapper, logger)
	markets := NewMarketHandler(cfg.Sessions, cfg.Orch, mapper, logger)
	analytics := NewAnalyticsHandler(cfg.Store, mapper, logger)
	health := NewHealthHandler(cfg.Store, cfg.Producer, logger)

	s.router.GET("/health", health.Handle)
	s.router.GET("/metrics", fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler()))

	admin := httputil.NewMiddlewareGroup(s.router.Group("/admin")).
		Use(RequestLogger(logger), AdminAuth(cfg.AdminToken, logger))

	admin.GET("/clients", clients.List)
	admin.POST("/clients", clients.Create)
	admin.GET("/clients/{id}", clients.Get)
	admin.PUT("/clients/{id}", clients.Update)
	admin.DELETE("/clients/{id}", clients.Delete)
	admin.GET("/clients/{id}/accounts", clients.Accounts)
	admin.POST("/clients/{id}/regenerate-token", clients.RegenerateToken)

	admin.GET("/accounts", accounts.List)
	admin.POST("/accounts", accounts.Create)
	admin.PUT("/accounts/{id}", accounts.Update)
	admin.DELETE("/accounts/{id}", accounts.Delete)
	admin.POST("/accounts/{id}/assign", accounts.Assign)
	admin.GET("/accounts/{id}/dialogs", accounts.Dialogs)
	admin.POST("/accounts/{id}/join-folders", accounts.JoinFolders)
	admin.GET("/accounts/{id}/join-folders/status", accounts.JoinFoldersStatus)

	s.registerCampaignRoutes(admin, campaigns)

	admin.POST("/markets/join-chat", markets.JoinChat)
	admin.POST("/markets/join-folder", markets.JoinFolder)
	admin.POST("/markets/nuclear-join", markets.NuclearJoin)
	admin.POST("/markets/global-join", markets.GlobalJoin)
	admin.POST("/markets/global-join-anything", markets.GlobalJoin)
	admin.POST("/markets/bulk-global-join", markets.BulkGlobalJoin)
	admin.GET("/markets/global-status/{task_id}", markets.TaskStatus)
	admin.GET("/markets/bulk-global-join/status/{task_id}", markets.TaskStatus)
	admin.DELETE("/markets/tasks/{task_id}", markets.CancelTask)

	admin.GET("/analytics", analytics.Global)
	admin.GET("/analytics/client/{id}", analytics.Client)

	client := httputil.NewMiddlewareGroup(s.router.Group("/client")).
		Use(RequestLogger(logger), ClientAuth(cfg.Store, logger))

	s.registerCampaignRoutes(client, campaigns)
	client.GET("/analytics", analytics.Client)

	logger.Info().Msg("routes registered")
}

// registerCampaignRoutes registers the shared campaign surface; the
// handlers scope to the authenticated client when one is present.
func (s *Server) registerCampaignRoutes(g *httputil.MiddlewareGroup, h *CampaignHandler) {
	g.GET("/campaigns", h.List)
	g.POST("/campaigns", h.Create)
	g.GET("/campaigns/{id}", h.Get)
	g.DELETE("/campaigns/{id}", h.Delete)
	g.POST("/campaigns/{id}/groups", h.AddGroups)
	g.DELETE("/campaigns/{id}/groups", h.ClearGroups)
	g.POST("/campaigns/{id}/start", h.Start)
	g.POST("/campaigns/{id}/stop", h.Stop)
	g.POST("/campaigns/{id}/remove-account/{account_id}", h.RemoveAccount)
	g.GET("/campaigns/{id}/status", h.Status)
	g.GET("/campaigns/{id}/logs", h.Logs)
}

// Start starts the HTTP server in a separate goroutine.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.addr).Msg("starting HTTP server")

	go func() {
		if err := s.server.ListenAndServe(s.addr); err != nil {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	if err := s.server.ShutdownWithContext(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}
