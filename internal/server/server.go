package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/teller/internal/config"
	"github.com/congo-pay/teller/internal/metrics"
	"github.com/congo-pay/teller/internal/middleware"
	"github.com/congo-pay/teller/internal/routes"
)

const poolStatsInterval = 15 * time.Second

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app      *fiber.App
	cfg      config.Config
	services *routes.Services
	logger   *slog.Logger

	stopCollector context.CancelFunc
}

// New wires the core services and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) (*Server, error) {
	deps := routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger}
	services, err := routes.Build(deps)
	if err != nil {
		return nil, err
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: middleware.ErrorHandler(logger),
	})
	routes.Setup(app, deps, services)

	ctx, cancel := context.WithCancel(context.Background())
	go metrics.StartPoolStatsCollector(ctx, db, poolStatsInterval)

	return &Server{app: app, cfg: cfg, services: services, logger: logger, stopCollector: cancel}, nil
}

// App exposes the Fiber application, e.g. for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown drains in-flight requests, then stops the risk watchers and the
// pool collector.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.app.ShutdownWithContext(ctx)
	s.services.Watcher.Stop()
	s.stopCollector()
	s.logger.Info("background workers stopped")
	return err
}
