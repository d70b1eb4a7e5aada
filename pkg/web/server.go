// Package web exposes a Player over HTTP and WebSocket so that producers in
// other processes can stream PCM into it and observe playback status.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-pcmstream/pkg/audio"
	"github.com/teslashibe/go-pcmstream/pkg/hub"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8765"

// maxBodySize bounds a single enqueue request.
const maxBodySize = 8 * 1024 * 1024

// Server is the HTTP and WebSocket bridge in front of a Player.
type Server struct {
	app    *fiber.App
	addr   string
	logger *slog.Logger

	player    *audio.Player
	statusHub *hub.Hub
}

// NewServer creates a bridge for player. Session status events reach
// /ws/status through PublishStatus, which the player's status handler
// should call. A nil statusHub creates a private one.
func NewServer(addr string, player *audio.Player, statusHub *hub.Hub, logger *slog.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	if logger == nil {
		logger = slog.Default()
	}
	if statusHub == nil {
		statusHub = hub.New("status", logger)
	}

	s := &Server{
		addr:      addr,
		logger:    logger.With("component", "web"),
		player:    player,
		statusHub: statusHub,
	}

	app := fiber.New(fiber.Config{
		AppName:               "pcmplay",
		DisableStartupMessage: true,
		BodyLimit:             maxBodySize,
	})

	// CORS for local development
	app.Use(cors.New())

	api := app.Group("/api")
	api.Post("/enqueue", s.handleEnqueue)
	api.Post("/ended", s.handleEnded)
	api.Post("/stop", s.handleStop)
	api.Get("/status", s.handleStatus)
	api.Get("/metrics", s.handleMetrics)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/stream", websocket.New(s.handleStreamWS))

	s.app = app
	return s
}

// PublishStatus forwards a session status to /ws/status clients.
func (s *Server) PublishStatus(st audio.Status) {
	if err := s.statusHub.BroadcastJSON(st); err != nil {
		s.logger.Warn("failed to encode status", "error", err)
	}
}

// StatusHub returns the hub feeding /ws/status.
func (s *Server) StatusHub() *hub.Hub {
	return s.statusHub
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled. It returns nil after a clean
// shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go s.statusHub.Run(ctx)

	stop := context.AfterFunc(ctx, func() {
		if err := s.app.Shutdown(); err != nil {
			s.logger.Warn("web server shutdown failed", "error", err)
		}
	})
	defer stop()

	s.logger.Info("bridge listening", "addr", ln.Addr().String())
	err := s.app.Listener(ln)
	if err != nil && !errors.Is(err, net.ErrClosed) && ctx.Err() == nil {
		return err
	}
	return nil
}

// Shutdown gracefully stops the web server
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
