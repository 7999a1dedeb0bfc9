package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/squawktown/squawk/internal/callbacks"
	"github.com/squawktown/squawk/internal/gamestate"
	"github.com/squawktown/squawk/internal/network"
	"github.com/squawktown/squawk/internal/protocol"
	"github.com/squawktown/squawk/internal/status"
	"github.com/squawktown/squawk/pkg/config"
	"github.com/squawktown/squawk/pkg/lua"
	"github.com/squawktown/squawk/pkg/towngen"
)

const (
	gameVersion     = "1.0"
	shutdownTimeout = 5 * time.Second
)

type Server struct {
	config     *config.Config
	network    *network.Server
	gameState  *gamestate.GameState
	callbacks  *callbacks.CallbackChain
	hooks      *lua.ScriptHooks
	commands   *lua.CommandManager
	router     chi.Router
	httpServer *http.Server
	listener   net.Listener
	logger     *slog.Logger

	seed      uint32
	generator string
	// serialized once, every client gets these exact bytes
	worldJSON []byte
}

func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	seed, generator := towngen.ResolveSeed(cfg.World.Seed)
	world, err := towngen.Generate(seed, cfg.WorldParams())
	if err != nil {
		return nil, fmt.Errorf("failed to generate world: %w", err)
	}

	worldJSON, err := protocol.Marshal(world)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize world: %w", err)
	}

	spawn := protocol.Vec3{X: cfg.Spawn.X, Y: cfg.Spawn.Y, Z: cfg.Spawn.Z}

	srv := &Server{
		config:    cfg,
		gameState: gamestate.New(world, spawn),
		callbacks: callbacks.NewCallbackChain(),
		logger:    logger,
		seed:      seed,
		generator: generator,
		worldJSON: worldJSON,
	}

	srv.network = network.NewServer(networkConfig(cfg), srv, logger)

	api := lua.NewGameAPI(srv.gameState.Players, logger)
	api.SetServer(srv)

	if cfg.Scripting.Hooks != "" {
		hooks, err := lua.NewScriptHooks(cfg.Scripting.Hooks, api, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load script hooks: %w", err)
		}
		srv.hooks = hooks
		srv.RegisterCallbacks(hooks)
		logger.Info("loaded script hooks", "path", cfg.Scripting.Hooks, "name", hooks.Name())
	}

	if cfg.Scripting.CommandsDir != "" {
		srv.commands = lua.NewCommandManager(logger)
		if err := srv.commands.LoadCommands(cfg.Scripting.CommandsDir, api); err != nil {
			logger.Warn("failed to load lua commands", "error", err)
		}
	}

	srv.router = srv.routes()

	logger.Info("world generated",
		"generator", generator,
		"seed", seed,
		"buildings", len(world.Buildings),
		"npcs", len(world.NPCs),
		"cars", len(world.Cars),
		"bytes", len(worldJSON))

	return srv, nil
}

func networkConfig(cfg *config.Config) network.Config {
	policy := network.OverflowDisconnect
	if cfg.Outbound.OverflowPolicy == config.OverflowDrop {
		policy = network.OverflowDrop
	}

	return network.Config{
		QueueSize:         cfg.Outbound.QueueSize,
		OverflowPolicy:    policy,
		WriteTimeout:      cfg.Outbound.WriteTimeout(),
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		RateLimitEnabled:  cfg.RateLimit.Enabled,
		MessagesPerSecond: float64(cfg.RateLimit.MessagesPerSecond),
		BurstSize:         cfg.RateLimit.BurstSize,
	}
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/ws", s.network.ServeHTTP)
	r.Method(http.MethodGet, "/status", status.NewHandler(s.serverInfo, s.logger))
	r.Get("/world", s.serveWorld)

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", r.RemoteAddr,
			"duration", time.Since(start))
	})
}

func (s *Server) serveWorld(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(s.worldJSON); err != nil {
		s.logger.Debug("failed to send world", "error", err, "remote", r.RemoteAddr)
	}
}

func (s *Server) serverInfo() status.ServerInfo {
	stats := s.gameState.Stats()
	return status.ServerInfo{
		Name:           s.config.Server.Name,
		PlayersCurrent: stats.Players,
		NPCs:           stats.NPCs,
		GroundHats:     stats.GroundHats,
		Buildings:      stats.Buildings,
		Seed:           s.seed,
		Generator:      s.generator,
		UptimeSeconds:  stats.Uptime.Seconds(),
		GameVersion:    gameVersion,
	}
}

// Handler returns the HTTP routes, for mounting under a test server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err)
	}
	s.listener = ln

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()

	s.logger.Warn("outbound queues are bounded, slow clients are not buffered indefinitely",
		"queue_size", s.config.Outbound.QueueSize,
		"overflow_policy", s.config.Outbound.OverflowPolicy)
	s.logger.Info("server started", "name", s.config.Server.Name, "address", ln.Addr().String())

	return nil
}

// Addr reports the bound listen address once the server has started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() {
	s.logger.Info("stopping server")

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown incomplete", "error", err)
		}
	}

	s.network.Close()

	s.logger.Info("server stopped")
}

// RegisterCallbacks adds cb to the end of the hook chain.
func (s *Server) RegisterCallbacks(cb callbacks.Callbacks) {
	s.callbacks.Register(cb)
}

func (s *Server) GetServerName() string {
	return s.config.Server.Name
}

func (s *Server) GetUptime() time.Duration {
	return time.Since(s.gameState.StartTime)
}

// BroadcastChat sends a server line to every client. Script hooks run under
// the game lock, so this must not take it.
func (s *Server) BroadcastChat(message string) {
	s.broadcastEvent(protocol.ChatEvent{Chat: message}, nil)
}
