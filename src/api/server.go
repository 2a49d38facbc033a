// Package api serves the REST surface and the websocket endpoint.
package api

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/orchestra-mcp/nexus/config"
	"github.com/orchestra-mcp/nexus/src/auth"
	"github.com/orchestra-mcp/nexus/src/realtime"
	"github.com/orchestra-mcp/nexus/src/store"
	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

// Deps are the services the API is built on.
type Deps struct {
	Store    *store.Store
	Auth     *auth.Service
	Realtime *realtime.Service
	// LimiterStorage backs the rate limiters. Nil keeps counters in memory.
	LimiterStorage fiber.Storage
}

// Server owns the fiber app and the websocket upgrader.
type Server struct {
	app      *fiber.App
	cfg      *config.Config
	store    *store.Store
	auth     *auth.Service
	rt       *realtime.Service
	validate *validator.Validate
	logger   zerolog.Logger

	base   context.Context
	cancel context.CancelFunc
}

// New builds the server and registers every route.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) *Server {
	base, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		store:    deps.Store,
		auth:     deps.Auth,
		rt:       deps.Realtime,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With().Str("component", "api").Logger(),
		base:     base,
		cancel:   cancel,
	}

	s.app = fiber.New(fiber.Config{
		AppName:      "nexus",
		Immutable:    true,
		BodyLimit:    1 << 20,
		ErrorHandler: s.handleError,
	})

	s.app.Use(recoverer.New())
	s.app.Use(helmet.New(helmet.Config{
		CrossOriginResourcePolicy: "cross-origin",
		CrossOriginEmbedderPolicy: "unsafe-none",
	}))
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.HTTP.AllowOrigins,
		AllowCredentials: true,
	}))
	s.app.Use(requestLogger(s.logger))

	s.routes(deps.LimiterStorage)
	return s
}

func (s *Server) routes(storage fiber.Storage) {
	api := s.app.Group("/api")
	if s.cfg.RateLimit.Enabled {
		api.Use(s.rateLimit(s.cfg.RateLimit.APIMax, s.cfg.RateLimit.APIWindow, storage))
	}

	authGroup := api.Group("/auth")
	if s.cfg.RateLimit.Enabled {
		authGroup.Post("/google", s.handleLogin,
			s.rateLimit(s.cfg.RateLimit.AuthMax, s.cfg.RateLimit.AuthWindow, storage))
	} else {
		authGroup.Post("/google", s.handleLogin)
	}
	authGroup.Get("/me", s.handleMe, s.requireUser)
	authGroup.Post("/logout", s.handleLogout)
	authGroup.Post("/logout-all", s.handleLogoutAll, s.requireUser)
	authGroup.Patch("/profile", s.handleUpdateProfile, s.requireUser)

	nodes := api.Group("/nodes")
	nodes.Get("/", s.handleListNodes)
	nodes.Get("/exam/:exam", s.handleNodesByExam)
	nodes.Get("/:id", s.handleGetNode)
	nodes.Patch("/:id/status", s.handleUpdateNodeStatus, s.requireUser)

	rooms := api.Group("/rooms")
	rooms.Get("/", s.handleListRooms)
	rooms.Get("/exam/:exam", s.handleRoomsByExam)
	rooms.Get("/:id", s.handleGetRoom)
	rooms.Post("/:id/join", s.handleJoinRoom, s.requireUser)
	rooms.Post("/:id/leave", s.handleLeaveRoom, s.requireUser)

	acts := api.Group("/activities")
	acts.Get("/", s.handleRecentActivities)
	acts.Get("/me", s.handleMyActivities, s.requireUser)
	acts.Get("/room/:roomId", s.handleRoomActivities)
	acts.Post("/", s.handleCreateActivity, s.requireUser)

	api.Get("/presence", s.handlePresence)
	api.Get("/ws/info", s.handleWSInfo)
	api.Get("/health", s.handleHealth)

	api.Use(func(c fiber.Ctx) error {
		return errorJSON(c, fiber.StatusNotFound, "API endpoint not found")
	})
}

func (s *Server) rateLimit(maxReq int, window time.Duration, storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        maxReq,
		Expiration: window,
		Storage:    storage,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			return errorJSON(c, fiber.StatusTooManyRequests, "Too many requests, please try again later.")
		},
	})
}

// App returns the fiber application, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Handler routes the websocket path to the upgrader and everything else to
// the fiber app.
func (s *Server) Handler() fasthttp.RequestHandler {
	ws := s.WebSocketHandler()
	app := s.app.Handler()
	path := s.cfg.Socket.Path
	return func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == path {
			ws(ctx)
			return
		}
		app(ctx)
	}
}

// Close cancels in-flight store calls started by handlers.
func (s *Server) Close() {
	s.cancel()
}

// ctx bounds a handler's store calls by the configured request timeout.
func (s *Server) ctx() (context.Context, context.CancelFunc) {
	if s.cfg.HTTP.RequestTimeout <= 0 {
		return context.WithCancel(s.base)
	}
	return context.WithTimeout(s.base, s.cfg.HTTP.RequestTimeout)
}
