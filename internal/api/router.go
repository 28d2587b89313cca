package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/ragchat/internal/api/handlers"
	"github.com/nikhilbhutani/ragchat/internal/api/middleware"
	"github.com/nikhilbhutani/ragchat/internal/auth"
	"github.com/nikhilbhutani/ragchat/internal/config"
)

// Deps are the services behind the HTTP surface, built once in main.
type Deps struct {
	Health *handlers.HealthHandler
	Files  *handlers.FileHandler
	Chat   handlers.Chatter
	Eval   handlers.Runner
}

type Router struct {
	mux     *chi.Mux
	cfg     *config.Config
	deps    Deps
	jwt     *auth.JWTMiddleware
	limiter *middleware.RateLimiter
}

func NewRouter(cfg *config.Config, deps Deps) *Router {
	return &Router{
		mux:     chi.NewRouter(),
		cfg:     cfg,
		deps:    deps,
		jwt:     auth.NewJWTMiddleware(cfg.Auth.JWTSecret),
		limiter: middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
	}
}

// Limiter exposes the rate limiter so the server can sweep idle clients.
func (rt *Router) Limiter() *middleware.RateLimiter { return rt.limiter }

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(rt.cfg.Server.CORSOrigins))
	r.Use(rt.limiter.Limit)

	// Health endpoints (no auth)
	if rt.deps.Health != nil {
		r.Get("/healthz", rt.deps.Health.Healthz)
		r.Get("/readyz", rt.deps.Health.Readyz)
	}

	r.Group(func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)

		files := rt.deps.Files
		r.Post("/upload", files.Upload)
		r.Get("/files", files.List)
		r.Get("/files/{name}", files.Get)
		r.Delete("/files", files.Delete)

		// GET /chat is the websocket channel, POST /chat the request/response form.
		chatH := handlers.NewChatHandler(rt.deps.Chat)
		socket := handlers.NewChatSocket(rt.deps.Chat, rt.cfg.Server.CORSOrigins)
		r.Get("/chat", socket.Serve)
		r.Post("/chat", chatH.Chat)

		if rt.deps.Eval != nil {
			evalH := handlers.NewEvalHandler(rt.deps.Eval, rt.cfg.Eval.OutputDir, rt.cfg.Storage.MaxUploadBytes)
			r.Post("/eval", evalH.Run)
		}
	})

	return r
}
