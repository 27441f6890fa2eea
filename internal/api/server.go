package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// Config configures the public admin API.
type Config struct {
	ListenAddr  string
	AdminToken  string
	CORSOrigins []string
	RateLimit   RateLimitConfig
	FeedEvery   time.Duration
}

func DefaultConfig() Config {
	return Config{
		ListenAddr: ":8080",
		RateLimit:  DefaultRateLimitConfig,
		FeedEvery:  500 * time.Millisecond,
	}
}

// Server is the HTTP API server with the WebSocket lobby feed.
type Server struct {
	cfg         Config
	router      *chi.Mux
	wsHub       *WebSocketHub
	rateLimiter *IPRateLimiter
}

// NewServer wires the router and hub. Nothing runs until Run.
func NewServer(cfg Config, backend Backend) *Server {
	s := &Server{
		cfg:         cfg,
		wsHub:       NewWebSocketHub(backend, HubConfig{Interval: cfg.FeedEvery, CORSOrigins: cfg.CORSOrigins}),
		rateLimiter: NewIPRateLimiter(cfg.RateLimit),
	}
	s.router = NewRouter(RouterConfig{
		Backend:     backend,
		RateLimiter: s.rateLimiter,
		CORSOrigins: cfg.CORSOrigins,
		AdminToken:  cfg.AdminToken,
	})
	s.router.Get("/ws", s.wsHub.HandleWebSocket)
	return s
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Hub() *WebSocketHub {
	return s.wsHub
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.rateLimiter.Start()
	defer s.rateLimiter.Stop()
	go s.wsHub.Run(ctx)

	if s.cfg.AdminToken == "" {
		log.Warn().Msg("admin token not set: close and kick endpoints are disabled")
	}
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info().Str("addr", s.cfg.ListenAddr).Msg("api server starting")
	return serve(ctx, srv)
}
