package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kozaktomas/candy-kiosk/internal/config"
	"github.com/kozaktomas/candy-kiosk/internal/web/handlers"
	"github.com/kozaktomas/candy-kiosk/internal/web/middleware"
)

// Handlers groups the API handlers mounted by the server.
type Handlers struct {
	Camera  *handlers.CameraHandler
	Face    *handlers.FaceHandler
	Robot   *handlers.RobotHandler
	Chatbot *handlers.ChatbotHandler
}

// Server represents the web server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	logger     *zap.Logger

	// closing is cancelled when Shutdown starts and ends long-lived streams.
	closing     context.Context
	stopStreams context.CancelFunc
}

// NewServer creates a new web server
func NewServer(cfg config.WebConfig, h Handlers, logger *zap.Logger) *Server {
	r := chi.NewRouter()

	closing, stopStreams := context.WithCancel(context.Background())
	s := &Server{
		router:      r,
		logger:      logger,
		closing:     closing,
		stopStreams: stopStreams,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Set up routes
	s.setupRoutes(h)

	// Create HTTP server. No write timeout: the camera stream is long-lived.
	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting web server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down web server")
	// Shutdown waits for active handlers, so open streams are told to end first.
	s.stopStreams()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// untilShutdown cancels the request context when the server begins shutting down.
func (s *Server) untilShutdown(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		stop := context.AfterFunc(s.closing, cancel)
		defer stop()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
