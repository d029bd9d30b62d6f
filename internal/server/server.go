// File: internal/server/server.go
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	chicors "github.com/go-chi/cors"
	"github.com/xkilldash9x/airwork-authcheck/internal/config"
	"go.uber.org/zap"
)

var (
	allowedMethods = []string{http.MethodPost, http.MethodOptions}
	allowedHeaders = []string{"Authorization", "X-Client-Info", "Apikey", "Content-Type"}
)

// setCORSHeaders writes the permissive headers the browser front end needs.
// They are sent on every response of the check route, with or without an
// Origin header.
func setCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", strings.Join(allowedMethods, ", "))
	h.Set("Access-Control-Allow-Headers", strings.Join(allowedHeaders, ", "))
}

// ShutdownHook runs after the listener has stopped accepting requests.
type ShutdownHook func(ctx context.Context) error

// Server hosts the verification API.
type Server struct {
	cfg      config.ServerConfig
	logger   *zap.Logger
	handlers *Handlers
	hooks    []ShutdownHook
}

// NewServer creates a server that answers with checker.
func NewServer(cfg config.ServerConfig, checker Checker, logger *zap.Logger, hooks ...ShutdownHook) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:      cfg,
		logger:   logger.Named("server"),
		handlers: NewHandlers(logger, checker, cfg.MaxBodyBytes),
		hooks:    hooks,
	}
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(s.logger))
	r.Use(middleware.Recoverer)
	// Preflights fall through to the route so it can answer 204 itself.
	r.Use(chicors.Handler(chicors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     allowedMethods,
		AllowedHeaders:     allowedHeaders,
		MaxAge:             86400,
		OptionsPassthrough: true,
	}))

	s.handlers.RegisterRoutes(r)
	return r
}

// Start listens on the configured address until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then shuts down
// gracefully and runs the shutdown hooks.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Router(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ErrorLog:          zap.NewStdLog(s.logger),
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- httpServer.Serve(ln) }()
	s.logger.Info("Auth check server listening", zap.String("address", ln.Addr().String()))

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("HTTP server stopped unexpectedly", zap.Error(err))
		s.runHooks(context.Background())
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	<-serveErr
	s.runHooks(shutdownCtx)
	s.logger.Info("Server stopped.")
	return err
}

func (s *Server) runHooks(ctx context.Context) {
	for _, hook := range s.hooks {
		if err := hook(ctx); err != nil {
			s.logger.Error("Shutdown hook failed", zap.Error(err))
		}
	}
}

// accessLog logs one line per request through zap.
func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("Request served",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote", r.RemoteAddr),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("elapsed", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
