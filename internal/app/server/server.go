package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"possync/internal/app/server/handlers"
	"possync/internal/config"
	"possync/internal/core/services"
	"possync/internal/platform/metrics"
	"possync/pkg/middleware"
)

type Server struct {
	log        *slog.Logger
	mux        *http.ServeMux
	cfg        config.ServerConfig
	app        string
	engine     *services.Engine
	wsHandler  *handlers.WSHandler
	docHandler *handlers.DocumentsHandler
	limiter    *middleware.RateLimiter
}

func NewServer(log *slog.Logger, app string, cfg config.ServerConfig, engine *services.Engine) *Server {
	s := &Server{
		log:        log,
		mux:        http.NewServeMux(),
		cfg:        cfg,
		app:        app,
		engine:     engine,
		wsHandler:  handlers.NewWSHandler(engine, cfg.AllowedOrigins),
		docHandler: handlers.NewDocumentsHandler(engine),
		limiter:    middleware.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	// Operational routes stay outside the rate limiter.
	s.mux.Handle("GET /metrics", metrics.Handler())
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	limited := s.limiter.Middleware
	s.mux.Handle("/ws", http.HandlerFunc(s.wsHandler.Handler))
	s.mux.Handle("GET /v1/documents/{path...}", limited(http.HandlerFunc(s.docHandler.Get)))
	s.mux.Handle("POST /v1/documents/{path...}", limited(http.HandlerFunc(s.docHandler.Create)))
	s.mux.Handle("PUT /v1/documents/{path...}", limited(http.HandlerFunc(s.docHandler.Put)))
	s.mux.Handle("PATCH /v1/documents/{path...}", limited(http.HandlerFunc(s.docHandler.Patch)))
	s.mux.Handle("DELETE /v1/documents/{path...}", limited(http.HandlerFunc(s.docHandler.Delete)))
	s.mux.Handle("POST /v1/batch", limited(http.HandlerFunc(s.docHandler.Batch)))
}

// Handler is the full middleware chain around the routes.
func (s *Server) Handler() http.Handler {
	return middleware.TracerMiddleware(s.app)(middleware.RequestLogger(s.log)(s.mux))
}

// Start serves until ctx is done, then drains in-flight requests.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server - start - listening", "addr", s.cfg.Addr)
		errCh <- server.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	s.log.Info("server - shutdown - draining")
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
