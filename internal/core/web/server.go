package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/seckatie/pagetrail/internal/core"
	"github.com/seckatie/pagetrail/internal/core/db"
	"go.uber.org/zap"
)

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 5 * time.Second

// Server exposes the archive and the settings commands as a JSON API.
type Server struct {
	db       *db.DB
	commands *core.Commands
	logger   *zap.Logger
	router   chi.Router
}

// NewServer returns a Server reading from database and applying commands.
func NewServer(database *db.DB, commands *core.Commands, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	ws := &Server{
		db:       database,
		commands: commands,
		logger:   logger,
	}
	ws.router = ws.routes()
	return ws
}

// ServeHTTP implements http.Handler.
func (ws *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws.router.ServeHTTP(w, r)
}

func (ws *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(ws.logRequests)

	r.Get("/healthz", ws.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/settings", ws.handleGetSettings)
		r.Post("/commands", ws.handleCommand)
		r.Get("/visits", ws.handleListVisits)

		r.Route("/versions", func(r chi.Router) {
			r.Get("/", ws.handleListVersions)
			r.Get("/{id}", ws.handleGetVersion)
			r.Get("/{id}/raw", ws.handleRawVersion)
			r.Delete("/{id}", ws.handleDeleteVersion)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// logRequests logs every request at debug level.
func (ws *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		ws.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// StartServer serves ws on addr until ctx is cancelled, then shuts down
// gracefully.
func StartServer(ctx context.Context, addr string, ws *Server) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           ws,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		ws.logger.Info("starting web server", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("web server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown web server: %w", err)
	}
	return nil
}
