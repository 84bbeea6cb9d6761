package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atanasmihaylov/certificate-transparency/internal/api/handlers"
	"github.com/atanasmihaylov/certificate-transparency/internal/certdb"
	"github.com/atanasmihaylov/certificate-transparency/internal/config"
	"github.com/atanasmihaylov/certificate-transparency/internal/scan"
	"github.com/atanasmihaylov/certificate-transparency/internal/scheduler"
)

// Server holds the HTTP server and all handler dependencies.
type Server struct {
	addr string
	srv  *http.Server
}

// New wires all routes and returns a Server ready to Run.
func New(
	addr string,
	db *sql.DB,
	store *certdb.Store,
	cfg *config.Config,
	mgr *scan.Manager,
	sched *scheduler.Scheduler,
	version string,
) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	statusH := &handlers.StatusHandler{
		DB:       db,
		Manager:  mgr,
		Sched:    sched,
		Schedule: cfg.Schedule,
		Paused:   cfg.ScanPaused,
		Version:  version,
	}
	scansH := &handlers.ScansHandler{DB: db, Manager: mgr}
	certsH := &handlers.CertsHandler{Store: store}
	logsH := &handlers.LogsHandler{Store: store, Logs: cfg.Logs}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", statusH.ServeHTTP)

		r.Post("/scans", scansH.Create)
		r.Get("/scans", scansH.List)
		r.Get("/scans/{id}", scansH.Get)
		r.Delete("/scans/current", scansH.Cancel)

		r.Get("/logs", logsH.List)
		r.Get("/certs", certsH.List)
	})

	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		addr: addr,
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled, then shuts
// it down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}
