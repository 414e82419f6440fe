// Package graphquery serves raw graph queries to trusted operators. Every request must
// carry the admin token. The listener belongs on an internal address only.
package graphquery

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"dochub/internal/graph"
	"dochub/internal/httputil"
)

// AdminTokenHeader carries the operator token.
const AdminTokenHeader = "X-Admin-Token"

type queryRequest struct {
	Query string `json:"query" validate:"required,max=10000"`
}

// NewRouter mounts the query endpoint and a health check over g.
func NewRouter(log *slog.Logger, g graph.Store, adminToken string) *chi.Mux {
	r := httputil.NewRouter(log)
	r.Post("/internal/graph/query", queryHandler(log, g, adminToken))
	r.Get("/healthz", httputil.HealthHandler(log, nil))
	return r
}

// Serve runs the listener on addr until ctx is cancelled.
func Serve(ctx context.Context, log *slog.Logger, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("graph query service listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func queryHandler(log *slog.Logger, g graph.Store, adminToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		capability, err := graph.Authorize(r.Header.Get(AdminTokenHeader), adminToken)
		if err != nil {
			httputil.Fail(log, w, "forbidden", err, http.StatusForbidden)
			return
		}

		var req queryRequest
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.ValidationError(log, w, err)
			return
		}

		log.Info("raw graph query", "remote", r.RemoteAddr, "length", len(req.Query))
		rows, err := g.Query(r.Context(), capability, req.Query)
		switch {
		case err == nil:
		case errors.Is(err, graph.ErrForbidden):
			httputil.Fail(log, w, "forbidden", err, http.StatusForbidden)
			return
		case graph.IsUnavailable(err):
			httputil.Fail(log, w, "graph store unavailable", err, http.StatusServiceUnavailable)
			return
		default:
			httputil.Fail(log, w, "query failed: "+err.Error(), err, http.StatusBadRequest)
			return
		}

		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"rows":  rows,
			"count": len(rows),
		})
	}
}
