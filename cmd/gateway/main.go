package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"dochub/internal/app"
	"dochub/internal/graphquery"
	"dochub/internal/httputil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.Build(ctx)
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	if h := embeddedGraphQuery(deps); h != nil {
		addr := fmt.Sprintf("%s:%d", deps.Config.GraphQueryHost, deps.Config.GraphQueryPort)
		go func() {
			if err := graphquery.Serve(ctx, deps.Log, addr, h); err != nil {
				deps.Log.Error("graph query listener failed", "err", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", deps.Config.Port),
		Handler:           newRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			deps.Log.Warn("graceful shutdown failed", "err", err)
		}
	}()

	deps.Log.Info("gateway listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		deps.Log.Error("server failed", "err", err)
	}
}

// embeddedGraphQuery returns the internal query listener when this process owns an
// embedded graph. Badger locks its directory, so cmd/graphquery cannot open it while
// the gateway runs.
func embeddedGraphQuery(deps app.Deps) http.Handler {
	if deps.Config.GraphProvider != "badger" {
		return nil
	}
	if deps.Config.GraphAdminToken == "" {
		deps.Log.Warn("GRAPH_ADMIN_TOKEN not set; internal graph query listener disabled")
		return nil
	}
	return graphquery.NewRouter(deps.Log, deps.Graph, deps.Config.GraphAdminToken)
}

// newRouter mounts the public API. Raw graph queries never go through it.
func newRouter(deps app.Deps) *chi.Mux {
	r := httputil.NewRouter(deps.Log)

	r.Route("/api/documents", func(r chi.Router) {
		r.Post("/upload", uploadHandler(deps))
		r.Get("/", listHandler(deps))
		r.Post("/search", searchHandler(deps))
		r.Get("/stats", statsHandler(deps))
		r.Get("/{id}", documentHandler(deps))
		r.Post("/{id}/summarize", summarizeHandler(deps))
		r.Get("/{id}/summary", summaryHandler(deps))
		r.Get("/{id}/related", relatedHandler(deps))
		r.Post("/{id}/relationships", linkHandler(deps))
	})
	r.Get("/api/graph/relationships", relationshipsHandler(deps))
	r.Post("/api/users", createUserHandler(deps))
	r.Get("/healthz", httputil.HealthHandler(deps.Log, deps.HealthChecks()))

	return r
}
