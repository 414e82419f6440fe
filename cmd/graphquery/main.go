// Command graphquery serves raw graph queries to trusted operators. It listens on an
// internal address only and every request must carry the admin token.
//
// With GRAPH_PROVIDER=badger the gateway owns the graph directory and serves the same
// listener itself, so run this command only without a gateway or with neo4j.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"dochub/internal/app"
	"dochub/internal/graphquery"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.BuildGraph(ctx)
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Graph.Close()

	if deps.Config.GraphAdminToken == "" {
		deps.Log.Warn("GRAPH_ADMIN_TOKEN not set; every query will be rejected")
	}

	addr := fmt.Sprintf("%s:%d", deps.Config.GraphQueryHost, deps.Config.GraphQueryPort)
	router := graphquery.NewRouter(deps.Log, deps.Graph, deps.Config.GraphAdminToken)
	if err := graphquery.Serve(ctx, deps.Log, addr, router); err != nil {
		deps.Log.Error("server error", "err", err)
	}
}
