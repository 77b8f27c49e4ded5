package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammed-shakir/geo-heatmap/internal/cli"
	"github.com/mohammed-shakir/geo-heatmap/internal/metrics"
)

// set with -ldflags "-X main.version=..."
var (
	version   = "dev"
	revision  = ""
	buildDate = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	deps := cli.Dependencies{
		Build: metrics.BuildInfo{Version: version, Revision: revision, BuildDate: buildDate},
	}
	code := cli.Execute(ctx, os.Args[1:], deps, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
