package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"credit_market/internal/app"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()

	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.InfoContext(ctx, "Credit market operational. Press Ctrl+C to exit.")

	if err := bootstrap.Run(ctx); err != nil {
		slog.Error("Credit market stopped with error", slog.Any("error", err))
		bootstrap.Close()
		os.Exit(1)
	}

	slog.Info("Shut down gracefully")
}
