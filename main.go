package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lab1702/planetfall/config"
	"github.com/lab1702/planetfall/internal/logging"
	"github.com/lab1702/planetfall/internal/observability"
	"github.com/lab1702/planetfall/server"
)

func main() {
	envFile := flag.String("env", ".env", "Optional env file")
	port := flag.String("port", "", "Server port (overrides PORT)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		logging.NewFromEnv().Error(context.Background(), "invalid configuration", logging.Err(err))
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, nil, log)
	if err != nil {
		log.Error(ctx, "tracing setup failed", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	metrics, err := observability.NewSessionCollector(nil)
	if err != nil {
		log.Error(ctx, "metrics setup failed", logging.Err(err))
		os.Exit(1)
	}

	srv := server.NewServer(cfg, log, metrics)
	managerDone := make(chan struct{})
	go func() {
		defer close(managerDone)
		srv.Run(ctx)
	}()

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv.Routes(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info(ctx, "server listening",
			logging.String("addr", httpServer.Addr),
			logging.Int("tick_rate", cfg.Sim.TickRate),
			logging.Int("seats", cfg.Sim.SeatCount),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "server failed", logging.Err(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info(context.Background(), "shutting down")

	// Rooms are ended first so clients receive RoomEnded before the
	// listener goes away.
	<-managerDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "http shutdown failed", logging.Err(err))
	}

	log.Info(context.Background(), "server stopped")
}
