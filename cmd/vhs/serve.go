package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/postfiatorg/validator-history-service/internal/config"
	"github.com/postfiatorg/validator-history-service/internal/cycle"
	"github.com/postfiatorg/validator-history-service/internal/server"
	"github.com/postfiatorg/validator-history-service/internal/store/postgres"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Run reconciliation cycles on a timer and serve the ops endpoints",
	GroupID: "service",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := newLogger()

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.RequireDatabase(); err != nil {
			return err
		}
		if interval, _ := cmd.Flags().GetDuration("interval"); interval > 0 {
			cfg.CycleInterval = interval
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := postgres.New(ctx, cfg.DatabaseURL, cfg.Concurrency+4)
		if err != nil {
			return err
		}
		defer store.Close()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		p, err := buildPipeline(ctx, cfg, store, reg, true, logger)
		if err != nil {
			return err
		}
		defer p.Close()

		srv := server.New(p.orch, p.hub, reg, logger)
		grpcServer := srv.NewGRPCServer(cfg.AuthToken)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		scheduler, err := cycle.NewScheduler(p.orch, cfg.CycleInterval, logger)
		if err != nil {
			return err
		}
		scheduler.Start()
		srv.SetServing(true)
		logger.Info("reconciliation scheduled", "interval", cfg.CycleInterval)

		<-ctx.Done()
		logger.Info("shutting down")

		srv.Shutdown()
		scheduler.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown error", "err", err)
		}
		grpcServer.GracefulStop()
		return nil
	},
}

func init() {
	serveCmd.Flags().Duration("interval", 0, "cycle interval (overrides VHS_CYCLE_INTERVAL)")
}
