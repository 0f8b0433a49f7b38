// Command fleetdeck-gateway runs the realtime voice gateway for the
// fleet-management dashboard.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/fleetdeck/fleetdeck/pkg/gateway/config"
	"github.com/fleetdeck/fleetdeck/pkg/gateway/metrics"
	"github.com/fleetdeck/fleetdeck/pkg/gateway/server"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:           "fleetdeck-gateway",
		Short:         "Realtime voice gateway for the FleetDeck dashboard",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := buildLogger(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			defer logger.Sync()
			return run(cmd.Context(), cfg, logger)
		},
	}
	root.Flags().StringVarP(&configFile, "config", "c", "", "path to config file (optional)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fleetdeck-gateway: %v\n", err)
		os.Exit(1)
	}
}

func buildLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	m := metrics.New()
	gw := server.New(cfg, server.Dependencies{}, m, logger)

	// Filler audio is best-effort; text-only phrases serve until the
	// synthesis backend is reachable.
	go gw.WarmFillers(ctx)

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: gw.Handler(),
	}

	logger.Info("starting voice gateway",
		zap.String("addr", cfg.Addr),
		zap.Int("max_sessions", cfg.MaxSessions))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down, draining sessions",
			zap.Int("live_sessions", gw.Registry().Count()))
		gw.Registry().WarnAll("draining", "gateway is shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}

		waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
		defer waitCancel()
		if !gw.Registry().Wait(waitCtx) {
			logger.Warn("session drain timed out, cancelling",
				zap.Int("remaining", gw.Registry().Count()))
			gw.Registry().CancelAll()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("gateway stopped")
	return nil
}
