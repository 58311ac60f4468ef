// Package main runs a local Kolibri node emulator for client development.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/kolibri-omega/kolibri-studio/config"
	"github.com/kolibri-omega/kolibri-studio/internal/devnode"
	"github.com/kolibri-omega/kolibri-studio/internal/events"
	"github.com/kolibri-omega/kolibri-studio/internal/logutil"
	"github.com/kolibri-omega/kolibri-studio/internal/redisx"
)

const (
	version         = "0.9.0-dev"
	shutdownTimeout = 5 * time.Second
)

func main() {
	cfg := config.Load()
	logutil.SetLevel(cfg.LogLevel)

	var fixtures string
	cmd := &cobra.Command{
		Use:           "kolibri-devnode",
		Short:         "Serve the Kolibri node API from canned fixtures",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg, fixtures)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "Listen address")
	flags.StringVar(&fixtures, "fixtures", os.Getenv("KOLIBRI_FIXTURES"), "Fixture file (embedded fixtures when empty)")
	flags.StringVar(&cfg.APIToken, "api-token", cfg.APIToken, "Require this bearer token on /api routes")
	flags.DurationVar(&cfg.StreamDelay, "stream-delay", cfg.StreamDelay, "Delay between trace frames")
	flags.BoolVar(&cfg.MetricsEnabled, "metrics", cfg.MetricsEnabled, "Expose Prometheus metrics on /metrics/prom")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		logutil.Error("devnode failed", err, nil)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, fixturesPath string) error {
	gin.SetMode(gin.ReleaseMode)
	logutil.Info("starting kolibri devnode", map[string]interface{}{"version": version})

	fx, err := devnode.LoadFixtures(fixturesPath)
	if err != nil {
		return err
	}

	redisClient, err := redisx.NewClient(redisx.FromConfig(cfg))
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		logutil.Info("trace events fan out over redis", map[string]interface{}{"addr": cfg.RedisAddr, "channel": cfg.EventsChannel})
	}
	bus := events.NewBus(events.Options{
		Client:  redisClient,
		Channel: cfg.EventsChannel,
		Buffer:  devnode.StreamBuffer,
	})
	defer bus.Close()

	server := devnode.NewServer(devnode.NewNode(fx), devnode.Options{
		APIToken:       cfg.APIToken,
		MetricsEnabled: cfg.MetricsEnabled,
		StreamDelay:    cfg.StreamDelay,
		Bus:            bus,
	})
	srv, errs := server.Start(cfg.ListenAddr)

	select {
	case err, ok := <-errs:
		if ok && err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logutil.Info("shutting down devnode", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logutil.Warn("devnode forced to shutdown", map[string]interface{}{"error": err.Error()})
	}
	logutil.Info("devnode stopped", nil)
	return nil
}
