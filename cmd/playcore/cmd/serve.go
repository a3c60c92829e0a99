package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/playcore/internal/config"
	"github.com/zsiec/playcore/internal/demux"
	"github.com/zsiec/playcore/internal/logger"
	"github.com/zsiec/playcore/internal/player"
	"github.com/zsiec/playcore/internal/server"
	"github.com/zsiec/playcore/pkg/version"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the player behind the HTTP control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			synthetic := lo.Must(cmd.Flags().GetDuration("synthetic"))
			return a.serve(cmd.Context(), synthetic)
		},
	}
	cmd.Flags().Duration("synthetic", 0, "open every item as a generated title of this length")
	return cmd
}

func (a *app) serve(ctx context.Context, synthetic time.Duration) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := a.adapter()
	a.log.WithField("version", version.GetInfo().Short()).Info("Starting playcore")

	client := a.redisClient()
	if client != nil {
		defer func() {
			if err := client.Close(); err != nil {
				a.log.WithError(err).Error("Failed to close Redis connection")
			}
		}()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.log.Info("Connected to Redis successfully")
	}

	p := player.New(a.cfg.Player,
		player.WithLogger(log),
		player.WithOpener(a.opener(synthetic, log)),
		player.WithBookmarks(a.bookmarkStore(client)),
		player.WithCallback(newLogCallback(a.log)),
	)
	defer p.Close()

	var health redis.UniversalClient
	if client != nil {
		health = client
	}
	srv := server.New(&a.cfg.Server, a.log, p, health)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	if a.cfg.Metrics.Enabled {
		g.Go(func() error { return a.serveMetrics(gctx, a.cfg.Metrics) })
	}

	err := g.Wait()
	a.log.Info("Shutdown complete")
	return err
}

// opener returns the source opener for the configured inputs, or one that
// generates titles when synthetic is set.
func (a *app) opener(synthetic time.Duration, log logger.Logger) demux.Opener {
	if synthetic <= 0 {
		return demux.NewOpener(a.cfg.Source, log)
	}
	return demux.OpenerFunc(func(ctx context.Context, item string) (demux.Source, error) {
		return demux.NewSyntheticSource(demux.DefaultSyntheticOptions(synthetic)), nil
	})
}

// serveMetrics exposes the Prometheus registry until ctx is cancelled.
func (a *app) serveMetrics(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	a.log.WithField("addr", srv.Addr).Info("Starting metrics server")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
