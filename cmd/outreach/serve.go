package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LeventeLantos/outreach-engine/internal/api"
	"github.com/LeventeLantos/outreach-engine/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var noSync bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the operator API and the recurring sync",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := slog.Default()
			a, err := buildApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			sched, err := scheduler.New(cfg.Scheduler.Interval, a.reconciler.Sync,
				scheduler.WithName("reconcile"),
				scheduler.WithInitialDelay(cfg.Scheduler.InitialDelay),
				scheduler.WithLogger(logger),
			)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              cfg.Server.Address,
				Handler:           api.Router(api.NewHandler(sched, a.store, a.dispatcher, a.reconciler, a.allowance, logger)),
				ReadHeaderTimeout: 5 * time.Second,
			}

			logger.Info("outreach engine starting",
				"addr", cfg.Server.Address,
				"store", cfg.Store.Backend,
				"profile", cfg.Outreach.Profile.Name,
				"sync_interval", cfg.Scheduler.Interval.String(),
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				if !noSync {
					sched.Start()
				}
				<-gctx.Done()

				sched.Stop()
				if a.dispatcher.Cancel() {
					logger.Info("cancelling running batch")
				}

				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := a.dispatcher.Wait(shutdownCtx); err != nil {
					logger.Warn("batch did not stop before shutdown", "error", err)
				}
				return srv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&noSync, "no-sync", false, "do not start the recurring sync; it can be started over the API")
	return cmd
}
