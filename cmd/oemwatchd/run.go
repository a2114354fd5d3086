package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paul008/oem-agent-sub002/internal/diagnostics"
	"github.com/Paul008/oem-agent-sub002/internal/wire"
)

func newRunCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the scheduler, worker pool, and diagnostics HTTP surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(*configPath)
		},
	}
}

func runDaemon(configPath string) error {
	application, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer application.repo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		application.logger.Slog().Info("oemwatchd: shutdown signal received")
		cancel()
	}()

	stopWatch, err := application.registry.Watch(ctx)
	if err != nil {
		return err
	}
	defer stopWatch()

	diag := &diagnostics.Server{
		Driver:   application.driver,
		Registry: application.registry,
		Metrics:  application.metrics,
		Logger:   application.logger,
	}
	diagServer := &http.Server{Addr: application.cfg.DiagnosticsAddr, Handler: diag.Router()}
	go func() {
		application.logger.Slog().Info("oemwatchd: diagnostics listening", "addr", application.cfg.DiagnosticsAddr)
		if err := diagServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			application.logger.Slog().Error("oemwatchd: diagnostics server failed", "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = diagServer.Shutdown(shutdownCtx)
	}()

	go scheduleLoop(ctx, application)
	go flushLoop(ctx, application, wire.ChannelSlackBatchHourly, time.Hour)
	go flushLoop(ctx, application, wire.ChannelSlackBatchDaily, 24*time.Hour)

	application.driver.Run(ctx)
	if err := application.driver.Discovery.FlushAll(context.Background()); err != nil {
		application.logger.Slog().Error("oemwatchd: discovery cache flush failed", "error", err)
	}
	return nil
}

// scheduleLoop runs a scheduling tick for every active tenant once a
// minute. ScheduleTick itself only enqueues pages whose check interval has
// elapsed, so a short, uniform tick period is cheap and simpler than a
// per-tenant timer tree.
func scheduleLoop(ctx context.Context, a *app) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, tenant := range a.registry.Tenants() {
				if _, err := a.driver.ScheduleTick(ctx, tenant, now); err != nil {
					a.logger.Slog().Error("oemwatchd: schedule tick failed", "tenant", tenant.ID, "error", err)
				}
			}
		}
	}
}

func flushLoop(ctx context.Context, a *app, channel wire.AlertChannel, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.driver.FlushBatches(ctx, channel)
		}
	}
}
