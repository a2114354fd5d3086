package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
)

func newDiscoverCommand(configPath *string) *cobra.Command {
	var window time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run one scheduling pass and process it, bootstrapping selector caches for every active tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscover(*configPath, window)
		},
	}
	cmd.Flags().DurationVar(&window, "window", 2*time.Minute, "how long to let the worker pool drain the bootstrap batch before exiting")
	return cmd
}

// runDiscover is the same worker pool as "run" but bounded to one
// scheduling pass: every active tenant's due pages get enqueued once, the
// driver runs its usual extraction batch over them (tenants with no stored
// cache start with empty selectors), the results are written into each
// tenant's DiscoveryCache, and the process flushes the caches and exits once
// window elapses.
func runDiscover(configPath string, window time.Duration) error {
	application, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer application.repo.Close()

	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()

	now := time.Now()
	for _, tenant := range application.registry.Tenants() {
		enqueued, err := application.driver.ScheduleTick(ctx, tenant, now)
		if err != nil {
			application.logger.Slog().Error("oemwatchd: discover schedule failed", "tenant", tenant.ID, "error", err)
			continue
		}
		application.logger.Slog().Info("oemwatchd: discover enqueued pages", "tenant", tenant.ID, "count", enqueued)
	}

	application.driver.Run(ctx)
	if err := application.driver.Discovery.FlushAll(context.Background()); err != nil {
		application.logger.Slog().Error("oemwatchd: discovery cache flush failed", "error", err)
	}
	return nil
}
