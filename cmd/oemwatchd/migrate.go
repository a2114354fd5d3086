package main

import (
	"github.com/spf13/cobra"

	"github.com/Paul008/oem-agent-sub002/internal/config"
	"github.com/Paul008/oem-agent-sub002/internal/repository"
)

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			// OpenSQLite runs goose.Up as part of opening the connection, so
			// opening and closing it is the whole migration step.
			repo, err := repository.OpenSQLite(cfg.DatabasePath)
			if err != nil {
				return err
			}
			return repo.Close()
		},
	}
}
