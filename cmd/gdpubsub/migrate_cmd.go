package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coregx/gdpubsub"
	"github.com/coregx/gdpubsub/cmd/gdpubsub/internal/config"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations to an empty database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			db, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if err := gdpubsub.ApplyMigrations(cmd.Context(), db, cfg.Database.Driver); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "schema applied for driver %s\n", cfg.Database.Driver)
			return nil
		},
	}
	return cmd
}
