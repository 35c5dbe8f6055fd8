package main

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"

	"github.com/coregx/gdpubsub"
	"github.com/coregx/gdpubsub/adapters/kvstore"
	"github.com/coregx/gdpubsub/adapters/sqlstore"
	"github.com/coregx/gdpubsub/cmd/gdpubsub/internal/config"
	"github.com/coregx/gdpubsub/retry"
)

func newSweepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one delivery-timeout sweep",
		Long: `Run one delivery-timeout sweep against the configured backend.

Messages stuck awaiting confirmation past the delivery timeout go back to the
pending state; messages that exhausted their delivery count are dead-lettered.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			logger := &SimpleLogger{}
			now := time.Now()

			var result gdpubsub.SweepResult

			switch cfg.Backend {
			case config.BackendKV:
				opts := badger.DefaultOptions(cfg.Badger.Dir)
				opts.Logger = nil
				db, err := badger.Open(opts)
				if err != nil {
					return fmt.Errorf("failed to open badger store: %w", err)
				}
				defer func() { _ = db.Close() }()

				backend := kvstore.NewBackend(db, logger)
				result, err = backend.ExpireSweep(cmd.Context(),
					cfg.Engine.DeliveryTimeout, cfg.Engine.MaxDeliveryCount, now)
				if err != nil {
					return err
				}

			default:
				db, err := openDatabase(cfg)
				if err != nil {
					return err
				}
				defer func() { _ = db.Close() }()

				retryCfg := retry.Config{Sleep: cfg.Engine.RetrySleep, WarnEvery: cfg.Engine.RetryWarnEvery}
				repos := sqlstore.NewRepositories(db, cfg.Database.Driver, logger, retryCfg)

				manager, err := gdpubsub.NewCleanupManager(
					gdpubsub.WithCleanupRepositories(repos.Message, repos.Queue, repos.Subscription, repos.Topic),
					gdpubsub.WithCleanupLogger(logger),
					gdpubsub.WithCleanupConfig(gdpubsub.CleanupConfig{
						IdleSubscriptionHorizon: cfg.Engine.IdleSubscriptionHorizon,
						DeliveryTimeout:         cfg.Engine.DeliveryTimeout,
						MaxDeliveryCount:        cfg.Engine.MaxDeliveryCount,
					}),
				)
				if err != nil {
					return err
				}

				result, err = manager.SweepDeliveryTimeouts(cmd.Context(), now)
				if err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "reverted %d, dead-lettered %d\n",
				result.Reverted, result.DeadLettered)
			return nil
		},
	}
	return cmd
}
