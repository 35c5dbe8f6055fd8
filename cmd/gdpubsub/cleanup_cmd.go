package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coregx/gdpubsub"
	"github.com/coregx/gdpubsub/adapters/sqlstore"
	"github.com/coregx/gdpubsub/cmd/gdpubsub/internal/config"
	"github.com/coregx/gdpubsub/retry"
)

func newCleanupCommand() *cobra.Command {
	var flags gdpubsub.CleanupFlags

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Run one cleanup pass over the relational store",
		Long: `Run one cleanup pass over the relational store.

Settled queue rows and unreferenced messages are always removed. The optional
categories are enabled per flag; a failing category is reported but does not
stop the others. The command exits non-zero if any category failed.`,
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

			logger := &SimpleLogger{}
			retryCfg := retry.Config{Sleep: cfg.Engine.RetrySleep, WarnEvery: cfg.Engine.RetryWarnEvery}
			repos := sqlstore.NewRepositories(db, cfg.Database.Driver, logger, retryCfg)

			var notifications gdpubsub.NotificationService = &gdpubsub.NoOpNotificationService{}
			if cfg.Engine.EnableNotifications {
				notifications = gdpubsub.NewLoggingNotificationService(logger)
			}

			manager, err := gdpubsub.NewCleanupManager(
				gdpubsub.WithCleanupRepositories(repos.Message, repos.Queue, repos.Subscription, repos.Topic),
				gdpubsub.WithCleanupLogger(logger),
				gdpubsub.WithCleanupNotifications(notifications),
				gdpubsub.WithCleanupConfig(gdpubsub.CleanupConfig{
					IdleSubscriptionHorizon: cfg.Engine.IdleSubscriptionHorizon,
					DeliveryTimeout:         cfg.Engine.DeliveryTimeout,
					MaxDeliveryCount:        cfg.Engine.MaxDeliveryCount,
				}),
			)
			if err != nil {
				return err
			}

			result := manager.Run(cmd.Context(), flags)
			for _, c := range result.Categories {
				if c.Err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%-40s FAILED: %v\n", c.Name, c.Err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-40s removed %d\n", c.Name, c.Deleted)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total removed: %d\n", result.TotalDeleted())

			if result.Failed() {
				return fmt.Errorf("one or more cleanup categories failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flags.Subscriptions, "subscriptions", false,
		"remove subscriptions idle beyond the configured horizon")
	cmd.Flags().BoolVar(&flags.TopicsWithoutSubscribers, "topics-without-subscribers", false,
		"remove messages on topics that have no subscriptions")
	cmd.Flags().BoolVar(&flags.TopicsWithMaxRetentionReached, "topics-with-max-retention-reached", false,
		"remove messages older than their topic's retention horizon")
	cmd.Flags().BoolVar(&flags.QueuesWithExpiredMessages, "queues-with-expired-messages", false,
		"remove queue rows and messages past their expiration time")

	return cmd
}
