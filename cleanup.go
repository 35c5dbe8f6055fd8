package gdpubsub

import (
	"context"
	"fmt"
	"time"
)

// CleanupFlags gates the optional cleanup categories. The always-on
// maintenance work - removing delivered and explicitly deleted queue rows
// and the messages nothing references any more - runs on every pass
// regardless of flags.
type CleanupFlags struct {
	// Subscriptions removes non-internal subscriptions idle beyond the
	// configured horizon (or never used at all).
	Subscriptions bool

	// TopicsWithoutSubscribers removes messages published to topics that
	// have no subscriptions.
	TopicsWithoutSubscribers bool

	// TopicsWithMaxRetentionReached removes messages older than their
	// topic's retention horizon regardless of delivery state.
	TopicsWithMaxRetentionReached bool

	// QueuesWithExpiredMessages removes queue rows and messages past their
	// expiration_time.
	QueuesWithExpiredMessages bool
}

// AllCleanupFlags enables every cleanup category.
func AllCleanupFlags() CleanupFlags {
	return CleanupFlags{
		Subscriptions:                 true,
		TopicsWithoutSubscribers:      true,
		TopicsWithMaxRetentionReached: true,
		QueuesWithExpiredMessages:     true,
	}
}

// CategoryResult reports one cleanup category's outcome.
type CategoryResult struct {
	Name    string
	Deleted int
	Err     error
}

// CleanupResult aggregates the per-category outcomes of one cleanup pass.
type CleanupResult struct {
	Categories []CategoryResult
}

// Failed reports whether any category failed to complete.
func (r CleanupResult) Failed() bool {
	for _, c := range r.Categories {
		if c.Err != nil {
			return true
		}
	}
	return false
}

// TotalDeleted sums the deletions across all categories.
func (r CleanupResult) TotalDeleted() int {
	total := 0
	for _, c := range r.Categories {
		total += c.Deleted
	}
	return total
}

// CleanupConfig holds the policy knobs consumed by the cleanup manager.
type CleanupConfig struct {
	// IdleSubscriptionHorizon is how long a subscription may go without any
	// delivery-related interaction before cleanup removes it.
	IdleSubscriptionHorizon time.Duration

	// DeliveryTimeout is how long a message may stay in
	// WAITING_FOR_CONFIRMATION before the sweep reverts it.
	DeliveryTimeout time.Duration

	// MaxDeliveryCount is the number of delivery attempts after which a
	// message is dead-lettered instead of re-offered.
	MaxDeliveryCount int
}

// DefaultCleanupConfig returns the default cleanup policy.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		IdleSubscriptionHorizon: 24 * time.Hour,
		DeliveryTimeout:         60 * time.Second,
		MaxDeliveryCount:        5,
	}
}

// CleanupManager removes settled and expired state from the store. It is
// triggered periodically by an external scheduler or the CLI.
//
// Every category runs as its own bounded transaction and is independently
// idempotent - running a pass twice in a row is safe and the second pass is
// a no-op. A failing category never blocks the others.
type CleanupManager struct {
	messageRepo      MessageRepository
	queueRepo        QueueRepository
	subscriptionRepo SubscriptionRepository
	topicRepo        TopicRepository
	notifications    NotificationService
	logger           Logger
	config           CleanupConfig
}

// CleanupOption configures a CleanupManager.
type CleanupOption func(*CleanupManager) error

// NewCleanupManager creates a new CleanupManager with the provided options.
//
// Required options:
//   - WithCleanupRepositories: message, queue, subscription and topic repositories
//   - WithCleanupLogger: logger instance
//
// Optional options:
//   - WithCleanupConfig: policy knobs (default: DefaultCleanupConfig())
//   - WithCleanupNotifications: dead-letter notifications
func NewCleanupManager(opts ...CleanupOption) (*CleanupManager, error) {
	cm := &CleanupManager{
		notifications: &NoOpNotificationService{},
		config:        DefaultCleanupConfig(),
	}

	for _, opt := range opts {
		if err := opt(cm); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply cleanup option", err)
		}
	}

	if cm.messageRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "MessageRepository is required (use WithCleanupRepositories)")
	}
	if cm.queueRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "QueueRepository is required (use WithCleanupRepositories)")
	}
	if cm.subscriptionRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "SubscriptionRepository is required (use WithCleanupRepositories)")
	}
	if cm.topicRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "TopicRepository is required (use WithCleanupRepositories)")
	}
	if cm.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithCleanupLogger)")
	}

	return cm, nil
}

// WithCleanupRepositories sets the required repository dependencies.
func WithCleanupRepositories(
	messageRepo MessageRepository,
	queueRepo QueueRepository,
	subscriptionRepo SubscriptionRepository,
	topicRepo TopicRepository,
) CleanupOption {
	return func(cm *CleanupManager) error {
		if messageRepo == nil {
			return fmt.Errorf("messageRepo cannot be nil")
		}
		if queueRepo == nil {
			return fmt.Errorf("queueRepo cannot be nil")
		}
		if subscriptionRepo == nil {
			return fmt.Errorf("subscriptionRepo cannot be nil")
		}
		if topicRepo == nil {
			return fmt.Errorf("topicRepo cannot be nil")
		}

		cm.messageRepo = messageRepo
		cm.queueRepo = queueRepo
		cm.subscriptionRepo = subscriptionRepo
		cm.topicRepo = topicRepo
		return nil
	}
}

// WithCleanupLogger sets the logger instance.
func WithCleanupLogger(logger Logger) CleanupOption {
	return func(cm *CleanupManager) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		cm.logger = logger
		return nil
	}
}

// WithCleanupConfig sets the cleanup policy knobs.
func WithCleanupConfig(config CleanupConfig) CleanupOption {
	return func(cm *CleanupManager) error {
		if config.MaxDeliveryCount <= 0 {
			return fmt.Errorf("max delivery count must be > 0, got %d", config.MaxDeliveryCount)
		}
		if config.DeliveryTimeout <= 0 {
			return fmt.Errorf("delivery timeout must be > 0, got %v", config.DeliveryTimeout)
		}
		cm.config = config
		return nil
	}
}

// WithCleanupNotifications sets an optional notification service.
func WithCleanupNotifications(service NotificationService) CleanupOption {
	return func(cm *CleanupManager) error {
		if service == nil {
			return fmt.Errorf("notification service cannot be nil")
		}
		cm.notifications = service
		return nil
	}
}

// Run performs one cleanup pass. The always-on maintenance categories run
// first so that freshly settled queue rows free their messages within the
// same pass, then the flag-gated categories. Category failures are isolated:
// each is reported in the result and the remaining categories still run.
func (cm *CleanupManager) Run(ctx context.Context, flags CleanupFlags) CleanupResult {
	var result CleanupResult

	run := func(name string, enabled bool, fn func(context.Context) (int, error)) {
		if !enabled {
			return
		}
		deleted, err := fn(ctx)
		if err != nil {
			cm.logger.Errorf("Cleanup category %s failed: %v", name, err)
		} else if deleted > 0 {
			cm.logger.Infof("Cleanup category %s removed %d rows", name, deleted)
		}
		result.Categories = append(result.Categories, CategoryResult{Name: name, Deleted: deleted, Err: err})
	}

	now := time.Now()

	// Always-on maintenance: settled queue rows, then the messages nothing
	// references any more.
	run("delivered_queue_rows", true, cm.queueRepo.DeleteDelivered)
	run("to_delete_queue_rows", true, cm.queueRepo.DeleteMarkedToDelete)
	run("unreferenced_messages", true, cm.messageRepo.DeleteUnreferenced)

	run("subscriptions", flags.Subscriptions, func(ctx context.Context) (int, error) {
		return cm.subscriptionRepo.DeleteIdle(ctx, now.Add(-cm.config.IdleSubscriptionHorizon))
	})

	run("topics_without_subscribers", flags.TopicsWithoutSubscribers, cm.messageRepo.DeleteWithoutSubscribers)

	run("topics_with_max_retention_reached", flags.TopicsWithMaxRetentionReached, func(ctx context.Context) (int, error) {
		return cm.deleteByRetention(ctx, now)
	})

	run("queues_with_expired_messages", flags.QueuesWithExpiredMessages, func(ctx context.Context) (int, error) {
		rows, err := cm.queueRepo.DeleteExpired(ctx, now)
		if err != nil {
			return rows, err
		}
		msgs, err := cm.messageRepo.DeleteExpired(ctx, now)
		return rows + msgs, err
	})

	return result
}

// deleteByRetention walks the active topics and removes each one's messages
// older than its retention horizon.
func (cm *CleanupManager) deleteByRetention(ctx context.Context, now time.Time) (int, error) {
	topics, err := cm.topicRepo.FindActive(ctx)
	if err != nil {
		if IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}

	total := 0
	for _, topic := range topics {
		if topic.RetentionTime <= 0 {
			continue
		}
		deleted, err := cm.messageRepo.DeleteOlderThan(ctx, topic.ID, topic.RetentionHorizon(now))
		if err != nil {
			return total, err
		}
		total += deleted
	}
	return total, nil
}

// SweepDeliveryTimeouts reverts messages stuck in WAITING_FOR_CONFIRMATION
// past the delivery timeout back to INITIALIZED and dead-letters those whose
// delivery count is exhausted. Dead-letter transitions are logged and
// notified, never raised. The sweep shares the fetch path's locking
// discipline - it runs under the same deadlock-retry policy.
func (cm *CleanupManager) SweepDeliveryTimeouts(ctx context.Context, now time.Time) (SweepResult, error) {
	result, err := cm.queueRepo.SweepTimedOut(ctx, cm.config.DeliveryTimeout, cm.config.MaxDeliveryCount, now)
	if err != nil {
		return result, NewErrorWithCause(ErrCodeDatabase, "delivery-timeout sweep failed", err)
	}

	if result.Reverted > 0 {
		cm.logger.Infof("Delivery sweep reverted %d messages to the pending state", result.Reverted)
	}
	if result.DeadLettered > 0 {
		cm.logger.Warnf("Delivery sweep dead-lettered %d messages after %d attempts",
			result.DeadLettered, cm.config.MaxDeliveryCount)
		if err := cm.notifications.NotifyDeadLettered(ctx, result); err != nil {
			cm.logger.Warnf("Failed to send dead-letter notification: %v", err)
		}
	}

	return result, nil
}
