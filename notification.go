package gdpubsub

import (
	"context"

	"github.com/coregx/gdpubsub/model"
)

// NotificationService defines an optional interface for reporting pub/sub
// lifecycle events to external systems (email, chat, monitoring, etc.).
type NotificationService interface {
	// NotifyDeadLettered is called when a sweep moves messages to the
	// terminal TO_DELETE status after exhausting their delivery attempts.
	NotifyDeadLettered(ctx context.Context, result SweepResult) error

	// NotifySubscriptionCreated is called when a new subscription is created.
	NotifySubscriptionCreated(ctx context.Context, sub model.Subscription) error

	// NotifySubscriptionRemoved is called on unsubscribe.
	NotifySubscriptionRemoved(ctx context.Context, sub model.Subscription) error
}

// NoOpNotificationService is a no-op implementation of NotificationService.
// Use this when notifications are not needed.
type NoOpNotificationService struct{}

// NotifyDeadLettered does nothing.
func (n *NoOpNotificationService) NotifyDeadLettered(_ context.Context, _ SweepResult) error {
	return nil
}

// NotifySubscriptionCreated does nothing.
func (n *NoOpNotificationService) NotifySubscriptionCreated(_ context.Context, _ model.Subscription) error {
	return nil
}

// NotifySubscriptionRemoved does nothing.
func (n *NoOpNotificationService) NotifySubscriptionRemoved(_ context.Context, _ model.Subscription) error {
	return nil
}

// LoggingNotificationService logs notifications through the engine logger.
type LoggingNotificationService struct {
	logger Logger
}

// NewLoggingNotificationService creates a new LoggingNotificationService.
func NewLoggingNotificationService(logger Logger) *LoggingNotificationService {
	return &LoggingNotificationService{logger: logger}
}

// NotifyDeadLettered logs the dead-letter event.
func (n *LoggingNotificationService) NotifyDeadLettered(_ context.Context, result SweepResult) error {
	n.logger.Warnf("NOTIFICATION: %d messages dead-lettered", result.DeadLettered)
	return nil
}

// NotifySubscriptionCreated logs the new subscription.
func (n *LoggingNotificationService) NotifySubscriptionCreated(_ context.Context, sub model.Subscription) error {
	n.logger.Infof("NOTIFICATION: subscription created: %s (topic=%d, endpoint=%d)",
		sub.SubKey, sub.TopicID, sub.EndpointID)
	return nil
}

// NotifySubscriptionRemoved logs the removed subscription.
func (n *LoggingNotificationService) NotifySubscriptionRemoved(_ context.Context, sub model.Subscription) error {
	n.logger.Infof("NOTIFICATION: subscription removed: %s", sub.SubKey)
	return nil
}
