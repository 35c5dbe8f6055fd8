package gdpubsub

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/coregx/gdpubsub/model"
)

// SubscriptionManager handles subscription lifecycle: creating subscriptions
// with a fresh sub_key, registering their delivery-task owner and tearing
// everything down on unsubscribe.
//
// Thread safety: safe for concurrent use.
type SubscriptionManager struct {
	subscriptionRepo SubscriptionRepository
	endpointRepo     EndpointRepository
	topicRepo        TopicRepository
	registry         *Registry
	backend          QueueBackend
	notifications    NotificationService
	logger           Logger
	clusterID        int64
}

// SubscriptionManagerOption configures a SubscriptionManager.
type SubscriptionManagerOption func(*SubscriptionManager) error

// NewSubscriptionManager creates a new SubscriptionManager with the provided
// options.
//
// Required options:
//   - WithManagerRepositories: subscription, endpoint and topic repositories
//   - WithManagerRegistry: registry holding the delivery-task manager
//   - WithManagerBackend: queue backend
//   - WithManagerLogger: logger instance
func NewSubscriptionManager(opts ...SubscriptionManagerOption) (*SubscriptionManager, error) {
	sm := &SubscriptionManager{
		notifications: &NoOpNotificationService{},
	}

	for _, opt := range opts {
		if err := opt(sm); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply subscription manager option", err)
		}
	}

	if sm.subscriptionRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "SubscriptionRepository is required (use WithManagerRepositories)")
	}
	if sm.endpointRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "EndpointRepository is required (use WithManagerRepositories)")
	}
	if sm.topicRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "TopicRepository is required (use WithManagerRepositories)")
	}
	if sm.registry == nil {
		return nil, NewError(ErrCodeConfiguration, "Registry is required (use WithManagerRegistry)")
	}
	if sm.backend == nil {
		return nil, NewError(ErrCodeConfiguration, "QueueBackend is required (use WithManagerBackend)")
	}
	if sm.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithManagerLogger)")
	}

	return sm, nil
}

// WithManagerRepositories sets the required repository dependencies.
func WithManagerRepositories(
	subscriptionRepo SubscriptionRepository,
	endpointRepo EndpointRepository,
	topicRepo TopicRepository,
) SubscriptionManagerOption {
	return func(sm *SubscriptionManager) error {
		if subscriptionRepo == nil {
			return fmt.Errorf("subscriptionRepo cannot be nil")
		}
		if endpointRepo == nil {
			return fmt.Errorf("endpointRepo cannot be nil")
		}
		if topicRepo == nil {
			return fmt.Errorf("topicRepo cannot be nil")
		}

		sm.subscriptionRepo = subscriptionRepo
		sm.endpointRepo = endpointRepo
		sm.topicRepo = topicRepo
		return nil
	}
}

// WithManagerRegistry sets the registry.
func WithManagerRegistry(registry *Registry) SubscriptionManagerOption {
	return func(sm *SubscriptionManager) error {
		if registry == nil {
			return fmt.Errorf("registry cannot be nil")
		}
		sm.registry = registry
		return nil
	}
}

// WithManagerBackend sets the queue backend.
func WithManagerBackend(backend QueueBackend) SubscriptionManagerOption {
	return func(sm *SubscriptionManager) error {
		if backend == nil {
			return fmt.Errorf("backend cannot be nil")
		}
		sm.backend = backend
		return nil
	}
}

// WithManagerLogger sets the logger instance.
func WithManagerLogger(logger Logger) SubscriptionManagerOption {
	return func(sm *SubscriptionManager) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		sm.logger = logger
		return nil
	}
}

// WithManagerNotifications sets an optional notification service.
func WithManagerNotifications(service NotificationService) SubscriptionManagerOption {
	return func(sm *SubscriptionManager) error {
		if service == nil {
			return fmt.Errorf("notification service cannot be nil")
		}
		sm.notifications = service
		return nil
	}
}

// WithManagerCluster sets the cluster scope stamped on new subscriptions.
func WithManagerCluster(clusterID int64) SubscriptionManagerOption {
	return func(sm *SubscriptionManager) error {
		sm.clusterID = clusterID
		return nil
	}
}

// SubscribeRequest represents a request to create a new subscription.
type SubscribeRequest struct {
	TopicName    string // Topic to subscribe to (required, must exist)
	EndpointName string // Subscribing endpoint (required, must exist)
	ServerID     int64  // Process that will run the delivery task (required)
}

// Validate checks the request fields.
func (r SubscribeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TopicName, validation.Required),
		validation.Field(&r.EndpointName, validation.Required),
		validation.Field(&r.ServerID, validation.Required),
	)
}

// Subscribe creates a durable subscription binding the endpoint to the topic
// and registers its delivery task with the given server as owner. The
// returned subscription carries the newly assigned sub_key.
func (sm *SubscriptionManager) Subscribe(ctx context.Context, req SubscribeRequest) (*model.Subscription, error) {
	if err := req.Validate(); err != nil {
		return nil, NewErrorWithCause(ErrCodeValidation, "invalid subscribe request", err)
	}

	topic, err := sm.topicRepo.GetByName(ctx, req.TopicName)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewErrorWithCause(ErrCodeNotFound, fmt.Sprintf("topic not found: %s", req.TopicName), err)
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load topic", err)
	}

	endpoint, err := sm.endpointRepo.GetByName(ctx, req.EndpointName)
	if err != nil {
		if IsNotFound(err) {
			return nil, NewErrorWithCause(ErrCodeNotFound, fmt.Sprintf("endpoint not found: %s", req.EndpointName), err)
		}
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load endpoint", err)
	}
	if !endpoint.IsActive {
		return nil, NewError(ErrCodeValidation, fmt.Sprintf("endpoint is not active: %s", req.EndpointName))
	}
	if !endpoint.CanSubscribe() {
		return nil, NewError(ErrCodeValidation, fmt.Sprintf("endpoint role does not allow subscriptions: %s", endpoint.Role))
	}

	sub := model.NewSubscription(uuid.NewString(), topic.ID, endpoint.ID, sm.clusterID, req.ServerID)
	sub.IsInternal = endpoint.IsInternal

	saved, err := sm.subscriptionRepo.Save(ctx, sub)
	if err != nil {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to save subscription", err)
	}

	sm.registry.Tasks().Register(saved.SubKey, Owner{
		ServerID:     req.ServerID,
		EndpointType: endpoint.Type,
	})

	if err := sm.notifications.NotifySubscriptionCreated(ctx, saved); err != nil {
		sm.logger.Warnf("Failed to send subscription-created notification: %v", err)
	}

	sm.logger.Infof("Created subscription %s (topic=%s, endpoint=%s, server=%d)",
		saved.SubKey, req.TopicName, req.EndpointName, req.ServerID)

	return &saved, nil
}

// Unsubscribe stops the subscription, marks all of its queued messages for
// deletion and removes the delivery-task registration. The queue rows are
// physically removed by the next cleanup pass regardless of acknowledgement
// state.
func (sm *SubscriptionManager) Unsubscribe(ctx context.Context, subKey string) error {
	sub, err := sm.subscriptionRepo.GetBySubKey(ctx, subKey)
	if err != nil {
		if IsNotFound(err) {
			return NewErrorWithCause(ErrCodeNotFound, fmt.Sprintf("subscription not found: %s", subKey), err)
		}
		return NewErrorWithCause(ErrCodeDatabase, "failed to load subscription", err)
	}

	if err := sm.subscriptionRepo.Deactivate(ctx, subKey); err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to deactivate subscription", err)
	}

	purged, err := sm.backend.Purge(ctx, subKey)
	if err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to purge queue", err)
	}

	sm.registry.Tasks().Unregister(subKey)

	if err := sm.notifications.NotifySubscriptionRemoved(ctx, sub); err != nil {
		sm.logger.Warnf("Failed to send subscription-removed notification: %v", err)
	}

	sm.logger.Infof("Unsubscribed %s, %d queued messages marked for deletion", subKey, purged)
	return nil
}

// TransferOwnership re-registers the sub_key's delivery task under a new
// server, e.g. after a process restart or rebalance. The store is updated
// first so that stale-owner calls from the previous server fail closed.
func (sm *SubscriptionManager) TransferOwnership(ctx context.Context, subKey string, serverID int64, now time.Time) error {
	sub, err := sm.subscriptionRepo.GetBySubKey(ctx, subKey)
	if err != nil {
		return err
	}

	endpoint, err := sm.endpointRepo.Load(ctx, sub.EndpointID)
	if err != nil {
		return err
	}

	sub.ServerID = serverID
	sub.Touch(now)
	if _, err := sm.subscriptionRepo.Save(ctx, sub); err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to update subscription owner", err)
	}

	sm.registry.Tasks().Register(subKey, Owner{
		ServerID:     serverID,
		EndpointType: endpoint.Type,
	})

	sm.logger.Infof("Transferred delivery task for %s to server %d", subKey, serverID)
	return nil
}
