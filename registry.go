package gdpubsub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coregx/gdpubsub/model"
)

// Owner identifies the process currently running a sub_key's delivery task.
type Owner struct {
	ServerID     int64
	EndpointType model.EndpointType
}

// DeliveryTaskManager is the lock-protected map of live delivery tasks keyed
// by sub_key. There is exactly one owner per sub_key at a time; ownership is
// inserted on subscribe or ownership transfer and removed on unsubscribe or
// process shutdown.
type DeliveryTaskManager struct {
	mu    sync.RWMutex
	tasks map[string]Owner
}

// NewDeliveryTaskManager creates an empty task manager.
func NewDeliveryTaskManager() *DeliveryTaskManager {
	return &DeliveryTaskManager{
		tasks: make(map[string]Owner),
	}
}

// Register records the owner of a sub_key's delivery task, replacing any
// previous owner. Replacement is how ownership transfer after a rebalance or
// process restart is expressed.
func (m *DeliveryTaskManager) Register(subKey string, owner Owner) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks[subKey] = owner
}

// Unregister removes the sub_key's delivery task registration.
func (m *DeliveryTaskManager) Unregister(subKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.tasks, subKey)
}

// Lookup returns the registered owner of a sub_key, if any.
func (m *DeliveryTaskManager) Lookup(subKey string) (Owner, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owner, ok := m.tasks[subKey]
	return owner, ok
}

// Len returns the number of registered delivery tasks.
func (m *DeliveryTaskManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.tasks)
}

// Registry resolves topic subscribers for fan-out and routes sub_keys to the
// server process owning their delivery task.
//
// Thread safety: safe for concurrent use.
type Registry struct {
	subscriptionRepo SubscriptionRepository
	tasks            *DeliveryTaskManager
	logger           Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry) error

// NewRegistry creates a new Registry with the provided options.
//
// Required options:
//   - WithRegistrySubscriptions: subscription repository
//   - WithRegistryLogger: logger instance
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		tasks: NewDeliveryTaskManager(),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply registry option", err)
		}
	}

	if r.subscriptionRepo == nil {
		return nil, NewError(ErrCodeConfiguration, "SubscriptionRepository is required (use WithRegistrySubscriptions)")
	}
	if r.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithRegistryLogger)")
	}

	return r, nil
}

// WithRegistrySubscriptions sets the subscription repository.
func WithRegistrySubscriptions(repo SubscriptionRepository) RegistryOption {
	return func(r *Registry) error {
		if repo == nil {
			return fmt.Errorf("subscription repository cannot be nil")
		}
		r.subscriptionRepo = repo
		return nil
	}
}

// WithRegistryLogger sets the logger instance.
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *Registry) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		r.logger = logger
		return nil
	}
}

// Tasks returns the delivery-task manager.
func (r *Registry) Tasks() *DeliveryTaskManager {
	return r.tasks
}

// ResolveSubscribers returns the active, non-internal subscriptions of a
// topic - the set a published message fans out to.
func (r *Registry) ResolveSubscribers(ctx context.Context, topicID int64) ([]model.Subscription, error) {
	subs, err := r.subscriptionRepo.FindActiveByTopic(ctx, topicID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return subs, nil
}

// ResolveOwner returns the server currently owning the sub_key's delivery
// task. It fails closed: no registered task means ErrNotFound (the caller
// must treat the subscriber as offline), and a registration that disagrees
// with the store's server_id means ErrStaleOwner.
func (r *Registry) ResolveOwner(ctx context.Context, subKey string) (Owner, error) {
	owner, ok := r.tasks.Lookup(subKey)
	if !ok {
		return Owner{}, NewError(ErrCodeNotFound, fmt.Sprintf("no delivery task registered for sub_key %s", subKey))
	}

	sub, err := r.subscriptionRepo.GetBySubKey(ctx, subKey)
	if err != nil {
		return Owner{}, err
	}

	if sub.ServerID != owner.ServerID {
		r.logger.Warnf("Stale owner for sub_key %s: registered server %d, store says %d",
			subKey, owner.ServerID, sub.ServerID)
		return Owner{}, ErrStaleOwner
	}

	return owner, nil
}

// Touch updates the subscription's last_interaction_time. Every
// delivery-related access goes through here so that idle-subscription
// cleanup only removes queues nobody reads from.
func (r *Registry) Touch(ctx context.Context, subKey string, now time.Time) error {
	return r.subscriptionRepo.UpdateLastInteraction(ctx, subKey, now)
}
