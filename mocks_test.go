package gdpubsub

import (
	"context"
	"time"

	"github.com/coregx/gdpubsub/model"
)

// Function-field fakes. A nil field means "not expected in this test"; the
// zero behavior is a NOT_FOUND or a no-op, whichever the interface promises.

type fakeTopicRepo struct {
	loadFn       func(ctx context.Context, id int64) (model.Topic, error)
	saveFn       func(ctx context.Context, m model.Topic) (model.Topic, error)
	getByNameFn  func(ctx context.Context, name string) (model.Topic, error)
	findActiveFn func(ctx context.Context) ([]model.Topic, error)
}

func (f *fakeTopicRepo) Load(ctx context.Context, id int64) (model.Topic, error) {
	if f.loadFn != nil {
		return f.loadFn(ctx, id)
	}
	return model.Topic{}, ErrNotFound
}

func (f *fakeTopicRepo) Save(ctx context.Context, m model.Topic) (model.Topic, error) {
	if f.saveFn != nil {
		return f.saveFn(ctx, m)
	}
	return m, nil
}

func (f *fakeTopicRepo) GetByName(ctx context.Context, name string) (model.Topic, error) {
	if f.getByNameFn != nil {
		return f.getByNameFn(ctx, name)
	}
	return model.Topic{}, ErrNotFound
}

func (f *fakeTopicRepo) FindActive(ctx context.Context) ([]model.Topic, error) {
	if f.findActiveFn != nil {
		return f.findActiveFn(ctx)
	}
	return nil, ErrNotFound
}

type fakeEndpointRepo struct {
	loadFn      func(ctx context.Context, id int64) (model.Endpoint, error)
	getByNameFn func(ctx context.Context, name string) (model.Endpoint, error)
}

func (f *fakeEndpointRepo) Load(ctx context.Context, id int64) (model.Endpoint, error) {
	if f.loadFn != nil {
		return f.loadFn(ctx, id)
	}
	return model.Endpoint{}, ErrNotFound
}

func (f *fakeEndpointRepo) Save(_ context.Context, m model.Endpoint) (model.Endpoint, error) {
	return m, nil
}

func (f *fakeEndpointRepo) GetByName(ctx context.Context, name string) (model.Endpoint, error) {
	if f.getByNameFn != nil {
		return f.getByNameFn(ctx, name)
	}
	return model.Endpoint{}, ErrNotFound
}

func (f *fakeEndpointRepo) UpdateDeliveryTime(_ context.Context, _ int64, _ time.Time) error {
	return nil
}

type fakeSubscriptionRepo struct {
	getBySubKeyFn       func(ctx context.Context, subKey string) (model.Subscription, error)
	saveFn              func(ctx context.Context, m model.Subscription) (model.Subscription, error)
	findActiveByTopicFn func(ctx context.Context, topicID int64) ([]model.Subscription, error)
	deactivateFn        func(ctx context.Context, subKey string) error
	deleteIdleFn        func(ctx context.Context, horizon time.Time) (int, error)

	touched []string
}

func (f *fakeSubscriptionRepo) Load(_ context.Context, _ int64) (model.Subscription, error) {
	return model.Subscription{}, ErrNotFound
}

func (f *fakeSubscriptionRepo) GetBySubKey(ctx context.Context, subKey string) (model.Subscription, error) {
	if f.getBySubKeyFn != nil {
		return f.getBySubKeyFn(ctx, subKey)
	}
	return model.Subscription{}, ErrNotFound
}

func (f *fakeSubscriptionRepo) Save(ctx context.Context, m model.Subscription) (model.Subscription, error) {
	if f.saveFn != nil {
		return f.saveFn(ctx, m)
	}
	if m.ID == 0 {
		m.ID = 1
	}
	return m, nil
}

func (f *fakeSubscriptionRepo) FindActiveByTopic(ctx context.Context, topicID int64) ([]model.Subscription, error) {
	if f.findActiveByTopicFn != nil {
		return f.findActiveByTopicFn(ctx, topicID)
	}
	return nil, ErrNotFound
}

func (f *fakeSubscriptionRepo) UpdateLastInteraction(_ context.Context, subKey string, _ time.Time) error {
	f.touched = append(f.touched, subKey)
	return nil
}

func (f *fakeSubscriptionRepo) Deactivate(ctx context.Context, subKey string) error {
	if f.deactivateFn != nil {
		return f.deactivateFn(ctx, subKey)
	}
	return nil
}

func (f *fakeSubscriptionRepo) DeleteIdle(ctx context.Context, horizon time.Time) (int, error) {
	if f.deleteIdleFn != nil {
		return f.deleteIdleFn(ctx, horizon)
	}
	return 0, nil
}

type fakeMessageRepo struct {
	deleteUnreferencedFn       func(ctx context.Context) (int, error)
	deleteWithoutSubscribersFn func(ctx context.Context) (int, error)
	deleteExpiredFn            func(ctx context.Context, now time.Time) (int, error)
	deleteOlderThanFn          func(ctx context.Context, topicID int64, horizon time.Time) (int, error)
}

func (f *fakeMessageRepo) GetByPubMsgID(_ context.Context, _ string) (model.Message, error) {
	return model.Message{}, ErrNotFound
}

func (f *fakeMessageRepo) DeleteUnreferenced(ctx context.Context) (int, error) {
	if f.deleteUnreferencedFn != nil {
		return f.deleteUnreferencedFn(ctx)
	}
	return 0, nil
}

func (f *fakeMessageRepo) DeleteWithoutSubscribers(ctx context.Context) (int, error) {
	if f.deleteWithoutSubscribersFn != nil {
		return f.deleteWithoutSubscribersFn(ctx)
	}
	return 0, nil
}

func (f *fakeMessageRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if f.deleteExpiredFn != nil {
		return f.deleteExpiredFn(ctx, now)
	}
	return 0, nil
}

func (f *fakeMessageRepo) DeleteOlderThan(ctx context.Context, topicID int64, horizon time.Time) (int, error) {
	if f.deleteOlderThanFn != nil {
		return f.deleteOlderThanFn(ctx, topicID, horizon)
	}
	return 0, nil
}

type fakeQueueRepo struct {
	sweepTimedOutFn        func(ctx context.Context, timeout time.Duration, maxDeliveryCount int, now time.Time) (SweepResult, error)
	deleteDeliveredFn      func(ctx context.Context) (int, error)
	deleteMarkedToDeleteFn func(ctx context.Context) (int, error)
	deleteExpiredFn        func(ctx context.Context, now time.Time) (int, error)
}

func (f *fakeQueueRepo) FetchBatch(_ context.Context, _ string, _ int, _ time.Time) ([]model.DeliveryMessage, error) {
	return nil, nil
}

func (f *fakeQueueRepo) Ack(_ context.Context, _ string, _ []string, _ time.Time) (int, error) {
	return 0, nil
}

func (f *fakeQueueRepo) Reject(_ context.Context, _ string, _ []string) (int, error) {
	return 0, nil
}

func (f *fakeQueueRepo) MarkToDeleteBySubKey(_ context.Context, _ string) (int, error) {
	return 0, nil
}

func (f *fakeQueueRepo) SweepTimedOut(ctx context.Context, timeout time.Duration, maxDeliveryCount int, now time.Time) (SweepResult, error) {
	if f.sweepTimedOutFn != nil {
		return f.sweepTimedOutFn(ctx, timeout, maxDeliveryCount, now)
	}
	return SweepResult{}, nil
}

func (f *fakeQueueRepo) Depth(_ context.Context, _ string, _ time.Time) (int, error) {
	return 0, nil
}

func (f *fakeQueueRepo) DeleteDelivered(ctx context.Context) (int, error) {
	if f.deleteDeliveredFn != nil {
		return f.deleteDeliveredFn(ctx)
	}
	return 0, nil
}

func (f *fakeQueueRepo) DeleteMarkedToDelete(ctx context.Context) (int, error) {
	if f.deleteMarkedToDeleteFn != nil {
		return f.deleteMarkedToDeleteFn(ctx)
	}
	return 0, nil
}

func (f *fakeQueueRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if f.deleteExpiredFn != nil {
		return f.deleteExpiredFn(ctx, now)
	}
	return 0, nil
}

type fakeBackend struct {
	publishFn func(ctx context.Context, msg model.Message, subs []model.Subscription) (int, error)
	fetchFn   func(ctx context.Context, subKey string, batchSize int, now time.Time) ([]model.DeliveryMessage, error)
	ackFn     func(ctx context.Context, subKey string, pubMsgIDs []string, now time.Time) (int, error)
	rejectFn  func(ctx context.Context, subKey string, pubMsgIDs []string, now time.Time) error
	depthFn   func(ctx context.Context, subKey string, now time.Time) (int, error)
	purgeFn   func(ctx context.Context, subKey string) (int, error)
}

func (f *fakeBackend) Publish(ctx context.Context, msg model.Message, subs []model.Subscription) (int, error) {
	if f.publishFn != nil {
		return f.publishFn(ctx, msg, subs)
	}
	return len(subs), nil
}

func (f *fakeBackend) Fetch(ctx context.Context, subKey string, batchSize int, now time.Time) ([]model.DeliveryMessage, error) {
	if f.fetchFn != nil {
		return f.fetchFn(ctx, subKey, batchSize, now)
	}
	return nil, nil
}

func (f *fakeBackend) Ack(ctx context.Context, subKey string, pubMsgIDs []string, now time.Time) (int, error) {
	if f.ackFn != nil {
		return f.ackFn(ctx, subKey, pubMsgIDs, now)
	}
	return len(pubMsgIDs), nil
}

func (f *fakeBackend) Reject(ctx context.Context, subKey string, pubMsgIDs []string, now time.Time) error {
	if f.rejectFn != nil {
		return f.rejectFn(ctx, subKey, pubMsgIDs, now)
	}
	return nil
}

func (f *fakeBackend) ExpireSweep(_ context.Context, _ time.Duration, _ int, _ time.Time) (SweepResult, error) {
	return SweepResult{}, nil
}

func (f *fakeBackend) Depth(ctx context.Context, subKey string, now time.Time) (int, error) {
	if f.depthFn != nil {
		return f.depthFn(ctx, subKey, now)
	}
	return 0, nil
}

func (f *fakeBackend) Purge(ctx context.Context, subKey string) (int, error) {
	if f.purgeFn != nil {
		return f.purgeFn(ctx, subKey)
	}
	return 0, nil
}

func newTestRegistry(t interface{ Fatal(args ...interface{}) }, subs SubscriptionRepository) *Registry {
	r, err := NewRegistry(
		WithRegistrySubscriptions(subs),
		WithRegistryLogger(&NoopLogger{}),
	)
	if err != nil {
		t.Fatal(err)
	}
	return r
}
