package gdpubsub

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/gdpubsub/model"
)

func TestNewRegistry_RequiresDependencies(t *testing.T) {
	_, err := NewRegistry()
	require.Error(t, err)

	_, err = NewRegistry(WithRegistrySubscriptions(&fakeSubscriptionRepo{}))
	require.Error(t, err)

	r, err := NewRegistry(
		WithRegistrySubscriptions(&fakeSubscriptionRepo{}),
		WithRegistryLogger(&NoopLogger{}),
	)
	require.NoError(t, err)
	assert.NotNil(t, r.Tasks())
}

func TestDeliveryTaskManager_RegisterLookupUnregister(t *testing.T) {
	m := NewDeliveryTaskManager()

	_, ok := m.Lookup("sk-1")
	assert.False(t, ok)

	m.Register("sk-1", Owner{ServerID: 1, EndpointType: model.EndpointTypeREST})
	owner, ok := m.Lookup("sk-1")
	require.True(t, ok)
	assert.Equal(t, int64(1), owner.ServerID)

	// Re-registering replaces the owner.
	m.Register("sk-1", Owner{ServerID: 2, EndpointType: model.EndpointTypeREST})
	owner, _ = m.Lookup("sk-1")
	assert.Equal(t, int64(2), owner.ServerID)
	assert.Equal(t, 1, m.Len())

	m.Unregister("sk-1")
	_, ok = m.Lookup("sk-1")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestDeliveryTaskManager_ConcurrentAccess(t *testing.T) {
	m := NewDeliveryTaskManager()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Register("sk", Owner{ServerID: 1})
			m.Lookup("sk")
			m.Len()
			m.Unregister("sk")
		}()
	}
	wg.Wait()
}

func TestResolveSubscribers_NoSubscribersIsNotAnError(t *testing.T) {
	r := newTestRegistry(t, &fakeSubscriptionRepo{})

	subs, err := r.ResolveSubscribers(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestResolveSubscribers_ReturnsFanOutSet(t *testing.T) {
	repo := &fakeSubscriptionRepo{
		findActiveByTopicFn: func(_ context.Context, topicID int64) ([]model.Subscription, error) {
			assert.Equal(t, int64(7), topicID)
			return []model.Subscription{{SubKey: "sk-a"}, {SubKey: "sk-b"}}, nil
		},
	}
	r := newTestRegistry(t, repo)

	subs, err := r.ResolveSubscribers(context.Background(), 7)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestResolveOwner_NoTaskFailsClosed(t *testing.T) {
	r := newTestRegistry(t, &fakeSubscriptionRepo{})

	_, err := r.ResolveOwner(context.Background(), "sk-unknown")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestResolveOwner_StaleRegistrationFailsClosed(t *testing.T) {
	repo := &fakeSubscriptionRepo{
		getBySubKeyFn: func(_ context.Context, subKey string) (model.Subscription, error) {
			return model.Subscription{SubKey: subKey, ServerID: 9}, nil
		},
	}
	r := newTestRegistry(t, repo)
	r.Tasks().Register("sk-1", Owner{ServerID: 1})

	_, err := r.ResolveOwner(context.Background(), "sk-1")
	require.Error(t, err)
	assert.True(t, IsStaleOwner(err))
}

func TestResolveOwner_MatchingRegistration(t *testing.T) {
	repo := &fakeSubscriptionRepo{
		getBySubKeyFn: func(_ context.Context, subKey string) (model.Subscription, error) {
			return model.Subscription{SubKey: subKey, ServerID: 3}, nil
		},
	}
	r := newTestRegistry(t, repo)
	r.Tasks().Register("sk-1", Owner{ServerID: 3, EndpointType: model.EndpointTypeWebSocket})

	owner, err := r.ResolveOwner(context.Background(), "sk-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), owner.ServerID)
	assert.Equal(t, model.EndpointTypeWebSocket, owner.EndpointType)
}
