package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/gdpubsub"
	"github.com/coregx/gdpubsub/model"
	"github.com/coregx/gdpubsub/retry"
)

// newTestStore opens an in-memory SQLite database with the schema applied.
// A single connection keeps the in-memory database alive for the whole test.
func newTestStore(t *testing.T) *Repositories {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, gdpubsub.ApplyMigrations(context.Background(), db, "sqlite3"))

	return NewRepositories(db, "sqlite3", &gdpubsub.NoopLogger{}, retry.DefaultConfig())
}

func seedTopic(t *testing.T, repos *Repositories, name string) model.Topic {
	t.Helper()

	topic, err := repos.Topic.Save(context.Background(), model.NewTopic(name, 1))
	require.NoError(t, err)
	require.NotZero(t, topic.ID)
	return topic
}

func seedEndpoint(t *testing.T, repos *Repositories, name string, role model.EndpointRole) model.Endpoint {
	t.Helper()

	ep, err := repos.Endpoint.Save(context.Background(), model.NewEndpoint(name, role, model.EndpointTypeService))
	require.NoError(t, err)
	require.NotZero(t, ep.ID)
	return ep
}

func seedSubscription(t *testing.T, repos *Repositories, subKey string, topicID, endpointID int64) model.Subscription {
	t.Helper()

	sub, err := repos.Subscription.Save(context.Background(),
		model.NewSubscription(subKey, topicID, endpointID, 1, 1))
	require.NoError(t, err)
	require.NotZero(t, sub.ID)
	return sub
}

func publishMessage(t *testing.T, repos *Repositories, topicID int64, priority int,
	pubTime time.Time, subs []model.Subscription) model.Message {
	t.Helper()

	msg := model.NewMessage(fmt.Sprintf("msg-%d-%d-%d", topicID, priority, pubTime.UnixNano()),
		topicID, 1, "payload", priority, 3600, pubTime)
	_, err := repos.Backend.Publish(context.Background(), msg, subs)
	require.NoError(t, err)
	return msg
}

func TestTopicRepository_RoundTrip(t *testing.T) {
	repos := newTestStore(t)
	ctx := context.Background()

	saved := seedTopic(t, repos, "orders.created")

	loaded, err := repos.Topic.Load(ctx, saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "orders.created", loaded.Name)
	assert.True(t, loaded.HasGD)

	byName, err := repos.Topic.GetByName(ctx, "orders.created")
	require.NoError(t, err)
	assert.Equal(t, saved.ID, byName.ID)

	_, err = repos.Topic.GetByName(ctx, "missing")
	assert.True(t, gdpubsub.IsNotFound(err))

	active, err := repos.Topic.FindActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestSubscriptionRepository_FindActiveByTopicExcludesInternalAndStopped(t *testing.T) {
	repos := newTestStore(t)
	ctx := context.Background()

	topic := seedTopic(t, repos, "orders.created")
	ep := seedEndpoint(t, repos, "billing", model.EndpointRoleSubscriber)

	internalEp, err := repos.Endpoint.Save(ctx, model.Endpoint{
		Name: "platform", Role: model.EndpointRoleSubscriber,
		Type: model.EndpointTypeService, IsActive: true, IsInternal: true,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	seedSubscription(t, repos, "sk-live", topic.ID, ep.ID)
	seedSubscription(t, repos, "sk-platform", topic.ID, internalEp.ID)

	stopped := model.NewSubscription("sk-stopped", topic.ID, ep.ID, 1, 1)
	stopped.Stop()
	_, err = repos.Subscription.Save(ctx, stopped)
	require.NoError(t, err)

	subs, err := repos.Subscription.FindActiveByTopic(ctx, topic.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "sk-live", subs[0].SubKey)
}

func TestBackend_PublishCreatesOneQueueRowPerSubscription(t *testing.T) {
	repos := newTestStore(t)
	ctx := context.Background()

	topic := seedTopic(t, repos, "orders.created")
	ep := seedEndpoint(t, repos, "billing", model.EndpointRoleSubscriber)
	subA := seedSubscription(t, repos, "sk-a", topic.ID, ep.ID)
	subB := seedSubscription(t, repos, "sk-b", topic.ID, ep.ID)

	msg := publishMessage(t, repos, topic.ID, 5, time.Now().UTC(), []model.Subscription{subA, subB})

	stored, err := repos.Message.GetByPubMsgID(ctx, msg.PubMsgID)
	require.NoError(t, err)
	assert.True(t, stored.IsInSubQueue)

	depthA, err := repos.Queue.Depth(ctx, "sk-a", time.Now().UTC())
	require.NoError(t, err)
	depthB, err := repos.Queue.Depth(ctx, "sk-b", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, depthA)
	assert.Equal(t, 1, depthB)
}

func TestBackend_PublishWithoutSubscribersKeepsMessageOutOfQueues(t *testing.T) {
	repos := newTestStore(t)
	ctx := context.Background()

	topic := seedTopic(t, repos, "orders.created")
	msg := publishMessage(t, repos, topic.ID, 5, time.Now().UTC(), nil)

	stored, err := repos.Message.GetByPubMsgID(ctx, msg.PubMsgID)
	require.NoError(t, err)
	assert.False(t, stored.IsInSubQueue)
}

func TestQueueRepository_FetchBatchOrdering(t *testing.T) {
	repos := newTestStore(t)
	ctx := context.Background()

	topic := seedTopic(t, repos, "orders.created")
	ep := seedEndpoint(t, repos, "billing", model.EndpointRoleSubscriber)
	sub := seedSubscription(t, repos, "sk-1", topic.ID, ep.ID)
	subs := []model.Subscription{sub}

	base := time.Now().UTC().Truncate(time.Second)
	low := publishMessage(t, repos, topic.ID, 3, base, subs)
	highLate := publishMessage(t, repos, topic.ID, 8, base.Add(2*time.Second), subs)
	highEarly := publishMessage(t, repos, topic.ID, 8, base.Add(time.Second), subs)

	batch, err := repos.Queue.FetchBatch(ctx, "sk-1", 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, batch, 3)

	assert.Equal(t, highEarly.PubMsgID, batch[0].PubMsgID)
	assert.Equal(t, highLate.PubMsgID, batch[1].PubMsgID)
	assert.Equal(t, low.PubMsgID, batch[2].PubMsgID)

	for _, m := range batch {
		assert.Equal(t, 1, m.DeliveryCount)
	}
}

func TestQueueRepository_FetchBatchClaimsExclusively(t *testing.T) {
	repos := newTestStore(t)
	ctx := context.Background()

	topic := seedTopic(t, repos, "orders.created")
	ep := seedEndpoint(t, repos, "billing", model.EndpointRoleSubscriber)
	sub := seedSubscription(t, repos, "sk-1", topic.ID, ep.ID)
	subs := []model.Subscription{sub}

	for i := 0; i < 3; i++ {
		publishMessage(t, repos, topic.ID, 5, time.Now().UTC().Add(time.Duration(i)*time.Millisecond), subs)
	}

	first, err := repos.Queue.FetchBatch(ctx, "sk-1", 2, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := repos.Queue.FetchBatch(ctx, "sk-1", 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, second, 1)

	seen := map[string]bool{}
	for _, m := range append(first, second...) {
		assert.False(t, seen[m.PubMsgID], "message %s claimed twice", m.PubMsgID)
		seen[m.PubMsgID] = true
	}
}

func TestQueueRepository_FetchBatchSkipsExpired(t *testing.T) {
	repos := newTestStore(t)
	ctx := context.Background()

	topic := seedTopic(t, repos, "orders.created")
	ep := seedEndpoint(t, repos, "billing", model.EndpointRoleSubscriber)
	sub := seedSubscription(t, repos, "sk-1", topic.ID, ep.ID)

	// Published an hour ago with a one-second expiration.
	msg := model.NewMessage("msg-expired", topic.ID, 1, "payload", 5, 1, time.Now().UTC().Add(-time.Hour))
	_, err := repos.Backend.Publish(ctx, msg, []model.Subscription{sub})
	require.NoError(t, err)

	batch, err := repos.Queue.FetchBatch(ctx, "sk-1", 10, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, batch)
}

func TestQueueRepository_AckIsScopedAndIdempotent(t *testing.T) {
	repos := newTestStore(t)
	ctx := context.Background()

	topic := seedTopic(t, repos, "orders.created")
	ep := seedEndpoint(t, repos, "billing", model.EndpointRoleSubscriber)
	subA := seedSubscription(t, repos, "sk-a", topic.ID, ep.ID)
	subB := seedSubscription(t, repos, "sk-b", topic.ID, ep.ID)

	msg := publishMessage(t, repos, topic.ID, 5, time.Now().UTC(), []model.Subscription{subA, subB})

	// Only sk-a fetched; sk-b's copy is still pending.
	_, err := repos.Queue.FetchBatch(ctx, "sk-a", 10, time.Now().UTC())
	require.NoError(t, err)

	confirmed, err := repos.Queue.Ack(ctx, "sk-a", []string{msg.PubMsgID}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, confirmed)

	// Acking again is a no-op.
	confirmed, err = repos.Queue.Ack(ctx, "sk-a", []string{msg.PubMsgID}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0, confirmed)

	// Acking a copy that was never fetched changes nothing.
	confirmed, err = repos.Queue.Ack(ctx, "sk-b", []string{msg.PubMsgID}, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0, confirmed)

	depthB, err := repos.Queue.Depth(ctx, "sk-b", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, depthB, "sk-b's copy is untouched by sk-a's ack")
}

func TestQueueRepository_RejectReturnsMessageKeepingDeliveryCount(t *testing.T) {
	repos := newTestStore(t)
	ctx := context.Background()

	topic := seedTopic(t, repos, "orders.created")
	ep := seedEndpoint(t, repos, "billing", model.EndpointRoleSubscriber)
	sub := seedSubscription(t, repos, "sk-1", topic.ID, ep.ID)

	msg := publishMessage(t, repos, topic.ID, 5, time.Now().UTC(), []model.Subscription{sub})

	batch, err := repos.Queue.FetchBatch(ctx, "sk-1", 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, 1, batch[0].DeliveryCount)

	rejected, err := repos.Queue.Reject(ctx, "sk-1", []string{msg.PubMsgID})
	require.NoError(t, err)
	assert.Equal(t, 1, rejected)

	// The next fetch re-offers the message with the attempt recorded.
	batch, err = repos.Queue.FetchBatch(ctx, "sk-1", 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, 2, batch[0].DeliveryCount)
}

func TestQueueRepository_SweepTimedOut(t *testing.T) {
	repos := newTestStore(t)
	ctx := context.Background()

	topic := seedTopic(t, repos, "orders.created")
	ep := seedEndpoint(t, repos, "billing", model.EndpointRoleSubscriber)
	sub := seedSubscription(t, repos, "sk-1", topic.ID, ep.ID)
	subs := []model.Subscription{sub}

	fresh := publishMessage(t, repos, topic.ID, 5, time.Now().UTC(), subs)
	stale := publishMessage(t, repos, topic.ID, 5, time.Now().UTC().Add(time.Millisecond), subs)
	_ = fresh

	// Claim both, then age the stale one past the timeout with extra attempts.
	fetchTime := time.Now().UTC().Add(-2 * time.Minute)
	batch, err := repos.Queue.FetchBatch(ctx, "sk-1", 10, fetchTime)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	// Exhaust the stale message's attempts.
	for i := 0; i < 4; i++ {
		_, err = repos.Queue.Reject(ctx, "sk-1", []string{stale.PubMsgID})
		require.NoError(t, err)
		batch, err = repos.Queue.FetchBatch(ctx, "sk-1", 1, fetchTime)
		require.NoError(t, err)
		require.Len(t, batch, 1)
		require.Equal(t, stale.PubMsgID, batch[0].PubMsgID)
	}

	result, err := repos.Queue.SweepTimedOut(ctx, time.Minute, 5, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeadLettered, "five failed attempts dead-letter the message")
	assert.Equal(t, 1, result.Reverted, "the other in-flight row goes back to pending")

	// The reverted message is fetchable again; the dead-lettered one is not.
	batch, err = repos.Queue.FetchBatch(ctx, "sk-1", 10, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.NotEqual(t, stale.PubMsgID, batch[0].PubMsgID)
}

func TestQueueRepository_MarkToDeleteBySubKeyAndCleanupDeletes(t *testing.T) {
	repos := newTestStore(t)
	ctx := context.Background()

	topic := seedTopic(t, repos, "orders.created")
	ep := seedEndpoint(t, repos, "billing", model.EndpointRoleSubscriber)
	sub := seedSubscription(t, repos, "sk-1", topic.ID, ep.ID)

	msg := publishMessage(t, repos, topic.ID, 5, time.Now().UTC(), []model.Subscription{sub})

	marked, err := repos.Queue.MarkToDeleteBySubKey(ctx, "sk-1")
	require.NoError(t, err)
	assert.Equal(t, 1, marked)

	depth, err := repos.Queue.Depth(ctx, "sk-1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	deleted, err := repos.Queue.DeleteMarkedToDelete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	// With no queue rows left, the fanned-out message is unreferenced.
	removed, err := repos.Message.DeleteUnreferenced(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repos.Message.GetByPubMsgID(ctx, msg.PubMsgID)
	assert.True(t, gdpubsub.IsNotFound(err))
}

func TestMessageRepository_DeleteWithoutSubscribers(t *testing.T) {
	repos := newTestStore(t)
	ctx := context.Background()

	orphanTopic := seedTopic(t, repos, "orphan")
	liveTopic := seedTopic(t, repos, "live")
	ep := seedEndpoint(t, repos, "billing", model.EndpointRoleSubscriber)
	sub := seedSubscription(t, repos, "sk-1", liveTopic.ID, ep.ID)

	orphanMsg := publishMessage(t, repos, orphanTopic.ID, 5, time.Now().UTC(), nil)
	liveMsg := publishMessage(t, repos, liveTopic.ID, 5, time.Now().UTC(), []model.Subscription{sub})

	deleted, err := repos.Message.DeleteWithoutSubscribers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = repos.Message.GetByPubMsgID(ctx, orphanMsg.PubMsgID)
	assert.True(t, gdpubsub.IsNotFound(err))

	_, err = repos.Message.GetByPubMsgID(ctx, liveMsg.PubMsgID)
	assert.NoError(t, err)
}

func TestMessageRepository_DeleteOlderThanIsTopicScoped(t *testing.T) {
	repos := newTestStore(t)
	ctx := context.Background()

	topicA := seedTopic(t, repos, "a")
	topicB := seedTopic(t, repos, "b")

	old := time.Now().UTC().Add(-48 * time.Hour)
	oldA := publishMessage(t, repos, topicA.ID, 5, old, nil)
	oldB := publishMessage(t, repos, topicB.ID, 5, old, nil)
	freshA := publishMessage(t, repos, topicA.ID, 5, time.Now().UTC(), nil)

	deleted, err := repos.Message.DeleteOlderThan(ctx, topicA.ID, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = repos.Message.GetByPubMsgID(ctx, oldA.PubMsgID)
	assert.True(t, gdpubsub.IsNotFound(err))
	_, err = repos.Message.GetByPubMsgID(ctx, oldB.PubMsgID)
	assert.NoError(t, err)
	_, err = repos.Message.GetByPubMsgID(ctx, freshA.PubMsgID)
	assert.NoError(t, err)
}

func TestSubscriptionRepository_DeleteIdle(t *testing.T) {
	repos := newTestStore(t)
	ctx := context.Background()

	topic := seedTopic(t, repos, "orders.created")
	ep := seedEndpoint(t, repos, "billing", model.EndpointRoleSubscriber)

	seedSubscription(t, repos, "sk-never-used", topic.ID, ep.ID)
	seedSubscription(t, repos, "sk-active", topic.ID, ep.ID)
	require.NoError(t, repos.Subscription.UpdateLastInteraction(ctx, "sk-active", time.Now().UTC()))

	deleted, err := repos.Subscription.DeleteIdle(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, deleted, "a never-used subscription counts as idle")

	_, err = repos.Subscription.GetBySubKey(ctx, "sk-never-used")
	assert.True(t, gdpubsub.IsNotFound(err))
	_, err = repos.Subscription.GetBySubKey(ctx, "sk-active")
	assert.NoError(t, err)
}

func TestQueueRepository_DeleteExpired(t *testing.T) {
	repos := newTestStore(t)
	ctx := context.Background()

	topic := seedTopic(t, repos, "orders.created")
	ep := seedEndpoint(t, repos, "billing", model.EndpointRoleSubscriber)
	sub := seedSubscription(t, repos, "sk-1", topic.ID, ep.ID)

	expired := model.NewMessage("msg-old", topic.ID, 1, "payload", 5, 1, time.Now().UTC().Add(-time.Hour))
	_, err := repos.Backend.Publish(ctx, expired, []model.Subscription{sub})
	require.NoError(t, err)

	publishMessage(t, repos, topic.ID, 5, time.Now().UTC(), []model.Subscription{sub})

	rows, err := repos.Queue.DeleteExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, rows)

	msgs, err := repos.Message.DeleteExpired(ctx, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, msgs)

	depth, err := repos.Queue.Depth(ctx, "sk-1", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, depth)
}
