package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewSubscription(t *testing.T) {
	s := NewSubscription("sk-1", 20, 30, 1, 2)

	assert.Equal(t, "sk-1", s.SubKey)
	assert.Equal(t, int64(20), s.TopicID)
	assert.Equal(t, int64(30), s.EndpointID)
	assert.Equal(t, int64(1), s.ClusterID)
	assert.Equal(t, int64(2), s.ServerID)
	assert.True(t, s.IsDurable)
	assert.True(t, s.HasGD)
	assert.True(t, s.IsActive())
	assert.False(t, s.LastInteractionTime.Valid)
}

func TestSubscription_Stop(t *testing.T) {
	s := NewSubscription("sk-1", 20, 30, 1, 2)
	s.Stop()

	assert.False(t, s.IsActive())
	assert.Equal(t, SubscriptionStopped, s.ActiveStatus)
}

func TestSubscription_Touch(t *testing.T) {
	s := NewSubscription("sk-1", 20, 30, 1, 2)
	now := time.Now()

	s.Touch(now)

	assert.True(t, s.LastInteractionTime.Valid)
	assert.Equal(t, now, s.LastInteractionTime.Time)
}

func TestSubscription_IsIdleSince(t *testing.T) {
	now := time.Now()
	horizon := now.Add(-time.Hour)

	s := NewSubscription("sk-1", 20, 30, 1, 2)
	assert.True(t, s.IsIdleSince(horizon), "never-used subscriptions count as idle")

	s.Touch(now.Add(-2 * time.Hour))
	assert.True(t, s.IsIdleSince(horizon))

	s.Touch(now.Add(-time.Minute))
	assert.False(t, s.IsIdleSince(horizon))
}
