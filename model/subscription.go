package model

import (
	"database/sql"
	"time"
)

// Subscription is the durable binding of one endpoint to one topic.
//
// Each subscription is identified by its sub_key - an opaque, globally unique
// value that stays stable no matter which server process currently runs the
// subscription's delivery task. The server_id column records that owner.
//
// A subscription with HasGD=false is volatile and not guaranteed to survive a
// process restart.
//
// Lifecycle: created on subscribe, last_interaction_time updated on every
// delivery-related access, removed by explicit unsubscribe or by cleanup once
// idle beyond a configurable horizon.
type Subscription struct {
	ID                  int64        `json:"id" db:"id"`
	SubKey              string       `json:"subKey" db:"sub_key"` // Opaque, unique, stable
	TopicID             int64        `json:"topicID" db:"topic_id"`
	EndpointID          int64        `json:"endpointID" db:"endpoint_id"`
	ClusterID           int64        `json:"clusterID" db:"cluster_id"`
	ServerID            int64        `json:"serverID" db:"server_id"` // Process owning the delivery task
	IsDurable           bool         `json:"isDurable" db:"is_durable"`
	HasGD               bool         `json:"hasGD" db:"has_gd"`
	IsInternal          bool         `json:"isInternal" db:"is_internal"`
	ActiveStatus        string       `json:"activeStatus" db:"active_status"`
	LastInteractionTime sql.NullTime `json:"lastInteractionTime" db:"last_interaction_time"`
	CreatedAt           time.Time    `json:"createdAt" db:"created_at"`
}

// Active status values for subscriptions.
const (
	SubscriptionActive  = "active"
	SubscriptionStopped = "stopped"
)

// TableName returns the database table name for Subscription.
func (s Subscription) TableName() string {
	return tablePrefix + "subscription"
}

// NewSubscription creates a new active, durable, guaranteed-delivery
// subscription owned by the given server.
func NewSubscription(subKey string, topicID, endpointID, clusterID, serverID int64) Subscription {
	return Subscription{
		ID:           0,
		SubKey:       subKey,
		TopicID:      topicID,
		EndpointID:   endpointID,
		ClusterID:    clusterID,
		ServerID:     serverID,
		IsDurable:    true,
		HasGD:        true,
		ActiveStatus: SubscriptionActive,
		CreatedAt:    time.Now(),
	}
}

// IsActive reports whether the subscription takes part in fan-out.
func (s Subscription) IsActive() bool {
	return s.ActiveStatus == SubscriptionActive
}

// Stop deactivates the subscription. Stopped subscriptions keep their queue
// rows until cleanup removes them.
func (s *Subscription) Stop() {
	s.ActiveStatus = SubscriptionStopped
}

// Touch records a delivery-related interaction at the given time.
func (s *Subscription) Touch(now time.Time) {
	s.LastInteractionTime = sql.NullTime{Time: now, Valid: true}
}

// IsIdleSince reports whether the subscription has not been interacted with
// since the given horizon. A subscription that was never interacted with at
// all counts as idle.
func (s Subscription) IsIdleSince(horizon time.Time) bool {
	if !s.LastInteractionTime.Valid {
		return true
	}
	return s.LastInteractionTime.Time.Before(horizon)
}
