package model

import (
	"database/sql"
	"time"
)

// DeliveryStatus is the per-subscriber delivery state machine.
//
// The status only advances forward, with one bounded exception: a row stuck
// in WAITING_FOR_CONFIRMATION past the delivery timeout reverts to
// INITIALIZED until the maximum delivery count is reached, at which point it
// moves to TO_DELETE instead. TO_DELETE is also reachable directly from any
// state through an explicit deletion request such as unsubscribe.
//
// The integer codes are part of the persisted schema and must not change.
type DeliveryStatus int

const (
	// StatusDelivered indicates the subscriber confirmed delivery.
	StatusDelivered DeliveryStatus = 1

	// StatusInitialized indicates the message awaits delivery.
	StatusInitialized DeliveryStatus = 2

	// StatusToDelete marks the row for removal by cleanup (dead-letter or
	// explicit deletion request).
	StatusToDelete DeliveryStatus = 3

	// StatusWaitingForConfirmation indicates the message was handed to a
	// delivery task and awaits acknowledgement.
	StatusWaitingForConfirmation DeliveryStatus = 4
)

// String returns the status name used in logs.
func (s DeliveryStatus) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusInitialized:
		return "initialized"
	case StatusToDelete:
		return "to-delete"
	case StatusWaitingForConfirmation:
		return "waiting-for-confirmation"
	default:
		return "unknown"
	}
}

// EnqueuedMessage pairs one Message with one Subscription - it is the
// per-subscriber delivery record created during fan-out.
//
// Rows are mutated only by the queue reader and the acknowledger under the
// sub_key's logical ownership, and deleted only by cleanup.
type EnqueuedMessage struct {
	ID             int64          `json:"id" db:"id"`
	PubMsgID       string         `json:"pubMsgID" db:"pub_msg_id"`
	SubscriptionID int64          `json:"subscriptionID" db:"subscription_id"`
	ClusterID      int64          `json:"clusterID" db:"cluster_id"`
	TopicID        int64          `json:"topicID" db:"topic_id"`
	DeliveryStatus DeliveryStatus `json:"deliveryStatus" db:"delivery_status"`
	DeliveryTime   sql.NullTime   `json:"deliveryTime" db:"delivery_time"`
	DeliveryCount  int            `json:"deliveryCount" db:"delivery_count"`
	IsInStaging    bool           `json:"isInStaging" db:"is_in_staging"`
	CreationTime   time.Time      `json:"creationTime" db:"creation_time"`
}

// TableName returns the database table name for EnqueuedMessage.
func (m EnqueuedMessage) TableName() string {
	return tablePrefix + "enq_msg"
}

// NewEnqueuedMessage creates the fan-out record for one subscription.
func NewEnqueuedMessage(pubMsgID string, subscriptionID, topicID, clusterID int64, now time.Time) EnqueuedMessage {
	return EnqueuedMessage{
		ID:             0,
		PubMsgID:       pubMsgID,
		SubscriptionID: subscriptionID,
		ClusterID:      clusterID,
		TopicID:        topicID,
		DeliveryStatus: StatusInitialized,
		CreationTime:   now,
	}
}

// MarkInFlight hands the row to a delivery task: status moves to
// WAITING_FOR_CONFIRMATION and the delivery count grows by one.
func (m *EnqueuedMessage) MarkInFlight(now time.Time) {
	m.DeliveryStatus = StatusWaitingForConfirmation
	m.DeliveryTime = sql.NullTime{Time: now, Valid: true}
	m.DeliveryCount++
}

// MarkDelivered records a confirmed delivery. It is a no-op unless the row
// is currently waiting for confirmation, which is what makes ack idempotent.
func (m *EnqueuedMessage) MarkDelivered(now time.Time) bool {
	if m.DeliveryStatus != StatusWaitingForConfirmation {
		return false
	}
	m.DeliveryStatus = StatusDelivered
	m.DeliveryTime = sql.NullTime{Time: now, Valid: true}
	return true
}

// MarkToDelete moves the row to the terminal TO_DELETE status.
func (m *EnqueuedMessage) MarkToDelete() {
	m.DeliveryStatus = StatusToDelete
}

// RevertToInitialized puts a timed-out in-flight row back in the pending
// state. The delivery count is kept - it feeds the exhaustion check.
func (m *EnqueuedMessage) RevertToInitialized() bool {
	if m.DeliveryStatus != StatusWaitingForConfirmation {
		return false
	}
	m.DeliveryStatus = StatusInitialized
	return true
}

// HasExhausted reports whether the row has used up its delivery attempts.
func (m EnqueuedMessage) HasExhausted(maxDeliveryCount int) bool {
	return m.DeliveryCount >= maxDeliveryCount
}

// IsTimedOut reports whether an in-flight row has waited for confirmation
// longer than the delivery timeout.
func (m EnqueuedMessage) IsTimedOut(timeout time.Duration, now time.Time) bool {
	if m.DeliveryStatus != StatusWaitingForConfirmation || !m.DeliveryTime.Valid {
		return false
	}
	return now.Sub(m.DeliveryTime.Time) > timeout
}
