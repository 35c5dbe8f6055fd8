package model

import (
	"database/sql"
	"time"
)

// Message represents a published unit of data. Messages are immutable once
// created; only the is_in_sub_queue flag changes, and only during fan-out.
//
// Once IsInSubQueue is true and no EnqueuedMessage rows reference the
// message any more, every subscriber has either received its copy or will
// never receive it, and the message is safe to delete.
type Message struct {
	ID             int64        `json:"id" db:"id"`
	PubMsgID       string       `json:"pubMsgID" db:"pub_msg_id"` // Unique publication id
	TopicID        int64        `json:"topicID" db:"topic_id"`
	ClusterID      int64        `json:"clusterID" db:"cluster_id"`
	PubCorrelID    string       `json:"pubCorrelID" db:"pub_correl_id"` // Publisher-supplied correlation id
	Data           string       `json:"data" db:"data"`
	Priority       int          `json:"priority" db:"priority"` // 1..9, higher delivers first
	PubTime        time.Time    `json:"pubTime" db:"pub_time"`
	ExtPubTime     sql.NullTime `json:"extPubTime" db:"ext_pub_time"` // Publisher's own authoritative timestamp
	Expiration     int64        `json:"expiration" db:"expiration"`   // Seconds
	ExpirationTime time.Time    `json:"expirationTime" db:"expiration_time"`
	IsInSubQueue   bool         `json:"isInSubQueue" db:"is_in_sub_queue"` // True once fanned out to >= 1 subscriber
	HasGD          bool         `json:"hasGD" db:"has_gd"`
}

// Priority bounds for published messages.
const (
	PriorityMin     = 1
	PriorityMax     = 9
	PriorityDefault = 5
)

// TableName returns the database table name for Message.
func (m Message) TableName() string {
	return tablePrefix + "message"
}

// NewMessage creates a message published at the given time. The expiration
// time is derived from the publication time and the expiration seconds.
func NewMessage(pubMsgID string, topicID, clusterID int64, data string, priority int, expiration int64, now time.Time) Message {
	if priority < PriorityMin || priority > PriorityMax {
		priority = PriorityDefault
	}
	return Message{
		ID:             0,
		PubMsgID:       pubMsgID,
		TopicID:        topicID,
		ClusterID:      clusterID,
		Data:           data,
		Priority:       priority,
		PubTime:        now,
		Expiration:     expiration,
		ExpirationTime: now.Add(time.Duration(expiration) * time.Second),
		HasGD:          true,
	}
}

// IsExpired reports whether the message's expiration time has passed.
func (m Message) IsExpired(now time.Time) bool {
	return m.ExpirationTime.Before(now)
}

// DeliveryMessage is the joined Message/EnqueuedMessage view handed to a
// delivery task by the queue reader. It carries everything a subscriber-facing
// transport needs plus the ordering keys, so redelivered messages keep their
// original position in the sort order.
type DeliveryMessage struct {
	PubMsgID      string       `json:"pubMsgID" db:"pub_msg_id"`
	PubCorrelID   string       `json:"pubCorrelID" db:"pub_correl_id"`
	SubKey        string       `json:"subKey" db:"sub_key"`
	Data          string       `json:"data" db:"data"`
	Priority      int          `json:"priority" db:"priority"`
	PubTime       time.Time    `json:"pubTime" db:"pub_time"`
	ExtPubTime    sql.NullTime `json:"extPubTime" db:"ext_pub_time"`
	DeliveryCount int          `json:"deliveryCount" db:"delivery_count"`
}
