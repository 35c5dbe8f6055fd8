package model

import "time"

// Topic represents a named publish destination.
//
// When a message is published to a topic, one delivery record is created for
// every active, non-internal subscription of that topic. A topic is never
// silently deleted while messages still reference it - cleanup removes the
// messages first.
//
// Topics can be hierarchical using dot notation (e.g., "orders.created").
type Topic struct {
	ID              int64     `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`                         // Unique topic name
	ClusterID       int64     `json:"clusterID" db:"cluster_id"`              // Owning cluster
	IsActive        bool      `json:"isActive" db:"is_active"`                // Only active topics accept new messages
	HasGD           bool      `json:"hasGD" db:"has_gd"`                      // Guaranteed delivery by default
	MaxDepthGD      int       `json:"maxDepthGD" db:"max_depth_gd"`           // Max backlog for GD subscribers
	MaxDepthNonGD   int       `json:"maxDepthNonGD" db:"max_depth_non_gd"`    // Max backlog for non-GD subscribers
	RetentionTime   int64     `json:"retentionTime" db:"retention_time"`      // Max seconds a message may be retained
	DefaultExpiry   int64     `json:"defaultExpiry" db:"default_expiry"`      // Expiration seconds used when the publisher gives none
	CreatedAt       time.Time `json:"createdAt" db:"created_at"`
}

// TableName returns the database table name for Topic.
func (t Topic) TableName() string {
	return tablePrefix + "topic"
}

// NewTopic creates a new active topic with guaranteed delivery enabled.
func NewTopic(name string, clusterID int64) Topic {
	return Topic{
		ID:            0,
		Name:          name,
		ClusterID:     clusterID,
		IsActive:      true,
		HasGD:         true,
		MaxDepthGD:    10000,
		MaxDepthNonGD: 1000,
		RetentionTime: 24 * 60 * 60,
		DefaultExpiry: 2 * 60 * 60,
		CreatedAt:     time.Now(),
	}
}

// RetentionHorizon returns the oldest publication time a message for this
// topic may carry before the retention cleanup removes it.
func (t Topic) RetentionHorizon(now time.Time) time.Time {
	return now.Add(-time.Duration(t.RetentionTime) * time.Second)
}
