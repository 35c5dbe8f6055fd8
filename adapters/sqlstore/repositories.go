// Package sqlstore implements the engine's repositories and queue backend on
// a relational store. Plain CRUD access goes through Relica; the locking
// paths (batch claim, acknowledgement, sweep, fan-out, cleanup deletes) use
// database/sql transactions directly because they need row locks and
// multi-statement atomicity, and every one of them runs under the
// deadlock-retry policy.
//
// Supports MySQL, PostgreSQL and SQLite through the standard drivers.
package sqlstore

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/coregx/gdpubsub"
	"github.com/coregx/gdpubsub/retry"
)

// tablePrefix is prepended to every table name.
const tablePrefix = "pubsub_"

// Repositories holds all repository implementations plus the queue backend.
type Repositories struct {
	Topic        gdpubsub.TopicRepository
	Endpoint     gdpubsub.EndpointRepository
	Subscription gdpubsub.SubscriptionRepository
	Message      gdpubsub.MessageRepository
	Queue        gdpubsub.QueueRepository
	Backend      gdpubsub.QueueBackend
}

// NewRepositories creates all repository implementations.
//
// The db parameter should be an *sql.DB connected to MySQL, PostgreSQL or
// SQLite; driverName should be "mysql", "postgres" or "sqlite3". The retry
// configuration governs how mutating transactions respond to deadlocks.
func NewRepositories(db *sql.DB, driverName string, logger gdpubsub.Logger, retryCfg retry.Config) *Repositories {
	queue := NewQueueRepository(db, driverName, logger, retryCfg)
	message := NewMessageRepository(db, driverName, logger, retryCfg)

	return &Repositories{
		Topic:        NewTopicRepository(db, driverName),
		Endpoint:     NewEndpointRepository(db, driverName),
		Subscription: NewSubscriptionRepository(db, driverName, logger, retryCfg),
		Message:      message,
		Queue:        queue,
		Backend:      NewBackend(db, driverName, logger, retryCfg),
	}
}

// dialect carries the driver-specific pieces of the raw SQL paths.
type dialect struct {
	driverName string
}

// rebind converts ?-style placeholders to the driver's notation.
func (d dialect) rebind(query string) string {
	if d.driverName != "postgres" {
		return query
	}

	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

// lockClause returns the row-locking suffix for claim queries. SQLite locks
// the whole database on write, so the explicit clause is omitted there.
func (d dialect) lockClause() string {
	if d.driverName == "sqlite3" {
		return ""
	}
	return " FOR UPDATE"
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// toAnySlice widens a string slice for query arguments.
func toAnySlice(ids []string) []interface{} {
	out := make([]interface{}, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
