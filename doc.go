// Package gdpubsub provides a guaranteed-delivery publish/subscribe engine for Go
// with fan-out to durable per-subscriber queues, at-least-once delivery, and
// automatic recovery of stuck messages.
//
// Works with a relational database (MySQL, PostgreSQL, SQLite) or an embedded
// BadgerDB key-value store as the queue backend.
//
// # Features
//
//   - Guaranteed Delivery: every message is persisted before the publish call returns
//   - Fan-out on publish: one queue entry per matching subscription, atomically
//   - Priority Ordering: messages deliver by priority (9 highest), then publication time
//   - At-Least-Once semantics with explicit acknowledgement and rejection
//   - Delivery Timeout Sweeper reverts unacknowledged messages and dead-letters
//     those that exhausted their delivery attempts
//   - Server Ownership: each subscription queue is read by exactly one server;
//     stale readers are fenced out
//   - Repository Pattern for clean data access abstraction
//   - Options Pattern for service configuration
//   - Pluggable architecture: bring your own Logger, Notification system
//   - Multi-Database Support: MySQL, PostgreSQL, SQLite via Relica
//   - Embedded Migrations for easy database setup
//   - Alternative embedded backend on BadgerDB, no database server required
//
// # Quick Start
//
// First, apply the database migrations:
//
//	import (
//	    "database/sql"
//	    "github.com/coregx/gdpubsub"
//	    "github.com/coregx/gdpubsub/adapters/sqlstore"
//	    _ "github.com/go-sql-driver/mysql"
//	)
//
//	// Connect to database
//	db, _ := sql.Open("mysql", "user:pass@tcp(localhost:3306)/pubsub?parseTime=true")
//
//	// Apply embedded migrations
//	if err := gdpubsub.ApplyMigrations(ctx, db, "mysql"); err != nil {
//	    log.Fatal(err)
//	}
//
// Create the repositories and services:
//
//	repos := sqlstore.NewRepositories(db, "mysql", logger, retry.DefaultConfig())
//	backend := sqlstore.NewBackend(db, "mysql", logger, retry.DefaultConfig())
//
//	registry, _ := gdpubsub.NewRegistry(
//	    gdpubsub.WithRegistrySubscriptions(repos.Subscription),
//	    gdpubsub.WithRegistryLogger(logger),
//	)
//
//	publisher, _ := gdpubsub.NewPublisher(
//	    gdpubsub.WithPublisherTopics(repos.Topic),
//	    gdpubsub.WithPublisherRegistry(registry),
//	    gdpubsub.WithPublisherBackend(backend),
//	    gdpubsub.WithPublisherLogger(logger),
//	)
//
// Publish a message:
//
//	result, err := publisher.Publish(ctx, gdpubsub.PublishRequest{
//	    TopicName: "orders.created",
//	    Data:      `{"orderId": 123}`,
//	    Priority:  5,
//	})
//
// Read and acknowledge on the owning server:
//
//	reader, _ := gdpubsub.NewQueueReader(
//	    gdpubsub.WithReaderBackend(backend),
//	    gdpubsub.WithReaderRegistry(registry),
//	    gdpubsub.WithReaderServer(serverID),
//	)
//
//	batch, _ := reader.FetchBatch(ctx, subKey, 100, time.Now())
//	// ... deliver batch to the subscriber ...
//	ack, _ := gdpubsub.NewAcknowledger(
//	    gdpubsub.WithAckBackend(backend),
//	    gdpubsub.WithAckRegistry(registry),
//	)
//	ack.Ack(ctx, subKey, pubMsgIDs, time.Now())
//
// # Message Flow
//
//  1. PUBLISH
//     Publisher → Topic lookup → Create Message
//     → Resolve active subscriptions for the topic
//     → One queue entry per subscription, in a single transaction
//
//  2. DELIVER (per subscription, on the owning server)
//     QueueReader → claim a batch (status WAITING_FOR_CONFIRMATION)
//     → Transport delivers to the subscriber
//     → On Success: Acknowledger marks DELIVERED
//     → On Failure: Reject puts the batch back, queue position kept
//
//  3. SWEEP (background)
//     Messages stuck in WAITING_FOR_CONFIRMATION past the delivery timeout
//     → Reverted to the queue, or dead-lettered once the
//     delivery count reaches its maximum
//
//  4. CLEANUP (background or CLI)
//     Delivered and dead-lettered queue rows, unreferenced messages,
//     idle subscriptions and retention-expired messages are deleted in
//     independent categories.
//
// # Delivery States
//
// A queue entry moves through integer status codes:
//
//	INITIALIZED (2)              - waiting in the subscriber's queue
//	WAITING_FOR_CONFIRMATION (4) - claimed by a reader, delivery in progress
//	DELIVERED (1)                - acknowledged by the subscriber
//	TO_DELETE (3)                - dead-lettered or purged, awaiting cleanup
//
// # Database Schema
//
// The SQL backend requires 5 tables (created via embedded migrations):
//
//	pubsub_topic         - Topics with defaults for priority, expiration, retention
//	pubsub_endpoint      - Publishing and subscribing parties
//	pubsub_subscription  - Subscriptions keyed by sub_key, owned by a server
//	pubsub_message       - Published messages, shared across subscribers
//	pubsub_enq_msg       - Per-subscription delivery queue with status and counts
//
// The BadgerDB backend needs no schema; see adapters/kvstore for its key layout.
//
// For detailed documentation, see README.md and pkg.go.dev.
package gdpubsub
