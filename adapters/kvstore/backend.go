// Package kvstore implements the queue backend on an embedded BadgerDB
// key-value store. It is the successor of the atomic-script engine: every
// operation runs inside a single store transaction, so a publish fans out
// all-or-nothing and a claimed message is visible to exactly one reader.
//
// Key layout:
//
//	m:{pubMsgID}          message payload
//	r:{pubMsgID}          outstanding queue-copy count
//	p:{subKey}:{sortKey}  pending entry, ordered by priority and time
//	f:{subKey}:{pubMsgID} in-flight entry awaiting acknowledgement
//
// The sort key inverts the priority digit so that lexical iteration yields
// priority-descending, time-ascending order. A rejected or timed-out message
// is reinserted under its original sort key and so keeps its queue position.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/coregx/gdpubsub"
	"github.com/coregx/gdpubsub/model"
)

// Key prefixes.
const (
	messagePrefix  = "m:"
	refCountPrefix = "r:"
	pendingPrefix  = "p:"
	inflightPrefix = "f:"
)

// pendingEntry is the value stored under a pending key.
type pendingEntry struct {
	PubMsgID      string `json:"pubMsgID"`
	DeliveryCount int    `json:"deliveryCount"`
}

// inflightEntry is the value stored under an in-flight key. SortKey is kept
// so the entry can go back to its original pending position.
type inflightEntry struct {
	PubMsgID      string    `json:"pubMsgID"`
	SortKey       string    `json:"sortKey"`
	DeliveryCount int       `json:"deliveryCount"`
	DeliveryTime  time.Time `json:"deliveryTime"`
}

// Backend implements gdpubsub.QueueBackend using BadgerDB.
type Backend struct {
	db     *badger.DB
	logger gdpubsub.Logger
}

// NewBackend creates a new key-value queue backend on an open BadgerDB.
func NewBackend(db *badger.DB, logger gdpubsub.Logger) *Backend {
	if logger == nil {
		logger = &gdpubsub.NoopLogger{}
	}
	return &Backend{db: db, logger: logger}
}

// sortKey orders a subscriber's pending queue. The priority digit is
// inverted so higher priorities iterate first; ties break on the effective
// publication time, then the message id.
func sortKey(msg model.Message) string {
	effective := msg.PubTime
	if msg.ExtPubTime.Valid {
		effective = msg.ExtPubTime.Time
	}
	return fmt.Sprintf("%d:%020d:%s", model.PriorityMax-msg.Priority, effective.UnixNano(), msg.PubMsgID)
}

func pendingKey(subKey, sort string) []byte {
	return []byte(pendingPrefix + subKey + ":" + sort)
}

func inflightKey(subKey, pubMsgID string) []byte {
	return []byte(inflightPrefix + subKey + ":" + pubMsgID)
}

// Publish persists the message and creates one pending entry per
// subscription in a single transaction.
func (b *Backend) Publish(ctx context.Context, msg model.Message, subs []model.Subscription) (int, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to encode message", err)
	}

	entry, err := json.Marshal(pendingEntry{PubMsgID: msg.PubMsgID})
	if err != nil {
		return 0, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to encode queue entry", err)
	}

	sort := sortKey(msg)
	err = b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(messagePrefix+msg.PubMsgID), payload); err != nil {
			return err
		}
		if err := txn.Set([]byte(refCountPrefix+msg.PubMsgID), []byte(strconv.Itoa(len(subs)))); err != nil {
			return err
		}
		for _, sub := range subs {
			if err := txn.Set(pendingKey(sub.SubKey, sort), entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to publish message", err)
	}

	return len(subs), nil
}

// Fetch claims up to batchSize pending, non-expired messages for the sub_key
// and moves them to the in-flight set. Expired entries found on the way are
// discarded and their reference counts released.
func (b *Backend) Fetch(ctx context.Context, subKey string, batchSize int, now time.Time) ([]model.DeliveryMessage, error) {
	var batch []model.DeliveryMessage

	err := b.db.Update(func(txn *badger.Txn) error {
		batch = nil

		type candidate struct {
			key     []byte
			sortKey string
			entry   pendingEntry
			msg     model.Message
			expired bool
			missing bool
		}

		prefix := pendingPrefix + subKey + ":"
		var candidates []candidate

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)

		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid() && len(candidates) < batchSize; it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)

			var entry pendingEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				it.Close()
				return err
			}

			c := candidate{key: key, sortKey: string(key[len(prefix):]), entry: entry}

			msgItem, err := txn.Get([]byte(messagePrefix + entry.PubMsgID))
			if errors.Is(err, badger.ErrKeyNotFound) {
				c.missing = true
			} else if err != nil {
				it.Close()
				return err
			} else {
				if err := msgItem.Value(func(val []byte) error {
					return json.Unmarshal(val, &c.msg)
				}); err != nil {
					it.Close()
					return err
				}
				c.expired = c.msg.IsExpired(now)
			}

			candidates = append(candidates, c)
		}
		it.Close()

		for _, c := range candidates {
			if err := txn.Delete(c.key); err != nil {
				return err
			}
			if c.missing {
				continue
			}
			if c.expired {
				if err := b.releaseRef(txn, c.entry.PubMsgID); err != nil {
					return err
				}
				continue
			}

			count := c.entry.DeliveryCount + 1
			rec, err := json.Marshal(inflightEntry{
				PubMsgID:      c.entry.PubMsgID,
				SortKey:       c.sortKey,
				DeliveryCount: count,
				DeliveryTime:  now,
			})
			if err != nil {
				return err
			}
			if err := txn.Set(inflightKey(subKey, c.entry.PubMsgID), rec); err != nil {
				return err
			}

			batch = append(batch, model.DeliveryMessage{
				PubMsgID:      c.msg.PubMsgID,
				PubCorrelID:   c.msg.PubCorrelID,
				SubKey:        subKey,
				Data:          c.msg.Data,
				Priority:      c.msg.Priority,
				PubTime:       c.msg.PubTime,
				ExtPubTime:    c.msg.ExtPubTime,
				DeliveryCount: count,
			})
		}

		return nil
	})
	if err != nil {
		return nil, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to fetch message batch", err)
	}

	return batch, nil
}

// Ack confirms delivery: the in-flight entry is removed and the message's
// reference count released. Acking a message that is not in flight is a
// no-op, which makes repeated acks harmless.
func (b *Backend) Ack(ctx context.Context, subKey string, pubMsgIDs []string, now time.Time) (int, error) {
	confirmed := 0
	err := b.db.Update(func(txn *badger.Txn) error {
		confirmed = 0
		for _, id := range pubMsgIDs {
			key := inflightKey(subKey, id)
			_, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
			if err := b.releaseRef(txn, id); err != nil {
				return err
			}
			confirmed++
		}
		return nil
	})
	if err != nil {
		return 0, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to acknowledge messages", err)
	}

	return confirmed, nil
}

// Reject puts in-flight messages back in the pending queue under their
// original sort keys. The delivery count is kept.
func (b *Backend) Reject(ctx context.Context, subKey string, pubMsgIDs []string, _ time.Time) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		for _, id := range pubMsgIDs {
			key := inflightKey(subKey, id)
			item, err := txn.Get(key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			var rec inflightEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}

			if err := b.requeue(txn, subKey, rec); err != nil {
				return err
			}
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to reject messages", err)
	}

	return nil
}

// ExpireSweep walks the whole in-flight set. Entries past the delivery
// timeout either go back to pending or, once the delivery count is
// exhausted, are dropped and their reference counts released.
func (b *Backend) ExpireSweep(ctx context.Context, timeout time.Duration, maxDeliveryCount int, now time.Time) (gdpubsub.SweepResult, error) {
	cutoff := now.Add(-timeout)

	var result gdpubsub.SweepResult
	err := b.db.Update(func(txn *badger.Txn) error {
		result = gdpubsub.SweepResult{}

		type timedOut struct {
			key    []byte
			subKey string
			rec    inflightEntry
		}
		var expired []timedOut

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(inflightPrefix)

		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)

			parts := strings.SplitN(string(key[len(inflightPrefix):]), ":", 2)
			if len(parts) != 2 {
				continue
			}

			var rec inflightEntry
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				it.Close()
				return err
			}

			if rec.DeliveryTime.Before(cutoff) {
				expired = append(expired, timedOut{key: key, subKey: parts[0], rec: rec})
			}
		}
		it.Close()

		for _, e := range expired {
			if err := txn.Delete(e.key); err != nil {
				return err
			}
			if e.rec.DeliveryCount >= maxDeliveryCount {
				if err := b.releaseRef(txn, e.rec.PubMsgID); err != nil {
					return err
				}
				result.DeadLettered++
				continue
			}
			if err := b.requeue(txn, e.subKey, e.rec); err != nil {
				return err
			}
			result.Reverted++
		}

		return nil
	})
	if err != nil {
		return gdpubsub.SweepResult{}, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to sweep timed-out messages", err)
	}

	return result, nil
}

// Depth returns the live backlog for a sub_key: non-expired pending entries
// plus everything currently in flight.
func (b *Backend) Depth(ctx context.Context, subKey string, now time.Time) (int, error) {
	depth := 0
	err := b.db.View(func(txn *badger.Txn) error {
		depth = 0

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pendingPrefix + subKey + ":")

		it := txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			var entry pendingEntry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				it.Close()
				return err
			}

			msgItem, err := txn.Get([]byte(messagePrefix + entry.PubMsgID))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				it.Close()
				return err
			}

			var msg model.Message
			if err := msgItem.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				it.Close()
				return err
			}
			if !msg.IsExpired(now) {
				depth++
			}
		}
		it.Close()

		opts = badger.DefaultIteratorOptions
		opts.Prefix = []byte(inflightPrefix + subKey + ":")
		opts.PrefetchValues = false

		it = txn.NewIterator(opts)
		for it.Rewind(); it.Valid(); it.Next() {
			depth++
		}
		it.Close()

		return nil
	})
	if err != nil {
		return 0, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to count queue depth", err)
	}

	return depth, nil
}

// Purge drops everything queued for a sub_key, pending and in-flight alike,
// releasing the reference count of every dropped copy.
func (b *Backend) Purge(ctx context.Context, subKey string) (int, error) {
	purged := 0
	err := b.db.Update(func(txn *badger.Txn) error {
		purged = 0

		type victim struct {
			key      []byte
			pubMsgID string
		}
		var victims []victim

		for _, prefix := range []string{pendingPrefix + subKey + ":", inflightPrefix + subKey + ":"} {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(prefix)

			it := txn.NewIterator(opts)
			for it.Rewind(); it.Valid(); it.Next() {
				item := it.Item()

				var entry pendingEntry
				if err := item.Value(func(val []byte) error {
					return json.Unmarshal(val, &entry)
				}); err != nil {
					it.Close()
					return err
				}
				victims = append(victims, victim{key: item.KeyCopy(nil), pubMsgID: entry.PubMsgID})
			}
			it.Close()
		}

		for _, v := range victims {
			if err := txn.Delete(v.key); err != nil {
				return err
			}
			if err := b.releaseRef(txn, v.pubMsgID); err != nil {
				return err
			}
			purged++
		}

		return nil
	})
	if err != nil {
		return 0, gdpubsub.NewErrorWithCause(gdpubsub.ErrCodeDatabase, "failed to purge queue", err)
	}

	return purged, nil
}

// requeue reinserts an in-flight entry into the pending queue under its
// original sort key.
func (b *Backend) requeue(txn *badger.Txn, subKey string, rec inflightEntry) error {
	entry, err := json.Marshal(pendingEntry{
		PubMsgID:      rec.PubMsgID,
		DeliveryCount: rec.DeliveryCount,
	})
	if err != nil {
		return err
	}
	return txn.Set(pendingKey(subKey, rec.SortKey), entry)
}

// releaseRef decrements a message's reference count, deleting the payload
// once the last queue copy is gone.
func (b *Backend) releaseRef(txn *badger.Txn, pubMsgID string) error {
	key := []byte(refCountPrefix + pubMsgID)

	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	count := 0
	if err := item.Value(func(val []byte) error {
		n, convErr := strconv.Atoi(string(val))
		if convErr != nil {
			return convErr
		}
		count = n
		return nil
	}); err != nil {
		return err
	}

	count--
	if count > 0 {
		return txn.Set(key, []byte(strconv.Itoa(count)))
	}

	if err := txn.Delete(key); err != nil {
		return err
	}
	return txn.Delete([]byte(messagePrefix + pubMsgID))
}
