package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	transactionsBucket = "transactions"
	outboxBucket       = "outbox"
)

// BoltDB stores transactions in a local BoltDB file. It serves both as a
// standalone Store and as the outbox for transactions the remote store
// could not accept yet.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{transactionsBucket, outboxBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// Append saves a transaction
func (b *BoltDB) Append(_ context.Context, t Transaction) error {
	return b.put(transactionsBucket, t)
}

// DeleteLast removes the newest transaction belonging to userID
func (b *BoltDB) DeleteLast(_ context.Context, userID int64) (*Transaction, error) {
	return b.deleteLast(transactionsBucket, userID)
}

// QueryRange returns the user's transactions dated within [from, to)
func (b *BoltDB) QueryRange(_ context.Context, userID int64, from, to time.Time) ([]Transaction, error) {
	all, err := b.list(transactionsBucket)
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(all))
	for _, t := range all {
		if t.UserID == userID && inRange(t.Date, from, to) {
			out = append(out, t)
		}
	}
	return out, nil
}

// Ping verifies the database is open and readable
func (b *BoltDB) Ping(_ context.Context) error {
	return b.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(transactionsBucket)) == nil {
			return fmt.Errorf("bucket %s missing", transactionsBucket)
		}
		return nil
	})
}

// Enqueue adds a transaction to the outbox
func (b *BoltDB) Enqueue(t Transaction) error {
	return b.put(outboxBucket, t)
}

// Pending returns the outbox in insertion order
func (b *BoltDB) Pending() ([]Transaction, error) {
	return b.list(outboxBucket)
}

// Dequeue removes a transaction from the outbox by ID
func (b *BoltDB) Dequeue(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(outboxBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var t Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("unmarshaling transaction: %w", err)
			}
			if t.ID == id {
				return c.Delete()
			}
		}
		return nil
	})
}

// DeleteLastPending removes the newest outbox entry belonging to userID
func (b *BoltDB) DeleteLastPending(userID int64) (*Transaction, error) {
	return b.deleteLast(outboxBucket, userID)
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

func (b *BoltDB) put(bucketName string, t Transaction) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		seq, err := bucket.NextSequence()
		if err != nil {
			return fmt.Errorf("allocating sequence: %w", err)
		}
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshaling transaction: %w", err)
		}
		return bucket.Put(sequenceKey(seq), data)
	})
}

func (b *BoltDB) list(bucketName string) ([]Transaction, error) {
	out := make([]Transaction, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).ForEach(func(k, v []byte) error {
			var t Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("unmarshaling transaction: %w", err)
			}
			out = append(out, t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (b *BoltDB) deleteLast(bucketName string, userID int64) (*Transaction, error) {
	var found *Transaction
	err := b.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var t Transaction
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("unmarshaling transaction: %w", err)
			}
			if t.UserID == userID {
				found = &t
				return c.Delete()
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

// sequenceKey encodes seq big-endian so cursor order matches insertion order
func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}
