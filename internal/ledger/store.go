package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by DeleteLast when the user has no transactions
	ErrNotFound = errors.New("transaction not found")

	// ErrSyncPending means the transaction was kept locally and will be
	// pushed to the remote store later
	ErrSyncPending = errors.New("saved locally, sync pending")
)

// Store defines the persistence operations for committed transactions
type Store interface {
	// Append stores a transaction
	Append(ctx context.Context, tx Transaction) error

	// DeleteLast removes and returns the most recent transaction of a user
	DeleteLast(ctx context.Context, userID int64) (*Transaction, error)

	// QueryRange returns a user's transactions dated in [from, to)
	QueryRange(ctx context.Context, userID int64, from, to time.Time) ([]Transaction, error)

	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error
}

// inRange reports whether t falls in the half-open interval [from, to)
func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}
