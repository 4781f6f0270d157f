package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zombor/finance-bot/internal/metrics"
)

// Outbox holds transactions that are confirmed but not yet in the remote store
type Outbox interface {
	Enqueue(t Transaction) error
	Pending() ([]Transaction, error)
	Dequeue(id string) error
	DeleteLastPending(userID int64) (*Transaction, error)
}

// SyncingStore writes through to a remote Store and never drops a confirmed
// transaction: when the remote write fails the transaction goes to the outbox
// and Append reports ErrSyncPending. Once a user has pending entries, their
// later appends queue behind them so the remote keeps per-user order.
type SyncingStore struct {
	remote Store
	outbox Outbox

	flushMu sync.Mutex
}

// NewSyncingStore creates a SyncingStore
func NewSyncingStore(remote Store, outbox Outbox) *SyncingStore {
	s := &SyncingStore{remote: remote, outbox: outbox}
	s.reportPending()
	return s
}

// Append stores the transaction remotely, or queues it in the outbox
func (s *SyncingStore) Append(ctx context.Context, t Transaction) error {
	pending, err := s.pendingFor(t.UserID)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return s.enqueue(t, nil)
	}

	if err := s.remote.Append(ctx, t); err != nil {
		slog.Warn("Remote append failed, queueing transaction", "id", t.ID, "user_id", t.UserID, "error", err)
		return s.enqueue(t, err)
	}
	return nil
}

func (s *SyncingStore) enqueue(t Transaction, cause error) error {
	if err := s.outbox.Enqueue(t); err != nil {
		if cause != nil {
			return fmt.Errorf("queueing transaction after remote failure (%v): %w", cause, err)
		}
		return fmt.Errorf("queueing transaction: %w", err)
	}
	s.reportPending()
	if cause != nil {
		return fmt.Errorf("%w: %v", ErrSyncPending, cause)
	}
	return ErrSyncPending
}

// DeleteLast removes the user's newest transaction. Queued entries are always
// newer than anything already synced, so they are removed first.
func (s *SyncingStore) DeleteLast(ctx context.Context, userID int64) (*Transaction, error) {
	pending, err := s.pendingFor(userID)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		t, err := s.outbox.DeleteLastPending(userID)
		s.reportPending()
		return t, err
	}
	return s.remote.DeleteLast(ctx, userID)
}

// QueryRange merges remote rows with the user's queued entries
func (s *SyncingStore) QueryRange(ctx context.Context, userID int64, from, to time.Time) ([]Transaction, error) {
	remote, err := s.remote.QueryRange(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	pending, err := s.pendingFor(userID)
	if err != nil {
		return nil, err
	}
	for _, t := range pending {
		if inRange(t.Date, from, to) {
			remote = append(remote, t)
		}
	}
	return remote, nil
}

// Ping checks the remote store
func (s *SyncingStore) Ping(ctx context.Context) error {
	return s.remote.Ping(ctx)
}

// PendingCount returns the number of queued transactions
func (s *SyncingStore) PendingCount() int {
	pending, err := s.outbox.Pending()
	if err != nil {
		return 0
	}
	return len(pending)
}

// Flush pushes queued transactions in order. When one of a user's rows fails,
// that user's later rows wait for the next flush so their order is kept;
// other users keep syncing. It returns how many were synced.
func (s *SyncingStore) Flush(ctx context.Context) (int, error) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	defer s.reportPending()

	pending, err := s.outbox.Pending()
	if err != nil {
		return 0, fmt.Errorf("reading outbox: %w", err)
	}

	synced := 0
	blocked := make(map[int64]bool)
	var errs []error
	for _, t := range pending {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if blocked[t.UserID] {
			continue
		}
		if err := s.remote.Append(ctx, t); err != nil {
			blocked[t.UserID] = true
			errs = append(errs, fmt.Errorf("syncing transaction %s: %w", t.ID, err))
			continue
		}
		if err := s.outbox.Dequeue(t.ID); err != nil {
			blocked[t.UserID] = true
			errs = append(errs, fmt.Errorf("dequeuing transaction %s: %w", t.ID, err))
			continue
		}
		synced++
	}
	return synced, errors.Join(errs...)
}

// Run flushes the outbox every interval until ctx is done
func (s *SyncingStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.PendingCount() == 0 {
				continue
			}
			synced, err := s.Flush(ctx)
			if err != nil {
				slog.Warn("Outbox sync incomplete", "synced", synced, "error", err)
				continue
			}
			slog.Info("Outbox synced", "synced", synced)
		}
	}
}

func (s *SyncingStore) pendingFor(userID int64) ([]Transaction, error) {
	all, err := s.outbox.Pending()
	if err != nil {
		return nil, fmt.Errorf("reading outbox: %w", err)
	}
	out := make([]Transaction, 0)
	for _, t := range all {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *SyncingStore) reportPending() {
	metrics.OutboxPending.Set(float64(s.PendingCount()))
}
