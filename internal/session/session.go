// Package session holds the per-user receipt conversation: a photo is read,
// the user picks how to record it, then confirms or cancels.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/zombor/finance-bot/internal/ledger"
)

// State of a user's receipt session
type State int

const (
	NoSession State = iota
	AwaitingMode
	AwaitingConfirmation
)

func (s State) String() string {
	switch s {
	case NoSession:
		return "no session"
	case AwaitingMode:
		return "awaiting mode"
	case AwaitingConfirmation:
		return "awaiting confirmation"
	default:
		return "unknown"
	}
}

// Mode is how a receipt is turned into transactions
type Mode string

const (
	// ModeTotal records one transaction for the grand total
	ModeTotal Mode = "total"
	// ModeItems records one transaction per line item
	ModeItems Mode = "items"
	// ModeCategories records one transaction per suggested category
	ModeCategories Mode = "categories"
)

// ParseMode accepts the mode names and a few aliases users type
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "total":
		return ModeTotal, true
	case "items", "item", "per-item":
		return ModeItems, true
	case "categories", "category", "kategori", "per-category":
		return ModeCategories, true
	default:
		return "", false
	}
}

var (
	// ErrInvalidTransition means the event does not apply to the current state.
	// The session is left untouched.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrExpired means the session sat idle too long and was cancelled
	ErrExpired = fmt.Errorf("session expired: %w", ErrInvalidTransition)
)

// Session is one user's receipt in progress. Values returned by Machine are
// copies and safe to keep.
type Session struct {
	UserID     int64
	State      State
	Receipt    ledger.Receipt
	Photo      string // Archived photo key, if any
	Mode       Mode
	Candidates []ledger.Transaction
	StartedAt  time.Time
	UpdatedAt  time.Time
}

func (s *Session) clone() Session {
	c := *s
	c.Receipt.Items = append([]ledger.LineItem(nil), s.Receipt.Items...)
	c.Candidates = append([]ledger.Transaction(nil), s.Candidates...)
	return c
}

// Candidates builds the transactions a receipt turns into under mode. IDs and
// creation times are left for the caller to stamp at commit.
func Candidates(userID int64, r ledger.Receipt, mode Mode, photo string, now time.Time) ([]ledger.Transaction, error) {
	date := r.Date
	if date.IsZero() {
		date = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	}
	base := ledger.Transaction{
		UserID:    userID,
		Date:      date,
		Direction: ledger.Expense,
		Receipt:   photo,
	}

	switch mode {
	case ModeTotal:
		total := r.GrandTotal()
		if total <= 0 {
			return nil, errors.New("receipt has no total")
		}
		t := base
		t.Amount = total
		t.Category = totalCategory(r.Items)
		t.Note = atStore("Belanja", r.Store)
		t.Source = ledger.SourceReceiptTotal
		return []ledger.Transaction{t}, nil

	case ModeItems:
		out := make([]ledger.Transaction, 0, len(r.Items))
		for _, item := range r.Items {
			if item.Amount <= 0 {
				continue
			}
			t := base
			t.Amount = item.Amount
			t.Category = ledger.NormalizeCategory(item.Category)
			t.Note = atStore(item.Label, r.Store)
			t.Source = ledger.SourceReceiptItem
			out = append(out, t)
		}
		if len(out) == 0 {
			return nil, errors.New("receipt has no line items")
		}
		return out, nil

	case ModeCategories:
		var order []string
		sums := make(map[string]int64)
		for _, item := range r.Items {
			if item.Amount <= 0 {
				continue
			}
			c := ledger.NormalizeCategory(item.Category)
			if _, ok := sums[c]; !ok {
				order = append(order, c)
			}
			sums[c] += item.Amount
		}
		if len(order) == 0 {
			return nil, errors.New("receipt has no line items")
		}
		out := make([]ledger.Transaction, 0, len(order))
		for _, c := range order {
			t := base
			t.Amount = sums[c]
			t.Category = c
			t.Note = atStore("Belanja "+c, r.Store)
			t.Source = ledger.SourceReceiptCategory
			out = append(out, t)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}
}

// totalCategory is the items' shared category, or "belanja" for a mixed receipt
func totalCategory(items []ledger.LineItem) string {
	category := ""
	for _, item := range items {
		c := ledger.NormalizeCategory(item.Category)
		if category != "" && c != category {
			return "belanja"
		}
		category = c
	}
	if category == "" {
		return "belanja"
	}
	return category
}

func atStore(what, store string) string {
	if store == "" {
		return what
	}
	return what + " di " + store
}
