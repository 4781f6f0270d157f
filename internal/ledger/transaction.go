package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Direction tells whether a transaction adds to or takes from the balance
type Direction string

const (
	Income  Direction = "income"
	Expense Direction = "expense"
)

// Source records which conversation path produced a transaction
type Source string

const (
	SourceManual          Source = "manual"
	SourceReceiptTotal    Source = "receipt-total"
	SourceReceiptItem     Source = "receipt-item"
	SourceReceiptCategory Source = "receipt-category"
)

// DefaultCategory is used when no keyword matches
const DefaultCategory = "lainnya"

// Transaction is a committed financial record
type Transaction struct {
	ID        string    `json:"id"`
	UserID    int64     `json:"user_id"`
	Date      time.Time `json:"date"`
	Direction Direction `json:"direction"`
	Amount    int64     `json:"amount"` // Amount in rupiah
	Category  string    `json:"category"`
	Note      string    `json:"note"`
	Source    Source    `json:"source"`
	Receipt   string    `json:"receipt,omitempty"` // Archived photo, if any
	CreatedAt time.Time `json:"created_at"`
}

// LineItem is a single row read off a receipt
type LineItem struct {
	Label    string `json:"label"`
	Amount   int64  `json:"amount"`
	Category string `json:"category"`
}

// Receipt is what was read off a receipt photo, before the user decides how
// to record it
type Receipt struct {
	Store    string     `json:"store"`
	Date     time.Time  `json:"date"`
	Items    []LineItem `json:"items"`
	Tax      int64      `json:"tax"`
	Discount int64      `json:"discount"`
	Total    int64      `json:"total"`
}

// GrandTotal is the printed total, or the item sum adjusted for tax and
// discount when the total could not be read
func (r Receipt) GrandTotal() int64 {
	if r.Total > 0 {
		return r.Total
	}
	var sum int64
	for _, item := range r.Items {
		sum += item.Amount
	}
	return sum + r.Tax - r.Discount
}

// Signed returns the amount with expenses negative, the way the sheet stores it
func (t Transaction) Signed() int64 {
	if t.Direction == Income {
		return t.Amount
	}
	return -t.Amount
}

// Validate checks the invariants every stored transaction must hold
func (t Transaction) Validate() error {
	if t.Amount <= 0 {
		return fmt.Errorf("amount must be positive, got %d", t.Amount)
	}
	if t.Direction != Income && t.Direction != Expense {
		return fmt.Errorf("invalid direction %q", t.Direction)
	}
	if strings.TrimSpace(t.Category) == "" {
		return errors.New("category is required")
	}
	return nil
}

// NormalizeCategory lowercases a category and falls back to DefaultCategory
func NormalizeCategory(category string) string {
	c := strings.ToLower(strings.TrimSpace(category))
	if c == "" {
		return DefaultCategory
	}
	return c
}
