package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zombor/finance-bot/internal/ledger"
)

// ErrNoAmount means the service read the photo but found nothing to record
var ErrNoAmount = errors.New("no amount found on receipt")

// ItemData is one line of a receipt as the AI service returns it
type ItemData struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	Amount      amount  `json:"amount"`
	Category    string  `json:"category"`
}

// ReceiptData contains extracted information from a receipt
type ReceiptData struct {
	StoreName string     `json:"store_name"`
	Date      time.Time  `json:"-"`
	RawDate   string     `json:"receipt_date"`
	Total     amount     `json:"total_amount"`
	Tax       amount     `json:"tax"`
	Discount  amount     `json:"discount"`
	Items     []ItemData `json:"items"`
}

// Receipt converts the service response into the ledger's receipt shape
func (d ReceiptData) Receipt() ledger.Receipt {
	r := ledger.Receipt{
		Store:    d.StoreName,
		Date:     d.Date,
		Tax:      int64(d.Tax),
		Discount: int64(d.Discount),
		Total:    int64(d.Total),
	}
	for _, item := range d.Items {
		if item.Amount <= 0 {
			continue
		}
		label := strings.TrimSpace(item.Description)
		if label == "" {
			label = "Item"
		}
		if item.Quantity > 1 {
			label = fmt.Sprintf("%s x%g", label, item.Quantity)
		}
		r.Items = append(r.Items, ledger.LineItem{
			Label:    label,
			Amount:   int64(item.Amount),
			Category: ledger.NormalizeCategory(item.Category),
		})
	}
	r.Total = r.GrandTotal()
	return r
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts line items
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error)
	// Close closes the scanner and releases resources
	Close() error
}

// receiptPrompt is the shared prompt used by all LLM providers for scanning receipts
func receiptPrompt(now time.Time) string {
	return fmt.Sprintf(`You are analyzing an Indonesian receipt or invoice. Today's date is %s.
Carefully read all text in the image and extract every purchased item.

Return ONLY valid JSON in this exact format:
{
  "store_name": "Indomaret",
  "receipt_date": "YYYY-MM-DD",
  "total_amount": 0,
  "tax": 0,
  "discount": 0,
  "items": [
    {"description": "item name", "quantity": 1, "amount": 0, "category": "makanan"}
  ]
}

Important:
- Extract ALL items listed on the receipt, not just the total
- "amount" is the line total for the item in rupiah, a number without "Rp" or separators
- "total_amount" is the grand total printed on the receipt
- Suggest one category per item from: makanan, transportasi, belanja, tagihan, kesehatan, hiburan, pendidikan, lainnya
- Use today's date when the receipt date is not readable
- If you cannot find a field, use null for that field
- Do not include any text before or after the JSON
- Do not use markdown code blocks`, now.Format("2006-01-02"))
}
