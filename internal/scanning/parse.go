package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/finance-bot/internal/parsing"
)

// amount accepts rupiah as a JSON number, a string like "Rp 35.000", or null
type amount int64

var maxAmount = decimal.NewFromInt(math.MaxInt64)

func (a *amount) UnmarshalJSON(b []byte) error {
	raw := string(bytes.TrimSpace(b))
	if raw == "null" || raw == `""` {
		*a = 0
		return nil
	}

	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := parsing.ParseAmount(strings.ReplaceAll(s, " ", ""))
		if err != nil {
			// Unreadable amounts count as missing
			*a = 0
			return nil
		}
		*a = amount(parsed.Value)
		return nil
	}

	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("parsing amount %s: %w", raw, err)
	}
	d = d.Round(0)
	if d.GreaterThan(maxAmount) || d.LessThan(maxAmount.Neg()) {
		// Out of range counts as missing, like an unreadable string
		*a = 0
		return nil
	}
	*a = amount(d.IntPart())
	return nil
}

var dateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"02/01/06",
}

// parseReceiptJSON parses the JSON response from the AI service
func parseReceiptJSON(text string, now time.Time) (*ReceiptData, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSpace(text)

	// Find the JSON object boundaries - look for first { and last }
	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return nil, fmt.Errorf("invalid JSON object in response")
	}
	text = text[startIdx : endIdx+1]

	var data ReceiptData
	if err := json.Unmarshal([]byte(text), &data); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	data.Date = today
	if raw := strings.TrimSpace(data.RawDate); raw != "" {
		for _, format := range dateFormats {
			if d, err := time.ParseInLocation(format, raw, now.Location()); err == nil {
				data.Date = d
				break
			}
		}
	}

	data.StoreName = strings.TrimSpace(data.StoreName)

	if data.Total <= 0 {
		var sum amount
		for _, item := range data.Items {
			if item.Amount > 0 {
				sum += item.Amount
			}
		}
		if sum > 0 {
			data.Total = sum + data.Tax - data.Discount
		}
	}
	if data.Total <= 0 {
		return nil, ErrNoAmount
	}

	return &data, nil
}
