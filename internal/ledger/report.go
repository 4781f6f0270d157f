package ledger

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Period is a reporting window
type Period string

const (
	PeriodDay   Period = "hari"
	PeriodWeek  Period = "minggu"
	PeriodMonth Period = "bulan"
)

// ParsePeriod accepts Indonesian and English names; unknown input is a month
func ParsePeriod(s string) Period {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hari", "harian", "today", "day":
		return PeriodDay
	case "minggu", "mingguan", "week":
		return PeriodWeek
	default:
		return PeriodMonth
	}
}

// Bounds returns the half-open range [from, to) of the period containing now.
// A week is the last seven days including today.
func (p Period) Bounds(now time.Time) (time.Time, time.Time) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	tomorrow := today.AddDate(0, 0, 1)
	switch p {
	case PeriodDay:
		return today, tomorrow
	case PeriodWeek:
		return today.AddDate(0, 0, -6), tomorrow
	default:
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
		return first, first.AddDate(0, 1, 0)
	}
}

// CategoryTotal is the summed expense of one category
type CategoryTotal struct {
	Category string
	Amount   int64
	Count    int
}

// Summary aggregates a set of transactions
type Summary struct {
	Income     int64
	Expense    int64
	Count      int
	Categories []CategoryTotal // expenses, largest first
}

// Balance is income minus expense
func (s Summary) Balance() int64 {
	return s.Income - s.Expense
}

// Summarize totals transactions and groups expenses by category
func Summarize(txs []Transaction) Summary {
	var s Summary
	byCategory := make(map[string]*CategoryTotal)
	order := make([]string, 0)

	for _, t := range txs {
		s.Count++
		if t.Direction == Income {
			s.Income += t.Amount
			continue
		}
		s.Expense += t.Amount
		ct, ok := byCategory[t.Category]
		if !ok {
			ct = &CategoryTotal{Category: t.Category}
			byCategory[t.Category] = ct
			order = append(order, t.Category)
		}
		ct.Amount += t.Amount
		ct.Count++
	}

	for _, c := range order {
		s.Categories = append(s.Categories, *byCategory[c])
	}
	sort.SliceStable(s.Categories, func(i, j int) bool {
		return s.Categories[i].Amount > s.Categories[j].Amount
	})
	return s
}

// FormatRupiah renders an amount with dots as thousand separators
func FormatRupiah(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatInt(amount, 10)

	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(d)
	}
	return fmt.Sprintf("%sRp %s", sign, b.String())
}
