package parsing

import (
	"strings"
	"time"

	"github.com/zombor/finance-bot/internal/ledger"
)

// Candidate is a transaction read from one line of text, not yet stored
type Candidate struct {
	Amount      ParsedAmount
	Direction   ledger.Direction
	Category    string
	Description string
	Note        string
	Date        time.Time
}

// Transaction turns the candidate into a manual transaction
func (c Candidate) Transaction(id string, userID int64, createdAt time.Time) ledger.Transaction {
	return ledger.Transaction{
		ID:        id,
		UserID:    userID,
		Date:      c.Date,
		Direction: c.Direction,
		Amount:    c.Amount.Value,
		Category:  c.Category,
		Note:      c.Note,
		Source:    ledger.SourceManual,
		CreatedAt: createdAt,
	}
}

var dateHints = map[string]int{
	"kemarin":   -1,
	"yesterday": -1,
	"besok":     1,
	"tomorrow":  1,
}

// Extractor reads free text into transaction candidates. It holds no state
// besides its vocabulary and clock and is safe for concurrent use.
type Extractor struct {
	vocab   Vocabulary
	amounts *AmountParser
	now     func() time.Time
}

// NewExtractor creates an Extractor for the vocabulary
func NewExtractor(vocab Vocabulary) *Extractor {
	return NewExtractorWithClock(vocab, time.Now)
}

// NewExtractorWithClock creates an Extractor with a custom clock for testing
func NewExtractorWithClock(vocab Vocabulary, now func() time.Time) *Extractor {
	return &Extractor{
		vocab:   vocab,
		amounts: NewAmountParser(vocab.Units),
		now:     now,
	}
}

// Amounts returns the amount parser the extractor uses
func (e *Extractor) Amounts() *AmountParser {
	return e.amounts
}

// Extract parses one line. It returns false when the line has no amount.
// Amounts usually trail the description, so tokens are scanned right to left.
func (e *Extractor) Extract(line string) (Candidate, bool) {
	line = strings.TrimSpace(line)
	tokens := strings.Fields(line)

	for i := len(tokens) - 1; i >= 0; i-- {
		start := i
		amount, err := e.amounts.Parse(tokens[i])
		if err != nil {
			// "50 rb": the unit is its own token
			if i == 0 || !e.amounts.IsUnit(tokens[i]) {
				continue
			}
			amount, err = e.amounts.Parse(tokens[i-1] + tokens[i])
			if err != nil {
				continue
			}
			start = i - 1
		}

		rest := make([]string, 0, len(tokens))
		rest = append(rest, tokens[:start]...)
		rest = append(rest, tokens[i+1:]...)
		description := strings.Join(rest, " ")

		return Candidate{
			Amount:      amount,
			Direction:   e.Direction(description),
			Category:    e.Categorize(description),
			Description: description,
			Note:        line,
			Date:        e.date(description),
		}, true
	}
	return Candidate{}, false
}

// ExtractAll parses every non-empty line and keeps the ones with an amount
func (e *Extractor) ExtractAll(text string) []Candidate {
	out := make([]Candidate, 0)
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if c, ok := e.Extract(line); ok {
			out = append(out, c)
		}
	}
	return out
}

// Direction is income when income keywords outnumber expense keywords.
// Expense is the default.
func (e *Extractor) Direction(description string) ledger.Direction {
	words := wordsOf(description)
	income := countMatches(words, e.vocab.IncomeKeywords)
	if income == 0 {
		return ledger.Expense
	}
	if income > countMatches(words, e.vocab.ExpenseKeywords) {
		return ledger.Income
	}
	return ledger.Expense
}

// Categorize returns the first category whose keywords match
func (e *Extractor) Categorize(description string) string {
	words := wordsOf(description)
	for _, rule := range e.vocab.Categories {
		for _, kw := range rule.Keywords {
			if matches(words, kw) {
				return rule.Category
			}
		}
	}
	return ledger.DefaultCategory
}

func (e *Extractor) date(description string) time.Time {
	now := e.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for _, w := range strings.Fields(strings.ToLower(description)) {
		if offset, ok := dateHints[strings.Trim(w, ".,;:!?")]; ok {
			return today.AddDate(0, 0, offset)
		}
	}
	return today
}

// wordsOf lowercases text and pads it with spaces so keywords can be
// matched at word starts
func wordsOf(text string) string {
	return " " + strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// matches is true when kw starts a word, so "makan" matches "makanan" but
// "air" does not match "pair"
func matches(words, kw string) bool {
	return strings.Contains(words, " "+kw)
}

func countMatches(words string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if matches(words, kw) {
			n++
		}
	}
	return n
}
