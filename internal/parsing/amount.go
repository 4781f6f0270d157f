package parsing

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotNumeric means the token is not a decimal number with an optional unit
	ErrNotNumeric = errors.New("not numeric")

	// ErrNotPositive means the token parsed but the amount is zero
	ErrNotPositive = errors.New("amount must be positive")

	// ErrTooLarge means the amount does not fit in whole rupiah
	ErrTooLarge = errors.New("amount too large")
)

// ParseError describes a token that could not be read as an amount
type ParseError struct {
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing amount %q: %v", e.Token, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ParsedAmount is the result of reading one shorthand token
type ParsedAmount struct {
	Value      int64
	Token      string
	Multiplier int64
}

var (
	plainNumber    = regexp.MustCompile(`^\d+(\.\d+)?$`)
	currencyPrefix = []string{"rp.", "rp", "idr"}
	maxAmount      = decimal.NewFromInt(math.MaxInt64)
)

// AmountParser converts Indonesian shorthand numerals ("50rb", "1.5jt",
// "500k", "Rp35.000") into whole rupiah
type AmountParser struct {
	units []Unit
}

// NewAmountParser creates a parser for the given unit table
func NewAmountParser(units []Unit) *AmountParser {
	return &AmountParser{units: units}
}

var defaultAmountParser = NewAmountParser(DefaultVocabulary().Units)

// ParseAmount parses a token with the default unit table
func ParseAmount(token string) (ParsedAmount, error) {
	return defaultAmountParser.Parse(token)
}

// Parse reads a single token. Plain digit strings are already in rupiah.
func (p *AmountParser) Parse(token string) (ParsedAmount, error) {
	fail := func(err error) (ParsedAmount, error) {
		return ParsedAmount{}, &ParseError{Token: token, Err: err}
	}

	s := strings.ToLower(strings.TrimSpace(token))
	s = strings.TrimRight(s, ".,;:!?")
	for _, prefix := range currencyPrefix {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimSpace(strings.TrimPrefix(s, prefix))
			break
		}
	}

	unit, ok := p.suffix(s)
	multiplier := int64(1)
	if ok {
		s = strings.TrimSpace(strings.TrimSuffix(s, unit.Suffix))
		multiplier = unit.Multiplier
	}

	number, ok := normalizeNumber(s)
	if !ok {
		return fail(ErrNotNumeric)
	}
	d, err := decimal.NewFromString(number)
	if err != nil {
		return fail(ErrNotNumeric)
	}

	rounded := d.Mul(decimal.NewFromInt(multiplier)).Round(0)
	if rounded.GreaterThan(maxAmount) {
		return fail(ErrTooLarge)
	}
	value := rounded.IntPart()
	if value <= 0 {
		return fail(ErrNotPositive)
	}

	return ParsedAmount{Value: value, Token: token, Multiplier: multiplier}, nil
}

// IsUnit reports whether word is exactly one of the unit suffixes
func (p *AmountParser) IsUnit(word string) bool {
	w := strings.ToLower(strings.TrimSpace(word))
	for _, u := range p.units {
		if w == u.Suffix {
			return true
		}
	}
	return false
}

// suffix picks the longest unit suffix s ends with
func (p *AmountParser) suffix(s string) (Unit, bool) {
	var best Unit
	found := false
	for _, u := range p.units {
		if strings.HasSuffix(s, u.Suffix) && len(u.Suffix) > len(best.Suffix) {
			best, found = u, true
		}
	}
	return best, found
}

// normalizeNumber turns "1.000.000", "250,000", "1,5" or "1.5" into a plain
// decimal string. A single separator followed by exactly three digits is a
// thousands separator; otherwise it marks the decimal point.
func normalizeNumber(s string) (string, bool) {
	if s == "" {
		return "", false
	}

	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")

	switch {
	case dots > 0 && commas > 0:
		// The separator that appears last is the decimal point
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case dots > 1:
		s = strings.ReplaceAll(s, ".", "")
	case commas > 1:
		s = strings.ReplaceAll(s, ",", "")
	case dots == 1 || commas == 1:
		sep := "."
		if commas == 1 {
			sep = ","
		}
		idx := strings.Index(s, sep)
		if len(s)-idx-1 == 3 {
			s = strings.Replace(s, sep, "", 1)
		} else {
			s = strings.Replace(s, sep, ".", 1)
		}
	}

	if !plainNumber.MatchString(s) {
		return "", false
	}
	return s, true
}
