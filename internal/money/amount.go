package money

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits every ledger amount carries.
const Scale = 2

var (
	// ErrInvalidAmount is returned for malformed, non-positive, over-precision
	// or out-of-range amounts.
	ErrInvalidAmount = errors.New("invalid amount")

	// MaxAmount bounds a single credit or debit.
	MaxAmount = decimal.New(1, 15)

	// MaxBalance bounds a wallet balance; it fits NUMERIC(20,2).
	MaxBalance = decimal.New(1, 17)
)

// Plain digits with an optional fraction. Signs, exponents, separators,
// whitespace, hex and NaN/Inf spellings never match.
var amountPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// Parse converts user input into a validated ledger amount. It fails closed:
// anything that is not an unambiguous positive decimal with at most Scale
// fractional digits is rejected rather than coerced.
func Parse(raw string) (decimal.Decimal, error) {
	if !amountPattern.MatchString(raw) {
		return decimal.Decimal{}, fmt.Errorf("%w: %q is not a plain decimal", ErrInvalidAmount, raw)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if err := Validate(d); err != nil {
		return decimal.Decimal{}, err
	}
	return d, nil
}

// ParseJSON accepts an amount encoded either as a JSON number or a JSON
// string and applies the same rules as Parse.
func ParseJSON(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Decimal{}, fmt.Errorf("%w: amount is required", ErrInvalidAmount)
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
		return Parse(s)
	}
	return Parse(string(raw))
}

// Validate checks an already-typed amount: strictly positive, representable
// at Scale without rounding, and no larger than MaxAmount.
func Validate(d decimal.Decimal) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if !d.Equal(d.Truncate(Scale)) {
		return fmt.Errorf("%w: at most %d decimal places allowed", ErrInvalidAmount, Scale)
	}
	if d.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: exceeds maximum of %s", ErrInvalidAmount, Format(MaxAmount))
	}
	return nil
}

// Format renders an amount with exactly Scale fractional digits.
func Format(d decimal.Decimal) string {
	return d.StringFixed(Scale)
}

// MustParse is Parse for literals in tests and fixtures.
func MustParse(raw string) decimal.Decimal {
	d, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return d
}
