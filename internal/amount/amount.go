package amount

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits of the stablecoin.
const Decimals = 6

const (
	// maxIntegerDigits is the digit count of the largest uint256.
	maxIntegerDigits = 78
	maxInputLen      = 128
)

// plain matches unsigned positional notation only; no exponents.
var plain = regexp.MustCompile(`^(\d+\.?\d*|\.\d+)$`)

var (
	// ErrEmpty is returned for blank input.
	ErrEmpty = errors.New("amount is empty")
	// ErrInvalid is returned when the input is not a decimal number.
	ErrInvalid = errors.New("amount is not a valid decimal")
	// ErrNegative is returned for amounts below zero.
	ErrNegative = errors.New("amount must not be negative")
	// ErrPrecision is returned when the input has more fractional digits than the token supports.
	ErrPrecision = errors.New("amount has too many fractional digits")
	// ErrOverflow is returned when the scaled amount does not fit in 256 bits.
	ErrOverflow = errors.New("amount overflows uint256")
)

// Parse converts a user-entered decimal string into its integer representation
// scaled by Decimals. The conversion is exact: input that cannot be represented
// without rounding is rejected.
func Parse(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmpty
	}
	if len(s) > maxInputLen {
		return nil, fmt.Errorf("%w: input longer than %d characters", ErrInvalid, maxInputLen)
	}
	if strings.HasPrefix(s, "-") {
		return nil, ErrNegative
	}
	if !plain.MatchString(s) {
		return nil, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if whole, _, _ := strings.Cut(s, "."); len(whole) > maxIntegerDigits {
		return nil, ErrOverflow
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	scaled := d.Shift(Decimals)
	if !scaled.IsInteger() {
		return nil, ErrPrecision
	}

	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

// Format renders a scaled integer back into a decimal string without trailing
// zeros. A nil value renders as the empty string.
func Format(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return decimal.NewFromBigInt(v.ToBig(), -Decimals).String()
}

// Fixed renders a scaled integer with all Decimals fractional digits.
func Fixed(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return decimal.NewFromBigInt(v.ToBig(), -Decimals).StringFixed(Decimals)
}

// Units returns v whole tokens as a scaled integer. Handy for seeding balances.
func Units(v uint64) *uint256.Int {
	scale := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(Decimals))
	return new(uint256.Int).Mul(uint256.NewInt(v), scale)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) *uint256.Int {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}
