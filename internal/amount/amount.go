// Package amount provides the exchange's fixed-point decimal type.
//
// Amounts carry at most 38 significant digits with at most 18 fractional
// digits and are exchanged as normalized strings. Arithmetic is exact; the
// only rounding happens in the two multiplication helpers, which name their
// rounding mode explicitly.
package amount

import (
	"database/sql/driver"
	"errors"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	// MaxFractionalDigits is the largest scale an amount may carry.
	MaxFractionalDigits = 18

	maxIntegerDigits = 20
	maxInputLength   = 64
)

// ErrInvalid is wrapped by every parse failure.
var ErrInvalid = errors.New("invalid amount")

// Accepts an optional minus sign, an integer part without leading zeros, and
// an optional fractional part of 1..18 digits. Exponents, leading '+', '.5'
// and '5.' forms are all rejected.
var amountPattern = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]{1,18})?$`)

// Amount is an immutable fixed-point decimal value.
type Amount struct {
	d decimal.Decimal
}

// Zero returns the zero amount.
func Zero() Amount {
	return Amount{}
}

// Parse converts a decimal string into an Amount. It rejects exponent
// notation, leading zeros on the integer part, more than 18 fractional
// digits, and inputs longer than 64 bytes.
func Parse(s string) (Amount, error) {
	if s == "" {
		return Amount{}, errors.Join(ErrInvalid, errors.New("empty string"))
	}
	if len(s) > maxInputLength {
		return Amount{}, errors.Join(ErrInvalid, errors.New("input too long"))
	}
	if !amountPattern.MatchString(s) {
		return Amount{}, errors.Join(ErrInvalid, errors.New("malformed decimal "+s))
	}
	intPart := s
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart = s[:i]
	}
	intPart = strings.TrimPrefix(intPart, "-")
	if len(intPart) > maxIntegerDigits {
		return Amount{}, errors.Join(ErrInvalid, errors.New("integer part exceeds 20 digits"))
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}, errors.Join(ErrInvalid, err)
	}
	return Amount{d: d}, nil
}

// MustParse is Parse for trusted literals; it panics on error.
func MustParse(s string) Amount {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the normalized form: no exponent, no trailing fractional
// zeros beyond the value's own scale, and "-0" collapses to "0".
func (a Amount) String() string {
	return a.d.String()
}

func (a Amount) Add(b Amount) Amount {
	return Amount{d: a.d.Add(b.d)}
}

func (a Amount) Sub(b Amount) Amount {
	return Amount{d: a.d.Sub(b.d)}
}

// SubFloor subtracts b from a, clamping the result at zero. Used for
// remaining-quantity and hold-consumption math, which must never go negative.
func (a Amount) SubFloor(b Amount) Amount {
	r := a.d.Sub(b.d)
	if r.IsNegative() {
		return Amount{}
	}
	return Amount{d: r}
}

// MulCeil multiplies and rounds toward positive infinity at 18 places.
// Reserve and fee computations use it so the system over-collateralizes
// rather than under-collateralizes.
func (a Amount) MulCeil(b Amount) Amount {
	return Amount{d: a.d.Mul(b.d).RoundCeil(MaxFractionalDigits)}
}

// MulBankers multiplies and rounds half to even at 18 places. Settlement
// amounts use it.
func (a Amount) MulBankers(b Amount) Amount {
	return Amount{d: a.d.Mul(b.d).RoundBank(MaxFractionalDigits)}
}

// Cmp returns -1, 0 or 1 as a is less than, equal to, or greater than b.
func (a Amount) Cmp(b Amount) int {
	return a.d.Cmp(b.d)
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.d.Cmp(b.d) <= 0 {
		return a
	}
	return b
}

func (a Amount) Neg() Amount {
	return Amount{d: a.d.Neg()}
}

func (a Amount) IsZero() bool {
	return a.d.IsZero()
}

func (a Amount) IsNegative() bool {
	return a.d.IsNegative()
}

func (a Amount) IsPositive() bool {
	return a.d.IsPositive()
}

// MarshalJSON encodes the amount as a JSON string to keep it exact on the
// wire.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(`"` + a.d.String() + `"`), nil
}

// UnmarshalJSON accepts only the strict string form.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return errors.Join(ErrInvalid, errors.New("amount must be a JSON string"))
	}
	v, err := Parse(s[1 : len(s)-1])
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// Value implements driver.Valuer; amounts travel to the database as strings
// bound to a NUMERIC(38,18) column.
func (a Amount) Value() (driver.Value, error) {
	return a.d.String(), nil
}

// Scan implements sql.Scanner.
func (a *Amount) Scan(src any) error {
	var s string
	switch v := src.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case nil:
		*a = Amount{}
		return nil
	default:
		return errors.Join(ErrInvalid, errors.New("unsupported scan type"))
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return errors.Join(ErrInvalid, err)
	}
	*a = Amount{d: d}
	return nil
}

// MaxPrice returns the largest representable amount. It serves as the
// synthetic limit price for market buys and must never be persisted or used
// as an execution price.
func MaxPrice() Amount {
	return MustParse(strings.Repeat("9", maxIntegerDigits) + "." + strings.Repeat("9", MaxFractionalDigits))
}

// MinPrice returns the smallest positive representable amount, the synthetic
// limit price for market sells.
func MinPrice() Amount {
	return MustParse("0." + strings.Repeat("0", MaxFractionalDigits-1) + "1")
}
