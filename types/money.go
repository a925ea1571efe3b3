package types

import (
	"github.com/SplitSync/split-sync-backend/errors"
	"github.com/shopspring/decimal"
)

// Cents is a monetary amount in integer cents. All balance and split
// arithmetic happens in this representation so that sums are exact; decimal
// strings only appear at the payload boundary.
type Cents int64

// ParseAmount converts a decimal payload string such as "10.00" into cents,
// rounding half-up to the nearest cent.
func ParseAmount(s string) (Cents, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, errors.ValidationFailed("invalid amount", s)
	}
	return Cents(d.Shift(2).Round(0).IntPart()), nil
}

// String renders the amount as a fixed two-decimal string, e.g. "3.34".
func (c Cents) String() string {
	return decimal.New(int64(c), -2).StringFixed(2)
}

// Decimal returns the amount as a decimal value in currency units.
func (c Cents) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -2)
}

// Abs returns the absolute value.
func (c Cents) Abs() Cents {
	if c < 0 {
		return -c
	}
	return c
}
