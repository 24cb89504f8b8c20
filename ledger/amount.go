package ledger

import (
	"strings"

	"github.com/iov-one/torasuri/errors"
	"github.com/stellar/go/amount"
	"github.com/stellar/go/xdr"
)

// StroopsPerCent is the number of stroops (1e-7 of a lumen) in one cent of a
// lumen.
const StroopsPerCent = 100000

// ParseAmount converts a decimal lumen amount such as "12.5" into stroops.
// Only positive amounts with at most seven fractional digits are accepted.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.Wrap(ErrInvalidAmount, "empty")
	}
	if i := strings.IndexByte(s, '.'); i >= 0 && len(s)-i-1 > 7 {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q has more than 7 decimal places", s)
	}
	v, err := amount.Parse(s)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q", s)
	}
	if v <= 0 {
		return 0, errors.Wrapf(ErrInvalidAmount, "%q is not positive", s)
	}
	return int64(v), nil
}

// AmountString renders stroops as a decimal lumen amount with seven
// fractional digits.
func AmountString(stroops int64) string {
	return amount.String(xdr.Int64(stroops))
}

// Cents converts stroops into cents of a lumen, rounding half up.
// It never overflows, so the largest amount stays the largest number of cents.
func Cents(stroops int64) int64 {
	c := stroops / StroopsPerCent
	if stroops%StroopsPerCent >= StroopsPerCent/2 {
		c++
	}
	return c
}
