// Package amount converts between lamports and SOL without float rounding.
package amount

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

var lamportsPerSOL = decimal.NewFromInt(LamportsPerSOL)

// ToSOL converts lamports to SOL.
func ToSOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), 0).Div(lamportsPerSOL)
}

// FormatSOL renders lamports as a SOL amount with up to nine decimals and
// no trailing zeros, e.g. "1.5".
func FormatSOL(lamports uint64) string {
	return ToSOL(lamports).String()
}

// ParseSOL converts a decimal SOL string to lamports.
func ParseSOL(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse SOL amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("parse SOL amount %q: negative", s)
	}
	l := d.Mul(lamportsPerSOL)
	if !l.Equal(l.Truncate(0)) {
		return 0, fmt.Errorf("parse SOL amount %q: finer than one lamport", s)
	}
	return l.BigInt().Uint64(), nil
}
