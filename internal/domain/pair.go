// Package domain defines core data structures of the rate cache and the wallet ledger.
package domain

import "fmt"

// Pair currency pair used for conversions.
type Pair struct {
	// From currency being priced.
	From string
	// To currency the price is expressed in.
	To string
}

// NewPair builds a pair from raw currency codes.
func NewPair(from, to string) (Pair, error) {
	f, err := NormalizeSymbol(from)
	if err != nil {
		return Pair{}, err
	}
	t, err := NormalizeSymbol(to)
	if err != nil {
		return Pair{}, err
	}

	return Pair{From: f, To: t}, nil
}

// String returns the string representation.
func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.From, p.To)
}

// Reverse returns the pair with swapped currencies.
func (p Pair) Reverse() Pair {
	return Pair{From: p.To, To: p.From}
}
