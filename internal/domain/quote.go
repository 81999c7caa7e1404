package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// RateQuote price of one unit of Currency expressed in Base, as reported by Source.
type RateQuote struct {
	Currency  string
	Price     decimal.Decimal
	Base      string
	Source    Source
	FetchedAt time.Time
}

// Equal compares quotes by value.
func (q RateQuote) Equal(other RateQuote) bool {
	return q.Currency == other.Currency &&
		q.Price.Equal(other.Price) &&
		q.Base == other.Base &&
		q.Source == other.Source &&
		q.FetchedAt.Equal(other.FetchedAt)
}

// RateTable immutable snapshot of the latest accepted quote per currency.
// Every quote in the table is expressed in Base.
type RateTable struct {
	base        string
	quotes      map[string]RateQuote
	refreshedAt time.Time
}

// NewRateTable builds a table. Quotes whose base differs from base or that
// quote the base itself are ignored; later quotes for a currency replace earlier ones.
func NewRateTable(base string, quotes ...RateQuote) *RateTable {
	t := &RateTable{base: base, quotes: make(map[string]RateQuote, len(quotes))}
	for _, q := range quotes {
		if q.Base != base || q.Currency == base {
			continue
		}
		t.quotes[q.Currency] = q
		if q.FetchedAt.After(t.refreshedAt) {
			t.refreshedAt = q.FetchedAt
		}
	}
	return t
}

// EmptyRateTable returns a table without quotes.
func EmptyRateTable(base string) *RateTable {
	return NewRateTable(base)
}

// Base canonical base currency of the table.
func (t *RateTable) Base() string {
	return t.base
}

// Len number of quoted currencies.
func (t *RateTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.quotes)
}

// IsEmpty reports whether the table has no quotes.
func (t *RateTable) IsEmpty() bool {
	return t.Len() == 0
}

// RefreshedAt newest fetch time among quotes, zero for an empty table.
func (t *RateTable) RefreshedAt() time.Time {
	return t.refreshedAt
}

// Quote returns the quote for currency.
func (t *RateTable) Quote(currency string) (RateQuote, bool) {
	if t == nil {
		return RateQuote{}, false
	}
	q, ok := t.quotes[currency]
	return q, ok
}

// Has reports whether the currency is known to the table, the base included.
func (t *RateTable) Has(currency string) bool {
	if t == nil {
		return false
	}
	if currency == t.base {
		return true
	}
	_, ok := t.quotes[currency]
	return ok
}

// Currencies returns quoted currencies sorted ascending.
func (t *RateTable) Currencies() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.quotes))
	for c := range t.quotes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Quotes returns all quotes sorted by currency.
func (t *RateTable) Quotes() []RateQuote {
	currencies := t.Currencies()
	out := make([]RateQuote, 0, len(currencies))
	for _, c := range currencies {
		out = append(out, t.quotes[c])
	}
	return out
}

// Merge returns a new table holding t's quotes overlaid with quotes.
func (t *RateTable) Merge(quotes ...RateQuote) *RateTable {
	all := make([]RateQuote, 0, t.Len()+len(quotes))
	all = append(all, t.Quotes()...)
	all = append(all, quotes...)
	return NewRateTable(t.base, all...)
}

// Without returns a new table without the listed currencies.
func (t *RateTable) Without(currencies ...string) *RateTable {
	drop := make(map[string]struct{}, len(currencies))
	for _, c := range currencies {
		drop[c] = struct{}{}
	}
	kept := make([]RateQuote, 0, t.Len())
	for _, q := range t.Quotes() {
		if _, ok := drop[q.Currency]; ok {
			continue
		}
		kept = append(kept, q)
	}
	return NewRateTable(t.base, kept...)
}

// Equal reports whether both tables hold the same base and quotes.
func (t *RateTable) Equal(other *RateTable) bool {
	if t == nil || other == nil {
		return t.Len() == other.Len()
	}
	if t.base != other.base || len(t.quotes) != len(other.quotes) {
		return false
	}
	for c, q := range t.quotes {
		o, ok := other.quotes[c]
		if !ok || !q.Equal(o) {
			return false
		}
	}
	return true
}
