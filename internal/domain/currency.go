package domain

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// CurrencyKind distinguishes fiat money from crypto assets.
type CurrencyKind string

const (
	// CurrencyKindFiat government-issued currency.
	CurrencyKindFiat CurrencyKind = "fiat"
	// CurrencyKindCrypto crypto asset.
	CurrencyKindCrypto CurrencyKind = "crypto"
)

// Currency describes a known currency.
type Currency struct {
	Code string
	Name string
	Kind CurrencyKind
	// Issuer country for fiat, consensus algorithm for crypto.
	Issuer string
}

// DisplayInfo returns a one-line description for listings.
func (c Currency) DisplayInfo() string {
	if c.Kind == CurrencyKindCrypto {
		return fmt.Sprintf("[CRYPTO] %s - %s (Algo: %s)", c.Code, c.Name, c.Issuer)
	}
	return fmt.Sprintf("[FIAT] %s - %s (Issuing: %s)", c.Code, c.Name, c.Issuer)
}

var knownCurrencies = map[string]Currency{
	"USD": {Code: "USD", Name: "US Dollar", Kind: CurrencyKindFiat, Issuer: "United States"},
	"EUR": {Code: "EUR", Name: "Euro", Kind: CurrencyKindFiat, Issuer: "Eurozone"},
	"GBP": {Code: "GBP", Name: "Pound Sterling", Kind: CurrencyKindFiat, Issuer: "United Kingdom"},
	"RUB": {Code: "RUB", Name: "Russian Ruble", Kind: CurrencyKindFiat, Issuer: "Russia"},
	"BTC": {Code: "BTC", Name: "Bitcoin", Kind: CurrencyKindCrypto, Issuer: "SHA-256"},
	"ETH": {Code: "ETH", Name: "Ethereum", Kind: CurrencyKindCrypto, Issuer: "Ethash"},
	"SOL": {Code: "SOL", Name: "Solana", Kind: CurrencyKindCrypto, Issuer: "Proof of History"},
}

// LookupCurrency returns registry information for a code.
func LookupCurrency(code string) (Currency, bool) {
	c, ok := knownCurrencies[strings.ToUpper(strings.TrimSpace(code))]
	return c, ok
}

// NormalizeSymbol validates a currency code and returns its canonical upper-case form.
// Codes are 2 to 5 characters without whitespace.
func NormalizeSymbol(code string) (string, error) {
	value := strings.ToUpper(strings.TrimSpace(code))
	if value == "" {
		return "", errors.Wrap(ErrInvalidCurrency, "currency code cannot be empty")
	}
	if len(value) < 2 || len(value) > 5 || strings.ContainsAny(value, " \t\n") {
		return "", errors.Wrapf(ErrInvalidCurrency, "currency code %q must be 2-5 characters without spaces", code)
	}

	return value, nil
}
