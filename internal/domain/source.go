package domain

import (
	"strings"

	"github.com/pkg/errors"
)

// Source external rate provider.
type Source int

const (
	// SourceAll matches every configured source.
	SourceAll Source = iota
	// SourceCoinGecko crypto prices from CoinGecko.
	SourceCoinGecko
	// SourceExchangeRate fiat rates from ExchangeRate-API.
	SourceExchangeRate
)

const (
	sourceStringCoinGecko    = "coingecko"
	sourceStringExchangeRate = "exchangerate"
)

// Sources lists all concrete sources in their default invocation order.
var Sources = []Source{SourceCoinGecko, SourceExchangeRate}

// ParseSource converts a wire name into a Source. Empty string means SourceAll.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return SourceAll, nil
	case sourceStringCoinGecko:
		return SourceCoinGecko, nil
	case sourceStringExchangeRate:
		return SourceExchangeRate, nil
	default:
		return SourceAll, errors.Errorf("unknown rate source %q (expected %s or %s)",
			s, sourceStringCoinGecko, sourceStringExchangeRate)
	}
}

// String returns the wire name of the source.
func (s Source) String() string {
	switch s {
	case SourceAll:
		return "all"
	case SourceCoinGecko:
		return sourceStringCoinGecko
	case SourceExchangeRate:
		return sourceStringExchangeRate
	default:
		return "unknown"
	}
}

// DisplayName returns the human readable provider name.
func (s Source) DisplayName() string {
	switch s {
	case SourceCoinGecko:
		return "CoinGecko"
	case SourceExchangeRate:
		return "ExchangeRate-API"
	default:
		return s.String()
	}
}

// Matches reports whether s is selected by filter.
func (s Source) Matches(filter Source) bool {
	return filter == SourceAll || filter == s
}

// MarshalText encodes the source by its wire name.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a wire name.
func (s *Source) UnmarshalText(text []byte) error {
	parsed, err := ParseSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
