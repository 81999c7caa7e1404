package domain

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Portfolio balances of one user. Absent currencies are zero.
type Portfolio struct {
	UserID   string
	Balances map[string]decimal.Decimal
}

// NewPortfolio creates an empty portfolio.
func NewPortfolio(userID string) *Portfolio {
	return &Portfolio{UserID: userID, Balances: make(map[string]decimal.Decimal)}
}

// Balance returns the balance of currency.
func (p *Portfolio) Balance(currency string) decimal.Decimal {
	if p == nil {
		return decimal.Zero
	}
	return p.Balances[currency]
}

// Clone returns a deep copy safe to mutate.
func (p *Portfolio) Clone() *Portfolio {
	clone := NewPortfolio(p.UserID)
	for c, b := range p.Balances {
		clone.Balances[c] = b
	}
	return clone
}

// Currencies returns currencies with a non-zero balance sorted ascending.
func (p *Portfolio) Currencies() []string {
	out := make([]string, 0, len(p.Balances))
	for c, b := range p.Balances {
		if b.IsZero() {
			continue
		}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Side kind of ledger operation.
type Side int

const (
	SideBuy Side = iota
	SideSell
	SideDeposit
)

// String returns the string representation of the side.
func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	case SideDeposit:
		return "deposit"
	default:
		return "unknown"
	}
}

// MarshalText encodes the side by name.
func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a side name.
func (s *Side) UnmarshalText(text []byte) error {
	switch string(text) {
	case "buy":
		*s = SideBuy
	case "sell":
		*s = SideSell
	case "deposit":
		*s = SideDeposit
	default:
		return errors.Errorf("unknown side %q", string(text))
	}
	return nil
}

// Receipt result of an applied ledger operation.
type Receipt struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	Side         Side            `json:"side"`
	Currency     string          `json:"currency"`
	Amount       decimal.Decimal `json:"amount"`
	HomeCurrency string          `json:"home_currency"`
	// Rate price of one unit of Currency in HomeCurrency.
	Rate decimal.Decimal `json:"rate"`
	// Value amount x rate in HomeCurrency.
	Value         decimal.Decimal `json:"value"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	HomeBefore    decimal.Decimal `json:"home_before"`
	HomeAfter     decimal.Decimal `json:"home_after"`
	ExecutedAt    time.Time       `json:"executed_at"`
}
