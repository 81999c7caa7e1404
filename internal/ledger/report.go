package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/valutatrade/internal/domain"
)

// Holding one balance valued in the report base.
type Holding struct {
	Currency string
	Balance  decimal.Decimal
	Rate     decimal.Decimal
	Value    decimal.Decimal
}

// Report portfolio valued in Base.
type Report struct {
	UserID   string
	Base     string
	Holdings []Holding
	Total    decimal.Decimal
}

// Report values every non-zero balance of the user in base (home currency when empty).
// Holdings are sorted by currency. Valuation errors surface unchanged.
func (l *Ledger) Report(ctx context.Context, userID, base string) (Report, error) {
	if base == "" {
		base = l.home
	}
	base, err := domain.NormalizeSymbol(base)
	if err != nil {
		return Report{}, err
	}

	p, err := l.Portfolio(ctx, userID)
	if err != nil {
		return Report{}, err
	}

	report := Report{UserID: p.UserID, Base: base, Total: decimal.Zero}
	for _, currency := range p.Currencies() {
		rate, err := l.pricer.Rate(currency, base)
		if err != nil {
			return Report{}, err
		}
		balance := p.Balance(currency)
		value := domain.RoundAmount(balance.Mul(rate))
		report.Holdings = append(report.Holdings, Holding{
			Currency: currency,
			Balance:  balance,
			Rate:     rate,
			Value:    value,
		})
		report.Total = report.Total.Add(value)
	}

	return report, nil
}
