// Package valuation answers price queries against the current rate table.
package valuation

import (
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"go.uber.org/zap"
)

// TableSource provides the current rate table.
type TableSource interface {
	Current() *domain.RateTable
}

// Rate price of one unit of Currency in Base.
type Rate struct {
	Currency  string
	Base      string
	Price     decimal.Decimal
	Source    domain.Source
	FetchedAt time.Time
	// Stale set when the quote is older than the configured max age.
	Stale bool
}

// Filter narrows ListRates.
type Filter struct {
	// Currency lists only this currency when set.
	Currency string
	// Top keeps the N highest rates when positive.
	Top int
	// Base quote currency, the table base when empty.
	Base string
}

// Option configures the Service.
type Option func(*Service)

// WithMaxAge rejects quotes older than d. Zero disables the check.
func WithMaxAge(d time.Duration) Option {
	return func(s *Service) {
		s.maxAge = d
	}
}

// WithClock overrides the clock used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service computes direct and cross rates.
type Service struct {
	tables TableSource
	maxAge time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// New creates a valuation service reading tables from src.
func New(src TableSource, opts ...Option) *Service {
	s := &Service{
		tables: src,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rate returns how many units of to one unit of from is worth.
func (s *Service) Rate(from, to string) (decimal.Decimal, error) {
	from, err := domain.NormalizeSymbol(from)
	if err != nil {
		return decimal.Zero, err
	}
	to, err = domain.NormalizeSymbol(to)
	if err != nil {
		return decimal.Zero, err
	}
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	table := s.tables.Current()
	if table.IsEmpty() {
		return decimal.Zero, domain.ErrEmptyCache
	}

	fromPrice, err := s.freshPrice(table, from)
	if err != nil {
		return decimal.Zero, err
	}
	toPrice, err := s.freshPrice(table, to)
	if err != nil {
		return decimal.Zero, err
	}

	return domain.DivRate(fromPrice, toPrice), nil
}

// ListRates returns cached currencies priced in filter.Base.
// Ordered by symbol, or by price descending when Top is set.
func (s *Service) ListRates(filter Filter) ([]Rate, error) {
	table := s.tables.Current()
	if table.IsEmpty() {
		return nil, domain.ErrEmptyCache
	}

	base := table.Base()
	if filter.Base != "" {
		b, err := domain.NormalizeSymbol(filter.Base)
		if err != nil {
			return nil, err
		}
		if !table.Has(b) {
			return nil, errors.Wrapf(domain.ErrUnknownCurrency, "base %s", b)
		}
		base = b
	}

	candidates := append(table.Currencies(), table.Base())
	if filter.Currency != "" {
		c, err := domain.NormalizeSymbol(filter.Currency)
		if err != nil {
			return nil, err
		}
		if !table.Has(c) {
			return nil, errors.Wrapf(domain.ErrUnknownCurrency, "currency %s", c)
		}
		candidates = []string{c}
	}

	basePrice, _ := price(table, base)
	now := s.now()
	rates := make([]Rate, 0, len(candidates))
	for _, c := range candidates {
		if c == base {
			continue
		}
		p, _ := price(table, c)
		r := Rate{
			Currency: c,
			Base:     base,
			Price:    domain.DivRate(p, basePrice),
		}
		if q, ok := table.Quote(c); ok {
			r.Source = q.Source
			r.FetchedAt = q.FetchedAt
			r.Stale = s.isStale(q, now)
		}
		if q, ok := table.Quote(base); ok && s.isStale(q, now) {
			r.Stale = true
		}
		rates = append(rates, r)
	}

	if filter.Top > 0 {
		sort.Slice(rates, func(i, j int) bool {
			if c := rates[i].Price.Cmp(rates[j].Price); c != 0 {
				return c > 0
			}
			return rates[i].Currency < rates[j].Currency
		})
		if len(rates) > filter.Top {
			rates = rates[:filter.Top]
		}
	} else {
		sort.Slice(rates, func(i, j int) bool { return rates[i].Currency < rates[j].Currency })
	}

	return rates, nil
}

// Base canonical base of the current table.
func (s *Service) Base() string {
	return s.tables.Current().Base()
}

// RefreshedAt last refresh time of the current table.
func (s *Service) RefreshedAt() time.Time {
	return s.tables.Current().RefreshedAt()
}

func (s *Service) freshPrice(table *domain.RateTable, currency string) (decimal.Decimal, error) {
	p, ok := price(table, currency)
	if !ok {
		return decimal.Zero, errors.Wrapf(domain.ErrUnknownCurrency, "currency %s", currency)
	}
	if q, ok := table.Quote(currency); ok && s.isStale(q, s.now()) {
		s.logger.Warn("stale rate",
			zap.String("currency", currency),
			zap.Time("fetched_at", q.FetchedAt),
			zap.Duration("max_age", s.maxAge))
		return decimal.Zero, errors.Wrapf(domain.ErrStaleRate, "%s quoted at %s", currency, q.FetchedAt.UTC().Format(time.RFC3339))
	}
	return p, nil
}

func (s *Service) isStale(q domain.RateQuote, now time.Time) bool {
	return s.maxAge > 0 && q.FetchedAt.Before(now.Add(-s.maxAge))
}

// price of one unit of currency in the table base.
func price(table *domain.RateTable, currency string) (decimal.Decimal, bool) {
	if currency == table.Base() {
		return decimal.NewFromInt(1), true
	}
	q, ok := table.Quote(currency)
	if !ok {
		return decimal.Zero, false
	}
	return q.Price, true
}
