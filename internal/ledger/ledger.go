// Package ledger applies buy, sell and deposit operations to user portfolios.
package ledger

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"go.uber.org/zap"
)

// Pricer prices one unit of from in to.
type Pricer interface {
	Rate(from, to string) (decimal.Decimal, error)
}

// PortfolioStore persists portfolios.
type PortfolioStore interface {
	Load(userID string) (*domain.Portfolio, error)
	Save(p *domain.Portfolio) error
}

// Journal records executed receipts.
type Journal interface {
	Append(receipt domain.Receipt) error
}

// Option configures the Ledger.
type Option func(*Ledger)

// WithJournal appends every receipt to j.
func WithJournal(j Journal) Option {
	return func(l *Ledger) {
		l.journal = j
	}
}

// WithLogger sets the action logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the receipt clock.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Ledger serializes operations per user. Different users proceed in parallel.
type Ledger struct {
	home    string
	pricer  Pricer
	store   PortfolioStore
	journal Journal
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string

	mu         sync.Mutex
	userLocks  map[string]*sync.Mutex
	portfolios map[string]*domain.Portfolio
}

// New creates a ledger settling trades in the home currency.
func New(home string, pricer Pricer, store PortfolioStore, opts ...Option) (*Ledger, error) {
	home, err := domain.NormalizeSymbol(home)
	if err != nil {
		return nil, errors.Wrap(err, "home currency")
	}
	if pricer == nil {
		return nil, errors.New("pricer is required for ledger")
	}
	if store == nil {
		return nil, errors.New("portfolio store is required for ledger")
	}

	l := &Ledger{
		home:       home,
		pricer:     pricer,
		store:      store,
		logger:     zap.NewNop(),
		now:        time.Now,
		newID:      uuid.NewString,
		userLocks:  make(map[string]*sync.Mutex),
		portfolios: make(map[string]*domain.Portfolio),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Home settlement currency.
func (l *Ledger) Home() string {
	return l.home
}

// Buy spends home currency to acquire amount of currency.
func (l *Ledger) Buy(ctx context.Context, userID, currency string, amount decimal.Decimal) (domain.Receipt, error) {
	return l.execute(ctx, domain.SideBuy, userID, currency, amount)
}

// Sell converts amount of currency back into home currency.
func (l *Ledger) Sell(ctx context.Context, userID, currency string, amount decimal.Decimal) (domain.Receipt, error) {
	return l.execute(ctx, domain.SideSell, userID, currency, amount)
}

// Deposit credits amount of currency without touching other balances.
func (l *Ledger) Deposit(ctx context.Context, userID, currency string, amount decimal.Decimal) (domain.Receipt, error) {
	return l.execute(ctx, domain.SideDeposit, userID, currency, amount)
}

// Portfolio returns a copy of the user's balances.
func (l *Ledger) Portfolio(ctx context.Context, userID string) (*domain.Portfolio, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	userID, err := normalizeUser(userID)
	if err != nil {
		return nil, err
	}

	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	p, err := l.load(userID)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

func (l *Ledger) execute(ctx context.Context, side domain.Side, userID, currency string, amount decimal.Decimal) (domain.Receipt, error) {
	receipt, err := l.apply(ctx, side, userID, currency, amount)
	if err != nil {
		l.logger.Error("ledger action",
			zap.String("action", strings.ToUpper(side.String())),
			zap.String("user_id", userID),
			zap.String("currency", currency),
			zap.String("amount", amount.String()),
			zap.String("base", l.home),
			zap.String("result", "ERROR"),
			zap.Error(err))
		return domain.Receipt{}, err
	}

	l.logger.Info("ledger action",
		zap.String("action", strings.ToUpper(side.String())),
		zap.String("receipt_id", receipt.ID),
		zap.String("user_id", receipt.UserID),
		zap.String("currency", receipt.Currency),
		zap.String("amount", receipt.Amount.String()),
		zap.String("rate", receipt.Rate.String()),
		zap.String("base", receipt.HomeCurrency),
		zap.String("value", receipt.Value.String()),
		zap.String("result", "OK"))

	if l.journal != nil {
		if err := l.journal.Append(receipt); err != nil {
			l.logger.Error("failed to journal receipt", zap.String("receipt_id", receipt.ID), zap.Error(err))
		}
	}

	return receipt, nil
}

func (l *Ledger) apply(ctx context.Context, side domain.Side, userID, currency string, amount decimal.Decimal) (domain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return domain.Receipt{}, err
	}
	userID, err := normalizeUser(userID)
	if err != nil {
		return domain.Receipt{}, err
	}
	currency, err = domain.NormalizeSymbol(currency)
	if err != nil {
		return domain.Receipt{}, err
	}
	amount = domain.RoundAmount(amount)
	if !amount.IsPositive() {
		return domain.Receipt{}, errors.Wrapf(domain.ErrInvalidAmount, "got %s", amount)
	}
	if side != domain.SideDeposit && currency == l.home {
		return domain.Receipt{}, errors.Wrapf(domain.ErrInvalidCurrency, "cannot %s home currency %s", side, currency)
	}

	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	current, err := l.load(userID)
	if err != nil {
		return domain.Receipt{}, err
	}

	if side == domain.SideSell {
		if have := current.Balance(currency); have.LessThan(amount) {
			return domain.Receipt{}, errors.Wrapf(domain.ErrInsufficientHoldings, "need %s %s, have %s", amount, currency, have)
		}
	}

	rate, err := l.rate(side, currency)
	if err != nil {
		return domain.Receipt{}, err
	}
	value := domain.RoundAmount(amount.Mul(rate))

	next := current.Clone()
	switch side {
	case domain.SideBuy:
		if !value.IsPositive() {
			return domain.Receipt{}, errors.Wrapf(domain.ErrInvalidAmount, "%s %s is worth nothing in %s", amount, currency, l.home)
		}
		have := next.Balance(l.home)
		if have.LessThan(value) {
			return domain.Receipt{}, errors.Wrapf(domain.ErrInsufficientFunds, "need %s %s, have %s", value, l.home, have)
		}
		next.Balances[l.home] = have.Sub(value)
		next.Balances[currency] = next.Balance(currency).Add(amount)
	case domain.SideSell:
		next.Balances[currency] = next.Balance(currency).Sub(amount)
		next.Balances[l.home] = next.Balance(l.home).Add(value)
	case domain.SideDeposit:
		next.Balances[currency] = next.Balance(currency).Add(amount)
	default:
		return domain.Receipt{}, errors.Errorf("unsupported side %s", side)
	}

	if err := l.store.Save(next); err != nil {
		return domain.Receipt{}, err
	}
	l.publish(next)

	return domain.Receipt{
		ID:            l.newID(),
		UserID:        userID,
		Side:          side,
		Currency:      currency,
		Amount:        amount,
		HomeCurrency:  l.home,
		Rate:          rate,
		Value:         value,
		BalanceBefore: current.Balance(currency),
		BalanceAfter:  next.Balance(currency),
		HomeBefore:    current.Balance(l.home),
		HomeAfter:     next.Balance(l.home),
		ExecutedAt:    l.now().UTC(),
	}, nil
}

// rate prices currency in home. Deposits do not require a rate and fall back to zero.
func (l *Ledger) rate(side domain.Side, currency string) (decimal.Decimal, error) {
	rate, err := l.pricer.Rate(currency, l.home)
	if err == nil {
		return rate, nil
	}
	if side == domain.SideDeposit {
		l.logger.Debug("deposit without rate", zap.String("currency", currency), zap.Error(err))
		return decimal.Zero, nil
	}
	return decimal.Zero, err
}

func (l *Ledger) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		l.userLocks[userID] = lock
	}
	return lock
}

// load returns the published portfolio. Caller holds the user lock.
func (l *Ledger) load(userID string) (*domain.Portfolio, error) {
	l.mu.Lock()
	p, ok := l.portfolios[userID]
	l.mu.Unlock()
	if ok {
		return p, nil
	}

	p, err := l.store.Load(userID)
	if err != nil {
		return nil, errors.Wrapf(err, "load portfolio of %s", userID)
	}
	l.publish(p)
	return p, nil
}

func (l *Ledger) publish(p *domain.Portfolio) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.portfolios[p.UserID] = p
}

func normalizeUser(userID string) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", errors.New("user id is required")
	}
	return userID, nil
}
