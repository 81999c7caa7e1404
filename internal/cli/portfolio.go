package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/valutatrade/internal/domain"
)

// tradeCmd runs buy, sell or deposit depending on side.
type tradeCmd struct {
	g        *Globals
	side     domain.Side
	currency string
	amount   string
}

func (c *tradeCmd) Name() string { return c.side.String() }

func (c *tradeCmd) Synopsis() string {
	switch c.side {
	case domain.SideBuy:
		return "buy a currency with home currency funds"
	case domain.SideSell:
		return "sell a currency for home currency"
	default:
		return "credit a currency to the portfolio"
	}
}

func (c *tradeCmd) Usage() string {
	return fmt.Sprintf("valutatrade -user U %s -currency C -amount A\n\n  %s.\n", c.side, c.Synopsis())
}

func (c *tradeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.currency, "currency", "", "currency code")
	f.StringVar(&c.amount, "amount", "", "positive amount in units of -currency")
}

func (c *tradeCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	user, err := c.g.user()
	if err != nil {
		return c.g.usage("%v", err)
	}
	if c.currency == "" || c.amount == "" {
		return c.g.usage("-currency and -amount are required")
	}
	amount, err := decimal.NewFromString(c.amount)
	if err != nil {
		return c.g.usage("invalid -amount %q: must be a number", c.amount)
	}

	s, err := c.g.open()
	if err != nil {
		return c.g.fail(err)
	}
	defer s.close()

	l := s.Ledger()
	var receipt domain.Receipt
	switch c.side {
	case domain.SideBuy:
		receipt, err = l.Buy(ctx, user, c.currency, amount)
	case domain.SideSell:
		receipt, err = l.Sell(ctx, user, c.currency, amount)
	default:
		receipt, err = l.Deposit(ctx, user, c.currency, amount)
	}
	if err != nil {
		return c.g.fail(err)
	}

	c.printReceipt(receipt)
	return subcommands.ExitSuccess
}

func (c *tradeCmd) printReceipt(r domain.Receipt) {
	switch r.Side {
	case domain.SideBuy:
		c.g.println(okStyle.Render(fmt.Sprintf("Bought %s %s at %s %s/%s",
			formatAmount(r.Amount), r.Currency, r.Rate, r.HomeCurrency, r.Currency)))
	case domain.SideSell:
		c.g.println(okStyle.Render(fmt.Sprintf("Sold %s %s at %s %s/%s",
			formatAmount(r.Amount), r.Currency, r.Rate, r.HomeCurrency, r.Currency)))
	default:
		c.g.println(okStyle.Render(fmt.Sprintf("Deposited %s %s", formatAmount(r.Amount), r.Currency)))
	}

	c.g.printf("  %s: %s -> %s\n", r.Currency, formatAmount(r.BalanceBefore), formatAmount(r.BalanceAfter))
	if r.Side != domain.SideDeposit {
		c.g.printf("  %s: %s -> %s\n", r.HomeCurrency, formatAmount(r.HomeBefore), formatAmount(r.HomeAfter))
	}
	if !r.Value.IsZero() {
		c.g.printf("Estimated value: %s\n", formatMoney(r.Value, r.HomeCurrency))
	}
}

type showPortfolioCmd struct {
	g    *Globals
	base string
}

func (*showPortfolioCmd) Name() string     { return "show-portfolio" }
func (*showPortfolioCmd) Synopsis() string { return "show balances valued in a base currency" }
func (*showPortfolioCmd) Usage() string {
	return `valutatrade -user U show-portfolio [-base B]

  Lists every non-zero balance with its value in -base (home currency by
  default) and the portfolio total.
`
}

func (c *showPortfolioCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.base, "base", "", "currency to value the portfolio in")
}

func (c *showPortfolioCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	user, err := c.g.user()
	if err != nil {
		return c.g.usage("%v", err)
	}

	s, err := c.g.open()
	if err != nil {
		return c.g.fail(err)
	}
	defer s.close()

	report, err := s.Ledger().Report(ctx, user, c.base)
	if err != nil {
		return c.g.fail(err)
	}

	c.g.println(headingStyle.Render(fmt.Sprintf("Portfolio of %s (base %s)", report.UserID, report.Base)))
	if len(report.Holdings) == 0 {
		c.g.println("Portfolio is empty. Use 'deposit' to fund it.")
		return subcommands.ExitSuccess
	}

	rows := make([][]string, 0, len(report.Holdings))
	for _, h := range report.Holdings {
		rows = append(rows, []string{
			h.Currency,
			formatAmount(h.Balance),
			h.Rate.String(),
			formatMoney(h.Value, report.Base),
		})
	}
	c.g.println(renderTable([]string{"Currency", "Balance", "Rate", "Value"}, rows))
	c.g.printf("Total: %s\n", formatMoney(report.Total, report.Base))
	return subcommands.ExitSuccess
}
