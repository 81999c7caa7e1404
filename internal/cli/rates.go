package cli

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/subcommands"
	"github.com/vadiminshakov/valutatrade/internal/app"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"github.com/vadiminshakov/valutatrade/internal/valuation"
)

type updateRatesCmd struct {
	g      *Globals
	source string
}

func (*updateRatesCmd) Name() string { return "update-rates" }
func (*updateRatesCmd) Synopsis() string {
	return "fetch rates from the configured sources into the local cache"
}
func (*updateRatesCmd) Usage() string {
	return `valutatrade update-rates [-source coingecko|exchangerate]

  Fetches quotes from every configured source (or only -source), merges them
  with the cached table and commits the result with a history entry.
`
}

func (c *updateRatesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.source, "source", "", "only refresh this source (coingecko or exchangerate)")
}

func (c *updateRatesCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	filter, err := domain.ParseSource(c.source)
	if err != nil {
		return c.g.usage("%v", err)
	}

	s, err := c.g.open()
	if err != nil {
		return c.g.fail(err)
	}
	defer s.close()

	outcome, err := s.RefreshRates(ctx, filter)
	if outcome != nil {
		c.printSources(outcome)
	}
	if err != nil {
		return c.g.fail(err)
	}

	table := outcome.Result.NewTable
	c.g.printf("Writing %d rates\n", outcome.Result.UpdatedCount)
	c.g.println(okStyle.Render(fmt.Sprintf("Rates updated: %d, last refresh: %s",
		outcome.Result.UpdatedCount, formatTime(table.RefreshedAt()))))
	return subcommands.ExitSuccess
}

func (c *updateRatesCmd) printSources(outcome *app.RefreshOutcome) {
	if outcome.Result == nil {
		return
	}
	for _, src := range outcome.Result.Order {
		st := outcome.Result.PerSourceStatus[src]
		if st.OK() {
			c.g.printf("Fetching from %s... OK (%d rates)\n", src.DisplayName(), st.Count)
			continue
		}
		c.g.printf("Fetching from %s... FAILED (%v)\n", src.DisplayName(), st.Err)
	}
}

type showRatesCmd struct {
	g        *Globals
	currency string
	top      int
	base     string
}

func (*showRatesCmd) Name() string     { return "show-rates" }
func (*showRatesCmd) Synopsis() string { return "list cached rates" }
func (*showRatesCmd) Usage() string {
	return `valutatrade show-rates [-currency C] [-top N] [-base B]

  Lists cached rates sorted by currency, or the N most expensive currencies
  when -top is set. Rates are expressed in -base (cache base by default).
`
}

func (c *showRatesCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.currency, "currency", "", "show only this currency")
	f.IntVar(&c.top, "top", 0, "show the N highest rates")
	f.StringVar(&c.base, "base", "", "quote currency for the listing")
}

func (c *showRatesCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.top < 0 {
		return c.g.usage("-top must not be negative")
	}

	s, err := c.g.open()
	if err != nil {
		return c.g.fail(err)
	}
	defer s.close()

	vs := s.Valuation()
	rates, err := vs.ListRates(valuation.Filter{Currency: c.currency, Top: c.top, Base: c.base})
	if err != nil {
		return c.g.fail(err)
	}

	c.g.println(headingStyle.Render(fmt.Sprintf("Rates from cache (updated at %s)", formatTime(vs.RefreshedAt()))))
	rows := make([][]string, 0, len(rates))
	for _, r := range rates {
		source, fetched := "derived", ""
		if !r.FetchedAt.IsZero() {
			source = r.Source.String()
			fetched = formatTime(r.FetchedAt)
		}
		if r.Stale {
			fetched += " (stale)"
		}
		rows = append(rows, []string{r.Currency + "_" + r.Base, r.Price.String(), source, strings.TrimSpace(fetched)})
	}
	c.g.println(renderTable([]string{"Pair", "Rate", "Source", "Fetched"}, rows))
	return subcommands.ExitSuccess
}

type getRateCmd struct {
	g    *Globals
	from string
	to   string
}

func (*getRateCmd) Name() string     { return "get-rate" }
func (*getRateCmd) Synopsis() string { return "print the rate between two currencies" }
func (*getRateCmd) Usage() string {
	return `valutatrade get-rate -from F -to T

  Prints how many units of T one unit of F buys, and the reverse rate.
`
}

func (c *getRateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.from, "from", "", "currency being priced")
	f.StringVar(&c.to, "to", "", "currency the price is expressed in")
}

func (c *getRateCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	pair, err := domain.NewPair(c.from, c.to)
	if err != nil {
		return c.g.usage("%v", err)
	}

	s, err := c.g.open()
	if err != nil {
		return c.g.fail(err)
	}
	defer s.close()

	vs := s.Valuation()
	rate, err := vs.Rate(pair.From, pair.To)
	if err != nil {
		return c.g.fail(err)
	}
	rev := pair.Reverse()
	reverse, err := vs.Rate(rev.From, rev.To)
	if err != nil {
		return c.g.fail(err)
	}

	c.g.printf("Rate %s→%s: %s (updated at %s)\n", pair.From, pair.To, rate, formatTime(vs.RefreshedAt()))
	c.g.printf("Reverse rate %s→%s: %s\n", rev.From, rev.To, reverse)
	for _, code := range []string{pair.From, pair.To} {
		if info, ok := domain.LookupCurrency(code); ok {
			c.g.printf("  %s\n", info.DisplayInfo())
		}
	}
	return subcommands.ExitSuccess
}

type historyCmd struct {
	g     *Globals
	limit int
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "list rate refresh history" }
func (*historyCmd) Usage() string {
	return `valutatrade history [-limit N]

  Lists committed refresh cycles, oldest first.
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "limit", 0, "show only the last N entries")
}

func (c *historyCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	s, err := c.g.open()
	if err != nil {
		return c.g.fail(err)
	}
	defer s.close()

	entries, err := s.Rates().History()
	if err != nil {
		return c.g.fail(err)
	}
	if len(entries) == 0 {
		c.g.println("No rate history yet. Run 'update-rates' first.")
		return subcommands.ExitSuccess
	}
	if c.limit > 0 && len(entries) > c.limit {
		entries = entries[len(entries)-c.limit:]
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		counts := make([]string, 0, len(e.SourceSummary))
		for _, src := range domain.Sources {
			if n, ok := e.SourceSummary[src]; ok {
				counts = append(counts, src.String()+"="+strconv.Itoa(n))
			}
		}
		failed := make([]string, 0, len(e.FailedSources))
		for _, src := range e.FailedSources {
			failed = append(failed, src.String())
		}
		rows = append(rows, []string{
			e.ID,
			formatTime(e.Timestamp),
			strconv.Itoa(e.TotalRatesWritten),
			strings.Join(counts, " "),
			strings.Join(failed, " "),
		})
	}
	c.g.println(headingStyle.Render(fmt.Sprintf("Rate history (%d entries)", len(rows))))
	c.g.println(renderTable([]string{"ID", "Time", "Written", "Sources", "Failed"}, rows))
	return subcommands.ExitSuccess
}
