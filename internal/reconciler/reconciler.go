// Package reconciler merges quotes from all rate sources into one rate table per refresh cycle.
package reconciler

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"github.com/vadiminshakov/valutatrade/internal/sources"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SourceStatus outcome of one adapter within a cycle.
type SourceStatus struct {
	// Count quotes accepted into the table.
	Count int
	// Dropped quotes rejected during normalization.
	Dropped int
	Err     error
}

// OK reports whether the adapter call succeeded.
func (s SourceStatus) OK() bool {
	return s.Err == nil
}

// RefreshResult outcome of a reconciliation cycle.
type RefreshResult struct {
	// UpdatedCount quotes written by this cycle.
	UpdatedCount    int
	PerSourceStatus map[domain.Source]SourceStatus
	// Order sources in invocation order.
	Order    []domain.Source
	NewTable *domain.RateTable
}

// FailedSources lists sources whose fetch failed, in invocation order.
func (r *RefreshResult) FailedSources() []domain.Source {
	var failed []domain.Source
	for _, s := range r.Order {
		if !r.PerSourceStatus[s].OK() {
			failed = append(failed, s)
		}
	}
	return failed
}

// Succeeded lists sources whose fetch succeeded, in invocation order.
func (r *RefreshResult) Succeeded() []domain.Source {
	var ok []domain.Source
	for _, s := range r.Order {
		if r.PerSourceStatus[s].OK() {
			ok = append(ok, s)
		}
	}
	return ok
}

// Summary converts the result into the statistics persisted with the commit.
func (r *RefreshResult) Summary() domain.RefreshSummary {
	counts := make(map[domain.Source]int, len(r.PerSourceStatus))
	for s, st := range r.PerSourceStatus {
		counts[s] = st.Count
	}
	return domain.RefreshSummary{
		SourceSummary:     counts,
		TotalRatesWritten: r.UpdatedCount,
		FailedSources:     r.FailedSources(),
	}
}

// Reconciler runs adapters and merges their quotes.
type Reconciler struct {
	base     string
	adapters []sources.Adapter
	logger   *zap.Logger
}

// New creates a reconciler. Adapter order defines merge precedence: later adapters win.
func New(base string, adapters []sources.Adapter, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		base:     strings.ToUpper(base),
		adapters: adapters,
		logger:   logger,
	}
}

// Base canonical base currency.
func (r *Reconciler) Base() string {
	return r.base
}

// Sources lists configured sources in invocation order.
func (r *Reconciler) Sources() []domain.Source {
	out := make([]domain.Source, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a.Source())
	}
	return out
}

type fetchOutcome struct {
	quotes []domain.RateQuote
	err    error
}

// Refresh runs every adapter matching filter and builds a new table on top of previous.
// It fails with domain.ErrNoSourcesAvailable when no adapter succeeds.
func (r *Reconciler) Refresh(ctx context.Context, filter domain.Source, previous *domain.RateTable) (*RefreshResult, error) {
	if previous == nil || previous.Base() != r.base {
		previous = domain.EmptyRateTable(r.base)
	}

	selected := make([]sources.Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		if a.Source().Matches(filter) {
			selected = append(selected, a)
		}
	}
	if len(selected) == 0 {
		return nil, errors.Wrapf(domain.ErrNoSourcesAvailable, "no adapter configured for source %s", filter)
	}

	// adapters run concurrently, results are merged in configuration order
	outcomes := make([]fetchOutcome, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range selected {
		g.Go(func() error {
			r.logger.Info("fetching rates", zap.Stringer("source", a.Source()))
			quotes, err := a.Fetch(gctx)
			outcomes[i] = fetchOutcome{quotes: quotes, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := &RefreshResult{
		PerSourceStatus: make(map[domain.Source]SourceStatus, len(selected)),
		Order:           make([]domain.Source, 0, len(selected)),
	}

	// quotes already in the canonical base serve as conversion rates for the rest
	direct := make(map[string]domain.RateQuote)
	for _, out := range outcomes {
		for _, q := range out.quotes {
			if out.err == nil && strings.EqualFold(q.Base, r.base) && q.Price.IsPositive() {
				direct[strings.ToUpper(q.Currency)] = q
			}
		}
	}

	merged := make(map[string]domain.RateQuote)
	succeeded := 0
	var failures []string
	for i, a := range selected {
		src := a.Source()
		result.Order = append(result.Order, src)
		out := outcomes[i]
		if out.err != nil {
			r.logger.Error("rate source failed", zap.Stringer("source", src), zap.Error(out.err))
			result.PerSourceStatus[src] = SourceStatus{Err: out.err}
			failures = append(failures, out.err.Error())
			continue
		}
		succeeded++

		status := SourceStatus{}
		for _, q := range out.quotes {
			normalized, ok := r.normalize(q, direct, previous)
			if !ok {
				status.Dropped++
				r.logger.Warn("dropping quote",
					zap.Stringer("source", src),
					zap.String("currency", q.Currency),
					zap.String("base", q.Base),
					zap.String("price", q.Price.String()))
				continue
			}
			merged[normalized.Currency] = normalized
			status.Count++
		}
		result.PerSourceStatus[src] = status
		r.logger.Info("fetched rates",
			zap.Stringer("source", src),
			zap.Int("count", status.Count),
			zap.Int("dropped", status.Dropped))
	}

	if succeeded == 0 {
		return result, errors.Wrap(domain.ErrNoSourcesAvailable, strings.Join(failures, "; "))
	}

	table := previous
	if filter != domain.SourceAll && result.PerSourceStatus[filter].OK() {
		table = table.Without(evicted(previous, filter, merged)...)
	}

	fresh := make([]domain.RateQuote, 0, len(merged))
	for _, q := range merged {
		fresh = append(fresh, q)
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].Currency < fresh[j].Currency })

	result.NewTable = table.Merge(fresh...)
	result.UpdatedCount = len(fresh)

	return result, nil
}

// normalize re-expresses q in the canonical base. The conversion uses the
// newest known quote of q's base: this cycle's direct quotes first, then previous.
// Quotes without a conversion path, non-positive prices and quotes of the base
// itself are rejected.
func (r *Reconciler) normalize(q domain.RateQuote, direct map[string]domain.RateQuote, previous *domain.RateTable) (domain.RateQuote, bool) {
	q.Currency = strings.ToUpper(q.Currency)
	q.Base = strings.ToUpper(q.Base)

	if !q.Price.IsPositive() || q.Currency == r.base || q.Currency == q.Base {
		return domain.RateQuote{}, false
	}
	if q.Base == r.base {
		return q, true
	}

	var basePrice decimal.Decimal
	if bq, ok := direct[q.Base]; ok {
		basePrice = bq.Price
	} else if bq, ok := previous.Quote(q.Base); ok {
		basePrice = bq.Price
	} else {
		return domain.RateQuote{}, false
	}

	q.Price = domain.RoundRate(q.Price.Mul(basePrice))
	q.Base = r.base
	return q, true
}

// evicted lists currencies previously attributed to source that it no longer reports.
func evicted(previous *domain.RateTable, source domain.Source, merged map[string]domain.RateQuote) []string {
	var out []string
	for _, q := range previous.Quotes() {
		if q.Source != source {
			continue
		}
		if _, ok := merged[q.Currency]; !ok {
			out = append(out, q.Currency)
		}
	}
	return out
}
