package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"go.uber.org/zap"
)

// DefaultExchangeRateURL v6 API root.
const DefaultExchangeRateURL = "https://v6.exchangerate-api.com/v6"

// ExchangeRateConfig settings of the ExchangeRate-API adapter.
type ExchangeRateConfig struct {
	URL    string
	APIKey string
	// Base currency rates are requested against.
	Base string
	// Currencies fiat codes to keep from the response.
	Currencies []string
}

// ExchangeRate adapter for fiat rates.
type ExchangeRate struct {
	cfg     ExchangeRateConfig
	fetcher *httpFetcher
}

type exchangeRateResponse struct {
	Result          string                 `json:"result"`
	ErrorType       string                 `json:"error-type"`
	ConversionRates map[string]json.Number `json:"conversion_rates"`
	Rates           map[string]json.Number `json:"rates"`
}

// NewExchangeRate creates the ExchangeRate-API adapter.
func NewExchangeRate(cfg ExchangeRateConfig, opts HTTPOptions) *ExchangeRate {
	if cfg.URL == "" {
		cfg.URL = DefaultExchangeRateURL
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	cfg.Base = strings.ToUpper(cfg.Base)
	return &ExchangeRate{cfg: cfg, fetcher: newHTTPFetcher(domain.SourceExchangeRate, opts)}
}

// Source implements Adapter.
func (e *ExchangeRate) Source() domain.Source { return domain.SourceExchangeRate }

// Fetch implements Adapter. The API answers "1 BASE = x CUR"; quotes are
// inverted into "1 CUR = 1/x BASE".
func (e *ExchangeRate) Fetch(ctx context.Context) ([]domain.RateQuote, error) {
	if e.cfg.APIKey == "" {
		return nil, newFetchError(domain.SourceExchangeRate, ErrUnreachable,
			errors.New("api key is missing, set EXCHANGERATE_API_KEY"))
	}

	var payload exchangeRateResponse
	endpoint := fmt.Sprintf("%s/%s/latest/%s", e.cfg.URL, e.cfg.APIKey, e.cfg.Base)
	if err := e.fetcher.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}

	if payload.Result != "success" {
		kind := ErrMalformedResponse
		if payload.ErrorType == "quota-reached" {
			kind = ErrRateLimited
		}
		reason := payload.ErrorType
		if reason == "" {
			reason = payload.Result
		}
		return nil, newFetchError(domain.SourceExchangeRate, kind, fmt.Errorf("api error: %s", reason))
	}

	rates := payload.ConversionRates
	if rates == nil {
		rates = payload.Rates
	}
	if rates == nil {
		return nil, newFetchError(domain.SourceExchangeRate, ErrMalformedResponse,
			errors.New("conversion_rates field missing"))
	}

	fetchedAt := e.fetcher.now().UTC()
	one := decimal.NewFromInt(1)
	quotes := make([]domain.RateQuote, 0, len(e.cfg.Currencies))
	for _, cur := range e.cfg.Currencies {
		code := strings.ToUpper(cur)
		raw, ok := rates[code]
		if !ok {
			continue
		}
		perBase, err := decimal.NewFromString(raw.String())
		if err != nil {
			return nil, newFetchError(domain.SourceExchangeRate, ErrMalformedResponse,
				errors.Wrapf(err, "parse %s rate", code))
		}
		if !perBase.IsPositive() {
			e.fetcher.logger.Warn("skipping non-positive rate", zap.String("currency", code))
			continue
		}
		quotes = append(quotes, domain.RateQuote{
			Currency:  code,
			Price:     domain.DivRate(one, perBase),
			Base:      e.cfg.Base,
			Source:    domain.SourceExchangeRate,
			FetchedAt: fetchedAt,
		})
	}

	return quotes, nil
}
