package setup

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/valutatrade/config"
	"github.com/vadiminshakov/valutatrade/internal/domain"
)

func TestAnswers_Config(t *testing.T) {
	a := DefaultAnswers()
	a.BaseCurrency = "eur"
	a.Sources = []string{"exchangerate"}
	a.APIKey = " secret "
	a.RatesTTL = "10m"
	a.RedisAddr = "localhost:6379"

	cfg, err := a.Config()
	require.NoError(t, err)
	assert.Equal(t, "EUR", cfg.BaseCurrency)
	assert.Equal(t, []domain.Source{domain.SourceExchangeRate}, cfg.Sources)
	assert.Equal(t, "secret", cfg.ExchangeRate.APIKey)
	assert.Equal(t, 10*time.Minute, cfg.RatesTTL)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestAnswers_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *Answers)
	}{
		{"no sources", func(a *Answers) { a.Sources = nil }},
		{"unknown source", func(a *Answers) { a.Sources = []string{"binance"} }},
		{"bad ttl", func(a *Answers) { a.RatesTTL = "soon" }},
		{"bad interval", func(a *Answers) { a.RefreshInterval = "0s" }},
		{"bad base", func(a *Answers) { a.BaseCurrency = "X" }},
		{"empty data dir", func(a *Answers) { a.DataDir = " " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := DefaultAnswers()
			tt.mutate(&a)
			_, err := a.Config()
			assert.Error(t, err)
		})
	}
}

func TestAnswers_WrittenConfigLoads(t *testing.T) {
	a := DefaultAnswers()
	a.Sources = []string{"exchangerate", "coingecko"}
	a.DataDir = t.TempDir()
	cfg, err := a.Config()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "valutatrade.yaml")
	require.NoError(t, config.Write(path, cfg))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, []domain.Source{domain.SourceExchangeRate, domain.SourceCoinGecko}, loaded.Sources)
	assert.Equal(t, cfg.DataDir, loaded.DataDir)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validateSymbol("btc"))
	assert.Error(t, validateSymbol(""))
	assert.NoError(t, validateDuration("0s"))
	assert.Error(t, validateDuration("-1m"))
	assert.Error(t, validateDuration("five"))
}
