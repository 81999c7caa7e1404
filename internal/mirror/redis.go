// Package mirror publishes committed rate tables to Redis for other readers.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"go.uber.org/zap"
)

// LastRefreshKey holds the refresh time of the last published table.
const LastRefreshKey = "rates:last_refresh"

// Entry JSON value stored per currency.
type Entry struct {
	Currency  string    `json:"currency"`
	Base      string    `json:"base"`
	Price     string    `json:"price"`
	Source    string    `json:"source"`
	FetchedAt time.Time `json:"fetched_at"`
}

// RedisOptions connection settings.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// TTL expiry of published keys, zero keeps them forever.
	TTL         time.Duration
	DialTimeout time.Duration
}

// Redis writes rate tables into Redis keys rates:<BASE>:<SYM>.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedis creates a mirror. The connection is established lazily.
func NewRedis(opts RedisOptions, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.DialTimeout,
		WriteTimeout: opts.DialTimeout,
		MaxRetries:   1,
	})

	return &Redis{client: client, ttl: opts.TTL, logger: logger}
}

// Key returns the Redis key of a currency quoted in base.
func Key(base, currency string) string {
	return fmt.Sprintf("rates:%s:%s", base, currency)
}

// NewEntry converts a quote into its mirrored form.
func NewEntry(q domain.RateQuote) Entry {
	return Entry{
		Currency:  q.Currency,
		Base:      q.Base,
		Price:     q.Price.String(),
		Source:    q.Source.String(),
		FetchedAt: q.FetchedAt.UTC(),
	}
}

// Ping checks connectivity.
func (m *Redis) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Publish writes every quote of table in one pipeline.
func (m *Redis) Publish(ctx context.Context, table *domain.RateTable) error {
	if table.IsEmpty() {
		return nil
	}

	pipe := m.client.Pipeline()
	for _, q := range table.Quotes() {
		data, err := json.Marshal(NewEntry(q))
		if err != nil {
			return errors.Wrap(err, "marshal mirrored rate")
		}
		pipe.Set(ctx, Key(table.Base(), q.Currency), data, m.ttl)
	}
	pipe.Set(ctx, LastRefreshKey, table.RefreshedAt().UTC().Format(time.RFC3339Nano), m.ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "publish rates to redis")
	}

	m.logger.Debug("rates mirrored", zap.Int("count", table.Len()), zap.String("base", table.Base()))
	return nil
}

// Close closes the client.
func (m *Redis) Close() error {
	return m.client.Close()
}
