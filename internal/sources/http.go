package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/valutatrade/internal/domain"
	"github.com/vadiminshakov/valutatrade/pkg/retrier"
	"go.uber.org/zap"
)

// HTTPOptions settings shared by HTTP backed adapters.
type HTTPOptions struct {
	// Timeout bounds a single request attempt.
	Timeout time.Duration
	// Retries number of extra attempts for unreachable or rate limited responses.
	Retries int
	// RetryInterval initial backoff between attempts.
	RetryInterval time.Duration
	Client        *http.Client
	Now           func() time.Time
	Logger        *zap.Logger
}

type httpFetcher struct {
	source  domain.Source
	client  *http.Client
	timeout time.Duration
	retrier *retrier.Retrier
	now     func() time.Time
	logger  *zap.Logger
}

func newHTTPFetcher(source domain.Source, opts HTTPOptions) *httpFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 500 * time.Millisecond
	}
	if opts.Client == nil {
		opts.Client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				MaxIdleConns:          10,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   3 * time.Second,
				ResponseHeaderTimeout: 5 * time.Second,
			},
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	logger := opts.Logger.With(zap.Stringer("source", source))
	return &httpFetcher{
		source:  source,
		client:  opts.Client,
		timeout: opts.Timeout,
		retrier: retrier.New(
			retrier.WithMaxRetries(opts.Retries),
			retrier.WithInitialInterval(opts.RetryInterval),
			retrier.WithMaxInterval(5*time.Second),
			retrier.WithRetryIf(retryable),
			retrier.WithOnRetry(func(attempt int, err error, wait time.Duration) {
				logger.Warn("rate request failed, retrying",
					zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
			}),
		),
		now:    opts.Now,
		logger: logger,
	}
}

// getJSON performs a GET with retries and decodes the body into out.
// Numbers are decoded as json.Number so prices never pass through float64.
func (f *httpFetcher) getJSON(ctx context.Context, url string, out any) error {
	err := f.retrier.Do(ctx, func(ctx context.Context) error {
		return f.getOnce(ctx, url, out)
	})
	if err != nil {
		f.logger.Warn("rate request failed", zap.Error(err))
		return asFetchError(f.source, err)
	}
	return nil
}

func (f *httpFetcher) getOnce(ctx context.Context, url string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return newFetchError(f.source, ErrMalformedResponse, errors.Wrap(err, "build request"))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return newFetchError(f.source, ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		fe := newFetchError(f.source, ErrRateLimited, fmt.Errorf("HTTP %d", resp.StatusCode))
		fe.Wait = retryAfter(resp.Header.Get("Retry-After"))
		return fe
	case resp.StatusCode >= http.StatusInternalServerError:
		return newFetchError(f.source, ErrUnreachable, fmt.Errorf("HTTP %d", resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return newFetchError(f.source, ErrMalformedResponse, fmt.Errorf("HTTP %d: %s", resp.StatusCode, body))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		if ctx.Err() != nil {
			return newFetchError(f.source, ErrUnreachable, ctx.Err())
		}
		return newFetchError(f.source, ErrMalformedResponse, errors.Wrap(err, "decode body"))
	}

	return nil
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
