// Package sources implements the external rate providers the reconciler pulls from.
package sources

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/valutatrade/internal/domain"
)

// Failure kinds reported by adapters.
var (
	ErrUnreachable       = errors.New("unreachable")
	ErrMalformedResponse = errors.New("malformed response")
	ErrRateLimited       = errors.New("rate limited")
)

// Defaults for HTTP backed adapters.
const (
	DefaultTimeout = 10 * time.Second
	DefaultRetries = 2
)

// Adapter fetches quotes from one provider.
type Adapter interface {
	Source() domain.Source
	// Fetch returns quotes stamped at the adapter boundary or a *FetchError.
	Fetch(ctx context.Context) ([]domain.RateQuote, error)
}

// FetchError typed adapter failure.
type FetchError struct {
	Source domain.Source
	// Kind one of ErrUnreachable, ErrMalformedResponse, ErrRateLimited.
	Kind error
	Err  error
	// Wait server requested delay before the next attempt, zero when unknown.
	Wait time.Duration
}

func newFetchError(source domain.Source, kind error, err error) *FetchError {
	return &FetchError{Source: source, Kind: kind, Err: err}
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Source.DisplayName(), e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Source.DisplayName(), e.Kind, e.Err)
}

// RetryAfter returns the server requested delay.
func (e *FetchError) RetryAfter() time.Duration {
	return e.Wait
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *FetchError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// retryable reports whether another attempt may succeed.
func retryable(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrRateLimited)
}

// asFetchError coerces any error into a *FetchError of the given source.
func asFetchError(source domain.Source, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newFetchError(source, ErrUnreachable, err)
	}
	return newFetchError(source, ErrMalformedResponse, err)
}
