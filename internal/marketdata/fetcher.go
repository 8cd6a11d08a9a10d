package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/Rajchodisetti/trading-journal/internal/governor"
	"github.com/Rajchodisetti/trading-journal/internal/observ"
)

var (
	// ErrUnavailable means the daily quota is spent and nothing was ever
	// fetched for the key, so there is no value to fall back to.
	ErrUnavailable = errors.New("market data unavailable until quota resets")
	// ErrAdmissionDenied is returned in non-blocking mode when the window is
	// full. It wraps governor.ErrWindowExceeded; a spent daily quota surfaces
	// as ErrUnavailable instead.
	ErrAdmissionDenied = errors.New("admission denied")
)

// Admission is the slice of governor.AdmissionController the fetcher needs.
type Admission interface {
	WaitForAvailability(ctx context.Context) error
	Acquire() error
}

// Cache is the slice of governor.ResponseCache the fetcher needs.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, category governor.Category)
}

// Source says where a Fetch result came from.
type Source string

const (
	SourceCache Source = "cache"
	SourceLive  Source = "live"
	SourceStale Source = "stale"
)

// Result is a fetched value and its Source.
type Result struct {
	Value  any
	Source Source
}

// FetcherConfig tunes admission mode and the last-known-good fallback.
type FetcherConfig struct {
	// NonBlocking uses Acquire and fails with ErrAdmissionDenied instead of
	// waiting for the window to drain.
	NonBlocking bool
	// FallbackCapacity bounds the last-known-good store. Defaults to 512.
	FallbackCapacity int
	// FallbackTTL bounds how old a fallback value may be. Defaults to 24h.
	FallbackTTL time.Duration
}

// Fetcher runs every provider call through cache, admission and provider in
// that order. Concurrent misses for one key share a single provider call.
type Fetcher struct {
	admission Admission
	cache     Cache
	cfg       FetcherConfig

	group     singleflight.Group
	lastKnown *expirable.LRU[string, any]
}

// NewFetcher builds a Fetcher over admission and cache, filling zero
// FetcherConfig fields with defaults.
func NewFetcher(admission Admission, cache Cache, cfg FetcherConfig) *Fetcher {
	if cfg.FallbackCapacity <= 0 {
		cfg.FallbackCapacity = 512
	}
	if cfg.FallbackTTL <= 0 {
		cfg.FallbackTTL = 24 * time.Hour
	}
	return &Fetcher{
		admission: admission,
		cache:     cache,
		cfg:       cfg,
		lastKnown: expirable.NewLRU[string, any](cfg.FallbackCapacity, nil, cfg.FallbackTTL),
	}
}

// Fetch returns the cached value for key, or admits and runs fn, caching its
// result under category. When admission or fn fails, the last value ever
// fetched for key is returned with SourceStale if one is still held.
//
// Coalesced callers share the context of the caller that started the fetch.
func (f *Fetcher) Fetch(ctx context.Context, key string, category governor.Category, fn func(context.Context) (any, error)) (Result, error) {
	if v, ok := f.cache.Get(key); ok {
		observ.IncCounter("marketdata_fetch_total", map[string]string{"source": string(SourceCache)})
		return Result{Value: v, Source: SourceCache}, nil
	}

	v, err, shared := f.group.Do(key, func() (any, error) {
		return f.load(ctx, key, category, fn)
	})
	if shared {
		observ.IncCounter("marketdata_fetch_coalesced_total", nil)
	}
	if err != nil {
		observ.IncCounter("marketdata_fetch_errors_total", nil)
		return Result{}, err
	}
	res := v.(Result)
	observ.IncCounter("marketdata_fetch_total", map[string]string{"source": string(res.Source)})
	return res, nil
}

func (f *Fetcher) load(ctx context.Context, key string, category governor.Category, fn func(context.Context) (any, error)) (Result, error) {
	// another flight may have filled the cache between our miss and now
	if v, ok := f.cache.Get(key); ok {
		return Result{Value: v, Source: SourceCache}, nil
	}

	if err := f.admit(ctx); err != nil {
		if res, ok := f.stale(key, "admission", err); ok {
			return res, nil
		}
		if errors.Is(err, governor.ErrDailyQuotaExhausted) {
			return Result{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return Result{}, err
	}

	start := time.Now()
	v, err := fn(ctx)
	observ.RecordDuration("marketdata_provider_call", time.Since(start), map[string]string{"category": string(category)})
	if err != nil {
		if res, ok := f.stale(key, "provider", err); ok {
			return res, nil
		}
		return Result{}, err
	}

	f.cache.Set(key, v, category)
	f.lastKnown.Add(key, v)
	return Result{Value: v, Source: SourceLive}, nil
}

func (f *Fetcher) admit(ctx context.Context) error {
	if f.cfg.NonBlocking {
		err := f.admission.Acquire()
		if errors.Is(err, governor.ErrWindowExceeded) {
			return fmt.Errorf("%w: %w", ErrAdmissionDenied, err)
		}
		return err
	}
	return f.admission.WaitForAvailability(ctx)
}

func (f *Fetcher) stale(key, stage string, cause error) (Result, bool) {
	v, ok := f.lastKnown.Get(key)
	if !ok {
		return Result{}, false
	}
	observ.Log("marketdata_serving_stale", map[string]any{
		"key":   key,
		"stage": stage,
		"error": cause.Error(),
	})
	return Result{Value: v, Source: SourceStale}, true
}

// FetchAs is Fetch with a typed result.
func FetchAs[T any](ctx context.Context, f *Fetcher, key string, category governor.Category, fn func(context.Context) (T, error)) (T, Source, error) {
	var zero T
	res, err := f.Fetch(ctx, key, category, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, "", err
	}
	v, ok := res.Value.(T)
	if !ok {
		return zero, "", fmt.Errorf("cached value for %s has type %T", key, res.Value)
	}
	return v, res.Source, nil
}
