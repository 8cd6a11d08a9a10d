package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/trading-journal/internal/governor"
	"github.com/Rajchodisetti/trading-journal/internal/observ"
)

func TestMain(m *testing.M) {
	observ.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// stepClock is a manual clock shared by the cache and the controller.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *stepClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

// fakeAdmission admits until deny is set.
type fakeAdmission struct {
	deny    atomic.Bool
	waitErr error
	admits  atomic.Int64
}

func (a *fakeAdmission) WaitForAvailability(ctx context.Context) error {
	if a.waitErr != nil {
		return a.waitErr
	}
	a.admits.Add(1)
	return nil
}

func (a *fakeAdmission) Acquire() error {
	if a.deny.Load() {
		return &governor.QuotaError{Type: "window", RetryAfter: time.Second}
	}
	a.admits.Add(1)
	return nil
}

func newGoverned(t *testing.T, clock governor.Clock, dailyLimit int) (*governor.AdmissionController, *governor.ResponseCache) {
	t.Helper()
	ac, err := governor.NewAdmissionController(context.Background(), governor.Config{
		MaxCallsPerWindow: 5,
		Window:            time.Minute,
		DailyLimit:        dailyLimit,
		Clock:             clock,
	}, nil)
	require.NoError(t, err)
	return ac, governor.NewResponseCache(governor.CacheConfig{Clock: clock})
}

func TestFetcher_CacheHitSkipsAdmission(t *testing.T) {
	adm := &fakeAdmission{}
	f := NewFetcher(adm, governor.NewResponseCache(governor.CacheConfig{}), FetcherConfig{})
	calls := 0
	fn := func(ctx context.Context) (any, error) {
		calls++
		return 42.0, nil
	}

	res, err := f.Fetch(context.Background(), "stock-quote:AAPL", governor.CategoryStockQuote, fn)
	require.NoError(t, err)
	assert.Equal(t, SourceLive, res.Source)
	assert.Equal(t, 42.0, res.Value)

	res, err = f.Fetch(context.Background(), "stock-quote:AAPL", governor.CategoryStockQuote, fn)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), adm.admits.Load())
}

func TestFetcher_CoalescesConcurrentMisses(t *testing.T) {
	adm := &fakeAdmission{}
	f := NewFetcher(adm, governor.NewResponseCache(governor.CacheConfig{}), FetcherConfig{})

	var calls atomic.Int64
	release := make(chan struct{})
	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return "quote", nil
	}

	var wg sync.WaitGroup
	results := make([]Result, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.Fetch(context.Background(), "k", governor.CategoryStockQuote, fn)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(1), adm.admits.Load())
	for _, r := range results {
		assert.Equal(t, "quote", r.Value)
	}
}

func TestFetcher_ExhaustedServesStale(t *testing.T) {
	clock := &stepClock{now: time.Date(2024, time.March, 11, 12, 0, 0, 0, time.Local)}
	ac, cache := newGoverned(t, clock, 1)
	f := NewFetcher(ac, cache, FetcherConfig{})

	price := 100.0
	fn := func(ctx context.Context) (any, error) {
		price++
		return price, nil
	}

	res, err := f.Fetch(context.Background(), "stock-quote:MSFT", governor.CategoryStockQuote, fn)
	require.NoError(t, err)
	assert.Equal(t, SourceLive, res.Source)

	clock.Advance(2 * time.Minute)
	res, err = f.Fetch(context.Background(), "stock-quote:MSFT", governor.CategoryStockQuote, fn)
	require.NoError(t, err)
	assert.Equal(t, SourceStale, res.Source)
	assert.Equal(t, 101.0, res.Value)
	assert.Equal(t, 1, ac.Stats().DailyCalls)
}

func TestFetcher_ExhaustedWithoutHistory(t *testing.T) {
	clock := &stepClock{now: time.Date(2024, time.March, 11, 12, 0, 0, 0, time.Local)}
	ac, cache := newGoverned(t, clock, 1)
	f := NewFetcher(ac, cache, FetcherConfig{})
	fn := func(ctx context.Context) (any, error) { return 1, nil }

	_, err := f.Fetch(context.Background(), "a", governor.CategoryStockQuote, fn)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "b", governor.CategoryStockQuote, fn)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, governor.ErrDailyQuotaExhausted)
}

func TestFetcher_NonBlockingDenied(t *testing.T) {
	adm := &fakeAdmission{}
	adm.deny.Store(true)
	f := NewFetcher(adm, governor.NewResponseCache(governor.CacheConfig{}), FetcherConfig{NonBlocking: true})

	called := false
	_, err := f.Fetch(context.Background(), "k", governor.CategoryNews, func(ctx context.Context) (any, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrAdmissionDenied)
	assert.ErrorIs(t, err, governor.ErrWindowExceeded)
	assert.False(t, called)
}

func TestFetcher_NonBlockingDailyExhausted(t *testing.T) {
	clock := &stepClock{now: time.Date(2024, time.March, 11, 12, 0, 0, 0, time.Local)}
	ac, cache := newGoverned(t, clock, 1)
	f := NewFetcher(ac, cache, FetcherConfig{NonBlocking: true})
	calls := 0
	fn := func(ctx context.Context) (any, error) {
		calls++
		return calls, nil
	}

	_, err := f.Fetch(context.Background(), "stock-quote:AAPL", governor.CategoryStockQuote, fn)
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), "stock-quote:MSFT", governor.CategoryStockQuote, fn)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, err, governor.ErrDailyQuotaExhausted)
	assert.NotErrorIs(t, err, ErrAdmissionDenied)
	assert.Equal(t, 1, calls)

	// a key fetched before exhaustion still falls back to its last value
	clock.Advance(2 * time.Minute)
	res, err := f.Fetch(context.Background(), "stock-quote:AAPL", governor.CategoryStockQuote, fn)
	require.NoError(t, err)
	assert.Equal(t, SourceStale, res.Source)
	assert.Equal(t, 1, res.Value)
}

func TestFetcher_NonBlockingWindowFull(t *testing.T) {
	clock := &stepClock{now: time.Date(2024, time.March, 11, 12, 0, 0, 0, time.Local)}
	ac, cache := newGoverned(t, clock, 0)
	f := NewFetcher(ac, cache, FetcherConfig{NonBlocking: true})
	fn := func(ctx context.Context) (any, error) { return 1, nil }

	for i := 0; i < 5; i++ {
		_, err := f.Fetch(context.Background(), fmt.Sprintf("news:%d", i), governor.CategoryNews, fn)
		require.NoError(t, err)
	}

	_, err := f.Fetch(context.Background(), "news:5", governor.CategoryNews, fn)
	assert.ErrorIs(t, err, ErrAdmissionDenied)
	var qe *governor.QuotaError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "window", qe.Type)
	assert.Equal(t, time.Minute, qe.RetryAfter)
}

func TestFetcher_ProviderErrorFallsBackToLastKnown(t *testing.T) {
	clock := &stepClock{now: time.Date(2024, time.March, 11, 12, 0, 0, 0, time.Local)}
	cache := governor.NewResponseCache(governor.CacheConfig{Clock: clock})
	f := NewFetcher(&fakeAdmission{}, cache, FetcherConfig{})
	boom := errors.New("upstream 500")

	_, err := f.Fetch(context.Background(), "k", governor.CategoryRealtime, func(ctx context.Context) (any, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = f.Fetch(context.Background(), "k", governor.CategoryRealtime, func(ctx context.Context) (any, error) {
		return "v1", nil
	})
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	res, err := f.Fetch(context.Background(), "k", governor.CategoryRealtime, func(ctx context.Context) (any, error) {
		return nil, boom
	})
	require.NoError(t, err)
	assert.Equal(t, SourceStale, res.Source)
	assert.Equal(t, "v1", res.Value)
}

func TestFetcher_WaitCancelled(t *testing.T) {
	adm := &fakeAdmission{waitErr: context.Canceled}
	f := NewFetcher(adm, governor.NewResponseCache(governor.CacheConfig{}), FetcherConfig{})

	_, err := f.Fetch(context.Background(), "k", governor.CategoryStockQuote, func(ctx context.Context) (any, error) {
		return 1, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrUnavailable)
}

func TestFetchAs_TypeMismatch(t *testing.T) {
	cache := governor.NewResponseCache(governor.CacheConfig{})
	cache.Set("k", "a string", governor.CategoryStockQuote)
	f := NewFetcher(&fakeAdmission{}, cache, FetcherConfig{})

	_, _, err := FetchAs(context.Background(), f, "k", governor.CategoryStockQuote, func(ctx context.Context) (int, error) {
		return 1, nil
	})
	assert.Error(t, err)
}
