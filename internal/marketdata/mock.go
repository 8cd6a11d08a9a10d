package marketdata

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MockProvider serves deterministic data and counts every call, so tests can
// assert how many outbound requests the governor let through.
type MockProvider struct {
	mu     sync.RWMutex
	quotes map[string]*Quote
	err    error
	delay  time.Duration

	calls atomic.Int64
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a mock provider with predefined quotes.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		quotes: map[string]*Quote{
			"AAPL": {Symbol: "AAPL", Price: 206.80, Open: 205.10, High: 207.25, Low: 204.90, PreviousClose: 205.00, Change: 1.80, ChangePercent: 0.878, Volume: 12500000},
			"NVDA": {Symbol: "NVDA", Price: 450.00, Open: 445.00, High: 452.30, Low: 444.10, PreviousClose: 446.00, Change: 4.00, ChangePercent: 0.897, Volume: 8200000},
			"BIOX": {Symbol: "BIOX", Price: 12.50, Open: 11.90, High: 12.80, Low: 11.75, PreviousClose: 11.80, Change: 0.70, ChangePercent: 5.932, Volume: 125000},
		},
	}
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) Close() error { return nil }

// Calls reports how many provider methods have been invoked.
func (m *MockProvider) Calls() int64 { return m.calls.Load() }

// SetError makes every subsequent call fail with err; nil restores success.
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetDelay makes every call block for d (or until ctx is done).
func (m *MockProvider) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// AddQuote adds or replaces a quote.
func (m *MockProvider) AddQuote(q Quote) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.Symbol = NormalizeSymbol(q.Symbol)
	m.quotes[q.Symbol] = &q
}

func (m *MockProvider) begin(ctx context.Context) error {
	m.calls.Add(1)

	m.mu.RLock()
	err, delay := m.err, m.delay
	m.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (m *MockProvider) Quote(ctx context.Context, symbol string) (*Quote, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	m.mu.RLock()
	q, ok := m.quotes[symbol]
	m.mu.RUnlock()
	if !ok {
		return nil, NewBadSymbolError(symbol, "symbol not found in mock data")
	}

	quote := *q
	quote.Timestamp = time.Now()
	quote.TradingDay = quote.Timestamp.Format("2006-01-02")
	quote.Source = m.Name()
	return &quote, nil
}

func (m *MockProvider) Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)

	m.mu.RLock()
	q, ok := m.quotes[symbol]
	m.mu.RUnlock()
	if !ok {
		return nil, NewBadSymbolError(symbol, "symbol not found in mock data")
	}

	return &Fundamentals{
		Symbol:     symbol,
		Name:       symbol + " Inc",
		Exchange:   "NASDAQ",
		Sector:     "TECHNOLOGY",
		MarketCap:  q.Price * 1e9,
		PERatio:    25,
		EPS:        q.Price / 25,
		Beta:       1.1,
		High52Week: q.Price * 1.2,
		Low52Week:  q.Price * 0.7,
	}, nil
}

func (m *MockProvider) News(ctx context.Context, symbol string, limit int) ([]NewsItem, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	symbol = NormalizeSymbol(symbol)
	if limit <= 0 {
		limit = 3
	}

	now := time.Now().UTC()
	items := make([]NewsItem, 0, limit)
	for i := 0; i < limit; i++ {
		items = append(items, NewsItem{
			Title:          fmt.Sprintf("%s headline %d", symbol, i+1),
			URL:            fmt.Sprintf("https://example.com/news/%s/%d", symbol, i+1),
			Source:         "mock",
			PublishedAt:    now.Add(-time.Duration(i) * time.Hour),
			SentimentScore: 0.1,
			SentimentLabel: "Neutral",
		})
	}
	return items, nil
}

func (m *MockProvider) MarketStatus(ctx context.Context) (*MarketStatus, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}
	return &MarketStatus{
		Markets: []MarketSession{{
			MarketType:       "Equity",
			Region:           "United States",
			PrimaryExchanges: "NASDAQ, NYSE",
			LocalOpen:        "09:30",
			LocalClose:       "16:15",
			Status:           "open",
		}},
		FetchedAt: time.Now().UTC(),
	}, nil
}

func (m *MockProvider) Movers(ctx context.Context) (*Movers, error) {
	if err := m.begin(ctx); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	movers := &Movers{LastUpdated: time.Now().UTC().Format(time.DateTime)}
	for _, q := range m.quotes {
		row := Mover{Symbol: q.Symbol, Price: q.Price, ChangeAmount: q.Change, ChangePercent: q.ChangePercent, Volume: q.Volume}
		if q.Change >= 0 {
			movers.Gainers = append(movers.Gainers, row)
		} else {
			movers.Losers = append(movers.Losers, row)
		}
		movers.MostActive = append(movers.MostActive, row)
	}
	return movers, nil
}
