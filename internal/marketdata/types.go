package marketdata

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Provider is a third-party market-data source. Every method is one billable
// outbound call; callers must go through a Fetcher so the call is governed.
type Provider interface {
	Name() string
	Quote(ctx context.Context, symbol string) (*Quote, error)
	Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error)
	News(ctx context.Context, symbol string, limit int) ([]NewsItem, error)
	MarketStatus(ctx context.Context) (*MarketStatus, error)
	Movers(ctx context.Context) (*Movers, error)
	Close() error
}

// Quote is a normalized last-trade snapshot.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Open          float64   `json:"open"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	PreviousClose float64   `json:"previous_close"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Volume        int64     `json:"volume"`
	TradingDay    string    `json:"trading_day"`
	Timestamp     time.Time `json:"timestamp"`
	Source        string    `json:"source"`
}

// Fundamentals is the slow-moving company overview.
type Fundamentals struct {
	Symbol        string  `json:"symbol"`
	Name          string  `json:"name"`
	Exchange      string  `json:"exchange"`
	Sector        string  `json:"sector"`
	Industry      string  `json:"industry"`
	MarketCap     float64 `json:"market_cap"`
	PERatio       float64 `json:"pe_ratio"`
	EPS           float64 `json:"eps"`
	DividendYield float64 `json:"dividend_yield"`
	Beta          float64 `json:"beta"`
	High52Week    float64 `json:"high_52_week"`
	Low52Week     float64 `json:"low_52_week"`
}

type NewsItem struct {
	Title          string    `json:"title"`
	URL            string    `json:"url"`
	Source         string    `json:"source"`
	Summary        string    `json:"summary"`
	PublishedAt    time.Time `json:"published_at"`
	SentimentScore float64   `json:"sentiment_score"`
	SentimentLabel string    `json:"sentiment_label"`
}

type MarketStatus struct {
	Markets   []MarketSession `json:"markets"`
	FetchedAt time.Time       `json:"fetched_at"`
}

type MarketSession struct {
	MarketType       string `json:"market_type"`
	Region           string `json:"region"`
	PrimaryExchanges string `json:"primary_exchanges"`
	LocalOpen        string `json:"local_open"`
	LocalClose       string `json:"local_close"`
	Status           string `json:"status"` // "open" | "closed"
}

// IsOpen reports whether the named region's equity market is open.
func (m *MarketStatus) IsOpen(region string) bool {
	for _, s := range m.Markets {
		if strings.EqualFold(s.Region, region) && strings.EqualFold(s.MarketType, "equity") {
			return strings.EqualFold(s.Status, "open")
		}
	}
	return false
}

// Movers is a screener result: top gainers, losers and most active names.
type Movers struct {
	Gainers     []Mover `json:"gainers"`
	Losers      []Mover `json:"losers"`
	MostActive  []Mover `json:"most_active"`
	LastUpdated string  `json:"last_updated"`
}

type Mover struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	ChangeAmount  float64 `json:"change_amount"`
	ChangePercent float64 `json:"change_percent"`
	Volume        int64   `json:"volume"`
}

// ValidateQuote rejects quotes no caller should cache.
func ValidateQuote(q *Quote) error {
	if q == nil {
		return fmt.Errorf("quote is nil")
	}
	if q.Symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if q.Price <= 0 {
		return fmt.Errorf("invalid price %.4f for %s", q.Price, q.Symbol)
	}
	if q.Volume < 0 {
		return fmt.Errorf("negative volume: %d", q.Volume)
	}
	if q.Timestamp.After(time.Now().Add(5 * time.Minute)) {
		return fmt.Errorf("quote timestamp too far in future: %v", q.Timestamp)
	}
	return nil
}

// NormalizeSymbol upper-cases and trims a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// ProviderError represents different types of provider failures
type ProviderError struct {
	Type    string // "network", "rate_limit", "provider_error", "bad_symbol"
	Symbol  string
	Message string
	Cause   error
}

func (e *ProviderError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Type, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Type, e.Symbol, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Cause }

func NewNetworkError(symbol, message string, cause error) *ProviderError {
	return &ProviderError{Type: "network", Symbol: symbol, Message: message, Cause: cause}
}

func NewRateLimitError(symbol, message string) *ProviderError {
	return &ProviderError{Type: "rate_limit", Symbol: symbol, Message: message}
}

func NewProviderError(symbol, message string, cause error) *ProviderError {
	return &ProviderError{Type: "provider_error", Symbol: symbol, Message: message, Cause: cause}
}

func NewBadSymbolError(symbol, message string) *ProviderError {
	return &ProviderError{Type: "bad_symbol", Symbol: symbol, Message: message}
}
