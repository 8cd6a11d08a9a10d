package marketdata

import (
	"context"
	"fmt"

	"github.com/Rajchodisetti/trading-journal/internal/governor"
)

// Service is the governed entry point to a Provider. Each method maps to one
// cache category and one provider call on a miss.
type Service struct {
	provider Provider
	fetcher  *Fetcher
}

// NewService routes every provider call through fetcher.
func NewService(provider Provider, fetcher *Fetcher) *Service {
	return &Service{provider: provider, fetcher: fetcher}
}

func (s *Service) Provider() Provider { return s.provider }

// CacheKey builds the cache key for a category and symbol. Symbol-less
// lookups (market status, movers) use the category alone.
func CacheKey(category governor.Category, symbol string) string {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return string(category)
	}
	return string(category) + ":" + symbol
}

// Quote returns the stock-quote for symbol.
func (s *Service) Quote(ctx context.Context, symbol string) (*Quote, Source, error) {
	return s.quote(ctx, symbol, governor.CategoryStockQuote)
}

// RealtimeQuote is Quote with the short realtime TTL.
func (s *Service) RealtimeQuote(ctx context.Context, symbol string) (*Quote, Source, error) {
	return s.quote(ctx, symbol, governor.CategoryRealtime)
}

func (s *Service) quote(ctx context.Context, symbol string, category governor.Category) (*Quote, Source, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, "", NewBadSymbolError(symbol, "empty symbol")
	}
	return FetchAs(ctx, s.fetcher, CacheKey(category, symbol), category, func(ctx context.Context) (*Quote, error) {
		return s.provider.Quote(ctx, symbol)
	})
}

// Fundamentals returns the company overview for symbol.
func (s *Service) Fundamentals(ctx context.Context, symbol string) (*Fundamentals, Source, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, "", NewBadSymbolError(symbol, "empty symbol")
	}
	return FetchAs(ctx, s.fetcher, CacheKey(governor.CategoryFundamentals, symbol), governor.CategoryFundamentals,
		func(ctx context.Context) (*Fundamentals, error) {
			return s.provider.Fundamentals(ctx, symbol)
		})
}

// News returns up to limit headlines, for symbol or the whole market when
// symbol is empty.
func (s *Service) News(ctx context.Context, symbol string, limit int) ([]NewsItem, Source, error) {
	key := CacheKey(governor.CategoryNews, symbol)
	if limit > 0 {
		key = fmt.Sprintf("%s#%d", key, limit)
	}
	return FetchAs(ctx, s.fetcher, key, governor.CategoryNews, func(ctx context.Context) ([]NewsItem, error) {
		return s.provider.News(ctx, symbol, limit)
	})
}

// MarketStatus reports which markets are open.
func (s *Service) MarketStatus(ctx context.Context) (*MarketStatus, Source, error) {
	return FetchAs(ctx, s.fetcher, CacheKey(governor.CategoryMarketStatus, ""), governor.CategoryMarketStatus,
		func(ctx context.Context) (*MarketStatus, error) {
			return s.provider.MarketStatus(ctx)
		})
}

// Movers backs the screener view.
func (s *Service) Movers(ctx context.Context) (*Movers, Source, error) {
	return FetchAs(ctx, s.fetcher, CacheKey(governor.CategoryScreener, ""), governor.CategoryScreener,
		func(ctx context.Context) (*Movers, error) {
			return s.provider.Movers(ctx)
		})
}

// PremarketScan is the movers list cached under the longer premarket TTL.
func (s *Service) PremarketScan(ctx context.Context) (*Movers, Source, error) {
	return FetchAs(ctx, s.fetcher, CacheKey(governor.CategoryPremarketScan, ""), governor.CategoryPremarketScan,
		func(ctx context.Context) (*Movers, error) {
			return s.provider.Movers(ctx)
		})
}
