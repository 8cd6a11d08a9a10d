package governor

import (
	"strings"
	"time"
)

// Category selects the freshness policy of a cached value.
type Category string

const (
	CategoryStockQuote    Category = "stock-quote"
	CategoryPremarketScan Category = "premarket-scan"
	CategoryFundamentals  Category = "fundamentals"
	CategoryScreener      Category = "screener"
	CategoryMarketStatus  Category = "market-status"
	CategoryNews          Category = "news"
	CategoryRealtime      Category = "realtime"
)

// Categories lists the closed set in a stable order.
func Categories() []Category {
	return []Category{
		CategoryStockQuote,
		CategoryPremarketScan,
		CategoryFundamentals,
		CategoryScreener,
		CategoryMarketStatus,
		CategoryNews,
		CategoryRealtime,
	}
}

// DefaultTTLs returns a fresh copy of the built-in TTL table.
func DefaultTTLs() map[Category]time.Duration {
	return map[Category]time.Duration{
		CategoryStockQuote:    60 * time.Second,
		CategoryPremarketScan: 5 * time.Minute,
		CategoryFundamentals:  24 * time.Hour,
		CategoryScreener:      30 * time.Second,
		CategoryMarketStatus:  5 * time.Minute,
		CategoryNews:          15 * time.Minute,
		CategoryRealtime:      5 * time.Second,
	}
}

// Valid reports whether c belongs to the closed set.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory accepts the canonical labels plus upper/underscore
// spellings ("SCREENER", "stock_quote"). Unknown input maps to stock-quote
// with ok false.
func ParseCategory(s string) (c Category, ok bool) {
	c = Category(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "_", "-"))
	if c.Valid() {
		return c, true
	}
	return CategoryStockQuote, false
}
