package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAlphaVantage(t *testing.T, handler http.HandlerFunc) *AlphaVantageProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := NewAlphaVantageProvider(AlphaVantageConfig{
		APIKey:            "test-key-123456",
		BaseURL:           srv.URL,
		TimeoutSeconds:    2,
		RequestsPerSecond: 1000,
		Burst:             10,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestNewAlphaVantageProvider_RequiresKey(t *testing.T) {
	_, err := NewAlphaVantageProvider(AlphaVantageConfig{})
	assert.Error(t, err)
}

func TestAlphaVantage_Quote(t *testing.T) {
	p := newTestAlphaVantage(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GLOBAL_QUOTE", r.URL.Query().Get("function"))
		assert.Equal(t, "IBM", r.URL.Query().Get("symbol"))
		assert.Equal(t, "test-key-123456", r.URL.Query().Get("apikey"))
		_, _ = w.Write([]byte(`{"Global Quote": {
			"01. symbol": "IBM",
			"02. open": "168.2000",
			"03. high": "170.1000",
			"04. low": "167.9000",
			"05. price": "169.5500",
			"06. volume": "3821450",
			"07. latest trading day": "2024-03-08",
			"08. previous close": "168.0000",
			"09. change": "1.5500",
			"10. change percent": "0.9226%"
		}}`))
	})

	q, err := p.Quote(context.Background(), "ibm")
	require.NoError(t, err)
	assert.Equal(t, "IBM", q.Symbol)
	assert.Equal(t, 169.55, q.Price)
	assert.Equal(t, int64(3821450), q.Volume)
	assert.Equal(t, 0.9226, q.ChangePercent)
	assert.Equal(t, "2024-03-08", q.TradingDay)
	assert.Equal(t, "alphavantage", q.Source)
}

func TestAlphaVantage_ErrorEnvelopes(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType string
	}{
		{"throttle note", http.StatusOK, `{"Note": "Thank you for using Alpha Vantage! Our standard API call frequency is 5 calls per minute"}`, "rate_limit"},
		{"information", http.StatusOK, `{"Information": "daily rate limit reached"}`, "rate_limit"},
		{"error message", http.StatusOK, `{"Error Message": "Invalid API call"}`, "provider_error"},
		{"empty quote", http.StatusOK, `{"Global Quote": {}}`, "bad_symbol"},
		{"http 429", http.StatusTooManyRequests, ``, "rate_limit"},
		{"http 500", http.StatusInternalServerError, `oops`, "provider_error"},
		{"not json", http.StatusOK, `<html>`, "provider_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestAlphaVantage(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := p.Quote(context.Background(), "IBM")
			var pe *ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.wantType, pe.Type)
		})
	}
}

func TestAlphaVantage_Fundamentals(t *testing.T) {
	p := newTestAlphaVantage(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "OVERVIEW", r.URL.Query().Get("function"))
		_, _ = w.Write([]byte(`{"Symbol":"IBM","Name":"International Business Machines","Exchange":"NYSE",
			"Sector":"TECHNOLOGY","MarketCapitalization":"155000000000","PERatio":"22.1","EPS":"7.65",
			"DividendYield":"0.039","Beta":"None","52WeekHigh":"199.18","52WeekLow":"125.07"}`))
	})

	f, err := p.Fundamentals(context.Background(), "IBM")
	require.NoError(t, err)
	assert.Equal(t, "International Business Machines", f.Name)
	assert.Equal(t, 155000000000.0, f.MarketCap)
	assert.Equal(t, 0.0, f.Beta)
	assert.Equal(t, 199.18, f.High52Week)
}

func TestAlphaVantage_NewsAndMovers(t *testing.T) {
	p := newTestAlphaVantage(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("function") {
		case "NEWS_SENTIMENT":
			assert.Equal(t, "AAPL", r.URL.Query().Get("tickers"))
			_, _ = w.Write([]byte(`{"feed":[
				{"title":"one","url":"u1","time_published":"20240311T093000","source":"Reuters","overall_sentiment_score":0.3,"overall_sentiment_label":"Somewhat-Bullish"},
				{"title":"two","url":"u2","time_published":"20240311T083000","source":"AP"}]}`))
		case "TOP_GAINERS_LOSERS":
			_, _ = w.Write([]byte(`{"last_updated":"2024-03-08 16:15:59 US/Eastern",
				"top_gainers":[{"ticker":"ABCD","price":"1.23","change_amount":"0.5","change_percentage":"68.49%","volume":"1000"}],
				"top_losers":[{"ticker":"WXYZ","price":"2.00","change_amount":"-1.0","change_percentage":"-33.3%","volume":"500"}],
				"most_actively_traded":[]}`))
		default:
			t.Errorf("unexpected function %q", r.URL.Query().Get("function"))
		}
	})
	ctx := context.Background()

	items, err := p.News(ctx, "aapl", 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "one", items[0].Title)
	assert.Equal(t, time.Date(2024, 3, 11, 9, 30, 0, 0, time.UTC), items[0].PublishedAt)

	movers, err := p.Movers(ctx)
	require.NoError(t, err)
	require.Len(t, movers.Gainers, 1)
	assert.Equal(t, 68.49, movers.Gainers[0].ChangePercent)
	assert.Equal(t, -33.3, movers.Losers[0].ChangePercent)
	assert.Empty(t, movers.MostActive)
}

func TestAlphaVantage_MarketStatus(t *testing.T) {
	p := newTestAlphaVantage(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"endpoint":"Global Market Open & Close Status","markets":[
			{"market_type":"Equity","region":"United States","primary_exchanges":"NASDAQ, NYSE","local_open":"09:30","local_close":"16:15","current_status":"closed"},
			{"market_type":"Equity","region":"Japan","primary_exchanges":"Tokyo","local_open":"09:00","local_close":"15:00","current_status":"open"}]}`))
	})

	status, err := p.MarketStatus(context.Background())
	require.NoError(t, err)
	assert.Len(t, status.Markets, 2)
	assert.False(t, status.IsOpen("United States"))
	assert.True(t, status.IsOpen("Japan"))
}

// TestAlphaVantage_Live hits the real API and spends one call of the key's quota.
func TestAlphaVantage_Live(t *testing.T) {
	apiKey := os.Getenv("ALPHA_VANTAGE_API_KEY")
	if apiKey == "" {
		t.Skip("Skipping Alpha Vantage live test - no API key provided")
	}
	if testing.Short() {
		t.Skip("Skipping Alpha Vantage live test in short mode")
	}

	p, err := NewAlphaVantageProvider(AlphaVantageConfig{APIKey: apiKey})
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	q, err := p.Quote(ctx, "AAPL")
	if err != nil {
		// free keys are throttled aggressively
		t.Logf("Quote() error = %v (may be rate limited)", err)
		return
	}
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Greater(t, q.Price, 0.0)
}

func TestParseHelpers(t *testing.T) {
	assert.Equal(t, 1.5, parseFloat(" 1.5 "))
	assert.Equal(t, 0.0, parseFloat("None"))
	assert.Equal(t, -2.25, parseFloat("-2.25%"))
	assert.Equal(t, int64(42), parseInt("42"))
	assert.Equal(t, int64(7), parseInt("7.0"))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
}
