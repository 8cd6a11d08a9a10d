package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const alphaVantageBaseURL = "https://www.alphavantage.co/query"

// AlphaVantageConfig holds configuration for the Alpha Vantage provider.
type AlphaVantageConfig struct {
	APIKey            string
	BaseURL           string
	TimeoutSeconds    int
	RequestsPerSecond float64 // burst pacing between admitted calls
	Burst             int
}

// AlphaVantageProvider talks to the Alpha Vantage REST API. Quota
// accounting lives in the governor; pacer only spaces out bursts of
// already-admitted calls.
type AlphaVantageProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	pacer      *rate.Limiter
}

var _ Provider = (*AlphaVantageProvider)(nil)

func NewAlphaVantageProvider(config AlphaVantageConfig) (*AlphaVantageProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("alpha vantage API key is required")
	}
	if config.BaseURL == "" {
		config.BaseURL = alphaVantageBaseURL
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 10
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 1
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}

	return &AlphaVantageProvider{
		apiKey:  config.APIKey,
		baseURL: config.BaseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
		pacer: rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
	}, nil
}

func (av *AlphaVantageProvider) Name() string { return "alphavantage" }

func (av *AlphaVantageProvider) Close() error {
	av.httpClient.CloseIdleConnections()
	return nil
}

func (av *AlphaVantageProvider) Quote(ctx context.Context, symbol string) (*Quote, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, NewBadSymbolError(symbol, "empty symbol")
	}

	var response struct {
		GlobalQuote map[string]string `json:"Global Quote"`
	}
	if err := av.query(ctx, symbol, url.Values{"function": {"GLOBAL_QUOTE"}, "symbol": {symbol}}, &response); err != nil {
		return nil, err
	}

	q := response.GlobalQuote
	if len(q) == 0 {
		return nil, NewBadSymbolError(symbol, "no quote data returned")
	}

	quote := &Quote{
		Symbol:        symbol,
		Price:         parseFloat(q["05. price"]),
		Open:          parseFloat(q["02. open"]),
		High:          parseFloat(q["03. high"]),
		Low:           parseFloat(q["04. low"]),
		Volume:        parseInt(q["06. volume"]),
		TradingDay:    q["07. latest trading day"],
		PreviousClose: parseFloat(q["08. previous close"]),
		Change:        parseFloat(q["09. change"]),
		ChangePercent: parseFloat(q["10. change percent"]),
		// free tier has no trade timestamp
		Timestamp: time.Now(),
		Source:    av.Name(),
	}
	if err := ValidateQuote(quote); err != nil {
		return nil, NewProviderError(symbol, "invalid quote", err)
	}
	return quote, nil
}

func (av *AlphaVantageProvider) Fundamentals(ctx context.Context, symbol string) (*Fundamentals, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return nil, NewBadSymbolError(symbol, "empty symbol")
	}

	var o map[string]string
	if err := av.query(ctx, symbol, url.Values{"function": {"OVERVIEW"}, "symbol": {symbol}}, &o); err != nil {
		return nil, err
	}
	if o["Symbol"] == "" {
		return nil, NewBadSymbolError(symbol, "no overview data returned")
	}

	return &Fundamentals{
		Symbol:        o["Symbol"],
		Name:          o["Name"],
		Exchange:      o["Exchange"],
		Sector:        o["Sector"],
		Industry:      o["Industry"],
		MarketCap:     parseFloat(o["MarketCapitalization"]),
		PERatio:       parseFloat(o["PERatio"]),
		EPS:           parseFloat(o["EPS"]),
		DividendYield: parseFloat(o["DividendYield"]),
		Beta:          parseFloat(o["Beta"]),
		High52Week:    parseFloat(o["52WeekHigh"]),
		Low52Week:     parseFloat(o["52WeekLow"]),
	}, nil
}

func (av *AlphaVantageProvider) News(ctx context.Context, symbol string, limit int) ([]NewsItem, error) {
	symbol = NormalizeSymbol(symbol)
	if limit <= 0 {
		limit = 20
	}
	params := url.Values{"function": {"NEWS_SENTIMENT"}, "limit": {strconv.Itoa(limit)}}
	if symbol != "" {
		params.Set("tickers", symbol)
	}

	var response struct {
		Feed []struct {
			Title          string  `json:"title"`
			URL            string  `json:"url"`
			TimePublished  string  `json:"time_published"`
			Source         string  `json:"source"`
			Summary        string  `json:"summary"`
			SentimentScore float64 `json:"overall_sentiment_score"`
			SentimentLabel string  `json:"overall_sentiment_label"`
		} `json:"feed"`
	}
	if err := av.query(ctx, symbol, params, &response); err != nil {
		return nil, err
	}

	items := make([]NewsItem, 0, len(response.Feed))
	for _, f := range response.Feed {
		published, _ := time.Parse("20060102T150405", f.TimePublished)
		items = append(items, NewsItem{
			Title:          f.Title,
			URL:            f.URL,
			Source:         f.Source,
			Summary:        f.Summary,
			PublishedAt:    published,
			SentimentScore: f.SentimentScore,
			SentimentLabel: f.SentimentLabel,
		})
		if len(items) == limit {
			break
		}
	}
	return items, nil
}

func (av *AlphaVantageProvider) MarketStatus(ctx context.Context) (*MarketStatus, error) {
	var response struct {
		Markets []struct {
			MarketType       string `json:"market_type"`
			Region           string `json:"region"`
			PrimaryExchanges string `json:"primary_exchanges"`
			LocalOpen        string `json:"local_open"`
			LocalClose       string `json:"local_close"`
			CurrentStatus    string `json:"current_status"`
		} `json:"markets"`
	}
	if err := av.query(ctx, "", url.Values{"function": {"MARKET_STATUS"}}, &response); err != nil {
		return nil, err
	}

	status := &MarketStatus{FetchedAt: time.Now().UTC()}
	for _, m := range response.Markets {
		status.Markets = append(status.Markets, MarketSession{
			MarketType:       m.MarketType,
			Region:           m.Region,
			PrimaryExchanges: m.PrimaryExchanges,
			LocalOpen:        m.LocalOpen,
			LocalClose:       m.LocalClose,
			Status:           m.CurrentStatus,
		})
	}
	return status, nil
}

func (av *AlphaVantageProvider) Movers(ctx context.Context) (*Movers, error) {
	type row struct {
		Ticker           string `json:"ticker"`
		Price            string `json:"price"`
		ChangeAmount     string `json:"change_amount"`
		ChangePercentage string `json:"change_percentage"`
		Volume           string `json:"volume"`
	}
	var response struct {
		LastUpdated string `json:"last_updated"`
		TopGainers  []row  `json:"top_gainers"`
		TopLosers   []row  `json:"top_losers"`
		MostActive  []row  `json:"most_actively_traded"`
	}
	if err := av.query(ctx, "", url.Values{"function": {"TOP_GAINERS_LOSERS"}}, &response); err != nil {
		return nil, err
	}

	convert := func(rows []row) []Mover {
		out := make([]Mover, 0, len(rows))
		for _, r := range rows {
			out = append(out, Mover{
				Symbol:        r.Ticker,
				Price:         parseFloat(r.Price),
				ChangeAmount:  parseFloat(r.ChangeAmount),
				ChangePercent: parseFloat(r.ChangePercentage),
				Volume:        parseInt(r.Volume),
			})
		}
		return out
	}
	return &Movers{
		Gainers:     convert(response.TopGainers),
		Losers:      convert(response.TopLosers),
		MostActive:  convert(response.MostActive),
		LastUpdated: response.LastUpdated,
	}, nil
}

// query performs exactly one HTTP request and never retries. The caller must
// already hold an admission for it.
func (av *AlphaVantageProvider) query(ctx context.Context, symbol string, params url.Values, out any) error {
	if err := av.pacer.Wait(ctx); err != nil {
		return NewNetworkError(symbol, "pacing wait cancelled", err)
	}

	params.Set("apikey", av.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, av.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return NewNetworkError(symbol, "failed to create request", err)
	}

	resp, err := av.httpClient.Do(req)
	if err != nil {
		return NewNetworkError(symbol, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return NewRateLimitError(symbol, "API rate limit exceeded")
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return NewNetworkError(symbol, "failed to read response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return NewProviderError(symbol, fmt.Sprintf("HTTP %d: %s", resp.StatusCode, truncate(string(body), 200)), nil)
	}

	var envelope struct {
		ErrorMessage string `json:"Error Message"`
		Information  string `json:"Information"`
		Note         string `json:"Note"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return NewProviderError(symbol, "failed to parse response", err)
	}
	if envelope.ErrorMessage != "" {
		return NewProviderError(symbol, envelope.ErrorMessage, nil)
	}
	// Information/Note carry the provider's own throttle message
	if envelope.Information != "" {
		return NewRateLimitError(symbol, envelope.Information)
	}
	if envelope.Note != "" {
		return NewRateLimitError(symbol, envelope.Note)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return NewProviderError(symbol, "failed to parse response", err)
	}
	return nil
}

func parseFloat(s string) float64 {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" || s == "None" || s == "-" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func parseInt(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "None" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return int64(parseFloat(s))
	}
	return n
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
