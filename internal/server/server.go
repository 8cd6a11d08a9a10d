package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Rajchodisetti/trading-journal/internal/governor"
	"github.com/Rajchodisetti/trading-journal/internal/marketdata"
	"github.com/Rajchodisetti/trading-journal/internal/observ"
)

// Admission is the read/operator side of the admission controller.
type Admission interface {
	Stats() governor.AdmissionStats
	Reset()
}

// Cache is the read/operator side of the response cache.
type Cache interface {
	Stats() governor.CacheStats
	Clear()
}

// Server exposes the governed market-data service and the governor's
// observability endpoints over HTTP.
type Server struct {
	admission Admission
	cache     Cache
	service   *marketdata.Service

	// StatsInterval is how often /governor/events pushes a snapshot.
	StatsInterval time.Duration
	// RequestTimeout bounds each data request, including admission waits.
	RequestTimeout time.Duration
}

// New wires the governor components and the governed service into a Server.
func New(admission Admission, cache Cache, service *marketdata.Service) *Server {
	return &Server{
		admission:      admission,
		cache:          cache,
		service:        service,
		StatsInterval:  5 * time.Second,
		RequestTimeout: 90 * time.Second,
	}
}

// StatsResponse is the body of GET /governor/stats.
type StatsResponse struct {
	Admission governor.AdmissionStats `json:"admission"`
	Cache     governor.CacheStats     `json:"cache"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string   `json:"status"` // ok | degraded
	Reasons []string `json:"reasons,omitempty"`
}

// Routes returns the handler serving every endpoint.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", observ.Handler())
	mux.HandleFunc("/governor/stats", s.handleStats)
	mux.HandleFunc("/governor/events", s.handleEvents)
	mux.HandleFunc("/governor/cache/clear", s.handleCacheClear)
	mux.HandleFunc("/governor/reset", s.handleReset)
	mux.HandleFunc("/quote", s.handleQuote)
	mux.HandleFunc("/fundamentals", s.handleFundamentals)
	mux.HandleFunc("/news", s.handleNews)
	mux.HandleFunc("/market-status", s.handleMarketStatus)
	mux.HandleFunc("/movers", s.handleMovers)
	return mux
}

func (s *Server) snapshot() StatsResponse {
	return StatsResponse{Admission: s.admission.Stats(), Cache: s.cache.Stats()}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.admission.Stats()
	resp := HealthResponse{Status: "ok"}
	if stats.PersistenceDegraded {
		resp.Reasons = append(resp.Reasons, "quota persistence unavailable")
	}
	if stats.DailyLimit > 0 && stats.RemainingDaily == 0 {
		resp.Reasons = append(resp.Reasons, "daily quota exhausted")
	}
	if len(resp.Reasons) > 0 {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.snapshot())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	cleared := s.cache.Stats().Size
	s.cache.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	s.admission.Reset()
	observ.Log("governor_operator_reset", map[string]any{"remote": r.RemoteAddr})
	writeJSON(w, http.StatusOK, s.admission.Stats())
}

type dataResponse struct {
	Source marketdata.Source `json:"source"`
	Data   any               `json:"data"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	symbol := r.URL.Query().Get("symbol")
	fetch := s.service.Quote
	if realtime, _ := strconv.ParseBool(r.URL.Query().Get("realtime")); realtime {
		fetch = s.service.RealtimeQuote
	}
	q, src, err := fetch(ctx, symbol)
	s.respond(w, q, src, err)
}

func (s *Server) handleFundamentals(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	f, src, err := s.service.Fundamentals(ctx, r.URL.Query().Get("symbol"))
	s.respond(w, f, src, err)
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, src, err := s.service.News(ctx, r.URL.Query().Get("symbol"), limit)
	s.respond(w, items, src, err)
}

func (s *Server) handleMarketStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	status, src, err := s.service.MarketStatus(ctx)
	s.respond(w, status, src, err)
}

func (s *Server) handleMovers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	fetch := s.service.Movers
	if r.URL.Query().Get("session") == "premarket" {
		fetch = s.service.PremarketScan
	}
	movers, src, err := fetch(ctx)
	s.respond(w, movers, src, err)
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if s.RequestTimeout <= 0 {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), s.RequestTimeout)
}

func (s *Server) respond(w http.ResponseWriter, data any, src marketdata.Source, err error) {
	if err != nil {
		status := statusFor(err)
		observ.IncCounter("server_request_errors_total", map[string]string{"status": strconv.Itoa(status)})
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}
	if src == marketdata.SourceStale {
		w.Header().Set("Warning", `110 - "Response is Stale"`)
	}
	writeJSON(w, http.StatusOK, dataResponse{Source: src, Data: data})
}

func statusFor(err error) int {
	var pe *marketdata.ProviderError
	switch {
	case errors.Is(err, marketdata.ErrUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, marketdata.ErrAdmissionDenied):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout
	case errors.As(err, &pe) && pe.Type == "bad_symbol":
		return http.StatusBadRequest
	case errors.As(err, &pe) && pe.Type == "rate_limit":
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
