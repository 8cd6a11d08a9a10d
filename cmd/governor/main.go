package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rajchodisetti/trading-journal/internal/config"
	"github.com/Rajchodisetti/trading-journal/internal/governor"
	"github.com/Rajchodisetti/trading-journal/internal/marketdata"
	"github.com/Rajchodisetti/trading-journal/internal/observ"
	"github.com/Rajchodisetti/trading-journal/internal/server"
)

func main() {
	var cfgPath, addr string
	flag.StringVar(&cfgPath, "config", "config/governor.yaml", "config path (empty for built-in defaults)")
	flag.StringVar(&addr, "addr", "", "listen address (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if cfgPath != "" {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx, cfg.Store)
	if err != nil {
		// the controller degrades to memory-only; startup continues
		observ.Log("quota_store_unavailable", map[string]any{"kind": cfg.Store.Kind, "error": err.Error()})
		store, closeStore = governor.NewMemoryQuotaStore(), func() error { return nil }
	}
	defer closeStore()

	admission, err := governor.NewAdmissionController(ctx, governorConfig(cfg.Governor), store)
	if err != nil {
		log.Fatalf("create admission controller: %v", err)
	}
	cache := governor.NewResponseCache(governor.CacheConfig{TTLs: cacheTTLs(cfg.Governor.CacheTTLSeconds)})

	provider := marketdata.NewProvider(providerConfig(cfg.Provider))
	defer provider.Close()

	fetcher := marketdata.NewFetcher(admission, cache, marketdata.FetcherConfig{
		NonBlocking:      cfg.Governor.NonBlocking,
		FallbackCapacity: cfg.Fallback.Capacity,
		FallbackTTL:      time.Duration(cfg.Fallback.TTLSeconds) * time.Second,
	})
	svc := marketdata.NewService(provider, fetcher)

	go cache.RunCleanup(ctx, time.Duration(cfg.Governor.CleanupIntervalSeconds)*time.Second)

	httpServer := newHTTPServer(ctx, cfg.Server.Addr, server.New(admission, cache, svc).Routes())
	go func() {
		observ.Log("governor_listening", map[string]any{
			"addr":     cfg.Server.Addr,
			"provider": provider.Name(),
			"store":    cfg.Store.Kind,
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	observ.Log("governor_shutdown", map[string]any{"stats": admission.Stats()})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
}

// newHTTPServer derives every request context from ctx, so long-lived
// streams end on shutdown signals instead of holding Shutdown open.
func newHTTPServer(ctx context.Context, addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func buildStore(ctx context.Context, cfg config.Store) (governor.QuotaStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Kind {
	case "memory":
		return governor.NewMemoryQuotaStore(), noop, nil
	case "file":
		return governor.NewFileQuotaStore(cfg.Path), noop, nil
	case "redis":
		s, err := governor.NewRedisQuotaStore(ctx, cfg.RedisURL, cfg.Key)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}

func governorConfig(g config.Governor) governor.Config {
	return governor.Config{
		MaxCallsPerWindow: g.MaxCallsPerWindow,
		Window:            time.Duration(g.WindowMs) * time.Millisecond,
		DailyLimit:        g.DailyLimit,
		PersistTimeout:    time.Duration(g.PersistTimeoutMs) * time.Millisecond,
	}
}

func cacheTTLs(secs map[string]int) map[governor.Category]time.Duration {
	ttls := make(map[governor.Category]time.Duration, len(secs))
	for name, s := range secs {
		c, ok := governor.ParseCategory(name)
		if !ok {
			observ.Log("cache_ttl_unknown_category", map[string]any{"category": name})
			continue
		}
		ttls[c] = time.Duration(s) * time.Second
	}
	return ttls
}

func providerConfig(p config.Provider) marketdata.ProviderConfig {
	return marketdata.ProviderConfig{
		Adapter:           p.Adapter,
		APIKeyEnv:         p.APIKeyEnv,
		BaseURL:           p.BaseURL,
		TimeoutSeconds:    p.TimeoutSeconds,
		RequestsPerSecond: p.RequestsPerSecond,
		Burst:             p.Burst,
	}
}
