package marketdata

import (
	"os"
	"strings"

	"github.com/Rajchodisetti/trading-journal/internal/observ"
)

// ProviderConfig selects and configures the upstream data provider.
type ProviderConfig struct {
	Adapter           string  // "mock" | "alphavantage"
	APIKeyEnv         string
	BaseURL           string
	TimeoutSeconds    int
	RequestsPerSecond float64
	Burst             int
}

// NewProvider creates the configured provider. Anything that prevents a live
// provider from being built (unknown adapter, missing key) falls back to the
// mock with a logged reason rather than failing startup.
func NewProvider(config ProviderConfig) Provider {
	adapter := strings.ToLower(strings.TrimSpace(config.Adapter))

	if envAdapter := os.Getenv("MARKETDATA_PROVIDER"); envAdapter != "" {
		adapter = strings.ToLower(strings.TrimSpace(envAdapter))
		observ.Log("provider_override", map[string]any{
			"config_adapter": config.Adapter,
			"env_override":   adapter,
		})
	}

	switch adapter {
	case "mock", "":
		observ.Log("provider_created", map[string]any{"type": "mock"})
		return NewMockProvider()
	case "alphavantage":
		return newAlphaVantageFromConfig(config)
	default:
		observ.Log("provider_fallback", map[string]any{
			"requested_adapter": adapter,
			"fallback_to":       "mock",
			"reason":            "unknown adapter type",
		})
		return NewMockProvider()
	}
}

func newAlphaVantageFromConfig(config ProviderConfig) Provider {
	apiKey := ""
	if config.APIKeyEnv != "" {
		apiKey = os.Getenv(config.APIKeyEnv)
	}
	if apiKey == "" {
		observ.Log("provider_fallback", map[string]any{
			"requested_adapter": "alphavantage",
			"fallback_to":       "mock",
			"reason":            "missing API key",
			"api_key_env":       config.APIKeyEnv,
		})
		return NewMockProvider()
	}

	p, err := NewAlphaVantageProvider(AlphaVantageConfig{
		APIKey:            apiKey,
		BaseURL:           config.BaseURL,
		TimeoutSeconds:    config.TimeoutSeconds,
		RequestsPerSecond: config.RequestsPerSecond,
		Burst:             config.Burst,
	})
	if err != nil {
		observ.Log("provider_fallback", map[string]any{
			"requested_adapter": "alphavantage",
			"fallback_to":       "mock",
			"reason":            "provider creation failed",
			"error":             err.Error(),
		})
		return NewMockProvider()
	}

	observ.Log("provider_created", map[string]any{
		"type":           "alphavantage",
		"timeout_sec":    config.TimeoutSeconds,
		"rps":            config.RequestsPerSecond,
		"api_key_masked": maskAPIKey(apiKey),
	})
	return p
}

// maskAPIKey masks an API key for safe logging
func maskAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "***" + apiKey[len(apiKey)-4:]
}
