// Package config reads service settings from the environment
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Supported upstream providers
const (
	ProviderGroq   = "groq"
	ProviderGemini = "gemini"
)

// DefaultAllowedOrigins are the browser origins allowed when ALLOWED_ORIGINS
// is unset
var DefaultAllowedOrigins = []string{"http://localhost:5173", "https://latex-ai.vercel.app/"}

// Config holds the service settings
type Config struct {
	Port    string
	GinMode string

	Provider        string
	GroqAPIKeys     []string
	GeminiAPIKeys   []string
	BaseURL         string
	Model           string
	Subject         string
	Temperature     float64
	MaxTokens       int
	UpstreamTimeout time.Duration

	AllowedOrigins []string
	RequireSeed    bool
	// TrustedProxies lists proxy IPs or CIDRs whose X-Forwarded-For is
	// honored. Empty means the peer address is the client IP.
	TrustedProxies []string

	RetryMaxAttempts  int
	RetryInitialDelay time.Duration

	CircuitMaxFailures  int
	CircuitResetTimeout time.Duration

	RateLimitPerMinute float64
	RateLimitBurst     int

	DatabaseURL string

	LogLevel  string
	LogFormat string
	LogFile   string
}

// Load builds a Config from the process environment
func Load() (*Config, error) {
	var errs []error

	cfg := &Config{
		Port:    getEnv("PORT", "3000"),
		GinMode: getEnv("GIN_MODE", ""),

		Provider:      strings.ToLower(getEnv("LLM_PROVIDER", ProviderGroq)),
		GroqAPIKeys:   splitList(getEnv("GROQ_API_KEYS", getEnv("GROQ_API_KEY", ""))),
		GeminiAPIKeys: splitList(getEnv("GEMINI_API_KEYS", getEnv("GEMINI_API_KEY", ""))),
		BaseURL:       getEnv("LLM_BASE_URL", ""),
		Model:         getEnv("LLM_MODEL", ""),
		Subject:       getEnv("PROMPT_SUBJECT", ""),

		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", strings.Join(DefaultAllowedOrigins, ","))),
		TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "json")),
		LogFile:   getEnv("LOG_FILE", ""),
	}

	var err error
	if cfg.Temperature, err = getFloat("LLM_TEMPERATURE", 0.7); err != nil {
		errs = append(errs, err)
	}
	if cfg.MaxTokens, err = getInt("LLM_MAX_TOKENS", 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.UpstreamTimeout, err = getDuration("LLM_TIMEOUT", 30*time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.RequireSeed, err = getBool("REQUIRE_SEED", false); err != nil {
		errs = append(errs, err)
	}
	if cfg.RetryMaxAttempts, err = getInt("RETRY_MAX_ATTEMPTS", 3); err != nil {
		errs = append(errs, err)
	}
	if cfg.RetryInitialDelay, err = getDuration("RETRY_INITIAL_DELAY", time.Second); err != nil {
		errs = append(errs, err)
	}
	if cfg.CircuitMaxFailures, err = getInt("CIRCUIT_MAX_FAILURES", 5); err != nil {
		errs = append(errs, err)
	}
	if cfg.CircuitResetTimeout, err = getDuration("CIRCUIT_RESET_TIMEOUT", time.Minute); err != nil {
		errs = append(errs, err)
	}
	if cfg.RateLimitPerMinute, err = getFloat("RATE_LIMIT_PER_MINUTE", 60); err != nil {
		errs = append(errs, err)
	}
	if cfg.RateLimitBurst, err = getInt("RATE_LIMIT_BURST", 20); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// APIKeys returns the credentials of the selected provider
func (c *Config) APIKeys() []string {
	if c.Provider == ProviderGemini {
		return c.GeminiAPIKeys
	}
	return c.GroqAPIKeys
}

// Validate checks settings that would make the service unusable
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider {
	case ProviderGroq, ProviderGemini:
	default:
		errs = append(errs, fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", ProviderGroq, ProviderGemini, c.Provider))
	}
	if len(c.APIKeys()) == 0 {
		errs = append(errs, fmt.Errorf("no API keys configured for provider %q", c.Provider))
	}
	if c.RetryMaxAttempts < 1 {
		errs = append(errs, errors.New("RETRY_MAX_ATTEMPTS must be at least 1"))
	}
	if c.RetryInitialDelay <= 0 {
		errs = append(errs, errors.New("RETRY_INITIAL_DELAY must be positive"))
	}
	for _, p := range c.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				errs = append(errs, fmt.Errorf("TRUSTED_PROXIES entry %q is not an IP or CIDR", p))
			}
		}
	}
	if c.RateLimitPerMinute < 0 || c.RateLimitBurst < 0 {
		errs = append(errs, errors.New("rate limit settings must not be negative"))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func getFloat(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, v)
	}
	return f, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q", key, v)
	}
	return b, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, v)
	}
	return d, nil
}

// splitList splits a comma-separated value, dropping blanks
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
