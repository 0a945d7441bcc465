package config

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/atlas-erp/advisor/backend/internal/ratelimit"
)

// Config aggregates every configuration section of the service.
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Auth      AuthConfig
	Store     StoreConfig
	RateLimit RateLimitConfig
	Features  FeatureConfig
}

// Load reads the whole configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	authCfg, err := loadAuthConfig()
	if err != nil {
		return nil, err
	}

	rl, err := loadRateLimitConfig()
	if err != nil {
		return nil, err
	}

	features, err := loadFeatureConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		AI:        ai,
		Auth:      authCfg,
		Store:     StoreConfig{DatabasePath: getEnvOrDefault("DATABASE_PATH", "advisor.db")},
		RateLimit: rl,
		Features:  features,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	addr := port
	if !strings.Contains(port, ":") {
		if strings.Contains(port, " ") {
			return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
		}
		addr = ":" + port
	}

	var origins []string
	for _, origin := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			origins = append(origins, origin)
		}
	}

	return ServerConfig{Addr: addr, AllowedOrigins: origins}, nil
}

// AIConfig describes the outbound language-model call.
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
}

// Enabled reports whether the required credentials are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds a model instance from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("model credentials missing: provide ARK_API_KEY + ARK_MODEL or an AK/SK pair")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
	}, nil
}

// AuthConfig describes token signing and deployment-level cookie attributes.
type AuthConfig struct {
	Secret         string
	TokenTTL       time.Duration
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite
}

func loadAuthConfig() (AuthConfig, error) {
	secret := strings.TrimSpace(os.Getenv("SECRET_KEY"))
	if secret == "" {
		return AuthConfig{}, fmt.Errorf("SECRET_KEY environment variable is required")
	}

	ttlMinutes := 30
	if override, err := parseOptionalIntEnv("ACCESS_TOKEN_EXPIRE_MINUTES"); err != nil {
		return AuthConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return AuthConfig{}, fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive")
		}
		ttlMinutes = *override
	}

	secure, err := parseBoolEnv("COOKIE_SECURE", true)
	if err != nil {
		return AuthConfig{}, err
	}

	sameSite, err := parseSameSiteEnv("COOKIE_SAMESITE", http.SameSiteLaxMode)
	if err != nil {
		return AuthConfig{}, err
	}

	return AuthConfig{
		Secret:         secret,
		TokenTTL:       time.Duration(ttlMinutes) * time.Minute,
		CookieDomain:   strings.TrimSpace(os.Getenv("COOKIE_DOMAIN")),
		CookieSecure:   secure,
		CookieSameSite: sameSite,
	}, nil
}

// StoreConfig describes conversation persistence.
type StoreConfig struct {
	DatabasePath string
}

// RateLimitConfig carries the per-endpoint-class admission budgets.
type RateLimitConfig struct {
	Enabled bool
	Default ratelimit.Config
	Classes map[string]ratelimit.Config
}

// Endpoint classes with explicit default budgets. Any class absent from this
// table falls back to the global default.
var defaultClassRates = map[string]string{
	"login":          "10/minute",
	"register":       "5/hour",
	"logout":         "30/minute",
	"query":          "60/minute",
	"public_query":   "30/minute",
	"feedback":       "10/minute",
	"session_list":   "60/minute",
	"session_create": "20/minute",
	"session_read":   "60/minute",
	"session_update": "30/minute",
	"session_delete": "30/minute",
}

func loadRateLimitConfig() (RateLimitConfig, error) {
	enabled, err := parseBoolEnv("RATE_LIMIT_ENABLED", true)
	if err != nil {
		return RateLimitConfig{}, err
	}

	fallback, err := ratelimit.ParseRate(getEnvOrDefault("RATE_LIMIT_DEFAULT", "120/minute"))
	if err != nil {
		return RateLimitConfig{}, fmt.Errorf("RATE_LIMIT_DEFAULT: %w", err)
	}

	classes := make(map[string]ratelimit.Config, len(defaultClassRates))
	for class, rate := range defaultClassRates {
		envKey := "RATE_LIMIT_" + strings.ToUpper(class)
		cfg, err := ratelimit.ParseRate(getEnvOrDefault(envKey, rate))
		if err != nil {
			return RateLimitConfig{}, fmt.Errorf("%s: %w", envKey, err)
		}
		classes[class] = cfg
	}

	return RateLimitConfig{Enabled: enabled, Default: fallback, Classes: classes}, nil
}

// FeatureConfig carries flags the client needs before any login decision.
type FeatureConfig struct {
	GuestEnabled        bool
	RegistrationEnabled bool
}

func loadFeatureConfig() (FeatureConfig, error) {
	guest, err := parseBoolEnv("FEATURE_GUEST_MODE", true)
	if err != nil {
		return FeatureConfig{}, err
	}
	registration, err := parseBoolEnv("FEATURE_REGISTRATION", true)
	if err != nil {
		return FeatureConfig{}, err
	}
	return FeatureConfig{GuestEnabled: guest, RegistrationEnabled: registration}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseSameSiteEnv(key string, defaultValue http.SameSite) (http.SameSite, error) {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch raw {
	case "":
		return defaultValue, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	default:
		return 0, fmt.Errorf("invalid %s value %q: want lax, strict, or none", key, raw)
	}
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
