package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	JWTSecret   string

	// Public base URL of this service, used to build provider callback URLs.
	PublicBaseURL string
	// Optional shared secret required on AI-provider webhook requests via the
	// X-Webhook-Token header. Empty disables the check.
	WebhookToken string

	KieAPIKey        string
	KieBaseURL       string
	KieModel         string
	ReplicateAPIKey  string
	ReplicateBaseURL string
	ReplicateModel   string
	FashnAPIKey      string
	FashnBaseURL     string
	FashnModel       string
	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiModel      string

	MidtransServerKey string

	StorageBackend   string
	StoragePath      string
	StorageBaseURL   string
	S3Region         string
	S3Bucket         string
	S3Prefix         string

	CORSOrigins []string

	ProviderTimeout  time.Duration
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int

	SweepInterval time.Duration
	SweepMinAge   time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		JWTSecret:     os.Getenv("JWT_SECRET"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", "http://localhost:8080"),
		WebhookToken:  os.Getenv("WEBHOOK_TOKEN"),

		KieAPIKey:        os.Getenv("KIE_API_KEY"),
		KieBaseURL:       getEnv("KIE_BASE_URL", "https://api.kie.ai/api/v1"),
		KieModel:         getEnv("KIE_MODEL", "google/nano-banana-edit"),
		ReplicateAPIKey:  os.Getenv("REPLICATE_API_KEY"),
		ReplicateBaseURL: getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),
		ReplicateModel:   getEnv("REPLICATE_MODEL", "cuuupid/idm-vton"),
		FashnAPIKey:      os.Getenv("FASHN_API_KEY"),
		FashnBaseURL:     getEnv("FASHN_BASE_URL", "https://api.fashn.ai/v1"),
		FashnModel:       getEnv("FASHN_MODEL", "tryon-v1.6"),
		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiModel:      getEnv("GEMINI_MODEL", "gemini-2.0-flash-exp"),

		MidtransServerKey: os.Getenv("MIDTRANS_SERVER_KEY"),

		StorageBackend: getEnv("STORAGE_BACKEND", "filesystem"),
		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		S3Region:       os.Getenv("S3_REGION"),
		S3Bucket:       os.Getenv("S3_BUCKET"),
		S3Prefix:       getEnv("S3_PREFIX", "results"),

		CORSOrigins: splitEnv("CORS_ALLOWED_ORIGINS"),

		ProviderTimeout:  time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 60)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),

		SweepInterval: time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60)),
		SweepMinAge:   time.Second * time.Duration(getEnvInt("SWEEP_MIN_AGE_SECONDS", 120)),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func splitEnv(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
