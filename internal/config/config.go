package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const defaultDSN = "host=localhost user=postgres password=postgres dbname=pal port=5432 sslmode=disable"

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SupabaseConfig struct {
	URL    string `yaml:"url"`
	Key    string `yaml:"key"`
	Bucket string `yaml:"bucket"`
}

type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	FromNumber string `yaml:"from_number"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type ElevenLabsConfig struct {
	APIKey  string `yaml:"api_key"`
	VoiceID string `yaml:"voice_id"`
	BaseURL string `yaml:"base_url"`
}

type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

type Config struct {
	HTTPPort    string `yaml:"http_port" validate:"required,numeric"`
	DatabaseDSN string `yaml:"database_dsn" validate:"required"`
	JWTSecret   string `yaml:"jwt_secret" validate:"required,min=32"`
	CORSOrigins string `yaml:"cors_origins"`
	// CookieSecure marks the technician session cookie Secure.
	CookieSecure bool `yaml:"cookie_secure"`

	LogLevel      string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb" validate:"min=1,max=100"`
	LogMaxBackups int    `yaml:"log_max_backups" validate:"min=1,max=10"`
	LogMaxAgeDays int    `yaml:"log_max_age_days" validate:"min=1,max=365"`

	TokenEncryptionKey string `yaml:"token_encryption_key" validate:"required,min=16"`

	PhotoMaxBytes    int64  `yaml:"photo_max_bytes" validate:"min=1"`
	PhotoStoragePath string `yaml:"photo_storage_path"`
	PublicBaseURL    string `yaml:"public_base_url" validate:"required,url"`

	MagicLinkTTL       time.Duration `yaml:"magic_link_ttl" validate:"min=1m"`
	TechLoginRateLimit int           `yaml:"tech_login_rate_limit" validate:"min=0"`

	Redis      RedisConfig      `yaml:"redis"`
	Supabase   SupabaseConfig   `yaml:"supabase"`
	Twilio     TwilioConfig     `yaml:"twilio"`
	Gemini     GeminiConfig     `yaml:"gemini"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs"`
	Google     GoogleConfig     `yaml:"google"`
}

func defaults() *Config {
	return &Config{
		HTTPPort:           "8080",
		DatabaseDSN:        defaultDSN,
		CORSOrigins:        "http://localhost:3000",
		LogLevel:           "info",
		LogMaxSizeMB:       10,
		LogMaxBackups:      3,
		LogMaxAgeDays:      28,
		PhotoMaxBytes:      10 << 20,
		PhotoStoragePath:   "./uploads",
		PublicBaseURL:      "http://localhost:8080",
		MagicLinkTTL:       15 * time.Minute,
		TechLoginRateLimit: 10,
		Gemini:             GeminiConfig{Model: "gemini-2.5-flash"},
		ElevenLabs:         ElevenLabsConfig{BaseURL: "https://api.elevenlabs.io"},
		Supabase:           SupabaseConfig{Bucket: "franchisee-photos"},
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// CONFIG_FILE, and finally environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.DatabaseDSN = getEnv("DATABASE_DSN", cfg.DatabaseDSN)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.CORSOrigins = getEnv("CORS_ALLOWED_ORIGINS", cfg.CORSOrigins)
	cfg.CookieSecure = getEnvBool("COOKIE_SECURE", cfg.CookieSecure)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.TokenEncryptionKey = getEnv("TOKEN_ENCRYPTION_KEY", cfg.TokenEncryptionKey)
	cfg.PhotoMaxBytes = int64(getEnvInt("PHOTO_MAX_BYTES", int(cfg.PhotoMaxBytes)))
	cfg.PhotoStoragePath = getEnv("PHOTO_STORAGE_PATH", cfg.PhotoStoragePath)
	cfg.PublicBaseURL = getEnv("PUBLIC_BASE_URL", cfg.PublicBaseURL)
	cfg.MagicLinkTTL = getEnvDuration("MAGIC_LINK_TTL", cfg.MagicLinkTTL)
	cfg.TechLoginRateLimit = getEnvInt("TECH_LOGIN_RATE_LIMIT", cfg.TechLoginRateLimit)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	cfg.Supabase.URL = getEnv("SUPABASE_URL", cfg.Supabase.URL)
	cfg.Supabase.Key = getEnv("SUPABASE_SERVICE_ROLE_KEY", cfg.Supabase.Key)
	cfg.Supabase.Bucket = getEnv("SUPABASE_PHOTO_BUCKET", cfg.Supabase.Bucket)

	cfg.Twilio.AccountSID = getEnv("TWILIO_ACCOUNT_SID", cfg.Twilio.AccountSID)
	cfg.Twilio.AuthToken = getEnv("TWILIO_AUTH_TOKEN", cfg.Twilio.AuthToken)
	cfg.Twilio.FromNumber = getEnv("TWILIO_FROM_NUMBER", cfg.Twilio.FromNumber)

	cfg.Gemini.APIKey = getEnv("GEMINI_API_KEY", cfg.Gemini.APIKey)
	cfg.Gemini.Model = getEnv("GEMINI_MODEL", cfg.Gemini.Model)

	cfg.ElevenLabs.APIKey = getEnv("ELEVENLABS_API_KEY", cfg.ElevenLabs.APIKey)
	cfg.ElevenLabs.VoiceID = getEnv("ELEVENLABS_VOICE_ID", cfg.ElevenLabs.VoiceID)

	cfg.Google.ClientID = getEnv("GOOGLE_CLIENT_ID", cfg.Google.ClientID)
	cfg.Google.ClientSecret = getEnv("GOOGLE_CLIENT_SECRET", cfg.Google.ClientSecret)
	cfg.Google.RedirectURL = getEnv("GOOGLE_REDIRECT_URL", cfg.Google.RedirectURL)
}

// Validate checks the configuration and returns the first invalid field.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// UsesDefaultDSN reports whether the database DSN was never overridden.
func (c *Config) UsesDefaultDSN() bool {
	return c.DatabaseDSN == defaultDSN
}

func (c *Config) RedisEnabled() bool      { return c.Redis.Addr != "" }
func (c *Config) SupabaseEnabled() bool   { return c.Supabase.URL != "" && c.Supabase.Key != "" }
func (c *Config) TwilioEnabled() bool     { return c.Twilio.AccountSID != "" && c.Twilio.AuthToken != "" }
func (c *Config) GeminiEnabled() bool     { return c.Gemini.APIKey != "" }
func (c *Config) ElevenLabsEnabled() bool { return c.ElevenLabs.APIKey != "" && c.ElevenLabs.VoiceID != "" }
func (c *Config) GoogleEnabled() bool     { return c.Google.ClientID != "" && c.Google.ClientSecret != "" }

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
