package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Store backends accepted by STORE_BACKEND.
const (
	StoreMongo  = "mongo"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Identity  IdentityConfig
	Cleanup   CleanupConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout time.Duration
}

type StoreConfig struct {
	Backend string
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Addr returns host:port, or "" when Redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

// JWTConfig configures access token signing and the refresh token lifetime.
type JWTConfig struct {
	Secret          string
	Issuer          string
	Audience        string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// IdentityConfig points at the hosted identity provider used for password sign-in.
type IdentityConfig struct {
	LoginURL      string
	APIKey        string
	Issuer        string
	Audience      string
	AllowInsecure bool
	Timeout       time.Duration
	// DevEmail/DevPassword seed the in-process provider used when LoginURL is empty.
	DevEmail    string
	DevPassword string
}

type CleanupConfig struct {
	Interval time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	RPS           float64
	Burst         int
	UseRedis      bool
	WindowSeconds int
}

type CORSConfig struct {
	AllowedOrigins []string
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "7297")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("STORE_BACKEND", StoreMongo)
	viper.SetDefault("MONGODB_DATABASE", "cacatua")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("REDIS_PORT", "6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("JWT_ISSUER", "Cacatua.com")
	viper.SetDefault("JWT_AUDIENCE", "cacatua")
	viper.SetDefault("JWT_VALID_HOURS", 1)
	viper.SetDefault("REFRESH_TOKEN_TTL_DAYS", 30)
	viper.SetDefault("IDENTITY_TIMEOUT", 10)
	viper.SetDefault("CLEANUP_INTERVAL_HOURS", 6)
	viper.SetDefault("RATE_LIMIT_RPS", 10)
	viper.SetDefault("RATE_LIMIT_BURST", 20)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 1)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
		},
		Store: StoreConfig{
			Backend: strings.ToLower(strings.TrimSpace(viper.GetString("STORE_BACKEND"))),
		},
		MongoDB: MongoDBConfig{
			URI:      viper.GetString("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			Secret:          os.Getenv("JWT_SECRET"),
			Issuer:          viper.GetString("JWT_ISSUER"),
			Audience:        viper.GetString("JWT_AUDIENCE"),
			AccessTokenTTL:  time.Duration(viper.GetInt("JWT_VALID_HOURS")) * time.Hour,
			RefreshTokenTTL: time.Duration(viper.GetInt("REFRESH_TOKEN_TTL_DAYS")) * 24 * time.Hour,
		},
		Identity: IdentityConfig{
			LoginURL:      viper.GetString("IDENTITY_LOGIN_URL"),
			APIKey:        os.Getenv("IDENTITY_API_KEY"),
			Issuer:        viper.GetString("IDENTITY_ISSUER"),
			Audience:      viper.GetString("IDENTITY_AUDIENCE"),
			AllowInsecure: strings.EqualFold(strings.TrimSpace(viper.GetString("ALLOW_INSECURE_TOKEN")), "true"),
			Timeout:       time.Duration(viper.GetInt("IDENTITY_TIMEOUT")) * time.Second,
			DevEmail:      viper.GetString("DEV_USER_EMAIL"),
			DevPassword:   os.Getenv("DEV_USER_PASSWORD"),
		},
		Cleanup: CleanupConfig{
			Interval: time.Duration(viper.GetInt("CLEANUP_INTERVAL_HOURS")) * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			RPS:           viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
		CORS: CORSConfig{
			AllowedOrigins: splitList(viper.GetString("CORS_ALLOWED_ORIGINS")),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.JWT.Secret == "" {
		log.Println("WARNING: JWT_SECRET is not set; set a secure value in production")
	}

	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case StoreMongo:
		if c.MongoDB.URI == "" {
			return fmt.Errorf("MONGODB_URI is required when STORE_BACKEND=%s", StoreMongo)
		}
	case StoreRedis:
		if c.Redis.Host == "" {
			return fmt.Errorf("REDIS_HOST is required when STORE_BACKEND=%s", StoreRedis)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.Store.Backend)
	}
	if c.JWT.AccessTokenTTL <= 0 {
		return fmt.Errorf("JWT_VALID_HOURS must be positive")
	}
	if c.JWT.RefreshTokenTTL <= 0 {
		return fmt.Errorf("REFRESH_TOKEN_TTL_DAYS must be positive")
	}
	if c.Server.Environment == "production" {
		switch {
		case c.Identity.LoginURL == "":
			return fmt.Errorf("IDENTITY_LOGIN_URL is required in production")
		case c.JWT.Secret == "":
			return fmt.Errorf("JWT_SECRET is required in production")
		case c.Identity.AllowInsecure:
			return fmt.Errorf("ALLOW_INSECURE_TOKEN must not be set in production")
		}
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
