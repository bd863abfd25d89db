package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Risk     RiskConfig
	Session  SessionConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	PublicBaseURL  string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	CleanupInterval   time.Duration
	AdminToken        string
}

// RiskConfig controls attempt throttling and location/device anomaly checks
type RiskConfig struct {
	AttemptThreshold      int
	ThrottleCapacity      int
	ThrottleRetention     time.Duration
	EnrollmentTokenTTL    time.Duration
	LocationCheckEnabled  bool
	GeoIPDatabasePath     string
	GeoIPStaticCountry    string // development only: every address resolves here
	GeoBreakerMaxFailures uint32
	GeoBreakerTimeout     time.Duration
}

type SessionConfig struct {
	MaxSessionsPerUser int
	Store              string // "memory" or "redis"
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RedisPrefix        string
}

type EmailConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")
	port := getEnv("PORT", "8080")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "loginguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           port,
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 30*time.Minute),
			CleanupInterval:   getEnvAsDuration("TOKEN_CLEANUP_INTERVAL", 1*time.Hour),
			AdminToken:        getEnv("ADMIN_TOKEN", ""),
		},
		Risk: RiskConfig{
			AttemptThreshold:      getEnvAsInt("LOGIN_ATTEMPT_THRESHOLD", 10),
			ThrottleCapacity:      getEnvAsInt("THROTTLE_CAPACITY", 10),
			ThrottleRetention:     getEnvAsDuration("THROTTLE_RETENTION", 24*time.Hour),
			EnrollmentTokenTTL:    getEnvAsDuration("ENROLLMENT_TOKEN_TTL", 24*time.Hour),
			LocationCheckEnabled:  getEnvAsBool("LOCATION_CHECK_ENABLED", true),
			GeoIPDatabasePath:     getEnv("GEOIP_DB_PATH", ""),
			GeoIPStaticCountry:    strings.ToUpper(getEnv("GEOIP_STATIC_COUNTRY", "")),
			GeoBreakerMaxFailures: uint32(getEnvAsInt("GEO_BREAKER_MAX_FAILURES", 5)),
			GeoBreakerTimeout:     getEnvAsDuration("GEO_BREAKER_TIMEOUT", 30*time.Second),
		},
		Session: SessionConfig{
			MaxSessionsPerUser: getEnvAsInt("MAX_SESSIONS_PER_USER", 1),
			Store:              strings.ToLower(getEnv("SESSION_STORE", "memory")),
			RedisAddr:          getEnv("REDIS_ADDR", ""),
			RedisPassword:      getEnv("REDIS_PASSWORD", ""),
			RedisDB:            getEnvAsInt("REDIS_DB", 0),
			RedisPrefix:        getEnv("REDIS_PREFIX", "loginguard:"),
		},
		Email: EmailConfig{
			Enabled:     getEnvAsBool("EMAIL_ENABLED", true),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Risk.AttemptThreshold < 1 {
		return fmt.Errorf("LOGIN_ATTEMPT_THRESHOLD must be at least 1")
	}
	if c.Risk.ThrottleCapacity < 1 {
		return fmt.Errorf("THROTTLE_CAPACITY must be at least 1")
	}
	if c.Risk.ThrottleRetention <= 0 {
		return fmt.Errorf("THROTTLE_RETENTION must be positive")
	}
	if c.Risk.EnrollmentTokenTTL <= 0 {
		return fmt.Errorf("ENROLLMENT_TOKEN_TTL must be positive")
	}
	if c.Risk.LocationCheckEnabled && c.Risk.GeoIPDatabasePath == "" && c.Risk.GeoIPStaticCountry == "" {
		return fmt.Errorf("GEOIP_DB_PATH is required when LOCATION_CHECK_ENABLED is true")
	}
	if c.Session.MaxSessionsPerUser < 1 {
		return fmt.Errorf("MAX_SESSIONS_PER_USER must be at least 1")
	}
	switch c.Session.Store {
	case "memory":
	case "redis":
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when SESSION_STORE is redis")
		}
	default:
		return fmt.Errorf("SESSION_STORE must be memory or redis (got %q)", c.Session.Store)
	}
	if c.Email.Enabled && c.Email.FromAddress == "" {
		return fmt.Errorf("EMAIL_FROM_ADDRESS is required when EMAIL_ENABLED is true")
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
