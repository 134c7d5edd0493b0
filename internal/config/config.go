package config // package config loads application configuration from environment variables

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/clinic-api/internal/logger"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Secrets are kept as strings; lifetimes are parsed
// into durations once so that the rest of the code never re-reads the env.
type Config struct {
	Env  string // application environment (e.g. "dev", "prod")
	Port string // HTTP port to listen on

	DBUser string // database username
	DBPass string // database password (optional)
	DBHost string // database host address
	DBPort string // database port number
	DBName string // database name

	JWTSecret    string        // secret used to sign access tokens
	JWTAlgorithm string        // informational algorithm tag, only HS256 is issued
	JWTIssuer    string        // iss claim written and required on verify
	AccessTTL    time.Duration // access token lifetime
	RefreshTTL   time.Duration // refresh token lifetime
	CSRFTTL      time.Duration // CSRF token lifetime
	BcryptCost   int           // bcrypt cost for password hashing

	CipherKeySecret  string // hashed into the AES-256 key for PII fields
	CipherIVSecret   string // hashed into the legacy fixed IV
	CipherHashSecret string // HMAC key for *_hash lookup columns

	Cookie CookieConfig

	LogLevel        string // zerolog level
	CleanupSchedule string // cron spec for refresh token cleanup
	RabbitURL       string // AMQP url; empty disables the security event bus
}

// CookieConfig controls how the refresh token cookie is written.
type CookieConfig struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// LoadDotEnv loads a .env file when one exists.  Variables already present
// in the process environment win.
func LoadDotEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Msg("could not load .env file")
	}
}

// Load reads configuration values from environment variables and returns a
// Config.  Missing or malformed required values halt the program.
func Load() Config {
	cfg, err := FromEnv()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	return cfg
}

// FromEnv builds a Config from the current environment.
func FromEnv() (Config, error) {
	var missing []string
	must := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := Config{
		Env:    must("APP_ENV"),
		Port:   must("APP_PORT"),
		DBUser: must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: must("DB_HOST"),
		DBPort: must("DB_PORT"),
		DBName: must("DB_NAME"),

		JWTSecret:    must("JWT_SECRET"),
		JWTAlgorithm: envStr("JWT_ALGORITHM", "HS256"),
		JWTIssuer:    envStr("JWT_ISSUER", "clinic-api"),
		AccessTTL:    envDur("ACCESS_TOKEN_TTL", 900*time.Second),
		RefreshTTL:   envDur("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		CSRFTTL:      envDur("CSRF_TTL", time.Hour),
		BcryptCost:   envInt("BCRYPT_COST", 12),

		CipherKeySecret:  must("CIPHER_KEY_SECRET"),
		CipherIVSecret:   must("CIPHER_IV_SECRET"),
		CipherHashSecret: must("CIPHER_HASH_SECRET"),

		Cookie: CookieConfig{
			Name:     envStr("REFRESH_COOKIE_NAME", "refresh_token"),
			Path:     envStr("REFRESH_COOKIE_PATH", "/v1/auth"),
			Domain:   os.Getenv("REFRESH_COOKIE_DOMAIN"),
			Secure:   envBool("REFRESH_COOKIE_SECURE", true),
			SameSite: parseSameSite(envStr("REFRESH_COOKIE_SAMESITE", "strict")),
		},

		LogLevel:        envStr("LOG_LEVEL", "info"),
		CleanupSchedule: envStr("CLEANUP_SCHEDULE", "@hourly"),
		RabbitURL:       os.Getenv("RABBITMQ_URL"),
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if !strings.EqualFold(cfg.JWTAlgorithm, "HS256") {
		return Config{}, fmt.Errorf("JWT_ALGORITHM %q is not supported, only HS256", cfg.JWTAlgorithm)
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.CSRFTTL <= 0 {
		return Config{}, fmt.Errorf("token lifetimes must be positive")
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		return Config{}, fmt.Errorf("ACCESS_TOKEN_TTL (%s) must be shorter than REFRESH_TOKEN_TTL (%s)", cfg.AccessTTL, cfg.RefreshTTL)
	}
	return cfg, nil
}

func parseSameSite(v string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	case "default":
		return http.SameSiteDefaultMode
	}
	return http.SameSiteStrictMode
}

// atoi is used where a malformed number should read as zero.
func atoi(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}
