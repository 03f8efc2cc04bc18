package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MemoryDatabaseURL selects the in-process store instead of Postgres.
const MemoryDatabaseURL = "memory://"

// Config holds runtime configuration sourced from env vars.
type Config struct {
	// Addr overrides Port when set, e.g. "127.0.0.1:9090".
	Addr        string
	Port        string
	DatabaseURL string
	JWTSecret   string
	JWTIssuer   string
	JWTTTL      time.Duration
	APIPrefix   string
	CORSOrigins []string

	DefaultRole      string
	ResetPINTTL      time.Duration
	PINSweepSchedule string
	BcryptCost       int

	Mail MailConfig

	LogLevel  string
	LogFormat string

	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

// MailConfig describes the outbound SMTP relay. An empty Host disables SMTP.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Load reads configuration from the environment and performs minimal validation.
func Load() (Config, error) {
	cfg := Config{
		Port:             fallback(os.Getenv("PORT"), "8080"),
		DatabaseURL:      strings.TrimSpace(os.Getenv("DATABASE_URL")),
		JWTSecret:        strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTIssuer:        fallback(os.Getenv("JWT_ISSUER"), "authz-backend"),
		JWTTTL:           minutes(os.Getenv("JWT_TTL_MINUTES"), 60),
		APIPrefix:        normalizePrefix(fallback(os.Getenv("API_PREFIX"), "/api/v1")),
		CORSOrigins:      parseCSV(fallback(os.Getenv("CORS_ALLOWED_ORIGINS"), "*")),
		DefaultRole:      fallback(os.Getenv("DEFAULT_ROLE"), "employee"),
		ResetPINTTL:      minutes(os.Getenv("RESET_PIN_TTL_MINUTES"), 15),
		PINSweepSchedule: fallback(os.Getenv("PIN_SWEEP_SCHEDULE"), "@every 5m"),
		BcryptCost:       positiveInt(os.Getenv("BCRYPT_COST"), 10),
		Mail: MailConfig{
			Host:     strings.TrimSpace(os.Getenv("MAIL_HOST")),
			Port:     positiveInt(os.Getenv("MAIL_PORT"), 587),
			Username: strings.TrimSpace(os.Getenv("MAIL_USERNAME")),
			Password: os.Getenv("MAIL_PASSWORD"),
		},
		LogLevel:               strings.ToLower(fallback(os.Getenv("LOG_LEVEL"), "info")),
		LogFormat:              strings.ToLower(fallback(os.Getenv("LOG_FORMAT"), "json")),
		BootstrapAdminEmail:    strings.TrimSpace(os.Getenv("BOOTSTRAP_ADMIN_EMAIL")),
		BootstrapAdminPassword: os.Getenv("BOOTSTRAP_ADMIN_PASSWORD"),
	}
	cfg.Mail.From = fallback(os.Getenv("MAIL_FROM"), cfg.Mail.Username)

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET is required")
	}
	if (cfg.BootstrapAdminEmail == "") != (cfg.BootstrapAdminPassword == "") {
		return Config{}, errors.New("BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}

	return cfg, nil
}

// HTTPAddress returns the host:port pair for the HTTP server to bind to.
func (c Config) HTTPAddress() string {
	if c.Addr != "" {
		return c.Addr
	}
	return fmt.Sprintf(":%s", c.Port)
}

// UsesMemoryStore reports whether DATABASE_URL selects the in-process store.
func (c Config) UsesMemoryStore() bool {
	return strings.HasPrefix(c.DatabaseURL, MemoryDatabaseURL)
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return strings.TrimSpace(value)
}

func minutes(value string, def int) time.Duration {
	return time.Duration(positiveInt(value, def)) * time.Minute
}

func positiveInt(value string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix != "" && !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
