package util

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

//nolint:gochecknoglobals // here its ok
var once sync.Once

func init() {
	once.Do(func() {
		if err := godotenv.Load(".env"); err != nil {
			log.Printf("Warning: could not load .env file: %v", err)
		}
	})
}

const (
	defaultServerAddr      = "localhost:8080"
	defaultWriteTimeout    = 10 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultGracefulTimeout = 5 * time.Second

	DefaultAccessTTLSeconds  = 900
	DefaultRefreshTTLSeconds = 60 * 60 * 24 * 30

	defaultSweepInterval = time.Minute

	ProviderID = "basic-auth"

	EnvProduction = "production"

	RegistrationOpen       = "open"
	RegistrationInviteOnly = "invite_only"
	RegistrationDisabled   = "disabled"

	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"

	StorageBackendPostgres = "postgres"
	StorageBackendMemory   = "memory"

	ForwardedForHeader  = "x-forwarded-for"
	RealIPHeader        = "x-real-ip"
	ForwardedHostHeader = "x-forwarded-host"

	JWTLeeWay = 5 * time.Second

	minPasswordLength      = 8
	bcryptMaxPasswordBytes = 72
)

type ServerConfig struct {
	ServerAddr      string
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	GracefulTimeout time.Duration
	Production      bool
	LogLevel        string
}

func NewServerConfig() *ServerConfig {
	addr := os.Getenv("SERVER_ADDRESS")
	if addr == "" {
		addr = defaultServerAddr
	}

	return &ServerConfig{
		ServerAddr:      addr,
		WriteTimeout:    parseDurationOrDefault("WRITE_TIMEOUT", defaultWriteTimeout),
		ReadTimeout:     parseDurationOrDefault("READ_TIMEOUT", defaultReadTimeout),
		IdleTimeout:     parseDurationOrDefault("IDLE_TIMEOUT", defaultIdleTimeout),
		GracefulTimeout: parseDurationOrDefault("GRACEFUL_TIMEOUT", defaultGracefulTimeout),
		Production:      IsProduction(),
		LogLevel:        os.Getenv("LOG_LEVEL"),
	}
}

// AuthConfig is the configuration consumed by the authentication core.
type AuthConfig struct {
	Enabled           bool
	Strict            bool
	EscapeHatch       bool
	JWTSecret         []byte
	RefreshSecret     []byte
	RefreshSecretSet  bool
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	BootstrapEmail    string
	BootstrapPassword string
	RegistrationMode  string
}

func NewAuthConfig() *AuthConfig {
	jwtSecret := os.Getenv("BASIC_AUTH_JWT_SECRET")
	refreshSecret, refreshSet := os.LookupEnv("BASIC_AUTH_REFRESH_SECRET")
	if !refreshSet || refreshSecret == "" {
		refreshSecret = jwtSecret
		refreshSet = false
	}

	mode := strings.ToLower(strings.TrimSpace(os.Getenv("REGISTRATION_MODE")))
	switch mode {
	case RegistrationOpen, RegistrationInviteOnly, RegistrationDisabled:
	case "":
		mode = RegistrationOpen
	default:
		log.Printf("Invalid REGISTRATION_MODE: %s, using default %s", mode, RegistrationOpen)
		mode = RegistrationOpen
	}

	return &AuthConfig{
		Enabled:           parseBoolOrDefault("AUTH_ENABLED", true),
		Strict:            isStrictMode(),
		EscapeHatch:       parseBoolOrDefault("AUTH_INSECURE_DEV_ESCAPE_HATCH", false),
		JWTSecret:         []byte(jwtSecret),
		RefreshSecret:     []byte(refreshSecret),
		RefreshSecretSet:  refreshSet,
		AccessTTL:         time.Duration(parsePositiveIntOrDefault("BASIC_AUTH_ACCESS_TTL_SECONDS", DefaultAccessTTLSeconds)) * time.Second,
		RefreshTTL:        time.Duration(parsePositiveIntOrDefault("BASIC_AUTH_REFRESH_TTL_SECONDS", DefaultRefreshTTLSeconds)) * time.Second,
		BootstrapEmail:    strings.TrimSpace(os.Getenv("BASIC_AUTH_BOOTSTRAP_EMAIL")),
		BootstrapPassword: os.Getenv("BASIC_AUTH_BOOTSTRAP_PASSWORD"),
		RegistrationMode:  mode,
	}
}

// HasBootstrapAccount reports whether both halves of the bootstrap pair are set.
func (c *AuthConfig) HasBootstrapAccount() bool {
	return c.BootstrapEmail != "" && c.BootstrapPassword != ""
}

type AuthConfigDiagnostics struct {
	Errors   []string
	Warnings []string
}

func (d AuthConfigDiagnostics) Valid() bool { return len(d.Errors) == 0 }

func (d AuthConfigDiagnostics) Err() error {
	if d.Valid() {
		return nil
	}
	return fmt.Errorf("invalid auth configuration: %s", strings.Join(d.Errors, " "))
}

// ValidateAuthConfig reports configuration problems. In strict mode a refresh TTL
// that does not exceed the access TTL is an error rather than a warning.
func ValidateAuthConfig(cfg *AuthConfig) AuthConfigDiagnostics {
	var d AuthConfigDiagnostics

	if !cfg.Enabled {
		d.Warnings = append(d.Warnings, "AUTH_ENABLED=false; basic-auth endpoints stay inert.")
	}

	if len(cfg.JWTSecret) == 0 {
		d.Errors = append(d.Errors, "Missing BASIC_AUTH_JWT_SECRET.")
	} else if !cfg.RefreshSecretSet {
		d.Warnings = append(d.Warnings, "BASIC_AUTH_REFRESH_SECRET is not set; refresh tokens are signed with the JWT secret.")
	}

	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		d.Errors = append(d.Errors, "Token TTLs must be positive.")
	}

	if cfg.AccessTTL > DefaultAccessTTLSeconds*time.Second {
		d.Warnings = append(d.Warnings, fmt.Sprintf(
			"BASIC_AUTH_ACCESS_TTL_SECONDS=%d is above recommended %ds.",
			int64(cfg.AccessTTL/time.Second), DefaultAccessTTLSeconds,
		))
	}

	if cfg.RefreshTTL <= cfg.AccessTTL {
		msg := "Refresh TTL should be greater than access TTL for practical session refresh behavior."
		if cfg.Strict {
			d.Errors = append(d.Errors, msg)
		} else {
			d.Warnings = append(d.Warnings, msg)
		}
	}

	if cfg.HasBootstrapAccount() {
		switch n := len(cfg.BootstrapPassword); {
		case n > bcryptMaxPasswordBytes:
			d.Warnings = append(d.Warnings, fmt.Sprintf(
				"BASIC_AUTH_BOOTSTRAP_PASSWORD is %d bytes; passwords above %d bytes cannot be hashed, the bootstrap account is skipped.",
				n, bcryptMaxPasswordBytes,
			))
		case n < minPasswordLength:
			d.Warnings = append(d.Warnings, fmt.Sprintf(
				"BASIC_AUTH_BOOTSTRAP_PASSWORD is shorter than %d characters.", minPasswordLength,
			))
		}
	}

	if (cfg.BootstrapEmail != "") != (cfg.BootstrapPassword != "") {
		d.Warnings = append(d.Warnings,
			"Bootstrap account is partially configured. Set both BASIC_AUTH_BOOTSTRAP_EMAIL and BASIC_AUTH_BOOTSTRAP_PASSWORD.")
	}

	return d
}

type ProxyConfig struct {
	TrustProxy          bool
	ForwardedForHeader  string
	ForwardedHostHeader string
}

func NewProxyConfig() *ProxyConfig {
	header := strings.ToLower(strings.TrimSpace(os.Getenv("FORWARDED_FOR_HEADER")))
	if header != RealIPHeader {
		header = ForwardedForHeader
	}

	return &ProxyConfig{
		TrustProxy:          parseBoolOrDefault("TRUST_PROXY", false),
		ForwardedForHeader:  header,
		ForwardedHostHeader: ForwardedHostHeader,
	}
}

type RateLimiterConfig struct {
	Backend       string
	SweepInterval time.Duration
}

func NewRateLimiterConfig() *RateLimiterConfig {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("RATE_LIMIT_BACKEND")))
	if backend != RateLimitBackendRedis {
		backend = RateLimitBackendMemory
	}

	return &RateLimiterConfig{
		Backend:       backend,
		SweepInterval: parseDurationOrDefault("RATE_LIMIT_SWEEP_INTERVAL", defaultSweepInterval),
	}
}

func GetWebhookURL() string {
	return os.Getenv("WEBHOOK_URL")
}

func GetStorageBackend() string {
	if strings.ToLower(strings.TrimSpace(os.Getenv("STORAGE_BACKEND"))) == StorageBackendMemory {
		return StorageBackendMemory
	}
	return StorageBackendPostgres
}

func IsProduction() bool {
	return os.Getenv("APP_ENV") == EnvProduction
}

func isStrictMode() bool {
	if parseBoolOrDefault("AUTH_STRICT_CONFIG", false) {
		return true
	}
	return IsProduction()
}

func parseDurationOrDefault(varName string, def time.Duration) time.Duration {
	if v := os.Getenv(varName); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Invalid duration in %s: %s, using default %s", varName, v, def)
	}
	return def
}

func parsePositiveIntOrDefault(varName string, def int) int {
	if v := os.Getenv(varName); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
		log.Printf("Invalid positive integer in %s: %s, using default %d", varName, v, def)
	}
	return def
}

func parseBoolOrDefault(varName string, def bool) bool {
	if v := os.Getenv(varName); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
		log.Printf("Invalid boolean in %s: %s, using default %t", varName, v, def)
	}
	return def
}
