// Package config loads service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MaxResetTokenTTL caps the lifetime of password reset tokens.
const MaxResetTokenTTL = time.Hour

type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	DatabaseURL     string
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string
	ResetQueue    string

	JWTSecret     string
	JWTPrivateKey string
	JWTPublicKey  string
	JWTKeyID      string
	JWTIssuer     string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	ResetTokenTTL   time.Duration

	PasswordAlgorithm string
	BcryptCost        int

	PolicyFile string

	LogLevel string
	LogDev   bool

	RateLimitBurst     int
	RateLimitPerSecond float64
	MaxBodyBytes       int64
	TrustedProxies     []netip.Prefix

	BootstrapAdminEmail    string
	BootstrapAdminPassword string

	TokenSweepInterval time.Duration
	TokenSweepTimeout  time.Duration
}

// Load reads the process environment. Variables from the file named by ENV_FILE
// (default .env) are applied first without overriding ones already set; a missing
// file is not an error.
func Load() (Config, error) {
	if err := godotenv.Load(getenv("ENV_FILE", ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	proxies, err := parsePrefixes(getenv("TRUSTED_PROXIES", ""))
	if err != nil {
		return Config{}, fmt.Errorf("TRUSTED_PROXIES: %w", err)
	}

	return Config{
		HTTPAddr:        getenv("HTTP_ADDR", ":8080"),
		GRPCAddr:        getenv("GRPC_ADDR", ":9090"),
		DatabaseURL:     getenv("DATABASE_URL", ""),
		ShutdownTimeout: getenvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		RedisAddr:     getenv("REDIS_ADDR", ""),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		ResetQueue:    getenv("RESET_QUEUE", "hrcore:password-reset"),

		JWTSecret:     getenvKey("JWT_SECRET", ""),
		JWTPrivateKey: getenvKey("JWT_PRIVATE_KEY", ""),
		JWTPublicKey:  getenvKey("JWT_PUBLIC_KEY", ""),
		JWTKeyID:      getenv("JWT_KEY_ID", ""),
		JWTIssuer:     getenv("JWT_ISSUER", "hrcore"),

		AccessTokenTTL:  getenvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getenvDuration("REFRESH_TOKEN_TTL", 14*24*time.Hour),
		ResetTokenTTL:   getenvDuration("RESET_TOKEN_TTL", 30*time.Minute),

		PasswordAlgorithm: getenv("PASSWORD_ALGORITHM", "bcrypt"),
		BcryptCost:        getenvInt("PASSWORD_BCRYPT_COST", 12),

		PolicyFile: getenv("POLICY_FILE", ""),

		LogLevel: getenv("LOG_LEVEL", "info"),
		LogDev:   getenvBool("LOG_DEV", false),

		RateLimitBurst:     getenvInt("RATE_LIMIT_BURST", 10),
		RateLimitPerSecond: getenvFloat("RATE_LIMIT_RPS", 1),
		MaxBodyBytes:       int64(getenvInt("MAX_BODY_BYTES", 1<<20)),
		TrustedProxies:     proxies,

		BootstrapAdminEmail:    getenv("BOOTSTRAP_ADMIN_EMAIL", ""),
		BootstrapAdminPassword: getenvKey("BOOTSTRAP_ADMIN_PASSWORD", ""),

		TokenSweepInterval: getenvDuration("TOKEN_SWEEP_INTERVAL", time.Hour),
		TokenSweepTimeout:  getenvDuration("TOKEN_SWEEP_TIMEOUT", 30*time.Second),
	}, nil
}

// Validate reports settings the service cannot start with.
func (c Config) Validate() error {
	var problems []string

	switch {
	case c.JWTPrivateKey != "" || c.JWTPublicKey != "":
		if c.JWTPrivateKey == "" || c.JWTPublicKey == "" {
			problems = append(problems, "JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set together")
		}
	case c.JWTSecret == "":
		problems = append(problems, "JWT_SECRET or an RSA key pair is required")
	case len(c.JWTSecret) < 32:
		problems = append(problems, "JWT_SECRET must be at least 32 bytes")
	}

	if c.AccessTokenTTL <= 0 {
		problems = append(problems, "ACCESS_TOKEN_TTL must be positive")
	}
	if c.RefreshTokenTTL <= 0 {
		problems = append(problems, "REFRESH_TOKEN_TTL must be positive")
	}
	if c.ResetTokenTTL <= 0 || c.ResetTokenTTL > MaxResetTokenTTL {
		problems = append(problems, fmt.Sprintf("RESET_TOKEN_TTL must be in (0, %s]", MaxResetTokenTTL))
	}
	if (c.BootstrapAdminEmail == "") != (c.BootstrapAdminPassword == "") {
		problems = append(problems, "BOOTSTRAP_ADMIN_EMAIL and BOOTSTRAP_ADMIN_PASSWORD must be set together")
	}
	if c.RateLimitBurst < 0 || c.RateLimitPerSecond < 0 {
		problems = append(problems, "rate limit settings must not be negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// parsePrefixes reads a comma separated list of CIDRs or bare addresses.
func parsePrefixes(list string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func getenv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	if val := os.Getenv(key + "_SECONDS"); val != "" {
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

// getenvKey reads secrets either inline or from the file named by KEY_FILE.
func getenvKey(key, fallback string) string {
	if file := os.Getenv(key + "_FILE"); file != "" {
		if data, err := os.ReadFile(file); err == nil {
			return normalizePEM(string(data))
		}
	}
	if val := os.Getenv(key); val != "" {
		return normalizePEM(val)
	}
	return fallback
}

func normalizePEM(value string) string {
	value = strings.TrimSpace(value)
	if strings.Contains(value, "\\n") && !strings.Contains(value, "\n") {
		value = strings.ReplaceAll(value, "\\n", "\n")
	}
	return value
}
