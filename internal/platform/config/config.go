package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config groups every knob the server needs. All values come from the
// environment so main stays lean; a .env file is honored in development.
type Config struct {
	Server   Server
	Token    Token
	Cookie   Cookie
	TOTP     TOTP
	Lockout  Lockout
	Redis    Redis
	Postgres Postgres
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr        string
	SeedDevUser bool
}

// Token holds signing keys and lifetimes for the two token classes. The
// access and refresh keys must differ so one class of token can never be
// replayed as the other.
type Token struct {
	AccessSigningKey  string
	RefreshSigningKey string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	Issuer            string
}

// Cookie controls how the token cookies are emitted.
type Cookie struct {
	Secure bool
}

// TOTP configures second-factor verification.
type TOTP struct {
	Issuer string
	// Skew is the number of 30s steps accepted either side of now during
	// login. Enrollment verification always uses a window of 1.
	Skew int
}

// Lockout throttles repeated failed logins per username.
type Lockout struct {
	MaxFailures int
	Cooldown    time.Duration
}

// Redis configures the optional refresh-token store backend. Empty URL means
// the in-memory store is used.
type Redis struct {
	URL string
}

// Postgres configures the optional user store backend. Empty DSN means the
// in-memory store is used.
type Postgres struct {
	DSN string
}

// FromEnv builds a Config from environment variables, loading a .env file
// first when one is present.
func FromEnv() Config {
	_ = godotenv.Load()

	return Config{
		Server: Server{
			Addr:        envOr("REACTOM_ADDR", ":8080"),
			SeedDevUser: os.Getenv("REACTOM_SEED_DEV_USER") == "true",
		},
		Token: Token{
			AccessSigningKey:  envOr("REACTOM_ACCESS_SIGNING_KEY", "dev-access-key-change-in-production"),
			RefreshSigningKey: envOr("REACTOM_REFRESH_SIGNING_KEY", "dev-refresh-key-change-in-production"),
			AccessTTL:         envDuration("REACTOM_ACCESS_TTL", 15*time.Minute),
			RefreshTTL:        envDuration("REACTOM_REFRESH_TTL", 7*24*time.Hour),
			Issuer:            envOr("REACTOM_TOKEN_ISSUER", "reactom"),
		},
		Cookie: Cookie{
			Secure: os.Getenv("REACTOM_ENV") == "production",
		},
		TOTP: TOTP{
			Issuer: envOr("REACTOM_TOTP_ISSUER", "Reactom"),
			Skew:   envInt("REACTOM_TOTP_SKEW", 2),
		},
		Lockout: Lockout{
			MaxFailures: envInt("REACTOM_LOCKOUT_MAX_FAILURES", 5),
			Cooldown:    envDuration("REACTOM_LOCKOUT_COOLDOWN", 5*time.Minute),
		},
		Redis: Redis{
			URL: os.Getenv("REACTOM_REDIS_URL"),
		},
		Postgres: Postgres{
			DSN: os.Getenv("REACTOM_POSTGRES_DSN"),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
