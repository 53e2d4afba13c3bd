// Package config reads the VENDORACCESS_* environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "VENDORACCESS_"

// Config is the process configuration, read once at startup.
type Config struct {
	HTTPAddr      string
	GRPCAddr      string
	PGDSN         string
	AuthSecret    []byte
	TokenKey      []byte
	MaxGrantHours int
	TokenTTL      time.Duration
	SessionTTL    time.Duration
	SweepInterval time.Duration
	CacheTTL      time.Duration
	StoreTimeout  time.Duration
	RateBurst     int
	RatePerSec    int
}

// Load reads the environment through lookupEnv (os.LookupEnv when nil). A
// variable set to the empty string counts as set.
func Load(lookupEnv func(string) (string, bool)) (Config, error) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	r := reader{lookupEnv: lookupEnv}
	cfg := Config{
		HTTPAddr:      r.str("HTTP_ADDR", ":8080"),
		GRPCAddr:      r.str("GRPC_ADDR", ":9090"),
		PGDSN:         r.str("PG_DSN", ""),
		AuthSecret:    []byte(r.str("AUTH_SECRET", "")),
		TokenKey:      []byte(r.str("TOKEN_KEY", "")),
		MaxGrantHours: r.int("MAX_GRANT_HOURS", 720),
		TokenTTL:      r.duration("TOKEN_TTL", 24*time.Hour),
		SessionTTL:    r.duration("SESSION_TTL", 30*time.Minute),
		SweepInterval: r.duration("SWEEP_INTERVAL", time.Minute),
		CacheTTL:      r.duration("CACHE_TTL", 5*time.Second),
		StoreTimeout:  r.duration("STORE_TIMEOUT", 2*time.Second),
		RateBurst:     r.int("RATE_BURST", 20),
		RatePerSec:    r.int("RATE_PER_SEC", 10),
	}
	if cfg.HTTPAddr == "" {
		r.fail("HTTP_ADDR", "must not be empty")
	}
	if len(cfg.AuthSecret) < 32 {
		r.fail("AUTH_SECRET", "must be at least 32 bytes")
	}
	if len(cfg.TokenKey) < 32 {
		r.fail("TOKEN_KEY", "must be at least 32 bytes")
	}
	if cfg.MaxGrantHours <= 0 {
		r.fail("MAX_GRANT_HOURS", "must be positive")
	}
	if cfg.CacheTTL < 0 {
		r.fail("CACHE_TTL", "must not be negative")
	}
	return cfg, errors.Join(r.errs...)
}

type reader struct {
	lookupEnv func(string) (string, bool)
	errs      []error
}

func (r *reader) lookup(key string) (string, bool) {
	v, ok := r.lookupEnv(envPrefix + key)
	return strings.TrimSpace(v), ok
}

func (r *reader) fail(key, msg string) {
	r.errs = append(r.errs, fmt.Errorf("%s%s %s", envPrefix, key, msg))
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok {
		return v
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, "must be an integer")
		return def
	}
	return n
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.fail(key, "must be a duration such as 30s or 5m")
		return def
	}
	return d
}
