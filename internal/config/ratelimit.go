package config

import (
    "os"
    "strconv"
    "strings"
    "time"
)

// RateLimitConfig drives the token buckets in front of login and refresh.
// Client buckets are keyed by tenant and ip; account buckets by tenant and
// the submitted username, so one clinic's traffic never drains another's.
type RateLimitConfig struct {
    Enabled bool
    Prefix  string

    ClientBurst int           // attempts per tenant+ip+route before throttling
    ClientEvery time.Duration // one attempt refilled per interval

    AccountBurst int           // login attempts per tenant+username
    AccountEvery time.Duration

    Debug bool
}

// LoadRateLimitConfig reads the limiter settings.  A burst of 10 per client
// refilled every 6s, and 5 per account refilled every minute.
func LoadRateLimitConfig() RateLimitConfig {
    cfg := RateLimitConfig{
        Enabled:      envBool("RATE_LIMIT_ENABLED", true),
        Prefix:       envStr("RATE_LIMIT_PREFIX", "rl"),
        ClientBurst:  envInt("RATE_LIMIT_BURST", 10),
        ClientEvery:  envDur("RATE_LIMIT_REFILL_EVERY", 6*time.Second),
        AccountBurst: envInt("RATE_LIMIT_ACCOUNT_BURST", 5),
        AccountEvery: envDur("RATE_LIMIT_ACCOUNT_REFILL_EVERY", time.Minute),
        Debug:        envBool("RATE_LIMIT_DEBUG", false),
    }
    if cfg.ClientBurst < 1 {
        cfg.ClientBurst = 1
    }
    if cfg.AccountBurst < 1 {
        cfg.AccountBurst = 1
    }
    if cfg.ClientEvery <= 0 {
        cfg.ClientEvery = time.Second
    }
    if cfg.AccountEvery <= 0 {
        cfg.AccountEvery = time.Second
    }
    return cfg
}

func envStr(k, d string) string {
    if v := os.Getenv(k); v != "" {
        return v
    }
    return d
}

func envBool(k string, d bool) bool {
    v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(k)))
    if err != nil {
        return d
    }
    return v
}

func envInt(k string, d int) int {
    if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv(k))); err == nil {
        return n
    }
    return d
}

// envDur accepts Go durations ("15m") and bare integers, read as seconds.
func envDur(k string, d time.Duration) time.Duration {
    v := strings.TrimSpace(os.Getenv(k))
    if v == "" {
        return d
    }
    if n := atoi(v); n > 0 && strconv.Itoa(n) == v {
        return time.Duration(n) * time.Second
    }
    if dur, err := time.ParseDuration(v); err == nil {
        return dur
    }
    return d
}
