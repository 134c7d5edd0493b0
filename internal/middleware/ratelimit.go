package middleware

import (
    "bytes"
    "crypto/sha256"
    "encoding/hex"
    "encoding/json"
    "fmt"
    "io"
    "math"
    "net/http"
    "strconv"
    "strings"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"

    "github.com/iliyamo/clinic-api/internal/config"
    "github.com/iliyamo/clinic-api/internal/logger"
)

// maxPeek bounds how much of a login body is read to find the username.
const maxPeek = 8 << 10

// bucketScript refills and takes one token atomically.  It returns
// {allowed, remaining, retry_after_ms}.
var bucketScript = redis.NewScript(`
    local key = KEYS[1]
    local now_ms = tonumber(ARGV[1])
    local capacity = tonumber(ARGV[2])
    local interval_ms = tonumber(ARGV[3])
    local ttl_seconds = tonumber(ARGV[4])

    local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
    local tokens = tonumber(state[1])
    local last_refill = tonumber(state[2])
    if tokens == nil or last_refill == nil then
        tokens = capacity
        last_refill = now_ms
    end

    local intervals = math.floor(math.max(0, now_ms - last_refill) / interval_ms)
    if intervals > 0 then
        tokens = math.min(capacity, tokens + intervals)
        last_refill = last_refill + intervals * interval_ms
    end

    local allowed = 0
    local retry_ms = 0
    if tokens > 0 then
        allowed = 1
        tokens = tokens - 1
    else
        retry_ms = math.max(0, interval_ms - (now_ms - last_refill))
    end

    redis.call('HSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
    redis.call('EXPIRE', key, ttl_seconds)
    return { allowed, tokens, retry_ms }
`)

// Limiter throttles the credential endpoints with Redis token buckets.
// Without Redis, or when Redis errors, requests pass through.
type Limiter struct {
    cfg config.RateLimitConfig
    rdb *redis.Client
    now func() time.Time
}

func NewLimiter(cfg config.RateLimitConfig, rdb *redis.Client) *Limiter {
    return &Limiter{cfg: cfg, rdb: rdb, now: time.Now}
}

// PerClient limits attempts per tenant, client ip and route.
func (l *Limiter) PerClient() echo.MiddlewareFunc {
    return l.bucket(l.cfg.ClientBurst, l.cfg.ClientEvery, func(c echo.Context) string {
        ip := c.RealIP()
        if ip == "" {
            ip = "unknown"
        }
        return fmt.Sprintf("%s:t%d:ip:%s:%s", l.cfg.Prefix, TenantFrom(c), ip, c.Path())
    })
}

// PerAccount limits login attempts per tenant and submitted username, no
// matter how many addresses they come from.  Requests without a username
// are left to the handler's validation.
func (l *Limiter) PerAccount() echo.MiddlewareFunc {
    return l.bucket(l.cfg.AccountBurst, l.cfg.AccountEvery, func(c echo.Context) string {
        name := strings.ToLower(strings.TrimSpace(loginIdentifier(c)))
        if name == "" {
            return ""
        }
        sum := sha256.Sum256([]byte(name))
        return fmt.Sprintf("%s:t%d:acct:%s", l.cfg.Prefix, TenantFrom(c), hex.EncodeToString(sum[:16]))
    })
}

func (l *Limiter) bucket(burst int, every time.Duration, keyFn func(echo.Context) string) echo.MiddlewareFunc {
    if !l.cfg.Enabled || l.rdb == nil {
        return func(next echo.HandlerFunc) echo.HandlerFunc { return next }
    }
    if every <= 0 {
        every = time.Second
    }
    ttl := int64(time.Duration(burst+1) * every / time.Second)
    if ttl < 1 {
        ttl = 1
    }

    return func(next echo.HandlerFunc) echo.HandlerFunc {
        return func(c echo.Context) error {
            key := keyFn(c)
            if key == "" {
                return next(c)
            }
            args := []interface{}{l.now().UnixMilli(), burst, every.Milliseconds(), ttl}
            vals, err := bucketScript.Run(c.Request().Context(), l.rdb, []string{key}, args...).Int64Slice()
            if err != nil || len(vals) != 3 {
                if l.cfg.Debug {
                    logger.Warn().Err(err).Str("key", key).Msg("ratelimit: bucket unavailable")
                }
                return next(c)
            }
            allowed, remaining, retryMs := vals[0] == 1, vals[1], vals[2]

            c.Response().Header().Set("X-RateLimit-Limit", strconv.Itoa(burst))
            c.Response().Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
            if allowed {
                return next(c)
            }

            secs := int(math.Ceil(float64(retryMs) / 1000.0))
            c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
            logger.Warn().
                Uint64("tenant_id", TenantFrom(c)).
                Str("ip", c.RealIP()).
                Str("route", c.Path()).
                Msg("credential endpoint throttled")
            return c.JSON(http.StatusTooManyRequests, echo.Map{
                "error":       "rate limit exceeded",
                "retry_after": secs,
            })
        }
    }
}

// loginIdentifier reads the username out of a JSON body and puts the body
// back for the handler.
func loginIdentifier(c echo.Context) string {
    req := c.Request()
    if req.Body == nil {
        return ""
    }
    head, err := io.ReadAll(io.LimitReader(req.Body, maxPeek))
    req.Body = io.NopCloser(io.MultiReader(bytes.NewReader(head), req.Body))
    if err != nil {
        return ""
    }
    var in struct {
        Username string `json:"username"`
    }
    if json.Unmarshal(head, &in) != nil {
        return ""
    }
    return in.Username
}
