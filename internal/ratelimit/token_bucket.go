package ratelimit

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// KEYS[1] bucket hash; ARGV rate per second, burst, ttl ms.
// Replies {allowed, remaining, retry_ms}. Remaining is returned as a string
// so fractional refill survives the lua to redis integer conversion.
var takeScript = redis.NewScript(`
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or burst
local last = tonumber(state[2]) or now
if now > last then
  tokens = math.min(burst, tokens + ((now - last) / 1000) * rate)
end

local allowed = 0
local retry = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  retry = math.ceil(((1 - tokens) / rate) * 1000)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", now)
redis.call("PEXPIRE", KEYS[1], ttl)

return {allowed, tostring(tokens), retry}
`)

var (
	ErrBucketDisabled = errors.New("rate_limiter_disabled")
	ErrBucketKey      = errors.New("rate_limiter_key_required")
	ErrBucketRate     = errors.New("rate_limiter_rate_invalid")
	ErrBucketReply    = errors.New("rate_limiter_reply_invalid")
)

// TokenBucket is a redis backed bucket shared by every api instance.
type TokenBucket struct {
	client *redis.Client
}

// Decision is the outcome of one Take.
type Decision struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
}

func NewTokenBucket(client *redis.Client) *TokenBucket {
	if client == nil {
		return nil
	}
	return &TokenBucket{client: client}
}

// Take consumes one token from key when one is available.
func (t *TokenBucket) Take(ctx context.Context, key string, rate float64, burst int) (Decision, error) {
	switch {
	case t == nil || t.client == nil:
		return Decision{}, ErrBucketDisabled
	case key == "":
		return Decision{}, ErrBucketKey
	case rate <= 0 || burst <= 0:
		return Decision{}, ErrBucketRate
	}

	ttl := defaultBucketTTL(rate, burst)
	reply, err := takeScript.Run(ctx, t.client, []string{key}, rate, burst, ttl.Milliseconds()).Slice()
	if err != nil {
		return Decision{}, err
	}
	if len(reply) < 3 {
		return Decision{}, ErrBucketReply
	}

	return Decision{
		Allowed:    castToInt(reply[0]) == 1,
		Remaining:  castToFloat(reply[1]),
		RetryAfter: time.Duration(castToInt(reply[2])) * time.Millisecond,
	}, nil
}

// defaultBucketTTL keeps an idle bucket around for twice its refill window.
func defaultBucketTTL(rate float64, burst int) time.Duration {
	if rate <= 0 || burst <= 0 {
		return time.Second
	}
	seconds := math.Max(1, math.Ceil(float64(burst)/rate*2))
	return time.Duration(seconds) * time.Second
}

func castToInt(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	}
	return 0
}

func castToFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int64:
		return float64(val)
	case string:
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return 0
}
