package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRateLimitPrefix = "budgetgator:rate_limit"
	rateLimitWindow        = time.Minute
)

// Route scopes that fan out to the aggregator and carry their own quota.
const (
	ScopeTransactions = "transactions"
	ScopeSync         = "sync"
	ScopeAccounts     = "accounts"
)

// quotaScript opens the window on the first hit of a key and counts hits until the
// key expires. It returns the count and the window's remaining milliseconds.
var quotaScript = redis.NewScript(`
redis.call("SET", KEYS[1], 0, "PX", ARGV[1], "NX")
local hits = redis.call("INCR", KEYS[1])
return {hits, redis.call("PTTL", KEYS[1])}
`)

// RateLimitPolicy holds per-minute request quotas by scope. Scopes without an entry
// in Scopes use PerMinute. A quota of zero leaves the scope unthrottled.
type RateLimitPolicy struct {
	PerMinute int
	Scopes    map[string]int
}

// LimitFor returns the per-minute quota for scope.
func (p RateLimitPolicy) LimitFor(scope string) int {
	if limit, ok := p.Scopes[scope]; ok {
		return limit
	}
	return p.PerMinute
}

// RateLimitDecision is the outcome of spending one request against a quota.
type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// RateLimiter spends one request of a user's quota for a route scope.
type RateLimiter interface {
	Consume(ctx context.Context, scope, userID string) (RateLimitDecision, error)
}

// RedisRateLimiter keeps per-user counters in Redis so every instance of the service
// shares one quota per user and scope.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	policy RateLimitPolicy
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string, policy RateLimitPolicy) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RedisRateLimiter{client: client, prefix: prefix, policy: policy}
}

func (r *RedisRateLimiter) Consume(ctx context.Context, scope, userID string) (RateLimitDecision, error) {
	limit := r.policy.LimitFor(scope)
	unlimited := RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}
	if r.client == nil || limit <= 0 || scope == "" || userID == "" {
		return unlimited, nil
	}

	key := rateLimitKey(r.prefix, scope, userID)
	reply, err := quotaScript.Run(ctx, r.client, []string{key}, rateLimitWindow.Milliseconds()).Result()
	if err != nil {
		return RateLimitDecision{}, err
	}
	hits, ttl, err := parseQuotaReply(reply)
	if err != nil {
		return RateLimitDecision{}, err
	}
	return decide(limit, hits, ttl), nil
}

func rateLimitKey(prefix, scope, userID string) string {
	return prefix + ":" + scope + ":" + userID
}

func parseQuotaReply(reply interface{}) (int, time.Duration, error) {
	values, ok := reply.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limit reply: %T", reply)
	}
	hits, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected rate limit count: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected rate limit ttl: %T", values[1])
	}
	return int(hits), time.Duration(ttlMs) * time.Millisecond, nil
}

// decide turns a hit count into a decision. A missing ttl is treated as a fresh window.
func decide(limit, hits int, ttl time.Duration) RateLimitDecision {
	if ttl <= 0 {
		ttl = rateLimitWindow
	}
	d := RateLimitDecision{Allowed: hits <= limit, Limit: limit, Remaining: limit - hits}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = ttl
	}
	return d
}
