package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRedisUnavailable  = errors.New("redis unavailable")
)

type Scope string

const (
	// ScopePairingToken bounds pairing-token issuance per platform_id
	// (spec_full.md section 3).
	ScopePairingToken Scope = "pairing_token"
	ScopeAdminAction  Scope = "admin_action"
)

type Decision struct {
	Scope      Scope
	Limit      int
	Remaining  int
	Reset      time.Time // When the window resets
	RetryAfter int       // Seconds
	Allowed    bool
}

type LimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
	Burst  int           `yaml:"burst"`
}

type Limiter struct {
	client *redis.Client
	salt   string // For platform_id hashing stability
}

func NewLimiter(client *redis.Client, salt string) *Limiter {
	if salt == "" {
		salt = "default-salt-change-me"
	}
	return &Limiter{client: client, salt: salt}
}

// HashPlatformID creates a stable, non-reversible rate-limit key for a
// platform_id so raw device identifiers never sit in Redis keys.
func (l *Limiter) HashPlatformID(platformID string) string {
	hash := sha256.Sum256([]byte(platformID + l.salt))
	return hex.EncodeToString(hash[:])
}

// CheckRateLimit checks if the request is allowed using a fixed window:
// the window opens at the key's first request and the count resets when
// the key expires, config.Window later. It is not a sliding window.
func (l *Limiter) CheckRateLimit(ctx context.Context, key string, config LimitConfig) (*Decision, error) {
	// The key is used as given; no prefix is added.

	// Lua script to Atomic INCR and Set Expire if new
	script := redis.NewScript(`
		local current = redis.call("INCR", KEYS[1])
		if tonumber(current) == 1 then
			redis.call("PEXPIRE", KEYS[1], ARGV[1])
		end
		return current
	`)

	// Fixed window starting at the first request: the count resets
	// exactly Window after that request, when the key expires.

	count, err := script.Run(ctx, l.client, []string{key}, config.Window.Milliseconds()).Int()

	if err != nil {
		// Redis Failure
		return nil, ErrRedisUnavailable
	}

	remaining := config.Rate - count
	if remaining < 0 {
		remaining = 0
	}

	allowed := count <= config.Rate

	// Calculate Reset Time
	// Since we don't know exact expire time from INCR reply easily without another round trip (TTL),
	// We can estimate or fetch TTL?
	// For high performace, estimate: Now + Window (upper bound).
	// Or use TTL command?
	// Let's assume Reset is Now + Window ? No, depends on when key was created.
	// For proper headers, we usually want TTL.
	// Let's Fetch TTL if blocked? Or always?
	// Optimization: Only fetch TTL if needed or pipeline it.
	// Let's pipeline: Run Script + TTL.
	// For now, let's keep it simple: Estimate Reset = Now + Window (conservative), or fetch TTL.

	return &Decision{
		Limit:      config.Rate,
		Remaining:  remaining,
		Reset:      time.Now().Add(config.Window), // Approximation
		RetryAfter: int(config.Window.Seconds()),  // Approximation
		Allowed:    allowed,
	}, nil
}
