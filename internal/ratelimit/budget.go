// Package ratelimit budgets marketplace mutations per user. Budgets live in
// Redis so every API replica draws from the same bucket.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dunamismax/jobsync/internal/domain"
)

const defaultKeyPrefix = "jobsync:budget"

// costs weighs each mutation kind. Applying sends a whole draft upstream.
var costs = map[domain.MutationKind]int{
	domain.MutationSave:     1,
	domain.MutationUnsave:   1,
	domain.MutationApply:    2,
	domain.MutationWithdraw: 1,
}

// CostOf returns the tokens a mutation of kind draws.
func CostOf(kind domain.MutationKind) int {
	if c, ok := costs[kind]; ok {
		return c
	}
	return 1
}

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

type Config struct {
	// Capacity is the burst a user may spend at once; it refills evenly
	// over Window.
	Capacity  int
	Window    time.Duration
	KeyPrefix string
}

type Budget struct {
	client      redis.UniversalClient
	capacity    int64
	refillPerMS float64
	ttl         time.Duration
	keyPrefix   string
	now         func() time.Time
}

// spendScript refills the bucket for the elapsed time and then spends ARGV[4]
// tokens. A negative amount returns tokens and always succeeds.
var spendScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local amount = tonumber(ARGV[4])

local state = redis.call("HMGET", KEYS[1], "tokens", "at")
local tokens = tonumber(state[1]) or capacity
local at = tonumber(state[2]) or now
tokens = math.min(capacity, tokens + math.max(0, now - at) * refill)

local ok = 0
local wait = 0
if amount <= 0 or tokens >= amount then
  tokens = math.min(capacity, tokens - amount)
  ok = 1
else
  wait = math.ceil((amount - tokens) / refill)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "at", now)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {ok, math.floor(tokens), wait}
`)

func NewBudget(client redis.UniversalClient, cfg Config) (*Budget, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}
	if cfg.Window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	return &Budget{
		client:      client,
		capacity:    int64(cfg.Capacity),
		refillPerMS: float64(cfg.Capacity) / float64(max(cfg.Window.Milliseconds(), 1)),
		ttl:         2 * cfg.Window,
		keyPrefix:   prefix,
		now:         time.Now,
	}, nil
}

// Take spends cost tokens from the user's budget.
func (b *Budget) Take(ctx context.Context, userID string, cost int) (Decision, error) {
	if cost < 1 {
		cost = 1
	}
	if int64(cost) > b.capacity {
		return Decision{}, fmt.Errorf("cost %d exceeds budget capacity %d", cost, b.capacity)
	}
	return b.spend(ctx, userID, cost)
}

// Refund returns tokens for a mutation that never reached the marketplace.
func (b *Budget) Refund(ctx context.Context, userID string, cost int) error {
	if cost < 1 {
		return nil
	}
	_, err := b.spend(ctx, userID, -cost)
	return err
}

func (b *Budget) key(userID string) string {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = "anonymous"
	}
	return b.keyPrefix + ":" + userID
}

func (b *Budget) spend(ctx context.Context, userID string, amount int) (Decision, error) {
	values, err := spendScript.Run(ctx, b.client, []string{b.key(userID)},
		b.capacity,
		b.refillPerMS,
		b.now().UnixMilli(),
		amount,
		b.ttl.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("spend budget: %w", err)
	}
	if len(values) != 3 {
		return Decision{}, fmt.Errorf("spend budget: unexpected reply length %d", len(values))
	}
	return Decision{
		Allowed:    values[0] == 1,
		Remaining:  values[1],
		RetryAfter: time.Duration(values[2]) * time.Millisecond,
	}, nil
}
