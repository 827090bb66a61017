// Package ratelimit meters RPC compute units so the holder sync and the admin
// paths share one provider budget across processes.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultTotalBudget    = 500             // Total CU/s
	DefaultReservedBudget = 300             // Reserved for holder sync
	DefaultWindowSize     = time.Second     // Window length
	DefaultKeyTTL         = 2 * time.Second // Window + buffer
)

// Redis key prefixes for CU tracking.
const (
	KeyPrefixTotal    = "rpc:cu:total:"
	KeyPrefixReserved = "rpc:cu:reserved:"
	KeyPrefixShared   = "rpc:cu:shared:"
	KeyPrefixMethod   = "rpc:cu:method:"
)

// Priority levels for budget allocation.
type Priority int

const (
	// PriorityHigh is for the holder sync (reserved pool).
	PriorityHigh Priority = iota
	// PriorityLow is for admin and reward calls (shared pool).
	PriorityLow
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// consumeScript checks both the total and the pool counter and increments them atomically.
var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local cu = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + cu > totalBudget then
		return {0, totalUsed, poolUsed}
	end
	if poolUsed + cu > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCRBY', totalKey, cu)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, cu)
	redis.call('EXPIRE', poolKey, ttl)

	return {1, totalUsed + cu, poolUsed + cu}
`)

// CUBudgetTracker coordinates CU consumption using fixed Redis windows
// with separate pools for priority and best-effort callers.
type CUBudgetTracker struct {
	redis          redis.Cmdable
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	keyTTL         time.Duration
	now            func() time.Time
}

// CUBudgetTrackerConfig holds configuration for the budget tracker.
type CUBudgetTrackerConfig struct {
	// Redis is required.
	Redis redis.Cmdable

	// TotalBudget is the total CU per window. Default: 500.
	TotalBudget int

	// ReservedBudget is the share of TotalBudget kept for PriorityHigh. Default: 60% of total.
	ReservedBudget int

	WindowSize time.Duration
	KeyTTL     time.Duration
}

// CUUsageStats contains current consumption metrics.
type CUUsageStats struct {
	TotalUsed      int
	ReservedUsed   int
	SharedUsed     int
	TotalBudget    int
	ReservedBudget int
	SharedBudget   int
	WindowStart    time.Time
}

func (c *CUBudgetTrackerConfig) withDefaults() CUBudgetTrackerConfig {
	out := *c
	if out.TotalBudget == 0 {
		out.TotalBudget = DefaultTotalBudget
	}
	if out.ReservedBudget == 0 {
		out.ReservedBudget = out.TotalBudget * DefaultReservedBudget / DefaultTotalBudget
	}
	if out.WindowSize == 0 {
		out.WindowSize = DefaultWindowSize
	}
	if out.KeyTTL == 0 {
		out.KeyTTL = DefaultKeyTTL
	}
	return out
}

// Validate checks if the configuration is valid.
func (c *CUBudgetTrackerConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.TotalBudget < 0 {
		return errors.New("total budget cannot be negative")
	}
	if c.ReservedBudget < 0 {
		return errors.New("reserved budget cannot be negative")
	}

	d := c.withDefaults()
	if d.ReservedBudget > d.TotalBudget {
		return fmt.Errorf("reserved budget (%d) cannot exceed total budget (%d)", d.ReservedBudget, d.TotalBudget)
	}
	return nil
}

// NewCUBudgetTracker creates a new tracker with the given configuration.
func NewCUBudgetTracker(cfg *CUBudgetTrackerConfig) (*CUBudgetTracker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	d := cfg.withDefaults()
	return &CUBudgetTracker{
		redis:          d.Redis,
		totalBudget:    d.TotalBudget,
		reservedBudget: d.ReservedBudget,
		sharedBudget:   d.TotalBudget - d.ReservedBudget,
		windowSize:     d.WindowSize,
		keyTTL:         d.KeyTTL,
		now:            time.Now,
	}, nil
}

func (t *CUBudgetTracker) windowTimestamp() int64 {
	return t.now().Truncate(t.windowSize).UnixMilli()
}

func (t *CUBudgetTracker) keys(windowTS int64) (totalKey, reservedKey, sharedKey string) {
	ts := strconv.FormatInt(windowTS, 10)
	return KeyPrefixTotal + ts, KeyPrefixReserved + ts, KeyPrefixShared + ts
}

// TryConsume attempts to take cu from the pool matching priority.
// When refused it returns the time left until the next window.
func (t *CUBudgetTracker) TryConsume(ctx context.Context, cu int, priority Priority) (bool, time.Duration) {
	if cu <= 0 {
		return true, 0
	}

	windowTS := t.windowTimestamp()
	totalKey, reservedKey, sharedKey := t.keys(windowTS)

	poolKey, poolBudget := sharedKey, t.sharedBudget
	if priority == PriorityHigh {
		poolKey, poolBudget = reservedKey, t.reservedBudget
	}

	ttlSeconds := int(t.keyTTL.Seconds())
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}

	result, err := consumeScript.Run(ctx, t.redis, []string{totalKey, poolKey},
		cu, t.totalBudget, poolBudget, ttlSeconds).Int64Slice()
	if err != nil || len(result) == 0 || result[0] != 1 {
		// A Redis failure denies the call
		return false, t.waitTime(windowTS)
	}
	return true, 0
}

func (t *CUBudgetTracker) waitTime(windowTS int64) time.Duration {
	windowEnd := time.UnixMilli(windowTS).Add(t.windowSize)
	wait := windowEnd.Sub(t.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// GetUsage returns current CU usage statistics.
func (t *CUBudgetTracker) GetUsage(ctx context.Context) (*CUUsageStats, error) {
	windowTS := t.windowTimestamp()
	totalKey, reservedKey, sharedKey := t.keys(windowTS)

	pipe := t.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read cu usage: %w", err)
	}

	return &CUUsageStats{
		TotalUsed:      parseIntOrZero(totalCmd),
		ReservedUsed:   parseIntOrZero(reservedCmd),
		SharedUsed:     parseIntOrZero(sharedCmd),
		TotalBudget:    t.totalBudget,
		ReservedBudget: t.reservedBudget,
		SharedBudget:   t.sharedBudget,
		WindowStart:    time.UnixMilli(windowTS),
	}, nil
}

func parseIntOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}

// RecordMethodUsage records CU consumption per RPC method for monitoring.
func (t *CUBudgetTracker) RecordMethodUsage(ctx context.Context, method string, cu int) error {
	if cu <= 0 || method == "" {
		return nil
	}

	key := fmt.Sprintf("%s%s:%d", KeyPrefixMethod, method, t.windowTimestamp())
	pipe := t.redis.Pipeline()
	pipe.IncrBy(ctx, key, int64(cu))
	pipe.Expire(ctx, key, t.keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// AvailableBudget returns the budget left in the pool for a priority level.
func (t *CUBudgetTracker) AvailableBudget(ctx context.Context, priority Priority) (int, error) {
	stats, err := t.GetUsage(ctx)
	if err != nil {
		return 0, err
	}

	available := t.sharedBudget - stats.SharedUsed
	if priority == PriorityHigh {
		available = t.reservedBudget - stats.ReservedUsed
	}
	if available < 0 {
		available = 0
	}
	return available, nil
}
