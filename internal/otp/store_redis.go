package otp

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var consumeDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "vouch_otp_consume_duration_ms",
	Help:    "Latency of atomic OTP check-and-consume in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const (
	challengeKeyPrefix = "otp:challenge:"
	stepUpKeyPrefix    = "otp:stepup:"
)

// consumeScript compares and deletes in a single Redis round trip, so two
// racing verifications of the same code produce at most one success.
// Returns -1 when absent, 1 on match (deleted), 0 on mismatch (kept).
var consumeScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v == false then
  return -1
end
if v == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

// RedisStore keeps challenges in Redis with a TTL so any service instance can
// issue or verify, and restarts don't strand admins mid step-up.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Put stores the code under the principal key, overwriting any prior
// challenge. SET with EX is a single atomic overwrite-and-expire.
func (s *RedisStore) Put(ctx context.Context, key, code string, ttl time.Duration) error {
	if err := s.client.Set(ctx, challengeKeyPrefix+key, code, ttl).Err(); err != nil {
		return fmt.Errorf("store challenge: %w", err)
	}
	return nil
}

func (s *RedisStore) ConsumeIfMatch(ctx context.Context, key, code string) (ConsumeResult, error) {
	start := time.Now()
	defer func() {
		consumeDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	res, err := consumeScript.Run(ctx, s.client, []string{challengeKeyPrefix + key}, code).Int()
	if err != nil {
		return ConsumeMissing, fmt.Errorf("consume challenge: %w", err)
	}
	switch res {
	case 1:
		return ConsumeOK, nil
	case -1:
		// Redis TTL already reaped expired challenges, so absent and expired
		// are the same observable state here.
		return ConsumeMissing, nil
	default:
		return ConsumeMismatch, nil
	}
}

func (s *RedisStore) MarkSteppedUp(ctx context.Context, principalID string, window time.Duration) error {
	if err := s.client.Set(ctx, stepUpKeyPrefix+principalID, "1", window).Err(); err != nil {
		return fmt.Errorf("mark step-up: %w", err)
	}
	return nil
}

func (s *RedisStore) HasStepUp(ctx context.Context, principalID string) (bool, error) {
	_, err := s.client.Get(ctx, stepUpKeyPrefix+principalID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check step-up: %w", err)
	}
	return true, nil
}
