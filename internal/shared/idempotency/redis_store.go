package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore is a distributed record store. Claims and completions are
// performed with Lua scripts so the state transition plus owner-token check
// is a single atomic step; TTLs ride on the redis key expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
	opts   Options
}

// RedisStoreOption configures the redis store.
type RedisStoreOption func(*RedisStore)

// WithRedisPrefix sets a prefix for all redis keys.
func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a redis-backed record store.
func NewRedisStore(client *redis.Client, opts Options, storeOpts ...RedisStoreOption) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}

	withDefaults, err := opts.withDefaults()
	if err != nil {
		return nil, fmt.Errorf("idempotency: failed to init redis store: %w", err)
	}

	s := &RedisStore{
		client: client,
		prefix: "idempotency",
		opts:   withDefaults,
	}

	for _, opt := range storeOpts {
		opt(s)
	}

	return s, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisStore) TryClaim(ctx context.Context, key string) (Decision, error) {
	const script = `
local state = redis.call('HGET', KEYS[1], 'state')
if state == 'completed' then
	local data = redis.call('HMGET', KEYS[1], 'charge_id', 'amount_minor', 'currency', 'completed_at')
	return {'completed', data[1], data[2], data[3], data[4]}
end
if state == 'in_flight' then
	return {'in_flight'}
end
redis.call('HSET', KEYS[1], 'state', 'in_flight', 'owner', ARGV[1])
redis.call('PEXPIRE', KEYS[1], ARGV[2])
return {'claimed'}
`

	token, err := s.opts.Tokens.Generate(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("idempotency: failed to generate owner token: %w", err)
	}

	result, err := s.client.Eval(ctx, script, []string{s.key(key)},
		token,
		s.opts.ClaimTTL.Milliseconds(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("idempotency: redis claim failed: %w", err)
	}

	if len(result) == 0 {
		return Decision{}, errors.New("idempotency: redis claim returned empty reply")
	}

	switch toString(result[0]) {
	case "claimed":
		return Decision{Type: DecisionClaimed, OwnerToken: token}, nil
	case "in_flight":
		return Decision{Type: DecisionInFlight}, nil
	case "completed":
		outcome, err := outcomeFromReply(result[1:])
		if err != nil {
			return Decision{}, err
		}
		return Decision{Type: DecisionCompleted, Outcome: outcome}, nil
	default:
		return Decision{}, fmt.Errorf("idempotency: unexpected redis claim state %q", toString(result[0]))
	}
}

func (s *RedisStore) Complete(ctx context.Context, key, ownerToken string, outcome Outcome) error {
	const script = `
if redis.call('HGET', KEYS[1], 'state') ~= 'in_flight' then
	return 0
end
if redis.call('HGET', KEYS[1], 'owner') ~= ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1],
	'state', 'completed',
	'charge_id', ARGV[2],
	'amount_minor', ARGV[3],
	'currency', ARGV[4],
	'completed_at', ARGV[5])
redis.call('HDEL', KEYS[1], 'owner')
redis.call('PEXPIRE', KEYS[1], ARGV[6])
return 1
`

	updated, err := s.client.Eval(ctx, script, []string{s.key(key)},
		ownerToken,
		outcome.ChargeID,
		outcome.AmountMinor,
		outcome.Currency,
		outcome.CompletedAt.UTC().UnixMilli(),
		s.opts.CompletedTTL.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("idempotency: redis complete failed: %w", err)
	}

	if updated == 0 {
		return ErrOwnershipLost
	}

	return nil
}

func (s *RedisStore) Release(ctx context.Context, key, ownerToken string) error {
	const script = `
if redis.call('HGET', KEYS[1], 'state') == 'in_flight' and redis.call('HGET', KEYS[1], 'owner') == ARGV[1] then
	redis.call('DEL', KEYS[1])
end
return 1
`

	if err := s.client.Eval(ctx, script, []string{s.key(key)}, ownerToken).Err(); err != nil {
		return fmt.Errorf("idempotency: redis release failed: %w", err)
	}

	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (Outcome, bool, error) {
	values, err := s.client.HMGet(ctx, s.key(key), "state", "charge_id", "amount_minor", "currency", "completed_at").Result()
	if err != nil {
		return Outcome{}, false, fmt.Errorf("idempotency: redis get failed: %w", err)
	}

	if len(values) != 5 || toString(values[0]) != "completed" {
		return Outcome{}, false, nil
	}

	outcome, err := outcomeFromReply(values[1:])
	if err != nil {
		return Outcome{}, false, err
	}

	return outcome, true, nil
}

func outcomeFromReply(values []interface{}) (Outcome, error) {
	if len(values) < 4 {
		return Outcome{}, errors.New("idempotency: malformed completed record")
	}

	amount, err := strconv.ParseInt(toString(values[1]), 10, 64)
	if err != nil {
		return Outcome{}, fmt.Errorf("idempotency: malformed amount in completed record: %w", err)
	}

	completedAtMilli, err := strconv.ParseInt(toString(values[3]), 10, 64)
	if err != nil {
		return Outcome{}, fmt.Errorf("idempotency: malformed timestamp in completed record: %w", err)
	}

	return Outcome{
		ChargeID:    toString(values[0]),
		AmountMinor: amount,
		Currency:    toString(values[2]),
		CompletedAt: time.UnixMilli(completedAtMilli).UTC(),
	}, nil
}

func toString(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}
