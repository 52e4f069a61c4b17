package refreshtoken

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"github.com/plecsi/reactom/internal/auth/models"
	"github.com/plecsi/reactom/pkg/sentinel"
)

var consumeDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "reactom_refresh_consume_duration_ms",
	Help:    "Latency of refresh token consumption in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

const (
	// Redis key prefixes: one JSON record per JTI, one set of JTIs per user.
	recordKeyPrefix  = "rt:jti:"
	userSetKeyPrefix = "rt:user:"
)

// RedisStore is a Redis-backed refresh token store for deployments where
// multiple instances share rotation state. Records expire with the token
// itself so the store self-cleans.
type RedisStore struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed refresh token store.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type redisRecord struct {
	JTI       string    `json:"jti"`
	UserID    string    `json:"userId"`
	CSRFToken string    `json:"csrfToken"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Used      bool      `json:"used"`
}

func toRedis(r *models.RefreshTokenRecord) redisRecord {
	return redisRecord{
		JTI:       r.JTI,
		UserID:    r.UserID,
		CSRFToken: r.CSRFToken,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		Used:      r.Used,
	}
}

func fromRedis(r redisRecord) *models.RefreshTokenRecord {
	return &models.RefreshTokenRecord{
		JTI:       r.JTI,
		UserID:    r.UserID,
		CSRFToken: r.CSRFToken,
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
		Used:      r.Used,
	}
}

func (s *RedisStore) Create(ctx context.Context, record *models.RefreshTokenRecord) error {
	payload, err := json.Marshal(toRedis(record))
	if err != nil {
		return fmt.Errorf("marshal refresh record: %w", err)
	}

	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("refresh record already expired: %w", sentinel.ErrInvalidState)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, recordKeyPrefix+record.JTI, payload, ttl)
	pipe.SAdd(ctx, userSetKeyPrefix+record.UserID, record.JTI)
	pipe.Expire(ctx, userSetKeyPrefix+record.UserID, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store refresh record: %w", err)
	}
	return nil
}

// consumeScript checks and flips the used flag in one server-side step, so
// two clients presenting the same token cannot both see it unused. It
// returns the pre-flip record alongside a status.
var consumeScript = redis.NewScript(`
local raw = redis.call('GET', KEYS[1])
if not raw then
  return {'missing', ''}
end
local rec = cjson.decode(raw)
if rec.used then
  return {'used', raw}
end
rec.used = true
redis.call('SET', KEYS[1], cjson.encode(rec), 'KEEPTTL')
return {'ok', raw}
`)

// Consume marks the record as used, keeping it around (with its original
// TTL) so a replayed token is distinguishable from an unknown one. The
// check-and-mark runs as one script invocation; exactly one of any set of
// concurrent consumers wins.
func (s *RedisStore) Consume(ctx context.Context, jti string, now time.Time) (*models.RefreshTokenRecord, error) {
	start := time.Now()
	defer func() {
		consumeDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	res, err := consumeScript.Run(ctx, s.client, []string{recordKeyPrefix + jti}).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("consume refresh record: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("consume refresh record: unexpected script reply")
	}
	status, raw := res[0], res[1]

	if status == "missing" {
		return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}

	var rec redisRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal refresh record: %w", err)
	}
	record := fromRedis(rec)

	if status == "used" {
		// Losing consumer: hand the record back so the caller can revoke
		// the family.
		return record, translateConsumeError(record.ValidateForConsume(now))
	}

	// The record was live in Redis terms but the caller's clock decides
	// expiry; a record marked used on this edge is harmless.
	if err := record.ValidateForConsume(now); err != nil {
		return record, translateConsumeError(err)
	}
	record.Used = true
	return record, nil
}

func (s *RedisStore) FindCSRF(ctx context.Context, jti string) (string, error) {
	record, err := s.get(ctx, jti)
	if err != nil {
		return "", err
	}
	if record.Used {
		return "", fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}
	return record.CSRFToken, nil
}

func (s *RedisStore) DeleteByUserID(ctx context.Context, userID string) error {
	setKey := userSetKeyPrefix + userID
	jtis, err := s.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return fmt.Errorf("list user refresh tokens: %w", err)
	}
	if len(jtis) == 0 {
		return sentinel.ErrNotFound
	}

	pipe := s.client.Pipeline()
	for _, jti := range jtis {
		pipe.Del(ctx, recordKeyPrefix+jti)
	}
	pipe.Del(ctx, setKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete user refresh tokens: %w", err)
	}
	return nil
}

func (s *RedisStore) get(ctx context.Context, jti string) (*models.RefreshTokenRecord, error) {
	payload, err := s.client.Get(ctx, recordKeyPrefix+jti).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("refresh token not found: %w", sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get refresh record: %w", err)
	}

	var rec redisRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal refresh record: %w", err)
	}
	return fromRedis(rec), nil
}
