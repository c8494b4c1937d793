package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"careadmin/pkg/platform/sentinel"
)

const sessionKeyPrefix = "careadmin:session:"

// RedisTracker is a Redis-backed Tracker for deployments running more than one
// instance, where a process-local table would gate each instance separately.
// Keys carry a TTL equal to the inactivity timeout, refreshed on every allowed
// check, so Redis itself reclaims abandoned sessions and Sweep has nothing to do.
type RedisTracker struct {
	client  *redis.Client
	timeout time.Duration
	clock   func() time.Time
}

// RedisOption configures a RedisTracker.
type RedisOption func(*RedisTracker)

// WithRedisClock injects a clock. For tests.
func WithRedisClock(clock func() time.Time) RedisOption {
	return func(t *RedisTracker) {
		if clock != nil {
			t.clock = clock
		}
	}
}

func NewRedisTracker(client *redis.Client, timeout time.Duration, opts ...RedisOption) *RedisTracker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	t := &RedisTracker{client: client, timeout: timeout, clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

func (t *RedisTracker) Check(ctx context.Context, subjectID string) (Record, error) {
	key := sessionKeyPrefix + subjectID
	now := t.clock()

	raw, err := t.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		rec := Record{
			SubjectID:     subjectID,
			CreatedAt:     now,
			LastActivity:  now,
			ActivityCount: 1,
		}
		if err := t.save(ctx, key, rec, t.timeout); err != nil {
			return Record{}, err
		}
		sessionsCreated.Inc()
		return rec, nil
	}
	if err != nil {
		return Record{}, fmt.Errorf("get session: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode session: %w", err)
	}

	// The TTL normally evicts idle sessions before this branch is reachable,
	// but the explicit check keeps the gate correct under clock drift.
	if now.Sub(rec.LastActivity) > t.timeout {
		t.client.Del(ctx, key)
		sessionsRejected.Inc()
		return Record{}, fmt.Errorf("session for %s: %w", subjectID, sentinel.ErrExpired)
	}

	rec.LastActivity = now
	rec.ActivityCount++
	if err := t.save(ctx, key, rec, t.timeout); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (t *RedisTracker) Info(ctx context.Context, subjectID string) (Info, error) {
	raw, err := t.client.Get(ctx, sessionKeyPrefix+subjectID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Info{}, fmt.Errorf("session for %s: %w", subjectID, sentinel.ErrNotFound)
	}
	if err != nil {
		return Info{}, fmt.Errorf("get session: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Info{}, fmt.Errorf("decode session: %w", err)
	}
	idle := t.clock().Sub(rec.LastActivity)
	return Info{
		Record:    rec,
		Remaining: t.timeout - idle,
		Live:      idle <= t.timeout,
	}, nil
}

func (t *RedisTracker) List(ctx context.Context) ([]Record, error) {
	var out []Record
	now := t.clock()

	iter := t.client.Scan(ctx, 0, sessionKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := t.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return nil, fmt.Errorf("get session %s: %w", key, err)
		}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			continue
		}
		if now.Sub(rec.LastActivity) > t.timeout {
			t.client.Del(ctx, key)
			continue
		}
		out = append(out, rec)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan sessions: %w", err)
	}
	return out, nil
}

func (t *RedisTracker) Evict(ctx context.Context, subjectID string) error {
	if err := t.client.Del(ctx, sessionKeyPrefix+subjectID).Err(); err != nil {
		return fmt.Errorf("evict session: %w", err)
	}
	return nil
}

func (t *RedisTracker) SetUserAgent(ctx context.Context, subjectID, userAgent string) error {
	key := sessionKeyPrefix + subjectID
	raw, err := t.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return fmt.Errorf("decode session: %w", err)
	}
	rec.UserAgent = userAgent
	return t.save(ctx, key, rec, redis.KeepTTL)
}

// Sweep is a no-op: key TTLs already evict idle sessions server-side.
func (t *RedisTracker) Sweep(context.Context) (int, error) { return 0, nil }

func (t *RedisTracker) save(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := t.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
