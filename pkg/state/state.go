package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"sftpmirror/pkg/mirror"
)

const (
	runLockKey     = "sftpmirror:run_lock"
	lastSummaryKey = "sftpmirror:last_summary"
)

var ErrLocked = errors.New("another mirror run is in progress")

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// Client is the part of *redis.Client the store uses.
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Store keeps the cross-process run lock and the last run summary in redis.
type Store struct {
	client  Client
	lockTTL time.Duration
}

func NewStore(client Client, lockTTL time.Duration) *Store {
	return &Store{
		client:  client,
		lockTTL: lockTTL,
	}
}

// AcquireLock takes the run lock for owner. The returned function releases
// it, and only if owner still holds it.
func (s *Store) AcquireLock(ctx context.Context, owner string) (func(context.Context) error, error) {
	ok, err := s.client.SetNX(ctx, runLockKey, owner, s.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	release := func(ctx context.Context) error {
		if err := s.client.Eval(ctx, releaseScript, []string{runLockKey}, owner).Err(); err != nil {
			return fmt.Errorf("failed to release run lock: %w", err)
		}
		return nil
	}
	return release, nil
}

// LockOwner returns the current holder of the run lock, or "" if it is free.
func (s *Store) LockOwner(ctx context.Context) (string, error) {
	owner, err := s.client.Get(ctx, runLockKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get run lock: %w", err)
	}
	return owner, nil
}

func (s *Store) SaveSummary(ctx context.Context, summary *mirror.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	return s.client.Set(ctx, lastSummaryKey, data, 0).Err()
}

// LastSummary returns the summary of the latest finished run, or nil if no
// run was recorded yet.
func (s *Store) LastSummary(ctx context.Context) (*mirror.Summary, error) {
	result, err := s.client.Get(ctx, lastSummaryKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last summary: %w", err)
	}

	var summary mirror.Summary
	if err := json.Unmarshal([]byte(result), &summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	return &summary, nil
}
