// Package dailyvolume maintains the process-wide counter DailyLimit
// conditions read: reset whenever `now` crosses a 24-hour boundary since
// the last reset, incremented only by successfully-executed actions.
//
// Modeled on a Redis-backed budget/rate counter's windowed spend tracking,
// generalized from a per-principal budget to ChainGuard's single global
// counter, with an in-memory default for single-instance/test use.
package dailyvolume

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"
)

// WindowNs is the rollover period: 24h expressed in nanoseconds, the same
// unit as every other timestamp in the core.
const WindowNs uint64 = 24 * 3_600 * 1_000_000_000

// Counter tracks the rolling daily volume and resets it across day
// boundaries.
type Counter interface {
	// VolumeAt returns the volume as of now, rolling over first if the
	// window has elapsed since the last reset.
	VolumeAt(ctx context.Context, now uint64) (uint64, error)
	// Add increments the volume by amount, rolling over first if needed.
	Add(ctx context.Context, amount, now uint64) error
}

// Memory is the default, single-instance Counter.
type Memory struct {
	mu        sync.Mutex
	volume    uint64
	lastReset uint64
	reset     bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) rollover(now uint64) {
	if !m.reset {
		m.lastReset = now
		m.reset = true
		return
	}
	if now-m.lastReset >= WindowNs {
		m.volume = 0
		m.lastReset = now
	}
}

func (m *Memory) VolumeAt(_ context.Context, now uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover(now)
	return m.volume, nil
}

func (m *Memory) Add(_ context.Context, amount, now uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover(now)
	m.volume += amount
	return nil
}

// Redis is the distributed Counter backend for multi-instance deployments
// that must agree on one daily-volume figure.
type Redis struct {
	client    *redis.Client
	volumeKey string
	resetKey  string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "chainguard:dailyvolume:"
	}
	return &Redis{client: client, volumeKey: prefix + "volume", resetKey: prefix + "last_reset"}
}

func (r *Redis) rollover(ctx context.Context, now uint64) error {
	lastResetStr, err := r.client.Get(ctx, r.resetKey).Result()
	if err == redis.Nil {
		return r.client.Set(ctx, r.resetKey, strconv.FormatUint(now, 10), 0).Err()
	}
	if err != nil {
		return fmt.Errorf("dailyvolume: read last reset: %w", err)
	}
	lastReset, err := strconv.ParseUint(lastResetStr, 10, 64)
	if err != nil {
		return fmt.Errorf("dailyvolume: parse last reset: %w", err)
	}
	if now-lastReset < WindowNs {
		return nil
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.volumeKey, "0", 0)
	pipe.Set(ctx, r.resetKey, strconv.FormatUint(now, 10), 0)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("dailyvolume: rollover: %w", err)
	}
	return nil
}

func (r *Redis) VolumeAt(ctx context.Context, now uint64) (uint64, error) {
	if err := r.rollover(ctx, now); err != nil {
		return 0, err
	}
	val, err := r.client.Get(ctx, r.volumeKey).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("dailyvolume: read volume: %w", err)
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("dailyvolume: parse volume: %w", err)
	}
	return n, nil
}

func (r *Redis) Add(ctx context.Context, amount, now uint64) error {
	if err := r.rollover(ctx, now); err != nil {
		return err
	}
	if err := r.client.IncrBy(ctx, r.volumeKey, int64(amount)).Err(); err != nil {
		return fmt.Errorf("dailyvolume: add: %w", err)
	}
	return nil
}
