// Package cooldown tracks the per-(caller, action_type) last-success
// timestamp the Cooldown condition (contracts.Cooldown) reads, updated
// only on a successful Execute.
//
// Modeled on a Redis-backed rate/backpressure store: an interface with an
// in-memory default for single-instance/test use and a Redis
// implementation for multi-instance deployments sharing one cooldown
// view.
package cooldown

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/chainguard/core/pkg/contracts"
)

// Tracker records and reports the last successful-execution timestamp for
// a (caller, action type) pair.
type Tracker interface {
	// RecordSuccess stamps now as the latest successful execution of
	// actionType by caller.
	RecordSuccess(ctx context.Context, caller contracts.Principal, actionType contracts.ActionType, now uint64) error
	// LastSuccess returns the last recorded timestamp and whether one
	// exists. It never errors on a miss; callers treat a missing record as
	// "no cooldown in effect".
	LastSuccess(ctx context.Context, caller contracts.Principal, actionType contracts.ActionType) (uint64, bool)
}

// Memory is the default, single-instance Tracker.
type Memory struct {
	mu   sync.RWMutex
	last map[string]uint64
}

func NewMemory() *Memory {
	return &Memory{last: make(map[string]uint64)}
}

func key(caller contracts.Principal, actionType contracts.ActionType) string {
	return string(caller) + "\x00" + string(actionType)
}

func (m *Memory) RecordSuccess(_ context.Context, caller contracts.Principal, actionType contracts.ActionType, now uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[key(caller, actionType)] = now
	return nil
}

func (m *Memory) LastSuccess(_ context.Context, caller contracts.Principal, actionType contracts.ActionType) (uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.last[key(caller, actionType)]
	return v, ok
}

// AsFunc adapts a Tracker to the plain function shape
// contracts.ConditionContext.LastSuccess expects, using the given ctx for
// every (fast, local/redis) lookup.
func AsFunc(ctx context.Context, t Tracker) func(contracts.Principal, contracts.ActionType) (uint64, bool) {
	return func(caller contracts.Principal, actionType contracts.ActionType) (uint64, bool) {
		return t.LastSuccess(ctx, caller, actionType)
	}
}

// Redis is the distributed Tracker backend for multi-instance deployments
// that must agree on cooldown state.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "chainguard:cooldown:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) RecordSuccess(ctx context.Context, caller contracts.Principal, actionType contracts.ActionType, now uint64) error {
	if err := r.client.Set(ctx, r.prefix+key(caller, actionType), strconv.FormatUint(now, 10), 0).Err(); err != nil {
		return fmt.Errorf("cooldown: record success: %w", err)
	}
	return nil
}

func (r *Redis) LastSuccess(ctx context.Context, caller contracts.Principal, actionType contracts.ActionType) (uint64, bool) {
	val, err := r.client.Get(ctx, r.prefix+key(caller, actionType)).Result()
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
