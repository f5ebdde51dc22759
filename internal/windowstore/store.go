// Package windowstore implements C1: atomic sliding-window aggregation,
// cooldown flags, and the per-wallet sequential-sells counter, all backed
// by Redis with server-side Lua scripts so every evict+mutate+read
// sequence is atomic against concurrent callers.
package windowstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cryptoKingdom88/chainwatch/internal/pipelineerr"
)

// Store is the Redis-backed implementation of the window store.
type Store struct {
	client *redis.Client

	errorHandler   *ErrorHandler
	circuitBreaker *CircuitBreaker

	addAndSumScript  *redis.Script
	sumScript        *redis.Script
	incrSellsScript  *redis.Script
	resetSellsScript *redis.Script
}

// New creates a window store against the given Redis address.
func New(addr, password string, db, poolSize int, logger *logrus.Entry) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     poolSize,
		MinIdleConns: poolSize / 4,
		MaxRetries:   1, // our own ErrorHandler drives the retry loop
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	cb := NewCircuitBreaker(5, 30*time.Second)

	s := &Store{
		client:         client,
		circuitBreaker: cb,
		errorHandler:   NewErrorHandler(cb, DefaultRetryConfig(), logger),
	}
	s.initScripts()
	return s
}

// initScripts compiles the Lua scripts used for every atomic operation.
// Each one performs its full evict+mutate+read sequence server-side so no
// client-side lock is ever needed (spec §4.1's design rationale).
func (s *Store) initScripts() {
	// KEYS[1] = window key. ARGV[1]=now ARGV[2]=window_seconds
	// ARGV[3]=member (ts:uuid:usd) ARGV[4]=score (ts) ARGV[5]=key_ttl
	s.addAndSumScript = redis.NewScript(`
		local key = KEYS[1]
		local now = tonumber(ARGV[1])
		local window_seconds = tonumber(ARGV[2])
		local member = ARGV[3]
		local score = tonumber(ARGV[4])
		local key_ttl = tonumber(ARGV[5])
		local cutoff = now - window_seconds

		redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. cutoff)
		redis.call('ZADD', key, score, member)
		redis.call('EXPIRE', key, key_ttl)

		local members = redis.call('ZRANGEBYSCORE', key, cutoff, '+inf')
		local sum = 0.0
		for i = 1, #members do
			local parts = {}
			for part in string.gmatch(members[i], "[^:]+") do
				table.insert(parts, part)
			end
			sum = sum + tonumber(parts[#parts])
		end
		return tostring(sum)
	`)

	// KEYS[1] = window key. ARGV[1]=now ARGV[2]=period_seconds
	s.sumScript = redis.NewScript(`
		local key = KEYS[1]
		local now = tonumber(ARGV[1])
		local period_seconds = tonumber(ARGV[2])
		local cutoff = now - period_seconds

		redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. cutoff)

		local members = redis.call('ZRANGEBYSCORE', key, cutoff, '+inf')
		local sum = 0.0
		for i = 1, #members do
			local parts = {}
			for part in string.gmatch(members[i], "[^:]+") do
				table.insert(parts, part)
			end
			sum = sum + tonumber(parts[#parts])
		end
		return tostring(sum)
	`)

	// KEYS[1] = sequential-sells key. ARGV[1]=ttl_seconds
	s.incrSellsScript = redis.NewScript(`
		local key = KEYS[1]
		local ttl_seconds = tonumber(ARGV[1])
		local count = redis.call('INCR', key)
		if count == 1 then
			redis.call('EXPIRE', key, ttl_seconds)
		end
		return count
	`)

	s.resetSellsScript = redis.NewScript(`
		redis.call('DEL', KEYS[1])
		return 'OK'
	`)
}

func windowKey(token string, direction string) string {
	return fmt.Sprintf("window:%s:%s", token, direction)
}

func cooldownKey(key string) string {
	return fmt.Sprintf("cooldown:%s", key)
}

func sequentialSellsKey(wallet string) string {
	return fmt.Sprintf("seqsells:%s", strings.ToLower(wallet))
}

// AddAmountToWindow atomically evicts expired entries, inserts a new one,
// refreshes the key TTL, and returns the cumulative USD sum over the
// window — all in one Redis-side transaction (spec §4.1, R3).
func (s *Store) AddAmountToWindow(ctx context.Context, token string, direction string, usdAmount float64, ts int64, windowSeconds int64) (float64, error) {
	key := windowKey(token, direction)
	member := fmt.Sprintf("%d:%s:%s", ts, uuid.New().String(), strconv.FormatFloat(usdAmount, 'f', -1, 64))
	keyTTL := windowSeconds + 300

	var result string
	err := s.errorHandler.ExecuteWithRetry(ctx, "add_amount_to_window", func() error {
		val, runErr := s.addAndSumScript.Run(ctx, s.client, []string{key},
			ts, windowSeconds, member, ts, keyTTL).Result()
		if runErr != nil {
			return runErr
		}
		result = val.(string)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("add amount to window: %w: %w", pipelineerr.ErrTransientBackend, err)
	}

	sum, parseErr := strconv.ParseFloat(result, 64)
	if parseErr != nil {
		return 0, fmt.Errorf("add amount to window: parse sum: %w: %w", pipelineerr.ErrTransientBackend, parseErr)
	}
	return sum, nil
}

// CumulativeAmount computes the same evict+sum as AddAmountToWindow but
// without inserting, parameterized by an arbitrary period (used by the
// scheduler's wider reporting windows).
func (s *Store) CumulativeAmount(ctx context.Context, token string, direction string, now int64, periodSeconds int64) (float64, error) {
	key := windowKey(token, direction)

	var result string
	err := s.errorHandler.ExecuteWithRetry(ctx, "cumulative_amount", func() error {
		val, runErr := s.sumScript.Run(ctx, s.client, []string{key}, now, periodSeconds).Result()
		if runErr != nil {
			return runErr
		}
		result = val.(string)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("cumulative amount: %w: %w", pipelineerr.ErrTransientBackend, err)
	}

	sum, parseErr := strconv.ParseFloat(result, 64)
	if parseErr != nil {
		return 0, fmt.Errorf("cumulative amount: parse sum: %w: %w", pipelineerr.ErrTransientBackend, parseErr)
	}
	return sum, nil
}

// IsInCooldown reports whether the given cooldown key is currently set.
func (s *Store) IsInCooldown(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.errorHandler.ExecuteWithRetry(ctx, "is_in_cooldown", func() error {
		n, runErr := s.client.Exists(ctx, cooldownKey(key)).Result()
		if runErr != nil {
			return runErr
		}
		exists = n > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("is in cooldown: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	return exists, nil
}

// SetCooldown marks key as in cooldown for seconds.
func (s *Store) SetCooldown(ctx context.Context, key string, seconds int64) error {
	err := s.errorHandler.ExecuteWithRetry(ctx, "set_cooldown", func() error {
		return s.client.Set(ctx, cooldownKey(key), "1", time.Duration(seconds)*time.Second).Err()
	})
	if err != nil {
		return fmt.Errorf("set cooldown: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	return nil
}

// IncrementSequentialSells increments the wallet's sequential-sells
// counter, setting a 24h TTL on the first increment, and returns the new
// count.
func (s *Store) IncrementSequentialSells(ctx context.Context, wallet string) (int64, error) {
	var count int64
	err := s.errorHandler.ExecuteWithRetry(ctx, "increment_sequential_sells", func() error {
		val, runErr := s.incrSellsScript.Run(ctx, s.client, []string{sequentialSellsKey(wallet)}, 24*3600).Result()
		if runErr != nil {
			return runErr
		}
		count = val.(int64)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("increment sequential sells: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	return count, nil
}

// ResetSequentialSells clears the wallet's sequential-sells counter.
func (s *Store) ResetSequentialSells(ctx context.Context, wallet string) error {
	err := s.errorHandler.ExecuteWithRetry(ctx, "reset_sequential_sells", func() error {
		return s.resetSellsScript.Run(ctx, s.client, []string{sequentialSellsKey(wallet)}).Err()
	})
	if err != nil {
		return fmt.Errorf("reset sequential sells: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	return nil
}

// GetSequentialSells returns the wallet's current sequential-sells count.
func (s *Store) GetSequentialSells(ctx context.Context, wallet string) (int64, error) {
	var count int64
	err := s.errorHandler.ExecuteWithRetry(ctx, "get_sequential_sells", func() error {
		val, runErr := s.client.Get(ctx, sequentialSellsKey(wallet)).Result()
		if runErr == redis.Nil {
			count = 0
			return nil
		}
		if runErr != nil {
			return runErr
		}
		parsed, parseErr := strconv.ParseInt(val, 10, 64)
		if parseErr != nil {
			return parseErr
		}
		count = parsed
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("get sequential sells: %w: %w", pipelineerr.ErrTransientBackend, err)
	}
	return count, nil
}

// Ping reports backend liveness for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying Redis client so other components (the
// price oracle's cache) can share the same connection pool under their
// own key namespace.
func (s *Store) Client() *redis.Client {
	return s.client
}

// CircuitBreakerState exposes the breaker state for diagnostics.
func (s *Store) CircuitBreakerState() CircuitBreakerState {
	return s.circuitBreaker.State()
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
