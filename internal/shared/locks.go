package shared

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotAcquired indicates the critical section is busy.
var ErrLockNotAcquired = errors.New("resource lock not acquired")

// LockManager serialises ledger-affecting operations. Every operation that
// reads and rewrites an account balance or an invoice holds the matching
// lock for the duration of its transaction. Multi-key acquisition sorts
// keys so that transfers touching two accounts cannot deadlock.
type LockManager struct {
	locker *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

// NewLockManager constructs LockManager on top of a redis client.
func NewLockManager(rdb redis.UniversalClient, ttl time.Duration) *LockManager {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &LockManager{
		locker: redislock.New(rdb),
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 40),
	}
}

// AccountLockKey builds the lock key for a treasury account.
func AccountLockKey(accountID string) string {
	return fmt.Sprintf("treasury:acct:%s:lock", accountID)
}

// InvoiceLockKey builds the lock key for an invoice.
func InvoiceLockKey(invoiceID string) string {
	return fmt.Sprintf("invoice:%s:lock", invoiceID)
}

// Acquire obtains a single lock. The returned release function is safe to
// call after the lock TTL expired.
func (m *LockManager) Acquire(ctx context.Context, key string) (func(), error) {
	if m == nil {
		return func() {}, nil
	}
	lock, err := m.locker.Obtain(ctx, key, m.ttl, &redislock.Options{RetryStrategy: m.retry})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
		}
		return nil, err
	}
	return func() { _ = lock.Release(context.WithoutCancel(ctx)) }, nil
}

// AcquireOrdered obtains all keys in lexical order, releasing everything
// already held when any acquisition fails.
func (m *LockManager) AcquireOrdered(ctx context.Context, keys ...string) (func(), error) {
	if m == nil || len(keys) == 0 {
		return func() {}, nil
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	releases := make([]func(), 0, len(sorted))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	for _, key := range sorted {
		release, err := m.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
