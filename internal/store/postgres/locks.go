package postgres

import (
	"context"
	"fmt"
	"os"
	"time"
)

var lockHolder = holderID()

func holderID() string {
	host, err := os.Hostname()
	if err != nil {
		return "carrot"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// AcquireLock implements the teacher's Provider.AcquireLock contract as a
// Postgres row lock with a TTL column instead of a Redis SETNX, used by
// the Software Build Coordinator to single-flight the git lookup of a tag
// (spec §4.3, SPEC_FULL.md §4.3). Build dedup takes no lock; it relies on
// the idx_builds_active_per_version unique index.
func (s *Store) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO advisory_locks (key, holder, expires_at) VALUES ($1, $2, NOW() + $3::interval)
		ON CONFLICT (key) DO UPDATE SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
		WHERE advisory_locks.expires_at < NOW()
	`, key, lockHolder, ttl.String())
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLock releases a held advisory lock.
func (s *Store) ReleaseLock(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM advisory_locks WHERE key = $1 AND holder = $2`, key, lockHolder)
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}
