package db

import (
	"context"
	"time"

	"regionwatch/internal/types"
)

// LockRepository provides short-lived mutual exclusion through the
// dispatch_locks table. Workers take a lock per trigger before dispatching so
// two concurrent deliveries of the same firing cannot both start jobs.
type LockRepository struct {
	db  DBTX
	now func() time.Time
}

// NewLockRepository creates a LockRepository backed by the given connection.
func NewLockRepository(db DBTX) *LockRepository {
	return &LockRepository{db: db, now: time.Now}
}

// Acquire inserts the lock row, or takes over an expired one. It reports
// whether the caller now holds the lock.
func (r *LockRepository) Acquire(ctx context.Context, lockID, holder string, ttl time.Duration) (bool, error) {
	// Timestamps are computed here; Go duration strings are not PG intervals.
	now := r.now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO dispatch_locks (id, holder, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET holder = EXCLUDED.holder,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE dispatch_locks.expires_at < $3`,
		lockID,
		holder,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire dispatch lock", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Release drops a lock held by holder. Releasing a lock held by someone else
// is a no-op.
func (r *LockRepository) Release(ctx context.Context, lockID, holder string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM dispatch_locks WHERE id = $1 AND holder = $2`,
		lockID,
		holder,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release dispatch lock", err)
	}
	return nil
}

// PurgeExpired deletes locks whose TTL has passed and returns how many went.
func (r *LockRepository) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM dispatch_locks WHERE expires_at < $1`,
		r.now().UTC(),
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to purge dispatch locks", err)
	}
	return tag.RowsAffected(), nil
}
