package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"assetlibrary/internal/apperr"
)

var errLockHeld = errors.New("lock held by another owner")

// Lease is a held advisory lock. Leases expire after the TTL so a crashed
// process cannot block a scope forever.
type Lease struct {
	Scope     string
	Token     string
	Owner     string
	ExpiresAt time.Time
}

// LockRepository implements cross-process advisory locks as rows of the
// tier_lock table. Expiry is stored as unix milliseconds.
type LockRepository struct {
	db   *sqlx.DB
	ttl  time.Duration
	wait time.Duration
}

func NewLockRepository(db *sqlx.DB, ttl, wait time.Duration) *LockRepository {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if wait <= 0 {
		wait = 30 * time.Second
	}
	return &LockRepository{db: db, ttl: ttl, wait: wait}
}

func (r *LockRepository) TTL() time.Duration { return r.ttl }

// TryAcquire makes a single attempt. It returns nil, nil when the scope is
// held by a live lease.
func (r *LockRepository) TryAcquire(ctx context.Context, scope, owner string) (*Lease, error) {
	now := time.Now().UTC()
	lease := &Lease{
		Scope:     scope,
		Token:     uuid.NewString(),
		Owner:     owner,
		ExpiresAt: now.Add(r.ttl),
	}

	query := r.db.Rebind(`
        INSERT INTO tier_lock (scope, token, owner, acquired_at, expires_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT (scope) DO UPDATE SET
            token = excluded.token,
            owner = excluded.owner,
            acquired_at = excluded.acquired_at,
            expires_at = excluded.expires_at
        WHERE tier_lock.expires_at < ?`)
	res, err := r.db.ExecContext(ctx, query,
		lease.Scope,
		lease.Token,
		lease.Owner,
		now.UnixMilli(),
		lease.ExpiresAt.UnixMilli(),
		now.UnixMilli(),
	)
	if err != nil {
		return nil, mapErr("acquire lock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, mapErr("acquire lock", err)
	}
	if n == 0 {
		return nil, nil
	}
	return lease, nil
}

// Acquire waits for the scope with exponential backoff, bounded by the
// configured wait. Exhausting the wait yields a LockTimeout error.
func (r *LockRepository) Acquire(ctx context.Context, scope, owner string) (*Lease, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = r.wait

	var lease *Lease
	err := backoff.Retry(func() error {
		l, err := r.TryAcquire(ctx, scope, owner)
		if err != nil {
			if apperr.IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		if l == nil {
			return errLockHeld
		}
		lease = l
		return nil
	}, backoff.WithContext(b, ctx))
	if err == nil {
		return lease, nil
	}
	if ctx.Err() != nil {
		return nil, apperr.Cancelled("acquire lock", ctx.Err())
	}
	if errors.Is(err, errLockHeld) || apperr.IsRetryable(err) {
		return nil, apperr.LockTimeout("acquire lock", "scope %s still held after %s", scope, r.wait)
	}
	return nil, err
}

// AcquireAll takes every scope in sorted order so two callers locking
// overlapping sets cannot deadlock. On failure nothing stays held.
func (r *LockRepository) AcquireAll(ctx context.Context, scopes []string, owner string) ([]*Lease, error) {
	sorted := append([]string(nil), scopes...)
	sort.Strings(sorted)

	leases := make([]*Lease, 0, len(sorted))
	for i, scope := range sorted {
		if i > 0 && scope == sorted[i-1] {
			continue
		}
		lease, err := r.Acquire(ctx, scope, owner)
		if err != nil {
			r.ReleaseAll(ctx, leases)
			return nil, err
		}
		leases = append(leases, lease)
	}
	return leases, nil
}

// Renew pushes the expiry of a lease one TTL ahead. A lease taken over by
// another owner yields a Conflict error.
func (r *LockRepository) Renew(ctx context.Context, lease *Lease) error {
	return r.renew(ctx, r.db, lease)
}

// RenewTx renews inside tx, so a transaction whose lease was lost fails
// before it commits.
func (r *LockRepository) RenewTx(ctx context.Context, tx *sqlx.Tx, lease *Lease) error {
	return r.renew(ctx, tx, lease)
}

func (r *LockRepository) renew(ctx context.Context, q sqlx.ExecerContext, lease *Lease) error {
	query := r.db.Rebind(`UPDATE tier_lock SET expires_at = ? WHERE scope = ? AND token = ?`)
	res, err := q.ExecContext(ctx, query, time.Now().UTC().Add(r.ttl).UnixMilli(), lease.Scope, lease.Token)
	if err != nil {
		return mapErr("renew lock", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr("renew lock", err)
	}
	if n == 0 {
		return apperr.Conflict("renew lock", "lease on %s was taken over by another owner", lease.Scope)
	}
	return nil
}

// Release drops the lease if it is still ours. Releasing an expired lease
// that someone else took over is a no-op.
func (r *LockRepository) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	query := r.db.Rebind(`DELETE FROM tier_lock WHERE scope = ? AND token = ?`)
	_, err := r.db.ExecContext(context.WithoutCancel(ctx), query, lease.Scope, lease.Token)
	return mapErr("release lock", err)
}

func (r *LockRepository) ReleaseAll(ctx context.Context, leases []*Lease) error {
	var errs []error
	for i := len(leases) - 1; i >= 0; i-- {
		if err := r.Release(ctx, leases[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
