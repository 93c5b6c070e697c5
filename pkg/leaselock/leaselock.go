// Package leaselock provides expiring locks stored in Postgres. A holder
// keeps its lease alive in the background; other processes wait until it
// is released or expires.
package leaselock

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/OFFIS-RIT/kiwi-textbook/backend/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var (
	ErrBusy = errors.New("lease lock busy")
	ErrLost = errors.New("lease lock lost")
)

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Client struct {
	db dbConn
}

// Options tune a lease. Zero values pick the defaults noted per field.
type Options struct {
	// TTL is how long a lease survives without renewal (5m).
	TTL time.Duration
	// RenewEvery must be below TTL (TTL/2).
	RenewEvery time.Duration

	// Wait polls until the lock is free instead of returning ErrBusy.
	Wait         bool
	WaitInterval time.Duration // 250ms
	WaitJitter   time.Duration

	// Owner is prepended to the random token to make holders recognizable.
	Owner string
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 5 * time.Minute
	}
	if o.RenewEvery <= 0 || o.RenewEvery >= o.TTL {
		o.RenewEvery = max(o.TTL/2, time.Second)
	}
	if o.WaitInterval <= 0 {
		o.WaitInterval = 250 * time.Millisecond
	}
	if o.WaitJitter < 0 {
		o.WaitJitter = 0
	}
	return o
}

// Lease is a held lock. Context is canceled when the lease is released or
// a renewal finds it taken over.
type Lease struct {
	Key     string
	Token   string
	Context context.Context

	client  *Client
	cancel  context.CancelCauseFunc
	stop    chan struct{}
	stopped sync.Once
}

// New returns a lock client on db, usually a *pgxpool.Pool. The kg_locks
// table is created by the store migrations.
func New(db dbConn) *Client {
	return &Client{db: db}
}

// WithLease runs fn while holding key.
func (c *Client) WithLease(ctx context.Context, key string, opts Options, fn func(ctx context.Context) error) error {
	lease, err := c.Acquire(ctx, key, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			logger.Warn("[Lock] Failed to release lease", "key", key, "err", err)
		}
	}()

	if err := fn(lease.Context); err != nil {
		if cause := context.Cause(lease.Context); errors.Is(cause, ErrLost) {
			return fmt.Errorf("%w: %w", cause, err)
		}
		return err
	}
	return nil
}

func (c *Client) Acquire(ctx context.Context, key string, opts Options) (*Lease, error) {
	if key == "" {
		return nil, errors.New("lease lock key is empty")
	}
	opts = opts.withDefaults()

	id, err := gonanoid.New()
	if err != nil {
		return nil, err
	}
	token := opts.Owner + id
	ttlMs := opts.TTL.Milliseconds()

	for {
		ok, err := c.try(ctx, acquireSQL, key, token, ttlMs)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		if !opts.Wait {
			return nil, ErrBusy
		}
		logger.Debug("[Lock] Waiting for lease", "key", key)
		if err := sleep(ctx, opts.WaitInterval, opts.WaitJitter); err != nil {
			return nil, err
		}
	}

	leaseCtx, cancel := context.WithCancelCause(ctx)
	l := &Lease{
		Key:     key,
		Token:   token,
		Context: leaseCtx,
		client:  c,
		cancel:  cancel,
		stop:    make(chan struct{}),
	}
	go l.keepAlive(opts.RenewEvery, ttlMs)

	logger.Debug("[Lock] Lease acquired", "key", key, "ttl", opts.TTL)
	return l, nil
}

// try runs a statement that returns the lock key on success and no row
// when someone else holds the lock.
func (c *Client) try(ctx context.Context, sql string, key string, token string, ttlMs int64) (bool, error) {
	var got string
	err := c.db.QueryRow(ctx, sql, key, token, ttlMs).Scan(&got)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return got != "", nil
}

func (l *Lease) Release(ctx context.Context) error {
	l.stopped.Do(func() {
		close(l.stop)
		l.cancel(context.Canceled)
	})

	_, err := l.client.db.Exec(ctx, releaseSQL, l.Key, l.Token)
	return err
}

func (l *Lease) keepAlive(every time.Duration, ttlMs int64) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-l.Context.Done():
			return
		case <-t.C:
			if err := l.renew(ttlMs); err != nil {
				logger.Warn("[Lock] Lease lost", "key", l.Key, "err", err)
				l.cancel(err)
				return
			}
		}
	}
}

// renew retries transient errors; a missing row means the lease was taken.
func (l *Lease) renew(ttlMs int64) error {
	var lastErr error
	for range 3 {
		ctx, cancel := context.WithTimeout(l.Context, 15*time.Second)
		ok, err := l.client.try(ctx, renewSQL, l.Key, l.Token, ttlMs)
		cancel()
		if err == nil && ok {
			return nil
		}
		if err == nil {
			return ErrLost
		}
		lastErr = err
		if err := sleep(l.Context, 200*time.Millisecond, 0); err != nil {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrLost, lastErr)
}

func sleep(ctx context.Context, base, jitter time.Duration) error {
	d := base
	if jitter > 0 {
		d += time.Duration(rand.Int64N(int64(jitter) + 1))
	}
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

const acquireSQL = `
INSERT INTO kg_locks (lock_key, locked_by, expires_at)
VALUES ($1, $2, now() + ($3::bigint * interval '1 millisecond'))
ON CONFLICT (lock_key) DO UPDATE
SET locked_by = EXCLUDED.locked_by,
    expires_at = EXCLUDED.expires_at
WHERE kg_locks.expires_at < now()
   OR kg_locks.locked_by = EXCLUDED.locked_by
RETURNING lock_key
`

const renewSQL = `
UPDATE kg_locks
SET expires_at = now() + ($3::bigint * interval '1 millisecond')
WHERE lock_key = $1 AND locked_by = $2
RETURNING lock_key
`

const releaseSQL = `
DELETE FROM kg_locks
WHERE lock_key = $1 AND locked_by = $2
`
