package lock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/tigerroll/batchmig/pkg/batch/support/util/exception"
)

// PostgresAdvisoryLocker implements Locker with session-level advisory locks.
// The lock lives as long as the dedicated connection that took it, so ttl is ignored:
// a crashed holder releases it when its session ends.
type PostgresAdvisoryLocker struct {
	db     *sql.DB
	prefix string
}

// NewPostgresAdvisoryLocker creates a PostgresAdvisoryLocker over db.
func NewPostgresAdvisoryLocker(db *sql.DB, prefix string) *PostgresAdvisoryLocker {
	return &PostgresAdvisoryLocker{db: db, prefix: prefix}
}

// AdvisoryKey maps a lock name onto the int64 key space of pg_try_advisory_lock.
func AdvisoryKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}

// TryAcquire implements Locker.
func (p *PostgresAdvisoryLocker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (Lock, error) {
	key := AdvisoryKey(p.prefix + name)

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, exception.NewBatchError("lock", fmt.Sprintf("failed to open connection for advisory lock '%s'", name), err, false, true)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, exception.NewBatchError("lock", fmt.Sprintf("failed to acquire advisory lock '%s'", name), err, false, true)
	}
	if !acquired {
		_ = conn.Close()
		return nil, ErrLockUnavailable
	}
	return &advisoryLock{conn: conn, name: name, key: key}, nil
}

type advisoryLock struct {
	conn *sql.Conn
	name string
	key  int64
}

func (l *advisoryLock) Name() string { return l.name }

func (l *advisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.key); err != nil {
		return exception.NewBatchError("lock", fmt.Sprintf("failed to release advisory lock '%s'", l.name), err, false, true)
	}
	return nil
}
