// Package ha serializes schema migrations between the server and worker
// processes that share a broker database.
package ha

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"time"

	"gorm.io/gorm"
)

const defaultLockName = "crate-validator-migration"

// MigrationLocker runs a function while holding a database-wide lock.
type MigrationLocker interface {
	WithLock(ctx context.Context, fn func() error) error
}

// Option configures the locker returned by NewMigrationLocker.
type Option func(*options)

type options struct {
	name          string
	retries       int
	retryInterval time.Duration
	staleAge      time.Duration
	logger        *slog.Logger
}

// WithLockName sets the name the lock is keyed on.
func WithLockName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithRetry sets how often and how many times the table lock is retried.
func WithRetry(retries int, interval time.Duration) Option {
	return func(o *options) {
		o.retries = retries
		o.retryInterval = interval
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// NewMigrationLocker picks a lock strategy for the database dialect:
// session advisory locks on PostgreSQL and MySQL, a lock table elsewhere.
func NewMigrationLocker(db *gorm.DB, opts ...Option) MigrationLocker {
	o := options{
		name:          defaultLockName,
		retries:       30,
		retryInterval: time.Second,
		staleAge:      5 * time.Minute,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if db == nil {
		return noopLock{}
	}
	switch db.Dialector.Name() {
	case "postgres":
		return &sessionLock{
			db:      db,
			acquire: "SELECT pg_advisory_lock(?)",
			release: "SELECT pg_advisory_unlock(?)",
			args:    []any{int64(crc32.ChecksumIEEE([]byte(o.name)))},
			logger:  o.logger,
		}
	case "mysql":
		return &sessionLock{
			db:      db,
			acquire: "SELECT GET_LOCK(?, -1)",
			release: "SELECT RELEASE_LOCK(?)",
			args:    []any{o.name},
			logger:  o.logger,
		}
	}

	// The table must exist before concurrent callers race on it.
	_ = db.AutoMigrate(&migrationLockRecord{})
	return &tableLock{db: db, opts: o}
}

type noopLock struct{}

func (noopLock) WithLock(_ context.Context, fn func() error) error { return fn() }

// sessionLock holds a lock that belongs to one database session, so acquire
// and release run on the same pinned connection.
type sessionLock struct {
	db      *gorm.DB
	acquire string
	release string
	args    []any
	logger  *slog.Logger
}

func (l *sessionLock) WithLock(ctx context.Context, fn func() error) error {
	return l.db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := conn.Exec(l.acquire, l.args...).Error; err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		defer func() {
			if err := conn.WithContext(context.WithoutCancel(ctx)).Exec(l.release, l.args...).Error; err != nil {
				l.logger.Warn("failed to release migration lock", "error", err)
			}
		}()
		return fn()
	})
}

// migrationLockRecord is the lock row used by tableLock.
type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "migration_lock" }

// tableLock inserts a row keyed on the lock name; the insert fails while
// another holder has it. Rows older than the stale age are removed so a
// crashed holder cannot block forever.
type tableLock struct {
	db   *gorm.DB
	opts options
}

var errLockHeld = errors.New("migration lock is held")

func (l *tableLock) WithLock(ctx context.Context, fn func() error) error {
	holder, _ := os.Hostname()
	if holder == "" {
		holder = "unknown"
	}
	holder = fmt.Sprintf("%s/%d", holder, os.Getpid())

	if err := l.acquire(ctx, holder); err != nil {
		return err
	}
	defer l.release(context.WithoutCancel(ctx), holder)
	return fn()
}

func (l *tableLock) release(ctx context.Context, holder string) {
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		err = l.db.WithContext(ctx).
			Where("id = ? AND locked_by = ?", l.opts.name, holder).
			Delete(&migrationLockRecord{}).Error
		if err == nil {
			return
		}
		time.Sleep(l.opts.retryInterval)
	}
	l.opts.logger.Warn("failed to release migration lock", "error", err)
}

func (l *tableLock) acquire(ctx context.Context, holder string) error {
	db := l.db.WithContext(ctx)
	var lastErr error = errLockHeld

	for attempt := 0; attempt < l.opts.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		db.Where("id = ? AND locked_at < ?", l.opts.name, time.Now().Add(-l.opts.staleAge)).
			Delete(&migrationLockRecord{})

		row := migrationLockRecord{ID: l.opts.name, LockedAt: time.Now(), LockedBy: holder}
		err := db.Create(&row).Error
		if err == nil {
			return nil
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.opts.retryInterval):
		}
	}
	return fmt.Errorf("acquire migration lock after %d attempts: %w", l.opts.retries, lastErr)
}
