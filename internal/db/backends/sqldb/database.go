package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// Config holds the connection settings of a SQL database
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Database implements the Database interface on database/sql
type Database struct {
	mu      sync.RWMutex
	dialect Dialect
	cfg     Config
	db      *sql.DB
	logger  *zap.Logger
}

// NewDatabase creates a database for the dialect. Connect opens it.
func NewDatabase(dialect Dialect, cfg Config, logger *zap.Logger) *Database {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Database{
		dialect: dialect,
		cfg:     cfg,
		logger:  logger.With(zap.String("dialect", dialect.Name())),
	}
}

// Dialect returns the SQL dialect in use
func (d *Database) Dialect() Dialect {
	return d.dialect
}

// DB exposes the underlying handle for tooling such as migrations
func (d *Database) DB() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

// Connect opens the pool and verifies the connection
func (d *Database) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db != nil {
		return nil
	}

	sqlDB, err := sql.Open(d.dialect.DriverName(), d.cfg.DSN)
	if err != nil {
		return &interfaces.DatabaseError{Op: "open", Err: err}
	}

	if _, ok := d.dialect.(SQLite); ok {
		// One writer; an in-memory database also lives and dies with its
		// only connection.
		sqlDB.SetMaxOpenConns(1)
	} else {
		if d.cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(d.cfg.MaxOpenConns)
		}
		if d.cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(d.cfg.MaxIdleConns)
		}
	}
	if d.cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(d.cfg.ConnMaxLifetime)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return &interfaces.DatabaseError{Op: "ping", Err: err}
	}
	if _, ok := d.dialect.(SQLite); ok {
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = sqlDB.Close()
			return &interfaces.DatabaseError{Op: "enable foreign keys", Err: err}
		}
	}

	d.db = sqlDB
	d.logger.Info("connected to database")
	return nil
}

// Disconnect closes the pool
func (d *Database) Disconnect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	d.logger.Info("disconnected from database")
	return err
}

// IsHealthy pings the database
func (d *Database) IsHealthy(ctx context.Context) bool {
	sqlDB := d.DB()
	if sqlDB == nil {
		return false
	}
	return sqlDB.PingContext(ctx) == nil
}

type executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type txKey struct{}

// executor returns the transaction carried by ctx, or the pool
func (d *Database) executor(ctx context.Context) (executor, error) {
	if tx, ok := ctx.Value(txKey{}).(*Transaction); ok && tx.owner == d {
		return tx.tx, nil
	}
	sqlDB := d.DB()
	if sqlDB == nil {
		return nil, interfaces.ErrDatabaseNotConnected
	}
	return sqlDB, nil
}

const writeSavepoint = "qp_write"

// execWrite runs a write statement. Inside a transaction the statement
// runs under a savepoint, so a constraint violation leaves the
// transaction usable (postgres otherwise aborts it).
func (d *Database) execWrite(ctx context.Context, exec executor, query string, args ...interface{}) (sql.Result, error) {
	if tx, ok := ctx.Value(txKey{}).(*Transaction); !ok || tx.owner != d {
		return exec.ExecContext(ctx, query, args...)
	}
	if _, err := exec.ExecContext(ctx, "SAVEPOINT "+writeSavepoint); err != nil {
		return nil, err
	}
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		if _, rbErr := exec.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+writeSavepoint); rbErr != nil {
			d.logger.Warn("rollback to savepoint failed", zap.Error(rbErr))
		}
		return nil, err
	}
	if _, err := exec.ExecContext(ctx, "RELEASE SAVEPOINT "+writeSavepoint); err != nil {
		return nil, err
	}
	return res, nil
}

// Transaction executes fn inside a SQL transaction. A nested call joins
// the enclosing transaction.
func (d *Database) Transaction(ctx context.Context, fn func(ctx context.Context, tx interfaces.Transaction) error) error {
	if tx, ok := ctx.Value(txKey{}).(*Transaction); ok && tx.owner == d {
		return fn(ctx, tx)
	}
	sqlDB := d.DB()
	if sqlDB == nil {
		return interfaces.ErrDatabaseNotConnected
	}

	sqlTx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return &interfaces.DatabaseError{Op: "begin", Err: err}
	}
	tx := &Transaction{owner: d, tx: sqlTx}
	txCtx := context.WithValue(ctx, txKey{}, tx)

	if err := fn(txCtx, tx); err != nil {
		if !tx.IsCompleted() {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				d.logger.Warn("rollback failed", zap.Error(rbErr))
			}
		}
		return err
	}
	if tx.IsCompleted() {
		return nil
	}
	return tx.Commit(ctx)
}

// Repository returns a repository for the given schema
func (d *Database) Repository(schema *interfaces.Schema) interfaces.Repository {
	return NewRepository(d, schema)
}

// Migrate creates any missing tables and indexes
func (d *Database) Migrate(ctx context.Context, schemas []*interfaces.Schema) error {
	if err := interfaces.ValidateSchemas(schemas); err != nil {
		return err
	}
	return d.Transaction(ctx, func(ctx context.Context, _ interfaces.Transaction) error {
		exec, err := d.executor(ctx)
		if err != nil {
			return err
		}
		for _, stmt := range DDL(d.dialect, schemas) {
			if _, err := exec.ExecContext(ctx, stmt); err != nil {
				return &interfaces.DatabaseError{Op: "migrate", Err: fmt.Errorf("%s: %w", stmt, err)}
			}
		}
		d.logger.Info("migration completed", zap.Int("schemas", len(schemas)))
		return nil
	})
}

// Seed inserts initial data. Rows that fail are logged and skipped.
func (d *Database) Seed(ctx context.Context, schema *interfaces.Schema, data []map[string]interface{}) error {
	if d.DB() == nil {
		return interfaces.ErrDatabaseNotConnected
	}
	repo := d.Repository(schema)
	inserted := 0
	for i, record := range data {
		if _, err := repo.Create(ctx, record); err != nil {
			d.logger.Warn("failed to seed record",
				zap.String("table", schema.TableName), zap.Int("index", i), zap.Error(err))
			continue
		}
		inserted++
	}
	d.logger.Info("seeded table", zap.String("table", schema.TableName), zap.Int("rows", inserted))
	return nil
}

// Transaction wraps a *sql.Tx
type Transaction struct {
	mu        sync.Mutex
	owner     *Database
	tx        *sql.Tx
	completed bool
}

// Commit commits the transaction
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed {
		return interfaces.ErrTransactionCompleted
	}
	t.completed = true
	if err := t.tx.Commit(); err != nil {
		return &interfaces.DatabaseError{Op: "commit", Err: t.owner.dialect.TranslateError(err)}
	}
	return nil
}

// Rollback rolls back the transaction
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed {
		return interfaces.ErrTransactionCompleted
	}
	t.completed = true
	return t.tx.Rollback()
}

// IsCompleted returns true if the transaction has been committed or rolled back
func (t *Transaction) IsCompleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}
