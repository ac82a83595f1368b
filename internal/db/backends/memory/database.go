package memory

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
	"github.com/quillpost/quillpost-backend/internal/db/query"
)

type row struct {
	seq  uint64
	data map[string]interface{}
}

type table struct {
	rows map[string]*row
}

func newTable() *table {
	return &table{rows: make(map[string]*row)}
}

func (t *table) clone() *table {
	c := newTable()
	for id, r := range t.rows {
		c.rows[id] = &row{seq: r.seq, data: query.CopyRecord(r.data)}
	}
	return c
}

// ordered returns copies of the rows in insertion order
func (t *table) ordered() []map[string]interface{} {
	rows := make([]*row, 0, len(t.rows))
	for _, r := range t.rows {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		out[i] = query.CopyRecord(r.data)
	}
	return out
}

// Database implements the Database interface for in-memory storage.
// Writes are serialised with transactions so a rollback never discards
// work committed by another caller.
type Database struct {
	mu        sync.RWMutex
	txMu      sync.Mutex
	tables    map[string]*table
	schemas   map[string]*interfaces.Schema
	seq       uint64
	connected bool
	logger    *zap.Logger
}

// Option configures a Database
type Option func(*Database)

// WithLogger sets the logger used for lifecycle messages
func WithLogger(logger *zap.Logger) Option {
	return func(db *Database) {
		if logger != nil {
			db.logger = logger
		}
	}
}

// NewDatabase creates a new in-memory database
func NewDatabase(opts ...Option) *Database {
	db := &Database{
		tables:  make(map[string]*table),
		schemas: make(map[string]*interfaces.Schema),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Connect establishes a connection to the database
func (db *Database) Connect(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.connected = true
	db.logger.Info("connected to in-memory database")
	return nil
}

// Disconnect drops every table
func (db *Database) Disconnect(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.connected = false
	db.tables = make(map[string]*table)
	db.schemas = make(map[string]*interfaces.Schema)
	db.logger.Info("disconnected from in-memory database")
	return nil
}

// IsHealthy checks if the database connection is healthy
func (db *Database) IsHealthy(ctx context.Context) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.connected
}

type txKey struct{}

func txFrom(ctx context.Context) *Transaction {
	tx, _ := ctx.Value(txKey{}).(*Transaction)
	return tx
}

// lockWrites serialises a write with running transactions. Calls made
// inside a transaction already hold the lock.
func (db *Database) lockWrites(ctx context.Context) func() {
	if tx := txFrom(ctx); tx != nil && tx.db == db {
		return func() {}
	}
	db.txMu.Lock()
	return db.txMu.Unlock
}

// Transaction executes a function within a database transaction. A
// nested call joins the enclosing transaction.
func (db *Database) Transaction(ctx context.Context, fn func(ctx context.Context, tx interfaces.Transaction) error) error {
	if !db.IsHealthy(ctx) {
		return interfaces.ErrDatabaseNotConnected
	}
	if tx := txFrom(ctx); tx != nil && tx.db == db {
		return fn(ctx, tx)
	}

	db.txMu.Lock()
	defer db.txMu.Unlock()

	tx := newTransaction(db)
	txCtx := context.WithValue(ctx, txKey{}, tx)

	if err := fn(txCtx, tx); err != nil {
		if !tx.IsCompleted() {
			_ = tx.Rollback(ctx)
		}
		return err
	}
	if tx.IsCompleted() {
		return nil
	}
	return tx.Commit(ctx)
}

// Repository returns a repository for the given schema
func (db *Database) Repository(schema *interfaces.Schema) interfaces.Repository {
	db.mu.Lock()
	if _, ok := db.schemas[schema.TableName]; !ok {
		db.schemas[schema.TableName] = schema
	}
	db.mu.Unlock()

	return NewRepository(db, schema)
}

// Migrate validates the schemas and creates their tables
func (db *Database) Migrate(ctx context.Context, schemas []*interfaces.Schema) error {
	if !db.IsHealthy(ctx) {
		return interfaces.ErrDatabaseNotConnected
	}
	if err := interfaces.ValidateSchemas(schemas); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	for _, schema := range schemas {
		db.schemas[schema.TableName] = schema
		if _, exists := db.tables[schema.TableName]; !exists {
			db.tables[schema.TableName] = newTable()
			db.logger.Debug("created in-memory table", zap.String("table", schema.TableName))
		}
	}

	db.logger.Info("migration completed", zap.Int("schemas", len(schemas)))
	return nil
}

// Seed inserts initial data into the database. Rows that fail are
// logged and skipped.
func (db *Database) Seed(ctx context.Context, schema *interfaces.Schema, data []map[string]interface{}) error {
	if !db.IsHealthy(ctx) {
		return interfaces.ErrDatabaseNotConnected
	}

	repo := db.Repository(schema)
	inserted := 0
	for i, record := range data {
		if _, err := repo.Create(ctx, record); err != nil {
			db.logger.Warn("failed to seed record",
				zap.String("table", schema.TableName), zap.Int("index", i), zap.Error(err))
			continue
		}
		inserted++
	}

	db.logger.Info("seeded table", zap.String("table", schema.TableName), zap.Int("rows", inserted))
	return nil
}

// Tables returns all table names, sorted
func (db *Database) Tables() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()

	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes all data from all tables
func (db *Database) Clear() {
	db.mu.Lock()
	defer db.mu.Unlock()

	for name := range db.tables {
		db.tables[name] = newTable()
	}
}

func (db *Database) snapshot() map[string]*table {
	db.mu.RLock()
	defer db.mu.RUnlock()

	snap := make(map[string]*table, len(db.tables))
	for name, t := range db.tables {
		snap[name] = t.clone()
	}
	return snap
}

func (db *Database) restore(snap map[string]*table) {
	db.mu.Lock()
	db.tables = snap
	db.mu.Unlock()
}
