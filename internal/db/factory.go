package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quillpost/quillpost-backend/internal/db/backends/memory"
	"github.com/quillpost/quillpost-backend/internal/db/backends/sqldb"
	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// Config holds database configuration
type Config struct {
	Type            string // "memory", "postgres", "sqlite"
	DSN             string // Data Source Name / Connection String
	MaxOpenConns    int    // Maximum open connections (for SQL backends)
	MaxIdleConns    int    // Maximum idle connections (for SQL backends)
	ConnMaxLifetime time.Duration
}

// NewDatabase creates a new database instance based on configuration
func NewDatabase(config *Config, logger *zap.Logger) (interfaces.Database, error) {
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	switch strings.ToLower(config.Type) {
	case "", "memory":
		logger.Info("using in-memory database")
		return memory.NewDatabase(memory.WithLogger(logger)), nil
	case "postgres", "postgresql", "sqlite", "sqlite3":
		dialect, err := sqldb.DialectFor(config.Type)
		if err != nil {
			return nil, err
		}
		if config.DSN == "" {
			return nil, fmt.Errorf("database type %s requires a DSN", config.Type)
		}
		logger.Info("using sql database", zap.String("dialect", dialect.Name()))
		return sqldb.NewDatabase(dialect, sqldb.Config{
			DSN:             config.DSN,
			MaxOpenConns:    config.MaxOpenConns,
			MaxIdleConns:    config.MaxIdleConns,
			ConnMaxLifetime: config.ConnMaxLifetime,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", config.Type)
	}
}

// MustNewDatabase creates a new database instance and panics on error
func MustNewDatabase(config *Config, logger *zap.Logger) interfaces.Database {
	db, err := NewDatabase(config, logger)
	if err != nil {
		panic(fmt.Sprintf("failed to create database: %v", err))
	}
	return db
}

// NewInMemoryDatabase creates a new in-memory database instance
func NewInMemoryDatabase() interfaces.Database {
	return memory.NewDatabase()
}

// ConnectAndMigrate connects to the database and runs migrations
func ConnectAndMigrate(ctx context.Context, db interfaces.Database, schemas []*interfaces.Schema) error {
	if err := db.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if !db.IsHealthy(ctx) {
		return fmt.Errorf("database health check failed")
	}

	if err := db.Migrate(ctx, schemas); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	return nil
}
