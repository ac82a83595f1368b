package interfaces

import "context"

// Database is the storage engine behind the content tables
type Database interface {
	// Connect establishes a connection to the database
	Connect(ctx context.Context) error

	// Disconnect closes the database connection
	Disconnect(ctx context.Context) error

	// IsHealthy checks if the database connection is healthy
	IsHealthy(ctx context.Context) bool

	// Transaction runs fn atomically. Repository calls made with the ctx
	// passed to fn take part in the transaction.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Transaction) error) error

	// Repository returns a repository for the given schema
	Repository(schema *Schema) Repository

	// Migrate creates tables, indexes and search indexes for the schemas
	Migrate(ctx context.Context, schemas []*Schema) error

	// Seed inserts initial data into the database
	Seed(ctx context.Context, schema *Schema, data []map[string]interface{}) error
}

// Transaction is the handle passed to a Database.Transaction callback.
// Backends commit or roll back on their own once the callback returns;
// calling Rollback early discards the work done so far.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	IsCompleted() bool
}
