package memory

import (
	"context"
	"sync"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// Transaction restores a snapshot of every table on rollback
type Transaction struct {
	mu         sync.Mutex
	db         *Database
	snapshot   map[string]*table
	committed  bool
	rolledBack bool
}

func newTransaction(db *Database) *Transaction {
	return &Transaction{
		db:       db,
		snapshot: db.snapshot(),
	}
}

// Commit keeps the changes made since the transaction began
func (tx *Transaction) Commit(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.committed || tx.rolledBack {
		return interfaces.ErrTransactionCompleted
	}

	tx.committed = true
	tx.snapshot = nil
	return nil
}

// Rollback discards the changes made since the transaction began
func (tx *Transaction) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	if tx.committed || tx.rolledBack {
		return interfaces.ErrTransactionCompleted
	}

	tx.db.restore(tx.snapshot)
	tx.snapshot = nil
	tx.rolledBack = true
	return nil
}

// IsCompleted returns true if the transaction has been committed or rolled back
func (tx *Transaction) IsCompleted() bool {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	return tx.committed || tx.rolledBack
}
