package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpost/quillpost-backend/internal/db/dbtest"
	"github.com/quillpost/quillpost-backend/internal/db/entities"
	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

func TestConformance(t *testing.T) {
	dbtest.RunConformanceTests(t, func(t *testing.T) interfaces.Database {
		return NewDatabase()
	})
}

func setup(t *testing.T) *Database {
	t.Helper()
	ctx := context.Background()
	db := NewDatabase()
	require.NoError(t, db.Connect(ctx))
	require.NoError(t, db.Migrate(ctx, dbtest.Schemas()))
	return db
}

func TestMigrateCreatesTables(t *testing.T) {
	db := setup(t)
	assert.Equal(t, []string{"comments", "daily_stats", "follows", "likes", "posts", "users"}, db.Tables())
}

func TestNotConnected(t *testing.T) {
	ctx := context.Background()
	db := NewDatabase()

	_, err := db.Repository(entities.UserSchema).GetByID(ctx, interfaces.StringID("x"))
	assert.ErrorIs(t, err, interfaces.ErrDatabaseNotConnected)
	assert.ErrorIs(t, db.Migrate(ctx, dbtest.Schemas()), interfaces.ErrDatabaseNotConnected)
	assert.ErrorIs(t, db.Transaction(ctx, func(context.Context, interfaces.Transaction) error { return nil }),
		interfaces.ErrDatabaseNotConnected)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	db := setup(t)
	users := db.Repository(entities.UserSchema)

	created, err := users.Create(ctx, map[string]interface{}{
		"email": "a@example.com", "name": "A", "token_identifier": "t", "last_active_at": time.Now(),
	})
	require.NoError(t, err)
	created["name"] = "mutated"

	got, err := users.GetByID(ctx, interfaces.StringID(created["id"].(string)))
	require.NoError(t, err)
	assert.Equal(t, "A", got["name"])
}

func TestConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	user, err := db.Repository(entities.UserSchema).Create(ctx, map[string]interface{}{
		"email": "a@example.com", "name": "A", "token_identifier": "t", "last_active_at": time.Now(),
	})
	require.NoError(t, err)
	post, err := db.Repository(entities.PostSchema).Create(ctx, map[string]interface{}{
		"title": "hot", "content": "{}", "author_id": user["id"],
	})
	require.NoError(t, err)
	id := interfaces.StringID(post["id"].(string))
	posts := db.Repository(entities.PostSchema)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = db.Transaction(ctx, func(ctx context.Context, _ interfaces.Transaction) error {
				_, err := posts.Increment(ctx, id, "view_count", 1)
				return err
			})
		}()
	}
	wg.Wait()

	got, err := posts.GetByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got["view_count"])
}

func TestNestedTransactionJoinsOuter(t *testing.T) {
	ctx := context.Background()
	db := setup(t)
	users := db.Repository(entities.UserSchema)

	err := db.Transaction(ctx, func(ctx context.Context, _ interfaces.Transaction) error {
		return db.Transaction(ctx, func(ctx context.Context, _ interfaces.Transaction) error {
			_, err := users.Create(ctx, map[string]interface{}{
				"email": "n@example.com", "name": "N", "token_identifier": "n", "last_active_at": time.Now(),
			})
			return err
		})
	})
	require.NoError(t, err)

	n, err := users.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRestrictBlocksDelete(t *testing.T) {
	ctx := context.Background()
	parent := &interfaces.Schema{
		TableName: "parents",
		Fields: map[string]interfaces.FieldSchema{
			"id": {Type: interfaces.FieldString, PrimaryKey: true},
		},
	}
	child := &interfaces.Schema{
		TableName: "children",
		Fields: map[string]interfaces.FieldSchema{
			"id": {Type: interfaces.FieldString, PrimaryKey: true},
			"parent_id": {Type: interfaces.FieldString, ForeignKey: &interfaces.ForeignKey{
				Table: "parents", Column: "id", OnDelete: interfaces.OnDeleteRestrict,
			}},
		},
	}
	db := NewDatabase()
	require.NoError(t, db.Connect(ctx))
	require.NoError(t, db.Migrate(ctx, []*interfaces.Schema{parent, child}))

	p, err := db.Repository(parent).Create(ctx, map[string]interface{}{})
	require.NoError(t, err)
	_, err = db.Repository(child).Create(ctx, map[string]interface{}{"parent_id": p["id"]})
	require.NoError(t, err)

	err = db.Repository(parent).Delete(ctx, interfaces.StringID(p["id"].(string)))
	assert.ErrorIs(t, err, interfaces.ErrForeignKeyConstraint)
	_, err = db.Repository(parent).GetByID(ctx, interfaces.StringID(p["id"].(string)))
	assert.NoError(t, err)
}

func TestSeedSkipsBadRows(t *testing.T) {
	ctx := context.Background()
	db := setup(t)

	err := db.Seed(ctx, entities.UserSchema, []map[string]interface{}{
		{"email": "a@example.com", "name": "A", "token_identifier": "a", "last_active_at": time.Now()},
		{"email": "a@example.com", "name": "Dup", "token_identifier": "b", "last_active_at": time.Now()},
		{"name": "missing fields"},
	})
	require.NoError(t, err)

	n, err := db.Repository(entities.UserSchema).Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
