package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpost/quillpost-backend/internal/db/backends/memory"
	"github.com/quillpost/quillpost-backend/internal/db/backends/sqldb"
	"github.com/quillpost/quillpost-backend/internal/db/entities"
	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

func TestAllSchemasAreValid(t *testing.T) {
	require.NoError(t, interfaces.ValidateSchemas(AllSchemas()))

	// every declared index references only fields present in its table
	for _, schema := range AllSchemas() {
		for _, idx := range schema.Indexes {
			for _, col := range idx.Columns {
				assert.True(t, schema.HasField(col), "%s.%s references %s", schema.TableName, idx.Name, col)
			}
		}
		for _, idx := range schema.SearchIndexes {
			assert.True(t, schema.HasField(idx.SearchField))
			for _, col := range idx.FilterFields {
				assert.True(t, schema.HasField(col))
			}
		}
	}
}

func TestNewDatabase(t *testing.T) {
	tests := []struct {
		name    string
		config  *Config
		want    interface{}
		wantErr bool
	}{
		{"nil config is memory", nil, &memory.Database{}, false},
		{"memory", &Config{Type: "memory"}, &memory.Database{}, false},
		{"sqlite", &Config{Type: "sqlite", DSN: "file.db"}, &sqldb.Database{}, false},
		{"postgres", &Config{Type: "postgres", DSN: "postgres://localhost/quillpost"}, &sqldb.Database{}, false},
		{"sql without dsn", &Config{Type: "postgres"}, nil, true},
		{"unknown", &Config{Type: "mongo"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := NewDatabase(tt.config, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, tt.want, db)
		})
	}
}

func TestMustNewDatabasePanics(t *testing.T) {
	assert.Panics(t, func() { MustNewDatabase(&Config{Type: "mongo"}, nil) })
}

func seedFixtures(t *testing.T, db interfaces.Database) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, ConnectAndMigrate(ctx, db, AllSchemas()))
	require.NoError(t, db.Seed(ctx, entities.UserSchema, UserFixtures(now)))
	require.NoError(t, db.Seed(ctx, entities.PostSchema, PostFixtures(now)))
}

func TestFixturesSeed(t *testing.T) {
	backends := map[string]interfaces.Database{
		"memory": NewInMemoryDatabase(),
		"sqlite": MustNewDatabase(&Config{
			Type: "sqlite",
			DSN:  filepath.Join(t.TempDir(), "seed.db") + "?_pragma=foreign_keys(1)",
		}, nil),
	}
	for name, db := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seedFixtures(t, db)
			defer db.Disconnect(ctx)

			users, err := db.Repository(entities.UserSchema).Count(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(3), users)

			published, err := db.Repository(entities.PostSchema).Count(ctx, &interfaces.Query{
				Where: interfaces.Where("status", entities.PostPublished),
			})
			require.NoError(t, err)
			assert.Equal(t, int64(2), published)

			// seeding again skips every row on its fixed id
			require.NoError(t, db.Seed(ctx, entities.UserSchema, UserFixtures(time.Now())))
			users, err = db.Repository(entities.UserSchema).Count(ctx, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(3), users)

			rec, err := db.Repository(entities.PostSchema).GetByID(ctx, interfaces.StringID("0b7d2c1e-3f4a-4b5c-8d9e-a0b1c2d3e401"))
			require.NoError(t, err)
			post, err := entities.PostFromRecord(rec)
			require.NoError(t, err)
			assert.Equal(t, []string{"history", "computing"}, post.Tags)
			assert.Equal(t, FixtureUserAda, post.AuthorID)
			require.NotNil(t, post.PublishedAt)
		})
	}
}
