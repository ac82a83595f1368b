package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gdb "github.com/quillpost/quillpost-backend/internal/db"
)

func readMigrations(t *testing.T) string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join("..", "..", "sql", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	var all strings.Builder
	for _, f := range files {
		b, err := os.ReadFile(f)
		require.NoError(t, err)
		all.Write(b)
	}
	return all.String()
}

func TestMigrationsCoverSchemas(t *testing.T) {
	sql := readMigrations(t)

	for _, schema := range gdb.AllSchemas() {
		table := `CREATE TABLE IF NOT EXISTS "` + schema.TableName + `"`
		require.Contains(t, sql, table)

		start := strings.Index(sql, table)
		end := strings.Index(sql[start:], ");")
		require.Positive(t, end)
		block := sql[start : start+end]
		for _, field := range schema.FieldNames() {
			assert.Contains(t, block, `"`+field+`"`, "%s.%s", schema.TableName, field)
		}

		for _, idx := range schema.Indexes {
			assert.Contains(t, sql, `INDEX IF NOT EXISTS "`+idx.Name+`" ON "`+schema.TableName+`"`)
		}
		for _, idx := range schema.SearchIndexes {
			assert.Contains(t, sql, `"`+idx.Name+`" ON "`+schema.TableName+`" USING GIN`)
		}
		assert.Contains(t, sql, `DROP TABLE IF EXISTS "`+schema.TableName+`"`)
	}
	assert.Contains(t, sql, "-- +goose Up")
	assert.Contains(t, sql, "-- +goose Down")
}

func TestDDLCommand(t *testing.T) {
	for _, dialect := range []string{"postgres", "sqlite"} {
		t.Run(dialect, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run([]string{"-dialect", dialect, "ddl"}, &stdout, &stderr)
			require.Equal(t, 0, code, stderr.String())

			out := stdout.String()
			assert.True(t, strings.HasPrefix(out, "-- generated for "+dialect))
			for _, schema := range gdb.AllSchemas() {
				assert.Contains(t, out, `CREATE TABLE IF NOT EXISTS "`+schema.TableName+`"`)
			}
		})
	}
}

func TestRunUsageErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Usage: migrate")

	stderr.Reset()
	assert.Equal(t, 2, run([]string{"sideways"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "Unknown command: sideways")

	stderr.Reset()
	assert.Equal(t, 1, run([]string{"-dialect", "oracle", "ddl"}, &stdout, &stderr))
}
