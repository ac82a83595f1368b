package sqldb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// Dialect captures what differs between the SQL engines we run on
type Dialect interface {
	// Name is the database type as it appears in configuration
	Name() string
	// DriverName is the database/sql driver to open
	DriverName() string
	// Placeholder returns the bind marker for the n-th argument (1-based)
	Placeholder(n int) string
	// ColumnType maps a field type to a column type
	ColumnType(t interfaces.FieldType) string
	// EncodeBool converts a bool into the driver value for a bool column
	EncodeBool(v bool) interface{}
	// Contains matches a substring of a text column
	Contains(column, param string, caseSensitive bool) string
	// OrderTerm renders one ORDER BY term with NULLs first ascending
	OrderTerm(column string, t interfaces.FieldType, desc bool) string
	// SearchCondition narrows rows for a text search. Results are ranked
	// and filtered exactly afterwards, so it may over-match.
	SearchCondition(column string, terms []string, arg func(interface{}) string) string
	// SearchIndexDDL returns the statement backing a search index, or ""
	SearchIndexDDL(table string, idx interfaces.SearchIndex) string
	// TranslateError maps constraint violations onto storage errors
	TranslateError(err error) error
}

// DialectFor returns the dialect for a configured database type
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	}
	return nil, fmt.Errorf("unsupported sql dialect: %s", name)
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// Postgres talks to PostgreSQL through the pgx stdlib driver
type Postgres struct{}

func (Postgres) Name() string       { return "postgres" }
func (Postgres) DriverName() string { return "pgx" }

func (Postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Postgres) ColumnType(t interfaces.FieldType) string {
	switch t {
	case interfaces.FieldInt64, interfaces.FieldTime:
		return "BIGINT"
	case interfaces.FieldFloat64:
		return "DOUBLE PRECISION"
	case interfaces.FieldBool:
		return "BOOLEAN"
	}
	return "TEXT"
}

func (Postgres) EncodeBool(v bool) interface{} { return v }

func (Postgres) Contains(column, param string, caseSensitive bool) string {
	if caseSensitive {
		return fmt.Sprintf("strpos(%s, %s) > 0", column, param)
	}
	return fmt.Sprintf("strpos(lower(%s), lower(%s)) > 0", column, param)
}

func (Postgres) OrderTerm(column string, t interfaces.FieldType, desc bool) string {
	if t == interfaces.FieldString {
		column += ` COLLATE "C"`
	}
	if desc {
		return column + " DESC NULLS LAST"
	}
	return column + " ASC NULLS FIRST"
}

func (Postgres) SearchCondition(column string, terms []string, arg func(interface{}) string) string {
	parts := make([]string, len(terms))
	copy(parts, terms)
	parts[len(parts)-1] += ":*"
	return fmt.Sprintf("%s @@ to_tsquery('simple', %s)", searchVector(column), arg(strings.Join(parts, " & ")))
}

// searchVector splits on non-alphanumerics before parsing so emails and
// URLs break into words the same way query.Tokenize does.
func searchVector(column string) string {
	return fmt.Sprintf("to_tsvector('simple', regexp_replace(lower(%s), '[^[:alnum:]]+', ' ', 'g'))", column)
}

func (Postgres) SearchIndexDDL(table string, idx interfaces.SearchIndex) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIN ((%s))",
		quote(idx.Name), quote(table), searchVector(quote(idx.SearchField)))
}

func (Postgres) TranslateError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return fmt.Errorf("%w: %s", interfaces.ErrUniqueConstraint, pgErr.ConstraintName)
	case "23503":
		return fmt.Errorf("%w: %s", interfaces.ErrForeignKeyConstraint, pgErr.ConstraintName)
	case "23502", "23514", "22P02":
		return fmt.Errorf("%w: %s", interfaces.ErrValidation, pgErr.Message)
	}
	return err
}

// SQLite runs on the pure Go modernc driver
type SQLite struct{}

func (SQLite) Name() string       { return "sqlite" }
func (SQLite) DriverName() string { return "sqlite" }

func (SQLite) Placeholder(int) string { return "?" }

func (SQLite) ColumnType(t interfaces.FieldType) string {
	switch t {
	case interfaces.FieldInt64, interfaces.FieldTime, interfaces.FieldBool:
		return "INTEGER"
	case interfaces.FieldFloat64:
		return "REAL"
	}
	return "TEXT"
}

func (SQLite) EncodeBool(v bool) interface{} {
	if v {
		return int64(1)
	}
	return int64(0)
}

func (SQLite) Contains(column, param string, caseSensitive bool) string {
	if caseSensitive {
		return fmt.Sprintf("instr(%s, %s) > 0", column, param)
	}
	return fmt.Sprintf("instr(lower(%s), lower(%s)) > 0", column, param)
}

func (SQLite) OrderTerm(column string, _ interfaces.FieldType, desc bool) string {
	if desc {
		return column + " DESC NULLS LAST"
	}
	return column + " ASC NULLS FIRST"
}

func (SQLite) SearchCondition(column string, terms []string, arg func(interface{}) string) string {
	parts := make([]string, len(terms))
	for i, term := range terms {
		parts[i] = fmt.Sprintf("instr(lower(%s), %s) > 0", column, arg(term))
	}
	return strings.Join(parts, " AND ")
}

// SearchIndexDDL is empty: search scans the filtered rows.
func (SQLite) SearchIndexDDL(string, interfaces.SearchIndex) string { return "" }

func (SQLite) TranslateError(err error) error {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code() {
	case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
		return fmt.Errorf("%w: %s", interfaces.ErrUniqueConstraint, sqliteErr.Error())
	case sqlite3lib.SQLITE_CONSTRAINT_FOREIGNKEY:
		return fmt.Errorf("%w: %s", interfaces.ErrForeignKeyConstraint, sqliteErr.Error())
	case sqlite3lib.SQLITE_CONSTRAINT_NOTNULL, sqlite3lib.SQLITE_CONSTRAINT_CHECK:
		return fmt.Errorf("%w: %s", interfaces.ErrValidation, sqliteErr.Error())
	}
	return err
}
