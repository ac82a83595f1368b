package sqldb

import (
	"fmt"
	"strings"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// DDL returns the statements that create the tables and indexes of the
// schemas. Tables must be listed after the tables they reference.
func DDL(d Dialect, schemas []*interfaces.Schema) []string {
	var stmts []string
	for _, schema := range schemas {
		stmts = append(stmts, createTable(d, schema))
		for _, idx := range schema.Indexes {
			stmts = append(stmts, createIndex(schema.TableName, idx))
		}
		for _, idx := range schema.SearchIndexes {
			if stmt := d.SearchIndexDDL(schema.TableName, idx); stmt != "" {
				stmts = append(stmts, stmt)
			}
		}
	}
	return stmts
}

func createTable(d Dialect, schema *interfaces.Schema) string {
	var cols, fks []string
	for _, name := range schema.FieldNames() {
		f := schema.Fields[name]
		col := quote(name) + " " + d.ColumnType(f.Type)
		switch {
		case f.PrimaryKey:
			col += " PRIMARY KEY"
		case !f.Nullable:
			col += " NOT NULL"
		}
		if f.Unique && !f.PrimaryKey {
			col += " UNIQUE"
		}
		if len(f.Enum) > 0 {
			values := make([]string, len(f.Enum))
			for i, v := range f.Enum {
				values[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
			}
			col += fmt.Sprintf(" CHECK (%s IN (%s))", quote(name), strings.Join(values, ", "))
		}
		cols = append(cols, col)

		if fk := f.ForeignKey; fk != nil {
			fks = append(fks, fmt.Sprintf("FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE %s",
				quote(name), quote(fk.Table), quote(fk.Column), onDelete(fk.OnDelete)))
		}
	}
	body := append(cols, fks...)
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", quote(schema.TableName), strings.Join(body, ",\n  "))
}

func createIndex(table string, idx interfaces.Index) string {
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = quote(c)
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)", unique, quote(idx.Name), quote(table), strings.Join(cols, ", "))
}

func onDelete(action string) string {
	switch action {
	case interfaces.OnDeleteCascade:
		return "CASCADE"
	case interfaces.OnDeleteSetNull:
		return "SET NULL"
	}
	return "RESTRICT"
}
