package interfaces

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseSchema() *Schema {
	return &Schema{
		TableName: "notes",
		Fields: map[string]FieldSchema{
			"id":     {Type: FieldString, PrimaryKey: true},
			"title":  {Type: FieldString},
			"status": {Type: FieldString, Enum: []string{"open", "closed"}, DefaultValue: "open"},
			"views":  {Type: FieldInt64},
		},
		Indexes: []Index{
			{Name: "notes_by_status", Columns: []string{"status"}},
		},
		SearchIndexes: []SearchIndex{
			{Name: "notes_search_title", SearchField: "title", FilterFields: []string{"status"}},
		},
	}
}

func TestSchemaValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Schema)
	}{
		{"missing table name", func(s *Schema) { s.TableName = "" }},
		{"missing id", func(s *Schema) { delete(s.Fields, "id") }},
		{"id not primary", func(s *Schema) { s.Fields["id"] = FieldSchema{Type: FieldString} }},
		{"unknown type", func(s *Schema) { s.Fields["x"] = FieldSchema{Type: "decimal"} }},
		{"enum on int", func(s *Schema) { s.Fields["x"] = FieldSchema{Type: FieldInt64, Enum: []string{"1"}} }},
		{"default outside enum", func(s *Schema) {
			s.Fields["status"] = FieldSchema{Type: FieldString, Enum: []string{"open"}, DefaultValue: "done"}
		}},
		{"index on unknown field", func(s *Schema) {
			s.Indexes = append(s.Indexes, Index{Name: "notes_by_owner", Columns: []string{"owner"}})
		}},
		{"index without columns", func(s *Schema) {
			s.Indexes = append(s.Indexes, Index{Name: "notes_empty"})
		}},
		{"duplicate index name", func(s *Schema) {
			s.Indexes = append(s.Indexes, Index{Name: "notes_by_status", Columns: []string{"title"}})
		}},
		{"search on non-string", func(s *Schema) {
			s.SearchIndexes = []SearchIndex{{Name: "notes_search_views", SearchField: "views"}}
		}},
		{"search filter unknown", func(s *Schema) {
			s.SearchIndexes = []SearchIndex{{Name: "notes_search_title", SearchField: "title", FilterFields: []string{"owner"}}}
		}},
		{"set null on required field", func(s *Schema) {
			s.Fields["owner"] = FieldSchema{Type: FieldString, ForeignKey: &ForeignKey{Table: "users", Column: "id", OnDelete: OnDeleteSetNull}}
		}},
		{"unknown on delete", func(s *Schema) {
			s.Fields["owner"] = FieldSchema{Type: FieldString, ForeignKey: &ForeignKey{Table: "users", Column: "id", OnDelete: "EXPLODE"}}
		}},
	}

	require.NoError(t, baseSchema().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := baseSchema()
			tt.mutate(s)
			assert.ErrorIs(t, s.Validate(), ErrInvalidSchema)
		})
	}
}

func TestValidateSchemas(t *testing.T) {
	users := &Schema{
		TableName: "users",
		Fields:    map[string]FieldSchema{"id": {Type: FieldString, PrimaryKey: true}},
		Indexes:   []Index{{Name: "by_id", Columns: []string{"id"}}},
	}
	notes := baseSchema()
	notes.Fields["owner"] = FieldSchema{Type: FieldString, ForeignKey: &ForeignKey{Table: "users", Column: "id"}}

	require.NoError(t, ValidateSchemas([]*Schema{users, notes}))
	assert.ErrorIs(t, ValidateSchemas([]*Schema{notes}), ErrInvalidSchema, "missing FK target table")
	assert.ErrorIs(t, ValidateSchemas([]*Schema{users, users}), ErrInvalidSchema, "duplicate table")

	clash := baseSchema()
	clash.TableName = "other_notes"
	clash.SearchIndexes = nil
	assert.ErrorIs(t, ValidateSchemas([]*Schema{clash, baseSchema()}), ErrInvalidSchema, "index names are global")

	badCol := baseSchema()
	badCol.Fields["owner"] = FieldSchema{Type: FieldString, ForeignKey: &ForeignKey{Table: "users", Column: "uuid"}}
	assert.ErrorIs(t, ValidateSchemas([]*Schema{users, badCol}), ErrInvalidSchema)
}

func TestFieldNamesAndUniqueSets(t *testing.T) {
	s := baseSchema()
	s.Fields["email"] = FieldSchema{Type: FieldString, Unique: true}
	s.Indexes = append(s.Indexes, Index{Name: "notes_title_status", Columns: []string{"title", "status"}, Unique: true})

	assert.Equal(t, []string{"id", "email", "status", "title", "views"}, s.FieldNames())
	assert.Equal(t, [][]string{{"email"}, {"title", "status"}}, s.UniqueColumnSets())

	idx, ok := s.SearchIndex("notes_search_title")
	assert.True(t, ok)
	assert.Equal(t, "title", idx.SearchField)
	_, ok = s.SearchIndex("nope")
	assert.False(t, ok)
}

func TestWhere(t *testing.T) {
	f := Where("a", 1, "b", nil)
	assert.Equal(t, []Filter{{Field: "a", Value: 1}, {Field: "b", Value: nil}}, f.Conditions)
}
