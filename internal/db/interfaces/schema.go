package interfaces

import (
	"fmt"
	"sort"
)

// FieldNames returns the schema's columns in a stable order: id first,
// the rest alphabetically.
func (s *Schema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		if name == FieldID {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if _, ok := s.Fields[FieldID]; ok {
		names = append([]string{FieldID}, names...)
	}
	return names
}

// HasField reports whether the table declares the named field
func (s *Schema) HasField(name string) bool {
	_, ok := s.Fields[name]
	return ok
}

// SearchIndex looks up a search index by name
func (s *Schema) SearchIndex(name string) (SearchIndex, bool) {
	for _, idx := range s.SearchIndexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return SearchIndex{}, false
}

// UniqueColumnSets lists the column sets that must be unique across rows:
// single unique fields and unique indexes.
func (s *Schema) UniqueColumnSets() [][]string {
	var sets [][]string
	for _, name := range s.FieldNames() {
		f := s.Fields[name]
		if f.Unique && !f.PrimaryKey {
			sets = append(sets, []string{name})
		}
	}
	for _, idx := range s.Indexes {
		if idx.Unique {
			sets = append(sets, idx.Columns)
		}
	}
	return sets
}

// Validate checks that the declaration is self-consistent. Every index,
// search index and filter field must name a declared field.
func (s *Schema) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil schema", ErrInvalidSchema)
	}
	if s.TableName == "" {
		return fmt.Errorf("%w: missing table name", ErrInvalidSchema)
	}
	id, ok := s.Fields[FieldID]
	if !ok || !id.PrimaryKey {
		return fmt.Errorf("%w: table %s: %q must be declared as primary key", ErrInvalidSchema, s.TableName, FieldID)
	}

	for _, name := range s.FieldNames() {
		f := s.Fields[name]
		switch f.Type {
		case FieldString, FieldInt64, FieldFloat64, FieldBool, FieldTime, FieldStringArray:
		default:
			return fmt.Errorf("%w: table %s: field %s has unknown type %q", ErrInvalidSchema, s.TableName, name, f.Type)
		}
		if len(f.Enum) > 0 {
			if f.Type != FieldString {
				return fmt.Errorf("%w: table %s: enum field %s must be a string", ErrInvalidSchema, s.TableName, name)
			}
			if f.DefaultValue != nil && !containsString(f.Enum, fmt.Sprint(f.DefaultValue)) {
				return fmt.Errorf("%w: table %s: default of %s is not one of %v", ErrInvalidSchema, s.TableName, name, f.Enum)
			}
		}
		if fk := f.ForeignKey; fk != nil {
			if fk.Table == "" || fk.Column == "" {
				return fmt.Errorf("%w: table %s: foreign key on %s has no target", ErrInvalidSchema, s.TableName, name)
			}
			switch fk.OnDelete {
			case "", OnDeleteCascade, OnDeleteRestrict:
			case OnDeleteSetNull:
				if !f.Nullable {
					return fmt.Errorf("%w: table %s: %s uses SET_NULL but is not nullable", ErrInvalidSchema, s.TableName, name)
				}
			default:
				return fmt.Errorf("%w: table %s: unknown on-delete action %q", ErrInvalidSchema, s.TableName, fk.OnDelete)
			}
		}
	}

	seen := make(map[string]struct{})
	for _, idx := range s.Indexes {
		if idx.Name == "" {
			return fmt.Errorf("%w: table %s: index without a name", ErrInvalidSchema, s.TableName)
		}
		if _, dup := seen[idx.Name]; dup {
			return fmt.Errorf("%w: table %s: duplicate index name %s", ErrInvalidSchema, s.TableName, idx.Name)
		}
		seen[idx.Name] = struct{}{}
		if len(idx.Columns) == 0 {
			return fmt.Errorf("%w: index %s has no columns", ErrInvalidSchema, idx.Name)
		}
		for _, col := range idx.Columns {
			if !s.HasField(col) {
				return fmt.Errorf("%w: index %s references unknown field %s.%s", ErrInvalidSchema, idx.Name, s.TableName, col)
			}
		}
	}

	for _, idx := range s.SearchIndexes {
		if idx.Name == "" {
			return fmt.Errorf("%w: table %s: search index without a name", ErrInvalidSchema, s.TableName)
		}
		if _, dup := seen[idx.Name]; dup {
			return fmt.Errorf("%w: table %s: duplicate index name %s", ErrInvalidSchema, s.TableName, idx.Name)
		}
		seen[idx.Name] = struct{}{}
		field, ok := s.Fields[idx.SearchField]
		if !ok {
			return fmt.Errorf("%w: search index %s references unknown field %s.%s", ErrInvalidSchema, idx.Name, s.TableName, idx.SearchField)
		}
		if field.Type != FieldString {
			return fmt.Errorf("%w: search index %s: field %s is not a string", ErrInvalidSchema, idx.Name, idx.SearchField)
		}
		for _, col := range idx.FilterFields {
			if !s.HasField(col) {
				return fmt.Errorf("%w: search index %s filters on unknown field %s.%s", ErrInvalidSchema, idx.Name, s.TableName, col)
			}
		}
	}

	return nil
}

// ValidateSchemas validates each schema and the references between them:
// table names and index names are unique across the set, and foreign keys
// point at declared fields of tables in the set.
func ValidateSchemas(schemas []*Schema) error {
	tables := make(map[string]*Schema, len(schemas))
	indexNames := make(map[string]string)
	for _, s := range schemas {
		if err := s.Validate(); err != nil {
			return err
		}
		if _, dup := tables[s.TableName]; dup {
			return fmt.Errorf("%w: duplicate table %s", ErrInvalidSchema, s.TableName)
		}
		tables[s.TableName] = s
		for _, idx := range s.Indexes {
			if other, dup := indexNames[idx.Name]; dup {
				return fmt.Errorf("%w: index name %s used by %s and %s", ErrInvalidSchema, idx.Name, other, s.TableName)
			}
			indexNames[idx.Name] = s.TableName
		}
		for _, idx := range s.SearchIndexes {
			if other, dup := indexNames[idx.Name]; dup {
				return fmt.Errorf("%w: index name %s used by %s and %s", ErrInvalidSchema, idx.Name, other, s.TableName)
			}
			indexNames[idx.Name] = s.TableName
		}
	}

	for _, s := range schemas {
		for _, name := range s.FieldNames() {
			fk := s.Fields[name].ForeignKey
			if fk == nil {
				continue
			}
			target, ok := tables[fk.Table]
			if !ok {
				return fmt.Errorf("%w: %s.%s references unknown table %s", ErrInvalidSchema, s.TableName, name, fk.Table)
			}
			if !target.HasField(fk.Column) {
				return fmt.Errorf("%w: %s.%s references unknown field %s.%s", ErrInvalidSchema, s.TableName, name, fk.Table, fk.Column)
			}
		}
	}
	return nil
}

func containsString(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
