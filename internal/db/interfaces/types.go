package interfaces

import (
	"errors"
)

// ID identifies a record. Records use UUID strings.
type ID interface {
	String() string
}

// StringID implements ID for string identifiers
type StringID string

func (s StringID) String() string {
	return string(s)
}

// FieldType names the storage type of a column
type FieldType string

const (
	FieldString      FieldType = "string"
	FieldInt64       FieldType = "int64"
	FieldFloat64     FieldType = "float64"
	FieldBool        FieldType = "bool"
	FieldTime        FieldType = "time"
	FieldStringArray FieldType = "string_array"
)

// Well-known columns maintained by the backends
const (
	FieldID        = "id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// FilterOperator represents different filter operations
type FilterOperator struct {
	Eq            interface{}   `json:"eq,omitempty"`
	Ne            interface{}   `json:"ne,omitempty"`
	Gt            interface{}   `json:"gt,omitempty"`
	Gte           interface{}   `json:"gte,omitempty"`
	Lt            interface{}   `json:"lt,omitempty"`
	Lte           interface{}   `json:"lte,omitempty"`
	In            []interface{} `json:"in,omitempty"`
	NotIn         []interface{} `json:"not_in,omitempty"`
	Like          string        `json:"like,omitempty"`
	NotLike       string        `json:"not_like,omitempty"`
	IsNull        bool          `json:"is_null,omitempty"`
	IsNotNull     bool          `json:"is_not_null,omitempty"`
	CaseSensitive *bool         `json:"case_sensitive,omitempty"`
}

// Filter represents a field filter
type Filter struct {
	Field    string          `json:"field"`
	Value    interface{}     `json:"value,omitempty"`
	Operator *FilterOperator `json:"operator,omitempty"`
}

// Filters represents complex filtering with AND/OR logic
type Filters struct {
	Conditions []Filter   `json:"conditions,omitempty"`
	AND        []*Filters `json:"and,omitempty"`
	OR         []*Filters `json:"or,omitempty"`
}

// Where builds a Filters of equality conditions from field/value pairs.
func Where(pairs ...interface{}) *Filters {
	f := &Filters{}
	for i := 0; i+1 < len(pairs); i += 2 {
		field, _ := pairs[i].(string)
		f.Conditions = append(f.Conditions, Filter{Field: field, Value: pairs[i+1]})
	}
	return f
}

// OrderBy represents sorting configuration
type OrderBy struct {
	Field     string `json:"field"`
	Direction string `json:"direction"` // "asc" or "desc"
}

// SearchQuery runs text search over one of the table's search indexes
type SearchQuery struct {
	Index string `json:"index"`
	Text  string `json:"text"`
}

// Query represents a database query with filtering, sorting, and pagination
type Query struct {
	Where   *Filters     `json:"where,omitempty"`
	Search  *SearchQuery `json:"search,omitempty"`
	Select  []string     `json:"select,omitempty"`
	OrderBy []OrderBy    `json:"order_by,omitempty"`
	Limit   *int         `json:"limit,omitempty"`
	Offset  *int         `json:"offset,omitempty"`
}

// ResultPage represents paginated query results
type ResultPage struct {
	Data     []map[string]interface{} `json:"data"`
	Total    int64                    `json:"total"`
	Page     int                      `json:"page"`
	PageSize int                      `json:"page_size"`
}

// Schema declares one table: its typed fields, lookup indexes and
// text-search indexes.
type Schema struct {
	TableName     string                 `json:"table_name"`
	Fields        map[string]FieldSchema `json:"fields"`
	Indexes       []Index                `json:"indexes,omitempty"`
	SearchIndexes []SearchIndex          `json:"search_indexes,omitempty"`
}

// FieldSchema represents a field definition
type FieldSchema struct {
	Type         FieldType   `json:"type"`
	Nullable     bool        `json:"nullable"`
	DefaultValue interface{} `json:"default_value,omitempty"`
	Unique       bool        `json:"unique"`
	PrimaryKey   bool        `json:"primary_key"`
	ForeignKey   *ForeignKey `json:"foreign_key,omitempty"`
	// Enum closes a string field over a set of literals
	Enum []string `json:"enum,omitempty"`
}

// On-delete actions for foreign keys
const (
	OnDeleteCascade  = "CASCADE"
	OnDeleteSetNull  = "SET_NULL"
	OnDeleteRestrict = "RESTRICT"
)

// ForeignKey represents a foreign key constraint
type ForeignKey struct {
	Table    string `json:"table"`
	Column   string `json:"column"`
	OnDelete string `json:"on_delete,omitempty"` // CASCADE, SET_NULL, RESTRICT
}

// Index represents a database index
type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// SearchIndex declares full-text search over a single string field.
// FilterFields may be combined with the search as equality filters.
type SearchIndex struct {
	Name         string   `json:"name"`
	SearchField  string   `json:"search_field"`
	FilterFields []string `json:"filter_fields,omitempty"`
}

// Common database errors
var (
	ErrNotFound             = errors.New("record not found")
	ErrUniqueConstraint     = errors.New("unique constraint violation")
	ErrForeignKeyConstraint = errors.New("foreign key constraint violation")
	ErrConditionFailed      = errors.New("update condition not met")
	ErrInvalidQuery         = errors.New("invalid query")
	ErrValidation           = errors.New("validation error")
	ErrInvalidSchema        = errors.New("invalid schema")
	ErrTransactionCompleted = errors.New("transaction already completed")
	ErrDatabaseNotConnected = errors.New("database not connected")
)

// DatabaseError wraps database-specific errors
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *DatabaseError) Unwrap() error {
	return e.Err
}
