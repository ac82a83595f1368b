package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// Builder evaluates queries and validates writes against one schema.
// The memory backend uses it for everything; SQL backends use it for
// validation and for the final ranking of search results.
type Builder struct {
	schema *interfaces.Schema
}

// NewBuilder creates a new query builder for a schema
func NewBuilder(schema *interfaces.Schema) *Builder {
	return &Builder{schema: schema}
}

// Schema returns the schema the builder validates against
func (b *Builder) Schema() *interfaces.Schema {
	return b.schema
}

// MatchesFilters checks if a record matches the given filters
func (b *Builder) MatchesFilters(record map[string]interface{}, filters *interfaces.Filters) bool {
	if filters == nil {
		return true
	}

	for _, andFilter := range filters.AND {
		if !b.MatchesFilters(record, andFilter) {
			return false
		}
	}

	if len(filters.OR) > 0 {
		hasMatch := false
		for _, orFilter := range filters.OR {
			if b.MatchesFilters(record, orFilter) {
				hasMatch = true
				break
			}
		}
		if !hasMatch {
			return false
		}
	}

	for _, condition := range filters.Conditions {
		if !b.matchesCondition(record, condition) {
			return false
		}
	}

	return true
}

func (b *Builder) matchesCondition(record map[string]interface{}, condition interfaces.Filter) bool {
	fieldValue, exists := record[condition.Field]
	if !exists {
		fieldValue = nil
	}

	// Plain equality; a nil value matches NULL
	if condition.Operator == nil {
		if condition.Value == nil {
			return fieldValue == nil
		}
		return Equal(fieldValue, condition.Value)
	}

	op := condition.Operator

	if op.IsNull {
		return fieldValue == nil
	}
	if op.IsNotNull {
		return fieldValue != nil
	}

	// Every other operator needs a value to compare against
	if fieldValue == nil {
		return false
	}

	if op.Eq != nil {
		return Equal(fieldValue, op.Eq)
	}
	if op.Ne != nil {
		return !Equal(fieldValue, op.Ne)
	}

	if op.Gt != nil {
		c, ok := Compare(fieldValue, op.Gt)
		return ok && c > 0
	}
	if op.Gte != nil {
		c, ok := Compare(fieldValue, op.Gte)
		return ok && c >= 0
	}
	if op.Lt != nil {
		c, ok := Compare(fieldValue, op.Lt)
		return ok && c < 0
	}
	if op.Lte != nil {
		c, ok := Compare(fieldValue, op.Lte)
		return ok && c <= 0
	}

	if len(op.In) > 0 {
		for _, val := range op.In {
			if Equal(fieldValue, val) {
				return true
			}
		}
		return false
	}
	if len(op.NotIn) > 0 {
		for _, val := range op.NotIn {
			if Equal(fieldValue, val) {
				return false
			}
		}
		return true
	}

	if op.Like != "" {
		strValue, ok := fieldValue.(string)
		if !ok {
			return false
		}
		return containsPattern(strValue, op.Like, op.CaseSensitive)
	}
	if op.NotLike != "" {
		strValue, ok := fieldValue.(string)
		if !ok {
			return true
		}
		return !containsPattern(strValue, op.NotLike, op.CaseSensitive)
	}

	return true
}

// LikePattern strips SQL wildcards; LIKE filters are substring matches.
func LikePattern(pattern string) string {
	return strings.ReplaceAll(pattern, "%", "")
}

func containsPattern(value, pattern string, caseSensitive *bool) bool {
	pattern = LikePattern(pattern)
	if caseSensitive != nil && !*caseSensitive {
		value = strings.ToLower(value)
		pattern = strings.ToLower(pattern)
	}
	return strings.Contains(value, pattern)
}

// Equal compares two field values, treating all integer and float kinds
// as numbers and times by instant.
func Equal(a, other interface{}) bool {
	if a == nil || other == nil {
		return a == nil && other == nil
	}
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(other)
		return ok && af == bf
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := other.(time.Time)
		return ok && at.Equal(bt)
	}
	switch av := a.(type) {
	case []string:
		bv, ok := other.([]string)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case string:
		bv, ok := other.(string)
		return ok && av == bv
	case bool:
		bv, ok := other.(bool)
		return ok && av == bv
	}
	return false
}

// Compare orders two values of the same kind. ok is false when the
// values are not comparable.
func Compare(a, other interface{}) (int, bool) {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(other)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	switch av := a.(type) {
	case string:
		bv, ok := other.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case time.Time:
		bv, ok := other.(time.Time)
		if !ok {
			return 0, false
		}
		return av.Compare(bv), true
	case bool:
		bv, ok := other.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// ApplySort sorts records according to the OrderBy specification.
// NULLs sort first ascending and last descending.
func (b *Builder) ApplySort(records []map[string]interface{}, orderBy []interfaces.OrderBy) []map[string]interface{} {
	if len(orderBy) == 0 {
		return records
	}

	sorted := make([]map[string]interface{}, len(records))
	copy(sorted, records)

	sort.SliceStable(sorted, func(i, j int) bool {
		return Less(sorted[i], sorted[j], orderBy)
	})

	return sorted
}

// Less reports whether a sorts before other under orderBy
func Less(a, other map[string]interface{}, orderBy []interfaces.OrderBy) bool {
	for _, order := range orderBy {
		cmp := compareNullable(a[order.Field], other[order.Field])
		if cmp == 0 {
			continue
		}
		if strings.EqualFold(order.Direction, "desc") {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

func compareNullable(a, other interface{}) int {
	switch {
	case a == nil && other == nil:
		return 0
	case a == nil:
		return -1
	case other == nil:
		return 1
	}
	c, _ := Compare(a, other)
	return c
}

// ApplyPagination applies limit and offset to the records
func (b *Builder) ApplyPagination(records []map[string]interface{}, limit, offset *int) []map[string]interface{} {
	start := 0
	if offset != nil && *offset > 0 {
		start = *offset
	}

	if start >= len(records) {
		return []map[string]interface{}{}
	}

	end := len(records)
	if limit != nil && *limit >= 0 {
		end = start + *limit
		if end > len(records) {
			end = len(records)
		}
	}

	return records[start:end]
}

// Project keeps only the selected fields of each record
func (b *Builder) Project(records []map[string]interface{}, fields []string) []map[string]interface{} {
	if len(fields) == 0 {
		return records
	}
	projected := make([]map[string]interface{}, 0, len(records))
	for _, record := range records {
		row := make(map[string]interface{}, len(fields))
		for _, field := range fields {
			if value, exists := record[field]; exists {
				row[field] = value
			}
		}
		projected = append(projected, row)
	}
	return projected
}

// ValidateQuery rejects queries naming fields the table does not have
func (b *Builder) ValidateQuery(q *interfaces.Query) error {
	if q == nil {
		return nil
	}
	if err := b.validateFilters(q.Where); err != nil {
		return err
	}
	for _, o := range q.OrderBy {
		if !b.schema.HasField(o.Field) {
			return fmt.Errorf("%w: unknown order field %s", interfaces.ErrInvalidQuery, o.Field)
		}
		switch strings.ToLower(o.Direction) {
		case "", "asc", "desc":
		default:
			return fmt.Errorf("%w: unknown direction %q", interfaces.ErrInvalidQuery, o.Direction)
		}
	}
	for _, f := range q.Select {
		if !b.schema.HasField(f) {
			return fmt.Errorf("%w: unknown select field %s", interfaces.ErrInvalidQuery, f)
		}
	}
	if q.Search != nil {
		if _, ok := b.schema.SearchIndex(q.Search.Index); !ok {
			return fmt.Errorf("%w: table %s has no search index %s", interfaces.ErrInvalidQuery, b.schema.TableName, q.Search.Index)
		}
	}
	if q.Limit != nil && *q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", interfaces.ErrInvalidQuery)
	}
	if q.Offset != nil && *q.Offset < 0 {
		return fmt.Errorf("%w: negative offset", interfaces.ErrInvalidQuery)
	}
	return nil
}

func (b *Builder) validateFilters(f *interfaces.Filters) error {
	if f == nil {
		return nil
	}
	for _, c := range f.Conditions {
		if !b.schema.HasField(c.Field) {
			return fmt.Errorf("%w: unknown filter field %s", interfaces.ErrInvalidQuery, c.Field)
		}
	}
	for _, sub := range f.AND {
		if err := b.validateFilters(sub); err != nil {
			return err
		}
	}
	for _, sub := range f.OR {
		if err := b.validateFilters(sub); err != nil {
			return err
		}
	}
	return nil
}

// PrepareCreate validates a new record and returns it in canonical form
// with defaults applied. id and timestamps are left to the caller.
func (b *Builder) PrepareCreate(data map[string]interface{}) (map[string]interface{}, error) {
	record, err := b.normalize(data)
	if err != nil {
		return nil, err
	}

	for fieldName, fieldSchema := range b.schema.Fields {
		if isSystemField(fieldName) {
			continue
		}
		if _, exists := record[fieldName]; exists {
			continue
		}
		if fieldSchema.DefaultValue != nil {
			record[fieldName] = copyValue(fieldSchema.DefaultValue)
			continue
		}
		if !fieldSchema.Nullable {
			return nil, fmt.Errorf("%w: field '%s' is required", interfaces.ErrValidation, fieldName)
		}
		record[fieldName] = nil
	}

	for fieldName, fieldSchema := range b.schema.Fields {
		if !fieldSchema.Nullable && !isSystemField(fieldName) && record[fieldName] == nil {
			return nil, fmt.Errorf("%w: field '%s' cannot be null", interfaces.ErrValidation, fieldName)
		}
	}

	return record, nil
}

// PrepareUpdate validates a partial update and returns it in canonical
// form. id and created_at cannot be changed.
func (b *Builder) PrepareUpdate(data map[string]interface{}) (map[string]interface{}, error) {
	if _, ok := data[interfaces.FieldID]; ok {
		return nil, fmt.Errorf("%w: field 'id' is immutable", interfaces.ErrValidation)
	}
	if _, ok := data[interfaces.FieldCreatedAt]; ok {
		return nil, fmt.Errorf("%w: field 'created_at' is immutable", interfaces.ErrValidation)
	}
	return b.normalize(data)
}

func (b *Builder) normalize(data map[string]interface{}) (map[string]interface{}, error) {
	record := make(map[string]interface{}, len(b.schema.Fields))
	for fieldName, value := range data {
		fieldSchema, ok := b.schema.Fields[fieldName]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field '%s' for table %s", interfaces.ErrValidation, fieldName, b.schema.TableName)
		}
		if value == nil {
			if !fieldSchema.Nullable {
				return nil, fmt.Errorf("%w: field '%s' cannot be null", interfaces.ErrValidation, fieldName)
			}
			record[fieldName] = nil
			continue
		}
		converted, err := NormalizeValue(fieldName, value, fieldSchema)
		if err != nil {
			return nil, err
		}
		record[fieldName] = converted
	}
	return record, nil
}

// NormalizeValue converts a Go value into the canonical representation of
// the field type: int64, float64, UTC millisecond time or []string.
func NormalizeValue(fieldName string, value interface{}, fieldSchema interfaces.FieldSchema) (interface{}, error) {
	switch fieldSchema.Type {
	case interfaces.FieldString:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("%w: field '%s' must be a string", interfaces.ErrValidation, fieldName)
		}
		if len(fieldSchema.Enum) > 0 && !contains(fieldSchema.Enum, s) {
			return nil, fmt.Errorf("%w: field '%s' must be one of %s", interfaces.ErrValidation, fieldName, strings.Join(fieldSchema.Enum, ", "))
		}
		return s, nil
	case interfaces.FieldInt64:
		switch n := value.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		case float64:
			if n != float64(int64(n)) {
				return nil, fmt.Errorf("%w: field '%s' must be an integer", interfaces.ErrValidation, fieldName)
			}
			return int64(n), nil
		}
		return nil, fmt.Errorf("%w: field '%s' must be an integer", interfaces.ErrValidation, fieldName)
	case interfaces.FieldFloat64:
		if f, ok := toFloat(value); ok {
			return f, nil
		}
		return nil, fmt.Errorf("%w: field '%s' must be a number", interfaces.ErrValidation, fieldName)
	case interfaces.FieldBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
		return nil, fmt.Errorf("%w: field '%s' must be a boolean", interfaces.ErrValidation, fieldName)
	case interfaces.FieldTime:
		switch t := value.(type) {
		case time.Time:
			return CanonicalTime(t), nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, fmt.Errorf("%w: field '%s' must be an RFC3339 time", interfaces.ErrValidation, fieldName)
			}
			return CanonicalTime(parsed), nil
		}
		return nil, fmt.Errorf("%w: field '%s' must be a time value", interfaces.ErrValidation, fieldName)
	case interfaces.FieldStringArray:
		switch list := value.(type) {
		case []string:
			out := make([]string, len(list))
			copy(out, list)
			return out, nil
		case []interface{}:
			out := make([]string, 0, len(list))
			for _, item := range list {
				s, ok := item.(string)
				if !ok {
					return nil, fmt.Errorf("%w: field '%s' must contain only strings", interfaces.ErrValidation, fieldName)
				}
				out = append(out, s)
			}
			return out, nil
		}
		return nil, fmt.Errorf("%w: field '%s' must be a list of strings", interfaces.ErrValidation, fieldName)
	}
	return nil, fmt.Errorf("%w: field '%s' has unsupported type %q", interfaces.ErrValidation, fieldName, fieldSchema.Type)
}

// CanonicalTime is the precision every backend stores: UTC milliseconds
func CanonicalTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// CopyRecord returns a copy of the record; string slices are cloned too
func CopyRecord(record map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(record))
	for k, v := range record {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v interface{}) interface{} {
	if list, ok := v.([]string); ok {
		out := make([]string, len(list))
		copy(out, list)
		return out
	}
	return v
}

func isSystemField(name string) bool {
	return name == interfaces.FieldID || name == interfaces.FieldCreatedAt || name == interfaces.FieldUpdatedAt
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
