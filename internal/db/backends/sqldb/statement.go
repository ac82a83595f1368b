package sqldb

import (
	"fmt"
	"strings"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
	"github.com/quillpost/quillpost-backend/internal/db/query"
)

// statement accumulates bind arguments while a query is rendered
type statement struct {
	d      Dialect
	schema *interfaces.Schema
	args   []interface{}
	err    error
}

func newStatement(d Dialect, schema *interfaces.Schema) *statement {
	return &statement{d: d, schema: schema}
}

func (s *statement) arg(v interface{}) string {
	s.args = append(s.args, v)
	return s.d.Placeholder(len(s.args))
}

// value binds a filter value, converted to the column's storage form
func (s *statement) value(field string, v interface{}) string {
	fs := s.schema.Fields[field]
	normalized, err := query.NormalizeValue(field, v, fs)
	if err != nil {
		s.fail(fmt.Errorf("%w: %v", interfaces.ErrInvalidQuery, err))
		return s.arg(nil)
	}
	encoded, err := encodeValue(s.d, fs.Type, normalized)
	if err != nil {
		s.fail(err)
	}
	return s.arg(encoded)
}

func (s *statement) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

// where renders filters as a boolean expression
func (s *statement) where(f *interfaces.Filters) string {
	if f == nil {
		return "1=1"
	}
	var parts []string
	for _, c := range f.Conditions {
		parts = append(parts, s.condition(c))
	}
	for _, sub := range f.AND {
		parts = append(parts, "("+s.where(sub)+")")
	}
	if len(f.OR) > 0 {
		ors := make([]string, len(f.OR))
		for i, sub := range f.OR {
			ors[i] = "(" + s.where(sub) + ")"
		}
		parts = append(parts, "("+strings.Join(ors, " OR ")+")")
	}
	if len(parts) == 0 {
		return "1=1"
	}
	return strings.Join(parts, " AND ")
}

func (s *statement) condition(c interfaces.Filter) string {
	col := quote(c.Field)
	if c.Operator == nil {
		if c.Value == nil {
			return col + " IS NULL"
		}
		return col + " = " + s.value(c.Field, c.Value)
	}

	op := c.Operator
	switch {
	case op.IsNull:
		return col + " IS NULL"
	case op.IsNotNull:
		return col + " IS NOT NULL"
	case op.Eq != nil:
		return col + " = " + s.value(c.Field, op.Eq)
	case op.Ne != nil:
		return col + " <> " + s.value(c.Field, op.Ne)
	case op.Gt != nil:
		return col + " > " + s.value(c.Field, op.Gt)
	case op.Gte != nil:
		return col + " >= " + s.value(c.Field, op.Gte)
	case op.Lt != nil:
		return col + " < " + s.value(c.Field, op.Lt)
	case op.Lte != nil:
		return col + " <= " + s.value(c.Field, op.Lte)
	case len(op.In) > 0:
		return col + " IN (" + s.list(c.Field, op.In) + ")"
	case len(op.NotIn) > 0:
		return col + " NOT IN (" + s.list(c.Field, op.NotIn) + ")"
	case op.Like != "":
		return s.d.Contains(col, s.arg(query.LikePattern(op.Like)), caseSensitive(op))
	case op.NotLike != "":
		return "NOT (" + s.d.Contains(col, s.arg(query.LikePattern(op.NotLike)), caseSensitive(op)) + ")"
	}
	return "1=1"
}

func (s *statement) list(field string, values []interface{}) string {
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = s.value(field, v)
	}
	return strings.Join(marks, ", ")
}

func caseSensitive(op *interfaces.FilterOperator) bool {
	return op.CaseSensitive == nil || *op.CaseSensitive
}

func (s *statement) orderBy(orders []interfaces.OrderBy) string {
	if len(orders) == 0 {
		return ""
	}
	terms := make([]string, len(orders))
	for i, o := range orders {
		terms[i] = s.d.OrderTerm(quote(o.Field), s.schema.Fields[o.Field].Type, strings.EqualFold(o.Direction, "desc"))
	}
	return " ORDER BY " + strings.Join(terms, ", ")
}

func columnList(columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = quote(c)
	}
	return strings.Join(quoted, ", ")
}
