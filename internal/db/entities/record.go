package entities

import (
	"fmt"
	"time"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// Record is the untyped row shape exchanged with repositories
type Record = map[string]interface{}

func idField() interfaces.FieldSchema {
	return interfaces.FieldSchema{Type: interfaces.FieldString, PrimaryKey: true}
}

func timeField() interfaces.FieldSchema {
	return interfaces.FieldSchema{Type: interfaces.FieldTime}
}

func ref(table, onDelete string, nullable bool) interfaces.FieldSchema {
	return interfaces.FieldSchema{
		Type:     interfaces.FieldString,
		Nullable: nullable,
		ForeignKey: &interfaces.ForeignKey{
			Table:    table,
			Column:   interfaces.FieldID,
			OnDelete: onDelete,
		},
	}
}

func str(r Record, field string) (string, error) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", fmt.Errorf("field %s is missing", field)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %s: expected string, got %T", field, v)
	}
	return s, nil
}

func optStr(r Record, field string) (*string, error) {
	v, ok := r[field]
	if !ok || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("field %s: expected string, got %T", field, v)
	}
	return &s, nil
}

func num(r Record, field string) (int64, error) {
	v, ok := r[field]
	if !ok || v == nil {
		return 0, nil
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("field %s: expected number, got %T", field, v)
	}
}

func optNum(r Record, field string) (*int64, error) {
	if v, ok := r[field]; !ok || v == nil {
		return nil, nil
	}
	n, err := num(r, field)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func timestamp(r Record, field string) (time.Time, error) {
	v, ok := r[field]
	if !ok || v == nil {
		return time.Time{}, nil
	}
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("field %s: expected time, got %T", field, v)
	}
	return t, nil
}

func optTimestamp(r Record, field string) (*time.Time, error) {
	if v, ok := r[field]; !ok || v == nil {
		return nil, nil
	}
	t, err := timestamp(r, field)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func strs(r Record, field string) ([]string, error) {
	v, ok := r[field]
	if !ok || v == nil {
		return []string{}, nil
	}
	switch list := v.(type) {
	case []string:
		out := make([]string, len(list))
		copy(out, list)
		return out, nil
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("field %s: expected string element, got %T", field, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("field %s: expected string list, got %T", field, v)
	}
}

// nullable converts a typed optional into a record value, keeping nil
// as an untyped nil so backends store NULL.
func nullable[T any](v *T) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

// firstErr returns the first non-nil error
func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
