package sqldb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// Times are stored as unix milliseconds and string arrays as JSON text,
// so both engines share one column layout.

func encodeValue(d Dialect, t interfaces.FieldType, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case interfaces.FieldTime:
		ts, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("%w: expected time, got %T", interfaces.ErrValidation, v)
		}
		return ts.UnixMilli(), nil
	case interfaces.FieldStringArray:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", interfaces.ErrValidation, err)
		}
		return string(raw), nil
	case interfaces.FieldBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: expected bool, got %T", interfaces.ErrValidation, v)
		}
		return d.EncodeBool(b), nil
	}
	return v, nil
}

// scanTarget returns a destination for rows.Scan suited to the field type
func scanTarget(t interfaces.FieldType) interface{} {
	switch t {
	case interfaces.FieldInt64, interfaces.FieldTime:
		return new(sql.NullInt64)
	case interfaces.FieldFloat64:
		return new(sql.NullFloat64)
	case interfaces.FieldBool:
		return new(sql.NullBool)
	}
	return new(sql.NullString)
}

func decodeValue(t interfaces.FieldType, dest interface{}) (interface{}, error) {
	switch v := dest.(type) {
	case *sql.NullInt64:
		if !v.Valid {
			return nil, nil
		}
		if t == interfaces.FieldTime {
			return time.UnixMilli(v.Int64).UTC(), nil
		}
		return v.Int64, nil
	case *sql.NullFloat64:
		if !v.Valid {
			return nil, nil
		}
		return v.Float64, nil
	case *sql.NullBool:
		if !v.Valid {
			return nil, nil
		}
		return v.Bool, nil
	case *sql.NullString:
		if !v.Valid {
			return nil, nil
		}
		if t == interfaces.FieldStringArray {
			list := []string{}
			if err := json.Unmarshal([]byte(v.String), &list); err != nil {
				return nil, fmt.Errorf("decode string array: %w", err)
			}
			return list, nil
		}
		return v.String, nil
	}
	return nil, fmt.Errorf("unsupported scan target %T", dest)
}

func scanRecords(rows *sql.Rows, schema *interfaces.Schema, columns []string) ([]map[string]interface{}, error) {
	defer rows.Close()

	var records []map[string]interface{}
	for rows.Next() {
		dests := make([]interface{}, len(columns))
		for i, c := range columns {
			dests[i] = scanTarget(schema.Fields[c].Type)
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, err
		}
		record := make(map[string]interface{}, len(columns))
		for i, c := range columns {
			v, err := decodeValue(schema.Fields[c].Type, dests[i])
			if err != nil {
				return nil, err
			}
			record[c] = v
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
