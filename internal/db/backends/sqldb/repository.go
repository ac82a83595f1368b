package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
	"github.com/quillpost/quillpost-backend/internal/db/query"
)

// Repository implements the Repository interface for one SQL table
type Repository struct {
	db      *Database
	schema  *interfaces.Schema
	builder *query.Builder
	columns []string
}

// NewRepository creates a new SQL repository
func NewRepository(db *Database, schema *interfaces.Schema) *Repository {
	return &Repository{
		db:      db,
		schema:  schema,
		builder: query.NewBuilder(schema),
		columns: schema.FieldNames(),
	}
}

func (r *Repository) table() string {
	return quote(r.schema.TableName)
}

func (r *Repository) translate(op string, err error) error {
	if err == nil {
		return nil
	}
	translated := r.db.dialect.TranslateError(err)
	if translated != err {
		return translated
	}
	return &interfaces.DatabaseError{Op: op + " " + r.schema.TableName, Err: err}
}

// GetByID retrieves a single record by its ID
func (r *Repository) GetByID(ctx context.Context, id interfaces.ID) (map[string]interface{}, error) {
	exec, err := r.db.executor(ctx)
	if err != nil {
		return nil, err
	}
	stmt := newStatement(r.db.dialect, r.schema)
	sqlText := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		columnList(r.columns), r.table(), quote(interfaces.FieldID), stmt.arg(id.String()))

	rows, err := exec.QueryContext(ctx, sqlText, stmt.args...)
	if err != nil {
		return nil, r.translate("get", err)
	}
	records, err := scanRecords(rows, r.schema, r.columns)
	if err != nil {
		return nil, r.translate("get", err)
	}
	if len(records) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return records[0], nil
}

// FindOne retrieves the first record matching the query
func (r *Repository) FindOne(ctx context.Context, q *interfaces.Query) (map[string]interface{}, error) {
	one := interfaces.Query{}
	if q != nil {
		one = *q
	}
	limit := 1
	one.Limit = &limit

	result, err := r.FindMany(ctx, &one)
	if err != nil {
		return nil, err
	}
	if len(result.Data) == 0 {
		return nil, interfaces.ErrNotFound
	}
	return result.Data[0], nil
}

// FindMany retrieves multiple records matching the query with pagination.
// Text searches fetch every candidate row and rank them in process.
func (r *Repository) FindMany(ctx context.Context, q *interfaces.Query) (*interfaces.ResultPage, error) {
	if q == nil {
		q = &interfaces.Query{}
	}
	if err := r.builder.ValidateQuery(q); err != nil {
		return nil, err
	}
	exec, err := r.db.executor(ctx)
	if err != nil {
		return nil, err
	}

	offset := 0
	if q.Offset != nil {
		offset = *q.Offset
	}

	var records []map[string]interface{}
	var total int64

	if q.Search != nil {
		candidates, err := r.searchCandidates(ctx, exec, q)
		if err != nil {
			return nil, err
		}
		ranked, err := r.builder.ApplySearch(candidates, q.Search)
		if err != nil {
			return nil, err
		}
		total = int64(len(ranked))
		records = r.builder.ApplyPagination(ranked, q.Limit, q.Offset)
	} else {
		stmt := newStatement(r.db.dialect, r.schema)
		where := stmt.where(q.Where)
		sqlText := fmt.Sprintf("SELECT %s FROM %s WHERE %s%s", columnList(r.columns), r.table(), where, stmt.orderBy(q.OrderBy))
		if q.Limit != nil {
			sqlText += " LIMIT " + stmt.arg(int64(*q.Limit))
		} else if _, ok := r.db.dialect.(SQLite); ok && offset > 0 {
			// sqlite only accepts OFFSET after a LIMIT
			sqlText += " LIMIT -1"
		}
		if offset > 0 {
			sqlText += " OFFSET " + stmt.arg(int64(offset))
		}
		if stmt.err != nil {
			return nil, stmt.err
		}

		rows, err := exec.QueryContext(ctx, sqlText, stmt.args...)
		if err != nil {
			return nil, r.translate("find", err)
		}
		if records, err = scanRecords(rows, r.schema, r.columns); err != nil {
			return nil, r.translate("find", err)
		}

		if total, err = r.count(ctx, exec, q.Where); err != nil {
			return nil, err
		}
	}

	records = r.builder.Project(records, q.Select)
	if records == nil {
		records = []map[string]interface{}{}
	}

	pageSize := int(total)
	if q.Limit != nil {
		pageSize = *q.Limit
	}
	page := 1
	if pageSize > 0 {
		page = (offset / pageSize) + 1
	}

	return &interfaces.ResultPage{
		Data:     records,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}, nil
}

func (r *Repository) searchCandidates(ctx context.Context, exec executor, q *interfaces.Query) ([]map[string]interface{}, error) {
	idx, _ := r.schema.SearchIndex(q.Search.Index)
	terms := query.Tokenize(q.Search.Text)
	if len(terms) == 0 {
		return nil, nil
	}

	stmt := newStatement(r.db.dialect, r.schema)
	where := stmt.where(q.Where)
	match := r.db.dialect.SearchCondition(quote(idx.SearchField), terms, stmt.arg)
	sqlText := fmt.Sprintf("SELECT %s FROM %s WHERE (%s) AND (%s)%s",
		columnList(r.columns), r.table(), where, match, stmt.orderBy(q.OrderBy))
	if stmt.err != nil {
		return nil, stmt.err
	}

	rows, err := exec.QueryContext(ctx, sqlText, stmt.args...)
	if err != nil {
		return nil, r.translate("search", err)
	}
	records, err := scanRecords(rows, r.schema, r.columns)
	if err != nil {
		return nil, r.translate("search", err)
	}
	return records, nil
}

func (r *Repository) count(ctx context.Context, exec executor, filters *interfaces.Filters) (int64, error) {
	stmt := newStatement(r.db.dialect, r.schema)
	sqlText := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", r.table(), stmt.where(filters))
	if stmt.err != nil {
		return 0, stmt.err
	}
	var total int64
	if err := exec.QueryRowContext(ctx, sqlText, stmt.args...).Scan(&total); err != nil {
		return 0, r.translate("count", err)
	}
	return total, nil
}

// Create inserts a new record
func (r *Repository) Create(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	record, err := r.builder.PrepareCreate(data)
	if err != nil {
		return nil, err
	}
	exec, err := r.db.executor(ctx)
	if err != nil {
		return nil, err
	}

	if id, _ := record[interfaces.FieldID].(string); id == "" {
		record[interfaces.FieldID] = uuid.New().String()
	}
	now := query.CanonicalTime(time.Now())
	if r.schema.HasField(interfaces.FieldCreatedAt) && record[interfaces.FieldCreatedAt] == nil {
		record[interfaces.FieldCreatedAt] = now
	}
	if r.schema.HasField(interfaces.FieldUpdatedAt) && record[interfaces.FieldUpdatedAt] == nil {
		record[interfaces.FieldUpdatedAt] = now
	}

	stmt := newStatement(r.db.dialect, r.schema)
	marks := make([]string, len(r.columns))
	for i, c := range r.columns {
		encoded, err := encodeValue(r.db.dialect, r.schema.Fields[c].Type, record[c])
		if err != nil {
			return nil, err
		}
		marks[i] = stmt.arg(encoded)
	}
	sqlText := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", r.table(), columnList(r.columns), strings.Join(marks, ", "))

	if _, err := r.db.execWrite(ctx, exec, sqlText, stmt.args...); err != nil {
		return nil, r.translate("create", err)
	}
	return record, nil
}

// Update modifies an existing record by ID
func (r *Repository) Update(ctx context.Context, id interfaces.ID, data map[string]interface{}) (map[string]interface{}, error) {
	return r.update(ctx, id, nil, data)
}

// UpdateWhere modifies the record only while it matches where
func (r *Repository) UpdateWhere(ctx context.Context, id interfaces.ID, where *interfaces.Filters, data map[string]interface{}) (map[string]interface{}, error) {
	if err := r.builder.ValidateQuery(&interfaces.Query{Where: where}); err != nil {
		return nil, err
	}
	return r.update(ctx, id, where, data)
}

func (r *Repository) update(ctx context.Context, id interfaces.ID, where *interfaces.Filters, data map[string]interface{}) (map[string]interface{}, error) {
	changes, err := r.builder.PrepareUpdate(data)
	if err != nil {
		return nil, err
	}
	exec, err := r.db.executor(ctx)
	if err != nil {
		return nil, err
	}

	if _, explicit := changes[interfaces.FieldUpdatedAt]; !explicit && r.schema.HasField(interfaces.FieldUpdatedAt) {
		changes[interfaces.FieldUpdatedAt] = query.CanonicalTime(time.Now())
	}
	if len(changes) == 0 && where == nil {
		return r.GetByID(ctx, id)
	}

	fields := make([]string, 0, len(changes))
	for f := range changes {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	stmt := newStatement(r.db.dialect, r.schema)
	sets := make([]string, len(fields))
	for i, f := range fields {
		encoded, err := encodeValue(r.db.dialect, r.schema.Fields[f].Type, changes[f])
		if err != nil {
			return nil, err
		}
		sets[i] = quote(f) + " = " + stmt.arg(encoded)
	}
	if len(sets) == 0 {
		sets = append(sets, quote(interfaces.FieldID)+" = "+quote(interfaces.FieldID))
	}
	sqlText := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		r.table(), strings.Join(sets, ", "), quote(interfaces.FieldID), stmt.arg(id.String()))
	if where != nil {
		sqlText += " AND (" + stmt.where(where) + ")"
	}
	if stmt.err != nil {
		return nil, stmt.err
	}

	res, err := r.db.execWrite(ctx, exec, sqlText, stmt.args...)
	if err != nil {
		return nil, r.translate("update", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if where == nil {
			return nil, interfaces.ErrNotFound
		}
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, interfaces.ErrConditionFailed
	}
	return r.GetByID(ctx, id)
}

// Upsert inserts or updates based on unique field constraints. A
// concurrent insert of the same key turns into an update.
func (r *Repository) Upsert(ctx context.Context, uniqueFields map[string]interface{}, data map[string]interface{}) (map[string]interface{}, error) {
	if len(uniqueFields) == 0 {
		return nil, fmt.Errorf("%w: upsert needs at least one key field", interfaces.ErrInvalidQuery)
	}
	where := &interfaces.Filters{}
	for field, value := range uniqueFields {
		where.Conditions = append(where.Conditions, interfaces.Filter{Field: field, Value: value})
	}

	var result map[string]interface{}
	err := r.db.Transaction(ctx, func(ctx context.Context, _ interfaces.Transaction) error {
		existing, err := r.FindOne(ctx, &interfaces.Query{Where: where})
		switch {
		case err == nil:
			result, err = r.Update(ctx, interfaces.StringID(existing[interfaces.FieldID].(string)), data)
			return err
		case !errors.Is(err, interfaces.ErrNotFound):
			return err
		}

		createData := make(map[string]interface{}, len(data)+len(uniqueFields))
		for k, v := range data {
			createData[k] = v
		}
		for k, v := range uniqueFields {
			createData[k] = v
		}
		result, err = r.Create(ctx, createData)
		return err
	})
	if errors.Is(err, interfaces.ErrUniqueConstraint) {
		existing, findErr := r.FindOne(ctx, &interfaces.Query{Where: where})
		if findErr != nil {
			return nil, err
		}
		return r.Update(ctx, interfaces.StringID(existing[interfaces.FieldID].(string)), data)
	}
	return result, err
}

// Increment atomically adds delta to an int64 field and returns the new value
func (r *Repository) Increment(ctx context.Context, id interfaces.ID, field string, delta int64) (int64, error) {
	fieldSchema, ok := r.schema.Fields[field]
	if !ok || fieldSchema.Type != interfaces.FieldInt64 {
		return 0, fmt.Errorf("%w: %s.%s is not an int64 field", interfaces.ErrValidation, r.schema.TableName, field)
	}
	exec, err := r.db.executor(ctx)
	if err != nil {
		return 0, err
	}

	stmt := newStatement(r.db.dialect, r.schema)
	col := quote(field)
	set := fmt.Sprintf("%s = COALESCE(%s, 0) + %s", col, col, stmt.arg(delta))
	if r.schema.HasField(interfaces.FieldUpdatedAt) {
		set += fmt.Sprintf(", %s = %s", quote(interfaces.FieldUpdatedAt), stmt.arg(time.Now().UnixMilli()))
	}
	sqlText := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s RETURNING %s",
		r.table(), set, quote(interfaces.FieldID), stmt.arg(id.String()), col)

	var next int64
	if err := exec.QueryRowContext(ctx, sqlText, stmt.args...).Scan(&next); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, interfaces.ErrNotFound
		}
		return 0, r.translate("increment", err)
	}
	return next, nil
}

// Delete removes a record by ID. Foreign keys apply their on-delete action.
func (r *Repository) Delete(ctx context.Context, id interfaces.ID) error {
	exec, err := r.db.executor(ctx)
	if err != nil {
		return err
	}
	stmt := newStatement(r.db.dialect, r.schema)
	sqlText := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", r.table(), quote(interfaces.FieldID), stmt.arg(id.String()))

	res, err := exec.ExecContext(ctx, sqlText, stmt.args...)
	if err != nil {
		return r.translate("delete", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}

// Count returns the number of records matching the query
func (r *Repository) Count(ctx context.Context, q *interfaces.Query) (int64, error) {
	if q != nil && q.Search != nil {
		result, err := r.FindMany(ctx, &interfaces.Query{Where: q.Where, Search: q.Search})
		if err != nil {
			return 0, err
		}
		return result.Total, nil
	}
	var where *interfaces.Filters
	if q != nil {
		where = q.Where
		if err := r.builder.ValidateQuery(&interfaces.Query{Where: where}); err != nil {
			return 0, err
		}
	}
	exec, err := r.db.executor(ctx)
	if err != nil {
		return 0, err
	}
	return r.count(ctx, exec, where)
}

// GetSchema returns the schema for this repository
func (r *Repository) GetSchema() *interfaces.Schema {
	return r.schema
}
