package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
	"github.com/quillpost/quillpost-backend/internal/db/query"
)

// Repository implements the Repository interface for in-memory storage
type Repository struct {
	db        *Database
	schema    *interfaces.Schema
	builder   *query.Builder
	tableName string
}

// NewRepository creates a new in-memory repository
func NewRepository(db *Database, schema *interfaces.Schema) *Repository {
	return &Repository{
		db:        db,
		schema:    schema,
		builder:   query.NewBuilder(schema),
		tableName: schema.TableName,
	}
}

// GetByID retrieves a single record by its ID
func (r *Repository) GetByID(ctx context.Context, id interfaces.ID) (map[string]interface{}, error) {
	r.db.mu.RLock()
	defer r.db.mu.RUnlock()

	if !r.db.connected {
		return nil, interfaces.ErrDatabaseNotConnected
	}
	t, exists := r.db.tables[r.tableName]
	if !exists {
		return nil, interfaces.ErrNotFound
	}
	existing, exists := t.rows[id.String()]
	if !exists {
		return nil, interfaces.ErrNotFound
	}
	return query.CopyRecord(existing.data), nil
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

// FindMany retrieves multiple records matching the query with pagination
func (r *Repository) FindMany(ctx context.Context, q *interfaces.Query) (*interfaces.ResultPage, error) {
	if q == nil {
		q = &interfaces.Query{}
	}
	if err := r.builder.ValidateQuery(q); err != nil {
		return nil, err
	}

	r.db.mu.RLock()
	if !r.db.connected {
		r.db.mu.RUnlock()
		return nil, interfaces.ErrDatabaseNotConnected
	}
	var records []map[string]interface{}
	if t, exists := r.db.tables[r.tableName]; exists {
		records = t.ordered()
	}
	r.db.mu.RUnlock()

	if q.Where != nil {
		filtered := make([]map[string]interface{}, 0, len(records))
		for _, record := range records {
			if r.builder.MatchesFilters(record, q.Where) {
				filtered = append(filtered, record)
			}
		}
		records = filtered
	}

	records = r.builder.ApplySort(records, q.OrderBy)

	if q.Search != nil {
		var err error
		if records, err = r.builder.ApplySearch(records, q.Search); err != nil {
			return nil, err
		}
	}

	total := int64(len(records))

	offset := 0
	if q.Offset != nil {
		offset = *q.Offset
	}
	pageSize := len(records)
	if q.Limit != nil {
		pageSize = *q.Limit
	}

	records = r.builder.ApplyPagination(records, q.Limit, q.Offset)
	records = r.builder.Project(records, q.Select)
	if records == nil {
		records = []map[string]interface{}{}
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

// Create inserts a new record
func (r *Repository) Create(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	record, err := r.builder.PrepareCreate(data)
	if err != nil {
		return nil, err
	}

	defer r.db.lockWrites(ctx)()
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if !r.db.connected {
		return nil, interfaces.ErrDatabaseNotConnected
	}
	return r.insertLocked(record)
}

func (r *Repository) insertLocked(record map[string]interface{}) (map[string]interface{}, error) {
	id, _ := record[interfaces.FieldID].(string)
	if id == "" {
		id = uuid.New().String()
		record[interfaces.FieldID] = id
	}

	now := query.CanonicalTime(time.Now())
	if r.schema.HasField(interfaces.FieldCreatedAt) && record[interfaces.FieldCreatedAt] == nil {
		record[interfaces.FieldCreatedAt] = now
	}
	if r.schema.HasField(interfaces.FieldUpdatedAt) && record[interfaces.FieldUpdatedAt] == nil {
		record[interfaces.FieldUpdatedAt] = now
	}

	t := r.tableLocked()
	if _, exists := t.rows[id]; exists {
		return nil, fmt.Errorf("%w: %s.id %q already exists", interfaces.ErrUniqueConstraint, r.tableName, id)
	}
	if err := r.checkUniqueLocked(t, record, id); err != nil {
		return nil, err
	}
	if err := r.checkForeignKeysLocked(record, nil); err != nil {
		return nil, err
	}

	r.db.seq++
	t.rows[id] = &row{seq: r.db.seq, data: record}
	return query.CopyRecord(record), nil
}

// Update modifies an existing record by ID
func (r *Repository) Update(ctx context.Context, id interfaces.ID, data map[string]interface{}) (map[string]interface{}, error) {
	changes, err := r.builder.PrepareUpdate(data)
	if err != nil {
		return nil, err
	}

	defer r.db.lockWrites(ctx)()
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if !r.db.connected {
		return nil, interfaces.ErrDatabaseNotConnected
	}
	return r.updateLocked(id.String(), changes)
}

// UpdateWhere modifies the record only while it matches where
func (r *Repository) UpdateWhere(ctx context.Context, id interfaces.ID, where *interfaces.Filters, data map[string]interface{}) (map[string]interface{}, error) {
	if err := r.builder.ValidateQuery(&interfaces.Query{Where: where}); err != nil {
		return nil, err
	}
	changes, err := r.builder.PrepareUpdate(data)
	if err != nil {
		return nil, err
	}

	defer r.db.lockWrites(ctx)()
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if !r.db.connected {
		return nil, interfaces.ErrDatabaseNotConnected
	}
	existing, ok := r.tableLocked().rows[id.String()]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	if !r.builder.MatchesFilters(existing.data, where) {
		return nil, interfaces.ErrConditionFailed
	}
	return r.updateLocked(id.String(), changes)
}

func (r *Repository) updateLocked(id string, changes map[string]interface{}) (map[string]interface{}, error) {
	t := r.tableLocked()
	existing, exists := t.rows[id]
	if !exists {
		return nil, interfaces.ErrNotFound
	}

	updated := query.CopyRecord(existing.data)
	for k, v := range changes {
		updated[k] = v
	}
	if _, explicit := changes[interfaces.FieldUpdatedAt]; !explicit && r.schema.HasField(interfaces.FieldUpdatedAt) {
		updated[interfaces.FieldUpdatedAt] = query.CanonicalTime(time.Now())
	}

	if err := r.checkUniqueLocked(t, updated, id); err != nil {
		return nil, err
	}
	if err := r.checkForeignKeysLocked(updated, changes); err != nil {
		return nil, err
	}

	existing.data = updated
	return query.CopyRecord(updated), nil
}

// Upsert inserts or updates based on unique field constraints
func (r *Repository) Upsert(ctx context.Context, uniqueFields map[string]interface{}, data map[string]interface{}) (map[string]interface{}, error) {
	if len(uniqueFields) == 0 {
		return nil, fmt.Errorf("%w: upsert needs at least one key field", interfaces.ErrInvalidQuery)
	}
	where := &interfaces.Filters{}
	for field, value := range uniqueFields {
		fieldSchema, ok := r.schema.Fields[field]
		if !ok {
			return nil, fmt.Errorf("%w: unknown key field %s", interfaces.ErrInvalidQuery, field)
		}
		if value != nil {
			normalized, err := query.NormalizeValue(field, value, fieldSchema)
			if err != nil {
				return nil, err
			}
			value = normalized
		}
		where.Conditions = append(where.Conditions, interfaces.Filter{Field: field, Value: value})
	}

	defer r.db.lockWrites(ctx)()
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if !r.db.connected {
		return nil, interfaces.ErrDatabaseNotConnected
	}

	for _, existing := range r.tableLocked().ordered() {
		if !r.builder.MatchesFilters(existing, where) {
			continue
		}
		changes, err := r.builder.PrepareUpdate(data)
		if err != nil {
			return nil, err
		}
		return r.updateLocked(existing[interfaces.FieldID].(string), changes)
	}

	createData := make(map[string]interface{}, len(data)+len(uniqueFields))
	for k, v := range data {
		createData[k] = v
	}
	for k, v := range uniqueFields {
		createData[k] = v
	}
	record, err := r.builder.PrepareCreate(createData)
	if err != nil {
		return nil, err
	}
	return r.insertLocked(record)
}

// Increment atomically adds delta to an int64 field and returns the new value
func (r *Repository) Increment(ctx context.Context, id interfaces.ID, field string, delta int64) (int64, error) {
	fieldSchema, ok := r.schema.Fields[field]
	if !ok || fieldSchema.Type != interfaces.FieldInt64 {
		return 0, fmt.Errorf("%w: %s.%s is not an int64 field", interfaces.ErrValidation, r.tableName, field)
	}

	defer r.db.lockWrites(ctx)()
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if !r.db.connected {
		return 0, interfaces.ErrDatabaseNotConnected
	}
	existing, exists := r.tableLocked().rows[id.String()]
	if !exists {
		return 0, interfaces.ErrNotFound
	}

	current, _ := existing.data[field].(int64)
	next := current + delta
	existing.data[field] = next
	if r.schema.HasField(interfaces.FieldUpdatedAt) {
		existing.data[interfaces.FieldUpdatedAt] = query.CanonicalTime(time.Now())
	}
	return next, nil
}

// Delete removes a record by ID and applies the on-delete action of
// every foreign key that points at it.
func (r *Repository) Delete(ctx context.Context, id interfaces.ID) error {
	defer r.db.lockWrites(ctx)()
	r.db.mu.Lock()
	defer r.db.mu.Unlock()

	if !r.db.connected {
		return interfaces.ErrDatabaseNotConnected
	}
	if _, exists := r.tableLocked().rows[id.String()]; !exists {
		return interfaces.ErrNotFound
	}

	plan := &deletePlan{deletes: map[string]map[string]bool{}}
	if err := r.db.planDeleteLocked(r.tableName, id.String(), plan); err != nil {
		return err
	}
	r.db.applyDeleteLocked(plan)
	return nil
}

// Count returns the number of records matching the query
func (r *Repository) Count(ctx context.Context, q *interfaces.Query) (int64, error) {
	countQuery := &interfaces.Query{}
	if q != nil {
		countQuery.Where = q.Where
		countQuery.Search = q.Search
	}

	result, err := r.FindMany(ctx, countQuery)
	if err != nil {
		return 0, err
	}
	return result.Total, nil
}

// GetSchema returns the schema for this repository
func (r *Repository) GetSchema() *interfaces.Schema {
	return r.schema
}

func (r *Repository) tableLocked() *table {
	t, exists := r.db.tables[r.tableName]
	if !exists {
		t = newTable()
		r.db.tables[r.tableName] = t
	}
	return t
}

// checkUniqueLocked rejects a record that collides with another row on a
// unique field or unique index. Keys with a NULL component never collide.
func (r *Repository) checkUniqueLocked(t *table, record map[string]interface{}, selfID string) error {
	for _, columns := range r.schema.UniqueColumnSets() {
		key := make([]interface{}, len(columns))
		hasNull := false
		for i, column := range columns {
			key[i] = record[column]
			if key[i] == nil {
				hasNull = true
			}
		}
		if hasNull {
			continue
		}

		for id, other := range t.rows {
			if id == selfID {
				continue
			}
			match := true
			for i, column := range columns {
				if !query.Equal(key[i], other.data[column]) {
					match = false
					break
				}
			}
			if match {
				return fmt.Errorf("%w: %s(%s)", interfaces.ErrUniqueConstraint, r.tableName, strings.Join(columns, ", "))
			}
		}
	}
	return nil
}

// checkForeignKeysLocked verifies referenced rows exist. When only is
// set, only the fields it names are checked.
func (r *Repository) checkForeignKeysLocked(record map[string]interface{}, only map[string]interface{}) error {
	for fieldName, fieldSchema := range r.schema.Fields {
		fk := fieldSchema.ForeignKey
		if fk == nil {
			continue
		}
		if only != nil {
			if _, changed := only[fieldName]; !changed {
				continue
			}
		}
		value := record[fieldName]
		if value == nil {
			continue
		}

		target, exists := r.db.tables[fk.Table]
		if !exists {
			return fmt.Errorf("%w: referenced table '%s' does not exist", interfaces.ErrForeignKeyConstraint, fk.Table)
		}
		found := false
		for _, candidate := range target.rows {
			if query.Equal(candidate.data[fk.Column], value) {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s.%s references missing %s '%v'", interfaces.ErrForeignKeyConstraint, r.tableName, fieldName, fk.Table, value)
		}
	}
	return nil
}

type nullOut struct {
	table, id, field string
}

type deletePlan struct {
	deletes map[string]map[string]bool
	nulls   []nullOut
}

func (p *deletePlan) marked(tableName, id string) bool {
	return p.deletes[tableName][id]
}

func (p *deletePlan) mark(tableName, id string) {
	if p.deletes[tableName] == nil {
		p.deletes[tableName] = map[string]bool{}
	}
	p.deletes[tableName][id] = true
}

// planDeleteLocked walks the rows referencing tableName/id and records
// cascades and nulls. It fails on the first RESTRICT reference.
func (db *Database) planDeleteLocked(tableName, id string, plan *deletePlan) error {
	if plan.marked(tableName, id) {
		return nil
	}
	plan.mark(tableName, id)

	parent := db.tables[tableName].rows[id].data
	for childName, childSchema := range db.schemas {
		child, exists := db.tables[childName]
		if !exists {
			continue
		}
		for fieldName, fieldSchema := range childSchema.Fields {
			fk := fieldSchema.ForeignKey
			if fk == nil || fk.Table != tableName {
				continue
			}
			for childID, candidate := range child.rows {
				if !query.Equal(candidate.data[fieldName], parent[fk.Column]) {
					continue
				}
				switch fk.OnDelete {
				case interfaces.OnDeleteCascade:
					if err := db.planDeleteLocked(childName, childID, plan); err != nil {
						return err
					}
				case interfaces.OnDeleteSetNull:
					plan.nulls = append(plan.nulls, nullOut{table: childName, id: childID, field: fieldName})
				default:
					if plan.marked(childName, childID) {
						continue
					}
					return fmt.Errorf("%w: %s row is referenced by %s.%s", interfaces.ErrForeignKeyConstraint, tableName, childName, fieldName)
				}
			}
		}
	}
	return nil
}

func (db *Database) applyDeleteLocked(plan *deletePlan) {
	for _, n := range plan.nulls {
		if plan.marked(n.table, n.id) {
			continue
		}
		if r, ok := db.tables[n.table].rows[n.id]; ok {
			r.data[n.field] = nil
		}
	}
	for tableName, ids := range plan.deletes {
		for id := range ids {
			delete(db.tables[tableName].rows, id)
		}
	}
}
