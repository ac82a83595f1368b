// Package dbtest provides conformance tests for interfaces.Database
// implementations
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpost/quillpost-backend/internal/db/entities"
	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// DatabaseFactory creates a fresh, unconnected Database for one test
type DatabaseFactory func(t *testing.T) interfaces.Database

// Schemas lists the content tables, referenced tables first
func Schemas() []*interfaces.Schema {
	return []*interfaces.Schema{
		entities.UserSchema,
		entities.PostSchema,
		entities.CommentSchema,
		entities.LikeSchema,
		entities.FollowSchema,
		entities.DailyStatSchema,
	}
}

// RunConformanceTests runs all conformance tests against a Database implementation
func RunConformanceTests(t *testing.T, factory DatabaseFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, db interfaces.Database)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"Defaults", testDefaults},
		{"Validation", testValidation},
		{"UpdateAndDelete", testUpdateAndDelete},
		{"UpdateWhere", testUpdateWhere},
		{"UniqueConstraints", testUniqueConstraints},
		{"NullsNeverCollide", testNullsNeverCollide},
		{"ForeignKeyOnWrite", testForeignKeyOnWrite},
		{"CascadeAndSetNull", testCascadeAndSetNull},
		{"Filters", testFilters},
		{"OrderAndPagination", testOrderAndPagination},
		{"Projection", testProjection},
		{"Search", testSearch},
		{"Increment", testIncrement},
		{"Upsert", testUpsert},
		{"TransactionCommit", testTransactionCommit},
		{"TransactionRollback", testTransactionRollback},
		{"TransactionAfterViolation", testTransactionAfterViolation},
		{"ExplicitRollback", testExplicitRollback},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			db := factory(t)
			require.NoError(t, db.Connect(ctx))
			t.Cleanup(func() { _ = db.Disconnect(context.Background()) })
			require.NoError(t, db.Migrate(ctx, Schemas()))
			require.True(t, db.IsHealthy(ctx))
			tt.test(t, db)
		})
	}
}

var seq int

func newUser(t *testing.T, db interfaces.Database, name string) map[string]interface{} {
	t.Helper()
	seq++
	user, err := db.Repository(entities.UserSchema).Create(context.Background(), map[string]interface{}{
		"email":            fmt.Sprintf("user%d@example.com", seq),
		"name":             name,
		"token_identifier": fmt.Sprintf("issuer|user%d", seq),
		"last_active_at":   time.Now(),
	})
	require.NoError(t, err)
	return user
}

func newPost(t *testing.T, db interfaces.Database, authorID, title, status string) map[string]interface{} {
	t.Helper()
	data := map[string]interface{}{
		"title":     title,
		"content":   "body of " + title,
		"author_id": authorID,
		"status":    status,
	}
	if status == entities.PostPublished {
		data["published_at"] = time.Now()
	}
	post, err := db.Repository(entities.PostSchema).Create(context.Background(), data)
	require.NoError(t, err)
	return post
}

func idOf(record map[string]interface{}) interfaces.ID {
	return interfaces.StringID(record[interfaces.FieldID].(string))
}

func testCreateAndGet(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	repo := db.Repository(entities.UserSchema)

	before := time.Now().Add(-time.Second)
	created, err := repo.Create(ctx, map[string]interface{}{
		"email":              "ada@example.com",
		"name":               "Ada",
		"token_identifier":   "issuer|ada",
		"exports_this_month": 2,
		"last_active_at":     time.Now(),
	})
	require.NoError(t, err)

	id, ok := created["id"].(string)
	require.True(t, ok)
	assert.NotEmpty(t, id)

	createdAt, ok := created["created_at"].(time.Time)
	require.True(t, ok)
	assert.True(t, createdAt.After(before))
	assert.Equal(t, time.UTC, createdAt.Location())
	assert.Equal(t, createdAt, createdAt.Truncate(time.Millisecond))

	got, err := repo.GetByID(ctx, interfaces.StringID(id))
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got["email"])
	assert.Equal(t, int64(2), got["exports_this_month"])
	assert.Nil(t, got["username"])
	assert.True(t, createdAt.Equal(got["created_at"].(time.Time)))

	user, err := entities.UserFromRecord(got)
	require.NoError(t, err)
	assert.Equal(t, "Ada", user.Name)

	_, err = repo.GetByID(ctx, interfaces.StringID("missing"))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func testDefaults(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	author := newUser(t, db, "Author")

	post, err := db.Repository(entities.PostSchema).Create(ctx, map[string]interface{}{
		"title":     "Hello",
		"content":   "{}",
		"author_id": author["id"],
	})
	require.NoError(t, err)
	assert.Equal(t, entities.PostDraft, post["status"])
	assert.Equal(t, int64(0), post["view_count"])
	assert.Equal(t, int64(0), post["like_count"])
	assert.Equal(t, []string{}, post["tags"])
	assert.Nil(t, post["published_at"])

	got, err := db.Repository(entities.PostSchema).GetByID(ctx, idOf(post))
	require.NoError(t, err)
	assert.Equal(t, []string{}, got["tags"])
	assert.Equal(t, entities.PostDraft, got["status"])

	tagged, err := db.Repository(entities.PostSchema).Create(ctx, map[string]interface{}{
		"title":     "Tagged",
		"content":   "{}",
		"author_id": author["id"],
		"tags":      []interface{}{"go", "sql"},
	})
	require.NoError(t, err)
	got, err = db.Repository(entities.PostSchema).GetByID(ctx, idOf(tagged))
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "sql"}, got["tags"])
}

func testValidation(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	repo := db.Repository(entities.UserSchema)

	tests := []struct {
		name string
		data map[string]interface{}
	}{
		{"missing required field", map[string]interface{}{
			"email": "a@example.com", "token_identifier": "t", "last_active_at": time.Now(),
		}},
		{"unknown field", map[string]interface{}{
			"email": "a@example.com", "name": "A", "token_identifier": "t", "last_active_at": time.Now(), "age": 3,
		}},
		{"enum violation", map[string]interface{}{
			"email": "a@example.com", "name": "A", "token_identifier": "t", "last_active_at": time.Now(), "plan": "enterprise",
		}},
		{"wrong type", map[string]interface{}{
			"email": "a@example.com", "name": 42, "token_identifier": "t", "last_active_at": time.Now(),
		}},
		{"null in required field", map[string]interface{}{
			"email": nil, "name": "A", "token_identifier": "t", "last_active_at": time.Now(),
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.Create(ctx, tt.data)
			assert.ErrorIs(t, err, interfaces.ErrValidation)
		})
	}

	count, err := repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func testUpdateAndDelete(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	repo := db.Repository(entities.UserSchema)
	user := newUser(t, db, "Before")

	updated, err := repo.Update(ctx, idOf(user), map[string]interface{}{
		"name":     "After",
		"username": "after",
	})
	require.NoError(t, err)
	assert.Equal(t, "After", updated["name"])
	assert.Equal(t, "after", updated["username"])
	assert.Equal(t, user["email"], updated["email"])
	assert.False(t, updated["updated_at"].(time.Time).Before(user["updated_at"].(time.Time)))
	assert.True(t, user["created_at"].(time.Time).Equal(updated["created_at"].(time.Time)))

	_, err = repo.Update(ctx, idOf(user), map[string]interface{}{"id": "other"})
	assert.ErrorIs(t, err, interfaces.ErrValidation)

	_, err = repo.Update(ctx, interfaces.StringID("missing"), map[string]interface{}{"name": "x"})
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	require.NoError(t, repo.Delete(ctx, idOf(user)))
	_, err = repo.GetByID(ctx, idOf(user))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, idOf(user)), interfaces.ErrNotFound)
}

func testUpdateWhere(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	author := newUser(t, db, "Author")
	post := newPost(t, db, author["id"].(string), "Guarded", entities.PostDraft)
	posts := db.Repository(entities.PostSchema)
	draft := interfaces.Where("status", entities.PostDraft)

	updated, err := posts.UpdateWhere(ctx, idOf(post), draft, map[string]interface{}{"status": entities.PostPublished})
	require.NoError(t, err)
	assert.Equal(t, entities.PostPublished, updated["status"])

	_, err = posts.UpdateWhere(ctx, idOf(post), draft, map[string]interface{}{"title": "Second"})
	assert.ErrorIs(t, err, interfaces.ErrConditionFailed)
	got, err := posts.GetByID(ctx, idOf(post))
	require.NoError(t, err)
	assert.Equal(t, "Guarded", got["title"])

	_, err = posts.UpdateWhere(ctx, interfaces.StringID("missing"), draft, map[string]interface{}{"title": "x"})
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = posts.UpdateWhere(ctx, idOf(post), interfaces.Where("mood", "calm"), map[string]interface{}{"title": "x"})
	assert.ErrorIs(t, err, interfaces.ErrInvalidQuery)
}

func testUniqueConstraints(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	repo := db.Repository(entities.UserSchema)
	first := newUser(t, db, "First")

	_, err := repo.Create(ctx, map[string]interface{}{
		"email":            first["email"],
		"name":             "Dup",
		"token_identifier": "issuer|other",
		"last_active_at":   time.Now(),
	})
	assert.ErrorIs(t, err, interfaces.ErrUniqueConstraint)

	second := newUser(t, db, "Second")
	_, err = repo.Update(ctx, idOf(second), map[string]interface{}{"token_identifier": first["token_identifier"]})
	assert.ErrorIs(t, err, interfaces.ErrUniqueConstraint)

	post := newPost(t, db, first["id"].(string), "Liked", entities.PostPublished)
	likes := db.Repository(entities.LikeSchema)
	_, err = likes.Create(ctx, map[string]interface{}{"post_id": post["id"], "user_id": second["id"]})
	require.NoError(t, err)
	_, err = likes.Create(ctx, map[string]interface{}{"post_id": post["id"], "user_id": second["id"]})
	assert.ErrorIs(t, err, interfaces.ErrUniqueConstraint)
}

func testNullsNeverCollide(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	author := newUser(t, db, "Author")
	post := newPost(t, db, author["id"].(string), "Anon", entities.PostPublished)

	likes := db.Repository(entities.LikeSchema)
	for i := 0; i < 3; i++ {
		_, err := likes.Create(ctx, map[string]interface{}{"post_id": post["id"], "user_id": nil})
		require.NoError(t, err)
	}
	count, err := likes.Count(ctx, &interfaces.Query{Where: interfaces.Where("post_id", post["id"])})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	// two users without a username
	newUser(t, db, "No Name One")
	newUser(t, db, "No Name Two")
}

func testForeignKeyOnWrite(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	posts := db.Repository(entities.PostSchema)

	_, err := posts.Create(ctx, map[string]interface{}{
		"title":     "Orphan",
		"content":   "{}",
		"author_id": "does-not-exist",
	})
	assert.ErrorIs(t, err, interfaces.ErrForeignKeyConstraint)

	author := newUser(t, db, "Author")
	post := newPost(t, db, author["id"].(string), "Real", entities.PostDraft)
	_, err = posts.Update(ctx, idOf(post), map[string]interface{}{"author_id": "does-not-exist"})
	assert.ErrorIs(t, err, interfaces.ErrForeignKeyConstraint)
}

func testCascadeAndSetNull(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	author := newUser(t, db, "Author")
	reader := newUser(t, db, "Reader")
	post := newPost(t, db, author["id"].(string), "Doomed", entities.PostPublished)

	comments := db.Repository(entities.CommentSchema)
	comment, err := comments.Create(ctx, map[string]interface{}{
		"post_id":     post["id"],
		"author_id":   reader["id"],
		"author_name": "Reader",
		"content":     "nice",
		"status":      entities.CommentApproved,
	})
	require.NoError(t, err)

	likes := db.Repository(entities.LikeSchema)
	like, err := likes.Create(ctx, map[string]interface{}{"post_id": post["id"], "user_id": reader["id"]})
	require.NoError(t, err)

	follows := db.Repository(entities.FollowSchema)
	_, err = follows.Create(ctx, map[string]interface{}{"follower_id": reader["id"], "following_id": author["id"]})
	require.NoError(t, err)

	// deleting the reader nulls the comment author and drops their like and follow
	require.NoError(t, db.Repository(entities.UserSchema).Delete(ctx, idOf(reader)))

	got, err := comments.GetByID(ctx, idOf(comment))
	require.NoError(t, err)
	assert.Nil(t, got["author_id"])
	assert.Equal(t, "Reader", got["author_name"])

	_, err = likes.GetByID(ctx, idOf(like))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	n, err := follows.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// deleting the author removes the post and its comments
	require.NoError(t, db.Repository(entities.UserSchema).Delete(ctx, idOf(author)))
	_, err = db.Repository(entities.PostSchema).GetByID(ctx, idOf(post))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
	_, err = comments.GetByID(ctx, idOf(comment))
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func testFilters(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	author := newUser(t, db, "Author")
	id := author["id"].(string)
	a := newPost(t, db, id, "Alpha Go", entities.PostPublished)
	newPost(t, db, id, "Beta SQL", entities.PostDraft)
	newPost(t, db, id, "Gamma go", entities.PostPublished)

	posts := db.Repository(entities.PostSchema)
	_, err := posts.Increment(ctx, idOf(a), "view_count", 10)
	require.NoError(t, err)

	insensitive := false
	tests := []struct {
		name  string
		where *interfaces.Filters
		want  int64
	}{
		{"equality", interfaces.Where("status", entities.PostPublished), 2},
		{"two equalities", interfaces.Where("status", entities.PostPublished, "author_id", id), 2},
		{"null", interfaces.Where("published_at", nil), 1},
		{"not null", &interfaces.Filters{Conditions: []interfaces.Filter{
			{Field: "published_at", Operator: &interfaces.FilterOperator{IsNotNull: true}},
		}}, 2},
		{"greater than", &interfaces.Filters{Conditions: []interfaces.Filter{
			{Field: "view_count", Operator: &interfaces.FilterOperator{Gt: 5}},
		}}, 1},
		{"less or equal", &interfaces.Filters{Conditions: []interfaces.Filter{
			{Field: "view_count", Operator: &interfaces.FilterOperator{Lte: int64(0)}},
		}}, 2},
		{"in", &interfaces.Filters{Conditions: []interfaces.Filter{
			{Field: "title", Operator: &interfaces.FilterOperator{In: []interface{}{"Alpha Go", "Beta SQL"}}},
		}}, 2},
		{"not equal", &interfaces.Filters{Conditions: []interfaces.Filter{
			{Field: "status", Operator: &interfaces.FilterOperator{Ne: entities.PostDraft}},
		}}, 2},
		{"like case sensitive", &interfaces.Filters{Conditions: []interfaces.Filter{
			{Field: "title", Operator: &interfaces.FilterOperator{Like: "%Go%"}},
		}}, 1},
		{"like case insensitive", &interfaces.Filters{Conditions: []interfaces.Filter{
			{Field: "title", Operator: &interfaces.FilterOperator{Like: "%go%", CaseSensitive: &insensitive}},
		}}, 2},
		{"or", &interfaces.Filters{OR: []*interfaces.Filters{
			interfaces.Where("title", "Alpha Go"),
			interfaces.Where("status", entities.PostDraft),
		}}, 2},
		{"and with or", &interfaces.Filters{
			Conditions: []interfaces.Filter{{Field: "status", Value: entities.PostPublished}},
			OR: []*interfaces.Filters{
				interfaces.Where("title", "Alpha Go"),
				interfaces.Where("title", "Beta SQL"),
			},
		}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := posts.FindMany(ctx, &interfaces.Query{Where: tt.where})
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Total)
			assert.Len(t, result.Data, int(tt.want))

			count, err := posts.Count(ctx, &interfaces.Query{Where: tt.where})
			require.NoError(t, err)
			assert.Equal(t, tt.want, count)
		})
	}

	_, err = posts.FindMany(ctx, &interfaces.Query{Where: interfaces.Where("nope", 1)})
	assert.ErrorIs(t, err, interfaces.ErrInvalidQuery)
}

func testOrderAndPagination(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	author := newUser(t, db, "Author")
	for _, title := range []string{"c", "a", "d", "b", "e"} {
		newPost(t, db, author["id"].(string), title, entities.PostDraft)
	}
	posts := db.Repository(entities.PostSchema)

	limit, offset := 2, 1
	result, err := posts.FindMany(ctx, &interfaces.Query{
		OrderBy: []interfaces.OrderBy{{Field: "title", Direction: "asc"}},
		Limit:   &limit,
		Offset:  &offset,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), result.Total)
	require.Len(t, result.Data, 2)
	assert.Equal(t, "b", result.Data[0]["title"])
	assert.Equal(t, "c", result.Data[1]["title"])

	result, err = posts.FindMany(ctx, &interfaces.Query{
		OrderBy: []interfaces.OrderBy{{Field: "title", Direction: "desc"}},
		Offset:  &offset,
	})
	require.NoError(t, err)
	require.Len(t, result.Data, 4)
	assert.Equal(t, "d", result.Data[0]["title"])

	one, err := posts.FindOne(ctx, &interfaces.Query{OrderBy: []interfaces.OrderBy{{Field: "title", Direction: "desc"}}})
	require.NoError(t, err)
	assert.Equal(t, "e", one["title"])

	_, err = posts.FindOne(ctx, &interfaces.Query{Where: interfaces.Where("title", "zzz")})
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func testProjection(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	newUser(t, db, "Projected")

	result, err := db.Repository(entities.UserSchema).FindMany(ctx, &interfaces.Query{Select: []string{"id", "name"}})
	require.NoError(t, err)
	require.Len(t, result.Data, 1)
	assert.Len(t, result.Data[0], 2)
	assert.Equal(t, "Projected", result.Data[0]["name"])
}

func testSearch(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	ada := newUser(t, db, "Ada Lovelace")
	newUser(t, db, "Alan Turing")
	newUser(t, db, "Grace Hopper")

	users := db.Repository(entities.UserSchema)
	search := func(index, text string) []string {
		result, err := users.FindMany(ctx, &interfaces.Query{Search: &interfaces.SearchQuery{Index: index, Text: text}})
		require.NoError(t, err)
		var names []string
		for _, r := range result.Data {
			names = append(names, r["name"].(string))
		}
		return names
	}

	assert.Equal(t, []string{"Ada Lovelace"}, search("users_search_name", "love"))
	assert.Equal(t, []string{"Ada Lovelace"}, search("users_search_name", "ADA lov"))
	assert.Empty(t, search("users_search_name", "lace"))
	assert.Empty(t, search("users_search_name", ""))
	assert.ElementsMatch(t, []string{"Ada Lovelace", "Alan Turing"}, search("users_search_name", "a"))
	assert.Len(t, search("users_search_email", "example"), 3)

	author := ada["id"].(string)
	newPost(t, db, author, "Learning Go the hard way", entities.PostPublished)
	newPost(t, db, author, "Go go gadget", entities.PostPublished)
	newPost(t, db, author, "Going places", entities.PostDraft)

	posts := db.Repository(entities.PostSchema)
	result, err := posts.FindMany(ctx, &interfaces.Query{
		Search: &interfaces.SearchQuery{Index: "posts_search_content", Text: "go"},
		Where:  interfaces.Where("status", entities.PostPublished),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Total)

	limit := 1
	result, err = posts.FindMany(ctx, &interfaces.Query{
		Search: &interfaces.SearchQuery{Index: "posts_search_content", Text: "go"},
		Limit:  &limit,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Total)
	assert.Len(t, result.Data, 1)

	_, err = posts.FindMany(ctx, &interfaces.Query{Search: &interfaces.SearchQuery{Index: "missing", Text: "go"}})
	assert.ErrorIs(t, err, interfaces.ErrInvalidQuery)
}

func testIncrement(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	author := newUser(t, db, "Author")
	post := newPost(t, db, author["id"].(string), "Counted", entities.PostPublished)
	posts := db.Repository(entities.PostSchema)

	n, err := posts.Increment(ctx, idOf(post), "view_count", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	n, err = posts.Increment(ctx, idOf(post), "view_count", 4)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	got, err := posts.GetByID(ctx, idOf(post))
	require.NoError(t, err)
	assert.Equal(t, int64(5), got["view_count"])

	// nullable counters start from zero
	users := db.Repository(entities.UserSchema)
	n, err = users.Increment(ctx, idOf(author), "projects_used", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = posts.Increment(ctx, idOf(post), "title", 1)
	assert.ErrorIs(t, err, interfaces.ErrValidation)
	_, err = posts.Increment(ctx, interfaces.StringID("missing"), "view_count", 1)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func testUpsert(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	author := newUser(t, db, "Author")
	post := newPost(t, db, author["id"].(string), "Stats", entities.PostPublished)
	stats := db.Repository(entities.DailyStatSchema)

	key := map[string]interface{}{"post_id": post["id"], "date": "2024-03-01"}
	first, err := stats.Upsert(ctx, key, map[string]interface{}{"views": 1})
	require.NoError(t, err)
	second, err := stats.Upsert(ctx, key, map[string]interface{}{"views": 7})
	require.NoError(t, err)
	assert.Equal(t, first["id"], second["id"])
	assert.Equal(t, int64(7), second["views"])

	count, err := stats.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, err = stats.Upsert(ctx, nil, map[string]interface{}{"views": 1})
	assert.ErrorIs(t, err, interfaces.ErrInvalidQuery)
}

func testTransactionCommit(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	author := newUser(t, db, "Author")
	posts := db.Repository(entities.PostSchema)

	err := db.Transaction(ctx, func(ctx context.Context, tx interfaces.Transaction) error {
		post, err := posts.Create(ctx, map[string]interface{}{
			"title": "In tx", "content": "{}", "author_id": author["id"],
		})
		if err != nil {
			return err
		}
		_, err = posts.Increment(ctx, idOf(post), "like_count", 1)
		return err
	})
	require.NoError(t, err)

	result, err := posts.FindOne(ctx, &interfaces.Query{Where: interfaces.Where("title", "In tx")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result["like_count"])
}

var errAbort = errors.New("abort")

func testTransactionRollback(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	author := newUser(t, db, "Author")
	posts := db.Repository(entities.PostSchema)

	err := db.Transaction(ctx, func(ctx context.Context, tx interfaces.Transaction) error {
		if _, err := posts.Create(ctx, map[string]interface{}{
			"title": "Rolled back", "content": "{}", "author_id": author["id"],
		}); err != nil {
			return err
		}
		return errAbort
	})
	assert.ErrorIs(t, err, errAbort)

	count, err := posts.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	// the author created before the transaction survives
	_, err = db.Repository(entities.UserSchema).GetByID(ctx, idOf(author))
	assert.NoError(t, err)
}

// A failed write inside a transaction leaves it usable; the earlier and
// later writes both commit.
func testTransactionAfterViolation(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	author := newUser(t, db, "Author")
	reader := newUser(t, db, "Reader")
	post := newPost(t, db, author["id"].(string), "Contested", entities.PostPublished)
	likes := db.Repository(entities.LikeSchema)
	posts := db.Repository(entities.PostSchema)

	err := db.Transaction(ctx, func(ctx context.Context, tx interfaces.Transaction) error {
		if _, err := likes.Create(ctx, map[string]interface{}{"post_id": post["id"], "user_id": reader["id"]}); err != nil {
			return err
		}
		_, err := likes.Create(ctx, map[string]interface{}{"post_id": post["id"], "user_id": reader["id"]})
		if !errors.Is(err, interfaces.ErrUniqueConstraint) {
			return fmt.Errorf("expected unique violation, got %v", err)
		}
		if _, err := likes.FindOne(ctx, &interfaces.Query{Where: interfaces.Where("post_id", post["id"], "user_id", reader["id"])}); err != nil {
			return err
		}
		_, err = posts.Increment(ctx, idOf(post), "like_count", 1)
		return err
	})
	require.NoError(t, err)

	count, err := likes.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	got, err := posts.GetByID(ctx, idOf(post))
	require.NoError(t, err)
	assert.Equal(t, int64(1), got["like_count"])
}

func testExplicitRollback(t *testing.T, db interfaces.Database) {
	ctx := context.Background()
	users := db.Repository(entities.UserSchema)

	err := db.Transaction(ctx, func(ctx context.Context, tx interfaces.Transaction) error {
		if _, err := users.Create(ctx, map[string]interface{}{
			"email": "gone@example.com", "name": "Gone", "token_identifier": "issuer|gone", "last_active_at": time.Now(),
		}); err != nil {
			return err
		}
		if err := tx.Rollback(ctx); err != nil {
			return err
		}
		assert.True(t, tx.IsCompleted())
		assert.ErrorIs(t, tx.Commit(ctx), interfaces.ErrTransactionCompleted)
		return nil
	})
	require.NoError(t, err)

	count, err := users.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}
