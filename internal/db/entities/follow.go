package entities

import (
	"time"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// Follow links a follower to the author they follow. The same edge
// doubles as the newsletter subscription.
type Follow struct {
	ID          string    `json:"id"`
	FollowerID  string    `json:"follower_id"`
	FollowingID string    `json:"following_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// FollowSchema defines the database schema for follows
var FollowSchema = &interfaces.Schema{
	TableName: "follows",
	Fields: map[string]interfaces.FieldSchema{
		"id":           idField(),
		"follower_id":  ref("users", interfaces.OnDeleteCascade, false),
		"following_id": ref("users", interfaces.OnDeleteCascade, false),
		"created_at":   timeField(),
	},
	Indexes: []interfaces.Index{
		{Name: "follows_by_follower", Columns: []string{"follower_id"}},
		{Name: "follows_by_following", Columns: []string{"following_id"}},
		{Name: "follows_by_relationship", Columns: []string{"follower_id", "following_id"}, Unique: true},
	},
}

// FollowFromRecord converts a repository row into a Follow
func FollowFromRecord(r Record) (Follow, error) {
	var f Follow
	var errs [4]error
	f.ID, errs[0] = str(r, "id")
	f.FollowerID, errs[1] = str(r, "follower_id")
	f.FollowingID, errs[2] = str(r, "following_id")
	f.CreatedAt, errs[3] = timestamp(r, "created_at")
	return f, firstErr(errs[:]...)
}

// Record returns the writable columns of the follow
func (f Follow) Record() Record {
	rec := Record{
		"follower_id":  f.FollowerID,
		"following_id": f.FollowingID,
	}
	if f.ID != "" {
		rec["id"] = f.ID
	}
	return rec
}
