package entities

import (
	"time"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// DateLayout is the format of DailyStat.Date
const DateLayout = "2006-01-02"

// DailyStat counts the views of one post on one UTC day
type DailyStat struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	Date      string    `json:"date"`
	Views     int64     `json:"views"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DailyStatSchema defines the database schema for daily_stats
var DailyStatSchema = &interfaces.Schema{
	TableName: "daily_stats",
	Fields: map[string]interfaces.FieldSchema{
		"id":         idField(),
		"post_id":    ref("posts", interfaces.OnDeleteCascade, false),
		"date":       {Type: interfaces.FieldString},
		"views":      {Type: interfaces.FieldInt64, DefaultValue: int64(0)},
		"created_at": timeField(),
		"updated_at": timeField(),
	},
	Indexes: []interfaces.Index{
		{Name: "daily_stats_by_post", Columns: []string{"post_id"}},
		{Name: "daily_stats_by_date", Columns: []string{"date"}},
		{Name: "daily_stats_by_post_date", Columns: []string{"post_id", "date"}, Unique: true},
	},
}

// DailyStatFromRecord converts a repository row into a DailyStat
func DailyStatFromRecord(r Record) (DailyStat, error) {
	var s DailyStat
	var errs [6]error
	s.ID, errs[0] = str(r, "id")
	s.PostID, errs[1] = str(r, "post_id")
	s.Date, errs[2] = str(r, "date")
	s.Views, errs[3] = num(r, "views")
	s.CreatedAt, errs[4] = timestamp(r, "created_at")
	s.UpdatedAt, errs[5] = timestamp(r, "updated_at")
	return s, firstErr(errs[:]...)
}

// DayOf formats t as the UTC calendar day used by daily stats
func DayOf(t time.Time) string {
	return t.UTC().Format(DateLayout)
}
