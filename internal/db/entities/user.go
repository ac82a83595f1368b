package entities

import (
	"time"

	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// Plans a user can be on
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// User represents a user entity
type User struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Name             string    `json:"name"`
	TokenIdentifier  string    `json:"token_identifier"`
	Username         *string   `json:"username,omitempty"`
	ImageURL         *string   `json:"image_url,omitempty"`
	Plan             *string   `json:"plan,omitempty"`
	ExportsThisMonth *int64    `json:"exports_this_month,omitempty"`
	ProjectsUsed     *int64    `json:"projects_used,omitempty"`
	LastActiveAt     time.Time `json:"last_active_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// UserSchema defines the database schema for users
var UserSchema = &interfaces.Schema{
	TableName: "users",
	Fields: map[string]interfaces.FieldSchema{
		"id":               idField(),
		"email":            {Type: interfaces.FieldString},
		"name":             {Type: interfaces.FieldString},
		"token_identifier": {Type: interfaces.FieldString},
		"username":         {Type: interfaces.FieldString, Nullable: true},
		"image_url":        {Type: interfaces.FieldString, Nullable: true},
		"plan": {
			Type:     interfaces.FieldString,
			Nullable: true,
			Enum:     []string{PlanFree, PlanPro},
		},
		"exports_this_month": {Type: interfaces.FieldInt64, Nullable: true},
		"projects_used":      {Type: interfaces.FieldInt64, Nullable: true},
		"last_active_at":     timeField(),
		"created_at":         timeField(),
		"updated_at":         timeField(),
	},
	Indexes: []interfaces.Index{
		// primary auth lookup
		{Name: "users_by_token", Columns: []string{"token_identifier"}, Unique: true},
		{Name: "users_by_email", Columns: []string{"email"}, Unique: true},
		// public profiles
		{Name: "users_by_username", Columns: []string{"username"}, Unique: true},
	},
	SearchIndexes: []interfaces.SearchIndex{
		{Name: "users_search_name", SearchField: "name"},
		{Name: "users_search_email", SearchField: "email"},
	},
}

// UserFromRecord converts a repository row into a User
func UserFromRecord(r Record) (User, error) {
	var u User
	var errs [12]error
	u.ID, errs[0] = str(r, "id")
	u.Email, errs[1] = str(r, "email")
	u.Name, errs[2] = str(r, "name")
	u.TokenIdentifier, errs[3] = str(r, "token_identifier")
	u.Username, errs[4] = optStr(r, "username")
	u.ImageURL, errs[5] = optStr(r, "image_url")
	u.Plan, errs[6] = optStr(r, "plan")
	u.ExportsThisMonth, errs[7] = optNum(r, "exports_this_month")
	u.ProjectsUsed, errs[8] = optNum(r, "projects_used")
	u.LastActiveAt, errs[9] = timestamp(r, "last_active_at")
	u.CreatedAt, errs[10] = timestamp(r, "created_at")
	u.UpdatedAt, errs[11] = timestamp(r, "updated_at")
	return u, firstErr(errs[:]...)
}

// Record returns the writable columns of the user
func (u User) Record() Record {
	rec := Record{
		"email":              u.Email,
		"name":               u.Name,
		"token_identifier":   u.TokenIdentifier,
		"username":           nullable(u.Username),
		"image_url":          nullable(u.ImageURL),
		"plan":               nullable(u.Plan),
		"exports_this_month": nullable(u.ExportsThisMonth),
		"projects_used":      nullable(u.ProjectsUsed),
		"last_active_at":     u.LastActiveAt,
	}
	if u.ID != "" {
		rec["id"] = u.ID
	}
	return rec
}
