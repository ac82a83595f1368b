package db

import (
	"time"

	"github.com/quillpost/quillpost-backend/internal/db/entities"
	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

// Fixture user IDs are fixed so posts can reference them and seeding
// twice is a no-op.
const (
	FixtureUserAda   = "6f1c2a56-7d1e-4c53-9b8e-1f2a3b4c5d01"
	FixtureUserLinus = "6f1c2a56-7d1e-4c53-9b8e-1f2a3b4c5d02"
	FixtureUserGrace = "6f1c2a56-7d1e-4c53-9b8e-1f2a3b4c5d03"
)

// UserFixtures provides sample user data for seeding
func UserFixtures(now time.Time) []map[string]interface{} {
	return []map[string]interface{}{
		{
			"id":               FixtureUserAda,
			"email":            "ada@example.com",
			"name":             "Ada Lovelace",
			"token_identifier": "https://auth.example.com|ada",
			"username":         "ada",
			"plan":             entities.PlanPro,
			"last_active_at":   now,
		},
		{
			"id":               FixtureUserLinus,
			"email":            "linus@example.com",
			"name":             "Linus Torvalds",
			"token_identifier": "https://auth.example.com|linus",
			"username":         "linus",
			"plan":             entities.PlanFree,
			"last_active_at":   now,
		},
		{
			"id":               FixtureUserGrace,
			"email":            "grace@example.com",
			"name":             "Grace Hopper",
			"token_identifier": "https://auth.example.com|grace",
			"plan":             entities.PlanFree,
			"last_active_at":   now,
			// username omitted (not chosen yet)
		},
	}
}

// PostFixtures provides sample posts by the fixture users: two published,
// one draft and one scheduled.
func PostFixtures(now time.Time) []map[string]interface{} {
	return []map[string]interface{}{
		{
			"id":           "0b7d2c1e-3f4a-4b5c-8d9e-a0b1c2d3e401",
			"title":        "Notes on the Analytical Engine",
			"content":      "<p>The engine weaves algebraic patterns...</p>",
			"status":       entities.PostPublished,
			"author_id":    FixtureUserAda,
			"tags":         []string{"history", "computing"},
			"category":     "essays",
			"published_at": now.Add(-48 * time.Hour),
		},
		{
			"id":           "0b7d2c1e-3f4a-4b5c-8d9e-a0b1c2d3e402",
			"title":        "Why I Write Kernels",
			"content":      "<p>Mostly because nobody else would.</p>",
			"status":       entities.PostPublished,
			"author_id":    FixtureUserLinus,
			"tags":         []string{"kernel"},
			"published_at": now.Add(-24 * time.Hour),
		},
		{
			"id":        "0b7d2c1e-3f4a-4b5c-8d9e-a0b1c2d3e403",
			"title":     "Compilers for Everyone",
			"content":   "<p>Draft.</p>",
			"author_id": FixtureUserGrace,
		},
		{
			"id":            "0b7d2c1e-3f4a-4b5c-8d9e-a0b1c2d3e404",
			"title":         "Debugging Moths",
			"content":       "<p>First actual case of bug being found.</p>",
			"author_id":     FixtureUserGrace,
			"tags":          []string{"debugging"},
			"scheduled_for": now.Add(time.Hour),
		},
	}
}

// AllSchemas returns all entity schemas for migration, referenced tables
// first.
func AllSchemas() []*interfaces.Schema {
	return []*interfaces.Schema{
		entities.UserSchema,
		entities.PostSchema,
		entities.CommentSchema,
		entities.LikeSchema,
		entities.FollowSchema,
		entities.DailyStatSchema,
	}
}
