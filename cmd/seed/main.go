package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/quillpost/quillpost-backend/internal/config"
	"github.com/quillpost/quillpost-backend/internal/content"
	gdb "github.com/quillpost/quillpost-backend/internal/db"
	"github.com/quillpost/quillpost-backend/internal/db/entities"
	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
	"github.com/quillpost/quillpost-backend/internal/log"
)

const (
	postEngine  = "0b7d2c1e-3f4a-4b5c-8d9e-a0b1c2d3e401"
	postKernels = "0b7d2c1e-3f4a-4b5c-8d9e-a0b1c2d3e402"
)

type summary struct {
	Users    int64
	Posts    int64
	Comments int64
	Likes    int64
	Follows  int64
	Skipped  bool
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := gdb.NewDatabase(&gdb.Config{
		Type:         cfg.Database.Type,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}, logger.Desugar())
	if err != nil {
		logger.Fatalw("Failed to create database", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := gdb.ConnectAndMigrate(ctx, db, gdb.AllSchemas()); err != nil {
		logger.Fatalw("Failed to initialize database", "error", err)
	}
	defer db.Disconnect(context.Background())

	if cfg.Database.Type == "memory" {
		logger.Warnw("Seeding the in-memory database; data is gone when this process exits")
	}

	svc := content.NewServices(db, content.WithLogger(logger))
	s, err := seed(ctx, db, svc, time.Now().UTC())
	if err != nil {
		logger.Fatalw("Seeding failed", "error", err)
	}
	printSummary(os.Stdout, s)
}

// seed loads the fixtures and then records interactions on them through
// the content services. Running it again only tops up missing fixture
// rows.
func seed(ctx context.Context, db interfaces.Database, svc *content.Services, now time.Time) (summary, error) {
	var s summary

	if err := db.Seed(ctx, entities.UserSchema, gdb.UserFixtures(now)); err != nil {
		return s, fmt.Errorf("seed users: %w", err)
	}
	if err := db.Seed(ctx, entities.PostSchema, gdb.PostFixtures(now)); err != nil {
		return s, fmt.Errorf("seed posts: %w", err)
	}

	seeded, err := svc.Follows.IsFollowing(ctx, gdb.FixtureUserLinus, gdb.FixtureUserAda)
	if err != nil {
		return s, err
	}
	if seeded {
		s.Skipped = true
	} else if err := interact(ctx, svc); err != nil {
		return s, err
	}

	counts := []struct {
		schema *interfaces.Schema
		dest   *int64
	}{
		{entities.UserSchema, &s.Users},
		{entities.PostSchema, &s.Posts},
		{entities.CommentSchema, &s.Comments},
		{entities.LikeSchema, &s.Likes},
		{entities.FollowSchema, &s.Follows},
	}
	for _, c := range counts {
		n, err := db.Repository(c.schema).Count(ctx, nil)
		if err != nil {
			return s, fmt.Errorf("count %s: %w", c.schema.TableName, err)
		}
		*c.dest = n
	}
	return s, nil
}

func interact(ctx context.Context, svc *content.Services) error {
	follows := [][2]string{
		{gdb.FixtureUserLinus, gdb.FixtureUserAda},
		{gdb.FixtureUserGrace, gdb.FixtureUserAda},
		{gdb.FixtureUserAda, gdb.FixtureUserGrace},
	}
	for _, f := range follows {
		if _, err := svc.Follows.Follow(ctx, f[0], f[1]); err != nil {
			return fmt.Errorf("follow: %w", err)
		}
	}

	grace := gdb.FixtureUserGrace
	linus := gdb.FixtureUserLinus
	comments := []struct {
		post string
		in   content.CommentInput
	}{
		{postEngine, content.CommentInput{AuthorID: &grace, Content: "The note on Bernoulli numbers holds up."}},
		{postEngine, content.CommentInput{AuthorName: "Charles", Content: "Splendid work."}},
		{postKernels, content.CommentInput{AuthorID: &grace, Content: "Somebody had to."}},
	}
	for _, c := range comments {
		if _, err := svc.Comments.Add(ctx, c.post, c.in); err != nil {
			return fmt.Errorf("comment: %w", err)
		}
	}

	likes := []struct {
		post string
		user *string
	}{
		{postEngine, &grace},
		{postEngine, &linus},
		{postEngine, nil},
		{postKernels, &grace},
	}
	for _, l := range likes {
		if _, err := svc.Likes.Like(ctx, l.post, l.user); err != nil {
			return fmt.Errorf("like: %w", err)
		}
	}

	for i := 0; i < 3; i++ {
		if _, err := svc.Posts.RecordView(ctx, postEngine); err != nil {
			return fmt.Errorf("view: %w", err)
		}
	}
	return nil
}

func printSummary(w io.Writer, s summary) {
	if s.Skipped {
		fmt.Fprintln(w, "Fixtures already seeded; interactions skipped.")
	}
	fmt.Fprintf(w, "users=%d posts=%d comments=%d likes=%d follows=%d\n",
		s.Users, s.Posts, s.Comments, s.Likes, s.Follows)
}
