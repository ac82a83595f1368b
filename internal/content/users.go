package content

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/quillpost/quillpost-backend/internal/db/entities"
	"github.com/quillpost/quillpost-backend/internal/db/interfaces"
)

var usernamePattern = regexp.MustCompile(`^[a-z0-9_]{3,30}$`)

// Usage counters tracked per user
const (
	UsageExports  = "exports_this_month"
	UsageProjects = "projects_used"
)

// Identity is what the auth provider tells us about a signed-in user.
type Identity struct {
	TokenIdentifier string  `json:"token_identifier"`
	Email           string  `json:"email"`
	Name            string  `json:"name"`
	ImageURL        *string `json:"image_url,omitempty"`
}

type UserService struct {
	*base
}

// StoreUser creates the user for identity on first sign-in and refreshes
// the profile fields on later ones.
func (s *UserService) StoreUser(ctx context.Context, identity Identity) (entities.User, error) {
	identity.TokenIdentifier = strings.TrimSpace(identity.TokenIdentifier)
	identity.Email = strings.TrimSpace(identity.Email)
	identity.Name = strings.TrimSpace(identity.Name)
	if identity.TokenIdentifier == "" || identity.Email == "" || identity.Name == "" {
		return entities.User{}, fmt.Errorf("%w: token_identifier, email and name are required", ErrInvalidInput)
	}

	var stored map[string]interface{}
	err := s.db.Transaction(ctx, func(ctx context.Context, _ interfaces.Transaction) error {
		existing, err := findOne(ctx, s.users, interfaces.Where("token_identifier", identity.TokenIdentifier))
		if err != nil {
			return err
		}

		now := s.clock()
		if existing != nil {
			id, _ := existing["id"].(string)
			stored, err = s.users.Update(ctx, interfaces.StringID(id), map[string]interface{}{
				"email":          identity.Email,
				"name":           identity.Name,
				"image_url":      nullableString(identity.ImageURL),
				"last_active_at": now,
			})
			return err
		}

		stored, err = s.users.Create(ctx, map[string]interface{}{
			"token_identifier":   identity.TokenIdentifier,
			"email":              identity.Email,
			"name":               identity.Name,
			"image_url":          nullableString(identity.ImageURL),
			"plan":               entities.PlanFree,
			"exports_this_month": int64(0),
			"projects_used":      int64(0),
			"last_active_at":     now,
		})
		if err == nil {
			s.logger.Infow("user created", "user_id", stored["id"])
		}
		return err
	})
	if err != nil {
		return entities.User{}, fmt.Errorf("store user: %w", err)
	}
	return entities.UserFromRecord(stored)
}

func (s *UserService) Get(ctx context.Context, id string) (entities.User, error) {
	return s.getUser(ctx, id)
}

func (s *UserService) GetByToken(ctx context.Context, tokenIdentifier string) (entities.User, error) {
	return s.getBy(ctx, "token_identifier", tokenIdentifier)
}

func (s *UserService) GetByUsername(ctx context.Context, username string) (entities.User, error) {
	return s.getBy(ctx, "username", strings.ToLower(strings.TrimSpace(username)))
}

func (s *UserService) getBy(ctx context.Context, field, value string) (entities.User, error) {
	rec, err := s.users.FindOne(ctx, &interfaces.Query{Where: interfaces.Where(field, value)})
	if err != nil {
		return entities.User{}, fmt.Errorf("user by %s: %w", field, err)
	}
	return entities.UserFromRecord(rec)
}

// SetUsername claims username for the user. Usernames are stored
// lower-cased.
func (s *UserService) SetUsername(ctx context.Context, userID, username string) (entities.User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if !usernamePattern.MatchString(username) {
		return entities.User{}, ErrInvalidUsername
	}

	var updated map[string]interface{}
	err := s.db.Transaction(ctx, func(ctx context.Context, _ interfaces.Transaction) error {
		holder, err := findOne(ctx, s.users, interfaces.Where("username", username))
		if err != nil {
			return err
		}
		if holder != nil && holder["id"] != userID {
			return ErrUsernameTaken
		}
		updated, err = s.users.Update(ctx, interfaces.StringID(userID), map[string]interface{}{
			"username": username,
		})
		return err
	})
	if errors.Is(err, interfaces.ErrUniqueConstraint) {
		return entities.User{}, ErrUsernameTaken
	}
	if err != nil {
		return entities.User{}, fmt.Errorf("set username: %w", err)
	}
	return entities.UserFromRecord(updated)
}

func (s *UserService) SetPlan(ctx context.Context, userID, plan string) (entities.User, error) {
	if plan != entities.PlanFree && plan != entities.PlanPro {
		return entities.User{}, fmt.Errorf("%w: unknown plan %q", ErrInvalidInput, plan)
	}
	rec, err := s.users.Update(ctx, interfaces.StringID(userID), map[string]interface{}{"plan": plan})
	if err != nil {
		return entities.User{}, fmt.Errorf("set plan: %w", err)
	}
	return entities.UserFromRecord(rec)
}

// IncrementUsage bumps one of the usage counters and returns its new value.
func (s *UserService) IncrementUsage(ctx context.Context, userID, counter string, delta int64) (int64, error) {
	if counter != UsageExports && counter != UsageProjects {
		return 0, fmt.Errorf("%w: unknown usage counter %q", ErrInvalidInput, counter)
	}
	n, err := s.users.Increment(ctx, interfaces.StringID(userID), counter, delta)
	if err != nil {
		return 0, fmt.Errorf("increment %s: %w", counter, err)
	}
	return n, nil
}

// Search matches text against user names first, then emails. A user
// matching both appears once, at its name rank.
func (s *UserService) Search(ctx context.Context, text string, limit int) ([]entities.User, error) {
	limit = Page{Limit: limit}.normalized().Limit

	seen := make(map[string]bool)
	var users []entities.User
	for _, index := range []string{"users_search_name", "users_search_email"} {
		page, err := s.users.FindMany(ctx, &interfaces.Query{
			Search: &interfaces.SearchQuery{Index: index, Text: text},
			Limit:  &limit,
		})
		if err != nil {
			return nil, fmt.Errorf("search users: %w", err)
		}
		for _, rec := range page.Data {
			u, err := entities.UserFromRecord(rec)
			if err != nil {
				return nil, err
			}
			if seen[u.ID] {
				continue
			}
			seen[u.ID] = true
			users = append(users, u)
			if len(users) == limit {
				return users, nil
			}
		}
	}
	return users, nil
}

func nullableString(s *string) interface{} {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return strings.TrimSpace(*s)
}
