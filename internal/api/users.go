package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quillpost/quillpost-backend/internal/content"
	"github.com/quillpost/quillpost-backend/internal/db/entities"
)

// StoreUser records the signed-in identity forwarded by the gateway.
func (h *Handler) StoreUser(w http.ResponseWriter, r *http.Request) {
	var identity content.Identity
	if err := decodeJSON(r, &identity); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	user, err := h.svc.Users.StoreUser(r.Context(), identity)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Users.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) GetUserByUsername(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Users.GetByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	users, err := h.svc.Users.Search(r.Context(), r.URL.Query().Get("q"), page.Limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(users, int64(len(users)), page))
}

func (h *Handler) SetUsername(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	userID := chi.URLParam(r, "id")
	if actor != userID {
		h.writeServiceError(w, r, content.ErrForbidden)
		return
	}

	var req UsernameRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	user, err := h.svc.Users.SetUsername(r.Context(), userID, req.Username)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handler) Follow(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	follow, err := h.svc.Follows.Follow(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, follow)
}

func (h *Handler) Unfollow(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	if err := h.svc.Follows.Unfollow(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Followers(w http.ResponseWriter, r *http.Request) {
	h.listFollows(w, r, h.svc.Follows.Followers)
}

func (h *Handler) Following(w http.ResponseWriter, r *http.Request) {
	h.listFollows(w, r, h.svc.Follows.Following)
}

func (h *Handler) listFollows(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, userID string, page content.Page) ([]entities.User, int64, error)) {
	page, err := pageFrom(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	users, total, err := list(r.Context(), chi.URLParam(r, "id"), page)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(users, total, page))
}

func (h *Handler) FollowCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := h.svc.Follows.Counts(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (h *Handler) AuthorSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Stats.AuthorSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func trimmed(r *http.Request, name string) string {
	return strings.TrimSpace(r.URL.Query().Get(name))
}
