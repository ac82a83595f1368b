package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quillpost/quillpost-backend/internal/content"
	"github.com/quillpost/quillpost-backend/internal/db/entities"
	"github.com/quillpost/quillpost-backend/internal/jobs"
)

// ListPosts lists published posts, or one author's posts with ?author=.
// Authors listing their own posts may filter by ?status= and see drafts.
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	var (
		posts []entities.Post
		total int64
	)
	if author := trimmed(r, "author"); author != "" {
		status := entities.PostPublished
		if actor, _ := actorFrom(r.Context()); actor == author {
			status = trimmed(r, "status")
		}
		posts, total, err = h.svc.Posts.ListByAuthor(r.Context(), author, status, page)
	} else {
		posts, total, err = h.svc.Posts.ListPublished(r.Context(), page)
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(posts, total, page))
}

func (h *Handler) CreatePost(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var in content.PostInput
	if err := decodeJSON(r, &in); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	post, err := h.svc.Posts.Create(r.Context(), actor, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (h *Handler) SearchPosts(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	posts, err := h.svc.Posts.Search(r.Context(), r.URL.Query().Get("q"), page.Limit)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse(posts, int64(len(posts)), page))
}

// visiblePost loads a post; drafts are only visible to their author.
func (h *Handler) visiblePost(r *http.Request) (entities.Post, error) {
	post, err := h.svc.Posts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		return entities.Post{}, err
	}
	if post.Status != entities.PostPublished {
		if actor, _ := actorFrom(r.Context()); actor != post.AuthorID {
			return entities.Post{}, content.ErrNotFound
		}
	}
	return post, nil
}

func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	post, err := h.visiblePost(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *Handler) UpdatePost(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var patch content.PostPatch
	if err := decodeJSON(r, &patch); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	post, err := h.svc.Posts.Update(r.Context(), actor, chi.URLParam(r, "id"), patch)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *Handler) DeletePost(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	if err := h.svc.Posts.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) PublishPost(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	post, changed, err := h.svc.Posts.Publish(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if h.events != nil && changed {
		if err := h.events.Publish(r.Context(), h.eventsChannel, jobs.NewPostPublishedEvent(post)); err != nil {
			h.logger.Warnw("Failed to publish post event", "post_id", post.ID, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *Handler) UnpublishPost(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	post, err := h.svc.Posts.Unpublish(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *Handler) SchedulePost(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	var req ScheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	post, err := h.svc.Posts.Schedule(r.Context(), actor, chi.URLParam(r, "id"), req.ScheduledFor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *Handler) RecordView(w http.ResponseWriter, r *http.Request) {
	views, err := h.svc.Posts.RecordView(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, content.ErrPostNotPublished) {
		// drafts do not exist for readers
		err = content.ErrNotFound
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ViewResponse{ViewCount: views})
}

// PostStats returns daily views for ?from=&to= (YYYY-MM-DD). Only the
// author sees them.
func (h *Handler) PostStats(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	post, err := h.svc.Posts.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if post.AuthorID != actor {
		h.writeServiceError(w, r, content.ErrForbidden)
		return
	}
	stats, err := h.svc.Stats.Daily(r.Context(), post.ID, trimmed(r, "from"), trimmed(r, "to"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if stats == nil {
		stats = []entities.DailyStat{}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) LikePost(w http.ResponseWriter, r *http.Request) {
	var userID *string
	if actor, ok := actorFrom(r.Context()); ok {
		userID = &actor
	}
	count, err := h.svc.Likes.Like(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LikeResponse{Liked: true, LikeCount: count})
}

func (h *Handler) UnlikePost(w http.ResponseWriter, r *http.Request) {
	actor, _ := actorFrom(r.Context())
	count, err := h.svc.Likes.Unlike(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, LikeResponse{Liked: false, LikeCount: count})
}
